// Package middleware provides the HTTP middleware chain for the settlement
// API: authentication, request logging, and CORS.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Auth gates every request on a shared API key, accepted either as a Bearer
// token or in X-API-Key. An empty configured key disables the gate.
func Auth(apiKey string) func(http.Handler) http.Handler {
	want := []byte(apiKey)
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(requestKey(r))
			// Constant-time compare; length leaks are acceptable for a
			// static deployment key.
			if len(got) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"invalid or missing api key"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestKey(r *http.Request) string {
	if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(bearer)
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}
