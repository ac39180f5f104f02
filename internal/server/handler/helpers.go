// Package handler contains the HTTP handlers for the settlement API. Each
// handler declares the service interface it needs locally, so the package
// depends on behavior rather than on concrete services.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/quorumlabs/foresight/internal/domain"
)

// writeJSON marshals v and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps a domain error onto its HTTP status and writes it
// with the error category in the body.
func writeDomainError(w http.ResponseWriter, err error) {
	writeJSON(w, errorStatus(err), map[string]string{
		"error":    err.Error(),
		"category": domain.Category(err),
	})
}

// errorStatus maps domain sentinel errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrAlreadyProcessed),
		errors.Is(err, domain.ErrCooldownActive):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPolicyExpired):
		return http.StatusGone
	case errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrOutOfRange):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrRemoteUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrLockHeld):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody decodes a JSON request body into v, rejecting unknown fields.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// parseListOpts extracts pagination from the query string. Defaults:
// limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{Limit: limit, Offset: offset}
}

// pathID parses a numeric {id} path parameter.
func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(r.PathValue(name), 10, 64)
}

// parseAddress validates and normalizes an address field.
func parseAddress(raw string) (domain.Address, error) {
	return domain.ParseAddress(raw)
}
