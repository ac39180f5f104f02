package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/quorumlabs/foresight/internal/domain"
)

// MarketCounter reports how many markets exist in a status.
type MarketCounter interface {
	CountByStatus(ctx context.Context, status domain.MarketStatus) (int64, error)
}

// StatusHandler serves the backend status (mode, uptime, open markets).
type StatusHandler struct {
	Mode      string
	StartedAt time.Time
	markets   MarketCounter
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, startedAt time.Time, markets MarketCounter) *StatusHandler {
	return &StatusHandler{Mode: mode, StartedAt: startedAt, markets: markets}
}

// GetStatus responds with the current backend mode, uptime, and open market
// count.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	uptime := int64(time.Since(h.StartedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}

	openMarkets := int64(0)
	if h.markets != nil {
		if n, err := h.markets.CountByStatus(r.Context(), domain.MarketStatusActive); err == nil {
			openMarkets = n
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.Mode,
		"uptime_seconds": uptime,
		"open_markets":   openMarkets,
	})
}
