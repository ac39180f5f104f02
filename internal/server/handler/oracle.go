package handler

import (
	"context"
	"net/http"

	"github.com/quorumlabs/foresight/internal/domain"
)

// OracleService is the slice of the resolver the handler uses.
type OracleService interface {
	Result(ctx context.Context, marketID int64) (domain.OracleResult, error)
	SubmitManual(ctx context.Context, caller domain.Address, marketID int64, outcome domain.Outcome, confidence int) error
}

// OracleHandler serves oracle result endpoints.
type OracleHandler struct {
	oracle OracleService
}

// NewOracleHandler creates an OracleHandler.
func NewOracleHandler(oracle OracleService) *OracleHandler {
	return &OracleHandler{oracle: oracle}
}

// GetResult returns the recorded result for a market.
// GET /api/markets/{id}/result
func (h *OracleHandler) GetResult(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	result, err := h.oracle.Result(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"marketId":     result.MarketID,
		"outcome":      result.Outcome.String(),
		"yesVotes":     result.YesVotes,
		"noVotes":      result.NoVotes,
		"invalidVotes": result.InvalidVotes,
		"confidence":   result.Confidence,
		"source":       string(result.Source),
		"digest":       result.Digest,
		"reportedAt":   result.ReportedAt,
	})
}

type manualResultRequest struct {
	Caller     string `json:"caller"`
	Outcome    int    `json:"outcome"`
	Confidence int    `json:"confidence"`
}

// SubmitManualResult records an operator-supplied result.
// POST /api/markets/{id}/result
func (h *OracleHandler) SubmitManualResult(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	var req manualResultRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}

	if err := h.oracle.SubmitManual(r.Context(), caller, id, domain.Outcome(req.Outcome), req.Confidence); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}
