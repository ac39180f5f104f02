package handler

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/quorumlabs/foresight/internal/domain"
)

// ReputationService is the slice of the reputation ledger the handler uses.
type ReputationService interface {
	Stake(ctx context.Context, participant domain.Address, amount decimal.Decimal) error
	Unstake(ctx context.Context, participant domain.Address, amount decimal.Decimal) error
	Get(ctx context.Context, participant domain.Address) (domain.ReputationStake, error)
}

// ReputationHandler serves reputation ledger endpoints.
type ReputationHandler struct {
	ledger ReputationService
}

// NewReputationHandler creates a ReputationHandler.
func NewReputationHandler(ledger ReputationService) *ReputationHandler {
	return &ReputationHandler{ledger: ledger}
}

type stakeRequest struct {
	Participant string `json:"participant"`
	Amount      string `json:"amount"`
}

// Stake adds reputation stake.
// POST /api/reputation/stakes
func (h *ReputationHandler) Stake(w http.ResponseWriter, r *http.Request) {
	participant, amount, ok := h.parseStakeRequest(w, r)
	if !ok {
		return
	}
	if err := h.ledger.Stake(r.Context(), participant, amount); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "staked"})
}

// Unstake withdraws reputation stake after cooldown.
// POST /api/reputation/unstakes
func (h *ReputationHandler) Unstake(w http.ResponseWriter, r *http.Request) {
	participant, amount, ok := h.parseStakeRequest(w, r)
	if !ok {
		return
	}
	if err := h.ledger.Unstake(r.Context(), participant, amount); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unstaked"})
}

// Get returns a participant's standing.
// GET /api/reputation/{address}
func (h *ReputationHandler) Get(w http.ResponseWriter, r *http.Request) {
	participant, err := parseAddress(r.PathValue("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid participant address")
		return
	}

	stake, err := h.ledger.Get(r.Context(), participant)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"participant":  string(stake.Participant),
		"staked":       stake.Staked.String(),
		"score":        stake.Score,
		"correctVotes": stake.CorrectVotes,
		"totalVotes":   stake.TotalVotes,
		"accuracy":     stake.Accuracy(),
		"slashed":      stake.Slashed.String(),
		"lastStakeAt":  stake.LastStakeAt,
	})
}

func (h *ReputationHandler) parseStakeRequest(w http.ResponseWriter, r *http.Request) (domain.Address, decimal.Decimal, bool) {
	var req stakeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return domain.ZeroAddress, decimal.Zero, false
	}
	participant, err := parseAddress(req.Participant)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid participant address")
		return domain.ZeroAddress, decimal.Zero, false
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return domain.ZeroAddress, decimal.Zero, false
	}
	return participant, amount, true
}
