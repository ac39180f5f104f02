package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quorumlabs/foresight/internal/domain"
	"github.com/quorumlabs/foresight/internal/governor"
)

// DisputeService is the slice of the governor the handler uses.
type DisputeService interface {
	Propose(ctx context.Context, p governor.ProposalParams) (domain.Proposal, error)
	Vote(ctx context.Context, proposalID int64, voter domain.Address, support domain.VoteSupport) (domain.Vote, error)
	Get(ctx context.Context, id int64) (domain.Proposal, error)
	ListVotes(ctx context.Context, proposalID int64) ([]domain.Vote, error)
}

// DisputeHandler serves dispute governance endpoints.
type DisputeHandler struct {
	governor DisputeService
}

// NewDisputeHandler creates a DisputeHandler.
func NewDisputeHandler(governor DisputeService) *DisputeHandler {
	return &DisputeHandler{governor: governor}
}

type proposalResponse struct {
	ID            int64      `json:"id"`
	Type          string     `json:"type"`
	MarketID      *int64     `json:"marketId,omitempty"`
	Title         string     `json:"title"`
	Proposer      string     `json:"proposer"`
	Bond          string     `json:"bond"`
	Outcome       *string    `json:"outcome,omitempty"`
	ForWeight     int64      `json:"forWeight"`
	AgainstWeight int64      `json:"againstWeight"`
	AbstainWeight int64      `json:"abstainWeight"`
	Status        string     `json:"status"`
	VotingEndsAt  time.Time  `json:"votingEndsAt"`
	ExecutedAt    *time.Time `json:"executedAt,omitempty"`
}

func toProposalResponse(p domain.Proposal) proposalResponse {
	resp := proposalResponse{
		ID:            p.ID,
		Type:          string(p.Type),
		MarketID:      p.MarketID,
		Title:         p.Title,
		Proposer:      string(p.Proposer),
		Bond:          p.Bond.String(),
		ForWeight:     p.ForWeight,
		AgainstWeight: p.AgainstWeight,
		AbstainWeight: p.AbstainWeight,
		Status:        string(p.Status),
		VotingEndsAt:  p.VotingEndsAt,
		ExecutedAt:    p.ExecutedAt,
	}
	if p.Outcome != nil {
		s := p.Outcome.String()
		resp.Outcome = &s
	}
	return resp
}

type proposeRequest struct {
	MarketID    int64  `json:"marketId"`
	Proposer    string `json:"proposer"`
	Outcome     int    `json:"outcome"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Bond        string `json:"bond"`
}

// Propose opens a dispute against a resolved market.
// POST /api/disputes
func (h *DisputeHandler) Propose(w http.ResponseWriter, r *http.Request) {
	var req proposeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	proposer, err := parseAddress(req.Proposer)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid proposer address")
		return
	}
	bond, err := decimal.NewFromString(req.Bond)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid bond")
		return
	}

	p, err := h.governor.Propose(r.Context(), governor.ProposalParams{
		MarketID:    req.MarketID,
		Proposer:    proposer,
		Outcome:     domain.Outcome(req.Outcome),
		Title:       req.Title,
		Description: req.Description,
		Bond:        bond,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProposalResponse(p))
}

// GetProposal returns one proposal.
// GET /api/disputes/{id}
func (h *DisputeHandler) GetProposal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid proposal id")
		return
	}

	p, err := h.governor.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProposalResponse(p))
}

type voteRequest struct {
	Voter   string `json:"voter"`
	Support string `json:"support"`
}

// Vote casts a stake-weighted ballot.
// POST /api/disputes/{id}/votes
func (h *DisputeHandler) Vote(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid proposal id")
		return
	}

	var req voteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	voter, err := parseAddress(req.Voter)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid voter address")
		return
	}

	vote, err := h.governor.Vote(r.Context(), id, voter, domain.VoteSupport(req.Support))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"proposalId": vote.ProposalID,
		"voter":      string(vote.Voter),
		"support":    string(vote.Support),
		"weight":     vote.Weight,
	})
}

// ListVotes returns the ballots cast on a proposal.
// GET /api/disputes/{id}/votes
func (h *DisputeHandler) ListVotes(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid proposal id")
		return
	}

	votes, err := h.governor.ListVotes(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := make([]map[string]any, 0, len(votes))
	for _, v := range votes {
		out = append(out, map[string]any{
			"voter":   string(v.Voter),
			"support": string(v.Support),
			"weight":  v.Weight,
			"castAt":  v.CastAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"votes": out})
}
