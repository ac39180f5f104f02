package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quorumlabs/foresight/internal/domain"
	"github.com/quorumlabs/foresight/internal/registry"
)

// MarketService is the slice of the registry the market handler uses.
type MarketService interface {
	CreateMarket(ctx context.Context, p registry.CreateMarketParams) (domain.Market, error)
	GetMarket(ctx context.Context, id int64) (domain.Market, error)
	ListMarkets(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error)
	PlaceBet(ctx context.Context, marketID int64, bettor domain.Address, side domain.BetSide, amount decimal.Decimal) (domain.Position, error)
	InitiateResolution(ctx context.Context, marketID int64) (domain.ResolutionRequest, error)
	ClaimPayout(ctx context.Context, marketID int64, participant domain.Address) (decimal.Decimal, error)
	Cancel(ctx context.Context, caller domain.Address, marketID int64) error
}

// PositionReader is the slice of the position store the handler uses.
type PositionReader interface {
	ListByMarket(ctx context.Context, marketID int64, opts domain.ListOpts) ([]domain.Position, error)
	ListByParticipant(ctx context.Context, participant domain.Address, opts domain.ListOpts) ([]domain.Position, error)
}

// MarketHandler serves market endpoints.
type MarketHandler struct {
	markets   MarketService
	positions PositionReader
	logger    *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets MarketService, positions PositionReader, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, positions: positions, logger: logger}
}

type marketResponse struct {
	ID             int64          `json:"id"`
	Type           string         `json:"type"`
	Question       string         `json:"question"`
	Creator        string         `json:"creator"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Deadline       time.Time      `json:"deadline"`
	PriceFeedID    string         `json:"priceFeedId,omitempty"`
	Status         string         `json:"status"`
	Outcome        *string        `json:"outcome,omitempty"`
	YesPool        string         `json:"yesPool"`
	NoPool         string         `json:"noPool"`
	TotalPrincipal string         `json:"totalPrincipal"`
	Volume         string         `json:"volume"`
	ResolvedAt     *time.Time     `json:"resolvedAt,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

func toMarketResponse(m domain.Market) marketResponse {
	resp := marketResponse{
		ID:             m.ID,
		Type:           string(m.Type),
		Question:       m.Question,
		Creator:        string(m.Creator),
		Metadata:       m.Metadata,
		Deadline:       m.Deadline,
		PriceFeedID:    m.PriceFeedID,
		Status:         string(m.Status),
		YesPool:        m.YesPool.String(),
		NoPool:         m.NoPool.String(),
		TotalPrincipal: m.TotalPrincipal.String(),
		Volume:         m.Volume.String(),
		ResolvedAt:     m.ResolvedAt,
		CreatedAt:      m.CreatedAt,
	}
	if m.Outcome != nil {
		s := m.Outcome.String()
		resp.Outcome = &s
	}
	return resp
}

type positionResponse struct {
	MarketID    int64      `json:"marketId"`
	Participant string     `json:"participant"`
	YesShares   string     `json:"yesShares"`
	NoShares    string     `json:"noShares"`
	Principal   string     `json:"principal"`
	Claimed     bool       `json:"claimed"`
	ClaimedAt   *time.Time `json:"claimedAt,omitempty"`
}

func toPositionResponse(p domain.Position) positionResponse {
	return positionResponse{
		MarketID:    p.MarketID,
		Participant: string(p.Participant),
		YesShares:   p.YesShares.String(),
		NoShares:    p.NoShares.String(),
		Principal:   p.Principal.String(),
		Claimed:     p.Claimed,
		ClaimedAt:   p.ClaimedAt,
	}
}

type createMarketRequest struct {
	Type        string         `json:"type"`
	Question    string         `json:"question"`
	Creator     string         `json:"creator"`
	Metadata    map[string]any `json:"metadata"`
	Deadline    time.Time      `json:"deadline"`
	PriceFeedID string         `json:"priceFeedId"`
}

// CreateMarket creates a new market.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	creator, err := parseAddress(req.Creator)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid creator address")
		return
	}

	m, err := h.markets.CreateMarket(r.Context(), registry.CreateMarketParams{
		Type:        domain.MarketType(req.Type),
		Question:    req.Question,
		Creator:     creator,
		Metadata:    req.Metadata,
		Deadline:    req.Deadline,
		PriceFeedID: req.PriceFeedID,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMarketResponse(m))
}

// ListMarkets lists markets, optionally filtered by status.
// GET /api/markets?status=active&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	status := domain.MarketStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = domain.MarketStatusActive
	}

	markets, err := h.markets.ListMarkets(r.Context(), status, parseListOpts(r))
	if err != nil {
		h.logger.Error("handler: list markets failed", "error", err)
		writeDomainError(w, err)
		return
	}

	out := make([]marketResponse, 0, len(markets))
	for _, m := range markets {
		out = append(out, toMarketResponse(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"markets": out})
}

// GetMarket returns one market.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	m, err := h.markets.GetMarket(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMarketResponse(m))
}

type betRequest struct {
	Bettor string `json:"bettor"`
	Side   string `json:"side"`
	Amount string `json:"amount"`
}

// PlaceBet stakes an amount on a market side.
// POST /api/markets/{id}/bets
func (h *MarketHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	var req betRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	bettor, err := parseAddress(req.Bettor)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid bettor address")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	pos, err := h.markets.PlaceBet(r.Context(), id, bettor, domain.BetSide(req.Side), amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPositionResponse(pos))
}

// ListPositions lists positions on one market.
// GET /api/markets/{id}/positions
func (h *MarketHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	positions, err := h.positions.ListByMarket(r.Context(), id, parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := make([]positionResponse, 0, len(positions))
	for _, p := range positions {
		out = append(out, toPositionResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": out})
}

// ListParticipantPositions lists a participant's positions across markets.
// GET /api/positions?participant=0x...
func (h *MarketHandler) ListParticipantPositions(w http.ResponseWriter, r *http.Request) {
	participant, err := parseAddress(r.URL.Query().Get("participant"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid participant address")
		return
	}

	positions, err := h.positions.ListByParticipant(r.Context(), participant, parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := make([]positionResponse, 0, len(positions))
	for _, p := range positions {
		out = append(out, toPositionResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": out})
}

// InitiateResolution moves a past-deadline market into resolution.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) InitiateResolution(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	req, err := h.markets.InitiateResolution(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"requestId":   req.ID.String(),
		"marketId":    req.MarketID,
		"status":      string(req.Status),
		"requestedAt": req.RequestedAt,
	})
}

type claimRequest struct {
	Participant string `json:"participant"`
}

// ClaimPayout settles a participant's position on a terminal market.
// POST /api/markets/{id}/claim
func (h *MarketHandler) ClaimPayout(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	var req claimRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	participant, err := parseAddress(req.Participant)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid participant address")
		return
	}

	amount, err := h.markets.ClaimPayout(r.Context(), id, participant)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount": amount.String()})
}

type cancelRequest struct {
	Caller string `json:"caller"`
}

// CancelMarket terminally cancels a market. Owner only.
// POST /api/markets/{id}/cancel
func (h *MarketHandler) CancelMarket(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	var req cancelRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}

	if err := h.markets.Cancel(r.Context(), caller, id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}
