// Package registry implements the market lifecycle: creation, staked
// betting, the status machine that drives resolution, and payout claims.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quorumlabs/foresight/internal/config"
	"github.com/quorumlabs/foresight/internal/domain"
)

// InsuranceSink receives routed insurance fees. Satisfied by the vault
// service; the registry never touches vault bookkeeping directly.
type InsuranceSink interface {
	CreditFee(ctx context.Context, amount decimal.Decimal) error
}

// Service is the market registry.
type Service struct {
	markets   domain.MarketStore
	positions domain.PositionStore
	oracles   domain.OracleStore
	fees      domain.FeeStore
	admin     domain.AdminStore
	audit     domain.AuditStore
	cache     domain.MarketCache
	bus       domain.SignalBus
	cfg       config.RegistryConfig
	minBet    decimal.Decimal
	maxBet    decimal.Decimal
	log       *slog.Logger
}

// New creates a registry Service.
func New(
	markets domain.MarketStore,
	positions domain.PositionStore,
	oracles domain.OracleStore,
	fees domain.FeeStore,
	admin domain.AdminStore,
	audit domain.AuditStore,
	cache domain.MarketCache,
	bus domain.SignalBus,
	cfg config.RegistryConfig,
	log *slog.Logger,
) (*Service, error) {
	minBet, err := decimal.NewFromString(cfg.MinBet)
	if err != nil {
		return nil, fmt.Errorf("registry: parse min_bet %q: %w", cfg.MinBet, err)
	}
	maxBet, err := decimal.NewFromString(cfg.MaxBet)
	if err != nil {
		return nil, fmt.Errorf("registry: parse max_bet %q: %w", cfg.MaxBet, err)
	}

	return &Service{
		markets:   markets,
		positions: positions,
		oracles:   oracles,
		fees:      fees,
		admin:     admin,
		audit:     audit,
		cache:     cache,
		bus:       bus,
		cfg:       cfg,
		minBet:    minBet,
		maxBet:    maxBet,
		log:       log.With("component", "registry"),
	}, nil
}

// CreateMarketParams are the caller-supplied fields of a new market.
type CreateMarketParams struct {
	Type        domain.MarketType
	Question    string
	Creator     domain.Address
	Metadata    map[string]any
	Deadline    time.Time
	PriceFeedID string
}

// CreateMarket validates and persists a new market in Active status.
// Deadlines closer than the configured minimum horizon are rejected with
// ErrOutOfRange.
func (s *Service) CreateMarket(ctx context.Context, p CreateMarketParams) (domain.Market, error) {
	if _, err := ModuleFor(p.Type); err != nil {
		return domain.Market{}, err
	}
	if p.Question == "" {
		return domain.Market{}, fmt.Errorf("registry: question required: %w", domain.ErrOutOfRange)
	}
	if p.Creator.IsZero() {
		return domain.Market{}, fmt.Errorf("registry: creator required: %w", domain.ErrUnauthorized)
	}

	now := time.Now().UTC()
	if p.Deadline.Before(now.Add(s.cfg.MinHorizon())) {
		return domain.Market{}, fmt.Errorf("registry: deadline %s closer than minimum horizon %s: %w",
			p.Deadline, s.cfg.MinHorizon(), domain.ErrOutOfRange)
	}

	m := domain.Market{
		Type:           p.Type,
		Question:       p.Question,
		Creator:        p.Creator,
		Metadata:       p.Metadata,
		Deadline:       p.Deadline.UTC(),
		PriceFeedID:    p.PriceFeedID,
		Status:         domain.MarketStatusActive,
		YesPool:        decimal.Zero,
		NoPool:         decimal.Zero,
		YesShares:      decimal.Zero,
		NoShares:       decimal.Zero,
		TotalPrincipal: decimal.Zero,
		Volume:         decimal.Zero,
	}
	id, err := s.markets.Create(ctx, m)
	if err != nil {
		return domain.Market{}, err
	}

	created, err := s.markets.GetByID(ctx, id)
	if err != nil {
		return domain.Market{}, err
	}

	s.log.Info("registry: market created",
		"market_id", id, "type", p.Type, "deadline", p.Deadline)
	s.auditLog(ctx, "registry.market_created", map[string]any{
		"market_id": id,
		"type":      string(p.Type),
		"creator":   string(p.Creator),
	})
	s.publishEvent(ctx, "market.created", created.ID, map[string]any{
		"type":     string(p.Type),
		"question": p.Question,
		"deadline": p.Deadline,
	})
	_ = s.cache.Set(ctx, created)
	return created, nil
}

// GetMarket returns a market, preferring the cache projection.
func (s *Service) GetMarket(ctx context.Context, id int64) (domain.Market, error) {
	if m, err := s.cache.Get(ctx, id); err == nil {
		return m, nil
	}
	m, err := s.markets.GetByID(ctx, id)
	if err != nil {
		return domain.Market{}, err
	}
	_ = s.cache.Set(ctx, m)
	return m, nil
}

// ListMarkets returns markets filtered by status.
func (s *Service) ListMarkets(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	return s.markets.List(ctx, status, opts)
}

// PlaceBet stakes an amount on one side of an active market. Fees come off
// the top; the net principal buys shares at the module's quoted price. The
// pool/position mutation commits atomically guarded on the market still
// being active, so a bet racing the deadline sweep loses cleanly.
func (s *Service) PlaceBet(ctx context.Context, marketID int64, bettor domain.Address, side domain.BetSide, amount decimal.Decimal) (domain.Position, error) {
	if !side.Valid() {
		return domain.Position{}, fmt.Errorf("registry: unknown side %q: %w", side, domain.ErrOutOfRange)
	}
	if bettor.IsZero() {
		return domain.Position{}, fmt.Errorf("registry: bettor required: %w", domain.ErrUnauthorized)
	}
	if amount.LessThan(s.minBet) || amount.GreaterThan(s.maxBet) {
		return domain.Position{}, fmt.Errorf("registry: bet %s outside [%s, %s]: %w",
			amount, s.minBet, s.maxBet, domain.ErrOutOfRange)
	}

	m, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return domain.Position{}, err
	}
	if m.Status != domain.MarketStatusActive {
		return domain.Position{}, fmt.Errorf("registry: market %d is %s: %w", marketID, m.Status, domain.ErrInvalidState)
	}

	module, err := ModuleFor(m.Type)
	if err != nil {
		return domain.Position{}, err
	}

	split := SplitFees(amount, s.cfg.TradingFeeBps, s.cfg.InsuranceFeeBps)
	quote, err := module.Quote(m, side, split.Net)
	if err != nil {
		return domain.Position{}, err
	}

	pos, err := s.markets.ApplyBet(ctx, domain.BetApplication{
		MarketID:  marketID,
		Bettor:    bettor,
		Side:      side,
		Principal: split.Net,
		Shares:    quote.Shares,
		Price:     quote.Price,
		Volume:    amount,
	})
	if err != nil {
		return domain.Position{}, err
	}

	s.accrueFee(ctx, marketID, "trading", split.Trading)
	s.accrueFee(ctx, marketID, "insurance", split.Insurance)

	_ = s.cache.Invalidate(ctx, marketID)
	s.log.Info("registry: bet placed",
		"market_id", marketID, "bettor", bettor, "side", side,
		"amount", amount, "shares", quote.Shares, "price", quote.Price)
	s.publishEvent(ctx, "market.bet", marketID, map[string]any{
		"bettor": string(bettor),
		"side":   string(side),
		"amount": amount.String(),
	})
	return pos, nil
}

// InitiateResolution moves a past-deadline market from Active to Resolving
// and records the pending resolution request. The remote inference call
// happens later in the resolver sweep; this phase only commits intent, so a
// crash between the two leaves a pending receipt rather than a lost answer.
func (s *Service) InitiateResolution(ctx context.Context, marketID int64) (domain.ResolutionRequest, error) {
	m, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return domain.ResolutionRequest{}, err
	}

	now := time.Now().UTC()
	if now.Before(m.Deadline) {
		return domain.ResolutionRequest{}, fmt.Errorf("registry: market %d deadline not reached: %w",
			marketID, domain.ErrInvalidState)
	}

	if err := s.markets.Transition(ctx, marketID,
		[]domain.MarketStatus{domain.MarketStatusActive}, domain.MarketStatusResolving); err != nil {
		return domain.ResolutionRequest{}, err
	}

	req := domain.ResolutionRequest{
		ID:          uuid.New(),
		MarketID:    marketID,
		Question:    m.Question,
		PriceFeedID: m.PriceFeedID,
		Status:      domain.RequestStatusPending,
		RequestedAt: now,
	}
	if err := s.oracles.CreateRequest(ctx, req); err != nil {
		if errors.Is(err, domain.ErrAlreadyProcessed) {
			return s.oracles.GetRequestByMarket(ctx, marketID)
		}
		return domain.ResolutionRequest{}, err
	}

	_ = s.cache.Invalidate(ctx, marketID)
	s.log.Info("registry: resolution initiated", "market_id", marketID, "request_id", req.ID)
	s.auditLog(ctx, "registry.resolution_initiated", map[string]any{
		"market_id":  marketID,
		"request_id": req.ID.String(),
	})
	s.publishEvent(ctx, "market.resolving", marketID, nil)
	return req, nil
}

// CompleteResolution finalizes a market with an outcome on behalf of an
// authorized settlement collaborator. The caller is checked against the
// collaborator slot matching the result source; a governance source may
// override an already-recorded outcome.
func (s *Service) CompleteResolution(ctx context.Context, caller domain.Address, marketID int64, outcome domain.Outcome, source domain.ResultSource) error {
	if !outcome.Valid() {
		return fmt.Errorf("registry: invalid outcome %d: %w", outcome, domain.ErrOutOfRange)
	}
	if err := s.authorizeSource(ctx, caller, source); err != nil {
		return err
	}

	allowOverride := source == domain.ResultSourceGovernance
	if err := s.markets.Finalize(ctx, marketID, outcome, allowOverride); err != nil {
		return err
	}

	_ = s.cache.Invalidate(ctx, marketID)
	s.log.Info("registry: market finalized",
		"market_id", marketID, "outcome", outcome.String(), "source", source)
	s.auditLog(ctx, "registry.market_finalized", map[string]any{
		"market_id": marketID,
		"outcome":   outcome.String(),
		"source":    string(source),
	})
	s.publishEvent(ctx, "market.resolved", marketID, map[string]any{
		"outcome": outcome.String(),
		"source":  string(source),
	})
	return nil
}

// Dispute moves a market into Disputed. A resolved market is disputable
// within the contest window after resolution; a still-resolving market,
// whose answer is pending, within the same window after its deadline. The
// governor opens the proposal first and then flips the market.
func (s *Service) Dispute(ctx context.Context, marketID int64) error {
	m, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return err
	}

	var anchor time.Time
	switch {
	case m.Status == domain.MarketStatusResolved && m.ResolvedAt != nil:
		anchor = *m.ResolvedAt
	case m.Status == domain.MarketStatusResolving:
		anchor = m.Deadline
	default:
		return fmt.Errorf("registry: market %d is %s, not disputable: %w", marketID, m.Status, domain.ErrInvalidState)
	}
	if time.Now().UTC().After(anchor.Add(s.cfg.ContestWindow())) {
		return fmt.Errorf("registry: contest window for market %d closed: %w", marketID, domain.ErrInvalidState)
	}

	if err := s.markets.Transition(ctx, marketID,
		[]domain.MarketStatus{domain.MarketStatusResolving, domain.MarketStatusResolved},
		domain.MarketStatusDisputed); err != nil {
		return err
	}

	_ = s.cache.Invalidate(ctx, marketID)
	s.log.Info("registry: market disputed", "market_id", marketID)
	s.auditLog(ctx, "registry.market_disputed", map[string]any{"market_id": marketID})
	s.publishEvent(ctx, "market.disputed", marketID, nil)
	return nil
}

// Cancel terminally cancels a market. Owner-only. Cancelled markets refund
// principal through ClaimPayout.
func (s *Service) Cancel(ctx context.Context, caller domain.Address, marketID int64) error {
	state, err := s.admin.State(ctx)
	if err != nil {
		return err
	}
	if !state.Owner.Equal(caller) {
		return fmt.Errorf("registry: cancel requires owner: %w", domain.ErrUnauthorized)
	}

	from := []domain.MarketStatus{
		domain.MarketStatusActive,
		domain.MarketStatusDisputed,
	}
	if err := s.markets.Transition(ctx, marketID, from, domain.MarketStatusCancelled); err != nil {
		return err
	}

	_ = s.cache.Invalidate(ctx, marketID)
	s.log.Info("registry: market cancelled", "market_id", marketID, "by", caller)
	s.auditLog(ctx, "registry.market_cancelled", map[string]any{
		"market_id": marketID,
		"by":        string(caller),
	})
	s.publishEvent(ctx, "market.cancelled", marketID, nil)
	return nil
}

// ClaimPayout settles a participant's position on a terminal market exactly
// once. Resolved markets pay the module's settlement amount, which is a
// principal refund under an invalid outcome; cancelled markets always
// refund principal. A losing position claims zero but is still consumed.
func (s *Service) ClaimPayout(ctx context.Context, marketID int64, participant domain.Address) (decimal.Decimal, error) {
	m, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return decimal.Zero, err
	}
	if !m.Status.Terminal() {
		return decimal.Zero, fmt.Errorf("registry: market %d is %s, nothing to claim: %w",
			marketID, m.Status, domain.ErrInvalidState)
	}

	pos, err := s.positions.Get(ctx, marketID, participant)
	if err != nil {
		return decimal.Zero, err
	}

	var amount decimal.Decimal
	switch {
	case m.Status == domain.MarketStatusCancelled:
		amount = pos.Principal
	case m.Outcome == nil:
		return decimal.Zero, fmt.Errorf("registry: market %d resolved without outcome: %w",
			marketID, domain.ErrInvalidState)
	default:
		module, err := ModuleFor(m.Type)
		if err != nil {
			return decimal.Zero, err
		}
		amount = module.Payout(m, pos, *m.Outcome)
	}

	if err := s.positions.MarkClaimed(ctx, marketID, participant); err != nil {
		return decimal.Zero, err
	}

	s.log.Info("registry: payout claimed",
		"market_id", marketID, "participant", participant, "amount", amount)
	s.auditLog(ctx, "registry.payout_claimed", map[string]any{
		"market_id":   marketID,
		"participant": string(participant),
		"amount":      amount.String(),
	})
	return amount, nil
}

// SweepDeadlines initiates resolution for every active market whose deadline
// has passed. Run periodically by the worker.
func (s *Service) SweepDeadlines(ctx context.Context) error {
	now := time.Now().UTC()
	markets, err := s.markets.List(ctx, domain.MarketStatusActive, domain.ListOpts{Limit: 200})
	if err != nil {
		return err
	}

	for _, m := range markets {
		if now.Before(m.Deadline) {
			continue
		}
		if _, err := s.InitiateResolution(ctx, m.ID); err != nil {
			if errors.Is(err, domain.ErrInvalidState) {
				continue
			}
			s.log.Error("registry: deadline sweep failed", "market_id", m.ID, "error", err)
		}
	}
	return nil
}

// SweepFees routes pending fee accruals: insurance fees credit the vault,
// trading fees settle to the treasury collaborator. Each accrual routes
// exactly once.
func (s *Service) SweepFees(ctx context.Context, sink InsuranceSink) error {
	pending, err := s.fees.ListPending(ctx, 200)
	if err != nil {
		return err
	}

	for _, f := range pending {
		if f.Kind == "insurance" {
			if err := sink.CreditFee(ctx, f.Amount); err != nil {
				s.log.Error("registry: route insurance fee failed", "fee_id", f.ID, "error", err)
				continue
			}
		}
		if err := s.fees.MarkRouted(ctx, f.ID); err != nil && !errors.Is(err, domain.ErrAlreadyProcessed) {
			s.log.Error("registry: mark fee routed failed", "fee_id", f.ID, "error", err)
		}
	}
	return nil
}

func (s *Service) authorizeSource(ctx context.Context, caller domain.Address, source domain.ResultSource) error {
	var role domain.CollaboratorRole
	switch source {
	case domain.ResultSourceConsensus:
		role = domain.RoleResolver
	case domain.ResultSourceManual:
		role = domain.RoleOperator
	case domain.ResultSourceGovernance:
		role = domain.RoleGovernor
	default:
		return fmt.Errorf("registry: unknown result source %q: %w", source, domain.ErrOutOfRange)
	}

	registered, err := s.admin.Collaborator(ctx, role)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("registry: no %s collaborator registered: %w", role, domain.ErrUnauthorized)
		}
		return err
	}
	if !registered.Equal(caller) {
		return fmt.Errorf("registry: caller %s is not the %s collaborator: %w", caller, role, domain.ErrUnauthorized)
	}
	return nil
}

func (s *Service) accrueFee(ctx context.Context, marketID int64, kind string, amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	if _, err := s.fees.Insert(ctx, domain.FeeAccrual{
		MarketID: marketID,
		Kind:     kind,
		Amount:   amount,
		Status:   domain.FeeRoutePending,
	}); err != nil {
		s.log.Error("registry: accrue fee failed", "market_id", marketID, "kind", kind, "error", err)
	}
}

func (s *Service) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.log.Warn("registry: audit log failed", "event", event, "error", err)
	}
}

func (s *Service) publishEvent(ctx context.Context, event string, marketID int64, extra map[string]any) {
	payload := map[string]any{
		"event":     event,
		"market_id": marketID,
		"at":        time.Now().UTC(),
	}
	for k, v := range extra {
		payload[k] = v
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, "markets", data); err != nil {
		s.log.Warn("registry: publish event failed", "event", event, "error", err)
	}
	if err := s.bus.StreamAppend(ctx, "markets:events", data); err != nil {
		s.log.Warn("registry: stream append failed", "event", event, "error", err)
	}
}
