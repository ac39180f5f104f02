// Package governor implements the dispute process: reputation-bonded
// proposals against a recorded resolution, quadratic voting, and the
// execution path that overrides the oracle's outcome.
package governor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quorumlabs/foresight/internal/config"
	"github.com/quorumlabs/foresight/internal/domain"
	"github.com/quorumlabs/foresight/internal/oracle"
)

// Registry is the slice of the market registry the governor drives:
// flipping a resolved market into dispute and finalizing the executed
// outcome. Satisfied by the registry service.
type Registry interface {
	Dispute(ctx context.Context, marketID int64) error
	CompleteResolution(ctx context.Context, caller domain.Address, marketID int64, outcome domain.Outcome, source domain.ResultSource) error
}

// StakeLedger is the slice of the reputation ledger the governor uses:
// reading stakes for vote weighting and settling ballots after execution.
// Satisfied by the reputation service.
type StakeLedger interface {
	Get(ctx context.Context, participant domain.Address) (domain.ReputationStake, error)
	RecordVoteOutcome(ctx context.Context, participant domain.Address, correct bool) error
}

// Service is the dispute governor.
type Service struct {
	proposals domain.ProposalStore
	oracles   domain.OracleStore
	markets   domain.MarketStore
	registry  Registry
	stakes    StakeLedger
	audit     domain.AuditStore
	identity  domain.Address // registered governor collaborator
	cfg       config.GovernorConfig
	minBond   decimal.Decimal
	log       *slog.Logger
}

// New creates a governor Service.
func New(
	proposals domain.ProposalStore,
	oracles domain.OracleStore,
	markets domain.MarketStore,
	registry Registry,
	stakes StakeLedger,
	audit domain.AuditStore,
	identity domain.Address,
	cfg config.GovernorConfig,
	log *slog.Logger,
) (*Service, error) {
	minBond, err := decimal.NewFromString(cfg.MinBond)
	if err != nil {
		return nil, fmt.Errorf("governor: parse min_bond %q: %w", cfg.MinBond, err)
	}

	return &Service{
		proposals: proposals,
		oracles:   oracles,
		markets:   markets,
		registry:  registry,
		stakes:    stakes,
		audit:     audit,
		identity:  identity,
		cfg:       cfg,
		minBond:   minBond,
		log:       log.With("component", "governor"),
	}, nil
}

// ProposalParams are the caller-supplied fields of a resolution dispute.
type ProposalParams struct {
	MarketID    int64
	Proposer    domain.Address
	Outcome     domain.Outcome // the outcome the proposer asserts is correct
	Title       string
	Description string
	Bond        decimal.Decimal
}

// Propose opens a dispute against a resolved market. The proposer must hold
// reputation stake covering the bond, the asserted outcome must differ from
// the recorded one, and the market must still be inside its contest window.
// Opening the proposal flips the market to Disputed.
func (s *Service) Propose(ctx context.Context, p ProposalParams) (domain.Proposal, error) {
	if !p.Outcome.Valid() {
		return domain.Proposal{}, fmt.Errorf("governor: invalid asserted outcome %d: %w", p.Outcome, domain.ErrOutOfRange)
	}
	if p.Bond.LessThan(s.minBond) {
		return domain.Proposal{}, fmt.Errorf("governor: bond %s below minimum %s: %w", p.Bond, s.minBond, domain.ErrInsufficientFunds)
	}

	stake, err := s.stakes.Get(ctx, p.Proposer)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Proposal{}, fmt.Errorf("governor: proposer has no stake: %w", domain.ErrUnauthorized)
		}
		return domain.Proposal{}, err
	}
	if stake.Staked.LessThan(p.Bond) {
		return domain.Proposal{}, fmt.Errorf("governor: stake %s does not cover bond %s: %w",
			stake.Staked, p.Bond, domain.ErrInsufficientFunds)
	}

	recorded, err := s.oracles.GetResult(ctx, p.MarketID)
	switch {
	case err == nil:
		if recorded.Outcome == p.Outcome {
			return domain.Proposal{}, fmt.Errorf("governor: asserted outcome matches recorded %s: %w",
				recorded.Outcome, domain.ErrOutOfRange)
		}
	case errors.Is(err, domain.ErrNotFound):
		// No answer recorded yet: a still-resolving market is disputed on
		// the asserted outcome alone.
	default:
		return domain.Proposal{}, err
	}

	if _, err := s.proposals.GetOpenByMarket(ctx, p.MarketID); err == nil {
		return domain.Proposal{}, fmt.Errorf("governor: market %d already disputed: %w",
			p.MarketID, domain.ErrAlreadyProcessed)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Proposal{}, err
	}

	// Flipping the market enforces the contest window and excludes a second
	// racing dispute: the status guard admits exactly one.
	if err := s.registry.Dispute(ctx, p.MarketID); err != nil {
		return domain.Proposal{}, err
	}

	now := time.Now().UTC()
	marketID := p.MarketID
	outcome := p.Outcome
	proposal := domain.Proposal{
		Type:         domain.ProposalTypeResolution,
		MarketID:     &marketID,
		Title:        p.Title,
		Description:  p.Description,
		Proposer:     p.Proposer,
		Bond:         p.Bond,
		Outcome:      &outcome,
		Status:       domain.ProposalStatusActive,
		VotingEndsAt: now.Add(s.cfg.VotingWindow()),
		CreatedAt:    now,
	}
	id, err := s.proposals.Create(ctx, proposal)
	if err != nil {
		return domain.Proposal{}, err
	}
	proposal.ID = id

	s.log.Info("governor: dispute opened",
		"proposal_id", id, "market_id", p.MarketID,
		"asserted", p.Outcome.String(), "ends_at", proposal.VotingEndsAt)
	s.auditLog(ctx, "governor.dispute_opened", map[string]any{
		"proposal_id": id,
		"market_id":   p.MarketID,
		"proposer":    string(p.Proposer),
		"asserted":    p.Outcome.String(),
	})
	return proposal, nil
}

// Vote casts a ballot weighted by the integer square root of the voter's
// reputation stake. Zero weight means no stake and no vote.
func (s *Service) Vote(ctx context.Context, proposalID int64, voter domain.Address, support domain.VoteSupport) (domain.Vote, error) {
	if !support.Valid() {
		return domain.Vote{}, fmt.Errorf("governor: unknown support %q: %w", support, domain.ErrOutOfRange)
	}

	stake, err := s.stakes.Get(ctx, voter)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Vote{}, fmt.Errorf("governor: voter has no stake: %w", domain.ErrUnauthorized)
		}
		return domain.Vote{}, err
	}

	weight := VoteWeight(stake, s.cfg.ExpertBoost)
	if weight == 0 {
		return domain.Vote{}, fmt.Errorf("governor: stake too small to vote: %w", domain.ErrUnauthorized)
	}

	vote := domain.Vote{
		ProposalID: proposalID,
		Voter:      voter,
		Support:    support,
		Weight:     weight,
		CastAt:     time.Now().UTC(),
	}
	if err := s.proposals.CastVote(ctx, vote); err != nil {
		return domain.Vote{}, err
	}

	s.log.Info("governor: vote cast",
		"proposal_id", proposalID, "voter", voter, "support", support, "weight", weight)
	return vote, nil
}

// Get returns a proposal.
func (s *Service) Get(ctx context.Context, id int64) (domain.Proposal, error) {
	return s.proposals.Get(ctx, id)
}

// ListVotes returns the ballots cast on a proposal.
func (s *Service) ListVotes(ctx context.Context, proposalID int64) ([]domain.Vote, error) {
	return s.proposals.ListVotes(ctx, proposalID)
}

// TallyExpired closes every proposal whose voting window has passed. A
// proposal succeeds when For outweighs Against and total participation
// meets the quorum; a successful resolution proposal is executed
// immediately.
func (s *Service) TallyExpired(ctx context.Context) error {
	expired, err := s.proposals.ListExpiredActive(ctx, time.Now().UTC())
	if err != nil {
		return err
	}

	for _, p := range expired {
		if err := s.tally(ctx, p); err != nil {
			s.log.Error("governor: tally failed", "proposal_id", p.ID, "error", err)
		}
	}
	return nil
}

func (s *Service) tally(ctx context.Context, p domain.Proposal) error {
	succeeded := p.ForWeight > p.AgainstWeight && p.Participation() >= s.cfg.QuorumWeight

	to := domain.ProposalStatusDefeated
	if succeeded {
		to = domain.ProposalStatusSucceeded
	}
	if err := s.proposals.SetStatus(ctx, p.ID, domain.ProposalStatusActive, to); err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			return nil // another worker tallied first
		}
		return err
	}

	s.log.Info("governor: proposal tallied",
		"proposal_id", p.ID, "status", to,
		"for", p.ForWeight, "against", p.AgainstWeight,
		"participation", p.Participation(), "quorum", s.cfg.QuorumWeight)
	s.auditLog(ctx, "governor.proposal_tallied", map[string]any{
		"proposal_id":   p.ID,
		"status":        string(to),
		"for":           p.ForWeight,
		"against":       p.AgainstWeight,
		"participation": p.Participation(),
	})

	p.Status = to
	if succeeded {
		return s.execute(ctx, p)
	}
	return s.settleDefeated(ctx, p)
}

// execute applies a succeeded resolution proposal: the recorded oracle
// result is overridden with the asserted outcome under a governance source,
// the market finalizes to the new outcome, and ballots settle with For as
// the correct side.
func (s *Service) execute(ctx context.Context, p domain.Proposal) error {
	if p.Type != domain.ProposalTypeResolution || p.MarketID == nil || p.Outcome == nil {
		return s.proposals.MarkExecuted(ctx, p.ID)
	}

	override := domain.OracleResult{
		MarketID:   *p.MarketID,
		Outcome:    *p.Outcome,
		Confidence: 100,
		Source:     domain.ResultSourceGovernance,
		ReportedAt: time.Now().UTC(),
	}
	override.Digest = oracle.ResultDigest(override)
	if err := s.oracles.OverrideResult(ctx, override); err != nil {
		return err
	}

	if err := s.registry.CompleteResolution(ctx, s.identity, *p.MarketID, *p.Outcome, domain.ResultSourceGovernance); err != nil {
		return err
	}

	if err := s.proposals.MarkExecuted(ctx, p.ID); err != nil && !errors.Is(err, domain.ErrInvalidState) {
		return err
	}

	s.log.Info("governor: proposal executed",
		"proposal_id", p.ID, "market_id", *p.MarketID, "outcome", p.Outcome.String())
	s.auditLog(ctx, "governor.proposal_executed", map[string]any{
		"proposal_id": p.ID,
		"market_id":   *p.MarketID,
		"outcome":     p.Outcome.String(),
	})

	return s.settleBallots(ctx, p, domain.VoteFor)
}

// settleDefeated returns the market to Resolved under its original outcome,
// when one was recorded, and settles ballots with Against as the correct
// side. The proposer's
// bond forfeits through the ledger's slash on their implicit For position.
func (s *Service) settleDefeated(ctx context.Context, p domain.Proposal) error {
	if p.Type == domain.ProposalTypeResolution && p.MarketID != nil {
		recorded, err := s.oracles.GetResult(ctx, *p.MarketID)
		switch {
		case err == nil:
			if err := s.registry.CompleteResolution(ctx, s.identity, *p.MarketID, recorded.Outcome, domain.ResultSourceGovernance); err != nil {
				return err
			}
		case errors.Is(err, domain.ErrNotFound):
			// Disputed before any answer was recorded; the market stays
			// Disputed until a resolver or operator finalizes it.
		default:
			return err
		}
	}

	if err := s.stakes.RecordVoteOutcome(ctx, p.Proposer, false); err != nil {
		s.log.Error("governor: settle proposer failed", "proposal_id", p.ID, "error", err)
	}
	return s.settleBallots(ctx, p, domain.VoteAgainst)
}

// settleBallots records each voter's accuracy against the winning side.
// Abstentions settle neither way.
func (s *Service) settleBallots(ctx context.Context, p domain.Proposal, winning domain.VoteSupport) error {
	votes, err := s.proposals.ListVotes(ctx, p.ID)
	if err != nil {
		return err
	}

	for _, v := range votes {
		if v.Support == domain.VoteAbstain {
			continue
		}
		if err := s.stakes.RecordVoteOutcome(ctx, v.Voter, v.Support == winning); err != nil {
			s.log.Error("governor: settle ballot failed",
				"proposal_id", p.ID, "voter", v.Voter, "error", err)
		}
	}
	return nil
}

func (s *Service) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.log.Warn("governor: audit log failed", "event", event, "error", err)
	}
}
