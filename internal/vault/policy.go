package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quorumlabs/foresight/internal/domain"
)

// ActivatePolicy opens an insurance policy for a resolved market, reserving
// the market's total principal against the pool for the configured claim
// window. Activation is idempotent: a market that already has a policy is a
// no-op. It fails with ErrInsufficientFunds when the pool's unreserved
// assets cannot cover the reserve.
func (s *Service) ActivatePolicy(ctx context.Context, market domain.Market, now time.Time) error {
	reserve := market.TotalPrincipal
	if !reserve.IsPositive() {
		return nil
	}

	if err := s.store.AdjustReserved(ctx, reserve); err != nil {
		return fmt.Errorf("vault: reserve %s for market %d: %w", reserve, market.ID, err)
	}

	policy := domain.InsurancePolicy{
		MarketID:    market.ID,
		Reserve:     reserve,
		Claimed:     decimal.Zero,
		ActivatedAt: now,
		ExpiresAt:   now.Add(s.cfg.PolicyWindow()),
	}
	if err := s.policies.Create(ctx, policy); err != nil {
		// Undo the reservation; the existing policy already holds its own.
		if undoErr := s.store.AdjustReserved(ctx, reserve.Neg()); undoErr != nil {
			s.log.Error("vault: unwind reservation failed",
				"market_id", market.ID, "amount", reserve, "error", undoErr)
		}
		if errors.Is(err, domain.ErrAlreadyProcessed) {
			return nil
		}
		return err
	}

	s.log.Info("vault: policy activated",
		"market_id", market.ID, "reserve", reserve, "expires_at", policy.ExpiresAt)
	s.auditLog(ctx, "vault.policy_activated", map[string]any{
		"market_id":  market.ID,
		"reserve":    reserve.String(),
		"expires_at": policy.ExpiresAt,
	})
	return nil
}

// ClaimRefund refunds a bettor's exact original principal from an open
// policy. The position's claimed flag is the once-only gate; it is consumed
// in the same transaction that moves the money, so a settlement failure
// leaves the position claimable.
func (s *Service) ClaimRefund(ctx context.Context, marketID int64, participant domain.Address, now time.Time) (decimal.Decimal, error) {
	policy, err := s.policies.Get(ctx, marketID)
	if err != nil {
		return decimal.Zero, err
	}
	if !policy.Open(now) {
		return decimal.Zero, domain.ErrPolicyExpired
	}

	pos, err := s.positions.Get(ctx, marketID, participant)
	if err != nil {
		return decimal.Zero, err
	}
	if pos.Claimed {
		return decimal.Zero, domain.ErrAlreadyProcessed
	}
	amount := pos.Principal
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("vault: nothing to refund on market %d: %w", marketID, domain.ErrOutOfRange)
	}

	if err := s.policies.SettleClaim(ctx, marketID, participant, amount, now); err != nil {
		return decimal.Zero, fmt.Errorf("vault: settle claim on market %d: %w", marketID, err)
	}

	s.log.Info("vault: refund claimed",
		"market_id", marketID, "participant", participant, "amount", amount)
	s.auditLog(ctx, "vault.refund_claimed", map[string]any{
		"market_id":   marketID,
		"participant": string(participant),
		"amount":      amount.String(),
	})
	return amount, nil
}

// Policy returns the policy for a market.
func (s *Service) Policy(ctx context.Context, marketID int64) (domain.InsurancePolicy, error) {
	return s.policies.Get(ctx, marketID)
}

// ReleaseExpired returns the unclaimed reserve of expired policies to the
// pool. Run periodically; each policy is released exactly once.
func (s *Service) ReleaseExpired(ctx context.Context, now time.Time) error {
	expired, err := s.policies.ListExpiredUnreleased(ctx, now)
	if err != nil {
		return err
	}

	for _, p := range expired {
		if err := s.policies.MarkReleased(ctx, p.MarketID); err != nil {
			if errors.Is(err, domain.ErrAlreadyProcessed) {
				continue
			}
			return err
		}
		leftover := p.Remaining()
		if leftover.IsPositive() {
			if err := s.store.AdjustReserved(ctx, leftover.Neg()); err != nil {
				return fmt.Errorf("vault: release reserve for market %d: %w", p.MarketID, err)
			}
		}
		s.log.Info("vault: policy released",
			"market_id", p.MarketID, "leftover", leftover)
	}
	return nil
}
