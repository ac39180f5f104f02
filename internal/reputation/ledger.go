// Package reputation implements the stake ledger that backs dispute voting:
// stake in, cooldown-gated stake out, and the reward/slash bookkeeping
// applied when disputes settle.
package reputation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quorumlabs/foresight/internal/config"
	"github.com/quorumlabs/foresight/internal/domain"
)

// Ledger is the reputation stake ledger.
type Ledger struct {
	store         domain.ReputationStore
	audit         domain.AuditStore
	cfg           config.ReputationConfig
	slashFraction decimal.Decimal
	log           *slog.Logger
}

// New creates a Ledger from the configured parameters.
func New(store domain.ReputationStore, audit domain.AuditStore, cfg config.ReputationConfig, log *slog.Logger) (*Ledger, error) {
	frac, err := decimal.NewFromString(cfg.SlashFraction)
	if err != nil {
		return nil, fmt.Errorf("reputation: parse slash_fraction %q: %w", cfg.SlashFraction, err)
	}
	if frac.IsNegative() || frac.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("reputation: slash_fraction %s outside [0, 1]: %w", frac, domain.ErrOutOfRange)
	}

	return &Ledger{
		store:         store,
		audit:         audit,
		cfg:           cfg,
		slashFraction: frac,
		log:           log.With("component", "reputation"),
	}, nil
}

// Stake adds to a participant's staked balance and resets their cooldown
// anchor. Every stake restarts the clock, so topping up right before an
// unstake does not shortcut the waiting period.
func (l *Ledger) Stake(ctx context.Context, participant domain.Address, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("reputation: stake amount must be positive: %w", domain.ErrOutOfRange)
	}

	if err := l.store.AddStake(ctx, participant, amount, time.Now().UTC()); err != nil {
		return err
	}

	l.log.Info("reputation: staked", "participant", participant, "amount", amount)
	l.auditLog(ctx, "reputation.staked", map[string]any{
		"participant": string(participant),
		"amount":      amount.String(),
	})
	return nil
}

// Unstake withdraws staked balance once the cooldown since the most recent
// stake has elapsed. The store enforces both the balance and the cooldown in
// its guard.
func (l *Ledger) Unstake(ctx context.Context, participant domain.Address, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("reputation: unstake amount must be positive: %w", domain.ErrOutOfRange)
	}

	if err := l.store.WithdrawStake(ctx, participant, amount, time.Now().UTC(), l.cfg.Cooldown()); err != nil {
		return err
	}

	l.log.Info("reputation: unstaked", "participant", participant, "amount", amount)
	l.auditLog(ctx, "reputation.unstaked", map[string]any{
		"participant": string(participant),
		"amount":      amount.String(),
	})
	return nil
}

// Get returns a participant's standing.
func (l *Ledger) Get(ctx context.Context, participant domain.Address) (domain.ReputationStake, error) {
	return l.store.Get(ctx, participant)
}

// RecordVoteOutcome settles one ballot against the executed dispute result.
// Correct voters gain score; incorrect voters lose score and forfeit the
// configured fraction of their current stake.
func (l *Ledger) RecordVoteOutcome(ctx context.Context, participant domain.Address, correct bool) error {
	slash := decimal.Zero
	scoreDelta := l.cfg.CorrectReward
	if !correct {
		scoreDelta = -l.cfg.IncorrectPenalty
		stake, err := l.store.Get(ctx, participant)
		if err != nil {
			return err
		}
		slash = stake.Staked.Mul(l.slashFraction).Round(10)
	}

	if err := l.store.RecordOutcome(ctx, participant, correct, slash, scoreDelta); err != nil {
		return err
	}

	l.log.Info("reputation: vote outcome recorded",
		"participant", participant, "correct", correct, "slash", slash)
	l.auditLog(ctx, "reputation.vote_outcome", map[string]any{
		"participant": string(participant),
		"correct":     correct,
		"slash":       slash.String(),
	})
	return nil
}

func (l *Ledger) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := l.audit.Log(ctx, event, detail); err != nil {
		l.log.Warn("reputation: audit log failed", "event", event, "error", err)
	}
}
