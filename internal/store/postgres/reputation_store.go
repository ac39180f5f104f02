package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/quorumlabs/foresight/internal/domain"
)

// ReputationStore implements domain.ReputationStore using PostgreSQL.
type ReputationStore struct {
	pool *pgxpool.Pool
}

// NewReputationStore creates a new ReputationStore backed by the given pool.
func NewReputationStore(pool *pgxpool.Pool) *ReputationStore {
	return &ReputationStore{pool: pool}
}

// Get retrieves a participant's reputation record.
func (s *ReputationStore) Get(ctx context.Context, participant domain.Address) (domain.ReputationStake, error) {
	var r domain.ReputationStake
	err := s.pool.QueryRow(ctx,
		`SELECT participant, staked, score, correct_votes, total_votes, slashed, last_stake_at, updated_at
		 FROM reputation_stakes WHERE participant = $1`, string(participant),
	).Scan(&r.Participant, &r.Staked, &r.Score, &r.CorrectVotes, &r.TotalVotes,
		&r.Slashed, &r.LastStakeAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ReputationStake{}, domain.ErrNotFound
		}
		return domain.ReputationStake{}, fmt.Errorf("postgres: get reputation %s: %w", participant, err)
	}
	return r, nil
}

// AddStake credits stake and resets the cooldown anchor to at.
func (s *ReputationStore) AddStake(ctx context.Context, participant domain.Address, amount decimal.Decimal, at time.Time) error {
	if !amount.IsPositive() {
		return domain.ErrOutOfRange
	}

	const query = `
		INSERT INTO reputation_stakes (participant, staked, last_stake_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (participant) DO UPDATE SET
			staked        = reputation_stakes.staked + EXCLUDED.staked,
			last_stake_at = EXCLUDED.last_stake_at,
			updated_at    = NOW()`

	if _, err := s.pool.Exec(ctx, query, string(participant), amount, at); err != nil {
		return fmt.Errorf("postgres: add stake for %s: %w", participant, err)
	}
	return nil
}

// WithdrawStake debits stake. The guard enforces the cooldown and the
// balance in the same statement, so a racing restake cannot be bypassed.
func (s *ReputationStore) WithdrawStake(ctx context.Context, participant domain.Address, amount decimal.Decimal, now time.Time, cooldown time.Duration) error {
	if !amount.IsPositive() {
		return domain.ErrOutOfRange
	}

	cutoff := now.Add(-cooldown)

	const query = `
		UPDATE reputation_stakes SET staked = staked - $2, updated_at = NOW()
		WHERE participant = $1 AND staked >= $2 AND last_stake_at <= $3`

	tag, err := s.pool.Exec(ctx, query, string(participant), amount, cutoff)
	if err != nil {
		return fmt.Errorf("postgres: withdraw stake for %s: %w", participant, err)
	}
	if tag.RowsAffected() == 0 {
		r, getErr := s.Get(ctx, participant)
		if getErr != nil {
			return getErr
		}
		if !r.CanUnstake(now, cooldown) {
			return domain.ErrCooldownActive
		}
		return domain.ErrInsufficientFunds
	}
	return nil
}

// RecordOutcome updates vote counters and score, and for an incorrect vote
// moves slash from staked to slashed. Slash is capped at the remaining
// stake inside the statement.
func (s *ReputationStore) RecordOutcome(ctx context.Context, participant domain.Address, correct bool, slash decimal.Decimal, scoreDelta int64) error {
	if correct {
		const query = `
			UPDATE reputation_stakes SET
				total_votes   = total_votes + 1,
				correct_votes = correct_votes + 1,
				score         = score + $2,
				updated_at    = NOW()
			WHERE participant = $1`

		tag, err := s.pool.Exec(ctx, query, string(participant), scoreDelta)
		if err != nil {
			return fmt.Errorf("postgres: record correct vote for %s: %w", participant, err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrNotFound
		}
		return nil
	}

	const query = `
		UPDATE reputation_stakes SET
			total_votes = total_votes + 1,
			score       = GREATEST(score - $2, 0),
			staked      = staked - LEAST($3, staked),
			slashed     = slashed + LEAST($3, staked),
			updated_at  = NOW()
		WHERE participant = $1`

	tag, err := s.pool.Exec(ctx, query, string(participant), scoreDelta, slash)
	if err != nil {
		return fmt.Errorf("postgres: record incorrect vote for %s: %w", participant, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
