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

// PolicyStore implements domain.PolicyStore using PostgreSQL.
type PolicyStore struct {
	pool *pgxpool.Pool
}

// NewPolicyStore creates a new PolicyStore backed by the given pool.
func NewPolicyStore(pool *pgxpool.Pool) *PolicyStore {
	return &PolicyStore{pool: pool}
}

// Create inserts the policy for a market. A policy already existing reports
// ErrAlreadyProcessed so activation can treat it as a no-op.
func (s *PolicyStore) Create(ctx context.Context, p domain.InsurancePolicy) error {
	const query = `
		INSERT INTO insurance_policies (market_id, reserve, claimed, activated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.pool.Exec(ctx, query,
		p.MarketID, p.Reserve, p.Claimed, p.ActivatedAt, p.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyProcessed
		}
		return fmt.Errorf("postgres: create policy for market %d: %w", p.MarketID, err)
	}
	return nil
}

// Get retrieves the policy for a market.
func (s *PolicyStore) Get(ctx context.Context, marketID int64) (domain.InsurancePolicy, error) {
	var p domain.InsurancePolicy
	err := s.pool.QueryRow(ctx,
		`SELECT market_id, reserve, claimed, activated_at, expires_at, released
		 FROM insurance_policies WHERE market_id = $1`, marketID,
	).Scan(&p.MarketID, &p.Reserve, &p.Claimed, &p.ActivatedAt, &p.ExpiresAt, &p.Released)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.InsurancePolicy{}, domain.ErrNotFound
		}
		return domain.InsurancePolicy{}, fmt.Errorf("postgres: get policy for market %d: %w", marketID, err)
	}
	return p, nil
}

// ListOpen returns unexpired policies.
func (s *PolicyStore) ListOpen(ctx context.Context, now time.Time) ([]domain.InsurancePolicy, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT market_id, reserve, claimed, activated_at, expires_at, released
		 FROM insurance_policies WHERE expires_at > $1 ORDER BY expires_at ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open policies: %w", err)
	}
	defer rows.Close()
	return scanPolicies(rows)
}

// ListExpiredUnreleased returns expired policies whose leftover reserve has
// not been returned to the pool yet.
func (s *PolicyStore) ListExpiredUnreleased(ctx context.Context, now time.Time) ([]domain.InsurancePolicy, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT market_id, reserve, claimed, activated_at, expires_at, released
		 FROM insurance_policies
		 WHERE expires_at <= $1 AND released = FALSE ORDER BY expires_at ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: list expired policies: %w", err)
	}
	defer rows.Close()
	return scanPolicies(rows)
}

func scanPolicies(rows pgx.Rows) ([]domain.InsurancePolicy, error) {
	var policies []domain.InsurancePolicy
	for rows.Next() {
		var p domain.InsurancePolicy
		if err := rows.Scan(&p.MarketID, &p.Reserve, &p.Claimed, &p.ActivatedAt, &p.ExpiresAt, &p.Released); err != nil {
			return nil, fmt.Errorf("postgres: scan policy: %w", err)
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// MarkReleased flips the released flag exactly once.
func (s *PolicyStore) MarkReleased(ctx context.Context, marketID int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE insurance_policies SET released = TRUE
		 WHERE market_id = $1 AND released = FALSE`, marketID)
	if err != nil {
		return fmt.Errorf("postgres: mark policy released for market %d: %w", marketID, err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.Get(ctx, marketID); getErr != nil {
			return getErr
		}
		return domain.ErrAlreadyProcessed
	}
	return nil
}

// SettleClaim pays a refund in one transaction: the claimant's position is
// consumed, the policy's claimed total grows, and the pool's assets and
// reserve are debited together. Each statement carries its own guard, so a
// racing claim, an expired policy, or a drained reserve rolls everything
// back and the position survives for a retry.
func (s *PolicyStore) SettleClaim(ctx context.Context, marketID int64, claimant domain.Address, amount decimal.Decimal, now time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin claim tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Totals row first, matching the lock order of every vault mutation.
	if _, err := lockTotals(ctx, tx); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE positions SET claimed = TRUE, claimed_at = NOW(), updated_at = NOW()
		 WHERE market_id = $1 AND participant = $2 AND claimed = FALSE`,
		marketID, string(claimant))
	if err != nil {
		return fmt.Errorf("postgres: consume position for market %d: %w", marketID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT TRUE FROM positions WHERE market_id = $1 AND participant = $2`,
			marketID, string(claimant)).Scan(&exists); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrNotFound
			}
			return fmt.Errorf("postgres: check position for market %d: %w", marketID, err)
		}
		return domain.ErrAlreadyProcessed
	}

	tag, err = tx.Exec(ctx,
		`UPDATE insurance_policies SET claimed = claimed + $2
		 WHERE market_id = $1 AND expires_at > $3 AND claimed + $2 <= reserve`,
		marketID, amount, now)
	if err != nil {
		return fmt.Errorf("postgres: register claim on market %d: %w", marketID, err)
	}
	if tag.RowsAffected() == 0 {
		p, getErr := s.Get(ctx, marketID)
		if getErr != nil {
			return getErr
		}
		if !p.Open(now) {
			return domain.ErrPolicyExpired
		}
		return domain.ErrInsufficientFunds
	}

	tag, err = tx.Exec(ctx,
		`UPDATE vault_totals SET
			total_assets    = total_assets - $1,
			reserved_assets = reserved_assets - $1,
			updated_at      = NOW()
		 WHERE id = 1 AND total_assets >= $1 AND reserved_assets >= $1`,
		amount)
	if err != nil {
		return fmt.Errorf("postgres: debit vault for claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInsufficientFunds
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit claim tx: %w", err)
	}
	return nil
}
