package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/quorumlabs/foresight/internal/domain"
)

// FeeStore implements domain.FeeStore using PostgreSQL.
type FeeStore struct {
	pool *pgxpool.Pool
}

// NewFeeStore creates a new FeeStore backed by the given pool.
func NewFeeStore(pool *pgxpool.Pool) *FeeStore {
	return &FeeStore{pool: pool}
}

// Insert records a collected fee awaiting routing and returns its id.
func (s *FeeStore) Insert(ctx context.Context, f domain.FeeAccrual) (int64, error) {
	const query = `
		INSERT INTO fee_accruals (market_id, kind, amount, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		f.MarketID, f.Kind, f.Amount, string(domain.FeeRoutePending),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: insert fee accrual: %w", err)
	}
	return id, nil
}

// ListPending returns unrouted fees oldest first, for the routing sweep.
func (s *FeeStore) ListPending(ctx context.Context, limit int) ([]domain.FeeAccrual, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_id, kind, amount, status, created_at, routed_at
		 FROM fee_accruals WHERE status = 'pending' ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending fees: %w", err)
	}
	defer rows.Close()

	var fees []domain.FeeAccrual
	for rows.Next() {
		var f domain.FeeAccrual
		var status string
		if err := rows.Scan(&f.ID, &f.MarketID, &f.Kind, &f.Amount, &status, &f.CreatedAt, &f.RoutedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan fee accrual: %w", err)
		}
		f.Status = domain.FeeRouteStatus(status)
		fees = append(fees, f)
	}
	return fees, rows.Err()
}

// MarkRouted flips a pending fee to routed exactly once.
func (s *FeeStore) MarkRouted(ctx context.Context, id int64) error {
	const query = `
		UPDATE fee_accruals SET status = 'routed', routed_at = NOW()
		WHERE id = $1 AND status = 'pending'`

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("postgres: mark fee %d routed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyProcessed
	}
	return nil
}

// SumRouted totals all routed fees of a kind, for treasury reporting.
func (s *FeeStore) SumRouted(ctx context.Context, kind string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM fee_accruals WHERE kind = $1 AND status = 'routed'`,
		kind,
	).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres: sum routed %s fees: %w", kind, err)
	}
	return sum, nil
}
