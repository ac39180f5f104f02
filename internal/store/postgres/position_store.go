package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quorumlabs/foresight/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. Positions
// are written through MarketStore.ApplyBet; this store reads them and gates
// the one-shot claim flag.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `market_id, participant, yes_shares, no_shares,
	avg_yes_price, avg_no_price, principal, claimed, claimed_at, updated_at`

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	err := row.Scan(
		&p.MarketID, &p.Participant, &p.YesShares, &p.NoShares,
		&p.AvgYesPrice, &p.AvgNoPrice, &p.Principal,
		&p.Claimed, &p.ClaimedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	return p, nil
}

// Get retrieves one participant's position in a market.
func (s *PositionStore) Get(ctx context.Context, marketID int64, participant domain.Address) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE market_id = $1 AND participant = $2`,
		marketID, string(participant))

	p, err := scanPositionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %d/%s: %w", marketID, participant, err)
	}
	return p, nil
}

// ListByMarket returns all positions in a market.
func (s *PositionStore) ListByMarket(ctx context.Context, marketID int64, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE market_id = $1 ORDER BY updated_at DESC`
	args := []any{marketID}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for market %d: %w", marketID, err)
	}
	defer rows.Close()

	return collectPositions(rows)
}

// ListByParticipant returns a participant's positions across markets.
func (s *PositionStore) ListByParticipant(ctx context.Context, participant domain.Address, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE participant = $1 ORDER BY updated_at DESC`
	args := []any{string(participant)}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for %s: %w", participant, err)
	}
	defer rows.Close()

	return collectPositions(rows)
}

func collectPositions(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// MarkClaimed flips the claimed flag exactly once. A second call finds no
// unclaimed row and reports ErrAlreadyProcessed; a missing position reports
// ErrNotFound.
func (s *PositionStore) MarkClaimed(ctx context.Context, marketID int64, participant domain.Address) error {
	const query = `
		UPDATE positions SET claimed = TRUE, claimed_at = NOW(), updated_at = NOW()
		WHERE market_id = $1 AND participant = $2 AND claimed = FALSE`

	tag, err := s.pool.Exec(ctx, query, marketID, string(participant))
	if err != nil {
		return fmt.Errorf("postgres: mark position %d/%s claimed: %w", marketID, participant, err)
	}
	if tag.RowsAffected() == 0 {
		var claimed bool
		err := s.pool.QueryRow(ctx,
			`SELECT claimed FROM positions WHERE market_id = $1 AND participant = $2`,
			marketID, string(participant)).Scan(&claimed)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("postgres: check position %d/%s: %w", marketID, participant, err)
		}
		return domain.ErrAlreadyProcessed
	}
	return nil
}
