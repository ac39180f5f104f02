package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/quorumlabs/foresight/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL. Every status
// transition carries its guard in the WHERE clause so racing submitters are
// serialized by the database: the loser sees zero rows affected and gets
// ErrInvalidState.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketSelectCols = `id, market_type, question, creator, metadata, deadline,
	price_feed_id, status, outcome, yes_pool, no_pool, yes_shares, no_shares,
	total_principal, volume, resolved_at, created_at, updated_at`

func scanMarketRow(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var mtype, status string
	var outcome *int16

	err := row.Scan(
		&m.ID, &mtype, &m.Question, &m.Creator, &m.Metadata, &m.Deadline,
		&m.PriceFeedID, &status, &outcome,
		&m.YesPool, &m.NoPool, &m.YesShares, &m.NoShares,
		&m.TotalPrincipal, &m.Volume,
		&m.ResolvedAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Type = domain.MarketType(mtype)
	m.Status = domain.MarketStatus(status)
	if outcome != nil {
		o := domain.Outcome(*outcome)
		m.Outcome = &o
	}
	return m, nil
}

// Create inserts a new market in Active status and returns its assigned id.
func (s *MarketStore) Create(ctx context.Context, m domain.Market) (int64, error) {
	const query = `
		INSERT INTO markets (
			market_type, question, creator, metadata, deadline, price_feed_id, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		string(m.Type), m.Question, string(m.Creator), m.Metadata,
		m.Deadline, m.PriceFeedID, string(domain.MarketStatusActive),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: create market: %w", err)
	}
	return id, nil
}

// GetByID retrieves a single market.
func (s *MarketStore) GetByID(ctx context.Context, id int64) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketSelectCols+` FROM markets WHERE id = $1`, id)

	m, err := scanMarketRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %d: %w", id, err)
	}
	return m, nil
}

// List returns markets, optionally filtered by status, newest first.
func (s *MarketStore) List(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketSelectCols + ` FROM markets`
	args := []any{}
	argIdx := 1

	if status != "" {
		query += fmt.Sprintf(" WHERE status = $%d", argIdx)
		args = append(args, string(status))
		argIdx++
	}

	query += " ORDER BY created_at DESC"

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
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarketRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// Count returns the total number of markets.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM markets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return n, nil
}

// CountByStatus counts markets currently in the given status.
func (s *MarketStore) CountByStatus(ctx context.Context, status domain.MarketStatus) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM markets WHERE status = $1`,
		string(status),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count markets by status: %w", err)
	}
	return n, nil
}

// Transition moves a market to the given status when its current status is
// one of from. A zero-row update means a racing caller won or the operation
// is illegal for the current status.
func (s *MarketStore) Transition(ctx context.Context, id int64, from []domain.MarketStatus, to domain.MarketStatus) error {
	if len(from) == 0 {
		return domain.ErrInvalidState
	}

	placeholders := make([]string, len(from))
	args := []any{id, string(to)}
	for i, st := range from {
		placeholders[i] = fmt.Sprintf("$%d", i+3)
		args = append(args, string(st))
	}

	query := fmt.Sprintf(
		`UPDATE markets SET status = $2, updated_at = NOW()
		 WHERE id = $1 AND status IN (%s)`,
		strings.Join(placeholders, ", "),
	)

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: transition market %d to %s: %w", id, to, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidState
	}
	return nil
}

// ApplyBet commits the market pool/volume deltas and the position upsert in
// one transaction. The market update is guarded on Active status and an
// unexpired deadline; the position upsert folds the fill into the side's
// volume-weighted average entry price.
func (s *MarketStore) ApplyBet(ctx context.Context, bet domain.BetApplication) (domain.Position, error) {
	var yesPrincipal, noPrincipal, yesShares, noShares decimal.Decimal
	var yesPrice, noPrice decimal.Decimal
	switch bet.Side {
	case domain.BetSideYes:
		yesPrincipal, yesShares, yesPrice = bet.Principal, bet.Shares, bet.Price
	case domain.BetSideNo:
		noPrincipal, noShares, noPrice = bet.Principal, bet.Shares, bet.Price
	default:
		return domain.Position{}, domain.ErrOutOfRange
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: begin bet tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const marketUpdate = `
		UPDATE markets SET
			yes_pool        = yes_pool + $2,
			no_pool         = no_pool + $3,
			yes_shares      = yes_shares + $4,
			no_shares       = no_shares + $5,
			total_principal = total_principal + $6,
			volume          = volume + $7,
			updated_at      = NOW()
		WHERE id = $1 AND status = 'active' AND deadline > NOW()`

	tag, err := tx.Exec(ctx, marketUpdate,
		bet.MarketID, yesPrincipal, noPrincipal, yesShares, noShares,
		bet.Principal, bet.Volume,
	)
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: apply bet to market %d: %w", bet.MarketID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Position{}, domain.ErrInvalidState
	}

	const positionUpsert = `
		INSERT INTO positions (
			market_id, participant, yes_shares, no_shares,
			avg_yes_price, avg_no_price, principal, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (market_id, participant) DO UPDATE SET
			yes_shares = positions.yes_shares + EXCLUDED.yes_shares,
			no_shares  = positions.no_shares + EXCLUDED.no_shares,
			avg_yes_price = CASE
				WHEN EXCLUDED.yes_shares > 0 THEN
					(positions.avg_yes_price * positions.yes_shares + EXCLUDED.avg_yes_price * EXCLUDED.yes_shares)
					/ (positions.yes_shares + EXCLUDED.yes_shares)
				ELSE positions.avg_yes_price
			END,
			avg_no_price = CASE
				WHEN EXCLUDED.no_shares > 0 THEN
					(positions.avg_no_price * positions.no_shares + EXCLUDED.avg_no_price * EXCLUDED.no_shares)
					/ (positions.no_shares + EXCLUDED.no_shares)
				ELSE positions.avg_no_price
			END,
			principal  = positions.principal + EXCLUDED.principal,
			updated_at = NOW()
		RETURNING market_id, participant, yes_shares, no_shares,
			avg_yes_price, avg_no_price, principal, claimed, claimed_at, updated_at`

	var p domain.Position
	err = tx.QueryRow(ctx, positionUpsert,
		bet.MarketID, string(bet.Bettor), yesShares, noShares,
		yesPrice, noPrice, bet.Principal,
	).Scan(
		&p.MarketID, &p.Participant, &p.YesShares, &p.NoShares,
		&p.AvgYesPrice, &p.AvgNoPrice, &p.Principal,
		&p.Claimed, &p.ClaimedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: upsert position: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Position{}, fmt.Errorf("postgres: commit bet tx: %w", err)
	}
	return p, nil
}

// Finalize records the outcome and moves the market to Resolved. Only
// Resolving and Disputed markets finalize; allowOverride additionally
// permits rewriting an already-resolved outcome on the governance path.
func (s *MarketStore) Finalize(ctx context.Context, id int64, outcome domain.Outcome, allowOverride bool) error {
	const query = `
		UPDATE markets SET
			status      = 'resolved',
			outcome     = $2,
			resolved_at = COALESCE(resolved_at, NOW()),
			updated_at  = NOW()
		WHERE id = $1 AND (status IN ('resolving', 'disputed') OR ($3 AND status = 'resolved'))`

	tag, err := s.pool.Exec(ctx, query, id, int16(outcome), allowOverride)
	if err != nil {
		return fmt.Errorf("postgres: finalize market %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidState
	}
	return nil
}
