package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quorumlabs/foresight/internal/domain"
)

// OracleStore implements domain.OracleStore using PostgreSQL.
type OracleStore struct {
	pool *pgxpool.Pool
}

// NewOracleStore creates a new OracleStore backed by the given pool.
func NewOracleStore(pool *pgxpool.Pool) *OracleStore {
	return &OracleStore{pool: pool}
}

// uniqueViolation is the PostgreSQL error code for duplicate keys.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// CreateRequest records the pending receipt for a two-phase resolution. Only
// one request may exist per market; a duplicate reports ErrAlreadyProcessed.
func (s *OracleStore) CreateRequest(ctx context.Context, req domain.ResolutionRequest) error {
	const query = `
		INSERT INTO resolution_requests (id, market_id, question, price_feed_id, status, requested_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, query,
		req.ID, req.MarketID, req.Question, req.PriceFeedID,
		string(req.Status), req.RequestedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyProcessed
		}
		return fmt.Errorf("postgres: create resolution request %s: %w", req.ID, err)
	}
	return nil
}

const requestSelectCols = `id, market_id, question, price_feed_id, status,
	attempts, last_error, requested_at, completed_at`

func scanRequestRow(row pgx.Row) (domain.ResolutionRequest, error) {
	var r domain.ResolutionRequest
	var status string
	err := row.Scan(
		&r.ID, &r.MarketID, &r.Question, &r.PriceFeedID, &status,
		&r.Attempts, &r.LastError, &r.RequestedAt, &r.CompletedAt,
	)
	if err != nil {
		return domain.ResolutionRequest{}, err
	}
	r.Status = domain.RequestStatus(status)
	return r, nil
}

// GetRequest retrieves a resolution request by id.
func (s *OracleStore) GetRequest(ctx context.Context, id uuid.UUID) (domain.ResolutionRequest, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+requestSelectCols+` FROM resolution_requests WHERE id = $1`, id)

	r, err := scanRequestRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ResolutionRequest{}, domain.ErrNotFound
		}
		return domain.ResolutionRequest{}, fmt.Errorf("postgres: get resolution request %s: %w", id, err)
	}
	return r, nil
}

// GetRequestByMarket retrieves the resolution request for a market.
func (s *OracleStore) GetRequestByMarket(ctx context.Context, marketID int64) (domain.ResolutionRequest, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+requestSelectCols+` FROM resolution_requests WHERE market_id = $1`, marketID)

	r, err := scanRequestRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ResolutionRequest{}, domain.ErrNotFound
		}
		return domain.ResolutionRequest{}, fmt.Errorf("postgres: get resolution request for market %d: %w", marketID, err)
	}
	return r, nil
}

// ListPendingRequests returns pending requests oldest first, for the
// resolver worker sweep.
func (s *OracleStore) ListPendingRequests(ctx context.Context, limit int) ([]domain.ResolutionRequest, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+requestSelectCols+` FROM resolution_requests
		 WHERE status = 'pending' ORDER BY requested_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending resolution requests: %w", err)
	}
	defer rows.Close()

	var reqs []domain.ResolutionRequest
	for rows.Next() {
		r, err := scanRequestRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan resolution request: %w", err)
		}
		reqs = append(reqs, r)
	}
	return reqs, rows.Err()
}

// CompleteRequest marks a pending request completed.
func (s *OracleStore) CompleteRequest(ctx context.Context, id uuid.UUID) error {
	const query = `
		UPDATE resolution_requests SET status = 'completed', completed_at = NOW()
		WHERE id = $1 AND status = 'pending'`

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("postgres: complete resolution request %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidState
	}
	return nil
}

// FailRequest bumps the attempt counter and records the last error. The
// request stays pending for the next sweep or the manual path.
func (s *OracleStore) FailRequest(ctx context.Context, id uuid.UUID, lastError string) error {
	const query = `
		UPDATE resolution_requests SET attempts = attempts + 1, last_error = $2
		WHERE id = $1 AND status = 'pending'`

	tag, err := s.pool.Exec(ctx, query, id, lastError)
	if err != nil {
		return fmt.Errorf("postgres: fail resolution request %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidState
	}
	return nil
}

const resultSelectCols = `market_id, outcome, yes_votes, no_votes, invalid_votes,
	confidence, source, digest, reported_at`

func scanResultRow(row pgx.Row) (domain.OracleResult, error) {
	var r domain.OracleResult
	var outcome int16
	var source string
	err := row.Scan(
		&r.MarketID, &outcome, &r.YesVotes, &r.NoVotes, &r.InvalidVotes,
		&r.Confidence, &source, &r.Digest, &r.ReportedAt,
	)
	if err != nil {
		return domain.OracleResult{}, err
	}
	r.Outcome = domain.Outcome(outcome)
	r.Source = domain.ResultSource(source)
	return r, nil
}

// InsertResult writes the single result for a market. A duplicate write
// reports ErrAlreadyProcessed; results are immutable outside the
// governance override path.
func (s *OracleStore) InsertResult(ctx context.Context, r domain.OracleResult) error {
	const query = `
		INSERT INTO oracle_results (
			market_id, outcome, yes_votes, no_votes, invalid_votes,
			confidence, source, digest, reported_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.pool.Exec(ctx, query,
		r.MarketID, int16(r.Outcome), r.YesVotes, r.NoVotes, r.InvalidVotes,
		r.Confidence, string(r.Source), r.Digest, r.ReportedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyProcessed
		}
		return fmt.Errorf("postgres: insert oracle result for market %d: %w", r.MarketID, err)
	}
	return nil
}

// GetResult retrieves the recorded result for a market.
func (s *OracleStore) GetResult(ctx context.Context, marketID int64) (domain.OracleResult, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+resultSelectCols+` FROM oracle_results WHERE market_id = $1`, marketID)

	r, err := scanResultRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.OracleResult{}, domain.ErrNotFound
		}
		return domain.OracleResult{}, fmt.Errorf("postgres: get oracle result for market %d: %w", marketID, err)
	}
	return r, nil
}

// OverrideResult replaces an existing result. Reserved for the dispute
// governor's execute path; a missing result reports ErrNotFound.
func (s *OracleStore) OverrideResult(ctx context.Context, r domain.OracleResult) error {
	const query = `
		UPDATE oracle_results SET
			outcome       = $2,
			yes_votes     = $3,
			no_votes      = $4,
			invalid_votes = $5,
			confidence    = $6,
			source        = $7,
			digest        = $8,
			reported_at   = $9
		WHERE market_id = $1`

	tag, err := s.pool.Exec(ctx, query,
		r.MarketID, int16(r.Outcome), r.YesVotes, r.NoVotes, r.InvalidVotes,
		r.Confidence, string(r.Source), r.Digest, r.ReportedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: override oracle result for market %d: %w", r.MarketID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
