package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quorumlabs/foresight/internal/domain"
)

// ProposalStore implements domain.ProposalStore using PostgreSQL.
type ProposalStore struct {
	pool *pgxpool.Pool
}

// NewProposalStore creates a new ProposalStore backed by the given pool.
func NewProposalStore(pool *pgxpool.Pool) *ProposalStore {
	return &ProposalStore{pool: pool}
}

const proposalSelectCols = `id, proposal_type, market_id, title, description, proposer,
	bond, outcome, for_weight, against_weight, abstain_weight, status,
	voting_ends_at, created_at, executed_at`

func scanProposalRow(row pgx.Row) (domain.Proposal, error) {
	var p domain.Proposal
	var ptype, status string
	var outcome *int16

	err := row.Scan(
		&p.ID, &ptype, &p.MarketID, &p.Title, &p.Description, &p.Proposer,
		&p.Bond, &outcome, &p.ForWeight, &p.AgainstWeight, &p.AbstainWeight,
		&status, &p.VotingEndsAt, &p.CreatedAt, &p.ExecutedAt,
	)
	if err != nil {
		return domain.Proposal{}, err
	}
	p.Type = domain.ProposalType(ptype)
	p.Status = domain.ProposalStatus(status)
	if outcome != nil {
		o := domain.Outcome(*outcome)
		p.Outcome = &o
	}
	return p, nil
}

// Create inserts a new proposal and returns its id.
func (s *ProposalStore) Create(ctx context.Context, p domain.Proposal) (int64, error) {
	var outcome *int16
	if p.Outcome != nil {
		o := int16(*p.Outcome)
		outcome = &o
	}

	const query = `
		INSERT INTO proposals (
			proposal_type, market_id, title, description, proposer,
			bond, outcome, status, voting_ends_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		string(p.Type), p.MarketID, p.Title, p.Description, string(p.Proposer),
		p.Bond, outcome, string(p.Status), p.VotingEndsAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: create proposal: %w", err)
	}
	return id, nil
}

// Get retrieves a proposal by id.
func (s *ProposalStore) Get(ctx context.Context, id int64) (domain.Proposal, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+proposalSelectCols+` FROM proposals WHERE id = $1`, id)

	p, err := scanProposalRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Proposal{}, domain.ErrNotFound
		}
		return domain.Proposal{}, fmt.Errorf("postgres: get proposal %d: %w", id, err)
	}
	return p, nil
}

// GetOpenByMarket returns the pending or active proposal for a market, if
// one exists.
func (s *ProposalStore) GetOpenByMarket(ctx context.Context, marketID int64) (domain.Proposal, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+proposalSelectCols+` FROM proposals
		 WHERE market_id = $1 AND status IN ('pending', 'active')
		 ORDER BY created_at DESC LIMIT 1`, marketID)

	p, err := scanProposalRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Proposal{}, domain.ErrNotFound
		}
		return domain.Proposal{}, fmt.Errorf("postgres: get open proposal for market %d: %w", marketID, err)
	}
	return p, nil
}

// ListByStatus returns proposals in the given status, newest first.
func (s *ProposalStore) ListByStatus(ctx context.Context, status domain.ProposalStatus, opts domain.ListOpts) ([]domain.Proposal, error) {
	query := `SELECT ` + proposalSelectCols + ` FROM proposals WHERE status = $1 ORDER BY created_at DESC`
	args := []any{string(status)}
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
		return nil, fmt.Errorf("postgres: list proposals by status %s: %w", status, err)
	}
	defer rows.Close()

	return collectProposals(rows)
}

// ListExpiredActive returns active proposals whose voting window has closed,
// for the tally sweep.
func (s *ProposalStore) ListExpiredActive(ctx context.Context, now time.Time) ([]domain.Proposal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+proposalSelectCols+` FROM proposals
		 WHERE status = 'active' AND voting_ends_at <= $1
		 ORDER BY voting_ends_at ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: list expired active proposals: %w", err)
	}
	defer rows.Close()

	return collectProposals(rows)
}

func collectProposals(rows pgx.Rows) ([]domain.Proposal, error) {
	var proposals []domain.Proposal
	for rows.Next() {
		p, err := scanProposalRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan proposal: %w", err)
		}
		proposals = append(proposals, p)
	}
	return proposals, rows.Err()
}

// CastVote inserts the ballot and adds its weight to the matching bucket in
// one transaction. The vote insert is guarded by the (proposal, voter)
// primary key, and the weight update is guarded on the proposal still being
// active with an open window.
func (s *ProposalStore) CastVote(ctx context.Context, v domain.Vote) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin vote tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var bucket string
	switch v.Support {
	case domain.VoteFor:
		bucket = "for_weight"
	case domain.VoteAgainst:
		bucket = "against_weight"
	case domain.VoteAbstain:
		bucket = "abstain_weight"
	default:
		return domain.ErrOutOfRange
	}

	tag, err := tx.Exec(ctx, fmt.Sprintf(
		`UPDATE proposals SET %s = %s + $2
		 WHERE id = $1 AND status = 'active' AND voting_ends_at > $3`, bucket, bucket),
		v.ProposalID, v.Weight, v.CastAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: tally vote on proposal %d: %w", v.ProposalID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidState
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO proposal_votes (proposal_id, voter, support, weight, cast_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		v.ProposalID, string(v.Voter), string(v.Support), v.Weight, v.CastAt,
	); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyProcessed
		}
		return fmt.Errorf("postgres: insert vote on proposal %d: %w", v.ProposalID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit vote tx: %w", err)
	}
	return nil
}

// ListVotes returns all ballots cast on a proposal.
func (s *ProposalStore) ListVotes(ctx context.Context, proposalID int64) ([]domain.Vote, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT proposal_id, voter, support, weight, cast_at
		 FROM proposal_votes WHERE proposal_id = $1 ORDER BY cast_at ASC`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list votes for proposal %d: %w", proposalID, err)
	}
	defer rows.Close()

	var votes []domain.Vote
	for rows.Next() {
		var v domain.Vote
		var support string
		if err := rows.Scan(&v.ProposalID, &v.Voter, &support, &v.Weight, &v.CastAt); err != nil {
			return nil, fmt.Errorf("postgres: scan vote: %w", err)
		}
		v.Support = domain.VoteSupport(support)
		votes = append(votes, v)
	}
	return votes, rows.Err()
}

// SetStatus transitions a proposal, guarded on the current status.
func (s *ProposalStore) SetStatus(ctx context.Context, id int64, from, to domain.ProposalStatus) error {
	const query = `UPDATE proposals SET status = $3 WHERE id = $1 AND status = $2`

	tag, err := s.pool.Exec(ctx, query, id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("postgres: set proposal %d status %s: %w", id, to, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidState
	}
	return nil
}

// MarkExecuted moves a succeeded proposal to Executed.
func (s *ProposalStore) MarkExecuted(ctx context.Context, id int64) error {
	const query = `
		UPDATE proposals SET status = 'executed', executed_at = NOW()
		WHERE id = $1 AND status = 'succeeded'`

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("postgres: mark proposal %d executed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidState
	}
	return nil
}
