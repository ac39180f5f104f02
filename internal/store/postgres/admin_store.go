package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quorumlabs/foresight/internal/domain"
)

// AdminStore implements domain.AdminStore using PostgreSQL. Ownership and
// the collaborator table are the most dangerous state in the system; every
// mutation here is guarded and audited by the admin service.
type AdminStore struct {
	pool *pgxpool.Pool
}

// NewAdminStore creates a new AdminStore backed by the given pool.
func NewAdminStore(pool *pgxpool.Pool) *AdminStore {
	return &AdminStore{pool: pool}
}

// State returns the current owner and pending owner.
func (s *AdminStore) State(ctx context.Context) (domain.AdminState, error) {
	var st domain.AdminState
	err := s.pool.QueryRow(ctx,
		`SELECT owner, pending_owner FROM admin_state WHERE id = 1`,
	).Scan(&st.Owner, &st.PendingOwner)
	if err != nil {
		return domain.AdminState{}, fmt.Errorf("postgres: admin state: %w", err)
	}
	return st, nil
}

// SetPendingOwner records the proposed new owner.
func (s *AdminStore) SetPendingOwner(ctx context.Context, pending domain.Address) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE admin_state SET pending_owner = $1 WHERE id = 1`, string(pending),
	); err != nil {
		return fmt.Errorf("postgres: set pending owner: %w", err)
	}
	return nil
}

// AcceptOwnership promotes the pending owner, guarded on caller matching.
func (s *AdminStore) AcceptOwnership(ctx context.Context, caller domain.Address) error {
	const query = `
		UPDATE admin_state SET owner = pending_owner, pending_owner = ''
		WHERE id = 1 AND pending_owner <> '' AND LOWER(pending_owner) = LOWER($1)`

	tag, err := s.pool.Exec(ctx, query, string(caller))
	if err != nil {
		return fmt.Errorf("postgres: accept ownership: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUnauthorized
	}
	return nil
}

// Collaborator returns the registered identity for a role.
func (s *AdminStore) Collaborator(ctx context.Context, role domain.CollaboratorRole) (domain.Address, error) {
	var identity string
	err := s.pool.QueryRow(ctx,
		`SELECT identity FROM collaborators WHERE role = $1`, string(role),
	).Scan(&identity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ZeroAddress, domain.ErrNotFound
		}
		return domain.ZeroAddress, fmt.Errorf("postgres: get collaborator %s: %w", role, err)
	}
	return domain.Address(identity), nil
}

// SetCollaborator points a role at a new identity.
func (s *AdminStore) SetCollaborator(ctx context.Context, role domain.CollaboratorRole, identity domain.Address) error {
	const query = `
		INSERT INTO collaborators (role, identity) VALUES ($1, $2)
		ON CONFLICT (role) DO UPDATE SET identity = EXCLUDED.identity, updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, string(role), string(identity)); err != nil {
		return fmt.Errorf("postgres: set collaborator %s: %w", role, err)
	}
	return nil
}
