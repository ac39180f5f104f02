// Package admin implements the ownership capability and the collaborator
// registry: the mutable, owner-gated table that tells each settlement
// component which identities to trust for callbacks.
package admin

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quorumlabs/foresight/internal/domain"
)

// Service wraps the admin store with owner gating and the two-step
// ownership transfer.
type Service struct {
	store domain.AdminStore
	audit domain.AuditStore
	log   *slog.Logger
}

// New creates an admin Service.
func New(store domain.AdminStore, audit domain.AuditStore, log *slog.Logger) *Service {
	return &Service{
		store: store,
		audit: audit,
		log:   log.With("component", "admin"),
	}
}

// State returns the current owner and pending owner.
func (s *Service) State(ctx context.Context) (domain.AdminState, error) {
	return s.store.State(ctx)
}

// ProposeOwner starts an ownership transfer. Only the current owner may
// propose; the transfer takes effect when the proposed owner accepts.
// Proposing the zero address clears a pending transfer.
func (s *Service) ProposeOwner(ctx context.Context, caller, pending domain.Address) error {
	state, err := s.store.State(ctx)
	if err != nil {
		return err
	}
	if !state.Owner.Equal(caller) {
		return fmt.Errorf("admin: propose owner requires owner: %w", domain.ErrUnauthorized)
	}

	if err := s.store.SetPendingOwner(ctx, pending); err != nil {
		return err
	}

	s.log.Info("admin: ownership proposed", "current", caller, "pending", pending)
	s.auditLog(ctx, "admin.ownership_proposed", map[string]any{
		"current": string(caller),
		"pending": string(pending),
	})
	return nil
}

// AcceptOwnership completes a transfer. The store's guard admits only the
// pending owner, so a mistyped proposal can never hand over control: the
// wrong address simply cannot accept.
func (s *Service) AcceptOwnership(ctx context.Context, caller domain.Address) error {
	if err := s.store.AcceptOwnership(ctx, caller); err != nil {
		return err
	}

	s.log.Info("admin: ownership accepted", "new_owner", caller)
	s.auditLog(ctx, "admin.ownership_accepted", map[string]any{
		"new_owner": string(caller),
	})
	return nil
}

// Collaborator returns the registered identity for a role.
func (s *Service) Collaborator(ctx context.Context, role domain.CollaboratorRole) (domain.Address, error) {
	return s.store.Collaborator(ctx, role)
}

// SetCollaborator registers or replaces the identity for a role. Owner
// only.
func (s *Service) SetCollaborator(ctx context.Context, caller domain.Address, role domain.CollaboratorRole, identity domain.Address) error {
	switch role {
	case domain.RoleResolver, domain.RoleGovernor, domain.RoleOperator, domain.RoleTreasury:
	default:
		return fmt.Errorf("admin: unknown role %q: %w", role, domain.ErrOutOfRange)
	}
	if identity.IsZero() {
		return fmt.Errorf("admin: collaborator identity required: %w", domain.ErrOutOfRange)
	}

	state, err := s.store.State(ctx)
	if err != nil {
		return err
	}
	if !state.Owner.Equal(caller) {
		return fmt.Errorf("admin: set collaborator requires owner: %w", domain.ErrUnauthorized)
	}

	if err := s.store.SetCollaborator(ctx, role, identity); err != nil {
		return err
	}

	s.log.Info("admin: collaborator set", "role", role, "identity", identity)
	s.auditLog(ctx, "admin.collaborator_set", map[string]any{
		"role":     string(role),
		"identity": string(identity),
	})
	return nil
}

func (s *Service) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.log.Warn("admin: audit log failed", "event", event, "error", err)
	}
}
