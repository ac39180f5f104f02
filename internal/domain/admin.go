package domain

import "context"

// CollaboratorRole names a slot in the owner-gated indirection table that
// points each component at its registered counterpart. Settlement callbacks
// are authorized against these slots, never against hard-wired identities.
type CollaboratorRole string

const (
	RoleResolver CollaboratorRole = "resolver"
	RoleGovernor CollaboratorRole = "governor"
	RoleOperator CollaboratorRole = "operator" // manual-resolution identity
	RoleTreasury CollaboratorRole = "treasury"
)

// AdminState is the ownership capability. Ownership moves via a two-step
// transfer: the owner proposes, the pending owner accepts.
type AdminState struct {
	Owner        Address
	PendingOwner Address
}

// AdminStore persists ownership and the collaborator table.
type AdminStore interface {
	State(ctx context.Context) (AdminState, error)
	SetPendingOwner(ctx context.Context, pending Address) error

	// AcceptOwnership promotes the pending owner, guarded on caller being
	// the pending owner.
	AcceptOwnership(ctx context.Context, caller Address) error

	Collaborator(ctx context.Context, role CollaboratorRole) (Address, error)
	SetCollaborator(ctx context.Context, role CollaboratorRole, identity Address) error
}
