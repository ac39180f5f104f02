package domain

import "errors"

// Sentinel errors returned by stores and services. Handlers map these to
// HTTP statuses and reason categories so callers can tell "retry later"
// apart from "not allowed".
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidState      = errors.New("invalid state for operation")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrOutOfRange        = errors.New("amount out of range")
	ErrAlreadyProcessed  = errors.New("already processed")
	ErrRemoteUnavailable = errors.New("remote collaborator unavailable")
	ErrCooldownActive    = errors.New("cooldown active")
	ErrPolicyExpired     = errors.New("policy expired")
	ErrLockHeld          = errors.New("lock already held")
	ErrContextDone       = errors.New("context cancelled")
)

// Category maps an error to its taxonomy name for API responses and audit
// entries. Unknown errors report as "internal".
func Category(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrOutOfRange):
		return "out_of_range"
	case errors.Is(err, ErrAlreadyProcessed):
		return "already_processed"
	case errors.Is(err, ErrRemoteUnavailable):
		return "remote_unavailable"
	case errors.Is(err, ErrCooldownActive):
		return "cooldown_active"
	case errors.Is(err, ErrPolicyExpired):
		return "policy_expired"
	case errors.Is(err, ErrLockHeld):
		return "lock_held"
	default:
		return "internal"
	}
}
