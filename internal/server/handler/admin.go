package handler

import (
	"context"
	"net/http"

	"github.com/quorumlabs/foresight/internal/domain"
)

// AdminService is the slice of the admin service the handler uses.
type AdminService interface {
	State(ctx context.Context) (domain.AdminState, error)
	ProposeOwner(ctx context.Context, caller, pending domain.Address) error
	AcceptOwnership(ctx context.Context, caller domain.Address) error
	Collaborator(ctx context.Context, role domain.CollaboratorRole) (domain.Address, error)
	SetCollaborator(ctx context.Context, caller domain.Address, role domain.CollaboratorRole, identity domain.Address) error
}

// AuditReader lists audit log entries.
type AuditReader interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// AdminHandler serves ownership, collaborator, and audit endpoints.
type AdminHandler struct {
	admin AdminService
	audit AuditReader
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(admin AdminService, audit AuditReader) *AdminHandler {
	return &AdminHandler{admin: admin, audit: audit}
}

// State returns the current owner and pending owner.
// GET /api/admin/state
func (h *AdminHandler) State(w http.ResponseWriter, r *http.Request) {
	state, err := h.admin.State(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"owner":        string(state.Owner),
		"pendingOwner": string(state.PendingOwner),
	})
}

type ownerTransferRequest struct {
	Caller  string `json:"caller"`
	Pending string `json:"pending,omitempty"`
}

// ProposeOwner starts a two-step ownership transfer.
// POST /api/admin/owner/propose
func (h *AdminHandler) ProposeOwner(w http.ResponseWriter, r *http.Request) {
	var req ownerTransferRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}

	pending := domain.ZeroAddress
	if req.Pending != "" {
		pending, err = parseAddress(req.Pending)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid pending address")
			return
		}
	}

	if err := h.admin.ProposeOwner(r.Context(), caller, pending); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "proposed"})
}

// AcceptOwnership completes a two-step ownership transfer.
// POST /api/admin/owner/accept
func (h *AdminHandler) AcceptOwnership(w http.ResponseWriter, r *http.Request) {
	var req ownerTransferRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}

	if err := h.admin.AcceptOwnership(r.Context(), caller); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// GetCollaborator returns the registered identity for a role.
// GET /api/admin/collaborators/{role}
func (h *AdminHandler) GetCollaborator(w http.ResponseWriter, r *http.Request) {
	role := domain.CollaboratorRole(r.PathValue("role"))

	identity, err := h.admin.Collaborator(r.Context(), role)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"role":     string(role),
		"identity": string(identity),
	})
}

type setCollaboratorRequest struct {
	Caller   string `json:"caller"`
	Identity string `json:"identity"`
}

// SetCollaborator registers or replaces the identity for a role.
// PUT /api/admin/collaborators/{role}
func (h *AdminHandler) SetCollaborator(w http.ResponseWriter, r *http.Request) {
	role := domain.CollaboratorRole(r.PathValue("role"))

	var req setCollaboratorRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}
	identity, err := parseAddress(req.Identity)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid identity address")
		return
	}

	if err := h.admin.SetCollaborator(r.Context(), caller, role, identity); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "registered"})
}

// ListAudit returns audit log entries.
// GET /api/admin/audit
func (h *AdminHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"id":        e.ID,
			"event":     e.Event,
			"detail":    e.Detail,
			"createdAt": e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}
