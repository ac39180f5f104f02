package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quorumlabs/foresight/internal/domain"
)

// VaultService is the slice of the vault the handler uses.
type VaultService interface {
	Deposit(ctx context.Context, depositor domain.Address, amount decimal.Decimal) (decimal.Decimal, error)
	Withdraw(ctx context.Context, depositor domain.Address, shares decimal.Decimal) (decimal.Decimal, error)
	Totals(ctx context.Context) (domain.VaultTotals, error)
	Account(ctx context.Context, depositor domain.Address) (domain.VaultAccount, error)
	AccountValue(ctx context.Context, depositor domain.Address) (decimal.Decimal, error)
	Policy(ctx context.Context, marketID int64) (domain.InsurancePolicy, error)
	ClaimRefund(ctx context.Context, marketID int64, participant domain.Address, now time.Time) (decimal.Decimal, error)
}

// VaultHandler serves insurance vault endpoints.
type VaultHandler struct {
	vault VaultService
}

// NewVaultHandler creates a VaultHandler.
func NewVaultHandler(vault VaultService) *VaultHandler {
	return &VaultHandler{vault: vault}
}

type vaultMoveRequest struct {
	Depositor string `json:"depositor"`
	Amount    string `json:"amount,omitempty"`
	Shares    string `json:"shares,omitempty"`
}

// Deposit adds assets to the pool and mints shares.
// POST /api/vault/deposits
func (h *VaultHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req vaultMoveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	depositor, err := parseAddress(req.Depositor)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid depositor address")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	shares, err := h.vault.Deposit(r.Context(), depositor, amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"shares": shares.String()})
}

// Withdraw burns shares and pays out assets.
// POST /api/vault/withdrawals
func (h *VaultHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req vaultMoveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	depositor, err := parseAddress(req.Depositor)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid depositor address")
		return
	}
	shares, err := decimal.NewFromString(req.Shares)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid shares")
		return
	}

	amount, err := h.vault.Withdraw(r.Context(), depositor, shares)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount": amount.String()})
}

// Totals returns pool-wide bookkeeping.
// GET /api/vault
func (h *VaultHandler) Totals(w http.ResponseWriter, r *http.Request) {
	totals, err := h.vault.Totals(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"totalShares":    totals.TotalShares.String(),
		"totalAssets":    totals.TotalAssets.String(),
		"reservedAssets": totals.ReservedAssets.String(),
		"available":      totals.Available().String(),
	})
}

// Account returns a depositor's share balance and its redeemable value.
// GET /api/vault/accounts/{address}
func (h *VaultHandler) Account(w http.ResponseWriter, r *http.Request) {
	depositor, err := parseAddress(r.PathValue("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid depositor address")
		return
	}

	acct, err := h.vault.Account(r.Context(), depositor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	value, err := h.vault.AccountValue(r.Context(), depositor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"depositor": string(acct.Depositor),
		"shares":    acct.Shares.String(),
		"value":     value.String(),
	})
}

// Policy returns the insurance policy for a market.
// GET /api/vault/policies/{id}
func (h *VaultHandler) Policy(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	p, err := h.vault.Policy(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"marketId":    p.MarketID,
		"reserve":     p.Reserve.String(),
		"claimed":     p.Claimed.String(),
		"remaining":   p.Remaining().String(),
		"activatedAt": p.ActivatedAt,
		"expiresAt":   p.ExpiresAt,
		"open":        p.Open(time.Now().UTC()),
	})
}

// ClaimRefund refunds a bettor's principal from an open policy.
// POST /api/vault/policies/{id}/claims
func (h *VaultHandler) ClaimRefund(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	var req claimRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	participant, err := parseAddress(req.Participant)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid participant address")
		return
	}

	amount, err := h.vault.ClaimRefund(r.Context(), id, participant, time.Now().UTC())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount": amount.String()})
}
