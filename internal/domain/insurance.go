package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// InsurancePolicy is a per-market claim window opened automatically when the
// recorded oracle confidence falls below the configured threshold. Claimed
// never exceeds Reserve; once expired the policy is inert regardless of any
// remaining reserve.
type InsurancePolicy struct {
	MarketID    int64
	Reserve     decimal.Decimal
	Claimed     decimal.Decimal
	ActivatedAt time.Time
	ExpiresAt   time.Time
	Released    bool // unclaimed reserve returned to the pool after expiry
}

// Open reports whether the policy still accepts claims at the given time.
func (p InsurancePolicy) Open(now time.Time) bool {
	return now.Before(p.ExpiresAt)
}

// Remaining is the reserve still available to claims.
func (p InsurancePolicy) Remaining() decimal.Decimal {
	return p.Reserve.Sub(p.Claimed)
}

// VaultAccount is one depositor's share balance in the insurance pool.
type VaultAccount struct {
	Depositor   Address
	Shares      decimal.Decimal
	DepositedAt time.Time
	UpdatedAt   time.Time
}

// VaultTotals is the pool-wide bookkeeping. assetsPerShare =
// TotalAssets/TotalShares is non-decreasing between withdrawals: yield and
// fee routing only add assets, and withdrawals burn a matching share amount.
type VaultTotals struct {
	TotalShares    decimal.Decimal
	TotalAssets    decimal.Decimal
	ReservedAssets decimal.Decimal // earmarked by unexpired policies
	UpdatedAt      time.Time
}

// Available is the asset balance not earmarked by active policies.
func (t VaultTotals) Available() decimal.Decimal {
	return t.TotalAssets.Sub(t.ReservedAssets)
}

// FeeRouteStatus tracks whether a collected insurance fee has been credited
// to the vault yet.
type FeeRouteStatus string

const (
	FeeRoutePending FeeRouteStatus = "pending"
	FeeRouteDone    FeeRouteStatus = "routed"
)

// FeeAccrual is one collected fee awaiting routing. Trading fees route to
// the treasury, insurance fees to the vault; a sweep retries any accrual
// whose immediate routing failed.
type FeeAccrual struct {
	ID        int64
	MarketID  int64
	Kind      string // "trading" or "insurance"
	Amount    decimal.Decimal
	Status    FeeRouteStatus
	CreatedAt time.Time
	RoutedAt  *time.Time
}
