package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketType selects the per-type pricing module used for bets.
type MarketType string

const (
	MarketTypeBinary      MarketType = "binary"
	MarketTypeConditional MarketType = "conditional"
	MarketTypeSubjective  MarketType = "subjective"
)

// MarketStatus is the lifecycle state of a market. Status is the single
// source of truth for which operations are legal; it only moves forward.
type MarketStatus string

const (
	MarketStatusActive    MarketStatus = "active"
	MarketStatusResolving MarketStatus = "resolving"
	MarketStatusResolved  MarketStatus = "resolved"
	MarketStatusDisputed  MarketStatus = "disputed"
	MarketStatusCancelled MarketStatus = "cancelled"
)

// Terminal reports whether no further transition is legal from s.
func (s MarketStatus) Terminal() bool {
	return s == MarketStatusResolved || s == MarketStatusCancelled
}

// Market is a proposition open for staked betting until its deadline, then
// driven through resolution by the registry. Markets are never deleted,
// only terminally marked.
type Market struct {
	ID             int64
	Type           MarketType
	Question       string
	Creator        Address
	Metadata       map[string]any
	Deadline       time.Time
	PriceFeedID    string
	Status         MarketStatus
	Outcome        *Outcome
	YesPool        decimal.Decimal // principal staked on Yes
	NoPool         decimal.Decimal // principal staked on No
	YesShares      decimal.Decimal // outstanding shares on Yes
	NoShares       decimal.Decimal // outstanding shares on No
	TotalPrincipal decimal.Decimal
	Volume         decimal.Decimal
	ResolvedAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// BetSide is the side of a market a bet backs.
type BetSide string

const (
	BetSideYes BetSide = "yes"
	BetSideNo  BetSide = "no"
)

// Valid reports whether the side is one of the two bettable sides.
func (s BetSide) Valid() bool {
	return s == BetSideYes || s == BetSideNo
}

// BetApplication is the atomic unit a placed bet commits: pool and volume
// deltas on the market row plus the position upsert, all guarded on the
// market still being active.
type BetApplication struct {
	MarketID  int64
	Bettor    Address
	Side      BetSide
	Principal decimal.Decimal // amount net of fees, added to the side pool
	Shares    decimal.Decimal
	Price     decimal.Decimal // volume-weighted into the position entry price
	Volume    decimal.Decimal // gross bet amount, for the volume counter
}
