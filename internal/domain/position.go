package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position aggregates a participant's stake in one market: shares held per
// side, volume-weighted average entry price per side, and the principal at
// risk. Claimed is monotone false→true and gates payout exactly once,
// whether the payout is a winner settlement or an insurance refund.
type Position struct {
	MarketID    int64
	Participant Address
	YesShares   decimal.Decimal
	NoShares    decimal.Decimal
	AvgYesPrice decimal.Decimal
	AvgNoPrice  decimal.Decimal
	Principal   decimal.Decimal
	Claimed     bool
	ClaimedAt   *time.Time
	UpdatedAt   time.Time
}

// SharesOn returns the share balance for the given side.
func (p Position) SharesOn(side BetSide) decimal.Decimal {
	if side == BetSideYes {
		return p.YesShares
	}
	return p.NoShares
}
