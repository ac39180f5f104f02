package registry

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/quorumlabs/foresight/internal/domain"
)

// Price bounds for pool-proportional pricing. A side never prices below one
// cent or above ninety-nine, so early bettors always receive finite shares.
var (
	priceFloor = decimal.NewFromFloat(0.01)
	priceCeil  = decimal.NewFromFloat(0.99)
	priceMid   = decimal.NewFromFloat(0.5)
)

// Quote is the priced result of a prospective bet: the entry price charged
// and the shares minted for the net principal.
type Quote struct {
	Price  decimal.Decimal
	Shares decimal.Decimal
}

// MarketModule prices bets and computes settlement payouts for one market
// type. Modules are pure; all state they need rides in on the market and
// position values.
type MarketModule interface {
	// Quote prices a bet of the given net principal on a side.
	Quote(m domain.Market, side domain.BetSide, principal decimal.Decimal) (Quote, error)

	// Payout computes the settlement amount owed to a position under the
	// given outcome. Invalid outcomes refund principal.
	Payout(m domain.Market, pos domain.Position, outcome domain.Outcome) decimal.Decimal
}

// ModuleFor returns the pricing module for a market type.
func ModuleFor(t domain.MarketType) (MarketModule, error) {
	switch t {
	case domain.MarketTypeBinary:
		return binaryModule{}, nil
	case domain.MarketTypeConditional:
		return conditionalModule{}, nil
	case domain.MarketTypeSubjective:
		return subjectiveModule{}, nil
	default:
		return nil, fmt.Errorf("registry: unknown market type %q: %w", t, domain.ErrOutOfRange)
	}
}

// poolPrice derives a side's price from its share of total staked principal,
// clamped to the price bounds. An empty market prices both sides at the
// midpoint.
func poolPrice(m domain.Market, side domain.BetSide) decimal.Decimal {
	total := m.YesPool.Add(m.NoPool)
	if total.IsZero() {
		return priceMid
	}

	sidePool := m.YesPool
	if side == domain.BetSideNo {
		sidePool = m.NoPool
	}

	price := sidePool.Div(total)
	if price.LessThan(priceFloor) {
		return priceFloor
	}
	if price.GreaterThan(priceCeil) {
		return priceCeil
	}
	return price
}

// parimutuelPayout splits the whole staked pool among winning-side shares
// pro rata. Positions on the losing side get nothing; an invalid outcome
// refunds principal instead.
func parimutuelPayout(m domain.Market, pos domain.Position, outcome domain.Outcome) decimal.Decimal {
	side, ok := outcome.WinningSide()
	if !ok {
		return pos.Principal
	}

	held := pos.SharesOn(side)
	if held.IsZero() {
		return decimal.Zero
	}

	outstanding := m.YesShares
	if side == domain.BetSideNo {
		outstanding = m.NoShares
	}
	if outstanding.IsZero() {
		return decimal.Zero
	}

	pool := m.YesPool.Add(m.NoPool)
	return pool.Mul(held).Div(outstanding)
}

// binaryModule prices yes/no markets proportionally to the staked pools.
type binaryModule struct{}

func (binaryModule) Quote(m domain.Market, side domain.BetSide, principal decimal.Decimal) (Quote, error) {
	price := poolPrice(m, side)
	return Quote{Price: price, Shares: principal.Div(price)}, nil
}

func (binaryModule) Payout(m domain.Market, pos domain.Position, outcome domain.Outcome) decimal.Decimal {
	return parimutuelPayout(m, pos, outcome)
}

// conditionalModule prices like a binary market but refuses bets until the
// market's gating condition is recorded in its metadata.
type conditionalModule struct{}

func (conditionalModule) Quote(m domain.Market, side domain.BetSide, principal decimal.Decimal) (Quote, error) {
	cond, _ := m.Metadata["condition"].(string)
	if cond == "" {
		return Quote{}, fmt.Errorf("registry: conditional market %d has no condition: %w", m.ID, domain.ErrInvalidState)
	}
	price := poolPrice(m, side)
	return Quote{Price: price, Shares: principal.Div(price)}, nil
}

func (conditionalModule) Payout(m domain.Market, pos domain.Position, outcome domain.Outcome) decimal.Decimal {
	return parimutuelPayout(m, pos, outcome)
}

// subjectiveModule prices both sides flat at the midpoint. Subjective
// questions have no pool-implied probability worth charging for, so the
// market degenerates to a pure parimutuel split.
type subjectiveModule struct{}

func (subjectiveModule) Quote(_ domain.Market, _ domain.BetSide, principal decimal.Decimal) (Quote, error) {
	return Quote{Price: priceMid, Shares: principal.Div(priceMid)}, nil
}

func (subjectiveModule) Payout(m domain.Market, pos domain.Position, outcome domain.Outcome) decimal.Decimal {
	return parimutuelPayout(m, pos, outcome)
}
