package registry

import "github.com/shopspring/decimal"

var bpsDenominator = decimal.NewFromInt(10000)

// FeeSplit is the decomposition of a gross bet amount into the principal
// that enters the pool and the two fee legs. Net + Trading + Insurance
// always reconstructs the gross amount exactly.
type FeeSplit struct {
	Net       decimal.Decimal
	Trading   decimal.Decimal
	Insurance decimal.Decimal
}

// SplitFees carves trading and insurance fees out of a gross amount at the
// given basis-point rates. The net leg absorbs any rounding remainder so
// the three legs always sum to the input.
func SplitFees(gross decimal.Decimal, tradingBps, insuranceBps int) FeeSplit {
	trading := gross.Mul(decimal.NewFromInt(int64(tradingBps))).Div(bpsDenominator).Round(10)
	insurance := gross.Mul(decimal.NewFromInt(int64(insuranceBps))).Div(bpsDenominator).Round(10)

	return FeeSplit{
		Net:       gross.Sub(trading).Sub(insurance),
		Trading:   trading,
		Insurance: insurance,
	}
}
