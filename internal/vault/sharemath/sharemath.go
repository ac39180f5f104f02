// Package sharemath holds the pure share-accounting arithmetic of the
// insurance vault. Both the vault service and the postgres store use these
// functions, so mint and burn always price shares the same way.
package sharemath

import "github.com/shopspring/decimal"

// SharesForDeposit returns the shares minted for depositing amount into a
// pool holding totalAssets against totalShares. The first deposit (or a
// pool drained to zero) mints 1:1.
func SharesForDeposit(amount, totalShares, totalAssets decimal.Decimal) decimal.Decimal {
	if totalShares.IsZero() || totalAssets.IsZero() {
		return amount
	}
	return amount.Mul(totalShares).Div(totalAssets)
}

// AssetsForShares returns the asset amount a share balance redeems for.
func AssetsForShares(shares, totalShares, totalAssets decimal.Decimal) decimal.Decimal {
	if totalShares.IsZero() {
		return decimal.Zero
	}
	return shares.Mul(totalAssets).Div(totalShares)
}

// AssetsPerShare returns the current exchange rate, or 1 for an empty pool.
func AssetsPerShare(totalShares, totalAssets decimal.Decimal) decimal.Decimal {
	if totalShares.IsZero() {
		return decimal.NewFromInt(1)
	}
	return totalAssets.Div(totalShares)
}
