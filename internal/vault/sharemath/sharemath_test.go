package sharemath

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSharesForDeposit_FirstDepositMintsOneToOne(t *testing.T) {
	got := SharesForDeposit(dec("100"), decimal.Zero, decimal.Zero)
	if got.Cmp(dec("100")) != 0 {
		t.Fatalf("shares=%s want=100", got)
	}
}

func TestSharesForDeposit_AfterGrowthMintsFewer(t *testing.T) {
	// Pool grew from 100 to 150 assets against 100 shares, so a 30 asset
	// deposit buys 20 shares.
	got := SharesForDeposit(dec("30"), dec("100"), dec("150"))
	if got.Cmp(dec("20")) != 0 {
		t.Fatalf("shares=%s want=20", got)
	}
}

func TestAssetsForShares_RoundTrip(t *testing.T) {
	totalShares := dec("100")
	totalAssets := dec("150")

	shares := SharesForDeposit(dec("30"), totalShares, totalAssets)
	back := AssetsForShares(shares, totalShares.Add(shares), totalAssets.Add(dec("30")))
	if back.Cmp(dec("30")) != 0 {
		t.Fatalf("round trip=%s want=30", back)
	}
}

func TestAssetsForShares_EmptyPool(t *testing.T) {
	if got := AssetsForShares(dec("10"), decimal.Zero, decimal.Zero); !got.IsZero() {
		t.Fatalf("assets=%s want=0", got)
	}
}

func TestAssetsPerShare(t *testing.T) {
	if got := AssetsPerShare(decimal.Zero, decimal.Zero); got.Cmp(dec("1")) != 0 {
		t.Fatalf("empty pool rate=%s want=1", got)
	}
	if got := AssetsPerShare(dec("100"), dec("150")); got.Cmp(dec("1.5")) != 0 {
		t.Fatalf("rate=%s want=1.5", got)
	}
}
