package registry

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestSplitFees_Basic(t *testing.T) {
	split := SplitFees(decimal.NewFromInt(100), 200, 100)

	if split.Trading.Cmp(decimal.NewFromInt(2)) != 0 {
		t.Fatalf("trading=%s want=2", split.Trading)
	}
	if split.Insurance.Cmp(decimal.NewFromInt(1)) != 0 {
		t.Fatalf("insurance=%s want=1", split.Insurance)
	}
	if split.Net.Cmp(decimal.NewFromInt(97)) != 0 {
		t.Fatalf("net=%s want=97", split.Net)
	}
}

func TestSplitFees_ZeroRates(t *testing.T) {
	gross := decimal.NewFromFloat(12.34)
	split := SplitFees(gross, 0, 0)

	if !split.Trading.IsZero() || !split.Insurance.IsZero() {
		t.Fatalf("fees=%s/%s want zero", split.Trading, split.Insurance)
	}
	if split.Net.Cmp(gross) != 0 {
		t.Fatalf("net=%s want=%s", split.Net, gross)
	}
}

func TestSplitFees_LegsReconstructGross(t *testing.T) {
	cases := []struct {
		gross        string
		trading, ins int
	}{
		{"100", 200, 100},
		{"0.01", 333, 77},
		{"999999.999999", 1, 9999 - 1},
		{"3.333333333333", 250, 50},
	}

	for _, tc := range cases {
		gross := decimal.RequireFromString(tc.gross)
		split := SplitFees(gross, tc.trading, tc.ins)

		sum := split.Net.Add(split.Trading).Add(split.Insurance)
		if sum.Cmp(gross) != 0 {
			t.Fatalf("gross=%s trading=%d ins=%d: legs sum to %s", tc.gross, tc.trading, tc.ins, sum)
		}
	}
}
