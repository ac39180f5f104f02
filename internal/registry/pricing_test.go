package registry

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/quorumlabs/foresight/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPoolPrice_EmptyMarketIsMidpoint(t *testing.T) {
	m := domain.Market{YesPool: decimal.Zero, NoPool: decimal.Zero}

	p := poolPrice(m, domain.BetSideYes)
	if p.Cmp(dec("0.5")) != 0 {
		t.Fatalf("price=%s want=0.5", p)
	}
}

func TestPoolPrice_Proportional(t *testing.T) {
	m := domain.Market{YesPool: dec("75"), NoPool: dec("25")}

	if p := poolPrice(m, domain.BetSideYes); p.Cmp(dec("0.75")) != 0 {
		t.Fatalf("yes price=%s want=0.75", p)
	}
	if p := poolPrice(m, domain.BetSideNo); p.Cmp(dec("0.25")) != 0 {
		t.Fatalf("no price=%s want=0.25", p)
	}
}

func TestPoolPrice_Clamped(t *testing.T) {
	m := domain.Market{YesPool: dec("9999"), NoPool: dec("1")}

	if p := poolPrice(m, domain.BetSideYes); p.Cmp(dec("0.99")) != 0 {
		t.Fatalf("yes price=%s want clamp 0.99", p)
	}
	if p := poolPrice(m, domain.BetSideNo); p.Cmp(dec("0.01")) != 0 {
		t.Fatalf("no price=%s want clamp 0.01", p)
	}
}

func TestBinaryQuote_SharesFromPrice(t *testing.T) {
	mod, err := ModuleFor(domain.MarketTypeBinary)
	if err != nil {
		t.Fatalf("ModuleFor: %v", err)
	}

	m := domain.Market{YesPool: dec("50"), NoPool: dec("50")}
	q, err := mod.Quote(m, domain.BetSideYes, dec("10"))
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if q.Price.Cmp(dec("0.5")) != 0 {
		t.Fatalf("price=%s want=0.5", q.Price)
	}
	if q.Shares.Cmp(dec("20")) != 0 {
		t.Fatalf("shares=%s want=20", q.Shares)
	}
}

func TestParimutuelPayout_ProRataSplit(t *testing.T) {
	mod, _ := ModuleFor(domain.MarketTypeBinary)

	// 100 staked total, 40 yes shares outstanding, position holds 10 of them.
	m := domain.Market{
		YesPool:   dec("60"),
		NoPool:    dec("40"),
		YesShares: dec("40"),
		NoShares:  dec("80"),
	}
	pos := domain.Position{YesShares: dec("10"), Principal: dec("6")}

	got := mod.Payout(m, pos, domain.OutcomeYes)
	if got.Cmp(dec("25")) != 0 {
		t.Fatalf("payout=%s want=25", got)
	}
}

func TestParimutuelPayout_LosingSideGetsNothing(t *testing.T) {
	mod, _ := ModuleFor(domain.MarketTypeBinary)

	m := domain.Market{
		YesPool:   dec("60"),
		NoPool:    dec("40"),
		YesShares: dec("40"),
		NoShares:  dec("80"),
	}
	pos := domain.Position{NoShares: dec("20"), Principal: dec("10")}

	if got := mod.Payout(m, pos, domain.OutcomeYes); !got.IsZero() {
		t.Fatalf("payout=%s want=0", got)
	}
}

func TestParimutuelPayout_InvalidRefundsPrincipal(t *testing.T) {
	mod, _ := ModuleFor(domain.MarketTypeBinary)

	m := domain.Market{
		YesPool:   dec("60"),
		NoPool:    dec("40"),
		YesShares: dec("40"),
	}
	pos := domain.Position{YesShares: dec("10"), Principal: dec("6")}

	if got := mod.Payout(m, pos, domain.OutcomeInvalid); got.Cmp(dec("6")) != 0 {
		t.Fatalf("payout=%s want principal 6", got)
	}
}

func TestConditionalQuote_RequiresCondition(t *testing.T) {
	mod, _ := ModuleFor(domain.MarketTypeConditional)

	m := domain.Market{ID: 7, YesPool: dec("10"), NoPool: dec("10")}
	if _, err := mod.Quote(m, domain.BetSideYes, dec("5")); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("err=%v want ErrInvalidState", err)
	}

	m.Metadata = map[string]any{"condition": "fed cuts rates in september"}
	if _, err := mod.Quote(m, domain.BetSideYes, dec("5")); err != nil {
		t.Fatalf("Quote with condition: %v", err)
	}
}

func TestSubjectiveQuote_FlatMidpoint(t *testing.T) {
	mod, _ := ModuleFor(domain.MarketTypeSubjective)

	// Lopsided pools must not move the subjective price.
	m := domain.Market{YesPool: dec("900"), NoPool: dec("100")}
	q, err := mod.Quote(m, domain.BetSideYes, dec("10"))
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if q.Price.Cmp(dec("0.5")) != 0 {
		t.Fatalf("price=%s want=0.5", q.Price)
	}
}

func TestModuleFor_UnknownType(t *testing.T) {
	if _, err := ModuleFor(domain.MarketType("scalar")); !errors.Is(err, domain.ErrOutOfRange) {
		t.Fatalf("err=%v want ErrOutOfRange", err)
	}
}
