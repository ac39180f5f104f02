package vault

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quorumlabs/foresight/internal/config"
	"github.com/quorumlabs/foresight/internal/domain"
	"github.com/quorumlabs/foresight/internal/vault/sharemath"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeVaultStore keeps the totals row and per-depositor accounts in memory,
// pricing shares the same way the real store does.
type fakeVaultStore struct {
	totals   domain.VaultTotals
	accounts map[domain.Address]decimal.Decimal
}

func newFakeVaultStore() *fakeVaultStore {
	return &fakeVaultStore{accounts: make(map[domain.Address]decimal.Decimal)}
}

func (f *fakeVaultStore) Totals(context.Context) (domain.VaultTotals, error) {
	return f.totals, nil
}

func (f *fakeVaultStore) Account(_ context.Context, depositor domain.Address) (domain.VaultAccount, error) {
	shares, ok := f.accounts[depositor]
	if !ok {
		return domain.VaultAccount{}, domain.ErrNotFound
	}
	return domain.VaultAccount{Depositor: depositor, Shares: shares}, nil
}

func (f *fakeVaultStore) ListAccounts(context.Context, domain.ListOpts) ([]domain.VaultAccount, error) {
	var out []domain.VaultAccount
	for addr, shares := range f.accounts {
		out = append(out, domain.VaultAccount{Depositor: addr, Shares: shares})
	}
	return out, nil
}

func (f *fakeVaultStore) Deposit(_ context.Context, depositor domain.Address, amount decimal.Decimal) (decimal.Decimal, error) {
	shares := sharemath.SharesForDeposit(amount, f.totals.TotalShares, f.totals.TotalAssets)
	f.totals.TotalShares = f.totals.TotalShares.Add(shares)
	f.totals.TotalAssets = f.totals.TotalAssets.Add(amount)
	f.accounts[depositor] = f.accounts[depositor].Add(shares)
	return shares, nil
}

func (f *fakeVaultStore) Withdraw(_ context.Context, depositor domain.Address, shares decimal.Decimal) (decimal.Decimal, error) {
	held := f.accounts[depositor]
	if shares.GreaterThan(held) {
		return decimal.Zero, domain.ErrInsufficientFunds
	}
	amount := sharemath.AssetsForShares(shares, f.totals.TotalShares, f.totals.TotalAssets)
	if amount.GreaterThan(f.totals.Available()) {
		return decimal.Zero, domain.ErrInsufficientFunds
	}
	f.totals.TotalShares = f.totals.TotalShares.Sub(shares)
	f.totals.TotalAssets = f.totals.TotalAssets.Sub(amount)
	f.accounts[depositor] = held.Sub(shares)
	return amount, nil
}

func (f *fakeVaultStore) CreditAssets(_ context.Context, amount decimal.Decimal, _ string) error {
	f.totals.TotalAssets = f.totals.TotalAssets.Add(amount)
	return nil
}

func (f *fakeVaultStore) AdjustReserved(_ context.Context, delta decimal.Decimal) error {
	next := f.totals.ReservedAssets.Add(delta)
	if next.IsNegative() || next.GreaterThan(f.totals.TotalAssets) {
		return domain.ErrInsufficientFunds
	}
	f.totals.ReservedAssets = next
	return nil
}

// fakePolicyStore holds references to the vault and position fakes so
// SettleClaim can mutate all three sides the way the real store's
// transaction does: every guard checked before anything changes.
type fakePolicyStore struct {
	policies  map[int64]*domain.InsurancePolicy
	vault     *fakeVaultStore
	positions *fakePositionStore
}

func newFakePolicyStore() *fakePolicyStore {
	return &fakePolicyStore{policies: make(map[int64]*domain.InsurancePolicy)}
}

func (f *fakePolicyStore) Create(_ context.Context, p domain.InsurancePolicy) error {
	if _, ok := f.policies[p.MarketID]; ok {
		return domain.ErrAlreadyProcessed
	}
	f.policies[p.MarketID] = &p
	return nil
}

func (f *fakePolicyStore) Get(_ context.Context, marketID int64) (domain.InsurancePolicy, error) {
	p, ok := f.policies[marketID]
	if !ok {
		return domain.InsurancePolicy{}, domain.ErrNotFound
	}
	return *p, nil
}

func (f *fakePolicyStore) ListOpen(_ context.Context, now time.Time) ([]domain.InsurancePolicy, error) {
	var out []domain.InsurancePolicy
	for _, p := range f.policies {
		if p.Open(now) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakePolicyStore) SettleClaim(ctx context.Context, marketID int64, claimant domain.Address, amount decimal.Decimal, now time.Time) error {
	p, ok := f.policies[marketID]
	if !ok {
		return domain.ErrNotFound
	}
	if !p.Open(now) {
		return domain.ErrPolicyExpired
	}
	if p.Claimed.Add(amount).GreaterThan(p.Reserve) {
		return domain.ErrInsufficientFunds
	}
	if amount.GreaterThan(f.vault.totals.ReservedAssets) || amount.GreaterThan(f.vault.totals.TotalAssets) {
		return domain.ErrInsufficientFunds
	}
	if err := f.positions.MarkClaimed(ctx, marketID, claimant); err != nil {
		return err
	}
	p.Claimed = p.Claimed.Add(amount)
	f.vault.totals.TotalAssets = f.vault.totals.TotalAssets.Sub(amount)
	f.vault.totals.ReservedAssets = f.vault.totals.ReservedAssets.Sub(amount)
	return nil
}

func (f *fakePolicyStore) ListExpiredUnreleased(_ context.Context, now time.Time) ([]domain.InsurancePolicy, error) {
	var out []domain.InsurancePolicy
	for _, p := range f.policies {
		if !p.Open(now) && !p.Released {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakePolicyStore) MarkReleased(_ context.Context, marketID int64) error {
	p, ok := f.policies[marketID]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Released {
		return domain.ErrAlreadyProcessed
	}
	p.Released = true
	return nil
}

type posKey struct {
	marketID    int64
	participant domain.Address
}

type fakePositionStore struct {
	positions map[posKey]*domain.Position
}

func newFakePositionStore() *fakePositionStore {
	return &fakePositionStore{positions: make(map[posKey]*domain.Position)}
}

func (f *fakePositionStore) put(p domain.Position) {
	f.positions[posKey{p.MarketID, p.Participant}] = &p
}

func (f *fakePositionStore) Get(_ context.Context, marketID int64, participant domain.Address) (domain.Position, error) {
	p, ok := f.positions[posKey{marketID, participant}]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return *p, nil
}

func (f *fakePositionStore) ListByMarket(context.Context, int64, domain.ListOpts) ([]domain.Position, error) {
	return nil, nil
}

func (f *fakePositionStore) ListByParticipant(context.Context, domain.Address, domain.ListOpts) ([]domain.Position, error) {
	return nil, nil
}

func (f *fakePositionStore) MarkClaimed(_ context.Context, marketID int64, participant domain.Address) error {
	p, ok := f.positions[posKey{marketID, participant}]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Claimed {
		return domain.ErrAlreadyProcessed
	}
	p.Claimed = true
	return nil
}

type fakeAuditStore struct {
	events []string
}

func (f *fakeAuditStore) Log(_ context.Context, event string, _ map[string]any) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeAuditStore) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type fakeYield struct {
	value decimal.Decimal
	err   error
}

func (f *fakeYield) RedeemableValue(context.Context) (decimal.Decimal, error) {
	return f.value, f.err
}

func testConfig() config.VaultConfig {
	return config.VaultConfig{
		InsuranceThreshold: 80,
		PolicyWindowHours:  72,
		MinDeposit:         "1",
		MaxDeposit:         "1000000",
	}
}

func newTestService(t *testing.T, store *fakeVaultStore, policies *fakePolicyStore, positions *fakePositionStore, yield domain.YieldSource) *Service {
	t.Helper()
	policies.vault = store
	policies.positions = positions
	svc, err := New(store, policies, positions, nil, &fakeAuditStore{}, yield, testConfig(), slog.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc
}

func TestDepositWithdraw_FeeGrowthAccruesToShares(t *testing.T) {
	ctx := context.Background()
	store := newFakeVaultStore()
	svc := newTestService(t, store, newFakePolicyStore(), newFakePositionStore(), nil)

	alice := domain.Address("0xA11CE")
	shares, err := svc.Deposit(ctx, alice, dec("100"))
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if shares.Cmp(dec("100")) != 0 {
		t.Fatalf("first deposit shares=%s want=100", shares)
	}

	// Routed fees add assets without minting shares.
	if err := svc.CreditFee(ctx, dec("50")); err != nil {
		t.Fatalf("CreditFee: %v", err)
	}

	amount, err := svc.Withdraw(ctx, alice, shares)
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if amount.Cmp(dec("150")) != 0 {
		t.Fatalf("withdraw amount=%s want=150", amount)
	}
}

func TestDeposit_BoundsEnforced(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, newFakeVaultStore(), newFakePolicyStore(), newFakePositionStore(), nil)

	if _, err := svc.Deposit(ctx, "0xA11CE", dec("0.5")); !errors.Is(err, domain.ErrOutOfRange) {
		t.Fatalf("below minimum: err=%v want ErrOutOfRange", err)
	}
	if _, err := svc.Deposit(ctx, "0xA11CE", dec("2000000")); !errors.Is(err, domain.ErrOutOfRange) {
		t.Fatalf("above maximum: err=%v want ErrOutOfRange", err)
	}
}

func TestActivatePolicy_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := newFakeVaultStore()
	policies := newFakePolicyStore()
	svc := newTestService(t, store, policies, newFakePositionStore(), nil)

	if _, err := svc.Deposit(ctx, "0xA11CE", dec("1000")); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	market := domain.Market{ID: 1, TotalPrincipal: dec("300")}
	now := time.Now().UTC()

	if err := svc.ActivatePolicy(ctx, market, now); err != nil {
		t.Fatalf("ActivatePolicy: %v", err)
	}
	if err := svc.ActivatePolicy(ctx, market, now); err != nil {
		t.Fatalf("second ActivatePolicy: %v", err)
	}

	if store.totals.ReservedAssets.Cmp(dec("300")) != 0 {
		t.Fatalf("reserved=%s want=300 after duplicate activation", store.totals.ReservedAssets)
	}
}

func TestActivatePolicy_InsufficientPool(t *testing.T) {
	ctx := context.Background()
	store := newFakeVaultStore()
	svc := newTestService(t, store, newFakePolicyStore(), newFakePositionStore(), nil)

	if _, err := svc.Deposit(ctx, "0xA11CE", dec("100")); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	market := domain.Market{ID: 1, TotalPrincipal: dec("500")}
	err := svc.ActivatePolicy(ctx, market, time.Now().UTC())
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("err=%v want ErrInsufficientFunds", err)
	}
}

func TestClaimRefund_ExactPrincipalOnce(t *testing.T) {
	ctx := context.Background()
	store := newFakeVaultStore()
	policies := newFakePolicyStore()
	positions := newFakePositionStore()
	svc := newTestService(t, store, policies, positions, nil)

	if _, err := svc.Deposit(ctx, "0xA11CE", dec("1000")); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	bettor := domain.Address("0xB0B")
	positions.put(domain.Position{MarketID: 1, Participant: bettor, Principal: dec("40")})

	now := time.Now().UTC()
	if err := svc.ActivatePolicy(ctx, domain.Market{ID: 1, TotalPrincipal: dec("100")}, now); err != nil {
		t.Fatalf("ActivatePolicy: %v", err)
	}

	amount, err := svc.ClaimRefund(ctx, 1, bettor, now)
	if err != nil {
		t.Fatalf("ClaimRefund: %v", err)
	}
	if amount.Cmp(dec("40")) != 0 {
		t.Fatalf("refund=%s want exact principal 40", amount)
	}

	if _, err := svc.ClaimRefund(ctx, 1, bettor, now); !errors.Is(err, domain.ErrAlreadyProcessed) {
		t.Fatalf("second claim: err=%v want ErrAlreadyProcessed", err)
	}

	if store.totals.ReservedAssets.Cmp(dec("60")) != 0 {
		t.Fatalf("reserved=%s want=60 after claim", store.totals.ReservedAssets)
	}
}

func TestClaimRefund_ExpiredPolicy(t *testing.T) {
	ctx := context.Background()
	store := newFakeVaultStore()
	policies := newFakePolicyStore()
	positions := newFakePositionStore()
	svc := newTestService(t, store, policies, positions, nil)

	if _, err := svc.Deposit(ctx, "0xA11CE", dec("1000")); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	bettor := domain.Address("0xB0B")
	positions.put(domain.Position{MarketID: 1, Participant: bettor, Principal: dec("40")})

	activated := time.Now().UTC().Add(-80 * time.Hour)
	if err := svc.ActivatePolicy(ctx, domain.Market{ID: 1, TotalPrincipal: dec("100")}, activated); err != nil {
		t.Fatalf("ActivatePolicy: %v", err)
	}

	_, err := svc.ClaimRefund(ctx, 1, bettor, time.Now().UTC())
	if !errors.Is(err, domain.ErrPolicyExpired) {
		t.Fatalf("err=%v want ErrPolicyExpired", err)
	}
}

func TestClaimRefund_FailedSettlementKeepsPosition(t *testing.T) {
	ctx := context.Background()
	store := newFakeVaultStore()
	policies := newFakePolicyStore()
	positions := newFakePositionStore()
	svc := newTestService(t, store, policies, positions, nil)

	if _, err := svc.Deposit(ctx, "0xA11CE", dec("1000")); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	bettor := domain.Address("0xB0B")
	positions.put(domain.Position{MarketID: 1, Participant: bettor, Principal: dec("40")})

	now := time.Now().UTC()
	if err := svc.ActivatePolicy(ctx, domain.Market{ID: 1, TotalPrincipal: dec("100")}, now); err != nil {
		t.Fatalf("ActivatePolicy: %v", err)
	}
	// Earlier claims consumed most of the reserve; this refund cannot fit.
	policies.policies[1].Claimed = dec("80")

	if _, err := svc.ClaimRefund(ctx, 1, bettor, now); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("err=%v want ErrInsufficientFunds", err)
	}

	// The failed settlement must not consume the position or move money.
	pos, err := positions.Get(ctx, 1, bettor)
	if err != nil || pos.Claimed {
		t.Fatalf("position=%+v err=%v want unclaimed position", pos, err)
	}
	if store.totals.ReservedAssets.Cmp(dec("100")) != 0 {
		t.Fatalf("reserved=%s want untouched 100", store.totals.ReservedAssets)
	}
	if policies.policies[1].Claimed.Cmp(dec("80")) != 0 {
		t.Fatalf("claimed=%s want untouched 80", policies.policies[1].Claimed)
	}
}

func TestReleaseExpired_ReturnsLeftoverOnce(t *testing.T) {
	ctx := context.Background()
	store := newFakeVaultStore()
	policies := newFakePolicyStore()
	positions := newFakePositionStore()
	svc := newTestService(t, store, policies, positions, nil)

	if _, err := svc.Deposit(ctx, "0xA11CE", dec("1000")); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	bettor := domain.Address("0xB0B")
	positions.put(domain.Position{MarketID: 1, Participant: bettor, Principal: dec("40")})

	activated := time.Now().UTC().Add(-80 * time.Hour)
	if err := svc.ActivatePolicy(ctx, domain.Market{ID: 1, TotalPrincipal: dec("100")}, activated); err != nil {
		t.Fatalf("ActivatePolicy: %v", err)
	}
	if _, err := svc.ClaimRefund(ctx, 1, bettor, activated.Add(time.Hour)); err != nil {
		t.Fatalf("ClaimRefund: %v", err)
	}

	now := time.Now().UTC()
	if err := svc.ReleaseExpired(ctx, now); err != nil {
		t.Fatalf("ReleaseExpired: %v", err)
	}
	if !store.totals.ReservedAssets.IsZero() {
		t.Fatalf("reserved=%s want=0 after release", store.totals.ReservedAssets)
	}

	// A second sweep finds nothing to release.
	if err := svc.ReleaseExpired(ctx, now); err != nil {
		t.Fatalf("second ReleaseExpired: %v", err)
	}
	if !store.totals.ReservedAssets.IsZero() {
		t.Fatalf("reserved=%s want=0 after repeat release", store.totals.ReservedAssets)
	}
}

func TestReconcileYield_GrowthOnly(t *testing.T) {
	ctx := context.Background()
	store := newFakeVaultStore()
	yield := &fakeYield{value: dec("90")}
	svc := newTestService(t, store, newFakePolicyStore(), newFakePositionStore(), yield)

	if _, err := svc.Deposit(ctx, "0xA11CE", dec("100")); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	// Reported below book: never written down.
	if err := svc.ReconcileYield(ctx); err != nil {
		t.Fatalf("ReconcileYield: %v", err)
	}
	if store.totals.TotalAssets.Cmp(dec("100")) != 0 {
		t.Fatalf("assets=%s want=100 after below-book reading", store.totals.TotalAssets)
	}

	// Reported above book: the gain is credited.
	yield.value = dec("110")
	if err := svc.ReconcileYield(ctx); err != nil {
		t.Fatalf("ReconcileYield: %v", err)
	}
	if store.totals.TotalAssets.Cmp(dec("110")) != 0 {
		t.Fatalf("assets=%s want=110 after gain", store.totals.TotalAssets)
	}
}

func TestReconcileYield_NoSourceConfigured(t *testing.T) {
	svc := newTestService(t, newFakeVaultStore(), newFakePolicyStore(), newFakePositionStore(), nil)
	if err := svc.ReconcileYield(context.Background()); err != nil {
		t.Fatalf("ReconcileYield without source: %v", err)
	}
}
