package oracle

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quorumlabs/foresight/internal/config"
	"github.com/quorumlabs/foresight/internal/domain"
)

type fakeOracleStore struct {
	requests map[uuid.UUID]*domain.ResolutionRequest
	results  map[int64]domain.OracleResult
}

func newFakeOracleStore() *fakeOracleStore {
	return &fakeOracleStore{
		requests: make(map[uuid.UUID]*domain.ResolutionRequest),
		results:  make(map[int64]domain.OracleResult),
	}
}

func (f *fakeOracleStore) add(req domain.ResolutionRequest) {
	f.requests[req.ID] = &req
}

func (f *fakeOracleStore) CreateRequest(_ context.Context, req domain.ResolutionRequest) error {
	f.add(req)
	return nil
}

func (f *fakeOracleStore) GetRequest(_ context.Context, id uuid.UUID) (domain.ResolutionRequest, error) {
	req, ok := f.requests[id]
	if !ok {
		return domain.ResolutionRequest{}, domain.ErrNotFound
	}
	return *req, nil
}

func (f *fakeOracleStore) GetRequestByMarket(_ context.Context, marketID int64) (domain.ResolutionRequest, error) {
	for _, req := range f.requests {
		if req.MarketID == marketID {
			return *req, nil
		}
	}
	return domain.ResolutionRequest{}, domain.ErrNotFound
}

func (f *fakeOracleStore) ListPendingRequests(_ context.Context, limit int) ([]domain.ResolutionRequest, error) {
	var out []domain.ResolutionRequest
	for _, req := range f.requests {
		if req.Status == domain.RequestStatusPending && len(out) < limit {
			out = append(out, *req)
		}
	}
	return out, nil
}

func (f *fakeOracleStore) CompleteRequest(_ context.Context, id uuid.UUID) error {
	req, ok := f.requests[id]
	if !ok {
		return domain.ErrNotFound
	}
	if req.Status == domain.RequestStatusCompleted {
		return domain.ErrAlreadyProcessed
	}
	req.Status = domain.RequestStatusCompleted
	now := time.Now().UTC()
	req.CompletedAt = &now
	return nil
}

func (f *fakeOracleStore) FailRequest(_ context.Context, id uuid.UUID, lastError string) error {
	req, ok := f.requests[id]
	if !ok {
		return domain.ErrNotFound
	}
	req.Attempts++
	req.LastError = lastError
	return nil
}

func (f *fakeOracleStore) InsertResult(_ context.Context, r domain.OracleResult) error {
	if _, ok := f.results[r.MarketID]; ok {
		return domain.ErrAlreadyProcessed
	}
	f.results[r.MarketID] = r
	return nil
}

func (f *fakeOracleStore) GetResult(_ context.Context, marketID int64) (domain.OracleResult, error) {
	r, ok := f.results[marketID]
	if !ok {
		return domain.OracleResult{}, domain.ErrNotFound
	}
	return r, nil
}

func (f *fakeOracleStore) OverrideResult(_ context.Context, r domain.OracleResult) error {
	f.results[r.MarketID] = r
	return nil
}

type fakeMarketStore struct {
	markets map[int64]domain.Market
}

func (f *fakeMarketStore) Create(context.Context, domain.Market) (int64, error) { return 0, nil }

func (f *fakeMarketStore) GetByID(_ context.Context, id int64) (domain.Market, error) {
	m, ok := f.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (f *fakeMarketStore) List(context.Context, domain.MarketStatus, domain.ListOpts) ([]domain.Market, error) {
	return nil, nil
}

func (f *fakeMarketStore) Count(context.Context) (int64, error) { return 0, nil }

func (f *fakeMarketStore) CountByStatus(context.Context, domain.MarketStatus) (int64, error) {
	return 0, nil
}

func (f *fakeMarketStore) Transition(context.Context, int64, []domain.MarketStatus, domain.MarketStatus) error {
	return nil
}

func (f *fakeMarketStore) ApplyBet(context.Context, domain.BetApplication) (domain.Position, error) {
	return domain.Position{}, nil
}

func (f *fakeMarketStore) Finalize(context.Context, int64, domain.Outcome, bool) error { return nil }

type finalizeCall struct {
	caller   domain.Address
	marketID int64
	outcome  domain.Outcome
	source   domain.ResultSource
}

type fakeFinalizer struct {
	calls []finalizeCall
	err   error
}

func (f *fakeFinalizer) CompleteResolution(_ context.Context, caller domain.Address, marketID int64, outcome domain.Outcome, source domain.ResultSource) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, finalizeCall{caller, marketID, outcome, source})
	return nil
}

type fakePolicies struct {
	activated []int64
}

func (f *fakePolicies) ActivatePolicy(_ context.Context, market domain.Market, _ time.Time) error {
	f.activated = append(f.activated, market.ID)
	return nil
}

type fakeInference struct {
	resp domain.InferenceResponse
	err  error
}

func (f *fakeInference) Resolve(context.Context, domain.InferenceRequest) (domain.InferenceResponse, error) {
	return f.resp, f.err
}

type fakeLocks struct {
	held map[string]bool
}

func (f *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	if f.held[key] {
		return nil, domain.ErrLockHeld
	}
	return func() {}, nil
}

type fakeAdminStore struct {
	collaborators map[domain.CollaboratorRole]domain.Address
}

func (f *fakeAdminStore) State(context.Context) (domain.AdminState, error) {
	return domain.AdminState{}, nil
}

func (f *fakeAdminStore) SetPendingOwner(context.Context, domain.Address) error { return nil }

func (f *fakeAdminStore) AcceptOwnership(context.Context, domain.Address) error { return nil }

func (f *fakeAdminStore) Collaborator(_ context.Context, role domain.CollaboratorRole) (domain.Address, error) {
	addr, ok := f.collaborators[role]
	if !ok {
		return domain.ZeroAddress, domain.ErrNotFound
	}
	return addr, nil
}

func (f *fakeAdminStore) SetCollaborator(_ context.Context, role domain.CollaboratorRole, identity domain.Address) error {
	f.collaborators[role] = identity
	return nil
}

type noopAudit struct{}

func (noopAudit) Log(context.Context, string, map[string]any) error { return nil }
func (noopAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type resolverFixture struct {
	resolver  *Resolver
	oracles   *fakeOracleStore
	markets   *fakeMarketStore
	finalizer *fakeFinalizer
	policies  *fakePolicies
	inference *fakeInference
	locks     *fakeLocks
	admin     *fakeAdminStore
}

const resolverIdentity = domain.Address("0x0000000000000000000000000000000000000001")

func newFixture(cfg config.OracleConfig) *resolverFixture {
	f := &resolverFixture{
		oracles:   newFakeOracleStore(),
		markets:   &fakeMarketStore{markets: make(map[int64]domain.Market)},
		finalizer: &fakeFinalizer{},
		policies:  &fakePolicies{},
		inference: &fakeInference{},
		locks:     &fakeLocks{held: make(map[string]bool)},
		admin:     &fakeAdminStore{collaborators: make(map[domain.CollaboratorRole]domain.Address)},
	}
	f.resolver = NewResolver(
		f.oracles, f.markets, f.finalizer, f.policies, f.inference,
		f.locks, f.admin, noopAudit{}, resolverIdentity, cfg, 80, slog.Default(),
	)
	return f
}

func baseConfig() config.OracleConfig {
	return config.OracleConfig{
		RequestTimeoutSecs: 5,
		MaxAttempts:        3,
		FallbackMode:       "manual",
	}
}

func pendingRequest(marketID int64) domain.ResolutionRequest {
	return domain.ResolutionRequest{
		ID:          uuid.New(),
		MarketID:    marketID,
		Question:    "does it settle yes",
		Status:      domain.RequestStatusPending,
		RequestedAt: time.Now().UTC(),
	}
}

func TestSweep_CompletesRequestAndFinalizes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(baseConfig())
	f.inference.resp = domain.InferenceResponse{
		Outcome: domain.OutcomeYes, Confidence: 90, YesVotes: 5,
	}

	req := pendingRequest(7)
	f.oracles.add(req)

	if err := f.resolver.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	result, err := f.oracles.GetResult(ctx, 7)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if result.Outcome != domain.OutcomeYes || result.Source != domain.ResultSourceConsensus {
		t.Fatalf("result=%+v want consensus yes", result)
	}
	if !VerifyDigest(result) {
		t.Fatal("recorded result has a bad digest")
	}

	stored, _ := f.oracles.GetRequest(ctx, req.ID)
	if stored.Status != domain.RequestStatusCompleted {
		t.Fatalf("request status=%s want completed", stored.Status)
	}

	if len(f.finalizer.calls) != 1 {
		t.Fatalf("finalize calls=%d want=1", len(f.finalizer.calls))
	}
	call := f.finalizer.calls[0]
	if call.caller != resolverIdentity || call.marketID != 7 || call.outcome != domain.OutcomeYes {
		t.Fatalf("finalize call=%+v", call)
	}

	if len(f.policies.activated) != 0 {
		t.Fatalf("insurance activated at confidence 90, threshold 80")
	}
}

func TestSweep_LowConfidenceActivatesInsurance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(baseConfig())
	f.inference.resp = domain.InferenceResponse{Outcome: domain.OutcomeNo, Confidence: 55}
	f.markets.markets[9] = domain.Market{ID: 9, TotalPrincipal: decimal.NewFromInt(100)}

	f.oracles.add(pendingRequest(9))

	if err := f.resolver.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if len(f.policies.activated) != 1 || f.policies.activated[0] != 9 {
		t.Fatalf("activated=%v want [9]", f.policies.activated)
	}
}

func TestSweep_ConfidenceThresholdBoundary(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name       string
		confidence int
		activated  bool
	}{
		{"one below threshold", 79, true},
		{"at threshold", 80, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(baseConfig())
			f.inference.resp = domain.InferenceResponse{Outcome: domain.OutcomeYes, Confidence: tc.confidence}
			f.markets.markets[2] = domain.Market{ID: 2, TotalPrincipal: decimal.NewFromInt(100)}
			f.oracles.add(pendingRequest(2))

			if err := f.resolver.Sweep(ctx); err != nil {
				t.Fatalf("Sweep: %v", err)
			}

			if got := len(f.policies.activated) == 1; got != tc.activated {
				t.Fatalf("confidence %d: activated=%v want=%v", tc.confidence, got, tc.activated)
			}
		})
	}
}

func TestSweep_InferenceFailureIncrementsAttempts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(baseConfig())
	f.inference.err = domain.ErrRemoteUnavailable

	req := pendingRequest(3)
	f.oracles.add(req)

	if err := f.resolver.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	stored, _ := f.oracles.GetRequest(ctx, req.ID)
	if stored.Attempts != 1 {
		t.Fatalf("attempts=%d want=1", stored.Attempts)
	}
	if stored.Status != domain.RequestStatusPending {
		t.Fatalf("status=%s want pending for retry", stored.Status)
	}
	if _, err := f.oracles.GetResult(ctx, 3); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("result recorded on a failed call: %v", err)
	}
}

func TestSweep_ManualFallbackLeavesRequestPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(baseConfig())

	req := pendingRequest(4)
	req.Attempts = 3
	f.oracles.add(req)

	if err := f.resolver.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	stored, _ := f.oracles.GetRequest(ctx, req.ID)
	if stored.Status != domain.RequestStatusPending {
		t.Fatalf("status=%s want pending for the operator", stored.Status)
	}
	if _, err := f.oracles.GetResult(ctx, 4); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("fallback recorded a result in manual mode: %v", err)
	}
}

func TestSweep_DefaultFallbackRecordsConfiguredOutcome(t *testing.T) {
	ctx := context.Background()
	cfg := baseConfig()
	cfg.FallbackMode = "default"
	cfg.FallbackOutcome = int(domain.OutcomeInvalid)
	cfg.FallbackConfidence = 0
	f := newFixture(cfg)
	f.markets.markets[5] = domain.Market{ID: 5, TotalPrincipal: decimal.NewFromInt(50)}

	req := pendingRequest(5)
	req.Attempts = 3
	f.oracles.add(req)

	if err := f.resolver.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	result, err := f.oracles.GetResult(ctx, 5)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if result.Outcome != domain.OutcomeInvalid {
		t.Fatalf("outcome=%s want invalid", result.Outcome)
	}
	// Zero confidence is below any threshold, so insurance opens.
	if len(f.policies.activated) != 1 {
		t.Fatalf("activated=%v want [5]", f.policies.activated)
	}
}

func TestSweep_SkipsLockedMarkets(t *testing.T) {
	ctx := context.Background()
	f := newFixture(baseConfig())
	f.inference.resp = domain.InferenceResponse{Outcome: domain.OutcomeYes, Confidence: 90}
	f.locks.held["resolve:6"] = true

	req := pendingRequest(6)
	f.oracles.add(req)

	if err := f.resolver.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	stored, _ := f.oracles.GetRequest(ctx, req.ID)
	if stored.Status != domain.RequestStatusPending {
		t.Fatalf("status=%s want pending while another worker holds the lock", stored.Status)
	}
}

func TestSweep_MalformedResponseFailsRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(baseConfig())
	f.inference.resp = domain.InferenceResponse{Outcome: domain.Outcome(9), Confidence: 90}

	req := pendingRequest(8)
	f.oracles.add(req)

	if err := f.resolver.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	stored, _ := f.oracles.GetRequest(ctx, req.ID)
	if stored.Attempts != 1 || stored.LastError == "" {
		t.Fatalf("attempts=%d lastError=%q want failed attempt", stored.Attempts, stored.LastError)
	}
}

func TestSubmitManual_RejectsUnauthorizedCallerBeforeWriting(t *testing.T) {
	ctx := context.Background()
	f := newFixture(baseConfig())
	f.admin.collaborators[domain.RoleOperator] = "0xOPERATOR"
	f.oracles.add(pendingRequest(11))

	err := f.resolver.SubmitManual(ctx, "0xINTRUDER", 11, domain.OutcomeYes, 90)
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("err=%v want ErrUnauthorized", err)
	}
	if _, err := f.oracles.GetResult(ctx, 11); !errors.Is(err, domain.ErrNotFound) {
		t.Fatal("unauthorized call wrote a result")
	}
}

func TestSubmitManual_OperatorRecordsResult(t *testing.T) {
	ctx := context.Background()
	f := newFixture(baseConfig())
	f.admin.collaborators[domain.RoleOperator] = "0xOPERATOR"
	req := pendingRequest(12)
	f.oracles.add(req)

	if err := f.resolver.SubmitManual(ctx, "0xOPERATOR", 12, domain.OutcomeNo, 100); err != nil {
		t.Fatalf("SubmitManual: %v", err)
	}

	result, err := f.oracles.GetResult(ctx, 12)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if result.Source != domain.ResultSourceManual || result.Outcome != domain.OutcomeNo {
		t.Fatalf("result=%+v want manual no", result)
	}
	if !VerifyDigest(result) {
		t.Fatal("manual result has a bad digest")
	}

	// The request is now completed, so a second submission is rejected.
	if err := f.resolver.SubmitManual(ctx, "0xOPERATOR", 12, domain.OutcomeYes, 100); !errors.Is(err, domain.ErrAlreadyProcessed) {
		t.Fatalf("second submit: err=%v want ErrAlreadyProcessed", err)
	}
}

func TestSubmitManual_ConfidenceThresholdBoundary(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name       string
		confidence int
		activated  bool
	}{
		{"one below threshold", 79, true},
		{"at threshold", 80, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(baseConfig())
			f.admin.collaborators[domain.RoleOperator] = "0xOPERATOR"
			f.markets.markets[13] = domain.Market{ID: 13, TotalPrincipal: decimal.NewFromInt(100)}
			f.oracles.add(pendingRequest(13))

			if err := f.resolver.SubmitManual(ctx, "0xOPERATOR", 13, domain.OutcomeYes, tc.confidence); err != nil {
				t.Fatalf("SubmitManual: %v", err)
			}

			if got := len(f.policies.activated) == 1; got != tc.activated {
				t.Fatalf("confidence %d: activated=%v want=%v", tc.confidence, got, tc.activated)
			}
		})
	}
}

func TestSubmitManual_ValidatesInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(baseConfig())
	f.admin.collaborators[domain.RoleOperator] = "0xOPERATOR"

	if err := f.resolver.SubmitManual(ctx, "0xOPERATOR", 1, domain.Outcome(0), 90); !errors.Is(err, domain.ErrOutOfRange) {
		t.Fatalf("invalid outcome: err=%v want ErrOutOfRange", err)
	}
	if err := f.resolver.SubmitManual(ctx, "0xOPERATOR", 1, domain.OutcomeYes, 101); !errors.Is(err, domain.ErrOutOfRange) {
		t.Fatalf("confidence 101: err=%v want ErrOutOfRange", err)
	}
}
