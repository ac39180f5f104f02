package governor

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
	"github.com/quorumlabs/foresight/internal/oracle"
)

type fakeProposalStore struct {
	proposals map[int64]*domain.Proposal
	votes     map[int64][]domain.Vote
	nextID    int64
}

func newFakeProposalStore() *fakeProposalStore {
	return &fakeProposalStore{
		proposals: make(map[int64]*domain.Proposal),
		votes:     make(map[int64][]domain.Vote),
		nextID:    1,
	}
}

func (f *fakeProposalStore) Create(_ context.Context, p domain.Proposal) (int64, error) {
	id := f.nextID
	f.nextID++
	p.ID = id
	f.proposals[id] = &p
	return id, nil
}

func (f *fakeProposalStore) Get(_ context.Context, id int64) (domain.Proposal, error) {
	p, ok := f.proposals[id]
	if !ok {
		return domain.Proposal{}, domain.ErrNotFound
	}
	return *p, nil
}

func (f *fakeProposalStore) GetOpenByMarket(_ context.Context, marketID int64) (domain.Proposal, error) {
	for _, p := range f.proposals {
		if p.MarketID != nil && *p.MarketID == marketID && p.Status == domain.ProposalStatusActive {
			return *p, nil
		}
	}
	return domain.Proposal{}, domain.ErrNotFound
}

func (f *fakeProposalStore) ListByStatus(_ context.Context, status domain.ProposalStatus, _ domain.ListOpts) ([]domain.Proposal, error) {
	var out []domain.Proposal
	for _, p := range f.proposals {
		if p.Status == status {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeProposalStore) ListExpiredActive(_ context.Context, now time.Time) ([]domain.Proposal, error) {
	var out []domain.Proposal
	for _, p := range f.proposals {
		if p.Status == domain.ProposalStatusActive && now.After(p.VotingEndsAt) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeProposalStore) CastVote(_ context.Context, v domain.Vote) error {
	p, ok := f.proposals[v.ProposalID]
	if !ok {
		return domain.ErrNotFound
	}
	for _, existing := range f.votes[v.ProposalID] {
		if existing.Voter.Equal(v.Voter) {
			return domain.ErrAlreadyProcessed
		}
	}
	f.votes[v.ProposalID] = append(f.votes[v.ProposalID], v)
	switch v.Support {
	case domain.VoteFor:
		p.ForWeight += v.Weight
	case domain.VoteAgainst:
		p.AgainstWeight += v.Weight
	case domain.VoteAbstain:
		p.AbstainWeight += v.Weight
	}
	return nil
}

func (f *fakeProposalStore) ListVotes(_ context.Context, proposalID int64) ([]domain.Vote, error) {
	return f.votes[proposalID], nil
}

func (f *fakeProposalStore) SetStatus(_ context.Context, id int64, from, to domain.ProposalStatus) error {
	p, ok := f.proposals[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Status != from {
		return domain.ErrInvalidState
	}
	p.Status = to
	return nil
}

func (f *fakeProposalStore) MarkExecuted(_ context.Context, id int64) error {
	p, ok := f.proposals[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Status != domain.ProposalStatusSucceeded {
		return domain.ErrInvalidState
	}
	p.Status = domain.ProposalStatusExecuted
	now := time.Now().UTC()
	p.ExecutedAt = &now
	return nil
}

type fakeResultStore struct {
	results map[int64]domain.OracleResult
}

func (f *fakeResultStore) CreateRequest(context.Context, domain.ResolutionRequest) error { return nil }

func (f *fakeResultStore) GetRequest(context.Context, uuid.UUID) (domain.ResolutionRequest, error) {
	return domain.ResolutionRequest{}, domain.ErrNotFound
}

func (f *fakeResultStore) GetRequestByMarket(context.Context, int64) (domain.ResolutionRequest, error) {
	return domain.ResolutionRequest{}, domain.ErrNotFound
}

func (f *fakeResultStore) ListPendingRequests(context.Context, int) ([]domain.ResolutionRequest, error) {
	return nil, nil
}

func (f *fakeResultStore) CompleteRequest(context.Context, uuid.UUID) error { return nil }

func (f *fakeResultStore) FailRequest(context.Context, uuid.UUID, string) error { return nil }

func (f *fakeResultStore) InsertResult(_ context.Context, r domain.OracleResult) error {
	if _, ok := f.results[r.MarketID]; ok {
		return domain.ErrAlreadyProcessed
	}
	f.results[r.MarketID] = r
	return nil
}

func (f *fakeResultStore) GetResult(_ context.Context, marketID int64) (domain.OracleResult, error) {
	r, ok := f.results[marketID]
	if !ok {
		return domain.OracleResult{}, domain.ErrNotFound
	}
	return r, nil
}

func (f *fakeResultStore) OverrideResult(_ context.Context, r domain.OracleResult) error {
	f.results[r.MarketID] = r
	return nil
}

type registryCall struct {
	marketID int64
	outcome  domain.Outcome
	source   domain.ResultSource
}

type fakeRegistry struct {
	disputed  []int64
	finalized []registryCall
}

func (f *fakeRegistry) Dispute(_ context.Context, marketID int64) error {
	f.disputed = append(f.disputed, marketID)
	return nil
}

func (f *fakeRegistry) CompleteResolution(_ context.Context, _ domain.Address, marketID int64, outcome domain.Outcome, source domain.ResultSource) error {
	f.finalized = append(f.finalized, registryCall{marketID, outcome, source})
	return nil
}

type outcomeRecord struct {
	participant domain.Address
	correct     bool
}

type fakeStakes struct {
	stakes   map[domain.Address]domain.ReputationStake
	recorded []outcomeRecord
}

func (f *fakeStakes) Get(_ context.Context, participant domain.Address) (domain.ReputationStake, error) {
	s, ok := f.stakes[participant]
	if !ok {
		return domain.ReputationStake{}, domain.ErrNotFound
	}
	return s, nil
}

func (f *fakeStakes) RecordVoteOutcome(_ context.Context, participant domain.Address, correct bool) error {
	f.recorded = append(f.recorded, outcomeRecord{participant, correct})
	return nil
}

type noopAudit struct{}

func (noopAudit) Log(context.Context, string, map[string]any) error { return nil }
func (noopAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type governorFixture struct {
	svc       *Service
	proposals *fakeProposalStore
	oracles   *fakeResultStore
	registry  *fakeRegistry
	stakes    *fakeStakes
}

func newFixture(t *testing.T) *governorFixture {
	t.Helper()
	f := &governorFixture{
		proposals: newFakeProposalStore(),
		oracles:   &fakeResultStore{results: make(map[int64]domain.OracleResult)},
		registry:  &fakeRegistry{},
		stakes:    &fakeStakes{stakes: make(map[domain.Address]domain.ReputationStake)},
	}
	cfg := config.GovernorConfig{
		VotingWindowHours: 48,
		QuorumWeight:      10,
		MinBond:           "10",
		ExpertBoost:       1.5,
	}
	svc, err := New(f.proposals, f.oracles, nil, f.registry, f.stakes, noopAudit{},
		"0x0000000000000000000000000000000000000002", cfg, slog.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.svc = svc
	return f
}

func (f *governorFixture) recordResult(marketID int64, outcome domain.Outcome) {
	r := domain.OracleResult{
		MarketID:   marketID,
		Outcome:    outcome,
		Confidence: 90,
		Source:     domain.ResultSourceConsensus,
		ReportedAt: time.Now().UTC(),
	}
	r.Digest = oracle.ResultDigest(r)
	f.oracles.results[marketID] = r
}

func (f *governorFixture) stake(participant domain.Address, amount int64) {
	f.stakes.stakes[participant] = domain.ReputationStake{
		Participant: participant,
		Staked:      decimal.NewFromInt(amount),
	}
}

func proposalParams(marketID int64) ProposalParams {
	return ProposalParams{
		MarketID:    marketID,
		Proposer:    "0xPROPOSER",
		Outcome:     domain.OutcomeNo,
		Title:       "recorded outcome is wrong",
		Description: "the reported event did not happen",
		Bond:        decimal.NewFromInt(25),
	}
}

func TestPropose_OpensDisputeAndFlipsMarket(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.recordResult(1, domain.OutcomeYes)
	f.stake("0xPROPOSER", 100)

	p, err := f.svc.Propose(ctx, proposalParams(1))
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if p.Status != domain.ProposalStatusActive {
		t.Fatalf("status=%s want active", p.Status)
	}
	if len(f.registry.disputed) != 1 || f.registry.disputed[0] != 1 {
		t.Fatalf("disputed=%v want [1]", f.registry.disputed)
	}
}

func TestPropose_NoRecordedResult(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.stake("0xPROPOSER", 100)

	// A still-resolving market has no recorded answer yet; the dispute
	// opens on the asserted outcome alone.
	p, err := f.svc.Propose(ctx, proposalParams(1))
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if p.Status != domain.ProposalStatusActive {
		t.Fatalf("status=%s want active", p.Status)
	}
	if len(f.registry.disputed) != 1 || f.registry.disputed[0] != 1 {
		t.Fatalf("disputed=%v want [1]", f.registry.disputed)
	}
}

func TestPropose_Guards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.recordResult(1, domain.OutcomeYes)
	f.stake("0xPROPOSER", 100)

	params := proposalParams(1)
	params.Bond = decimal.NewFromInt(5)
	if _, err := f.svc.Propose(ctx, params); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("bond below minimum: err=%v want ErrInsufficientFunds", err)
	}

	params = proposalParams(1)
	params.Bond = decimal.NewFromInt(500)
	if _, err := f.svc.Propose(ctx, params); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("bond over stake: err=%v want ErrInsufficientFunds", err)
	}

	params = proposalParams(1)
	params.Outcome = domain.OutcomeYes
	if _, err := f.svc.Propose(ctx, params); !errors.Is(err, domain.ErrOutOfRange) {
		t.Fatalf("matching outcome: err=%v want ErrOutOfRange", err)
	}

	params = proposalParams(1)
	params.Proposer = "0xNOSTAKE"
	if _, err := f.svc.Propose(ctx, params); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("no stake: err=%v want ErrUnauthorized", err)
	}
}

func TestPropose_OnePerMarket(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.recordResult(1, domain.OutcomeYes)
	f.stake("0xPROPOSER", 100)

	if _, err := f.svc.Propose(ctx, proposalParams(1)); err != nil {
		t.Fatalf("first Propose: %v", err)
	}
	if _, err := f.svc.Propose(ctx, proposalParams(1)); !errors.Is(err, domain.ErrAlreadyProcessed) {
		t.Fatalf("second Propose: err=%v want ErrAlreadyProcessed", err)
	}
}

func TestVote_WeightFromStake(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.recordResult(1, domain.OutcomeYes)
	f.stake("0xPROPOSER", 100)
	f.stake("0xVOTER", 400)

	p, err := f.svc.Propose(ctx, proposalParams(1))
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}

	v, err := f.svc.Vote(ctx, p.ID, "0xVOTER", domain.VoteFor)
	if err != nil {
		t.Fatalf("Vote: %v", err)
	}
	if v.Weight != 20 {
		t.Fatalf("weight=%d want=20 for 400 staked", v.Weight)
	}

	if _, err := f.svc.Vote(ctx, p.ID, "0xVOTER", domain.VoteAgainst); !errors.Is(err, domain.ErrAlreadyProcessed) {
		t.Fatalf("double vote: err=%v want ErrAlreadyProcessed", err)
	}
	if _, err := f.svc.Vote(ctx, p.ID, "0xNOSTAKE", domain.VoteFor); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("no stake: err=%v want ErrUnauthorized", err)
	}
}

func expireProposal(f *governorFixture, id int64) {
	f.proposals.proposals[id].VotingEndsAt = time.Now().UTC().Add(-time.Hour)
}

func TestTally_SucceededOverridesOutcome(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.recordResult(1, domain.OutcomeYes)
	f.stake("0xPROPOSER", 100)
	f.stake("0xFOR", 400)
	f.stake("0xAGAINST", 25)

	p, err := f.svc.Propose(ctx, proposalParams(1))
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if _, err := f.svc.Vote(ctx, p.ID, "0xFOR", domain.VoteFor); err != nil {
		t.Fatalf("Vote for: %v", err)
	}
	if _, err := f.svc.Vote(ctx, p.ID, "0xAGAINST", domain.VoteAgainst); err != nil {
		t.Fatalf("Vote against: %v", err)
	}
	expireProposal(f, p.ID)

	if err := f.svc.TallyExpired(ctx); err != nil {
		t.Fatalf("TallyExpired: %v", err)
	}

	got, _ := f.svc.Get(ctx, p.ID)
	if got.Status != domain.ProposalStatusExecuted {
		t.Fatalf("status=%s want executed", got.Status)
	}

	// The recorded result now carries the asserted outcome under a
	// governance source with a fresh digest.
	result, err := f.oracles.GetResult(ctx, 1)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if result.Outcome != domain.OutcomeNo || result.Source != domain.ResultSourceGovernance {
		t.Fatalf("result=%+v want governance no", result)
	}
	if !oracle.VerifyDigest(result) {
		t.Fatal("override result has a bad digest")
	}

	if len(f.registry.finalized) != 1 {
		t.Fatalf("finalize calls=%d want=1", len(f.registry.finalized))
	}
	if f.registry.finalized[0].outcome != domain.OutcomeNo {
		t.Fatalf("finalized outcome=%s want no", f.registry.finalized[0].outcome)
	}

	// For voters settle correct, Against voters settle incorrect.
	want := map[domain.Address]bool{"0xFOR": true, "0xAGAINST": false}
	for _, rec := range f.stakes.recorded {
		correct, ok := want[rec.participant]
		if !ok {
			t.Fatalf("unexpected settlement for %s", rec.participant)
		}
		if rec.correct != correct {
			t.Fatalf("%s settled correct=%v want=%v", rec.participant, rec.correct, correct)
		}
	}
	if len(f.stakes.recorded) != 2 {
		t.Fatalf("settlements=%d want=2", len(f.stakes.recorded))
	}
}

func TestTally_DefeatedRestoresOutcomeAndSlashesProposer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.recordResult(1, domain.OutcomeYes)
	f.stake("0xPROPOSER", 100)
	f.stake("0xAGAINST", 400)

	p, err := f.svc.Propose(ctx, proposalParams(1))
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if _, err := f.svc.Vote(ctx, p.ID, "0xAGAINST", domain.VoteAgainst); err != nil {
		t.Fatalf("Vote: %v", err)
	}
	expireProposal(f, p.ID)

	if err := f.svc.TallyExpired(ctx); err != nil {
		t.Fatalf("TallyExpired: %v", err)
	}

	got, _ := f.svc.Get(ctx, p.ID)
	if got.Status != domain.ProposalStatusDefeated {
		t.Fatalf("status=%s want defeated", got.Status)
	}

	// The market returns to Resolved under the original recorded outcome.
	if len(f.registry.finalized) != 1 || f.registry.finalized[0].outcome != domain.OutcomeYes {
		t.Fatalf("finalized=%+v want original yes outcome", f.registry.finalized)
	}

	// The proposer forfeits through an incorrect settlement; the Against
	// voter settles correct.
	want := map[domain.Address]bool{"0xPROPOSER": false, "0xAGAINST": true}
	for _, rec := range f.stakes.recorded {
		correct, ok := want[rec.participant]
		if !ok {
			t.Fatalf("unexpected settlement for %s", rec.participant)
		}
		if rec.correct != correct {
			t.Fatalf("%s settled correct=%v want=%v", rec.participant, rec.correct, correct)
		}
	}
	if len(f.stakes.recorded) != 2 {
		t.Fatalf("settlements=%d want=2", len(f.stakes.recorded))
	}
}

func TestTally_DefeatedWithoutRecordedResult(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.stake("0xPROPOSER", 100)
	f.stake("0xAGAINST", 400)

	p, err := f.svc.Propose(ctx, proposalParams(1))
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if _, err := f.svc.Vote(ctx, p.ID, "0xAGAINST", domain.VoteAgainst); err != nil {
		t.Fatalf("Vote: %v", err)
	}
	expireProposal(f, p.ID)

	if err := f.svc.TallyExpired(ctx); err != nil {
		t.Fatalf("TallyExpired: %v", err)
	}

	got, _ := f.svc.Get(ctx, p.ID)
	if got.Status != domain.ProposalStatusDefeated {
		t.Fatalf("status=%s want defeated", got.Status)
	}

	// There is no recorded outcome to restore; the market stays disputed
	// for a resolver or operator to finalize.
	if len(f.registry.finalized) != 0 {
		t.Fatalf("finalized=%+v want no finalize calls", f.registry.finalized)
	}
	if len(f.stakes.recorded) != 2 {
		t.Fatalf("settlements=%d want=2", len(f.stakes.recorded))
	}
}

func TestTally_QuorumNotMet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.recordResult(1, domain.OutcomeYes)
	f.stake("0xPROPOSER", 100)
	f.stake("0xFOR", 25) // weight 5, below quorum 10

	p, err := f.svc.Propose(ctx, proposalParams(1))
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if _, err := f.svc.Vote(ctx, p.ID, "0xFOR", domain.VoteFor); err != nil {
		t.Fatalf("Vote: %v", err)
	}
	expireProposal(f, p.ID)

	if err := f.svc.TallyExpired(ctx); err != nil {
		t.Fatalf("TallyExpired: %v", err)
	}

	got, _ := f.svc.Get(ctx, p.ID)
	if got.Status != domain.ProposalStatusDefeated {
		t.Fatalf("status=%s want defeated below quorum", got.Status)
	}
}
