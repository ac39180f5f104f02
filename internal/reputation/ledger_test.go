package reputation

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quorumlabs/foresight/internal/config"
	"github.com/quorumlabs/foresight/internal/domain"
)

type fakeReputationStore struct {
	stakes map[domain.Address]*domain.ReputationStake
}

func newFakeReputationStore() *fakeReputationStore {
	return &fakeReputationStore{stakes: make(map[domain.Address]*domain.ReputationStake)}
}

func (f *fakeReputationStore) get(participant domain.Address) *domain.ReputationStake {
	s, ok := f.stakes[participant]
	if !ok {
		s = &domain.ReputationStake{
			Participant: participant,
			Staked:      decimal.Zero,
			Slashed:     decimal.Zero,
		}
		f.stakes[participant] = s
	}
	return s
}

func (f *fakeReputationStore) Get(_ context.Context, participant domain.Address) (domain.ReputationStake, error) {
	s, ok := f.stakes[participant]
	if !ok {
		return domain.ReputationStake{}, domain.ErrNotFound
	}
	return *s, nil
}

func (f *fakeReputationStore) AddStake(_ context.Context, participant domain.Address, amount decimal.Decimal, at time.Time) error {
	s := f.get(participant)
	s.Staked = s.Staked.Add(amount)
	s.LastStakeAt = at
	return nil
}

func (f *fakeReputationStore) WithdrawStake(_ context.Context, participant domain.Address, amount decimal.Decimal, now time.Time, cooldown time.Duration) error {
	s, ok := f.stakes[participant]
	if !ok {
		return domain.ErrNotFound
	}
	if now.Before(s.LastStakeAt.Add(cooldown)) {
		return domain.ErrCooldownActive
	}
	if amount.GreaterThan(s.Staked) {
		return domain.ErrInsufficientFunds
	}
	s.Staked = s.Staked.Sub(amount)
	return nil
}

func (f *fakeReputationStore) RecordOutcome(_ context.Context, participant domain.Address, correct bool, slash decimal.Decimal, scoreDelta int64) error {
	s := f.get(participant)
	s.TotalVotes++
	if correct {
		s.CorrectVotes++
	}
	s.Score += scoreDelta
	s.Staked = s.Staked.Sub(slash)
	s.Slashed = s.Slashed.Add(slash)
	return nil
}

type noopAuditStore struct{}

func (noopAuditStore) Log(context.Context, string, map[string]any) error { return nil }
func (noopAuditStore) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func testLedger(t *testing.T, store *fakeReputationStore) *Ledger {
	t.Helper()
	cfg := config.ReputationConfig{
		CooldownHours:    24,
		SlashFraction:    "0.10",
		CorrectReward:    5,
		IncorrectPenalty: 10,
	}
	l, err := New(store, noopAuditStore{}, cfg, slog.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

func TestNew_RejectsBadSlashFraction(t *testing.T) {
	cfg := config.ReputationConfig{SlashFraction: "1.5"}
	if _, err := New(newFakeReputationStore(), noopAuditStore{}, cfg, slog.Default()); !errors.Is(err, domain.ErrOutOfRange) {
		t.Fatalf("err=%v want ErrOutOfRange", err)
	}
	cfg.SlashFraction = "not-a-number"
	if _, err := New(newFakeReputationStore(), noopAuditStore{}, cfg, slog.Default()); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestStake_PositiveAmountsOnly(t *testing.T) {
	l := testLedger(t, newFakeReputationStore())

	if err := l.Stake(context.Background(), "0xA11CE", decimal.Zero); !errors.Is(err, domain.ErrOutOfRange) {
		t.Fatalf("zero stake: err=%v want ErrOutOfRange", err)
	}
	if err := l.Unstake(context.Background(), "0xA11CE", decimal.NewFromInt(-3)); !errors.Is(err, domain.ErrOutOfRange) {
		t.Fatalf("negative unstake: err=%v want ErrOutOfRange", err)
	}
}

func TestStake_ResetsCooldownAnchor(t *testing.T) {
	ctx := context.Background()
	store := newFakeReputationStore()
	l := testLedger(t, store)

	if err := l.Stake(ctx, "0xA11CE", decimal.NewFromInt(100)); err != nil {
		t.Fatalf("Stake: %v", err)
	}

	// The anchor was just set, so unstaking is gated.
	if err := l.Unstake(ctx, "0xA11CE", decimal.NewFromInt(50)); !errors.Is(err, domain.ErrCooldownActive) {
		t.Fatalf("err=%v want ErrCooldownActive", err)
	}

	// Backdate the anchor past the cooldown and the same call succeeds.
	store.stakes["0xA11CE"].LastStakeAt = time.Now().UTC().Add(-25 * time.Hour)
	if err := l.Unstake(ctx, "0xA11CE", decimal.NewFromInt(50)); err != nil {
		t.Fatalf("Unstake after cooldown: %v", err)
	}

	got, err := l.Get(ctx, "0xA11CE")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Staked.Cmp(decimal.NewFromInt(50)) != 0 {
		t.Fatalf("staked=%s want=50", got.Staked)
	}
}

func TestRecordVoteOutcome_CorrectVoteGainsScore(t *testing.T) {
	ctx := context.Background()
	store := newFakeReputationStore()
	l := testLedger(t, store)

	if err := l.Stake(ctx, "0xA11CE", decimal.NewFromInt(200)); err != nil {
		t.Fatalf("Stake: %v", err)
	}
	if err := l.RecordVoteOutcome(ctx, "0xA11CE", true); err != nil {
		t.Fatalf("RecordVoteOutcome: %v", err)
	}

	got, _ := l.Get(ctx, "0xA11CE")
	if got.Score != 5 {
		t.Fatalf("score=%d want=5", got.Score)
	}
	if got.Staked.Cmp(decimal.NewFromInt(200)) != 0 {
		t.Fatalf("staked=%s want=200 untouched on a correct vote", got.Staked)
	}
	if got.CorrectVotes != 1 || got.TotalVotes != 1 {
		t.Fatalf("votes=%d/%d want=1/1", got.CorrectVotes, got.TotalVotes)
	}
}

func TestRecordVoteOutcome_IncorrectVoteSlashesStake(t *testing.T) {
	ctx := context.Background()
	store := newFakeReputationStore()
	l := testLedger(t, store)

	if err := l.Stake(ctx, "0xA11CE", decimal.NewFromInt(200)); err != nil {
		t.Fatalf("Stake: %v", err)
	}
	if err := l.RecordVoteOutcome(ctx, "0xA11CE", false); err != nil {
		t.Fatalf("RecordVoteOutcome: %v", err)
	}

	got, _ := l.Get(ctx, "0xA11CE")
	if got.Score != -10 {
		t.Fatalf("score=%d want=-10", got.Score)
	}
	if got.Staked.Cmp(decimal.NewFromInt(180)) != 0 {
		t.Fatalf("staked=%s want=180 after 10%% slash", got.Staked)
	}
	if got.Slashed.Cmp(decimal.NewFromInt(20)) != 0 {
		t.Fatalf("slashed=%s want=20", got.Slashed)
	}
}

func TestAccuracy(t *testing.T) {
	s := domain.ReputationStake{}
	if got := s.Accuracy(); got != 0 {
		t.Fatalf("accuracy=%v want=0 with no votes", got)
	}
	s.TotalVotes = 8
	s.CorrectVotes = 6
	if got := s.Accuracy(); got != 0.75 {
		t.Fatalf("accuracy=%v want=0.75", got)
	}
}
