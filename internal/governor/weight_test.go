package governor

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/quorumlabs/foresight/internal/domain"
)

func TestVoteWeight_SquareRootOfStake(t *testing.T) {
	cases := []struct {
		staked string
		want   int64
	}{
		{"0", 0},
		{"1", 1},
		{"100", 10},
		{"400", 20}, // 4x the stake buys 2x the weight
		{"99", 9},   // floors, never rounds up
	}

	for _, tc := range cases {
		stake := domain.ReputationStake{Staked: decimal.RequireFromString(tc.staked)}
		if got := VoteWeight(stake, 1.5); got != tc.want {
			t.Fatalf("staked=%s weight=%d want=%d", tc.staked, got, tc.want)
		}
	}
}

func TestVoteWeight_ExpertBoost(t *testing.T) {
	stake := domain.ReputationStake{
		Staked:       decimal.NewFromInt(100),
		TotalVotes:   10,
		CorrectVotes: 8,
	}

	if got := VoteWeight(stake, 1.5); got != 15 {
		t.Fatalf("expert weight=%d want=15", got)
	}
}

func TestVoteWeight_NoBoostWithoutTrackRecord(t *testing.T) {
	// Perfect accuracy but too few votes.
	stake := domain.ReputationStake{
		Staked:       decimal.NewFromInt(100),
		TotalVotes:   9,
		CorrectVotes: 9,
	}
	if got := VoteWeight(stake, 2.0); got != 10 {
		t.Fatalf("weight=%d want=10", got)
	}

	// Enough votes but weak accuracy.
	stake.TotalVotes = 20
	stake.CorrectVotes = 14
	if got := VoteWeight(stake, 2.0); got != 10 {
		t.Fatalf("weight=%d want=10", got)
	}
}

func TestSlashAmount(t *testing.T) {
	got := SlashAmount(decimal.NewFromInt(200), decimal.RequireFromString("0.10"))
	if got.Cmp(decimal.NewFromInt(20)) != 0 {
		t.Fatalf("slash=%s want=20", got)
	}

	if got := SlashAmount(decimal.NewFromInt(-5), decimal.RequireFromString("0.10")); !got.IsZero() {
		t.Fatalf("slash=%s want=0 for negative stake", got)
	}
}
