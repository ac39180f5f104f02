package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReputationStake is a participant's standing in the dispute process: the
// stake that backs their votes, an accuracy-derived score, and the cooldown
// anchor that delays withdrawal after the most recent stake.
type ReputationStake struct {
	Participant  Address
	Staked       decimal.Decimal
	Score        int64
	CorrectVotes int64
	TotalVotes   int64
	Slashed      decimal.Decimal
	LastStakeAt  time.Time
	UpdatedAt    time.Time
}

// Accuracy is the fraction of recorded votes that were correct, or 0 when
// no votes have been recorded.
func (r ReputationStake) Accuracy() float64 {
	if r.TotalVotes == 0 {
		return 0
	}
	return float64(r.CorrectVotes) / float64(r.TotalVotes)
}

// CanUnstake reports whether the cooldown since the last stake has elapsed.
func (r ReputationStake) CanUnstake(now time.Time, cooldown time.Duration) bool {
	return !now.Before(r.LastStakeAt.Add(cooldown))
}
