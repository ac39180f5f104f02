package governor

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/quorumlabs/foresight/internal/domain"
)

// Expert status requires a track record, not just a hot streak.
const (
	expertMinVotes = 10
	expertAccuracy = 0.75
)

// VoteWeight converts a reputation stake into ballot weight. The base
// weight is the integer square root of the staked amount, so doubling
// influence costs quadrupled stake. Participants with an established
// accurate voting record get the configured expert multiplier on top.
func VoteWeight(stake domain.ReputationStake, expertBoost float64) int64 {
	staked, _ := stake.Staked.Float64()
	if staked <= 0 {
		return 0
	}

	weight := math.Floor(math.Sqrt(staked))
	if isExpert(stake) {
		weight = math.Floor(weight * expertBoost)
	}
	return int64(weight)
}

func isExpert(stake domain.ReputationStake) bool {
	return stake.TotalVotes >= expertMinVotes && stake.Accuracy() >= expertAccuracy
}

// SlashAmount is the stake fraction forfeited by a vote on the losing side
// of an executed dispute.
func SlashAmount(staked decimal.Decimal, fraction decimal.Decimal) decimal.Decimal {
	if staked.IsNegative() || fraction.IsNegative() {
		return decimal.Zero
	}
	return staked.Mul(fraction).Round(10)
}
