// Package scoring ranks ledger tasks by desirability and picks the next one to work on.
package scoring

import (
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"flowai/internal/domain"
)

const (
	baseScore = 10
	// every 0.01 ether of reward is worth one point
	rewardFactor = 100

	urgencyRelaxed = 5
	urgencySoon    = 10
	urgencyNow     = 15

	bonusWriting     = 20
	bonusProgramming = 15
	bonusResearch    = 10
)

var hundred = decimal.NewFromInt(rewardFactor)

// Score is an additive heuristic over reward, time left and category label.
// Tasks at or past their deadline get the largest urgency bonus; callers that
// want them ineligible filter them out before scoring.
func Score(t domain.Task, now time.Time) float64 {
	score := float64(baseScore)
	score += domain.ToEther(t.RewardOrZero()).Mul(hundred).InexactFloat64()
	score += float64(urgency(t.Deadline - now.Unix()))
	score += float64(categoryBonus(t.Category))
	return score
}

func urgency(secondsLeft int64) int {
	switch {
	case secondsLeft > 86400:
		return urgencyRelaxed
	case secondsLeft > 3600:
		return urgencySoon
	default:
		return urgencyNow
	}
}

// categoryBonus matches the raw label. The precedence order matters here: a
// label like "code writing" earns the writing bonus.
func categoryBonus(label string) int {
	l := strings.ToLower(label)
	switch {
	case strings.Contains(l, "content"), strings.Contains(l, "writing"):
		return bonusWriting
	case strings.Contains(l, "programming"), strings.Contains(l, "code"):
		return bonusProgramming
	case strings.Contains(l, "research"):
		return bonusResearch
	default:
		return 0
	}
}

// Profitable reports whether reward covers at least twice the fee of a
// transaction with gasLimit at gasPrice. A zero fee is always profitable.
func Profitable(reward *big.Int, gasLimit uint64, gasPrice *big.Int) bool {
	if gasPrice == nil || gasPrice.Sign() == 0 || gasLimit == 0 {
		return true
	}
	if reward == nil {
		return false
	}
	cost := new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), gasPrice)
	return reward.Cmp(new(big.Int).Mul(cost, big.NewInt(2))) >= 0
}
