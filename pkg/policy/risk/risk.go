// Package risk aggregates the risk weights of matched rules into a single
// 0-100 score and maps scores to discrete risk levels.
//
// Each matched rule contributes its risk weight with a priority-derived
// weight of (priority+100)/100, so every rule counts at least once and higher
// priority rules pull the aggregate toward their own risk weight:
//
//	score = min(100, Σ(riskWeight·w) / Σw)
//
// The arithmetic uses decimal math and truncates to two places so identical
// inputs always produce bit-identical scores. Truncation never lifts a score
// across a band boundary: the bands start on whole numbers, so the level of
// the reported score is the level of the exact quotient.
package risk

import (
	"github.com/shopspring/decimal"
)

// Level is a discrete risk band.
type Level string

const (
	LevelMinimal  Level = "minimal"
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Band lower bounds (inclusive).
const (
	CriticalThreshold = 80
	HighThreshold     = 60
	MediumThreshold   = 40
	LowThreshold      = 20

	// MaxScore caps the aggregate score.
	MaxScore = 100
)

var (
	hundred  = decimal.NewFromInt(100)
	maxScore = decimal.NewFromInt(MaxScore)
)

// Contribution is the part of a matched rule that feeds the score.
type Contribution struct {
	RuleID     string
	Priority   int
	RiskWeight int
}

// Assessment is the result of scoring one evaluation.
type Assessment struct {
	Score float64
	Level Level
}

// Weight returns the priority-derived weight (priority+100)/100.
func Weight(priority int) decimal.Decimal {
	return decimal.NewFromInt(int64(priority) + 100).Div(hundred)
}

// Score computes the aggregate score for the matched rules. An empty input
// scores 0.
func Score(matched []Contribution) float64 {
	if len(matched) == 0 {
		return 0
	}

	weightedSum := decimal.Zero
	totalWeight := decimal.Zero
	for _, c := range matched {
		w := Weight(c.Priority)
		weightedSum = weightedSum.Add(decimal.NewFromInt(int64(c.RiskWeight)).Mul(w))
		totalWeight = totalWeight.Add(w)
	}
	if totalWeight.IsZero() {
		return 0
	}

	score, _ := weightedSum.QuoRem(totalWeight, 2)
	if score.GreaterThan(maxScore) {
		score = maxScore
	}
	if score.IsNegative() {
		score = decimal.Zero
	}

	f, _ := score.Float64()
	return f
}

// LevelFor maps a score to its risk level.
func LevelFor(score float64) Level {
	switch {
	case score >= CriticalThreshold:
		return LevelCritical
	case score >= HighThreshold:
		return LevelHigh
	case score >= MediumThreshold:
		return LevelMedium
	case score >= LowThreshold:
		return LevelLow
	default:
		return LevelMinimal
	}
}

// Assess scores the matched rules and assigns the level.
func Assess(matched []Contribution) Assessment {
	score := Score(matched)
	return Assessment{Score: score, Level: LevelFor(score)}
}
