// Package scoring provides candidate scoring and deterministic ranking.
package scoring

import (
	"sort"

	"options-advisor/internal/analysis/metrics"
	"options-advisor/internal/models"
)

// Default composite score weights.
const (
	DefaultRewardRiskWeight = 0.001
	DefaultROMWeight        = 10.0
	DefaultRiskWeight       = 0.25
)

// Weights defines the weights of the composite score
// rewardRisk*RewardRisk + rom*ROM - riskIndicator*Risk.
type Weights struct {
	RewardRisk float64 `mapstructure:"reward_risk" json:"reward_risk"`
	ROM        float64 `mapstructure:"rom" json:"rom"`
	Risk       float64 `mapstructure:"risk" json:"risk"`
}

// DefaultWeights returns the default score weights.
func DefaultWeights() Weights {
	return Weights{
		RewardRisk: DefaultRewardRiskWeight,
		ROM:        DefaultROMWeight,
		Risk:       DefaultRiskWeight,
	}
}

// Score calculates the composite score of a candidate.
func Score(c models.Candidate, w Weights) float64 {
	m := c.Metrics
	return m.RewardRisk*w.RewardRisk + m.ROM*w.ROM - float64(m.RiskIndicator)*w.Risk
}

// Scored pairs a candidate with its composite score.
type Scored struct {
	Candidate models.Candidate
	Score     float64
}

// Less orders a before b: higher score, then higher confidence, then symbol,
// then candidate ID so that equal-symbol ties are also stable.
func Less(a, b Scored) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Candidate.Confidence != b.Candidate.Confidence {
		return a.Candidate.Confidence > b.Candidate.Confidence
	}
	if a.Candidate.Symbol != b.Candidate.Symbol {
		return a.Candidate.Symbol < b.Candidate.Symbol
	}
	return a.Candidate.ID < b.Candidate.ID
}

// Rank scores and orders candidates, keeping at most topN (topN <= 0 keeps
// all). The input slice is not modified.
func Rank(cands []models.Candidate, w Weights, topN int) []Scored {
	scored := make([]Scored, len(cands))
	for i, c := range cands {
		scored[i] = Scored{Candidate: c, Score: Score(c, w)}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return Less(scored[i], scored[j])
	})
	if topN > 0 && len(scored) > topN {
		scored = scored[:topN]
	}
	return scored
}

// Distribution counts candidates per risk group.
func Distribution(cands []models.Candidate) map[string]int {
	out := map[string]int{
		metrics.RiskGroupLow:    0,
		metrics.RiskGroupMedium: 0,
		metrics.RiskGroupHigh:   0,
	}
	for _, c := range cands {
		out[metrics.RiskGroup(float64(c.Metrics.RiskIndicator))]++
	}
	return out
}
