package scoring

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"options-advisor/internal/models"
)

func candidateGen() gopter.Gen {
	return gopter.CombineGens(
		gen.OneConstOf("NIFTY", "ICICIBANK", "INFY", "TCS"),
		gen.OneConstOf(0.05, 0.10, 0.15),
		gen.IntRange(1, 10),
		gen.OneConstOf(5.0, 6.0, 7.0),
		gen.IntRange(0, 999),
	).Map(func(v []interface{}) models.Candidate {
		rom := v[1].(float64)
		ri := v[2].(int)
		return models.Candidate{
			ID:         fmt.Sprintf("c-%03d", v[4].(int)),
			Symbol:     v[0].(string),
			Confidence: v[3].(float64),
			Metrics: models.Metrics{
				ROM:              rom,
				RiskIndicator:    ri,
				PremiumCollected: 1000,
				RewardRisk:       1000 / float64(ri),
			},
		}
	})
}

// Property 1: ranking depends only on the candidates, not on input order.
// Coarse generators force plenty of score and confidence ties.
func TestProperty_RankingDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("shuffled input ranks identically", prop.ForAll(
		func(cands []models.Candidate, seed int64) bool {
			shuffled := make([]models.Candidate, len(cands))
			copy(shuffled, cands)
			r := rand.New(rand.NewSource(seed))
			r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

			a := Rank(cands, DefaultWeights(), 0)
			b := Rank(shuffled, DefaultWeights(), 0)
			if len(a) != len(b) {
				return false
			}
			for i := range a {
				if a[i].Score != b[i].Score ||
					a[i].Candidate.Confidence != b[i].Candidate.Confidence ||
					a[i].Candidate.Symbol != b[i].Candidate.Symbol ||
					a[i].Candidate.ID != b[i].Candidate.ID {
					return false
				}
			}
			return true
		},
		gen.SliceOf(candidateGen()),
		gen.Int64(),
	))

	properties.Property("ranked output is ordered", prop.ForAll(
		func(cands []models.Candidate) bool {
			ranked := Rank(cands, DefaultWeights(), 0)
			for i := 1; i < len(ranked); i++ {
				if Less(ranked[i], ranked[i-1]) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(candidateGen()),
	))

	properties.Property("topN truncates without reordering", prop.ForAll(
		func(cands []models.Candidate, n int) bool {
			all := Rank(cands, DefaultWeights(), 0)
			top := Rank(cands, DefaultWeights(), n)
			want := n
			if want > len(all) {
				want = len(all)
			}
			if len(top) != want {
				return false
			}
			for i := range top {
				if top[i].Score != all[i].Score || top[i].Candidate.Symbol != all[i].Candidate.Symbol {
					return false
				}
			}
			return true
		},
		gen.SliceOf(candidateGen()),
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}

func TestScore_Formula(t *testing.T) {
	c := models.Candidate{Metrics: models.Metrics{RewardRisk: 425, ROM: 0.17, RiskIndicator: 4}}
	w := Weights{RewardRisk: 0.01, ROM: 10, Risk: 0.5}
	assert.InDelta(t, 4.25+1.7-2.0, Score(c, w), 1e-12)
}

func TestRank_TieBreaks(t *testing.T) {
	base := models.Metrics{ROM: 0.1, RiskIndicator: 5, RewardRisk: 100}
	cands := []models.Candidate{
		{ID: "b", Symbol: "TCS", Confidence: 6, Metrics: base},
		{ID: "a", Symbol: "INFY", Confidence: 6, Metrics: base},
		{ID: "c", Symbol: "INFY", Confidence: 8, Metrics: base},
		{ID: "d", Symbol: "SBIN", Confidence: 1, Metrics: models.Metrics{ROM: 0.2, RiskIndicator: 5, RewardRisk: 100}},
	}

	ranked := Rank(cands, DefaultWeights(), 0)
	var ids []string
	for _, s := range ranked {
		ids = append(ids, s.Candidate.ID)
	}
	assert.Equal(t, []string{"d", "c", "a", "b"}, ids)
	assert.Equal(t, "b", cands[0].ID, "input must not be reordered")

	assert.Len(t, Rank(cands, DefaultWeights(), 2), 2)
	assert.Len(t, Rank(cands, DefaultWeights(), -1), 4)
}

func TestDistribution(t *testing.T) {
	d := Distribution([]models.Candidate{
		{Metrics: models.Metrics{RiskIndicator: 2}},
		{Metrics: models.Metrics{RiskIndicator: 5}},
		{Metrics: models.Metrics{RiskIndicator: 9}},
		{Metrics: models.Metrics{RiskIndicator: 8}},
	})
	assert.Equal(t, map[string]int{"Low": 1, "Medium": 1, "High": 2}, d)
}
