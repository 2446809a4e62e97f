package gate

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"options-advisor/internal/errors"
	"options-advisor/internal/models"
)

func metricsGen() gopter.Gen {
	return gopter.CombineGens(
		gen.Float64Range(-0.2, 0.3),
		gen.Float64Range(0, 5000),
		gen.Float64Range(0, 0.5),
		gen.IntRange(1, 10),
	).Map(func(v []interface{}) models.Metrics {
		return models.Metrics{
			SSR:              v[0].(float64),
			PremiumCollected: v[1].(float64),
			ROM:              v[2].(float64),
			RiskIndicator:    v[3].(int),
		}
	})
}

func filtersGen() gopter.Gen {
	return gopter.CombineGens(
		gen.Float64Range(0, 0.2),
		gen.Float64Range(0, 3000),
		gen.Float64Range(0, 0.3),
		gen.Float64Range(0, 10),
	).Map(func(v []interface{}) models.FilterConfig {
		return models.FilterConfig{
			MinSSR:     v[0].(float64),
			MinPremium: v[1].(float64),
			MinROM:     v[2].(float64),
			MaxRisk:    v[3].(float64),
		}
	})
}

// Property 1: PassesFilters is the conjunction of the four comparisons.
func TestProperty_FilterConjunction(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("passes iff every threshold holds", prop.ForAll(
		func(m models.Metrics, f models.FilterConfig) bool {
			all := m.SSR >= f.MinSSR &&
				m.PremiumCollected >= f.MinPremium &&
				m.ROM >= f.MinROM &&
				float64(m.RiskIndicator) <= f.MaxRisk
			return PassesFilters(m, f) == all
		},
		metricsGen(),
		filtersGen(),
	))

	properties.TestingRun(t)
}

// Property 2: relaxing any threshold never rejects a candidate that passed.
func TestProperty_FilterMonotonic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("relaxed filters admit a superset", prop.ForAll(
		func(m models.Metrics, f models.FilterConfig, relax float64, which int) bool {
			relaxed := f
			switch which {
			case 0:
				relaxed.MinSSR = f.MinSSR * relax
			case 1:
				relaxed.MinPremium = f.MinPremium * relax
			case 2:
				relaxed.MinROM = f.MinROM * relax
			default:
				relaxed.MaxRisk = f.MaxRisk + (10-f.MaxRisk)*(1-relax)
			}
			if PassesFilters(m, f) {
				return PassesFilters(m, relaxed)
			}
			return true
		},
		metricsGen(),
		filtersGen(),
		gen.Float64Range(0, 1),
		gen.IntRange(0, 3),
	))

	properties.TestingRun(t)
}

// Property 3: symbols outside the scope are never eligible, whatever the
// filter settings.
func TestProperty_ScopeEnforcement(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)
	scope := models.NewScopeList("ICICIBANK", "NIFTY", "M&M")

	properties.Property("only scoped symbols are eligible", prop.ForAll(
		func(symbol string) bool {
			return IsEligible(symbol, scope) == scope.Contains(models.NormalizeSymbol(symbol))
		},
		gen.OneGenOf(
			gen.OneConstOf("ICICIBANK", "nifty", "M&M", "HDFCBANK", "", " ", "NIFTY 50", "ICICI BANK"),
			gen.AlphaString(),
		),
	))

	properties.TestingRun(t)
}

func TestFilterViolation_Scenario(t *testing.T) {
	m := models.Metrics{SSR: 40.0 / 1500, ROM: 0.17, PremiumCollected: 17, RiskIndicator: 4}
	f := models.FilterConfig{MinSSR: 0.05, MinROM: 0.10, MinPremium: 10, MaxRisk: 7}

	assert.False(t, PassesFilters(m, f))
	assert.Equal(t, []string{FilterMinSSR}, Violations(m, f))
	assert.Equal(t, "FilterViolation:minSSR", FilterReason(Violations(m, f)[0]))
}

func TestIsEligible_FailsClosed(t *testing.T) {
	scope := models.NewScopeList("ICICIBANK")

	assert.True(t, IsEligible("ICICIBANK", scope))
	assert.True(t, IsEligible("icicibank", scope))
	assert.False(t, IsEligible("HDFCBANK", scope))
	assert.False(t, IsEligible("", scope))
	assert.False(t, IsEligible("ICICI$", models.NewScopeList("ICICI$")))
	assert.False(t, IsEligible("ICICIBANK", models.ScopeList{}))
	assert.False(t, IsEligible("ICICIBANK", models.NewScopeList()))
}

func TestValidateFilters(t *testing.T) {
	tests := []struct {
		name    string
		filters models.FilterConfig
		wantErr bool
	}{
		{"defaults", models.DefaultFilterConfig(), false},
		{"zero", models.FilterConfig{}, false},
		{"negative rom", models.FilterConfig{MinROM: -0.1, MaxRisk: 5}, true},
		{"negative premium", models.FilterConfig{MinPremium: -1, MaxRisk: 5}, true},
		{"risk above scale", models.FilterConfig{MaxRisk: 11}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFilters(tt.filters)
			if tt.wantErr {
				assert.True(t, errors.Is(err, errors.ErrInvalidFilterConfig))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCandidateViolations_HedgeExemption(t *testing.T) {
	f := models.FilterConfig{MinSSR: 0.05, MinROM: 0.10, MinPremium: 1000, MaxRisk: 7}

	paid := models.Candidate{Kind: models.KindHedge, Metrics: models.Metrics{SSR: 0.01, RiskIndicator: 5, PremiumPaid: 500}}
	assert.Empty(t, CandidateViolations(paid, f))

	collecting := models.Candidate{Kind: models.KindHedge, Metrics: models.Metrics{SSR: 0.01, RiskIndicator: 5, PremiumCollected: 50}}
	assert.Equal(t, []string{FilterMinSSR}, CandidateViolations(collecting, f))

	riskyPaid := models.Candidate{Kind: models.KindHedge, Metrics: models.Metrics{SSR: 0.1, RiskIndicator: 9, PremiumPaid: 200}}
	assert.Empty(t, CandidateViolations(riskyPaid, f))

	riskyCollecting := models.Candidate{Kind: models.KindHedge, Metrics: models.Metrics{SSR: 0.1, RiskIndicator: 9, PremiumCollected: 50}}
	assert.Equal(t, []string{FilterMaxRisk}, CandidateViolations(riskyCollecting, f))
}
