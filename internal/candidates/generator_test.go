package candidates

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-advisor/internal/models"
)

var expiry = time.Date(2030, 1, 31, 15, 30, 0, 0, time.UTC)

func quote(symbol string, strike float64, typ models.OptionType, premium float64) models.OptionQuote {
	return models.OptionQuote{
		Symbol:       symbol,
		Strike:       strike,
		OptionType:   typ,
		Expiry:       expiry,
		LastPrice:    premium,
		LotSize:      100,
		MarginPerLot: 10000,
	}
}

func signal(symbol string) models.SentimentSignal {
	return models.SentimentSignal{
		Symbol:          symbol,
		ShortTermLabel:  "Bullish",
		MediumTermLabel: "Neutral",
		RiskIndicator:   4,
		Confidence:      7,
	}
}

func kinds(cands []models.Candidate, kind models.CandidateKind) []models.Candidate {
	var out []models.Candidate
	for _, c := range cands {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

func TestGenerate_ScopeViolationBeforeMetrics(t *testing.T) {
	g := NewGenerator(DefaultOptions())
	stray := quote("HDFCBANK", 1600, models.OptionTypePut, 20)
	stray.MarginPerLot = 0
	stray.LotSize = 0 // would fail metric computation if it were reached

	out := g.Generate(Input{
		Chain: models.OptionChain{
			Symbol:    "ICICIBANK",
			SpotPrice: 1500,
			Quotes:    []models.OptionQuote{stray, quote("ICICIBANK", 1400, models.OptionTypePut, 17)},
		},
		Signal:          signal("ICICIBANK"),
		AvailableMargin: 50000,
		Scope:           models.NewScopeList("ICICIBANK"),
		Filters:         models.FilterConfig{MaxRisk: 10},
	})

	for _, c := range out.Candidates {
		assert.Equal(t, "ICICIBANK", c.Symbol)
	}
	require.NotEmpty(t, out.Skipped)
	assert.Equal(t, "HDFCBANK", out.Skipped[0].Symbol)
	assert.Equal(t, models.ReasonScopeViolation, out.Skipped[0].Reason)
	assert.Equal(t, models.StageScope, out.Skipped[0].Stage)
	for _, s := range out.Skipped {
		assert.NotEqual(t, models.ReasonDivisionInvalid, s.Reason)
	}
}

func TestGenerate_NewSkipsHeldAndUnaffordable(t *testing.T) {
	g := NewGenerator(Options{MaxLotsPerTrade: 2})
	held := models.Position{
		Symbol: "ICICIBANK", Strike: 1400, OptionType: models.OptionTypePut, Expiry: expiry,
		Quantity: -100, LotSize: 100, MarginUsed: 10000, PremiumCollected: 1500, SpotPrice: 1500,
	}
	holdings, skipped := EvaluateHoldings([]models.Position{held})
	require.Len(t, holdings, 1)
	require.Empty(t, skipped)

	pricey := quote("ICICIBANK", 1380, models.OptionTypePut, 15)
	pricey.MarginPerLot = 90000

	out := g.Generate(Input{
		Chain: models.OptionChain{
			Symbol:    "ICICIBANK",
			SpotPrice: 1500,
			Quotes: []models.OptionQuote{
				quote("ICICIBANK", 1400, models.OptionTypePut, 16),
				quote("ICICIBANK", 1420, models.OptionTypePut, 18),
				pricey,
			},
		},
		Signal:          signal("ICICIBANK"),
		Holdings:        holdings,
		AvailableMargin: 25000,
		Scope:           models.NewScopeList("ICICIBANK"),
		Filters:         models.FilterConfig{MaxRisk: 10},
	})

	news := kinds(out.Candidates, models.KindNew)
	require.Len(t, news, 1)
	assert.Equal(t, 1420.0, news[0].Leg.Quote.Strike)
	assert.Equal(t, 2, news[0].Leg.Lots)
	assert.Equal(t, 200, news[0].Leg.Quantity)
	assert.Nil(t, news[0].Close)
	assert.InDelta(t, 3600.0/20000, news[0].Metrics.ROM, 1e-12)

	var insufficient bool
	for _, s := range out.Skipped {
		if s.Reason == models.ReasonInsufficientMargin {
			insufficient = true
		}
	}
	assert.True(t, insufficient)
}

func TestGenerate_NewSkipsContractsHeldLong(t *testing.T) {
	g := NewGenerator(DefaultOptions())
	long := models.Position{
		Symbol: "ICICIBANK", Strike: 1420, OptionType: models.OptionTypePut, Expiry: expiry,
		Quantity: 100, LotSize: 100, MarginUsed: 1800, SpotPrice: 1500,
	}
	holdings, _ := EvaluateHoldings([]models.Position{long})
	require.Empty(t, holdings)

	out := g.Generate(Input{
		Chain: models.OptionChain{
			Symbol:    "ICICIBANK",
			SpotPrice: 1500,
			Quotes: []models.OptionQuote{
				quote("ICICIBANK", 1400, models.OptionTypePut, 16),
				quote("ICICIBANK", 1420, models.OptionTypePut, 18),
			},
		},
		Signal:          signal("ICICIBANK"),
		Holdings:        holdings,
		Held:            []models.Position{long},
		AvailableMargin: 100000,
		Scope:           models.NewScopeList("ICICIBANK"),
		Filters:         models.FilterConfig{MaxRisk: 10},
	})

	news := kinds(out.Candidates, models.KindNew)
	require.Len(t, news, 1)
	assert.Equal(t, 1400.0, news[0].Leg.Quote.Strike)
}

func TestGenerate_MinOpenInterest(t *testing.T) {
	liquid := quote("ICICIBANK", 1400, models.OptionTypePut, 16)
	liquid.OpenInterest = 5000
	thin := quote("ICICIBANK", 1420, models.OptionTypePut, 18)
	thin.OpenInterest = 200

	in := Input{
		Chain:           models.OptionChain{Symbol: "ICICIBANK", SpotPrice: 1500, Quotes: []models.OptionQuote{liquid, thin}},
		Signal:          signal("ICICIBANK"),
		AvailableMargin: 100000,
		Scope:           models.NewScopeList("ICICIBANK"),
		Filters:         models.FilterConfig{MaxRisk: 10},
	}

	assert.Len(t, kinds(NewGenerator(DefaultOptions()).Generate(in).Candidates, models.KindNew), 2)

	out := NewGenerator(Options{MinOpenInterest: 1000}).Generate(in)
	news := kinds(out.Candidates, models.KindNew)
	require.Len(t, news, 1)
	assert.Equal(t, 1400.0, news[0].Leg.Quote.Strike)

	var illiquid []models.SkipEntry
	for _, s := range out.Skipped {
		if s.Reason == models.ReasonIlliquid {
			illiquid = append(illiquid, s)
		}
	}
	require.Len(t, illiquid, 1)
	assert.Contains(t, illiquid[0].Detail, "open interest 200 below 1000")
}

func TestGenerate_SwapRequiresDominance(t *testing.T) {
	g := NewGenerator(DefaultOptions())
	// ROM 9%, SSR 1%
	held := models.Position{
		Symbol: "ICICIBANK", Strike: 1485, OptionType: models.OptionTypePut, Expiry: expiry,
		Quantity: -100, LotSize: 100, MarginUsed: 10000, PremiumCollected: 900, SpotPrice: 1500,
	}
	holdings, _ := EvaluateHoldings([]models.Position{held})

	out := g.Generate(Input{
		Chain: models.OptionChain{
			Symbol:    "ICICIBANK",
			SpotPrice: 1500,
			Quotes: []models.OptionQuote{
				quote("ICICIBANK", 1460, models.OptionTypePut, 17), // ROM 17%, SSR 2.67%
				quote("ICICIBANK", 1515, models.OptionTypePut, 20), // ROM 20%, SSR -1%
				quote("ICICIBANK", 1450, models.OptionTypePut, 8),  // ROM 8%, SSR 3.33%
			},
		},
		Signal:          signal("ICICIBANK"),
		Holdings:        holdings,
		AvailableMargin: 5000,
		Scope:           models.NewScopeList("ICICIBANK"),
		Filters:         models.FilterConfig{MaxRisk: 10},
	})

	swaps := kinds(out.Candidates, models.KindSwap)
	require.Len(t, swaps, 1)
	assert.Equal(t, 1460.0, swaps[0].Leg.Quote.Strike)
	require.NotNil(t, swaps[0].Close)
	assert.Equal(t, held.Key(), swaps[0].Close.Key())
	assert.NoError(t, swaps[0].Validate())

	// the freed margin is what makes the swap affordable
	assert.Empty(t, kinds(out.Candidates, models.KindNew))
}

func TestDominates_Scenario(t *testing.T) {
	assert.True(t, Dominates(0.17, 0.0267, 0.09, 0.01))
	assert.False(t, Dominates(0.20, -0.01, 0.09, 0.01))
	assert.False(t, Dominates(0.09, 0.05, 0.09, 0.01))
}

func TestGenerate_HedgeForLongExposure(t *testing.T) {
	g := NewGenerator(Options{MaxLotsPerTrade: 2, HedgeSSR: 0.05})
	held := models.Position{
		Symbol: "HDFCBANK", Strike: 1550, OptionType: models.OptionTypePut, Expiry: expiry,
		Quantity: -200, LotSize: 100, MarginUsed: 20000, PremiumCollected: 1000, SpotPrice: 1650,
	}
	holdings, _ := EvaluateHoldings([]models.Position{held})

	out := g.Generate(Input{
		Chain: models.OptionChain{
			Symbol:    "HDFCBANK",
			SpotPrice: 1600,
			Quotes: []models.OptionQuote{
				quote("HDFCBANK", 1440, models.OptionTypePut, 3),
				quote("HDFCBANK", 1520, models.OptionTypePut, 6),
				quote("HDFCBANK", 1700, models.OptionTypeCall, 5),
			},
		},
		Signal:          signal("HDFCBANK"),
		Holdings:        holdings,
		AvailableMargin: 0,
		Exposure: []models.ExposureFlag{
			{Sector: "Banking", Symbols: []string{"HDFCBANK"}, Direction: models.ExposureLong, Share: 0.6},
		},
		Sector:  "Banking",
		Scope:   models.NewScopeList("HDFCBANK"),
		Filters: models.FilterConfig{MinROM: 0.5, MinPremium: 1e6, MaxRisk: 10},
	})

	// no margin at all: nothing is affordable
	assert.Empty(t, kinds(out.Candidates, models.KindHedge))

	out = g.Generate(Input{
		Chain: models.OptionChain{
			Symbol:    "HDFCBANK",
			SpotPrice: 1600,
			Quotes: []models.OptionQuote{
				quote("HDFCBANK", 1440, models.OptionTypePut, 3),
				quote("HDFCBANK", 1520, models.OptionTypePut, 6),
				quote("HDFCBANK", 1700, models.OptionTypeCall, 5),
			},
		},
		Signal:          signal("HDFCBANK"),
		Holdings:        holdings,
		AvailableMargin: 100000,
		Exposure: []models.ExposureFlag{
			{Sector: "Banking", Symbols: []string{"HDFCBANK"}, Direction: models.ExposureLong, Share: 0.6},
		},
		Sector:  "Banking",
		Scope:   models.NewScopeList("HDFCBANK"),
		Filters: models.FilterConfig{MinROM: 0.5, MinPremium: 1e6, MaxRisk: 10},
	})

	hedges := kinds(out.Candidates, models.KindHedge)
	require.Len(t, hedges, 1)
	h := hedges[0]
	assert.Equal(t, models.SideBuy, h.Leg.Side)
	assert.Equal(t, models.OptionTypePut, h.Leg.Quote.OptionType)
	assert.Equal(t, 1520.0, h.Leg.Quote.Strike) // safety 5% is the closest to target
	assert.Equal(t, 2, h.Leg.Lots)
	assert.Zero(t, h.Metrics.PremiumCollected)
	assert.InDelta(t, 1200.0, h.Metrics.PremiumPaid, 1e-9)
}

func TestGenerate_DeterministicIDs(t *testing.T) {
	g := NewGenerator(DefaultOptions())
	in := Input{
		Chain: models.OptionChain{
			Symbol:    "NIFTY",
			SpotPrice: 25000,
			Quotes: []models.OptionQuote{
				quote("NIFTY", 24000, models.OptionTypePut, 40),
				quote("NIFTY", 26000, models.OptionTypeCall, 35),
			},
		},
		Signal:          signal("NIFTY"),
		AvailableMargin: 100000,
		Scope:           models.NewScopeList("NIFTY"),
		Filters:         models.FilterConfig{MaxRisk: 10},
	}

	first := g.Generate(in)
	second := g.Generate(in)
	require.Len(t, first.Candidates, 2)
	assert.Equal(t, first, second)
	assert.NotEqual(t, first.Candidates[0].ID, first.Candidates[1].ID)
}

// Property 1: every SWAP candidate strictly dominates the position it closes
// on both ROM and SSR, and every NEW candidate fits the available margin.
func TestProperty_GeneratedCandidatesRespectConstraints(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("swap dominance and margin fit", prop.ForAll(
		func(premiums []float64, heldPremium float64, heldStrike float64, available float64) bool {
			g := NewGenerator(Options{MaxLotsPerTrade: 3})
			held := models.Position{
				Symbol: "INFY", Strike: heldStrike, OptionType: models.OptionTypePut, Expiry: expiry,
				Quantity: -100, LotSize: 100, MarginUsed: 10000, PremiumCollected: heldPremium, SpotPrice: 1500,
			}
			holdings, _ := EvaluateHoldings([]models.Position{held})

			var quotes []models.OptionQuote
			for i, p := range premiums {
				quotes = append(quotes, quote("INFY", 1300+float64(i)*10, models.OptionTypePut, p))
			}
			out := g.Generate(Input{
				Chain:           models.OptionChain{Symbol: "INFY", SpotPrice: 1500, Quotes: quotes},
				Signal:          signal("INFY"),
				Holdings:        holdings,
				AvailableMargin: available,
				Scope:           models.NewScopeList("INFY"),
				Filters:         models.FilterConfig{MaxRisk: 10},
			})

			for _, c := range out.Candidates {
				switch c.Kind {
				case models.KindSwap:
					if c.Close == nil || !Dominates(c.Metrics.ROM, c.Metrics.SSR, holdings[0].ROM, holdings[0].SSR) {
						return false
					}
					if c.Metrics.MarginRequired > available+held.MarginUsed {
						return false
					}
				case models.KindNew:
					if c.Close != nil || c.Metrics.MarginRequired > available {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOfN(8, gen.Float64Range(1, 40)),
		gen.Float64Range(100, 3000),
		gen.Float64Range(1300, 1480),
		gen.Float64Range(0, 40000),
	))

	properties.TestingRun(t)
}
