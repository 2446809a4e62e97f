package engine

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"options-advisor/internal/analysis/portfolio"
	"options-advisor/internal/analysis/scoring"
	"options-advisor/internal/gate"
	"options-advisor/internal/models"
	"options-advisor/internal/review"
	"options-advisor/pkg/utils"
)

var recommendationNamespace = uuid.MustParse("8f7c1a52-3b1e-4d55-9a0e-6c4b2f1d9e70")

// builder turns accepted review outcomes into recommendations.
type builder struct {
	scope   models.ScopeList
	filters models.FilterConfig
	pc      models.PortfolioContext
	weights scoring.Weights
	margins map[string]float64 // margin used per sector by short positions
}

func newBuilder(scope models.ScopeList, filters models.FilterConfig, pc models.PortfolioContext, w scoring.Weights) *builder {
	margins := make(map[string]float64)
	for _, p := range pc.Positions {
		if p.IsShort() && p.MarginUsed > 0 {
			margins[sectorFor(p, pc)] += p.MarginUsed
		}
	}
	return &builder{scope: scope, filters: filters, pc: pc, weights: w, margins: margins}
}

func sectorFor(p models.Position, pc models.PortfolioContext) string {
	if p.Sector != "" {
		return p.Sector
	}
	return pc.SectorOf(p.Symbol)
}

// build re-validates every accepted candidate, re-ranks the survivors on
// their reviewed metrics and assembles the output records.
func (b *builder) build(accepted []review.Outcome) ([]models.TradeRecommendation, []models.SkipEntry) {
	var skipped []models.SkipEntry
	outcomes := make(map[string]review.Outcome, len(accepted))
	var valid []models.Candidate
	for _, o := range accepted {
		c := o.Candidate
		if reason := gate.CheckCandidate(c, b.scope, b.filters); reason != "" {
			skipped = append(skipped, models.SkipEntry{
				Symbol:      c.Symbol,
				CandidateID: c.ID,
				Stage:       models.StageRevalidate,
				Reason:      models.ReasonRevalidationFailed,
				Detail:      reason,
			})
			continue
		}
		outcomes[c.ID] = o
		valid = append(valid, c)
	}

	ranked := scoring.Rank(valid, b.weights, 0)
	recs := make([]models.TradeRecommendation, 0, len(ranked))
	for i, s := range ranked {
		o := outcomes[s.Candidate.ID]
		trace := o.Trace
		if len(trace) == 0 {
			trace = []string{s.Candidate.Describe()}
		}
		recs = append(recs, models.TradeRecommendation{
			ID:                  uuid.NewSHA1(recommendationNamespace, []byte(s.Candidate.ID)).String(),
			Rank:                i + 1,
			Candidate:           s.Candidate,
			Score:               s.Score,
			ConfidenceScore:     o.Confidence,
			ReasoningTrace:      trace,
			PortfolioImpactNote: b.impactNote(s.Candidate),
			ReviewIterations:    o.Iterations,
			QualityScore:        QualityScore(s.Candidate.Metrics, o.Confidence),
		})
	}
	return recs, skipped
}

// impactNote describes how the candidate moves margin and sector exposure.
func (b *builder) impactNote(c models.Candidate) string {
	sector := c.Sector
	if sector == "" {
		sector = b.pc.SectorOf(c.Symbol)
	}
	before := shares(b.margins)

	after := make(map[string]float64, len(b.margins)+1)
	for s, m := range b.margins {
		after[s] = m
	}
	if c.Close != nil {
		after[sectorFor(*c.Close, b.pc)] -= c.Close.MarginUsed
	}
	if c.Leg.Side == models.SideSell {
		after[sector] += c.Metrics.MarginRequired
	}
	afterShares := shares(after)

	var parts []string
	m := c.Metrics
	switch c.Kind {
	case models.KindNew:
		parts = append(parts, fmt.Sprintf("Blocks %s of %s available margin for %s premium",
			utils.FormatIndianCurrency(m.MarginRequired), utils.FormatIndianCurrency(b.pc.AvailableMargin),
			utils.FormatIndianCurrency(m.PremiumCollected)))
	case models.KindSwap:
		net := m.MarginRequired - c.Close.MarginUsed
		parts = append(parts, fmt.Sprintf("Frees %s by closing %s %.0f %s, net margin change %s",
			utils.FormatIndianCurrency(c.Close.MarginUsed), c.Close.Symbol, c.Close.Strike, c.Close.OptionType,
			signedCurrency(net)))
	case models.KindHedge:
		parts = append(parts, fmt.Sprintf("Pays %s premium to cap %s downside",
			utils.FormatIndianCurrency(m.PremiumPaid), sector))
	}
	parts = append(parts, fmt.Sprintf("%s exposure %s -> %s of written margin",
		sector, utils.FormatRatio(before[sector]), utils.FormatRatio(afterShares[sector])))
	if sum := b.alertNote(c); sum != "" {
		parts = append(parts, sum)
	}
	return strings.Join(parts, "; ")
}

// alertNote warns when the trade pushes utilization past the margin alert.
func (b *builder) alertNote(c models.Candidate) string {
	used := b.pc.UsedMargin
	avail := b.pc.AvailableMargin
	delta := c.Metrics.MarginRequired
	if c.Close != nil {
		delta -= c.Close.MarginUsed
	}
	u, alert := portfolio.MarginUtilization(used+delta, avail-delta, portfolio.DefaultOptions().MarginAlert)
	if !alert {
		return ""
	}
	return fmt.Sprintf("margin utilization would reach %s", utils.FormatRatio(u))
}

func shares(margins map[string]float64) map[string]float64 {
	total := 0.0
	for _, m := range margins {
		if m > 0 {
			total += m
		}
	}
	out := make(map[string]float64, len(margins))
	if total == 0 {
		return out
	}
	for s, m := range margins {
		out[s] = math.Max(0, m) / total
	}
	return out
}

func signedCurrency(v float64) string {
	if v < 0 {
		return "-" + utils.FormatIndianCurrency(-v)
	}
	return "+" + utils.FormatIndianCurrency(v)
}

// QualityScore grades a recommendation in [0, 1] from its reviewed
// confidence and headline metrics.
func QualityScore(m models.Metrics, confidence float64) float64 {
	q := 0.8
	switch {
	case confidence >= 8:
		q += 0.1
	case confidence <= 6:
		q -= 0.1
	}
	if m.ROM >= 0.10 {
		q += 0.05
	}
	if m.SSR >= 0.05 {
		q += 0.05
	}
	return math.Max(0, math.Min(1, q))
}
