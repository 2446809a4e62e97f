// Package candidates enumerates NEW, SWAP and HEDGE actions for one symbol's
// option chain. Generation is pure: a Generator holds only its options and
// every call returns freshly allocated slices, so symbols can be processed
// in parallel.
package candidates

import (
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"

	"options-advisor/internal/analysis/metrics"
	"options-advisor/internal/errors"
	"options-advisor/internal/gate"
	"options-advisor/internal/models"
	"options-advisor/pkg/utils"
)

// idNamespace scopes the name-based candidate IDs.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("options-advisor/candidate"))

// Options tunes candidate generation.
type Options struct {
	MaxLotsPerTrade int     `mapstructure:"max_lots_per_trade"` // lots per NEW/SWAP leg and cap for hedges
	MaxSwapTargets  int     `mapstructure:"max_swap_targets"`   // swap targets kept per held position
	MarginRate      float64 `mapstructure:"margin_rate"`        // notional fraction used when a quote has no margin
	HedgeSSR        float64 `mapstructure:"hedge_ssr"`          // preferred strike distance for protective legs
	MinOpenInterest int64   `mapstructure:"min_open_interest"`  // quotes below this are not traded, 0 disables
}

// DefaultOptions returns the default generation options.
func DefaultOptions() Options {
	return Options{
		MaxLotsPerTrade: 1,
		MaxSwapTargets:  3,
		MarginRate:      metrics.DefaultMarginRate,
		HedgeSSR:        0.05,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxLotsPerTrade <= 0 {
		o.MaxLotsPerTrade = d.MaxLotsPerTrade
	}
	if o.MaxSwapTargets <= 0 {
		o.MaxSwapTargets = d.MaxSwapTargets
	}
	if o.MarginRate <= 0 {
		o.MarginRate = d.MarginRate
	}
	if o.HedgeSSR <= 0 {
		o.HedgeSSR = d.HedgeSSR
	}
	return o
}

// Holding is an open short position with its precomputed ROM and SSR, the
// baseline a swap target must beat.
type Holding struct {
	Position models.Position
	ROM      float64
	SSR      float64
}

// EvaluateHoldings computes swap baselines for the short positions given.
// Positions whose metrics cannot be computed are reported and left out.
func EvaluateHoldings(positions []models.Position) ([]Holding, []models.SkipEntry) {
	var holdings []Holding
	var skipped []models.SkipEntry
	for _, p := range positions {
		if !p.IsShort() {
			continue
		}
		rom, err := metrics.ROM(p.PremiumCollected, p.MarginUsed)
		if err == nil {
			var ssr float64
			if ssr, err = metrics.StrikeSafety(p.OptionType, p.SpotPrice, p.Strike); err == nil {
				holdings = append(holdings, Holding{Position: p, ROM: rom, SSR: ssr})
				continue
			}
		}
		skipped = append(skipped, models.SkipEntry{
			Symbol: models.NormalizeSymbol(p.Symbol),
			Stage:  models.StageGenerate,
			Reason: models.ReasonDivisionInvalid,
			Detail: fmt.Sprintf("position %s: %v", p.Key(), err),
		})
	}
	return holdings, skipped
}

// Input is everything needed to generate candidates for one symbol.
type Input struct {
	Chain           models.OptionChain
	Signal          models.SentimentSignal
	Holdings        []Holding
	Held            []models.Position // every open position in scope, long or short
	AvailableMargin float64
	Exposure        []models.ExposureFlag
	Sector          string
	Scope           models.ScopeList
	Filters         models.FilterConfig
}

// Output holds the generated candidates and everything dropped on the way.
type Output struct {
	Candidates []models.Candidate
	Skipped    []models.SkipEntry
}

// Generator produces candidates.
type Generator struct {
	opts Options
}

// NewGenerator creates a generator with the given options.
func NewGenerator(opts Options) *Generator {
	return &Generator{opts: opts.withDefaults()}
}

// leg is a filter-checked short leg evaluated per single lot.
type leg struct {
	quote   models.OptionQuote
	perLot  float64
	unit    models.Metrics
	passing bool
}

// Generate enumerates candidates for in.Chain. Quotes for symbols outside the
// scope are dropped before any metric is computed.
func (g *Generator) Generate(in Input) Output {
	var out Output
	symbol := models.NormalizeSymbol(in.Chain.Symbol)

	if !gate.IsEligible(symbol, in.Scope) {
		out.skip(symbol, "", models.StageScope, models.ReasonScopeViolation, "chain symbol not in scope")
		return out
	}

	quotes := sortedQuotes(in.Chain.Quotes, symbol)
	held := heldContracts(in.Held, in.Holdings)

	var legs []leg
	var valid []models.OptionQuote
	for _, q := range quotes {
		if !gate.IsEligible(q.Symbol, in.Scope) {
			out.skip(models.NormalizeSymbol(q.Symbol), "", models.StageScope, models.ReasonScopeViolation, "quote "+q.Key())
			continue
		}
		if models.NormalizeSymbol(q.Symbol) != symbol {
			out.skip(models.NormalizeSymbol(q.Symbol), "", models.StageGenerate, models.ReasonInvalidQuote,
				fmt.Sprintf("quote %s does not belong to chain %s", q.Key(), symbol))
			continue
		}
		if _, err := q.Premium(); err != nil {
			out.skip(symbol, "", models.StageGenerate, models.ReasonInvalidQuote, fmt.Sprintf("%s: %v", q.Key(), err))
			continue
		}
		if floor := g.opts.MinOpenInterest; floor > 0 && q.OpenInterest < floor {
			out.skip(symbol, "", models.StageGenerate, models.ReasonIlliquid,
				fmt.Sprintf("%s open interest %d below %d", q.Key(), q.OpenInterest, floor))
			continue
		}
		valid = append(valid, q)

		l, ok := g.evaluateLeg(&out, q, in)
		if !ok {
			continue
		}
		legs = append(legs, l)

		if held[q.Key()] {
			continue
		}
		g.newCandidate(&out, l, in)
	}

	g.swapCandidates(&out, legs, in)
	g.hedgeCandidates(&out, valid, in)

	return out
}

func (g *Generator) evaluateLeg(out *Output, q models.OptionQuote, in Input) (leg, bool) {
	spot := in.Chain.SpotPrice
	perLot, err := metrics.MarginPerLot(q, spot, g.opts.MarginRate)
	if err != nil {
		out.skip(q.Symbol, "", models.StageGenerate, models.ReasonDivisionInvalid, fmt.Sprintf("%s: %v", q.Key(), err))
		return leg{}, false
	}
	unit, err := metrics.ForLeg(q, spot, 1, models.SideSell, in.Signal, g.opts.MarginRate)
	if err != nil {
		out.skip(q.Symbol, "", models.StageGenerate, metricReason(err), fmt.Sprintf("%s: %v", q.Key(), err))
		return leg{}, false
	}
	return leg{
		quote:   q,
		perLot:  perLot,
		unit:    unit,
		passing: gate.PassesFilters(unit, in.Filters),
	}, true
}

func (g *Generator) newCandidate(out *Output, l leg, in Input) {
	q := l.quote
	lots := g.affordableLots(in.AvailableMargin, l.perLot)
	c := models.Candidate{
		Kind:       models.KindNew,
		Symbol:     models.NormalizeSymbol(q.Symbol),
		Sector:     in.Sector,
		SpotPrice:  in.Chain.SpotPrice,
		Confidence: in.Signal.Confidence,
		Signal:     sentimentLabel(in.Signal),
	}
	c.ID = candidateID(models.KindNew, q.Key(), "")

	if lots == 0 {
		out.skip(c.Symbol, c.ID, models.StageGenerate, models.ReasonInsufficientMargin,
			fmt.Sprintf("%s needs %s per lot, %s available", q.Key(),
				utils.FormatIndianCurrency(l.perLot), utils.FormatIndianCurrency(in.AvailableMargin)))
		return
	}

	m, err := metrics.ForLeg(q, in.Chain.SpotPrice, lots, models.SideSell, in.Signal, g.opts.MarginRate)
	if err != nil {
		out.skip(c.Symbol, c.ID, models.StageGenerate, metricReason(err), err.Error())
		return
	}
	c.Metrics = m
	c.Leg = models.Leg{Quote: q, Side: models.SideSell, Lots: lots, Quantity: lots * q.LotSize}

	if v := gate.CandidateViolations(c, in.Filters); len(v) > 0 {
		out.skip(c.Symbol, c.ID, models.StageFilter, gate.FilterReason(v[0]), c.Describe())
		return
	}

	c.Rationale = append([]string{
		fmt.Sprintf("NEW: %s for %s premium against %s margin (ROM %s, SSR %s, RI %d)",
			c.Describe(), utils.FormatIndianCurrency(m.PremiumCollected), utils.FormatIndianCurrency(m.MarginRequired),
			utils.FormatRatio(m.ROM), utils.FormatRatio(m.SSR), m.RiskIndicator),
	}, signalNotes(in.Signal)...)
	out.Candidates = append(out.Candidates, c)
}

// swapCandidates pairs every held short position with the passing legs that
// strictly dominate it on both ROM and SSR.
func (g *Generator) swapCandidates(out *Output, legs []leg, in Input) {
	for _, h := range in.Holdings {
		var targets []leg
		for _, l := range legs {
			if !l.passing || l.quote.Key() == h.Position.Key() {
				continue
			}
			if Dominates(l.unit.ROM, l.unit.SSR, h.ROM, h.SSR) {
				targets = append(targets, l)
			}
		}
		sort.SliceStable(targets, func(i, j int) bool {
			a, b := targets[i], targets[j]
			if a.unit.ROM != b.unit.ROM {
				return a.unit.ROM > b.unit.ROM
			}
			if a.unit.SSR != b.unit.SSR {
				return a.unit.SSR > b.unit.SSR
			}
			if a.quote.Strike != b.quote.Strike {
				return a.quote.Strike < b.quote.Strike
			}
			return a.quote.Key() < b.quote.Key()
		})
		if len(targets) > g.opts.MaxSwapTargets {
			targets = targets[:g.opts.MaxSwapTargets]
		}

		for _, l := range targets {
			g.swapCandidate(out, h, l, in)
		}
	}
}

func (g *Generator) swapCandidate(out *Output, h Holding, l leg, in Input) {
	q := l.quote
	pos := h.Position
	c := models.Candidate{
		Kind:       models.KindSwap,
		Symbol:     models.NormalizeSymbol(q.Symbol),
		Sector:     in.Sector,
		SpotPrice:  in.Chain.SpotPrice,
		Close:      &pos,
		Confidence: in.Signal.Confidence,
		Signal:     sentimentLabel(in.Signal),
	}
	c.ID = candidateID(models.KindSwap, q.Key(), pos.Key())

	capital := in.AvailableMargin + pos.MarginUsed
	lots := g.affordableLots(capital, l.perLot)
	if lots == 0 {
		out.skip(c.Symbol, c.ID, models.StageGenerate, models.ReasonInsufficientMargin,
			fmt.Sprintf("swap %s -> %s: freed margin %s does not cover one lot", pos.Key(), q.Key(),
				utils.FormatIndianCurrency(pos.MarginUsed)))
		return
	}
	m, err := metrics.ForLeg(q, in.Chain.SpotPrice, lots, models.SideSell, in.Signal, g.opts.MarginRate)
	if err != nil {
		out.skip(c.Symbol, c.ID, models.StageGenerate, metricReason(err), err.Error())
		return
	}
	c.Metrics = m
	c.Leg = models.Leg{Quote: q, Side: models.SideSell, Lots: lots, Quantity: lots * q.LotSize}

	c.Rationale = append([]string{
		fmt.Sprintf("SWAP: close %s %.0f %s (ROM %s, SSR %s) and %s (ROM %s, SSR %s), freeing %s margin",
			pos.Symbol, pos.Strike, pos.OptionType,
			utils.FormatRatio(h.ROM), utils.FormatRatio(h.SSR),
			c.Describe(), utils.FormatRatio(m.ROM), utils.FormatRatio(m.SSR),
			utils.FormatIndianCurrency(pos.MarginUsed)),
	}, signalNotes(in.Signal)...)
	out.Candidates = append(out.Candidates, c)
}

// hedgeCandidates proposes one protective bought option per exposure flag
// covering the symbol: a put against LONG exposure, a call against SHORT.
func (g *Generator) hedgeCandidates(out *Output, quotes []models.OptionQuote, in Input) {
	symbol := models.NormalizeSymbol(in.Chain.Symbol)
	for _, flag := range in.Exposure {
		if !flag.Covers(symbol) {
			continue
		}
		want := models.OptionTypePut
		if flag.Direction == models.ExposureShort {
			want = models.OptionTypeCall
		}

		best, ok := g.pickHedgeQuote(quotes, want, in.Chain.SpotPrice)
		if !ok {
			out.skip(symbol, "", models.StageGenerate, models.ReasonInvalidQuote,
				fmt.Sprintf("no out-of-the-money %s to hedge %s exposure in %s", want, flag.Direction, flag.Sector))
			continue
		}
		g.hedgeCandidate(out, best, flag, in)
	}
}

func (g *Generator) pickHedgeQuote(quotes []models.OptionQuote, want models.OptionType, spot float64) (models.OptionQuote, bool) {
	var best models.OptionQuote
	bestDist := math.Inf(1)
	found := false
	for _, q := range quotes {
		if q.OptionType != want {
			continue
		}
		if _, err := q.Premium(); err != nil {
			continue
		}
		safety, err := metrics.StrikeSafety(q.OptionType, spot, q.Strike)
		if err != nil || safety <= 0 {
			continue
		}
		dist := math.Abs(safety - g.opts.HedgeSSR)
		if dist < bestDist || (dist == bestDist && q.Strike < best.Strike) {
			best, bestDist, found = q, dist, true
		}
	}
	return best, found
}

func (g *Generator) hedgeCandidate(out *Output, q models.OptionQuote, flag models.ExposureFlag, in Input) {
	symbol := models.NormalizeSymbol(q.Symbol)
	c := models.Candidate{
		Kind:       models.KindHedge,
		Symbol:     symbol,
		Sector:     in.Sector,
		SpotPrice:  in.Chain.SpotPrice,
		Confidence: in.Signal.Confidence,
		Signal:     sentimentLabel(in.Signal),
	}
	c.ID = candidateID(models.KindHedge, q.Key(), flag.Sector+"/"+string(flag.Direction))

	lots := shortLots(in.Holdings, symbol)
	if lots < 1 {
		lots = 1
	}
	if lots > g.opts.MaxLotsPerTrade {
		lots = g.opts.MaxLotsPerTrade
	}

	var m models.Metrics
	var err error
	for ; lots > 0; lots-- {
		m, err = metrics.ForLeg(q, in.Chain.SpotPrice, lots, models.SideBuy, in.Signal, g.opts.MarginRate)
		if err != nil {
			out.skip(symbol, c.ID, models.StageGenerate, metricReason(err), err.Error())
			return
		}
		if m.PremiumPaid <= in.AvailableMargin {
			break
		}
	}
	if lots == 0 {
		out.skip(symbol, c.ID, models.StageGenerate, models.ReasonInsufficientMargin,
			fmt.Sprintf("hedge %s costs more than %s available", q.Key(), utils.FormatIndianCurrency(in.AvailableMargin)))
		return
	}
	c.Metrics = m
	c.Leg = models.Leg{Quote: q, Side: models.SideBuy, Lots: lots, Quantity: lots * q.LotSize}

	if v := gate.CandidateViolations(c, in.Filters); len(v) > 0 {
		out.skip(symbol, c.ID, models.StageFilter, gate.FilterReason(v[0]), c.Describe())
		return
	}

	c.Rationale = append([]string{
		fmt.Sprintf("HEDGE: %s sector is %s of margin with %s bias; %s for %s premium (strike safety %s)",
			flag.Sector, utils.FormatRatio(flag.Share), flag.Direction, c.Describe(),
			utils.FormatIndianCurrency(m.PremiumPaid), utils.FormatRatio(m.SSR)),
	}, signalNotes(in.Signal)...)
	out.Candidates = append(out.Candidates, c)
}

// Dominates reports whether (rom, ssr) is strictly better than the baseline on
// both axes. Improving one axis while giving up the other does not qualify.
func Dominates(rom, ssr, baseROM, baseSSR float64) bool {
	return rom > baseROM && ssr > baseSSR
}

func (g *Generator) affordableLots(capital, perLot float64) int {
	if perLot <= 0 || capital <= 0 {
		return 0
	}
	lots := int(math.Floor(capital / perLot))
	if lots > g.opts.MaxLotsPerTrade {
		lots = g.opts.MaxLotsPerTrade
	}
	return lots
}

func (o *Output) skip(symbol, candidateID string, stage models.Stage, reason, detail string) {
	o.Skipped = append(o.Skipped, models.SkipEntry{
		Symbol:      symbol,
		CandidateID: candidateID,
		Stage:       stage,
		Reason:      reason,
		Detail:      detail,
	})
}

// sortedQuotes fills missing quote symbols from the chain and orders quotes
// by type, expiry, then strike.
func sortedQuotes(quotes []models.OptionQuote, symbol string) []models.OptionQuote {
	out := make([]models.OptionQuote, len(quotes))
	copy(out, quotes)
	for i := range out {
		if out[i].Symbol == "" {
			out[i].Symbol = symbol
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.OptionType != b.OptionType {
			return a.OptionType < b.OptionType
		}
		if !a.Expiry.Equal(b.Expiry) {
			return a.Expiry.Before(b.Expiry)
		}
		if a.Strike != b.Strike {
			return a.Strike < b.Strike
		}
		return a.Symbol < b.Symbol
	})
	return out
}

func heldContracts(positions []models.Position, holdings []Holding) map[string]bool {
	held := make(map[string]bool, len(positions)+len(holdings))
	for _, p := range positions {
		if p.Quantity != 0 {
			held[p.Key()] = true
		}
	}
	for _, h := range holdings {
		held[h.Position.Key()] = true
	}
	return held
}

func shortLots(holdings []Holding, symbol string) int {
	total := 0
	for _, h := range holdings {
		if models.NormalizeSymbol(h.Position.Symbol) == symbol {
			total += h.Position.Lots()
		}
	}
	return total
}

func candidateID(kind models.CandidateKind, legKey, closeKey string) string {
	return uuid.NewSHA1(idNamespace, []byte(string(kind)+"|"+legKey+"|"+closeKey)).String()
}

func metricReason(err error) string {
	if errors.Is(err, errors.ErrInvalidQuote) {
		return models.ReasonInvalidQuote
	}
	return models.ReasonDivisionInvalid
}

func sentimentLabel(s models.SentimentSignal) string {
	if s.ShortTermLabel == "" && s.MediumTermLabel == "" {
		return ""
	}
	return s.ShortTermLabel + "/" + s.MediumTermLabel
}

func signalNotes(s models.SentimentSignal) []string {
	notes := []string{
		fmt.Sprintf("Sentiment: short-term %s, medium-term %s, risk %d/10, confidence %.1f/10",
			orDash(s.ShortTermLabel), orDash(s.MediumTermLabel), s.RiskIndicator, s.Confidence),
	}
	for _, d := range s.KeyDrivers {
		notes = append(notes, "Driver: "+d)
	}
	return notes
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
