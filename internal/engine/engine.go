// Package engine runs one evaluation: scope gating, concurrent data fetch,
// candidate generation, ranking, self-review and recommendation assembly.
//
// An Engine holds only immutable options and provider handles, so concurrent
// GenerateRecommendations calls share no mutable state.
package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"options-advisor/internal/analysis/metrics"
	"options-advisor/internal/analysis/portfolio"
	"options-advisor/internal/analysis/scoring"
	"options-advisor/internal/candidates"
	"options-advisor/internal/errors"
	"options-advisor/internal/gate"
	"options-advisor/internal/logging"
	"options-advisor/internal/models"
	"options-advisor/internal/resilience"
	"options-advisor/internal/review"
	"options-advisor/internal/telemetry"
)

// PortfolioProvider supplies the current holdings and funds.
type PortfolioProvider interface {
	GetPositions(ctx context.Context) ([]models.Position, error)
	GetFunds(ctx context.Context) (models.Funds, error)
}

// MarketDataProvider supplies option chains.
type MarketDataProvider interface {
	GetOptionChain(ctx context.Context, symbol string) (*models.OptionChain, error)
}

// SentimentProvider supplies analyst signals.
type SentimentProvider interface {
	GetSentiment(ctx context.Context, symbol string) (models.SentimentSignal, error)
}

// Options configures an Engine.
type Options struct {
	FetchConcurrency int
	RatePerSecond    float64 // provider calls per second across workers, 0 = unlimited
	RateBurst        int
	Deadline         time.Duration
	TopN             int // candidates sent to review, 0 = all
	Weights          scoring.Weights
	Candidates       candidates.Options
	Review           review.Options
	Portfolio        portfolio.Options
}

// DefaultOptions returns the default engine options.
func DefaultOptions() Options {
	return Options{
		FetchConcurrency: 4,
		RatePerSecond:    5,
		RateBurst:        5,
		Deadline:         2 * time.Minute,
		Weights:          scoring.DefaultWeights(),
		Candidates:       candidates.DefaultOptions(),
		Review:           review.DefaultOptions(),
		Portfolio:        portfolio.DefaultOptions(),
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.FetchConcurrency < 1 {
		o.FetchConcurrency = d.FetchConcurrency
	}
	if o.RateBurst < 1 {
		o.RateBurst = d.RateBurst
	}
	if o.Deadline <= 0 {
		o.Deadline = d.Deadline
	}
	if o.TopN < 0 {
		o.TopN = 0
	}
	if o.Weights == (scoring.Weights{}) {
		o.Weights = d.Weights
	}
	if o.Candidates.MaxLotsPerTrade < 1 {
		o.Candidates.MaxLotsPerTrade = d.Candidates.MaxLotsPerTrade
	}
	if o.Candidates.MarginRate <= 0 {
		o.Candidates.MarginRate = d.Candidates.MarginRate
	}
	if o.Portfolio.MaxSectorShare <= 0 {
		o.Portfolio.MaxSectorShare = d.Portfolio.MaxSectorShare
	}
	return o
}

// Engine produces reviewed trade recommendations.
type Engine struct {
	market    MarketDataProvider
	sentiment SentimentProvider
	critic    review.CritiqueProvider
	opts      Options
	logger    zerolog.Logger
	now       func() time.Time
}

// New creates an engine.
func New(market MarketDataProvider, sentiment SentimentProvider, critic review.CritiqueProvider, opts Options, logger zerolog.Logger) *Engine {
	return &Engine{
		market:    market,
		sentiment: sentiment,
		critic:    critic,
		opts:      opts.withDefaults(),
		logger:    logger,
		now:       time.Now,
	}
}

// Options returns the effective options.
func (e *Engine) Options() Options {
	return e.opts
}

// symbolRun is one worker's private output.
type symbolRun struct {
	cands   []models.Candidate
	skipped []models.SkipEntry
	warning *models.SymbolWarning
	risk    int
}

// GenerateRecommendations evaluates every in-scope symbol against pc and
// returns the ranked, reviewed recommendations with the skip manifest. Only an
// invalid filter configuration or an empty scope is fatal.
func (e *Engine) GenerateRecommendations(ctx context.Context, scope models.ScopeList, filters models.FilterConfig, pc models.PortfolioContext) (*models.Result, error) {
	start := time.Now()
	if err := gate.ValidateFilters(filters); err != nil {
		return nil, err
	}
	if scope.IsEmpty() {
		return nil, errors.ErrEmptyScope
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.Deadline)
	defer cancel()

	asOf := pc.AsOf
	if asOf.IsZero() {
		asOf = e.now()
	}
	res := &models.Result{AsOf: asOf}
	var skipped []models.SkipEntry

	// Scope gate on holdings
	var inScope, held []models.Position
	for _, p := range pc.Positions {
		sym := models.NormalizeSymbol(p.Symbol)
		if !gate.IsEligible(sym, scope) {
			skipped = append(skipped, models.SkipEntry{Symbol: sym, Stage: models.StageScope,
				Reason: models.ReasonScopeViolation, Detail: "position " + p.Key()})
			continue
		}
		held = append(held, p)
		if p.IsShort() {
			if err := p.Validate(asOf); err != nil {
				skipped = append(skipped, models.SkipEntry{Symbol: sym, Stage: models.StageGenerate,
					Reason: models.ReasonInvalidPosition, Detail: fmt.Sprintf("%s: %v", p.Key(), err)})
				continue
			}
		}
		inScope = append(inScope, p)
	}

	holdings, hs := candidates.EvaluateHoldings(inScope)
	skipped = append(skipped, hs...)

	exposure := pc.Exposure
	if len(exposure) == 0 {
		exposure = portfolio.ExposureFlags(inScope, pc.Sectors, e.opts.Portfolio.MaxSectorShare)
	}

	// Fan out per symbol; each worker writes only its own slot.
	symbols := scope.Symbols()
	runs := make([]symbolRun, len(symbols))
	limiter := resilience.NewRateLimiter(e.opts.RatePerSecond, e.opts.RateBurst)
	gen := candidates.NewGenerator(e.opts.Candidates)

	p := pool.New().WithMaxGoroutines(e.opts.FetchConcurrency)
	for i, sym := range symbols {
		i, sym := i, sym
		p.Go(func() {
			runs[i] = e.evaluateSymbol(ctx, sym, limiter, gen, candidates.Input{
				Holdings:        holdings,
				Held:            held,
				AvailableMargin: pc.AvailableMargin,
				Exposure:        exposure,
				Sector:          pc.SectorOf(sym),
				Scope:           scope,
				Filters:         filters,
			})
		})
	}
	p.Wait()

	var all []models.Candidate
	risks := make(map[string]int)
	for i, r := range runs {
		all = append(all, r.cands...)
		skipped = append(skipped, r.skipped...)
		if r.warning != nil {
			res.Warnings = append(res.Warnings, *r.warning)
		}
		if r.risk > 0 {
			risks[symbols[i]] = r.risk
		}
	}
	res.Generated = len(all)
	byKind := make(map[models.CandidateKind]int)
	for _, c := range all {
		byKind[c.Kind]++
	}
	for k, n := range byKind {
		telemetry.CandidatesGenerated(string(k), n)
	}
	e.logger.Debug().Int("generated", len(all)).Interface("risk_groups", scoring.Distribution(all)).Msg("Candidates generated")

	// Rank and keep the top N for review
	ranked := scoring.Rank(all, e.opts.Weights, 0)
	var top []models.Candidate
	for i, s := range ranked {
		if e.opts.TopN == 0 || i < e.opts.TopN {
			top = append(top, s.Candidate)
			continue
		}
		skipped = append(skipped, models.SkipEntry{Symbol: s.Candidate.Symbol, CandidateID: s.Candidate.ID,
			Stage: models.StageRank, Reason: models.ReasonRankedOut,
			Detail: fmt.Sprintf("rank %d of %d, score %.4f", i+1, len(ranked), s.Score)})
	}
	res.Reviewed = len(top)

	loop := review.NewLoop(e.critic, e.opts.Review, e.resizer(pc.AvailableMargin), e.logger)
	outcomes := loop.ReviewAll(ctx, top)

	var accepted []review.Outcome
	for _, o := range outcomes {
		telemetry.ReviewOutcome(string(o.State))
		if o.State == review.StateAccepted {
			accepted = append(accepted, o)
			continue
		}
		detail := o.Reason
		if o.Err != nil {
			detail = o.Err.Error()
		}
		skipped = append(skipped, models.SkipEntry{Symbol: o.Candidate.Symbol, CandidateID: o.Candidate.ID,
			Stage: models.StageReview, Reason: o.Reason, Detail: detail})
	}

	b := newBuilder(scope, filters, pc, e.opts.Weights)
	recs, bs := b.build(accepted)
	res.Recommendations = recs
	skipped = append(skipped, bs...)

	SortManifest(skipped)
	res.Skipped = skipped
	sort.SliceStable(res.Warnings, func(i, j int) bool { return res.Warnings[i].Symbol < res.Warnings[j].Symbol })

	summary := portfolio.Summarize(pc, risks, e.opts.Portfolio)
	res.Portfolio = &summary

	e.record(res, time.Since(start))
	return res, nil
}

func (e *Engine) evaluateSymbol(ctx context.Context, symbol string, limiter *resilience.RateLimiter, gen *candidates.Generator, in candidates.Input) symbolRun {
	logger := logging.WithSymbol(e.logger, symbol)
	unavailable := func(detail string) symbolRun {
		logger.Warn().Str("reason", models.ReasonDataUnavailable).Msg(detail)
		return symbolRun{
			warning: &models.SymbolWarning{Symbol: symbol, Reason: models.ReasonDataUnavailable, Detail: detail},
			skipped: []models.SkipEntry{{Symbol: symbol, Stage: models.StageFetch,
				Reason: models.ReasonDataUnavailable, Detail: detail}},
		}
	}

	if err := limiter.Wait(ctx); err != nil {
		return unavailable(fmt.Sprintf("option chain not fetched: %v", err))
	}
	chain, err := e.market.GetOptionChain(ctx, symbol)
	if err != nil {
		return unavailable(fmt.Sprintf("option chain: %v", err))
	}
	if chain == nil {
		return unavailable("option chain: empty response")
	}

	if err := limiter.Wait(ctx); err != nil {
		return unavailable(fmt.Sprintf("sentiment not fetched: %v", err))
	}
	signal, err := e.sentiment.GetSentiment(ctx, symbol)
	if err != nil {
		return unavailable(fmt.Sprintf("sentiment: %v", err))
	}
	if err := signal.Validate(); err != nil {
		return unavailable(fmt.Sprintf("sentiment: %v", err))
	}

	in.Chain = *chain
	in.Signal = signal
	out := gen.Generate(in)
	logger.Debug().Int("candidates", len(out.Candidates)).Int("skipped", len(out.Skipped)).Msg("Generated candidates")
	return symbolRun{cands: out.Candidates, skipped: out.Skipped, risk: signal.RiskIndicator}
}

// resizer recomputes a candidate for a revised lot count, refusing sizes the
// available (or, for swaps, freed) margin cannot carry.
func (e *Engine) resizer(available float64) review.Resizer {
	maxLots := e.opts.Candidates.MaxLotsPerTrade
	rate := e.opts.Candidates.MarginRate
	return func(c models.Candidate, lots int) (models.Candidate, error) {
		if lots < 1 {
			return c, fmt.Errorf("lot count %d must be positive", lots)
		}
		if lots > c.Leg.Lots && lots > maxLots {
			return c, fmt.Errorf("lot count %d exceeds the per-trade cap of %d", lots, maxLots)
		}
		sig := models.SentimentSignal{RiskIndicator: c.Metrics.RiskIndicator, Confidence: c.Confidence}
		m, err := metrics.ForLeg(c.Leg.Quote, c.SpotPrice, lots, c.Leg.Side, sig, rate)
		if err != nil {
			return c, err
		}
		capital := available
		if c.Close != nil {
			capital += c.Close.MarginUsed
		}
		if m.MarginRequired > capital {
			return c, fmt.Errorf("%d lots need %.2f, %.2f available", lots, m.MarginRequired, capital)
		}
		c.Metrics = m
		c.Leg.Lots = lots
		c.Leg.Quantity = lots * c.Leg.Quote.LotSize
		return c, nil
	}
}

func (e *Engine) record(res *models.Result, d time.Duration) {
	for _, s := range res.Skipped {
		telemetry.Skipped(string(s.Stage), s.Reason)
		logging.LogSkip(e.logger, s.Symbol, string(s.Stage), s.Reason)
	}
	for _, r := range res.Recommendations {
		logging.LogRecommendation(e.logger, r.Candidate.Symbol, string(r.Candidate.Kind), r.Score, r.ConfidenceScore)
	}
	telemetry.Recommended(len(res.Recommendations))
	telemetry.RunCompleted(d)
	if res.Portfolio != nil {
		telemetry.SetMarginUtilization(res.Portfolio.MarginUtilization)
	}
	e.logger.Info().
		Int("recommendations", len(res.Recommendations)).
		Int("generated", res.Generated).
		Int("reviewed", res.Reviewed).
		Int("skipped", len(res.Skipped)).
		Int("warnings", len(res.Warnings)).
		Dur("duration", d).
		Msg("Evaluation complete")
}

// sortManifest orders entries by symbol, stage, candidate and reason.
// SortManifest orders skip entries by symbol, stage, candidate and reason.
func SortManifest(entries []models.SkipEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		if a.Stage != b.Stage {
			return a.Stage < b.Stage
		}
		if a.CandidateID != b.CandidateID {
			return a.CandidateID < b.CandidateID
		}
		return a.Reason < b.Reason
	})
}

// LoadPortfolioContext reads positions and funds from p and derives sectors
// and exposure flags.
func LoadPortfolioContext(ctx context.Context, p PortfolioProvider, sectors map[string]string, maxSectorShare float64) (models.PortfolioContext, error) {
	positions, err := p.GetPositions(ctx)
	if err != nil {
		return models.PortfolioContext{}, errors.Wrap(err, "loading positions")
	}
	funds, err := p.GetFunds(ctx)
	if err != nil {
		return models.PortfolioContext{}, errors.Wrap(err, "loading funds")
	}
	for i := range positions {
		if positions[i].Sector == "" {
			positions[i].Sector = models.LookupSector(sectors, positions[i].Symbol)
		}
	}
	if maxSectorShare <= 0 {
		maxSectorShare = portfolio.DefaultOptions().MaxSectorShare
	}
	return models.PortfolioContext{
		Positions:       positions,
		AvailableMargin: funds.Available,
		UsedMargin:      funds.Used,
		Exposure:        portfolio.ExposureFlags(positions, sectors, maxSectorShare),
		Sectors:         sectors,
		AsOf:            time.Now(),
	}, nil
}
