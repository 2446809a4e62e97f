package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"options-advisor/internal/engine"
	"options-advisor/internal/errors"
	"options-advisor/internal/gate"
	"options-advisor/internal/models"
	"options-advisor/pkg/utils"
)

func newRecommendCmd(app *App) *cobra.Command {
	var (
		symbols []string
		source  string
		critic  string
		top     int
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Generate ranked option recommendations",
		Long: `Evaluate the scoped symbols against current positions and margin.

Candidates that pass the filters are ranked, the top N are reviewed, and the
accepted ones are printed with their reasoning trace and portfolio impact.
Everything excluded along the way is listed in the skip manifest.`,
		Example: `  advisor recommend
  advisor recommend --symbols ICICIBANK,HDFCBANK --min-ssr 0.04
  advisor recommend --source snapshot --critic rules --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			cfg := app.Config

			scope, outside, err := narrowScope(cfg.ScopeList(), symbols)
			if err != nil {
				return err
			}
			filters, err := filtersFromFlags(cmd, cfg.FilterConfig())
			if err != nil {
				return err
			}
			opts := cfg.EngineOptions()
			if cmd.Flags().Changed("top") {
				opts.TopN = top
			}
			if critic == "" {
				critic = cfg.Review.Critic
			}
			if source == "" {
				source = cfg.Source.Kind
			}

			res, err := app.evaluate(cmd.Context(), source, critic, scope, filters, opts)
			if err != nil {
				return err
			}
			if len(outside) > 0 {
				res.Skipped = append(outside, res.Skipped...)
				engine.SortManifest(res.Skipped)
			}
			if output.IsJSON() {
				return output.JSON(res)
			}
			renderResult(output, res, verbose)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&symbols, "symbols", nil, "restrict the evaluation to these symbols within the configured scope")
	cmd.Flags().Float64("min-ssr", 0, "minimum strike safety ratio (fraction of spot)")
	cmd.Flags().Float64("min-rom", 0, "minimum return on margin")
	cmd.Flags().Float64("min-premium", 0, "minimum premium collected per trade")
	cmd.Flags().Float64("max-risk", 0, "maximum analyst risk indicator (1-10)")
	cmd.Flags().IntVar(&top, "top", 0, "number of candidates sent to review, 0 for all")
	cmd.Flags().StringVar(&source, "source", "", "data source: kite or snapshot")
	cmd.Flags().StringVar(&critic, "critic", "", "review critic: rules or llm")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show the full skip manifest")

	return cmd
}

// narrowScope restricts scope to the requested symbols. Requested symbols
// outside scope are returned as ScopeViolation entries; it is an error when
// none of them is in scope.
func narrowScope(scope models.ScopeList, requested []string) (models.ScopeList, []models.SkipEntry, error) {
	if len(requested) == 0 {
		return scope, nil, nil
	}

	var keep []string
	var outside []models.SkipEntry
	seen := make(map[string]bool)
	for _, s := range requested {
		sym := models.NormalizeSymbol(s)
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		if gate.IsEligible(sym, scope) {
			keep = append(keep, sym)
			continue
		}
		outside = append(outside, models.SkipEntry{Symbol: sym, Stage: models.StageScope,
			Reason: models.ReasonScopeViolation, Detail: "not in configured scope"})
	}
	if len(keep) == 0 {
		return models.ScopeList{}, outside, errors.Wrapf(errors.ErrScopeViolation,
			"none of %s is in the configured scope", strings.Join(requested, ", "))
	}
	return models.NewScopeList(keep...), outside, nil
}

// filtersFromFlags overlays explicitly set threshold flags on base.
func filtersFromFlags(cmd *cobra.Command, base models.FilterConfig) (models.FilterConfig, error) {
	f := base
	set := map[string]*float64{
		"min-ssr":     &f.MinSSR,
		"min-rom":     &f.MinROM,
		"min-premium": &f.MinPremium,
		"max-risk":    &f.MaxRisk,
	}
	for name, dst := range set {
		if !cmd.Flags().Changed(name) {
			continue
		}
		v, err := cmd.Flags().GetFloat64(name)
		if err != nil {
			return f, err
		}
		*dst = v
	}
	return f, nil
}

// evaluate loads the portfolio context and runs one engine evaluation.
func (a *App) evaluate(ctx context.Context, source, critic string, scope models.ScopeList, filters models.FilterConfig, opts engine.Options) (*models.Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	p, err := a.buildProviders(source, critic)
	if err != nil {
		return nil, err
	}
	a.Logger.Debug().Str("source", source).Str("critic", critic).Msg("Providers ready")
	return a.run(ctx, p, scope, filters, opts)
}

// run loads the portfolio context from p and runs one engine evaluation.
func (a *App) run(ctx context.Context, p *providers, scope models.ScopeList, filters models.FilterConfig, opts engine.Options) (*models.Result, error) {
	pc, err := engine.LoadPortfolioContext(ctx, p.Portfolio, a.Config.Sectors, opts.Portfolio.MaxSectorShare)
	if err != nil {
		return nil, fmt.Errorf("loading portfolio: %w", err)
	}

	a.Logger.Info().
		Int("symbols", len(scope.Symbols())).
		Int("positions", len(pc.Positions)).
		Msg("Starting evaluation")

	e := engine.New(p.Market, p.Sentiment, p.Critic, opts, a.Logger)
	return e.GenerateRecommendations(ctx, scope, filters, pc)
}

// renderResult prints recommendations, warnings, the portfolio summary and
// the skip manifest.
func renderResult(output *Output, res *models.Result, verbose bool) {
	output.Bold("Recommendations (%s)", res.AsOf.In(utils.IndiaLocation).Format("02-Jan-2006 15:04 IST"))
	output.Dim("Candidates generated: %d, reviewed: %d, recommended: %d",
		res.Generated, res.Reviewed, len(res.Recommendations))
	output.Println()

	if len(res.Recommendations) == 0 {
		output.Warning("No recommendations passed filters and review.")
	} else {
		table := NewTable(output, "#", "Kind", "Trade", "Premium", "Margin", "ROM", "SSR", "Risk", "Conf")
		for _, r := range res.Recommendations {
			c := r.Candidate
			premium := c.Metrics.PremiumCollected
			if premium == 0 {
				premium = -c.Metrics.PremiumPaid
			}
			table.AddRow(
				fmt.Sprintf("%d", r.Rank),
				output.Kind(string(c.Kind)),
				c.Describe(),
				output.FormatPnL(premium),
				utils.FormatIndianCurrency(c.Metrics.MarginRequired),
				utils.FormatRatio(c.Metrics.ROM),
				utils.FormatRatio(c.Metrics.SSR),
				fmt.Sprintf("%d", c.Metrics.RiskIndicator),
				fmt.Sprintf("%.1f", r.ConfidenceScore),
			)
		}
		table.Render()

		for _, r := range res.Recommendations {
			output.Println()
			output.Bold("%d. %s", r.Rank, r.Candidate.Describe())
			if r.Candidate.Close != nil {
				output.Printf("   Closes: %s\n", r.Candidate.Close.Key())
			}
			output.Printf("   Score %.4f, quality %.1f, %d review iteration(s)\n",
				r.Score, r.QualityScore, r.ReviewIterations)
			for _, step := range r.ReasoningTrace {
				output.Printf("   • %s\n", step)
			}
			for _, caveat := range r.Candidate.Caveats {
				output.Printf("   %s %s\n", output.Yellow("!"), caveat)
			}
			output.Printf("   %s %s\n", output.Cyan("Impact:"), r.PortfolioImpactNote)
		}
	}

	if len(res.Warnings) > 0 {
		output.Println()
		output.Bold("Warnings")
		for _, w := range res.Warnings {
			output.Warning("  %s: %s %s", w.Symbol, w.Reason, w.Detail)
		}
	}

	if res.Portfolio != nil {
		output.Println()
		renderSummary(output, *res.Portfolio)
	}

	renderManifest(output, res.Skipped, verbose)
}

// renderManifest prints skip counts by reason, and every entry when verbose.
func renderManifest(output *Output, skipped []models.SkipEntry, verbose bool) {
	if len(skipped) == 0 {
		return
	}
	output.Println()
	output.Bold("Skipped (%d)", len(skipped))

	counts := make(map[string]int)
	var reasons []string
	for _, s := range skipped {
		if counts[s.Reason] == 0 {
			reasons = append(reasons, s.Reason)
		}
		counts[s.Reason]++
	}
	var parts []string
	for _, r := range reasons {
		parts = append(parts, fmt.Sprintf("%s %d", r, counts[r]))
	}
	output.Dim("  %s", strings.Join(parts, ", "))

	if !verbose {
		return
	}
	table := NewTable(output, "Symbol", "Stage", "Reason", "Detail")
	for _, s := range skipped {
		table.AddRow(s.Symbol, string(s.Stage), s.Reason, s.Detail)
	}
	table.Render()
}
