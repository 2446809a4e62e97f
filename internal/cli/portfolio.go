package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"

	"options-advisor/internal/analysis/portfolio"
	"options-advisor/internal/engine"
	"options-advisor/internal/models"
	"options-advisor/pkg/utils"
)

// portfolioReport is the JSON shape of the portfolio command.
type portfolioReport struct {
	Positions []models.Position       `json:"positions"`
	Exposure  []models.ExposureFlag   `json:"exposure"`
	Risks     map[string]int          `json:"risks,omitempty"`
	Summary   models.PortfolioSummary `json:"summary"`
}

func newPortfolioCmd(app *App) *cobra.Command {
	var (
		source    string
		sentiment bool
	)

	cmd := &cobra.Command{
		Use:     "portfolio",
		Aliases: []string{"risk"},
		Short:   "Show open positions and the portfolio risk summary",
		Long: `Show open option positions with margin utilization, sector concentration,
stress loss and value at risk. With --sentiment the analyst risk indicator
of each held symbol feeds the risk distribution.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if source == "" {
				source = app.Config.Source.Kind
			}
			report, err := app.portfolioReport(cmd.Context(), source, sentiment)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(report)
			}
			renderPortfolio(output, report)
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "data source: kite or snapshot")
	cmd.Flags().BoolVar(&sentiment, "sentiment", false, "fetch analyst risk indicators for held symbols")
	return cmd
}

func (a *App) portfolioReport(ctx context.Context, source string, withSentiment bool) (*portfolioReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	p := &providers{}
	if err := a.marketSources(source, p); err != nil {
		return nil, err
	}
	opts := a.Config.Portfolio
	pc, err := engine.LoadPortfolioContext(ctx, p.Portfolio, a.Config.Sectors, opts.MaxSectorShare)
	if err != nil {
		return nil, fmt.Errorf("loading portfolio: %w", err)
	}

	risks := map[string]int{}
	if withSentiment {
		if err := a.sentimentSource(p); err != nil {
			return nil, err
		}
		risks = a.heldRisks(ctx, p.Sentiment, pc.Positions)
	}

	return &portfolioReport{
		Positions: pc.Positions,
		Exposure:  pc.Exposure,
		Risks:     risks,
		Summary:   portfolio.Summarize(pc, risks, opts),
	}, nil
}

// heldRisks fetches the risk indicator of every held symbol. Symbols whose
// sentiment is unavailable are left out and fall back to the default risk.
func (a *App) heldRisks(ctx context.Context, src engine.SentimentProvider, positions []models.Position) map[string]int {
	seen := make(map[string]bool)
	var symbols []string
	for _, pos := range positions {
		sym := models.NormalizeSymbol(pos.Symbol)
		if !seen[sym] {
			seen[sym] = true
			symbols = append(symbols, sym)
		}
	}
	sort.Strings(symbols)

	values := make([]int, len(symbols))
	workers := a.Config.Concurrency.Fetch
	if workers < 1 {
		workers = 1
	}
	p := pool.New().WithMaxGoroutines(workers)
	for i, sym := range symbols {
		i, sym := i, sym
		p.Go(func() {
			sig, err := src.GetSentiment(ctx, sym)
			if err != nil {
				a.Logger.Warn().Err(err).Str("symbol", sym).Msg("Sentiment unavailable, using default risk")
				return
			}
			values[i] = sig.RiskIndicator
		})
	}
	p.Wait()

	risks := make(map[string]int)
	for i, sym := range symbols {
		if values[i] > 0 {
			risks[sym] = values[i]
		}
	}
	return risks
}

func renderPortfolio(output *Output, r *portfolioReport) {
	output.Bold("Positions (%d)", len(r.Positions))
	if len(r.Positions) == 0 {
		output.Dim("  No open option positions")
	} else {
		table := NewTable(output, "Contract", "Qty", "Margin", "Premium", "Spot", "LTP", "P&L")
		for _, p := range r.Positions {
			table.AddRow(
				p.Key(),
				fmt.Sprintf("%d", p.Quantity),
				utils.FormatIndianCurrency(p.MarginUsed),
				utils.FormatIndianCurrency(p.PremiumCollected),
				fmt.Sprintf("%.2f", p.SpotPrice),
				fmt.Sprintf("%.2f", p.LastPrice),
				output.FormatPnL(p.PnL),
			)
		}
		table.Render()
	}

	if len(r.Exposure) > 0 {
		output.Println()
		output.Bold("Concentration")
		for _, f := range r.Exposure {
			output.Warning("  %s %s, %s of margin (%s)", f.Sector, f.Direction,
				utils.FormatRatio(f.Share), strings.Join(f.Symbols, ", "))
		}
	}

	output.Println()
	renderSummary(output, r.Summary)
}

// renderSummary prints the portfolio risk picture.
func renderSummary(output *Output, s models.PortfolioSummary) {
	output.Bold("Portfolio Risk")
	output.Printf("  Margin Used:     %s, available %s (%s)\n",
		utils.FormatIndianCurrency(s.TotalMargin),
		utils.FormatIndianCurrency(s.AvailableMargin),
		utils.FormatRatio(s.MarginUtilization))
	if s.MarginAlert {
		output.Warning("  Margin utilization is above the alert threshold")
	}
	output.Printf("  Risk Level:      %s (average %.1f)\n", output.RiskLevel(s.RiskLevel), s.AverageRisk)
	output.Printf("  Risk Groups:     Low %d, Medium %d, High %d\n",
		s.RiskGroups["Low"], s.RiskGroups["Medium"], s.RiskGroups["High"])
	output.Printf("  Stress Loss:     %s\n", utils.FormatCompact(s.StressLoss))
	output.Printf("  Value at Risk:   %s\n", utils.FormatCompact(s.ValueAtRisk))

	if len(s.SectorExposure) == 0 {
		return
	}
	sectors := make([]string, 0, len(s.SectorExposure))
	for sector := range s.SectorExposure {
		sectors = append(sectors, sector)
	}
	sort.Strings(sectors)
	for _, sector := range sectors {
		output.Printf("    %-16s %s\n", sector, utils.FormatRatio(s.SectorExposure[sector]))
	}
}
