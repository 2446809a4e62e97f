package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"options-advisor/internal/engine"
	"options-advisor/internal/errors"
	"options-advisor/internal/models"
	"options-advisor/internal/store"
	"options-advisor/pkg/utils"
)

// captureSource is everything a snapshot capture reads.
type captureSource interface {
	engine.PortfolioProvider
	engine.MarketDataProvider
}

// captureReport is the outcome of a snapshot save.
type captureReport struct {
	Positions int               `json:"positions"`
	Chains    []string          `json:"chains"`
	Sentiment []string          `json:"sentiment,omitempty"`
	Failed    map[string]string `json:"failed,omitempty"`
}

func newSnapshotCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Capture and inspect offline market snapshots",
		Long: `Capture broker positions, funds and option chains into the local snapshot
database so evaluations can run offline with --source snapshot.`,
	}

	cmd.AddCommand(newSnapshotSaveCmd(app))
	cmd.AddCommand(newSnapshotSentimentCmd(app))
	cmd.AddCommand(newSnapshotShowCmd(app))
	return cmd
}

func newSnapshotSaveCmd(app *App) *cobra.Command {
	var (
		symbols       []string
		withSentiment bool
	)

	cmd := &cobra.Command{
		Use:   "save",
		Short: "Capture positions, funds and chains from Kite",
		Example: `  advisor snapshot save
  advisor snapshot save --symbols NIFTY50,ICICIBANK --sentiment`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			p := &providers{}
			if err := app.marketSources(providerKite, p); err != nil {
				return err
			}
			dst, err := app.Snapshot()
			if err != nil {
				return err
			}
			scope, outside, err := narrowScope(app.Config.ScopeList(), symbols)
			if err != nil {
				return err
			}

			var sentiment engine.SentimentProvider
			if withSentiment {
				if err := app.sentimentSource(p); err != nil {
					return err
				}
				sentiment = p.Sentiment
			}

			src := struct {
				engine.PortfolioProvider
				engine.MarketDataProvider
			}{p.Portfolio, p.Market}
			report, err := captureSnapshot(ctx, src, sentiment, dst, scope.Symbols(), app.Logger)
			if err != nil {
				return err
			}
			for _, s := range outside {
				report.Failed[s.Symbol] = s.Detail
			}

			if output.IsJSON() {
				return output.JSON(report)
			}
			output.Success("✓ Captured %d positions and %d chains", report.Positions, len(report.Chains))
			if len(report.Sentiment) > 0 {
				output.Printf("  Sentiment: %s\n", strings.Join(report.Sentiment, ", "))
			}
			failed := make([]string, 0, len(report.Failed))
			for sym := range report.Failed {
				failed = append(failed, sym)
			}
			sort.Strings(failed)
			for _, sym := range failed {
				output.Warning("  %s: %s", sym, report.Failed[sym])
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&symbols, "symbols", nil, "capture only these symbols")
	cmd.Flags().BoolVar(&withSentiment, "sentiment", false, "also capture analyst sentiment per symbol")
	return cmd
}

// captureSnapshot copies positions, funds and the chain of every symbol from
// src into dst. A symbol whose chain or sentiment cannot be fetched is
// reported and skipped; positions and funds are required.
func captureSnapshot(ctx context.Context, src captureSource, sentiment engine.SentimentProvider, dst store.SnapshotStore, symbols []string, logger zerolog.Logger) (*captureReport, error) {
	report := &captureReport{Failed: make(map[string]string)}

	positions, err := src.GetPositions(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "fetching positions")
	}
	funds, err := src.GetFunds(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "fetching funds")
	}
	if err := dst.SavePositions(ctx, positions); err != nil {
		return nil, err
	}
	if err := dst.SaveFunds(ctx, funds); err != nil {
		return nil, err
	}
	report.Positions = len(positions)

	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		chain, err := src.GetOptionChain(ctx, sym)
		if err != nil {
			logger.Warn().Err(err).Str("symbol", sym).Msg("Chain unavailable, not captured")
			report.Failed[sym] = err.Error()
			continue
		}
		if err := dst.SaveChain(ctx, chain); err != nil {
			return report, err
		}
		report.Chains = append(report.Chains, sym)

		if sentiment == nil {
			continue
		}
		sig, err := sentiment.GetSentiment(ctx, sym)
		if err != nil {
			logger.Warn().Err(err).Str("symbol", sym).Msg("Sentiment unavailable, not captured")
			report.Failed[sym] = err.Error()
			continue
		}
		if err := dst.SaveSentiment(ctx, sig); err != nil {
			return report, err
		}
		report.Sentiment = append(report.Sentiment, sym)
	}

	logger.Info().
		Int("positions", report.Positions).
		Int("chains", len(report.Chains)).
		Int("failed", len(report.Failed)).
		Msg("Snapshot captured")
	return report, nil
}

func newSnapshotSentimentCmd(app *App) *cobra.Command {
	var (
		short      string
		medium     string
		risk       int
		confidence float64
		drivers    []string
		risks      []string
	)

	cmd := &cobra.Command{
		Use:   "sentiment SYMBOL",
		Short: "Record an analyst view for a symbol",
		Long: `Record a sentiment signal for offline evaluation. Labels use the scale
Strongly/Moderately/Cautiously Positive, Neutral, Cautiously/Moderately/Strongly Negative.`,
		Example: `  advisor snapshot sentiment ICICIBANK --short "Moderately Positive" --medium Neutral --risk 4 --confidence 7`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			dst, err := app.Snapshot()
			if err != nil {
				return err
			}
			sig := models.SentimentSignal{
				Symbol:          models.NormalizeSymbol(args[0]),
				ShortTermLabel:  short,
				MediumTermLabel: medium,
				RiskIndicator:   risk,
				Confidence:      confidence,
				KeyDrivers:      drivers,
				Risks:           risks,
				AsOf:            time.Now().UTC(),
			}
			if err := dst.SaveSentiment(ctx, sig); err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(sig)
			}
			output.Success("✓ Sentiment recorded for %s", sig.Symbol)
			return nil
		},
	}

	cmd.Flags().StringVar(&short, "short", "Neutral", "short-term label")
	cmd.Flags().StringVar(&medium, "medium", "Neutral", "medium-term label")
	cmd.Flags().IntVar(&risk, "risk", 5, "risk indicator (1-10)")
	cmd.Flags().Float64Var(&confidence, "confidence", 5, "analyst confidence (0-10)")
	cmd.Flags().StringSliceVar(&drivers, "driver", nil, "key driver (repeatable)")
	cmd.Flags().StringSliceVar(&risks, "risk-note", nil, "risk note (repeatable)")
	return cmd
}

func newSnapshotShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Summarize the stored snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			s, err := app.Snapshot()
			if err != nil {
				return err
			}
			info, err := s.Info(ctx)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(info)
			}
			renderSnapshotInfo(output, app.Config.Source.Snapshot, info)
			return nil
		},
	}
}

func renderSnapshotInfo(output *Output, path string, info *store.SnapshotInfo) {
	output.Bold("Snapshot")
	output.Dim("  %s", path)
	output.Printf("  Positions:  %d\n", info.Positions)
	if info.Funds != nil {
		output.Printf("  Available:  %s\n", utils.FormatIndianCurrency(info.Funds.Available))
		output.Printf("  Used:       %s\n", utils.FormatIndianCurrency(info.Funds.Used))
	} else {
		output.Printf("  Funds:      %s\n", output.Yellow("not captured"))
	}
	if len(info.Sentiment) > 0 {
		output.Printf("  Sentiment:  %s\n", strings.Join(info.Sentiment, ", "))
	}

	if len(info.Chains) > 0 {
		output.Println()
		table := NewTable(output, "Symbol", "Spot", "Quotes", "As Of")
		for _, c := range info.Chains {
			table.AddRow(c.Symbol, fmt.Sprintf("%.2f", c.SpotPrice), fmt.Sprintf("%d", c.Quotes),
				c.AsOf.In(utils.IndiaLocation).Format("02-Jan 15:04"))
		}
		table.Render()
	}

	for _, dt := range []string{store.SyncPositions, store.SyncFunds, store.SyncChains, store.SyncSentiment} {
		if t, ok := info.Synced[dt]; ok {
			output.Dim("  %-10s synced %s", dt, t.In(utils.IndiaLocation).Format("02-Jan-2006 15:04"))
		}
	}
}
