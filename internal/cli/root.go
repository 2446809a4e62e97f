// Package cli provides the command-line interface for the advisor.
package cli

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"options-advisor/internal/config"
	"options-advisor/internal/logging"
	"options-advisor/internal/resilience"
	"options-advisor/internal/security"
	"options-advisor/internal/store"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2026-10-01"
)

// App holds the application dependencies. Config and Logger are populated
// before any subcommand runs.
type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Registry *resilience.Registry

	snapshot *store.SQLiteStore
}

// Snapshot opens the snapshot database on first use.
func (a *App) Snapshot() (*store.SQLiteStore, error) {
	if a.snapshot != nil {
		return a.snapshot, nil
	}
	s, err := store.NewSQLiteStore(a.Config.Source.Snapshot)
	if err != nil {
		return nil, err
	}
	a.Logger.Debug().Str("path", a.Config.Source.Snapshot).Msg("Snapshot store opened")
	a.snapshot = s
	return s, nil
}

// Close releases resources opened by commands.
func (a *App) Close() error {
	if a.snapshot == nil {
		return nil
	}
	err := a.snapshot.Close()
	a.snapshot = nil
	return err
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd() *cobra.Command {
	app := &App{Logger: zerolog.Nop()}

	rootCmd := &cobra.Command{
		Use:   "advisor",
		Short: "Options advisor - ranked, reviewed option-writing recommendations",
		Long: `Options advisor evaluates a scoped universe of NSE underlyings against your
current positions and margin and proposes new writes, swaps and hedges.

Every candidate is scored on return on margin, strike safety and risk, then
passed through a bounded self-review before it is recommended. Anything that
is filtered out appears in the skip manifest with the reason.

Use 'advisor recommend' to run an evaluation.
Use 'advisor snapshot save' to capture broker data for offline runs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(dir)
			if err != nil {
				return err
			}
			app.Config = cfg

			logger := logging.NewLoggerWithConfig(logging.LogConfig{
				Level:      cfg.Logging.Level,
				Console:    true,
				File:       cfg.Logging.File,
				FilePath:   cfg.Logging.Path,
				MaxSize:    50,
				MaxBackups: 5,
				MaxAge:     14,
			})

			// Handle debug flag
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				logger = logger.Level(zerolog.DebugLevel)
			}
			app.Logger = logger
			app.Registry = resilience.NewRegistry(cfg.Resilience.Breaker)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close()
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/options-advisor)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addCoreCommands(rootCmd, app)
	rootCmd.AddCommand(newRecommendCmd(app))
	rootCmd.AddCommand(newPortfolioCmd(app))
	rootCmd.AddCommand(newSnapshotCmd(app))
	rootCmd.AddCommand(newWatchCmd(app))

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		output := newOutput(os.Stderr, false, true)
		output.Error("Error: %s", security.MaskSecrets(err.Error()))
		return err
	}
	return nil
}

// addCoreCommands adds core utility commands.
func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("Options Advisor v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate the advisor configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config.Redacted())
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": app.Config.Dir})
			} else {
				output.Println(app.Config.Dir)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("✓ Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Scope")
	output.Printf("  Symbols:         %d\n", len(cfg.Scope.Symbols))
	output.Printf("  Source:          %s\n", cfg.Source.Kind)
	output.Printf("  Sentiment:       %s\n", cfg.Source.Sentiment)
	output.Println()

	output.Bold("Filters")
	output.Printf("  Min SSR:         %.2f%%\n", cfg.Filters.MinSSR*100)
	output.Printf("  Min ROM:         %.2f%%\n", cfg.Filters.MinROM*100)
	output.Printf("  Min Premium:     %.2f\n", cfg.Filters.MinPremium)
	output.Printf("  Max Risk:        %.0f\n", cfg.Filters.MaxRisk)
	output.Println()

	output.Bold("Ranking and Review")
	if cfg.Ranking.TopN == 0 {
		output.Printf("  Top N:           all\n")
	} else {
		output.Printf("  Top N:           %d\n", cfg.Ranking.TopN)
	}
	output.Printf("  Critic:          %s\n", cfg.Review.Critic)
	output.Printf("  Threshold:       %.1f\n", cfg.Review.AcceptanceThreshold)
	output.Printf("  Max Iterations:  %d\n", cfg.Review.MaxIterations)
	output.Printf("  Deadline:        %s\n", cfg.Engine.Deadline)
	output.Println()

	output.Bold("Portfolio")
	output.Printf("  Max Sector:      %.0f%%\n", cfg.Portfolio.MaxSectorShare*100)
	output.Printf("  Margin Alert:    %.0f%%\n", cfg.Portfolio.MarginAlert*100)
	output.Println()

	output.Bold("Watch")
	output.Printf("  Schedule:        %s\n", cfg.Watch.Cron)
	output.Printf("  Metrics:         %s\n", cfg.Watch.MetricsAddr)
	output.Printf("  Market Hours:    %v\n", cfg.Watch.MarketHours)
}
