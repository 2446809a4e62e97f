package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"options-advisor/internal/logging"
	"options-advisor/internal/resilience"
	"options-advisor/internal/telemetry"
	"options-advisor/pkg/utils"
)

func newWatchCmd(app *App) *cobra.Command {
	var (
		source      string
		critic      string
		schedule    string
		metricsAddr string
		anyTime     bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-evaluate on a schedule and expose metrics",
		Long: `Run the evaluation on a cron schedule (with seconds) and serve Prometheus
metrics on /metrics and provider health on /healthz. By default runs are
skipped outside NSE market hours.`,
		Example: `  advisor watch
  advisor watch --cron "0 */5 * * * *" --metrics-addr :9100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.Config
			if source == "" {
				source = cfg.Source.Kind
			}
			if critic == "" {
				critic = cfg.Review.Critic
			}
			if schedule == "" {
				schedule = cfg.Watch.Cron
			}
			if !cmd.Flags().Changed("metrics-addr") {
				metricsAddr = cfg.Watch.MetricsAddr
			}

			p, err := app.buildProviders(source, critic)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			w := newWatcher(app, p, cfg.Watch.MarketHours && !anyTime)
			if metricsAddr != "" {
				health := app.healthMonitor(source, critic)
				go func() {
					if err := telemetry.Serve(ctx, metricsAddr, health, app.Logger); err != nil {
						app.Logger.Error().Err(err).Msg("Metrics server stopped")
					}
				}()
			}
			return w.Run(ctx, schedule)
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "data source: kite or snapshot")
	cmd.Flags().StringVar(&critic, "critic", "", "review critic: rules or llm")
	cmd.Flags().StringVar(&schedule, "cron", "", "cron schedule with seconds field")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "metrics listen address, empty to disable")
	cmd.Flags().BoolVar(&anyTime, "any-time", false, "run outside market hours too")
	return cmd
}

// healthMonitor reports the breaker of every provider in use, and the
// snapshot database when it backs any of them.
func (a *App) healthMonitor(source, critic string) *resilience.HealthMonitor {
	m := resilience.NewHealthMonitor()
	m.Register(source, resilience.BreakerHealthCheck(a.Registry.Get(source)))
	m.Register(providerSentiment, resilience.BreakerHealthCheck(a.Registry.Get(providerSentiment)))
	if critic == "llm" {
		m.Register(providerCritic, resilience.BreakerHealthCheck(a.Registry.Get(providerCritic)))
	}
	if a.snapshot != nil {
		m.Register("database", resilience.DatabaseHealthCheck(a.snapshot.Ping))
	}
	return m
}

// watcher runs evaluations on a cron schedule. Overlapping ticks are skipped.
type watcher struct {
	app         *App
	providers   *providers
	marketHours bool
	now         func() time.Time
	logger      zerolog.Logger
}

func newWatcher(app *App, p *providers, marketHours bool) *watcher {
	return &watcher{
		app:         app,
		providers:   p,
		marketHours: marketHours,
		now:         time.Now,
		logger:      app.Logger.With().Str("component", "watch").Logger(),
	}
}

// Run schedules evaluations until ctx is done.
func (w *watcher) Run(ctx context.Context, schedule string) error {
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLocation(utils.IndiaLocation),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{w.logger})),
	)
	if _, err := c.AddFunc(schedule, func() { w.Tick(ctx) }); err != nil {
		return err
	}
	c.Start()
	w.logger.Info().Str("schedule", schedule).Bool("market_hours_only", w.marketHours).Msg("Watch started")

	<-ctx.Done()
	<-c.Stop().Done()
	if w.app.Registry != nil {
		for _, st := range w.app.Registry.AllStats() {
			w.logger.Info().
				Str("provider", st.Name).
				Int64("requests", st.TotalRequests).
				Float64("failure_rate", st.FailureRate()).
				Msg("Provider stats")
		}
	}
	w.logger.Info().Msg("Watch stopped")
	return nil
}

// Tick runs one evaluation unless the market is closed and runs are limited
// to market hours. It reports whether an evaluation ran.
func (w *watcher) Tick(ctx context.Context) bool {
	if w.marketHours && utils.MarketStatusAt(w.now()) != utils.MarketOpen {
		w.logger.Debug().Msg("Market closed, skipping run")
		return false
	}

	cfg := w.app.Config
	res, err := w.app.run(ctx, w.providers, cfg.ScopeList(), cfg.FilterConfig(), cfg.EngineOptions())
	if err != nil {
		w.logger.Error().Err(err).Msg("Evaluation failed")
		return true
	}

	for _, r := range res.Recommendations {
		logging.LogRecommendation(w.logger, r.Candidate.Symbol, string(r.Candidate.Kind), r.Score, r.ConfidenceScore)
	}
	w.logger.Info().
		Int("recommendations", len(res.Recommendations)).
		Int("skipped", len(res.Skipped)).
		Int("warnings", len(res.Warnings)).
		Msg("Evaluation completed")
	return true
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
