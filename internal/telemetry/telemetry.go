// Package telemetry exposes Prometheus metrics for the advisor. Recording is
// fire-and-forget and never influences engine results.
package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	providerCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "advisor_provider_calls_total",
		Help: "Total provider calls by provider, operation and outcome",
	}, []string{"provider", "operation", "outcome"})

	providerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "advisor_provider_call_duration_seconds",
		Help:    "Provider call latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "operation"})

	candidatesGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "advisor_candidates_generated_total",
		Help: "Total candidates generated by kind",
	}, []string{"kind"})

	skips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "advisor_skips_total",
		Help: "Total manifest entries by stage and reason",
	}, []string{"stage", "reason"})

	reviewOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "advisor_review_outcomes_total",
		Help: "Total review outcomes by final state",
	}, []string{"state"})

	recommendations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "advisor_recommendations_total",
		Help: "Total recommendations emitted",
	})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "advisor_run_duration_seconds",
		Help:    "Wall-clock duration of one evaluation call",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	marginUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "advisor_margin_utilization",
		Help: "Portfolio margin utilization (0.0 to 1.0)",
	})

	circuitOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "advisor_circuit_open",
		Help: "Circuit breaker state per provider (1=open, 0=closed)",
	}, []string{"name"})
)

// ObserveProviderCall records one provider call.
func ObserveProviderCall(provider, operation string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	providerCalls.WithLabelValues(provider, operation, outcome).Inc()
	providerLatency.WithLabelValues(provider, operation).Observe(d.Seconds())
}

// CandidatesGenerated adds n generated candidates of kind.
func CandidatesGenerated(kind string, n int) {
	candidatesGenerated.WithLabelValues(kind).Add(float64(n))
}

// Skipped counts one manifest entry.
func Skipped(stage, reason string) {
	skips.WithLabelValues(stage, reason).Inc()
}

// ReviewOutcome counts one finished review.
func ReviewOutcome(state string) {
	reviewOutcomes.WithLabelValues(state).Inc()
}

// Recommended adds n emitted recommendations.
func Recommended(n int) {
	recommendations.Add(float64(n))
}

// RunCompleted records the duration of an evaluation call.
func RunCompleted(d time.Duration) {
	runDuration.Observe(d.Seconds())
}

// SetMarginUtilization publishes the latest utilization.
func SetMarginUtilization(u float64) {
	marginUtilization.Set(u)
}

// SetCircuitOpen publishes a breaker's state.
func SetCircuitOpen(name string, open bool) {
	v := 0.0
	if open {
		v = 1
	}
	circuitOpen.WithLabelValues(name).Set(v)
}

// Serve exposes /metrics, and /healthz when health is non-nil, on addr until
// ctx is done.
func Serve(ctx context.Context, addr string, health http.Handler, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if health != nil {
		mux.Handle("/healthz", health)
	}
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("Metrics server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
