package resilience

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"options-advisor/internal/errors"
	"options-advisor/internal/logging"
	"options-advisor/internal/models"
	"options-advisor/internal/review"
	"options-advisor/internal/telemetry"
	"options-advisor/pkg/utils"
)

// PortfolioSource supplies positions and funds.
type PortfolioSource interface {
	GetPositions(ctx context.Context) ([]models.Position, error)
	GetFunds(ctx context.Context) (models.Funds, error)
}

// MarketSource supplies option chains.
type MarketSource interface {
	GetOptionChain(ctx context.Context, symbol string) (*models.OptionChain, error)
}

// SentimentSource supplies sentiment signals.
type SentimentSource interface {
	GetSentiment(ctx context.Context, symbol string) (models.SentimentSignal, error)
}

// Guard applies a circuit breaker and retry policy to one provider.
type Guard struct {
	name   string
	cb     *CircuitBreaker
	retry  utils.RetryConfig
	logger zerolog.Logger
}

// NewGuard creates a guard for provider name using its breaker from reg.
func NewGuard(name string, reg *Registry, retry utils.RetryConfig, logger zerolog.Logger) *Guard {
	retry.Permanent = append(append([]error(nil), retry.Permanent...),
		errors.ErrCircuitOpen,
		errors.ErrNotAuthenticated,
		errors.ErrInvalidSignal,
		errors.ErrSnapshotNotFound,
		context.Canceled,
		context.DeadlineExceeded,
	)
	return &Guard{
		name:   name,
		cb:     reg.Get(name),
		retry:  retry,
		logger: logger.With().Str("provider", name).Logger(),
	}
}

// Breaker returns the guard's circuit breaker.
func (g *Guard) Breaker() *CircuitBreaker {
	return g.cb
}

func guarded[T any](ctx context.Context, g *Guard, operation string, fn func(context.Context) (T, error)) (T, error) {
	return utils.RetryWithResult(ctx, g.retry, func() (T, error) {
		start := time.Now()
		v, err := Call(ctx, g.cb, fn)
		d := time.Since(start)
		telemetry.ObserveProviderCall(g.name, operation, d, err)
		logging.LogProviderCall(g.logger, g.name, operation, d, err)
		return v, err
	})
}

// GuardedPortfolio wraps a PortfolioSource.
type GuardedPortfolio struct {
	next  PortfolioSource
	guard *Guard
}

// NewGuardedPortfolio wraps next with g.
func NewGuardedPortfolio(next PortfolioSource, g *Guard) *GuardedPortfolio {
	return &GuardedPortfolio{next: next, guard: g}
}

// GetPositions implements PortfolioSource.
func (p *GuardedPortfolio) GetPositions(ctx context.Context) ([]models.Position, error) {
	return guarded(ctx, p.guard, "positions", p.next.GetPositions)
}

// GetFunds implements PortfolioSource.
func (p *GuardedPortfolio) GetFunds(ctx context.Context) (models.Funds, error) {
	return guarded(ctx, p.guard, "funds", p.next.GetFunds)
}

// GuardedMarket wraps a MarketSource.
type GuardedMarket struct {
	next  MarketSource
	guard *Guard
}

// NewGuardedMarket wraps next with g.
func NewGuardedMarket(next MarketSource, g *Guard) *GuardedMarket {
	return &GuardedMarket{next: next, guard: g}
}

// GetOptionChain implements MarketSource.
func (m *GuardedMarket) GetOptionChain(ctx context.Context, symbol string) (*models.OptionChain, error) {
	return guarded(ctx, m.guard, "option_chain", func(ctx context.Context) (*models.OptionChain, error) {
		return m.next.GetOptionChain(ctx, symbol)
	})
}

// GuardedSentiment wraps a SentimentSource.
type GuardedSentiment struct {
	next  SentimentSource
	guard *Guard
}

// NewGuardedSentiment wraps next with g.
func NewGuardedSentiment(next SentimentSource, g *Guard) *GuardedSentiment {
	return &GuardedSentiment{next: next, guard: g}
}

// GetSentiment implements SentimentSource.
func (s *GuardedSentiment) GetSentiment(ctx context.Context, symbol string) (models.SentimentSignal, error) {
	return guarded(ctx, s.guard, "sentiment", func(ctx context.Context) (models.SentimentSignal, error) {
		return s.next.GetSentiment(ctx, symbol)
	})
}

// GuardedCritic wraps a review.CritiqueProvider.
type GuardedCritic struct {
	next  review.CritiqueProvider
	guard *Guard
}

// NewGuardedCritic wraps next with g.
func NewGuardedCritic(next review.CritiqueProvider, g *Guard) *GuardedCritic {
	return &GuardedCritic{next: next, guard: g}
}

// Review implements review.CritiqueProvider.
func (c *GuardedCritic) Review(ctx context.Context, req review.Request) (review.Critique, error) {
	return guarded(ctx, c.guard, "review", func(ctx context.Context) (review.Critique, error) {
		return c.next.Review(ctx, req)
	})
}
