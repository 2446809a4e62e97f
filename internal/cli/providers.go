package cli

import (
	"fmt"

	"options-advisor/internal/agents"
	"options-advisor/internal/broker"
	"options-advisor/internal/engine"
	"options-advisor/internal/errors"
	"options-advisor/internal/resilience"
	"options-advisor/internal/review"
)

// Provider names, also used as circuit breaker names.
const (
	providerKite      = "kite"
	providerSnapshot  = "snapshot"
	providerSentiment = "sentiment"
	providerCritic    = "critic"
)

// providers is the wired set of data sources for one evaluation.
type providers struct {
	Portfolio engine.PortfolioProvider
	Market    engine.MarketDataProvider
	Sentiment engine.SentimentProvider
	Critic    review.CritiqueProvider
	Guards    []*resilience.Guard
}

func (a *App) guard(name string) *resilience.Guard {
	return resilience.NewGuard(name, a.Registry, a.Config.RetryConfig(), a.Logger)
}

// kite creates the read-only Kite provider from the configured credentials.
func (a *App) kite() (*broker.KiteProvider, error) {
	creds := a.Config.Credentials.Kite
	if creds.APIKey == "" {
		return nil, errors.Wrap(errors.ErrNotAuthenticated, "kite api_key is not configured")
	}
	k := broker.NewKiteProvider(broker.KiteConfig{
		APIKey:      creds.APIKey,
		AccessToken: creds.AccessToken,
		SessionFile: creds.SessionFile,
		MarginRate:  a.Config.Engine.Candidates.MarginRate,
	}, a.Logger)
	if !k.IsAuthenticated() {
		return nil, errors.Wrap(errors.ErrNotAuthenticated, "no valid kite session; set KITE_ACCESS_TOKEN or log in")
	}
	return k, nil
}

// marketSources wires the portfolio and market sources for source behind a
// shared breaker and retry guard.
func (a *App) marketSources(source string, p *providers) error {
	var (
		portfolio resilience.PortfolioSource
		market    resilience.MarketSource
	)
	switch source {
	case providerKite:
		k, err := a.kite()
		if err != nil {
			return err
		}
		portfolio, market = k, k
	case providerSnapshot:
		s, err := a.Snapshot()
		if err != nil {
			return err
		}
		portfolio, market = s, s
	default:
		return fmt.Errorf("%w: unknown source %q", errors.ErrConfigInvalid, source)
	}
	g := a.guard(source)
	p.Portfolio = resilience.NewGuardedPortfolio(portfolio, g)
	p.Market = resilience.NewGuardedMarket(market, g)
	p.Guards = append(p.Guards, g)
	return nil
}

// buildProviders wires the portfolio, market, sentiment and critic sources
// selected by source and critic, each behind its own breaker and retry guard.
func (a *App) buildProviders(source, critic string) (*providers, error) {
	p := &providers{}
	if err := a.marketSources(source, p); err != nil {
		return nil, err
	}
	if err := a.sentimentSource(p); err != nil {
		return nil, err
	}
	if err := a.critic(critic, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (a *App) llm() (agents.LLMClient, error) {
	key := a.Config.Credentials.OpenAI.APIKey
	if key == "" {
		return nil, fmt.Errorf("%w: openai api_key is not configured", errors.ErrConfigInvalid)
	}
	return agents.NewOpenAIClient(key, a.Config.Source.Model), nil
}

// sentimentSource wires the configured analyst. The LLM analyst reads chains
// from p.Market, so market sources must be wired first.
func (a *App) sentimentSource(p *providers) error {
	var next resilience.SentimentSource
	switch a.Config.Source.Sentiment {
	case "llm":
		client, err := a.llm()
		if err != nil {
			return err
		}
		next = agents.NewAnalyst(client, p.Market, a.Config.Sectors)
	case providerSnapshot:
		s, err := a.Snapshot()
		if err != nil {
			return err
		}
		next = s
	default:
		return fmt.Errorf("%w: unknown sentiment source %q", errors.ErrConfigInvalid, a.Config.Source.Sentiment)
	}
	g := a.guard(providerSentiment)
	p.Sentiment = resilience.NewGuardedSentiment(next, g)
	p.Guards = append(p.Guards, g)
	return nil
}

func (a *App) critic(name string, p *providers) error {
	switch name {
	case "rules":
		p.Critic = agents.NewRuleCritic(a.Config.Review.AcceptanceThreshold)
	case "llm":
		client, err := a.llm()
		if err != nil {
			return err
		}
		g := a.guard(providerCritic)
		p.Critic = resilience.NewGuardedCritic(agents.NewCritic(client), g)
		p.Guards = append(p.Guards, g)
	default:
		return fmt.Errorf("%w: unknown critic %q", errors.ErrConfigInvalid, name)
	}
	return nil
}
