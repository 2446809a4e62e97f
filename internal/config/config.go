// Package config provides configuration management for the advisor.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"options-advisor/internal/analysis/portfolio"
	"options-advisor/internal/analysis/scoring"
	"options-advisor/internal/candidates"
	"options-advisor/internal/engine"
	"options-advisor/internal/errors"
	"options-advisor/internal/models"
	"options-advisor/internal/resilience"
	"options-advisor/internal/review"
	"options-advisor/internal/security"
	"options-advisor/pkg/utils"
)

// Config holds all application configuration.
type Config struct {
	Engine      EngineConfig        `mapstructure:"engine"`
	Scope       ScopeConfig         `mapstructure:"scope"`
	Filters     models.FilterConfig `mapstructure:"filters"`
	Ranking     RankingConfig       `mapstructure:"ranking"`
	Review      ReviewConfig        `mapstructure:"review"`
	Concurrency ConcurrencyConfig   `mapstructure:"concurrency"`
	Portfolio   portfolio.Options   `mapstructure:"portfolio"`
	Sectors     map[string]string   `mapstructure:"sectors"`
	Source      SourceConfig        `mapstructure:"source"`
	Resilience  ResilienceConfig    `mapstructure:"resilience"`
	Watch       WatchConfig         `mapstructure:"watch"`
	Logging     LoggingConfig       `mapstructure:"logging"`
	Credentials Credentials         `mapstructure:"-"` // Loaded separately
	Dir         string              `mapstructure:"-"`
}

// EngineConfig holds the evaluation limits.
type EngineConfig struct {
	Deadline   time.Duration      `mapstructure:"deadline"`
	Candidates candidates.Options `mapstructure:"candidates"`
}

// ScopeConfig holds the symbol allow-list.
type ScopeConfig struct {
	Symbols []string `mapstructure:"symbols"`
}

// RankingConfig holds ranking parameters.
type RankingConfig struct {
	TopN    int             `mapstructure:"top_n"`
	Weights scoring.Weights `mapstructure:"weights"`
}

// ReviewConfig holds self-review parameters.
type ReviewConfig struct {
	Critic              string        `mapstructure:"critic"` // rules, llm
	AcceptanceThreshold float64       `mapstructure:"acceptance_threshold"`
	MaxIterations       int           `mapstructure:"max_iterations"`
	CallTimeout         time.Duration `mapstructure:"call_timeout"`
	Concurrency         int           `mapstructure:"concurrency"`
}

// ConcurrencyConfig bounds provider fan-out.
type ConcurrencyConfig struct {
	Fetch         int     `mapstructure:"fetch"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

// SourceConfig selects where positions, chains and sentiment come from.
type SourceConfig struct {
	Kind      string `mapstructure:"kind"` // kite, snapshot
	Snapshot  string `mapstructure:"snapshot"`
	Sentiment string `mapstructure:"sentiment"` // llm, snapshot
	Model     string `mapstructure:"model"`
}

// ResilienceConfig holds breaker and retry settings for provider calls.
type ResilienceConfig struct {
	Breaker      resilience.CircuitBreakerConfig `mapstructure:"breaker"`
	RetryMax     int                             `mapstructure:"retry_max"`
	RetryInitial time.Duration                   `mapstructure:"retry_initial"`
	RetryMaxWait time.Duration                   `mapstructure:"retry_max_wait"`
}

// WatchConfig holds the scheduled run settings.
type WatchConfig struct {
	Cron        string `mapstructure:"cron"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	MarketHours bool   `mapstructure:"market_hours_only"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  bool   `mapstructure:"file"`
	Path  string `mapstructure:"path"`
}

// Credentials holds API credentials.
type Credentials struct {
	Kite   KiteCredentials   `mapstructure:"kite"`
	OpenAI OpenAICredentials `mapstructure:"openai"`
}

// KiteCredentials holds Kite Connect credentials. The access token is read
// from the environment or the session file written at login.
type KiteCredentials struct {
	APIKey      string `mapstructure:"api_key"`
	UserID      string `mapstructure:"user_id"`
	AccessToken string `mapstructure:"access_token"`
	SessionFile string `mapstructure:"session_file"`
}

// OpenAICredentials holds OpenAI API credentials.
type OpenAICredentials struct {
	APIKey string `mapstructure:"api_key"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/options-advisor"
	}
	return filepath.Join(home, ".config", "options-advisor")
}

// Load loads configuration from the specified directory. If configDir is
// empty, uses the default config directory. Missing files are created from
// templates and the defaults apply.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	// .env in the config dir, then the working directory; neither overrides
	// variables already set.
	_ = godotenv.Load(filepath.Join(configDir, ".env"))
	_ = godotenv.Load()

	cfg := &Config{Dir: configDir}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}
	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	f := models.DefaultFilterConfig()
	w := scoring.DefaultWeights()
	r := review.DefaultOptions()
	c := candidates.DefaultOptions()
	p := portfolio.DefaultOptions()
	b := resilience.DefaultCircuitBreakerConfig()
	e := engine.DefaultOptions()

	v.SetDefault("engine.deadline", e.Deadline)
	v.SetDefault("engine.candidates.max_lots_per_trade", c.MaxLotsPerTrade)
	v.SetDefault("engine.candidates.max_swap_targets", c.MaxSwapTargets)
	v.SetDefault("engine.candidates.margin_rate", c.MarginRate)
	v.SetDefault("engine.candidates.hedge_ssr", c.HedgeSSR)
	v.SetDefault("engine.candidates.min_open_interest", c.MinOpenInterest)

	v.SetDefault("scope.symbols", DefaultScope())

	v.SetDefault("filters.min_ssr", f.MinSSR)
	v.SetDefault("filters.min_premium", f.MinPremium)
	v.SetDefault("filters.min_rom", f.MinROM)
	v.SetDefault("filters.max_risk", f.MaxRisk)

	v.SetDefault("ranking.top_n", e.TopN)
	v.SetDefault("ranking.weights.reward_risk", w.RewardRisk)
	v.SetDefault("ranking.weights.rom", w.ROM)
	v.SetDefault("ranking.weights.risk", w.Risk)

	v.SetDefault("review.critic", "rules")
	v.SetDefault("review.acceptance_threshold", r.AcceptanceThreshold)
	v.SetDefault("review.max_iterations", r.MaxIterations)
	v.SetDefault("review.call_timeout", r.CallTimeout)
	v.SetDefault("review.concurrency", r.Concurrency)

	v.SetDefault("concurrency.fetch", e.FetchConcurrency)
	v.SetDefault("concurrency.rate_per_second", e.RatePerSecond)
	v.SetDefault("concurrency.burst", e.RateBurst)

	v.SetDefault("portfolio.max_sector_exposure", p.MaxSectorShare)
	v.SetDefault("portfolio.margin_alert", p.MarginAlert)
	v.SetDefault("portfolio.stress_drop", p.StressDrop)

	v.SetDefault("source.kind", "kite")
	v.SetDefault("source.sentiment", "llm")
	v.SetDefault("source.model", "gpt-4o-mini")

	v.SetDefault("resilience.breaker.failure_threshold", b.FailureThreshold)
	v.SetDefault("resilience.breaker.success_threshold", b.SuccessThreshold)
	v.SetDefault("resilience.breaker.timeout", b.Timeout)
	v.SetDefault("resilience.retry_max", 3)
	v.SetDefault("resilience.retry_initial", 200*time.Millisecond)
	v.SetDefault("resilience.retry_max_wait", 5*time.Second)

	v.SetDefault("watch.cron", "0 */15 * * * *")
	v.SetDefault("watch.market_hours_only", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", true)
}

// DefaultScope returns the built-in symbol allow-list.
func DefaultScope() []string {
	return []string{
		"NIFTY50", "BANKNIFTY", "ICICIBANK", "HDFCBANK", "INFY", "TCS",
		"RELIANCE", "TATAMOTORS", "AXISBANK", "SBIN", "WIPRO", "HCLTECH",
	}
}

func loadConfigFile(configDir string, cfg *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		if err := createTemplate(configDir, "config.toml", configTemplate, 0644); err != nil {
			return err
		}
	}
	return v.Unmarshal(cfg)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	v.SetDefault("kite.session_file", filepath.Join(configDir, "session.json"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		// Use restricted permissions for credentials file
		if err := createTemplate(configDir, "credentials.toml", credentialsTemplate, 0600); err != nil {
			return err
		}
	}
	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KITE_API_KEY"); v != "" {
		cfg.Credentials.Kite.APIKey = v
	}
	if v := os.Getenv("KITE_ACCESS_TOKEN"); v != "" {
		cfg.Credentials.Kite.AccessToken = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Credentials.OpenAI.APIKey = v
	}
	if v := os.Getenv("ADVISOR_SOURCE"); v != "" {
		cfg.Source.Kind = v
	}
	if v := os.Getenv("ADVISOR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// normalize upper-cases symbols; viper lower-cases map keys.
func (c *Config) normalize() {
	sectors := models.DefaultSectors()
	for sym, sector := range c.Sectors {
		sectors[models.NormalizeSymbol(sym)] = sector
	}
	c.Sectors = sectors

	for i, s := range c.Scope.Symbols {
		c.Scope.Symbols[i] = models.NormalizeSymbol(s)
	}
	c.Source.Kind = strings.ToLower(strings.TrimSpace(c.Source.Kind))
	c.Source.Sentiment = strings.ToLower(strings.TrimSpace(c.Source.Sentiment))
	c.Review.Critic = strings.ToLower(strings.TrimSpace(c.Review.Critic))
	if c.Source.Snapshot == "" {
		c.Source.Snapshot = filepath.Join(c.Dir, "snapshot.db")
	}
	if c.Logging.Path == "" {
		c.Logging.Path = filepath.Join(c.Dir, "logs", "advisor.log")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Filters.Validate(); err != nil {
		return err
	}
	invalid := func(format string, args ...interface{}) error {
		return errors.Wrapf(errors.ErrConfigInvalid, format, args...)
	}

	if len(c.Scope.Symbols) == 0 {
		return errors.Wrap(errors.ErrEmptyScope, "scope.symbols")
	}
	w := c.Ranking.Weights
	if w.RewardRisk < 0 || w.ROM < 0 || w.Risk < 0 {
		return invalid("ranking weights must be non-negative")
	}
	if c.Ranking.TopN < 0 {
		return invalid("ranking.top_n must be non-negative")
	}
	if c.Review.MaxIterations < 1 {
		return invalid("review.max_iterations must be at least 1")
	}
	if c.Review.AcceptanceThreshold < 0 || c.Review.AcceptanceThreshold > 10 {
		return invalid("review.acceptance_threshold must be between 0 and 10")
	}
	if c.Review.Concurrency < 1 || c.Concurrency.Fetch < 1 {
		return invalid("concurrency limits must be at least 1")
	}
	if c.Concurrency.RatePerSecond < 0 {
		return invalid("concurrency.rate_per_second must be non-negative")
	}
	if c.Engine.Candidates.MaxLotsPerTrade < 1 {
		return invalid("engine.candidates.max_lots_per_trade must be at least 1")
	}
	if c.Engine.Candidates.MinOpenInterest < 0 {
		return invalid("engine.candidates.min_open_interest must be non-negative")
	}
	if p := c.Portfolio.MaxSectorShare; p <= 0 || p > 1 {
		return invalid("portfolio.max_sector_exposure must be in (0, 1]")
	}
	switch c.Source.Kind {
	case "kite", "snapshot":
	default:
		return invalid("source.kind %q (must be 'kite' or 'snapshot')", c.Source.Kind)
	}
	switch c.Source.Sentiment {
	case "llm", "snapshot":
	default:
		return invalid("source.sentiment %q (must be 'llm' or 'snapshot')", c.Source.Sentiment)
	}
	switch c.Review.Critic {
	case "rules", "llm":
	default:
		return invalid("review.critic %q (must be 'rules' or 'llm')", c.Review.Critic)
	}
	return nil
}

// ScopeList returns the configured allow-list.
func (c *Config) ScopeList() models.ScopeList {
	return models.NewScopeList(c.Scope.Symbols...)
}

// FilterConfig returns the configured thresholds.
func (c *Config) FilterConfig() models.FilterConfig {
	return c.Filters
}

// EngineOptions converts the configuration into engine options.
func (c *Config) EngineOptions() engine.Options {
	return engine.Options{
		FetchConcurrency: c.Concurrency.Fetch,
		RatePerSecond:    c.Concurrency.RatePerSecond,
		RateBurst:        c.Concurrency.Burst,
		Deadline:         c.Engine.Deadline,
		TopN:             c.Ranking.TopN,
		Weights:          c.Ranking.Weights,
		Candidates:       c.Engine.Candidates,
		Review: review.Options{
			AcceptanceThreshold: c.Review.AcceptanceThreshold,
			MaxIterations:       c.Review.MaxIterations,
			CallTimeout:         c.Review.CallTimeout,
			Concurrency:         c.Review.Concurrency,
		},
		Portfolio: c.Portfolio,
	}
}

// RetryConfig returns the provider retry policy.
func (c *Config) RetryConfig() utils.RetryConfig {
	r := utils.DefaultRetryConfig()
	if c.Resilience.RetryMax > 0 {
		r.MaxAttempts = c.Resilience.RetryMax
	}
	if c.Resilience.RetryInitial > 0 {
		r.InitialDelay = c.Resilience.RetryInitial
	}
	if c.Resilience.RetryMaxWait > 0 {
		r.MaxDelay = c.Resilience.RetryMaxWait
	}
	return r
}

// Redacted returns a copy safe to print, with credentials masked.
func (c *Config) Redacted() *Config {
	r := *c
	r.Credentials.Kite.APIKey = security.MaskCredential(c.Credentials.Kite.APIKey)
	r.Credentials.Kite.AccessToken = security.MaskCredential(c.Credentials.Kite.AccessToken)
	r.Credentials.OpenAI.APIKey = security.MaskCredential(c.Credentials.OpenAI.APIKey)
	return &r
}
