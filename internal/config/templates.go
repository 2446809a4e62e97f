package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Options Advisor Configuration

[engine]
# Upper bound on one evaluation run
deadline = "2m"

[engine.candidates]
# Lots per NEW or SWAP leg, and the cap for hedge legs
max_lots_per_trade = 1
# Swap targets kept per held position
max_swap_targets = 3
# Fraction of notional assumed as margin when the broker gives none
margin_rate = 0.15
# Preferred strike distance from spot for protective legs
hedge_ssr = 0.05
# Minimum open interest for a quote to be traded, 0 disables the check
min_open_interest = 0

[scope]
# Only these underlyings are ever analysed
symbols = ["NIFTY50", "BANKNIFTY", "ICICIBANK", "HDFCBANK", "INFY", "TCS", "RELIANCE", "TATAMOTORS", "AXISBANK", "SBIN", "WIPRO", "HCLTECH"]

[filters]
# Minimum strike distance from spot, as a fraction of spot
min_ssr = 0.02
# Minimum premium collected in INR
min_premium = 0.05
# Minimum return on margin
min_rom = 0.05
# Maximum analyst risk indicator (1-10)
max_risk = 7

[ranking]
# Candidates sent to review after ranking, 0 keeps all of them
top_n = 0

[ranking.weights]
reward_risk = 0.001
rom = 10.0
risk = 0.25

[review]
# Critic: "rules" (deterministic) or "llm"
critic = "rules"
# Confidence (0-10) needed for acceptance
acceptance_threshold = 6.0
# Review iterations per candidate
max_iterations = 3
# Timeout for a single critic call
call_timeout = "20s"
# Candidates reviewed concurrently
concurrency = 4

[concurrency]
# Symbols fetched concurrently
fetch = 4
# Provider calls per second, 0 disables limiting
rate_per_second = 5.0
burst = 5

[portfolio]
# Maximum share of written margin in one sector
max_sector_exposure = 0.30
# Margin utilization that raises an alert
margin_alert = 0.70
# Underlying drop used for the stress test
stress_drop = 0.05

[sectors]
# Extra symbol to sector mappings; built-in mappings cover the default scope
# TITAN = "Consumer"

[source]
# Positions and chains: "kite" (live) or "snapshot" (SQLite file)
kind = "kite"
# Snapshot database path, defaults to snapshot.db in this directory
# snapshot = ""
# Sentiment: "llm" or "snapshot"
sentiment = "llm"
model = "gpt-4o-mini"

[resilience]
retry_max = 3
retry_initial = "200ms"
retry_max_wait = "5s"

[resilience.breaker]
failure_threshold = 5
success_threshold = 2
timeout = "30s"

[watch]
# Six-field cron expression (with seconds)
cron = "0 */15 * * * *"
# Skip scheduled runs outside NSE trading hours
market_hours_only = true
# Prometheus listen address, empty disables
metrics_addr = ":9090"

[logging]
# Level: debug, info, warn, error
level = "info"
# Also write JSON logs to a rotating file
file = true
# path = ""
`

const credentialsTemplate = `# Options Advisor Credentials
# Keep this file secure. Environment variables take precedence.

[kite]
# Kite Connect API key (or KITE_API_KEY)
api_key = ""
user_id = ""
# Access token (or KITE_ACCESS_TOKEN); otherwise read from session_file
access_token = ""
# session_file = ""

[openai]
# OpenAI API key (or OPENAI_API_KEY)
api_key = ""
`

// createTemplate writes content to configDir/name unless the file exists.
func createTemplate(configDir, name, content string, perm os.FileMode) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		return fmt.Errorf("writing %s template: %w", name, err)
	}
	return nil
}

// Path returns the path of a file in the configuration directory.
func (c *Config) Path(name string) string {
	return filepath.Join(c.Dir, name)
}
