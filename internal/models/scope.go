package models

import (
	"math"
	"sort"
	"strings"

	"options-advisor/internal/errors"
)

// NormalizeSymbol trims and upper-cases a symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// ScopeList is the allow-list of symbols eligible for analysis. It has no
// mutators, so a value cannot change during an evaluation run. The zero value
// is an empty scope.
type ScopeList struct {
	symbols map[string]struct{}
}

// NewScopeList builds a scope from symbols. Blank entries are ignored.
func NewScopeList(symbols ...string) ScopeList {
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		if n := NormalizeSymbol(s); n != "" {
			set[n] = struct{}{}
		}
	}
	return ScopeList{symbols: set}
}

// Contains reports exact membership of an already normalized symbol.
func (s ScopeList) Contains(symbol string) bool {
	_, ok := s.symbols[symbol]
	return ok
}

// Len returns the number of symbols in scope.
func (s ScopeList) Len() int {
	return len(s.symbols)
}

// IsEmpty reports whether the scope admits nothing.
func (s ScopeList) IsEmpty() bool {
	return len(s.symbols) == 0
}

// Symbols returns the scope in sorted order.
func (s ScopeList) Symbols() []string {
	out := make([]string, 0, len(s.symbols))
	for sym := range s.symbols {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// FilterConfig holds user-set eligibility thresholds. MinPremium is in rupees
// of total premium collected.
type FilterConfig struct {
	MinSSR     float64 `json:"min_ssr" mapstructure:"min_ssr"`
	MinPremium float64 `json:"min_premium" mapstructure:"min_premium"`
	MinROM     float64 `json:"min_rom" mapstructure:"min_rom"`
	MaxRisk    float64 `json:"max_risk" mapstructure:"max_risk"`
}

// MaxRiskIndicator is the upper bound of the analyst risk scale.
const MaxRiskIndicator = 10

// DefaultFilterConfig returns the default thresholds.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		MinSSR:     0.02,
		MinPremium: 0.05,
		MinROM:     0.05,
		MaxRisk:    7,
	}
}

// Validate checks every threshold is non-negative and MaxRisk stays on the
// risk scale.
func (f FilterConfig) Validate() error {
	checks := []struct {
		field string
		value float64
	}{
		{"min_ssr", f.MinSSR},
		{"min_premium", f.MinPremium},
		{"min_rom", f.MinROM},
		{"max_risk", f.MaxRisk},
	}
	for _, c := range checks {
		if math.IsNaN(c.value) || math.IsInf(c.value, 0) {
			return errors.NewValidationError(c.field, c.value, "must be a finite number")
		}
		if c.value < 0 {
			return errors.NewValidationError(c.field, c.value, "must not be negative")
		}
	}
	if f.MaxRisk > MaxRiskIndicator {
		return errors.NewValidationError("max_risk", f.MaxRisk, "must be <= 10")
	}
	return nil
}
