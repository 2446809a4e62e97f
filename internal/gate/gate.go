// Package gate enforces the symbol allow-list and the numeric eligibility
// thresholds. Every check fails closed.
package gate

import (
	"math"
	"regexp"

	"options-advisor/internal/models"
)

var symbolPattern = regexp.MustCompile(`^[A-Z0-9&-]+$`)

// Filter names reported in violations, in evaluation order.
const (
	FilterMinSSR     = "minSSR"
	FilterMinPremium = "minPremium"
	FilterMinROM     = "minROM"
	FilterMaxRisk    = "maxRisk"
)

// ValidateFilters returns an error matching ErrInvalidFilterConfig when any
// threshold is out of range.
func ValidateFilters(filters models.FilterConfig) error {
	return filters.Validate()
}

// IsEligible reports whether symbol may be analysed at all. A nil or empty
// scope, a blank symbol or a malformed one is never eligible.
func IsEligible(symbol string, scope models.ScopeList) bool {
	if scope.IsEmpty() {
		return false
	}
	normalized := models.NormalizeSymbol(symbol)
	if normalized == "" || !symbolPattern.MatchString(normalized) {
		return false
	}
	return scope.Contains(normalized)
}

// Violations lists every threshold that m fails, in a fixed order. NaN
// metrics fail every comparison.
func Violations(m models.Metrics, filters models.FilterConfig) []string {
	var out []string
	if !(m.SSR >= filters.MinSSR) {
		out = append(out, FilterMinSSR)
	}
	if !(m.PremiumCollected >= filters.MinPremium) {
		out = append(out, FilterMinPremium)
	}
	if !(m.ROM >= filters.MinROM) {
		out = append(out, FilterMinROM)
	}
	if !(float64(m.RiskIndicator) <= filters.MaxRisk) {
		out = append(out, FilterMaxRisk)
	}
	return out
}

// PassesFilters requires all four thresholds to hold simultaneously.
func PassesFilters(m models.Metrics, filters models.FilterConfig) bool {
	return len(Violations(m, filters)) == 0
}

// CandidateViolations applies the filters appropriate to the candidate kind.
// Hedges are exempt from minROM and minPremium, and are held to minSSR and
// maxRisk only when they collect premium of their own.
func CandidateViolations(c models.Candidate, filters models.FilterConfig) []string {
	if c.Kind != models.KindHedge {
		return Violations(c.Metrics, filters)
	}
	if c.Metrics.PremiumCollected <= 0 {
		return nil
	}

	var out []string
	if !(c.Metrics.SSR >= filters.MinSSR) {
		out = append(out, FilterMinSSR)
	}
	if !(float64(c.Metrics.RiskIndicator) <= filters.MaxRisk) {
		out = append(out, FilterMaxRisk)
	}
	return out
}

// CheckCandidate re-runs scope and filter checks for a finished candidate and
// returns the manifest reason for the first failure, or "" when it passes.
func CheckCandidate(c models.Candidate, scope models.ScopeList, filters models.FilterConfig) string {
	if !IsEligible(c.Symbol, scope) || !IsEligible(c.Leg.Quote.Symbol, scope) {
		return models.ReasonScopeViolation
	}
	if c.Close != nil && !IsEligible(c.Close.Symbol, scope) {
		return models.ReasonScopeViolation
	}
	if v := CandidateViolations(c, filters); len(v) > 0 {
		return FilterReason(v[0])
	}
	if math.IsNaN(c.Metrics.ROM) || math.IsNaN(c.Metrics.SSR) {
		return models.ReasonDivisionInvalid
	}
	return ""
}

// FilterReason formats a violation as a manifest reason, e.g.
// "FilterViolation:minSSR".
func FilterReason(violation string) string {
	return models.ReasonFilterViolation + ":" + violation
}
