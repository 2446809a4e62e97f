// Package portfolio computes portfolio-level risk: sector concentration,
// margin utilization, a spot stress test and a dispersion-based VaR.
package portfolio

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"options-advisor/internal/analysis/metrics"
	"options-advisor/internal/models"
)

// Options holds the portfolio risk thresholds.
type Options struct {
	MaxSectorShare float64 `mapstructure:"max_sector_exposure"`
	MarginAlert    float64 `mapstructure:"margin_alert"`
	StressDrop     float64 `mapstructure:"stress_drop"`
}

// DefaultOptions returns the default thresholds.
func DefaultOptions() Options {
	return Options{
		MaxSectorShare: 0.30,
		MarginAlert:    0.70,
		StressDrop:     0.05,
	}
}

// DefaultRisk is assumed for the portfolio when no position has a signal.
const DefaultRisk = 5.0

func sectorOf(p models.Position, sectors map[string]string) string {
	if p.Sector != "" {
		return p.Sector
	}
	return models.LookupSector(sectors, p.Symbol)
}

// SectorExposure returns each sector's share of the margin used by short
// positions.
func SectorExposure(positions []models.Position, sectors map[string]string) map[string]float64 {
	bySector := make(map[string]float64)
	total := 0.0
	for _, p := range positions {
		if !p.IsShort() || p.MarginUsed <= 0 {
			continue
		}
		bySector[sectorOf(p, sectors)] += p.MarginUsed
		total += p.MarginUsed
	}
	if total == 0 {
		return bySector
	}
	for s, m := range bySector {
		bySector[s] = m / total
	}
	return bySector
}

// ExposureFlags flags sectors whose margin share exceeds maxShare. Written
// puts count as LONG exposure, written calls as SHORT; a sector whose written
// lots balance out is not flagged.
func ExposureFlags(positions []models.Position, sectors map[string]string, maxShare float64) []models.ExposureFlag {
	shares := SectorExposure(positions, sectors)

	type tally struct {
		net     int
		symbols map[string]struct{}
	}
	tallies := make(map[string]*tally)
	for _, p := range positions {
		if !p.IsShort() || p.MarginUsed <= 0 {
			continue
		}
		s := sectorOf(p, sectors)
		t, ok := tallies[s]
		if !ok {
			t = &tally{symbols: make(map[string]struct{})}
			tallies[s] = t
		}
		switch p.OptionType {
		case models.OptionTypePut:
			t.net += p.Lots()
		case models.OptionTypeCall:
			t.net -= p.Lots()
		}
		t.symbols[models.NormalizeSymbol(p.Symbol)] = struct{}{}
	}

	var flags []models.ExposureFlag
	for sector, share := range shares {
		if share <= maxShare {
			continue
		}
		t := tallies[sector]
		if t == nil || t.net == 0 {
			continue
		}
		dir := models.ExposureLong
		if t.net < 0 {
			dir = models.ExposureShort
		}
		syms := make([]string, 0, len(t.symbols))
		for s := range t.symbols {
			syms = append(syms, s)
		}
		sort.Strings(syms)
		flags = append(flags, models.ExposureFlag{
			Sector:    sector,
			Symbols:   syms,
			Direction: dir,
			Share:     share,
		})
	}
	sort.Slice(flags, func(i, j int) bool { return flags[i].Sector < flags[j].Sector })
	return flags
}

// MarginUtilization returns used / (used + available) and whether it exceeds
// threshold.
func MarginUtilization(used, available, threshold float64) (float64, bool) {
	total := used + available
	if total <= 0 {
		return 0, false
	}
	u := used / total
	return u, u > threshold
}

// StressResult is the outcome of a uniform spot move.
type StressResult struct {
	Drop         float64 `json:"drop"`
	PnLChange    float64 `json:"pnl_change"`
	SimulatedPnL float64 `json:"simulated_pnl"`
}

// StressTest reprices every position at spot*(1-drop) using intrinsic value.
// Written puts lose as spot falls; written calls gain back intrinsic value.
func StressTest(positions []models.Position, drop float64) StressResult {
	res := StressResult{Drop: drop}
	for _, p := range positions {
		res.SimulatedPnL += p.PnL
		if p.SpotPrice <= 0 {
			continue
		}
		shocked := p.SpotPrice * (1 - drop)
		delta := intrinsic(p.OptionType, shocked, p.Strike) - intrinsic(p.OptionType, p.SpotPrice, p.Strike)
		change := float64(p.Quantity) * delta
		res.PnLChange += change
		res.SimulatedPnL += change
	}
	return res
}

func intrinsic(t models.OptionType, spot, strike float64) float64 {
	if t == models.OptionTypeCall {
		return math.Max(0, spot-strike)
	}
	return math.Max(0, strike-spot)
}

// ValueAtRisk estimates the expected loss as two population standard
// deviations of position P&L.
func ValueAtRisk(positions []models.Position) float64 {
	n := len(positions)
	if n < 2 {
		return 0
	}
	pnls := make([]float64, n)
	for i, p := range positions {
		pnls[i] = p.PnL
	}
	popVar := stat.Variance(pnls, nil) * float64(n-1) / float64(n)
	return 2 * math.Sqrt(popVar)
}

// Summarize builds the portfolio risk picture. risks maps symbols to their
// sentiment risk indicator; positions without one are left out of the risk
// distribution.
func Summarize(pc models.PortfolioContext, risks map[string]int, opts Options) models.PortfolioSummary {
	if opts.MarginAlert <= 0 {
		opts.MarginAlert = DefaultOptions().MarginAlert
	}
	if opts.StressDrop <= 0 {
		opts.StressDrop = DefaultOptions().StressDrop
	}

	sum := models.PortfolioSummary{
		AvailableMargin: pc.AvailableMargin,
		SectorExposure:  SectorExposure(pc.Positions, pc.Sectors),
		RiskGroups: map[string]int{
			metrics.RiskGroupLow:    0,
			metrics.RiskGroupMedium: 0,
			metrics.RiskGroupHigh:   0,
		},
	}
	for _, p := range pc.Positions {
		sum.TotalMargin += p.MarginUsed
	}
	used := pc.UsedMargin
	if used <= 0 {
		used = sum.TotalMargin
	}
	sum.MarginUtilization, sum.MarginAlert = MarginUtilization(used, pc.AvailableMargin, opts.MarginAlert)

	total, counted := 0.0, 0
	for _, p := range pc.Positions {
		ri, ok := risks[models.NormalizeSymbol(p.Symbol)]
		if !ok || ri < 1 {
			continue
		}
		sum.RiskGroups[metrics.RiskGroup(float64(ri))]++
		total += float64(ri)
		counted++
	}
	sum.AverageRisk = DefaultRisk
	if counted > 0 {
		sum.AverageRisk = total / float64(counted)
	}
	sum.RiskLevel = metrics.RiskGroup(sum.AverageRisk)

	stress := StressTest(pc.Positions, opts.StressDrop)
	sum.StressLoss = -stress.PnLChange
	sum.ValueAtRisk = ValueAtRisk(pc.Positions)
	return sum
}
