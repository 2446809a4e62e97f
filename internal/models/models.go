// Package models provides domain models for the recommendation engine.
package models

import (
	"fmt"
	"math"
	"strings"
	"time"

	"options-advisor/internal/errors"
)

// Exchange represents a stock exchange.
type Exchange string

const (
	NSE Exchange = "NSE"
	NFO Exchange = "NFO" // F&O
)

// OptionType is the option right.
type OptionType string

const (
	OptionTypeCall OptionType = "CE"
	OptionTypePut  OptionType = "PE"
)

// ParseOptionType accepts CE/PE and the CALL/PUT spellings.
func ParseOptionType(s string) (OptionType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CE", "CALL", "C":
		return OptionTypeCall, nil
	case "PE", "PUT", "P":
		return OptionTypePut, nil
	}
	return "", fmt.Errorf("unknown option type %q", s)
}

// Side represents the side of a leg.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Position represents an open derivative position. Quantity is signed:
// negative for short (written) options.
type Position struct {
	Symbol           string     `json:"symbol"`
	TradingSymbol    string     `json:"trading_symbol,omitempty"`
	Strike           float64    `json:"strike"`
	OptionType       OptionType `json:"option_type"`
	Quantity         int        `json:"quantity"`
	LotSize          int        `json:"lot_size"`
	MarginUsed       float64    `json:"margin_used"`
	PremiumCollected float64    `json:"premium_collected"`
	SpotPrice        float64    `json:"spot_price"`
	LastPrice        float64    `json:"last_price"`
	Expiry           time.Time  `json:"expiry"`
	Sector           string     `json:"sector,omitempty"`
	PnL              float64    `json:"pnl"`
}

// IsShort reports whether the position is a written option.
func (p Position) IsShort() bool {
	return p.Quantity < 0
}

// Lots returns the absolute number of lots held.
func (p Position) Lots() int {
	qty := p.Quantity
	if qty < 0 {
		qty = -qty
	}
	if p.LotSize <= 0 {
		return qty
	}
	lots := qty / p.LotSize
	if lots == 0 && qty > 0 {
		lots = 1
	}
	return lots
}

// Key identifies the contract held.
func (p Position) Key() string {
	return ContractKey(p.Symbol, p.Strike, p.OptionType, p.Expiry)
}

// Validate checks the position invariants as of now.
func (p Position) Validate(now time.Time) error {
	if p.MarginUsed <= 0 || math.IsNaN(p.MarginUsed) {
		return errors.NewValidationError("margin_used", p.MarginUsed, "must be positive")
	}
	if p.PremiumCollected < 0 {
		return errors.NewValidationError("premium_collected", p.PremiumCollected, "must not be negative")
	}
	if !p.Expiry.IsZero() && !p.Expiry.After(now) {
		return errors.NewValidationError("expiry", p.Expiry.Format("2006-01-02"), "open position has expired")
	}
	return nil
}

// ContractKey builds the identity shared by positions and quotes.
func ContractKey(symbol string, strike float64, optType OptionType, expiry time.Time) string {
	exp := ""
	if !expiry.IsZero() {
		exp = expiry.Format("2006-01-02")
	}
	return fmt.Sprintf("%s|%.2f|%s|%s", NormalizeSymbol(symbol), strike, optType, exp)
}

// Funds holds available and used margin figures.
type Funds struct {
	Available  float64 `json:"available"`
	Used       float64 `json:"used"`
	Collateral float64 `json:"collateral"`
}

// ExposureDirection is the directional bias of a concentrated exposure.
type ExposureDirection string

const (
	ExposureLong  ExposureDirection = "LONG"
	ExposureShort ExposureDirection = "SHORT"
)

// ExposureFlag marks a sector (and the symbols in it) whose concentration
// warrants a hedge.
type ExposureFlag struct {
	Sector    string            `json:"sector"`
	Symbols   []string          `json:"symbols"`
	Direction ExposureDirection `json:"direction"`
	Share     float64           `json:"share"`
}

// Covers reports whether the flag applies to symbol.
func (f ExposureFlag) Covers(symbol string) bool {
	symbol = NormalizeSymbol(symbol)
	for _, s := range f.Symbols {
		if NormalizeSymbol(s) == symbol {
			return true
		}
	}
	return false
}

// PortfolioContext is the caller-supplied evaluation context. It is read
// only for the duration of a call.
type PortfolioContext struct {
	Positions       []Position        `json:"positions"`
	AvailableMargin float64           `json:"available_margin"`
	UsedMargin      float64           `json:"used_margin"`
	Exposure        []ExposureFlag    `json:"exposure,omitempty"`
	Sectors         map[string]string `json:"sectors,omitempty"`
	AsOf            time.Time         `json:"as_of"`
}

// SectorOf returns the configured sector for symbol, or "General".
func (c PortfolioContext) SectorOf(symbol string) string {
	return LookupSector(c.Sectors, symbol)
}

// DefaultSector is used for symbols missing from the sector map.
const DefaultSector = "General"

// DefaultSectors returns the built-in symbol to sector map.
func DefaultSectors() map[string]string {
	return map[string]string{
		"ICICIBANK":  "Banking",
		"HDFCBANK":   "Banking",
		"AXISBANK":   "Banking",
		"SBIN":       "Banking",
		"BANKNIFTY":  "Banking",
		"INFY":       "IT",
		"TCS":        "IT",
		"WIPRO":      "IT",
		"HCLTECH":    "IT",
		"RELIANCE":   "Oil & Gas",
		"TATAMOTORS": "Auto",
		"NIFTY":      "Index",
		"NIFTY50":    "Index",
	}
}

// LookupSector resolves a symbol's sector from a sector map.
func LookupSector(sectors map[string]string, symbol string) string {
	if s, ok := sectors[NormalizeSymbol(symbol)]; ok && s != "" {
		return s
	}
	return DefaultSector
}
