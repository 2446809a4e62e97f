package models

import (
	"math"
	"time"

	"options-advisor/internal/errors"
)

// OptionQuote represents a tradable option on the chain.
type OptionQuote struct {
	Symbol            string     `json:"symbol"`
	TradingSymbol     string     `json:"trading_symbol,omitempty"`
	Strike            float64    `json:"strike"`
	OptionType        OptionType `json:"option_type"`
	Expiry            time.Time  `json:"expiry"`
	Bid               float64    `json:"bid"`
	Ask               float64    `json:"ask"`
	LastPrice         float64    `json:"last_price"`
	LotSize           int        `json:"lot_size"`
	ImpliedVolatility float64    `json:"iv,omitempty"` // 0 when absent
	OpenInterest      int64      `json:"oi,omitempty"`
	MarginPerLot      float64    `json:"margin_per_lot,omitempty"` // 0 when the broker gave none
}

// Key identifies the contract quoted.
func (q OptionQuote) Key() string {
	return ContractKey(q.Symbol, q.Strike, q.OptionType, q.Expiry)
}

// Premium returns the per-unit price used for premium calculations: the
// bid/ask mid when both sides are quoted, otherwise the last traded price.
func (q OptionQuote) Premium() (float64, error) {
	if q.Bid > 0 && q.Ask > 0 {
		if q.Bid > q.Ask {
			return 0, errors.Wrapf(errors.ErrInvalidQuote, "bid %.2f above ask %.2f", q.Bid, q.Ask)
		}
		return (q.Bid + q.Ask) / 2, nil
	}
	if q.LastPrice > 0 && !math.IsInf(q.LastPrice, 0) {
		return q.LastPrice, nil
	}
	return 0, errors.Wrap(errors.ErrInvalidQuote, "no usable price")
}

// OptionChain is the set of quotes for one underlying.
type OptionChain struct {
	Symbol    string        `json:"symbol"`
	SpotPrice float64       `json:"spot_price"`
	AsOf      time.Time     `json:"as_of"`
	Quotes    []OptionQuote `json:"quotes"`
}

// SentimentSignal is the structured analyst output for a symbol.
type SentimentSignal struct {
	Symbol          string    `json:"symbol"`
	ShortTermLabel  string    `json:"short_term"`
	MediumTermLabel string    `json:"medium_term"`
	RiskIndicator   int       `json:"risk_indicator"`
	Confidence      float64   `json:"confidence"`
	KeyDrivers      []string  `json:"key_drivers,omitempty"`
	Risks           []string  `json:"risks,omitempty"`
	AsOf            time.Time `json:"as_of"`
}

// Validate checks the signal ranges.
func (s SentimentSignal) Validate() error {
	if s.RiskIndicator < 1 || s.RiskIndicator > 10 {
		return errors.Wrapf(errors.ErrInvalidSignal, "risk indicator %d outside [1,10]", s.RiskIndicator)
	}
	if s.Confidence < 0 || s.Confidence > 10 || math.IsNaN(s.Confidence) {
		return errors.Wrapf(errors.ErrInvalidSignal, "confidence %.2f outside [0,10]", s.Confidence)
	}
	return nil
}
