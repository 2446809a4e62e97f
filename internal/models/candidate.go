package models

import (
	"fmt"
	"time"
)

// CandidateKind is the action a candidate proposes.
type CandidateKind string

const (
	KindNew   CandidateKind = "NEW"
	KindSwap  CandidateKind = "SWAP"
	KindHedge CandidateKind = "HEDGE"
)

// Metrics is the computed risk/return record of a position or leg.
// SSR is oriented so that larger is safer for the written side.
type Metrics struct {
	ROM              float64 `json:"rom"`
	SSR              float64 `json:"ssr"`
	RiskIndicator    int     `json:"risk_indicator"`
	RewardRisk       float64 `json:"reward_risk"`
	PremiumCollected float64 `json:"premium_collected"`
	PremiumPaid      float64 `json:"premium_paid,omitempty"`
	MarginRequired   float64 `json:"margin_required"`
}

// Leg is the new contract a candidate would open.
type Leg struct {
	Quote    OptionQuote `json:"quote"`
	Side     Side        `json:"side"`
	Lots     int         `json:"lots"`
	Quantity int         `json:"quantity"`
}

// Candidate is a proposed action with fully computed metrics.
type Candidate struct {
	ID         string        `json:"id"`
	Kind       CandidateKind `json:"kind"`
	Symbol     string        `json:"symbol"`
	Sector     string        `json:"sector"`
	SpotPrice  float64       `json:"spot_price"`
	Leg        Leg           `json:"leg"`
	Close      *Position     `json:"close,omitempty"`
	Metrics    Metrics       `json:"metrics"`
	Confidence float64       `json:"confidence"`
	Signal     string        `json:"signal,omitempty"`
	Rationale  []string      `json:"rationale"`
	Caveats    []string      `json:"caveats,omitempty"`
}

// Validate checks the kind/close-leg invariant.
func (c Candidate) Validate() error {
	switch c.Kind {
	case KindSwap:
		if c.Close == nil {
			return fmt.Errorf("swap candidate %s has no position to close", c.ID)
		}
	case KindNew:
		if c.Close != nil {
			return fmt.Errorf("new candidate %s must not close a position", c.ID)
		}
	case KindHedge:
	default:
		return fmt.Errorf("candidate %s has unknown kind %q", c.ID, c.Kind)
	}
	return nil
}

// Describe renders the leg as e.g. "SELL 1 lot ICICIBANK 1460 PE 30-Oct".
func (c Candidate) Describe() string {
	unit := "lots"
	if c.Leg.Lots == 1 {
		unit = "lot"
	}
	exp := ""
	if !c.Leg.Quote.Expiry.IsZero() {
		exp = " " + c.Leg.Quote.Expiry.Format("02-Jan")
	}
	return fmt.Sprintf("%s %d %s %s %.0f %s%s", c.Leg.Side, c.Leg.Lots, unit, c.Symbol,
		c.Leg.Quote.Strike, c.Leg.Quote.OptionType, exp)
}

// TradeRecommendation is a reviewed, accepted candidate ready for output.
type TradeRecommendation struct {
	ID                  string    `json:"id"`
	Rank                int       `json:"rank"`
	Candidate           Candidate `json:"candidate"`
	Score               float64   `json:"score"`
	ConfidenceScore     float64   `json:"confidence_score"`
	ReasoningTrace      []string  `json:"reasoning_trace"`
	PortfolioImpactNote string    `json:"portfolio_impact_note"`
	ReviewIterations    int       `json:"review_iterations"`
	QualityScore        float64   `json:"quality_score"`
}

// Manifest reasons.
const (
	ReasonScopeViolation       = "ScopeViolation"
	ReasonDataUnavailable      = "DataUnavailable"
	ReasonDivisionInvalid      = "DivisionInvalid"
	ReasonInvalidQuote         = "InvalidQuote"
	ReasonIlliquid             = "Illiquid"
	ReasonInvalidPosition      = "InvalidPosition"
	ReasonInsufficientMargin   = "InsufficientMargin"
	ReasonFilterViolation      = "FilterViolation"
	ReasonRankedOut            = "RankedOut"
	ReasonReviewTimeout        = "ReviewTimeout"
	ReasonReviewNonConvergence = "ReviewNonConvergence"
	ReasonReviewRejected       = "ReviewRejected"
	ReasonReviewExhausted      = "ReviewExhausted"
	ReasonReviewError          = "ReviewError"
	ReasonRevalidationFailed   = "RevalidationFailed"
)

// Stage names the pipeline step that excluded something.
type Stage string

const (
	StageScope      Stage = "scope"
	StageFetch      Stage = "fetch"
	StageGenerate   Stage = "generate"
	StageFilter     Stage = "filter"
	StageRank       Stage = "rank"
	StageReview     Stage = "review"
	StageRevalidate Stage = "revalidate"
)

// SkipEntry explains one excluded symbol, position or candidate.
type SkipEntry struct {
	Symbol      string `json:"symbol"`
	CandidateID string `json:"candidate_id,omitempty"`
	Stage       Stage  `json:"stage"`
	Reason      string `json:"reason"`
	Detail      string `json:"detail,omitempty"`
}

// SymbolWarning is a per-symbol data problem surfaced to the caller.
type SymbolWarning struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// PortfolioSummary is the portfolio-level risk picture.
type PortfolioSummary struct {
	TotalMargin       float64            `json:"total_margin"`
	AvailableMargin   float64            `json:"available_margin"`
	MarginUtilization float64            `json:"margin_utilization"`
	MarginAlert       bool               `json:"margin_alert"`
	SectorExposure    map[string]float64 `json:"sector_exposure"`
	RiskGroups        map[string]int     `json:"risk_groups"`
	AverageRisk       float64            `json:"average_risk"`
	RiskLevel         string             `json:"risk_level"`
	StressLoss        float64            `json:"stress_loss"`
	ValueAtRisk       float64            `json:"value_at_risk"`
}

// Result is the outcome of one evaluation call.
type Result struct {
	Recommendations []TradeRecommendation `json:"recommendations"`
	Skipped         []SkipEntry           `json:"skipped"`
	Warnings        []SymbolWarning       `json:"warnings"`
	Portfolio       *PortfolioSummary     `json:"portfolio,omitempty"`
	Generated       int                   `json:"candidates_generated"`
	Reviewed        int                   `json:"candidates_reviewed"`
	AsOf            time.Time             `json:"as_of"`
}
