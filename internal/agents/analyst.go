package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"options-advisor/internal/errors"
	"options-advisor/internal/models"
	"options-advisor/pkg/utils"
)

// ChainSource supplies the market snapshot the analyst reasons over.
type ChainSource interface {
	GetOptionChain(ctx context.Context, symbol string) (*models.OptionChain, error)
}

// Analyst produces SentimentSignals from an LLM.
type Analyst struct {
	llm     LLMClient
	market  ChainSource
	sectors map[string]string
	now     func() time.Time
}

// NewAnalyst creates an LLM-backed sentiment analyst. market may be nil.
func NewAnalyst(llm LLMClient, market ChainSource, sectors map[string]string) *Analyst {
	return &Analyst{
		llm:     llm,
		market:  market,
		sectors: sectors,
		now:     time.Now,
	}
}

const analystSystemPrompt = `You are a seasoned equity research analyst covering Indian equities and index derivatives.
Assess the symbol for an options writer and reply with a single JSON object:
{
  "short_term": "Strongly Positive|Moderately Positive|Cautiously Positive|Neutral|Cautiously Negative|Moderately Negative|Strongly Negative",
  "medium_term": "<same scale>",
  "risk_indicator": <integer 1-10, 10 is riskiest>,
  "confidence": <number 0-10>,
  "key_drivers": ["..."],
  "risks": ["..."]
}
Short term is under one month, medium term one to three months. Lower confidence when data is thin.`

type analystReply struct {
	ShortTerm     string   `json:"short_term"`
	MediumTerm    string   `json:"medium_term"`
	RiskIndicator int      `json:"risk_indicator"`
	Confidence    float64  `json:"confidence"`
	KeyDrivers    []string `json:"key_drivers"`
	Risks         []string `json:"risks"`
}

// GetSentiment asks the model for a structured view of symbol. Any failure is
// reported as a DataError so the engine can skip the symbol.
func (a *Analyst) GetSentiment(ctx context.Context, symbol string) (models.SentimentSignal, error) {
	symbol = models.NormalizeSymbol(symbol)
	prompt := a.buildPrompt(ctx, symbol)

	response, err := a.llm.CompleteWithSystem(ctx, analystSystemPrompt, prompt)
	if err != nil {
		return models.SentimentSignal{}, errors.NewDataError("sentiment", symbol, "analyst call failed", err)
	}
	return ParseSentiment(symbol, response, a.now())
}

// ParseSentiment converts an analyst reply into a validated signal.
func ParseSentiment(symbol, response string, asOf time.Time) (models.SentimentSignal, error) {
	var reply analystReply
	if err := decodeJSON(response, &reply); err != nil {
		return models.SentimentSignal{}, errors.NewDataError("sentiment", symbol, "unparseable analyst reply", err)
	}

	signal := models.SentimentSignal{
		Symbol:          symbol,
		ShortTermLabel:  strings.TrimSpace(reply.ShortTerm),
		MediumTermLabel: strings.TrimSpace(reply.MediumTerm),
		RiskIndicator:   reply.RiskIndicator,
		Confidence:      reply.Confidence,
		KeyDrivers:      reply.KeyDrivers,
		Risks:           reply.Risks,
		AsOf:            asOf,
	}
	if err := signal.Validate(); err != nil {
		return models.SentimentSignal{}, errors.NewDataError("sentiment", symbol, "analyst reply out of range", err)
	}
	return signal, nil
}

func (a *Analyst) buildPrompt(ctx context.Context, symbol string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Symbol: %s\nSector: %s\n", symbol, models.LookupSector(a.sectors, symbol))

	if a.market != nil {
		chain, err := a.market.GetOptionChain(ctx, symbol)
		if err == nil && chain != nil {
			fmt.Fprintf(&sb, "Spot: %s\n", utils.FormatIndianCurrency(chain.SpotPrice))
			puts, calls := 0, 0
			var putOI, callOI int64
			for _, q := range chain.Quotes {
				if q.OptionType == models.OptionTypePut {
					puts++
					putOI += q.OpenInterest
				} else {
					calls++
					callOI += q.OpenInterest
				}
			}
			fmt.Fprintf(&sb, "Chain: %d puts, %d calls", puts, calls)
			if callOI > 0 {
				fmt.Fprintf(&sb, ", put/call OI ratio %.2f", float64(putOI)/float64(callOI))
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// Bias classifies a sentiment label as +1 (positive), -1 (negative) or 0.
func Bias(label string) int {
	l := strings.ToLower(label)
	switch {
	case strings.Contains(l, "positive"), strings.Contains(l, "bullish"):
		return 1
	case strings.Contains(l, "negative"), strings.Contains(l, "bearish"):
		return -1
	}
	return 0
}
