package agents

import (
	"context"
	"fmt"
	"strings"

	"options-advisor/internal/errors"
	"options-advisor/internal/review"
	"options-advisor/pkg/utils"
)

// Critic reviews candidates with an LLM.
type Critic struct {
	llm LLMClient
}

// NewCritic creates an LLM-backed critic.
func NewCritic(llm LLMClient) *Critic {
	return &Critic{llm: llm}
}

const criticSystemPrompt = `You review option-writing trade proposals before they reach a trader.
Check that the stated drivers logically support the action and that confidence matches the completeness of the data.
Reply with a single JSON object:
{
  "verdict": "ACCEPTED|REVISED|REJECTED",
  "confidence": <number 0-10>,
  "note": "<one sentence>",
  "unsound": <true if the trade is fundamentally wrong>,
  "revision": {"lots": <int, optional>, "confidence": <number, optional>, "caveat": "<optional>"}
}`

type criticReply struct {
	Verdict    string  `json:"verdict"`
	Confidence float64 `json:"confidence"`
	Note       string  `json:"note"`
	Unsound    bool    `json:"unsound"`
	Revision   *struct {
		Lots       *int     `json:"lots"`
		Confidence *float64 `json:"confidence"`
		Caveat     string   `json:"caveat"`
	} `json:"revision"`
}

// Review asks the model for a verdict on one candidate.
func (c *Critic) Review(ctx context.Context, req review.Request) (review.Critique, error) {
	response, err := c.llm.CompleteWithSystem(ctx, criticSystemPrompt, buildCritiquePrompt(req))
	if err != nil {
		return review.Critique{}, errors.NewProviderError("llm-critic", "review", err)
	}
	return ParseCritique(response)
}

// ParseCritique converts a critic reply into a structured verdict.
func ParseCritique(response string) (review.Critique, error) {
	var reply criticReply
	if err := decodeJSON(response, &reply); err != nil {
		return review.Critique{}, errors.NewProviderError("llm-critic", "parse", err)
	}

	crit := review.Critique{
		Confidence: reply.Confidence,
		Note:       strings.TrimSpace(reply.Note),
		Unsound:    reply.Unsound,
	}
	switch strings.ToUpper(strings.TrimSpace(reply.Verdict)) {
	case "ACCEPTED", "ACCEPT":
		crit.Verdict = review.VerdictAccepted
	case "REVISED", "REVISE":
		crit.Verdict = review.VerdictRevised
	case "REJECTED", "REJECT":
		crit.Verdict = review.VerdictRejected
	default:
		return review.Critique{}, errors.NewProviderError("llm-critic", "parse", fmt.Errorf("unknown verdict %q", reply.Verdict))
	}
	if reply.Revision != nil {
		crit.Revision = &review.Revision{
			Lots:       reply.Revision.Lots,
			Confidence: reply.Revision.Confidence,
			Caveat:     strings.TrimSpace(reply.Revision.Caveat),
		}
	}
	return crit, nil
}

func buildCritiquePrompt(req review.Request) string {
	c := req.Candidate
	m := c.Metrics

	var sb strings.Builder
	fmt.Fprintf(&sb, "Iteration: %d\n", req.Iteration)
	fmt.Fprintf(&sb, "Action: %s %s\n", c.Kind, c.Describe())
	if c.Close != nil {
		fmt.Fprintf(&sb, "Closes: %s %.0f %s (%d qty)\n", c.Close.Symbol, c.Close.Strike, c.Close.OptionType, c.Close.Quantity)
	}
	fmt.Fprintf(&sb, "Spot: %s  Sector: %s  Sentiment: %s\n", utils.FormatIndianCurrency(c.SpotPrice), c.Sector, c.Signal)
	fmt.Fprintf(&sb, "ROM: %s  SSR: %s  Risk: %d/10  Reward/Risk: %.2f\n",
		utils.FormatRatio(m.ROM), utils.FormatRatio(m.SSR), m.RiskIndicator, m.RewardRisk)
	fmt.Fprintf(&sb, "Premium collected: %s  Premium paid: %s  Margin: %s\n",
		utils.FormatIndianCurrency(m.PremiumCollected), utils.FormatIndianCurrency(m.PremiumPaid),
		utils.FormatIndianCurrency(m.MarginRequired))
	fmt.Fprintf(&sb, "Current confidence: %.1f/10\n", req.Confidence)
	sb.WriteString("Reasoning so far:\n")
	for _, line := range req.Trace {
		sb.WriteString("- " + line + "\n")
	}
	return sb.String()
}
