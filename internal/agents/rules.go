package agents

import (
	"context"
	"fmt"
	"strings"

	"options-advisor/internal/models"
	"options-advisor/internal/review"
)

// RuleCritic is a deterministic critic. It scores a candidate on the first
// iteration from its metrics and sentiment; later iterations confirm the
// carried confidence unchanged, so it never oscillates.
type RuleCritic struct {
	Threshold    float64 // confidence needed for ACCEPTED
	HighRisk     int     // risk indicator treated as high risk
	GoodROM      float64
	SafeDistance float64
}

// NewRuleCritic creates a rule critic with the default bars.
func NewRuleCritic(threshold float64) *RuleCritic {
	return &RuleCritic{
		Threshold:    threshold,
		HighRisk:     8,
		GoodROM:      0.10,
		SafeDistance: 0.05,
	}
}

// Review implements review.CritiqueProvider.
func (r *RuleCritic) Review(ctx context.Context, req review.Request) (review.Critique, error) {
	if err := ctx.Err(); err != nil {
		return review.Critique{}, err
	}
	c := req.Candidate
	m := c.Metrics

	if c.Leg.Side == models.SideSell && m.SSR < 0 {
		return review.Critique{
			Verdict:    review.VerdictRejected,
			Confidence: 0,
			Note:       "written strike is already in the money",
			Unsound:    true,
		}, nil
	}

	if req.Iteration > 1 {
		crit := review.Critique{
			Confidence: req.Confidence,
			Verdict:    review.VerdictAccepted,
			Note:       "revision applied",
		}
		if req.Confidence < r.Threshold {
			crit.Verdict = review.VerdictRevised
		}
		return crit, nil
	}

	conf := c.Confidence
	var notes []string
	var rev review.Revision
	revised := false

	switch {
	case c.Kind == models.KindHedge:
		conf++
		notes = append(notes, "hedge reduces concentration")
	case m.ROM >= r.GoodROM:
		conf++
		notes = append(notes, "return on margin is strong")
	}
	if c.Leg.Side == models.SideSell && m.SSR >= r.SafeDistance {
		conf += 0.5
		notes = append(notes, "strike has comfortable distance from spot")
	}
	if m.RiskIndicator >= r.HighRisk {
		conf--
		notes = append(notes, fmt.Sprintf("risk indicator %d is high", m.RiskIndicator))
		if c.Leg.Lots > 1 {
			one := 1
			rev.Lots = &one
			revised = true
		}
	}
	if conflict := sentimentConflict(c); conflict != "" {
		conf -= 1.5
		rev.Caveat = conflict
		revised = true
	}
	if c.Signal == "" {
		conf -= 0.5
		notes = append(notes, "sentiment labels missing")
	}

	conf = clamp(conf, 0, 10)
	crit := review.Critique{
		Confidence: conf,
		Note:       strings.Join(notes, "; "),
		Verdict:    review.VerdictAccepted,
	}
	if crit.Note == "" {
		crit.Note = "metrics consistent with rationale"
	}
	if conf < r.Threshold || revised {
		crit.Verdict = review.VerdictRevised
	}
	if revised {
		crit.Revision = &rev
	}
	return crit, nil
}

// sentimentConflict explains when the written side opposes the short-term
// view: writing puts into a negative outlook or calls into a positive one.
func sentimentConflict(c models.Candidate) string {
	if c.Leg.Side != models.SideSell {
		return ""
	}
	short := strings.SplitN(c.Signal, "/", 2)[0]
	bias := Bias(short)
	switch {
	case c.Leg.Quote.OptionType == models.OptionTypePut && bias < 0:
		return "short-term view is negative while writing a put"
	case c.Leg.Quote.OptionType == models.OptionTypeCall && bias > 0:
		return "short-term view is positive while writing a call"
	}
	return ""
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
