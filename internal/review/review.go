// Package review runs the bounded self-review state machine over ranked
// candidates.
//
// Each candidate moves DRAFT -> UNDER_REVIEW -> {ACCEPTED, REVISED, REJECTED};
// REVISED re-enters DRAFT with the revision applied. The loop stops after
// MaxIterations, on a rejected or unsound verdict, on a timeout, or as soon as
// a revision lowers confidence below the previous revised value.
package review

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"options-advisor/internal/errors"
	"options-advisor/internal/logging"
	"options-advisor/internal/models"
)

// State is a review state.
type State string

const (
	StateDraft       State = "DRAFT"
	StateUnderReview State = "UNDER_REVIEW"
	StateAccepted    State = "ACCEPTED"
	StateRevised     State = "REVISED"
	StateRejected    State = "REJECTED"
)

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	return s == StateAccepted || s == StateRejected
}

// Verdict is the critic's classification of a candidate.
type Verdict string

const (
	VerdictAccepted Verdict = "ACCEPTED"
	VerdictRevised  Verdict = "REVISED"
	VerdictRejected Verdict = "REJECTED"
)

// Revision lists the fields a critic wants changed. Nil fields are kept.
type Revision struct {
	Lots       *int     `json:"lots,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Caveat     string   `json:"caveat,omitempty"`
}

// Critique is the structured verdict returned by a CritiqueProvider.
type Critique struct {
	Verdict    Verdict   `json:"verdict"`
	Confidence float64   `json:"confidence"`
	Note       string    `json:"note"`
	Revision   *Revision `json:"revision,omitempty"`
	Unsound    bool      `json:"unsound,omitempty"`
}

// Request is what the critic sees for one iteration.
type Request struct {
	Candidate  models.Candidate
	Iteration  int
	Confidence float64
	Trace      []string
}

// CritiqueProvider reviews one candidate per call.
type CritiqueProvider interface {
	Review(ctx context.Context, req Request) (Critique, error)
}

// Resizer recomputes a candidate for a new lot count, returning an error if
// the resized candidate is not viable.
type Resizer func(c models.Candidate, lots int) (models.Candidate, error)

// Transition records one state change.
type Transition struct {
	From      State `json:"from"`
	To        State `json:"to"`
	Iteration int   `json:"iteration"`
}

// Outcome is the final state of one candidate's review.
type Outcome struct {
	Candidate   models.Candidate `json:"candidate"`
	State       State            `json:"state"`
	Reason      string           `json:"reason,omitempty"`
	Confidence  float64          `json:"confidence"`
	Iterations  int              `json:"iterations"`
	Trace       []string         `json:"trace"`
	Transitions []Transition     `json:"transitions"`
	History     []float64        `json:"confidence_history"`
	Err         error            `json:"-"`
}

// Options configures the loop.
type Options struct {
	AcceptanceThreshold float64
	MaxIterations       int
	CallTimeout         time.Duration
	Concurrency         int
}

// DefaultOptions returns the default review options.
func DefaultOptions() Options {
	return Options{
		AcceptanceThreshold: 6.0,
		MaxIterations:       3,
		CallTimeout:         20 * time.Second,
		Concurrency:         4,
	}
}

// Loop reviews candidates against a critic.
type Loop struct {
	provider CritiqueProvider
	opts     Options
	resize   Resizer
	logger   zerolog.Logger
}

// NewLoop creates a review loop. resize may be nil, in which case lot
// revisions are ignored.
func NewLoop(provider CritiqueProvider, opts Options, resize Resizer, logger zerolog.Logger) *Loop {
	d := DefaultOptions()
	if opts.MaxIterations < 1 {
		opts.MaxIterations = d.MaxIterations
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = d.CallTimeout
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = d.Concurrency
	}
	return &Loop{
		provider: provider,
		opts:     opts,
		resize:   resize,
		logger:   logging.WithStage(logger, "review"),
	}
}

// ReviewAll reviews every candidate concurrently. Outcomes are returned in
// input order regardless of completion order.
func (l *Loop) ReviewAll(ctx context.Context, cands []models.Candidate) []Outcome {
	outcomes := make([]Outcome, len(cands))
	p := pool.New().WithMaxGoroutines(l.opts.Concurrency)
	for i, c := range cands {
		i, c := i, c
		p.Go(func() {
			outcomes[i] = l.ReviewOne(ctx, c)
		})
	}
	p.Wait()
	return outcomes
}

// run holds the private state of one candidate's review.
type run struct {
	out      Outcome
	state    State
	logger   zerolog.Logger
	revised  bool
	lastConf float64
}

func (r *run) move(to State, iteration int) {
	r.out.Transitions = append(r.out.Transitions, Transition{From: r.state, To: to, Iteration: iteration})
	logging.LogReviewTransition(r.logger, r.out.Candidate.ID, string(r.state), string(to), iteration)
	r.state = to
}

func (r *run) reject(iteration int, reason string, err error) Outcome {
	r.move(StateRejected, iteration)
	r.out.State = StateRejected
	r.out.Reason = reason
	r.out.Err = err
	r.out.Iterations = iteration
	if err != nil {
		r.out.Trace = append(r.out.Trace, fmt.Sprintf("Review %d rejected: %s (%v)", iteration, reason, err))
	} else {
		r.out.Trace = append(r.out.Trace, fmt.Sprintf("Review %d rejected: %s", iteration, reason))
	}
	return r.out
}

// ReviewOne drives a single candidate to a terminal state.
func (l *Loop) ReviewOne(ctx context.Context, c models.Candidate) Outcome {
	r := &run{
		state:  StateDraft,
		logger: logging.WithCandidate(l.logger, c.ID),
		out: Outcome{
			Candidate:  c,
			Confidence: c.Confidence,
			Trace:      append([]string(nil), c.Rationale...),
		},
	}

	for iteration := 1; iteration <= l.opts.MaxIterations; iteration++ {
		r.move(StateUnderReview, iteration)

		if err := ctx.Err(); err != nil {
			return r.reject(iteration, models.ReasonReviewTimeout, errors.Wrap(errors.ErrReviewTimeout, err.Error()))
		}

		crit, err := l.call(ctx, Request{
			Candidate:  r.out.Candidate,
			Iteration:  iteration,
			Confidence: r.out.Confidence,
			Trace:      append([]string(nil), r.out.Trace...),
		})
		if err != nil {
			if errors.Is(err, errors.ErrReviewTimeout) {
				return r.reject(iteration, models.ReasonReviewTimeout, err)
			}
			return r.reject(iteration, models.ReasonReviewError, err)
		}

		if crit.Note != "" {
			r.out.Trace = append(r.out.Trace, fmt.Sprintf("Review %d (%s, confidence %.1f): %s",
				iteration, crit.Verdict, crit.Confidence, crit.Note))
		}
		if crit.Unsound || crit.Verdict == VerdictRejected {
			return r.reject(iteration, models.ReasonReviewRejected, errors.ErrReviewRejected)
		}

		conf := clampConfidence(crit.Confidence)
		if rev := crit.Revision; rev != nil {
			if rev.Confidence != nil {
				conf = clampConfidence(*rev.Confidence)
			}
			if rev.Lots != nil && *rev.Lots != r.out.Candidate.Leg.Lots && l.resize != nil {
				resized, err := l.resize(r.out.Candidate, *rev.Lots)
				if err != nil {
					return r.reject(iteration, models.ReasonReviewRejected, errors.Wrapf(err, "revision to %d lots", *rev.Lots))
				}
				r.out.Trace = append(r.out.Trace, fmt.Sprintf("Revision %d: size %d -> %d lots",
					iteration, r.out.Candidate.Leg.Lots, resized.Leg.Lots))
				r.out.Candidate = resized
			}
			if rev.Caveat != "" {
				r.out.Candidate.Caveats = append(r.out.Candidate.Caveats, rev.Caveat)
				r.out.Trace = append(r.out.Trace, "Caveat: "+rev.Caveat)
			}
		}
		r.out.History = append(r.out.History, conf)

		if r.revised && conf < r.lastConf {
			return r.reject(iteration, models.ReasonReviewNonConvergence,
				errors.Wrapf(errors.ErrReviewNonConvergence, "confidence %.2f after %.2f", conf, r.lastConf))
		}

		r.out.Confidence = conf
		r.out.Candidate.Confidence = conf
		r.out.Iterations = iteration

		if conf >= l.opts.AcceptanceThreshold {
			r.move(StateAccepted, iteration)
			r.out.State = StateAccepted
			return r.out
		}

		r.move(StateRevised, iteration)
		r.revised = true
		r.lastConf = conf
		if iteration < l.opts.MaxIterations {
			r.move(StateDraft, iteration)
		}
	}

	return r.reject(l.opts.MaxIterations, models.ReasonReviewExhausted,
		fmt.Errorf("confidence %.2f below %.2f after %d iterations", r.out.Confidence, l.opts.AcceptanceThreshold, l.opts.MaxIterations))
}

// call invokes the critic with a per-call timeout. Any deadline, whether the
// call's own or the run's, surfaces as ErrReviewTimeout.
func (l *Loop) call(ctx context.Context, req Request) (Critique, error) {
	callCtx, cancel := context.WithTimeout(ctx, l.opts.CallTimeout)
	defer cancel()

	type result struct {
		crit Critique
		err  error
	}
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		crit, err := l.provider.Review(callCtx, req)
		done <- result{crit, err}
	}()

	select {
	case res := <-done:
		logging.LogProviderCall(l.logger, "critique", "review", time.Since(start), res.err)
		if res.err != nil {
			if callCtx.Err() != nil {
				return Critique{}, errors.Wrap(errors.ErrReviewTimeout, res.err.Error())
			}
			return Critique{}, errors.NewProviderError("critique", "review", res.err)
		}
		return res.crit, nil
	case <-callCtx.Done():
		logging.LogProviderCall(l.logger, "critique", "review", time.Since(start), callCtx.Err())
		return Critique{}, errors.Wrap(errors.ErrReviewTimeout, callCtx.Err().Error())
	}
}

func clampConfidence(c float64) float64 {
	if math.IsNaN(c) {
		return 0
	}
	return math.Max(0, math.Min(10, c))
}
