package evals

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	levErrors "github.com/danield137/lev/pkg/errors"
	"github.com/danield137/lev/runtime/logger"
	"github.com/danield137/lev/runtime/metrics/prometheus"
)

// DefaultScorerTimeout bounds a single scorer.
const DefaultScorerTimeout = 60 * time.Second

// Bound is a resolved scorer together with the ScorerSpec it came from.
type Bound struct {
	Spec   ScorerSpec
	Scorer Scorer
}

// Skipped returns the errored entry reported when b could not run, for
// example because the agent run failed before producing an answer.
func (b Bound) Skipped(reason error) ScoreEntry {
	return errorEntry(b.Spec, &levErrors.ScorerError{Metric: b.Spec.Metric(), Cause: reason}, 0)
}

// Unresolved returns the errored entry for a spec that failed to resolve.
func Unresolved(spec ScorerSpec, err error) ScoreEntry {
	return errorEntry(spec, &levErrors.ScorerError{Metric: spec.Metric(), Cause: err}, 0)
}

// Runner executes scorers with a timeout and panic recovery.
type Runner struct {
	timeout time.Duration
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithTimeout sets the per-scorer timeout.
func WithTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewRunner creates a Runner.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{timeout: DefaultScorerTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run scores sc with b and always returns an entry. Errors, panics,
// timeouts and non-finite values produce an errored entry.
func (r *Runner) Run(ctx context.Context, b Bound, sc *ScoringContext) ScoreEntry {
	scoreCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	var (
		score Score
		err   error
	)
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("panic in scorer: %v", rec)
			}
		}()
		score, err = b.Scorer.Score(scoreCtx, sc)
	}()
	elapsed := time.Since(start)

	if err == nil && scoreCtx.Err() != nil && ctx.Err() == nil {
		err = fmt.Errorf("scorer exceeded %s: %w", r.timeout, context.DeadlineExceeded)
	}
	if err == nil && (math.IsNaN(score.Value) || math.IsInf(score.Value, 0)) {
		err = errors.New("scorer returned a non-finite value")
	}

	metric := b.Spec.Metric()
	if err != nil {
		serr := &levErrors.ScorerError{Metric: metric, Cause: err}
		prometheus.RecordScore(metric, prometheus.StatusOf(serr), elapsed.Seconds())
		logger.WarnContext(ctx, "Scorer failed", "metric", metric, "kind", b.Spec.Kind, "error", err)
		return errorEntry(b.Spec, serr, elapsed)
	}

	prometheus.RecordScore(metric, prometheus.StatusSuccess, elapsed.Seconds())
	logger.DebugContext(ctx, "Scorer finished", "metric", metric, "value", score.Value)
	return ScoreEntry{
		Metric:     metric,
		Kind:       b.Spec.Kind,
		Value:      clamp(score.Value),
		Rationale:  score.Rationale,
		Weight:     b.Spec.EffectiveWeight(),
		DurationMs: elapsed.Milliseconds(),
	}
}

func errorEntry(spec ScorerSpec, err error, elapsed time.Duration) ScoreEntry {
	return ScoreEntry{
		Metric:     spec.Metric(),
		Kind:       spec.Kind,
		Weight:     spec.EffectiveWeight(),
		Error:      err.Error(),
		ErrorKind:  string(levErrors.KindOf(err)),
		DurationMs: elapsed.Milliseconds(),
	}
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
