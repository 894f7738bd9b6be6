package evaluator

import (
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/danield137/lev/runtime/mcp"
	"github.com/danield137/lev/runtime/providers"
)

// Defaults used when neither the evaluator nor the case configures a value.
const (
	DefaultConcurrency   = 4
	DefaultRunTimeout    = 5 * time.Minute
	DefaultMaxAttempts   = 3
	DefaultRetryInterval = 500 * time.Millisecond
)

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithConcurrency bounds how many cases RunAll executes at once.
func WithConcurrency(n int) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithRateLimit caps model calls per second across every concurrent run.
// A non-positive rate disables the limit.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(e *Evaluator) {
		if perSecond <= 0 {
			e.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithRunTimeout bounds a single run when the case sets no timeout.
func WithRunTimeout(d time.Duration) Option {
	return func(e *Evaluator) {
		if d > 0 {
			e.runTimeout = d
		}
	}
}

// WithScorerTimeout bounds each scorer when the case sets no timeout.
func WithScorerTimeout(d time.Duration) Option {
	return func(e *Evaluator) { e.scorerTimeout = d }
}

// WithRetry sets how many attempts a run gets when the model reports a
// retryable failure, and the first backoff interval. One attempt disables
// retries.
func WithRetry(maxAttempts int, initial time.Duration) Option {
	return func(e *Evaluator) {
		if maxAttempts > 0 {
			e.maxAttempts = maxAttempts
		}
		if initial > 0 {
			e.retryInterval = initial
		}
	}
}

// WithJudge sets the provider handed to LLM-backed scorers.
func WithJudge(p providers.Provider) Option {
	return func(e *Evaluator) { e.judge = p }
}

// WithTracer sets the tracer used for run spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Evaluator) { e.tracer = tracer }
}

// WithClientOptions configures the MCP clients spawned per run.
func WithClientOptions(o mcp.ClientOptions) Option {
	return func(e *Evaluator) { e.clientOptions = o }
}

// WithConnector replaces how tool servers are started.
func WithConnector(c Connector) Option {
	return func(e *Evaluator) {
		if c != nil {
			e.connect = c
		}
	}
}

// WithSuite names the suite in logs.
func WithSuite(name string) Option {
	return func(e *Evaluator) { e.suite = name }
}

// WithRunIDGenerator replaces the uuid run id generator.
func WithRunIDGenerator(gen func() string) Option {
	return func(e *Evaluator) {
		if gen != nil {
			e.newRunID = gen
		}
	}
}

func defaultRunID() string { return uuid.NewString() }
