// Package evaluator runs eval cases: it builds the tool servers and agent
// host for each case, runs the prompt, scores the transcript through
// post_prompt hooks and returns one ResultRecord per case.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	levErrors "github.com/danield137/lev/pkg/errors"
	"github.com/danield137/lev/runtime/agent"
	"github.com/danield137/lev/runtime/budget"
	"github.com/danield137/lev/runtime/evals"
	"github.com/danield137/lev/runtime/hooks"
	"github.com/danield137/lev/runtime/logger"
	"github.com/danield137/lev/runtime/mcp"
	"github.com/danield137/lev/runtime/metrics/prometheus"
	"github.com/danield137/lev/runtime/providers"
	"github.com/danield137/lev/runtime/telemetry"
	"github.com/danield137/lev/runtime/tokenizer"
	"github.com/danield137/lev/runtime/tools"
	"github.com/danield137/lev/runtime/types"
)

// ScoresKey is the run context slot scorer hooks write their entries into.
const ScoresKey = "scores"

var (
	// ErrRunFailed is the cause recorded on score entries of runs that never
	// produced an answer.
	ErrRunFailed = errors.New("run failed before producing an answer")

	// ErrNoProviderFactory is returned by New without a provider factory.
	ErrNoProviderFactory = errors.New("provider factory is required")
)

// ProviderFactory creates the completion provider for one run. Every run
// gets its own provider, which is closed when the run ends.
type ProviderFactory func(ctx context.Context, c *EvalCase) (providers.Provider, error)

// ProviderFromSpec returns a factory that builds spec's provider variant.
func ProviderFromSpec(spec providers.ProviderSpec) ProviderFactory {
	return func(context.Context, *EvalCase) (providers.Provider, error) {
		return providers.CreateProviderFromSpec(spec)
	}
}

// Connector starts the tool server described by spec.
type Connector func(ctx context.Context, spec ServerSpec, opts mcp.ClientOptions) (tools.ToolClient, error)

// DefaultConnector serves specs with inline tools in-process and launches
// every other spec as an MCP stdio server.
func DefaultConnector(ctx context.Context, spec ServerSpec, opts mcp.ClientOptions) (tools.ToolClient, error) {
	if spec.Local() {
		return tools.NewLocalServerFromSpecs(spec.Name, spec.Instructions, spec.Tools)
	}
	c, err := mcp.Connect(ctx, spec.ServerConfig, opts)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Evaluator runs eval cases. It is safe for concurrent use; all per-run
// state lives in the run.
type Evaluator struct {
	scoring *evals.Registry
	factory ProviderFactory
	judge   providers.Provider

	concurrency   int
	limiter       *rate.Limiter
	runTimeout    time.Duration
	scorerTimeout time.Duration
	maxAttempts   int
	retryInterval time.Duration
	tracer        trace.Tracer
	clientOptions mcp.ClientOptions
	connect       Connector
	suite         string
	newRunID      func() string
}

// New creates an evaluator. A nil scoring registry uses evals.NewRegistry.
func New(scoring *evals.Registry, factory ProviderFactory, opts ...Option) (*Evaluator, error) {
	if factory == nil {
		return nil, ErrNoProviderFactory
	}
	if scoring == nil {
		scoring = evals.NewRegistry()
	}
	e := &Evaluator{
		scoring:       scoring,
		factory:       factory,
		concurrency:   DefaultConcurrency,
		runTimeout:    DefaultRunTimeout,
		scorerTimeout: evals.DefaultScorerTimeout,
		maxAttempts:   DefaultMaxAttempts,
		retryInterval: DefaultRetryInterval,
		tracer:        telemetry.Tracer(nil),
		clientOptions: mcp.DefaultClientOptions(),
		connect:       DefaultConnector,
		newRunID:      defaultRunID,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Scoring returns the registry scorers are resolved from.
func (e *Evaluator) Scoring() *evals.Registry { return e.scoring }

// Run executes c and returns its record. Runs that fail with a retryable
// model error are repeated from scratch with exponential backoff; the
// record describes the last attempt.
func (e *Evaluator) Run(ctx context.Context, c *EvalCase) *ResultRecord {
	if err := c.Validate(); err != nil {
		logger.WarnContext(ctx, "Eval case rejected", "case", c.ID, "error", err)
		return e.unstarted(c, levErrors.KindOf(err), err)
	}

	var (
		last     *ResultRecord
		attempts int
	)
	op := func() (*ResultRecord, error) {
		attempts++
		if attempts > 1 {
			prometheus.RecordRunRetry()
		}
		rec, err := e.runOnce(ctx, c)
		rec.d.Attempts = attempts
		last = rec
		if err == nil {
			return rec, nil
		}
		var mce *levErrors.ModelCapabilityError
		if errors.As(err, &mce) && mce.Retryable && ctx.Err() == nil {
			return rec, err
		}
		return rec, backoff.Permanent(err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.retryInterval
	_, _ = backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(e.maxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.WarnContext(ctx, "Retrying eval case",
				"case", c.ID, "attempt", attempts, "next", next, "error", err)
		}),
	)
	return last
}

// unstarted builds the FAILED record of a case that never reached the agent
// host. Every scorer gets an errored entry.
func (e *Evaluator) unstarted(c *EvalCase, kind levErrors.Kind, err error) *ResultRecord {
	d := recordData{
		CaseID:    c.ID,
		RunID:     e.newRunID(),
		Status:    StatusFailed,
		ErrorKind: string(kind),
		Error:     err.Error(),
		StartedAt: time.Now(),
	}
	for _, s := range c.Scorers {
		d.Scores = append(d.Scores, evals.Unresolved(s, ErrRunFailed))
	}
	d.Aggregate, d.AggregateRationale = evals.Aggregate(d.Scores)
	return &ResultRecord{d: d}
}

// runOnce performs a single attempt. The returned error is the host's
// terminal error, used by Run to decide on a retry.
func (e *Evaluator) runOnce(ctx context.Context, c *EvalCase) (rec *ResultRecord, runErr error) {
	runID := e.newRunID()
	ctx = logger.WithCaseID(ctx, c.ID)
	ctx = logger.WithRunID(ctx, runID)
	if e.suite != "" {
		ctx = logger.WithSuite(ctx, e.suite)
	}
	ctx, span := e.tracer.Start(ctx, "lev.run", trace.WithAttributes(
		attribute.String("case.id", c.ID),
		attribute.String("run.id", runID),
	))

	started := time.Now()
	prometheus.RecordRunStart()
	logger.InfoContext(ctx, "Eval run started", "servers", len(c.Servers), "scorers", len(c.Scorers))

	runCtx := map[string]any{ScoresKey: make([]evals.ScoreEntry, len(c.Scorers))}
	var (
		host  *agent.Host
		reply *types.Reply
		bus   = hooks.NewBus()
	)
	defer func() {
		rec = e.buildRecord(c, runID, started, host, reply, runErr, bus, runCtx)
		secs := time.Since(started).Seconds()
		prometheus.RecordRunEnd(rec.Status(), rec.ErrorKind(), secs)
		telemetry.End(span, runErr, attribute.String("run.status", rec.Status()))
		logger.InfoContext(ctx, "Eval run finished",
			"status", rec.Status(), "error_kind", rec.ErrorKind(), "duration_s", secs)
	}()

	provider, err := e.factory(ctx, c)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := provider.Close(); err != nil {
			logger.WarnContext(ctx, "Closing provider failed", "provider", provider.ID(), "error", err)
		}
	}()
	ctx = logger.WithProvider(ctx, provider.ID())

	registry, err := e.buildRegistry(ctx, c)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := registry.Close(); err != nil {
			logger.WarnContext(ctx, "Closing tool servers failed", "error", err)
		}
	}()

	hostOpts, err := e.hostOptions(c, bus, runCtx)
	if err != nil {
		return nil, err
	}
	e.registerScorers(bus, c)

	host, err = agent.New(provider, registry, hostOpts...)
	if err != nil {
		return nil, err
	}

	timeout := c.Execution.Timeout
	if timeout <= 0 {
		timeout = e.runTimeout
	}
	promptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reply, err = host.Prompt(promptCtx, c.Prompt)
	if err != nil {
		return nil, err
	}
	return nil, nil
}

// buildRegistry starts the case's tool servers in parallel and registers
// them in case order, so the first declared server wins a name conflict. On
// failure every server already started is closed.
func (e *Evaluator) buildRegistry(ctx context.Context, c *EvalCase) (*tools.Registry, error) {
	clients := make([]tools.ToolClient, len(c.Servers))
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range c.Servers {
		g.Go(func() error {
			client, err := e.connect(gctx, s, e.clientOptions)
			if err == nil && client == nil {
				err = tools.ErrClientRequired
			}
			if err != nil {
				return levErrors.New("evaluator", "connect tool server", err).
					WithDetails(map[string]any{"server": s.Name})
			}
			clients[i] = client
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, client := range clients {
			if client != nil {
				_ = client.Close()
			}
		}
		return nil, err
	}

	registry := tools.NewRegistry(tools.WithDefaultTimeout(c.Execution.ToolTimeout))
	for i, s := range c.Servers {
		opts := []tools.RegisterOption{tools.RunFatal(s.RunFatal)}
		if s.Timeout > 0 {
			opts = append(opts, tools.WithServerTimeout(s.Timeout))
		}
		if err := registry.Register(clients[i], opts...); err != nil {
			logger.WarnContext(ctx, "Tool registration conflict", "server", s.Name, "error", err)
		}
	}
	return registry, nil
}

func (e *Evaluator) hostOptions(c *EvalCase, bus *hooks.Bus, runCtx map[string]any) ([]agent.Option, error) {
	x := c.Execution
	opts := []agent.Option{
		agent.WithHooks(bus),
		agent.WithRunContext(runCtx),
		agent.WithTracer(e.tracer),
	}
	if x.SystemPrompt != "" {
		opts = append(opts, agent.WithSystemPrompt(x.SystemPrompt))
	}
	if x.MaxDepth != nil {
		opts = append(opts, agent.WithMaxDepth(*x.MaxDepth))
	}
	if x.ToolChoice != "" {
		opts = append(opts, agent.WithToolChoice(x.ToolChoice))
	}
	if x.Temperature != nil {
		opts = append(opts, agent.WithTemperature(*x.Temperature))
	}
	if x.MaxTokens > 0 {
		opts = append(opts, agent.WithMaxTokens(x.MaxTokens))
	}
	if e.limiter != nil {
		opts = append(opts, agent.WithRateLimiter(e.limiter))
	}
	if x.Budget.MaxSize > 0 {
		counter, err := tokenizer.NewCounter(x.Budget.Unit, "")
		if err != nil {
			return nil, &levErrors.ConfigError{Field: "execution.budget.unit", Message: err.Error()}
		}
		opts = append(opts, agent.WithBudget(budget.NewPolicy(x.Budget, counter)))
	}
	return opts, nil
}

// registerScorers adds one post_prompt hook per scorer spec. Each hook
// writes its entry into its own slot of the run context, so entries keep
// spec order regardless of how long each scorer takes.
func (e *Evaluator) registerScorers(bus *hooks.Bus, c *EvalCase) {
	timeout := c.Execution.ScorerTimeout
	if timeout <= 0 {
		timeout = e.scorerTimeout
	}
	runner := evals.NewRunner(evals.WithTimeout(timeout))

	for i, spec := range c.Scorers {
		scorer, err := e.scoring.Resolve(spec)
		if err != nil {
			logger.Warn("Scorer could not be resolved", "case", c.ID, "metric", spec.Metric(), "kind", spec.Kind, "error", err)
		}
		b := evals.Bound{Spec: spec, Scorer: scorer}
		bus.On(hooks.PostPrompt, "scorer:"+spec.Metric(), func(ctx context.Context, ev *hooks.Event) error {
			var entry evals.ScoreEntry
			switch {
			case err != nil:
				entry = evals.Unresolved(spec, err)
			case ev.Reply == nil:
				entry = b.Skipped(ErrRunFailed)
			default:
				sc := evals.NewScoringContext(ev.Host.History(), ev.Reply, c.Expectations, e.judge)
				entry = runner.Run(context.WithoutCancel(ctx), b, sc)
			}
			slots, ok := ev.Context[ScoresKey].([]evals.ScoreEntry)
			if !ok || i >= len(slots) {
				return fmt.Errorf("run context has no slot for scorer %d", i)
			}
			slots[i] = entry
			return nil
		})
	}
}

// buildRecord assembles the immutable record of one attempt.
func (e *Evaluator) buildRecord(
	c *EvalCase,
	runID string,
	started time.Time,
	host *agent.Host,
	reply *types.Reply,
	runErr error,
	bus *hooks.Bus,
	runCtx map[string]any,
) *ResultRecord {
	d := recordData{
		CaseID:    c.ID,
		RunID:     runID,
		Status:    StatusSucceeded,
		StartedAt: started,
	}
	if host != nil {
		d.Transcript = host.History().All()
	}
	if runErr != nil {
		d.Status = StatusFailed
		d.ErrorKind = string(levErrors.KindOf(runErr))
		d.Error = runErr.Error()
	} else {
		d.Reply = reply
	}

	slots, _ := runCtx[ScoresKey].([]evals.ScoreEntry)
	for i, spec := range c.Scorers {
		entry := evals.ScoreEntry{}
		if i < len(slots) {
			entry = slots[i]
		}
		if entry.Metric == "" {
			// The hooks never fired: the run failed before the host started.
			entry = evals.Unresolved(spec, ErrRunFailed)
		}
		d.Scores = append(d.Scores, entry)
	}
	d.Aggregate, d.AggregateRationale = evals.Aggregate(d.Scores)

	for _, he := range bus.Errors() {
		d.HookErrors = append(d.HookErrors, he.Error())
	}
	d.DurationMs = time.Since(started).Milliseconds()
	return &ResultRecord{d: d}
}
