package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	levErrors "github.com/danield137/lev/pkg/errors"
	"github.com/danield137/lev/pkg/testutil"
	"github.com/danield137/lev/runtime/evals"
	_ "github.com/danield137/lev/runtime/evals/handlers"
	"github.com/danield137/lev/runtime/mcp"
	"github.com/danield137/lev/runtime/providers"
	"github.com/danield137/lev/runtime/providers/mock"
	"github.com/danield137/lev/runtime/tools"
	"github.com/danield137/lev/runtime/types"
)

// scripted returns a factory building a fresh mock provider per run, all
// answering from the same repository.
func scripted(repo *mock.InMemoryRepository) ProviderFactory {
	return func(context.Context, *EvalCase) (providers.Provider, error) {
		return mock.NewProviderWithRepository("mock", "test", repo), nil
	}
}

func weatherServer() ServerSpec {
	return ServerSpec{
		ServerConfig: mcp.ServerConfig{Name: "weather"},
		Tools: []tools.LocalToolSpec{{
			Name:        "forecast",
			Description: "Forecast for a city",
			Result:      map[string]any{"temp": 21, "sky": "clear"},
		}},
	}
}

func weatherRepo() *mock.InMemoryRepository {
	return mock.NewInMemoryRepository("").SetCase("weather",
		mock.Turn{ToolCalls: []mock.ToolCall{{Name: "forecast", Arguments: map[string]any{"city": "Paris"}}}},
		mock.Turn{Content: "It is 21C and clear in Paris."},
	)
}

func weatherCase(scorers ...evals.ScorerSpec) EvalCase {
	return EvalCase{
		ID:      "weather",
		Prompt:  "What is the weather in Paris?",
		Servers: []ServerSpec{weatherServer()},
		Scorers: scorers,
	}
}

func newEvaluator(t *testing.T, scoring *evals.Registry, factory ProviderFactory, opts ...Option) *Evaluator {
	t.Helper()
	var n atomic.Int64
	opts = append([]Option{
		WithRunIDGenerator(func() string { return fmt.Sprintf("run-%d", n.Add(1)) }),
		WithRetry(1, time.Millisecond),
	}, opts...)
	e, err := New(scoring, factory, opts...)
	require.NoError(t, err)
	return e
}

func TestRun_PlainAnswerAtDepthZero(t *testing.T) {
	repo := mock.NewInMemoryRepository("").SetCase("math", mock.Turn{Content: "2+2 is 4"})
	e := newEvaluator(t, nil, scripted(repo))

	rec := e.Run(context.Background(), &EvalCase{
		ID:        "math",
		Prompt:    "What is 2+2?",
		Execution: ExecutionConfig{MaxDepth: testutil.Ptr(0)},
		Scorers:   []evals.ScorerSpec{{Kind: "contains_string", Params: map[string]any{"target": "4"}}},
	})

	require.Equal(t, StatusSucceeded, rec.Status(), rec.Error())
	assert.True(t, rec.Succeeded())
	assert.Contains(t, rec.Reply().Content, "4")
	assert.Empty(t, rec.ToolCalls())
	assert.Empty(t, rec.ErrorKind())
	assert.Equal(t, 1, rec.Attempts())
	assert.Equal(t, "run-1", rec.RunID())

	require.Len(t, rec.Scores(), 1)
	agg, _ := rec.Aggregate()
	assert.Equal(t, 1.0, agg)
}

func TestRun_ToolRoundIsScored(t *testing.T) {
	e := newEvaluator(t, nil, scripted(weatherRepo()))
	rec := e.Run(context.Background(), testutil.Ptr(weatherCase(
		evals.ScorerSpec{Kind: "tool_call_count", Params: map[string]any{"calls": []any{map[string]any{"tool": "forecast", "exact": 1}}}},
		evals.ScorerSpec{Kind: "tool_call_input", Params: map[string]any{"inputs": []any{map[string]any{"tool": "forecast", "field": "city", "value": "Paris"}}}},
		evals.ScorerSpec{Kind: "contains_string", Params: map[string]any{"target": "21C"}},
	)))

	require.True(t, rec.Succeeded(), rec.Error())
	calls := rec.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "forecast", calls[0].ToolName)
	assert.Equal(t, map[string]any{"city": "Paris"}, calls[0].Arguments)

	for _, s := range rec.Scores() {
		assert.Equal(t, 1.0, s.Value, "%s: %s", s.Metric, s.Rationale)
		assert.False(t, s.Errored())
	}
	agg, why := rec.Aggregate()
	assert.Equal(t, 1.0, agg)
	assert.Contains(t, why, "tool_call_count:1.00")
}

func TestRun_FailingScorerDoesNotFailRun(t *testing.T) {
	scoring := evals.NewRegistry()
	scoring.RegisterFunction("boom", func(context.Context, *evals.ScoringContext) (evals.Score, error) {
		return evals.Score{}, errors.New("boom")
	})
	scoring.RegisterFunction("panics", func(context.Context, *evals.ScoringContext) (evals.Score, error) {
		panic("bad scorer")
	})
	scoring.RegisterFunction("half", func(context.Context, *evals.ScoringContext) (evals.Score, error) {
		return evals.Score{Value: 0.5, Rationale: "half"}, nil
	})

	e := newEvaluator(t, scoring, scripted(weatherRepo()))
	rec := e.Run(context.Background(), testutil.Ptr(weatherCase(
		evals.ScorerSpec{Kind: evals.KindFunction, Name: "boom"},
		evals.ScorerSpec{Kind: evals.KindFunction, Name: "panics"},
		evals.ScorerSpec{Kind: "nope", Name: "unknown"},
		evals.ScorerSpec{Kind: evals.KindFunction, Name: "half"},
	)))

	assert.Equal(t, StatusSucceeded, rec.Status())
	scores := rec.Scores()
	require.Len(t, scores, 4)
	assert.Equal(t, []string{"boom", "panics", "unknown", "half"},
		[]string{scores[0].Metric, scores[1].Metric, scores[2].Metric, scores[3].Metric})

	for _, s := range scores[:3] {
		assert.True(t, s.Errored(), s.Metric)
		assert.Equal(t, string(levErrors.KindScorer), s.ErrorKind)
	}
	assert.Contains(t, scores[1].Error, "panic in scorer")
	assert.Equal(t, 0.5, scores[3].Value)

	agg, _ := rec.Aggregate()
	assert.Equal(t, 0.5, agg)
	assert.Empty(t, rec.HookErrors())
}

func TestRun_ScorersSeeTheJudge(t *testing.T) {
	var judged atomic.Int32
	judge := &mock.FuncProvider{Name: "judge", Fn: func(context.Context, *providers.CompletionRequest) (*providers.Completion, error) {
		judged.Add(1)
		return &providers.Completion{Content: `{"score": 0.8, "rationale": "good"}`}, nil
	}}
	e := newEvaluator(t, nil, scripted(weatherRepo()), WithJudge(judge))
	rec := e.Run(context.Background(), testutil.Ptr(weatherCase(
		evals.ScorerSpec{Kind: "llm", Params: map[string]any{"rubric": "mentions the temperature"}},
	)))

	require.True(t, rec.Succeeded())
	s, ok := rec.Score("llm")
	require.True(t, ok)
	assert.Equal(t, 0.8, s.Value)
	assert.Equal(t, int32(1), judged.Load())
}

func TestRun_DeterministicReplay(t *testing.T) {
	repo := weatherRepo()
	c := weatherCase(evals.ScorerSpec{Kind: "contains_string", Params: map[string]any{"target": "Paris"}})

	first := newEvaluator(t, nil, scripted(repo)).Run(context.Background(), &c)
	second := newEvaluator(t, nil, scripted(repo)).Run(context.Background(), &c)

	require.True(t, first.Succeeded())
	assert.Equal(t, first.Transcript(), second.Transcript())
	assert.Equal(t, first.Scores()[0].Value, second.Scores()[0].Value)
}

func TestRun_ProviderFailureMarksRunFailed(t *testing.T) {
	repo := mock.NewInMemoryRepository("").SetCase("weather",
		mock.Turn{Error: "bad key", ErrorReason: string(levErrors.ReasonAuth)})
	e := newEvaluator(t, nil, scripted(repo))

	rec := e.Run(context.Background(), testutil.Ptr(weatherCase(
		evals.ScorerSpec{Kind: "contains_string", Params: map[string]any{"target": "x"}},
	)))

	assert.Equal(t, StatusFailed, rec.Status())
	assert.Equal(t, string(levErrors.KindModelCapability), rec.ErrorKind())
	assert.Nil(t, rec.Reply())
	require.NotEmpty(t, rec.Transcript(), "partial transcript is kept")
	assert.Equal(t, types.RoleUser, rec.Transcript()[len(rec.Transcript())-1].Role)

	require.Len(t, rec.Scores(), 1)
	assert.True(t, rec.Scores()[0].Errored())
	assert.Contains(t, rec.Scores()[0].Error, ErrRunFailed.Error())
}

func TestRun_RetriesRetryableModelErrors(t *testing.T) {
	var calls atomic.Int32
	p := &mock.FuncProvider{Name: "flaky", Fn: func(context.Context, *providers.CompletionRequest) (*providers.Completion, error) {
		if calls.Add(1) == 1 {
			return nil, &levErrors.ModelCapabilityError{Provider: "flaky", Reason: levErrors.ReasonRateLimit, Retryable: true, Cause: errors.New("429")}
		}
		return &providers.Completion{Content: "done"}, nil
	}}
	factory := func(context.Context, *EvalCase) (providers.Provider, error) { return p, nil }

	e := newEvaluator(t, nil, factory, WithRetry(3, time.Millisecond))
	rec := e.Run(context.Background(), &EvalCase{ID: "flaky", Prompt: "hi"})

	require.True(t, rec.Succeeded(), rec.Error())
	assert.Equal(t, 2, rec.Attempts())
	assert.Equal(t, "run-2", rec.RunID(), "each attempt is a fresh run")
}

func TestRun_NonRetryableErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	p := &mock.FuncProvider{Name: "broken", Fn: func(context.Context, *providers.CompletionRequest) (*providers.Completion, error) {
		calls.Add(1)
		return nil, &levErrors.ModelCapabilityError{Provider: "broken", Reason: levErrors.ReasonAuth, Cause: errors.New("401")}
	}}
	factory := func(context.Context, *EvalCase) (providers.Provider, error) { return p, nil }

	e := newEvaluator(t, nil, factory, WithRetry(5, time.Millisecond))
	rec := e.Run(context.Background(), &EvalCase{ID: "broken", Prompt: "hi"})

	assert.False(t, rec.Succeeded())
	assert.Equal(t, 1, rec.Attempts())
	assert.Equal(t, int32(1), calls.Load())
}

func TestRun_Timeout(t *testing.T) {
	p := &mock.FuncProvider{Name: "slow", Fn: func(ctx context.Context, _ *providers.CompletionRequest) (*providers.Completion, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	factory := func(context.Context, *EvalCase) (providers.Provider, error) { return p, nil }

	e := newEvaluator(t, nil, factory)
	rec := e.Run(context.Background(), &EvalCase{
		ID:        "slow",
		Prompt:    "hi",
		Execution: ExecutionConfig{Timeout: 20 * time.Millisecond},
	})

	assert.Equal(t, StatusFailed, rec.Status())
	assert.Equal(t, string(levErrors.KindTimeout), rec.ErrorKind())
}

func TestRun_InvalidCase(t *testing.T) {
	e := newEvaluator(t, nil, scripted(mock.NewInMemoryRepository("x")))
	rec := e.Run(context.Background(), &EvalCase{ID: "bad", Execution: ExecutionConfig{MaxDepth: testutil.Ptr(-1)}})

	assert.Equal(t, StatusFailed, rec.Status())
	assert.Equal(t, string(levErrors.KindConfig), rec.ErrorKind())
	assert.Contains(t, rec.Error(), "prompt")
}

type closeTracker struct {
	tools.ToolClient
	closed *atomic.Int32
}

func (c closeTracker) Close() error {
	c.closed.Add(1)
	return c.ToolClient.Close()
}

func TestRun_ToolServersClosedOnEveryPath(t *testing.T) {
	var closed atomic.Int32
	connector := func(ctx context.Context, spec ServerSpec, opts mcp.ClientOptions) (tools.ToolClient, error) {
		c, err := DefaultConnector(ctx, spec, opts)
		if err != nil {
			return nil, err
		}
		return closeTracker{ToolClient: c, closed: &closed}, nil
	}

	ok := newEvaluator(t, nil, scripted(weatherRepo()), WithConnector(connector))
	require.True(t, ok.Run(context.Background(), testutil.Ptr(weatherCase())).Succeeded())
	assert.Equal(t, int32(1), closed.Load())

	failing := mock.NewInMemoryRepository("").SetCase("weather", mock.Turn{Error: "down"})
	bad := newEvaluator(t, nil, scripted(failing), WithConnector(connector))
	require.False(t, bad.Run(context.Background(), testutil.Ptr(weatherCase())).Succeeded())
	assert.Equal(t, int32(2), closed.Load())
}

type timeoutRecorder struct {
	tools.ToolClient
	mu   sync.Mutex
	seen []time.Duration
}

func (r *timeoutRecorder) CallTool(ctx context.Context, req types.ToolCallRequest, timeout time.Duration) (*types.ToolCallResult, error) {
	r.mu.Lock()
	r.seen = append(r.seen, timeout)
	r.mu.Unlock()
	return r.ToolClient.CallTool(ctx, req, timeout)
}

func TestRun_ServerTimeoutBeatsCaseToolTimeout(t *testing.T) {
	tests := []struct {
		name   string
		server time.Duration
		want   time.Duration
	}{
		{"server timeout set", 3 * time.Second, 3 * time.Second},
		{"case default", 0, time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &timeoutRecorder{}
			connector := func(ctx context.Context, spec ServerSpec, opts mcp.ClientOptions) (tools.ToolClient, error) {
				c, err := DefaultConnector(ctx, spec, opts)
				if err != nil {
					return nil, err
				}
				rec.ToolClient = c
				return rec, nil
			}
			c := weatherCase()
			c.Servers[0].Timeout = tt.server
			c.Execution.ToolTimeout = time.Hour

			e := newEvaluator(t, nil, scripted(weatherRepo()), WithConnector(connector))
			require.True(t, e.Run(context.Background(), &c).Succeeded())
			assert.Equal(t, []time.Duration{tt.want}, rec.seen)
		})
	}
}

func TestRun_ConnectFailure(t *testing.T) {
	connector := func(context.Context, ServerSpec, mcp.ClientOptions) (tools.ToolClient, error) {
		return nil, &levErrors.ChannelError{Server: "weather", Cause: errors.New("exec: not found")}
	}
	e := newEvaluator(t, nil, scripted(weatherRepo()), WithConnector(connector))
	rec := e.Run(context.Background(), testutil.Ptr(weatherCase(evals.ScorerSpec{Kind: "contains_string", Params: map[string]any{"target": "x"}})))

	assert.Equal(t, StatusFailed, rec.Status())
	assert.Equal(t, string(levErrors.KindChannel), rec.ErrorKind())
	assert.Empty(t, rec.Transcript())
	require.Len(t, rec.Scores(), 1)
	assert.True(t, rec.Scores()[0].Errored())
}

type memorySink struct {
	mu      sync.Mutex
	records []*ResultRecord
	fail    bool
}

func (s *memorySink) Write(_ context.Context, rec *ResultRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("disk full")
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *memorySink) Close() error { return nil }

func TestRunAll_OrderedByCase(t *testing.T) {
	repo := mock.NewInMemoryRepository("")
	var cases []EvalCase
	for i := range 8 {
		id := fmt.Sprintf("case-%d", i)
		repo.SetCase(id, mock.Turn{Content: fmt.Sprintf("answer %d", i)})
		cases = append(cases, EvalCase{
			ID:      id,
			Prompt:  "q",
			Scorers: []evals.ScorerSpec{{Kind: "contains_string", Params: map[string]any{"target": fmt.Sprintf("answer %d", i%2)}}},
		})
	}
	sink := &memorySink{}
	e := newEvaluator(t, nil, scripted(repo), WithConcurrency(3))

	records, summary, err := e.RunAll(context.Background(), cases, sink)
	require.NoError(t, err)
	require.Len(t, records, 8)
	for i, rec := range records {
		assert.Equal(t, cases[i].ID, rec.CaseID())
		assert.Equal(t, fmt.Sprintf("answer %d", i), rec.Reply().Content)
	}
	assert.Len(t, sink.records, 8)

	assert.Equal(t, 8, summary.Total)
	assert.Equal(t, 8, summary.Succeeded)
	assert.InDelta(t, 0.25, summary.MeanAggregate, 1e-9)
	assert.Equal(t, []string{"contains_string"}, summary.Metrics())
}

func TestRunAll_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := newEvaluator(t, nil, scripted(mock.NewInMemoryRepository("x")), WithConcurrency(1))

	records, summary, err := e.RunAll(ctx, []EvalCase{{ID: "a", Prompt: "q"}, {ID: "b", Prompt: "q"}}, nil)
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.False(t, rec.Succeeded())
		assert.Equal(t, string(levErrors.KindCancelled), rec.ErrorKind())
	}
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, 2, summary.ByErrorKind[string(levErrors.KindCancelled)])
}

func TestRunAll_SinkErrorsAreReturned(t *testing.T) {
	e := newEvaluator(t, nil, scripted(mock.NewInMemoryRepository("x")))
	records, _, err := e.RunAll(context.Background(), []EvalCase{{ID: "a", Prompt: "q"}}, &memorySink{fail: true})
	assert.ErrorContains(t, err, "disk full")
	require.Len(t, records, 1)
	assert.True(t, records[0].Succeeded())
}

func TestResultRecord_AccessorsReturnCopies(t *testing.T) {
	e := newEvaluator(t, nil, scripted(weatherRepo()))
	rec := e.Run(context.Background(), testutil.Ptr(weatherCase(evals.ScorerSpec{Kind: "contains_string", Params: map[string]any{"target": "Paris"}})))
	require.True(t, rec.Succeeded())

	tr := rec.Transcript()
	tr[0].Content = "changed"
	rec.Scores()[0].Value = 42
	rec.Reply().Content = "changed"

	assert.NotEqual(t, "changed", rec.Transcript()[0].Content)
	assert.Equal(t, 1.0, rec.Scores()[0].Value)
	assert.NotEqual(t, "changed", rec.Reply().Content)
}

func TestResultRecord_JSONRoundTrip(t *testing.T) {
	e := newEvaluator(t, nil, scripted(weatherRepo()))
	rec := e.Run(context.Background(), testutil.Ptr(weatherCase(evals.ScorerSpec{Kind: "contains_string", Params: map[string]any{"target": "Paris"}})))

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var back ResultRecord
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, rec.CaseID(), back.CaseID())
	assert.Equal(t, rec.Status(), back.Status())
	assert.Equal(t, rec.Transcript(), back.Transcript())
	assert.Equal(t, rec.Scores(), back.Scores())
	assert.Equal(t, rec.ToolCalls(), back.ToolCalls())
}

func TestNew_RequiresFactory(t *testing.T) {
	_, err := New(nil, nil)
	assert.ErrorIs(t, err, ErrNoProviderFactory)
}
