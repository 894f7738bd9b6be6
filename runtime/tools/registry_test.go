package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	levErrors "github.com/danield137/lev/pkg/errors"
	"github.com/danield137/lev/runtime/types"
)

const addSchema = `{"type":"object","properties":{"a":{"type":"number"},"b":{"type":"number"}},"required":["a","b"]}`

func calculator() *LocalServer {
	return NewLocalServer("calc", "Use add for sums.").
		Handle("add", "Adds two numbers", json.RawMessage(addSchema), func(_ context.Context, args map[string]any) (string, error) {
			return fmt.Sprint(args["a"].(float64) + args["b"].(float64)), nil
		}).
		Handle("fail", "Always fails", nil, func(context.Context, map[string]any) (string, error) {
			return "", errors.New("kaput")
		})
}

func req(id, name, args string) types.ToolCallRequest {
	return types.ToolCallRequest{ID: id, Name: name, Args: json.RawMessage(args)}
}

// brokenClient fails every call at the transport level.
type brokenClient struct{ *LocalServer }

func (b brokenClient) CallTool(context.Context, types.ToolCallRequest, time.Duration) (*types.ToolCallResult, error) {
	return nil, &levErrors.ChannelError{Server: b.Name(), Cause: errors.New("pipe closed")}
}

func TestRegistry_RegisterAndSchemas(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(calculator()))
	require.NoError(t, r.Register(NewLocalServer("echo", "").HandleStatic("echo", "Echo", nil, "hi")))

	schemas := r.Schemas()
	require.Len(t, schemas, 3)
	assert.Equal(t, []string{"add", "fail", "echo"}, []string{schemas[0].Name, schemas[1].Name, schemas[2].Name})
	assert.Equal(t, "calc", schemas[0].Server)
	assert.Equal(t, 3, r.Len())

	instr := r.Instructions()
	require.Len(t, instr, 1)
	assert.Equal(t, ServerInstructions{Server: "calc", Text: "Use add for sums."}, instr[0])

	s, ok := r.Lookup("echo")
	require.True(t, ok)
	assert.Equal(t, "echo", s.Server)
}

func TestRegistry_DuplicateFirstWins(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(calculator()))

	other := NewLocalServer("other", "").
		HandleStatic("add", "Shadow add", nil, "999").
		HandleStatic("mul", "Multiply", nil, "6")
	err := r.Register(other)

	require.ErrorIs(t, err, ErrDuplicateTool)
	assert.Contains(t, err.Error(), `"add"`)
	assert.Equal(t, []Conflict{{Tool: "add", Kept: "calc", Rejected: "other"}}, r.Conflicts())

	res := r.Dispatch(context.Background(), req("1", "add", `{"a":1,"b":2}`))
	assert.Equal(t, "3", res.Output)
	assert.Equal(t, "calc", res.Server)

	_, ok := r.Lookup("mul")
	assert.True(t, ok, "non-conflicting tools from the second server are kept")
}

func TestRegistry_Dispatch(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(calculator()))
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		res := r.Dispatch(ctx, req("c1", "add", `{"a":2,"b":2}`))
		assert.True(t, res.Success)
		assert.Equal(t, "c1", res.ID)
		assert.Equal(t, "4", res.Output)
		assert.False(t, res.Failed())
	})

	t.Run("unknown tool", func(t *testing.T) {
		res := r.Dispatch(ctx, req("c2", "nope", `{}`))
		assert.True(t, res.Failed())
		assert.Equal(t, "c2", res.ID)
		assert.ErrorIs(t, res.Err, ErrToolNotFound)
		assert.Equal(t, levErrors.KindToolCall, levErrors.KindOf(res.Err))
	})

	t.Run("invalid arguments", func(t *testing.T) {
		res := r.Dispatch(ctx, req("c3", "add", `{"a":"two"}`))
		assert.True(t, res.Failed())
		var ve *ValidationError
		assert.ErrorAs(t, res.Err, &ve)
		assert.Equal(t, "calc", res.Server)
	})

	t.Run("tool failure", func(t *testing.T) {
		res := r.Dispatch(ctx, req("c4", "fail", `{}`))
		assert.True(t, res.Failed())
		assert.Contains(t, res.Error, "kaput")
	})
}

func TestRegistry_ChannelFailureBecomesResult(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(brokenClient{calculator()}, RunFatal(true)))

	res := r.Dispatch(context.Background(), req("x", "add", `{"a":1,"b":1}`))
	assert.True(t, res.Failed())
	assert.Equal(t, "x", res.ID)
	assert.Equal(t, "calc", res.Server)
	assert.Equal(t, levErrors.KindChannel, levErrors.KindOf(res.Err))
	assert.True(t, r.IsRunFatal("add"))
	assert.False(t, r.IsRunFatal("missing"))
}

func TestRegistry_Timeout(t *testing.T) {
	slow := NewLocalServer("slow", "").Handle("sleep", "", nil, func(ctx context.Context, _ map[string]any) (string, error) {
		select {
		case <-time.After(time.Second):
			return "late", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
	r := NewRegistry(WithDefaultTimeout(time.Hour))
	require.NoError(t, r.Register(slow, WithServerTimeout(20*time.Millisecond)))

	res := r.Dispatch(context.Background(), req("t", "sleep", `{}`))
	var te *levErrors.ToolTimeoutError
	require.ErrorAs(t, res.Err, &te)
	assert.Equal(t, 20*time.Millisecond, te.Timeout)
}

func TestRegistry_ConcurrentDispatch(t *testing.T) {
	srv := NewLocalServer("rand", "").Handle("echo", "", nil, func(_ context.Context, args map[string]any) (string, error) {
		time.Sleep(time.Duration(rand.Intn(10)) * time.Millisecond)
		return fmt.Sprint(args["n"]), nil
	})
	r := NewRegistry()
	require.NoError(t, r.Register(srv))

	var wg sync.WaitGroup
	results := make([]*types.ToolCallResult, 30)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Dispatch(context.Background(), req(fmt.Sprint(i), "echo", fmt.Sprintf(`{"n":%d}`, i)))
		}(i)
	}
	wg.Wait()

	for i, res := range results {
		assert.Equal(t, fmt.Sprint(i), res.ID)
		assert.Equal(t, fmt.Sprint(i), res.Output)
	}
}

func TestRegistry_Close(t *testing.T) {
	a, b := calculator(), NewLocalServer("b", "")
	r := NewRegistry()
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))
	require.NoError(t, r.Close())

	res := r.Dispatch(context.Background(), req("1", "add", `{"a":1,"b":1}`))
	assert.Equal(t, levErrors.KindChannel, levErrors.KindOf(res.Err))
}

func TestRegistry_RegisterNil(t *testing.T) {
	assert.ErrorIs(t, NewRegistry().Register(nil), ErrClientRequired)
}

func TestNewLocalServerFromSpecs(t *testing.T) {
	srv, err := NewLocalServerFromSpecs("mock", "mock tools", []LocalToolSpec{
		{Name: "weather", Result: map[string]any{"temp": 21}},
		{Name: "greet", Template: "Hello {{.name}}!", InputSchema: map[string]any{"type": "object"}},
		{Name: "down", Error: "service unavailable"},
		{Name: "plain", Result: "ok"},
	})
	require.NoError(t, err)
	require.Len(t, srv.Tools(), 4)

	ctx := context.Background()
	res, err := srv.CallTool(ctx, req("1", "weather", `{}`), 0)
	require.NoError(t, err)
	assert.JSONEq(t, `{"temp":21}`, res.Output)

	res, err = srv.CallTool(ctx, req("2", "greet", `{"name":"Ada"}`), 0)
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada!", res.Output)

	res, err = srv.CallTool(ctx, req("3", "down", `{}`), 0)
	require.NoError(t, err)
	assert.Contains(t, res.Error, "service unavailable")

	res, err = srv.CallTool(ctx, req("4", "plain", `{}`), 0)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Output)

	_, err = NewLocalServerFromSpecs("bad", "", []LocalToolSpec{{Name: "t", Template: "{{"}})
	assert.Error(t, err)
	_, err = NewLocalServerFromSpecs("bad", "", []LocalToolSpec{{}})
	assert.ErrorIs(t, err, ErrToolNameRequired)
}

func TestRegistry_DispatchWithinOverridesServerTimeout(t *testing.T) {
	slow := NewLocalServer("slow", "").Handle("sleep", "", nil, func(ctx context.Context, _ map[string]any) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	r := NewRegistry()
	require.NoError(t, r.Register(slow, WithServerTimeout(time.Hour)))

	res := r.DispatchWithin(context.Background(), req("t", "sleep", `{}`), 10*time.Millisecond)
	var te *levErrors.ToolTimeoutError
	require.ErrorAs(t, res.Err, &te)
	assert.Equal(t, 10*time.Millisecond, te.Timeout)
}
