package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_FiresInRegistrationOrder(t *testing.T) {
	var order []string
	record := func(name string) Func {
		return func(_ context.Context, ev *Event) error {
			order = append(order, name)
			ev.Context[name] = true
			return nil
		}
	}

	bus := NewBus(WithHook(PrePrompt, "first", record("first")))
	bus.On(PrePrompt, "second", record("second"))
	bus.On(PostPrompt, "post", record("post"))

	ev := &Event{Name: PrePrompt, Context: map[string]any{}}
	errs := bus.Fire(context.Background(), ev)

	assert.Empty(t, errs)
	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, true, ev.Context["second"])
	assert.Equal(t, 2, bus.Count(PrePrompt))
	assert.Equal(t, 1, bus.Count(PostPrompt))
}

func TestBus_FailureIsRecordedNotFatal(t *testing.T) {
	boom := errors.New("boom")
	ran := false

	bus := NewBus()
	bus.On(PostPrompt, "fails", func(context.Context, *Event) error { return boom })
	bus.On(PostPrompt, "panics", func(context.Context, *Event) error { panic("kaboom") })
	bus.On(PostPrompt, "runs", func(context.Context, *Event) error {
		ran = true
		return nil
	})

	errs := bus.Fire(context.Background(), &Event{Name: PostPrompt, Context: map[string]any{}})

	require.Len(t, errs, 2)
	assert.True(t, ran)
	assert.ErrorIs(t, errs[0], boom)
	assert.Equal(t, "fails", errs[0].Hook)
	assert.Contains(t, errs[1].Error(), "kaboom")
	assert.Len(t, bus.Errors(), 2)
}

func TestBus_InstancesAreIsolated(t *testing.T) {
	a := NewBus()
	b := NewBus()
	a.On(PrePrompt, "only-a", func(context.Context, *Event) error { return errors.New("x") })

	b.Fire(context.Background(), &Event{Name: PrePrompt})
	assert.Empty(t, b.Errors())
	assert.Zero(t, b.Count(PrePrompt))
}

func TestBus_NilSafe(t *testing.T) {
	var bus *Bus
	assert.Nil(t, bus.Fire(context.Background(), &Event{Name: PrePrompt}))
	assert.Nil(t, bus.Errors())
	assert.Zero(t, bus.Count(PrePrompt))
}
