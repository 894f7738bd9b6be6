package providers

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	levErrors "github.com/danield137/lev/pkg/errors"
	"github.com/danield137/lev/runtime/types"
)

type stubProvider struct {
	id       string
	closeErr error
}

func (s *stubProvider) ID() string { return s.id }
func (s *stubProvider) Complete(context.Context, *CompletionRequest) (*Completion, error) {
	return &Completion{Content: "ok"}, nil
}
func (s *stubProvider) Close() error { return s.closeErr }

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status    int
		reason    levErrors.ModelCapabilityReason
		retryable bool
	}{
		{http.StatusUnauthorized, levErrors.ReasonAuth, false},
		{http.StatusForbidden, levErrors.ReasonAuth, false},
		{http.StatusTooManyRequests, levErrors.ReasonRateLimit, true},
		{http.StatusBadGateway, levErrors.ReasonTransport, true},
		{http.StatusBadRequest, levErrors.ReasonUnknown, false},
	}
	for _, tt := range tests {
		e := ClassifyStatus("p", tt.status, errors.New("boom"))
		assert.Equal(t, tt.reason, e.Reason, "status %d", tt.status)
		assert.Equal(t, tt.retryable, e.Retryable, "status %d", tt.status)
		assert.Equal(t, levErrors.KindModelCapability, levErrors.KindOf(e))
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestWrapError(t *testing.T) {
	assert.NoError(t, WrapError("p", nil))
	assert.ErrorIs(t, WrapError("p", context.Canceled), context.Canceled)
	assert.Equal(t, levErrors.KindCancelled, levErrors.KindOf(WrapError("p", context.Canceled)))

	var mce *levErrors.ModelCapabilityError
	require.ErrorAs(t, WrapError("p", timeoutErr{}), &mce)
	assert.Equal(t, levErrors.ReasonTransport, mce.Reason)
	assert.True(t, mce.Retryable)

	require.ErrorAs(t, WrapError("p", errors.New("weird")), &mce)
	assert.Equal(t, levErrors.ReasonUnknown, mce.Reason)

	require.ErrorAs(t, Malformed("p", errors.New("bad json")), &mce)
	assert.Equal(t, levErrors.ReasonMalformed, mce.Reason)
}

func TestCreateProviderFromSpec(t *testing.T) {
	RegisterProviderFactory("stub", func(spec ProviderSpec) (Provider, error) {
		return &stubProvider{id: spec.ID}, nil
	})
	p, err := CreateProviderFromSpec(ProviderSpec{Type: "stub"})
	require.NoError(t, err)
	assert.Equal(t, "stub", p.ID())
	assert.Contains(t, RegisteredTypes(), "stub")

	_, err = CreateProviderFromSpec(ProviderSpec{Type: "nope"})
	var ue *UnsupportedProviderError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "nope", ue.ProviderType)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubProvider{id: "b"})
	r.Register(&stubProvider{id: "a", closeErr: errors.New("close failed")})

	assert.Equal(t, []string{"a", "b"}, r.List())
	p, ok := r.Get("b")
	require.True(t, ok)
	assert.Equal(t, "b", p.ID())
	_, ok = r.Get("zzz")
	assert.False(t, ok)

	assert.ErrorContains(t, r.Close(), "close failed")
}

func TestSplitSystem(t *testing.T) {
	system, rest := SplitSystem([]types.Message{
		types.NewSystemMessage("be terse"),
		types.NewUserMessage("hi"),
		types.NewSystemMessage("tool hints"),
	})
	assert.Equal(t, "be terse\n\ntool hints", system)
	require.Len(t, rest, 1)
	assert.Equal(t, types.RoleUser, rest[0].Role)
}
