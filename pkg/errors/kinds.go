package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"
)

// Kind classifies a failure for result reporting.
type Kind string

// Error kinds recorded on failed runs and errored score entries.
const (
	KindNone            Kind = ""
	KindChannel         Kind = "channel"
	KindToolCall        Kind = "tool_call"
	KindBudgetExceeded  Kind = "budget_exceeded"
	KindModelCapability Kind = "model_capability"
	KindScorer          Kind = "scorer"
	KindDepthLimit      Kind = "depth_limit"
	KindConfig          Kind = "config"
	KindCancelled       Kind = "cancelled"
	KindTimeout         Kind = "timeout"
	KindUnknown         Kind = "unknown"
)

// Kinded is implemented by every typed error in this package.
type Kinded interface {
	error
	Kind() Kind
}

// KindOf returns the kind of the first typed error in err's chain.
// Context cancellation and deadline errors map to KindCancelled and KindTimeout.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var k Kinded
	if stderrors.As(err, &k) {
		return k.Kind()
	}
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case stderrors.Is(err, context.Canceled):
		return KindCancelled
	}
	return KindUnknown
}

// ChannelError reports a transport failure on a tool server channel:
// process exit, broken pipe, or a read error.
type ChannelError struct {
	Server string
	Cause  error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("tool server %q channel failed: %v", e.Server, e.Cause)
}

func (e *ChannelError) Unwrap() error { return e.Cause }

// Kind implements Kinded.
func (e *ChannelError) Kind() Kind { return KindChannel }

// ToolCallError reports a tool that executed but returned a failure, or a call
// that could not be routed or validated.
type ToolCallError struct {
	Tool    string
	Message string
	Cause   error
}

func (e *ToolCallError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("tool %q failed: %s: %v", e.Tool, e.Message, e.Cause)
	}
	return fmt.Sprintf("tool %q failed: %s", e.Tool, e.Message)
}

func (e *ToolCallError) Unwrap() error { return e.Cause }

// Kind implements Kinded.
func (e *ToolCallError) Kind() Kind { return KindToolCall }

// ToolTimeoutError is a ToolCallError raised when no response arrived in time.
type ToolTimeoutError struct {
	Tool    string
	Timeout time.Duration
}

func (e *ToolTimeoutError) Error() string {
	return fmt.Sprintf("tool %q timed out after %s", e.Tool, e.Timeout)
}

// Kind implements Kinded.
func (e *ToolTimeoutError) Kind() Kind { return KindToolCall }

// BudgetExceededError is returned when the context budget cannot be honoured.
type BudgetExceededError struct {
	Size     int
	MaxSize  int
	Reaction string
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("context budget exceeded: size %d > max %d (reaction %s)", e.Size, e.MaxSize, e.Reaction)
}

// Kind implements Kinded.
func (e *BudgetExceededError) Kind() Kind { return KindBudgetExceeded }

// ModelCapabilityReason narrows a provider failure.
type ModelCapabilityReason string

// Provider failure reasons.
const (
	ReasonAuth      ModelCapabilityReason = "auth"
	ReasonRateLimit ModelCapabilityReason = "rate_limit"
	ReasonMalformed ModelCapabilityReason = "malformed_response"
	ReasonTransport ModelCapabilityReason = "transport"
	ReasonUnknown   ModelCapabilityReason = "unknown"
)

// ModelCapabilityError is a provider-level failure. It is always fatal to the
// run that hit it; Retryable tells the evaluator whether a fresh run may help.
type ModelCapabilityError struct {
	Provider  string
	Reason    ModelCapabilityReason
	Retryable bool
	Cause     error
}

func (e *ModelCapabilityError) Error() string {
	return fmt.Sprintf("model %q failed (%s): %v", e.Provider, e.Reason, e.Cause)
}

func (e *ModelCapabilityError) Unwrap() error { return e.Cause }

// Kind implements Kinded.
func (e *ModelCapabilityError) Kind() Kind { return KindModelCapability }

// ScorerError reports a scorer that could not produce a metric.
type ScorerError struct {
	Metric string
	Cause  error
}

func (e *ScorerError) Error() string {
	return fmt.Sprintf("scorer %q failed: %v", e.Metric, e.Cause)
}

func (e *ScorerError) Unwrap() error { return e.Cause }

// Kind implements Kinded.
func (e *ScorerError) Kind() Kind { return KindScorer }

// DepthLimitExceeded is returned when the model keeps requesting tools after
// the configured number of consecutive tool rounds.
type DepthLimitExceeded struct {
	Limit int
}

func (e *DepthLimitExceeded) Error() string {
	return fmt.Sprintf("inner-monologue depth limit %d exceeded", e.Limit)
}

// Kind implements Kinded.
func (e *DepthLimitExceeded) Kind() Kind { return KindDepthLimit }

// ConfigError reports an invalid manifest or option.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Message)
}

// Kind implements Kinded.
func (e *ConfigError) Kind() Kind { return KindConfig }
