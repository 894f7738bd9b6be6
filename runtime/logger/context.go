package logger

import (
	"context"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

// Context keys for common logging fields. Values stored under these keys are
// added to every record logged with a *Context function.
const (
	// ContextKeyCaseID identifies the eval case being executed.
	ContextKeyCaseID contextKey = "case_id"

	// ContextKeyRunID identifies a single attempt at a case.
	ContextKeyRunID contextKey = "run_id"

	// ContextKeyProvider identifies the completion provider.
	ContextKeyProvider contextKey = "provider"

	// ContextKeyModel identifies the model being used.
	ContextKeyModel contextKey = "model"

	// ContextKeySuite identifies the suite file being run.
	ContextKeySuite contextKey = "suite"
)

var allContextKeys = []contextKey{
	ContextKeySuite,
	ContextKeyCaseID,
	ContextKeyRunID,
	ContextKeyProvider,
	ContextKeyModel,
}

// WithCaseID returns a new context with the case ID set.
func WithCaseID(ctx context.Context, caseID string) context.Context {
	return context.WithValue(ctx, ContextKeyCaseID, caseID)
}

// WithRunID returns a new context with the run ID set.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, ContextKeyRunID, runID)
}

// WithProvider returns a new context with the provider name set.
func WithProvider(ctx context.Context, provider string) context.Context {
	return context.WithValue(ctx, ContextKeyProvider, provider)
}

// WithModel returns a new context with the model name set.
func WithModel(ctx context.Context, model string) context.Context {
	return context.WithValue(ctx, ContextKeyModel, model)
}

// WithSuite returns a new context with the suite name set.
func WithSuite(ctx context.Context, suite string) context.Context {
	return context.WithValue(ctx, ContextKeySuite, suite)
}

// LoggingFields holds the standard logging context fields.
type LoggingFields struct {
	Suite    string
	CaseID   string
	RunID    string
	Provider string
	Model    string
}

// WithLoggingContext sets every non-empty field on ctx.
func WithLoggingContext(ctx context.Context, fields *LoggingFields) context.Context {
	if fields == nil {
		return ctx
	}
	if fields.Suite != "" {
		ctx = WithSuite(ctx, fields.Suite)
	}
	if fields.CaseID != "" {
		ctx = WithCaseID(ctx, fields.CaseID)
	}
	if fields.RunID != "" {
		ctx = WithRunID(ctx, fields.RunID)
	}
	if fields.Provider != "" {
		ctx = WithProvider(ctx, fields.Provider)
	}
	if fields.Model != "" {
		ctx = WithModel(ctx, fields.Model)
	}
	return ctx
}

// ExtractLoggingFields extracts all logging fields from a context.
func ExtractLoggingFields(ctx context.Context) LoggingFields {
	str := func(k contextKey) string {
		s, _ := ctx.Value(k).(string)
		return s
	}
	return LoggingFields{
		Suite:    str(ContextKeySuite),
		CaseID:   str(ContextKeyCaseID),
		RunID:    str(ContextKeyRunID),
		Provider: str(ContextKeyProvider),
		Model:    str(ContextKeyModel),
	}
}
