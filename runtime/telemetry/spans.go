package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	levErrors "github.com/danield137/lev/pkg/errors"
)

// Span names.
const (
	SpanPrompt    = "lev.prompt"
	SpanModelCall = "lev.model"
	SpanToolCall  = "lev.tool"
)

// StartPrompt starts the root span of one prompt through the run loop.
func StartPrompt(ctx context.Context, tracer trace.Tracer, caseID, runID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, SpanPrompt,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("case.id", caseID),
			attribute.String("run.id", runID),
		),
	)
}

// StartModelCall starts a client span for one completion request.
func StartModelCall(ctx context.Context, tracer trace.Tracer, provider string, round, messages, tools int) (context.Context, trace.Span) {
	return tracer.Start(ctx, SpanModelCall+"."+provider,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gen_ai.system", provider),
			attribute.Int("loop.round", round),
			attribute.Int("message.count", messages),
			attribute.Int("tool.count", tools),
		),
	)
}

// StartToolCall starts a span for one dispatched tool call.
func StartToolCall(ctx context.Context, tracer trace.Tracer, tool, callID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, SpanToolCall+"."+tool,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("tool.name", tool),
			attribute.String("tool.call_id", callID),
		),
	)
}

// End finishes span with an Ok status, or an Error status carrying err and
// its kind.
func End(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
	if err != nil {
		span.SetAttributes(attribute.String("error.kind", string(levErrors.KindOf(err))))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
