// Package telemetry wires OpenTelemetry tracing into suite runs: the tracer
// provider a run exports through and the span helpers used by the agent loop.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/contrib/propagators/aws/xray"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/danield137/lev/runtime/version"
)

// InstrumentationName is the scope name of every lev tracer.
const InstrumentationName = "github.com/danield137/lev"

// ServiceName is reported as service.name unless Config overrides it.
const ServiceName = "lev"

// Resource attribute keys describing the suite being run.
const (
	AttrSuiteName   = "lev.suite.name"
	AttrSuiteLabel  = "lev.suite.label."
	AttrBuildCommit = "lev.build.commit"
)

// ErrNoExporter is returned by Setup when neither an endpoint nor an
// exporter is configured.
var ErrNoExporter = errors.New("telemetry: an OTLP endpoint or a span exporter is required")

// Tracer returns the lev tracer of tp, or of the global provider when tp is
// nil. The global provider is a noop until one is installed.
func Tracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(InstrumentationName, trace.WithInstrumentationVersion(version.GetVersion()))
}

// Config describes where a suite run sends its spans and how the run is
// identified on them.
type Config struct {
	// Endpoint is an OTLP/HTTP traces URL such as
	// http://localhost:4318/v1/traces.
	Endpoint string
	// Exporter replaces the OTLP exporter.
	Exporter sdktrace.SpanExporter
	// ServiceName defaults to ServiceName.
	ServiceName string
	// Suite and Labels come from the suite manifest.
	Suite  string
	Labels map[string]string
}

// Tracing is the tracer provider of one suite run.
type Tracing struct {
	provider *sdktrace.TracerProvider
}

// Setup creates the tracer provider for a run and installs the text-map
// propagators used by provider HTTP calls. The caller must Shutdown the
// returned Tracing to flush pending spans.
func Setup(ctx context.Context, cfg Config) (*Tracing, error) {
	exporter := cfg.Exporter
	if exporter == nil {
		if cfg.Endpoint == "" {
			return nil, ErrNoExporter
		}
		otlp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.Endpoint))
		if err != nil {
			return nil, fmt.Errorf("create OTLP exporter: %w", err)
		}
		exporter = otlp
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(cfg.attributes()...))
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	SetupPropagation()
	return &Tracing{provider: sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)}, nil
}

func (c Config) attributes() []attribute.KeyValue {
	service := c.ServiceName
	if service == "" {
		service = ServiceName
	}
	attrs := []attribute.KeyValue{
		attribute.String("service.name", service),
		attribute.String("service.version", version.GetVersion()),
	}
	if commit := version.Commit(); commit != "" {
		attrs = append(attrs, attribute.String(AttrBuildCommit, commit))
	}
	if c.Suite != "" {
		attrs = append(attrs, attribute.String(AttrSuiteName, c.Suite))
	}
	keys := make([]string, 0, len(c.Labels))
	for k := range c.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, attribute.String(AttrSuiteLabel+k, c.Labels[k]))
	}
	return attrs
}

// Tracer returns the lev tracer of this run.
func (t *Tracing) Tracer() trace.Tracer {
	return Tracer(t.provider)
}

// ForceFlush exports every ended span.
func (t *Tracing) ForceFlush(ctx context.Context) error {
	return t.provider.ForceFlush(ctx)
}

// Shutdown flushes and stops the provider.
func (t *Tracing) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}

// SetupPropagation installs W3C TraceContext, W3C Baggage and AWS X-Ray
// propagation as the global text-map propagator.
func SetupPropagation() {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
		xray.Propagator{},
	))
}
