package observability

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"paramflow/internal/config"
	"paramflow/internal/core"
)

const instrumentationName = "paramflow/internal/core"

// NewTracerProvider returns an SDK provider exporting synchronously to
// exporter when tracing is enabled, and a no-op provider otherwise. The
// shutdown func flushes pending spans.
func NewTracerProvider(cfg config.Tracing, exporter sdktrace.SpanExporter) (trace.TracerProvider, func(context.Context) error) {
	if exporter == nil {
		return newProvider(cfg)
	}
	return newProvider(cfg, sdktrace.WithSyncer(exporter))
}

// NewCommitTracer returns the tracer selected by cfg.Exporter. The json
// exporter writes one line per span to w; otlp batches spans to
// cfg.Endpoint over HTTP.
func NewCommitTracer(ctx context.Context, cfg config.Tracing, w io.Writer) (core.Tracer, func(context.Context) error, error) {
	noopShutdown := func(context.Context) error { return nil }
	if !cfg.Enabled {
		return NewTracer(nil), noopShutdown, nil
	}
	switch cfg.Exporter {
	case "json", "":
		return core.NewJSONTracer(w), noopShutdown, nil
	case "otlp":
		exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.Endpoint))
		if err != nil {
			return nil, nil, fmt.Errorf("otlp exporter: %w", err)
		}
		provider, shutdown := newProvider(cfg, sdktrace.WithBatcher(exporter))
		return NewTracer(provider), shutdown, nil
	default:
		return nil, nil, fmt.Errorf("unknown tracing exporter %s", cfg.Exporter)
	}
}

func newProvider(cfg config.Tracing, opts ...sdktrace.TracerProviderOption) (trace.TracerProvider, func(context.Context) error) {
	if !cfg.Enabled {
		return noop.NewTracerProvider(), func(context.Context) error { return nil }
	}
	service := cfg.ServiceName
	if service == "" {
		service = "paramflow"
	}
	opts = append([]sdktrace.TracerProviderOption{
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", service))),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}, opts...)
	tp := sdktrace.NewTracerProvider(opts...)
	return tp, tp.Shutdown
}

// Tracer implements core.Tracer on an OpenTelemetry tracer.
type Tracer struct {
	tracer trace.Tracer
}

var _ core.Tracer = (*Tracer)(nil)

// NewTracer wraps provider; nil means a no-op provider.
func NewTracer(provider trace.TracerProvider) *Tracer {
	if provider == nil {
		provider = noop.NewTracerProvider()
	}
	return &Tracer{tracer: provider.Tracer(instrumentationName)}
}

// Start implements core.Tracer.
func (t *Tracer) Start(ctx context.Context, operation, namespace string) (context.Context, core.TraceSpan) {
	ctx, span := t.tracer.Start(ctx, operation, trace.WithAttributes(attribute.String("paramflow.namespace", namespace)))
	return ctx, otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (s otelSpan) End(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}
