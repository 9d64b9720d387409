package observability

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"paramflow/internal/config"
)

func TestTracerRecordsSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider, shutdown := NewTracerProvider(config.Tracing{Enabled: true, ServiceName: "test"}, exporter)
	defer func() { _ = shutdown(context.Background()) }()

	tracer := NewTracer(provider)
	_, ok := tracer.Start(context.Background(), "batch.accept", "ns")
	ok.End(nil)
	_, failed := tracer.Start(context.Background(), "batch.accept", "ns")
	failed.End(errors.New("boom"))

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected two spans, got %d", len(spans))
	}
	if spans[0].Name != "batch.accept" || spans[0].Status.Code != codes.Ok {
		t.Fatalf("unexpected first span: %+v", spans[0].Status)
	}
	if spans[1].Status.Code != codes.Error || spans[1].Status.Description != "boom" {
		t.Fatalf("unexpected failed span: %+v", spans[1].Status)
	}
	found := false
	for _, attr := range spans[0].Attributes {
		if string(attr.Key) == "paramflow.namespace" && attr.Value.AsString() == "ns" {
			found = true
		}
	}
	if !found {
		t.Fatalf("namespace attribute missing: %v", spans[0].Attributes)
	}
}

func TestDisabledTracingIsNoop(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider, shutdown := NewTracerProvider(config.Tracing{}, exporter)
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	_, span := NewTracer(provider).Start(context.Background(), "op", "ns")
	span.End(nil)
	if len(exporter.GetSpans()) != 0 {
		t.Fatalf("disabled tracing must not export")
	}
	_, span = NewTracer(nil).Start(context.Background(), "op", "ns")
	span.End(errors.New("ignored"))
}

func TestCommitTracerExporters(t *testing.T) {
	ctx := context.Background()

	var buf bytes.Buffer
	tracer, shutdown, err := NewCommitTracer(ctx, config.Tracing{Enabled: true, Exporter: "json"}, &buf)
	if err != nil {
		t.Fatalf("json tracer: %v", err)
	}
	_, span := tracer.Start(ctx, "batch.accept", "shelf")
	span.End(errors.New("boom"))
	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if line := buf.String(); !strings.Contains(line, `"operation":"batch.accept"`) || !strings.Contains(line, `"error":"boom"`) {
		t.Fatalf("unexpected json span: %s", line)
	}

	var posts atomic.Int32
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/v1/traces" {
			posts.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer collector.Close()
	tracer, shutdown, err = NewCommitTracer(ctx, config.Tracing{Enabled: true, Exporter: "otlp", Endpoint: collector.URL + "/v1/traces"}, nil)
	if err != nil {
		t.Fatalf("otlp tracer: %v", err)
	}
	_, span = tracer.Start(ctx, "batch.accept", "shelf")
	span.End(nil)
	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if posts.Load() == 0 {
		t.Fatalf("expected spans to reach the collector")
	}

	if _, _, err := NewCommitTracer(ctx, config.Tracing{Enabled: true, Exporter: "zipkin"}, nil); err == nil {
		t.Fatalf("expected error for unknown exporter")
	}
	tracer, shutdown, err = NewCommitTracer(ctx, config.Tracing{Exporter: "otlp"}, nil)
	if err != nil || shutdown(ctx) != nil {
		t.Fatalf("disabled tracing should not build an exporter: %v", err)
	}
	_, span = tracer.Start(ctx, "op", "ns")
	span.End(nil)
}
