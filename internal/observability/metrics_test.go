package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"paramflow/internal/config"
	"paramflow/internal/core"
)

func TestPrometheusRecorderCounts(t *testing.T) {
	rec, err := NewPrometheusRecorder("")
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	ctx := context.Background()
	rec.ObserveCommit(ctx, "ns", core.OutcomeCommitted, 2, 10*time.Millisecond)
	rec.ObserveCommit(ctx, "ns", core.OutcomeCommitted, 1, 20*time.Millisecond)
	rec.ObserveCommit(ctx, "ns", core.OutcomeRejected, 4, 0)

	families, err := rec.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		byName[f.GetName()] = f
	}

	settled := byName["paramflow_batch_settled_total"]
	if settled == nil {
		t.Fatalf("settled counter missing: %v", byName)
	}
	got := map[string]float64{}
	for _, m := range settled.GetMetric() {
		for _, l := range m.GetLabel() {
			if l.GetName() == "outcome" {
				got[l.GetValue()] = m.GetCounter().GetValue()
			}
		}
	}
	if got["committed"] != 2 || got["rejected"] != 1 {
		t.Fatalf("unexpected outcome counts: %v", got)
	}

	keys := byName["paramflow_batch_staged_keys_total"]
	if keys == nil || keys.GetMetric()[0].GetCounter().GetValue() != 7 {
		t.Fatalf("unexpected staged keys: %v", keys)
	}
	hist := byName["paramflow_batch_commit_duration_seconds"]
	if hist == nil || hist.GetMetric()[0].GetHistogram().GetSampleCount() != 2 {
		t.Fatalf("rejections must not be timed: %v", hist)
	}
}

func TestPrometheusRecordersAreIndependent(t *testing.T) {
	if _, err := NewPrometheusRecorder("dup"); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := NewPrometheusRecorder("dup"); err != nil {
		t.Fatalf("recorders own their registry, got %v", err)
	}
}

func TestNewMetricsBackends(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.Metrics
		want string
	}{
		{"prometheus", config.Metrics{Backend: "prometheus", Namespace: "shelfapp"}, `shelfapp_batch_settled_total{namespace="shelf",outcome="committed"} 1`},
		{"expvar", config.Metrics{Backend: "expvar", Namespace: "expvar_backend_test"}, `"committed": 1`},
		{"expvar name reuse", config.Metrics{Backend: "expvar", Namespace: "expvar_backend_test"}, `"keys_total"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := NewMetrics(tc.cfg)
			if err != nil {
				t.Fatalf("new metrics: %v", err)
			}
			m.ObserveCommit(context.Background(), "shelf", core.OutcomeCommitted, 2, 5*time.Millisecond)
			var buf bytes.Buffer
			if err := m.Dump(&buf); err != nil {
				t.Fatalf("dump: %v", err)
			}
			if !strings.Contains(buf.String(), tc.want) {
				t.Fatalf("dump missing %q:\n%s", tc.want, buf.String())
			}
		})
	}
	if _, err := NewMetrics(config.Metrics{Backend: "statsd"}); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}
