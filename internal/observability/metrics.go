package observability

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"paramflow/internal/config"
	"paramflow/internal/core"
)

// Metrics is a commit recorder that can write out what it has recorded.
type Metrics interface {
	core.MetricsRecorder
	Dump(w io.Writer) error
}

// NewMetrics returns the recorder selected by cfg.Backend.
func NewMetrics(cfg config.Metrics) (Metrics, error) {
	switch cfg.Backend {
	case "prometheus", "":
		return NewPrometheusRecorder(cfg.Namespace)
	case "expvar":
		name := strings.TrimSpace(cfg.Namespace)
		if name != "" {
			name += "_commits"
		}
		if name != "" && expvar.Get(name) != nil {
			name = ""
		}
		return expvarMetrics{core.NewExpvarMetricsRecorder(name)}, nil
	default:
		return nil, fmt.Errorf("unknown metrics backend %s", cfg.Backend)
	}
}

type expvarMetrics struct {
	*core.ExpvarMetricsRecorder
}

func (m expvarMetrics) Dump(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]core.ExpvarMetricsSnapshot{m.Name(): m.Snapshot()})
}

// PrometheusRecorder implements core.MetricsRecorder with Prometheus
// collectors registered on its own registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry
	commits  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	keys     *prometheus.CounterVec
}

var _ core.MetricsRecorder = (*PrometheusRecorder)(nil)

// NewPrometheusRecorder registers the commit collectors under namespace.
func NewPrometheusRecorder(namespace string) (*PrometheusRecorder, error) {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = "paramflow"
	}
	r := &PrometheusRecorder{
		registry: prometheus.NewRegistry(),
		commits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "batch",
				Name:      "settled_total",
				Help:      "Change batches settled, by outcome.",
			},
			[]string{"namespace", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "batch",
				Name:      "commit_duration_seconds",
				Help:      "Time from slot acquisition to settlement.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"namespace", "outcome"},
		),
		keys: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "batch",
				Name:      "staged_keys_total",
				Help:      "Parameter values staged into settled batches.",
			},
			[]string{"namespace"},
		),
	}
	for _, c := range []prometheus.Collector{r.commits, r.duration, r.keys} {
		if err := r.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Registry returns the registry holding the collectors.
func (r *PrometheusRecorder) Registry() *prometheus.Registry { return r.registry }

// ObserveCommit implements core.MetricsRecorder.
func (r *PrometheusRecorder) ObserveCommit(_ context.Context, namespace string, outcome core.CommitOutcome, keys int, duration time.Duration) {
	r.commits.WithLabelValues(namespace, string(outcome)).Inc()
	r.keys.WithLabelValues(namespace).Add(float64(keys))
	if outcome == core.OutcomeCommitted || outcome == core.OutcomeFailed {
		r.duration.WithLabelValues(namespace, string(outcome)).Observe(duration.Seconds())
	}
}

// Dump writes the gathered collectors in the Prometheus text format.
func (r *PrometheusRecorder) Dump(w io.Writer) error {
	families, err := r.registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
