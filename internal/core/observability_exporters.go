package core

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

var expvarSeq uint64

// ExpvarMetricsRecorder publishes per-namespace commit counters via expvar.
type ExpvarMetricsRecorder struct {
	name      string
	mu        sync.Mutex
	durations map[string]float64
	keys      map[string]int64
	outcomes  map[string]map[CommitOutcome]int64
}

// ExpvarMetricsSnapshot captures a read-only view of the recorded metrics.
type ExpvarMetricsSnapshot struct {
	DurationsMS map[string]float64                 `json:"durations_ms_total"`
	Keys        map[string]int64                   `json:"keys_total"`
	Outcomes    map[string]map[CommitOutcome]int64 `json:"outcomes_total"`
	RecordedAt  time.Time                          `json:"recorded_at"`
}

// NewExpvarMetricsRecorder publishes a recorder under name, generating a
// unique name when empty. expvar names are process-global, so reusing a name
// panics.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		name = fmt.Sprintf("paramflow_commits_%d", atomic.AddUint64(&expvarSeq, 1))
	}
	rec := &ExpvarMetricsRecorder{
		name:      name,
		durations: make(map[string]float64),
		keys:      make(map[string]int64),
		outcomes:  make(map[string]map[CommitOutcome]int64),
	}
	expvar.Publish(name, expvar.Func(func() any {
		return rec.Snapshot()
	}))
	return rec
}

// Name returns the expvar export name associated with the recorder.
func (r *ExpvarMetricsRecorder) Name() string { return r.name }

// Snapshot returns an immutable copy of the aggregated metrics.
func (r *ExpvarMetricsRecorder) Snapshot() ExpvarMetricsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	durations := make(map[string]float64, len(r.durations))
	for ns, total := range r.durations {
		durations[ns] = total
	}
	keys := make(map[string]int64, len(r.keys))
	for ns, total := range r.keys {
		keys[ns] = total
	}
	outcomes := make(map[string]map[CommitOutcome]int64, len(r.outcomes))
	for ns, counts := range r.outcomes {
		cpy := make(map[CommitOutcome]int64, len(counts))
		for outcome, n := range counts {
			cpy[outcome] = n
		}
		outcomes[ns] = cpy
	}
	return ExpvarMetricsSnapshot{DurationsMS: durations, Keys: keys, Outcomes: outcomes, RecordedAt: time.Now().UTC()}
}

// ObserveCommit implements MetricsRecorder.
func (r *ExpvarMetricsRecorder) ObserveCommit(_ context.Context, namespace string, outcome CommitOutcome, keys int, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.durations[namespace] += float64(duration) / float64(time.Millisecond)
	r.keys[namespace] += int64(keys)
	if _, ok := r.outcomes[namespace]; !ok {
		r.outcomes[namespace] = make(map[CommitOutcome]int64, 3)
	}
	r.outcomes[namespace][outcome]++
}

// JSONTraceEntry is a serialized span emitted by JSONTraceTracer.
type JSONTraceEntry struct {
	Operation  string    `json:"operation"`
	Namespace  string    `json:"namespace"`
	Status     string    `json:"status"`
	DurationMS float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// JSONTraceTracer writes spans as JSON lines and retains them for inspection.
type JSONTraceTracer struct {
	mu      sync.Mutex
	entries []JSONTraceEntry
	enc     *json.Encoder
}

// NewJSONTracer constructs a tracer writing to w; a nil writer only retains.
func NewJSONTracer(w io.Writer) *JSONTraceTracer {
	t := &JSONTraceTracer{}
	if w != nil {
		t.enc = json.NewEncoder(w)
	}
	return t
}

// Entries returns a copy of all recorded spans.
func (t *JSONTraceTracer) Entries() []JSONTraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]JSONTraceEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Start implements Tracer.
func (t *JSONTraceTracer) Start(ctx context.Context, operation, namespace string) (context.Context, TraceSpan) {
	return ctx, &jsonTraceSpan{tracer: t, operation: operation, namespace: namespace, started: time.Now().UTC()}
}

type jsonTraceSpan struct {
	tracer    *JSONTraceTracer
	operation string
	namespace string
	started   time.Time
}

func (s *jsonTraceSpan) End(err error) {
	entry := JSONTraceEntry{Operation: s.operation, Namespace: s.namespace, Status: "success", StartedAt: s.started}
	if err != nil {
		entry.Status = "error"
		entry.Error = err.Error()
	}
	entry.EndedAt = time.Now().UTC()
	entry.DurationMS = float64(entry.EndedAt.Sub(s.started)) / float64(time.Millisecond)

	s.tracer.mu.Lock()
	defer s.tracer.mu.Unlock()
	s.tracer.entries = append(s.tracer.entries, entry)
	if s.tracer.enc != nil {
		_ = s.tracer.enc.Encode(entry)
	}
}
