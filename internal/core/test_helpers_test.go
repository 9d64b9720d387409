package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"paramflow/pkg/domain"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// Now ticks a millisecond per call so journal timestamps stay distinct.
func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(time.Millisecond)
	return now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and runs every due timer synchronously.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	pending := c.timers[:0]
	for _, t := range c.timers {
		switch {
		case t.stopped:
		case !t.at.After(c.now):
			due = append(due, t)
		default:
			pending = append(pending, t)
		}
	}
	c.timers = pending
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

func (c *fakeClock) armed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

type recordingExecutor struct {
	mu    sync.Mutex
	calls []domain.Values
	err   error
	gate  chan struct{}
	entry chan struct{}
}

func (r *recordingExecutor) Execute(_ context.Context, values domain.Values) error {
	r.mu.Lock()
	r.calls = append(r.calls, values.Clone())
	err, gate, entry := r.err, r.gate, r.entry
	r.mu.Unlock()
	if entry != nil {
		entry <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	return err
}

func (r *recordingExecutor) Calls() []domain.Values {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Values, len(r.calls))
	copy(out, r.calls)
	return out
}

type logEntry struct {
	level string
	msg   string
}

type captureLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *captureLogger) add(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg})
}

func (l *captureLogger) Debug(msg string, _ ...any) { l.add("debug", msg) }
func (l *captureLogger) Info(msg string, _ ...any)  { l.add("info", msg) }
func (l *captureLogger) Warn(msg string, _ ...any)  { l.add("warn", msg) }
func (l *captureLogger) Error(msg string, _ ...any) { l.add("error", msg) }

func (l *captureLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.level == level {
			n++
		}
	}
	return n
}

type fakeParam struct {
	def    domain.ParameterDefinition
	mu     sync.Mutex
	value  any
	failOn any
	sets   int
}

func (p *fakeParam) Definition() domain.ParameterDefinition { return p.def }
func (p *fakeParam) Validate(v any) bool                     { return domain.ValidateValue(p.def, v) }
func (p *fakeParam) Stringify(v any) string                  { return domain.StringifyValue(p.def, v) }

func (p *fakeParam) Value() any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value
}

func (p *fakeParam) Set(v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sets++
	if p.failOn != nil && v == p.failOn {
		return errBackend
	}
	p.value = v
	return nil
}

type fakeExport struct {
	def      domain.ExportDefinition
	mu       sync.Mutex
	tokens   []string
	requests int
}

func (e *fakeExport) Definition() domain.ExportDefinition { return e.def }

func (e *fakeExport) Request(ctx context.Context, overrides domain.Values) (domain.Artifact, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests++
	token, _ := domain.AuthTokenFrom(ctx)
	e.tokens = append(e.tokens, token)
	return domain.Artifact{Filename: e.def.ID + ".txt", ContentType: "text/plain", Content: []byte(e.def.ID)}, nil
}

type fakeSession struct {
	id      string
	params  []*fakeParam
	exports []*fakeExport

	mu           sync.Mutex
	customizeErr error
	customizes   int
	bulk         [][]string
}

func newFakeSession(id string, params ...domain.ParameterDefinition) *fakeSession {
	s := &fakeSession{id: id}
	for _, def := range params {
		s.params = append(s.params, &fakeParam{def: def, value: def.DefaultValue})
	}
	return s
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) Parameters() []domain.Parameter {
	out := make([]domain.Parameter, len(s.params))
	for i, p := range s.params {
		out[i] = p
	}
	return out
}

func (s *fakeSession) Exports() []domain.Export {
	out := make([]domain.Export, len(s.exports))
	for i, e := range s.exports {
		out[i] = e
	}
	return out
}

func (s *fakeSession) Customize(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customizes++
	return s.customizeErr
}

func (s *fakeSession) BulkRequest(_ context.Context, exportIDs, _ []string) (map[string]domain.Artifact, error) {
	s.mu.Lock()
	s.bulk = append(s.bulk, exportIDs)
	err := s.customizeErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.Artifact, len(exportIDs))
	for _, id := range exportIDs {
		out[id] = domain.Artifact{ExportID: id, Filename: id + ".bin", ContentType: "application/octet-stream", Version: "v1", Content: []byte("bulk:" + id)}
	}
	return out, nil
}

func (s *fakeSession) param(id string) *fakeParam {
	for _, p := range s.params {
		if p.def.ID == id {
			return p
		}
	}
	return nil
}

type captureNotifier struct {
	mu    sync.Mutex
	calls []string
	errs  []error
}

func (n *captureNotifier) CommitFailed(namespace string, _ []string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, namespace)
	n.errs = append(n.errs, err)
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

type captureNavigator struct {
	mu      sync.Mutex
	entries []domain.HistoryEntry
}

func (n *captureNavigator) PushState(entry domain.HistoryEntry) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.entries = append(n.entries, entry)
}

func (n *captureNavigator) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.entries)
}

func stringParam(id, def string) domain.ParameterDefinition {
	return domain.ParameterDefinition{ID: id, Name: id, Type: domain.TypeString, DefaultValue: def}
}

func generic(defs ...domain.ParameterDefinition) []GenericParameter {
	out := make([]GenericParameter, len(defs))
	for i, def := range defs {
		out[i] = GenericParameter{Definition: def}
	}
	return out
}

func acceptRejectAll(domain.ParameterDefinition) bool { return true }

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}

func mustCell(t *testing.T, d *Directory, ns, id string) *ParameterCell {
	t.Helper()
	cell, err := d.FindParameter(ns, id)
	if err != nil {
		t.Fatalf("find %s/%s: %v", ns, id, err)
	}
	return cell
}

var errBackend = errors.New("backend unavailable")
