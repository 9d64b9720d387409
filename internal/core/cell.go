package core

import (
	"context"
	"sync"
	"time"

	"paramflow/pkg/domain"
)

// ParameterCell is the engine's view of one parameter: the value the user
// is editing, the value last committed, and whether they differ.
type ParameterCell struct {
	dir          *Directory
	namespace    string
	def          domain.ParameterDefinition
	validate     func(any) bool
	stringify    func(any) string
	acceptReject bool
	delay        time.Duration

	mu      sync.Mutex
	ui      any
	exec    any
	dirty   bool
	timer   Timer
	gen     uint64
	pending *ChangeBatch
	closed  bool
	subs    map[int]func(domain.ParameterState)
	nextSub int
}

type cellSpec struct {
	def       domain.ParameterDefinition
	validate  func(any) bool
	stringify func(any) string
	value     any
}

func newParameterCell(dir *Directory, namespace string, spec cellSpec, acceptReject bool) *ParameterCell {
	validate := spec.validate
	if validate == nil {
		def := spec.def
		validate = func(v any) bool { return domain.ValidateValue(def, v) }
	}
	stringify := spec.stringify
	if stringify == nil {
		def := spec.def
		stringify = func(v any) string { return domain.StringifyValue(def, v) }
	}
	delay := dir.debounce
	if acceptReject {
		delay = 0
	}
	return &ParameterCell{
		dir:          dir,
		namespace:    namespace,
		def:          spec.def,
		validate:     validate,
		stringify:    stringify,
		acceptReject: acceptReject,
		delay:        delay,
		ui:           spec.value,
		exec:         spec.value,
		subs:         make(map[int]func(domain.ParameterState)),
	}
}

// ID returns the parameter id.
func (c *ParameterCell) ID() string { return c.def.ID }

// Namespace returns the owning namespace.
func (c *ParameterCell) Namespace() string { return c.namespace }

// Definition returns the parameter definition.
func (c *ParameterCell) Definition() domain.ParameterDefinition { return c.def }

// AcceptRejectMode reports whether edits wait for an explicit accept.
func (c *ParameterCell) AcceptRejectMode() bool { return c.acceptReject }

// IsValid runs the cell's validator.
func (c *ParameterCell) IsValid(value any) bool { return c.validate(value) }

// Stringify renders value with the cell's stringifier.
func (c *ParameterCell) Stringify(value any) string { return c.stringify(value) }

// State returns the current (UIValue, ExecValue, Dirty) triple.
func (c *ParameterCell) State() domain.ParameterState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.ParameterState{UIValue: c.ui, ExecValue: c.exec, Dirty: c.dirty}
}

// Subscribe registers fn for state changes. The returned func unsubscribes.
func (c *ParameterCell) Subscribe(fn func(domain.ParameterState)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// SetUiValue records a user edit. Invalid values are refused and leave the
// cell untouched. Valid edits (re)arm the debounce timer; when it fires the
// value is staged into the namespace's open batch, which is accepted right
// away unless the cell is in accept/reject mode.
func (c *ParameterCell) SetUiValue(value any) bool {
	if !c.validate(value) {
		c.dir.logger.Debug("invalid parameter value refused", "namespace", c.namespace, "parameter", c.def.ID)
		return false
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.ui = value
	c.stopTimerLocked()
	if c.delay > 0 {
		gen := c.gen
		c.timer = c.dir.clock.AfterFunc(c.delay, func() { c.fire(gen) })
	}
	state, subs := c.snapshotLocked()
	c.mu.Unlock()
	publish(state, subs)

	if c.delay <= 0 {
		c.flush(!c.acceptReject)
	}
	return true
}

// SetUiAndExecValue syncs the cell to a value the backend already holds. It
// never contacts the backend.
func (c *ParameterCell) SetUiAndExecValue(value any) bool {
	if !c.validate(value) {
		return false
	}
	c.mu.Lock()
	c.stopTimerLocked()
	c.ui = value
	c.exec = value
	open := c.takeOpenPendingLocked()
	state, subs := c.snapshotLocked()
	c.mu.Unlock()
	if open != nil {
		open.withdraw(c.def.ID)
	}
	publish(state, subs)
	return true
}

// Execute stages the current UI value immediately and waits for the batch
// to settle. In accept/reject mode the batch is only accepted here when
// forceImmediate is set; otherwise this waits for an external decision. It
// returns the value committed for this parameter, which a pre-execution hook
// may have amended.
func (c *ParameterCell) Execute(ctx context.Context, forceImmediate, skipHistory bool) (any, error) {
	c.mu.Lock()
	c.stopTimerLocked()
	c.mu.Unlock()

	b := c.flush(false)
	if b == nil {
		c.mu.Lock()
		b = c.pending
		c.mu.Unlock()
		if b == nil {
			return c.execValue(), nil
		}
	}
	if !c.acceptReject || forceImmediate {
		if err := b.Accept(ctx, skipHistory); err != nil {
			return c.execValue(), err
		}
	}
	values, err := b.Wait(ctx)
	if err != nil {
		return c.execValue(), err
	}
	if v, ok := values[c.def.ID]; ok {
		return v, nil
	}
	return c.execValue(), nil
}

// ResetToDefaultValue puts the definition's default into the UI value
// without staging it.
func (c *ParameterCell) ResetToDefaultValue() {
	c.reset(func() any { return c.def.DefaultValue })
}

// ResetToExecValue discards the pending edit, restoring the committed value.
func (c *ParameterCell) ResetToExecValue() {
	c.reset(func() any { return c.exec })
}

func (c *ParameterCell) reset(target func() any) {
	c.mu.Lock()
	c.stopTimerLocked()
	c.ui = target()
	open := c.takeOpenPendingLocked()
	state, subs := c.snapshotLocked()
	c.mu.Unlock()
	if open != nil {
		open.withdraw(c.def.ID)
	}
	publish(state, subs)
}

// stageNow puts value into the UI and stages it right away without
// accepting, dropping any pending debounce.
func (c *ParameterCell) stageNow(value any) *ChangeBatch {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.stopTimerLocked()
	c.ui = value
	c.mu.Unlock()
	return c.flush(false)
}

// flushTimer stages a debounced edit right away. It reports whether a timer
// was pending.
func (c *ParameterCell) flushTimer() bool {
	c.mu.Lock()
	if c.timer == nil {
		c.mu.Unlock()
		return false
	}
	c.stopTimerLocked()
	c.mu.Unlock()
	c.flush(false)
	return true
}

func (c *ParameterCell) fire(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.timer == nil || c.closed {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()
	c.flush(!c.acceptReject)
}

// flush stages the UI value. A value equal to the committed one withdraws
// the key instead, unless an earlier edit of this cell is still in flight.
func (c *ParameterCell) flush(accept bool) *ChangeBatch {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	value, committed := c.ui, c.exec
	force := c.pending != nil && !c.pending.Open() && !c.pending.Settled()
	c.mu.Unlock()

	b, err := c.dir.stage(c.namespace, c.def.ID, value, committed, force)
	if err != nil {
		c.dir.logger.Warn("staging parameter value failed", "namespace", c.namespace, "parameter", c.def.ID, "error", err)
		return nil
	}

	c.mu.Lock()
	switch {
	case b != nil && !b.Settled():
		c.pending = b
	case b == nil:
		c.takeOpenPendingLocked()
	}
	state, subs := c.snapshotLocked()
	c.mu.Unlock()
	publish(state, subs)

	if accept && b != nil {
		go func() { _ = b.Accept(context.Background(), false) }()
	}
	return b
}

// committed reconciles the cell after b settled successfully. has reports
// whether b carried a value for this cell.
func (c *ParameterCell) committed(b *ChangeBatch, value any, has bool) {
	c.mu.Lock()
	if has {
		c.exec = value
		if c.timer == nil && (c.pending == nil || c.pending == b) {
			c.ui = value
		}
	}
	if c.pending == b {
		c.pending = nil
	}
	state, subs := c.snapshotLocked()
	c.mu.Unlock()
	publish(state, subs)
}

// reverted restores the committed value after b failed or was rejected,
// unless the user has moved on to a newer edit.
func (c *ParameterCell) reverted(b *ChangeBatch) {
	c.mu.Lock()
	if c.pending != b {
		c.mu.Unlock()
		return
	}
	c.pending = nil
	if c.timer == nil {
		c.ui = c.exec
	}
	state, subs := c.snapshotLocked()
	c.mu.Unlock()
	publish(state, subs)
}

func (c *ParameterCell) dispose() {
	c.mu.Lock()
	c.stopTimerLocked()
	c.closed = true
	c.pending = nil
	c.mu.Unlock()
}

func (c *ParameterCell) execValue() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exec
}

func (c *ParameterCell) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
}

func (c *ParameterCell) takeOpenPendingLocked() *ChangeBatch {
	b := c.pending
	if b == nil || !b.Open() {
		return nil
	}
	c.pending = nil
	return b
}

func (c *ParameterCell) snapshotLocked() (domain.ParameterState, []func(domain.ParameterState)) {
	c.dirty = !domain.ValueEqual(c.ui, c.exec) || (c.acceptReject && c.pending != nil && !c.pending.Settled())
	state := domain.ParameterState{UIValue: c.ui, ExecValue: c.exec, Dirty: c.dirty}
	subs := make([]func(domain.ParameterState), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	return state, subs
}

func publish(state domain.ParameterState, subs []func(domain.ParameterState)) {
	for _, fn := range subs {
		fn(state)
	}
}

// ExportCell exposes one of a session's exports.
type ExportCell struct {
	dir       *Directory
	namespace string
	export    domain.Export
	token     string
}

// Definition returns the export definition.
func (e *ExportCell) Definition() domain.ExportDefinition { return e.export.Definition() }

// Namespace returns the owning namespace.
func (e *ExportCell) Namespace() string { return e.namespace }

// Request computes the export, forwarding the namespace's auth token.
func (e *ExportCell) Request(ctx context.Context, overrides domain.Values) (domain.Artifact, error) {
	artifact, err := e.export.Request(domain.WithAuthToken(ctx, e.token), overrides)
	if err != nil {
		return domain.Artifact{}, err
	}
	if artifact.ExportID == "" {
		artifact.ExportID = e.export.Definition().ID
	}
	return artifact, nil
}

// Fetch requests the export, caches the artifact and returns its content.
func (e *ExportCell) Fetch(ctx context.Context, overrides domain.Values) ([]byte, error) {
	artifact, err := e.Request(ctx, overrides)
	if err != nil {
		return nil, err
	}
	if err := e.dir.defaults.Cache().Put(ctx, e.namespace, artifact); err != nil {
		return nil, err
	}
	return artifact.Content, nil
}

// Cached returns the last artifact cached for this export.
func (e *ExportCell) Cached(ctx context.Context) (domain.Artifact, bool, error) {
	return e.dir.defaults.Cache().Get(ctx, e.namespace, e.export.Definition().ID)
}

// URL returns a download link for the cached artifact.
func (e *ExportCell) URL(ctx context.Context, expiry time.Duration) (string, error) {
	return e.dir.defaults.Cache().URL(ctx, e.namespace, e.export.Definition().ID, expiry)
}
