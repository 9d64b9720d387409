package core

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agnivade/levenshtein"
	"golang.org/x/sync/errgroup"

	"paramflow/internal/blob"
	"paramflow/pkg/domain"
)

// DefaultDebounce is the per-cell debounce delay in immediate mode.
const DefaultDebounce = time.Second

// AcceptRejectSelector decides, per parameter, whether edits wait for an
// explicit accept. A nil selector means immediate mode everywhere.
type AcceptRejectSelector func(def domain.ParameterDefinition) bool

// GenericParameter declares a parameter of a caller-owned namespace. Nil
// Validate/Stringify fall back to the definition's type rules.
type GenericParameter struct {
	Definition domain.ParameterDefinition
	Validate   func(any) bool
	Stringify  func(any) string
}

// SyncResult lists the parameter ids affected by SyncGeneric.
type SyncResult struct {
	Kept     []string
	Replaced []string
	Added    []string
	Removed  []string
}

// Notifier is the side channel for commit failures.
type Notifier interface {
	CommitFailed(namespace string, keys []string, err error)
}

// EventKind enumerates directory change notifications.
type EventKind string

const (
	EventNamespaceAttached EventKind = "namespace_attached"
	EventNamespaceSynced   EventKind = "namespace_synced"
	EventNamespaceDetached EventKind = "namespace_detached"
	EventBatchOpened       EventKind = "batch_opened"
	EventBatchSettled      EventKind = "batch_settled"
	EventHistoryPushed     EventKind = "history_pushed"
)

// Event is delivered to directory subscribers.
type Event struct {
	Kind      EventKind
	Namespace string
	BatchID   string
	Err       error
	Entry     *domain.HistoryEntry
}

type namespaceKind int

const (
	kindSession namespaceKind = iota
	kindGeneric
)

type namespace struct {
	name      string
	kind      namespaceKind
	session   domain.Session
	executor  Executor
	priority  int
	dependsOn []string

	params      map[string]*ParameterCell
	order       []string
	exports     map[string]*ExportCell
	exportOrder []string
}

func (n *namespace) cells() []*ParameterCell {
	out := make([]*ParameterCell, 0, len(n.order))
	for _, id := range n.order {
		out = append(out, n.params[id])
	}
	return out
}

// Directory owns every attached namespace, its cells and its change
// batches, and records successful commits in a Journal.
type Directory struct {
	logger        Logger
	clock         Clock
	debounce      time.Duration
	metrics       MetricsRecorder
	tracer        Tracer
	notifier      Notifier
	navigator     Navigator
	hooks         *HookRegistry
	defaults      *DefaultExportRegistry
	artifactStore blob.Store
	journal       *Journal

	mu         sync.Mutex
	namespaces map[string]*namespace
	open       map[string]*ChangeBatch
	inflight   map[string]*ChangeBatch
	executing  map[string]*ChangeBatch
	owners     map[*ChangeBatch]*namespace
	slots      map[string]chan struct{}
	subs       map[int]func(Event)
	nextSub    int
}

// Option configures a Directory.
type Option func(*Directory)

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(d *Directory) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clock Clock) Option {
	return func(d *Directory) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// WithDebounce sets the immediate-mode debounce delay. Zero stages edits
// synchronously.
func WithDebounce(delay time.Duration) Option {
	return func(d *Directory) {
		if delay >= 0 {
			d.debounce = delay
		}
	}
}

// WithMetrics sets the commit metrics recorder.
func WithMetrics(recorder MetricsRecorder) Option {
	return func(d *Directory) {
		if recorder != nil {
			d.metrics = recorder
		}
	}
}

// WithTracer sets the tracer used around batch execution.
func WithTracer(tracer Tracer) Option {
	return func(d *Directory) {
		if tracer != nil {
			d.tracer = tracer
		}
	}
}

// WithNotifier sets the commit failure side channel.
func WithNotifier(notifier Notifier) Option {
	return func(d *Directory) { d.notifier = notifier }
}

// WithNavigator sets the host navigation collaborator.
func WithNavigator(navigator Navigator) Option {
	return func(d *Directory) { d.navigator = navigator }
}

// WithHooks shares a hook registry.
func WithHooks(hooks *HookRegistry) Option {
	return func(d *Directory) { d.hooks = hooks }
}

// WithDefaultExports shares a default export registry.
func WithDefaultExports(defaults *DefaultExportRegistry) Option {
	return func(d *Directory) { d.defaults = defaults }
}

// WithArtifactStore caches export responses in store. Ignored when
// WithDefaultExports is also given.
func WithArtifactStore(store blob.Store) Option {
	return func(d *Directory) { d.artifactStore = store }
}

// NewDirectory constructs an empty directory.
func NewDirectory(opts ...Option) *Directory {
	d := &Directory{
		logger:     noopLogger{},
		clock:      systemClock{},
		debounce:   DefaultDebounce,
		metrics:    noopMetrics{},
		tracer:     noopTracer{},
		namespaces: make(map[string]*namespace),
		open:       make(map[string]*ChangeBatch),
		inflight:   make(map[string]*ChangeBatch),
		executing:  make(map[string]*ChangeBatch),
		owners:     make(map[*ChangeBatch]*namespace),
		slots:      make(map[string]chan struct{}),
		subs:       make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.hooks == nil {
		d.hooks = NewHookRegistry(d.logger)
	}
	if d.defaults == nil {
		d.defaults = NewDefaultExportRegistry(NewArtifactCache(d.artifactStore), d.logger)
	}
	d.journal = NewJournal(d.clock, d.navigator, d)
	return d
}

// Hooks returns the pre-execution hook registry.
func (d *Directory) Hooks() *HookRegistry { return d.hooks }

// DefaultExports returns the default export registry.
func (d *Directory) DefaultExports() *DefaultExportRegistry { return d.defaults }

// Journal returns the history journal.
func (d *Directory) Journal() *Journal { return d.journal }

// AttachSession builds cells for every parameter and export of session
// under the session's id. Attaching an id twice logs a warning and keeps
// the existing cells.
func (d *Directory) AttachSession(session domain.Session, selector AcceptRejectSelector, authToken string) error {
	if session == nil {
		return errors.New("attach session: nil session")
	}
	name := session.ID()
	d.mu.Lock()
	if _, exists := d.namespaces[name]; exists {
		d.mu.Unlock()
		d.logger.Warn("namespace already attached, ignoring", "namespace", name)
		return nil
	}
	n := &namespace{
		name:     name,
		kind:     kindSession,
		session:  session,
		executor: NewSessionExecutor(name, session, d.defaults),
		priority: PrioritySession,
		params:   make(map[string]*ParameterCell),
		exports:  make(map[string]*ExportCell),
	}
	for _, p := range session.Parameters() {
		def := p.Definition()
		if _, dup := n.params[def.ID]; dup {
			d.mu.Unlock()
			return fmt.Errorf("attach session %s: duplicate parameter id %s", name, def.ID)
		}
		n.params[def.ID] = newParameterCell(d, name, cellSpec{
			def:       def,
			validate:  p.Validate,
			stringify: p.Stringify,
			value:     p.Value(),
		}, selector != nil && selector(def))
		n.order = append(n.order, def.ID)
	}
	for _, e := range session.Exports() {
		id := e.Definition().ID
		if _, dup := n.exports[id]; dup {
			d.mu.Unlock()
			return fmt.Errorf("attach session %s: duplicate export id %s", name, id)
		}
		n.exports[id] = &ExportCell{dir: d, namespace: name, export: e, token: authToken}
		n.exportOrder = append(n.exportOrder, id)
	}
	d.namespaces[name] = n
	d.ensureSlotLocked(name)
	d.mu.Unlock()

	d.logger.Info("session attached", "namespace", name, "parameters", len(n.order), "exports", len(n.exportOrder))
	d.emit(Event{Kind: EventNamespaceAttached, Namespace: name})
	return nil
}

// AttachGeneric builds cells for a caller-declared parameter set committed
// through executor. An existing namespace is reconciled with SyncGeneric
// against its committed values, so redeclaring it keeps unchanged cells.
func (d *Directory) AttachGeneric(name string, selector AcceptRejectSelector, params []GenericParameter, executor Executor, dependsOn []string) error {
	current := d.committedValues(name)
	_, err := d.SyncGeneric(name, selector, params, executor, dependsOn, current)
	return err
}

// SyncGeneric reconciles a generic namespace with a fresh declaration. A
// cell survives when its definition is structurally equal and its committed
// value matches the hint (current[id], or the definition default). Other
// cells are replaced, absent ones dropped, new ones added.
func (d *Directory) SyncGeneric(name string, selector AcceptRejectSelector, params []GenericParameter, executor Executor, dependsOn []string, current domain.Values) (SyncResult, error) {
	if name == "" {
		return SyncResult{}, errors.New("sync generic: empty namespace")
	}
	if executor == nil {
		return SyncResult{}, fmt.Errorf("sync generic %s: nil executor", name)
	}
	d.mu.Lock()
	n, exists := d.namespaces[name]
	if exists && n.kind != kindGeneric {
		d.mu.Unlock()
		return SyncResult{}, fmt.Errorf("sync generic %s: namespace is bound to a session", name)
	}
	if !exists {
		n = &namespace{
			name:     name,
			kind:     kindGeneric,
			priority: PriorityGeneric,
			params:   make(map[string]*ParameterCell),
			exports:  make(map[string]*ExportCell),
		}
	}

	var result SyncResult
	var dropped []*ParameterCell
	next := make(map[string]*ParameterCell, len(params))
	order := make([]string, 0, len(params))
	for _, p := range params {
		def := p.Definition
		if _, dup := next[def.ID]; dup {
			d.mu.Unlock()
			return SyncResult{}, fmt.Errorf("sync generic %s: duplicate parameter id %s", name, def.ID)
		}
		hint, ok := current[def.ID]
		if !ok {
			hint = def.DefaultValue
		}
		acceptReject := selector != nil && selector(def)
		old, had := n.params[def.ID]
		if had && old.def.Equal(def) && old.acceptReject == acceptReject && domain.ValueEqual(old.execValue(), hint) {
			next[def.ID] = old
			result.Kept = append(result.Kept, def.ID)
		} else {
			next[def.ID] = newParameterCell(d, name, cellSpec{def: def, validate: p.Validate, stringify: p.Stringify, value: hint}, acceptReject)
			if had {
				dropped = append(dropped, old)
				result.Replaced = append(result.Replaced, def.ID)
			} else {
				result.Added = append(result.Added, def.ID)
			}
		}
		order = append(order, def.ID)
	}
	for _, id := range n.order {
		if _, ok := next[id]; !ok {
			dropped = append(dropped, n.params[id])
			result.Removed = append(result.Removed, id)
		}
	}
	n.params = next
	n.order = order
	n.executor = executor
	n.dependsOn = slices.Clone(dependsOn)
	d.namespaces[name] = n
	d.ensureSlotLocked(name)
	open := d.open[name]
	d.mu.Unlock()

	for _, cell := range dropped {
		cell.dispose()
		if open != nil {
			open.withdraw(cell.ID())
		}
	}
	if exists {
		d.logger.Debug("generic namespace synced", "namespace", name,
			"kept", len(result.Kept), "replaced", len(result.Replaced), "added", len(result.Added), "removed", len(result.Removed))
		d.emit(Event{Kind: EventNamespaceSynced, Namespace: name})
	} else {
		d.logger.Info("generic namespace attached", "namespace", name, "parameters", len(order))
		d.emit(Event{Kind: EventNamespaceAttached, Namespace: name})
	}
	return result, nil
}

// Detach removes a namespace. Its open batch is rejected with
// ErrNamespaceDetached; an executing batch runs to completion and its
// settlement is ignored.
func (d *Directory) Detach(name string) bool {
	d.mu.Lock()
	n, ok := d.namespaces[name]
	if !ok {
		d.mu.Unlock()
		return false
	}
	delete(d.namespaces, name)
	open := d.open[name]
	delete(d.open, name)
	d.mu.Unlock()

	if open != nil {
		open.rejectDetached()
	}
	for _, cell := range n.cells() {
		cell.dispose()
	}
	d.logger.Info("namespace detached", "namespace", name)
	d.emit(Event{Kind: EventNamespaceDetached, Namespace: name})
	return true
}

// Namespaces returns the attached namespaces in sorted order.
func (d *Directory) Namespaces() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.namespaces))
	for name := range d.namespaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Parameters returns the namespace's cells in declaration order.
func (d *Directory) Parameters(name string) []*ParameterCell {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.namespaces[name]
	if !ok {
		return nil
	}
	return n.cells()
}

// Parameter resolves query against ids, then names, then display names,
// optionally restricted to the given types.
func (d *Directory) Parameter(name, query string, types ...domain.ParameterType) (*ParameterCell, bool) {
	cells := d.Parameters(name)
	match := func(key func(domain.ParameterDefinition) string) *ParameterCell {
		for _, cell := range cells {
			def := cell.Definition()
			if len(types) > 0 && !slices.Contains(types, def.Type) {
				continue
			}
			if key(def) == query {
				return cell
			}
		}
		return nil
	}
	for _, key := range []func(domain.ParameterDefinition) string{
		func(def domain.ParameterDefinition) string { return def.ID },
		func(def domain.ParameterDefinition) string { return def.Name },
		func(def domain.ParameterDefinition) string { return def.DisplayName },
	} {
		if cell := match(key); cell != nil {
			return cell, true
		}
	}
	return nil, false
}

// FindParameter is Parameter with an error naming close matches.
func (d *Directory) FindParameter(name, query string, types ...domain.ParameterType) (*ParameterCell, error) {
	if !d.attached(name) {
		return nil, fmt.Errorf("find parameter %q: %w: %s", query, domain.ErrNamespaceNotFound, name)
	}
	if cell, ok := d.Parameter(name, query, types...); ok {
		return cell, nil
	}
	return nil, domain.ParameterNotFoundError{Namespace: name, Query: query, Suggestions: suggest(query, d.Parameters(name))}
}

const maxSuggestions = 3

func suggest(query string, cells []*ParameterCell) []string {
	type candidate struct {
		id       string
		distance int
	}
	limit := max(2, len(query)/3)
	var found []candidate
	for _, cell := range cells {
		def := cell.Definition()
		best := -1
		for _, label := range []string{def.ID, def.Name, def.DisplayName} {
			if label == "" {
				continue
			}
			dist := levenshtein.ComputeDistance(strings.ToLower(query), strings.ToLower(label))
			if best < 0 || dist < best {
				best = dist
			}
		}
		if best >= 0 && best <= limit {
			found = append(found, candidate{id: def.ID, distance: best})
		}
	}
	sort.SliceStable(found, func(i, j int) bool {
		if found[i].distance != found[j].distance {
			return found[i].distance < found[j].distance
		}
		return found[i].id < found[j].id
	})
	out := make([]string, 0, maxSuggestions)
	for i := 0; i < len(found) && i < maxSuggestions; i++ {
		out = append(out, found[i].id)
	}
	return out
}

// Exports returns the namespace's export cells in declaration order.
func (d *Directory) Exports(name string) []*ExportCell {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.namespaces[name]
	if !ok {
		return nil
	}
	out := make([]*ExportCell, 0, len(n.exportOrder))
	for _, id := range n.exportOrder {
		out = append(out, n.exports[id])
	}
	return out
}

// Export resolves query against export ids, then names, then display names.
func (d *Directory) Export(name, query string) (*ExportCell, bool) {
	exports := d.Exports(name)
	for _, key := range []func(domain.ExportDefinition) string{
		func(def domain.ExportDefinition) string { return def.ID },
		func(def domain.ExportDefinition) string { return def.Name },
		func(def domain.ExportDefinition) string { return def.DisplayName },
	} {
		for _, e := range exports {
			if key(e.Definition()) == query {
				return e, true
			}
		}
	}
	return nil, false
}

// IsBusy reports whether the namespace, or any namespace it directly
// depends on, has a batch executing. Dependencies are not followed
// transitively.
func (d *Directory) IsBusy(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.executing[name] != nil {
		return true
	}
	n, ok := d.namespaces[name]
	if !ok {
		return false
	}
	for _, dep := range n.dependsOn {
		if d.executing[dep] != nil {
			return true
		}
	}
	return false
}

// PendingBatch returns the namespace's open batch, if any.
func (d *Directory) PendingBatch(name string) (*ChangeBatch, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.open[name]
	return b, ok
}

// Accept commits the namespace's open batch. Without one it does nothing.
func (d *Directory) Accept(ctx context.Context, name string, skipHistory bool) error {
	b, ok := d.PendingBatch(name)
	if !ok {
		return nil
	}
	return b.Accept(ctx, skipHistory)
}

// Reject discards the namespace's open batch.
func (d *Directory) Reject(name string) {
	if b, ok := d.PendingBatch(name); ok {
		b.Reject()
	}
}

// Commit stages every debounced edit of the namespace right away, accepts
// the open batch and waits for it. Without an open batch it waits for the
// latest accepted one still in flight. It returns the committed values, or
// nil when nothing was pending.
func (d *Directory) Commit(ctx context.Context, name string, skipHistory bool) (domain.Values, error) {
	if !d.attached(name) {
		return nil, fmt.Errorf("commit: %w: %s", domain.ErrNamespaceNotFound, name)
	}
	for _, cell := range d.Parameters(name) {
		cell.flushTimer()
	}
	b, ok := d.PendingBatch(name)
	if !ok {
		d.mu.Lock()
		b = d.inflight[name]
		d.mu.Unlock()
		if b == nil {
			return nil, nil
		}
		return b.Wait(ctx)
	}
	if err := b.Accept(ctx, skipHistory); err != nil {
		return nil, err
	}
	return b.Wait(ctx)
}

// Snapshot captures the committed values of every attached namespace.
func (d *Directory) Snapshot() domain.Snapshot {
	d.mu.Lock()
	cells := make(map[string][]*ParameterCell, len(d.namespaces))
	for name, n := range d.namespaces {
		cells[name] = n.cells()
	}
	d.mu.Unlock()

	snap := make(domain.Snapshot, len(cells))
	for name, list := range cells {
		values := make(domain.Values, len(list))
		for _, cell := range list {
			values[cell.ID()] = cell.execValue()
		}
		snap[name] = values
	}
	return snap
}

// Replay commits snapshot's values through skip-history batches, one per
// attached namespace, concurrently. Pending edits of those namespaces are
// discarded first. Unknown namespaces and parameters are skipped.
func (d *Directory) Replay(ctx context.Context, snapshot domain.Snapshot) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, name := range snapshot.Namespaces() {
		if !d.attached(name) {
			d.logger.Debug("replay skipping unknown namespace", "namespace", name)
			continue
		}
		values := snapshot[name]
		g.Go(func() error {
			return d.replayNamespace(ctx, name, values)
		})
	}
	return g.Wait()
}

func (d *Directory) replayNamespace(ctx context.Context, name string, values domain.Values) error {
	d.Reject(name)
	var batch *ChangeBatch
	for _, id := range values.Keys() {
		cell, ok := d.Parameter(name, id)
		if !ok {
			d.logger.Debug("replay skipping unknown parameter", "namespace", name, "parameter", id)
			continue
		}
		if !cell.IsValid(values[id]) {
			d.logger.Warn("replay skipping invalid value", "namespace", name, "parameter", id)
			continue
		}
		if b := cell.stageNow(values[id]); b != nil {
			batch = b
		}
	}
	if batch == nil {
		return nil
	}
	if err := batch.Accept(ctx, true); err != nil {
		return err
	}
	_, err := batch.Wait(ctx)
	return err
}

// SeedHistory resets the journal to a single base entry holding the current
// committed values. The host is not notified.
func (d *Directory) SeedHistory() domain.HistoryEntry {
	return d.journal.Seed(d.Snapshot())
}

// HandleNavigation restores the journal entry a host navigation carried
// back, reporting which matching tier applied.
func (d *Directory) HandleNavigation(ctx context.Context, entry domain.HistoryEntry) (MatchKind, error) {
	return d.journal.RestoreEntry(ctx, entry)
}

// Teardown detaches every namespace and clears the journal.
func (d *Directory) Teardown() {
	for _, name := range d.Namespaces() {
		d.Detach(name)
	}
	d.journal.Clear()
}

// Subscribe registers fn for directory events. The returned func
// unsubscribes.
func (d *Directory) Subscribe(fn func(Event)) func() {
	d.mu.Lock()
	id := d.nextSub
	d.nextSub++
	d.subs[id] = fn
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(d.subs, id)
		d.mu.Unlock()
	}
}

func (d *Directory) emit(ev Event) {
	d.mu.Lock()
	subs := make([]func(Event), 0, len(d.subs))
	for _, fn := range d.subs {
		subs = append(subs, fn)
	}
	d.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func (d *Directory) attached(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.namespaces[name]
	return ok
}

func (d *Directory) committedValues(name string) domain.Values {
	d.mu.Lock()
	n, ok := d.namespaces[name]
	var cells []*ParameterCell
	if ok {
		cells = n.cells()
	}
	d.mu.Unlock()
	if !ok {
		return nil
	}
	values := make(domain.Values, len(cells))
	for _, cell := range cells {
		values[cell.ID()] = cell.execValue()
	}
	return values
}

func (d *Directory) ensureSlotLocked(name string) {
	if _, ok := d.slots[name]; !ok {
		d.slots[name] = make(chan struct{}, 1)
	}
}

// stage puts id=value into the namespace's open batch, opening one when
// needed. A value equal to the committed one is withdrawn instead unless
// force is set; stage then returns a nil batch.
func (d *Directory) stage(name, id string, value, committed any, force bool) (*ChangeBatch, error) {
	d.mu.Lock()
	n, ok := d.namespaces[name]
	if !ok {
		d.mu.Unlock()
		return nil, fmt.Errorf("stage %s: %w: %s", id, domain.ErrNamespaceNotFound, name)
	}
	b := d.open[name]
	if !force && domain.ValueEqual(value, committed) {
		d.mu.Unlock()
		if b != nil {
			b.withdraw(id)
		}
		return nil, nil
	}
	opened := false
	if b == nil || !b.put(id, value) {
		b = newChangeBatch(name, n.priority, n.executor, d.hooks, d.slots[name], d, d.metrics, d.tracer)
		b.put(id, value)
		d.open[name] = b
		d.owners[b] = n
		opened = true
	}
	d.mu.Unlock()
	if opened {
		d.emit(Event{Kind: EventBatchOpened, Namespace: name, BatchID: b.ID()})
	}
	return b, nil
}

func (d *Directory) batchClosed(b *ChangeBatch) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open[b.namespace] == b {
		delete(d.open, b.namespace)
	}
	if d.owners[b] != nil && d.owners[b] == d.namespaces[b.namespace] {
		d.inflight[b.namespace] = b
	}
}

func (d *Directory) batchExecuting(b *ChangeBatch) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.owners[b] == d.namespaces[b.namespace] {
		d.executing[b.namespace] = b
	}
}

func (d *Directory) batchSettled(_ context.Context, b *ChangeBatch, values domain.Values, err error, skipHistory bool) bool {
	d.mu.Lock()
	if d.executing[b.namespace] == b {
		delete(d.executing, b.namespace)
	}
	if d.open[b.namespace] == b {
		delete(d.open, b.namespace)
	}
	if d.inflight[b.namespace] == b {
		delete(d.inflight, b.namespace)
	}
	owner := d.owners[b]
	delete(d.owners, b)
	n, ok := d.namespaces[b.namespace]
	attached := ok && n == owner
	var cells []*ParameterCell
	if attached {
		cells = n.cells()
	}
	d.mu.Unlock()

	if !attached {
		d.logger.Debug("ignoring settlement for detached namespace", "namespace", b.namespace, "batch", b.ID())
		d.emit(Event{Kind: EventBatchSettled, Namespace: b.namespace, BatchID: b.ID(), Err: err})
		return false
	}

	if err != nil {
		for _, cell := range cells {
			cell.reverted(b)
		}
		if !errors.Is(err, domain.ErrBatchRejected) {
			d.logger.Warn("commit failed", "namespace", b.namespace, "batch", b.ID(), "error", err)
			if d.notifier != nil {
				d.notifier.CommitFailed(b.namespace, b.Values().Keys(), err)
			}
		}
		d.emit(Event{Kind: EventBatchSettled, Namespace: b.namespace, BatchID: b.ID(), Err: err})
		return true
	}

	for _, cell := range cells {
		v, has := values[cell.ID()]
		cell.committed(b, v, has)
	}
	d.emit(Event{Kind: EventBatchSettled, Namespace: b.namespace, BatchID: b.ID()})
	if !skipHistory {
		entry := d.journal.Record(d.Snapshot())
		d.emit(Event{Kind: EventHistoryPushed, Namespace: b.namespace, BatchID: b.ID(), Entry: &entry})
	}
	return true
}
