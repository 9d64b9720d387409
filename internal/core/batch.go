package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"paramflow/pkg/domain"
)

type batchState int

const (
	batchOpen batchState = iota
	batchAccepting
	batchExecuting
	batchSettled
)

// Priorities are advisory ordering hints between namespaces.
const (
	PrioritySession = 0
	PriorityGeneric = -1
)

// batchObserver is notified as a batch moves through its lifecycle. The
// Directory is the only implementation.
type batchObserver interface {
	batchClosed(b *ChangeBatch)
	batchExecuting(b *ChangeBatch)
	// batchSettled reports whether the namespace was still attached.
	batchSettled(ctx context.Context, b *ChangeBatch, values domain.Values, err error, skipHistory bool) bool
}

// ChangeBatch collects a namespace's pending edits and resolves exactly once,
// either committed through Accept or discarded through Reject.
type ChangeBatch struct {
	id        string
	namespace string
	priority  int
	executor  Executor
	hooks     *HookRegistry
	slot      chan struct{}
	observer  batchObserver
	metrics   MetricsRecorder
	tracer    Tracer

	mu     sync.Mutex
	state  batchState
	values domain.Values
	result domain.Values
	err    error
	done   chan struct{}
}

func newChangeBatch(namespace string, priority int, executor Executor, hooks *HookRegistry, slot chan struct{}, observer batchObserver, metrics MetricsRecorder, tracer Tracer) *ChangeBatch {
	return &ChangeBatch{
		id:        uuid.NewString(),
		namespace: namespace,
		priority:  priority,
		executor:  executor,
		hooks:     hooks,
		slot:      slot,
		observer:  observer,
		metrics:   metrics,
		tracer:    tracer,
		values:    make(domain.Values),
		done:      make(chan struct{}),
	}
}

// ID returns the batch's unique id.
func (b *ChangeBatch) ID() string { return b.id }

// Namespace returns the owning namespace.
func (b *ChangeBatch) Namespace() string { return b.namespace }

// Priority returns the advisory priority.
func (b *ChangeBatch) Priority() int { return b.priority }

// Values returns a copy of the staged values.
func (b *ChangeBatch) Values() domain.Values {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.values.Clone()
}

// Executing reports whether the executor is currently running this batch.
func (b *ChangeBatch) Executing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == batchExecuting
}

// Open reports whether the batch still accepts edits.
func (b *ChangeBatch) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == batchOpen
}

// Settled reports whether the batch has resolved.
func (b *ChangeBatch) Settled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == batchSettled
}

// put stages value under id; false means the batch is no longer open.
func (b *ChangeBatch) put(id string, value any) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != batchOpen {
		return false
	}
	b.values[id] = value
	return true
}

// withdraw removes id; a batch emptied this way rejects itself. It reports
// whether the batch was still open.
func (b *ChangeBatch) withdraw(id string) bool {
	b.mu.Lock()
	if b.state != batchOpen {
		b.mu.Unlock()
		return false
	}
	delete(b.values, id)
	empty := len(b.values) == 0
	b.mu.Unlock()
	if empty {
		b.Reject()
	}
	return true
}

// Accept commits the batch: it waits for the namespace's commit slot, runs
// the pre-execution hook and the executor, then settles. ctx bounds the wait
// for the slot and is handed to the hook and executor. Accepting a batch
// that is no longer open is a no-op returning nil.
func (b *ChangeBatch) Accept(ctx context.Context, skipHistory bool) error {
	b.mu.Lock()
	if b.state != batchOpen {
		b.mu.Unlock()
		return nil
	}
	b.state = batchAccepting
	values := b.values.Clone()
	b.mu.Unlock()
	b.observer.batchClosed(b)

	if len(values) == 0 {
		b.settle(ctx, nil, domain.ErrBatchRejected, true, 0)
		return domain.ErrBatchRejected
	}

	select {
	case b.slot <- struct{}{}:
	case <-ctx.Done():
		err := &domain.CommitError{Namespace: b.namespace, Err: ctx.Err()}
		b.settle(ctx, nil, err, skipHistory, 0)
		return err
	}
	defer func() { <-b.slot }()

	started := time.Now()
	spanCtx, span := b.tracer.Start(ctx, "batch.accept", b.namespace)
	amended, err := b.hooks.Run(spanCtx, b.namespace, values)
	if err != nil {
		err = &domain.CommitError{Namespace: b.namespace, Err: err}
	} else {
		b.mu.Lock()
		b.state = batchExecuting
		b.mu.Unlock()
		b.observer.batchExecuting(b)
		if execErr := b.executor.Execute(spanCtx, amended); execErr != nil {
			var ce *domain.CommitError
			if !errors.As(execErr, &ce) {
				execErr = &domain.CommitError{Namespace: b.namespace, Err: execErr}
			}
			err = execErr
		}
	}
	span.End(err)
	b.settle(ctx, amended, err, skipHistory, time.Since(started))
	return err
}

// Reject discards the batch without contacting the backend. Only an open
// batch can be rejected; later calls are no-ops.
func (b *ChangeBatch) Reject() {
	b.mu.Lock()
	if b.state != batchOpen {
		b.mu.Unlock()
		return
	}
	b.state = batchAccepting
	b.mu.Unlock()
	b.observer.batchClosed(b)
	b.settle(context.Background(), nil, domain.ErrBatchRejected, true, 0)
}

// settle records the outcome, lets the observer reconcile cells and history,
// then releases waiters.
func (b *ChangeBatch) settle(ctx context.Context, values domain.Values, err error, skipHistory bool, took time.Duration) {
	b.mu.Lock()
	b.state = batchSettled
	if err == nil {
		b.result = values.Clone()
	}
	b.err = err
	keys := len(b.values)
	b.mu.Unlock()

	attached := b.observer.batchSettled(ctx, b, values, err, skipHistory)

	outcome := OutcomeCommitted
	switch {
	case errors.Is(err, domain.ErrBatchRejected), errors.Is(err, domain.ErrNamespaceDetached):
		outcome = OutcomeRejected
	case !attached:
		outcome = OutcomeOrphaned
	case err != nil:
		outcome = OutcomeFailed
	}
	b.metrics.ObserveCommit(ctx, b.namespace, outcome, keys, took)
	close(b.done)
}

// Done is closed once the batch has settled and its effects are visible.
func (b *ChangeBatch) Done() <-chan struct{} { return b.done }

// Wait blocks until the batch settles and returns the committed (amended)
// values or the settlement error.
func (b *ChangeBatch) Wait(ctx context.Context) (domain.Values, error) {
	select {
	case <-b.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	return b.result.Clone(), nil
}

// rejectDetached settles an open batch whose namespace went away.
func (b *ChangeBatch) rejectDetached() {
	b.mu.Lock()
	if b.state != batchOpen {
		b.mu.Unlock()
		return
	}
	b.state = batchAccepting
	b.mu.Unlock()
	b.settle(context.Background(), nil, domain.ErrNamespaceDetached, true, 0)
}
