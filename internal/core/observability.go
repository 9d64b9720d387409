package core

import (
	"context"
	"time"
)

// CommitOutcome classifies how a change batch settled.
type CommitOutcome string

const (
	OutcomeCommitted CommitOutcome = "committed"
	OutcomeFailed    CommitOutcome = "failed"
	OutcomeRejected  CommitOutcome = "rejected"
	OutcomeOrphaned  CommitOutcome = "orphaned"
)

// MetricsRecorder receives one observation per settled change batch.
type MetricsRecorder interface {
	ObserveCommit(ctx context.Context, namespace string, outcome CommitOutcome, keys int, duration time.Duration)
}

// Tracer starts spans around batch execution.
type Tracer interface {
	Start(ctx context.Context, operation, namespace string) (context.Context, TraceSpan)
}

// TraceSpan is ended exactly once with the operation's error, if any.
type TraceSpan interface {
	End(err error)
}

type noopMetrics struct{}

func (noopMetrics) ObserveCommit(context.Context, string, CommitOutcome, int, time.Duration) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}
