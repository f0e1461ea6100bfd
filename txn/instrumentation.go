package txn

import (
	"context"
	"time"
)

// Instrumentation lets the coordinator emit metrics and tracing spans
// without importing a concrete metrics or tracing library directly,
// mirroring the protocol-first style the rest of this module uses for
// every external dependency (serde.Serializer, broker.Session,
// matsdb.ConnectionSupplier). The observability package provides the
// Prometheus/OpenTelemetry-backed implementation; tests use the no-op one.
type Instrumentation interface {
	// RecordCommit is called once a scope has fully committed, with the
	// wall-clock duration of the whole scope.
	RecordCommit(duration time.Duration)
	// RecordRollback is called once a scope has rolled back, tagged with
	// a coarse reason ("refused", "user_failure", "serialization",
	// "database", "broker", "invariant_violation").
	RecordRollback(reason string)
	// StartSpan opens a tracing span for one coordinator scope and
	// returns a context carrying it plus a function that ends it.
	StartSpan(ctx context.Context, traceID string) (context.Context, func())
}

type noopInstrumentation struct{}

// NoopInstrumentation discards every metric and never opens a span.
func NoopInstrumentation() Instrumentation {
	return noopInstrumentation{}
}

func (noopInstrumentation) RecordCommit(time.Duration)         {}
func (noopInstrumentation) RecordRollback(string)               {}
func (noopInstrumentation) StartSpan(ctx context.Context, _ string) (context.Context, func()) {
	return ctx, func() {}
}

var _ Instrumentation = noopInstrumentation{}
