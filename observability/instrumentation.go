package observability

import (
	"context"
	"time"

	"github.com/mats-go/mats/txn"
)

// CoordinatorInstrumentation implements txn.Instrumentation on top of the
// Prometheus counters/histograms and OpenTelemetry spans defined in this
// package, wiring the coordinator into the same metrics/tracing stack
// every other component in this module uses.
type CoordinatorInstrumentation struct{}

// NewCoordinatorInstrumentation returns the Prometheus/OpenTelemetry-backed
// txn.Instrumentation.
func NewCoordinatorInstrumentation() *CoordinatorInstrumentation {
	return &CoordinatorInstrumentation{}
}

func (CoordinatorInstrumentation) RecordCommit(duration time.Duration) {
	RecordCoordinatorCommit(duration.Milliseconds())
}

func (CoordinatorInstrumentation) RecordRollback(reason string) {
	RecordCoordinatorRollback(reason)
}

func (CoordinatorInstrumentation) StartSpan(ctx context.Context, traceID string) (context.Context, func()) {
	return StartCoordinatorScopeSpan(ctx, traceID)
}

var _ txn.Instrumentation = CoordinatorInstrumentation{}
