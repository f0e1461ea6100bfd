// Package observability provides Prometheus metrics and OpenTelemetry
// tracing instrumentation for the core.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// STAGE METRICS
// =============================================================================

var (
	stageMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mats_stage_messages_total",
			Help: "Total number of messages processed by a stage",
		},
		[]string{"stage", "status"}, // status: success, error
	)

	stageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mats_stage_duration_seconds",
			Help:    "Stage processing duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"stage"},
	)
)

// =============================================================================
// COORDINATOR METRICS
// =============================================================================

var (
	coordinatorCommitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mats_coordinator_commits_total",
			Help: "Total number of coordinator scopes that committed",
		},
		[]string{},
	)

	coordinatorRollbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mats_coordinator_rollbacks_total",
			Help: "Total number of coordinator scopes that rolled back, by reason",
		},
		[]string{"reason"},
	)

	coordinatorScopeDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mats_coordinator_scope_duration_seconds",
			Help:    "Coordinator scope duration in seconds, committed scopes only",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{},
	)
)

// =============================================================================
// BROKER METRICS
// =============================================================================

var (
	brokerReceiveDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mats_broker_receive_duration_seconds",
			Help:    "Broker receive call latency in seconds, including idle waiting",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"queue"},
	)
)

// =============================================================================
// GRPC (matsgrpc admin surface) METRICS
// =============================================================================

var (
	grpcRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mats_grpc_requests_total",
			Help: "Total admin gRPC requests",
		},
		[]string{"method", "status"},
	)

	grpcRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mats_grpc_request_duration_seconds",
			Help:    "Admin gRPC request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method"},
	)
)

// RecordStageMessage records one stage invocation outcome.
func RecordStageMessage(stage string, status string, durationMS int64) {
	stageMessagesTotal.WithLabelValues(stage, status).Inc()
	stageDurationSeconds.WithLabelValues(stage).Observe(float64(durationMS) / 1000.0)
}

// RecordCoordinatorCommit records a committed scope's duration.
func RecordCoordinatorCommit(durationMS int64) {
	coordinatorCommitsTotal.WithLabelValues().Inc()
	coordinatorScopeDurationSeconds.WithLabelValues().Observe(float64(durationMS) / 1000.0)
}

// RecordCoordinatorRollback records a rolled-back scope by reason.
func RecordCoordinatorRollback(reason string) {
	coordinatorRollbacksTotal.WithLabelValues(reason).Inc()
}

// RecordBrokerReceive records one Session.Receive call's latency.
func RecordBrokerReceive(queue string, durationMS int64) {
	brokerReceiveDurationSeconds.WithLabelValues(queue).Observe(float64(durationMS) / 1000.0)
}

// RecordGRPCRequest records an admin gRPC request, called from the
// matsgrpc metrics interceptor.
func RecordGRPCRequest(method string, status string, durationMS int64) {
	grpcRequestsTotal.WithLabelValues(method, status).Inc()
	grpcRequestDurationSeconds.WithLabelValues(method).Observe(float64(durationMS) / 1000.0)
}
