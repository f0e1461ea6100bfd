package matsgrpc

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mats-go/mats/logging"
	"github.com/mats-go/mats/observability"
)

// LoggingInterceptor logs the start, duration, and result of each RPC.
func LoggingInterceptor(logger logging.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		logger.Debug("grpc_request_started", "method", info.FullMethod)

		resp, err := handler(ctx, req)

		duration := time.Since(start)
		if err != nil {
			st, _ := status.FromError(err)
			logger.Error("grpc_request_failed",
				"method", info.FullMethod,
				"duration_ms", duration.Milliseconds(),
				"code", st.Code().String(),
				"error", err.Error(),
			)
		} else {
			logger.Debug("grpc_request_completed",
				"method", info.FullMethod,
				"duration_ms", duration.Milliseconds(),
			)
		}
		return resp, err
	}
}

// MetricsInterceptor records every admin RPC's outcome and latency via
// the shared Prometheus instrumentation (mats_grpc_requests_total,
// mats_grpc_request_duration_seconds).
func MetricsInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		duration := time.Since(start)

		code := codes.OK
		if err != nil {
			code = status.Code(err)
		}
		observability.RecordGRPCRequest(info.FullMethod, code.String(), duration.Milliseconds())
		return resp, err
	}
}

// RecoveryHandler is called when a panic is recovered from an RPC.
type RecoveryHandler func(p any) error

// DefaultRecoveryHandler returns an Internal error describing the panic.
func DefaultRecoveryHandler(p any) error {
	return status.Errorf(codes.Internal, "panic recovered: %v", p)
}

// RecoveryInterceptor recovers a panicking handler into an Internal
// error instead of crashing the server process.
func RecoveryInterceptor(logger logging.Logger, handler RecoveryHandler) grpc.UnaryServerInterceptor {
	if handler == nil {
		handler = DefaultRecoveryHandler
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, grpcHandler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if p := recover(); p != nil {
				logger.Error("grpc_panic_recovered",
					"method", info.FullMethod,
					"panic", fmt.Sprintf("%v", p),
					"stack", string(debug.Stack()),
				)
				err = handler(p)
			}
		}()
		return grpcHandler(ctx, req)
	}
}

// ChainUnaryInterceptors composes interceptors so the first one wraps
// every later one, i.e. it runs outermost.
func ChainUnaryInterceptors(interceptors ...grpc.UnaryServerInterceptor) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		chain := handler
		for i := len(interceptors) - 1; i >= 0; i-- {
			interceptor := interceptors[i]
			currentHandler := chain
			chain = func(ctx context.Context, req any) (any, error) {
				return interceptor(ctx, req, info, currentHandler)
			}
		}
		return chain(ctx, req)
	}
}

// ServerOptions builds the standard interceptor chain (recovery, metrics,
// logging) plus OpenTelemetry gRPC instrumentation for a production admin
// server.
func ServerOptions(logger logging.Logger) []grpc.ServerOption {
	unary := ChainUnaryInterceptors(
		RecoveryInterceptor(logger, nil),
		MetricsInterceptor(),
		LoggingInterceptor(logger),
	)
	return []grpc.ServerOption{
		grpc.UnaryInterceptor(unary),
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	}
}
