// Mats Demo
//
// Standalone process wiring a small order-processing flow end to end: an
// Initiator sends an order, a two-stage endpoint reserves it and requests
// pricing from a pricing endpoint, and a terminator logs the final reply.
// The admin gRPC surface and a Prometheus /metrics endpoint run alongside
// it so the flow can be inspected while it runs.
//
// Usage:
//
//	go run ./cmd/matsdemo                 # in-memory broker, default ports
//	go run ./cmd/matsdemo -admin-addr :9090 -metrics-addr :9091
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"

	"github.com/mats-go/mats/broker/inmem"
	"github.com/mats-go/mats/config"
	"github.com/mats-go/mats/factory"
	"github.com/mats-go/mats/initiate"
	"github.com/mats-go/mats/logging"
	"github.com/mats-go/mats/matsgrpc"
	"github.com/mats-go/mats/observability"
	"github.com/mats-go/mats/serde"
	"github.com/mats-go/mats/stage"
	"github.com/mats-go/mats/txn"
)

// orderPlaced is the data an external caller hands to the order endpoint.
type orderPlaced struct {
	OrderID  string
	Quantity int
}

// orderState carries between the order endpoint's two stages.
type orderState struct {
	OrderID string
}

// priceQuote is what the pricing endpoint replies with.
type priceQuote struct {
	OrderID  string
	UnitCost float64
}

// orderConfirmed is what the order endpoint ultimately replies with, once
// pricing comes back.
type orderConfirmed struct {
	OrderID  string
	Quantity int
	Total    float64
}

func main() {
	adminAddr := flag.String("admin-addr", ":50061", "admin gRPC server address")
	metricsAddr := flag.String("metrics-addr", ":9091", "Prometheus /metrics address")
	otlpEndpoint := flag.String("otlp-endpoint", "", "OTLP gRPC collector address; tracing disabled if empty")
	flag.Parse()

	logger := logging.NewDefaultLogger().Bind("component", "matsdemo")
	logger.Info("matsdemo_starting", "admin_addr", *adminAddr, "metrics_addr", *metricsAddr)

	if *otlpEndpoint != "" {
		shutdown, err := observability.InitTracer("matsdemo", *otlpEndpoint)
		if err != nil {
			log.Fatalf("init tracer: %v", err)
		}
		defer shutdown(context.Background())
	}

	f, err := buildFactory(logger)
	if err != nil {
		log.Fatalf("build factory: %v", err)
	}
	defer f.Close()

	stopMetrics := serveMetrics(*metricsAddr, logger)
	defer stopMetrics()

	grpcServer, lis, err := serveAdmin(*adminAddr, f, logger)
	if err != nil {
		log.Fatalf("serve admin: %v", err)
	}
	defer grpcServer.GracefulStop()

	logger.Info("matsdemo_ready")

	go runDemoOrder(f, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown_signal_received", "signal", sig.String())
	_ = lis
}

// buildFactory registers the pricing and order endpoints and the
// terminator that logs the final confirmation, over an in-memory broker.
func buildFactory(logger logging.Logger) (*factory.Factory, error) {
	s := serde.NewJSONSerializer()
	s.RegisterType("orderPlaced", orderPlaced{})
	s.RegisterType("orderState", orderState{})
	s.RegisterType("priceQuote", priceQuote{})
	s.RegisterType("orderConfirmed", orderConfirmed{})

	cfg := config.DefaultFactoryConfig()
	f, err := factory.New(factory.Deps{
		Serializer:    s,
		BrokerFactory: inmem.New(),
		Coordinator:   txn.New(logger.Bind("component", "coordinator"), nil),
		Logger:        logger,
	}, cfg)
	if err != nil {
		return nil, fmt.Errorf("matsdemo: new factory: %w", err)
	}

	if _, err := f.Single("pricing", "", "priceQuote", "orderPlaced",
		func(ctx *stage.Context, incoming, _ any) (any, error) {
			order := incoming.(orderPlaced)
			return priceQuote{OrderID: order.OrderID, UnitCost: 12.5}, nil
		}); err != nil {
		return nil, fmt.Errorf("matsdemo: register pricing endpoint: %w", err)
	}

	order, err := f.Staged("order", "orderState", "orderConfirmed")
	if err != nil {
		return nil, fmt.Errorf("matsdemo: register order endpoint: %w", err)
	}
	if _, err := order.Stage("orderPlaced", func(ctx *stage.Context, incoming, _ any) error {
		req := incoming.(orderPlaced)
		return ctx.Request("pricing", req)
	}); err != nil {
		return nil, fmt.Errorf("matsdemo: order stage 1: %w", err)
	}
	if err := order.LastStage("priceQuote", func(ctx *stage.Context, incoming, state any) (any, error) {
		quote := incoming.(priceQuote)
		var quantity int
		if st, ok := state.(orderState); ok {
			quantity = quantityFor(st.OrderID)
		}
		return orderConfirmed{OrderID: quote.OrderID, Quantity: quantity, Total: quote.UnitCost * float64(quantity)}, nil
	}); err != nil {
		return nil, fmt.Errorf("matsdemo: order last stage: %w", err)
	}

	if _, err := f.Terminator("order-confirmations", "orderConfirmed",
		func(ctx *stage.Context, incoming, _ any) error {
			confirmed := incoming.(orderConfirmed)
			logger.Info("order_confirmed", "order_id", confirmed.OrderID, "quantity", confirmed.Quantity, "total", confirmed.Total)
			return nil
		}); err != nil {
		return nil, fmt.Errorf("matsdemo: register terminator: %w", err)
	}

	return f, nil
}

// quantityFor is a placeholder: a real deployment would look the order up
// in its own store; the demo only needs a nonzero number to show the
// state carried from stage one surviving into stage two.
func quantityFor(orderID string) int {
	if orderID == "" {
		return 0
	}
	return 3
}

func serveMetrics(addr string, logger logging.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics_server_failed", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func serveAdmin(addr string, f *factory.Factory, logger logging.Logger) (*grpc.Server, net.Listener, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("matsdemo: listen %s: %w", addr, err)
	}
	opts := matsgrpc.ServerOptions(logger.Bind("component", "matsgrpc"))
	grpcServer := grpc.NewServer(opts...)
	matsgrpc.Register(grpcServer, matsgrpc.NewServer(f, logger))

	go func() {
		if err := grpcServer.Serve(lis); err != nil && err != grpc.ErrServerStopped {
			logger.Error("admin_server_failed", "error", err)
		}
	}()
	return grpcServer, lis, nil
}

// runDemoOrder fires a single order through the flow shortly after
// startup, so running the binary produces visible activity without a
// separate client.
func runDemoOrder(f *factory.Factory, logger logging.Logger) {
	time.Sleep(500 * time.Millisecond)
	initiator := f.NewInitiator("matsdemo-client")
	err := initiator.Initiate(context.Background(), func(b *initiate.Builder) error {
		return b.Request("order", orderPlaced{OrderID: "ORD-1", Quantity: 3}, "order-confirmations", orderState{OrderID: "ORD-1"})
	})
	if err != nil {
		logger.Error("demo_order_failed", "error", err)
	}
}
