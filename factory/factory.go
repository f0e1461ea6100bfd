// Package factory holds the registry of endpoints for one process: it
// creates them, hands out initiators, and aggregates start/stop/running
// state across every endpoint it owns.
package factory

import (
	"fmt"
	"sync"

	"github.com/mats-go/mats/broker"
	"github.com/mats-go/mats/config"
	"github.com/mats-go/mats/endpoint"
	"github.com/mats-go/mats/initiate"
	"github.com/mats-go/mats/logging"
	"github.com/mats-go/mats/matsdb"
	"github.com/mats-go/mats/serde"
	"github.com/mats-go/mats/stage"
	"github.com/mats-go/mats/txn"
)

// Deps bundles the collaborators every endpoint and initiator the factory
// creates will share.
type Deps struct {
	Serializer    serde.Serializer
	BrokerFactory broker.Factory
	DBSupplier    matsdb.ConnectionSupplier
	Coordinator   *txn.Coordinator
	Logger        logging.Logger
}

// Factory is the registry of endpoints for one process. Endpoint ids are
// unique within a Factory; registering a duplicate id is an error.
type Factory struct {
	mu       sync.Mutex
	byID     map[string]*endpoint.Endpoint
	order    []string // insertion order, for stable introspection
	deps     Deps
	cfg      *config.FactoryConfig
	closed   bool
}

// New returns an empty Factory. A nil cfg resolves to
// config.DefaultFactoryConfig().
func New(deps Deps, cfg *config.FactoryConfig) (*Factory, error) {
	if cfg == nil {
		cfg = config.DefaultFactoryConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("factory: %w", err)
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	deps.Logger = logger
	return &Factory{
		byID: make(map[string]*endpoint.Endpoint),
		deps: deps,
		cfg:  cfg,
	}, nil
}

func (f *Factory) endpointDeps() endpoint.Deps {
	return endpoint.Deps{
		Serializer:      f.deps.Serializer,
		BrokerFactory:   f.deps.BrokerFactory,
		DBSupplier:      f.deps.DBSupplier,
		Coordinator:     f.deps.Coordinator,
		Logger:          f.deps.Logger,
		DefaultConc:     f.cfg.DefaultConcurrency,
		StopGracePeriod: f.cfg.StopGracePeriod,
	}
}

func (f *Factory) register(id, stateClass, replyClass string) (*endpoint.Endpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, fmt.Errorf("factory: closed, cannot register endpoint %q", id)
	}
	if _, exists := f.byID[id]; exists {
		return nil, fmt.Errorf("factory: endpoint id %q already registered", id)
	}
	ep := endpoint.New(id, stateClass, replyClass, f.endpointDeps())
	f.byID[id] = ep
	f.order = append(f.order, id)
	return ep, nil
}

// Staged registers and returns a multi-stage endpoint; the caller adds
// stages via Endpoint.Stage and finalizes with Endpoint.LastStage, which
// starts it.
func (f *Factory) Staged(id, stateClass, replyClass string) (*endpoint.Endpoint, error) {
	return f.register(id, stateClass, replyClass)
}

// Single registers a one-stage endpoint that both consumes incomingClass
// and replies, and starts it immediately.
func (f *Factory) Single(id, stateClass, replyClass, incomingClass string, fn func(ctx *stage.Context, incoming, state any) (any, error)) (*endpoint.Endpoint, error) {
	ep, err := f.register(id, stateClass, replyClass)
	if err != nil {
		return nil, err
	}
	if err := ep.LastStage(incomingClass, fn); err != nil {
		return nil, err
	}
	return ep, nil
}

// Terminator registers a one-stage endpoint with no state or reply class.
// fn is wrapped and finalized through LastStage, so after fn succeeds
// Context.Reply(nil) runs: if the incoming message has a frame on the
// stack, an empty REPLY is sent to that frame's replyTo; with an empty
// stack nothing is sent.
func (f *Factory) Terminator(id, incomingClass string, fn func(ctx *stage.Context, incoming, state any) error) (*endpoint.Endpoint, error) {
	ep, err := f.register(id, "", "")
	if err != nil {
		return nil, err
	}
	wrapped := func(ctx *stage.Context, incoming, state any) (any, error) {
		return nil, fn(ctx, incoming, state)
	}
	if err := ep.LastStage(incomingClass, wrapped); err != nil {
		return nil, err
	}
	return ep, nil
}

// Endpoint returns the registered endpoint by id, or false if none.
func (f *Factory) Endpoint(id string) (*endpoint.Endpoint, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ep, ok := f.byID[id]
	return ep, ok
}

// EndpointIDs returns every registered endpoint id, in registration order.
func (f *Factory) EndpointIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, len(f.order))
	copy(ids, f.order)
	return ids
}

// NewInitiator returns an Initiator identified as id, sharing this
// factory's broker factory, serializer, and coordinator.
func (f *Factory) NewInitiator(id string) *initiate.Initiator {
	return initiate.New(id, f.deps.BrokerFactory, f.deps.Serializer, f.deps.Coordinator)
}

// Start starts every registered endpoint. Endpoints are already started
// when LastStage finalizes them (Single, Terminator and a Staged
// endpoint's final LastStage call all go through it), so for an endpoint
// that is still running Start is a harmless no-op (Endpoint.Start is
// idempotent).
func (f *Factory) Start() error {
	for _, ep := range f.snapshot() {
		if err := ep.Start(); err != nil {
			return fmt.Errorf("factory: starting endpoint %q: %w", ep.ID(), err)
		}
	}
	return nil
}

// Stop stops every registered endpoint.
func (f *Factory) Stop() error {
	for _, ep := range f.snapshot() {
		if err := ep.Stop(); err != nil {
			return fmt.Errorf("factory: stopping endpoint %q: %w", ep.ID(), err)
		}
	}
	return nil
}

// IsRunning reports true iff any registered endpoint is running.
func (f *Factory) IsRunning() bool {
	for _, ep := range f.snapshot() {
		if ep.IsRunning() {
			return true
		}
	}
	return false
}

// closer is the optional interface a broker.Factory may implement to
// release connection-level resources; Close calls it if present.
type closer interface {
	Close() error
}

// Close stops every endpoint and, if the broker factory supports it,
// releases its underlying connection. After Close no further endpoints
// may be registered.
func (f *Factory) Close() error {
	if err := f.Stop(); err != nil {
		return err
	}
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	if c, ok := f.deps.BrokerFactory.(closer); ok {
		return c.Close()
	}
	return nil
}

func (f *Factory) snapshot() []*endpoint.Endpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	eps := make([]*endpoint.Endpoint, 0, len(f.order))
	for _, id := range f.order {
		eps = append(eps, f.byID[id])
	}
	return eps
}
