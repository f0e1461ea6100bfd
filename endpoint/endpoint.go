// Package endpoint composes an ordered chain of stages sharing one state
// type and one reply type under a single id.
package endpoint

import (
	"fmt"
	"sync"
	"time"

	"github.com/mats-go/mats/broker"
	"github.com/mats-go/mats/config"
	"github.com/mats-go/mats/logging"
	"github.com/mats-go/mats/matsdb"
	"github.com/mats-go/mats/serde"
	"github.com/mats-go/mats/stage"
	"github.com/mats-go/mats/txn"
)

// StageHandle is returned by Stage for per-stage configuration before the
// endpoint starts.
type StageHandle struct {
	cfg *config.StageConfig
}

// SetConcurrency overrides this stage's worker count. 0 means "inherit
// from the endpoint/factory default". Only effective before Start.
func (h *StageHandle) SetConcurrency(n int) *StageHandle {
	h.cfg.Concurrency = n
	return h
}

// pendingStage captures everything needed to build a stage.Stage once the
// full chain (and therefore every stage's nextStageID) is known.
type pendingStage struct {
	incomingClass string
	processor     stage.Processor
	cfg           *config.StageConfig
}

// Endpoint is an ordered set of stages under one id.
type Endpoint struct {
	mu            sync.Mutex
	id            string
	stateClass    string
	replyClass    string
	incomingClass string // first stage's incoming class, set once known

	pending   []pendingStage
	stages    []*stage.Stage
	finalized bool

	serializer      serde.Serializer
	brokerFactory   broker.Factory
	dbSupplier      matsdb.ConnectionSupplier
	coordinator     *txn.Coordinator
	logger          logging.Logger
	defaultConc     int
	stopGracePeriod time.Duration
}

// Deps bundles the collaborators every endpoint needs; the factory passes
// the same Deps (with its own default concurrency) to every endpoint it
// creates.
type Deps struct {
	Serializer      serde.Serializer
	BrokerFactory   broker.Factory
	DBSupplier      matsdb.ConnectionSupplier
	Coordinator     *txn.Coordinator
	Logger          logging.Logger
	DefaultConc     int
	StopGracePeriod time.Duration
}

// New returns an empty, unfinalized Endpoint. stateClass/replyClass may be
// empty for a pure terminator (no reply type).
func New(id, stateClass, replyClass string, deps Deps) *Endpoint {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &Endpoint{
		id:              id,
		stateClass:      stateClass,
		replyClass:      replyClass,
		serializer:      deps.Serializer,
		brokerFactory:   deps.BrokerFactory,
		dbSupplier:      deps.DBSupplier,
		coordinator:     deps.Coordinator,
		logger:          logger,
		defaultConc:     deps.DefaultConc,
		stopGracePeriod: deps.StopGracePeriod,
	}
}

// Stage appends a non-terminal stage and returns a handle for per-stage
// configuration. Fails once the endpoint has been finalized by LastStage.
func (e *Endpoint) Stage(incomingClass string, processor stage.Processor) (*StageHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finalized {
		return nil, fmt.Errorf("endpoint %s: cannot add a stage after LastStage finalized it", e.id)
	}
	if len(e.pending) == 0 {
		e.incomingClass = incomingClass
	}
	cfg := config.DefaultStageConfig()
	e.pending = append(e.pending, pendingStage{incomingClass: incomingClass, processor: processor, cfg: cfg})
	return &StageHandle{cfg: cfg}, nil
}

// LastStage appends the terminal stage, finalizes the endpoint (no further
// Stage calls are accepted), and starts it. returnLambda's return value is
// automatically passed to Context.Reply, which sends it whenever the
// incoming message has a frame on the stack (whatever the endpoint's reply
// class) and sends nothing when the stack is empty.
func (e *Endpoint) LastStage(incomingClass string, returnLambda func(ctx *stage.Context, incoming, state any) (any, error)) error {
	e.mu.Lock()
	if e.finalized {
		e.mu.Unlock()
		return fmt.Errorf("endpoint %s: LastStage already called", e.id)
	}
	if len(e.pending) == 0 {
		e.incomingClass = incomingClass
	}
	processor := func(ctx *stage.Context, incoming, state any) error {
		reply, err := returnLambda(ctx, incoming, state)
		if err != nil {
			return err
		}
		return ctx.Reply(reply)
	}
	cfg := config.DefaultStageConfig()
	e.pending = append(e.pending, pendingStage{incomingClass: incomingClass, processor: processor, cfg: cfg})
	e.finalized = true

	stages, err := e.buildStagesLocked()
	if err != nil {
		e.mu.Unlock()
		return err
	}
	e.stages = stages
	e.mu.Unlock()

	return e.Start()
}

// stageID mirrors the wire-naming rule: the endpoint id for the first
// stage, endpoint id + "." + index for subsequent stages.
func (e *Endpoint) stageID(index int) string {
	if index == 0 {
		return e.id
	}
	return fmt.Sprintf("%s.%d", e.id, index)
}

func (e *Endpoint) buildStagesLocked() ([]*stage.Stage, error) {
	built := make([]*stage.Stage, len(e.pending))
	for i, p := range e.pending {
		id := e.stageID(i)
		hasNext := i < len(e.pending)-1
		nextID := ""
		if hasNext {
			nextID = e.stageID(i + 1)
		}
		cfg := stage.Config{
			Concurrency:     p.cfg.Concurrency,
			ReceiveTimeout:  p.cfg.ReceiveTimeout,
			StopGracePeriod: p.cfg.StopGracePeriod,
		}
		if cfg.Concurrency <= 0 {
			cfg.Concurrency = e.defaultConc
		}
		if cfg.StopGracePeriod <= 0 {
			cfg.StopGracePeriod = e.stopGracePeriod
		}
		built[i] = stage.New(id, nextID, hasNext, p.incomingClass, e.stateClass,
			p.processor, e.serializer, e.brokerFactory, e.dbSupplier, e.coordinator,
			e.logger.Bind("endpoint", e.id, "stage", id), cfg)
	}
	return built, nil
}

// Start starts every stage. Idempotent.
func (e *Endpoint) Start() error {
	e.mu.Lock()
	stages := e.stages
	e.mu.Unlock()
	for _, st := range stages {
		if err := st.Start(); err != nil {
			return err
		}
	}
	return nil
}

// Stop stops every stage. Idempotent.
func (e *Endpoint) Stop() error {
	e.mu.Lock()
	stages := e.stages
	e.mu.Unlock()
	for _, st := range stages {
		if err := st.Stop(); err != nil {
			return err
		}
	}
	return nil
}

// IsRunning reports true iff any stage is running.
func (e *Endpoint) IsRunning() bool {
	e.mu.Lock()
	stages := e.stages
	e.mu.Unlock()
	for _, st := range stages {
		if st.IsRunning() {
			return true
		}
	}
	return false
}

// ID returns the endpoint id.
func (e *Endpoint) ID() string { return e.id }

// StateClass returns the state type name shared by every stage in this
// endpoint.
func (e *Endpoint) StateClass() string { return e.stateClass }

// ReplyClass returns the reply type name, empty for a pure terminator.
func (e *Endpoint) ReplyClass() string { return e.replyClass }

// IncomingClass returns the first stage's incoming type name.
func (e *Endpoint) IncomingClass() string { return e.incomingClass }

// StageIDs returns the queue ids of every stage in order.
func (e *Endpoint) StageIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, len(e.stages))
	for i, st := range e.stages {
		ids[i] = st.ID()
	}
	return ids
}
