package stage

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/mats-go/mats/broker"
	"github.com/mats-go/mats/initiate"
	"github.com/mats-go/mats/logging"
	"github.com/mats-go/mats/matsdb"
	"github.com/mats-go/mats/observability"
	"github.com/mats-go/mats/serde"
	"github.com/mats-go/mats/txn"
)

// Config is the subset of config.StageConfig a Stage actually consumes,
// already resolved (no zero/"inherit" values left) by the endpoint that
// created it.
type Config struct {
	Concurrency     int
	ReceiveTimeout  time.Duration
	StopGracePeriod time.Duration
}

// ResolveConcurrency returns n if positive, otherwise fallback if that is
// positive, otherwise runtime.NumCPU(). Stage.Start uses it to turn a zero
// Concurrency into a worker count.
func ResolveConcurrency(n, fallback int) int {
	if n > 0 {
		return n
	}
	if fallback > 0 {
		return fallback
	}
	return runtime.NumCPU()
}

// Stage is one consumer on one logical queue: concurrency long-lived
// worker goroutines running the receive -> decode -> coordinate -> send
// loop against a single queue id.
type Stage struct {
	id              string
	nextStageID     string
	hasNext         bool
	incomingClass   string
	stateClass      string
	processor       Processor
	serializer      serde.Serializer
	brokerFactory   broker.Factory
	dbSupplier      matsdb.ConnectionSupplier
	coordinator     *txn.Coordinator
	logger          logging.Logger
	cfg             Config

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a Stage. nextStageID/hasNext describe what Request/Next
// are allowed to target; the endpoint wires these once the full stage
// chain is known.
func New(
	id, nextStageID string,
	hasNext bool,
	incomingClass, stateClass string,
	processor Processor,
	serializer serde.Serializer,
	brokerFactory broker.Factory,
	dbSupplier matsdb.ConnectionSupplier,
	coordinator *txn.Coordinator,
	logger logging.Logger,
	cfg Config,
) *Stage {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &Stage{
		id:            id,
		nextStageID:   nextStageID,
		hasNext:       hasNext,
		incomingClass: incomingClass,
		stateClass:    stateClass,
		processor:     processor,
		serializer:    serializer,
		brokerFactory: brokerFactory,
		dbSupplier:    dbSupplier,
		coordinator:   coordinator,
		logger:        logger,
		cfg:           cfg,
	}
}

// ID returns the stage's queue id.
func (s *Stage) ID() string { return s.id }

// IsRunning reports whether the stage's worker goroutines are active.
func (s *Stage) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start launches cfg.Concurrency worker goroutines. Idempotent: a second
// Start on an already-running stage is a no-op.
func (s *Stage) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	n := ResolveConcurrency(s.cfg.Concurrency, 0)
	for i := 0; i < n; i++ {
		s.wg.Add(1)
		go s.runWorker(ctx)
	}
	s.logger.Info("stage_started", "stage", s.id, "concurrency", n)
	return nil
}

// Stop signals every worker to exit after its current in-flight scope and
// waits up to cfg.StopGracePeriod for them to finish. Workers still
// in-flight past the grace period are left to finish on their own (their
// context is already canceled, so their next blocking broker call will
// observe it and roll back); Stop itself always returns once the grace
// period elapses. Idempotent: a second Stop on an already-stopped stage is
// a no-op.
func (s *Stage) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.running = false
	s.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	grace := s.cfg.StopGracePeriod
	if grace <= 0 {
		grace = 10 * time.Second
	}
	select {
	case <-done:
		s.logger.Info("stage_stopped", "stage", s.id)
	case <-time.After(grace):
		s.logger.Warn("stage_stop_grace_period_elapsed", "stage", s.id)
	}
	return nil
}

func (s *Stage) runWorker(ctx context.Context) {
	defer s.wg.Done()

	sess, err := s.brokerFactory.NewSession(ctx)
	if err != nil {
		s.logger.Error("stage_session_open_failed", "stage", s.id, "error", err)
		return
	}
	defer sess.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.runOneScope(ctx, sess)
	}
}

// runOneScope runs exactly one coordinator scope: receive (possibly
// nothing, which still commits an empty transaction), decode, invoke the
// processor, and send any outgoing message. Every error surfacing from the
// scope is logged here and swallowed — per the worker-loop contract, a
// failed message never kills the worker.
func (s *Stage) runOneScope(ctx context.Context, sess broker.Session) {
	traceID := "" // unknown until the message is decoded, so the coordinator scope runs without one
	err := s.coordinator.Run(ctx, traceID, sess, s.dbSupplier, func(ctx context.Context, scope *txn.Scope) error {
		recvStart := time.Now()
		raw, err := sess.Receive(ctx, s.id, s.cfg.ReceiveTimeout)
		observability.RecordBrokerReceive(s.id, time.Since(recvStart).Milliseconds())
		if err != nil {
			return &txn.ErrBroker{Op: "receive", Cause: err}
		}
		if raw == nil {
			return nil // nothing to do; coordinator commits the empty transaction
		}

		tr, err := s.serializer.DecodeTrace(raw.Body)
		if err != nil {
			return &txn.ErrSerialization{Op: "decodeTrace", Cause: err}
		}

		call, ok := tr.CurrentCall()
		if !ok {
			return &txn.ErrInvariantViolation{Detail: "received trace has no calls"}
		}

		var incoming any
		if !call.Data.IsZero() {
			incoming, err = s.serializer.Decode(call.Data.Bytes, s.incomingClass)
			if err != nil {
				return &txn.ErrSerialization{Op: "decode", Cause: err}
			}
		}

		stageCtx := newContext(s.id, s.nextStageID, s.hasNext, s.serializer, tr)
		stageCtx.initBuilder = initiate.NewBuilder(s.id, s.serializer, sess)

		var state any
		if stageCtx.hasState && s.stateClass != "" {
			state, err = s.serializer.Decode(stageCtx.carryState.Bytes, s.stateClass)
			if err != nil {
				return &txn.ErrSerialization{Op: "decode", Cause: err}
			}
		}

		start := time.Now()
		procErr := s.runProcessor(stageCtx, incoming, state)
		status := "success"
		if procErr != nil {
			status = "error"
		}
		observability.RecordStageMessage(s.id, status, time.Since(start).Milliseconds())
		if procErr != nil {
			return procErr
		}

		if err := stageCtx.initBuilder.Flush(ctx); err != nil {
			return err
		}

		if outTr, queueID, ok := stageCtx.hasOutgoing(); ok {
			body, err := s.serializer.EncodeTrace(outTr)
			if err != nil {
				return &txn.ErrSerialization{Op: "encodeTrace", Cause: err}
			}
			headers := map[string]string{"traceId": outTr.TraceID}
			if err := sess.Send(ctx, queueID, body, headers); err != nil {
				return &txn.ErrBroker{Op: "send", Cause: err}
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("stage_scope_failed", "stage", s.id, "error", err)
	}
}

// runProcessor recovers a panicking processor into a *txn.ErrUserFailure
// here, so the panic is recorded as an "error" stage message and the scope
// rolls back without relying on the coordinator's own recover (which
// would classify it the same way).
func (s *Stage) runProcessor(ctx *Context, incoming, state any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &txn.ErrUserFailure{Cause: fmt.Errorf("panic: %v", r)}
		}
	}()
	return s.processor(ctx, incoming, state)
}
