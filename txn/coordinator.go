// Package txn implements the Best-Effort-1PC transaction coordinator: it
// wraps one broker transaction around a stage's processing lambda and,
// only if that lambda actually touches the database, coordinates one
// database transaction alongside it. Database commit is always attempted
// strictly before broker commit; the narrow failure window this leaves
// open (broker commit fails after a successful DB commit) is documented,
// not papered over — user code is expected to be idempotent under
// redelivery.
package txn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mats-go/mats/broker"
	"github.com/mats-go/mats/logging"
	"github.com/mats-go/mats/matsdb"
)

// Body is the processing lambda the stage runtime supplies for one
// received message. It is given a Scope through which it may lazily
// obtain a database connection.
type Body func(ctx context.Context, scope *Scope) error

// Scope is the per-message handle the coordinator hands to Body. It
// exists only for the lifetime of one Coordinator.Run call.
type Scope struct {
	mu         sync.Mutex
	dbSupplier matsdb.ConnectionSupplier
	conn       matsdb.Connection
	connErr    error
}

// Connection lazily obtains (and memoizes) the scope's database
// connection. The first call is the one that makes the coordinator track
// a DB transaction for this scope at all; if Body never calls this, no
// database transaction is opened or committed.
func (s *Scope) Connection(ctx context.Context) (matsdb.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn, nil
	}
	if s.connErr != nil {
		return nil, s.connErr
	}
	if s.dbSupplier == nil {
		s.connErr = &ErrDatabase{Op: "get", Cause: fmt.Errorf("no database configured for this scope")}
		return nil, s.connErr
	}
	conn, err := s.dbSupplier.Get(ctx)
	if err != nil {
		s.connErr = &ErrDatabase{Op: "get", Cause: err}
		return nil, s.connErr
	}
	s.conn = conn
	return conn, nil
}

// dbOpened reports whether Body ever obtained a connection.
func (s *Scope) dbOpened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Coordinator runs one Body per received message inside a BE-1PC scope.
type Coordinator struct {
	logger logging.Logger
	instr  Instrumentation
}

// New returns a Coordinator. A nil logger defaults to a no-op logger; a
// nil instrumentation defaults to NoopInstrumentation.
func New(logger logging.Logger, instr Instrumentation) *Coordinator {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	if instr == nil {
		instr = NoopInstrumentation()
	}
	return &Coordinator{logger: logger, instr: instr}
}

// Run executes body inside one coordinator scope over sess, optionally
// backed by dbSupplier. It guarantees exactly one of: full commit
// (DB-then-broker), or full rollback (DB-then-broker, best-effort on
// both). If control ever leaves body through a path this function did not
// account for, it forces a rollback and returns *ErrInvariantViolation —
// this should be unreachable in practice; it exists purely as the
// documented sanity gate.
func (c *Coordinator) Run(ctx context.Context, traceID string, sess broker.Session, dbSupplier matsdb.ConnectionSupplier, body Body) (resultErr error) {
	ctx, endSpan := c.instr.StartSpan(ctx, traceID)
	defer endSpan()

	scope := &Scope{dbSupplier: dbSupplier}
	start := time.Now()
	settled := false

	defer func() {
		if r := recover(); r != nil {
			resultErr = c.fail(ctx, sess, scope, &ErrUserFailure{Cause: fmt.Errorf("panic: %v", r)})
			settled = true
			return
		}
		if !settled {
			resultErr = c.fail(ctx, sess, scope, &ErrInvariantViolation{Detail: "coordinator scope exited without a commit or a handled error"})
		}
	}()

	if err := body(ctx, scope); err != nil {
		settled = true
		resultErr = c.fail(ctx, sess, scope, err)
		return resultErr
	}

	resultErr = c.succeed(ctx, sess, scope)
	settled = true
	if resultErr == nil {
		c.instr.RecordCommit(time.Since(start))
	}
	return resultErr
}

// succeed implements step 4 of the coordinator algorithm: commit the DB
// connection (if one was opened), then commit the broker transaction.
func (c *Coordinator) succeed(ctx context.Context, sess broker.Session, scope *Scope) error {
	if scope.dbOpened() {
		if err := scope.conn.Commit(ctx); err != nil {
			dbErr := &ErrDatabase{Op: "commit", Cause: err}
			if closeErr := scope.conn.Close(ctx); closeErr != nil {
				c.logger.Warn("db close after failed commit also failed", "error", closeErr)
			}
			// The DB side effects are not durably committed, so the
			// broker transaction must not be either.
			if rbErr := sess.Rollback(ctx); rbErr != nil {
				c.logger.Error("broker rollback after db commit failure also failed", "error", rbErr)
			}
			c.instr.RecordRollback("database")
			return dbErr
		}
		if err := scope.conn.Close(ctx); err != nil {
			c.logger.Warn("db close after successful commit failed", "error", err)
		}
	}

	if err := sess.Commit(ctx); err != nil {
		// BE-1PC failure window: the DB side effects (if any) are
		// already durable. The message will be redelivered once the
		// broker retries or the operator intervenes; user code must
		// tolerate re-processing.
		c.logger.Error("broker commit failed after db commit succeeded; BE-1PC window applies", "error", err)
		return &ErrBroker{Op: "commit", Cause: err}
	}
	return nil
}

// fail implements step 5: roll back the DB connection (if one was
// opened), then roll back the broker transaction. The original cause is
// always returned, never masked by a failure encountered while rolling
// back.
func (c *Coordinator) fail(ctx context.Context, sess broker.Session, scope *Scope, cause error) error {
	reason := rollbackReason(cause)

	if scope.dbOpened() {
		if err := scope.conn.Rollback(ctx); err != nil {
			c.logger.Error("db rollback failed", "error", err, "cause", cause)
		}
		if err := scope.conn.Close(ctx); err != nil {
			c.logger.Warn("db close after rollback failed", "error", err)
		}
	}
	if err := sess.Rollback(ctx); err != nil {
		c.logger.Error("broker rollback failed", "error", err, "cause", cause)
	}
	c.instr.RecordRollback(reason)
	return cause
}

func rollbackReason(cause error) string {
	switch cause.(type) {
	case *ErrRefuseMessage:
		return "refused"
	case *ErrUserFailure:
		return "user_failure"
	case *ErrSerialization:
		return "serialization"
	case *ErrDatabase:
		return "database"
	case *ErrBroker:
		return "broker"
	case *ErrInvariantViolation:
		return "invariant_violation"
	default:
		return "unknown"
	}
}
