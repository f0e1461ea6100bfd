// Package broker defines the session-scoped transport surface the
// transaction coordinator drives. An implementation owns redelivery
// semantics on rollback; the core only ever treats a redelivered message
// as "received again".
package broker

import (
	"context"
	"time"
)

// RawMessage is an undecoded message read from a queue: the encoded
// Trace bytes plus whatever transport headers travelled with it.
type RawMessage struct {
	Body    []byte
	Headers map[string]string
}

// Session is a transactional, queue-scoped connection to the broker. A
// single Session groups every Receive and Send performed since the last
// Commit or Rollback into one broker-side transaction.
//
// Implementations must be safe to use from exactly one goroutine at a
// time; the stage runtime gives each worker its own Session.
type Session interface {
	// Receive blocks up to timeout for the next message on queueID, or
	// returns (nil, nil) on timeout with no message available.
	Receive(ctx context.Context, queueID string, timeout time.Duration) (*RawMessage, error)
	// Send enqueues body with headers onto queueID, within the
	// session's current transaction.
	Send(ctx context.Context, queueID string, body []byte, headers map[string]string) error
	// Commit commits every Receive/Send since the last Commit/Rollback.
	Commit(ctx context.Context) error
	// Rollback discards every Receive/Send since the last Commit/Rollback;
	// received messages become eligible for redelivery.
	Rollback(ctx context.Context) error
	// Close releases the session's underlying connection resources.
	Close() error
}

// Factory creates Sessions, one per stage worker.
type Factory interface {
	NewSession(ctx context.Context) (Session, error)
}
