// Package inmem is a single-process, transactional reference
// implementation of broker.Session, adapted from the teacher's
// InMemoryCommBus (mutex-guarded maps, injectable logger) but reshaped
// around commit/rollback-grouped queues instead of fire-and-forget
// publish/subscribe.
package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/mats-go/mats/broker"
	"github.com/mats-go/mats/logging"
)

// queueState is one FIFO queue. notify is closed and replaced every time
// an item is pushed, letting blocked receivers wake without polling.
type queueState struct {
	mu     sync.Mutex
	items  []broker.RawMessage
	notify chan struct{}
}

func (q *queueState) waitChan() chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.notify == nil {
		q.notify = make(chan struct{})
	}
	return q.notify
}

func (q *queueState) popFront() (broker.RawMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return broker.RawMessage{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

func (q *queueState) pushBack(item broker.RawMessage) {
	q.mu.Lock()
	q.items = append(q.items, item)
	notify := q.notify
	q.notify = nil
	q.mu.Unlock()
	if notify != nil {
		close(notify)
	}
}

func (q *queueState) pushFront(items []broker.RawMessage) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(append([]broker.RawMessage(nil), items...), q.items...)
	notify := q.notify
	q.notify = nil
	q.mu.Unlock()
	if notify != nil {
		close(notify)
	}
}

// Broker is a process-local, transactional message broker. It is the
// default Factory used by tests and the demo command; production
// deployments wire matsbroker/kafkabroker instead.
type Broker struct {
	mu     sync.Mutex
	queues map[string]*queueState
	logger logging.Logger
}

// New returns an empty Broker using the default logger.
func New() *Broker {
	return NewWithLogger(logging.NewDefaultLogger())
}

// NewWithLogger returns an empty Broker logging through logger.
func NewWithLogger(logger logging.Logger) *Broker {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &Broker{queues: make(map[string]*queueState), logger: logger}
}

func (b *Broker) queue(queueID string) *queueState {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queueID]
	if !ok {
		q = &queueState{}
		b.queues[queueID] = q
	}
	return q
}

// NewSession returns a fresh transactional Session over this broker.
func (b *Broker) NewSession(ctx context.Context) (broker.Session, error) {
	return &session{broker: b, logger: b.logger}, nil
}

var _ broker.Factory = (*Broker)(nil)

// pendingSend is a Send call buffered until Commit.
type pendingSend struct {
	queueID string
	msg     broker.RawMessage
}

// receivedEntry records a message a session consumed, so Rollback can
// hand it back to its originating queue.
type receivedEntry struct {
	queueID string
	msg     broker.RawMessage
}

// session is one transactional unit of work: every Receive and Send
// performed on it is grouped into the broker transaction that Commit or
// Rollback resolves.
type session struct {
	broker   *Broker
	logger   logging.Logger
	mu       sync.Mutex
	sends    []pendingSend
	received []receivedEntry
	closed   bool
}

func (s *session) Receive(ctx context.Context, queueID string, timeout time.Duration) (*broker.RawMessage, error) {
	q := s.broker.queue(queueID)
	deadline := time.Now().Add(timeout)
	for {
		if item, ok := q.popFront(); ok {
			s.mu.Lock()
			s.received = append(s.received, receivedEntry{queueID: queueID, msg: item})
			s.mu.Unlock()
			return &item, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		timer := time.NewTimer(remaining)
		select {
		case <-q.waitChan():
			timer.Stop()
		case <-timer.C:
			// Loop once more: a message may have arrived just as the
			// timer fired, and the deadline check returns nil otherwise.
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

func (s *session) Send(ctx context.Context, queueID string, body []byte, headers map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends = append(s.sends, pendingSend{queueID: queueID, msg: broker.RawMessage{Body: body, Headers: headers}})
	return nil
}

func (s *session) Commit(ctx context.Context) error {
	s.mu.Lock()
	sends := s.sends
	s.sends = nil
	s.received = nil
	s.mu.Unlock()

	for _, p := range sends {
		s.broker.queue(p.queueID).pushBack(p.msg)
	}
	s.logger.Debug("session_committed", "sends", len(sends))
	return nil
}

func (s *session) Rollback(ctx context.Context) error {
	s.mu.Lock()
	received := s.received
	s.sends = nil
	s.received = nil
	s.mu.Unlock()

	byQueue := make(map[string][]broker.RawMessage)
	order := make([]string, 0)
	for _, r := range received {
		if _, ok := byQueue[r.queueID]; !ok {
			order = append(order, r.queueID)
		}
		byQueue[r.queueID] = append(byQueue[r.queueID], r.msg)
	}
	for _, qid := range order {
		s.broker.queue(qid).pushFront(byQueue[qid])
	}
	s.logger.Debug("session_rolled_back", "redelivered", len(received))
	return nil
}

func (s *session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

var _ broker.Session = (*session)(nil)
