// Package kafkabroker is a broker.Factory backed by a real Kafka (or
// Redpanda) cluster via github.com/twmb/franz-go/pkg/kgo, for production
// deployments that outgrow the single-process broker/inmem reference
// implementation.
//
// Each Session maps the stage runtime's receive-process-send scope onto
// franz-go's transactional consume-transform-produce pattern: the client
// bound to a stage's queue both fetches from it (as a consumer group
// member) and produces to whatever queues the stage sends to, inside one
// Kafka transaction per scope. Committing marks the fetched record's offset
// and ends the transaction; rolling back aborts it, leaving the consumer
// group's committed offset untouched so the aborted record is redelivered
// on the next poll.
package kafkabroker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/mats-go/mats/broker"
	"github.com/mats-go/mats/logging"
)

// Config configures a Broker.
type Config struct {
	// SeedBrokers lists the cluster's bootstrap addresses.
	SeedBrokers []string
	// GroupPrefix namespaces the consumer group created for each queue;
	// defaults to "mats-" so distinct Mats deployments sharing a cluster
	// don't collide.
	GroupPrefix string
	// TransactionPrefix namespaces transactional ids the same way.
	TransactionPrefix string
	Logger            logging.Logger
}

func (c Config) groupID(queueID string) string {
	prefix := c.GroupPrefix
	if prefix == "" {
		prefix = "mats-"
	}
	return prefix + queueID
}

func (c Config) transactionalID(queueID, suffix string) string {
	prefix := c.TransactionPrefix
	if prefix == "" {
		prefix = "mats-"
	}
	return prefix + queueID + "-" + suffix
}

// Broker is a broker.Factory creating one Session per stage worker.
type Broker struct {
	cfg    Config
	logger logging.Logger

	mu     sync.Mutex
	nextID uint64
}

// New returns a Broker over cfg. No network connection is made until the
// first Session is created and used.
func New(cfg Config) *Broker {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &Broker{cfg: cfg, logger: logger}
}

// NewSession returns a fresh, unbound Session. It opens no client
// connections; those are created lazily on first Receive or Send, keyed to
// whichever queue the session turns out to serve.
func (b *Broker) NewSession(ctx context.Context) (broker.Session, error) {
	b.mu.Lock()
	b.nextID++
	ordinal := b.nextID
	b.mu.Unlock()
	return &session{broker: b, logger: b.logger, ordinal: ordinal}, nil
}

var _ broker.Factory = (*Broker)(nil)

// session is one transactional unit of work over up to two franz-go
// clients: a consumer bound to the one queue this session ever Receives
// from (created on first Receive, reused for every subsequent Receive and
// for any Send in the same scope, which is how franz-go's
// consume-transform-produce EOS pattern works), and a producer-only client
// for sessions that never Receive (the top-level Initiator).
type session struct {
	broker  *Broker
	logger  logging.Logger
	ordinal uint64

	mu           sync.Mutex
	consumer     *kgo.Client
	consumeQueue string
	producer     *kgo.Client
	current      *kgo.Record // the record Received this scope, pending Commit/Rollback
	txnClient    *kgo.Client // whichever client currently holds the open transaction
	closed       bool
}

func (s *session) consumerFor(queueID string) (*kgo.Client, error) {
	if s.consumer != nil {
		if s.consumeQueue != queueID {
			return nil, fmt.Errorf("kafkabroker: session already bound to queue %q, cannot receive from %q", s.consumeQueue, queueID)
		}
		return s.consumer, nil
	}
	txnID := s.broker.cfg.transactionalID(queueID, fmt.Sprintf("consumer-%d", s.ordinal))
	client, err := kgo.NewClient(
		kgo.SeedBrokers(s.broker.cfg.SeedBrokers...),
		kgo.ConsumerGroup(s.broker.cfg.groupID(queueID)),
		kgo.ConsumeTopics(queueID),
		kgo.TransactionalID(txnID),
		kgo.RequireStableFetchOffsets(),
		kgo.AutoCommitMarks(),
	)
	if err != nil {
		return nil, fmt.Errorf("kafkabroker: new consumer client for %s: %w", queueID, err)
	}
	s.consumer = client
	s.consumeQueue = queueID
	return client, nil
}

func (s *session) producerFor() (*kgo.Client, error) {
	if s.consumer != nil {
		return s.consumer, nil
	}
	if s.producer != nil {
		return s.producer, nil
	}
	txnID := s.broker.cfg.transactionalID("initiate", fmt.Sprintf("producer-%d", s.ordinal))
	client, err := kgo.NewClient(
		kgo.SeedBrokers(s.broker.cfg.SeedBrokers...),
		kgo.TransactionalID(txnID),
	)
	if err != nil {
		return nil, fmt.Errorf("kafkabroker: new producer client: %w", err)
	}
	s.producer = client
	return client, nil
}

func (s *session) beginTxn(client *kgo.Client) error {
	if s.txnClient == client {
		return nil
	}
	if s.txnClient != nil {
		return errors.New("kafkabroker: session already has an open transaction on a different client")
	}
	if err := client.BeginTransaction(); err != nil {
		return fmt.Errorf("kafkabroker: begin transaction: %w", err)
	}
	s.txnClient = client
	return nil
}

// Receive polls the queue this session is (or becomes) bound to. It returns
// (nil, nil) if nothing arrives within timeout, matching the no-message
// case the coordinator still commits as an empty transaction.
func (s *session) Receive(ctx context.Context, queueID string, timeout time.Duration) (*broker.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("kafkabroker: session closed")
	}
	if s.current != nil {
		return nil, errors.New("kafkabroker: Receive called again before Commit or Rollback")
	}

	client, err := s.consumerFor(queueID)
	if err != nil {
		return nil, err
	}

	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	fetches := client.PollFetches(pollCtx)
	if err := firstFetchError(fetches); err != nil {
		return nil, fmt.Errorf("kafkabroker: poll %s: %w", queueID, err)
	}

	var rec *kgo.Record
	fetches.EachRecord(func(r *kgo.Record) {
		if rec == nil {
			rec = r
		}
	})
	if rec == nil {
		return nil, nil
	}

	if err := s.beginTxn(client); err != nil {
		return nil, err
	}
	s.current = rec
	return &broker.RawMessage{Body: append([]byte(nil), rec.Value...), Headers: headersOf(rec)}, nil
}

// Send produces body to queueID within the session's open transaction,
// beginning one on the consumer client (if this session has a bound queue)
// or a dedicated producer client otherwise.
func (s *session) Send(ctx context.Context, queueID string, body []byte, headers map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("kafkabroker: session closed")
	}

	client, err := s.producerFor()
	if err != nil {
		return err
	}
	if err := s.beginTxn(client); err != nil {
		return err
	}

	rec := &kgo.Record{Topic: queueID, Value: body, Headers: toKgoHeaders(headers)}
	result := client.ProduceSync(ctx, rec)
	if err := result.FirstErr(); err != nil {
		return fmt.Errorf("kafkabroker: produce to %s: %w", queueID, err)
	}
	return nil
}

// Commit marks the consumed record (if any) for offset commit and ends the
// open transaction, committing it. A scope that neither received nor sent
// anything never opened a transaction, so this is a no-op.
func (s *session) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.txnClient == nil {
		s.current = nil
		return nil
	}
	if s.consumer != nil && s.current != nil {
		s.consumer.MarkCommitRecords(s.current)
	}
	client := s.txnClient
	s.txnClient = nil
	s.current = nil

	if err := client.EndTransaction(ctx, kgo.TryCommit); err != nil {
		return fmt.Errorf("kafkabroker: end transaction (commit): %w", err)
	}
	return nil
}

// Rollback aborts the open transaction without marking any consumed record,
// so the consumer group's committed offset is unaffected and the record is
// redelivered on a future poll. A scope with no open transaction is a no-op.
func (s *session) Rollback(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.txnClient == nil {
		s.current = nil
		return nil
	}
	client := s.txnClient
	s.txnClient = nil
	s.current = nil

	if err := client.EndTransaction(ctx, kgo.TryAbort); err != nil {
		return fmt.Errorf("kafkabroker: end transaction (abort): %w", err)
	}
	return nil
}

// Close releases both underlying clients, if created.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.consumer != nil {
		s.consumer.Close()
	}
	if s.producer != nil {
		s.producer.Close()
	}
	return nil
}

var _ broker.Session = (*session)(nil)

func firstFetchError(fetches kgo.Fetches) error {
	for _, fe := range fetches.Errors() {
		if errors.Is(fe.Err, context.DeadlineExceeded) {
			continue
		}
		return fe.Err
	}
	return nil
}

func headersOf(rec *kgo.Record) map[string]string {
	if len(rec.Headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(rec.Headers))
	for _, h := range rec.Headers {
		out[h.Key] = string(h.Value)
	}
	return out
}

func toKgoHeaders(headers map[string]string) []kgo.RecordHeader {
	if len(headers) == 0 {
		return nil
	}
	out := make([]kgo.RecordHeader, 0, len(headers))
	for k, v := range headers {
		out = append(out, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}
	return out
}
