package kafkabroker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/twmb/franz-go/pkg/kgo"
)

func TestConfig_GroupID_DefaultsPrefix(t *testing.T) {
	cfg := Config{}
	assert.Equal(t, "mats-orders", cfg.groupID("orders"))
}

func TestConfig_GroupID_HonorsCustomPrefix(t *testing.T) {
	cfg := Config{GroupPrefix: "payments-"}
	assert.Equal(t, "payments-orders", cfg.groupID("orders"))
}

func TestConfig_TransactionalID_DefaultsPrefix(t *testing.T) {
	cfg := Config{}
	assert.Equal(t, "mats-orders-consumer-1", cfg.transactionalID("orders", "consumer-1"))
}

func TestConfig_TransactionalID_HonorsCustomPrefix(t *testing.T) {
	cfg := Config{TransactionPrefix: "payments-"}
	assert.Equal(t, "payments-orders-producer-3", cfg.transactionalID("orders", "producer-3"))
}

func TestNew_DefaultsToNoopLogger(t *testing.T) {
	b := New(Config{SeedBrokers: []string{"localhost:9092"}})
	assert.NotNil(t, b.logger)
}

func TestBroker_NewSession_AssignsDistinctOrdinals(t *testing.T) {
	b := New(Config{SeedBrokers: []string{"localhost:9092"}})

	s1, err := b.NewSession(nil)
	assert.NoError(t, err)
	s2, err := b.NewSession(nil)
	assert.NoError(t, err)

	sess1 := s1.(*session)
	sess2 := s2.(*session)
	assert.NotEqual(t, sess1.ordinal, sess2.ordinal)
}

func TestHeadersOf_EmptyRecordHeaders_ReturnsNil(t *testing.T) {
	rec := &kgo.Record{}
	assert.Nil(t, headersOf(rec))
}

func TestHeadersOf_ConvertsKeyValuePairs(t *testing.T) {
	rec := &kgo.Record{Headers: []kgo.RecordHeader{{Key: "traceId", Value: []byte("abc-123")}}}
	assert.Equal(t, map[string]string{"traceId": "abc-123"}, headersOf(rec))
}

func TestToKgoHeaders_EmptyMap_ReturnsNil(t *testing.T) {
	assert.Nil(t, toKgoHeaders(nil))
	assert.Nil(t, toKgoHeaders(map[string]string{}))
}

func TestToKgoHeaders_ConvertsMap(t *testing.T) {
	headers := toKgoHeaders(map[string]string{"traceId": "abc-123"})
	assert.Equal(t, []kgo.RecordHeader{{Key: "traceId", Value: []byte("abc-123")}}, headers)
}

func TestSession_Receive_RejectsSecondQueueOnBoundSession(t *testing.T) {
	s := &session{consumer: &kgo.Client{}, consumeQueue: "orders"}
	_, err := s.consumerFor("payments")
	assert.Error(t, err)
}

func TestSession_Receive_RejectsReceiveOnClosedSession(t *testing.T) {
	s := &session{closed: true}
	_, err := s.Receive(nil, "orders", 0)
	assert.Error(t, err)
}

func TestSession_Send_RejectsSendOnClosedSession(t *testing.T) {
	s := &session{closed: true}
	err := s.Send(nil, "orders", []byte("x"), nil)
	assert.Error(t, err)
}

func TestSession_Close_IsIdempotent(t *testing.T) {
	s := &session{}
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}

func TestSession_Commit_NoOpenTransaction_IsNoop(t *testing.T) {
	s := &session{}
	assert.NoError(t, s.Commit(nil))
}

func TestSession_Rollback_NoOpenTransaction_IsNoop(t *testing.T) {
	s := &session{}
	assert.NoError(t, s.Rollback(nil))
}

func TestBeginTxn_SameClientTwice_IsNoop(t *testing.T) {
	c := &kgo.Client{}
	s := &session{txnClient: c}
	assert.NoError(t, s.beginTxn(c))
}

func TestBeginTxn_DifferentClientWhileOneOpen_Fails(t *testing.T) {
	s := &session{txnClient: &kgo.Client{}}
	err := s.beginTxn(&kgo.Client{})
	assert.Error(t, err)
}
