package initiate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mats-go/mats/broker/inmem"
	"github.com/mats-go/mats/serde"
	"github.com/mats-go/mats/txn"
)

type orderPlaced struct {
	OrderID string
	Amount  int
}

type orderState struct {
	N1 int
	N2 float64
}

func newTestInitiator(t *testing.T) (*Initiator, *inmem.Broker) {
	t.Helper()
	s := serde.NewJSONSerializer()
	s.RegisterType("orderPlaced", orderPlaced{})
	s.RegisterType("orderState", orderState{})
	b := inmem.New()
	coord := txn.New(nil, nil)
	return New("initiator-1", b, s, coord), b
}

func TestInitiator_Send_DeliversToTargetQueue(t *testing.T) {
	init, b := newTestInitiator(t)

	err := init.Initiate(context.Background(), func(bld *Builder) error {
		return bld.Send("terminator", orderPlaced{OrderID: "o-1", Amount: 42})
	})
	require.NoError(t, err)

	sess, err := b.NewSession(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	raw, err := sess.Receive(context.Background(), "terminator", 0)
	require.NoError(t, err)
	require.NotNil(t, raw, "message must be visible after the initiator's scope committed")
}

func TestInitiator_Request_SeedsInitialStateOnFrame(t *testing.T) {
	init, b := newTestInitiator(t)
	s := serde.NewJSONSerializer()
	s.RegisterType("orderPlaced", orderPlaced{})
	s.RegisterType("orderState", orderState{})
	init.serializer = s

	err := init.Initiate(context.Background(), func(bld *Builder) error {
		return bld.Request("service", orderPlaced{OrderID: "o-2", Amount: 7}, "terminator", orderState{N1: 420, N2: 420.024})
	})
	require.NoError(t, err)

	sess, err := b.NewSession(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	raw, err := sess.Receive(context.Background(), "service", 0)
	require.NoError(t, err)
	require.NotNil(t, raw)

	tr, err := s.DecodeTrace(raw.Body)
	require.NoError(t, err)
	assert.Len(t, tr.StackFrames, 1)
	assert.Equal(t, "terminator", tr.StackFrames[0].ReplyTo)
}

func TestInitiator_MultipleSendsShareOneTransaction(t *testing.T) {
	init, b := newTestInitiator(t)

	err := init.Initiate(context.Background(), func(bld *Builder) error {
		if err := bld.Send("q1", orderPlaced{OrderID: "a"}); err != nil {
			return err
		}
		return bld.Send("q2", orderPlaced{OrderID: "b"})
	})
	require.NoError(t, err)

	sess, err := b.NewSession(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	r1, err := sess.Receive(context.Background(), "q1", 0)
	require.NoError(t, err)
	assert.NotNil(t, r1)

	r2, err := sess.Receive(context.Background(), "q2", 0)
	require.NoError(t, err)
	assert.NotNil(t, r2)
}

func TestInitiator_LambdaError_NothingDelivered(t *testing.T) {
	init, b := newTestInitiator(t)

	err := init.Initiate(context.Background(), func(bld *Builder) error {
		_ = bld.Send("q1", orderPlaced{OrderID: "a"})
		return assert.AnError
	})
	require.Error(t, err)

	sess, err := b.NewSession(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	raw, err := sess.Receive(context.Background(), "q1", 0)
	require.NoError(t, err)
	assert.Nil(t, raw, "rolled-back scope must not deliver the buffered send")
}

func TestInitiator_UnregisteredType_ReturnsSerializationError(t *testing.T) {
	init, _ := newTestInitiator(t)

	err := init.Initiate(context.Background(), func(bld *Builder) error {
		return bld.Send("q1", struct{ X int }{X: 1})
	})
	require.Error(t, err)
	var target *txn.ErrSerialization
	assert.ErrorAs(t, err, &target)
}
