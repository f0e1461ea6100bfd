package stage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mats-go/mats/serde"
	"github.com/mats-go/mats/trace"
)

type orderData struct {
	Number int
	Label  string
}

type orderState struct {
	N1 int
	N2 float64
}

func newTestSerializer() *serde.JSONSerializer {
	s := serde.NewJSONSerializer()
	s.RegisterType("orderData", orderData{})
	s.RegisterType("orderState", orderState{})
	s.RegisterType("string", "")
	return s
}

func encodeValue(t *testing.T, s serde.Serializer, v any) trace.EncodedValue {
	t.Helper()
	name, ok := s.NameFor(v)
	require.True(t, ok)
	b, err := s.Encode(v, name)
	require.NoError(t, err)
	return trace.EncodedValue{Bytes: b, ClassName: name}
}

func TestContext_Request_RejectedOnLastStage(t *testing.T) {
	s := newTestSerializer()
	tr := trace.NewTrace("t1", "caller", "stage1", encodeValue(t, s, orderData{Number: 1}), "", nil)
	ctx := newContext("stage1", "", false, s, tr)

	err := ctx.Request("stage2", orderData{Number: 2})
	assert.Error(t, err)
}

func TestContext_Request_PushesFrameWithNextStageAsReplyTo(t *testing.T) {
	s := newTestSerializer()
	tr := trace.NewTrace("t1", "caller", "stage1", encodeValue(t, s, orderData{Number: 1}), "", nil)
	ctx := newContext("stage1", "stage1.1", true, s, tr)

	require.NoError(t, ctx.Request("leaf", orderData{Number: 2}))

	out, queueID, ok := ctx.hasOutgoing()
	require.True(t, ok)
	assert.Equal(t, "leaf", queueID)
	frame, ok := out.TopFrame()
	require.True(t, ok)
	assert.Equal(t, "stage1.1", frame.ReplyTo)
}

func TestContext_Reply_NoopOnEmptyStack_DoesNotConsumeSlot(t *testing.T) {
	s := newTestSerializer()
	tr := trace.NewTrace("t1", "caller", "stage1", encodeValue(t, s, orderData{Number: 1}), "", nil)
	ctx := newContext("stage1", "stage1.1", true, s, tr)

	require.NoError(t, ctx.Reply(orderData{Number: 99}))
	_, _, ok := ctx.hasOutgoing()
	assert.False(t, ok, "reply on an empty stack must produce no outgoing message")

	// the slot must still be free: a subsequent Next must succeed.
	require.NoError(t, ctx.Next(orderData{Number: 2}, orderState{N1: 1}))
	_, _, ok = ctx.hasOutgoing()
	assert.True(t, ok)
}

func TestContext_AtMostOneOutgoing_SecondCallFails(t *testing.T) {
	s := newTestSerializer()
	initState := encodeValue(t, s, orderState{N1: 1})
	tr := trace.NewTrace("t1", "caller", "stage1", encodeValue(t, s, orderData{Number: 1}), "replyHome", &initState)
	ctx := newContext("stage1", "stage1.1", true, s, tr)

	require.NoError(t, ctx.Next(orderData{Number: 2}, orderState{N1: 2}))
	err := ctx.Reply(orderData{Number: 3})
	assert.Error(t, err, "a second outgoing call on the same invocation must fail")
}

func TestContext_Reply_PopsToCallerReplyTo(t *testing.T) {
	s := newTestSerializer()
	initState := encodeValue(t, s, orderState{N1: 1})
	tr := trace.NewTrace("t1", "caller", "stage1", encodeValue(t, s, orderData{Number: 1}), "terminator", &initState)
	ctx := newContext("stage1", "", false, s, tr)

	require.NoError(t, ctx.Reply(orderData{Number: 42}))
	_, queueID, ok := ctx.hasOutgoing()
	require.True(t, ok)
	assert.Equal(t, "terminator", queueID)
}

func TestContext_State_CarriesVerbatimFromReplyingFrame(t *testing.T) {
	s := newTestSerializer()
	initState := encodeValue(t, s, orderState{N1: 420, N2: 420.024})
	// A REQUEST pushes a frame on behalf of whoever eventually gets the
	// reply; that state is only observable once the matching REPLY pops it.
	tr := trace.NewTrace("t1", "initiator", "stage1", encodeValue(t, s, orderData{Number: 1}), "terminator", &initState)
	tr.AddCallReply("stage1", encodeValue(t, s, orderData{Number: 2}))
	ctx := newContext("terminator", "", false, s, tr)

	v, ok, err := ctx.State("orderState")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, orderState{N1: 420, N2: 420.024}, v)
}

func TestContext_State_AbsentWhenEnteredViaRequest(t *testing.T) {
	s := newTestSerializer()
	initState := encodeValue(t, s, orderState{N1: 420, N2: 420.024})
	// The frame pushed by this REQUEST belongs to the future reply
	// recipient, not to the stage the REQUEST is addressed to.
	tr := trace.NewTrace("t1", "caller", "stage1", encodeValue(t, s, orderData{Number: 1}), "terminator", &initState)
	ctx := newContext("stage1", "", false, s, tr)

	_, ok, err := ctx.State("orderState")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestContext_State_FalseWhenEnteredViaSend(t *testing.T) {
	s := newTestSerializer()
	tr := trace.NewTrace("t1", "caller", "stage1", encodeValue(t, s, orderData{Number: 1}), "", nil)
	ctx := newContext("stage1", "", false, s, tr)

	_, ok, err := ctx.State("orderState")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestContext_Next_CarriesStateEncodedOnFrame(t *testing.T) {
	s := newTestSerializer()
	initState := encodeValue(t, s, orderState{N1: 1})
	tr := trace.NewTrace("t1", "caller", "stage1", encodeValue(t, s, orderData{Number: 1}), "terminator", &initState)
	ctx := newContext("stage1", "stage1.1", true, s, tr)

	require.NoError(t, ctx.Next(orderData{Number: 2}, orderState{N1: 7}))
	out, _, ok := ctx.hasOutgoing()
	require.True(t, ok)
	frame, ok := out.TopFrame()
	require.True(t, ok)
	decoded, err := s.Decode(frame.State.Bytes, "orderState")
	require.NoError(t, err)
	assert.Equal(t, orderState{N1: 7}, decoded)
}

func TestContext_PropertySetAndRead(t *testing.T) {
	s := newTestSerializer()
	tr := trace.NewTrace("t1", "caller", "stage1", encodeValue(t, s, orderData{Number: 1}), "", nil)
	ctx := newContext("stage1", "", false, s, tr)

	require.NoError(t, ctx.SetProperty("user", "alice"))
	v, ok, err := ctx.GetProperty("user")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alice", v)
}
