package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func val(s string) EncodedValue {
	return EncodedValue{Bytes: []byte(s), ClassName: "string"}
}

func TestNewTrace_Send(t *testing.T) {
	tr := NewTrace("tid-1", "endpointA", "endpointB", val("payload"), "", nil)

	require.Len(t, tr.Calls, 1)
	assert.Equal(t, CallSend, tr.Calls[0].Type)
	assert.False(t, tr.HasStack())
}

func TestNewTrace_Request(t *testing.T) {
	state := val("initial-state")
	tr := NewTrace("tid-1", "endpointA", "endpointB", val("payload"), "endpointA", &state)

	require.Len(t, tr.Calls, 1)
	assert.Equal(t, CallRequest, tr.Calls[0].Type)
	require.True(t, tr.HasStack())
	frame, ok := tr.TopFrame()
	require.True(t, ok)
	assert.Equal(t, "endpointA", frame.ReplyTo)
}

func TestAddCallRequest_PushesFrame(t *testing.T) {
	tr := NewTrace("tid-1", "init", "endpointA", val("p"), "", nil)
	tr.AddCallRequest("endpointA", "endpointB", val("req"), "endpointA", val("remember-me"))

	require.Len(t, tr.StackFrames, 1)
	frame, ok := tr.TopFrame()
	require.True(t, ok)
	assert.Equal(t, "endpointA", frame.ReplyTo)
	assert.Equal(t, val("remember-me"), frame.State)
	require.Len(t, tr.Calls, 2)
	assert.Equal(t, CallRequest, tr.Calls[1].Type)
}

func TestAddCallReply_PopsFrameAndRoutes(t *testing.T) {
	tr := NewTrace("tid-1", "init", "endpointA", val("p"), "", nil)
	tr.AddCallRequest("endpointA", "endpointB", val("req"), "endpointA", val("state"))
	tr.AddCallReply("endpointB", val("resp"))

	assert.False(t, tr.HasStack())
	last, ok := tr.CurrentCall()
	require.True(t, ok)
	assert.Equal(t, CallReply, last.Type)
	assert.Equal(t, "endpointA", last.To)
}

func TestAddCallReply_NoopOnEmptyStack(t *testing.T) {
	tr := NewTrace("tid-1", "init", "endpointA", val("p"), "", nil)
	before := len(tr.Calls)
	tr.AddCallReply("endpointA", val("resp"))

	assert.Equal(t, before, len(tr.Calls), "REPLY with no waiting caller must not append a call")
}

func TestAddCallNext_PreservesStackDepth(t *testing.T) {
	tr := NewTrace("tid-1", "init", "endpointA", val("p"), "", nil)
	tr.AddCallRequest("endpointA", "endpointB", val("req"), "endpointA", val("s0"))
	depthBefore := len(tr.StackFrames)

	tr.AddCallNext("endpointB", "endpointB.stage2", val("next"), val("s1"))

	assert.Equal(t, depthBefore, len(tr.StackFrames))
	frame, ok := tr.TopFrame()
	require.True(t, ok)
	assert.Equal(t, val("s1"), frame.State)
}

func TestThreeLevelStack_UnwindsInOrder(t *testing.T) {
	tr := NewTrace("tid-1", "init", "A", val("p"), "", nil)
	tr.AddCallRequest("A", "B", val("a->b"), "A", val("a-state"))
	tr.AddCallRequest("B", "C", val("b->c"), "B", val("b-state"))
	require.Len(t, tr.StackFrames, 2)

	tr.AddCallReply("C", val("c-reply"))
	last, _ := tr.CurrentCall()
	assert.Equal(t, "B", last.To)
	require.Len(t, tr.StackFrames, 1)

	tr.AddCallReply("B", val("b-reply"))
	last, _ = tr.CurrentCall()
	assert.Equal(t, "A", last.To)
	assert.False(t, tr.HasStack())
}

func TestProperties_LastWriteWins(t *testing.T) {
	tr := NewTrace("tid-1", "init", "A", val("p"), "", nil)
	tr.SetProperty("k", val("v1"))
	tr.SetProperty("k", val("v2"))

	v, ok := tr.GetProperty("k")
	require.True(t, ok)
	assert.Equal(t, val("v2"), v)
}

func TestSideband_NotCarriedByCloneForNextHop(t *testing.T) {
	tr := NewTrace("tid-1", "init", "A", val("p"), "", nil)
	tr.SetBinary("b", []byte("binary-data"))
	tr.SetString("s", "string-data")

	next := tr.CloneForNextHop()
	_, ok := next.GetBinary("b")
	assert.False(t, ok, "sideband must not survive past the immediate next hop")
	_, ok = next.GetString("s")
	assert.False(t, ok)
}

func TestCloneForNextHop_PreservesCallsStackAndProperties(t *testing.T) {
	tr := NewTrace("tid-1", "init", "A", val("p"), "", nil)
	tr.SetProperty("k", val("v"))
	tr.AddCallRequest("A", "B", val("req"), "A", val("state"))

	next := tr.CloneForNextHop()
	assert.Equal(t, tr.TraceID, next.TraceID)
	assert.Equal(t, len(tr.Calls), len(next.Calls))
	assert.Equal(t, len(tr.StackFrames), len(next.StackFrames))
	v, ok := next.GetProperty("k")
	require.True(t, ok)
	assert.Equal(t, val("v"), v)
}

func TestClone_IsIndependentDeepCopy(t *testing.T) {
	tr := NewTrace("tid-1", "init", "A", val("p"), "", nil)
	tr.SetBinary("b", []byte("orig"))
	tr.SetProperty("k", val("orig"))

	clone := tr.Clone()
	clone.Binaries["b"][0] = 'X'
	clone.SetProperty("k", val("mutated"))

	orig, _ := tr.GetBinary("b")
	assert.Equal(t, []byte("orig"), orig, "mutating the clone must not affect the original")
	origProp, _ := tr.GetProperty("k")
	assert.Equal(t, val("orig"), origProp)
}

func TestAppendTraceID(t *testing.T) {
	assert.Equal(t, "tid-1", AppendTraceID("tid-1", ""))
	assert.Equal(t, "tid-1:child", AppendTraceID("tid-1", ":child"))
}
