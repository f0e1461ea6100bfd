// Package trace implements the flow envelope carried with every message:
// the call chain, the per-frame state stack, trace-scoped properties, and
// single-hop sideband payloads that together simulate a synchronous call
// stack across stage invocations.
package trace

// CallType identifies the kind of hop recorded in a Trace's call chain.
type CallType string

const (
	// CallRequest pushes a new stack frame; the callee is expected to reply.
	CallRequest CallType = "REQUEST"
	// CallReply pops the top stack frame and routes to its ReplyTo.
	CallReply CallType = "REPLY"
	// CallNext moves to the next stage of the same endpoint without pushing or popping a frame.
	CallNext CallType = "NEXT"
	// CallSend is a fire-and-forget hop with no stack effect.
	CallSend CallType = "SEND"
)

// EncodedValue is an opaque encoded payload plus the declared type name the
// serializer needs to decode it.
type EncodedValue struct {
	Bytes     []byte
	ClassName string
}

// IsZero reports whether the value carries no payload.
func (v EncodedValue) IsZero() bool {
	return v.Bytes == nil && v.ClassName == ""
}

// Call is one entry in a Trace's append-only history.
//
// ReplyState is populated only on a REPLY call: it is the state of the
// frame that REPLY popped to produce this call. That frame was pushed by
// whoever issued the matching REQUEST, on behalf of whoever would
// eventually receive the reply (commonly a different endpoint than the one
// replying) — so the recipient of a REPLY reads its "current state" from
// here, not from whatever remains on the stack after the pop.
type Call struct {
	Type       CallType
	From       string
	To         string
	Data       EncodedValue
	ReplyState EncodedValue
}

// StackFrame is one LIFO "return address" entry. Pushed by REQUEST, popped
// by REPLY. The frame's State flows through NEXT calls within the same
// endpoint and is discarded when the frame is popped.
type StackFrame struct {
	ReplyTo string
	State   EncodedValue
}

// Trace is the in-flight envelope carried with every message.
//
// Binaries and Strings are deliberately NOT copied by the builder methods
// below: per spec, sideband values set on an outgoing message are exactly
// those added during the current stage, never inherited from the incoming
// message. Callers build a fresh Trace for the outgoing message starting
// from CloneForNextHop, which clears sideband but preserves everything else.
type Trace struct {
	TraceID      string
	Calls        []Call
	StackFrames  []StackFrame
	Properties   map[string]EncodedValue
	Binaries     map[string][]byte
	Strings      map[string]string
}

// NewTrace creates a Trace with a single SEND or REQUEST call and the
// corresponding initial stack depth. If initialState is non-nil the call
// is treated as a REQUEST (a reply is expected) and a single frame is
// pushed whose ReplyTo is replyTo (which need not equal from — an
// initiator commonly sends as itself but asks for the reply to be routed
// to a separate terminator); otherwise it is a SEND, replyTo is ignored,
// and the stack stays empty.
func NewTrace(traceID, from, to string, data EncodedValue, replyTo string, initialState *EncodedValue) *Trace {
	t := &Trace{
		TraceID:    traceID,
		Properties: make(map[string]EncodedValue),
	}
	if initialState != nil {
		t.StackFrames = append(t.StackFrames, StackFrame{ReplyTo: replyTo, State: *initialState})
		t.Calls = append(t.Calls, Call{Type: CallRequest, From: from, To: to, Data: data})
	} else {
		t.Calls = append(t.Calls, Call{Type: CallSend, From: from, To: to, Data: data})
	}
	return t
}

// CloneForNextHop returns a copy of the trace ready to become the outgoing
// message for the next hop: calls, stack frames, and properties carry over;
// sideband (Binaries/Strings) is reset to empty, since sideband set at hop i
// is observable only at hop i+1 and must not be forwarded further.
func (t *Trace) CloneForNextHop() *Trace {
	out := &Trace{
		TraceID:    t.TraceID,
		Calls:      append([]Call(nil), t.Calls...),
		Properties: make(map[string]EncodedValue, len(t.Properties)),
	}
	for k, v := range t.Properties {
		out.Properties[k] = v
	}
	out.StackFrames = append([]StackFrame(nil), t.StackFrames...)
	return out
}

// AddCallRequest appends a REQUEST call and pushes a new stack frame. The
// new frame's ReplyTo is the caller's own return address (the stage that
// should receive the REPLY), and its State is the state the caller wants
// to see again when that REPLY arrives.
func (t *Trace) AddCallRequest(from, to string, data EncodedValue, replyTo string, callerNextState EncodedValue) {
	t.StackFrames = append(t.StackFrames, StackFrame{ReplyTo: replyTo, State: callerNextState})
	t.Calls = append(t.Calls, Call{Type: CallRequest, From: from, To: to, Data: data})
}

// AddCallReply appends a REPLY call and pops the top stack frame. It is a
// no-op (per the REPLY contract) when the stack is empty, matching a stage
// entered via SEND where no caller is waiting.
func (t *Trace) AddCallReply(from string, data EncodedValue) {
	if len(t.StackFrames) == 0 {
		return
	}
	top := t.StackFrames[len(t.StackFrames)-1]
	t.StackFrames = t.StackFrames[:len(t.StackFrames)-1]
	t.Calls = append(t.Calls, Call{Type: CallReply, From: from, To: top.ReplyTo, Data: data, ReplyState: top.State})
}

// AddCallNext appends a NEXT call and replaces the top frame's state,
// leaving stack depth unchanged.
func (t *Trace) AddCallNext(from, to string, data EncodedValue, sameFrameState EncodedValue) {
	t.Calls = append(t.Calls, Call{Type: CallNext, From: from, To: to, Data: data})
	if len(t.StackFrames) > 0 {
		t.StackFrames[len(t.StackFrames)-1].State = sameFrameState
	}
}

// AddCallSend appends a SEND call without touching the stack.
func (t *Trace) AddCallSend(from, to string, data EncodedValue) {
	t.Calls = append(t.Calls, Call{Type: CallSend, From: from, To: to, Data: data})
}

// CurrentCall returns the most recently appended call, or the zero value
// and false if the trace has no calls yet.
func (t *Trace) CurrentCall() (Call, bool) {
	if len(t.Calls) == 0 {
		return Call{}, false
	}
	return t.Calls[len(t.Calls)-1], true
}

// TopFrame returns the top of the stack, or the zero value and false if
// the stack is empty.
func (t *Trace) TopFrame() (StackFrame, bool) {
	if len(t.StackFrames) == 0 {
		return StackFrame{}, false
	}
	return t.StackFrames[len(t.StackFrames)-1], true
}

// HasStack reports whether any frame is on the stack.
func (t *Trace) HasStack() bool {
	return len(t.StackFrames) > 0
}

// EntryState returns the state a stage should observe on entry, determined
// by how the message got here. A stage reached by REQUEST or SEND starts
// fresh: the frame on top of the stack (if any) belongs to whoever issued
// that REQUEST, not to this invocation, so it is not exposed. A stage
// reached by REPLY observes the state of the frame that REPLY just popped,
// carried on the call itself since the frame is already gone from
// StackFrames by the time this is read. A stage reached by NEXT observes
// the current top frame, which NEXT updates in place without popping.
func (t *Trace) EntryState() (EncodedValue, bool) {
	last, ok := t.CurrentCall()
	if !ok {
		return EncodedValue{}, false
	}
	switch last.Type {
	case CallReply:
		if last.ReplyState.IsZero() {
			return EncodedValue{}, false
		}
		return last.ReplyState, true
	case CallNext:
		frame, ok := t.TopFrame()
		if !ok || frame.State.IsZero() {
			return EncodedValue{}, false
		}
		return frame.State, true
	default:
		return EncodedValue{}, false
	}
}

// GetProperty returns a trace-scoped property by name. Properties are
// idempotently overwritten along the flow; the last write wins, so every
// hop after a SetProperty observes the newest value until it is
// overwritten again.
func (t *Trace) GetProperty(name string) (EncodedValue, bool) {
	v, ok := t.Properties[name]
	return v, ok
}

// SetProperty overwrites a trace-scoped property.
func (t *Trace) SetProperty(name string, value EncodedValue) {
	if t.Properties == nil {
		t.Properties = make(map[string]EncodedValue)
	}
	t.Properties[name] = value
}

// GetBinary returns a sideband binary value set during the immediately
// preceding hop.
func (t *Trace) GetBinary(key string) ([]byte, bool) {
	b, ok := t.Binaries[key]
	return b, ok
}

// GetString returns a sideband string value set during the immediately
// preceding hop.
func (t *Trace) GetString(key string) (string, bool) {
	s, ok := t.Strings[key]
	return s, ok
}

// SetBinary adds a sideband binary to this (outgoing) trace. Sideband
// added here is observable only at the next hop.
func (t *Trace) SetBinary(key string, value []byte) {
	if t.Binaries == nil {
		t.Binaries = make(map[string][]byte)
	}
	t.Binaries[key] = value
}

// SetString adds a sideband string to this (outgoing) trace.
func (t *Trace) SetString(key, value string) {
	if t.Strings == nil {
		t.Strings = make(map[string]string)
	}
	t.Strings[key] = value
}

// AppendTraceID returns the traceId that should be used for the outgoing
// message: the incoming traceId plus a user-supplied suffix. traceId is
// immutable along the flow other than by this append.
func AppendTraceID(traceID, suffix string) string {
	if suffix == "" {
		return traceID
	}
	return traceID + suffix
}

// Clone returns a deep copy of the trace; changes to the copy do not
// affect the original.
func (t *Trace) Clone() *Trace {
	out := &Trace{
		TraceID: t.TraceID,
		Calls:   append([]Call(nil), t.Calls...),
	}
	out.StackFrames = append([]StackFrame(nil), t.StackFrames...)
	if t.Properties != nil {
		out.Properties = make(map[string]EncodedValue, len(t.Properties))
		for k, v := range t.Properties {
			out.Properties[k] = v
		}
	}
	if t.Binaries != nil {
		out.Binaries = make(map[string][]byte, len(t.Binaries))
		for k, v := range t.Binaries {
			cp := make([]byte, len(v))
			copy(cp, v)
			out.Binaries[k] = cp
		}
	}
	if t.Strings != nil {
		out.Strings = make(map[string]string, len(t.Strings))
		for k, v := range t.Strings {
			out.Strings[k] = v
		}
	}
	return out
}
