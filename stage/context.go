// Package stage implements the per-message worker loop described by the
// stage runtime: receive, decode, run the transaction-coordinated
// processor, and send at most one outgoing message.
package stage

import (
	"fmt"
	"sync"

	"github.com/mats-go/mats/initiate"
	"github.com/mats-go/mats/serde"
	"github.com/mats-go/mats/trace"
	"github.com/mats-go/mats/txn"
)

// Processor is user code for one stage. incoming and state are already
// decoded to their registered Go types (state is nil for a stage entered
// via SEND or REQUEST; see Trace.EntryState). The Context exposes trace
// manipulation and the outgoing builder; the processor's return error
// drives the transaction coordinator's commit/rollback decision.
type Processor func(ctx *Context, incoming any, state any) error

// Context is passed to a Processor for the duration of one received
// message. It is not safe to retain or use after the Processor returns.
type Context struct {
	stageID      string
	nextStageID  string // empty if this is the last stage
	hasNext      bool
	serializer   serde.Serializer
	incomingTr   *trace.Trace
	carryState   trace.EncodedValue // state at entry, per Trace.EntryState
	hasState     bool

	mu       sync.Mutex
	used     bool // true once request/reply/next has produced an outgoing message
	outgoing *trace.Trace
	outQueue string

	initBuilder *initiate.Builder // lazily attached by the stage worker loop
}

func newContext(stageID, nextStageID string, hasNext bool, serializer serde.Serializer, incomingTr *trace.Trace) *Context {
	ctx := &Context{
		stageID:     stageID,
		nextStageID: nextStageID,
		hasNext:     hasNext,
		serializer:  serializer,
		incomingTr:  incomingTr,
	}
	if state, ok := incomingTr.EntryState(); ok {
		ctx.carryState = state
		ctx.hasState = true
	}
	return ctx
}

// TraceID returns the current flow's trace id.
func (c *Context) TraceID() string {
	return c.incomingTr.TraceID
}

// GetProperty decodes the named trace-scoped property, using the declared
// type name carried alongside it by SetProperty.
func (c *Context) GetProperty(name string) (any, bool, error) {
	enc, ok := c.incomingTr.GetProperty(name)
	if !ok {
		return nil, false, nil
	}
	v, err := c.serializer.Decode(enc.Bytes, enc.ClassName)
	if err != nil {
		return nil, false, &txn.ErrSerialization{Op: "decode", Cause: err}
	}
	return v, true, nil
}

// SetProperty encodes value and overwrites the named property on the
// outgoing trace. Per the last-write-wins contract, every hop after this
// one observes the new value until it is itself overwritten.
func (c *Context) SetProperty(name string, value any) error {
	enc, err := c.encode(value)
	if err != nil {
		return err
	}
	c.incomingTr.SetProperty(name, enc)
	return nil
}

// GetBinary reads a sideband binary set by the immediately preceding hop.
func (c *Context) GetBinary(key string) ([]byte, bool) {
	return c.incomingTr.GetBinary(key)
}

// SetBinary adds a sideband binary visible only to the next hop.
func (c *Context) SetBinary(key string, value []byte) {
	c.incomingTr.SetBinary(key, value)
}

// GetString reads a sideband string set by the immediately preceding hop.
func (c *Context) GetString(key string) (string, bool) {
	return c.incomingTr.GetString(key)
}

// SetString adds a sideband string visible only to the next hop.
func (c *Context) SetString(key, value string) {
	c.incomingTr.SetString(key, value)
}

// AppendTraceID appends suffix to the current trace id, returning the id
// the next hop's trace will carry.
func (c *Context) AppendTraceID(suffix string) string {
	id := trace.AppendTraceID(c.incomingTr.TraceID, suffix)
	c.incomingTr.TraceID = id
	c.mu.Lock()
	if c.outgoing != nil {
		c.outgoing.TraceID = id
	}
	c.mu.Unlock()
	return id
}

func (c *Context) encode(value any) (trace.EncodedValue, error) {
	if value == nil {
		return trace.EncodedValue{}, nil
	}
	name, ok := c.serializer.NameFor(value)
	if !ok {
		return trace.EncodedValue{}, &txn.ErrSerialization{Op: "encode", Cause: fmt.Errorf("type not registered with serializer: %T", value)}
	}
	bytes, err := c.serializer.Encode(value, name)
	if err != nil {
		return trace.EncodedValue{}, &txn.ErrSerialization{Op: "encode", Cause: err}
	}
	return trace.EncodedValue{Bytes: bytes, ClassName: name}, nil
}

// markUsed enforces the at-most-one-outgoing invariant for
// request/reply/next. Reply on an empty stack is the one documented
// exception: it is a silent no-op and must not consume the slot, since it
// represents "there was never a caller to reply to" rather than a second
// competing outgoing call.
func (c *Context) markUsed() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.used {
		return fmt.Errorf("stage: multiple outgoing calls on one stage invocation")
	}
	c.used = true
	return nil
}

// Request sends to target expecting a reply; legal only when a subsequent
// stage exists in this endpoint, since the pushed frame's replyTo is that
// next stage's id — the continuation this processor's own endpoint will
// run once the reply arrives.
func (c *Context) Request(target string, data any) error {
	if !c.hasNext {
		return fmt.Errorf("stage: request is not legal on the last stage of an endpoint")
	}
	if err := c.markUsed(); err != nil {
		return err
	}
	enc, err := c.encode(data)
	if err != nil {
		return err
	}
	out := c.incomingTr.CloneForNextHop()
	out.AddCallRequest(c.stageID, target, enc, c.nextStageID, c.carryState)
	c.mu.Lock()
	c.outgoing, c.outQueue = out, target
	c.mu.Unlock()
	return nil
}

// Reply sends data back to the caller that pushed the top stack frame. It
// is silently ignored (no outgoing message, slot not consumed) if the
// stack is empty, matching a stage entered via SEND where no caller is
// waiting for a reply.
func (c *Context) Reply(data any) error {
	if !c.incomingTr.HasStack() {
		return nil
	}
	if err := c.markUsed(); err != nil {
		return err
	}
	enc, err := c.encode(data)
	if err != nil {
		return err
	}
	frame, _ := c.incomingTr.TopFrame()
	out := c.incomingTr.CloneForNextHop()
	out.AddCallReply(c.stageID, enc)
	c.mu.Lock()
	c.outgoing, c.outQueue = out, frame.ReplyTo
	c.mu.Unlock()
	return nil
}

// Next moves to the next stage of the same endpoint, replacing the top
// frame's state with the current user state. Legal only when a subsequent
// stage exists.
func (c *Context) Next(data any, nextState any) error {
	if !c.hasNext {
		return fmt.Errorf("stage: next is not legal on the last stage of an endpoint")
	}
	if err := c.markUsed(); err != nil {
		return err
	}
	enc, err := c.encode(data)
	if err != nil {
		return err
	}
	stateEnc, err := c.encode(nextState)
	if err != nil {
		return err
	}
	out := c.incomingTr.CloneForNextHop()
	out.AddCallNext(c.stageID, c.nextStageID, enc, stateEnc)
	c.mu.Lock()
	c.outgoing, c.outQueue = out, c.nextStageID
	c.mu.Unlock()
	return nil
}

// State returns the state this invocation was entered with, decoded into
// the type registered under declaredType, or (nil, false, nil) if the
// stage was entered via SEND or REQUEST (no state is observable yet; see
// Trace.EntryState).
func (c *Context) State(declaredType string) (any, bool, error) {
	if !c.hasState {
		return nil, false, nil
	}
	v, err := c.serializer.Decode(c.carryState.Bytes, declaredType)
	if err != nil {
		return nil, false, &txn.ErrSerialization{Op: "decode", Cause: err}
	}
	return v, true, nil
}

// Initiate opens a nested outgoing builder for a SEND/REQUEST independent
// of the current flow (a different trace id, no interaction with the
// at-most-one-outgoing slot). The resulting messages join the same broker
// transaction as the stage's own receive/send and are flushed by the
// worker loop alongside it.
func (c *Context) Initiate(lambda func(b *initiate.Builder) error) error {
	return lambda(c.initBuilder)
}

// hasOutgoing reports whether the processor produced an outgoing message
// via Request/Reply/Next.
func (c *Context) hasOutgoing() (*trace.Trace, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outgoing, c.outQueue, c.outgoing != nil
}
