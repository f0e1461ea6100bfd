// Package initiate implements the zero-stage producer surface: a
// MatsInitiate-style builder that opens a coordinator scope containing only
// sends/requests. The same Builder type backs both the top-level Initiator
// (entering a flow from outside any stage) and stage.Context.Initiate
// (launching an independent flow alongside the current one, from inside a
// stage, joining the same broker transaction).
package initiate

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mats-go/mats/broker"
	"github.com/mats-go/mats/serde"
	"github.com/mats-go/mats/trace"
	"github.com/mats-go/mats/txn"
)

// Builder is the outgoing-message surface exposed to initiating code. It is
// deliberately narrower than the stage-context outgoing builder: there is no
// Next (it requires a subsequent stage in the same endpoint, which does not
// exist at initiation) and no Reply (there is no stack to pop). Every Send
// or Request call appends one message to sends, all of which are flushed to
// the broker session within the same coordinator scope — multiple calls in
// one Initiate lambda therefore share one broker transaction.
type Builder struct {
	from       string
	serializer serde.Serializer
	sess       broker.Session
	sends      []pendingMessage
}

type pendingMessage struct {
	queueID string
	tr      *trace.Trace
}

// NewBuilder returns a Builder that sends as identity "from", encoding with
// serializer and buffering onto sess until the caller flushes it.
func NewBuilder(from string, serializer serde.Serializer, sess broker.Session) *Builder {
	return &Builder{from: from, serializer: serializer, sess: sess}
}

// Send enqueues a fire-and-forget message to the target stage/endpoint id.
// data's declared type name is resolved via the serializer's reverse type
// lookup (serde.Serializer.NameFor), so callers pass plain Go values.
func (b *Builder) Send(to string, data any) error {
	enc, err := b.encode(data)
	if err != nil {
		return err
	}
	traceID := uuid.NewString()
	tr := trace.NewTrace(traceID, b.from, to, enc, "", nil)
	b.sends = append(b.sends, pendingMessage{queueID: to, tr: tr})
	return nil
}

// Request sends a message expecting a reply to be routed to replyTo, with
// initialState seeding the frame's state that will flow back verbatim at
// reply time.
func (b *Builder) Request(to string, data any, replyTo string, initialState any) error {
	enc, err := b.encode(data)
	if err != nil {
		return err
	}
	stateEnc, err := b.encode(initialState)
	if err != nil {
		return err
	}
	traceID := uuid.NewString()
	tr := trace.NewTrace(traceID, b.from, to, enc, replyTo, &stateEnc)
	b.sends = append(b.sends, pendingMessage{queueID: to, tr: tr})
	return nil
}

func (b *Builder) encode(value any) (trace.EncodedValue, error) {
	if value == nil {
		return trace.EncodedValue{}, nil
	}
	name, ok := b.serializer.NameFor(value)
	if !ok {
		return trace.EncodedValue{}, &txn.ErrSerialization{Op: "encode", Cause: fmt.Errorf("type not registered with serializer: %T", value)}
	}
	bytes, err := b.serializer.Encode(value, name)
	if err != nil {
		return trace.EncodedValue{}, &txn.ErrSerialization{Op: "encode", Cause: err}
	}
	return trace.EncodedValue{Bytes: bytes, ClassName: name}, nil
}

// Flush sends every buffered message on sess, within the session's current
// broker transaction. It does not commit; the coordinator does that. Called
// by Initiator.Initiate for top-level flows and by stage.Context.Initiate
// for nested ones.
func (b *Builder) Flush(ctx context.Context) error {
	for _, m := range b.sends {
		body, err := b.serializer.EncodeTrace(m.tr)
		if err != nil {
			return &txn.ErrSerialization{Op: "encodeTrace", Cause: err}
		}
		headers := map[string]string{"traceId": m.tr.TraceID}
		if err := b.sess.Send(ctx, m.queueID, body, headers); err != nil {
			return &txn.ErrBroker{Op: "send", Cause: err}
		}
	}
	return nil
}

// Lambda is user code that builds one or more outgoing messages via the
// Builder it is given.
type Lambda func(b *Builder) error

// Initiator is the entry point for starting a flow from outside any stage.
// It wraps the coordinator in a Factory-provided broker session.
type Initiator struct {
	id         string
	factory    broker.Factory
	serializer serde.Serializer
	coord      *txn.Coordinator
}

// New returns an Initiator identified as id (used as the Call.From on every
// message it sends) backed by the given broker Factory and coordinator.
func New(id string, factory broker.Factory, serializer serde.Serializer, coord *txn.Coordinator) *Initiator {
	return &Initiator{id: id, factory: factory, serializer: serializer, coord: coord}
}

// Initiate opens one broker session, runs lambda against a fresh Builder,
// and commits or rolls back the resulting sends as a single BE-1PC scope
// with no database connection ever opened (an Initiator never touches a
// database connection itself; see stage.Context.Initiate for the in-stage
// equivalent which can share the stage's DB scope).
func (i *Initiator) Initiate(ctx context.Context, lambda Lambda) error {
	sess, err := i.factory.NewSession(ctx)
	if err != nil {
		return &txn.ErrBroker{Op: "newSession", Cause: err}
	}
	defer sess.Close()

	traceID := uuid.NewString()
	return i.coord.Run(ctx, traceID, sess, nil, func(ctx context.Context, _ *txn.Scope) error {
		b := NewBuilder(i.id, i.serializer, sess)
		if err := lambda(b); err != nil {
			return err
		}
		return b.Flush(ctx)
	})
}
