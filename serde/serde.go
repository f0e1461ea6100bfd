// Package serde defines the encode/decode surface the core depends on for
// user payloads and Traces, and a JSON reference implementation of it.
package serde

import "github.com/mats-go/mats/trace"

// Serializer is the encode/decode surface the coordinator and stage
// runtime depend on. Implementations must be safe for concurrent use:
// stage workers for the same process share one Serializer instance.
type Serializer interface {
	// Encode marshals value into bytes tagged with declaredType.
	Encode(value any, declaredType string) ([]byte, error)
	// Decode unmarshals bytes previously produced by Encode for
	// declaredType into a fresh value of the type registered under that
	// name.
	Decode(data []byte, declaredType string) (any, error)
	// EncodeTrace marshals a Trace to bytes.
	EncodeTrace(t *trace.Trace) ([]byte, error)
	// DecodeTrace unmarshals bytes previously produced by EncodeTrace.
	DecodeTrace(data []byte) (*trace.Trace, error)
	// NameFor returns the declared class name a value was registered
	// under, so call sites that only have a Go value (not a class name)
	// can still build an EncodedValue. This is the other half of the
	// type-token pattern RegisterType establishes.
	NameFor(value any) (string, bool)
}

// ErrUnregisteredType is returned by Decode when declaredType was never
// passed to RegisterType.
type ErrUnregisteredType struct {
	TypeName string
}

func (e *ErrUnregisteredType) Error() string {
	return "serde: type not registered: " + e.TypeName
}
