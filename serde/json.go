package serde

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/mats-go/mats/trace"
)

// JSONSerializer is the reference Serializer: it encodes with
// encoding/json and decodes into types that were previously registered
// under a declared name via RegisterType. This mirrors the type-token
// pattern the core uses everywhere instead of generic methods: processor
// functions are typed `any`, and the declared class name travels
// alongside the encoded bytes so the receiving stage can ask the
// Serializer to reconstitute the concrete type.
type JSONSerializer struct {
	mu        sync.RWMutex
	registry  map[string]reflect.Type
	typeNames map[reflect.Type]string
}

// NewJSONSerializer returns an empty JSONSerializer; call RegisterType
// for every state/data/reply type the endpoints in this process use.
func NewJSONSerializer() *JSONSerializer {
	return &JSONSerializer{
		registry:  make(map[string]reflect.Type),
		typeNames: make(map[reflect.Type]string),
	}
}

// RegisterType associates a declared class name with the Go type of
// sample. sample is only used to capture its type; a pointer or a value
// may be passed, and Decode always returns a value (never a pointer) of
// that type wrapped in `any`.
func (s *JSONSerializer) RegisterType(name string, sample any) {
	t := reflect.TypeOf(sample)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry[name] = t
	s.typeNames[t] = name
}

// NameFor returns the declared class name value's type was registered
// under.
func (s *JSONSerializer) NameFor(value any) (string, bool) {
	t := reflect.TypeOf(value)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.typeNames[t]
	return name, ok
}

func (s *JSONSerializer) lookup(name string) (reflect.Type, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.registry[name]
	return t, ok
}

// Encode marshals value to JSON. declaredType is accepted for interface
// symmetry with Decode but is not required for marshaling.
func (s *JSONSerializer) Encode(value any, declaredType string) ([]byte, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("serde: encode %s: %w", declaredType, err)
	}
	return b, nil
}

// Decode unmarshals data into a fresh instance of the type registered
// under declaredType.
func (s *JSONSerializer) Decode(data []byte, declaredType string) (any, error) {
	t, ok := s.lookup(declaredType)
	if !ok {
		return nil, &ErrUnregisteredType{TypeName: declaredType}
	}
	ptr := reflect.New(t)
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("serde: decode %s: %w", declaredType, err)
	}
	return ptr.Elem().Interface(), nil
}

// wireTrace is the JSON-on-the-wire shape of a trace.Trace. It exists so
// byte payloads serialize as base64 strings via the standard json
// encoding rather than requiring a custom codec.
type wireTrace struct {
	TraceID     string                        `json:"traceId"`
	Calls       []trace.Call                  `json:"calls"`
	StackFrames []trace.StackFrame            `json:"stackFrames"`
	Properties  map[string]trace.EncodedValue `json:"properties"`
	Binaries    map[string][]byte             `json:"binaries,omitempty"`
	Strings     map[string]string             `json:"strings,omitempty"`
}

// EncodeTrace marshals a Trace to its wire JSON representation.
func (s *JSONSerializer) EncodeTrace(t *trace.Trace) ([]byte, error) {
	w := wireTrace{
		TraceID:     t.TraceID,
		Calls:       t.Calls,
		StackFrames: t.StackFrames,
		Properties:  t.Properties,
		Binaries:    t.Binaries,
		Strings:     t.Strings,
	}
	b, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("serde: encode trace: %w", err)
	}
	return b, nil
}

// DecodeTrace unmarshals a Trace from bytes produced by EncodeTrace.
func (s *JSONSerializer) DecodeTrace(data []byte) (*trace.Trace, error) {
	var w wireTrace
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("serde: decode trace: %w", err)
	}
	return &trace.Trace{
		TraceID:     w.TraceID,
		Calls:       w.Calls,
		StackFrames: w.StackFrames,
		Properties:  w.Properties,
		Binaries:    w.Binaries,
		Strings:     w.Strings,
	}, nil
}

var _ Serializer = (*JSONSerializer)(nil)
