package serde

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mats-go/mats/trace"
)

type orderRequest struct {
	OrderID string
	Amount  int
}

func TestJSONSerializer_EncodeDecodeRoundTrip(t *testing.T) {
	s := NewJSONSerializer()
	s.RegisterType("orderRequest", orderRequest{})

	in := orderRequest{OrderID: "o-1", Amount: 42}
	b, err := s.Encode(in, "orderRequest")
	require.NoError(t, err)

	out, err := s.Decode(b, "orderRequest")
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestJSONSerializer_NameFor(t *testing.T) {
	s := NewJSONSerializer()
	s.RegisterType("orderRequest", orderRequest{})

	name, ok := s.NameFor(orderRequest{OrderID: "o-2"})
	require.True(t, ok)
	assert.Equal(t, "orderRequest", name)

	name, ok = s.NameFor(&orderRequest{OrderID: "o-2"})
	require.True(t, ok, "NameFor must dereference pointers like RegisterType does")
	assert.Equal(t, "orderRequest", name)

	_, ok = s.NameFor(42)
	assert.False(t, ok)
}

func TestJSONSerializer_Decode_UnregisteredType(t *testing.T) {
	s := NewJSONSerializer()
	_, err := s.Decode([]byte(`{}`), "nope")
	require.Error(t, err)
	var target *ErrUnregisteredType
	assert.ErrorAs(t, err, &target)
}

func TestJSONSerializer_TraceRoundTrip(t *testing.T) {
	s := NewJSONSerializer()
	tr := trace.NewTrace("tid-1", "A", "B", trace.EncodedValue{Bytes: []byte("x"), ClassName: "string"}, "", nil)
	tr.SetProperty("k", trace.EncodedValue{Bytes: []byte("v"), ClassName: "string"})

	b, err := s.EncodeTrace(tr)
	require.NoError(t, err)

	out, err := s.DecodeTrace(b)
	require.NoError(t, err)
	assert.Equal(t, tr.TraceID, out.TraceID)
	assert.Equal(t, len(tr.Calls), len(out.Calls))
	v, ok := out.GetProperty("k")
	require.True(t, ok)
	assert.Equal(t, "v", string(v.Bytes))
}
