package matstypeutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSafeString(t *testing.T) {
	s, ok := SafeString("hello")
	assert.True(t, ok)
	assert.Equal(t, "hello", s)

	_, ok = SafeString(42)
	assert.False(t, ok)

	_, ok = SafeString(nil)
	assert.False(t, ok)
}

func TestSafeStringDefault(t *testing.T) {
	assert.Equal(t, "hello", SafeStringDefault("hello", "fallback"))
	assert.Equal(t, "fallback", SafeStringDefault(42, "fallback"))
}

func TestSafeBool(t *testing.T) {
	b, ok := SafeBool(true)
	assert.True(t, ok)
	assert.True(t, b)

	_, ok = SafeBool("true")
	assert.False(t, ok)
}

func TestSafeInt_HandlesFloat64FromProtobufDecoding(t *testing.T) {
	i, ok := SafeInt(float64(7))
	assert.True(t, ok)
	assert.Equal(t, 7, i)

	i, ok = SafeInt(7)
	assert.True(t, ok)
	assert.Equal(t, 7, i)

	_, ok = SafeInt("7")
	assert.False(t, ok)
}

func TestGetNestedValue(t *testing.T) {
	data := map[string]any{
		"filter": map[string]any{
			"state_class": "orderState",
		},
	}

	v, ok := GetNestedValue(data, "filter.state_class")
	assert.True(t, ok)
	assert.Equal(t, "orderState", v)

	_, ok = GetNestedValue(data, "filter.missing")
	assert.False(t, ok)

	_, ok = GetNestedValue(data, "")
	assert.False(t, ok)
}

func TestGetNestedString(t *testing.T) {
	data := map[string]any{"a": map[string]any{"b": "c"}}
	s, ok := GetNestedString(data, "a.b")
	assert.True(t, ok)
	assert.Equal(t, "c", s)

	_, ok = GetNestedString(data, "a.missing")
	assert.False(t, ok)
}
