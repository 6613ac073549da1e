package observability

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoverPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(ErrorLevel, &buf)

	assert.NotPanics(t, func() {
		defer RecoverPanic(logger, "tick")
		panic("boom")
	})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "boom", entry["panic"])
	assert.Equal(t, "tick", entry["context"])
	assert.Contains(t, entry["stack"], "panic_handler")
}

func TestRecoverPanicWithCallback(t *testing.T) {
	var got interface{}
	func() {
		defer RecoverPanicWithCallback(NopLogger(), "handler", func(r interface{}) { got = r })
		panic(42)
	}()
	assert.Equal(t, 42, got)

	called := false
	func() {
		defer RecoverPanicWithCallback(NopLogger(), "handler", func(interface{}) { called = true })
	}()
	assert.False(t, called)
}
