package ipc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterFunc("get_session_info", func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{"tempo": 120.0}, nil
	})
	reg.RegisterMutating("set_tempo", HandlerFunc(func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{"tempo": params["tempo"]}, nil
	}))

	t.Run("get", func(t *testing.T) {
		e, ok := reg.Get("get_session_info")
		require.True(t, ok)
		assert.False(t, e.Mutating)

		out, err := e.Handler.Execute(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, 120.0, out["tempo"])

		e, ok = reg.Get("set_tempo")
		require.True(t, ok)
		assert.True(t, e.Mutating)

		_, ok = reg.Get("nope")
		assert.False(t, ok)
	})

	t.Run("list is sorted", func(t *testing.T) {
		assert.Equal(t, []string{"get_session_info", "set_tempo"}, reg.List())
	})

	t.Run("unregister", func(t *testing.T) {
		assert.True(t, reg.Unregister("set_tempo"))
		assert.False(t, reg.Unregister("set_tempo"))
		assert.Equal(t, []string{"get_session_info"}, reg.List())
	})

	t.Run("invalid registration panics", func(t *testing.T) {
		assert.Panics(t, func() { reg.RegisterFunc("", nil) })
		assert.Panics(t, func() { reg.Register("ok_name", nil) })
		assert.Panics(t, func() { reg.RegisterFunc("bad name", func(context.Context, map[string]any) (map[string]any, error) { return nil, nil }) })
	})
}

func TestClassify(t *testing.T) {
	assert.Equal(t, "ok", Classify(nil))
	assert.Equal(t, "host_reported", Classify(&HostError{Message: "boom"}))
	assert.Equal(t, "timeout", Classify(ErrTimeout))
	assert.Equal(t, "connection_lost", Classify(ErrConnectionLost))
	assert.Equal(t, "invalid_command", Classify(ErrInvalidCommand))
	assert.Equal(t, "connect_error", Classify(ErrConnect))
	assert.Equal(t, "connection_closed", Classify(ErrConnectionClosed))
	assert.Equal(t, "internal", Classify(assert.AnError))
}
