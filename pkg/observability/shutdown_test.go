package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewShutdownManager_Defaults(t *testing.T) {
	sm := NewShutdownManager(nil, nil, 0)
	assert.Equal(t, 30*time.Second, sm.shutdownTimeout)
	assert.NotNil(t, sm.logger)

	sm.Register("nil", nil)
	assert.Empty(t, sm.funcs)
}

func TestShutdown_ReverseOrder(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), nil, time.Second)

	var order []string
	for _, name := range []string{"store", "consumer", "scheduler"} {
		sm.Register(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, sm.Shutdown())
	assert.Equal(t, []string{"scheduler", "consumer", "store"}, order)
}

func TestShutdown_JoinsErrors(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), nil, time.Second)
	errA := errors.New("a failed")
	errB := errors.New("b failed")

	ran := 0
	sm.Register("a", func(context.Context) error { ran++; return errA })
	sm.Register("ok", func(context.Context) error { ran++; return nil })
	sm.Register("b", func(context.Context) error { ran++; return errB })

	err := sm.Shutdown()
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Equal(t, 3, ran)
}

func TestShutdown_Timeout(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), nil, 20*time.Millisecond)

	skipped := true
	sm.Register("never", func(context.Context) error {
		skipped = false
		return nil
	})
	sm.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	err := sm.Shutdown()
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, skipped)
}

func TestShutdown_HTTPServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := &http.Server{Handler: http.NotFoundHandler()}
	served := make(chan error, 1)
	go func() { served <- server.Serve(ln) }()

	sm := NewShutdownManager(NopLogger(), server, time.Second)
	require.NoError(t, sm.Shutdown())

	select {
	case err := <-served:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(time.Second):
		t.Fatal("server did not stop")
	}
}

func TestWaitForShutdown_ContextDone(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), nil, time.Second)
	called := false
	sm.Register("step", func(context.Context) error {
		called = true
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, sm.WaitForShutdown(ctx))
	assert.True(t, called)
}
