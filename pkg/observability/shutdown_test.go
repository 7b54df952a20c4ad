package observability

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownManager_ReverseOrder(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), time.Second)

	var order []string
	sm.Register("postgres", func(context.Context) error { order = append(order, "postgres"); return nil })
	sm.Register("redis", func(context.Context) error { order = append(order, "redis"); return nil })
	sm.Register("counter-queue", func(context.Context) error { order = append(order, "counter-queue"); return nil })

	require.NoError(t, sm.Shutdown())
	assert.Equal(t, []string{"counter-queue", "redis", "postgres"}, order)
}

func TestShutdownManager_CollectsErrors(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), time.Second)

	ran := false
	sm.Register("first", func(context.Context) error { ran = true; return nil })
	sm.Register("broken", func(context.Context) error { return errors.New("flush failed") })

	err := sm.Shutdown()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken: flush failed")
	assert.True(t, ran, "later hooks still run after a failure")
}

func TestShutdownManager_StopsServers(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), time.Second)
	srv := &http.Server{Addr: "127.0.0.1:0"}
	sm.AddServer(srv)

	require.NoError(t, sm.Shutdown())
	assert.ErrorIs(t, srv.ListenAndServe(), http.ErrServerClosed)
}

func TestShutdownManager_WaitForSignalContext(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), time.Second)
	called := false
	sm.Register("hook", func(context.Context) error { called = true; return nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, sm.WaitForSignal(ctx))
	assert.True(t, called)
}

func TestRecoverPanic(t *testing.T) {
	var got interface{}
	func() {
		defer RecoverPanicWithCallback(NopLogger(), "test", func(r interface{}) { got = r })
		panic("kaboom")
	}()
	assert.Equal(t, "kaboom", got)

	assert.NotPanics(t, func() {
		defer RecoverPanic(NopLogger(), "test")
		panic("again")
	})

	assert.NoError(t, MustRecover(nil))
	assert.EqualError(t, MustRecover("x"), "panic: x")
}
