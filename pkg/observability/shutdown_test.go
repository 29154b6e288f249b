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
	sm := NewShutdownManager(NewNopLogger(), time.Second)

	var order []string
	sm.RegisterShutdownFunc("database", func(ctx context.Context) error {
		order = append(order, "database")
		return nil
	})
	sm.RegisterShutdownFunc("redis", func(ctx context.Context) error {
		order = append(order, "redis")
		return nil
	})

	require.NoError(t, sm.Shutdown())
	assert.Equal(t, []string{"redis", "database"}, order)
}

func TestShutdownManager_CollectsErrors(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), time.Second)

	boom := errors.New("boom")
	ran := false
	sm.RegisterShutdownFunc("first", func(ctx context.Context) error {
		ran = true
		return nil
	})
	sm.RegisterShutdownFunc("second", func(ctx context.Context) error { return boom })

	err := sm.Shutdown()
	assert.ErrorIs(t, err, boom)
	assert.True(t, ran, "later failures must not skip earlier steps")
}

func TestShutdownManager_WaitForShutdownOnContext(t *testing.T) {
	srv := &http.Server{Addr: "127.0.0.1:0"}
	sm := NewShutdownManager(NewNopLogger(), time.Second, srv)

	closed := make(chan struct{})
	sm.RegisterShutdownFunc("marker", func(ctx context.Context) error {
		close(closed)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, sm.WaitForShutdown(ctx))
	select {
	case <-closed:
	default:
		t.Fatal("shutdown func was not called")
	}
}

func TestNewShutdownManager_DefaultTimeout(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), 0)
	assert.Equal(t, 30*time.Second, sm.timeout)
}
