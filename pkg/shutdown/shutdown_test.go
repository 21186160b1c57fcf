package shutdown

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownRunsAllOnce(t *testing.T) {
	m := NewManager()
	var calls atomic.Int32
	m.OnShutdown("a", func(context.Context) error { calls.Add(1); return nil })
	m.OnShutdown("b", func(context.Context) error { calls.Add(1); return errors.New("boom") })
	m.OnShutdown("nil", nil)

	err := m.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shutdown b")
	assert.Equal(t, int32(2), calls.Load())

	assert.NoError(t, m.Shutdown(context.Background()))
	assert.Equal(t, int32(2), calls.Load())
}

func TestShutdownTimeout(t *testing.T) {
	m := NewManager()
	release := make(chan struct{})
	defer close(release)
	m.OnShutdown("slow", func(context.Context) error { <-release; return nil })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := m.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestShutdownEmpty(t *testing.T) {
	assert.NoError(t, NewManager().Shutdown(context.Background()))
}

func TestWaitForSignalReturnsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Nil(t, WaitForSignal(ctx))
}
