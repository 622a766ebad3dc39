package shutdown

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManager_RunsAllCallbacks(t *testing.T) {
	m := NewManager()
	var n int32
	for i := 0; i < 3; i++ {
		m.OnShutdown(func(ctx context.Context) { atomic.AddInt32(&n, 1) })
	}
	m.OnShutdown(func(ctx context.Context) { panic("bad callback") })

	assert.True(t, m.Shutdown(context.Background()))
	assert.Equal(t, int32(3), atomic.LoadInt32(&n))
}

func TestManager_Timeout(t *testing.T) {
	m := NewManager()
	release := make(chan struct{})
	defer close(release)
	m.OnShutdown(func(ctx context.Context) { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.False(t, m.Shutdown(ctx))
}

func TestManager_Empty(t *testing.T) {
	assert.True(t, NewManager().Shutdown(context.Background()))
}
