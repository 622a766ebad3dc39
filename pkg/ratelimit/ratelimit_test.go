package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucket_ExhaustsCapacity(t *testing.T) {
	tb := NewTokenBucket(2, 1, time.Second)
	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())
}

func TestSlidingWindow_LimitAndRecovery(t *testing.T) {
	sw := NewSlidingWindow(2, 50*time.Millisecond)
	assert.True(t, sw.Allow())
	assert.True(t, sw.Allow())
	assert.False(t, sw.Allow())

	start := time.Now()
	require.NoError(t, sw.Wait(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
}

func TestSlidingWindow_WaitHonoursContext(t *testing.T) {
	sw := NewSlidingWindow(1, time.Hour)
	require.True(t, sw.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sw.Wait(ctx), context.DeadlineExceeded)
}

func TestManager_PerChatLimiters(t *testing.T) {
	m := NewManager()
	a := m.Get(TelegramChat + ":1")
	b := m.Get(TelegramChat + ":2")
	assert.NotSame(t, a, b)
	assert.Same(t, a, m.Get(TelegramChat+":1"))

	assert.True(t, m.Allow(TelegramChat+":1"))
	assert.False(t, m.Allow(TelegramChat+":1"))
	assert.True(t, m.Allow(TelegramChat+":2"))

	assert.NotNil(t, m.Get("unknown"))
	m.Set("custom", NewSlidingWindow(1, time.Hour))
	assert.True(t, m.Allow("custom"))
	assert.False(t, m.Allow("custom"))
}
