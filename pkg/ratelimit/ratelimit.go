// Package ratelimit paces outbound calls to third-party APIs.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is satisfied by TokenBucket and SlidingWindow.
type RateLimiter interface {
	Wait(ctx context.Context) error
	Allow() bool
}

// TokenBucket refills refillRate tokens per second up to capacity.
type TokenBucket struct {
	capacity   int
	tokens     int
	refillRate int
	windowSize time.Duration
	lastRefill time.Time
	mu         sync.Mutex
}

func NewTokenBucket(capacity, refillRate int, windowSize time.Duration) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     capacity,
		refillRate: refillRate,
		windowSize: windowSize,
		lastRefill: time.Now(),
	}
}

func (tb *TokenBucket) refill() {
	now := time.Now()
	tokensToAdd := int(now.Sub(tb.lastRefill).Seconds()) * tb.refillRate
	if tokensToAdd > 0 {
		tb.tokens = min(tb.capacity, tb.tokens+tokensToAdd)
		tb.lastRefill = now
	}
}

func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is available or ctx is done.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		if tb.Allow() {
			return nil
		}
		waitTime := tb.windowSize
		if tb.refillRate > 0 {
			waitTime = time.Second / time.Duration(tb.refillRate)
		}
		if err := sleep(ctx, waitTime); err != nil {
			return err
		}
	}
}

// SlidingWindow allows at most limit requests in any windowSize span.
type SlidingWindow struct {
	limit      int
	windowSize time.Duration
	requests   []time.Time
	mu         sync.Mutex
}

func NewSlidingWindow(limit int, windowSize time.Duration) *SlidingWindow {
	return &SlidingWindow{
		limit:      limit,
		windowSize: windowSize,
		requests:   make([]time.Time, 0, limit),
	}
}

// prune drops requests outside the window. Caller holds mu.
func (sw *SlidingWindow) prune(now time.Time) {
	cutoff := now.Add(-sw.windowSize)
	i := 0
	for i < len(sw.requests) && !sw.requests[i].After(cutoff) {
		i++
	}
	sw.requests = sw.requests[i:]
}

func (sw *SlidingWindow) Allow() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	now := time.Now()
	sw.prune(now)
	if len(sw.requests) >= sw.limit {
		return false
	}
	sw.requests = append(sw.requests, now)
	return true
}

func (sw *SlidingWindow) Wait(ctx context.Context) error {
	for {
		if sw.Allow() {
			return nil
		}
		sw.mu.Lock()
		waitTime := 100 * time.Millisecond
		if len(sw.requests) > 0 {
			if d := sw.windowSize - time.Since(sw.requests[0]); d > 0 {
				waitTime = d
			}
		}
		sw.mu.Unlock()
		if err := sleep(ctx, waitTime); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Endpoint keys with built-in limits.
const (
	TelegramGlobal = "telegram:global"
	TelegramChat   = "telegram:chat"
	DerivOrder     = "deriv:order"
)

// Manager hands out limiters by endpoint key. Unknown keys share a permissive fallback.
type Manager struct {
	limiters map[string]RateLimiter
	fallback RateLimiter
	mu       sync.RWMutex
}

func NewManager() *Manager {
	m := &Manager{
		limiters: make(map[string]RateLimiter),
		fallback: NewSlidingWindow(5000, 10*time.Second),
	}
	// Telegram bot API: ~30 msg/s overall, ~1 msg/s into a single chat.
	m.limiters[TelegramGlobal] = NewTokenBucket(30, 30, time.Second)
	// Deriv allows a few buys per second per connection.
	m.limiters[DerivOrder] = NewSlidingWindow(5, time.Second)
	return m
}

// Set overrides or registers a limiter for key.
func (m *Manager) Set(key string, l RateLimiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[key] = l
}

// Get returns the limiter for key. Keys with the TelegramChat prefix get a
// per-chat limiter created on first use.
func (m *Manager) Get(key string) RateLimiter {
	m.mu.RLock()
	l, ok := m.limiters[key]
	m.mu.RUnlock()
	if ok {
		return l
	}
	if len(key) > len(TelegramChat) && key[:len(TelegramChat)] == TelegramChat {
		m.mu.Lock()
		defer m.mu.Unlock()
		if l, ok := m.limiters[key]; ok {
			return l
		}
		l = NewSlidingWindow(1, time.Second)
		m.limiters[key] = l
		return l
	}
	return m.fallback
}

func (m *Manager) Wait(ctx context.Context, key string) error {
	return m.Get(key).Wait(ctx)
}

func (m *Manager) Allow(key string) bool {
	return m.Get(key).Allow()
}
