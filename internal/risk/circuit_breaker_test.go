package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_ConsecutiveErrors(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxConsecutiveErrors: 2})
	require.NoError(t, cb.AllowTrading())

	cb.OnError()
	cb.OnSuccess()
	cb.OnError()
	require.NoError(t, cb.AllowTrading(), "success resets the streak")

	cb.OnError()
	assert.ErrorIs(t, cb.AllowTrading(), ErrCircuitBreakerOpen)
	assert.True(t, cb.Halted())

	cb.Resume()
	assert.NoError(t, cb.AllowTrading())
}

func TestCircuitBreaker_DailyLossRollsOver(t *testing.T) {
	now := time.Date(2026, 10, 19, 23, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(CircuitBreakerConfig{DailyLossLimit: decimal.RequireFromString("1")})
	cb.now = func() time.Time { return now }

	cb.AddPnL(decimal.RequireFromString("-0.35"))
	cb.AddPnL(decimal.RequireFromString("0.30"))
	require.NoError(t, cb.AllowTrading())

	cb.AddPnL(decimal.RequireFromString("-0.95"))
	assert.Equal(t, "-1", cb.DailyPnL().String())
	assert.ErrorIs(t, cb.AllowTrading(), ErrCircuitBreakerOpen)

	now = now.Add(2 * time.Hour)
	assert.True(t, cb.DailyPnL().IsZero())
	cb.Resume()
	assert.NoError(t, cb.AllowTrading())
}

func TestCircuitBreaker_NilAllowsEverything(t *testing.T) {
	var cb *CircuitBreaker
	cb.OnError()
	cb.AddPnL(decimal.NewFromInt(-100))
	assert.NoError(t, cb.AllowTrading())
	assert.False(t, cb.Halted())
}
