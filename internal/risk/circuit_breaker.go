// Package risk guards automatic order placement.
package risk

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// ErrCircuitBreakerOpen means automatic trading is halted.
var ErrCircuitBreakerOpen = errors.New("circuit breaker open")

// CircuitBreakerConfig limits; a value <= 0 disables that limit.
type CircuitBreakerConfig struct {
	// MaxConsecutiveErrors counts failed order placements in a row.
	MaxConsecutiveErrors int64
	// DailyLossLimit is compared against the day's settled profit.
	DailyLossLimit decimal.Decimal
	Location       *time.Location
}

// CircuitBreaker is checked on every order. The error counter and halt flag
// are atomics; the daily profit needs a mutex because it is a decimal.
type CircuitBreaker struct {
	halted            atomic.Bool
	consecutiveErrors atomic.Int64
	maxErrors         int64

	lossLimit decimal.Decimal
	loc       *time.Location
	now       func() time.Time

	mu       sync.Mutex
	day      string
	dailyPnL decimal.Decimal
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &CircuitBreaker{
		maxErrors: cfg.MaxConsecutiveErrors,
		lossLimit: cfg.DailyLossLimit,
		loc:       cfg.Location,
		now:       time.Now,
	}
}

// Halt stops trading until Resume.
func (cb *CircuitBreaker) Halt() {
	if cb == nil {
		return
	}
	cb.halted.Store(true)
}

// Resume re-opens trading and clears the error streak. The day's profit is kept.
func (cb *CircuitBreaker) Resume() {
	if cb == nil {
		return
	}
	cb.halted.Store(false)
	cb.consecutiveErrors.Store(0)
}

func (cb *CircuitBreaker) Halted() bool {
	return cb != nil && cb.halted.Load()
}

// AllowTrading returns ErrCircuitBreakerOpen once a limit has been hit.
func (cb *CircuitBreaker) AllowTrading() error {
	if cb == nil {
		return nil
	}
	if cb.halted.Load() {
		return ErrCircuitBreakerOpen
	}
	if cb.maxErrors > 0 && cb.consecutiveErrors.Load() >= cb.maxErrors {
		cb.halted.Store(true)
		return ErrCircuitBreakerOpen
	}
	if cb.lossLimit.IsPositive() {
		cb.mu.Lock()
		cb.rollDayLocked()
		breached := cb.dailyPnL.LessThanOrEqual(cb.lossLimit.Neg())
		cb.mu.Unlock()
		if breached {
			cb.halted.Store(true)
			return ErrCircuitBreakerOpen
		}
	}
	return nil
}

func (cb *CircuitBreaker) OnSuccess() {
	if cb == nil {
		return
	}
	cb.consecutiveErrors.Store(0)
}

func (cb *CircuitBreaker) OnError() {
	if cb == nil {
		return
	}
	cb.consecutiveErrors.Add(1)
}

// AddPnL records a settled contract's profit (negative for a loss).
func (cb *CircuitBreaker) AddPnL(delta decimal.Decimal) {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.rollDayLocked()
	cb.dailyPnL = cb.dailyPnL.Add(delta)
}

// DailyPnL is today's settled profit.
func (cb *CircuitBreaker) DailyPnL() decimal.Decimal {
	if cb == nil {
		return decimal.Zero
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.rollDayLocked()
	return cb.dailyPnL
}

func (cb *CircuitBreaker) rollDayLocked() {
	day := cb.now().In(cb.loc).Format("2006-01-02")
	if day != cb.day {
		cb.day = day
		cb.dailyPnL = decimal.Zero
	}
}
