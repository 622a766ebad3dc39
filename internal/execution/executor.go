// Package execution places Deriv contracts for trade signals when auto-trade
// is on and reports their settlement.
package execution

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/spikebot/internal/domain"
	"github.com/betbot/spikebot/internal/events"
	"github.com/betbot/spikebot/internal/infrastructure/deriv"
	"github.com/betbot/spikebot/internal/metrics"
	"github.com/betbot/spikebot/internal/risk"
	"github.com/betbot/spikebot/pkg/ratelimit"
)

var execLog = logrus.WithField("component", "executor")

// Broker is the part of the Deriv session the executor drives.
type Broker interface {
	PlaceOrder(ctx context.Context, req deriv.OrderRequest) (*deriv.Purchase, error)
	SubscribeContract(ctx context.Context, contractID int64, fn deriv.ContractHandler) error
}

// Notifier receives order and settlement events.
type Notifier interface {
	Notify(ev events.Event)
}

type Config struct {
	Stake        decimal.Decimal
	Currency     string
	Duration     time.Duration
	OrderTimeout time.Duration
	Breaker      *risk.CircuitBreaker // nil never halts
}

func (c *Config) applyDefaults() {
	if c.Stake.IsZero() {
		c.Stake = decimal.RequireFromString("0.35")
	}
	if c.Currency == "" {
		c.Currency = "USD"
	}
	if c.Duration <= 0 {
		c.Duration = 180 * time.Second
	}
	if c.OrderTimeout <= 0 {
		c.OrderTimeout = 30 * time.Second
	}
}

// Executor turns trade signals into contract purchases. Every order runs on
// its own goroutine so the tick path never waits on the broker.
type Executor struct {
	cfg      Config
	broker   Broker
	notifier Notifier
	limits   *ratelimit.Manager
	inFlight *signalGate
	now      func() time.Time

	wg sync.WaitGroup
}

func NewExecutor(cfg Config, broker Broker, notifier Notifier, limits *ratelimit.Manager) *Executor {
	cfg.applyDefaults()
	if limits == nil {
		limits = ratelimit.NewManager()
	}
	return &Executor{
		cfg:      cfg,
		broker:   broker,
		notifier: notifier,
		limits:   limits,
		inFlight: newSignalGate(cfg.OrderTimeout),
		now:      time.Now,
	}
}

// Execute starts buying a contract for sig and returns the order reference,
// or "" if an order for the same signal is already in flight.
func (e *Executor) Execute(ctx context.Context, sig domain.Signal) string {
	if err := e.inFlight.acquire(sig.ID); err != nil {
		execLog.Warnf("skip order for signal #%d: %v", sig.ID, err)
		return ""
	}
	ref := uuid.NewString()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.inFlight.release(sig.ID)
		e.run(ctx, sig, ref)
	}()
	return ref
}

// Wait blocks until every started order has been placed or has failed.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// Resume clears a tripped circuit breaker.
func (e *Executor) Resume() {
	if e.cfg.Breaker.Halted() {
		execLog.Info("circuit breaker reset")
	}
	e.cfg.Breaker.Resume()
}

func (e *Executor) run(ctx context.Context, sig domain.Signal, ref string) {
	if err := e.cfg.Breaker.AllowTrading(); err != nil {
		e.fail(sig, ref, err)
		return
	}
	if err := e.limits.Wait(ctx, ratelimit.DerivOrder); err != nil {
		e.fail(sig, ref, err)
		return
	}

	octx, cancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
	defer cancel()
	req := deriv.OrderRequest{
		Symbol:       sig.Symbol,
		ContractType: sig.Direction.ContractType(),
		Amount:       e.cfg.Stake,
		Currency:     e.cfg.Currency,
		Duration:     int(e.cfg.Duration / time.Second),
		DurationUnit: "s",
		Ref:          ref,
	}
	execLog.Infof("placing %s %s %s for signal #%d (ref %s)", req.ContractType, sig.Symbol, e.cfg.Stake.StringFixed(2), sig.ID, ref)
	p, err := e.broker.PlaceOrder(octx, req)
	metrics.ObserveOrder(sig.Symbol, err)
	if err != nil {
		e.cfg.Breaker.OnError()
		e.fail(sig, ref, err)
		return
	}
	e.cfg.Breaker.OnSuccess()

	e.notify(&events.OrderEvent{
		Kind:       events.KindOrderPlaced,
		SignalID:   sig.ID,
		Symbol:     sig.Symbol,
		Ref:        ref,
		ContractID: p.ContractID,
		BuyPrice:   p.BuyPrice,
		Timestamp:  e.now(),
	})

	var once sync.Once
	err = e.broker.SubscribeContract(octx, p.ContractID, func(u deriv.ContractUpdate) {
		if !u.IsSold {
			return
		}
		once.Do(func() { e.settled(sig, p, u) })
	})
	if err != nil {
		execLog.WithError(err).Warnf("contract %d: no settlement updates", p.ContractID)
	}
}

func (e *Executor) settled(sig domain.Signal, p *deriv.Purchase, u deriv.ContractUpdate) {
	buy := p.BuyPrice
	if u.BuyPrice != 0 {
		buy = decimal.NewFromFloat(u.BuyPrice)
	}
	profit := decimal.NewFromFloat(u.Profit)
	e.cfg.Breaker.AddPnL(profit)
	execLog.Infof("contract %d for signal #%d %s, profit %.2f", u.ContractID, sig.ID, u.Status, u.Profit)
	e.notify(&events.SettlementEvent{
		SignalID:   sig.ID,
		Symbol:     sig.Symbol,
		ContractID: u.ContractID,
		Status:     u.Status,
		BuyPrice:   buy,
		SellPrice:  decimal.NewFromFloat(u.SellPrice),
		Profit:     profit,
		Timestamp:  e.now(),
	})
}

func (e *Executor) fail(sig domain.Signal, ref string, err error) {
	execLog.WithError(err).Warnf("order for signal #%d on %s failed", sig.ID, sig.Symbol)
	e.notify(&events.OrderEvent{
		Kind:      events.KindOrderFailed,
		SignalID:  sig.ID,
		Symbol:    sig.Symbol,
		Ref:       ref,
		Err:       err.Error(),
		Timestamp: e.now(),
	})
}

func (e *Executor) notify(ev events.Event) {
	if e.notifier != nil {
		e.notifier.Notify(ev)
	}
}
