// Package engine wires the detector into the tick path and owns the
// operator toggles (monitoring and auto-trade).
package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/spikebot/internal/domain"
	"github.com/betbot/spikebot/internal/events"
	"github.com/betbot/spikebot/internal/infrastructure/deriv"
	"github.com/betbot/spikebot/internal/marketstate"
	"github.com/betbot/spikebot/internal/metrics"
	"github.com/betbot/spikebot/internal/services"
	"github.com/betbot/spikebot/internal/strategies/spike"
)

var engineLog = logrus.WithField("component", "engine")

// Executor places contracts for trade signals.
type Executor interface {
	Execute(ctx context.Context, sig domain.Signal) string
}

// SessionStatus reports the stream session state.
type SessionStatus interface {
	Status() deriv.Status
}

type Options struct {
	Symbols   []domain.Symbol
	Detector  *spike.Detector
	Buffer    *marketstate.Buffer
	Lifecycle *services.LifecycleManager
	Notifier  services.Notifier
	Executor  Executor // nil disables auto-trade
	Running   bool
	AutoTrade bool
}

// Engine is the tick observer. OnTick runs on the session's read loop; the
// toggles may be flipped from any goroutine.
type Engine struct {
	symbols   []domain.Symbol
	bySymbol  map[string]domain.Symbol
	detector  *spike.Detector
	buffer    *marketstate.Buffer
	lifecycle *services.LifecycleManager
	notifier  services.Notifier
	executor  atomic.Pointer[executorRef]
	history   int

	session atomic.Value // SessionStatus

	running   atomic.Bool
	autoTrade atomic.Bool
	startedAt time.Time
}

func New(opts Options) *Engine {
	e := &Engine{
		symbols:   opts.Symbols,
		bySymbol:  make(map[string]domain.Symbol, len(opts.Symbols)),
		detector:  opts.Detector,
		buffer:    opts.Buffer,
		lifecycle: opts.Lifecycle,
		notifier:  opts.Notifier,
		startedAt: time.Now(),
	}
	if opts.Executor != nil {
		e.executor.Store(&executorRef{opts.Executor})
	}
	for _, s := range opts.Symbols {
		e.bySymbol[s.Code] = s
	}
	e.history = opts.Detector.Config().MomentumWindow
	if e.history < 3 {
		e.history = 3
	}
	e.running.Store(opts.Running)
	e.SetAutoTrade(opts.AutoTrade)
	return e
}

// AttachSession lets Status report the stream session. The session is built
// after the engine because the engine is one of its observers.
func (e *Engine) AttachSession(s SessionStatus) {
	e.session.Store(s)
}

// Start resumes detection. Ticks keep filling the buffer while stopped.
func (e *Engine) Start() {
	if !e.running.Swap(true) {
		engineLog.Info("monitoring started")
	}
}

func (e *Engine) Stop() {
	if e.running.Swap(false) {
		engineLog.Info("monitoring stopped")
	}
}

func (e *Engine) Running() bool { return e.running.Load() }

type executorRef struct{ Executor }

// SetExecutor installs the order executor. The executor depends on the
// session, which is built after the engine.
func (e *Engine) SetExecutor(x Executor) {
	if x == nil {
		e.executor.Store(nil)
		e.SetAutoTrade(false)
		return
	}
	e.executor.Store(&executorRef{x})
}

// SetAutoTrade toggles order placement for new trade signals. It stays off
// when no executor is configured and reports the resulting state.
func (e *Engine) SetAutoTrade(on bool) bool {
	x := e.executor.Load()
	if on && x == nil {
		engineLog.Warn("auto-trade requested but no executor is configured")
		on = false
	}
	if on {
		if r, ok := x.Executor.(interface{ Resume() }); ok {
			r.Resume()
		}
	}
	if e.autoTrade.Swap(on) != on {
		engineLog.Infof("auto-trade set to %v", on)
	}
	return on
}

func (e *Engine) AutoTrade() bool { return e.autoTrade.Load() }

// OnTick evaluates the symbol's history after the session has buffered the tick.
func (e *Engine) OnTick(ctx context.Context, tick domain.Tick) error {
	if !e.running.Load() {
		return nil
	}
	hist := e.buffer.Last(tick.Symbol, e.history)
	sig := e.detector.Evaluate(tick.Symbol, hist, tick.ReceivedAt)
	if sig == nil {
		return nil
	}
	metrics.ObserveSignal(sig.Symbol, string(sig.Kind))

	if sig.Kind == domain.KindEarlyWarning {
		e.notifier.Notify(&events.SignalEvent{
			Kind:      events.KindEarlyWarning,
			Signal:    *sig,
			Symbol:    e.bySymbol[sig.Symbol],
			Timestamp: tick.ReceivedAt,
		})
		return nil
	}

	x := e.executor.Load()
	auto := e.autoTrade.Load() && x != nil
	snap := e.lifecycle.Open(sig, auto)
	if auto {
		x.Execute(ctx, snap)
	}
	return nil
}

// PriceView is the latest known price of a configured symbol.
type PriceView struct {
	Symbol   string  `json:"symbol"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	HasPrice bool    `json:"has_price"`
	Ticks    int     `json:"buffered_ticks"`
}

// Prices lists every configured symbol in configuration order.
func (e *Engine) Prices() []PriceView {
	out := make([]PriceView, 0, len(e.symbols))
	for _, s := range e.symbols {
		p, ok := e.buffer.Latest(s.Code)
		out = append(out, PriceView{
			Symbol:   s.Code,
			Name:     s.DisplayName(),
			Price:    p,
			HasPrice: ok,
			Ticks:    e.buffer.Len(s.Code),
		})
	}
	return out
}

// Status is the operator view of the bot.
type Status struct {
	Running       bool          `json:"running"`
	AutoTrade     bool          `json:"auto_trade"`
	Uptime        string        `json:"uptime"`
	Session       *deriv.Status `json:"session,omitempty"`
	Prices        []PriceView   `json:"prices"`
	Stats         domain.Stats  `json:"stats"`
	ActiveSignals int           `json:"active_signals"`
	DailyCount    int           `json:"daily_count"`
}

func (e *Engine) Status() Status {
	st := Status{
		Running:       e.Running(),
		AutoTrade:     e.AutoTrade(),
		Uptime:        time.Since(e.startedAt).Truncate(time.Second).String(),
		Prices:        e.Prices(),
		Stats:         e.lifecycle.Stats(),
		ActiveSignals: e.lifecycle.ActiveCount(),
		DailyCount:    e.lifecycle.DailyCount(),
	}
	if s, ok := e.session.Load().(SessionStatus); ok && s != nil {
		ss := s.Status()
		st.Session = &ss
	}
	return st
}

func (e *Engine) Lifecycle() *services.LifecycleManager { return e.lifecycle }

// Signals returns today's trade signals, oldest first.
func (e *Engine) Signals() []domain.Signal { return e.lifecycle.History() }

func (e *Engine) Stats() domain.Stats { return e.lifecycle.Stats() }
