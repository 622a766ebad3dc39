// Package spike implements the per-tick spike and momentum detector for Boom/Crash
// style instruments.
package spike

import (
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/spikebot/internal/domain"
)

var detectorLog = logrus.WithField("component", "spike_detector")

// Detector evaluates a symbol's buffered history on every tick.
//
// It is not safe for concurrent use: the stream session calls it from its single
// dispatch path. Apart from the cooldown timestamps it keeps no state, so the same
// ordered tick sequence always yields the same signals.
type Detector struct {
	cfg     Config
	classes map[string]domain.SpikeClass

	earlyCooldown *cooldown
	tradeCooldown *cooldown
}

// NewDetector builds a detector for the configured symbols.
func NewDetector(cfg Config, symbols []domain.Symbol) *Detector {
	classes := make(map[string]domain.SpikeClass, len(symbols))
	for _, s := range symbols {
		classes[s.Code] = s.Class
	}
	return &Detector{
		cfg:           cfg,
		classes:       classes,
		earlyCooldown: newCooldown(cfg.EarlyWarningCooldown),
		tradeCooldown: newCooldown(cfg.TradeSignalCooldown),
	}
}

// Config returns the detector configuration.
func (d *Detector) Config() Config {
	return d.cfg
}

// Evaluate runs reactive and predictive detection against history (oldest first, newest
// last) for a tick received at t. It returns nil when nothing fires.
//
// A trade signal takes precedence: when both detections fire on the same tick only the
// trade signal is emitted and the early-warning cooldown is left untouched.
func (d *Detector) Evaluate(symbol string, history []float64, t time.Time) *domain.Signal {
	class := d.classes[symbol]
	if class != domain.SpikeClassUp && class != domain.SpikeClassDown {
		return nil
	}

	if sig := d.reactive(symbol, class, history, t); sig != nil {
		return sig
	}
	if d.cfg.PredictionEnabled {
		return d.predictive(symbol, class, history, t)
	}
	return nil
}

func (d *Detector) reactive(symbol string, class domain.SpikeClass, history []float64, t time.Time) *domain.Signal {
	n := len(history)
	if n < 2 {
		return nil
	}
	current := history[n-1]
	diff := current - history[n-2]

	var direction domain.Direction
	switch {
	case class == domain.SpikeClassUp && diff > d.cfg.SpikeThreshold:
		direction = domain.DirectionSell
	case class == domain.SpikeClassDown && diff < -d.cfg.SpikeThreshold:
		direction = domain.DirectionBuy
	default:
		return nil
	}

	if ok, left := d.tradeCooldown.ready(symbol, t); !ok {
		detectorLog.Debugf("trade signal suppressed: symbol=%s diff=%.4f cooldown_left=%s", symbol, diff, left)
		return nil
	}
	d.tradeCooldown.mark(symbol, t)

	sig := &domain.Signal{
		Kind:       domain.KindTradeSignal,
		Symbol:     symbol,
		Direction:  direction,
		EntryPrice: current,
		Spike:      math.Abs(diff),
		CreatedAt:  t,
		Status:     domain.StatusPending,
	}
	if direction == domain.DirectionSell {
		sig.StopLoss = current + d.cfg.StopDistance
		sig.TakeProfit = current - d.cfg.TargetDistance
	} else {
		sig.StopLoss = current - d.cfg.StopDistance
		sig.TakeProfit = current + d.cfg.TargetDistance
	}
	detectorLog.Infof("spike detected: symbol=%s diff=%.4f direction=%s entry=%.4f", symbol, diff, direction, current)
	return sig
}

func (d *Detector) predictive(symbol string, class domain.SpikeClass, history []float64, t time.Time) *domain.Signal {
	w := d.cfg.MomentumWindow
	n := len(history)
	if n < 3 || n < w {
		return nil
	}

	accel := Acceleration(history[n-3:])
	if accel <= d.cfg.AccelerationThreshold {
		return nil
	}
	if !MomentumHolds(history[n-w:], class) {
		return nil
	}

	if ok, left := d.earlyCooldown.ready(symbol, t); !ok {
		detectorLog.Debugf("early warning suppressed: symbol=%s accel=%.4f cooldown_left=%s", symbol, accel, left)
		return nil
	}
	d.earlyCooldown.mark(symbol, t)

	direction := domain.DirectionSell
	if class == domain.SpikeClassDown {
		direction = domain.DirectionBuy
	}
	detectorLog.Infof("early warning: symbol=%s accel=%.4f", symbol, accel)
	return &domain.Signal{
		Kind:       domain.KindEarlyWarning,
		Symbol:     symbol,
		Direction:  direction,
		EntryPrice: history[n-1],
		Accel:      accel,
		CreatedAt:  t,
	}
}

// LastEmission returns when symbol last emitted a signal of kind.
func (d *Detector) LastEmission(symbol string, kind domain.SignalKind) (time.Time, bool) {
	if kind == domain.KindEarlyWarning {
		return d.earlyCooldown.lastEmission(symbol)
	}
	return d.tradeCooldown.lastEmission(symbol)
}

// Acceleration is |(p[-1]-p[-2]) - (p[-2]-p[-3])| over the last three points.
func Acceleration(p []float64) float64 {
	n := len(p)
	if n < 3 {
		return 0
	}
	return math.Abs((p[n-1] - p[n-2]) - (p[n-2] - p[n-3]))
}

// MomentumHolds reports whether at least len(window)-2 of the len(window)-1 deltas move
// in the class's expected direction.
func MomentumHolds(window []float64, class domain.SpikeClass) bool {
	if len(window) < 3 {
		return false
	}
	agree := 0
	for i := 1; i < len(window); i++ {
		delta := window[i] - window[i-1]
		if (class == domain.SpikeClassUp && delta > 0) || (class == domain.SpikeClassDown && delta < 0) {
			agree++
		}
	}
	return agree >= len(window)-2
}
