package spike

import (
	"fmt"
	"time"
)

// Config holds the detector tunables. None of the values are "correct"; they are
// operational knobs carried over from live tuning.
type Config struct {
	SpikeThreshold        float64       // single-tick delta that counts as a spike
	AccelerationThreshold float64       // minimum |Δ(delta)| for an early warning
	MomentumWindow        int           // points inspected for momentum (W)
	PredictionEnabled     bool          // early warnings on/off
	EarlyWarningCooldown  time.Duration // per symbol
	TradeSignalCooldown   time.Duration // per symbol
	StopDistance          float64       // price units between entry and stop loss
	TargetDistance        float64       // price units between entry and take profit
}

// DefaultConfig returns the defaults used in production.
func DefaultConfig() Config {
	return Config{
		SpikeThreshold:        1.0,
		AccelerationThreshold: 0.3,
		MomentumWindow:        5,
		PredictionEnabled:     true,
		EarlyWarningCooldown:  60 * time.Second,
		TradeSignalCooldown:   180 * time.Second,
		StopDistance:          15,
		TargetDistance:        30,
	}
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.SpikeThreshold <= 0 {
		return fmt.Errorf("spike_threshold must be > 0")
	}
	if c.AccelerationThreshold <= 0 {
		return fmt.Errorf("acceleration_threshold must be > 0")
	}
	if c.MomentumWindow < 3 {
		return fmt.Errorf("momentum_window must be >= 3, got %d", c.MomentumWindow)
	}
	if c.EarlyWarningCooldown < 0 || c.TradeSignalCooldown < 0 {
		return fmt.Errorf("cooldowns must not be negative")
	}
	if c.StopDistance <= 0 || c.TargetDistance <= 0 {
		return fmt.Errorf("stop_distance and target_distance must be > 0")
	}
	return nil
}
