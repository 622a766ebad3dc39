package spike

import "time"

// cooldown remembers the last emission per symbol for one signal kind.
type cooldown struct {
	window time.Duration
	last   map[string]time.Time
}

func newCooldown(window time.Duration) *cooldown {
	return &cooldown{window: window, last: make(map[string]time.Time)}
}

// ready reports whether symbol may emit at t, and how long is left otherwise.
func (c *cooldown) ready(symbol string, t time.Time) (bool, time.Duration) {
	last, ok := c.last[symbol]
	if !ok {
		return true, 0
	}
	elapsed := t.Sub(last)
	if elapsed >= c.window {
		return true, 0
	}
	return false, c.window - elapsed
}

func (c *cooldown) mark(symbol string, t time.Time) {
	c.last[symbol] = t
}

func (c *cooldown) lastEmission(symbol string) (time.Time, bool) {
	t, ok := c.last[symbol]
	return t, ok
}
