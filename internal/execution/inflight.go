package execution

import (
	"errors"
	"sync"
	"time"
)

// ErrDuplicateInFlight means an order for the same signal is still being placed.
var ErrDuplicateInFlight = errors.New("duplicate in-flight")

// signalGate admits one order per signal id. A held id expires after ttl so a
// lost Release cannot block the signal forever.
type signalGate struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	held map[int64]time.Time // signal id -> expiry
}

func newSignalGate(ttl time.Duration) *signalGate {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &signalGate{ttl: ttl, now: time.Now, held: make(map[int64]time.Time)}
}

func (g *signalGate) acquire(id int64) error {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	for k, exp := range g.held {
		if !exp.After(now) {
			delete(g.held, k)
		}
	}
	if _, ok := g.held[id]; ok {
		return ErrDuplicateInFlight
	}
	g.held[id] = now.Add(g.ttl)
	return nil
}

func (g *signalGate) release(id int64) {
	g.mu.Lock()
	delete(g.held, id)
	g.mu.Unlock()
}
