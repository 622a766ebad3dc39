package marketstate

import "sync"

// DefaultBufferSize is the per-symbol history bound.
const DefaultBufferSize = 100

// ring is a fixed-capacity FIFO of prices. head points at the oldest element.
type ring struct {
	data []float64
	head int
	size int
}

func newRing(capacity int) *ring {
	return &ring{data: make([]float64, capacity)}
}

func (r *ring) push(v float64) {
	capacity := len(r.data)
	if r.size < capacity {
		r.data[(r.head+r.size)%capacity] = v
		r.size++
		return
	}
	// full: overwrite the oldest and advance head
	r.data[r.head] = v
	r.head = (r.head + 1) % capacity
}

// last copies up to k newest prices in arrival order.
func (r *ring) last(k int) []float64 {
	if k > r.size {
		k = r.size
	}
	if k <= 0 {
		return nil
	}
	out := make([]float64, k)
	start := r.head + r.size - k
	for i := 0; i < k; i++ {
		out[i] = r.data[(start+i)%len(r.data)]
	}
	return out
}

// Buffer keeps a bounded rolling price history per symbol.
//
// Writes come from the stream session's single dispatch path; reads may also come from
// the status API, so access is guarded by an RWMutex.
type Buffer struct {
	capacity int

	mu      sync.RWMutex
	symbols map[string]*ring
}

// NewBuffer creates a buffer holding at most capacity prices per symbol.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &Buffer{
		capacity: capacity,
		symbols:  make(map[string]*ring),
	}
}

// Capacity returns the per-symbol bound.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// Append pushes price to the tail of the symbol's history, evicting the head when full.
func (b *Buffer) Append(symbol string, price float64) {
	b.mu.Lock()
	r, ok := b.symbols[symbol]
	if !ok {
		r = newRing(b.capacity)
		b.symbols[symbol] = r
	}
	r.push(price)
	b.mu.Unlock()
}

// Last returns the last k prices for symbol in arrival order, or fewer if not yet available.
func (b *Buffer) Last(symbol string, k int) []float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.symbols[symbol]
	if !ok {
		return nil
	}
	return r.last(k)
}

// History returns the full buffered history for symbol.
func (b *Buffer) History(symbol string) []float64 {
	return b.Last(symbol, b.capacity)
}

// Latest returns the newest price for symbol.
func (b *Buffer) Latest(symbol string) (float64, bool) {
	last := b.Last(symbol, 1)
	if len(last) == 0 {
		return 0, false
	}
	return last[0], true
}

// Len returns the number of buffered prices for symbol.
func (b *Buffer) Len(symbol string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if r, ok := b.symbols[symbol]; ok {
		return r.size
	}
	return 0
}

// Symbols returns the symbols that have received at least one tick.
func (b *Buffer) Symbols() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.symbols))
	for s := range b.symbols {
		out = append(out, s)
	}
	return out
}
