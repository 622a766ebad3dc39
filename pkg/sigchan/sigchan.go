// Package sigchan provides a non-blocking wake-up channel that carries no data.
package sigchan

type Chan struct {
	c chan struct{}
}

func New(bufferSize int) *Chan {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Chan{c: make(chan struct{}, bufferSize)}
}

// Emit signals without blocking; the signal is dropped if the buffer is full.
func (c *Chan) Emit() {
	select {
	case c.c <- struct{}{}:
	default:
	}
}

// C is for select.
func (c *Chan) C() <-chan struct{} {
	return c.c
}
