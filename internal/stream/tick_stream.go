package stream

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/betbot/spikebot/internal/domain"
)

var log = logrus.WithField("component", "stream")

// TickHandler observes ticks after they have been stored in the buffer.
type TickHandler interface {
	OnTick(ctx context.Context, tick domain.Tick) error
}

// TickHandlerFunc adapts a function to TickHandler.
type TickHandlerFunc func(ctx context.Context, tick domain.Tick) error

func (f TickHandlerFunc) OnTick(ctx context.Context, tick domain.Tick) error { return f(ctx, tick) }

// HandlerList is the fixed set of tick observers. It is immutable after
// construction, so Emit needs no locking.
type HandlerList struct {
	handlers []TickHandler
}

// NewHandlerList keeps the non-nil handlers in the given order.
func NewHandlerList(handlers ...TickHandler) *HandlerList {
	hl := &HandlerList{handlers: make([]TickHandler, 0, len(handlers))}
	for _, h := range handlers {
		if h != nil {
			hl.handlers = append(hl.handlers, h)
		}
	}
	return hl
}

// Emit runs every handler serially in registration order.
// A handler error or panic is logged and does not stop the others.
func (h *HandlerList) Emit(ctx context.Context, tick domain.Tick) {
	if len(h.handlers) == 0 {
		log.Debugf("no tick handlers registered: %s @ %.4f", tick.Symbol, tick.Price)
		return
	}
	for i, handler := range h.handlers {
		func(idx int, th TickHandler) {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("tick handler %d panic: %v", idx, r)
				}
			}()
			if err := th.OnTick(ctx, tick); err != nil {
				log.Errorf("tick handler %d failed on %s: %v", idx, tick.Symbol, err)
			}
		}(i, handler)
	}
}

func (h *HandlerList) Count() int { return len(h.handlers) }
