// Package notify renders lifecycle events and delivers them to the configured
// destinations without ever blocking the tick path.
package notify

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/spikebot/internal/events"
)

var notifyLog = logrus.WithField("component", "notify")

// Message is one rendered notification.
type Message struct {
	Kind  events.Kind
	Key   string // stable identity used for duplicate suppression
	Text  string // Markdown
	Event events.Event
}

// Sink is a delivery destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// DeliveryError reports a failed send to one destination.
type DeliveryError struct {
	Sink string
	Kind events.Kind
	Err  error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s via %s: %v", e.Kind, e.Sink, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// ResultObserver is told about every per-sink delivery outcome.
type ResultObserver func(sink string, kind events.Kind, err error)

type DispatcherOptions struct {
	QueueSize   int
	SendTimeout time.Duration
	Observer    ResultObserver
}

// Dispatcher fans messages out to every sink from a single goroutine, so
// messages reach each sink in the order Notify was called.
type Dispatcher struct {
	sinks     []Sink
	formatter *Formatter
	queue     chan Message
	timeout   time.Duration
	observer  ResultObserver
	dropped   atomic.Int64
}

func NewDispatcher(formatter *Formatter, opts DispatcherOptions, sinks ...Sink) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	if formatter == nil {
		formatter = NewFormatter(FormatterOptions{})
	}
	return &Dispatcher{
		sinks:     sinks,
		formatter: formatter,
		queue:     make(chan Message, opts.QueueSize),
		timeout:   opts.SendTimeout,
		observer:  opts.Observer,
	}
}

// Notify renders ev and enqueues it. A full queue drops the message.
func (d *Dispatcher) Notify(ev events.Event) {
	if d == nil || ev == nil {
		return
	}
	msg := d.formatter.Format(ev)
	select {
	case d.queue <- msg:
	default:
		d.dropped.Add(1)
		notifyLog.Warnf("notification queue full, dropping %s", msg.Kind)
	}
}

// Dropped counts messages lost to a full queue.
func (d *Dispatcher) Dropped() int64 { return d.dropped.Load() }

// Run delivers until ctx is done, then flushes whatever is still queued.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.flush()
			return
		case msg := <-d.queue:
			d.deliver(context.Background(), msg)
		}
	}
}

func (d *Dispatcher) flush() {
	for {
		select {
		case msg := <-d.queue:
			d.deliver(context.Background(), msg)
		default:
			return
		}
	}
}

// deliver sends msg to every sink; one sink failing does not affect the others.
func (d *Dispatcher) deliver(parent context.Context, msg Message) {
	for _, s := range d.sinks {
		ctx, cancel := context.WithTimeout(parent, d.timeout)
		err := s.Send(ctx, msg)
		cancel()
		if err != nil {
			derr := &DeliveryError{Sink: s.Name(), Kind: msg.Kind, Err: err}
			notifyLog.Warn(derr.Error())
			err = derr
		}
		if d.observer != nil {
			d.observer(s.Name(), msg.Kind, err)
		}
	}
}
