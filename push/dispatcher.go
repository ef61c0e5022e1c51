// Package push routes payloads pushed by the server to the handler that
// claims them and sends the handler's reply back over the push stream.
package push

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/maxpoletaev/nacosclient/metrics"
	"github.com/maxpoletaev/nacosclient/payload"
)

// DefaultBudget is how long Dispatch waits for a handler before returning to
// the receive loop.
const DefaultBudget = 3 * time.Second

type Handler interface {
	// Handles reports whether the handler is responsible for p.
	Handles(p *payload.Payload) bool
	// Respond processes p and returns an optional reply.
	Respond(ctx context.Context, p *payload.Payload) (*payload.Payload, error)
}

type Dispatcher struct {
	mu       sync.RWMutex
	handlers []Handler
	budget   time.Duration
	logger   log.Logger
	metrics  *metrics.Metrics
}

type Option func(*Dispatcher)

func WithBudget(d time.Duration) Option {
	return func(disp *Dispatcher) {
		disp.budget = d
	}
}

func WithLogger(logger log.Logger) Option {
	return func(disp *Dispatcher) {
		disp.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(disp *Dispatcher) {
		disp.metrics = m
	}
}

func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		budget: DefaultBudget,
		logger: log.NewNopLogger(),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Register appends h to the handler chain. Handlers are consulted in the order
// they were registered.
func (d *Dispatcher) Register(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
}

func (d *Dispatcher) find(p *payload.Payload) Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, h := range d.handlers {
		if h.Handles(p) {
			return h
		}
	}

	return nil
}

// Dispatch hands p to the first handler claiming it. The handler runs on its
// own goroutine and Dispatch returns once it is done or the budget is spent,
// whichever comes first. Unclaimed payloads are logged and dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, p *payload.Payload, reply func(*payload.Payload) error) {
	typ := p.Metadata.Type

	h := d.find(p)
	if h == nil {
		level.Warn(d.logger).Log("msg", "no handler for server push, dropping", "type", typ)
		d.metrics.PushMessage(typ, metrics.PushUnhandled)

		return
	}

	done := make(chan struct{})

	go func() {
		defer close(done)

		outcome := metrics.PushFailed
		defer func() {
			d.metrics.PushMessage(typ, outcome)
		}()

		resp, err := d.respond(ctx, h, p)
		if err != nil {
			level.Error(d.logger).Log("msg", "push handler failed", "type", typ, "err", err)
			return
		}

		if resp != nil {
			if err := reply(resp); err != nil {
				level.Warn(d.logger).Log("msg", "failed to reply to server push", "type", typ, "err", err)
				return
			}
		}

		outcome = metrics.PushHandled
	}()

	timer := time.NewTimer(d.budget)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		level.Warn(d.logger).Log("msg", "push handler is taking too long, moving on", "type", typ, "budget", d.budget)
	case <-ctx.Done():
	}
}

func (d *Dispatcher) respond(ctx context.Context, h Handler, p *payload.Payload) (resp *payload.Payload, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	return h.Respond(ctx, p)
}
