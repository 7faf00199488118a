package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Sink delivers an event over one channel.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, e Event) error
}

// Dispatcher queues events on a bounded buffer and hands them to every sink
// from a single worker. A full buffer drops the event rather than block the
// caller.
type Dispatcher struct {
	events      chan Event
	sinks       []Sink
	logger      zerolog.Logger
	sinkTimeout time.Duration

	mu      sync.RWMutex
	started bool
	closed  bool
	wg      sync.WaitGroup
}

func NewDispatcher(buffer int, logger zerolog.Logger, sinks ...Sink) *Dispatcher {
	if buffer < 1 {
		buffer = 1
	}
	return &Dispatcher{
		events:      make(chan Event, buffer),
		sinks:       sinks,
		logger:      logger.With().Str("component", "notification").Logger(),
		sinkTimeout: 10 * time.Second,
	}
}

// Start launches the worker. Sink calls inherit values from ctx but not its
// cancellation, so Stop can still drain.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true

	base := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for e := range d.events {
			d.deliver(base, e)
		}
	}()
}

// Emit enqueues e. Events emitted after Stop are dropped.
func (d *Dispatcher) Emit(_ context.Context, e Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn().Str("event", string(e.Type)).Msg("dispatcher stopped, event dropped")
		return
	}
	select {
	case d.events <- e:
	default:
		d.logger.Warn().
			Str("event", string(e.Type)).
			Str("event_id", e.ID.String()).
			Str("recipient", e.RecipientUserID.String()).
			Msg("notification buffer full, event dropped")
	}
}

// Stop closes the queue and waits for queued events to be delivered.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.events)
	started := d.started
	d.mu.Unlock()

	if !started {
		return
	}
	d.wg.Wait()
}

func (d *Dispatcher) deliver(base context.Context, e Event) {
	for _, s := range d.sinks {
		if err := d.deliverOne(base, s, e); err != nil {
			d.logger.Error().
				Err(err).
				Str("sink", s.Name()).
				Str("event", string(e.Type)).
				Str("event_id", e.ID.String()).
				Str("recipient", e.RecipientUserID.String()).
				Msg("notification delivery failed")
		}
	}
}

func (d *Dispatcher) deliverOne(base context.Context, s Sink, e Event) (err error) {
	ctx, cancel := context.WithTimeout(base, d.sinkTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()
	return s.Deliver(ctx, e)
}
