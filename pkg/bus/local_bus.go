package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"assistant/pkg/logger"
)

// LocalBus is an in-process event bus backed by a buffered channel.
type LocalBus struct {
	log  *logger.Logger
	subs *registry

	events chan *Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
	errors    atomic.Uint64
}

// NewLocalBus creates a new local event bus.
func NewLocalBus(log *logger.Logger, bufferSize int) *LocalBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &LocalBus{
		log:    log,
		subs:   newRegistry(),
		events: make(chan *Event, bufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start starts the dispatch loop.
func (b *LocalBus) Start() error {
	b.log.Debug("Starting event bus")

	b.wg.Add(1)
	go b.process()
	return nil
}

// Stop stops the bus and waits for the dispatch loop to exit.
func (b *LocalBus) Stop() error {
	b.cancel()
	b.wg.Wait()
	b.log.Debug("Event bus stopped")
	return nil
}

// Subscribe registers a handler for a topic.
func (b *LocalBus) Subscribe(topic Topic, handler Handler) string {
	id := b.subs.add(topic, handler)
	b.log.Debug("Registered subscriber", zap.String("topic", string(topic)), zap.String("id", id))
	return id
}

// Unsubscribe removes one subscription.
func (b *LocalBus) Unsubscribe(id string) {
	b.subs.remove(id)
}

// Publish enqueues an event. It never blocks: a full buffer drops the event.
func (b *LocalBus) Publish(evt *Event) error {
	if b.ctx.Err() != nil {
		return fmt.Errorf("bus is shutting down")
	}
	select {
	case b.events <- evt:
		b.published.Add(1)
		return nil
	default:
		b.dropped.Add(1)
		return fmt.Errorf("event buffer full, dropped %s", evt.Topic)
	}
}

func (b *LocalBus) process() {
	defer b.wg.Done()

	for {
		select {
		case evt := <-b.events:
			b.dispatch(evt)
		case <-b.ctx.Done():
			return
		}
	}
}

func (b *LocalBus) dispatch(evt *Event) {
	handlers := b.subs.matching(evt.Topic)
	if len(handlers) == 0 {
		return
	}

	b.log.Debug("Dispatching event",
		zap.String("topic", string(evt.Topic)),
		zap.String("session", evt.SessionID),
		zap.String("event_id", evt.ID))

	for _, handler := range handlers {
		if err := handler(b.ctx, evt); err != nil {
			b.errors.Add(1)
			b.log.Warn("Event handler error",
				zap.String("topic", string(evt.Topic)),
				zap.String("event_id", evt.ID),
				zap.Error(err))
			continue
		}
		b.delivered.Add(1)
	}
}

// GetMetrics returns current bus metrics.
func (b *LocalBus) GetMetrics() map[string]uint64 {
	return map[string]uint64{
		"published": b.published.Load(),
		"delivered": b.delivered.Load(),
		"dropped":   b.dropped.Load(),
		"errors":    b.errors.Load(),
	}
}
