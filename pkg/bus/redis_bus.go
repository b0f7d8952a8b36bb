package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"assistant/pkg/logger"
)

// RedisBus is a Redis pub/sub event bus. Every process subscribed to the
// same prefix sees every event.
type RedisBus struct {
	log    *logger.Logger
	client *redis.Client
	prefix string
	subs   *registry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	pubsub *redis.PubSub

	published atomic.Uint64
	delivered atomic.Uint64
	errors    atomic.Uint64
}

// RedisBusConfig configures the Redis bus.
type RedisBusConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedisBus creates a Redis event bus and checks the connection.
func NewRedisBus(log *logger.Logger, cfg *RedisBusConfig) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connecting to Redis: %w", err)
	}
	return newRedisBusWithClient(log, client, cfg.Prefix), nil
}

func newRedisBusWithClient(log *logger.Logger, client *redis.Client, prefix string) *RedisBus {
	if prefix == "" {
		prefix = "assistant:bus:"
	}
	ctx, cancel := context.WithCancel(context.Background())

	log.Info("Redis bus initialized", zap.String("prefix", prefix))

	return &RedisBus{
		log:    log,
		client: client,
		prefix: prefix,
		subs:   newRegistry(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the prefix and starts the dispatch loop.
func (b *RedisBus) Start() error {
	b.pubsub = b.client.PSubscribe(b.ctx, b.prefix+"*")
	if _, err := b.pubsub.Receive(b.ctx); err != nil {
		return fmt.Errorf("subscribing to %s*: %w", b.prefix, err)
	}

	b.wg.Add(1)
	go b.process()
	return nil
}

// Stop closes the subscription and the client.
func (b *RedisBus) Stop() error {
	b.cancel()
	if b.pubsub != nil {
		_ = b.pubsub.Close()
	}
	b.wg.Wait()
	return b.client.Close()
}

// Subscribe registers a handler for a topic.
func (b *RedisBus) Subscribe(topic Topic, handler Handler) string {
	return b.subs.add(topic, handler)
}

// Unsubscribe removes one subscription.
func (b *RedisBus) Unsubscribe(id string) {
	b.subs.remove(id)
}

// Publish sends the event to Redis under prefix+topic.
func (b *RedisBus) Publish(evt *Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	if err := b.client.Publish(b.ctx, b.prefix+string(evt.Topic), data).Err(); err != nil {
		return fmt.Errorf("publishing to Redis: %w", err)
	}
	b.published.Add(1)
	return nil
}

// GetMetrics returns current bus metrics.
func (b *RedisBus) GetMetrics() map[string]uint64 {
	return map[string]uint64{
		"published": b.published.Load(),
		"delivered": b.delivered.Load(),
		"errors":    b.errors.Load(),
	}
}

func (b *RedisBus) process() {
	defer b.wg.Done()

	ch := b.pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.handle(msg)
		case <-b.ctx.Done():
			return
		}
	}
}

func (b *RedisBus) handle(msg *redis.Message) {
	if !strings.HasPrefix(msg.Channel, b.prefix) {
		b.log.Warn("Unknown channel format", zap.String("channel", msg.Channel))
		return
	}

	var evt Event
	if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
		b.errors.Add(1)
		b.log.Error("Failed to unmarshal event", zap.Error(err))
		return
	}

	for _, handler := range b.subs.matching(evt.Topic) {
		if err := handler(b.ctx, &evt); err != nil {
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
