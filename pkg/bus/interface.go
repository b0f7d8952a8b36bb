// Package bus distributes orchestration events (session lifecycle, round
// progress, stored messages, pending interactions) to in-process
// subscribers such as the gateway's websocket clients.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Topic names a family of events.
type Topic string

const (
	TopicSessionActivated Topic = "session.activated"
	TopicSessionClosed    Topic = "session.closed"
	TopicSessionQueued    Topic = "session.queued"
	TopicSessionDismissed Topic = "session.dismissed"
	TopicSessionEvicted   Topic = "session.evicted"

	TopicRoundStarted  Topic = "round.started"
	TopicRoundFinished Topic = "round.finished"

	TopicMessageStored Topic = "message.stored"

	TopicInteractionPending  Topic = "interaction.pending"
	TopicInteractionResolved Topic = "interaction.resolved"

	// TopicAll subscribes to every topic.
	TopicAll Topic = "*"
)

// Event is one notification flowing through the bus.
type Event struct {
	ID        string         `json:"id"`
	Topic     Topic          `json:"topic"`
	SessionID string         `json:"session_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewEvent builds an event with a fresh ID and timestamp.
func NewEvent(topic Topic, sessionID string, data map[string]any) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Topic:     topic,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// Handler processes an event.
type Handler func(ctx context.Context, evt *Event) error

// Publisher is the write side of the bus.
type Publisher interface {
	Publish(evt *Event) error
}

// Bus is the interface for event routing.
type Bus interface {
	Publisher

	// Start starts the dispatch loop.
	Start() error

	// Stop stops the bus and waits for in-flight handlers.
	Stop() error

	// Subscribe registers a handler for a topic, or TopicAll, and returns
	// a subscription ID.
	Subscribe(topic Topic, handler Handler) string

	// Unsubscribe removes one subscription.
	Unsubscribe(id string)

	// GetMetrics returns current bus metrics.
	GetMetrics() map[string]uint64
}

// NopPublisher discards events.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(*Event) error { return nil }
