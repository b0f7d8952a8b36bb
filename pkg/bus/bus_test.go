package bus

import (
	"context"
	"fmt"
	"testing"
	"time"

	"assistant/pkg/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: logger.LevelError})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return log
}

func TestLocalBusDeliversByTopic(t *testing.T) {
	b := NewLocalBus(newTestLogger(t), 10)
	if err := b.Start(); err != nil {
		t.Fatalf("Failed to start bus: %v", err)
	}
	defer b.Stop()

	activated := make(chan *Event, 1)
	all := make(chan *Event, 4)
	b.Subscribe(TopicSessionActivated, func(ctx context.Context, evt *Event) error {
		activated <- evt
		return nil
	})
	b.Subscribe(TopicAll, func(ctx context.Context, evt *Event) error {
		all <- evt
		return nil
	})

	if err := b.Publish(NewEvent(TopicRoundStarted, "c1", nil)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := b.Publish(NewEvent(TopicSessionActivated, "c1", map[string]any{"type": "CHAT"})); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case evt := <-activated:
		if evt.SessionID != "c1" || evt.Data["type"] != "CHAT" {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for activated event")
	}

	for i := 0; i < 2; i++ {
		select {
		case <-all:
		case <-time.After(2 * time.Second):
			t.Fatalf("Timeout waiting for wildcard event %d", i)
		}
	}
	select {
	case evt := <-activated:
		t.Fatalf("topic subscriber received foreign event %s", evt.Topic)
	default:
	}
}

func TestLocalBusUnsubscribe(t *testing.T) {
	b := NewLocalBus(newTestLogger(t), 10)
	b.Start()
	defer b.Stop()

	got := make(chan struct{}, 1)
	id := b.Subscribe(TopicMessageStored, func(ctx context.Context, evt *Event) error {
		got <- struct{}{}
		return nil
	})
	b.Unsubscribe(id)

	done := make(chan struct{}, 1)
	b.Subscribe(TopicMessageStored, func(ctx context.Context, evt *Event) error {
		done <- struct{}{}
		return nil
	})
	b.Publish(NewEvent(TopicMessageStored, "c1", nil))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for event")
	}
	select {
	case <-got:
		t.Fatal("unsubscribed handler was called")
	default:
	}
}

func TestLocalBusHandlerErrorsAreCounted(t *testing.T) {
	b := NewLocalBus(newTestLogger(t), 10)
	b.Start()
	defer b.Stop()

	done := make(chan struct{})
	b.Subscribe(TopicRoundFinished, func(ctx context.Context, evt *Event) error {
		defer close(done)
		return fmt.Errorf("boom")
	})
	b.Publish(NewEvent(TopicRoundFinished, "c1", nil))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for handler")
	}

	deadline := time.Now().Add(time.Second)
	for b.GetMetrics()["errors"] != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("expected 1 error, got %d", b.GetMetrics()["errors"])
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLocalBusDropsWhenFull(t *testing.T) {
	b := NewLocalBus(newTestLogger(t), 1)

	if err := b.Publish(NewEvent(TopicRoundStarted, "c1", nil)); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	if err := b.Publish(NewEvent(TopicRoundStarted, "c1", nil)); err == nil {
		t.Fatalf("expected error when buffer is full")
	}
	if b.GetMetrics()["dropped"] != 1 {
		t.Fatalf("expected one dropped event")
	}

	b.Stop()
	if err := b.Publish(NewEvent(TopicRoundStarted, "c1", nil)); err == nil {
		t.Fatalf("expected error after stop")
	}
}

func TestNewBusRejectsUnknownType(t *testing.T) {
	if _, err := NewBus(newTestLogger(t), &Config{Type: "kafka"}); err == nil {
		t.Fatalf("expected error for unknown bus type")
	}
	if _, err := NewBus(newTestLogger(t), &Config{Type: BusTypeRedis}); err == nil {
		t.Fatalf("expected error for redis bus without address")
	}
}
