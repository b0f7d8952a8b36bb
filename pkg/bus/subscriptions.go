package bus

import (
	"sync"

	"github.com/google/uuid"
)

type subscription struct {
	id      string
	topic   Topic
	handler Handler
}

// registry keeps subscriptions shared by the bus backends.
type registry struct {
	mu   sync.RWMutex
	subs map[string]subscription
}

func newRegistry() *registry {
	return &registry{subs: make(map[string]subscription)}
}

func (r *registry) add(topic Topic, handler Handler) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.subs[id] = subscription{id: id, topic: topic, handler: handler}
	r.mu.Unlock()
	return id
}

func (r *registry) remove(id string) {
	r.mu.Lock()
	delete(r.subs, id)
	r.mu.Unlock()
}

// matching returns the handlers for topic, including TopicAll subscribers.
func (r *registry) matching(topic Topic) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var handlers []Handler
	for _, s := range r.subs {
		if s.topic == topic || s.topic == TopicAll {
			handlers = append(handlers, s.handler)
		}
	}
	return handlers
}
