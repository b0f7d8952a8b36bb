// Package controller owns the single active session. It arbitrates between
// competing CHAT and AUTOMATION requests, keeps the admission queue and
// starts automation rounds when an automation is activated.
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"assistant/pkg/bus"
	"assistant/pkg/logger"
	"assistant/pkg/session"
)

// Status is the outcome of a control request.
type Status int

const (
	Activated Status = iota
	AlreadyActive
	Queued
	// Rejected is returned for SEED sessions, which are never activated.
	Rejected
)

func (s Status) String() string {
	switch s {
	case Activated:
		return "ACTIVATED"
	case AlreadyActive:
		return "ALREADY_ACTIVE"
	case Queued:
		return "QUEUED"
	case Rejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the status name in JSON payloads.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name.
func (s *Status) UnmarshalText(text []byte) error {
	for _, candidate := range []Status{Activated, AlreadyActive, Queued, Rejected} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown control status %q", text)
}

// ControlResult is returned by RequestSessionControl. Position is the
// 1-based queue position when Status is Queued.
type ControlResult struct {
	Status   Status `json:"status"`
	Position int    `json:"position,omitempty"`
}

// RoundRunner executes rounds for the active session.
type RoundRunner interface {
	ExecuteAIRound(ctx context.Context, reason session.RoundReason) error
}

// AutomationLookup answers questions about automation definitions.
type AutomationLookup interface {
	DismissOlderInstances(automationID string) bool
}

// ActiveSession is a snapshot of the active session fields.
type ActiveSession struct {
	ID                     string       `json:"id"`
	Type                   session.Type `json:"type"`
	AutomationID           string       `json:"automation_id,omitempty"`
	ScheduledExecutionTime *time.Time   `json:"scheduled_execution_time,omitempty"`
	LastActivity           time.Time    `json:"last_activity"`
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithEvictionThreshold sets the inactivity after which the active session
// may be evicted. It is read on every decision.
func WithEvictionThreshold(threshold func() time.Duration) Option {
	return func(c *Controller) { c.threshold = threshold }
}

// WithAutomations sets the automation definitions lookup.
func WithAutomations(lookup AutomationLookup) Option {
	return func(c *Controller) { c.automations = lookup }
}

// WithRoundRetryDelay sets the delay between attempts to start an
// automation round while the previous round winds down.
func WithRoundRetryDelay(d time.Duration) Option {
	return func(c *Controller) { c.roundRetryDelay = d }
}

// Controller is the single source of truth for the active session.
// Every admission decision runs under mu.
type Controller struct {
	mu sync.Mutex

	activeID           string
	activeType         session.Type
	activeAutomationID string
	activeScheduled    *time.Time
	lastActivity       time.Time
	queue              []session.QueuedSession

	store       session.Store
	events      bus.Publisher
	log         *logger.Logger
	automations AutomationLookup
	runner      RoundRunner
	persist     *persister

	now             func() time.Time
	threshold       func() time.Duration
	roundRetryDelay time.Duration

	onClosed    []func(sessionID string)
	onActivated []func(sessionID string, t session.Type)

	watchers  map[int]chan string
	watcherID int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a controller. Call Close to stop its background work.
func New(store session.Store, events bus.Publisher, log *logger.Logger, opts ...Option) *Controller {
	if events == nil {
		events = bus.NopPublisher{}
	}
	if log == nil {
		log = logger.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		store:           store,
		events:          events,
		log:             log,
		now:             time.Now,
		threshold:       func() time.Duration { return 5 * time.Minute },
		roundRetryDelay: 200 * time.Millisecond,
		watchers:        make(map[int]chan string),
		ctx:             ctx,
		cancel:          cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.persist = newPersister(log)
	return c
}

// SetRoundRunner sets the executor started on automation activation.
func (c *Controller) SetRoundRunner(r RoundRunner) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runner = r
}

// OnSessionClosed registers a callback run synchronously before the active
// session is cleared. Callbacks must not call back into the controller.
func (c *Controller) OnSessionClosed(fn func(sessionID string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClosed = append(c.onClosed, fn)
}

// OnSessionActivated registers a callback run after a session becomes
// active. Callbacks must not call back into the controller.
func (c *Controller) OnSessionActivated(fn func(sessionID string, t session.Type)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onActivated = append(c.onActivated, fn)
}

// ActiveSessionID returns the active session ID, or "".
func (c *Controller) ActiveSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeID
}

// ActiveSession returns a snapshot of the active session.
func (c *Controller) ActiveSession() (ActiveSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.activeID == "" {
		return ActiveSession{}, false
	}
	return ActiveSession{
		ID:                     c.activeID,
		Type:                   c.activeType,
		AutomationID:           c.activeAutomationID,
		ScheduledExecutionTime: c.activeScheduled,
		LastActivity:           c.lastActivity,
	}, true
}

// Queue returns a copy of the admission queue.
func (c *Controller) Queue() []session.QueuedSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]session.QueuedSession(nil), c.queue...)
}

// Subscribe returns a channel that receives the active session ID on every
// change ("" when nothing is active). Only the latest value is kept.
func (c *Controller) Subscribe() (<-chan string, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan string, 1)
	ch <- c.activeID
	c.watcherID++
	id := c.watcherID
	c.watchers[id] = ch

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.watchers, id)
	}
}

func (c *Controller) notifyLocked() {
	for _, ch := range c.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- c.activeID
	}
}

// UpdateActivityTimestamp marks the active session as active now.
func (c *Controller) UpdateActivityTimestamp() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.activeID == "" {
		return
	}
	now := c.now()
	c.lastActivity = now
	id := c.activeID
	c.persist.submit("update activity", func(ctx context.Context) error {
		return c.store.UpdateActivity(ctx, id, now)
	})
}

// Flush waits until every pending store write has run.
func (c *Controller) Flush() {
	c.persist.flush()
}

// Close stops background work and drains pending store writes.
func (c *Controller) Close() {
	c.cancel()
	c.wg.Wait()
	c.persist.close()
}

func (c *Controller) publish(topic bus.Topic, sessionID string, data map[string]any) {
	if err := c.events.Publish(bus.NewEvent(topic, sessionID, data)); err != nil {
		c.log.Debug("Controller event not published",
			zap.String("topic", string(topic)),
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
}
