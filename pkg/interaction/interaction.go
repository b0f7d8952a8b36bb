// Package interaction brokers the waits of a round on its user: answers to
// communication modules and confirmations of action batches. It also owns
// the cooperative interruption flag polled by the round executor.
package interaction

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"assistant/pkg/bus"
	"assistant/pkg/logger"
	"assistant/pkg/session"
	"assistant/pkg/validation"
)

var (
	// ErrCancelled is returned by a wait whose request was cancelled.
	ErrCancelled = errors.New("interaction cancelled")
	// ErrInterrupted is returned by a wait unblocked by an interruption.
	ErrInterrupted = errors.New("interaction interrupted")
	// ErrRequestNotFound is returned when answering an unknown request.
	ErrRequestNotFound = errors.New("interaction request not found")
)

// Kind is what a pending request waits for.
type Kind string

const (
	KindResponse   Kind = "response"
	KindValidation Kind = "validation"
)

// Request is a pending wait, as listed to the outer surfaces.
type Request struct {
	ID         string                       `json:"id"`
	Kind       Kind                         `json:"kind"`
	SessionID  string                       `json:"session_id"`
	Module     *session.CommunicationModule `json:"module,omitempty"`
	Validation *validation.Context          `json:"validation,omitempty"`
	CreatedAt  time.Time                    `json:"created_at"`
}

// Response is a user's answer to a communication module.
type Response struct {
	Text string         `json:"text"`
	Data map[string]any `json:"data,omitempty"`
}

type answer struct {
	response  *Response
	approved  bool
	cancelled bool
}

type pendingRequest struct {
	req    *Request
	answer chan answer
}

// Manager tracks pending requests and the interruption flag.
type Manager struct {
	mu          sync.Mutex
	pending     map[string]*pendingRequest
	interrupted bool
	interruptCh chan struct{}

	events bus.Publisher
	log    *logger.Logger
}

// NewManager creates an interaction manager.
func NewManager(events bus.Publisher, log *logger.Logger) *Manager {
	if events == nil {
		events = bus.NopPublisher{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{
		pending:     make(map[string]*pendingRequest),
		interruptCh: make(chan struct{}),
		events:      events,
		log:         log,
	}
}

// WaitForUserResponse blocks until the user answers module, the request is
// cancelled, the round is interrupted or ctx is done.
func (m *Manager) WaitForUserResponse(ctx context.Context, sessionID string, module *session.CommunicationModule) (*Response, error) {
	ans, err := m.wait(ctx, &Request{
		Kind:      KindResponse,
		SessionID: sessionID,
		Module:    module,
	})
	if err != nil {
		return nil, err
	}
	return ans.response, nil
}

// WaitForUserValidation blocks until the user confirms or refuses the
// batch. A refusal is (false, nil).
func (m *Manager) WaitForUserValidation(ctx context.Context, vctx *validation.Context) (bool, error) {
	ans, err := m.wait(ctx, &Request{
		Kind:       KindValidation,
		SessionID:  vctx.SessionID,
		Validation: vctx,
	})
	if err != nil {
		return false, err
	}
	return ans.approved, nil
}

func (m *Manager) wait(ctx context.Context, req *Request) (answer, error) {
	req.ID = uuid.NewString()
	req.CreatedAt = time.Now()
	p := &pendingRequest{req: req, answer: make(chan answer, 1)}

	m.mu.Lock()
	if m.interrupted {
		m.mu.Unlock()
		return answer{}, ErrInterrupted
	}
	interrupt := m.interruptCh
	m.pending[req.ID] = p
	m.mu.Unlock()

	m.publish(bus.TopicInteractionPending, req, nil)
	m.log.Debug("Waiting for user",
		zap.String("request_id", req.ID),
		zap.String("kind", string(req.Kind)),
		zap.String("session_id", req.SessionID))

	defer m.remove(req.ID)

	select {
	case ans := <-p.answer:
		if ans.cancelled {
			return ans, ErrCancelled
		}
		return ans, nil
	case <-interrupt:
		m.publish(bus.TopicInteractionResolved, req, map[string]any{"outcome": "interrupted"})
		return answer{}, ErrInterrupted
	case <-ctx.Done():
		m.publish(bus.TopicInteractionResolved, req, map[string]any{"outcome": "aborted"})
		return answer{}, ctx.Err()
	}
}

// Respond answers a pending communication module.
func (m *Manager) Respond(id string, resp Response) error {
	return m.resolve(id, KindResponse, answer{response: &resp}, "responded")
}

// Validate confirms (approved) or refuses a pending validation.
func (m *Manager) Validate(id string, approved bool) error {
	outcome := "refused"
	if approved {
		outcome = "approved"
	}
	return m.resolve(id, KindValidation, answer{approved: approved}, outcome)
}

// Cancel cancels one pending request.
func (m *Manager) Cancel(id string) error {
	return m.resolve(id, "", answer{cancelled: true}, "cancelled")
}

// CancelAll cancels every pending request of sessionID, or every pending
// request when sessionID is empty.
func (m *Manager) CancelAll(sessionID string) {
	m.mu.Lock()
	var ids []string
	for id, p := range m.pending {
		if sessionID == "" || p.req.SessionID == sessionID {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Cancel(id); err != nil && !errors.Is(err, ErrRequestNotFound) {
			m.log.Warn("Failed to cancel interaction", zap.String("request_id", id), zap.Error(err))
		}
	}
}

func (m *Manager) resolve(id string, kind Kind, ans answer, outcome string) error {
	m.mu.Lock()
	p, ok := m.pending[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrRequestNotFound, id)
	}
	if kind != "" && p.req.Kind != kind {
		m.mu.Unlock()
		return fmt.Errorf("request %s waits for a %s, not a %s", id, p.req.Kind, kind)
	}
	delete(m.pending, id)
	m.mu.Unlock()

	p.answer <- ans
	m.publish(bus.TopicInteractionResolved, p.req, map[string]any{"outcome": outcome})
	return nil
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}

// Get returns one pending request.
func (m *Manager) Get(id string) (*Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[id]
	if !ok {
		return nil, false
	}
	return p.req, true
}

// Pending lists pending requests, oldest first.
func (m *Manager) Pending() []*Request {
	m.mu.Lock()
	out := make([]*Request, 0, len(m.pending))
	for _, p := range m.pending {
		out = append(out, p.req)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// RequestInterruption sets the interruption flag and unblocks every wait.
func (m *Manager) RequestInterruption() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.interrupted {
		return
	}
	m.interrupted = true
	close(m.interruptCh)
}

// IsInterruptionRequested reports the interruption flag.
func (m *Manager) IsInterruptionRequested() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interrupted
}

// ResetInterruption clears the flag before a new round.
func (m *Manager) ResetInterruption() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.interrupted {
		return
	}
	m.interrupted = false
	m.interruptCh = make(chan struct{})
}

// Interrupted returns a channel closed when an interruption is requested.
func (m *Manager) Interrupted() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.interruptCh
}

func (m *Manager) publish(topic bus.Topic, req *Request, extra map[string]any) {
	data := map[string]any{
		"request_id": req.ID,
		"kind":       string(req.Kind),
	}
	for k, v := range extra {
		data[k] = v
	}
	if err := m.events.Publish(bus.NewEvent(topic, req.SessionID, data)); err != nil {
		m.log.Debug("Interaction event not published", zap.String("request_id", req.ID), zap.Error(err))
	}
}
