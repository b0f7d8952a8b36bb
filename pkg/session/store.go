package session

import (
	"context"
	"time"
)

// Store persists sessions and their messages.
type Store interface {
	// Get returns the session or ErrNotFound.
	Get(ctx context.Context, id string) (*Session, error)

	// Create inserts a new session.
	Create(ctx context.Context, s *Session) error

	// Update overwrites the mutable fields of a session.
	Update(ctx context.Context, s *Session) error

	// List returns sessions newest first.
	List(ctx context.Context, filter ListFilter) ([]*Session, error)

	// Delete removes a session and its messages.
	Delete(ctx context.Context, id string) error

	// SetActive marks id as the only active session and resets its
	// state, end reason and last network error.
	SetActive(ctx context.Context, id string) error

	// DeactivateAll clears the active flag on every session.
	DeactivateAll(ctx context.Context) error

	// GetActive returns the active session or ErrNotFound.
	GetActive(ctx context.Context) (*Session, error)

	// UpdateActivity sets the last activity timestamp.
	UpdateActivity(ctx context.Context, id string, ts time.Time) error

	// UpdateState sets the processing state.
	UpdateState(ctx context.Context, id string, state State) error

	// RecordNetworkError sets the last network error timestamp.
	RecordNetworkError(ctx context.Context, id string, ts time.Time) error

	// SetEndReason sets or clears (nil) the end reason.
	SetEndReason(ctx context.Context, id string, reason *EndReason) error

	// AppendMessage stores a message, assigning an ID when empty.
	AppendMessage(ctx context.Context, m *Message) error

	// ListMessages returns the messages of a session in emission order.
	ListMessages(ctx context.Context, sessionID string) ([]*Message, error)

	// DeleteMessage removes one message.
	DeleteMessage(ctx context.Context, id string) error
}
