// Package session defines the session and message model shared by the
// controller, the round executor and the persistence layer.
package session

import (
	"errors"
	"fmt"
	"time"
)

// Type is the kind of a session.
type Type string

const (
	TypeChat       Type = "CHAT"
	TypeAutomation Type = "AUTOMATION"
	// TypeSeed sessions are templates; they are never activated or executed.
	TypeSeed Type = "SEED"
)

// State is the processing state of a session.
type State string

const (
	StateIdle                State = "IDLE"
	StateProcessing          State = "PROCESSING"
	StateWaitingNetwork      State = "WAITING_NETWORK"
	StateWaitingUserResponse State = "WAITING_USER_RESPONSE"
	StateWaitingValidation   State = "WAITING_VALIDATION"
)

// EndReason records why the last round of a session stopped.
type EndReason string

const (
	EndReasonCompleted    EndReason = "COMPLETED"
	EndReasonTimeout      EndReason = "TIMEOUT"
	EndReasonError        EndReason = "ERROR"
	EndReasonCancelled    EndReason = "CANCELLED"
	EndReasonInterrupted  EndReason = "INTERRUPTED"
	EndReasonNetworkError EndReason = "NETWORK_ERROR"
	EndReasonSuspended    EndReason = "SUSPENDED"
)

var (
	// ErrNotFound is returned by stores when a session or message does not exist.
	ErrNotFound = errors.New("session not found")
	// ErrNoActiveSession is returned when an operation needs an active session.
	ErrNoActiveSession = errors.New("no active session")
	// ErrRoundInProgress rejects a round while another one is running.
	ErrRoundInProgress = errors.New("round already in progress")
	// ErrSeedNotExecutable is returned when a SEED session reaches execution.
	ErrSeedNotExecutable = errors.New("seed sessions cannot be executed")
)

// Session identifies one conversation or automation run.
type Session struct {
	ID                     string     `json:"id"`
	Name                   string     `json:"name"`
	Type                   Type       `json:"type"`
	State                  State      `json:"state"`
	EndReason              *EndReason `json:"end_reason,omitempty"`
	RequireValidation      bool       `json:"require_validation"`
	AutomationID           string     `json:"automation_id,omitempty"`
	ScheduledExecutionTime *time.Time `json:"scheduled_execution_time,omitempty"`
	ProviderID             string     `json:"provider_id,omitempty"`
	LastNetworkErrorTime   *time.Time `json:"last_network_error_time,omitempty"`
	IsActive               bool       `json:"is_active"`
	CreatedAt              time.Time  `json:"created_at"`
	LastActivity           time.Time  `json:"last_activity"`
}

// Validate checks the fields every stored session must carry.
func (s *Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("session id is required")
	}
	switch s.Type {
	case TypeChat, TypeSeed:
		if s.AutomationID != "" {
			return fmt.Errorf("automation id is only allowed on %s sessions", TypeAutomation)
		}
	case TypeAutomation:
	default:
		return fmt.Errorf("unknown session type %q", s.Type)
	}
	return nil
}

// ParseType converts a string into a Type.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeChat, TypeAutomation, TypeSeed:
		return Type(s), nil
	default:
		return "", fmt.Errorf("unknown session type %q", s)
	}
}

// QueuedSession is an admission request waiting for the active slot.
// It lives only in the controller's memory.
type QueuedSession struct {
	SessionID              string     `json:"session_id"`
	Type                   Type       `json:"type"`
	AutomationID           string     `json:"automation_id,omitempty"`
	ScheduledExecutionTime *time.Time `json:"scheduled_execution_time,omitempty"`
	EnqueuedAt             time.Time  `json:"enqueued_at"`
}

// Limits are the per-type caps applied to one autonomous round.
type Limits struct {
	MaxDataQueryIterations  int `json:"max_data_query_iterations"`
	MaxActionRetries        int `json:"max_action_retries"`
	MaxFormatErrorRetries   int `json:"max_format_error_retries"`
	MaxAutonomousRoundtrips int `json:"max_autonomous_roundtrips"`
}

// ListFilter narrows Store.List.
type ListFilter struct {
	Type         Type
	AutomationID string
	Limit        int
}

// EndReasonPtr returns a pointer to r.
func EndReasonPtr(r EndReason) *EndReason {
	return &r
}

// RoundReason records what started a round.
type RoundReason string

const (
	RoundReasonManualStart     RoundReason = "MANUAL_START"
	RoundReasonAutomationStart RoundReason = "AUTOMATION_START"
)
