// Package commands executes the data queries and actions requested by the
// provider. Each command type is a registered handler; the registry is the
// dispatcher consumed by message storage.
package commands

import (
	"context"

	"assistant/pkg/session"
)

// Kind separates read-only data queries from side-effecting actions.
type Kind string

const (
	KindData   Kind = "data"
	KindAction Kind = "action"
)

// Command is one registered command type.
type Command struct {
	// Name is the command type, matched case-insensitively.
	Name string
	// Kind is data or action.
	Kind Kind
	// Description is a short description of what the command does.
	Description string
	// Usage documents the expected params.
	Usage string
	// Handler executes the command.
	Handler Handler
	// Describe verbalizes a concrete invocation for validation prompts.
	Describe func(params map[string]any) string
}

// Handler executes one command invocation.
type Handler func(ctx context.Context, req Request) (Response, error)

// Request is one command invocation.
type Request struct {
	SessionID string
	Command   session.DataCommand
}

// Response carries what the command produced.
type Response struct {
	Details string
	Data    map[string]any
}

// Dispatcher executes commands on behalf of message storage.
type Dispatcher interface {
	ExecuteData(ctx context.Context, sessionID string, cmd session.DataCommand) session.CommandResult
	ExecuteAction(ctx context.Context, sessionID string, cmd session.DataCommand) session.CommandResult
	Describe(cmd session.DataCommand) string
}
