package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"assistant/pkg/logger"
	"assistant/pkg/session"
)

// Registry manages command registration and dispatch.
type Registry struct {
	log      *logger.Logger
	commands map[string]*Command
	mu       sync.RWMutex
}

var _ Dispatcher = (*Registry)(nil)

// NewRegistry creates a new command registry.
func NewRegistry(log *logger.Logger) *Registry {
	if log == nil {
		log = logger.NewNop()
	}
	return &Registry{
		log:      log,
		commands: make(map[string]*Command),
	}
}

func normalize(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// Register registers a new command.
func (r *Registry) Register(cmd *Command) error {
	if cmd == nil {
		return fmt.Errorf("command cannot be nil")
	}
	if cmd.Name == "" {
		return fmt.Errorf("command name cannot be empty")
	}
	if cmd.Handler == nil {
		return fmt.Errorf("command %s has no handler", cmd.Name)
	}
	if cmd.Kind != KindData && cmd.Kind != KindAction {
		return fmt.Errorf("command %s has unknown kind %q", cmd.Name, cmd.Kind)
	}

	cmd.Name = normalize(cmd.Name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.commands[cmd.Name]; exists {
		return fmt.Errorf("command %s already registered", cmd.Name)
	}
	r.commands[cmd.Name] = cmd
	return nil
}

// Get retrieves a command by name.
func (r *Registry) Get(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cmd, exists := r.commands[normalize(name)]
	return cmd, exists
}

// List returns all registered commands sorted by name.
func (r *Registry) List() []*Command {
	r.mu.RLock()
	cmds := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		cmds = append(cmds, cmd)
	}
	r.mu.RUnlock()

	sort.Slice(cmds, func(i, j int) bool {
		return cmds[i].Name < cmds[j].Name
	})
	return cmds
}

// ExecuteData runs a data query.
func (r *Registry) ExecuteData(ctx context.Context, sessionID string, cmd session.DataCommand) session.CommandResult {
	return r.execute(ctx, KindData, sessionID, cmd)
}

// ExecuteAction runs an action.
func (r *Registry) ExecuteAction(ctx context.Context, sessionID string, cmd session.DataCommand) session.CommandResult {
	return r.execute(ctx, KindAction, sessionID, cmd)
}

func (r *Registry) execute(ctx context.Context, kind Kind, sessionID string, cmd session.DataCommand) session.CommandResult {
	result := session.CommandResult{Command: cmd}

	registered, ok := r.Get(cmd.Type)
	if !ok {
		result.Status = session.CommandFailed
		result.Details = fmt.Sprintf("unknown command type %q", cmd.Type)
		return result
	}
	if registered.Kind != kind {
		result.Status = session.CommandFailed
		result.Details = fmt.Sprintf("%s is a %s command, not a %s command", registered.Name, registered.Kind, kind)
		return result
	}

	resp, err := registered.Handler(ctx, Request{SessionID: sessionID, Command: cmd})
	if err != nil {
		r.log.Debug("Command failed",
			zap.String("session_id", sessionID),
			zap.String("command", registered.Name),
			zap.Error(err))
		result.Status = session.CommandFailed
		result.Details = err.Error()
		return result
	}

	result.Status = session.CommandSuccess
	result.Details = resp.Details
	result.Data = resp.Data
	return result
}

// Describe returns a human-readable sentence for cmd.
func (r *Registry) Describe(cmd session.DataCommand) string {
	registered, ok := r.Get(cmd.Type)
	if ok && registered.Describe != nil {
		return registered.Describe(cmd.Params)
	}
	if ok && registered.Description != "" {
		return registered.Description
	}
	return fmt.Sprintf("Run %s", cmd.Type)
}
