// Package validation decides whether a batch of action commands needs user
// confirmation before it runs. It supports three modes:
//   - auto: validate when the session requires it, the provider asked, or
//     an action type is listed in always_validate
//   - always: every batch is validated
//   - never: only an explicit provider request validates
package validation

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"assistant/pkg/logger"
	"assistant/pkg/session"
)

// Mode defines the validation behavior.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeAlways Mode = "always"
	ModeNever  Mode = "never"
)

// Config configures the resolver.
type Config struct {
	Mode           Mode     `json:"mode"`
	AlwaysValidate []string `json:"always_validate"` // action types that always need confirmation
	Trusted        []string `json:"trusted"`         // action types that never need it
}

// Kind tags a Result.
type Kind int

const (
	NoValidation Kind = iota
	RequiresValidation
)

func (k Kind) String() string {
	if k == RequiresValidation {
		return "requires_validation"
	}
	return "no_validation"
}

// Action is one command with its human-readable description.
type Action struct {
	Command     session.DataCommand `json:"command"`
	Description string              `json:"description"`
}

// Context is what the user is shown when confirming a batch.
type Context struct {
	SessionID   string   `json:"session_id"`
	AIMessageID string   `json:"ai_message_id"`
	Reason      string   `json:"reason"`
	Actions     []Action `json:"actions"`
}

// Result is NoValidation, or RequiresValidation with a Context.
type Result struct {
	Kind    Kind
	Context *Context
}

// Required reports whether the batch must be confirmed.
func (r Result) Required() bool {
	return r.Kind == RequiresValidation
}

// Describer verbalizes an action command.
type Describer interface {
	Describe(cmd session.DataCommand) string
}

// SessionGetter loads the session's validation flag.
type SessionGetter interface {
	Get(ctx context.Context, id string) (*session.Session, error)
}

// Resolver implements the validation decision.
type Resolver struct {
	config    func() Config
	sessions  SessionGetter
	describer Describer
	log       *logger.Logger
}

// NewResolver creates a resolver. config is read on every decision so a
// reloaded configuration applies to the next batch.
func NewResolver(config func() Config, sessions SessionGetter, describer Describer, log *logger.Logger) *Resolver {
	if log == nil {
		log = logger.NewNop()
	}
	return &Resolver{
		config:    config,
		sessions:  sessions,
		describer: describer,
		log:       log,
	}
}

// ShouldValidate decides whether actions need confirmation.
func (r *Resolver) ShouldValidate(ctx context.Context, actions []session.DataCommand, sessionID, aiMessageID string, aiRequested bool) (Result, error) {
	if len(actions) == 0 {
		return Result{Kind: NoValidation}, nil
	}

	sess, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		return Result{}, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	reason := r.reason(r.config(), actions, sess.RequireValidation, aiRequested)
	if reason == "" {
		return Result{Kind: NoValidation}, nil
	}

	vctx := &Context{
		SessionID:   sessionID,
		AIMessageID: aiMessageID,
		Reason:      reason,
		Actions:     make([]Action, 0, len(actions)),
	}
	for _, cmd := range actions {
		vctx.Actions = append(vctx.Actions, Action{Command: cmd, Description: r.describe(cmd)})
	}

	r.log.Debug("Actions require validation",
		zap.String("session_id", sessionID),
		zap.String("reason", reason),
		zap.Int("actions", len(actions)))
	return Result{Kind: RequiresValidation, Context: vctx}, nil
}

// reason returns why validation is needed, or "" when it is not.
func (r *Resolver) reason(cfg Config, actions []session.DataCommand, sessionRequires, aiRequested bool) string {
	if aiRequested {
		return "the assistant asked for confirmation"
	}

	switch cfg.Mode {
	case ModeNever:
		return ""
	case ModeAlways:
		return "every action batch is confirmed"
	}

	if allInList(actions, cfg.Trusted) {
		return ""
	}
	if sessionRequires {
		return "this session requires confirmation"
	}
	for _, cmd := range actions {
		if isInList(cmd.Type, cfg.AlwaysValidate) {
			return fmt.Sprintf("%s always requires confirmation", strings.ToUpper(cmd.Type))
		}
	}
	return ""
}

func (r *Resolver) describe(cmd session.DataCommand) string {
	if r.describer == nil {
		return cmd.Type
	}
	return r.describer.Describe(cmd)
}

func allInList(actions []session.DataCommand, list []string) bool {
	if len(list) == 0 {
		return false
	}
	for _, cmd := range actions {
		if !isInList(cmd.Type, list) {
			return false
		}
	}
	return true
}

func isInList(name string, list []string) bool {
	for _, item := range list {
		if item == "*" || strings.EqualFold(item, name) {
			return true
		}
	}
	return false
}
