// Package round runs the autonomous loop of the active session: it queries
// the provider, executes the data and action commands it asks for, waits on
// the user when needed and stops on completion, limits, interruption or the
// automation watchdog.
package round

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"assistant/pkg/bus"
	"assistant/pkg/config"
	"assistant/pkg/interaction"
	"assistant/pkg/logger"
	"assistant/pkg/messages"
	"assistant/pkg/network"
	"assistant/pkg/parser"
	"assistant/pkg/prompt"
	"assistant/pkg/providers"
	"assistant/pkg/session"
	"assistant/pkg/validation"
)

// ActiveSessionSource is the part of the session controller the executor
// reads. The executor never changes which session is active.
type ActiveSessionSource interface {
	ActiveSessionID() string
	UpdateActivityTimestamp()
}

// PromptBuilder renders the provider input for a session.
type PromptBuilder interface {
	Build(ctx context.Context, sessionID string) (*prompt.Data, error)
}

// ProviderResolver picks the provider of a session.
type ProviderResolver interface {
	Resolve(providerID string) (providers.Provider, error)
}

// Outcome is how a round ended.
type Outcome string

const (
	OutcomeCompleted    Outcome = "completed"
	OutcomeFinished     Outcome = "finished"
	OutcomeLimitReached Outcome = "limit_reached"
	OutcomeTimeout      Outcome = "timeout"
	OutcomeInterrupted  Outcome = "interrupted"
	OutcomeCancelled    Outcome = "cancelled"
	OutcomeAborted      Outcome = "aborted"
	OutcomeNetworkError Outcome = "network_error"
	OutcomeError        Outcome = "error"
)

// Deps are the collaborators of an Executor.
type Deps struct {
	Store        session.Store
	Messages     *messages.Storage
	Prompts      PromptBuilder
	Providers    ProviderResolver
	Parser       *parser.Parser
	Validator    *validation.Resolver
	Interactions *interaction.Manager
	Network      network.Checker
	Events       bus.Publisher
	// Settings returns the live AI section of the configuration.
	Settings func() config.AIConfig
}

// Executor runs at most one round at a time, process wide.
type Executor struct {
	deps   Deps
	active ActiveSessionSource
	log    *logger.Logger
	now    func() time.Time

	inProgress atomic.Bool
	lastResult atomic.Pointer[Result]
}

// Result summarizes the last finished round.
type Result struct {
	SessionID  string              `json:"session_id"`
	Reason     session.RoundReason `json:"reason"`
	Outcome    Outcome             `json:"outcome"`
	Roundtrips int                 `json:"roundtrips"`
	Error      string              `json:"error,omitempty"`
	FinishedAt time.Time           `json:"finished_at"`
}

// New creates an executor reading the active session from active.
func New(active ActiveSessionSource, deps Deps, log *logger.Logger) *Executor {
	if log == nil {
		log = logger.NewNop()
	}
	if deps.Events == nil {
		deps.Events = bus.NopPublisher{}
	}
	if deps.Network == nil {
		deps.Network = network.Always{}
	}
	if deps.Parser == nil {
		deps.Parser = parser.MustNew()
	}
	return &Executor{
		deps:   deps,
		active: active,
		log:    log,
		now:    time.Now,
	}
}

// InProgress reports whether a round is running.
func (e *Executor) InProgress() bool {
	return e.inProgress.Load()
}

// LastResult returns the summary of the last finished round, if any.
func (e *Executor) LastResult() (Result, bool) {
	r := e.lastResult.Load()
	if r == nil {
		return Result{}, false
	}
	return *r, true
}

// ExecuteAIRound runs one round for the active session. A call made while
// another round runs returns session.ErrRoundInProgress without touching
// the store.
func (e *Executor) ExecuteAIRound(ctx context.Context, reason session.RoundReason) error {
	if !e.inProgress.CompareAndSwap(false, true) {
		return session.ErrRoundInProgress
	}
	defer e.inProgress.Store(false)

	sessionID := e.active.ActiveSessionID()
	if sessionID == "" {
		return session.ErrNoActiveSession
	}

	sess, err := e.deps.Store.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session %s: %w", sessionID, err)
	}

	settings := e.deps.Settings()
	limits, err := settings.LimitsFor(sess.Type)
	if err != nil {
		e.log.Error("Session type cannot run a round",
			zap.String("session_id", sessionID),
			zap.String("type", string(sess.Type)),
			zap.Error(err))
		return err
	}

	provider, err := e.deps.Providers.Resolve(sess.ProviderID)
	if err != nil {
		return fmt.Errorf("resolve provider for session %s: %w", sessionID, err)
	}

	r := &run{
		exec:     e,
		sess:     sess,
		provider: provider,
		limits:   limits,
		retry:    settings.NetworkRetryDelay(),
		timeout:  make(chan struct{}),
		log:      e.log.WithFields(zap.String("session_id", sessionID), zap.String("type", string(sess.Type))),
	}

	if sess.Type == session.TypeAutomation {
		if d := settings.AutomationMaxSessionDuration(); d > 0 {
			watchdog := time.AfterFunc(d, r.fireWatchdog)
			defer watchdog.Stop()
		}
	}

	e.deps.Interactions.ResetInterruption()
	e.publish(bus.TopicRoundStarted, sessionID, map[string]any{"reason": string(reason)})
	r.log.Info("Round started", zap.String("reason", string(reason)))
	r.setState(ctx, session.StateProcessing)

	outcome, err := r.loop(ctx)
	if err != nil {
		r.log.Error("Round failed", zap.Error(err))
		if outcome == "" {
			outcome = OutcomeError
		}
		if outcome == OutcomeError {
			r.end(ctx, session.EndReasonError)
		}
	}

	r.setState(context.WithoutCancel(ctx), session.StateIdle)

	res := &Result{
		SessionID:  sessionID,
		Reason:     reason,
		Outcome:    outcome,
		Roundtrips: r.roundtrips,
		FinishedAt: e.now(),
	}
	if err != nil {
		res.Error = err.Error()
	}
	e.lastResult.Store(res)

	e.publish(bus.TopicRoundFinished, sessionID, map[string]any{
		"reason":     string(reason),
		"outcome":    string(outcome),
		"roundtrips": r.roundtrips,
	})
	r.log.Info("Round finished",
		zap.String("outcome", string(outcome)),
		zap.Int("roundtrips", r.roundtrips))

	return err
}

func (e *Executor) publish(topic bus.Topic, sessionID string, data map[string]any) {
	if err := e.deps.Events.Publish(bus.NewEvent(topic, sessionID, data)); err != nil {
		e.log.Debug("Round event not published", zap.String("topic", string(topic)), zap.Error(err))
	}
}
