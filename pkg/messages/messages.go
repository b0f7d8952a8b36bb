// Package messages persists the messages produced during a round and runs
// the provider's data and action commands through the command dispatcher.
package messages

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"assistant/pkg/bus"
	"assistant/pkg/commands"
	"assistant/pkg/dedup"
	"assistant/pkg/logger"
	"assistant/pkg/session"
)

// Storage writes messages for the round executor and the outer surfaces.
type Storage struct {
	store      session.Store
	dispatcher commands.Dispatcher
	dedup      *dedup.Deduplicator
	events     bus.Publisher
	log        *logger.Logger
}

// New creates a message storage.
func New(store session.Store, dispatcher commands.Dispatcher, dd *dedup.Deduplicator, events bus.Publisher, log *logger.Logger) *Storage {
	if dd == nil {
		dd = dedup.New()
	}
	if events == nil {
		events = bus.NopPublisher{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Storage{
		store:      store,
		dispatcher: dispatcher,
		dedup:      dd,
		events:     events,
		log:        log,
	}
}

// Store persists m and announces it on the bus.
func (s *Storage) Store(ctx context.Context, m *session.Message) error {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	if err := s.store.AppendMessage(ctx, m); err != nil {
		return fmt.Errorf("store %s message: %w", m.Sender, err)
	}

	if err := s.events.Publish(bus.NewEvent(bus.TopicMessageStored, m.SessionID, map[string]any{
		"message_id": m.ID,
		"sender":     string(m.Sender),
	})); err != nil {
		s.log.Debug("Message event not published", zap.String("message_id", m.ID), zap.Error(err))
	}
	return nil
}

// StoreUserText stores a plain text USER message.
func (s *Storage) StoreUserText(ctx context.Context, sessionID, text string) (*session.Message, error) {
	m := &session.Message{
		SessionID:   sessionID,
		Sender:      session.SenderUser,
		TextContent: text,
	}
	return m, s.Store(ctx, m)
}

// StoreUserRich stores a structured USER message.
func (s *Storage) StoreUserRich(ctx context.Context, sessionID string, content *session.RichContent) (*session.Message, error) {
	m := &session.Message{
		SessionID:   sessionID,
		Sender:      session.SenderUser,
		RichContent: content,
	}
	return m, s.Store(ctx, m)
}

// StoreAIMessage stores a parsed provider turn together with its raw JSON.
func (s *Storage) StoreAIMessage(ctx context.Context, sessionID string, msg *session.AIMessage, raw string, usage session.TokenUsage) (*session.Message, error) {
	m := &session.Message{
		SessionID:     sessionID,
		Sender:        session.SenderAI,
		AIMessage:     msg,
		AIMessageJSON: raw,
		Usage:         usage,
	}
	return m, s.Store(ctx, m)
}

// StoreAIText stores provider output that could not be parsed. It stays in
// the prompt so the provider sees what it produced.
func (s *Storage) StoreAIText(ctx context.Context, sessionID, text string, usage session.TokenUsage) (*session.Message, error) {
	m := &session.Message{
		SessionID:   sessionID,
		Sender:      session.SenderAI,
		TextContent: text,
		Usage:       usage,
	}
	return m, s.Store(ctx, m)
}

// StoreSystem stores a SYSTEM message.
func (s *Storage) StoreSystem(ctx context.Context, sessionID string, sm *session.SystemMessage, excludeFromPrompt bool) (*session.Message, error) {
	m := &session.Message{
		SessionID:         sessionID,
		Sender:            session.SenderSystem,
		SystemMessage:     sm,
		ExcludeFromPrompt: excludeFromPrompt,
	}
	return m, s.Store(ctx, m)
}

// Delete removes one stored message.
func (s *Storage) Delete(ctx context.Context, id string) error {
	return s.store.DeleteMessage(ctx, id)
}

// ExecuteDataCommands deduplicates cmds, answers commands whose data is
// already in the session as CACHED, executes the rest and stores one
// DATA_ADDED message.
func (s *Storage) ExecuteDataCommands(ctx context.Context, sessionID string, cmds []session.DataCommand) (*session.SystemMessage, error) {
	unique := s.dedup.Deduplicate(cmds)

	known, err := s.knownDataHashes(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	results := make([]session.CommandResult, 0, len(unique))
	for _, cmd := range unique {
		if h, err := dedup.Hash(cmd); err == nil && known[h] {
			results = append(results, session.CommandResult{
				Command: cmd,
				Status:  session.CommandCached,
				Details: "data already present in this session",
			})
			continue
		}
		results = append(results, s.dispatcher.ExecuteData(ctx, sessionID, cmd))
	}

	sm := &session.SystemMessage{
		Type:           session.SystemDataAdded,
		CommandResults: results,
		Summary:        summarize("data queries", results, len(cmds)-len(unique)),
	}
	if _, err := s.StoreSystem(ctx, sessionID, sm, false); err != nil {
		return nil, err
	}
	return sm, nil
}

// ExecuteActionCommands executes cmds in order and stores one
// ACTIONS_EXECUTED message.
func (s *Storage) ExecuteActionCommands(ctx context.Context, sessionID string, cmds []session.DataCommand) (*session.SystemMessage, error) {
	results := make([]session.CommandResult, 0, len(cmds))
	for _, cmd := range cmds {
		results = append(results, s.dispatcher.ExecuteAction(ctx, sessionID, cmd))
	}

	sm := &session.SystemMessage{
		Type:           session.SystemActionsExecuted,
		CommandResults: results,
		Summary:        summarize("actions", results, 0),
	}
	if _, err := s.StoreSystem(ctx, sessionID, sm, false); err != nil {
		return nil, err
	}
	return sm, nil
}

// CancelActionCommands records a refused batch: every command CANCELLED.
func (s *Storage) CancelActionCommands(ctx context.Context, sessionID string, cmds []session.DataCommand, reason string) (*session.SystemMessage, error) {
	results := make([]session.CommandResult, 0, len(cmds))
	for _, cmd := range cmds {
		results = append(results, session.CommandResult{
			Command: cmd,
			Status:  session.CommandCancelled,
			Details: reason,
		})
	}

	sm := &session.SystemMessage{
		Type:           session.SystemActionsExecuted,
		CommandResults: results,
		Summary:        summarize("actions", results, 0),
	}
	if _, err := s.StoreSystem(ctx, sessionID, sm, false); err != nil {
		return nil, err
	}
	return sm, nil
}

// Describe verbalizes one command for validation prompts.
func (s *Storage) Describe(cmd session.DataCommand) string {
	return s.dispatcher.Describe(cmd)
}

// knownDataHashes collects the hashes of data commands that already
// returned data in this session. A successful action may have changed the
// data, so results stored before it no longer count.
func (s *Storage) knownDataHashes(ctx context.Context, sessionID string) (map[string]bool, error) {
	msgs, err := s.store.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	known := make(map[string]bool)
	for _, m := range msgs {
		if m.SystemMessage == nil || m.ExcludeFromPrompt {
			continue
		}
		if m.SystemMessage.Type == session.SystemActionsExecuted && anySucceeded(m.SystemMessage.CommandResults) {
			clear(known)
			continue
		}
		if m.SystemMessage.Type != session.SystemDataAdded {
			continue
		}
		for _, r := range m.SystemMessage.CommandResults {
			if r.Status != session.CommandSuccess {
				continue
			}
			if h, err := dedup.Hash(r.Command); err == nil {
				known[h] = true
			}
		}
	}
	return known, nil
}

func anySucceeded(results []session.CommandResult) bool {
	for _, r := range results {
		if r.Status == session.CommandSuccess {
			return true
		}
	}
	return false
}

func summarize(what string, results []session.CommandResult, duplicates int) string {
	counts := make(map[session.CommandStatus]int)
	for _, r := range results {
		counts[r.Status]++
	}

	parts := []string{fmt.Sprintf("%d %s", len(results), what)}
	for _, st := range []session.CommandStatus{
		session.CommandSuccess,
		session.CommandCached,
		session.CommandFailed,
		session.CommandCancelled,
	} {
		if counts[st] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[st], strings.ToLower(string(st))))
		}
	}
	if duplicates > 0 {
		parts = append(parts, fmt.Sprintf("%d duplicates skipped", duplicates))
	}
	return strings.Join(parts, ", ")
}
