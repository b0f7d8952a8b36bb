// Package prompt builds the provider input for a session from its stored
// messages.
package prompt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"assistant/pkg/session"
)

// Role is the speaker of a turn as seen by the provider.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one role-tagged block of the conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Data is the snapshot handed to a provider.
type Data struct {
	SessionID   string       `json:"session_id"`
	SessionType session.Type `json:"session_type"`
	System      string       `json:"system"`
	Turns       []Turn       `json:"turns"`
}

// MessageSource loads a session and its messages.
type MessageSource interface {
	Get(ctx context.Context, id string) (*session.Session, error)
	ListMessages(ctx context.Context, sessionID string) ([]*session.Message, error)
}

// Builder assembles Data.
type Builder struct {
	source MessageSource
}

// NewBuilder creates a prompt builder.
func NewBuilder(source MessageSource) *Builder {
	return &Builder{source: source}
}

// Build loads the session's messages in order and renders them. Messages
// flagged excludeFromPrompt are skipped. Consecutive turns of the same
// role are merged.
func (b *Builder) Build(ctx context.Context, sessionID string) (*Data, error) {
	sess, err := b.source.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	msgs, err := b.source.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load messages of %s: %w", sessionID, err)
	}

	data := &Data{
		SessionID:   sess.ID,
		SessionType: sess.Type,
		System:      systemText(sess),
	}
	for _, m := range msgs {
		if m.ExcludeFromPrompt {
			continue
		}
		role, content := render(m)
		if content == "" {
			continue
		}
		data.append(role, content)
	}
	return data, nil
}

func (d *Data) append(role Role, content string) {
	if n := len(d.Turns); n > 0 && d.Turns[n-1].Role == role {
		d.Turns[n-1].Content += "\n\n" + content
		return
	}
	d.Turns = append(d.Turns, Turn{Role: role, Content: content})
}

func render(m *session.Message) (Role, string) {
	switch m.Sender {
	case session.SenderAI:
		if m.AIMessageJSON != "" {
			return RoleAssistant, m.AIMessageJSON
		}
		if m.AIMessage != nil {
			raw, _ := json.Marshal(m.AIMessage)
			return RoleAssistant, string(raw)
		}
		return RoleAssistant, m.TextContent

	case session.SenderSystem:
		if m.SystemMessage == nil {
			return RoleUser, prefixSystem(m.TextContent)
		}
		return RoleUser, renderSystem(m.SystemMessage)

	default:
		if m.RichContent != nil {
			return RoleUser, renderRich(m.RichContent)
		}
		return RoleUser, m.TextContent
	}
}

func prefixSystem(text string) string {
	if text == "" {
		return ""
	}
	return "[SYSTEM] " + text
}

func renderSystem(sm *session.SystemMessage) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[SYSTEM %s] %s", sm.Type, sm.Summary)
	if len(sm.CommandResults) > 0 {
		raw, err := json.Marshal(sm.CommandResults)
		if err == nil {
			sb.WriteString("\n")
			sb.Write(raw)
		}
	}
	return sb.String()
}

func renderRich(rc *session.RichContent) string {
	var sb strings.Builder
	if rc.ModuleType != "" {
		fmt.Fprintf(&sb, "[answer to %s] ", rc.ModuleType)
	}
	sb.WriteString(rc.Text)
	for _, a := range rc.Attachments {
		fmt.Fprintf(&sb, "\n- %s: %s", a.Kind, a.Ref)
		if a.Label != "" {
			sb.WriteString(" (" + a.Label + ")")
		}
	}
	return sb.String()
}

func systemText(sess *session.Session) string {
	var sb strings.Builder
	sb.WriteString(ResponseFormat)
	sb.WriteString("\n\nSession: ")
	sb.WriteString(string(sess.Type))
	if sess.Name != "" {
		sb.WriteString(" \"" + sess.Name + "\"")
	}
	if sess.AutomationID != "" {
		sb.WriteString(", automation " + sess.AutomationID)
	}
	if sess.Type == session.TypeAutomation {
		sb.WriteString("\nNo user is watching. Keep working until the task is done, then set \"completed\": true.")
	}
	return sb.String()
}

// ResponseFormat tells the provider how to answer.
const ResponseFormat = `Answer with a single JSON object:
{
  "preText": "text shown to the user (required)",
  "validationRequest": false,
  "dataCommands": [{"id": "...", "type": "...", "params": {}, "isRelative": false}],
  "actionCommands": [{"id": "...", "type": "...", "params": {}}],
  "communicationModule": {"type": "...", "data": {}},
  "postText": "text shown after the actions succeed",
  "keepControl": false,
  "completed": false
}
Use at most one of dataCommands, actionCommands and communicationModule.`
