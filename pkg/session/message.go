package session

import (
	"fmt"
	"time"
)

// Sender identifies who produced a message.
type Sender string

const (
	SenderUser   Sender = "USER"
	SenderAI     Sender = "AI"
	SenderSystem Sender = "SYSTEM"
)

// Message is one turn in a session. Exactly one of RichContent,
// TextContent, AIMessage and SystemMessage is set.
type Message struct {
	ID                string         `json:"id"`
	SessionID         string         `json:"session_id"`
	Sender            Sender         `json:"sender"`
	Timestamp         time.Time      `json:"timestamp"`
	RichContent       *RichContent   `json:"rich_content,omitempty"`
	TextContent       string         `json:"text_content,omitempty"`
	AIMessage         *AIMessage     `json:"ai_message,omitempty"`
	AIMessageJSON     string         `json:"ai_message_json,omitempty"`
	SystemMessage     *SystemMessage `json:"system_message,omitempty"`
	Usage             TokenUsage     `json:"usage"`
	ExcludeFromPrompt bool           `json:"exclude_from_prompt"`
}

// Validate enforces the exactly-one-content rule and sender/content pairing.
func (m *Message) Validate() error {
	if m.SessionID == "" {
		return fmt.Errorf("message session id is required")
	}
	count := 0
	if m.RichContent != nil {
		count++
	}
	if m.TextContent != "" {
		count++
	}
	if m.AIMessage != nil {
		count++
	}
	if m.SystemMessage != nil {
		count++
	}
	if count != 1 {
		return fmt.Errorf("message must carry exactly one content, got %d", count)
	}

	switch m.Sender {
	case SenderUser:
		if m.AIMessage != nil || m.SystemMessage != nil {
			return fmt.Errorf("user message cannot carry AI or system content")
		}
	case SenderAI:
		if m.RichContent != nil || m.SystemMessage != nil {
			return fmt.Errorf("AI message cannot carry rich or system content")
		}
	case SenderSystem:
		if m.RichContent != nil || m.AIMessage != nil {
			return fmt.Errorf("system message cannot carry rich or AI content")
		}
	default:
		return fmt.Errorf("unknown sender %q", m.Sender)
	}
	return nil
}

// RichContent is structured user input.
type RichContent struct {
	Text string `json:"text"`
	// Attachments reference data the user linked to the message.
	Attachments []Attachment `json:"attachments,omitempty"`
	// ModuleType is set when the content answers a communication module.
	ModuleType string `json:"module_type,omitempty"`
}

// Attachment is a reference carried by rich user content.
type Attachment struct {
	Kind  string `json:"kind"`
	Ref   string `json:"ref"`
	Label string `json:"label,omitempty"`
}

// TokenUsage counts provider tokens for one message.
type TokenUsage struct {
	Input      int `json:"input"`
	CacheWrite int `json:"cache_write"`
	CacheRead  int `json:"cache_read"`
	Output     int `json:"output"`
}

// AIMessage is a parsed provider turn. At most one of DataCommands,
// ActionCommands and CommunicationModule is expected.
type AIMessage struct {
	PreText             string               `json:"preText"`
	ValidationRequest   bool                 `json:"validationRequest,omitempty"`
	DataCommands        []DataCommand        `json:"dataCommands,omitempty"`
	ActionCommands      []DataCommand        `json:"actionCommands,omitempty"`
	PostText            string               `json:"postText,omitempty"`
	CommunicationModule *CommunicationModule `json:"communicationModule,omitempty"`
	KeepControl         bool                 `json:"keepControl,omitempty"`
	Completed           bool                 `json:"completed,omitempty"`
}

// DataCommand is a query or action requested by the provider.
type DataCommand struct {
	ID         string         `json:"id,omitempty"`
	Type       string         `json:"type"`
	Params     map[string]any `json:"params,omitempty"`
	IsRelative bool           `json:"isRelative,omitempty"`
}

// CommunicationModule asks the user for a specific kind of input.
type CommunicationModule struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// SystemMessageType classifies system messages.
type SystemMessageType string

const (
	SystemDataAdded       SystemMessageType = "DATA_ADDED"
	SystemActionsExecuted SystemMessageType = "ACTIONS_EXECUTED"

	SystemFormatError        SystemMessageType = "FORMAT_ERROR"
	SystemLimitReached       SystemMessageType = "LIMIT_REACHED"
	SystemInterrupted        SystemMessageType = "INTERRUPTED"
	SystemTimeout            SystemMessageType = "TIMEOUT"
	SystemNetworkError       SystemMessageType = "NETWORK_ERROR"
	SystemContinueReminder   SystemMessageType = "CONTINUE_REMINDER"
	SystemInteractionPending SystemMessageType = "INTERACTION_PENDING"
)

// CommandStatus is the outcome of one command.
type CommandStatus string

const (
	CommandSuccess   CommandStatus = "SUCCESS"
	CommandFailed    CommandStatus = "FAILED"
	CommandCancelled CommandStatus = "CANCELLED"
	CommandCached    CommandStatus = "CACHED"
)

// CommandResult is the status of one executed command.
type CommandResult struct {
	Command DataCommand    `json:"command"`
	Status  CommandStatus  `json:"status"`
	Details string         `json:"details,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// SystemMessage reports command execution and loop events.
type SystemMessage struct {
	Type           SystemMessageType `json:"type"`
	CommandResults []CommandResult   `json:"commandResults,omitempty"`
	Summary        string            `json:"summary"`
}

// AllSucceeded reports whether every command result is SUCCESS or CACHED.
func (s *SystemMessage) AllSucceeded() bool {
	for _, r := range s.CommandResults {
		if r.Status != CommandSuccess && r.Status != CommandCached {
			return false
		}
	}
	return true
}

// HasCommands reports whether the AI message requests data or actions.
func (m *AIMessage) HasCommands() bool {
	return len(m.DataCommands) > 0 || len(m.ActionCommands) > 0 || m.CommunicationModule != nil
}
