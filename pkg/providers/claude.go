package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"assistant/pkg/prompt"
)

const (
	defaultClaudeBase   = "https://api.anthropic.com/v1"
	anthropicVersion    = "2023-06-01"
	defaultClaudeTokens = 4096
)

type claudeRequest struct {
	Model       string          `json:"model"`
	System      string          `json:"system,omitempty"`
	Messages    []claudeMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature,omitempty"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens              int `json:"input_tokens"`
		OutputTokens             int `json:"output_tokens"`
		CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
		CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	} `json:"usage"`
}

type claudeError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Claude calls the Anthropic Messages API.
type Claude struct {
	profile Profile
	client  *http.Client
}

// NewClaude creates a Claude provider.
func NewClaude(p Profile) (Provider, error) {
	if p.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Claude")
	}
	if p.APIBase == "" {
		p.APIBase = defaultClaudeBase
	}
	if p.MaxTokens <= 0 {
		p.MaxTokens = defaultClaudeTokens
	}

	client, err := NewHTTPClientWithProxy(p.Proxy, timeoutOf(p))
	if err != nil {
		return nil, fmt.Errorf("setting up proxy: %w", err)
	}
	return &Claude{profile: p, client: client}, nil
}

// Name implements Provider.
func (c *Claude) Name() string { return c.profile.Name }

// Query implements Provider.
func (c *Claude) Query(ctx context.Context, data *prompt.Data) (*Response, error) {
	req := claudeRequest{
		Model:       c.profile.Model,
		System:      data.System,
		MaxTokens:   c.profile.MaxTokens,
		Temperature: c.profile.Temperature,
	}
	for _, t := range data.Turns {
		req.Messages = append(req.Messages, claudeMessage{Role: string(t.Role), Content: t.Content})
	}

	var resp claudeResponse
	headers := map[string]string{
		"x-api-key":         c.profile.APIKey,
		"anthropic-version": anthropicVersion,
	}
	url := strings.TrimSuffix(c.profile.APIBase, "/") + "/messages"
	if err := postJSON(ctx, c.client, url, headers, req, &resp, parseClaudeError); err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	out := &Response{Content: text.String(), Model: resp.Model}
	out.Usage.Input = resp.Usage.InputTokens
	out.Usage.Output = resp.Usage.OutputTokens
	out.Usage.CacheWrite = resp.Usage.CacheCreationInputTokens
	out.Usage.CacheRead = resp.Usage.CacheReadInputTokens
	return out, nil
}

func parseClaudeError(status int, body []byte) error {
	var ce claudeError
	if err := json.Unmarshal(body, &ce); err == nil && ce.Error.Message != "" {
		return &ErrorResponse{StatusCode: status, Message: ce.Error.Message, Type: ce.Error.Type}
	}
	return &ErrorResponse{StatusCode: status, Message: strings.TrimSpace(string(body))}
}
