package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"assistant/pkg/prompt"
)

const defaultOpenAIBase = "https://api.openai.com/v1"

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens        int `json:"prompt_tokens"`
		CompletionTokens    int `json:"completion_tokens"`
		PromptTokensDetails struct {
			CachedTokens int `json:"cached_tokens"`
		} `json:"prompt_tokens_details"`
	} `json:"usage"`
}

type openAIError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// OpenAI calls an OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	profile Profile
	client  *http.Client
}

// NewOpenAI creates an OpenAI-compatible provider. The generic kind may
// run without an API key against local endpoints.
func NewOpenAI(p Profile) (Provider, error) {
	if p.APIKey == "" && p.Kind == "openai" {
		return nil, fmt.Errorf("API key is required for OpenAI")
	}
	if p.APIBase == "" {
		if p.Kind != "openai" {
			return nil, fmt.Errorf("api_base is required for %s providers", p.Kind)
		}
		p.APIBase = defaultOpenAIBase
	}

	client, err := NewHTTPClientWithProxy(p.Proxy, timeoutOf(p))
	if err != nil {
		return nil, fmt.Errorf("setting up proxy: %w", err)
	}
	return &OpenAI{profile: p, client: client}, nil
}

// Name implements Provider.
func (o *OpenAI) Name() string { return o.profile.Name }

// Query implements Provider.
func (o *OpenAI) Query(ctx context.Context, data *prompt.Data) (*Response, error) {
	req := openAIRequest{
		Model:       o.profile.Model,
		MaxTokens:   o.profile.MaxTokens,
		Temperature: o.profile.Temperature,
	}
	if data.System != "" {
		req.Messages = append(req.Messages, openAIMessage{Role: "system", Content: data.System})
	}
	for _, t := range data.Turns {
		req.Messages = append(req.Messages, openAIMessage{Role: string(t.Role), Content: t.Content})
	}

	headers := map[string]string{}
	if o.profile.APIKey != "" {
		headers["Authorization"] = "Bearer " + o.profile.APIKey
	}

	var resp openAIResponse
	url := strings.TrimSuffix(o.profile.APIBase, "/") + "/chat/completions"
	if err := postJSON(ctx, o.client, url, headers, req, &resp, parseOpenAIError); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("response has no choices")
	}

	out := &Response{Content: resp.Choices[0].Message.Content, Model: resp.Model}
	out.Usage.CacheRead = resp.Usage.PromptTokensDetails.CachedTokens
	out.Usage.Input = resp.Usage.PromptTokens - out.Usage.CacheRead
	out.Usage.Output = resp.Usage.CompletionTokens
	return out, nil
}

func parseOpenAIError(status int, body []byte) error {
	var oe openAIError
	if err := json.Unmarshal(body, &oe); err == nil && oe.Error.Message != "" {
		return &ErrorResponse{StatusCode: status, Message: oe.Error.Message, Type: oe.Error.Type}
	}
	return &ErrorResponse{StatusCode: status, Message: strings.TrimSpace(string(body))}
}
