// Package providers implements the LLM endpoints the round executor talks
// to. Every client turns a prompt.Data snapshot into one HTTP request and
// returns the raw text the model produced.
package providers

import (
	"context"
	"errors"
	"fmt"

	"assistant/pkg/prompt"
	"assistant/pkg/session"
)

// ErrNetworkUnavailable is returned without contacting the provider when
// the connectivity check fails.
var ErrNetworkUnavailable = errors.New("network unavailable")

// Provider queries one model endpoint.
type Provider interface {
	// Name returns the profile name.
	Name() string

	// Query sends data and returns the model output. A failed call is an
	// error; an *ErrorResponse carries the HTTP status.
	Query(ctx context.Context, data *prompt.Data) (*Response, error)
}

// Response is a successful provider call.
type Response struct {
	Content string             `json:"content"`
	Model   string             `json:"model"`
	Usage   session.TokenUsage `json:"usage"`
}

// Profile configures one endpoint.
type Profile struct {
	Name        string
	Kind        string
	APIKey      string
	APIBase     string
	Model       string
	MaxTokens   int
	Temperature float64
	Proxy       string
	Timeout     int // seconds
}

// ErrorResponse represents a provider error response.
type ErrorResponse struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Type       string `json:"type,omitempty"`
}

// Error implements the error interface.
func (e *ErrorResponse) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("HTTP %d: %s: %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// StatusCode extracts the HTTP status from err, or 0.
func StatusCode(err error) int {
	var er *ErrorResponse
	if errors.As(err, &er) {
		return er.StatusCode
	}
	return 0
}
