package providers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
)

// ErrorReason labels a failed provider call for logs.
type ErrorReason string

const (
	// ErrorReasonAuth indicates authentication failure (401, 403, invalid API key).
	ErrorReasonAuth ErrorReason = "auth"

	// ErrorReasonRateLimit indicates rate limiting (429).
	ErrorReasonRateLimit ErrorReason = "rate_limit"

	// ErrorReasonBilling indicates billing/quota issues.
	ErrorReasonBilling ErrorReason = "billing"

	// ErrorReasonNetwork indicates network connectivity issues.
	ErrorReasonNetwork ErrorReason = "network"

	// ErrorReasonServer indicates server errors (5xx).
	ErrorReasonServer ErrorReason = "server"

	// ErrorReasonUnknown indicates unknown error type.
	ErrorReasonUnknown ErrorReason = "unknown"
)

// ErrorClassification contains error classification details.
type ErrorClassification struct {
	Reason    ErrorReason
	Retriable bool
	Message   string
}

// ClassifyError analyzes a provider error.
func ClassifyError(err error) ErrorClassification {
	if err == nil {
		return ErrorClassification{Reason: ErrorReasonUnknown, Message: "no error"}
	}

	switch code := StatusCode(err); {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrorClassification{Reason: ErrorReasonAuth, Message: "authentication failed"}
	case code == http.StatusTooManyRequests:
		return ErrorClassification{Reason: ErrorReasonRateLimit, Retriable: true, Message: "rate limit exceeded"}
	case code == http.StatusPaymentRequired:
		return ErrorClassification{Reason: ErrorReasonBilling, Message: "billing or quota issue"}
	case code >= 500 && code < 600:
		return ErrorClassification{Reason: ErrorReasonServer, Retriable: true, Message: "server error"}
	}

	if errors.Is(err, ErrNetworkUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassification{Reason: ErrorReasonNetwork, Retriable: true, Message: "network error"}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorClassification{Reason: ErrorReasonNetwork, Retriable: true, Message: "network error"}
	}

	errMsg := strings.ToLower(err.Error())
	switch {
	case containsAny(errMsg, "invalid api key", "invalid_api_key", "unauthorized", "authentication"):
		return ErrorClassification{Reason: ErrorReasonAuth, Message: "authentication error"}
	case containsAny(errMsg, "rate limit", "rate_limit", "too many requests"):
		return ErrorClassification{Reason: ErrorReasonRateLimit, Retriable: true, Message: "rate limit error"}
	case containsAny(errMsg, "quota", "billing", "payment", "credits"):
		return ErrorClassification{Reason: ErrorReasonBilling, Message: "billing or quota error"}
	case containsAny(errMsg, "network", "connection", "timeout", "dial", "refused", "no such host"):
		return ErrorClassification{Reason: ErrorReasonNetwork, Retriable: true, Message: "network error"}
	}

	return ErrorClassification{Reason: ErrorReasonUnknown, Message: err.Error()}
}

func containsAny(s string, substrs ...string) bool {
	for _, substr := range substrs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
