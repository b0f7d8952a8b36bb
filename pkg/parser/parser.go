// Package parser turns raw provider output into a session.AIMessage.
// Malformed output is reported as a format error value so the round
// executor can feed it back to the provider.
package parser

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"assistant/pkg/session"
)

// Result is the outcome of parsing one provider response. Exactly one of
// Message and FormatError is set.
type Result struct {
	Message *session.AIMessage
	// JSON is the extracted JSON document, stored alongside the message.
	JSON string
	// FormatError describes why the response could not be used.
	FormatError string
}

// OK reports whether parsing produced a message.
func (r Result) OK() bool {
	return r.Message != nil && r.FormatError == ""
}

// Parser validates provider output against the response schema.
type Parser struct {
	schema *jsonschema.Resolved
}

// New resolves the response schema.
func New() (*Parser, error) {
	resolved, err := responseSchema().Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve response schema: %w", err)
	}
	return &Parser{schema: resolved}, nil
}

// MustNew is New for package-level wiring; the schema is static.
func MustNew() *Parser {
	p, err := New()
	if err != nil {
		panic(err)
	}
	return p
}

// Parse extracts, validates and decodes one provider response.
func (p *Parser) Parse(content string) Result {
	doc, ok := extractJSON(content)
	if !ok {
		return Result{FormatError: "response does not contain a JSON object"}
	}

	var instance any
	if err := json.Unmarshal([]byte(doc), &instance); err != nil {
		return Result{JSON: doc, FormatError: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if err := p.schema.Validate(instance); err != nil {
		return Result{JSON: doc, FormatError: fmt.Sprintf("response does not match the expected format: %v", err)}
	}

	var msg session.AIMessage
	if err := json.Unmarshal([]byte(doc), &msg); err != nil {
		return Result{JSON: doc, FormatError: fmt.Sprintf("invalid field types: %v", err)}
	}
	return Result{Message: &msg, JSON: doc}
}

// extractJSON returns the outermost JSON object in s, tolerating markdown
// code fences and text around it.
func extractJSON(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	// Unbalanced: hand the remainder to the JSON decoder for a precise error.
	return s[start:], true
}
