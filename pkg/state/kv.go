// Package state provides a small persistent key/value store. It backs the
// assistant's memory commands and the network monitor's last verdict.
package state

import (
	"context"
	"encoding/json"
	"fmt"
)

// KV is the interface for key/value storage backends. Values are JSON
// values: numbers read back as float64 and objects as map[string]any.
type KV interface {
	// Get retrieves a value from the store.
	Get(ctx context.Context, key string) (any, bool, error)

	// GetString retrieves a string value.
	GetString(ctx context.Context, key string) (string, bool, error)

	// GetInt retrieves an integer value.
	GetInt(ctx context.Context, key string) (int, bool, error)

	// Set stores a value.
	Set(ctx context.Context, key string, value any) error

	// Delete removes a value. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys returns the sorted keys starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// UpdateFunc atomically replaces a value with updateFn(current).
	UpdateFunc(ctx context.Context, key string, updateFn func(current any) any) error

	// Close releases the backend.
	Close() error
}

// BackendType represents the storage backend type.
type BackendType string

const (
	BackendFile  BackendType = "file"
	BackendRedis BackendType = "redis"
)

// Config configures the state store.
type Config struct {
	Backend BackendType

	FilePath string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// normalize round-trips v through JSON so every backend returns the same
// dynamic types.
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling value: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshaling value: %w", err)
	}
	return out, nil
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	default:
		return 0, false
	}
}
