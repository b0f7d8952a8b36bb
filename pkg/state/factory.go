package state

import (
	"fmt"

	"assistant/pkg/logger"
)

// NewKV creates a new KV store based on configuration.
func NewKV(log *logger.Logger, cfg *Config) (KV, error) {
	switch cfg.Backend {
	case BackendFile, "":
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("state file path is required")
		}
		return NewFileStore(log, cfg.FilePath)

	case BackendRedis:
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("redis address is required")
		}
		return NewRedisStore(log, &RedisStoreConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})

	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Backend)
	}
}
