package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"assistant/pkg/logger"
)

// RedisStore is a Redis-based key/value store.
type RedisStore struct {
	log    *logger.Logger
	client *redis.Client
	prefix string
}

// RedisStoreConfig configures the Redis store.
type RedisStoreConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedisStore connects to Redis and returns a store.
func NewRedisStore(log *logger.Logger, cfg *RedisStoreConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connecting to Redis: %w", err)
	}

	log.Info("Connected to Redis state store",
		zap.String("addr", cfg.Addr),
		zap.Int("db", cfg.DB))
	return newRedisStoreWithClient(log, client, cfg.Prefix), nil
}

func newRedisStoreWithClient(log *logger.Logger, client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "assistant:state:"
	}
	return &RedisStore{log: log, client: client, prefix: prefix}
}

func (s *RedisStore) prefixKey(key string) string {
	return s.prefix + key
}

// Get retrieves a value from the store.
func (s *RedisStore) Get(ctx context.Context, key string) (any, bool, error) {
	val, err := s.client.Get(ctx, s.prefixKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var value any
	if err := json.Unmarshal([]byte(val), &value); err != nil {
		return val, true, nil
	}
	return value, true, nil
}

// GetString retrieves a string value.
func (s *RedisStore) GetString(ctx context.Context, key string) (string, bool, error) {
	value, exists, err := s.Get(ctx, key)
	if err != nil || !exists {
		return "", false, err
	}
	str, ok := asString(value)
	return str, ok, nil
}

// GetInt retrieves an integer value.
func (s *RedisStore) GetInt(ctx context.Context, key string) (int, bool, error) {
	value, exists, err := s.Get(ctx, key)
	if err != nil || !exists {
		return 0, false, err
	}
	i, ok := asInt(value)
	return i, ok, nil
}

// Set stores a value.
func (s *RedisStore) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshaling value: %w", err)
	}
	if err := s.client.Set(ctx, s.prefixKey(key), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes a value.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefixKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Keys returns the sorted keys starting with prefix.
func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// UpdateFunc atomically updates a value using a WATCH transaction.
func (s *RedisStore) UpdateFunc(ctx context.Context, key string, updateFn func(current any) any) error {
	prefixedKey := s.prefixKey(key)

	txf := func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, prefixedKey).Result()
		var current any
		if !errors.Is(err, redis.Nil) {
			if err != nil {
				return err
			}
			if err := json.Unmarshal([]byte(val), &current); err != nil {
				current = val
			}
		}

		data, err := json.Marshal(updateFn(current))
		if err != nil {
			return fmt.Errorf("marshaling value: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, prefixedKey, data, 0)
			return nil
		})
		return err
	}

	if err := s.client.Watch(ctx, txf, prefixedKey); err != nil {
		return fmt.Errorf("redis transaction: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
