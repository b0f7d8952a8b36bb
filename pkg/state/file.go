package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"assistant/pkg/logger"
)

// FileStore is a JSON file key/value store. Every mutation is written
// through with a temp file and rename.
type FileStore struct {
	log      *logger.Logger
	filePath string
	data     map[string]any
	mu       sync.RWMutex
}

// NewFileStore opens the store at path, loading existing state.
func NewFileStore(log *logger.Logger, path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	s := &FileStore{
		log:      log,
		filePath: path,
		data:     make(map[string]any),
	}
	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading state: %w", err)
	}
	return s, nil
}

// Get retrieves a value from the store.
func (s *FileStore) Get(ctx context.Context, key string) (any, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, exists := s.data[key]
	return value, exists, nil
}

// GetString retrieves a string value.
func (s *FileStore) GetString(ctx context.Context, key string) (string, bool, error) {
	value, exists, err := s.Get(ctx, key)
	if err != nil || !exists {
		return "", false, err
	}
	str, ok := asString(value)
	return str, ok, nil
}

// GetInt retrieves an integer value.
func (s *FileStore) GetInt(ctx context.Context, key string) (int, bool, error) {
	value, exists, err := s.Get(ctx, key)
	if err != nil || !exists {
		return 0, false, err
	}
	i, ok := asInt(value)
	return i, ok, nil
}

// Set stores a value.
func (s *FileStore) Set(ctx context.Context, key string, value any) error {
	v, err := normalize(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = v
	return s.saveLocked()
}

// Delete removes a value.
func (s *FileStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[key]; !ok {
		return nil
	}
	delete(s.data, key)
	return s.saveLocked()
}

// Keys returns the sorted keys starting with prefix.
func (s *FileStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// UpdateFunc atomically updates a value using a function.
func (s *FileStore) UpdateFunc(ctx context.Context, key string, updateFn func(current any) any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := normalize(updateFn(s.data[key]))
	if err != nil {
		return err
	}
	s.data[key] = v
	return s.saveLocked()
}

// Close is a no-op; the file is always up to date.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, &s.data); err != nil {
		return fmt.Errorf("unmarshaling state: %w", err)
	}
	if s.data == nil {
		s.data = make(map[string]any)
	}

	s.log.Debug("Loaded state", zap.String("file", s.filePath), zap.Int("keys", len(s.data)))
	return nil
}

func (s *FileStore) saveLocked() error {
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}

	tempFile := s.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("writing temp state file: %w", err)
	}
	if err := os.Rename(tempFile, s.filePath); err != nil {
		return fmt.Errorf("renaming temp state file: %w", err)
	}
	return nil
}
