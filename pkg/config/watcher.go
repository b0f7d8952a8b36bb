package config

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeHandler is called after the configuration is reloaded.
type ChangeHandler func(*Config) error

// Watcher reloads the config file on change and applies the new values
// to the shared *Config in place.
type Watcher struct {
	loader   *Loader
	config   *Config
	log      *zap.Logger
	handlers []ChangeHandler
	mu       sync.RWMutex
	watching bool
}

// NewWatcher creates a new configuration watcher.
func NewWatcher(loader *Loader, config *Config, log *zap.Logger) *Watcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{
		loader: loader,
		config: config,
		log:    log,
	}
}

// AddHandler registers a handler to be called when configuration changes.
func (w *Watcher) AddHandler(handler ChangeHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, handler)
}

// Start begins watching the configuration file for changes.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return fmt.Errorf("watcher already started")
	}
	w.watching = true
	w.mu.Unlock()

	w.loader.viper.OnConfigChange(func(e fsnotify.Event) {
		w.reload(e.Name)
	})
	w.loader.viper.WatchConfig()
	return nil
}

// reload re-reads the file, validates it and notifies handlers.
// Invalid files are logged and ignored.
func (w *Watcher) reload(name string) {
	w.mu.RLock()
	watching := w.watching
	w.mu.RUnlock()
	if !watching {
		return
	}

	next, err := w.loader.Load("")
	if err != nil {
		w.log.Warn("Failed to reload config", zap.String("file", name), zap.Error(err))
		return
	}
	if err := ValidateConfig(next); err != nil {
		w.log.Warn("Ignoring invalid config change", zap.String("file", name), zap.Error(err))
		return
	}

	w.config.ApplyFrom(next)
	w.notifyHandlers()
}

// Stop stops delivering changes. Viper keeps its fsnotify goroutine.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watching = false
}

// GetConfig returns the shared configuration.
func (w *Watcher) GetConfig() *Config {
	return w.config
}

func (w *Watcher) notifyHandlers() {
	w.mu.RLock()
	handlers := make([]ChangeHandler, len(w.handlers))
	copy(handlers, w.handlers)
	w.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(w.config); err != nil {
			w.log.Warn("Config change handler failed", zap.Error(err))
		}
	}
}
