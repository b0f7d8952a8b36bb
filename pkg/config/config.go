// Package config provides configuration management for the assistant.
// It uses Viper for loading with support for:
//   - JSON config files with generated defaults
//   - Environment variable overrides (ASSISTANT_ prefix)
//   - Hot-reload through fsnotify
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"assistant/pkg/session"
)

// Config represents the complete assistant configuration.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger" json:"logger"`
	Storage     StorageConfig     `mapstructure:"storage" json:"storage"`
	AI          AIConfig          `mapstructure:"ai" json:"ai"`
	Providers   []ProviderProfile `mapstructure:"providers" json:"providers"`
	Validation  ValidationConfig  `mapstructure:"validation" json:"validation"`
	Network     NetworkConfig     `mapstructure:"network" json:"network"`
	Automations AutomationsConfig `mapstructure:"automations" json:"automations"`
	Gateway     GatewayConfig     `mapstructure:"gateway" json:"gateway"`
	Redis       RedisConfig       `mapstructure:"redis" json:"redis"`
	Bus         BusConfig         `mapstructure:"bus" json:"bus"`
	State       StateConfig       `mapstructure:"state" json:"state"`
	mu          sync.RWMutex
}

// LoggerConfig configures logging.
type LoggerConfig struct {
	Level       string `mapstructure:"level" json:"level"`
	OutputPath  string `mapstructure:"output_path" json:"output_path"`
	MaxSize     int    `mapstructure:"max_size" json:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" json:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" json:"max_age"`
	Compress    bool   `mapstructure:"compress" json:"compress"`
	Development bool   `mapstructure:"development" json:"development"`
}

// StorageConfig configures the session database.
type StorageConfig struct {
	DBPath string `mapstructure:"db_path" json:"db_path"`
}

// AIConfig holds the orchestration limits and timings.
type AIConfig struct {
	DefaultProvider string       `mapstructure:"default_provider" json:"default_provider"`
	Chat            LimitsConfig `mapstructure:"chat" json:"chat"`
	Automation      LimitsConfig `mapstructure:"automation" json:"automation"`

	ChatMaxInactivityBeforeAutomationEvictionMs int64 `mapstructure:"chat_max_inactivity_before_automation_eviction_ms" json:"chat_max_inactivity_before_automation_eviction_ms"`
	AutomationMaxSessionDurationMs              int64 `mapstructure:"automation_max_session_duration_ms" json:"automation_max_session_duration_ms"`
	NetworkRetryDelayMs                         int64 `mapstructure:"network_retry_delay_ms" json:"network_retry_delay_ms"`
}

// LimitsConfig caps one autonomous round.
type LimitsConfig struct {
	MaxDataQueryIterations  int `mapstructure:"max_data_query_iterations" json:"max_data_query_iterations"`
	MaxActionRetries        int `mapstructure:"max_action_retries" json:"max_action_retries"`
	MaxFormatErrorRetries   int `mapstructure:"max_format_error_retries" json:"max_format_error_retries"`
	MaxAutonomousRoundtrips int `mapstructure:"max_autonomous_roundtrips" json:"max_autonomous_roundtrips"`
}

// ProviderProfile configures one provider endpoint.
type ProviderProfile struct {
	Name        string  `mapstructure:"name" json:"name"`
	Kind        string  `mapstructure:"kind" json:"kind"`
	APIKey      string  `mapstructure:"api_key" json:"api_key"`
	APIBase     string  `mapstructure:"api_base" json:"api_base"`
	Model       string  `mapstructure:"model" json:"model"`
	MaxTokens   int     `mapstructure:"max_tokens" json:"max_tokens"`
	Temperature float64 `mapstructure:"temperature" json:"temperature"`
	Proxy       string  `mapstructure:"proxy" json:"proxy"`
	Timeout     int     `mapstructure:"timeout" json:"timeout"` // seconds
}

// ValidationConfig configures when action batches need user confirmation.
type ValidationConfig struct {
	Mode           string   `mapstructure:"mode" json:"mode"` // auto, always, never
	AlwaysValidate []string `mapstructure:"always_validate" json:"always_validate"`
	Trusted        []string `mapstructure:"trusted" json:"trusted"`
}

// NetworkConfig configures the connectivity probe.
type NetworkConfig struct {
	ProbeTargets    []string `mapstructure:"probe_targets" json:"probe_targets"`
	IntervalSeconds int      `mapstructure:"interval_seconds" json:"interval_seconds"`
	TimeoutMs       int      `mapstructure:"timeout_ms" json:"timeout_ms"`
}

// AutomationsConfig configures scheduled automations.
type AutomationsConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	File    string `mapstructure:"file" json:"file"`
}

// GatewayConfig configures the HTTP gateway.
type GatewayConfig struct {
	Host      string `mapstructure:"host" json:"host"`
	Port      int    `mapstructure:"port" json:"port"`
	JWTSecret string `mapstructure:"jwt_secret" json:"jwt_secret"`
}

// RedisConfig is shared by the redis bus and state backends.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" json:"addr"`
	Password string `mapstructure:"password" json:"password"`
	DB       int    `mapstructure:"db" json:"db"`
}

// BusConfig selects the event bus backend.
type BusConfig struct {
	Type       string `mapstructure:"type" json:"type"` // local, redis
	Prefix     string `mapstructure:"prefix" json:"prefix"`
	BufferSize int    `mapstructure:"buffer_size" json:"buffer_size"`
}

// StateConfig selects the key/value state backend.
type StateConfig struct {
	Backend  string `mapstructure:"backend" json:"backend"` // file, redis
	FilePath string `mapstructure:"file_path" json:"file_path"`
	Prefix   string `mapstructure:"prefix" json:"prefix"`
}

// DefaultConfig returns a new Config with default values.
func DefaultConfig() *Config {
	home := configHome()

	return &Config{
		Logger: LoggerConfig{
			Level:      "info",
			OutputPath: filepath.Join(home, "logs", "assistant.log"),
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   true,
		},
		Storage: StorageConfig{
			DBPath: filepath.Join(home, "assistant.db"),
		},
		AI: AIConfig{
			DefaultProvider: "anthropic",
			Chat: LimitsConfig{
				MaxDataQueryIterations:  3,
				MaxActionRetries:        3,
				MaxFormatErrorRetries:   3,
				MaxAutonomousRoundtrips: 10,
			},
			Automation: LimitsConfig{
				MaxDataQueryIterations:  5,
				MaxActionRetries:        3,
				MaxFormatErrorRetries:   3,
				MaxAutonomousRoundtrips: 20,
			},
			ChatMaxInactivityBeforeAutomationEvictionMs: 5 * 60 * 1000,
			AutomationMaxSessionDurationMs:              10 * 60 * 1000,
			NetworkRetryDelayMs:                         30 * 1000,
		},
		Providers: []ProviderProfile{
			{
				Name:      "anthropic",
				Kind:      "anthropic",
				Model:     "claude-sonnet-4-5-20250929",
				MaxTokens: 4096,
				Timeout:   120,
			},
		},
		Validation: ValidationConfig{
			Mode:           "auto",
			AlwaysValidate: []string{},
			Trusted:        []string{},
		},
		Network: NetworkConfig{
			ProbeTargets:    []string{"api.anthropic.com:443", "1.1.1.1:53"},
			IntervalSeconds: 15,
			TimeoutMs:       3000,
		},
		Automations: AutomationsConfig{
			Enabled: true,
			File:    filepath.Join(home, "automations.yaml"),
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 18790,
		},
		Redis: RedisConfig{},
		Bus: BusConfig{
			Type:       "local",
			Prefix:     "assistant:bus:",
			BufferSize: 100,
		},
		State: StateConfig{
			Backend:  "file",
			FilePath: filepath.Join(home, "state.json"),
			Prefix:   "assistant:state:",
		},
	}
}

// LimitsFor returns the limits for a session type. SEED sessions have none.
func (c *AIConfig) LimitsFor(t session.Type) (session.Limits, error) {
	var lc LimitsConfig
	switch t {
	case session.TypeChat:
		lc = c.Chat
	case session.TypeAutomation:
		lc = c.Automation
	case session.TypeSeed:
		return session.Limits{}, session.ErrSeedNotExecutable
	default:
		return session.Limits{}, fmt.Errorf("unknown session type %q", t)
	}
	return session.Limits{
		MaxDataQueryIterations:  lc.MaxDataQueryIterations,
		MaxActionRetries:        lc.MaxActionRetries,
		MaxFormatErrorRetries:   lc.MaxFormatErrorRetries,
		MaxAutonomousRoundtrips: lc.MaxAutonomousRoundtrips,
	}, nil
}

// EvictionThreshold is the inactivity after which the active session may
// be evicted by a competing request of the other type.
func (c *AIConfig) EvictionThreshold() time.Duration {
	return time.Duration(c.ChatMaxInactivityBeforeAutomationEvictionMs) * time.Millisecond
}

// AutomationMaxSessionDuration is the automation watchdog delay.
func (c *AIConfig) AutomationMaxSessionDuration() time.Duration {
	return time.Duration(c.AutomationMaxSessionDurationMs) * time.Millisecond
}

// NetworkRetryDelay is the automation backoff between provider attempts.
func (c *AIConfig) NetworkRetryDelay() time.Duration {
	return time.Duration(c.NetworkRetryDelayMs) * time.Millisecond
}

// Provider returns the profile with the given name.
func (c *Config) Provider(name string) (ProviderProfile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderProfile{}, false
}

// AISettings returns a copy of the AI section.
func (c *Config) AISettings() AIConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.AI
}

// ValidationSettings returns a copy of the validation section.
func (c *Config) ValidationSettings() ValidationConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v := c.Validation
	v.AlwaysValidate = append([]string(nil), c.Validation.AlwaysValidate...)
	v.Trusted = append([]string(nil), c.Validation.Trusted...)
	return v
}

// ApplyFrom copies every section of other into c, for hot reload.
func (c *Config) ApplyFrom(other *Config) {
	other.mu.RLock()
	defer other.mu.RUnlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Logger = other.Logger
	c.Storage = other.Storage
	c.AI = other.AI
	c.Providers = append([]ProviderProfile(nil), other.Providers...)
	c.Validation = other.Validation
	c.Network = other.Network
	c.Automations = other.Automations
	c.Gateway = other.Gateway
	c.Redis = other.Redis
	c.Bus = other.Bus
	c.State = other.State
}

// configHome returns the default directory for config and data files.
func configHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".assistant"
	}
	return filepath.Join(home, ".assistant")
}

// expandPath expands ~ to the home directory.
func expandPath(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
