package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// ConfigPathEnv overrides the config file location.
const ConfigPathEnv = "ASSISTANT_CONFIG_FILE"

// Loader handles configuration loading with Viper.
type Loader struct {
	viper *viper.Viper
	path  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("json")

	v.AddConfigPath(configHome())
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("ASSISTANT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{viper: v}
}

// Load loads the configuration from file and environment variables.
// If configPath is empty, ASSISTANT_CONFIG_FILE and then the default
// search paths are used. A missing file is created with the defaults.
func (l *Loader) Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if strings.TrimSpace(configPath) == "" {
		configPath = strings.TrimSpace(os.Getenv(ConfigPathEnv))
	}
	if configPath == "" && l.path != "" {
		configPath = l.path
	}
	if configPath != "" {
		configPath = expandPath(configPath)
		l.viper.SetConfigFile(configPath)
	}

	if err := l.viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok || os.IsNotExist(err) {
			path := configPath
			if path == "" {
				path = filepath.Join(configHome(), "config.json")
			}
			if err := l.Save(path, cfg); err != nil {
				return nil, fmt.Errorf("creating config file: %w", err)
			}
			l.path = path
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := l.viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	l.path = l.viper.ConfigFileUsed()

	cfg.Logger.OutputPath = expandPath(cfg.Logger.OutputPath)
	cfg.Storage.DBPath = expandPath(cfg.Storage.DBPath)
	cfg.Automations.File = expandPath(cfg.Automations.File)
	cfg.State.FilePath = expandPath(cfg.State.FilePath)

	return cfg, nil
}

// Save writes the configuration to path. The format follows the extension.
func (l *Loader) Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	format := "json"
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		format = "yaml"
	case ".toml":
		format = "toml"
	}

	v := viper.New()
	v.SetConfigType(format)

	v.Set("logger", cfg.Logger)
	v.Set("storage", cfg.Storage)
	v.Set("ai", cfg.AI)
	v.Set("providers", cfg.Providers)
	v.Set("validation", cfg.Validation)
	v.Set("network", cfg.Network)
	v.Set("automations", cfg.Automations)
	v.Set("gateway", cfg.Gateway)
	v.Set("redis", cfg.Redis)
	v.Set("bus", cfg.Bus)
	v.Set("state", cfg.State)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// SaveToFile saves config without creating a Loader.
func SaveToFile(cfg *Config, path string) error {
	return NewLoader().Save(path, cfg)
}

// GetConfigPath returns the path of the loaded config file.
func (l *Loader) GetConfigPath() string {
	if used := l.viper.ConfigFileUsed(); used != "" {
		return used
	}
	return l.path
}

// GetString gets a string configuration value.
func (l *Loader) GetString(key string) string {
	return l.viper.GetString(key)
}

// IsSet checks if a key is set in the configuration.
func (l *Loader) IsSet(key string) bool {
	return l.viper.IsSet(key)
}

// InitDefaultConfig writes a default config file unless one exists.
// It returns the path and whether the file was created.
func InitDefaultConfig() (string, bool, error) {
	path := strings.TrimSpace(os.Getenv(ConfigPathEnv))
	if path == "" {
		path = filepath.Join(configHome(), "config.json")
	}
	path = expandPath(path)

	if _, err := os.Stat(path); err == nil {
		return path, false, nil
	} else if !os.IsNotExist(err) {
		return "", false, fmt.Errorf("checking config file: %w", err)
	}

	if err := SaveToFile(DefaultConfig(), path); err != nil {
		return "", false, err
	}
	return path, true, nil
}
