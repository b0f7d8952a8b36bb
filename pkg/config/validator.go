package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for _, err := range e {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.errors = make(ValidationErrors, 0)

	v.validateStorage(&cfg.Storage)
	v.validateAI(&cfg.AI)
	v.validateProviders(cfg.Providers, cfg.AI.DefaultProvider)
	v.validateValidation(&cfg.Validation)
	v.validateNetwork(&cfg.Network)
	v.validateGateway(&cfg.Gateway)
	v.validateBackends(cfg)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

func (v *Validator) validateStorage(cfg *StorageConfig) {
	if strings.TrimSpace(cfg.DBPath) == "" {
		v.addError("storage.db_path", "db_path is required")
	}
}

func (v *Validator) validateAI(cfg *AIConfig) {
	v.validateLimits("ai.chat", cfg.Chat)
	v.validateLimits("ai.automation", cfg.Automation)

	if cfg.ChatMaxInactivityBeforeAutomationEvictionMs <= 0 {
		v.addError("ai.chat_max_inactivity_before_automation_eviction_ms", "must be positive")
	}
	if cfg.AutomationMaxSessionDurationMs <= 0 {
		v.addError("ai.automation_max_session_duration_ms", "must be positive")
	}
	if cfg.NetworkRetryDelayMs <= 0 {
		v.addError("ai.network_retry_delay_ms", "must be positive")
	}
}

func (v *Validator) validateLimits(prefix string, cfg LimitsConfig) {
	if cfg.MaxDataQueryIterations < 0 {
		v.addError(prefix+".max_data_query_iterations", "must not be negative")
	}
	if cfg.MaxActionRetries < 0 {
		v.addError(prefix+".max_action_retries", "must not be negative")
	}
	if cfg.MaxFormatErrorRetries < 0 {
		v.addError(prefix+".max_format_error_retries", "must not be negative")
	}
	if cfg.MaxAutonomousRoundtrips < 1 {
		v.addError(prefix+".max_autonomous_roundtrips", "must be at least 1")
	}
}

func (v *Validator) validateProviders(profiles []ProviderProfile, defaultProvider string) {
	seen := make(map[string]bool, len(profiles))
	for i, p := range profiles {
		field := fmt.Sprintf("providers[%d]", i)
		name := strings.TrimSpace(p.Name)
		if name == "" {
			v.addError(field+".name", "name is required")
			continue
		}
		if seen[name] {
			v.addError(field+".name", fmt.Sprintf("duplicate provider %q", name))
		}
		seen[name] = true

		switch p.Kind {
		case "anthropic", "claude", "openai", "generic":
		default:
			v.addError(field+".kind", fmt.Sprintf("unsupported kind %q", p.Kind))
		}
		if p.Timeout < 0 {
			v.addError(field+".timeout", "timeout must not be negative")
		}
	}

	if defaultProvider != "" && len(profiles) > 0 && !seen[defaultProvider] {
		v.addError("ai.default_provider", fmt.Sprintf("provider %q is not configured", defaultProvider))
	}
}

func (v *Validator) validateValidation(cfg *ValidationConfig) {
	switch cfg.Mode {
	case "auto", "always", "never":
	default:
		v.addError("validation.mode", "mode must be one of auto, always, never")
	}
}

func (v *Validator) validateNetwork(cfg *NetworkConfig) {
	for i, target := range cfg.ProbeTargets {
		if _, _, err := net.SplitHostPort(target); err != nil {
			v.addError(fmt.Sprintf("network.probe_targets[%d]", i), "target must be host:port")
		}
	}
	if cfg.IntervalSeconds < 1 {
		v.addError("network.interval_seconds", "interval_seconds must be at least 1")
	}
	if cfg.TimeoutMs < 1 {
		v.addError("network.timeout_ms", "timeout_ms must be at least 1")
	}
}

func (v *Validator) validateGateway(cfg *GatewayConfig) {
	if cfg.Port < 1 || cfg.Port > 65535 {
		v.addError("gateway.port", "port must be between 1 and 65535")
	}
	if cfg.Host == "" {
		v.addError("gateway.host", "host is required")
	}
}

func (v *Validator) validateBackends(cfg *Config) {
	switch cfg.Bus.Type {
	case "", "local":
	case "redis":
		if cfg.Redis.Addr == "" {
			v.addError("redis.addr", "addr is required for the redis bus")
		}
	default:
		v.addError("bus.type", fmt.Sprintf("unsupported bus type %q", cfg.Bus.Type))
	}

	switch cfg.State.Backend {
	case "", "file":
	case "redis":
		if cfg.Redis.Addr == "" {
			v.addError("redis.addr", "addr is required for the redis state backend")
		}
	default:
		v.addError("state.backend", fmt.Sprintf("unsupported state backend %q", cfg.State.Backend))
	}
}

// addError adds a validation error.
func (v *Validator) addError(field, message string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Message: message,
	})
}

// ValidateConfig is a convenience function to validate a configuration.
func ValidateConfig(cfg *Config) error {
	return NewValidator().Validate(cfg)
}
