package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"yqhp/load-engine/pkg/logger"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration values.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{errors: make(ValidationErrors, 0)}
}

func (v *Validator) addError(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

// Validate validates the entire configuration and returns any errors.
func (v *Validator) Validate(cfg *Config) error {
	v.errors = make(ValidationErrors, 0)

	v.validateLogging(&cfg.Logging)
	v.validateAPI(&cfg.API)
	v.validateEngine(&cfg.Engine)
	v.validateHTTP(&cfg.HTTP)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

func (v *Validator) validateLogging(cfg *logger.Config) {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if cfg.Level == "" {
		v.addError("logging.level", "log level is required")
	} else if !validLevels[strings.ToLower(cfg.Level)] {
		v.addError("logging.level", fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", cfg.Level))
	}

	switch strings.ToLower(cfg.Format) {
	case "json", "console":
	default:
		v.addError("logging.format", fmt.Sprintf("invalid log format '%s', must be one of: json, console", cfg.Format))
	}

	switch strings.ToLower(cfg.Output) {
	case "", "stderr":
	case "file", "both":
		if cfg.FilePath == "" {
			v.addError("logging.file_path", "file path is required when output includes file")
		}
	default:
		v.addError("logging.output", fmt.Sprintf("invalid log output '%s', must be one of: stderr, file, both", cfg.Output))
	}

	if cfg.MaxSize < 0 {
		v.addError("logging.max_size", "max size must be non-negative")
	}
	if cfg.MaxBackups < 0 {
		v.addError("logging.max_backups", "max backups must be non-negative")
	}
	if cfg.MaxAge < 0 {
		v.addError("logging.max_age", "max age must be non-negative")
	}
}

func (v *Validator) validateAPI(cfg *APIConfig) {
	// 地址为空表示关闭控制面
	if cfg.Address != "" && !isValidAddress(cfg.Address) {
		v.addError("api.address", "invalid address format, expected host:port or :port")
	}
}

func (v *Validator) validateEngine(cfg *EngineConfig) {
	if cfg.TickInterval <= 0 {
		v.addError("engine.tick_interval", "tick interval must be positive")
	} else if cfg.TickInterval < time.Millisecond {
		v.addError("engine.tick_interval", "tick interval should be at least 1ms")
	}
	if cfg.ThresholdInterval <= 0 {
		v.addError("engine.threshold_interval", "threshold interval must be positive")
	}
	if cfg.SamplesBuffer < 0 {
		v.addError("engine.samples_buffer", "samples buffer must be non-negative")
	}
	if cfg.ExactTrendLimit < 0 {
		v.addError("engine.exact_trend_limit", "exact trend limit must be non-negative")
	}
}

func (v *Validator) validateHTTP(cfg *HTTPConfig) {
	if cfg.Timeout < 0 {
		v.addError("http.timeout", "timeout must be non-negative")
	}
	if cfg.MaxConnsPerHost < 0 {
		v.addError("http.max_conns_per_host", "max connections per host must be non-negative")
	}
}

// isValidAddress checks if the address is a valid host:port or :port format.
func isValidAddress(addr string) bool {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || port == "" {
		return false
	}
	if _, err := net.LookupPort("tcp", port); err != nil {
		return false
	}
	if host == "" || net.ParseIP(host) != nil {
		return true
	}
	return !strings.ContainsAny(host, " /\\")
}
