package config

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/conneroisu/asyncview/internal/errors"
	"github.com/conneroisu/asyncview/internal/logging"
	"github.com/conneroisu/asyncview/internal/validation"
)

const (
	minDebounce = time.Millisecond
	maxDebounce = 10 * time.Second
)

// ValidationError represents a configuration validation error with suggestions
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the result of configuration validation
type ValidationResult struct {
	Valid    bool
	Errors   []ValidationError
	Warnings []ValidationError
}

// HasErrors returns true if there are any validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// String returns a formatted string of all validation issues
func (vr *ValidationResult) String() string {
	var builder strings.Builder

	if len(vr.Errors) > 0 {
		builder.WriteString("Validation errors:\n")
		for _, err := range vr.Errors {
			builder.WriteString(fmt.Sprintf("  - %s: %s\n", err.Field, err.Message))
			for _, suggestion := range err.Suggestions {
				builder.WriteString(fmt.Sprintf("      hint: %s\n", suggestion))
			}
		}
		builder.WriteString("\n")
	}

	if len(vr.Warnings) > 0 {
		builder.WriteString("Validation warnings:\n")
		for _, warning := range vr.Warnings {
			builder.WriteString(fmt.Sprintf("  - %s: %s\n", warning.Field, warning.Message))
			for _, suggestion := range warning.Suggestions {
				builder.WriteString(fmt.Sprintf("      hint: %s\n", suggestion))
			}
		}
	}

	return builder.String()
}

// Validate returns the first validation error as a config error, or nil.
func Validate(config *Config) error {
	result := ValidateWithDetails(config)
	if !result.HasErrors() {
		return nil
	}
	first := result.Errors[0]
	return errors.ConfigurationError(first.Field, first.Message, first.Value)
}

// ValidateWithDetails performs comprehensive validation with detailed feedback
func ValidateWithDetails(config *Config) *ValidationResult {
	result := &ValidationResult{
		Valid:    true,
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
	}

	validateServerConfig(&config.Server, result)
	validateWatchConfig(&config.Watch, result)
	validateTickerConfig(&config.Ticker, result)
	validateLoggingConfig(&config.Logging, result)
	validateViews(config.Views, result)

	result.Valid = !result.HasErrors()

	return result
}

func validateServerConfig(config *ServerConfig, result *ValidationResult) {
	// Port 0 lets the system assign one, which tests rely on.
	if config.Port < 0 || config.Port > 65535 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.port",
			Value:   config.Port,
			Message: fmt.Sprintf("port %d is not in valid range 0-65535", config.Port),
			Suggestions: []string{
				"Use a port between 1024-65535 for non-privileged access",
				"Port 0 allows system to assign an available port",
			},
		})
	} else if config.Port > 0 && config.Port < 1024 {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:   "server.port",
			Value:   config.Port,
			Message: "port below 1024 requires elevated privileges",
		})
	}

	if config.Host != "" {
		if err := validation.ValidateHostname(config.Host); err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "server.host",
				Value:   config.Host,
				Message: err.Error(),
				Suggestions: []string{
					"Use 'localhost' for local development",
					"Use '0.0.0.0' to bind to all interfaces",
				},
			})
		}
	}

	for i, proxy := range config.TrustedProxies {
		if _, err := validation.ParseProxy(proxy); err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:       fmt.Sprintf("server.trusted_proxies[%d]", i),
				Value:       proxy,
				Message:     err.Error(),
				Suggestions: []string{"Use an IP address such as 127.0.0.1 or a range such as 10.0.0.0/8"},
			})
		}
	}

	if config.ShutdownTimeout < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "server.shutdown_timeout",
			Value:   config.ShutdownTimeout,
			Message: "shutdown timeout cannot be negative",
		})
	}

	if config.Host == "0.0.0.0" && len(config.AllowedOrigins) == 0 {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:       "server.allowed_origins",
			Value:       config.AllowedOrigins,
			Message:     "binding all interfaces with no allowed origins only accepts same-host websocket clients",
			Suggestions: []string{"List the origins browsers will connect from"},
		})
	}
}

func validateWatchConfig(config *WatchConfig, result *ValidationResult) {
	if config.Debounce < minDebounce || config.Debounce > maxDebounce {
		result.Errors = append(result.Errors, ValidationError{
			Field:       "watch.debounce",
			Value:       config.Debounce,
			Message:     fmt.Sprintf("debounce must be between %s and %s", minDebounce, maxDebounce),
			Suggestions: []string{"100ms is a good default for editors that write in bursts"},
		})
	}

	for i, path := range config.Paths {
		if err := validation.ValidatePath(path); err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:   fmt.Sprintf("watch.paths[%d]", i),
				Value:   path,
				Message: err.Error(),
				Suggestions: []string{
					"Use relative paths from the working directory",
					"Avoid parent directory references (..)",
				},
			})
		}
	}

	for i, ext := range config.Extensions {
		if err := validation.ValidateExtension(ext); err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:   fmt.Sprintf("watch.extensions[%d]", i),
				Value:   ext,
				Message: err.Error(),
			})
		}
	}

	for i, pattern := range config.Patterns {
		if _, err := filepath.Match(pattern, ""); err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:       fmt.Sprintf("watch.patterns[%d]", i),
				Value:       pattern,
				Message:     err.Error(),
				Suggestions: []string{"Patterns match base names, for example *.csv"},
			})
		}
	}

	if config.Root != "" {
		if err := validation.ValidatePath(config.Root); err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "watch.root",
				Value:   config.Root,
				Message: err.Error(),
			})
		}
	}
}

func validateTickerConfig(config *TickerConfig, result *ValidationResult) {
	if config.Interval <= 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "ticker.interval",
			Value:   config.Interval,
			Message: "interval must be positive",
		})
	} else if config.Interval < 10*time.Millisecond {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:   "ticker.interval",
			Value:   config.Interval,
			Message: "intervals under 10ms flood connected browsers",
		})
	}

	if config.Count < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "ticker.count",
			Value:   config.Count,
			Message: "count cannot be negative; 0 means unbounded",
		})
	}
}

func validateLoggingConfig(config *LoggingConfig, result *ValidationResult) {
	if _, err := logging.ParseLevel(config.Level); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Field:       "logging.level",
			Value:       config.Level,
			Message:     err.Error(),
			Suggestions: []string{"Use one of debug, info, warn, error"},
		})
	}

	if config.Format != "text" && config.Format != "json" {
		result.Errors = append(result.Errors, ValidationError{
			Field:       "logging.format",
			Value:       config.Format,
			Message:     fmt.Sprintf("unknown log format %q", config.Format),
			Suggestions: []string{"Use 'text' for terminals or 'json' for log shippers"},
		})
	}

	if config.Dir != "" {
		if err := validation.ValidatePath(config.Dir); err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "logging.dir",
				Value:   config.Dir,
				Message: err.Error(),
			})
		}
	}
}

func validateViews(views []ViewConfig, result *ValidationResult) {
	seen := make(map[string]bool, len(views))

	for i, vc := range views {
		field := fmt.Sprintf("views[%d]", i)

		if err := validation.ValidateViewName(vc.Name); err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field + ".name",
				Value:   vc.Name,
				Message: err.Error(),
			})
		} else if seen[vc.Name] {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field + ".name",
				Value:   vc.Name,
				Message: fmt.Sprintf("duplicate view name %q", vc.Name),
			})
		}
		seen[vc.Name] = true

		if !slices.Contains(Sources, vc.Source) {
			result.Errors = append(result.Errors, ValidationError{
				Field:       field + ".source",
				Value:       vc.Source,
				Message:     fmt.Sprintf("unknown source %q", vc.Source),
				Suggestions: []string{"Available sources: " + strings.Join(Sources, ", ")},
			})
			continue
		}

		validateViewParams(field, vc, result)
	}
}

func validateViewParams(field string, vc ViewConfig, result *ValidationResult) {
	durations := []string{"interval", "delay"}
	for _, key := range durations {
		raw, ok := vc.Params[key]
		if !ok {
			continue
		}
		if d, err := time.ParseDuration(raw); err != nil || d < 0 {
			result.Errors = append(result.Errors, ValidationError{
				Field:   fmt.Sprintf("%s.params.%s", field, key),
				Value:   raw,
				Message: "must be a non-negative duration such as 500ms",
			})
		}
	}

	if vc.Source == SourceWatch {
		if path, ok := vc.Params["path"]; ok {
			if err := validation.ValidatePath(path); err != nil {
				result.Errors = append(result.Errors, ValidationError{
					Field:   field + ".params.path",
					Value:   path,
					Message: err.Error(),
				})
			}
		}
	}

	if vc.Source == SourceStatic && vc.Params["value"] == "" {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:   field + ".params.value",
			Message: "static view has no value and will render empty",
		})
	}
}
