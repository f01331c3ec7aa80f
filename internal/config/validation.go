package config

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error

	// Validate server configuration
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Server.Port),
		})
	}

	if c.Server.RateLimitPerMinute < 0 {
		errs = append(errs, &ValidationError{
			Field:   "server.rate_limit_per_minute",
			Message: fmt.Sprintf("rate_limit_per_minute cannot be negative, got %d", c.Server.RateLimitPerMinute),
		})
	}

	// Validate storage configuration
	if c.Database.SQLitePath == "" {
		errs = append(errs, &ValidationError{
			Field:   "database.sqlite_path",
			Message: "sqlite_path is required",
		})
	}

	if c.Artifacts.Dir == "" {
		errs = append(errs, &ValidationError{
			Field:   "artifacts.dir",
			Message: "artifact directory is required",
		})
	}

	// Validate investigation configuration
	if c.Investigation.MaxParallelDomains < 1 || c.Investigation.MaxParallelDomains > 4 {
		errs = append(errs, &ValidationError{
			Field:   "investigation.max_parallel_domains",
			Message: fmt.Sprintf("max_parallel_domains must be between 1 and 4, got %d", c.Investigation.MaxParallelDomains),
		})
	}

	if c.Investigation.DomainTimeoutSeconds < 1 {
		errs = append(errs, &ValidationError{
			Field:   "investigation.domain_timeout_seconds",
			Message: fmt.Sprintf("domain timeout must be at least 1 second, got %d", c.Investigation.DomainTimeoutSeconds),
		})
	}

	if c.Investigation.LookbackDays < 1 {
		errs = append(errs, &ValidationError{
			Field:   "investigation.lookback_days",
			Message: fmt.Sprintf("lookback_days must be at least 1, got %d", c.Investigation.LookbackDays),
		})
	}

	if c.Investigation.DedupTTLSeconds < 0 {
		errs = append(errs, &ValidationError{
			Field:   "investigation.dedup_ttl_seconds",
			Message: fmt.Sprintf("dedup_ttl_seconds cannot be negative, got %d", c.Investigation.DedupTTLSeconds),
		})
	}

	if c.Investigation.HistoryBoostCap < 0 || c.Investigation.HistoryBoostCap > 0.5 {
		errs = append(errs, &ValidationError{
			Field:   "investigation.history_boost_cap",
			Message: fmt.Sprintf("history_boost_cap must be between 0 (no boost) and 0.5, got %.2f", c.Investigation.HistoryBoostCap),
		})
	}

	// Validate investigators, in a stable order.
	names := make([]string, 0, len(c.Investigators))
	for name := range c.Investigators {
		names = append(names, name)
	}
	sort.Strings(names)
	validDomains := map[string]bool{}
	for _, d := range investigatorDomains {
		validDomains[d] = true
	}
	for _, name := range names {
		errs = append(errs, validateInvestigator(name, c.Investigators[name], validDomains[name])...)
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level),
		})
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, &ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format '%s', must be one of: json, text", c.Logging.Format),
		})
	}

	if c.Logging.MaxSizeMB < 0 {
		errs = append(errs, &ValidationError{
			Field:   "logging.max_size_mb",
			Message: fmt.Sprintf("max_size_mb cannot be negative, got %d", c.Logging.MaxSizeMB),
		})
	}

	return errs
}

func validateInvestigator(name string, inv InvestigatorConfig, known bool) []error {
	field := "investigators." + name
	if !known {
		return []error{&ValidationError{
			Field:   field,
			Message: fmt.Sprintf("unknown domain '%s', must be one of: %s", name, strings.Join(investigatorDomains, ", ")),
		}}
	}

	var errs []error
	switch inv.Kind {
	case "static":
		if inv.Fixture != "" {
			if _, err := os.Stat(inv.Fixture); os.IsNotExist(err) {
				errs = append(errs, &ValidationError{
					Field:   field + ".fixture",
					Message: fmt.Sprintf("fixture file does not exist: %s", inv.Fixture),
				})
			}
		}
	case "http":
		if u, err := url.ParseRequestURI(inv.Address); err != nil || u.Host == "" {
			errs = append(errs, &ValidationError{
				Field:   field + ".address",
				Message: fmt.Sprintf("http investigator needs an absolute URL, got '%s'", inv.Address),
			})
		}
	case "grpc":
		if inv.Address == "" {
			errs = append(errs, &ValidationError{
				Field:   field + ".address",
				Message: "grpc investigator address is required",
			})
		}
	default:
		errs = append(errs, &ValidationError{
			Field:   field + ".kind",
			Message: fmt.Sprintf("invalid kind '%s', must be one of: static, http, grpc", inv.Kind),
		})
	}

	if inv.TimeoutSeconds < 0 {
		errs = append(errs, &ValidationError{
			Field:   field + ".timeout_seconds",
			Message: fmt.Sprintf("timeout_seconds cannot be negative, got %d", inv.TimeoutSeconds),
		})
	}
	return errs
}
