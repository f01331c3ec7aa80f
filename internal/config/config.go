package config

import "context"

// Package config provides configuration management for ack-agent.
//
// Configuration Sources (priority order, high to low):
//   1. CLI flags (highest priority)
//   2. Environment variables (ACKAGENT_* prefix, "." replaced by "_")
//   3. YAML config file (default: /etc/ack-agent/config.yaml)
//   4. Built-in defaults (lowest priority)
//
// Main Configuration Sections:
//
//   1. Server
//      - port: Listen port (default 8090)
//      - allowed_origins: Origins allowed to open progress streams
//      - rate_limit_per_minute: Requests per client per minute (0 disables)
//
//   2. Database
//      - sqlite_path: Path to the SQLite file holding incidents, findings,
//        artifact metadata and the run archive
//
//   3. Artifacts
//      - dir: Directory for artifact blobs
//
//   4. Investigation
//      - max_parallel_domains: Concurrent domain investigations per run
//      - domain_timeout_seconds: Deadline for each investigator call
//      - lookback_days: History window mined for insights
//      - dedup_ttl_seconds: How long an incident id stays marked in flight
//      - history_boost_cap: Maximum confidence boost from history
//
//   5. Investigators (one entry per domain)
//      - kind: "static" | "http" | "grpc"
//      - address: Base URL (http) or target (grpc)
//      - fixture: Fixture YAML for static investigators
//      - timeout_seconds: Transport timeout
//
//   6. Logging
//      - level: "debug" | "info" | "warn" | "error"
//      - format: "json" | "text"
//      - app_log_path, audit_log_path, max_size_mb, max_backups, max_age_days, compress
//
// Config struct contains all configuration fields
type Config struct {
	// Server configuration
	Server struct {
		Port int
		// AllowedOrigins is a list of origins permitted to open WebSocket connections.
		// Use ["*"] to allow any origin (development only).
		AllowedOrigins     []string
		RateLimitPerMinute int
		ShutdownTimeout    int
	}

	// Database configuration
	Database struct {
		SQLitePath string
	}

	// Artifact blob storage
	Artifacts struct {
		Dir string
	}

	// Investigation workflow tuning
	Investigation struct {
		MaxParallelDomains   int
		DomainTimeoutSeconds int
		LookbackDays         int
		DedupTTLSeconds      int
		HistoryBoostCap      float64 // zero disables history boosting
	}

	// Investigators keyed by domain name.
	Investigators map[string]InvestigatorConfig

	// Logging configuration
	Logging struct {
		Level        string
		Format       string
		AppLogPath   string
		AuditLogPath string
		MaxSizeMB    int
		MaxBackups   int
		MaxAgeDays   int
		Compress     bool
	}
}

// InvestigatorConfig describes how to reach one domain investigator.
type InvestigatorConfig struct {
	Kind           string
	Address        string
	Fixture        string
	TimeoutSeconds int
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch watches for configuration changes and reloads (if supported).
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources (selective settings).
	Reload(ctx context.Context) error
}

// NewConfigManager creates a new configuration manager.
func NewConfigManager(configPath string) (ConfigManager, error) {
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}

// NewConfigManagerWithDefaults creates a config manager with default config path.
func NewConfigManagerWithDefaults() (ConfigManager, error) {
	return NewConfigManager("/etc/ack-agent/config.yaml")
}
