package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	configPath string
	mu         sync.RWMutex
	config     *Config
	viper      *viper.Viper
	watchChan  chan Config
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	m.viper = viper.New()

	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	m.viper.SetEnvPrefix("ACKAGENT")
	m.viper.AutomaticEnv()
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	m.setDefaults()

	// A missing file is fine; defaults and env vars still apply.
	if err := m.readConfigFile(); err != nil {
		return err
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.applyEnvOverrides()

	return nil
}

func (m *viperConfigManager) readConfigFile() error {
	err := m.viper.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) || os.IsNotExist(err) || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("error reading config file: %w", err)
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	errs := m.Get(ctx).Validate()
	if len(errs) > 0 {
		var errMsgs []string
		for _, err := range errs {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
	}
	return nil
}

// Watch watches for configuration changes and reloads.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	m.viper.OnConfigChange(func(e fsnotify.Event) {
		if err := m.unmarshalConfig(); err != nil {
			return
		}
		m.applyEnvOverrides()
		select {
		case m.watchChan <- *m.Get(ctx):
		default:
			// Channel full, skip this update
		}
	})
	m.viper.WatchConfig()

	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	if err := m.readConfigFile(); err != nil {
		return err
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.applyEnvOverrides()

	return nil
}

// setDefaults sets default values in viper.
func (m *viperConfigManager) setDefaults() {
	defaults := DefaultConfig()

	// Server defaults
	m.viper.SetDefault("server.port", defaults.Server.Port)
	m.viper.SetDefault("server.allowed_origins", defaults.Server.AllowedOrigins)
	m.viper.SetDefault("server.rate_limit_per_minute", defaults.Server.RateLimitPerMinute)
	m.viper.SetDefault("server.shutdown_timeout", defaults.Server.ShutdownTimeout)

	// Database defaults
	m.viper.SetDefault("database.sqlite_path", defaults.Database.SQLitePath)

	// Artifact defaults
	m.viper.SetDefault("artifacts.dir", defaults.Artifacts.Dir)

	// Investigation defaults
	m.viper.SetDefault("investigation.max_parallel_domains", defaults.Investigation.MaxParallelDomains)
	m.viper.SetDefault("investigation.domain_timeout_seconds", defaults.Investigation.DomainTimeoutSeconds)
	m.viper.SetDefault("investigation.lookback_days", defaults.Investigation.LookbackDays)
	m.viper.SetDefault("investigation.dedup_ttl_seconds", defaults.Investigation.DedupTTLSeconds)
	m.viper.SetDefault("investigation.history_boost_cap", defaults.Investigation.HistoryBoostCap)

	// Investigator defaults
	for _, d := range investigatorDomains {
		inv := defaults.Investigators[d]
		m.viper.SetDefault("investigators."+d+".kind", inv.Kind)
		m.viper.SetDefault("investigators."+d+".address", inv.Address)
		m.viper.SetDefault("investigators."+d+".fixture", inv.Fixture)
		m.viper.SetDefault("investigators."+d+".timeout_seconds", inv.TimeoutSeconds)
	}

	// Logging defaults
	m.viper.SetDefault("logging.level", defaults.Logging.Level)
	m.viper.SetDefault("logging.format", defaults.Logging.Format)
	m.viper.SetDefault("logging.app_log_path", defaults.Logging.AppLogPath)
	m.viper.SetDefault("logging.audit_log_path", defaults.Logging.AuditLogPath)
	m.viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	m.viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	m.viper.SetDefault("logging.max_age_days", defaults.Logging.MaxAgeDays)
	m.viper.SetDefault("logging.compress", defaults.Logging.Compress)
}

// unmarshalConfig unmarshals viper config into Config struct.
func (m *viperConfigManager) unmarshalConfig() error {
	cfg := &Config{}

	// Server
	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.AllowedOrigins = m.viper.GetStringSlice("server.allowed_origins")
	cfg.Server.RateLimitPerMinute = m.viper.GetInt("server.rate_limit_per_minute")
	cfg.Server.ShutdownTimeout = m.viper.GetInt("server.shutdown_timeout")

	// Database
	cfg.Database.SQLitePath = m.viper.GetString("database.sqlite_path")

	// Artifacts
	cfg.Artifacts.Dir = m.viper.GetString("artifacts.dir")

	// Investigation
	cfg.Investigation.MaxParallelDomains = m.viper.GetInt("investigation.max_parallel_domains")
	cfg.Investigation.DomainTimeoutSeconds = m.viper.GetInt("investigation.domain_timeout_seconds")
	cfg.Investigation.LookbackDays = m.viper.GetInt("investigation.lookback_days")
	cfg.Investigation.DedupTTLSeconds = m.viper.GetInt("investigation.dedup_ttl_seconds")
	cfg.Investigation.HistoryBoostCap = m.viper.GetFloat64("investigation.history_boost_cap")

	// Investigators
	cfg.Investigators = make(map[string]InvestigatorConfig, len(investigatorDomains))
	for _, d := range investigatorDomains {
		cfg.Investigators[d] = InvestigatorConfig{
			Kind:           m.viper.GetString("investigators." + d + ".kind"),
			Address:        m.viper.GetString("investigators." + d + ".address"),
			Fixture:        m.viper.GetString("investigators." + d + ".fixture"),
			TimeoutSeconds: m.viper.GetInt("investigators." + d + ".timeout_seconds"),
		}
	}
	// Unknown domain keys are kept so Validate can report them.
	for name := range m.viper.GetStringMap("investigators") {
		if _, ok := cfg.Investigators[name]; !ok {
			cfg.Investigators[name] = InvestigatorConfig{
				Kind: m.viper.GetString("investigators." + name + ".kind"),
			}
		}
	}

	// Logging
	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.Format = m.viper.GetString("logging.format")
	cfg.Logging.AppLogPath = m.viper.GetString("logging.app_log_path")
	cfg.Logging.AuditLogPath = m.viper.GetString("logging.audit_log_path")
	cfg.Logging.MaxSizeMB = m.viper.GetInt("logging.max_size_mb")
	cfg.Logging.MaxBackups = m.viper.GetInt("logging.max_backups")
	cfg.Logging.MaxAgeDays = m.viper.GetInt("logging.max_age_days")
	cfg.Logging.Compress = m.viper.GetBool("logging.compress")

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// applyEnvOverrides applies the short-form environment variables used by
// container deployments.
func (m *viperConfigManager) applyEnvOverrides() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if portEnv := os.Getenv("ACKAGENT_PORT"); portEnv != "" {
		m.config.Server.Port = m.viper.GetInt("port")
	}

	if dbPath := os.Getenv("ACKAGENT_DB_PATH"); dbPath != "" {
		m.config.Database.SQLitePath = dbPath
	}

	if dir := os.Getenv("ACKAGENT_ARTIFACT_DIR"); dir != "" {
		m.config.Artifacts.Dir = dir
	}
}
