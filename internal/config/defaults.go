package config

// investigatorDomains are the keys accepted under "investigators".
var investigatorDomains = []string{"infrastructure", "logs", "code", "metrics"}

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Port = 8090
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	cfg.Server.RateLimitPerMinute = 120
	cfg.Server.ShutdownTimeout = 15

	// Database defaults
	cfg.Database.SQLitePath = "/var/lib/ack-agent/ack-agent.db"

	// Artifact defaults
	cfg.Artifacts.Dir = "/var/lib/ack-agent/artifacts"

	// Investigation defaults
	cfg.Investigation.MaxParallelDomains = 4
	cfg.Investigation.DomainTimeoutSeconds = 60
	cfg.Investigation.LookbackDays = 30
	cfg.Investigation.DedupTTLSeconds = 3600
	cfg.Investigation.HistoryBoostCap = 0.15

	// Investigators default to empty fixtures so a bare install can run offline.
	cfg.Investigators = make(map[string]InvestigatorConfig, len(investigatorDomains))
	for _, d := range investigatorDomains {
		cfg.Investigators[d] = InvestigatorConfig{Kind: "static", TimeoutSeconds: 30}
	}

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.AppLogPath = "logs/app.log"
	cfg.Logging.AuditLogPath = "logs/audit.log"
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 10
	cfg.Logging.MaxAgeDays = 30
	cfg.Logging.Compress = true

	return cfg
}
