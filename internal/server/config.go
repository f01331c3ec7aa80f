package server

import (
	"fmt"
	"time"

	"github.com/moosh3/ack-agent/internal/config"
)

// Config represents the HTTP server configuration
type Config struct {
	// Server settings
	Host string `json:"host"`
	Port int    `json:"port"`

	// AllowedOrigins lists the origins permitted for CORS and for opening
	// progress streams. Use "*" to allow all origins (development only).
	// Empty means localhost development origins only.
	AllowedOrigins []string `json:"allowed_origins"`

	RateLimitPerMinute int           `json:"rate_limit_per_minute"`
	MaxBodyBytes       int64         `json:"max_body_bytes"`
	ShutdownTimeout    time.Duration `json:"shutdown_timeout"`

	// WaitTimeout bounds POST /incidents?wait=true.
	WaitTimeout time.Duration `json:"wait_timeout"`

	// LookbackDays is the default window of the insights endpoint.
	LookbackDays int `json:"lookback_days"`
}

// DefaultConfig returns the server defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:               "0.0.0.0",
		Port:               8080,
		RateLimitPerMinute: 120,
		MaxBodyBytes:       1 << 20,
		ShutdownTimeout:    10 * time.Second,
		WaitTimeout:        5 * time.Minute,
		LookbackDays:       30,
	}
}

// FromConfig derives the server configuration from the application config.
func FromConfig(cfg *config.Config) *Config {
	out := DefaultConfig()
	if cfg == nil {
		return out
	}
	if cfg.Server.Port > 0 {
		out.Port = cfg.Server.Port
	}
	out.AllowedOrigins = cfg.Server.AllowedOrigins
	if cfg.Server.RateLimitPerMinute > 0 {
		out.RateLimitPerMinute = cfg.Server.RateLimitPerMinute
	}
	if cfg.Server.ShutdownTimeout > 0 {
		out.ShutdownTimeout = time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	}
	if cfg.Investigation.LookbackDays > 0 {
		out.LookbackDays = cfg.Investigation.LookbackDays
	}
	return out
}

// Validate checks the server configuration
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.RateLimitPerMinute < 0 {
		return fmt.Errorf("rate limit per minute cannot be negative: %d", c.RateLimitPerMinute)
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive: %d", c.MaxBodyBytes)
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
