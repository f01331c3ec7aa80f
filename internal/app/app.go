package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/moosh3/ack-agent/internal/artifact"
	"github.com/moosh3/ack-agent/internal/audit"
	"github.com/moosh3/ack-agent/internal/config"
	"github.com/moosh3/ack-agent/internal/db"
	"github.com/moosh3/ack-agent/internal/investigator"
	"github.com/moosh3/ack-agent/internal/models"
	"github.com/moosh3/ack-agent/internal/reasoning/engine"
	"github.com/moosh3/ack-agent/internal/reasoning/history"
	"github.com/moosh3/ack-agent/internal/reasoning/synthesis"
	"github.com/moosh3/ack-agent/internal/server"
)

// App holds every long-lived component, wired from one Config.
type App struct {
	Config    *config.Config
	AuditLog  audit.Logger
	Logger    *zap.Logger
	Store     db.Store
	Artifacts artifact.Store
	Registry  *investigator.Registry
	Miner     *history.Miner
	Engine    engine.Engine
}

// Option customizes New.
type Option func(*options)

type options struct {
	auditLog audit.Logger
}

// WithAuditLogger replaces the file-backed audit logger.
func WithAuditLogger(l audit.Logger) Option {
	return func(o *options) { o.auditLog = l }
}

// New initializes all components in dependency order. On error everything
// created so far is closed.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg}

	// 1. Logging
	if o.auditLog != nil {
		a.AuditLog = o.auditLog
	} else {
		l, err := audit.NewLogger(AuditConfig(cfg))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize audit logger: %w", err)
		}
		a.AuditLog = l
	}
	a.Logger = a.AuditLog.AppLogger()

	// 2. Storage
	store, err := db.NewSQLiteStore(cfg.Database.SQLitePath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.Store = store

	artifacts, err := artifact.NewFileStore(cfg.Artifacts.Dir, store, nil)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize artifact store: %w", err)
	}
	a.Artifacts = artifacts

	// 3. Investigators
	registry, err := investigator.BuildRegistry(InvestigatorSpecs(cfg))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to build investigators: %w", err)
	}
	a.Registry = registry

	// 4. Engine
	a.Miner = history.NewMiner(store, nil, a.Logger.Named("history"))
	eng, err := engine.New(store, artifacts, registry, a.AuditLog, EngineOptions(cfg))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize engine: %w", err)
	}
	a.Engine = eng

	a.AuditLog.Log(ctx, audit.NewEvent(audit.EventConfigLoaded).
		WithDescription("components initialized").
		WithMetadata("database", cfg.Database.SQLitePath).
		WithMetadata("artifacts", cfg.Artifacts.Dir).
		WithMetadata("domains", len(registry.Domains())).
		WithResult(audit.ResultSuccess))

	return a, nil
}

// NewServer builds the HTTP server over the app's components.
func (a *App) NewServer() (*server.Server, error) {
	return server.NewServer(server.FromConfig(a.Config), server.Deps{
		Engine:    a.Engine,
		Store:     a.Store,
		Artifacts: a.Artifacts,
		Miner:     a.Miner,
		AuditLog:  a.AuditLog,
	})
}

// Close releases investigators, the database and the log files.
func (a *App) Close() error {
	var errs []error
	if a.Registry != nil {
		errs = append(errs, a.Registry.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.AuditLog != nil {
		errs = append(errs, a.AuditLog.Close())
	}
	return errors.Join(errs...)
}

// EngineOptions maps the investigation section onto engine options.
func EngineOptions(cfg *config.Config) engine.Options {
	inv := cfg.Investigation
	return engine.Options{
		MaxParallelDomains: inv.MaxParallelDomains,
		DomainTimeout:      time.Duration(inv.DomainTimeoutSeconds) * time.Second,
		LookbackDays:       inv.LookbackDays,
		DedupTTL:           time.Duration(inv.DedupTTLSeconds) * time.Second,
		Synthesis: synthesis.Options{
			BoostCap:     inv.HistoryBoostCap,
			DisableBoost: inv.HistoryBoostCap == 0,
		},
	}
}

// InvestigatorSpecs maps the investigators section onto registry specs.
// Domains without an entry get an empty static investigator.
func InvestigatorSpecs(cfg *config.Config) map[models.Domain]investigator.Spec {
	specs := make(map[models.Domain]investigator.Spec, len(models.AllDomains))
	for _, d := range models.AllDomains {
		ic, ok := cfg.Investigators[string(d)]
		if !ok {
			specs[d] = investigator.Spec{Kind: investigator.KindStatic}
			continue
		}
		specs[d] = investigator.Spec{
			Kind:    ic.Kind,
			Address: ic.Address,
			Fixture: ic.Fixture,
			Timeout: time.Duration(ic.TimeoutSeconds) * time.Second,
		}
	}
	return specs
}

// AuditConfig maps the logging section onto the audit logger config.
func AuditConfig(cfg *config.Config) *audit.Config {
	l := cfg.Logging
	out := audit.DefaultConfig()
	if l.AppLogPath != "" {
		out.AppLogPath = l.AppLogPath
	}
	if l.AuditLogPath != "" {
		out.AuditLogPath = l.AuditLogPath
	}
	if l.MaxSizeMB > 0 {
		out.MaxSize = l.MaxSizeMB
	}
	if l.MaxBackups > 0 {
		out.MaxBackups = l.MaxBackups
	}
	if l.MaxAgeDays > 0 {
		out.MaxAge = l.MaxAgeDays
	}
	out.Compress = l.Compress
	if l.Level != "" {
		out.LogLevel = l.Level
	}
	if l.Format != "" {
		out.Format = l.Format
	}
	return out
}
