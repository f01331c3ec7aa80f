package audit

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger records the investigation audit trail and owns the application
// logger that every component derives from.
type Logger interface {
	// Log queues an event for the audit file.
	Log(ctx context.Context, event *Event) error

	// Run lifecycle
	LogRunStarted(ctx context.Context, incidentID, service string) error
	LogRunCompleted(ctx context.Context, incidentID string, rootCauses int, duration time.Duration) error
	LogRunFailed(ctx context.Context, incidentID string, err error) error

	// Domain outcomes
	LogDomainCompleted(ctx context.Context, incidentID, domain string, result Result, findings int, duration time.Duration) error
	LogDomainFailed(ctx context.Context, incidentID, domain string, err error, duration time.Duration) error
	LogDomainSkipped(ctx context.Context, incidentID, domain, reason string) error

	// LogPersistenceFailed records a store write that was dropped.
	LogPersistenceFailed(ctx context.Context, incidentID, op string, err error) error

	// AppLogger returns the structured application logger.
	AppLogger() *zap.Logger

	// Sync writes queued events and flushes both files.
	Sync() error

	// Close stops the flusher and syncs. Safe to call more than once.
	Close() error
}

// Config controls where logs go and how they rotate.
type Config struct {
	AuditLogPath string
	AppLogPath   string

	// Rotation, in megabytes and days.
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool

	// LogLevel applies to the application log only; the audit file always
	// records every event.
	LogLevel string

	// Format of the application log: "json" or "text".
	Format string

	// Console mirrors the application log to stderr.
	Console bool
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() *Config {
	return &Config{
		AuditLogPath: "logs/audit.log",
		AppLogPath:   "logs/app.log",
		MaxSize:      100,
		MaxBackups:   10,
		MaxAge:       30,
		Compress:     true,
		LogLevel:     "info",
		Format:       "json",
	}
}

const (
	flushThreshold = 100
	flushInterval  = time.Second
)

type fileLogger struct {
	app   *zap.Logger
	trail *zap.Logger
	cfg   *Config

	mu      sync.Mutex
	pending []*Event

	ticker    *time.Ticker
	done      chan struct{}
	closeOnce sync.Once
}

// NewLogger opens the application and audit logs described by cfg. A nil
// cfg means DefaultConfig.
func NewLogger(cfg *Config) (Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", cfg.LogLevel, err)
	}

	enc := encoderConfig()
	appEncoder := zapcore.NewJSONEncoder(enc)
	if strings.EqualFold(cfg.Format, "text") {
		appEncoder = zapcore.NewConsoleEncoder(enc)
	}

	appCore := zapcore.NewCore(appEncoder, zapcore.AddSync(cfg.rotator(cfg.AppLogPath)), level)
	if cfg.Console {
		appCore = zapcore.NewTee(appCore,
			zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(os.Stderr), level))
	}

	trailCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(enc),
		zapcore.AddSync(cfg.rotator(cfg.AuditLogPath)),
		zapcore.InfoLevel,
	)

	l := &fileLogger{
		app:     zap.New(appCore, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)),
		trail:   zap.New(trailCore),
		cfg:     cfg,
		pending: make([]*Event, 0, flushThreshold),
		ticker:  time.NewTicker(flushInterval),
		done:    make(chan struct{}),
	}
	go l.flushLoop()

	return l, nil
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

func (c *Config) rotator(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    c.MaxSize,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAge,
		Compress:   c.Compress,
	}
}

// ─── Buffering ────────────────────────────────────────────────────────────────

func (l *fileLogger) Log(ctx context.Context, event *Event) error {
	if event.RunID == "" {
		event.RunID = RunIDFromContext(ctx)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.pending = append(l.pending, event)
	if len(l.pending) >= flushThreshold {
		l.flushLocked()
	}
	return nil
}

func (l *fileLogger) flushLocked() {
	for _, ev := range l.pending {
		l.trail.Info(string(ev.EventType), zap.Inline(ev))
	}
	l.pending = l.pending[:0]
}

func (l *fileLogger) flushLoop() {
	for {
		select {
		case <-l.ticker.C:
			l.mu.Lock()
			l.flushLocked()
			l.mu.Unlock()
		case <-l.done:
			return
		}
	}
}

// MarshalLogObject writes the event as flat fields of the audit line.
func (e *Event) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddTime("occurred_at", e.Timestamp)
	enc.AddString("result", string(e.Result))
	addNonEmpty(enc, "run_id", e.RunID)
	addNonEmpty(enc, "incident_id", e.IncidentID)
	addNonEmpty(enc, "service", e.Service)
	addNonEmpty(enc, "domain", e.Domain)
	addNonEmpty(enc, "operation", e.Operation)
	addNonEmpty(enc, "description", e.Description)
	addNonEmpty(enc, "error", e.Error)
	addNonEmpty(enc, "error_code", e.ErrorCode)
	if e.DurationMs > 0 {
		enc.AddInt64("duration_ms", e.DurationMs)
	}
	if len(e.Metadata) > 0 {
		if err := enc.AddReflected("metadata", e.Metadata); err != nil {
			return err
		}
	}
	return nil
}

func addNonEmpty(enc zapcore.ObjectEncoder, key, value string) {
	if value != "" {
		enc.AddString(key, value)
	}
}

// ─── Typed events ─────────────────────────────────────────────────────────────

func (l *fileLogger) LogRunStarted(ctx context.Context, incidentID, service string) error {
	return l.Log(ctx, NewEvent(EventRunStarted).
		ForIncident(incidentID).
		WithService(service).
		WithResult(ResultSuccess).
		WithDescription(fmt.Sprintf("investigation of %s started", incidentID)))
}

func (l *fileLogger) LogRunCompleted(ctx context.Context, incidentID string, rootCauses int, duration time.Duration) error {
	return l.Log(ctx, NewEvent(EventRunCompleted).
		ForIncident(incidentID).
		WithResult(ResultSuccess).
		WithDuration(duration).
		WithMetadata("root_causes", rootCauses).
		WithDescription(fmt.Sprintf("investigation of %s completed", incidentID)))
}

func (l *fileLogger) LogRunFailed(ctx context.Context, incidentID string, err error) error {
	return l.Log(ctx, NewEvent(EventRunFailed).
		ForIncident(incidentID).
		WithError(err, "run_error").
		WithDescription(fmt.Sprintf("investigation of %s failed", incidentID)))
}

func (l *fileLogger) LogDomainCompleted(ctx context.Context, incidentID, domain string, result Result, findings int, duration time.Duration) error {
	return l.Log(ctx, NewEvent(EventDomainCompleted).
		ForIncident(incidentID).
		WithDomain(domain).
		WithResult(result).
		WithDuration(duration).
		WithMetadata("findings", findings).
		WithDescription(fmt.Sprintf("%s investigation finished with %d findings", domain, findings)))
}

func (l *fileLogger) LogDomainFailed(ctx context.Context, incidentID, domain string, err error, duration time.Duration) error {
	return l.Log(ctx, NewEvent(EventDomainFailed).
		ForIncident(incidentID).
		WithDomain(domain).
		WithError(err, "domain_error").
		WithDuration(duration).
		WithDescription(fmt.Sprintf("%s investigation failed", domain)))
}

func (l *fileLogger) LogDomainSkipped(ctx context.Context, incidentID, domain, reason string) error {
	return l.Log(ctx, NewEvent(EventDomainSkipped).
		ForIncident(incidentID).
		WithDomain(domain).
		WithResult(ResultSkipped).
		WithMetadata("reason", reason).
		WithDescription(fmt.Sprintf("%s investigation skipped", domain)))
}

func (l *fileLogger) LogPersistenceFailed(ctx context.Context, incidentID, op string, err error) error {
	return l.Log(ctx, NewEvent(EventPersistenceFailed).
		ForIncident(incidentID).
		WithOperation(op).
		WithError(err, "persistence_error").
		WithDescription(fmt.Sprintf("persistence failed during %s", op)))
}

// ─── Lifecycle ────────────────────────────────────────────────────────────────

func (l *fileLogger) AppLogger() *zap.Logger {
	return l.app
}

func (l *fileLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.flushLocked()
	if err := l.trail.Sync(); err != nil {
		return err
	}
	// stderr cannot be synced on some terminals.
	if err := l.app.Sync(); err != nil && !l.cfg.Console {
		return err
	}
	return nil
}

func (l *fileLogger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		l.ticker.Stop()
		err = l.Sync()
	})
	return err
}

// ─── Context ──────────────────────────────────────────────────────────────────

type runIDKey struct{}

// ContextWithRunID tags ctx so events logged under it carry the run id.
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext returns the run id set by ContextWithRunID, or "".
func RunIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey{}).(string); ok {
		return id
	}
	return ""
}
