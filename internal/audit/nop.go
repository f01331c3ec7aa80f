package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// NewNopLogger returns a Logger that discards events. The app logger is
// the given one, or zap.NewNop when nil.
func NewNopLogger(app *zap.Logger) Logger {
	if app == nil {
		app = zap.NewNop()
	}
	return nopLogger{app: app}
}

type nopLogger struct {
	app *zap.Logger
}

func (nopLogger) Log(context.Context, *Event) error { return nil }

func (nopLogger) LogRunStarted(context.Context, string, string) error { return nil }

func (nopLogger) LogRunCompleted(context.Context, string, int, time.Duration) error { return nil }

func (nopLogger) LogRunFailed(context.Context, string, error) error { return nil }

func (nopLogger) LogDomainCompleted(context.Context, string, string, Result, int, time.Duration) error {
	return nil
}

func (nopLogger) LogDomainFailed(context.Context, string, string, error, time.Duration) error {
	return nil
}

func (nopLogger) LogDomainSkipped(context.Context, string, string, string) error { return nil }

func (nopLogger) LogPersistenceFailed(context.Context, string, string, error) error { return nil }

func (n nopLogger) AppLogger() *zap.Logger { return n.app }

func (nopLogger) Sync() error { return nil }

func (nopLogger) Close() error { return nil }
