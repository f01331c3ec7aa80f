package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.AuditLogPath = filepath.Join(dir, "audit.log")
	cfg.AppLogPath = filepath.Join(dir, "app.log")
	cfg.Compress = false
	return cfg
}

// readLines decodes every JSON line of a log file.
func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m), sc.Text())
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestNewLogger(t *testing.T) {
	cfg := testConfig(t)
	l, err := NewLogger(cfg)
	require.NoError(t, err)
	require.NotNil(t, l.AppLogger())
	require.NoError(t, l.Close())
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	cfg := testConfig(t)
	cfg.LogLevel = "loud"

	_, err := NewLogger(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level loud")
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "logs/audit.log", cfg.AuditLogPath)
	assert.Equal(t, "logs/app.log", cfg.AppLogPath)
	assert.Equal(t, 100, cfg.MaxSize)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.Format)
	assert.True(t, cfg.Compress)
}

func TestLogRunLifecycle(t *testing.T) {
	cfg := testConfig(t)
	l, err := NewLogger(cfg)
	require.NoError(t, err)

	ctx := ContextWithRunID(context.Background(), "run-7")
	require.NoError(t, l.LogRunStarted(ctx, "INC-1", "checkout"))
	require.NoError(t, l.LogRunCompleted(ctx, "INC-1", 3, 1500*time.Millisecond))
	require.NoError(t, l.LogRunFailed(ctx, "INC-1", errors.New("boom")))
	require.NoError(t, l.Close())

	lines := readLines(t, cfg.AuditLogPath)
	require.Len(t, lines, 3)

	assert.Equal(t, "run.started", lines[0]["message"])
	assert.Equal(t, "run-7", lines[0]["run_id"])
	assert.Equal(t, "INC-1", lines[0]["incident_id"])
	assert.Equal(t, "checkout", lines[0]["service"])
	assert.Equal(t, "success", lines[0]["result"])

	assert.Equal(t, "run.completed", lines[1]["message"])
	assert.EqualValues(t, 1500, lines[1]["duration_ms"])
	assert.Equal(t, map[string]any{"root_causes": float64(3)}, lines[1]["metadata"])

	assert.Equal(t, "run.failed", lines[2]["message"])
	assert.Equal(t, "failure", lines[2]["result"])
	assert.Equal(t, "boom", lines[2]["error"])
	assert.Equal(t, "run_error", lines[2]["error_code"])
}

func TestLogDomainOutcomes(t *testing.T) {
	cfg := testConfig(t)
	l, err := NewLogger(cfg)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, l.LogDomainCompleted(ctx, "INC-2", "infrastructure", ResultPartial, 2, time.Second))
	require.NoError(t, l.LogDomainFailed(ctx, "INC-2", "logs", errors.New("timeout"), 2*time.Second))
	require.NoError(t, l.LogDomainSkipped(ctx, "INC-2", "code", "not relevant"))
	require.NoError(t, l.LogPersistenceFailed(ctx, "INC-2", "add_finding", errors.New("disk full")))
	require.NoError(t, l.Close())

	lines := readLines(t, cfg.AuditLogPath)
	require.Len(t, lines, 4)

	assert.Equal(t, "partial", lines[0]["result"])
	assert.Equal(t, "infrastructure", lines[0]["domain"])
	assert.NotContains(t, lines[0], "run_id", "no run in context")

	assert.Equal(t, "domain.failed", lines[1]["message"])
	assert.Equal(t, "logs", lines[1]["domain"])
	assert.Equal(t, "timeout", lines[1]["error"])

	assert.Equal(t, "skipped", lines[2]["result"])
	assert.Equal(t, map[string]any{"reason": "not relevant"}, lines[2]["metadata"])

	assert.Equal(t, "persistence.failed", lines[3]["message"])
	assert.Equal(t, "add_finding", lines[3]["operation"])
}

func TestAppLogger(t *testing.T) {
	cfg := testConfig(t)
	cfg.LogLevel = "warn"
	l, err := NewLogger(cfg)
	require.NoError(t, err)

	l.AppLogger().Info("dropped below level")
	l.AppLogger().Warn("kept", zap.String("domain", "metrics"))
	require.NoError(t, l.Close())

	lines := readLines(t, cfg.AppLogPath)
	require.Len(t, lines, 1)
	assert.Equal(t, "kept", lines[0]["message"])
	assert.Equal(t, "metrics", lines[0]["domain"])
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger(nil)
	require.NotNil(t, l.AppLogger())
	assert.NoError(t, l.Log(context.Background(), NewEvent(EventConfigLoaded)))
	assert.NoError(t, l.LogRunFailed(context.Background(), "INC", errors.New("x")))
	assert.NoError(t, l.Close())
}

func TestClose_Idempotent(t *testing.T) {
	l, err := NewLogger(testConfig(t))
	require.NoError(t, err)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
}

func TestFlush_OnInterval(t *testing.T) {
	cfg := testConfig(t)
	l, err := NewLogger(cfg)
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, l.Log(context.Background(), NewEvent(EventConfigLoaded).WithResult(ResultSuccess)))

	assert.Eventually(t, func() bool {
		b, err := os.ReadFile(cfg.AuditLogPath)
		return err == nil && len(b) > 0
	}, 3*flushInterval, 50*time.Millisecond)
}

func TestFlush_OnThreshold(t *testing.T) {
	cfg := testConfig(t)
	l, err := NewLogger(cfg)
	require.NoError(t, err)
	defer l.Close()

	for i := 0; i < flushThreshold; i++ {
		require.NoError(t, l.Log(context.Background(), NewEvent(EventDomainCompleted)))
	}

	// The threshold write happens inside Log; no tick or Sync is needed.
	fl := l.(*fileLogger)
	fl.mu.Lock()
	assert.Empty(t, fl.pending)
	fl.mu.Unlock()
}

func TestRunIDFromContext(t *testing.T) {
	assert.Empty(t, RunIDFromContext(context.Background()))
	assert.Equal(t, "run-1", RunIDFromContext(ContextWithRunID(context.Background(), "run-1")))
}

func TestEventBuilder(t *testing.T) {
	ev := NewEvent(EventDomainFailed).
		ForRun("run-3").
		ForIncident("INC-3").
		WithService("payments").
		WithDomain("metrics").
		WithOperation("get_recommended_queries").
		WithDuration(250 * time.Millisecond).
		WithMetadata("attempt", 1).
		WithError(errors.New("unavailable"), "domain_error")

	assert.Equal(t, "run-3", ev.RunID)
	assert.Equal(t, "INC-3", ev.IncidentID)
	assert.Equal(t, "payments", ev.Service)
	assert.Equal(t, "metrics", ev.Domain)
	assert.Equal(t, "get_recommended_queries", ev.Operation)
	assert.EqualValues(t, 250, ev.DurationMs)
	assert.Equal(t, ResultFailure, ev.Result)
	assert.Equal(t, 1, ev.Metadata["attempt"])

	ok := NewEvent(EventRunStarted).WithError(nil, "ignored")
	assert.Equal(t, ResultPending, ok.Result)
	assert.Empty(t, ok.ErrorCode)
}

func TestEventMarshalLogObject(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ev := NewEvent(EventRunCompleted).
		ForRun("run-9").
		ForIncident("INC-9").
		WithResult(ResultSuccess).
		WithMetadata("root_causes", 2)

	zap.New(core).Info(string(ev.EventType), zap.Inline(ev))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "run-9", fields["run_id"])
	assert.Equal(t, "INC-9", fields["incident_id"])
	assert.Equal(t, "success", fields["result"])
	assert.Equal(t, map[string]any{"root_causes": 2}, fields["metadata"])
	assert.NotContains(t, fields, "error")
	assert.NotContains(t, fields, "duration_ms")
}
