package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)
)

// migrations defines the schema. Version is tracked in the schema_versions table.
var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS incidents (
    incident_id   TEXT PRIMARY KEY,
    service_name  TEXT NOT NULL,
    incident_type TEXT NOT NULL DEFAULT '',
    severity      TEXT NOT NULL DEFAULT '',
    description   TEXT NOT NULL DEFAULT '',
    timestamp     TEXT NOT NULL,
    created_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_incidents_service ON incidents(service_name, created_at DESC);

CREATE TABLE IF NOT EXISTS findings (
    seq          INTEGER PRIMARY KEY AUTOINCREMENT,
    finding_id   TEXT NOT NULL UNIQUE,
    incident_id  TEXT NOT NULL,
    source       TEXT NOT NULL,
    description  TEXT NOT NULL,
    evidence     TEXT NOT NULL DEFAULT 'null',
    confidence   REAL NOT NULL DEFAULT 0.0,
    timestamp    TEXT NOT NULL,
    FOREIGN KEY (incident_id) REFERENCES incidents(incident_id)
);
CREATE INDEX IF NOT EXISTS idx_findings_incident ON findings(incident_id, seq);
CREATE INDEX IF NOT EXISTS idx_findings_source   ON findings(incident_id, source);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS artifacts (
    artifact_id   TEXT PRIMARY KEY,
    incident_id   TEXT NOT NULL,
    type          TEXT NOT NULL,
    description   TEXT NOT NULL DEFAULT '',
    file_name     TEXT NOT NULL,
    content_type  TEXT NOT NULL DEFAULT 'application/octet-stream',
    size          INTEGER NOT NULL DEFAULT 0,
    path          TEXT NOT NULL,
    created_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_artifacts_incident ON artifacts(incident_id, created_at);
CREATE INDEX IF NOT EXISTS idx_artifacts_type     ON artifacts(incident_id, type);
`,
	},
	{
		version: 3,
		sql: `
CREATE TABLE IF NOT EXISTS run_archive (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    incident_id    TEXT NOT NULL,
    service_name   TEXT NOT NULL,
    incident_type  TEXT NOT NULL DEFAULT '',
    severity       TEXT NOT NULL DEFAULT '',
    payload        TEXT NOT NULL DEFAULT '{}',
    created_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_archive_service ON run_archive(service_name, created_at);
`,
	},
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// sqliteStore is the SQLite-backed implementation of Store.
type sqliteStore struct {
	db *sql.DB
}

// connPragmas apply to every pooled connection. busy_timeout lets
// concurrent runs wait for the writer lock instead of failing.
var connPragmas = []string{
	"busy_timeout(5000)",
	"foreign_keys(1)",
	"journal_mode(WAL)",
}

// dsn turns a file path into a driver DSN carrying connPragmas.
func dsn(path string) string {
	v := url.Values{}
	for _, p := range connPragmas {
		v.Add("_pragma", p)
	}
	v.Set("_txlock", "immediate")

	name := path
	if !strings.HasPrefix(name, "file:") {
		name = "file:" + name
	}
	sep := "?"
	if strings.Contains(name, "?") {
		sep = "&"
	}
	return name + sep + v.Encode()
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// runs all pending schema migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// Every pooled connection to ":memory:" would get its own empty database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	s := &sqliteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate applies any unapplied migrations in order.
func (s *sqliteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue // already applied
		}

		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}

		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ─── Incidents ────────────────────────────────────────────────────────────────

func (s *sqliteStore) CreateIncident(ctx context.Context, rec *IncidentRecord) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
        INSERT INTO incidents(incident_id, service_name, incident_type, severity, description, timestamp, created_at)
        VALUES(?,?,?,?,?,?,?)
        ON CONFLICT(incident_id) DO NOTHING
    `,
		rec.ID, rec.ServiceName, rec.IncidentType, rec.Severity, rec.Description,
		formatTime(rec.Timestamp), formatTime(rec.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert incident: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert incident: %w", err)
	}
	return n > 0, nil
}

func (s *sqliteStore) GetIncident(ctx context.Context, id string) (*IncidentRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT incident_id,service_name,incident_type,severity,description,timestamp,created_at FROM incidents WHERE incident_id=?`, id)
	rec, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("incident %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return rec, nil
}

func (s *sqliteStore) ListIncidents(ctx context.Context, service string, limit, offset int) ([]*IncidentRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT incident_id,service_name,incident_type,severity,description,timestamp,created_at FROM incidents`
	args := []any{}
	if service != "" {
		q += ` WHERE service_name=?`
		args = append(args, service)
	}
	q += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	var result []*IncidentRecord
	for rows.Next() {
		rec, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (*IncidentRecord, error) {
	rec := &IncidentRecord{}
	var ts, createdAt string
	if err := row.Scan(&rec.ID, &rec.ServiceName, &rec.IncidentType, &rec.Severity,
		&rec.Description, &ts, &createdAt); err != nil {
		return nil, err
	}
	rec.Timestamp, _ = parseTime(ts)
	rec.CreatedAt, _ = parseTime(createdAt)
	return rec, nil
}

// ─── Findings ─────────────────────────────────────────────────────────────────

func (s *sqliteStore) AppendFinding(ctx context.Context, rec *FindingRecord) error {
	evidence := rec.Evidence
	if evidence == "" {
		evidence = "null"
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO findings(finding_id, incident_id, source, description, evidence, confidence, timestamp)
        VALUES(?,?,?,?,?,?,?)
    `, rec.ID, rec.IncidentID, rec.Source, rec.Description, evidence, rec.Confidence, formatTime(rec.Timestamp))
	if err != nil {
		return fmt.Errorf("insert finding: %w", err)
	}
	return nil
}

func (s *sqliteStore) ListFindings(ctx context.Context, incidentID, source string) ([]*FindingRecord, error) {
	q := `SELECT finding_id,incident_id,source,description,evidence,confidence,timestamp FROM findings WHERE incident_id=?`
	args := []any{incidentID}
	if source != "" {
		q += ` AND source=?`
		args = append(args, source)
	}
	q += ` ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list findings: %w", err)
	}
	defer rows.Close()

	var result []*FindingRecord
	for rows.Next() {
		rec := &FindingRecord{}
		var ts string
		if err := rows.Scan(&rec.ID, &rec.IncidentID, &rec.Source, &rec.Description,
			&rec.Evidence, &rec.Confidence, &ts); err != nil {
			return nil, err
		}
		rec.Timestamp, _ = parseTime(ts)
		result = append(result, rec)
	}
	return result, rows.Err()
}

// ─── Artifacts ────────────────────────────────────────────────────────────────

func (s *sqliteStore) SaveArtifact(ctx context.Context, rec *ArtifactRecord) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO artifacts(artifact_id, incident_id, type, description, file_name, content_type, size, path, created_at)
        VALUES(?,?,?,?,?,?,?,?,?)
    `, rec.ID, rec.IncidentID, rec.Type, rec.Description, rec.FileName, rec.ContentType,
		rec.Size, rec.Path, formatTime(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

func (s *sqliteStore) GetArtifact(ctx context.Context, id string) (*ArtifactRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT artifact_id,incident_id,type,description,file_name,content_type,size,path,created_at FROM artifacts WHERE artifact_id=?`, id)
	rec, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("artifact %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return rec, nil
}

func (s *sqliteStore) ListArtifacts(ctx context.Context, incidentID, artifactType string) ([]*ArtifactRecord, error) {
	q := `SELECT artifact_id,incident_id,type,description,file_name,content_type,size,path,created_at FROM artifacts WHERE incident_id=?`
	args := []any{incidentID}
	if artifactType != "" {
		q += ` AND type=?`
		args = append(args, artifactType)
	}
	q += ` ORDER BY created_at ASC, rowid ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var result []*ArtifactRecord
	for rows.Next() {
		rec, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func scanArtifact(row rowScanner) (*ArtifactRecord, error) {
	rec := &ArtifactRecord{}
	var createdAt string
	if err := row.Scan(&rec.ID, &rec.IncidentID, &rec.Type, &rec.Description, &rec.FileName,
		&rec.ContentType, &rec.Size, &rec.Path, &createdAt); err != nil {
		return nil, err
	}
	rec.CreatedAt, _ = parseTime(createdAt)
	return rec, nil
}

// ─── Run archive ──────────────────────────────────────────────────────────────

func (s *sqliteStore) ArchiveRun(ctx context.Context, rec *RunArchiveRecord) error {
	res, err := s.db.ExecContext(ctx, `
        INSERT INTO run_archive(incident_id, service_name, incident_type, severity, payload, created_at)
        VALUES(?,?,?,?,?,?)
    `, rec.IncidentID, rec.ServiceName, rec.IncidentType, rec.Severity, rec.Payload, formatTime(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("archive run: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

func (s *sqliteStore) ListArchivedRuns(ctx context.Context, service string, since time.Time, excludeIncidentID string) ([]*RunArchiveRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id,incident_id,service_name,incident_type,severity,payload,created_at
        FROM run_archive
        WHERE service_name=? AND created_at>=? AND incident_id<>?
        ORDER BY created_at ASC, id ASC
    `, service, formatTime(since), excludeIncidentID)
	if err != nil {
		return nil, fmt.Errorf("list archived runs: %w", err)
	}
	defer rows.Close()

	var result []*RunArchiveRecord
	for rows.Next() {
		rec := &RunArchiveRecord{}
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.IncidentID, &rec.ServiceName, &rec.IncidentType,
			&rec.Severity, &rec.Payload, &createdAt); err != nil {
			return nil, err
		}
		rec.CreatedAt, _ = parseTime(createdAt)
		result = append(result, rec)
	}
	return result, rows.Err()
}

// parseTime handles multiple SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	layouts := []string{
		timeLayout,
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}
