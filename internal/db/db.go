package db

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("not found")

// Store is the persistence interface for incidents, findings, artifact
// metadata and the run archive mined for historical insights.
type Store interface {
	IncidentStore
	FindingStore
	ArtifactStore
	RunArchiveStore

	// Close releases database resources.
	Close() error

	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
}

// ─── Incident store ───────────────────────────────────────────────────────────

// IncidentRecord is a persisted incident row. Incidents are never updated.
type IncidentRecord struct {
	ID           string    `json:"incident_id"`
	ServiceName  string    `json:"service_name"`
	IncidentType string    `json:"incident_type"`
	Severity     string    `json:"severity"`
	Description  string    `json:"description"`
	Timestamp    time.Time `json:"timestamp"`
	CreatedAt    time.Time `json:"created_at"`
}

// IncidentStore persists incident metadata.
type IncidentStore interface {
	// CreateIncident inserts the incident if no row with the same ID exists.
	// It reports whether a new row was written.
	CreateIncident(ctx context.Context, rec *IncidentRecord) (bool, error)

	// GetIncident returns ErrNotFound when the ID is unknown.
	GetIncident(ctx context.Context, id string) (*IncidentRecord, error)

	// ListIncidents returns incidents newest first. An empty service matches all.
	ListIncidents(ctx context.Context, service string, limit, offset int) ([]*IncidentRecord, error)
}

// ─── Finding store ────────────────────────────────────────────────────────────

// FindingRecord is one append-only finding row.
type FindingRecord struct {
	ID          string    `json:"finding_id"`
	IncidentID  string    `json:"incident_id"`
	Source      string    `json:"source"`
	Description string    `json:"description"`
	Evidence    string    `json:"evidence"` // JSON text
	Confidence  float64   `json:"confidence"`
	Timestamp   time.Time `json:"timestamp"`
}

// FindingStore appends and reads findings. Findings are never updated or
// deleted.
type FindingStore interface {
	AppendFinding(ctx context.Context, rec *FindingRecord) error

	// ListFindings returns findings in insertion order. An empty source
	// matches all sources.
	ListFindings(ctx context.Context, incidentID, source string) ([]*FindingRecord, error)
}

// ─── Artifact metadata store ──────────────────────────────────────────────────

// ArtifactRecord is the metadata row for a stored evidence blob. The blob
// itself lives at Path.
type ArtifactRecord struct {
	ID          string    `json:"artifact_id"`
	IncidentID  string    `json:"incident_id"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Path        string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// ArtifactStore persists artifact metadata. Rows are write-once.
type ArtifactStore interface {
	SaveArtifact(ctx context.Context, rec *ArtifactRecord) error
	GetArtifact(ctx context.Context, id string) (*ArtifactRecord, error)

	// ListArtifacts returns artifacts for an incident oldest first. An empty
	// type matches all types.
	ListArtifacts(ctx context.Context, incidentID, artifactType string) ([]*ArtifactRecord, error)
}

// ─── Run archive ──────────────────────────────────────────────────────────────

// RunArchiveRecord is the summary of a finished run kept for historical
// mining. Payload holds the archived run as JSON.
type RunArchiveRecord struct {
	ID           int64     `json:"id"`
	IncidentID   string    `json:"incident_id"`
	ServiceName  string    `json:"service_name"`
	IncidentType string    `json:"incident_type"`
	Severity     string    `json:"severity"`
	Payload      string    `json:"payload"`
	CreatedAt    time.Time `json:"created_at"`
}

// RunArchiveStore persists finished runs.
type RunArchiveStore interface {
	ArchiveRun(ctx context.Context, rec *RunArchiveRecord) error

	// ListArchivedRuns returns archived runs for a service created at or after
	// since, oldest first, excluding excludeIncidentID.
	ListArchivedRuns(ctx context.Context, service string, since time.Time, excludeIncidentID string) ([]*RunArchiveRecord, error)
}
