// Package artifact stores raw investigation evidence (task outputs, summaries,
// reports) as write-once blobs. Content lives on the local filesystem; the
// metadata row lives in the db.ArtifactStore so it can be listed by incident
// and type.
package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/moosh3/ack-agent/internal/db"
)

// Well-known artifact types besides the four domain names.
const (
	TypeSummary = "summary"
	TypeReport  = "report"
)

// Artifact is a stored evidence blob.
type Artifact struct {
	ID          string `json:"artifact_id"`
	IncidentID  string `json:"incident_id"`
	Type        string `json:"type"`
	Description string `json:"description"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Content     []byte `json:"-"`
	CreatedAt   string `json:"created_at"`
}

// Store is the artifact store used by the orchestrator.
type Store interface {
	// Put writes content and returns the stored artifact. ext selects the
	// file extension (".json", ".md", ...).
	Put(ctx context.Context, incidentID, artifactType, description string, content []byte, ext string) (*Artifact, error)

	// PutJSON marshals v with indentation and stores it as a .json artifact.
	PutJSON(ctx context.Context, incidentID, artifactType, description string, v any) (*Artifact, error)

	// Get returns the artifact including its content.
	Get(ctx context.Context, id string) (*Artifact, error)

	// List returns metadata (no content) for an incident, oldest first.
	// An empty type matches all types.
	List(ctx context.Context, incidentID, artifactType string) ([]*Artifact, error)
}

type fileStore struct {
	dir   string
	meta  db.ArtifactStore
	clock clock.Clock
}

// NewFileStore creates a Store rooted at dir.
func NewFileStore(dir string, meta db.ArtifactStore, clk clock.Clock) (Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("artifact directory is required")
	}
	if meta == nil {
		return nil, fmt.Errorf("artifact metadata store is required")
	}
	if clk == nil {
		clk = clock.New()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &fileStore{dir: dir, meta: meta, clock: clk}, nil
}

func (s *fileStore) Put(ctx context.Context, incidentID, artifactType, description string, content []byte, ext string) (*Artifact, error) {
	if incidentID == "" {
		return nil, fmt.Errorf("incident id is required")
	}
	if artifactType == "" {
		artifactType = "unknown"
	}
	if ext == "" {
		ext = ".bin"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	id := uuid.New().String()
	fileName := id + ext
	incidentDir := filepath.Join(s.dir, sanitize(incidentID))
	if err := os.MkdirAll(incidentDir, 0o755); err != nil {
		return nil, fmt.Errorf("create incident artifact dir: %w", err)
	}
	path := filepath.Join(incidentDir, fileName)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create artifact file: %w", err)
	}
	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("write artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("close artifact: %w", err)
	}

	now := s.clock.Now().UTC()
	rec := &db.ArtifactRecord{
		ID:          id,
		IncidentID:  incidentID,
		Type:        artifactType,
		Description: description,
		FileName:    fileName,
		ContentType: contentTypeFor(ext),
		Size:        int64(len(content)),
		Path:        path,
		CreatedAt:   now,
	}
	if err := s.meta.SaveArtifact(ctx, rec); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("save artifact metadata: %w", err)
	}

	a := fromRecord(rec)
	a.Content = content
	return a, nil
}

func (s *fileStore) PutJSON(ctx context.Context, incidentID, artifactType, description string, v any) (*Artifact, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal artifact: %w", err)
	}
	return s.Put(ctx, incidentID, artifactType, description, data, ".json")
}

func (s *fileStore) Get(ctx context.Context, id string) (*Artifact, error) {
	rec, err := s.meta.GetArtifact(ctx, id)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(rec.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("artifact %s content missing: %w", id, db.ErrNotFound)
		}
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	a := fromRecord(rec)
	a.Content = content
	return a, nil
}

func (s *fileStore) List(ctx context.Context, incidentID, artifactType string) ([]*Artifact, error) {
	recs, err := s.meta.ListArtifacts(ctx, incidentID, artifactType)
	if err != nil {
		return nil, err
	}
	out := make([]*Artifact, 0, len(recs))
	for _, r := range recs {
		out = append(out, fromRecord(r))
	}
	return out, nil
}

func fromRecord(rec *db.ArtifactRecord) *Artifact {
	return &Artifact{
		ID:          rec.ID,
		IncidentID:  rec.IncidentID,
		Type:        rec.Type,
		Description: rec.Description,
		FileName:    rec.FileName,
		ContentType: rec.ContentType,
		Size:        rec.Size,
		CreatedAt:   rec.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func contentTypeFor(ext string) string {
	switch strings.ToLower(ext) {
	case ".json":
		return "application/json"
	case ".md":
		return "text/markdown; charset=utf-8"
	case ".txt", ".log":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}

// sanitize keeps incident ids usable as directory names.
func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}
