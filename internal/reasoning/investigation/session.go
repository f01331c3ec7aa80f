package investigation

import (
	"context"
	"errors"
	"time"

	"github.com/moosh3/ack-agent/internal/models"
)

// Package investigation tracks the lifecycle of investigation runs.
//
// A run moves forward through a fixed sequence of states:
//   - Created: incident accepted, nothing planned yet
//   - Assessed: historical insight mined and investigation plan fixed
//   - Investigating: planned domains are being probed
//   - Synthesizing: all domains finished, root causes being ranked
//   - Reported: summary and report artifacts written
//   - Completed: final summary emitted and the run archived
//
// Failed is terminal and reachable from every non-terminal state. No state
// is ever revisited.

// RunState represents the current state of a run
type RunState string

const (
	StateCreated       RunState = "created"
	StateAssessed      RunState = "assessed"
	StateInvestigating RunState = "investigating"
	StateSynthesizing  RunState = "synthesizing"
	StateReported      RunState = "reported"
	StateCompleted     RunState = "completed"
	StateFailed        RunState = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s RunState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// DomainStatus is the progress of one domain inside the investigating state.
type DomainStatus string

const (
	DomainPending   DomainStatus = "pending"
	DomainSkipped   DomainStatus = "skipped"
	DomainRunning   DomainStatus = "running"
	DomainCompleted DomainStatus = "completed"
	DomainPartial   DomainStatus = "partial"
	DomainFailed    DomainStatus = "failed"
)

// ErrSessionNotFound is returned for unknown run ids.
var ErrSessionNotFound = errors.New("investigation session not found")

// DomainProgress records what happened to one domain during a run.
type DomainProgress struct {
	Status   DomainStatus `json:"status"`
	Reason   string       `json:"reason,omitempty"`
	Findings int          `json:"findings"`
	Error    string       `json:"error,omitempty"`
}

// Transition is one entry of a session's state history.
type Transition struct {
	From RunState  `json:"from"`
	To   RunState  `json:"to"`
	At   time.Time `json:"at"`
}

// Session is the in-memory state of one investigation run.
type Session struct {
	RunID        string    `json:"run_id"`
	IncidentID   string    `json:"incident_id"`
	ServiceName  string    `json:"service_name"`
	IncidentType string    `json:"incident_type"`
	State        RunState  `json:"state"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	CompletedAt  time.Time `json:"completed_at,omitempty"`

	Domains map[models.Domain]DomainProgress `json:"domains"`
	History []Transition                     `json:"history"`

	RootCauses        int    `json:"root_causes"`
	SummaryArtifactID string `json:"summary_artifact_id,omitempty"`
	ReportArtifactID  string `json:"report_artifact_id,omitempty"`
	Error             string `json:"error,omitempty"`
}

// Manager manages investigation run sessions.
type Manager interface {
	// Create registers a new session in StateCreated.
	Create(ctx context.Context, runID string, incident *models.Incident) (*Session, error)

	// Get returns a snapshot of the session.
	Get(ctx context.Context, runID string) (*Session, error)

	// Transition moves a session to a new state. Invalid transitions,
	// including any revisit, are rejected.
	Transition(ctx context.Context, runID string, to RunState) error

	// SetDomain records the progress of one domain.
	SetDomain(ctx context.Context, runID string, domain models.Domain, progress DomainProgress) error

	// SetOutcome records the rendered artifacts and root cause count.
	SetOutcome(ctx context.Context, runID string, rootCauses int, summaryArtifactID, reportArtifactID string) error

	// Fail moves a session to StateFailed with the given error.
	Fail(ctx context.Context, runID string, err error) error

	// List returns snapshots of all sessions, newest first. An empty
	// incidentID matches all.
	List(ctx context.Context, incidentID string) ([]*Session, error)

	// Prune drops terminal sessions that finished before cutoff.
	Prune(ctx context.Context, cutoff time.Time) int
}
