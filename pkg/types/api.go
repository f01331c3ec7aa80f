package types

// Package types defines the public REST API types of ack-agent.
//
// These types define the REST API contracts shared by the server and the CLI.

// Request types

// IncidentRequest triggers an investigation.
type IncidentRequest struct {
	IncidentID   string `json:"incident_id,omitempty"`
	ServiceName  string `json:"service_name"`
	IncidentType string `json:"incident_type"`
	Severity     string `json:"severity"`
	Description  string `json:"description"`
	Timestamp    string `json:"timestamp"` // RFC 3339
}

// Response types

// RunAccepted is returned when an investigation was started in the background.
type RunAccepted struct {
	RunID      string `json:"run_id"`
	IncidentID string `json:"incident_id"`
	State      string `json:"state"`
	StatusURL  string `json:"status_url"`
	StreamURL  string `json:"stream_url"`
}

// Incident is a persisted incident.
type Incident struct {
	IncidentID   string `json:"incident_id"`
	ServiceName  string `json:"service_name"`
	IncidentType string `json:"incident_type"`
	Severity     string `json:"severity"`
	Description  string `json:"description"`
	Timestamp    string `json:"timestamp"`
	CreatedAt    string `json:"created_at"`
}

// IncidentList is a page of incidents, newest first.
type IncidentList struct {
	Incidents []Incident `json:"incidents"`
	Count     int        `json:"count"`
	Limit     int        `json:"limit"`
	Offset    int        `json:"offset"`
}

// Finding is one persisted piece of evidence.
type Finding struct {
	ID          string  `json:"id"`
	IncidentID  string  `json:"incident_id"`
	Source      string  `json:"source"`
	Description string  `json:"description"`
	Evidence    any     `json:"evidence,omitempty"`
	Confidence  float64 `json:"confidence"`
	Timestamp   string  `json:"timestamp"`
}

// FindingList lists the findings of one incident in insertion order.
type FindingList struct {
	IncidentID string    `json:"incident_id"`
	Findings   []Finding `json:"findings"`
	Count      int       `json:"count"`
}

// Artifact describes a stored artifact without its content.
type Artifact struct {
	ID          string `json:"id"`
	IncidentID  string `json:"incident_id"`
	Type        string `json:"type"`
	Description string `json:"description"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	CreatedAt   string `json:"created_at"`
	ContentURL  string `json:"content_url"`
}

// ArtifactList lists the artifacts of one incident.
type ArtifactList struct {
	IncidentID string     `json:"incident_id"`
	Artifacts  []Artifact `json:"artifacts"`
	Count      int        `json:"count"`
}

// DomainStatus is the progress of one domain in a run.
type DomainStatus struct {
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	Findings int    `json:"findings"`
}

// RunStatus is the state of a run.
type RunStatus struct {
	RunID             string                  `json:"run_id"`
	IncidentID        string                  `json:"incident_id"`
	ServiceName       string                  `json:"service_name"`
	State             string                  `json:"state"`
	Domains           map[string]DomainStatus `json:"domains"`
	RootCauses        int                     `json:"root_causes"`
	SummaryArtifactID string                  `json:"summary_artifact_id,omitempty"`
	ReportArtifactID  string                  `json:"report_artifact_id,omitempty"`
	Error             string                  `json:"error,omitempty"`
	StartedAt         string                  `json:"started_at"`
	UpdatedAt         string                  `json:"updated_at"`
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Database  string `json:"database"`
	Timestamp string `json:"timestamp"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string            `json:"error"`
	Code      string            `json:"code,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// Error codes.
const (
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeConflict         = "RUN_IN_PROGRESS"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeTimeout          = "TIMEOUT"
)
