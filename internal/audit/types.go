package audit

import "time"

// EventType names an audited transition.
type EventType string

const (
	// Run lifecycle events
	EventRunStarted   EventType = "run.started"
	EventRunCompleted EventType = "run.completed"
	EventRunFailed    EventType = "run.failed"

	// Domain investigation events
	EventDomainCompleted EventType = "domain.completed"
	EventDomainFailed    EventType = "domain.failed"
	EventDomainSkipped   EventType = "domain.skipped"

	// Storage events
	EventPersistenceFailed EventType = "persistence.failed"

	// Configuration events
	EventConfigLoaded  EventType = "config.loaded"
	EventConfigChanged EventType = "config.changed"

	// System events
	EventServerStarted  EventType = "system.server_started"
	EventServerShutdown EventType = "system.server_shutdown"
)

// Result is the outcome recorded on an event.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultPartial Result = "partial"
	ResultPending Result = "pending"
	ResultSkipped Result = "skipped"
)

// Event is one line of the audit trail. Run events carry the run and
// incident they belong to; system events leave those empty.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`
	Result    Result    `json:"result"`

	RunID      string `json:"run_id,omitempty"`
	IncidentID string `json:"incident_id,omitempty"`
	Service    string `json:"service,omitempty"`
	Domain     string `json:"domain,omitempty"`
	Operation  string `json:"operation,omitempty"`

	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`

	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`

	DurationMs int64 `json:"duration_ms,omitempty"`
}

// NewEvent starts a pending event stamped with the current UTC time.
func NewEvent(eventType EventType) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Result:    ResultPending,
		Metadata:  make(map[string]any),
	}
}

// ForRun ties the event to a run. An empty run id leaves the event to pick
// one up from the context when logged.
func (e *Event) ForRun(runID string) *Event {
	e.RunID = runID
	return e
}

// ForIncident ties the event to an incident.
func (e *Event) ForIncident(incidentID string) *Event {
	e.IncidentID = incidentID
	return e
}

func (e *Event) WithService(service string) *Event {
	e.Service = service
	return e
}

func (e *Event) WithDomain(domain string) *Event {
	e.Domain = domain
	return e
}

// WithOperation names the store operation or task involved.
func (e *Event) WithOperation(op string) *Event {
	e.Operation = op
	return e
}

func (e *Event) WithDescription(desc string) *Event {
	e.Description = desc
	return e
}

func (e *Event) WithResult(result Result) *Event {
	e.Result = result
	return e
}

// WithError records err and marks the event failed. A nil err is ignored.
func (e *Event) WithError(err error, code string) *Event {
	if err != nil {
		e.Error = err.Error()
		e.ErrorCode = code
		e.Result = ResultFailure
	}
	return e
}

func (e *Event) WithDuration(d time.Duration) *Event {
	e.DurationMs = d.Milliseconds()
	return e
}

func (e *Event) WithMetadata(key string, value any) *Event {
	e.Metadata[key] = value
	return e
}
