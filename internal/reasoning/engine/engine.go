package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/moosh3/ack-agent/internal/models"
	"github.com/moosh3/ack-agent/internal/reasoning/investigation"
	"github.com/moosh3/ack-agent/internal/reasoning/planner"
	"github.com/moosh3/ack-agent/internal/reasoning/synthesis"
)

// Package engine orchestrates incident investigations.
//
// A run walks the incident through its lifecycle:
//
//	created → assessed → investigating → synthesizing → reported → completed
//
//   1. Assessment
//      - Persist the incident (idempotent on incident id)
//      - Mine archived runs of the same service for recurring causes
//      - Plan the domains to probe; recurring symptoms can add domains back
//
//   2. Investigation
//      - Planned domains run concurrently, bounded by MaxParallelDomains
//      - Tasks inside a domain run in order with a per-call deadline
//      - Raw task output is kept as an artifact, normalized output as findings
//      - A failed call ends its domain; the other domains carry on
//
//   3. Synthesis and reporting
//      - Rank root causes, correlate domains, derive recommendations
//      - Store the summary (JSON) and report (markdown) artifacts
//      - Archive the run so later incidents can learn from it
//
// Progress is streamed as ordered events and ends with one final summary.
// A run works on a context detached from its caller: cancelling the request
// that started it never loses findings that are already in flight.

// Event types on the progress stream.
const (
	EventProgress     = "progress_update"
	EventFinalSummary = "final_summary"
)

// ErrRunInProgress is returned when an incident already has a run in flight.
var ErrRunInProgress = errors.New("investigation already in progress for incident")

// Event is one progress message of a run.
type Event struct {
	Type       string        `json:"type"`
	Message    string        `json:"message"`
	RunID      string        `json:"run_id"`
	IncidentID string        `json:"incident_id"`
	Domain     models.Domain `json:"domain,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Result is everything a finished run produced.
type Result struct {
	RunID             string                    `json:"run_id"`
	Incident          *models.Incident          `json:"incident"`
	Plan              *planner.Plan             `json:"plan"`
	Insight           *models.HistoricalInsight `json:"historical_insight"`
	Results           *synthesis.Results        `json:"results"`
	RootCauses        []models.RootCause        `json:"root_causes"`
	Recommendations   []string                  `json:"recommendations"`
	Correlations      []synthesis.Correlation   `json:"correlations"`
	Findings          []models.Finding          `json:"findings"`
	SummaryArtifactID string                    `json:"summary_artifact_id,omitempty"`
	ReportArtifactID  string                    `json:"report_artifact_id,omitempty"`
	Report            string                    `json:"report"`
	FinalSummary      string                    `json:"final_summary"`
	State             investigation.RunState    `json:"state"`
	Duration          time.Duration             `json:"duration"`
}

// Engine runs investigations.
type Engine interface {
	// Start validates the payload, registers a run and investigates it in the
	// background. Validation errors are returned before any state is created.
	Start(ctx context.Context, payload models.IncidentPayload) (*Run, error)

	// Investigate starts a run and blocks until it finishes.
	Investigate(ctx context.Context, payload models.IncidentPayload) (*Result, error)

	// Run returns a recently started run by id.
	Run(runID string) (*Run, bool)

	// Sessions exposes the run state machine for status queries.
	Sessions() investigation.Manager
}

// Run is a started investigation. Every call to Events returns an ordered
// stream of all events of the run, from the first one, closed after the
// final summary.
type Run struct {
	ID       string
	Incident *models.Incident

	mu     sync.Mutex
	events []Event
	notify chan struct{}
	done   chan struct{}
	result *Result
	err    error
}

func newRun(id string, incident *models.Incident) *Run {
	return &Run{
		ID:       id,
		Incident: incident,
		notify:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Events follows the run until its final event.
func (r *Run) Events() <-chan Event {
	return r.Follow(context.Background())
}

// Follow is Events bounded by ctx. The channel closes early when ctx ends.
func (r *Run) Follow(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		next := 0
		for {
			r.mu.Lock()
			pending := append([]Event(nil), r.events[next:]...)
			notify := r.notify
			finished := r.isDone()
			r.mu.Unlock()

			for _, ev := range pending {
				select {
				case ch <- ev:
				case <-ctx.Done():
					return
				}
			}
			next += len(pending)
			if len(pending) > 0 {
				continue
			}
			if finished {
				return
			}
			select {
			case <-notify:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// Done is closed once the run has finished.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run finishes or ctx ends.
func (r *Run) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-r.done:
		return r.result, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the outcome of a finished run, or nil while it is running.
func (r *Run) Result() (*Result, error) {
	select {
	case <-r.done:
		return r.result, r.err
	default:
		return nil, nil
	}
}

// Snapshot returns the events emitted so far.
func (r *Run) Snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *Run) isDone() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *Run) emit(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	close(r.notify)
	r.notify = make(chan struct{})
	r.mu.Unlock()
}

func (r *Run) finish(result *Result, err error) {
	r.mu.Lock()
	r.result = result
	r.err = err
	close(r.done)
	close(r.notify)
	r.notify = make(chan struct{})
	r.mu.Unlock()
}
