package investigation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/moosh3/ack-agent/internal/audit"
	"github.com/moosh3/ack-agent/internal/models"
)

// sessionManager implements Manager with an in-memory map
type sessionManager struct {
	auditLog audit.Logger
	clock    clock.Clock

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a new session manager
func NewManager(auditLog audit.Logger, clk clock.Clock) Manager {
	if auditLog == nil {
		panic("audit logger is required")
	}
	if clk == nil {
		clk = clock.New()
	}

	return &sessionManager{
		auditLog: auditLog,
		clock:    clk,
		sessions: make(map[string]*Session),
	}
}

// Create initializes a new run session
func (m *sessionManager) Create(ctx context.Context, runID string, incident *models.Incident) (*Session, error) {
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	if incident == nil {
		return nil, fmt.Errorf("incident is required")
	}

	now := m.clock.Now().UTC()
	s := &Session{
		RunID:        runID,
		IncidentID:   incident.IncidentID,
		ServiceName:  incident.ServiceName,
		IncidentType: incident.IncidentType,
		State:        StateCreated,
		CreatedAt:    now,
		UpdatedAt:    now,
		Domains:      make(map[models.Domain]DomainProgress, len(models.AllDomains)),
		History:      make([]Transition, 0, 6),
	}
	for _, d := range models.AllDomains {
		s.Domains[d] = DomainProgress{Status: DomainPending}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[runID]; exists {
		return nil, fmt.Errorf("run %s already exists", runID)
	}
	m.sessions[runID] = s

	return s.clone(), nil
}

// Get retrieves a session snapshot by run id
func (m *sessionManager) Get(ctx context.Context, runID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, exists := m.sessions[runID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, runID)
	}
	return s.clone(), nil
}

// Transition moves a session to a new state
func (m *sessionManager) Transition(ctx context.Context, runID string, to RunState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, exists := m.sessions[runID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, runID)
	}

	if err := validateStateTransition(s.State, to); err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}
	m.applyLocked(s, to)

	m.auditLog.AppLogger().Debug("run state changed",
		zap.String("run_id", runID),
		zap.String("incident_id", s.IncidentID),
		zap.String("state", string(to)))
	return nil
}

func (m *sessionManager) applyLocked(s *Session, to RunState) {
	now := m.clock.Now().UTC()
	s.History = append(s.History, Transition{From: s.State, To: to, At: now})
	s.State = to
	s.UpdatedAt = now
	if to.Terminal() {
		s.CompletedAt = now
	}
}

// validateStateTransition checks if a state transition is valid
func validateStateTransition(from, to RunState) error {
	validTransitions := map[RunState][]RunState{
		StateCreated:       {StateAssessed, StateFailed},
		StateAssessed:      {StateInvestigating, StateFailed},
		StateInvestigating: {StateSynthesizing, StateFailed},
		StateSynthesizing:  {StateReported, StateFailed},
		StateReported:      {StateCompleted, StateFailed},
		StateCompleted:     {}, // Terminal state
		StateFailed:        {}, // Terminal state
	}

	allowedStates, ok := validTransitions[from]
	if !ok {
		return fmt.Errorf("invalid current state: %s", from)
	}

	for _, allowed := range allowedStates {
		if allowed == to {
			return nil
		}
	}

	return fmt.Errorf("invalid state transition: %s → %s", from, to)
}

// SetDomain records domain progress. Only allowed while investigating, except
// for skips which are recorded when the plan is fixed.
func (m *sessionManager) SetDomain(ctx context.Context, runID string, domain models.Domain, progress DomainProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, exists := m.sessions[runID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, runID)
	}
	if _, known := s.Domains[domain]; !known {
		return fmt.Errorf("unknown domain %q", domain)
	}

	switch s.State {
	case StateInvestigating:
	case StateAssessed:
		if progress.Status != DomainSkipped && progress.Status != DomainPending {
			return fmt.Errorf("run %s: domain %s cannot be %s before investigating", runID, domain, progress.Status)
		}
	default:
		return fmt.Errorf("run %s: domain progress cannot change in state %s", runID, s.State)
	}

	s.Domains[domain] = progress
	s.UpdatedAt = m.clock.Now().UTC()
	return nil
}

// SetOutcome records the synthesis result
func (m *sessionManager) SetOutcome(ctx context.Context, runID string, rootCauses int, summaryArtifactID, reportArtifactID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, exists := m.sessions[runID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, runID)
	}

	s.RootCauses = rootCauses
	s.SummaryArtifactID = summaryArtifactID
	s.ReportArtifactID = reportArtifactID
	s.UpdatedAt = m.clock.Now().UTC()
	return nil
}

// Fail marks the run failed
func (m *sessionManager) Fail(ctx context.Context, runID string, cause error) error {
	m.mu.Lock()
	s, exists := m.sessions[runID]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, runID)
	}
	if err := validateStateTransition(s.State, StateFailed); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("run %s: %w", runID, err)
	}
	m.applyLocked(s, StateFailed)
	if cause != nil {
		s.Error = cause.Error()
	}
	incidentID := s.IncidentID
	m.mu.Unlock()

	_ = m.auditLog.LogRunFailed(ctx, incidentID, cause)
	return nil
}

// List returns session snapshots, newest first
func (m *sessionManager) List(ctx context.Context, incidentID string) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if incidentID != "" && s.IncidentID != incidentID {
			continue
		}
		result = append(result, s.clone())
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].RunID < result[j].RunID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// Prune removes finished sessions older than cutoff
func (m *sessionManager) Prune(ctx context.Context, cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		if s.State.Terminal() && s.CompletedAt.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

func (s *Session) clone() *Session {
	c := *s
	c.Domains = make(map[models.Domain]DomainProgress, len(s.Domains))
	for d, p := range s.Domains {
		c.Domains[d] = p
	}
	c.History = append([]Transition(nil), s.History...)
	return &c
}
