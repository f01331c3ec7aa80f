package models

// Package models defines core data types used throughout ack-agent.
//
// These types are shared by the stores, the planner, the synthesizer and the
// orchestrator: incidents, findings, root causes and historical insights.

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Domain is one of the four diagnostic areas an incident can be probed in.
type Domain string

const (
	DomainInfrastructure Domain = "infrastructure"
	DomainLogs           Domain = "logs"
	DomainCode           Domain = "code"
	DomainMetrics        Domain = "metrics"
)

// AllDomains lists every domain in plan order.
var AllDomains = []Domain{DomainInfrastructure, DomainLogs, DomainCode, DomainMetrics}

// Title returns the display name used in summaries ("Infrastructure", "Logs", ...).
func (d Domain) Title() string {
	s := string(d)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// Source tags the origin of a Finding.
type Source string

const (
	SourceInfrastructure    Source = "infrastructure"
	SourceLogs              Source = "logs"
	SourceCode              Source = "code"
	SourceMetrics           Source = "metrics"
	SourceCorrelation       Source = "correlation"
	SourceRootCause         Source = "root_cause"
	SourceHistoricalInsight Source = "historical_insight"
	SourceArtifact          Source = "artifact"
	SourceError             Source = "error"
)

// SourceFor maps a domain onto its finding source tag.
func SourceFor(d Domain) Source {
	return Source(d)
}

// IncidentPayload is the inbound trigger for a run.
// Timestamp is RFC3339; IncidentID is derived when empty.
type IncidentPayload struct {
	IncidentID   string `json:"incident_id,omitempty" yaml:"incident_id"`
	ServiceName  string `json:"service_name" yaml:"service_name"`
	IncidentType string `json:"incident_type" yaml:"incident_type"`
	Severity     string `json:"severity" yaml:"severity"`
	Description  string `json:"description" yaml:"description"`
	Timestamp    string `json:"timestamp" yaml:"timestamp"`
}

// Incident is the immutable record of a triggered incident.
type Incident struct {
	IncidentID   string    `json:"incident_id"`
	ServiceName  string    `json:"service_name"`
	IncidentType string    `json:"incident_type"`
	Severity     string    `json:"severity"`
	Description  string    `json:"description"`
	OccurredAt   time.Time `json:"occurred_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// DeriveIncidentID builds incident_<service>_<YYYYMMDDHHMMSS>.
func DeriveIncidentID(service string, at time.Time) string {
	return fmt.Sprintf("incident_%s_%s",
		strings.ReplaceAll(service, "-", "_"),
		at.UTC().Format("20060102150405"))
}

// ToIncident validates the payload and converts it to an Incident.
// A missing timestamp falls back to now.
func (p IncidentPayload) ToIncident(now time.Time) (*Incident, error) {
	if strings.TrimSpace(p.ServiceName) == "" {
		return nil, &ValidationError{Field: "service_name", Message: "service_name is required"}
	}
	if strings.TrimSpace(p.IncidentType) == "" {
		return nil, &ValidationError{Field: "incident_type", Message: "incident_type is required"}
	}
	if strings.TrimSpace(p.Severity) == "" {
		return nil, &ValidationError{Field: "severity", Message: "severity is required"}
	}
	occurred := now.UTC()
	if p.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, p.Timestamp)
		if err != nil {
			return nil, &ValidationError{
				Field:   "timestamp",
				Message: fmt.Sprintf("timestamp must be RFC3339: %v", err),
			}
		}
		occurred = ts.UTC()
	}
	id := strings.TrimSpace(p.IncidentID)
	if id == "" {
		id = DeriveIncidentID(p.ServiceName, occurred)
	}
	return &Incident{
		IncidentID:   id,
		ServiceName:  p.ServiceName,
		IncidentType: p.IncidentType,
		Severity:     p.Severity,
		Description:  p.Description,
		OccurredAt:   occurred,
		CreatedAt:    now.UTC(),
	}, nil
}

// Finding is one fact discovered during an investigation. Findings are
// append-only.
type Finding struct {
	FindingID   string          `json:"finding_id"`
	IncidentID  string          `json:"incident_id"`
	Source      Source          `json:"source"`
	Description string          `json:"description"`
	Evidence    json.RawMessage `json:"evidence,omitempty"`
	Confidence  float64         `json:"confidence"`
	CreatedAt   time.Time       `json:"created_at"`
}

// RootCause is a ranked explanation derived from findings and history.
type RootCause struct {
	Description       string          `json:"description"`
	Confidence        float64         `json:"confidence"`
	Evidence          json.RawMessage `json:"evidence,omitempty"`
	Domain            string          `json:"domain"`
	HistoricalContext string          `json:"historical_context,omitempty"`
}

// CauseCount is a root-cause description with its historical frequency.
type CauseCount struct {
	Cause string `json:"cause"`
	Count int    `json:"count"`
}

// SymptomCount is a symptom category with its historical frequency.
type SymptomCount struct {
	Symptom string `json:"symptom"`
	Count   int    `json:"count"`
}

// Symptom categories tracked across past incidents.
const (
	SymptomUnhealthyPods      = "unhealthy_pods"
	SymptomRecurringLogErrors = "recurring_log_errors"
	SymptomMetricAnomalies    = "metric_anomalies"
	SymptomRiskyCodeChanges   = "risky_code_changes"
)

// HistoricalInsight aggregates prior incidents for one service.
type HistoricalInsight struct {
	ServiceName        string         `json:"service_name"`
	LookbackDays       int            `json:"lookback_days"`
	PastIncidentsCount int            `json:"past_incidents_count"`
	CommonRootCauses   []CauseCount   `json:"common_root_causes"`
	RecurringSymptoms  []SymptomCount `json:"recurring_symptoms"`
	ServicesAffected   []string       `json:"services_affected"`
	Patterns           []string       `json:"patterns"`
}

// HasSymptom reports whether the symptom category recurred historically.
func (h *HistoricalInsight) HasSymptom(symptom string) bool {
	if h == nil {
		return false
	}
	for _, s := range h.RecurringSymptoms {
		if s.Symptom == symptom && s.Count > 0 {
			return true
		}
	}
	return false
}

// EmptyInsight returns the insight used when no history exists.
func EmptyInsight(service string, lookbackDays int) *HistoricalInsight {
	return &HistoricalInsight{
		ServiceName:       service,
		LookbackDays:      lookbackDays,
		CommonRootCauses:  []CauseCount{},
		RecurringSymptoms: []SymptomCount{},
		ServicesAffected:  []string{},
		Patterns:          []string{},
	}
}
