// Package synthesis turns per-domain investigation results and historical
// insight into ranked root causes, cross-domain correlations and
// recommendations.
package synthesis

import (
	"github.com/moosh3/ack-agent/internal/investigator"
	"github.com/moosh3/ack-agent/internal/models"
)

// Outcome describes how a domain investigation ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomePartial   Outcome = "partial"
	OutcomeFailed    Outcome = "failed"
)

// DomainOutcome is embedded in every domain result.
type DomainOutcome struct {
	Outcome Outcome  `json:"outcome"`
	Errors  []string `json:"errors,omitempty"`
}

// Incomplete reports whether the domain ended partial or failed.
func (o DomainOutcome) Incomplete() bool {
	return o.Outcome == OutcomePartial || o.Outcome == OutcomeFailed
}

// InfraResult is the collected infrastructure evidence.
type InfraResult struct {
	DomainOutcome
	HealthyPods   []investigator.PodStatus          `json:"healthy_pods"`
	UnhealthyPods []investigator.PodStatus          `json:"unhealthy_pods"`
	Events        []investigator.ClusterEvent       `json:"events"`
	ResourceUsage *investigator.ResourceUsageResult `json:"resource_usage,omitempty"`
	Deployment    *investigator.DeploymentInfo      `json:"deployment,omitempty"`
}

// LogsResult is the collected log evidence.
type LogsResult struct {
	DomainOutcome
	ErrorLogs         []investigator.LogEntry         `json:"error_logs"`
	ExceptionPatterns []investigator.ExceptionPattern `json:"exception_patterns"`
	Volume            *investigator.LogVolumeSummary  `json:"volume,omitempty"`
}

// CodeResult is the collected code change evidence.
type CodeResult struct {
	DomainOutcome
	Commits          []investigator.Commit      `json:"commits"`
	Deployments      []investigator.Deployment  `json:"deployments"`
	RiskyChanges     []investigator.RiskyChange `json:"risky_changes"`
	RecentDeployment *investigator.Deployment   `json:"recent_deployment,omitempty"`
}

// MetricsResult is the collected metrics evidence.
type MetricsResult struct {
	DomainOutcome
	Queries      []investigator.RecommendedQuery   `json:"queries"`
	QueryResults []investigator.QueryResult        `json:"query_results"`
	Anomalies    []investigator.MetricAnomaly      `json:"anomalies"`
	Bottlenecks  []investigator.ResourceBottleneck `json:"bottlenecks"`
}

// HasBottleneck reports whether a bottleneck of the resource type was found.
func (m *MetricsResult) HasBottleneck(resource string) bool {
	if m == nil {
		return false
	}
	for _, b := range m.Bottlenecks {
		if b.ResourceType == resource {
			return true
		}
	}
	return false
}

// Results holds one result per investigated domain. Skipped domains stay nil.
type Results struct {
	Infrastructure *InfraResult   `json:"infrastructure,omitempty"`
	Logs           *LogsResult    `json:"logs,omitempty"`
	Code           *CodeResult    `json:"code,omitempty"`
	Metrics        *MetricsResult `json:"metrics,omitempty"`
}

// Outcome returns the outcome of a domain and whether it was investigated.
func (r *Results) Outcome(d models.Domain) (DomainOutcome, bool) {
	if r == nil {
		return DomainOutcome{}, false
	}
	switch d {
	case models.DomainInfrastructure:
		if r.Infrastructure != nil {
			return r.Infrastructure.DomainOutcome, true
		}
	case models.DomainLogs:
		if r.Logs != nil {
			return r.Logs.DomainOutcome, true
		}
	case models.DomainCode:
		if r.Code != nil {
			return r.Code.DomainOutcome, true
		}
	case models.DomainMetrics:
		if r.Metrics != nil {
			return r.Metrics.DomainOutcome, true
		}
	}
	return DomainOutcome{}, false
}

func (r *Results) unhealthyPods() []investigator.PodStatus {
	if r == nil || r.Infrastructure == nil {
		return nil
	}
	return r.Infrastructure.UnhealthyPods
}

func (r *Results) errorLogs() []investigator.LogEntry {
	if r == nil || r.Logs == nil {
		return nil
	}
	return r.Logs.ErrorLogs
}

func (r *Results) exceptionPatterns() []investigator.ExceptionPattern {
	if r == nil || r.Logs == nil {
		return nil
	}
	return r.Logs.ExceptionPatterns
}

func (r *Results) deployments() []investigator.Deployment {
	if r == nil || r.Code == nil {
		return nil
	}
	return r.Code.Deployments
}

func (r *Results) riskyChanges() []investigator.RiskyChange {
	if r == nil || r.Code == nil {
		return nil
	}
	return r.Code.RiskyChanges
}

func (r *Results) anomalies() []investigator.MetricAnomaly {
	if r == nil || r.Metrics == nil {
		return nil
	}
	return r.Metrics.Anomalies
}

func (r *Results) bottlenecks() []investigator.ResourceBottleneck {
	if r == nil || r.Metrics == nil {
		return nil
	}
	return r.Metrics.Bottlenecks
}
