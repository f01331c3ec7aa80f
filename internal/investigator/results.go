package investigator

import "time"

// ─── Infrastructure ───────────────────────────────────────────────────────────

// PodStatus is one pod reported by check_pod_status.
type PodStatus struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace,omitempty"`
	Status    string `json:"status"`
	Ready     bool   `json:"ready"`
	Restarts  int    `json:"restarts,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Message   string `json:"message,omitempty"`
	Node      string `json:"node,omitempty"`
}

// PodStatusResult is the result of check_pod_status.
type PodStatusResult struct {
	HealthyPods   []PodStatus `json:"healthy_pods"`
	UnhealthyPods []PodStatus `json:"unhealthy_pods"`
}

// ClusterEvent is a Kubernetes event returned by get_recent_events.
type ClusterEvent struct {
	Type      string `json:"type"` // Normal | Warning | Error
	Reason    string `json:"reason"`
	Message   string `json:"message"`
	Object    string `json:"object,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Count     int    `json:"count,omitempty"`
}

// NodeUsage is per node or pod usage inside a ResourceUsageResult.
type NodeUsage struct {
	Name           string  `json:"name"`
	NodeName       string  `json:"node_name,omitempty"`
	CPUUsage       float64 `json:"cpu_usage"`
	MemoryUsage    float64 `json:"memory_usage"`
	CPUPressure    bool    `json:"cpu_pressure,omitempty"`
	MemoryPressure bool    `json:"memory_pressure,omitempty"`
	DiskPressure   bool    `json:"disk_pressure,omitempty"`
}

// ResourceUsageResult is the result of check_resource_usage.
type ResourceUsageResult struct {
	CPUPressure    bool        `json:"cpu_pressure"`
	MemoryPressure bool        `json:"memory_pressure"`
	Items          []NodeUsage `json:"items,omitempty"`
}

// DeploymentInfo is returned by check_deployment_status.
type DeploymentInfo struct {
	Name        string `json:"name"`
	Namespace   string `json:"namespace,omitempty"`
	Ready       string `json:"ready,omitempty"`
	UpToDate    int    `json:"up_to_date,omitempty"`
	Available   int    `json:"available,omitempty"`
	Image       string `json:"image,omitempty"`
	Replicas    int    `json:"replicas,omitempty"`
	Revision    string `json:"revision,omitempty"`
	LastUpdated string `json:"last_updated,omitempty"`
}

// ─── Logs ─────────────────────────────────────────────────────────────────────

// LogEntry is one line returned by search_logs.
type LogEntry struct {
	Timestamp string `json:"timestamp,omitempty"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Service   string `json:"service,omitempty"`
	Component string `json:"component,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// ExceptionPattern is returned by extract_patterns.
type ExceptionPattern struct {
	Pattern   string   `json:"pattern"`
	Count     int      `json:"count"`
	Examples  []string `json:"examples,omitempty"`
	FirstSeen string   `json:"first_seen,omitempty"`
	LastSeen  string   `json:"last_seen,omitempty"`
	Severity  string   `json:"severity,omitempty"`
}

// LogVolumeSummary is returned by analyze_log_volume.
type LogVolumeSummary struct {
	Anomalies      bool             `json:"anomalies"`
	AnomalyPeriods []map[string]any `json:"anomaly_periods,omitempty"`
	PeakTime       string           `json:"peak_time,omitempty"`
	PeakCount      int              `json:"peak_count,omitempty"`
	AverageCount   float64          `json:"average_count,omitempty"`
}

// ─── Code ─────────────────────────────────────────────────────────────────────

// Commit is returned by get_recent_commits.
type Commit struct {
	CommitID     string    `json:"commit_id"`
	Author       string    `json:"author"`
	Timestamp    time.Time `json:"timestamp"`
	Message      string    `json:"message"`
	FilesChanged int       `json:"files_changed,omitempty"`
	Branch       string    `json:"branch,omitempty"`
}

// Deployment is returned by get_recent_deployments.
type Deployment struct {
	ID          string    `json:"id"`
	Environment string    `json:"environment,omitempty"`
	DeployedAt  time.Time `json:"deployed_at"`
	Status      string    `json:"status,omitempty"`
	CommitID    string    `json:"commit_id,omitempty"`
	DeployedBy  string    `json:"deployed_by,omitempty"`
}

// RiskyChange is returned by identify_risky_changes.
type RiskyChange struct {
	File        string    `json:"file"`
	CommitID    string    `json:"commit_id,omitempty"`
	Author      string    `json:"author,omitempty"`
	Timestamp   time.Time `json:"timestamp,omitempty"`
	Description string    `json:"description"`
	RiskLevel   string    `json:"risk_level,omitempty"`
}

// ─── Metrics ──────────────────────────────────────────────────────────────────

// RecommendedQuery is returned by get_recommended_queries.
type RecommendedQuery struct {
	QueryName string `json:"query_name"`
	Query     string `json:"query"`
}

// QueryResult is returned by run_query.
type QueryResult struct {
	QueryName        string         `json:"query_name"`
	Query            string         `json:"query"`
	ExceedsThreshold bool           `json:"exceeds_threshold"`
	Summary          map[string]any `json:"summary,omitempty"`
}

// MetricAnomaly is returned by detect_anomalies.
type MetricAnomaly struct {
	Metric              string  `json:"metric"`
	Timestamp           string  `json:"timestamp,omitempty"`
	ExpectedValue       float64 `json:"expected_value,omitempty"`
	ActualValue         float64 `json:"actual_value"`
	DeviationPercentage float64 `json:"deviation_percentage,omitempty"`
	Description         string  `json:"description"`
	Severity            string  `json:"severity,omitempty"`
}

// Resource types reported by identify_bottlenecks.
const (
	ResourceCPU     = "cpu"
	ResourceMemory  = "memory"
	ResourceDisk    = "disk"
	ResourceNetwork = "network"
)

// ResourceBottleneck is returned by identify_bottlenecks.
type ResourceBottleneck struct {
	ResourceType string  `json:"resource_type"`
	Component    string  `json:"component,omitempty"`
	Utilization  float64 `json:"utilization"`
	Threshold    float64 `json:"threshold,omitempty"`
	Description  string  `json:"description"`
}
