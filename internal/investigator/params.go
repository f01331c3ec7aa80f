package investigator

// Task parameter objects. Field names follow the JSON contract.

type PodStatusParams struct {
	ServiceName   string `json:"service_name"`
	Namespace     string `json:"namespace,omitempty"`
	LabelSelector string `json:"label_selector,omitempty"`
}

type EventsParams struct {
	ServiceName string   `json:"service_name"`
	Namespace   string   `json:"namespace,omitempty"`
	TimeRange   string   `json:"time_range,omitempty"`
	EventTypes  []string `json:"event_types,omitempty"`
}

type ResourceUsageParams struct {
	ServiceName  string `json:"service_name"`
	Namespace    string `json:"namespace,omitempty"`
	IncludeNodes bool   `json:"include_nodes"`
}

type DeploymentStatusParams struct {
	ServiceName string `json:"service_name"`
	Namespace   string `json:"namespace,omitempty"`
}

type LogSearchParams struct {
	Query         string   `json:"query"`
	TimeRange     string   `json:"time_range"`
	ReferenceTime string   `json:"reference_time,omitempty"`
	MaxResults    int      `json:"max_results,omitempty"`
	FilterLevels  []string `json:"filter_levels,omitempty"`
}

type PatternExtractionParams struct {
	Query          string `json:"query"`
	TimeRange      string `json:"time_range"`
	ReferenceTime  string `json:"reference_time,omitempty"`
	MinOccurrences int    `json:"min_occurrences,omitempty"`
}

type LogVolumeParams struct {
	Query           string `json:"query"`
	TimeRange       string `json:"time_range"`
	ReferenceTime   string `json:"reference_time,omitempty"`
	Interval        string `json:"interval,omitempty"`
	DetectAnomalies bool   `json:"detect_anomalies"`
}

type CommitParams struct {
	Repo          string `json:"repo"`
	Since         string `json:"since"`
	ReferenceTime string `json:"reference_time,omitempty"`
	Branch        string `json:"branch,omitempty"`
}

type DeploymentParams struct {
	Service       string `json:"service"`
	Since         string `json:"since"`
	ReferenceTime string `json:"reference_time,omitempty"`
	Environment   string `json:"environment,omitempty"`
}

type RiskyChangeParams struct {
	Repo          string `json:"repo"`
	Since         string `json:"since"`
	ReferenceTime string `json:"reference_time,omitempty"`
}

type RecommendedQueriesParams struct {
	ServiceName string   `json:"service_name"`
	Category    []string `json:"category,omitempty"`
}

type MetricQueryParams struct {
	QueryName string `json:"query_name,omitempty"`
	Query     string `json:"query"`
	Start     string `json:"start"`
	End       string `json:"end"`
	Step      string `json:"step,omitempty"`
}

type AnomalyDetectionParams struct {
	ServiceName string   `json:"service_name"`
	Start       string   `json:"start"`
	End         string   `json:"end"`
	Metrics     []string `json:"metrics,omitempty"`
	Sensitivity float64  `json:"sensitivity,omitempty"`
}

type BottleneckParams struct {
	ServiceName string `json:"service_name"`
	Start       string `json:"start"`
	End         string `json:"end"`
}
