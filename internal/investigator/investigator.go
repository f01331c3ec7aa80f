// Package investigator defines the contract each diagnostic domain
// (infrastructure, logs, code, metrics) implements, plus the transports the
// orchestrator uses to reach concrete investigators: in-process fixtures,
// HTTP and gRPC.
//
// The orchestrator only ever sees Invoke(task, params) -> TaskResponse. How an
// investigator answers a task (querying Kubernetes, Splunk, GitHub or
// Prometheus, or asking a reasoning agent) is its own business.
package investigator

import (
	"context"

	"github.com/moosh3/ack-agent/internal/models"
	"github.com/moosh3/ack-agent/pkg/contracts"
)

// Task names understood by domain investigators.
const (
	TaskCheckPodStatus        = "check_pod_status"
	TaskGetRecentEvents       = "get_recent_events"
	TaskCheckResourceUsage    = "check_resource_usage"
	TaskCheckDeploymentStatus = "check_deployment_status"

	TaskSearchLogs       = "search_logs"
	TaskExtractPatterns  = "extract_patterns"
	TaskAnalyzeLogVolume = "analyze_log_volume"

	TaskGetRecentCommits     = "get_recent_commits"
	TaskGetRecentDeployments = "get_recent_deployments"
	TaskIdentifyRiskyChanges = "identify_risky_changes"

	TaskGetRecommendedQueries = "get_recommended_queries"
	TaskRunQuery              = "run_query"
	TaskDetectAnomalies       = "detect_anomalies"
	TaskIdentifyBottlenecks   = "identify_bottlenecks"
)

// DomainTasks lists the tasks of each domain in execution order.
var DomainTasks = map[models.Domain][]string{
	models.DomainInfrastructure: {TaskCheckPodStatus, TaskGetRecentEvents, TaskCheckResourceUsage, TaskCheckDeploymentStatus},
	models.DomainLogs:           {TaskSearchLogs, TaskExtractPatterns, TaskAnalyzeLogVolume},
	models.DomainCode:           {TaskGetRecentCommits, TaskGetRecentDeployments, TaskIdentifyRiskyChanges},
	models.DomainMetrics:        {TaskGetRecommendedQueries, TaskRunQuery, TaskDetectAnomalies, TaskIdentifyBottlenecks},
}

// Investigator runs named diagnostic tasks for one domain.
//
// A returned error means the call itself failed (transport, timeout). Task
// level failures are reported in-band with StatusError.
type Investigator interface {
	Invoke(ctx context.Context, task string, params any) (*contracts.TaskResponse, error)
}

// Func adapts a plain function to the Investigator interface.
type Func func(ctx context.Context, task string, params any) (*contracts.TaskResponse, error)

// Invoke calls f.
func (f Func) Invoke(ctx context.Context, task string, params any) (*contracts.TaskResponse, error) {
	return f(ctx, task, params)
}
