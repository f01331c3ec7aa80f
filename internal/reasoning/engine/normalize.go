package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/moosh3/ack-agent/internal/investigator"
	"github.com/moosh3/ack-agent/internal/models"
	"github.com/moosh3/ack-agent/internal/reasoning/synthesis"
)

// ─── Task windows ─────────────────────────────────────────────────────────────

const (
	logsWindow        = "-30m,+30m"
	logVolumeWindow   = "-3h,+1h"
	codeSince         = "24h"
	queryStep         = "1m"
	maxMetricQueries  = 5
	maxEvidenceLogs   = 5
	deploymentHorizon = 6 * time.Hour
)

var suspiciousCommitWords = []string{"fix", "bug", "error", "issue", "crash", "performance"}

func rfc3339(t time.Time) string { return t.UTC().Format(time.RFC3339) }

// ─── Normalization ────────────────────────────────────────────────────────────

// draft is a finding before it gets an id and a timestamp.
type draft struct {
	description string
	evidence    any
	confidence  float64
}

func normalizeInfra(r *synthesis.InfraResult) []draft {
	var out []draft
	if len(r.UnhealthyPods) > 0 {
		out = append(out, draft{"Unhealthy pods detected that may be related to the incident", r.UnhealthyPods, 0.8})
	}
	if u := r.ResourceUsage; u != nil && (u.CPUPressure || u.MemoryPressure) {
		out = append(out, draft{"Resource pressure detected on nodes running the service", u, 0.75})
	}
	var warnings []investigator.ClusterEvent
	for _, e := range r.Events {
		if e.Type == "Warning" || e.Type == "Error" {
			warnings = append(warnings, e)
		}
	}
	if len(warnings) > 0 {
		out = append(out, draft{"Kubernetes events with warnings or errors detected", warnings, 0.7})
	}
	return out
}

func normalizeLogs(r *synthesis.LogsResult) []draft {
	var out []draft
	if n := len(r.ErrorLogs); n > 0 {
		if n > maxEvidenceLogs {
			n = maxEvidenceLogs
		}
		out = append(out, draft{"Error logs detected during the incident timeframe", r.ErrorLogs[:n], 0.75})
	}
	if len(r.ExceptionPatterns) > 0 {
		out = append(out, draft{"Recurring exception patterns identified in logs", r.ExceptionPatterns, 0.85})
	}
	if r.Volume != nil && r.Volume.Anomalies {
		out = append(out, draft{"Anomalous log volume detected around incident time", r.Volume, 0.7})
	}
	return out
}

// normalizeCode also records the first deployment that landed within six
// hours before the incident on r.RecentDeployment.
func normalizeCode(r *synthesis.CodeResult, occurredAt time.Time) []draft {
	var out []draft
	for i := range r.Deployments {
		d := r.Deployments[i]
		if d.DeployedAt.IsZero() || d.DeployedAt.After(occurredAt) || occurredAt.Sub(d.DeployedAt) > deploymentHorizon {
			continue
		}
		r.RecentDeployment = &d
		out = append(out, draft{"Recent deployment shortly before the incident", d, 0.85})
		break
	}
	if len(r.RiskyChanges) > 0 {
		out = append(out, draft{"Potentially risky code changes identified", r.RiskyChanges, 0.7})
	}
	var suspicious []investigator.Commit
	for _, c := range r.Commits {
		msg := strings.ToLower(c.Message)
		for _, w := range suspiciousCommitWords {
			if strings.Contains(msg, w) {
				suspicious = append(suspicious, c)
				break
			}
		}
	}
	if len(suspicious) > 0 {
		out = append(out, draft{"Recent commits with concerning keywords", suspicious, 0.6})
	}
	return out
}

var bottleneckFindings = []struct {
	resource    string
	description string
	confidence  float64
}{
	{investigator.ResourceCPU, "CPU bottleneck detected", 0.85},
	{investigator.ResourceMemory, "Memory bottleneck detected", 0.85},
	{investigator.ResourceDisk, "Disk I/O bottleneck detected", 0.8},
	{investigator.ResourceNetwork, "Network bottleneck detected", 0.75},
}

func normalizeMetrics(r *synthesis.MetricsResult) []draft {
	var out []draft
	for _, a := range r.Anomalies {
		name := a.Metric
		if name == "" {
			name = "unknown"
		}
		out = append(out, draft{"Metric anomaly detected: " + name, a, 0.8})
	}
	for _, bf := range bottleneckFindings {
		var matched []investigator.ResourceBottleneck
		for _, b := range r.Bottlenecks {
			if b.ResourceType == bf.resource {
				matched = append(matched, b)
			}
		}
		if len(matched) > 0 {
			out = append(out, draft{bf.description, matched, bf.confidence})
		}
	}
	for _, q := range r.QueryResults {
		if q.ExceedsThreshold {
			out = append(out, draft{"Metric threshold exceeded: " + q.QueryName, q, 0.7})
		}
	}
	return out
}

// completionMessage is the progress line emitted when a domain finishes.
// n counts the headline item of the domain.
func completionMessage(d models.Domain, n int) string {
	switch d {
	case models.DomainInfrastructure:
		return fmt.Sprintf("Kubernetes investigation complete. Found %d unhealthy pods.", n)
	case models.DomainLogs:
		return fmt.Sprintf("Logs investigation complete. Found %d error patterns.", n)
	case models.DomainCode:
		return fmt.Sprintf("Code investigation complete. Found %d potentially risky changes.", n)
	case models.DomainMetrics:
		return fmt.Sprintf("Metrics investigation complete. Found %d anomalies.", n)
	}
	return fmt.Sprintf("%s investigation complete.", d.Title())
}
