package report

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moosh3/ack-agent/internal/artifact"
	"github.com/moosh3/ack-agent/internal/investigator"
	"github.com/moosh3/ack-agent/internal/models"
	"github.com/moosh3/ack-agent/internal/reasoning/planner"
	"github.com/moosh3/ack-agent/internal/reasoning/synthesis"
)

var generated = time.Date(2024, 3, 5, 14, 10, 0, 0, time.UTC)

func checkoutIncident() *models.Incident {
	return &models.Incident{
		IncidentID:   "incident_checkout_20240305140000",
		ServiceName:  "checkout",
		IncidentType: "availability",
		Severity:     "high",
		Description:  "pods crashing after deployment",
		OccurredAt:   time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC),
	}
}

func checkoutSummary() *Summary {
	inc := checkoutIncident()
	plan := planner.Build(inc, nil)
	results := &synthesis.Results{
		Infrastructure: &synthesis.InfraResult{
			DomainOutcome: synthesis.DomainOutcome{Outcome: synthesis.OutcomeCompleted},
			UnhealthyPods: []investigator.PodStatus{
				{Name: "checkout-1", Status: "CrashLoopBackOff", Reason: "OOMKilled"},
				{Name: "checkout-2", Status: "CrashLoopBackOff"},
				{Name: "checkout-3", Status: "Error"},
				{Name: "checkout-4", Status: "Pending"},
			},
		},
		Logs: &synthesis.LogsResult{
			DomainOutcome: synthesis.DomainOutcome{Outcome: synthesis.OutcomePartial, Errors: []string{"analyze_log_volume: timeout"}},
			ErrorLogs:     []investigator.LogEntry{{Level: "error", Message: "connection refused"}},
		},
		Code: &synthesis.CodeResult{
			DomainOutcome: synthesis.DomainOutcome{Outcome: synthesis.OutcomeCompleted},
			Deployments:   []investigator.Deployment{{ID: "deploy-42", DeployedAt: time.Date(2024, 3, 5, 13, 30, 0, 0, time.UTC)}},
		},
	}
	syn := synthesis.New(synthesis.Options{}).Synthesize(results, nil)
	return NewSummary("run-1", inc, plan, results, nil, syn, generated)
}

func TestNewSummary(t *testing.T) {
	s := checkoutSummary()

	require.NotEmpty(t, s.RootCauses)
	assert.Equal(t, synthesis.CauseUnhealthyPods, s.RootCauses[0].Description)
	assert.Equal(t, synthesis.RecommendMonitor, s.Recommendations[len(s.Recommendations)-1])
	assert.Equal(t, []string{synthesis.CorrelationDeploymentErrors}, s.CorrelatedFindings)
	assert.Equal(t, map[models.Domain]string{models.DomainLogs: "analyze_log_volume: timeout"}, s.IncompleteDomains)
	assert.Nil(t, s.HistoricalInsight, "no past incidents")
	assert.Len(t, s.Plan, len(models.AllDomains))

	data, err := json.Marshal(s)
	require.NoError(t, err)
	for _, key := range []string{"incident_overview", "investigation_plan", "potential_root_causes", "recommendations", "correlated_findings", "incomplete_domains"} {
		assert.Contains(t, string(data), `"`+key+`"`)
	}
}

func TestFinalText(t *testing.T) {
	s := checkoutSummary()
	text := FinalText(s)

	assert.True(t, strings.HasPrefix(text, "## Investigation Results for checkout availability incident\n\n"))
	assert.Contains(t, text, "### Potential Root Causes\n\n**1. Unhealthy pods detected** (Confidence: 80%)")
	assert.Contains(t, text, "### Recommended Actions\n\n**1.** ")
	assert.Contains(t, text, "- **Infrastructure**: 4 unhealthy pods\n")
	assert.Contains(t, text, "- **Logs**: 1 errors, 0 patterns (incomplete: analyze_log_volume: timeout)\n")
	assert.Contains(t, text, "- **Code**: 1 deployments, 0 risky changes\n")
	assert.NotContains(t, text, "**Metrics**", "metrics was skipped by the plan")
}

func TestFinalText_Fallbacks(t *testing.T) {
	inc := checkoutIncident()
	inc.Description = ""
	results := &synthesis.Results{
		Infrastructure: &synthesis.InfraResult{},
		Logs:           &synthesis.LogsResult{},
		Code:           &synthesis.CodeResult{},
		Metrics:        &synthesis.MetricsResult{},
	}
	s := NewSummary("run-1", inc, planner.Build(inc, nil), results, nil, &synthesis.Synthesis{}, generated)
	text := FinalText(s)

	assert.Contains(t, text, "### No clear root causes identified\n\n")
	assert.Contains(t, text, "### No specific recommendations available\n\n")
	assert.Equal(t, 4, strings.Count(text, ": No significant findings\n"))
}

func TestMarkdown(t *testing.T) {
	s := checkoutSummary()
	evidence := []*artifact.Artifact{
		{ID: "a-2", Type: "logs", Description: "search_logs output"},
		{ID: "a-1", Type: "infrastructure", Description: "check_pod_status output"},
	}
	md := Markdown(s, evidence)

	assert.True(t, strings.HasPrefix(md, "# Incident Investigation Report: checkout\n"))
	assert.Contains(t, md, "**Incident ID:** incident_checkout_20240305140000")
	assert.Contains(t, md, "**Time:** 2024-03-05T14:00:00Z")
	assert.Contains(t, md, "**Description:** pods crashing after deployment")
	assert.Contains(t, md, "**1. Unhealthy pods detected** _(Confidence: 80.0%)_")
	assert.Contains(t, md, "### Infrastructure Investigation")
	assert.Contains(t, md, "- checkout-1: CrashLoopBackOff (OOMKilled)")
	assert.Contains(t, md, "- checkout-2: CrashLoopBackOff (Unknown reason)")
	assert.NotContains(t, md, "checkout-4", "only the first three pods are listed")
	assert.Contains(t, md, "- _(and 1 more...)_")
	assert.Contains(t, md, "> Investigation incomplete: analyze_log_volume: timeout")
	assert.Contains(t, md, "- deploy-42: deployed at 2024-03-05T13:30:00Z")
	assert.NotContains(t, md, "### Metrics Analysis")
	assert.Contains(t, md, "### Correlated Findings\n\n- "+synthesis.CorrelationDeploymentErrors)
	assert.Contains(t, md, "**2** evidence artifacts were collected during this investigation.")
	assert.Less(t, strings.Index(md, "### Infrastructure Evidence"), strings.Index(md, "### Logs Evidence"))
	assert.Contains(t, md, "- **search_logs output** _(ID: a-2)_")
	assert.True(t, strings.HasSuffix(md, "*Report generated on 2024-03-05 14:10:00*\n"))
	assert.NotContains(t, md, "## Historical Context")
}

func TestMarkdown_FallbacksAndHistory(t *testing.T) {
	inc := checkoutIncident()
	insight := models.EmptyInsight("checkout", 30)
	insight.PastIncidentsCount = 3
	insight.RecurringSymptoms = []models.SymptomCount{{Symptom: models.SymptomUnhealthyPods, Count: 2}}

	s := NewSummary("run-1", inc, planner.Build(inc, insight), &synthesis.Results{}, insight, nil, generated)
	md := Markdown(s, nil)

	assert.Contains(t, md, "No clear root causes identified.")
	assert.Contains(t, md, "No specific recommendations available.")
	assert.Contains(t, md, "This service has experienced **3** similar incidents in the past 30 days.")
	assert.Contains(t, md, "- **unhealthy_pods** _(seen in 2 incidents)_")
	assert.Contains(t, md, "No significant findings.")
	assert.NotContains(t, md, "## Evidence")
}

func TestHistoryText(t *testing.T) {
	insight := models.EmptyInsight("checkout", 30)
	insight.PastIncidentsCount = 3
	insight.CommonRootCauses = []models.CauseCount{{Cause: "Unhealthy pods detected", Count: 2}}
	insight.Patterns = []string{"Recurring root cause: Unhealthy pods detected"}

	text := HistoryText(insight)
	assert.Contains(t, text, "Found 3 similar past incidents for this service.")
	assert.Contains(t, text, "**Common patterns:**\n  - Recurring root cause: Unhealthy pods detected")
	assert.Contains(t, text, "**Recurring root causes:**\n  - Unhealthy pods detected (seen 2 times)")
	assert.Contains(t, text, "**Common symptoms:** None identified.")
}

func TestMarkdown_LongLogMessageKeepsValidUTF8(t *testing.T) {
	s := checkoutSummary()
	msg := strings.Repeat("a", 99) + strings.Repeat("é", 10)
	s.Results.Logs.ErrorLogs = []investigator.LogEntry{{Level: "error", Message: msg}}

	md := Markdown(s, nil)
	assert.True(t, utf8.ValidString(md))
	assert.Contains(t, md, "- `"+strings.Repeat("a", 99)+"é...`")
}

func TestShorten(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly", 7, "exactly"},
		{"truncated", 5, "trunc..."},
		{"日本語のログ", 3, "日本語..."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, shorten(tt.in, tt.n), tt.in)
	}
}
