// Package report renders investigation results: the structured summary
// stored as JSON, the markdown report stored for humans, and the final text
// summary emitted on the progress stream.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/moosh3/ack-agent/internal/artifact"
	"github.com/moosh3/ack-agent/internal/models"
	"github.com/moosh3/ack-agent/internal/reasoning/planner"
	"github.com/moosh3/ack-agent/internal/reasoning/synthesis"
)

// Fallback lines used when synthesis yields nothing.
const (
	NoRootCauses       = "No clear root causes identified"
	NoRecommendations  = "No specific recommendations available"
	noSignificantFinds = "No significant findings"
	maxListed          = 3
	maxLogMessage      = 100
)

// Summary is the structured summary artifact of a run.
type Summary struct {
	RunID              string                    `json:"run_id"`
	Incident           *models.Incident          `json:"incident_overview"`
	Plan               []planner.Decision        `json:"investigation_plan"`
	Results            *synthesis.Results        `json:"results"`
	HistoricalInsight  *models.HistoricalInsight `json:"historical_insights,omitempty"`
	RootCauses         []models.RootCause        `json:"potential_root_causes"`
	Recommendations    []string                  `json:"recommendations"`
	CorrelatedFindings []string                  `json:"correlated_findings"`
	IncompleteDomains  map[models.Domain]string  `json:"incomplete_domains,omitempty"`
	GeneratedAt        time.Time                 `json:"generated_at"`
}

// NewSummary assembles the summary of a run.
func NewSummary(runID string, incident *models.Incident, plan *planner.Plan, results *synthesis.Results,
	insight *models.HistoricalInsight, syn *synthesis.Synthesis, generatedAt time.Time) *Summary {
	s := &Summary{
		RunID:              runID,
		Incident:           incident,
		Results:            results,
		RootCauses:         []models.RootCause{},
		Recommendations:    []string{},
		CorrelatedFindings: []string{},
		GeneratedAt:        generatedAt.UTC(),
	}
	if plan != nil {
		s.Plan = plan.Decisions()
	}
	if insight != nil && insight.PastIncidentsCount > 0 {
		s.HistoricalInsight = insight
	}
	if syn != nil {
		s.RootCauses = append(s.RootCauses, syn.RootCauses...)
		s.Recommendations = append(s.Recommendations, syn.Recommendations...)
		for _, c := range syn.Correlations {
			s.CorrelatedFindings = append(s.CorrelatedFindings, c.Description)
		}
	}
	for _, d := range models.AllDomains {
		outcome, ok := results.Outcome(d)
		if !ok || !outcome.Incomplete() {
			continue
		}
		if s.IncompleteDomains == nil {
			s.IncompleteDomains = map[models.Domain]string{}
		}
		s.IncompleteDomains[d] = strings.Join(outcome.Errors, "; ")
	}
	return s
}

// planned reports the investigated domains in plan order.
func (s *Summary) planned() []models.Domain {
	var out []models.Domain
	for _, dec := range s.Plan {
		if dec.Investigate {
			out = append(out, dec.Domain)
		}
	}
	return out
}

// FinalText renders the closing message of the progress stream.
func FinalText(s *Summary) string {
	var b strings.Builder
	svc, itype := "unknown", "unknown"
	if s.Incident != nil {
		svc, itype = s.Incident.ServiceName, s.Incident.IncidentType
	}
	fmt.Fprintf(&b, "## Investigation Results for %s %s incident\n\n", svc, itype)

	if len(s.RootCauses) > 0 {
		b.WriteString("### Potential Root Causes\n\n")
		for i, rc := range s.RootCauses {
			fmt.Fprintf(&b, "**%d. %s** (Confidence: %.0f%%)\n\n", i+1, rc.Description, rc.Confidence*100)
		}
	} else {
		fmt.Fprintf(&b, "### %s\n\n", NoRootCauses)
	}

	if len(s.Recommendations) > 0 {
		b.WriteString("### Recommended Actions\n\n")
		for i, rec := range s.Recommendations {
			fmt.Fprintf(&b, "**%d.** %s\n\n", i+1, rec)
		}
	} else {
		fmt.Fprintf(&b, "### %s\n\n", NoRecommendations)
	}

	b.WriteString("### Investigation Summary\n\n")
	for _, d := range s.planned() {
		fmt.Fprintf(&b, "- **%s**: %s\n", d.Title(), domainSummary(s, d))
	}
	return b.String()
}

func domainSummary(s *Summary, d models.Domain) string {
	r := s.Results
	var text string
	switch d {
	case models.DomainInfrastructure:
		if r != nil && r.Infrastructure != nil && len(r.Infrastructure.UnhealthyPods) > 0 {
			text = fmt.Sprintf("%d unhealthy pods", len(r.Infrastructure.UnhealthyPods))
		}
	case models.DomainLogs:
		if r != nil && r.Logs != nil {
			errs, patterns := len(r.Logs.ErrorLogs), len(r.Logs.ExceptionPatterns)
			if errs > 0 || patterns > 0 {
				text = fmt.Sprintf("%d errors, %d patterns", errs, patterns)
			}
		}
	case models.DomainCode:
		if r != nil && r.Code != nil {
			deploys, risky := len(r.Code.Deployments), len(r.Code.RiskyChanges)
			if deploys > 0 || risky > 0 {
				text = fmt.Sprintf("%d deployments, %d risky changes", deploys, risky)
			}
		}
	case models.DomainMetrics:
		if r != nil && r.Metrics != nil {
			anomalies, bottlenecks := len(r.Metrics.Anomalies), len(r.Metrics.Bottlenecks)
			if anomalies > 0 || bottlenecks > 0 {
				text = fmt.Sprintf("%d anomalies, %d bottlenecks", anomalies, bottlenecks)
			}
		}
	}
	if text == "" {
		text = noSignificantFinds
	}
	if reason, ok := s.IncompleteDomains[d]; ok {
		text += " (incomplete: " + reason + ")"
	}
	return text
}

// HistoryText renders the historical context progress message.
func HistoryText(insight *models.HistoricalInsight) string {
	var b strings.Builder
	b.WriteString("### Historical Context\n")
	fmt.Fprintf(&b, "Found %d similar past incidents for this service.\n\n", insight.PastIncidentsCount)

	b.WriteString("**Common patterns:**")
	writeBullets(&b, insight.Patterns)
	b.WriteString("\n\n**Recurring root causes:**")
	causes := make([]string, len(insight.CommonRootCauses))
	for i, c := range insight.CommonRootCauses {
		causes[i] = fmt.Sprintf("%s (seen %d times)", c.Cause, c.Count)
	}
	writeBullets(&b, causes)
	b.WriteString("\n\n**Common symptoms:**")
	symptoms := make([]string, len(insight.RecurringSymptoms))
	for i, s := range insight.RecurringSymptoms {
		symptoms[i] = fmt.Sprintf("%s (seen %d times)", s.Symptom, s.Count)
	}
	writeBullets(&b, symptoms)
	b.WriteString("\n\nUsing this historical context to guide the current investigation.\n")
	return b.String()
}

func writeBullets(b *strings.Builder, items []string) {
	if len(items) == 0 {
		b.WriteString(" None identified.")
		return
	}
	for _, it := range items {
		b.WriteString("\n  - " + it)
	}
}

// Markdown renders the human readable report. evidence lists the artifacts
// collected so far; the summary and report artifacts are not among them.
func Markdown(s *Summary, evidence []*artifact.Artifact) string {
	var lines []string
	add := func(format string, args ...any) {
		lines = append(lines, fmt.Sprintf(format, args...))
	}

	inc := s.Incident
	if inc == nil {
		inc = &models.Incident{ServiceName: "unknown"}
	}
	add("# Incident Investigation Report: %s", inc.ServiceName)
	add("\n**Incident ID:** %s", inc.IncidentID)
	add("**Time:** %s", inc.OccurredAt.UTC().Format(time.RFC3339))
	add("**Service:** %s", inc.ServiceName)
	add("**Type:** %s", inc.IncidentType)
	add("**Severity:** %s", inc.Severity)
	if inc.Description != "" {
		add("\n**Description:** %s", inc.Description)
	}

	add("\n## Executive Summary\n")
	add("### Root Causes\n")
	if len(s.RootCauses) > 0 {
		for i, rc := range s.RootCauses {
			add("**%d. %s** _(Confidence: %.1f%%)_", i+1, rc.Description, rc.Confidence*100)
			if rc.HistoricalContext != "" {
				add("   - *%s*", rc.HistoricalContext)
			}
		}
	} else {
		add("%s.", NoRootCauses)
	}

	add("\n### Recommendations\n")
	if len(s.Recommendations) > 0 {
		for i, rec := range s.Recommendations {
			add("**%d.** %s", i+1, rec)
		}
	} else {
		add("%s.", NoRecommendations)
	}

	if h := s.HistoricalInsight; h != nil && h.PastIncidentsCount > 0 {
		add("\n## Historical Context\n")
		add("This service has experienced **%d** similar incidents in the past %d days.", h.PastIncidentsCount, h.LookbackDays)
		if len(h.RecurringSymptoms) > 0 {
			add("\n### Recurring Symptoms\n")
			for _, sym := range h.RecurringSymptoms {
				add("- **%s** _(seen in %d incidents)_", sym.Symptom, sym.Count)
			}
		}
	}

	add("\n## Detailed Investigation Findings\n")
	lines = append(lines, detailSections(s)...)

	if len(s.CorrelatedFindings) > 0 {
		add("\n### Correlated Findings\n")
		for _, c := range s.CorrelatedFindings {
			add("- %s", c)
		}
	}

	if len(evidence) > 0 {
		add("\n## Evidence\n")
		add("**%d** evidence artifacts were collected during this investigation.\n", len(evidence))
		byType := map[string][]*artifact.Artifact{}
		var types []string
		for _, a := range evidence {
			if _, ok := byType[a.Type]; !ok {
				types = append(types, a.Type)
			}
			byType[a.Type] = append(byType[a.Type], a)
		}
		sort.Strings(types)
		for _, t := range types {
			add("### %s Evidence\n", models.Domain(t).Title())
			for _, a := range byType[t] {
				add("- **%s** _(ID: %s)_", a.Description, a.ID)
			}
			add("")
		}
	}

	add("\n---\n\n*Report generated on %s*", s.GeneratedAt.UTC().Format("2006-01-02 15:04:05"))
	return strings.Join(lines, "\n") + "\n"
}

func detailSections(s *Summary) []string {
	var lines []string
	add := func(format string, args ...any) {
		lines = append(lines, fmt.Sprintf(format, args...))
	}
	more := func(total int) {
		if total > maxListed {
			add("- _(and %d more...)_", total-maxListed)
		}
	}
	incomplete := func(d models.Domain) {
		if reason, ok := s.IncompleteDomains[d]; ok {
			add("\n> Investigation incomplete: %s", reason)
		}
	}

	r := s.Results
	if r == nil {
		r = &synthesis.Results{}
	}

	if infra := r.Infrastructure; infra != nil {
		add("### Infrastructure Investigation\n")
		add("**Unhealthy Pods:** %d found", len(infra.UnhealthyPods))
		for _, p := range head(len(infra.UnhealthyPods)) {
			pod := infra.UnhealthyPods[p]
			add("- %s: %s (%s)", pod.Name, orUnknown(pod.Status), orDefault(pod.Reason, "Unknown reason"))
		}
		more(len(infra.UnhealthyPods))
		warnings := 0
		for _, e := range infra.Events {
			if e.Type == "Warning" || e.Type == "Error" {
				warnings++
			}
		}
		if warnings > 0 {
			add("\n**Warning Events:** %d found", warnings)
		}
		incomplete(models.DomainInfrastructure)
	}

	if logs := r.Logs; logs != nil {
		add("\n### Log Analysis\n")
		add("**Error Logs:** %d errors found", len(logs.ErrorLogs))
		for _, i := range head(len(logs.ErrorLogs)) {
			add("- `%s`", shorten(logs.ErrorLogs[i].Message, maxLogMessage))
		}
		more(len(logs.ErrorLogs))
		add("\n**Exception Patterns:** %d patterns identified", len(logs.ExceptionPatterns))
		for _, i := range head(len(logs.ExceptionPatterns)) {
			p := logs.ExceptionPatterns[i]
			add("- %s: %d occurrences", orUnknown(p.Pattern), p.Count)
		}
		more(len(logs.ExceptionPatterns))
		incomplete(models.DomainLogs)
	}

	if code := r.Code; code != nil {
		add("\n### Code Analysis\n")
		add("**Recent Deployments:** %d found", len(code.Deployments))
		for _, i := range head(len(code.Deployments)) {
			d := code.Deployments[i]
			add("- %s: deployed at %s", orUnknown(d.ID), d.DeployedAt.UTC().Format(time.RFC3339))
		}
		more(len(code.Deployments))
		add("\n**Risky Code Changes:** %d identified", len(code.RiskyChanges))
		for _, i := range head(len(code.RiskyChanges)) {
			c := code.RiskyChanges[i]
			add("- %s: %s", orDefault(c.File, "Unknown file"), orDefault(c.Description, "No description"))
		}
		more(len(code.RiskyChanges))
		incomplete(models.DomainCode)
	}

	if m := r.Metrics; m != nil {
		add("\n### Metrics Analysis\n")
		add("**Metric Anomalies:** %d detected", len(m.Anomalies))
		for _, i := range head(len(m.Anomalies)) {
			a := m.Anomalies[i]
			add("- %s: %s", orDefault(a.Metric, "Unknown metric"), orDefault(a.Description, "No description"))
		}
		more(len(m.Anomalies))
		if len(m.Bottlenecks) > 0 {
			add("\n**Resource Bottlenecks:**")
			for _, b := range m.Bottlenecks {
				add("- %s: %s", b.ResourceType, orDefault(b.Description, "No details"))
			}
		}
		incomplete(models.DomainMetrics)
	}

	if len(lines) == 0 {
		add("%s.", noSignificantFinds)
	}
	return lines
}

func head(n int) []int {
	if n > maxListed {
		n = maxListed
	}
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// shorten cuts s to at most n runes, marking the cut with "...".
func shorten(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

func orUnknown(s string) string { return orDefault(s, "Unknown") }

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
