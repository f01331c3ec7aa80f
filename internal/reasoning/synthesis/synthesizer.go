package synthesis

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/moosh3/ack-agent/internal/investigator"
	"github.com/moosh3/ack-agent/internal/models"
)

// Root cause descriptions. Historical matching is done on these strings, so
// they must stay stable across releases.
const (
	CauseUnhealthyPods  = "Unhealthy pods detected"
	CauseRiskyChanges   = "Recent risky code changes detected"
	CauseBottlenecks    = "Resource bottlenecks detected"
	CauseErrorPatterns  = "Recurring error patterns in logs"
	DomainHistorical    = "historical"
	historicalOnlyNote  = "Added based solely on historical patterns"
	maxConfidence       = 0.95
	residualBase        = 0.40
	residualCap         = 0.65
	boostPerOccurrence  = 0.05
	defaultBoostCap     = 0.15
	defaultLogsBoostCap = 0.10
)

// Correlation descriptions.
const (
	CorrelationDeploymentErrors     = "Potential correlation between recent deployment and error logs"
	CorrelationBottlenecksAnomalies = "Resource bottlenecks detected that correspond with performance anomalies"
	correlationDeploymentConfidence = 0.75
	correlationBottleneckConfidence = 0.85
	maxCorrelatedErrorLogs          = 5
)

// Recommendations, in the order they are emitted.
const (
	RecommendRestartPods   = "Restart unhealthy pods and check their resource allocations"
	RecommendRollback      = "Consider rolling back the most recent deployment and reviewing the identified risky changes"
	RecommendScaleCPU      = "Increase CPU allocation for the affected service or optimize CPU usage"
	RecommendScaleMemory   = "Increase memory allocation for the affected service or fix memory leaks"
	RecommendAddressErrors = "Address the recurring error patterns identified in the logs"
	RecommendMonitor       = "Monitor the service closely for the next 24 hours to ensure stability"
)

// Correlation is a cross-domain observation. It is recorded as a finding but
// never ranked as a root cause.
type Correlation struct {
	Description string          `json:"description"`
	Confidence  float64         `json:"confidence"`
	Evidence    json.RawMessage `json:"evidence,omitempty"`
}

// Synthesis is the output of one synthesis pass.
type Synthesis struct {
	RootCauses      []models.RootCause `json:"root_causes"`
	Recommendations []string           `json:"recommendations"`
	Correlations    []Correlation      `json:"correlations"`
}

// Options tunes historical boosting.
type Options struct {
	// BoostCap caps the historical boost for infrastructure, code and
	// metrics causes. Zero means 0.15.
	BoostCap float64
	// LogsBoostCap caps the boost for log pattern causes. Zero means 0.10.
	LogsBoostCap float64
	// DisableBoost leaves confidences untouched by history. Past causes are
	// still noted on matching root causes.
	DisableBoost bool
}

// Synthesizer ranks root causes. It holds no state between runs.
type Synthesizer struct {
	boostCap     float64
	logsBoostCap float64
}

// New creates a Synthesizer.
func New(opts Options) *Synthesizer {
	s := &Synthesizer{boostCap: opts.BoostCap, logsBoostCap: opts.LogsBoostCap}
	if s.boostCap <= 0 {
		s.boostCap = defaultBoostCap
	}
	if s.logsBoostCap <= 0 {
		s.logsBoostCap = defaultLogsBoostCap
	}
	if s.logsBoostCap > s.boostCap {
		s.logsBoostCap = s.boostCap
	}
	if opts.DisableBoost {
		s.boostCap, s.logsBoostCap = 0, 0
	}
	return s
}

// Synthesize derives root causes, correlations and recommendations. It never
// fails: empty results yield an empty root cause list and only the closing
// recommendation.
func (s *Synthesizer) Synthesize(results *Results, insight *models.HistoricalInsight) *Synthesis {
	history := historicalCauses(insight)

	causes := make([]models.RootCause, 0, 4)
	add := func(desc, domain string, base, boostCap float64, evidence any) {
		rc := models.RootCause{
			Description: desc,
			Confidence:  base,
			Evidence:    mustJSON(evidence),
			Domain:      domain,
		}
		if count, ok := history[strings.ToLower(desc)]; ok {
			boost := math.Min(boostCap, boostPerOccurrence*float64(count))
			rc.Confidence = math.Min(maxConfidence, base+boost)
			rc.HistoricalContext = fmt.Sprintf("This has been a root cause in %d previous incidents", count)
		}
		rc.Confidence = round(rc.Confidence)
		causes = append(causes, rc)
	}

	// Evaluation order is the tie-break order of the final ranking.
	if pods := results.unhealthyPods(); len(pods) > 0 {
		add(CauseUnhealthyPods, string(models.DomainInfrastructure), 0.80, s.boostCap, pods)
	}
	if risky := results.riskyChanges(); len(risky) > 0 {
		add(CauseRiskyChanges, string(models.DomainCode), 0.70, s.boostCap, risky)
	}
	if bottlenecks := results.bottlenecks(); len(bottlenecks) > 0 {
		add(CauseBottlenecks, string(models.DomainMetrics), 0.75, s.boostCap, bottlenecks)
	}
	if patterns := results.exceptionPatterns(); len(patterns) > 0 {
		add(CauseErrorPatterns, string(models.DomainLogs), 0.85, s.logsBoostCap, patterns)
	}

	causes = append(causes, residualCauses(insight, causes)...)

	sort.SliceStable(causes, func(i, j int) bool {
		return causes[i].Confidence > causes[j].Confidence
	})

	return &Synthesis{
		RootCauses:      causes,
		Recommendations: Recommendations(results),
		Correlations:    Correlate(results),
	}
}

// Correlate finds cross-domain correlations.
func Correlate(results *Results) []Correlation {
	out := []Correlation{}

	deployments := results.deployments()
	errorLogs := results.errorLogs()
	if len(deployments) > 0 && len(errorLogs) > 0 {
		if len(errorLogs) > maxCorrelatedErrorLogs {
			errorLogs = errorLogs[:maxCorrelatedErrorLogs]
		}
		out = append(out, Correlation{
			Description: CorrelationDeploymentErrors,
			Confidence:  correlationDeploymentConfidence,
			Evidence: mustJSON(struct {
				Deployments []investigator.Deployment `json:"deployments"`
				ErrorLogs   []investigator.LogEntry   `json:"error_logs"`
			}{deployments, errorLogs}),
		})
	}

	bottlenecks := results.bottlenecks()
	anomalies := results.anomalies()
	if len(bottlenecks) > 0 && len(anomalies) > 0 {
		out = append(out, Correlation{
			Description: CorrelationBottlenecksAnomalies,
			Confidence:  correlationBottleneckConfidence,
			Evidence: mustJSON(struct {
				Bottlenecks []investigator.ResourceBottleneck `json:"bottlenecks"`
				Anomalies   []investigator.MetricAnomaly      `json:"anomalies"`
			}{bottlenecks, anomalies}),
		})
	}

	return out
}

// Recommendations derives remediation suggestions from the non-empty finding
// categories. The monitoring recommendation always comes last.
func Recommendations(results *Results) []string {
	recs := make([]string, 0, 6)
	if len(results.unhealthyPods()) > 0 {
		recs = append(recs, RecommendRestartPods)
	}
	if len(results.riskyChanges()) > 0 || len(results.deployments()) > 0 {
		recs = append(recs, RecommendRollback)
	}
	if results != nil && results.Metrics.HasBottleneck(investigator.ResourceCPU) {
		recs = append(recs, RecommendScaleCPU)
	}
	if results != nil && results.Metrics.HasBottleneck(investigator.ResourceMemory) {
		recs = append(recs, RecommendScaleMemory)
	}
	if len(results.errorLogs()) > 0 || len(results.exceptionPatterns()) > 0 {
		recs = append(recs, RecommendAddressErrors)
	}
	return append(recs, RecommendMonitor)
}

// historicalCauses maps lower-cased cause descriptions to their frequency.
// It is empty when the insight covers no past incidents.
func historicalCauses(insight *models.HistoricalInsight) map[string]int {
	out := map[string]int{}
	if insight == nil || insight.PastIncidentsCount == 0 {
		return out
	}
	for _, c := range insight.CommonRootCauses {
		if c.Cause == "" || c.Count <= 0 {
			continue
		}
		key := strings.ToLower(c.Cause)
		if _, seen := out[key]; !seen {
			out[key] = c.Count
		}
	}
	return out
}

// residualCauses surfaces recurring historical causes that were not
// rediscovered in this run.
func residualCauses(insight *models.HistoricalInsight, found []models.RootCause) []models.RootCause {
	if insight == nil || insight.PastIncidentsCount == 0 {
		return nil
	}
	present := make(map[string]bool, len(found))
	for _, rc := range found {
		present[strings.ToLower(rc.Description)] = true
	}

	var out []models.RootCause
	for _, c := range insight.CommonRootCauses {
		key := strings.ToLower(c.Cause)
		if c.Count < 2 || key == "" || present[key] {
			continue
		}
		present[key] = true
		out = append(out, models.RootCause{
			Description:       capitalize(key),
			Confidence:        round(math.Min(residualCap, residualBase+boostPerOccurrence*float64(c.Count))),
			Evidence:          mustJSON(fmt.Sprintf("Detected in %d past similar incidents", c.Count)),
			Domain:            DomainHistorical,
			HistoricalContext: historicalOnlyNote,
		})
	}
	return out
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}

// round trims float noise so 0.8+0.15 reads as 0.95.
func round(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`null`)
	}
	return data
}
