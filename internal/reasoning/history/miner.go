// Package history archives finished investigation runs and mines them for
// recurring root causes and symptoms.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/moosh3/ack-agent/internal/db"
	"github.com/moosh3/ack-agent/internal/models"
	"github.com/moosh3/ack-agent/internal/reasoning/synthesis"
)

// DefaultLookbackDays is used when a non-positive lookback is requested.
const DefaultLookbackDays = 30

const (
	topN               = 3
	minPatternSample   = 3
	minPatternRecurred = 2
)

// symptomPaths maps each symptom category onto the archived JSON array whose
// non-emptiness signals it. Order is the counting order, which breaks ties.
var symptomPaths = []struct {
	symptom string
	path    string
}{
	{models.SymptomUnhealthyPods, "results.infrastructure.unhealthy_pods.#"},
	{models.SymptomRecurringLogErrors, "results.logs.exception_patterns.#"},
	{models.SymptomMetricAnomalies, "results.metrics.anomalies.#"},
	{models.SymptomRiskyCodeChanges, "results.code.risky_changes.#"},
}

// ArchivedRun is the JSON document kept for every finished run.
type ArchivedRun struct {
	RunID           string                 `json:"run_id"`
	Incident        *models.Incident       `json:"incident"`
	Plan            map[models.Domain]bool `json:"plan"`
	Results         *synthesis.Results     `json:"results"`
	Findings        []models.Finding       `json:"findings"`
	RootCauses      []models.RootCause     `json:"root_causes"`
	Recommendations []string               `json:"recommendations"`
	Correlations    []string               `json:"correlations"`
	CompletedAt     time.Time              `json:"completed_at"`
}

// Miner reads and writes the run archive.
type Miner struct {
	store  db.RunArchiveStore
	clock  clock.Clock
	logger *zap.Logger
}

// NewMiner creates a Miner over the run archive.
func NewMiner(store db.RunArchiveStore, clk clock.Clock, logger *zap.Logger) *Miner {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Miner{store: store, clock: clk, logger: logger}
}

// Archive stores a finished run for future mining.
func (m *Miner) Archive(ctx context.Context, run *ArchivedRun) error {
	if run == nil || run.Incident == nil {
		return fmt.Errorf("archive run: incident is required")
	}
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("archive run: encode: %w", err)
	}
	created := run.CompletedAt
	if created.IsZero() {
		created = m.clock.Now()
	}
	rec := &db.RunArchiveRecord{
		IncidentID:   run.Incident.IncidentID,
		ServiceName:  run.Incident.ServiceName,
		IncidentType: run.Incident.IncidentType,
		Severity:     run.Incident.Severity,
		Payload:      string(payload),
		CreatedAt:    created.UTC(),
	}
	return m.store.ArchiveRun(ctx, rec)
}

// counter counts keys and remembers the order they were first seen in.
type counter struct {
	order  []string
	counts map[string]int
}

func newCounter() *counter {
	return &counter{counts: map[string]int{}}
}

func (c *counter) inc(key string) {
	if _, ok := c.counts[key]; !ok {
		c.order = append(c.order, key)
	}
	c.counts[key]++
}

// top returns up to n keys by descending count, ties in first-seen order.
func (c *counter) top(n int) []string {
	keys := append([]string(nil), c.order...)
	sort.SliceStable(keys, func(i, j int) bool {
		return c.counts[keys[i]] > c.counts[keys[j]]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

// Insights mines archived runs of service from the last lookbackDays,
// excluding excludeIncidentID. When an incident was archived more than once
// only its latest run counts. The result is a pure function of the archive
// contents.
func (m *Miner) Insights(ctx context.Context, service, excludeIncidentID string, lookbackDays int) (*models.HistoricalInsight, error) {
	if lookbackDays <= 0 {
		lookbackDays = DefaultLookbackDays
	}
	insight := models.EmptyInsight(service, lookbackDays)

	since := m.clock.Now().UTC().Add(-time.Duration(lookbackDays) * 24 * time.Hour)
	records, err := m.store.ListArchivedRuns(ctx, service, since, excludeIncidentID)
	if err != nil {
		return nil, fmt.Errorf("mine history for %s: %w", service, err)
	}

	// One payload per incident, positioned at its first archive.
	var incidents []string
	latest := map[string]string{}
	for _, rec := range records {
		if !gjson.Valid(rec.Payload) {
			m.logger.Warn("skipping malformed archived run",
				zap.Int64("archive_id", rec.ID),
				zap.String("incident_id", rec.IncidentID))
			continue
		}
		if _, seen := latest[rec.IncidentID]; !seen {
			incidents = append(incidents, rec.IncidentID)
		}
		latest[rec.IncidentID] = rec.Payload
	}
	if len(incidents) == 0 {
		return insight, nil
	}

	causes := newCounter()
	symptoms := newCounter()
	services := map[string]bool{}

	for _, id := range incidents {
		doc := latest[id]

		if svc := gjson.Get(doc, "incident.service_name").String(); svc != "" {
			services[svc] = true
		}

		seen := map[string]bool{}
		for _, rc := range gjson.Get(doc, "root_causes").Array() {
			desc := rc.Get("description").String()
			// Historical-only causes would reinforce themselves run after run.
			if desc == "" || rc.Get("domain").String() == synthesis.DomainHistorical || seen[desc] {
				continue
			}
			seen[desc] = true
			causes.inc(desc)
		}

		for _, sp := range symptomPaths {
			if gjson.Get(doc, sp.path).Int() > 0 {
				symptoms.inc(sp.symptom)
			}
		}
	}

	insight.PastIncidentsCount = len(incidents)
	for _, c := range causes.top(topN) {
		insight.CommonRootCauses = append(insight.CommonRootCauses, models.CauseCount{Cause: c, Count: causes.counts[c]})
	}
	for _, s := range symptoms.top(topN) {
		insight.RecurringSymptoms = append(insight.RecurringSymptoms, models.SymptomCount{Symptom: s, Count: symptoms.counts[s]})
	}
	for svc := range services {
		insight.ServicesAffected = append(insight.ServicesAffected, svc)
	}
	sort.Strings(insight.ServicesAffected)

	if insight.PastIncidentsCount >= minPatternSample {
		if len(insight.CommonRootCauses) > 0 && insight.CommonRootCauses[0].Count >= minPatternRecurred {
			insight.Patterns = append(insight.Patterns, "Recurring root cause: "+insight.CommonRootCauses[0].Cause)
		}
		if len(insight.RecurringSymptoms) > 0 && insight.RecurringSymptoms[0].Count >= minPatternRecurred {
			insight.Patterns = append(insight.Patterns, "Recurring symptom: "+insight.RecurringSymptoms[0].Symptom)
		}
	}

	return insight, nil
}
