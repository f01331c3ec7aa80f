package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moosh3/ack-agent/internal/db"
	"github.com/moosh3/ack-agent/internal/investigator"
	"github.com/moosh3/ack-agent/internal/models"
	"github.com/moosh3/ack-agent/internal/reasoning/synthesis"
)

var now = time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC)

func newTestMiner(t *testing.T) (*Miner, db.Store, *clock.Mock) {
	t.Helper()
	store, err := db.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	clk := clock.NewMock()
	clk.Set(now)
	return NewMiner(store, clk, nil), store, clk
}

type pastRun struct {
	id        string
	service   string
	age       time.Duration
	causes    []string
	unhealthy bool
	patterns  bool
	anomalies bool
	risky     bool
}

func archive(t *testing.T, m *Miner, r pastRun) {
	t.Helper()
	if r.service == "" {
		r.service = "checkout"
	}
	results := &synthesis.Results{
		Infrastructure: &synthesis.InfraResult{},
		Logs:           &synthesis.LogsResult{},
		Code:           &synthesis.CodeResult{},
		Metrics:        &synthesis.MetricsResult{},
	}
	if r.unhealthy {
		results.Infrastructure.UnhealthyPods = []investigator.PodStatus{{Name: "p"}}
	}
	if r.patterns {
		results.Logs.ExceptionPatterns = []investigator.ExceptionPattern{{Pattern: "x", Count: 3}}
	}
	if r.anomalies {
		results.Metrics.Anomalies = []investigator.MetricAnomaly{{Metric: "error_rate"}}
	}
	if r.risky {
		results.Code.RiskyChanges = []investigator.RiskyChange{{File: "a.go"}}
	}
	var causes []models.RootCause
	for _, c := range r.causes {
		causes = append(causes, models.RootCause{Description: c, Confidence: 0.8, Domain: "infrastructure"})
	}

	err := m.Archive(context.Background(), &ArchivedRun{
		RunID:       "run-" + r.id,
		Incident:    &models.Incident{IncidentID: r.id, ServiceName: r.service, IncidentType: "availability", Severity: "high"},
		Results:     results,
		RootCauses:  causes,
		CompletedAt: now.Add(-r.age),
	})
	require.NoError(t, err)
}

func TestInsights_NoHistory(t *testing.T) {
	m, _, _ := newTestMiner(t)

	got, err := m.Insights(context.Background(), "checkout", "", 0)
	require.NoError(t, err)
	if diff := cmp.Diff(models.EmptyInsight("checkout", DefaultLookbackDays), got); diff != "" {
		t.Errorf("insight mismatch (-want +got):\n%s", diff)
	}
}

func TestInsights_CountsAndPatterns(t *testing.T) {
	m, _, _ := newTestMiner(t)

	archive(t, m, pastRun{id: "inc-1", age: 72 * time.Hour, causes: []string{"Unhealthy pods detected"}, unhealthy: true})
	archive(t, m, pastRun{id: "inc-2", age: 48 * time.Hour, causes: []string{"Resource bottlenecks detected", "Unhealthy pods detected"}, unhealthy: true, anomalies: true})
	archive(t, m, pastRun{id: "inc-3", age: 24 * time.Hour, causes: []string{"Recent risky code changes detected"}, risky: true, patterns: true})
	// Other services and the current incident never count.
	archive(t, m, pastRun{id: "inc-4", service: "payments", age: time.Hour, causes: []string{"Unhealthy pods detected"}, unhealthy: true})
	archive(t, m, pastRun{id: "current", age: time.Minute, causes: []string{"Unhealthy pods detected"}, unhealthy: true})

	got, err := m.Insights(context.Background(), "checkout", "current", 30)
	require.NoError(t, err)

	want := &models.HistoricalInsight{
		ServiceName:        "checkout",
		LookbackDays:       30,
		PastIncidentsCount: 3,
		CommonRootCauses: []models.CauseCount{
			{Cause: "Unhealthy pods detected", Count: 2},
			{Cause: "Resource bottlenecks detected", Count: 1},
			{Cause: "Recent risky code changes detected", Count: 1},
		},
		RecurringSymptoms: []models.SymptomCount{
			{Symptom: models.SymptomUnhealthyPods, Count: 2},
			{Symptom: models.SymptomMetricAnomalies, Count: 1},
			{Symptom: models.SymptomRecurringLogErrors, Count: 1},
		},
		ServicesAffected: []string{"checkout"},
		Patterns: []string{
			"Recurring root cause: Unhealthy pods detected",
			"Recurring symptom: unhealthy_pods",
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("insight mismatch (-want +got):\n%s", diff)
	}
}

func TestInsights_TiesKeepFirstOccurrence(t *testing.T) {
	m, _, _ := newTestMiner(t)

	for i, cause := range []string{"D", "C", "B", "A"} {
		archive(t, m, pastRun{id: fmt.Sprintf("inc-%d", i), age: time.Duration(10-i) * time.Hour, causes: []string{cause}})
	}

	got, err := m.Insights(context.Background(), "checkout", "", 30)
	require.NoError(t, err)
	require.Len(t, got.CommonRootCauses, 3)
	assert.Equal(t, []models.CauseCount{{Cause: "D", Count: 1}, {Cause: "C", Count: 1}, {Cause: "B", Count: 1}}, got.CommonRootCauses)
	assert.Empty(t, got.Patterns, "no cause recurred twice")
}

func TestInsights_Idempotent(t *testing.T) {
	m, _, _ := newTestMiner(t)
	for i := 0; i < 6; i++ {
		archive(t, m, pastRun{
			id:        fmt.Sprintf("inc-%d", i),
			age:       time.Duration(i+1) * time.Hour,
			causes:    []string{fmt.Sprintf("cause-%d", i%4), "shared"},
			unhealthy: i%2 == 0,
			patterns:  i%3 == 0,
			anomalies: true,
			risky:     i%2 == 1,
		})
	}

	first, err := m.Insights(context.Background(), "checkout", "", 30)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := m.Insights(context.Background(), "checkout", "", 30)
		require.NoError(t, err)
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("insight changed between calls (-first +again):\n%s", diff)
		}
	}
}

func TestInsights_LookbackWindow(t *testing.T) {
	m, _, _ := newTestMiner(t)
	archive(t, m, pastRun{id: "old", age: 40 * 24 * time.Hour, causes: []string{"Unhealthy pods detected"}})
	archive(t, m, pastRun{id: "recent", age: 5 * 24 * time.Hour, causes: []string{"Resource bottlenecks detected"}})

	got, err := m.Insights(context.Background(), "checkout", "", 30)
	require.NoError(t, err)
	assert.Equal(t, 1, got.PastIncidentsCount)
	assert.Equal(t, []models.CauseCount{{Cause: "Resource bottlenecks detected", Count: 1}}, got.CommonRootCauses)

	got, err = m.Insights(context.Background(), "checkout", "", 60)
	require.NoError(t, err)
	assert.Equal(t, 2, got.PastIncidentsCount)
}

func TestInsights_LatestRunPerIncidentAndHistoricalCausesIgnored(t *testing.T) {
	m, store, _ := newTestMiner(t)
	ctx := context.Background()

	archive(t, m, pastRun{id: "inc-1", age: 3 * time.Hour, causes: []string{"Unhealthy pods detected"}})
	archive(t, m, pastRun{id: "inc-1", age: 2 * time.Hour, causes: []string{"Resource bottlenecks detected"}})

	err := m.Archive(ctx, &ArchivedRun{
		Incident: &models.Incident{IncidentID: "inc-2", ServiceName: "checkout"},
		RootCauses: []models.RootCause{
			{Description: "Certificate expired", Domain: synthesis.DomainHistorical},
		},
		CompletedAt: now.Add(-time.Hour),
	})
	require.NoError(t, err)

	require.NoError(t, store.ArchiveRun(ctx, &db.RunArchiveRecord{
		IncidentID: "inc-3", ServiceName: "checkout", Payload: "{not json", CreatedAt: now.Add(-time.Minute),
	}))

	got, err := m.Insights(ctx, "checkout", "", 30)
	require.NoError(t, err)
	assert.Equal(t, 2, got.PastIncidentsCount)
	assert.Equal(t, []models.CauseCount{{Cause: "Resource bottlenecks detected", Count: 1}}, got.CommonRootCauses)
}

func TestArchive_RequiresIncident(t *testing.T) {
	m, _, _ := newTestMiner(t)
	assert.Error(t, m.Archive(context.Background(), &ArchivedRun{}))
	assert.Error(t, m.Archive(context.Background(), nil))
}
