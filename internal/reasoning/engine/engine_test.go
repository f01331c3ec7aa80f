package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/moosh3/ack-agent/internal/artifact"
	"github.com/moosh3/ack-agent/internal/db"
	"github.com/moosh3/ack-agent/internal/investigator"
	"github.com/moosh3/ack-agent/internal/models"
	"github.com/moosh3/ack-agent/internal/reasoning/investigation"
	"github.com/moosh3/ack-agent/internal/reasoning/report"
	"github.com/moosh3/ack-agent/internal/reasoning/synthesis"
	"github.com/moosh3/ack-agent/pkg/contracts"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
	)
}

var incidentTime = time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC)

const (
	infraFixture = `
infrastructure:
  check_pod_status:
    result:
      healthy_pods: []
      unhealthy_pods:
        - name: checkout-7d9f
          status: CrashLoopBackOff
          reason: OOMKilled
`
	logsFixture = `
logs:
  search_logs:
    result:
      - level: error
        message: "upstream connect error or disconnect/reset before headers"
`
	codeFixture = `
code:
  get_recent_deployments:
    result:
      - id: deploy-42
        deployed_at: "2024-03-05T13:50:00Z"
        status: success
`
	checkoutFixtures = infraFixture + logsFixture + codeFixture
)

type harness struct {
	engine    Engine
	store     db.Store
	artifacts artifact.Store
	clock     *clock.Mock
	statics   map[models.Domain]*investigator.Static
}

func newHarness(t *testing.T, fixtures string, opts Options) *harness {
	t.Helper()
	return newHarnessWith(t, fixtures, opts, harnessSetup{})
}

// harnessSetup swaps parts of the default harness.
type harnessSetup struct {
	// dbPath selects a file-backed store; empty means in-memory.
	dbPath string
	// overrides replace the fixture investigator of a domain.
	overrides map[models.Domain]investigator.Investigator
}

func newHarnessWith(t *testing.T, fixtures string, opts Options, setup harnessSetup) *harness {
	t.Helper()

	path := setup.dbPath
	if path == "" {
		path = ":memory:"
	}
	store, err := db.NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	clk := clock.NewMock()
	clk.Set(incidentTime.Add(10 * time.Minute))

	artifacts, err := artifact.NewFileStore(t.TempDir(), store, clk)
	require.NoError(t, err)

	statics, err := investigator.ParseFixtures([]byte(fixtures))
	require.NoError(t, err)
	registry := investigator.NewRegistry()
	for _, d := range models.AllDomains {
		if _, ok := statics[d]; !ok {
			statics[d] = investigator.NewStatic(d, nil)
		}
		if inv, ok := setup.overrides[d]; ok {
			registry.Register(d, inv)
			continue
		}
		registry.Register(d, statics[d])
	}

	opts.Clock = clk
	eng, err := New(store, artifacts, registry, nil, opts)
	require.NoError(t, err)
	return &harness{engine: eng, store: store, artifacts: artifacts, clock: clk, statics: statics}
}

func checkoutPayload() models.IncidentPayload {
	return models.IncidentPayload{
		ServiceName:  "checkout",
		IncidentType: "availability",
		Severity:     "high",
		Description:  "pods crashing after deployment",
		Timestamp:    incidentTime.Format(time.RFC3339),
	}
}

func drain(t *testing.T, run *Run) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(10 * time.Second)
	ch := run.Events()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("event stream did not close")
		}
	}
}

func findingsBySource(t *testing.T, store db.Store, incidentID string, source models.Source) []*db.FindingRecord {
	t.Helper()
	recs, err := store.ListFindings(context.Background(), incidentID, string(source))
	require.NoError(t, err)
	return recs
}

func TestInvestigate_CheckoutScenario(t *testing.T) {
	h := newHarness(t, checkoutFixtures, Options{})
	ctx := context.Background()

	run, err := h.engine.Start(ctx, checkoutPayload())
	require.NoError(t, err)
	events := drain(t, run)
	res, err := run.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, "incident_checkout_20240305140000", res.Incident.IncidentID)
	assert.Equal(t, investigation.StateCompleted, res.State)
	assert.False(t, res.Plan.Investigate(models.DomainMetrics), "deployment vocabulary skips metrics")
	assert.Nil(t, res.Results.Metrics)

	require.NotEmpty(t, res.RootCauses)
	assert.Equal(t, synthesis.CauseUnhealthyPods, res.RootCauses[0].Description)
	assert.InDelta(t, 0.80, res.RootCauses[0].Confidence, 1e-9)
	assert.Contains(t, res.Recommendations, synthesis.RecommendRestartPods)
	assert.Contains(t, res.Recommendations, synthesis.RecommendRollback)
	assert.Equal(t, synthesis.RecommendMonitor, res.Recommendations[len(res.Recommendations)-1])

	incID := res.Incident.IncidentID
	assert.Empty(t, findingsBySource(t, h.store, incID, models.SourceMetrics), "skipped domains produce no findings")
	assert.Empty(t, h.statics[models.DomainMetrics].Calls())

	infra := findingsBySource(t, h.store, incID, models.SourceInfrastructure)
	require.Len(t, infra, 1)
	assert.InDelta(t, 0.8, infra[0].Confidence, 1e-9)
	assert.True(t, strings.HasPrefix(infra[0].ID, incID+"_infrastructure_"))

	code := findingsBySource(t, h.store, incID, models.SourceCode)
	require.Len(t, code, 1)
	assert.Equal(t, "Recent deployment shortly before the incident", code[0].Description)
	require.NotNil(t, res.Results.Code.RecentDeployment)
	assert.Equal(t, "deploy-42", res.Results.Code.RecentDeployment.ID)

	correlations := findingsBySource(t, h.store, incID, models.SourceCorrelation)
	require.Len(t, correlations, 1)
	assert.Equal(t, synthesis.CorrelationDeploymentErrors, correlations[0].Description)

	rootCauses := findingsBySource(t, h.store, incID, models.SourceRootCause)
	assert.Len(t, rootCauses, len(res.RootCauses))

	// One artifact per task of the three planned domains.
	infraArtifacts, err := h.artifacts.List(ctx, incID, string(models.DomainInfrastructure))
	require.NoError(t, err)
	assert.Len(t, infraArtifacts, len(investigator.DomainTasks[models.DomainInfrastructure]))

	rep, err := h.artifacts.Get(ctx, res.ReportArtifactID)
	require.NoError(t, err)
	assert.Equal(t, artifact.TypeReport, rep.Type)
	assert.Contains(t, string(rep.Content), "# Incident Investigation Report: checkout")
	assert.Contains(t, string(rep.Content), "**1. Unhealthy pods detected** _(Confidence: 80.0%)_")

	summary, err := h.artifacts.List(ctx, incID, artifact.TypeSummary)
	require.NoError(t, err)
	require.Len(t, summary, 1)
	assert.Equal(t, res.SummaryArtifactID, summary[0].ID)

	require.NotEmpty(t, events)
	assert.Equal(t, "Starting investigation of high availability incident in checkout", events[0].Message)
	last := events[len(events)-1]
	assert.Equal(t, EventFinalSummary, last.Type)
	assert.Equal(t, res.FinalSummary, last.Message)
	finals := 0
	var messages []string
	for _, ev := range events {
		if ev.Type == EventFinalSummary {
			finals++
		}
		assert.Equal(t, run.ID, ev.RunID)
		messages = append(messages, ev.Message)
	}
	assert.Equal(t, 1, finals)
	all := strings.Join(messages, "\n")
	assert.Contains(t, all, "  - metrics: skipping (description points at a deployment or pod problem)")
	assert.Contains(t, all, "Kubernetes investigation complete. Found 1 unhealthy pods.")
	assert.NotContains(t, all, "Starting metrics investigation")

	sess, err := h.engine.Sessions().Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, investigation.StateCompleted, sess.State)
	assert.Equal(t, investigation.DomainSkipped, sess.Domains[models.DomainMetrics].Status)
	assert.Equal(t, investigation.DomainCompleted, sess.Domains[models.DomainInfrastructure].Status)
	assert.Equal(t, res.ReportArtifactID, sess.ReportArtifactID)

	// A second follower replays the same ordered stream.
	assert.Equal(t, events, drain(t, run))
}

func TestInvestigate_EmptyResults(t *testing.T) {
	h := newHarness(t, "", Options{})
	payload := checkoutPayload()
	payload.Description = ""

	res, err := h.engine.Investigate(context.Background(), payload)
	require.NoError(t, err)

	assert.Len(t, res.Plan.Domains(), len(models.AllDomains))
	assert.Empty(t, res.RootCauses)
	assert.Equal(t, []string{synthesis.RecommendMonitor}, res.Recommendations)
	assert.Empty(t, res.Correlations)
	assert.Contains(t, res.Report, report.NoRootCauses)
	assert.Contains(t, res.FinalSummary, "### "+report.NoRootCauses)
	for _, d := range models.AllDomains {
		assert.Empty(t, findingsBySource(t, h.store, res.Incident.IncidentID, models.SourceFor(d)))
	}
}

func TestInvestigate_ValidationErrorCreatesNoState(t *testing.T) {
	h := newHarness(t, "", Options{})
	payload := checkoutPayload()
	payload.ServiceName = ""

	_, err := h.engine.Start(context.Background(), payload)
	var verr *models.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "service_name", verr.Field)

	sessions, err := h.engine.Sessions().List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, sessions)
	incidents, err := h.store.ListIncidents(context.Background(), "", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, incidents)
}

func TestInvestigate_DuplicateIncident(t *testing.T) {
	h := newHarness(t, checkoutFixtures, Options{})
	ctx := context.Background()

	first, err := h.engine.Investigate(ctx, checkoutPayload())
	require.NoError(t, err)
	second, err := h.engine.Investigate(ctx, checkoutPayload())
	require.NoError(t, err)

	assert.Equal(t, first.Incident.IncidentID, second.Incident.IncidentID)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, 0, second.Insight.PastIncidentsCount, "an incident never counts as its own history")

	incidents, err := h.store.ListIncidents(ctx, "", 10, 0)
	require.NoError(t, err)
	assert.Len(t, incidents, 1)
}

func TestStart_RejectsRunInFlight(t *testing.T) {
	fixtures := checkoutFixtures + `
metrics:
  get_recommended_queries:
    delay: 200ms
`
	h := newHarness(t, fixtures, Options{})
	ctx := context.Background()
	payload := checkoutPayload()
	payload.Description = "checkout errors"

	run, err := h.engine.Start(ctx, payload)
	require.NoError(t, err)

	_, err = h.engine.Start(ctx, payload)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRunInProgress))
	assert.Contains(t, err.Error(), run.ID)

	got, ok := h.engine.Run(run.ID)
	require.True(t, ok)
	assert.Same(t, run, got)

	_, err = run.Wait(ctx)
	require.NoError(t, err)

	again, err := h.engine.Start(ctx, payload)
	require.NoError(t, err, "finished runs release the incident")
	_, err = again.Wait(ctx)
	require.NoError(t, err)
}

func TestInvestigate_DomainErrorRecordsErrorFinding(t *testing.T) {
	fixtures := infraFixture + codeFixture + `
logs:
  search_logs:
    status: error
    error_message: splunk unavailable
`
	h := newHarness(t, fixtures, Options{})

	res, err := h.engine.Investigate(context.Background(), checkoutPayload())
	require.NoError(t, err)
	incID := res.Incident.IncidentID

	assert.Equal(t, synthesis.OutcomeFailed, res.Results.Logs.Outcome)
	assert.Equal(t, []string{investigator.TaskSearchLogs}, h.statics[models.DomainLogs].Calls(), "remaining tasks are skipped")

	errs := findingsBySource(t, h.store, incID, models.SourceError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Description, "splunk unavailable")
	assert.Contains(t, errs[0].Description, investigator.TaskSearchLogs)

	assert.Empty(t, findingsBySource(t, h.store, incID, models.SourceCorrelation), "no error logs, no correlation")
	assert.Equal(t, investigation.StateCompleted, res.State, "a failed domain never fails the run")
	assert.Contains(t, res.Report, "> Investigation incomplete:")

	sess, err := h.engine.Sessions().Get(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, investigation.DomainFailed, sess.Domains[models.DomainLogs].Status)
}

func TestInvestigate_PartialAndTimeout(t *testing.T) {
	fixtures := infraFixture + logsFixture + `
code:
  get_recent_commits:
    delay: 1h
metrics:
  get_recommended_queries:
    result:
      - query_name: error_rate
        query: rate(http_errors_total[5m])
  run_query:
    status: partial
    error_message: series truncated
    result:
      exceeds_threshold: true
`
	h := newHarness(t, fixtures, Options{DomainTimeout: 50 * time.Millisecond})
	payload := checkoutPayload()
	payload.Description = ""

	res, err := h.engine.Investigate(context.Background(), payload)
	require.NoError(t, err)
	incID := res.Incident.IncidentID

	assert.Equal(t, synthesis.OutcomePartial, res.Results.Metrics.Outcome)
	require.Len(t, res.Results.Metrics.QueryResults, 1)
	assert.Equal(t, "error_rate", res.Results.Metrics.QueryResults[0].QueryName)
	metricsFindings := findingsBySource(t, h.store, incID, models.SourceMetrics)
	require.Len(t, metricsFindings, 1)
	assert.Equal(t, "Metric threshold exceeded: error_rate", metricsFindings[0].Description)

	assert.Equal(t, synthesis.OutcomeFailed, res.Results.Code.Outcome)
	errs := findingsBySource(t, h.store, incID, models.SourceError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Description, "no answer within")
	assert.Equal(t, []string{investigator.TaskGetRecentCommits}, h.statics[models.DomainCode].Calls())
}

func TestInvestigate_UnresponsiveInvestigatorTimesOut(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	var calls atomic.Int32
	stuck := investigator.Func(func(context.Context, string, any) (*contracts.TaskResponse, error) {
		calls.Add(1)
		<-release
		return &contracts.TaskResponse{Status: contracts.StatusSuccess}, nil
	})

	h := newHarnessWith(t, infraFixture+logsFixture, Options{DomainTimeout: 50 * time.Millisecond}, harnessSetup{
		overrides: map[models.Domain]investigator.Investigator{models.DomainCode: stuck},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	res, err := h.engine.Investigate(ctx, checkoutPayload())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Equal(t, investigation.StateCompleted, res.State)
	assert.Equal(t, synthesis.OutcomeFailed, res.Results.Code.Outcome)
	assert.EqualValues(t, 1, calls.Load(), "a timed out domain makes no further calls")

	errs := findingsBySource(t, h.store, res.Incident.IncidentID, models.SourceError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Description, "no answer within 50ms")
	assert.NotEmpty(t, findingsBySource(t, h.store, res.Incident.IncidentID, models.SourceInfrastructure))
}

func TestInvestigate_InvestigatorPanicFailsDomain(t *testing.T) {
	broken := investigator.Func(func(context.Context, string, any) (*contracts.TaskResponse, error) {
		panic("nil map")
	})
	h := newHarnessWith(t, checkoutFixtures, Options{}, harnessSetup{
		overrides: map[models.Domain]investigator.Investigator{models.DomainLogs: broken},
	})

	res, err := h.engine.Investigate(context.Background(), checkoutPayload())
	require.NoError(t, err)
	assert.Equal(t, investigation.StateCompleted, res.State)
	assert.Equal(t, synthesis.OutcomeFailed, res.Results.Logs.Outcome)

	errs := findingsBySource(t, h.store, res.Incident.IncidentID, models.SourceError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Description, "investigator panicked: nil map")
}

func TestInvestigate_ConcurrentRunsOnFileStore(t *testing.T) {
	h := newHarnessWith(t, checkoutFixtures, Options{}, harnessSetup{
		dbPath: filepath.Join(t.TempDir(), "ack-agent.db"),
	})
	ctx := context.Background()

	services := []string{"checkout", "payments", "cart", "search"}
	results := make([]*Result, len(services))
	g, gctx := errgroup.WithContext(ctx)
	for i, svc := range services {
		payload := checkoutPayload()
		payload.ServiceName = svc
		g.Go(func() error {
			res, err := h.engine.Investigate(gctx, payload)
			results[i] = res
			return err
		})
	}
	require.NoError(t, g.Wait())

	for i, res := range results {
		require.NotNil(t, res, services[i])
		stored, err := h.store.ListFindings(ctx, res.Incident.IncidentID, "")
		require.NoError(t, err)
		assert.Len(t, stored, len(res.Findings), services[i])
		assert.Empty(t, findingsBySource(t, h.store, res.Incident.IncidentID, models.SourceError), services[i])
	}
}

func TestInvestigate_HistoryBoostsRecurringCause(t *testing.T) {
	h := newHarness(t, checkoutFixtures, Options{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		payload := checkoutPayload()
		payload.Timestamp = incidentTime.Add(-time.Duration(i+1) * time.Hour).Format(time.RFC3339)
		_, err := h.engine.Investigate(ctx, payload)
		require.NoError(t, err)
	}

	run, err := h.engine.Start(ctx, checkoutPayload())
	require.NoError(t, err)
	events := drain(t, run)
	res, err := run.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Insight.PastIncidentsCount)
	assert.Contains(t, res.Insight.Patterns, "Recurring root cause: "+synthesis.CauseUnhealthyPods)
	require.NotEmpty(t, res.RootCauses)
	top := res.RootCauses[0]
	assert.Equal(t, synthesis.CauseUnhealthyPods, top.Description)
	assert.InDelta(t, 0.95, top.Confidence, 1e-9)
	assert.Equal(t, "This has been a root cause in 3 previous incidents", top.HistoricalContext)

	insights := findingsBySource(t, h.store, res.Incident.IncidentID, models.SourceHistoricalInsight)
	require.NotEmpty(t, insights)
	assert.Equal(t, "Found 3 similar past incidents for checkout", insights[0].Description)

	var sawHistory bool
	for _, ev := range events {
		if strings.Contains(ev.Message, "Found 3 similar past incidents") {
			sawHistory = true
		}
	}
	assert.True(t, sawHistory)
	assert.Contains(t, res.Report, "This service has experienced **3** similar incidents in the past 30 days.")
}

func TestInvestigate_HistoryAddsSkippedDomain(t *testing.T) {
	fixtures := checkoutFixtures + `
metrics:
  detect_anomalies:
    result:
      - metric: error_rate
        actual_value: 0.4
        description: error rate 40x baseline
`
	h := newHarness(t, fixtures, Options{})
	ctx := context.Background()

	// An earlier incident without deployment vocabulary probes metrics.
	earlier := checkoutPayload()
	earlier.Description = "checkout errors"
	earlier.Timestamp = incidentTime.Add(-2 * time.Hour).Format(time.RFC3339)
	_, err := h.engine.Investigate(ctx, earlier)
	require.NoError(t, err)

	res, err := h.engine.Investigate(ctx, checkoutPayload())
	require.NoError(t, err)

	dec, ok := res.Plan.Decision(models.DomainMetrics)
	require.True(t, ok)
	assert.True(t, dec.Investigate)
	assert.True(t, dec.FromHistory)
	assert.NotEmpty(t, findingsBySource(t, h.store, res.Incident.IncidentID, models.SourceMetrics))
}

func TestInvestigate_CallerCancellationDetaches(t *testing.T) {
	fixtures := infraFixture + logsFixture + `
code:
  get_recent_commits:
    delay: 100ms
`
	h := newHarness(t, fixtures, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	run, err := h.engine.Start(ctx, checkoutPayload())
	require.NoError(t, err)
	cancel()

	_, err = run.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	res, err := run.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, investigation.StateCompleted, res.State)
	assert.NotEmpty(t, findingsBySource(t, h.store, res.Incident.IncidentID, models.SourceInfrastructure))
}

// panickingArtifacts breaks the summary write to exercise run failure.
type panickingArtifacts struct {
	artifact.Store
}

func (p panickingArtifacts) PutJSON(ctx context.Context, incidentID, artifactType, description string, v any) (*artifact.Artifact, error) {
	if artifactType == artifact.TypeSummary {
		panic("disk on fire")
	}
	return p.Store.PutJSON(ctx, incidentID, artifactType, description, v)
}

func TestInvestigate_PanicFailsRun(t *testing.T) {
	h := newHarness(t, checkoutFixtures, Options{})
	inner := h.engine.(*engine)
	inner.artifacts = panickingArtifacts{Store: inner.artifacts}
	ctx := context.Background()

	run, err := h.engine.Start(ctx, checkoutPayload())
	require.NoError(t, err)
	events := drain(t, run)

	_, err = run.Wait(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")

	last := events[len(events)-1]
	assert.Equal(t, EventFinalSummary, last.Type)
	assert.Contains(t, last.Message, "Investigation failed")

	sess, err := h.engine.Sessions().Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, investigation.StateFailed, sess.State)

	again, err := h.engine.Start(ctx, checkoutPayload())
	require.NoError(t, err, "a failed run releases the incident")
	_, err = again.Wait(ctx)
	assert.Error(t, err)
}
