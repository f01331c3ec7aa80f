package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/moosh3/ack-agent/internal/artifact"
	"github.com/moosh3/ack-agent/internal/audit"
	"github.com/moosh3/ack-agent/internal/cache"
	"github.com/moosh3/ack-agent/internal/db"
	"github.com/moosh3/ack-agent/internal/investigator"
	"github.com/moosh3/ack-agent/internal/metrics"
	"github.com/moosh3/ack-agent/internal/models"
	"github.com/moosh3/ack-agent/internal/reasoning/history"
	"github.com/moosh3/ack-agent/internal/reasoning/investigation"
	"github.com/moosh3/ack-agent/internal/reasoning/planner"
	"github.com/moosh3/ack-agent/internal/reasoning/report"
	"github.com/moosh3/ack-agent/internal/reasoning/synthesis"
	"github.com/moosh3/ack-agent/pkg/contracts"
)

// Options tunes the engine. Zero values take the defaults.
type Options struct {
	MaxParallelDomains int
	DomainTimeout      time.Duration
	LookbackDays       int
	DedupTTL           time.Duration
	// RunRetention is how long finished runs stay addressable by id.
	RunRetention time.Duration
	Synthesis    synthesis.Options
	Clock        clock.Clock
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		MaxParallelDomains: 4,
		DomainTimeout:      60 * time.Second,
		LookbackDays:       history.DefaultLookbackDays,
		DedupTTL:           time.Hour,
		RunRetention:       time.Hour,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxParallelDomains <= 0 {
		o.MaxParallelDomains = d.MaxParallelDomains
	}
	if o.DomainTimeout <= 0 {
		o.DomainTimeout = d.DomainTimeout
	}
	if o.LookbackDays <= 0 {
		o.LookbackDays = d.LookbackDays
	}
	if o.DedupTTL <= 0 {
		o.DedupTTL = d.DedupTTL
	}
	if o.RunRetention <= 0 {
		o.RunRetention = d.RunRetention
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	return o
}

// engine is the concrete Engine.
type engine struct {
	store     db.Store
	artifacts artifact.Store
	registry  *investigator.Registry
	miner     *history.Miner
	synth     *synthesis.Synthesizer
	sessions  investigation.Manager
	inflight  *cache.RunRegistry
	runs      *cache.Index[*Run]
	auditLog  audit.Logger
	logger    *zap.Logger
	clock     clock.Clock
	opts      Options
}

// New creates an Engine.
func New(store db.Store, artifacts artifact.Store, registry *investigator.Registry, auditLog audit.Logger, opts Options) (Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("finding store is required")
	}
	if artifacts == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("investigator registry is required")
	}
	if auditLog == nil {
		auditLog = audit.NewNopLogger(nil)
	}
	opts = opts.withDefaults()
	logger := auditLog.AppLogger().Named("engine")

	return &engine{
		store:     store,
		artifacts: artifacts,
		registry:  registry,
		miner:     history.NewMiner(store, opts.Clock, logger),
		synth:     synthesis.New(opts.Synthesis),
		sessions:  investigation.NewManager(auditLog, opts.Clock),
		inflight:  cache.NewRunRegistry(opts.DedupTTL),
		runs:      cache.NewIndex[*Run](opts.RunRetention),
		auditLog:  auditLog,
		logger:    logger,
		clock:     opts.Clock,
		opts:      opts,
	}, nil
}

// runState is the mutable bookkeeping of one executing run.
type runState struct {
	run      *Run
	incident *models.Incident
	started  time.Time

	mu       sync.Mutex
	findings []models.Finding
	evidence []*artifact.Artifact
}

func (rs *runState) snapshot() ([]models.Finding, []*artifact.Artifact) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]models.Finding(nil), rs.findings...), append([]*artifact.Artifact(nil), rs.evidence...)
}

// ─── Public interface ─────────────────────────────────────────────────────────

func (e *engine) Start(ctx context.Context, payload models.IncidentPayload) (*Run, error) {
	incident, err := payload.ToIncident(e.clock.Now())
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	ctx = audit.ContextWithRunID(ctx, runID)
	if holder, ok := e.inflight.Acquire(incident.IncidentID, runID); !ok {
		metrics.RunsTotal.WithLabelValues("duplicate").Inc()
		return nil, fmt.Errorf("%w %s (run %s)", ErrRunInProgress, incident.IncidentID, holder)
	}
	if _, err := e.sessions.Create(ctx, runID, incident); err != nil {
		e.inflight.Release(incident.IncidentID)
		return nil, fmt.Errorf("create run session: %w", err)
	}
	e.sessions.Prune(ctx, e.clock.Now().Add(-e.opts.RunRetention))

	run := newRun(runID, incident)
	e.runs.Put(runID, run)
	metrics.ActiveRuns.Inc()
	_ = e.auditLog.LogRunStarted(ctx, incident.IncidentID, incident.ServiceName)
	e.logger.Info("investigation started",
		zap.String("run_id", runID),
		zap.String("incident_id", incident.IncidentID),
		zap.String("service", incident.ServiceName))

	// Detach from the caller so the run survives a closed request.
	go e.execute(context.WithoutCancel(ctx), run)
	return run, nil
}

func (e *engine) Investigate(ctx context.Context, payload models.IncidentPayload) (*Result, error) {
	run, err := e.Start(ctx, payload)
	if err != nil {
		return nil, err
	}
	return run.Wait(ctx)
}

func (e *engine) Run(runID string) (*Run, bool) {
	return e.runs.Get(runID)
}

func (e *engine) Sessions() investigation.Manager {
	return e.sessions
}

// ─── Run lifecycle ────────────────────────────────────────────────────────────

func (e *engine) execute(ctx context.Context, run *Run) {
	rs := &runState{run: run, incident: run.Incident, started: e.clock.Now()}

	defer func() {
		p := recover()
		if p == nil {
			return
		}
		err := fmt.Errorf("investigation aborted: %v", p)
		e.logger.Error("run panicked",
			zap.String("run_id", run.ID),
			zap.Any("panic", p),
			zap.Stack("stack"))
		if ferr := e.sessions.Fail(ctx, run.ID, err); ferr != nil {
			e.logger.Warn("could not mark run failed", zap.String("run_id", run.ID), zap.Error(ferr))
		}
		metrics.RunsTotal.WithLabelValues("failed").Inc()
		e.emit(rs, EventFinalSummary, "", fmt.Sprintf("## Investigation failed\n\n%v\n", p))
		e.release(run)
		run.finish(nil, err)
	}()

	result := e.investigate(ctx, rs)
	e.release(run)
	run.finish(result, nil)
}

func (e *engine) release(run *Run) {
	e.inflight.Release(run.Incident.IncidentID)
	metrics.ActiveRuns.Dec()
}

func (e *engine) investigate(ctx context.Context, rs *runState) *Result {
	inc, runID := rs.incident, rs.run.ID

	e.progress(rs, "", fmt.Sprintf("Starting investigation of %s %s incident in %s",
		inc.Severity, inc.IncidentType, inc.ServiceName))
	e.ensureIncident(ctx, rs)

	// Step 1: history and plan
	e.progress(rs, "", "Checking for similar past incidents...")
	insight := e.insights(ctx, rs)
	if insight.PastIncidentsCount > 0 {
		e.progress(rs, "", report.HistoryText(insight))
		e.addFinding(ctx, rs, models.SourceHistoricalInsight,
			fmt.Sprintf("Found %d similar past incidents for %s", insight.PastIncidentsCount, inc.ServiceName),
			insight, 1.0)
	}

	e.progress(rs, "", "Assessing incident details to prioritize investigation domains...")
	plan := planner.Assess(inc)
	added, _ := plan.MergeHistory(insight)
	for _, d := range added {
		e.progress(rs, d, fmt.Sprintf("Adding %s investigation based on historical patterns", d))
	}
	plan.Freeze()
	e.progress(rs, "", plan.String())
	e.transition(ctx, rs, investigation.StateAssessed)

	for _, dec := range plan.Decisions() {
		if dec.Investigate {
			e.setDomain(ctx, rs, dec.Domain, investigation.DomainProgress{Status: investigation.DomainPending, Reason: dec.Reason})
			continue
		}
		e.setDomain(ctx, rs, dec.Domain, investigation.DomainProgress{Status: investigation.DomainSkipped, Reason: dec.Reason})
		metrics.DomainsSkipped.WithLabelValues(string(dec.Domain)).Inc()
		_ = e.auditLog.LogDomainSkipped(ctx, inc.IncidentID, string(dec.Domain), dec.Reason)
	}

	// Step 2: domains
	e.transition(ctx, rs, investigation.StateInvestigating)
	results := e.investigateDomains(ctx, rs, plan)

	// Step 3: synthesis barrier
	e.transition(ctx, rs, investigation.StateSynthesizing)
	e.progress(rs, "", "Synthesizing findings across all investigation domains...")
	syn := e.synth.Synthesize(results, insight)
	e.recordSynthesis(ctx, rs, syn)
	metrics.RootCausesIdentified.Observe(float64(len(syn.RootCauses)))

	// Step 4: report
	summary := report.NewSummary(runID, inc, plan, results, insight, syn, e.clock.Now())
	_, evidence := rs.snapshot()
	markdown := report.Markdown(summary, evidence)
	summaryID := e.storeArtifact(ctx, rs, artifact.TypeSummary,
		fmt.Sprintf("Investigation summary for %s", inc.ServiceName), summary, nil, "")
	reportID := e.storeArtifact(ctx, rs, artifact.TypeReport,
		fmt.Sprintf("Investigation report for %s", inc.ServiceName), nil, []byte(markdown), ".md")
	e.transition(ctx, rs, investigation.StateReported)
	if err := e.sessions.SetOutcome(ctx, runID, len(syn.RootCauses), summaryID, reportID); err != nil {
		e.logger.Warn("could not record run outcome", zap.String("run_id", runID), zap.Error(err))
	}

	correlations := make([]string, len(syn.Correlations))
	for i, c := range syn.Correlations {
		correlations[i] = c.Description
	}
	findings, _ := rs.snapshot()
	result := &Result{
		RunID:             runID,
		Incident:          inc,
		Plan:              plan,
		Insight:           insight,
		Results:           results,
		RootCauses:        syn.RootCauses,
		Recommendations:   syn.Recommendations,
		Correlations:      syn.Correlations,
		Findings:          findings,
		SummaryArtifactID: summaryID,
		ReportArtifactID:  reportID,
		Report:            markdown,
		FinalSummary:      report.FinalText(summary),
	}

	// Step 5: archive
	err := e.miner.Archive(ctx, &history.ArchivedRun{
		RunID:           runID,
		Incident:        inc,
		Plan:            plan.Map(),
		Results:         results,
		Findings:        findings,
		RootCauses:      syn.RootCauses,
		Recommendations: syn.Recommendations,
		Correlations:    correlations,
		CompletedAt:     e.clock.Now(),
	})
	if err != nil {
		e.persistenceFailed(ctx, rs, "archive_run", err)
	}
	e.progress(rs, "", "Investigation complete. Results archived for future investigations of this service.")

	e.transition(ctx, rs, investigation.StateCompleted)
	result.State = investigation.StateCompleted
	result.Duration = e.clock.Since(rs.started)

	metrics.RunsTotal.WithLabelValues("completed").Inc()
	metrics.RunDuration.WithLabelValues(inc.IncidentType).Observe(result.Duration.Seconds())
	_ = e.auditLog.LogRunCompleted(ctx, inc.IncidentID, len(syn.RootCauses), result.Duration)
	e.logger.Info("investigation completed",
		zap.String("run_id", runID),
		zap.String("incident_id", inc.IncidentID),
		zap.Int("root_causes", len(syn.RootCauses)),
		zap.Int("findings", len(findings)))

	e.emit(rs, EventFinalSummary, "", result.FinalSummary)
	return result
}

// investigateDomains runs the planned domains concurrently and waits for all
// of them.
func (e *engine) investigateDomains(ctx context.Context, rs *runState, plan *planner.Plan) *synthesis.Results {
	results := &synthesis.Results{}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(e.opts.MaxParallelDomains)
	for _, d := range plan.Domains() {
		g.Go(func() error {
			e.runDomain(ctx, rs, d, results, &mu)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *engine) runDomain(ctx context.Context, rs *runState, d models.Domain, results *synthesis.Results, mu *sync.Mutex) {
	start := time.Now()
	inc := rs.incident

	e.progress(rs, d, fmt.Sprintf("Starting %s investigation...", d))
	e.setDomain(ctx, rs, d, investigation.DomainProgress{Status: investigation.DomainRunning})

	inv, ok := e.registry.Get(d)
	c := newDomainCall(e, rs, d, inv)
	if !ok {
		c.fail(ctx, "", fmt.Errorf("no investigator registered for %s", d))
	}

	var drafts []draft
	var headline int
	switch d {
	case models.DomainInfrastructure:
		r := &synthesis.InfraResult{}
		c.guard(ctx, func() { collectInfrastructure(ctx, c, inc, r) })
		r.DomainOutcome = c.outcome
		drafts, headline = normalizeInfra(r), len(r.UnhealthyPods)
		mu.Lock()
		results.Infrastructure = r
		mu.Unlock()
	case models.DomainLogs:
		r := &synthesis.LogsResult{}
		c.guard(ctx, func() { collectLogs(ctx, c, inc, r) })
		r.DomainOutcome = c.outcome
		drafts, headline = normalizeLogs(r), len(r.ExceptionPatterns)
		mu.Lock()
		results.Logs = r
		mu.Unlock()
	case models.DomainCode:
		r := &synthesis.CodeResult{}
		c.guard(ctx, func() { collectCode(ctx, c, inc, r) })
		r.DomainOutcome = c.outcome
		drafts, headline = normalizeCode(r, inc.OccurredAt), len(r.RiskyChanges)
		mu.Lock()
		results.Code = r
		mu.Unlock()
	case models.DomainMetrics:
		r := &synthesis.MetricsResult{}
		c.guard(ctx, func() { collectMetrics(ctx, c, inc, r) })
		r.DomainOutcome = c.outcome
		drafts, headline = normalizeMetrics(r), len(r.Anomalies)
		mu.Lock()
		results.Metrics = r
		mu.Unlock()
	}

	for _, df := range drafts {
		e.addFinding(ctx, rs, models.SourceFor(d), df.description, df.evidence, df.confidence)
	}

	progress := investigation.DomainProgress{Findings: len(drafts), Error: strings.Join(c.outcome.Errors, "; ")}
	duration := time.Since(start)
	switch c.outcome.Outcome {
	case synthesis.OutcomeFailed:
		progress.Status = investigation.DomainFailed
		_ = e.auditLog.LogDomainFailed(ctx, inc.IncidentID, string(d), c.err, duration)
		e.progress(rs, d, fmt.Sprintf("%s investigation failed: %v", d.Title(), c.err))
	case synthesis.OutcomePartial:
		progress.Status = investigation.DomainPartial
		_ = e.auditLog.LogDomainCompleted(ctx, inc.IncidentID, string(d), audit.ResultPartial, len(drafts), duration)
		e.progress(rs, d, completionMessage(d, headline)+" Some tasks returned partial results.")
	default:
		progress.Status = investigation.DomainCompleted
		_ = e.auditLog.LogDomainCompleted(ctx, inc.IncidentID, string(d), audit.ResultSuccess, len(drafts), duration)
		e.progress(rs, d, completionMessage(d, headline))
	}
	e.setDomain(ctx, rs, d, progress)
}

// ─── Persistence ──────────────────────────────────────────────────────────────

func (e *engine) ensureIncident(ctx context.Context, rs *runState) {
	inc := rs.incident
	created, err := e.store.CreateIncident(ctx, &db.IncidentRecord{
		ID:           inc.IncidentID,
		ServiceName:  inc.ServiceName,
		IncidentType: inc.IncidentType,
		Severity:     inc.Severity,
		Description:  inc.Description,
		Timestamp:    inc.OccurredAt,
		CreatedAt:    inc.CreatedAt,
	})
	if err != nil {
		e.persistenceFailed(ctx, rs, "create_incident", err)
		return
	}
	if !created {
		e.logger.Info("incident already recorded, reusing it", zap.String("incident_id", inc.IncidentID))
	}
}

func (e *engine) insights(ctx context.Context, rs *runState) *models.HistoricalInsight {
	inc := rs.incident
	insight, err := e.miner.Insights(ctx, inc.ServiceName, inc.IncidentID, e.opts.LookbackDays)
	if err != nil {
		e.logger.Warn("historical insight unavailable",
			zap.String("incident_id", inc.IncidentID),
			zap.Error(err))
		return models.EmptyInsight(inc.ServiceName, e.opts.LookbackDays)
	}
	return insight
}

func (e *engine) recordSynthesis(ctx context.Context, rs *runState, syn *synthesis.Synthesis) {
	for _, rc := range syn.RootCauses {
		source := models.SourceRootCause
		if rc.Domain == synthesis.DomainHistorical {
			source = models.SourceHistoricalInsight
		}
		e.addFinding(ctx, rs, source, rc.Description, rc, rc.Confidence)
	}
	for _, c := range syn.Correlations {
		e.addFinding(ctx, rs, models.SourceCorrelation, c.Description, c.Evidence, c.Confidence)
	}
}

// storeTaskOutput keeps a raw investigator response as evidence.
func (e *engine) storeTaskOutput(ctx context.Context, rs *runState, d models.Domain, task string, resp *contracts.TaskResponse) {
	desc := fmt.Sprintf("%s output for %s", task, rs.incident.ServiceName)
	e.storeArtifact(ctx, rs, string(d), desc, resp, nil, "")
}

// storeArtifact writes v as JSON, or raw with ext when raw is set, and
// records an artifact finding. Domain evidence is remembered for the report.
// It returns the artifact id, empty when the write failed.
func (e *engine) storeArtifact(ctx context.Context, rs *runState, artifactType, desc string, v any, raw []byte, ext string) string {
	var (
		a   *artifact.Artifact
		err error
	)
	if raw != nil {
		a, err = e.artifacts.Put(ctx, rs.incident.IncidentID, artifactType, desc, raw, ext)
	} else {
		a, err = e.artifacts.PutJSON(ctx, rs.incident.IncidentID, artifactType, desc, v)
	}
	if err != nil {
		e.persistenceFailed(ctx, rs, "store_artifact", err)
		return ""
	}
	if artifactType != artifact.TypeSummary && artifactType != artifact.TypeReport {
		rs.mu.Lock()
		rs.evidence = append(rs.evidence, a)
		rs.mu.Unlock()
	}
	e.addFinding(ctx, rs, models.SourceArtifact, "Stored artifact: "+desc, map[string]string{
		"artifact_id": a.ID,
		"file_name":   a.FileName,
		"type":        a.Type,
	}, 1.0)
	return a.ID
}

// addFinding appends a finding to the store and to the run. A failed write is
// logged and the finding is still kept in memory.
func (e *engine) addFinding(ctx context.Context, rs *runState, source models.Source, desc string, evidence any, confidence float64) models.Finding {
	now := e.clock.Now().UTC()
	f := models.Finding{
		FindingID:   newFindingID(rs.incident.IncidentID, source, now),
		IncidentID:  rs.incident.IncidentID,
		Source:      source,
		Description: desc,
		Evidence:    encodeEvidence(evidence),
		Confidence:  confidence,
		CreatedAt:   now,
	}
	err := e.store.AppendFinding(ctx, &db.FindingRecord{
		ID:          f.FindingID,
		IncidentID:  f.IncidentID,
		Source:      string(f.Source),
		Description: f.Description,
		Evidence:    string(f.Evidence),
		Confidence:  f.Confidence,
		Timestamp:   f.CreatedAt,
	})
	if err != nil {
		e.persistenceFailed(ctx, rs, "append_finding", err)
	}
	metrics.FindingsTotal.WithLabelValues(string(source)).Inc()

	rs.mu.Lock()
	rs.findings = append(rs.findings, f)
	rs.mu.Unlock()
	return f
}

func (e *engine) persistenceFailed(ctx context.Context, rs *runState, op string, err error) {
	perr := &models.PersistenceError{Op: op, Err: err}
	metrics.PersistenceErrors.WithLabelValues(op).Inc()
	e.logger.Warn("persistence failed, continuing in memory",
		zap.String("run_id", rs.run.ID),
		zap.String("op", op),
		zap.Error(perr))
	_ = e.auditLog.LogPersistenceFailed(ctx, rs.incident.IncidentID, op, perr)
}

// newFindingID builds <incident>_<source>_<unix-nanos>_<8 hex>.
func newFindingID(incidentID string, source models.Source, at time.Time) string {
	return fmt.Sprintf("%s_%s_%d_%s", incidentID, source, at.UnixNano(), uuid.NewString()[:8])
}

func encodeEvidence(v any) json.RawMessage {
	switch ev := v.(type) {
	case nil:
		return nil
	case json.RawMessage:
		return ev
	}
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(map[string]string{"unencodable": err.Error()})
	}
	return data
}

// ─── Session and stream helpers ───────────────────────────────────────────────

func (e *engine) transition(ctx context.Context, rs *runState, to investigation.RunState) {
	if err := e.sessions.Transition(ctx, rs.run.ID, to); err != nil {
		e.logger.Error("run state change rejected", zap.String("run_id", rs.run.ID), zap.Error(err))
	}
}

func (e *engine) setDomain(ctx context.Context, rs *runState, d models.Domain, p investigation.DomainProgress) {
	if err := e.sessions.SetDomain(ctx, rs.run.ID, d, p); err != nil {
		e.logger.Warn("domain progress rejected", zap.String("run_id", rs.run.ID), zap.Error(err))
	}
}

func (e *engine) progress(rs *runState, d models.Domain, message string) {
	e.emit(rs, EventProgress, d, message)
}

func (e *engine) emit(rs *runState, eventType string, d models.Domain, message string) {
	rs.run.emit(Event{
		Type:       eventType,
		Message:    message,
		RunID:      rs.run.ID,
		IncidentID: rs.incident.IncidentID,
		Domain:     d,
		Timestamp:  e.clock.Now().UTC(),
	})
}
