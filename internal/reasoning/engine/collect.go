package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/moosh3/ack-agent/internal/investigator"
	"github.com/moosh3/ack-agent/internal/metrics"
	"github.com/moosh3/ack-agent/internal/models"
	"github.com/moosh3/ack-agent/internal/reasoning/synthesis"
	"github.com/moosh3/ack-agent/pkg/contracts"
)

// domainCall runs the tasks of one domain in order. The first failed call
// fails the domain and turns every later call into a no-op.
type domainCall struct {
	e       *engine
	rs      *runState
	domain  models.Domain
	inv     investigator.Investigator
	outcome synthesis.DomainOutcome
	err     error
}

func newDomainCall(e *engine, rs *runState, d models.Domain, inv investigator.Investigator) *domainCall {
	return &domainCall{
		e:       e,
		rs:      rs,
		domain:  d,
		inv:     inv,
		outcome: synthesis.DomainOutcome{Outcome: synthesis.OutcomeCompleted},
	}
}

// call invokes task and decodes its result into out. It reports whether the
// domain is still healthy afterwards.
func (c *domainCall) call(ctx context.Context, task string, params any, out any) bool {
	if c.err != nil {
		return false
	}

	callCtx, cancel := context.WithTimeout(ctx, c.e.opts.DomainTimeout)
	defer cancel()

	start := time.Now()
	resp, err := c.invoke(callCtx, task, params)
	metrics.DomainCallDuration.WithLabelValues(string(c.domain)).Observe(time.Since(start).Seconds())

	status := string(contracts.StatusSuccess)
	switch {
	case err != nil:
		status = string(contracts.StatusError)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			status = "timeout"
			err = fmt.Errorf("no answer within %s: %w", c.e.opts.DomainTimeout, err)
		}
	case resp == nil:
		status = string(contracts.StatusError)
		err = errors.New("investigator returned no response")
	default:
		if verr := resp.Validate(); verr != nil {
			status = string(contracts.StatusError)
			err = verr
		} else if resp.Status == contracts.StatusError {
			status = string(contracts.StatusError)
			err = errors.New(resp.ErrorMessage)
		} else if resp.Status == contracts.StatusPartial {
			status = string(contracts.StatusPartial)
		}
	}
	metrics.DomainCallsTotal.WithLabelValues(string(c.domain), status).Inc()

	if resp != nil {
		c.e.storeTaskOutput(ctx, c.rs, c.domain, task, resp)
	}
	if err != nil {
		c.fail(ctx, task, err)
		return false
	}
	if resp.Status == contracts.StatusPartial {
		c.outcome.Outcome = synthesis.OutcomePartial
		c.outcome.Errors = append(c.outcome.Errors, task+": "+resp.ErrorMessage)
	}
	if out != nil {
		if err := resp.DecodeResult(out); err != nil {
			c.fail(ctx, task, err)
			return false
		}
	}
	return true
}

type invokeResult struct {
	resp *contracts.TaskResponse
	err  error
}

// invoke waits for the investigator or ctx, whichever ends first. An
// investigator that ignores ctx is left to finish on its own; its answer is
// dropped.
func (c *domainCall) invoke(ctx context.Context, task string, params any) (*contracts.TaskResponse, error) {
	done := make(chan invokeResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- invokeResult{err: fmt.Errorf("investigator panicked: %v", p)}
			}
		}()
		resp, err := c.inv.Invoke(ctx, task, params)
		done <- invokeResult{resp: resp, err: err}
	}()

	select {
	case r := <-done:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fail marks the domain failed and records one error finding.
func (c *domainCall) fail(ctx context.Context, task string, cause error) {
	if c.err != nil {
		return
	}
	err := &models.DomainInvocationError{Domain: c.domain, Task: task, Err: cause}
	c.err = err
	c.outcome.Outcome = synthesis.OutcomeFailed
	c.outcome.Errors = append(c.outcome.Errors, err.Error())
	c.e.addFinding(ctx, c.rs, models.SourceError, err.Error(), map[string]string{
		"domain": string(c.domain),
		"task":   task,
		"error":  cause.Error(),
	}, 0)
}

// guard runs fn, turning a panic inside an investigator into a domain failure.
func (c *domainCall) guard(ctx context.Context, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			c.fail(ctx, "", fmt.Errorf("investigator panicked: %v", p))
		}
	}()
	fn()
}

// ─── Collectors ───────────────────────────────────────────────────────────────

func collectInfrastructure(ctx context.Context, c *domainCall, inc *models.Incident, r *synthesis.InfraResult) {
	svc := inc.ServiceName

	var pods investigator.PodStatusResult
	if c.call(ctx, investigator.TaskCheckPodStatus, investigator.PodStatusParams{ServiceName: svc}, &pods) {
		r.HealthyPods, r.UnhealthyPods = pods.HealthyPods, pods.UnhealthyPods
	}
	c.call(ctx, investigator.TaskGetRecentEvents, investigator.EventsParams{ServiceName: svc}, &r.Events)

	var usage investigator.ResourceUsageResult
	if c.call(ctx, investigator.TaskCheckResourceUsage, investigator.ResourceUsageParams{ServiceName: svc, IncludeNodes: true}, &usage) {
		r.ResourceUsage = &usage
	}
	var deployment investigator.DeploymentInfo
	if c.call(ctx, investigator.TaskCheckDeploymentStatus, investigator.DeploymentStatusParams{ServiceName: svc}, &deployment) && deployment.Name != "" {
		r.Deployment = &deployment
	}
}

func collectLogs(ctx context.Context, c *domainCall, inc *models.Incident, r *synthesis.LogsResult) {
	svc, ref := inc.ServiceName, rfc3339(inc.OccurredAt)

	c.call(ctx, investigator.TaskSearchLogs, investigator.LogSearchParams{
		Query:         fmt.Sprintf("service=%s error", svc),
		TimeRange:     logsWindow,
		ReferenceTime: ref,
	}, &r.ErrorLogs)

	c.call(ctx, investigator.TaskExtractPatterns, investigator.PatternExtractionParams{
		Query:         fmt.Sprintf("service=%s exception", svc),
		TimeRange:     logsWindow,
		ReferenceTime: ref,
	}, &r.ExceptionPatterns)

	var volume investigator.LogVolumeSummary
	if c.call(ctx, investigator.TaskAnalyzeLogVolume, investigator.LogVolumeParams{
		Query:           fmt.Sprintf("service=%s", svc),
		TimeRange:       logVolumeWindow,
		ReferenceTime:   ref,
		DetectAnomalies: true,
	}, &volume) {
		r.Volume = &volume
	}
}

func collectCode(ctx context.Context, c *domainCall, inc *models.Incident, r *synthesis.CodeResult) {
	svc, ref := inc.ServiceName, rfc3339(inc.OccurredAt)

	c.call(ctx, investigator.TaskGetRecentCommits, investigator.CommitParams{Repo: svc, Since: codeSince, ReferenceTime: ref}, &r.Commits)
	c.call(ctx, investigator.TaskGetRecentDeployments, investigator.DeploymentParams{Service: svc, Since: codeSince, ReferenceTime: ref}, &r.Deployments)
	c.call(ctx, investigator.TaskIdentifyRiskyChanges, investigator.RiskyChangeParams{Repo: svc, Since: codeSince, ReferenceTime: ref}, &r.RiskyChanges)
}

func collectMetrics(ctx context.Context, c *domainCall, inc *models.Incident, r *synthesis.MetricsResult) {
	svc, ts := inc.ServiceName, inc.OccurredAt

	if !c.call(ctx, investigator.TaskGetRecommendedQueries, investigator.RecommendedQueriesParams{ServiceName: svc}, &r.Queries) {
		return
	}
	for i, q := range r.Queries {
		if i == maxMetricQueries {
			break
		}
		var qr investigator.QueryResult
		ok := c.call(ctx, investigator.TaskRunQuery, investigator.MetricQueryParams{
			QueryName: q.QueryName,
			Query:     q.Query,
			Start:     rfc3339(ts.Add(-30 * time.Minute)),
			End:       rfc3339(ts.Add(30 * time.Minute)),
			Step:      queryStep,
		}, &qr)
		if !ok {
			return
		}
		if qr.QueryName == "" {
			qr.QueryName = q.QueryName
		}
		if qr.Query == "" {
			qr.Query = q.Query
		}
		r.QueryResults = append(r.QueryResults, qr)
	}

	c.call(ctx, investigator.TaskDetectAnomalies, investigator.AnomalyDetectionParams{
		ServiceName: svc,
		Start:       rfc3339(ts.Add(-3 * time.Hour)),
		End:         rfc3339(ts.Add(time.Hour)),
	}, &r.Anomalies)

	c.call(ctx, investigator.TaskIdentifyBottlenecks, investigator.BottleneckParams{
		ServiceName: svc,
		Start:       rfc3339(ts.Add(-time.Hour)),
		End:         rfc3339(ts.Add(30 * time.Minute)),
	}, &r.Bottlenecks)
}
