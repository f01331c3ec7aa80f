package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/moosh3/ack-agent/internal/artifact"
	"github.com/moosh3/ack-agent/internal/db"
	"github.com/moosh3/ack-agent/internal/middleware"
	"github.com/moosh3/ack-agent/internal/models"
	"github.com/moosh3/ack-agent/internal/reasoning/engine"
	"github.com/moosh3/ack-agent/internal/reasoning/investigation"
	"github.com/moosh3/ack-agent/pkg/types"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// handleHealth reports liveness and database reachability
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := types.HealthResponse{
		Status:    "healthy",
		Database:  "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if err := s.store.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Database = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// ─── Incidents ────────────────────────────────────────────────────────────────

// handleCreateIncident starts an investigation. With ?wait=true it blocks
// until the run finishes and returns the full result.
func (s *Server) handleCreateIncident(w http.ResponseWriter, r *http.Request) {
	var req types.IncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, types.ErrCodeInvalidRequest, "invalid request body: "+err.Error(), nil)
		return
	}

	run, err := s.engine.Start(r.Context(), models.IncidentPayload{
		IncidentID:   req.IncidentID,
		ServiceName:  req.ServiceName,
		IncidentType: req.IncidentType,
		Severity:     req.Severity,
		Description:  req.Description,
		Timestamp:    req.Timestamp,
	})
	if err != nil {
		var verr *models.ValidationError
		switch {
		case errors.As(err, &verr):
			writeError(w, r, http.StatusBadRequest, types.ErrCodeValidationFailed, verr.Error(),
				map[string]string{"field": verr.Field})
		case errors.Is(err, engine.ErrRunInProgress):
			writeError(w, r, http.StatusConflict, types.ErrCodeConflict, err.Error(), nil)
		default:
			s.logger.Error("start investigation", zap.Error(err))
			writeError(w, r, http.StatusInternalServerError, types.ErrCodeInternalError, err.Error(), nil)
		}
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		ctx, cancel := context.WithTimeout(r.Context(), s.config.WaitTimeout)
		defer cancel()
		result, err := run.Wait(ctx)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, result)
			return
		case ctx.Err() == nil:
			writeError(w, r, http.StatusInternalServerError, types.ErrCodeInternalError, err.Error(),
				map[string]string{"run_id": run.ID})
			return
		}
		// Deadline passed: the run carries on in the background.
	}

	writeJSON(w, http.StatusAccepted, types.RunAccepted{
		RunID:      run.ID,
		IncidentID: run.Incident.IncidentID,
		State:      string(investigation.StateCreated),
		StatusURL:  "/api/v1/runs/" + run.ID,
		StreamURL:  "/api/v1/runs/" + run.ID + "/stream",
	})
}

// handleListIncidents lists incidents newest first, optionally by service.
func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"), defaultPageSize)
	if err != nil || limit <= 0 {
		writeError(w, r, http.StatusBadRequest, types.ErrCodeInvalidRequest, "limit must be a positive integer", nil)
		return
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset, err := queryInt(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		writeError(w, r, http.StatusBadRequest, types.ErrCodeInvalidRequest, "offset must be a non-negative integer", nil)
		return
	}

	recs, err := s.store.ListIncidents(r.Context(), q.Get("service"), limit, offset)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	out := types.IncidentList{Incidents: make([]types.Incident, 0, len(recs)), Limit: limit, Offset: offset}
	for _, rec := range recs {
		out.Incidents = append(out.Incidents, incidentView(rec))
	}
	out.Count = len(out.Incidents)
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetIncident(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, incidentView(rec))
}

// handleListFindings returns findings in insertion order; ?source filters.
func (s *Server) handleListFindings(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.incidentExists(w, r, id) {
		return
	}
	recs, err := s.store.ListFindings(r.Context(), id, r.URL.Query().Get("source"))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	out := types.FindingList{IncidentID: id, Findings: make([]types.Finding, 0, len(recs))}
	for _, rec := range recs {
		out.Findings = append(out.Findings, findingView(rec))
	}
	out.Count = len(out.Findings)
	writeJSON(w, http.StatusOK, out)
}

// handleListArtifacts lists artifact metadata; ?type filters.
func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.incidentExists(w, r, id) {
		return
	}
	list, err := s.artifacts.List(r.Context(), id, r.URL.Query().Get("type"))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	out := types.ArtifactList{IncidentID: id, Artifacts: make([]types.Artifact, 0, len(list))}
	for _, a := range list {
		out.Artifacts = append(out.Artifacts, artifactView(a))
	}
	out.Count = len(out.Artifacts)
	writeJSON(w, http.StatusOK, out)
}

// handleGetReport serves the markdown report of the latest run.
func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.incidentExists(w, r, id) {
		return
	}
	reports, err := s.artifacts.List(r.Context(), id, artifact.TypeReport)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	if len(reports) == 0 {
		writeError(w, r, http.StatusNotFound, types.ErrCodeNotFound, "no report for incident "+id, nil)
		return
	}
	a, err := s.artifacts.Get(r.Context(), reports[len(reports)-1].ID)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeContent(w, a)
}

// handleListRuns lists the in-memory runs of an incident.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.engine.Sessions().List(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, types.ErrCodeInternalError, err.Error(), nil)
		return
	}
	out := make([]types.RunStatus, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, runView(sess))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": out, "count": len(out)})
}

// ─── Artifacts ────────────────────────────────────────────────────────────────

// handleGetArtifact returns metadata, or the raw content with ?content=true.
// Reading an artifact never records a finding.
func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	a, err := s.artifacts.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	if raw, _ := strconv.ParseBool(r.URL.Query().Get("content")); raw {
		writeContent(w, a)
		return
	}
	writeJSON(w, http.StatusOK, artifactView(a))
}

// ─── Insights ─────────────────────────────────────────────────────────────────

func (s *Server) handleGetInsights(w http.ResponseWriter, r *http.Request) {
	lookback, err := queryInt(r.URL.Query().Get("lookback_days"), s.config.LookbackDays)
	if err != nil || lookback <= 0 {
		writeError(w, r, http.StatusBadRequest, types.ErrCodeInvalidRequest, "lookback_days must be a positive integer", nil)
		return
	}
	insight, err := s.miner.Insights(r.Context(), mux.Vars(r)["service"], r.URL.Query().Get("exclude"), lookback)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, insight)
}

// ─── Runs ─────────────────────────────────────────────────────────────────────

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	sess, err := s.engine.Sessions().Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, investigation.ErrSessionNotFound) {
			writeError(w, r, http.StatusNotFound, types.ErrCodeNotFound, err.Error(), nil)
			return
		}
		writeError(w, r, http.StatusInternalServerError, types.ErrCodeInternalError, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, runView(sess))
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

func (s *Server) incidentExists(w http.ResponseWriter, r *http.Request, id string) bool {
	if _, err := s.store.GetIncident(r.Context(), id); err != nil {
		s.storeError(w, r, err)
		return false
	}
	return true
}

func (s *Server) storeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, types.ErrCodeNotFound, err.Error(), nil)
		return
	}
	s.logger.Error("store error", zap.String("path", r.URL.Path), zap.Error(err))
	writeError(w, r, http.StatusInternalServerError, types.ErrCodeInternalError, err.Error(), nil)
}

func queryInt(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func incidentView(rec *db.IncidentRecord) types.Incident {
	return types.Incident{
		IncidentID:   rec.ID,
		ServiceName:  rec.ServiceName,
		IncidentType: rec.IncidentType,
		Severity:     rec.Severity,
		Description:  rec.Description,
		Timestamp:    rec.Timestamp.UTC().Format(time.RFC3339),
		CreatedAt:    rec.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func findingView(rec *db.FindingRecord) types.Finding {
	f := types.Finding{
		ID:          rec.ID,
		IncidentID:  rec.IncidentID,
		Source:      rec.Source,
		Description: rec.Description,
		Confidence:  rec.Confidence,
		Timestamp:   rec.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if rec.Evidence != "" {
		if json.Valid([]byte(rec.Evidence)) {
			f.Evidence = json.RawMessage(rec.Evidence)
		} else {
			f.Evidence = rec.Evidence
		}
	}
	return f
}

func artifactView(a *artifact.Artifact) types.Artifact {
	return types.Artifact{
		ID:          a.ID,
		IncidentID:  a.IncidentID,
		Type:        a.Type,
		Description: a.Description,
		FileName:    a.FileName,
		ContentType: a.ContentType,
		Size:        a.Size,
		CreatedAt:   a.CreatedAt,
		ContentURL:  fmt.Sprintf("/api/v1/artifacts/%s?content=true", a.ID),
	}
}

func runView(sess *investigation.Session) types.RunStatus {
	out := types.RunStatus{
		RunID:             sess.RunID,
		IncidentID:        sess.IncidentID,
		ServiceName:       sess.ServiceName,
		State:             string(sess.State),
		Domains:           make(map[string]types.DomainStatus, len(sess.Domains)),
		RootCauses:        sess.RootCauses,
		SummaryArtifactID: sess.SummaryArtifactID,
		ReportArtifactID:  sess.ReportArtifactID,
		Error:             sess.Error,
		StartedAt:         sess.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:         sess.UpdatedAt.UTC().Format(time.RFC3339),
	}
	for d, p := range sess.Domains {
		reason := p.Reason
		if reason == "" {
			reason = p.Error
		}
		out.Domains[string(d)] = types.DomainStatus{Status: string(p.Status), Reason: reason, Findings: p.Findings}
	}
	return out
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]string) {
	writeJSON(w, status, types.ErrorResponse{
		Error:     message,
		Code:      code,
		RequestID: middleware.RequestIDFrom(r.Context()),
		Details:   details,
	})
}

func writeContent(w http.ResponseWriter, a *artifact.Artifact) {
	ct := a.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", a.FileName))
	w.WriteHeader(http.StatusOK)
	w.Write(a.Content)
}
