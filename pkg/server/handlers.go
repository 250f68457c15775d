package server

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/healthgraph/pkg/advisor"
	"github.com/openfroyo/healthgraph/pkg/engine"
	"github.com/openfroyo/healthgraph/pkg/present"
	"github.com/openfroyo/healthgraph/pkg/stores"
)

// ActorHeader names the caller recorded in the audit trail.
const ActorHeader = "X-Actor"

// AnalyzeResponse is the body of a successful analysis.
type AnalyzeResponse struct {
	RunID    string                       `json:"run_id"`
	Status   engine.RunStatus             `json:"status"`
	Report   *advisor.Report              `json:"report"`
	Message  string                       `json:"message"`
	Fallback bool                         `json:"fallback,omitempty"`
	Nodes    map[string]engine.NodeResult `json:"nodes,omitempty"`
	Duration string                       `json:"duration"`
}

// RunResponse is one recorded run.
type RunResponse struct {
	*stores.Run
	Report json.RawMessage   `json:"report,omitempty"`
	State  json.RawMessage   `json:"state,omitempty"`
	Nodes  []*stores.NodeRun `json:"nodes,omitempty"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	var req advisor.Request
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	runID := uuid.New().String()
	s.audit(r, "analysis.requested", runID, req)

	result, err := s.analyzer.AnalyzeWithID(r.Context(), runID, req)
	if err != nil {
		s.logger.Error().Err(err).Str("run_id", runID).Msg("Analysis failed")
		writeError(w, http.StatusInternalServerError, "analysis failed")
		return
	}

	resp := AnalyzeResponse{
		RunID:    runID,
		Status:   result.Report.Status,
		Report:   result.Report,
		Message:  present.ChatMessage(result.Report),
		Fallback: result.Fallback,
	}
	if result.Run != nil {
		resp.Nodes = result.Run.Nodes
		resp.Duration = result.Run.Duration.String()
	}

	w.Header().Set("X-Run-ID", runID)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "run history is disabled")
		return
	}

	q := r.URL.Query()
	filter := stores.RunFilter{Status: engine.RunStatus(q.Get("status"))}
	if filter.Status != "" {
		if err := filter.Status.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	var err error
	if filter.Limit, err = intParam(q.Get("limit"), stores.DefaultListLimit); err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset"), 0); err != nil {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}
	if since := q.Get("since"); since != "" {
		if filter.Since, err = time.Parse(time.RFC3339, since); err != nil {
			writeError(w, http.StatusBadRequest, "invalid since, want RFC3339")
			return
		}
	}

	runs, err := s.history.ListRuns(r.Context(), filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list runs")
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	out := make([]RunResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, newRunResponse(run, nil, false))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out, "count": len(out)})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "run history is disabled")
		return
	}

	id := r.PathValue("id")
	run, err := s.history.GetRun(r.Context(), id)
	if errors.Is(err, stores.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("run_id", id).Msg("Failed to load run")
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}

	nodes, err := s.history.ListNodeRuns(r.Context(), id)
	if err != nil {
		s.logger.Error().Err(err).Str("run_id", id).Msg("Failed to load node runs")
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}

	writeJSON(w, http.StatusOK, newRunResponse(run, nodes, true))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok", "timestamp": time.Now().Unix()}

	if s.history != nil {
		if err := s.history.HealthCheck(r.Context()); err != nil {
			resp["status"] = "unhealthy"
			resp["store"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp["store"] = "ok"
	}
	writeJSON(w, http.StatusOK, resp)
}

// audit records an API action. Failures are logged only.
func (s *Server) audit(r *http.Request, action, target string, details any) {
	if s.history == nil {
		return
	}

	entry := &stores.AuditEntry{
		Action:    action,
		Actor:     r.Header.Get(ActorHeader),
		TargetID:  &target,
		Timestamp: time.Now().UTC(),
	}
	if entry.Actor == "" {
		entry.Actor = "anonymous"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		entry.IPAddress = &host
	}
	if data, err := json.Marshal(details); err == nil {
		d := string(data)
		entry.Details = &d
	}

	if err := s.history.CreateAuditEntry(r.Context(), entry); err != nil {
		s.logger.Warn().Err(err).Str("action", action).Msg("Failed to record audit entry")
	}
}

func newRunResponse(run *stores.Run, nodes []*stores.NodeRun, withState bool) RunResponse {
	resp := RunResponse{Run: run, Nodes: nodes}
	if run.Report != nil && json.Valid([]byte(*run.Report)) {
		resp.Report = json.RawMessage(*run.Report)
	}
	if withState && json.Valid([]byte(run.State)) {
		resp.State = json.RawMessage(run.State)
	}
	return resp
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid integer")
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
