package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/laylaymen/kriptobot-sub001/internal/bandit"
	"github.com/laylaymen/kriptobot-sub001/internal/controller"
	"github.com/laylaymen/kriptobot-sub001/internal/metrics"
	"github.com/laylaymen/kriptobot-sub001/internal/planner"
	"github.com/laylaymen/kriptobot-sub001/internal/policy"
	"github.com/laylaymen/kriptobot-sub001/internal/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// roleHeader carries the caller's role for policy mutations
const roleHeader = "X-Bandit-Role"

// maxBodyBytes bounds request bodies
const maxBodyBytes = 1 << 20

// Server is the HTTP API server
type Server struct {
	controller *controller.Controller
	audit      storage.AuditStorage
	server     *http.Server
}

// NewServer creates a new API server
func NewServer(ctrl *controller.Controller, audit storage.AuditStorage, m *metrics.Metrics, addr string) *Server {
	s := &Server{
		controller: ctrl,
		audit:      audit,
	}

	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)

	// Policy endpoints
	mux.HandleFunc("/v1/policy", s.handlePolicy)
	mux.HandleFunc("/v1/policy/", s.handlePolicyUpdate)

	// Event ingestion endpoints
	mux.HandleFunc("/v1/exposure", s.handleExposure)
	mux.HandleFunc("/v1/outcome", s.handleOutcome)

	// Guardrail endpoints
	mux.HandleFunc("/v1/guard/trigger", s.handleGuardTrigger)
	mux.HandleFunc("/v1/guard/recover", s.handleGuardRecover)

	// Read endpoints
	mux.HandleFunc("/v1/flag/", s.handleFlag)
	mux.HandleFunc("/v1/plan/", s.handlePlan)
	mux.HandleFunc("/v1/audit", s.handleAudit)

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))

	s.server = &http.Server{
		Addr:         addr,
		Handler:      loggingMiddleware(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Printf("Starting API server on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down API server...")
	return s.server.Shutdown(ctx)
}

// Handler exposes the configured handler for tests
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// handleHealth handles GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	respondJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// handleReady handles GET /readyz
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	count := s.controller.ExperimentCount()
	ready := count > 0
	reasons := []string{}
	if count == 0 {
		reasons = append(reasons, "no policies loaded")
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}

	respondJSON(w, status, ReadyResponse{
		Ready:          ready,
		PoliciesLoaded: count,
		Reasons:        reasons,
	})
}

// handlePolicy handles GET /v1/policy (list) and POST /v1/policy (define)
func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listPolicies(w)
	case http.MethodPost:
		s.definePolicy(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) listPolicies(w http.ResponseWriter) {
	ids := s.controller.ExperimentIDs()

	summaries := make([]PolicySummary, 0, len(ids))
	for _, id := range ids {
		snap, ok := s.controller.SnapshotOf(id)
		if !ok {
			continue
		}
		summaries = append(summaries, PolicySummary{
			ID:        snap.Policy.Metadata.ID,
			Owner:     snap.Policy.Metadata.Owner,
			Algorithm: snap.Policy.Spec.Algorithm,
			Lifecycle: snap.Policy.Spec.Lifecycle,
			Version:   snap.Policy.Spec.Version,
			Variants:  len(snap.Policy.Spec.Variants),
		})
	}

	respondJSON(w, http.StatusOK, PolicyListResponse{Policies: summaries})
}

func (s *Server) definePolicy(w http.ResponseWriter, r *http.Request) {
	pol, ok := s.readPolicyBody(w, r)
	if !ok {
		return
	}

	ack, err := s.controller.DefinePolicy(pol, r.Header.Get(roleHeader), time.Now())
	if err != nil {
		s.respondControllerError(w, err)
		return
	}

	status := http.StatusCreated
	if ack.Duplicate {
		status = http.StatusOK
	}
	respondJSON(w, status, ack)
}

// handlePolicyUpdate handles PATCH /v1/policy/{id}
func (s *Server) handlePolicyUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPatch {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/policy/")
	if id == "" {
		respondError(w, http.StatusBadRequest, "experiment ID required")
		return
	}

	pol, ok := s.readPolicyBody(w, r)
	if !ok {
		return
	}
	if pol.Metadata.ID != id {
		respondError(w, http.StatusBadRequest,
			fmt.Sprintf("document ID %q does not match path ID %q", pol.Metadata.ID, id))
		return
	}

	ack, err := s.controller.UpdatePolicy(pol, r.Header.Get(roleHeader), time.Now())
	if err != nil {
		s.respondControllerError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, ack)
}

// handleExposure handles POST /v1/exposure
func (s *Server) handleExposure(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var exp bandit.Exposure
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&exp); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if exp.ExperimentID == "" || exp.Variant == "" {
		respondError(w, http.StatusBadRequest, "experimentId and variant required")
		return
	}

	if _, err := s.controller.RecordExposure(exp); err != nil {
		s.respondControllerError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, ExposureResponse{Accepted: true})
}

// handleOutcome handles POST /v1/outcome
func (s *Server) handleOutcome(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var out bandit.Outcome
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&out); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if out.ExperimentID == "" || out.Variant == "" {
		respondError(w, http.StatusBadRequest, "experimentId and variant required")
		return
	}

	if err := s.controller.RecordOutcome(out); err != nil {
		s.respondControllerError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, OutcomeResponse{Accepted: true})
}

// handleGuardTrigger handles POST /v1/guard/trigger
func (s *Server) handleGuardTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req GuardTriggerRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if req.ExperimentID == "" || req.Signal == "" || req.Severity == "" {
		respondError(w, http.StatusBadRequest, "experimentId, signal, and severity required")
		return
	}

	err := s.controller.TriggerGuard(r.Context(), req.ExperimentID, req.Signal, req.Severity, req.Reason, time.Now())
	if err != nil {
		s.respondControllerError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

// handleGuardRecover handles POST /v1/guard/recover
func (s *Server) handleGuardRecover(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req GuardRecoverRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if req.ExperimentID == "" || req.Signal == "" {
		respondError(w, http.StatusBadRequest, "experimentId and signal required")
		return
	}

	if err := s.controller.RecoverGuard(req.ExperimentID, req.Signal, time.Now()); err != nil {
		s.respondControllerError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

// handleFlag handles GET /v1/flag/{id}
func (s *Server) handleFlag(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/flag/")
	if id == "" {
		respondError(w, http.StatusBadRequest, "experiment ID required")
		return
	}

	weights, err := s.controller.EvaluateFlag(id)
	switch {
	case errors.Is(err, controller.ErrNotFound):
		respondError(w, http.StatusNotFound, fmt.Sprintf("experiment not bandit-controlled: %s", id))
		return
	case errors.Is(err, controller.ErrNoPlan):
		respondError(w, http.StatusNotFound, fmt.Sprintf("no enforced plan yet for experiment: %s", id))
		return
	case err != nil:
		s.respondControllerError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, FlagResponse{ExperimentID: id, Weights: weights})
}

// handlePlan handles GET /v1/plan/{id}
func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/plan/")
	if id == "" {
		respondError(w, http.StatusBadRequest, "experiment ID required")
		return
	}

	snap, ok := s.controller.SnapshotOf(id)
	if !ok {
		respondError(w, http.StatusNotFound, fmt.Sprintf("experiment not found: %s", id))
		return
	}

	resp := PlanResponse{
		ExperimentID: id,
		State:        string(snap.State),
		Gate:         string(snap.Gate),
		History:      make([]PlanInfo, 0, len(snap.History)),
	}
	if snap.Current != nil {
		info := planInfo(snap.Current)
		resp.Current = &info
	}
	for _, plan := range snap.History {
		resp.History = append(resp.History, planInfo(plan))
	}

	respondJSON(w, http.StatusOK, resp)
}

// handleAudit handles GET /v1/audit
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.audit == nil {
		respondError(w, http.StatusServiceUnavailable, "audit storage not configured")
		return
	}

	query := r.URL.Query()
	filter := storage.PlanFilter{
		ExperimentID: query.Get("experimentId"),
		Tag:          query.Get("tag"),
		Basis:        query.Get("basis"),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}
	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}
	if startStr := query.Get("startTime"); startStr != "" {
		if start, err := time.Parse(time.RFC3339, startStr); err == nil {
			filter.StartTime = &start
		}
	}
	if endStr := query.Get("endTime"); endStr != "" {
		if end, err := time.Parse(time.RFC3339, endStr); err == nil {
			filter.EndTime = &end
		}
	}

	records, err := s.audit.QueryPlans(filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to query audit: %v", err))
		return
	}

	responseRecords := make([]AuditPlanRecord, len(records))
	for i, record := range records {
		responseRecords[i] = AuditPlanRecord{
			ID:            record.ID,
			ExperimentID:  record.ExperimentID,
			PolicyVersion: record.PolicyVersion,
			Basis:         record.Basis,
			Tag:           record.Tag,
			Weights:       record.Weights,
			RampDelta:     record.RampDelta,
			Reason:        record.Reason,
			EnforcedAt:    record.EnforcedAt,
			CreatedAt:     record.CreatedAt,
		}
	}

	respondJSON(w, http.StatusOK, AuditResponse{
		Records: responseRecords,
		Total:   len(responseRecords),
	})
}

// readPolicyBody parses a policy document from the request body.
// YAML is a superset of JSON, so both content types are accepted.
func (s *Server) readPolicyBody(w http.ResponseWriter, r *http.Request) (*policy.Policy, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("failed to read body: %v", err))
		return nil, false
	}

	pol, err := policy.Parse(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid policy document: %v", err))
		return nil, false
	}
	return pol, true
}

// respondControllerError maps controller error types to HTTP statuses
func (s *Server) respondControllerError(w http.ResponseWriter, err error) {
	var authErr *controller.AuthorizationError
	if errors.As(err, &authErr) {
		respondError(w, http.StatusForbidden, authErr.Error())
		return
	}

	var vf *controller.ValidationFailure
	if errors.As(err, &vf) {
		resp := ErrorResponse{Error: vf.Error()}
		for _, ve := range vf.Errors {
			resp.Errors = append(resp.Errors, ValidationErrorInfo{Path: ve.Path, Message: ve.Message})
		}
		respondJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	if errors.Is(err, controller.ErrNotFound) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	if errors.Is(err, controller.ErrAlreadyDefined) {
		respondError(w, http.StatusConflict, err.Error())
		return
	}

	respondError(w, http.StatusInternalServerError, err.Error())
}

// Helper functions

func planInfo(plan *planner.Plan) PlanInfo {
	return PlanInfo{
		ID:             plan.ID,
		ExperimentID:   plan.ExperimentID,
		PolicyVersion:  plan.PolicyVersion,
		Weights:        plan.Weights,
		Basis:          plan.Basis,
		Tag:            plan.Tag,
		RampDelta:      plan.RampDelta,
		SafeExplorePct: plan.SafeExplorePct,
		Reason:         plan.Reason,
		EnforcedAt:     plan.EnforcedAt,
		CooldownUntil:  plan.CooldownUntil,
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}
