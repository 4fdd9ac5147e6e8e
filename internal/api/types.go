package api

import (
	"time"
)

// GuardTriggerRequest reports an external guardrail breach
type GuardTriggerRequest struct {
	ExperimentID string `json:"experimentId"`
	Signal       string `json:"signal"`   // slo | cost
	Severity     string `json:"severity"` // low | medium | high
	Reason       string `json:"reason"`
}

// GuardRecoverRequest reports a guardrail signal returning to healthy
type GuardRecoverRequest struct {
	ExperimentID string `json:"experimentId"`
	Signal       string `json:"signal"`
}

// FlagResponse is the currently enforced allocation for an experiment
type FlagResponse struct {
	ExperimentID string             `json:"experimentId"`
	Weights      map[string]float64 `json:"weights"`
}

// PlanInfo is the wire form of an enforced plan
type PlanInfo struct {
	ID             string             `json:"id"`
	ExperimentID   string             `json:"experimentId"`
	PolicyVersion  int                `json:"policyVersion"`
	Weights        map[string]float64 `json:"weights"`
	Basis          string             `json:"basis"`
	Tag            string             `json:"tag"`
	RampDelta      float64            `json:"rampDelta"`
	SafeExplorePct float64            `json:"safeExplorePct"`
	Reason         string             `json:"reason,omitempty"`
	EnforcedAt     time.Time          `json:"enforcedAt"`
	CooldownUntil  time.Time          `json:"cooldownUntil"`
}

// PlanResponse is the current plan plus recent history for an experiment
type PlanResponse struct {
	ExperimentID string     `json:"experimentId"`
	State        string     `json:"state"`
	Gate         string     `json:"gate"`
	Current      *PlanInfo  `json:"current,omitempty"`
	History      []PlanInfo `json:"history"`
}

// PolicySummary contains summary information about a policy
type PolicySummary struct {
	ID        string `json:"id"`
	Owner     string `json:"owner,omitempty"`
	Algorithm string `json:"algorithm"`
	Lifecycle string `json:"lifecycle"`
	Version   int    `json:"version"`
	Variants  int    `json:"variants"`
}

// PolicyListResponse represents the registered policies
type PolicyListResponse struct {
	Policies []PolicySummary `json:"policies"`
}

// ExposureResponse acknowledges a recorded exposure
type ExposureResponse struct {
	Accepted bool `json:"accepted"`
}

// OutcomeResponse acknowledges a recorded outcome
type OutcomeResponse struct {
	Accepted bool `json:"accepted"`
}

// AuditPlanRecord is the wire form of a persisted plan row
type AuditPlanRecord struct {
	ID            string             `json:"id"`
	ExperimentID  string             `json:"experimentId"`
	PolicyVersion int                `json:"policyVersion"`
	Basis         string             `json:"basis"`
	Tag           string             `json:"tag"`
	Weights       map[string]float64 `json:"weights"`
	RampDelta     float64            `json:"rampDelta"`
	Reason        string             `json:"reason,omitempty"`
	EnforcedAt    time.Time          `json:"enforcedAt"`
	CreatedAt     time.Time          `json:"createdAt"`
}

// AuditResponse represents audit query results
type AuditResponse struct {
	Records []AuditPlanRecord `json:"records"`
	Total   int               `json:"total"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse represents readiness check response
type ReadyResponse struct {
	Ready          bool     `json:"ready"`
	PoliciesLoaded int      `json:"policiesLoaded"`
	Reasons        []string `json:"reasons,omitempty"`
}

// ValidationErrorInfo is one itemized policy validation error
type ValidationErrorInfo struct {
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error  string                `json:"error"`
	Errors []ValidationErrorInfo `json:"errors,omitempty"`
}
