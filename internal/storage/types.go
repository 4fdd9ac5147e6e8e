package storage

import (
	"time"

	"github.com/laylaymen/kriptobot-sub001/internal/guardrail"
	"github.com/laylaymen/kriptobot-sub001/internal/planner"
	"github.com/laylaymen/kriptobot-sub001/internal/policy"
)

// AuditStorage defines the interface for persisting allocator history
type AuditStorage interface {
	// StorePolicy persists a policy version (upsert on experiment id)
	StorePolicy(pol *policy.Policy) error

	// StorePlan appends an enforced plan
	StorePlan(plan *planner.Plan) error

	// StoreGuardEvent appends a guardrail trigger or recovery
	StoreGuardEvent(entry guardrail.Entry) error

	// StoreAlert appends an alert
	StoreAlert(alert AlertRecord) error

	// QueryPlans retrieves enforced plans with optional filtering
	QueryPlans(filter PlanFilter) ([]PlanRecord, error)

	// LatestPlan retrieves the most recent plan for an experiment
	LatestPlan(experimentID string) (*PlanRecord, error)

	// Close closes the storage connection
	Close() error
}

// PlanFilter defines filtering options for plan queries
type PlanFilter struct {
	ExperimentID string
	Tag          string // normal | rollback
	Basis        string
	StartTime    *time.Time
	EndTime      *time.Time
	Limit        int
	Offset       int
}

// PlanRecord is a persisted plan row
type PlanRecord struct {
	ID             string
	ExperimentID   string
	PolicyVersion  int
	Basis          string
	Tag            string
	Weights        map[string]float64
	RampDelta      float64
	SafeExplorePct float64
	Reason         string
	EnforcedAt     time.Time
	CooldownUntil  time.Time
	CreatedAt      time.Time
}

// AlertRecord is a persisted alert
type AlertRecord struct {
	ID           string
	Level        string
	ExperimentID string
	Message      string
	Context      map[string]string
	CreatedAt    time.Time
}
