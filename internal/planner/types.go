package planner

import "time"

// Plan tags
const (
	TagNormal   = "normal"
	TagRollback = "rollback"
)

// SumTolerance is the floating tolerance on the 100% weight-sum invariant
const SumTolerance = 0.01

// Plan is one enforceable traffic split. Plans are superseded, never
// mutated; every field is fixed at creation time.
type Plan struct {
	ID             string             `json:"id"`
	ExperimentID   string             `json:"experimentId"`
	PolicyVersion  int                `json:"policyVersion"`
	Weights        map[string]float64 `json:"weights"`
	Basis          string             `json:"basis"`
	SafeExplorePct float64            `json:"safeExplorePct"`
	RampDelta      float64            `json:"rampDelta"`
	EnforcedAt     time.Time          `json:"enforcedAt"`
	CooldownUntil  time.Time          `json:"cooldownUntil"`
	Tag            string             `json:"tag"`
	Reason         string             `json:"reason,omitempty"`
}

// InvariantViolation is a fatal planning error: the post-enforcement
// weights failed a constraint check and the plan must not be enforced.
type InvariantViolation struct {
	ExperimentID string
	Detail       string
}

// Error implements the error interface
func (e *InvariantViolation) Error() string {
	return "planning invariant violation for " + e.ExperimentID + ": " + e.Detail
}
