package guardrail

// Signal families the monitor accepts
const (
	SignalSLO  = "slo"
	SignalCost = "cost"
)

// Severity levels carried by guard.triggered events
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Action is what a breach of a given severity does to the experiment
type Action string

const (
	ActionWarn     Action = "WARN"
	ActionFreeze   Action = "FREEZE"
	ActionRollback Action = "ROLLBACK"
)

// SeverityMap is the explicit, versioned mapping from breach severity to
// action. Rollback correctness depends entirely on this table, so it is
// data, not scattered conditionals.
type SeverityMap struct {
	Version string
	Actions map[string]Action
}

// DefaultSeverityMap returns mapping v1: low warns, medium freezes,
// high rolls back.
func DefaultSeverityMap() SeverityMap {
	return SeverityMap{
		Version: "v1",
		Actions: map[string]Action{
			SeverityLow:    ActionWarn,
			SeverityMedium: ActionFreeze,
			SeverityHigh:   ActionRollback,
		},
	}
}

// ActionFor resolves the action for a breach severity. killOnBreach
// escalates a freeze-level breach to rollback. Unknown severities are
// treated as freeze-level: withholding enforcement is the safe default.
func (m SeverityMap) ActionFor(severity string, killOnBreach bool) Action {
	action, ok := m.Actions[severity]
	if !ok {
		action = ActionFreeze
	}
	if killOnBreach && action == ActionFreeze {
		action = ActionRollback
	}
	return action
}

// KnownSignal reports whether the signal type is a supported family
func KnownSignal(signal string) bool {
	return signal == SignalSLO || signal == SignalCost
}
