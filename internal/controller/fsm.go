package controller

import (
	"fmt"

	"github.com/laylaymen/kriptobot-sub001/internal/guardrail"
)

// State is the per-experiment FSM state
type State string

const (
	StateIdle     State = "IDLE"
	StateUpdate   State = "UPDATE"
	StatePlan     State = "PLAN"
	StateEnforce  State = "ENFORCE"
	StateCooldown State = "COOLDOWN"
	StateFreeze   State = "FREEZE"
	StateRollback State = "ROLLBACK"
)

// Event is an FSM input
type Event string

const (
	EventTick          Event = "tick"           // scheduled cycle begins
	EventUpdated       Event = "updated"        // posteriors folded
	EventPlanReady     Event = "plan_ready"     // candidate plan passed invariants
	EventPlanFailed    Event = "plan_failed"    // planning invariant violation
	EventGateFreeze    Event = "gate_freeze"    // guardrail classified FROZEN
	EventGateRollback  Event = "gate_rollback"  // guardrail classified ROLLBACK
	EventEnforced      Event = "enforced"       // sink accepted the plan
	EventEnforceFailed Event = "enforce_failed" // sink rejected or timed out
	EventCooldownDone  Event = "cooldown_done"  // cooldown window elapsed
	EventRecovered     Event = "recovered"      // guardrail breach cleared
	EventBreachHigh    Event = "breach_high"    // high-severity breach preempts
)

// transitions is the full transition table. Keeping it as data makes the
// cycle sequencing testable without timers or side effects.
var transitions = map[State]map[Event]State{
	StateIdle: {
		EventTick:       StateUpdate,
		EventBreachHigh: StateRollback,
	},
	StateUpdate: {
		EventUpdated: StatePlan,
	},
	StatePlan: {
		EventPlanReady:    StateEnforce,
		EventPlanFailed:   StateIdle,
		EventGateFreeze:   StateFreeze,
		EventGateRollback: StateRollback,
	},
	StateEnforce: {
		EventEnforced:      StateCooldown,
		EventEnforceFailed: StateIdle,
	},
	StateCooldown: {
		EventCooldownDone: StateIdle,
		EventBreachHigh:   StateRollback,
	},
	StateFreeze: {
		EventRecovered:  StateIdle,
		EventGateFreeze: StateFreeze, // still frozen; keep polling
		EventBreachHigh: StateRollback,
	},
	StateRollback: {
		EventEnforced:      StateCooldown,
		EventEnforceFailed: StateIdle,
	},
}

// Next returns the state following cur on ev, or an error for an input
// the current state does not accept.
func Next(cur State, ev Event) (State, error) {
	if next, ok := transitions[cur][ev]; ok {
		return next, nil
	}
	return cur, fmt.Errorf("invalid transition: %s on %s", cur, ev)
}

// gateEvent maps a guardrail classification to the FSM input consulted
// after planning.
func gateEvent(gate guardrail.State) Event {
	switch gate {
	case guardrail.StateFrozen:
		return EventGateFreeze
	case guardrail.StateRollback:
		return EventGateRollback
	default:
		return EventPlanReady
	}
}
