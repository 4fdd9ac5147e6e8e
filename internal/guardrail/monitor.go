package guardrail

import (
	"fmt"
	"sync"
	"time"
)

// State classifies an experiment's guardrail standing
type State string

const (
	StateHealthy  State = "HEALTHY"
	StateWarn     State = "WARN"
	StateFrozen   State = "FROZEN"
	StateRollback State = "ROLLBACK"
)

// Entry is one breach record keyed by (experiment, signal type)
type Entry struct {
	ExperimentID string     `json:"experimentId"`
	Signal       string     `json:"signal"`
	Severity     string     `json:"severity"`
	Action       Action     `json:"action"`
	Reason       string     `json:"reason,omitempty"`
	TriggeredAt  time.Time  `json:"triggeredAt"`
	ClearedAt    *time.Time `json:"clearedAt,omitempty"` // nil while active
}

// Active reports whether the breach has not been cleared
func (e *Entry) Active() bool {
	return e.ClearedAt == nil
}

// Monitor ingests breach and recovery signals and classifies experiments.
// A rollback-level breach is one-way per episode: recovery signals do not
// clear it; only a policy re-plan (version bump) does.
type Monitor struct {
	mu       sync.RWMutex
	severity SeverityMap
	entries  map[string]map[string]*Entry // experiment -> signal -> latest entry
	rolled   map[string]string            // experiment -> rollback reason for the open episode
}

// NewMonitor creates a monitor using the given severity mapping
func NewMonitor(severity SeverityMap) *Monitor {
	return &Monitor{
		severity: severity,
		entries:  make(map[string]map[string]*Entry),
		rolled:   make(map[string]string),
	}
}

// Trigger records a breach and returns the resulting entry.
// killOnBreach comes from the experiment's policy.
func (m *Monitor) Trigger(experimentID, signal, severity, reason string, killOnBreach bool, now time.Time) (*Entry, error) {
	if !KnownSignal(signal) {
		return nil, fmt.Errorf("unknown guardrail signal type %q", signal)
	}

	action := m.severity.ActionFor(severity, killOnBreach)

	entry := &Entry{
		ExperimentID: experimentID,
		Signal:       signal,
		Severity:     severity,
		Action:       action,
		Reason:       reason,
		TriggeredAt:  now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.entries[experimentID] == nil {
		m.entries[experimentID] = make(map[string]*Entry)
	}
	m.entries[experimentID][signal] = entry

	if action == ActionRollback {
		if _, open := m.rolled[experimentID]; !open {
			m.rolled[experimentID] = fmt.Sprintf("%s breach: %s severity: %s", signal, severity, reason)
		}
	}

	return entry, nil
}

// Recover clears the active breach of the matching signal type. Recovery
// of a non-matching type, or with no active breach, is a no-op.
func (m *Monitor) Recover(experimentID, signal string, now time.Time) bool {
	if !KnownSignal(signal) {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.entries[experimentID][signal]
	if entry == nil || !entry.Active() {
		return false
	}
	cleared := now
	entry.ClearedAt = &cleared
	return true
}

// Classify returns the experiment's current guardrail state, aggregating
// all active entries: ROLLBACK > FROZEN > WARN > HEALTHY.
func (m *Monitor) Classify(experimentID string) State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, open := m.rolled[experimentID]; open {
		return StateRollback
	}

	state := StateHealthy
	for _, entry := range m.entries[experimentID] {
		if !entry.Active() {
			continue
		}
		switch entry.Action {
		case ActionFreeze:
			state = StateFrozen
		case ActionWarn:
			if state != StateFrozen {
				state = StateWarn
			}
		}
	}
	return state
}

// RollbackReason returns the reason for the open rollback episode, if any
func (m *Monitor) RollbackReason(experimentID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reason, ok := m.rolled[experimentID]
	return reason, ok
}

// ClearEpisode closes a rollback episode. Called only from an authorized
// policy re-plan (version bump), never from a recovery signal.
func (m *Monitor) ClearEpisode(experimentID string, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.rolled, experimentID)
	for _, entry := range m.entries[experimentID] {
		if entry.Active() && entry.Action == ActionRollback {
			cleared := now
			entry.ClearedAt = &cleared
		}
	}
}

// Entries returns a snapshot of the experiment's breach entries
func (m *Monitor) Entries(experimentID string) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Entry
	for _, entry := range m.entries[experimentID] {
		out = append(out, *entry)
	}
	return out
}
