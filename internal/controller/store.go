package controller

import (
	"sync"
	"time"

	"github.com/laylaymen/kriptobot-sub001/internal/bandit"
	"github.com/laylaymen/kriptobot-sub001/internal/feature"
	"github.com/laylaymen/kriptobot-sub001/internal/planner"
	"github.com/laylaymen/kriptobot-sub001/internal/policy"
)

// planHistoryLen bounds the rolling plan history kept per experiment
const planHistoryLen = 10

// experiment is the live state the controller owns for one experiment.
// The embedded mutex is the core mutual-exclusion guarantee: only one
// FSM cycle may be in flight per experiment at a time, and posterior
// mutations are serialized under the same lock.
type experiment struct {
	mu sync.Mutex

	pol     *policy.Policy
	algo    bandit.Algorithm
	encoder *feature.Encoder

	posteriors map[string]*bandit.Posterior
	pending    map[string][]bandit.Observation // variant -> unfolded observations

	current       *planner.Plan
	history       []*planner.Plan
	state         State
	cooldownUntil time.Time
}

// pushPlan makes plan the current plan and appends it to the history ring.
// Caller holds e.mu.
func (e *experiment) pushPlan(plan *planner.Plan) {
	e.current = plan
	e.history = append(e.history, plan)
	if len(e.history) > planHistoryLen {
		e.history = e.history[len(e.history)-planHistoryLen:]
	}
}

// store is the explicit, single-owner container for live experiment
// state, keyed by experiment id. Only the controller holds a reference.
type store struct {
	mu          sync.RWMutex
	experiments map[string]*experiment
}

func newStore() *store {
	return &store{
		experiments: make(map[string]*experiment),
	}
}

// get returns the experiment, or nil when unknown
func (s *store) get(id string) *experiment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.experiments[id]
}

// put registers or replaces an experiment
func (s *store) put(id string, e *experiment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.experiments[id] = e
}

// ids returns all registered experiment ids
func (s *store) ids() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.experiments))
	for id := range s.experiments {
		out = append(out, id)
	}
	return out
}

// size returns the number of registered experiments
func (s *store) size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.experiments)
}
