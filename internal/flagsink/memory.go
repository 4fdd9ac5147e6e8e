package flagsink

import (
	"context"
	"sync"

	"github.com/laylaymen/kriptobot-sub001/internal/planner"
)

// MemorySink records enforced plans in memory. It stands in for the
// external flag system in tests and local runs, and can be told to fail.
type MemorySink struct {
	mu      sync.Mutex
	plans   []*planner.Plan
	failErr error
}

// NewMemorySink creates an in-memory sink
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Enforce implements the Sink interface
func (s *MemorySink) Enforce(ctx context.Context, plan *planner.Plan) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	s.plans = append(s.plans, plan)
	return nil
}

// FailWith makes subsequent Enforce calls return err; nil restores success
func (s *MemorySink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

// Plans returns a copy of the enforced plans in order
func (s *MemorySink) Plans() []*planner.Plan {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*planner.Plan, len(s.plans))
	copy(out, s.plans)
	return out
}

// Last returns the most recently enforced plan, or nil
func (s *MemorySink) Last() *planner.Plan {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.plans) == 0 {
		return nil
	}
	return s.plans[len(s.plans)-1]
}
