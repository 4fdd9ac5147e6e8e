package flagsink

import (
	"context"

	"github.com/laylaymen/kriptobot-sub001/internal/planner"
)

// Sink delivers enforceable plans to the external flag-serving system.
// Enforce covers both normal and rollback plans; the plan's Tag tells
// the receiver which request family it is.
type Sink interface {
	Enforce(ctx context.Context, plan *planner.Plan) error
}
