package executor

import (
	"context"

	"github.com/agentgate/core/run"
)

// Engine schedules Driver.Accept calls onto a concrete execution backend
// (goroutines for local/dev, Temporal for durable production use), so the
// Phase Driver's own logic never has to know which backend is running
// it. Grounded on engine.Engine's RegisterWorkflow/StartWorkflow split,
// narrowed to AgentGate's single "workflow" (run a work order) since the
// core has no need for the teacher's multi-workflow registry.
type Engine interface {
	// Start schedules workOrder for execution and returns a Handle once
	// scheduling succeeds; it does not wait for the run to finish.
	Start(ctx context.Context, workOrder run.WorkOrder) (Handle, error)
}

// Handle lets a caller wait for or cancel a scheduled run.
type Handle interface {
	// Wait blocks until the run reaches a terminal state.
	Wait(ctx context.Context) (*run.Run, error)
	// Cancel requests cooperative cancellation, per spec.md §5's
	// cancellation semantics; it is a no-op once the run is terminal.
	Cancel(ctx context.Context) error
}
