package executor

import (
	"context"
	"time"

	"github.com/agentgate/core/agenterr"
	"github.com/agentgate/core/event"
	"github.com/agentgate/core/fsm"
	"github.com/agentgate/core/loopstrategy"
	"github.com/agentgate/core/retry"
	"github.com/agentgate/core/run"
	"github.com/agentgate/core/runstore"
	"github.com/agentgate/core/telemetry"
)

// EventPublisher is the subset of eventbus.Bus the driver needs.
type EventPublisher interface {
	Publish(evt event.Event)
}

// Releaser is the subset of queue.Queue the driver needs to free the
// run's concurrency slot once it reaches a terminal state.
type Releaser interface {
	Release(runID string)
}

// Config tunes defaults that are not carried on every WorkOrder.
type Config struct {
	DefaultMaxIterations int
	AgentTimeout         time.Duration
	GracePeriod          time.Duration
	LoopMode             loopstrategy.Mode
	LoopConfig           loopstrategy.Config
	WantsPR              func(run.WorkOrder) bool
	CIEnabled            func(run.WorkOrder) bool
}

// Driver is the Run Executor / Phase Driver (C8): one instance is shared
// across runs; Accept spawns the per-run phase loop. Collaborators are
// all optional except Store, Agent, Snapshotter and Verifier. Store is
// used from the first step of Accept and must be set; a Driver missing
// Agent, Snapshotter or Verifier fails the phase that needs it with
// agenterr.KindSystem rather than panicking. An unset
// LoopConfig.MaxIterations defaults to the run's MaxIterations.
type Driver struct {
	Store       runstore.Store
	Bus         EventPublisher
	Retry       retry.Policy
	Agent       AgentDriver
	Verifier    Verifier
	Snapshotter Snapshotter
	Workspace   WorkspaceProvisioner
	Feedback    FeedbackGenerator
	CI          CIMonitor
	PR          PRCreator
	Persist     ResultPersister
	Queue       Releaser

	Logger  telemetry.Logger
	Metrics telemetry.Metrics
	Tracer  telemetry.Tracer

	Cfg Config
}

// runState is the mutable per-run working set threaded through phase
// handlers, mirroring workflowLoop's st *runLoopState field.
type runState struct {
	order       run.WorkOrder
	workspace   Workspace
	beforeState string
	snapshot    run.SnapshotDescriptor
	report      run.VerificationReport
	agentResult *run.AgentResult
	feedback    string
	sessionID   string
	iterations  []run.Iteration
	iterStart   time.Time
	strategy    loopstrategy.Strategy
	loopCtx     loopstrategy.LoopContext
}

// Accept runs a work order to completion: creates the Run record,
// acquires a workspace, and drives it through the state machine one
// phase at a time until a terminal state is reached, persisting every
// transition. It blocks until the run is terminal or ctx is cancelled.
func (d *Driver) Accept(ctx context.Context, order run.WorkOrder) (*run.Run, error) {
	maxIter := order.MaxIterations
	if maxIter <= 0 {
		maxIter = d.Cfg.DefaultMaxIterations
	}
	if maxIter <= 0 {
		maxIter = 1
	}

	r := &run.Run{
		ID:            order.ID,
		WorkOrderID:   order.ID,
		State:         fsm.Queued,
		MaxIterations: maxIter,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	if err := d.Store.Create(ctx, r); err != nil {
		return nil, agenterr.Wrap(agenterr.KindSystem, "executor: create run record", err)
	}

	loopMode := d.Cfg.LoopMode
	if loopMode == "" {
		loopMode = loopstrategy.ModeFixed
	}
	loopCfg := d.Cfg.LoopConfig
	if loopCfg.MaxIterations <= 0 {
		loopCfg.MaxIterations = maxIter
	}
	st := &runState{
		order:    order,
		strategy: loopstrategy.New(loopMode, loopCfg),
	}
	st.strategy.OnLoopStart(loopstrategy.LoopContext{RunID: r.ID})

	ws, err := d.provisionWorkspace(ctx, order)
	if err != nil {
		r, _ = d.transition(ctx, r.ID, fsm.EventSystemError, errMeta(err))
		return d.finalize(ctx, r, st)
	}
	st.workspace = ws

	r, err = d.transition(ctx, r.ID, fsm.EventWorkspaceAcquired, nil)
	if err != nil {
		return d.finalize(ctx, r, st)
	}

	for !r.Terminal() {
		if err := ctx.Err(); err != nil {
			r, _ = d.transition(ctx, r.ID, fsm.EventUserCanceled, nil)
			break
		}

		next, phaseErr := d.runPhase(ctx, r, st)
		if phaseErr != nil && next == nil {
			r, _ = d.transition(ctx, r.ID, fsm.EventSystemError, errMeta(phaseErr))
			break
		}
		r = next
	}

	if d.Workspace != nil {
		_ = d.Workspace.Release(ctx, st.workspace)
	}
	return d.finalize(ctx, r, st)
}

func (d *Driver) provisionWorkspace(ctx context.Context, order run.WorkOrder) (Workspace, error) {
	if d.Workspace == nil {
		return Workspace{ID: order.ID}, nil
	}
	return d.Workspace.Provision(ctx, WorkspaceSpec{RunID: order.ID, Source: order.WorkspaceSource})
}

// runPhase dispatches on r.State per spec.md §4.7 and returns the run
// after applying whichever transition the phase decided on.
func (d *Driver) runPhase(ctx context.Context, r *run.Run, st *runState) (*run.Run, error) {
	switch r.State {
	case fsm.Leased:
		return d.transition(ctx, r.ID, fsm.EventBuildStarted, nil)
	case fsm.Building:
		return d.phaseBuilding(ctx, r, st)
	case fsm.Snapshotting:
		return d.phaseSnapshotting(ctx, r, st)
	case fsm.Verifying:
		return d.phaseVerifying(ctx, r, st)
	case fsm.Feedback:
		return d.phaseFeedback(ctx, r, st)
	case fsm.PRCreated:
		return d.phasePRCreated(ctx, r, st)
	case fsm.CIPolling:
		return d.phaseCIPolling(ctx, r, st)
	default:
		return nil, agenterr.Newf(agenterr.KindIllegalTransition, "executor: no phase handler for state %s", r.State)
	}
}

func (d *Driver) transition(ctx context.Context, runID string, evt fsm.Event, metadata map[string]any) (*run.Run, error) {
	r, err := d.Store.UpdateWithTransition(ctx, runID, evt, metadata)
	if err != nil {
		return r, err
	}
	if d.Bus != nil {
		d.Bus.Publish(transitionEvent(r, evt))
	}
	return r, nil
}

func transitionEvent(r *run.Run, evt fsm.Event) event.Event {
	switch evt {
	case fsm.EventSystemError:
		return event.NewError(r.ID, r.WorkOrderID, string(agenterr.KindSystem), "system error")
	default:
		return event.NewOutput(r.ID, r.WorkOrderID, string(evt))
	}
}

func errMeta(err error) map[string]any {
	return map[string]any{"error": err.Error()}
}

func (d *Driver) finalize(ctx context.Context, r *run.Run, st *runState) (*run.Run, error) {
	final := loopstrategy.Decision{Continue: false, Reason: "run_terminal"}
	if r != nil {
		final.Reason = string(r.Result)
	}
	st.strategy.OnLoopEnd(st.loopCtx, final)
	if d.Persist != nil && r != nil {
		_ = d.Persist.PersistFinal(ctx, r, st.iterations)
	}
	if d.Queue != nil && r != nil {
		d.Queue.Release(r.ID)
	}
	if d.Bus != nil && r != nil {
		if r.State == fsm.Succeeded {
			d.Bus.Publish(event.NewRunCompleted(r.ID, r.WorkOrderID, string(r.Result)))
		} else if r.Terminal() {
			d.Bus.Publish(event.NewRunFailed(r.ID, r.WorkOrderID, string(r.Result), final.Reason))
		}
	}
	return r, nil
}
