package executor

import (
	"context"
	"strings"
	"time"

	"github.com/agentgate/core/agenterr"
	"github.com/agentgate/core/fsm"
	"github.com/agentgate/core/loopstrategy"
	"github.com/agentgate/core/run"
)

// phaseBuilding runs the agent (through RetryPolicy.Execute) and emits
// BUILD_COMPLETED/BUILD_FAILED.
func (d *Driver) phaseBuilding(ctx context.Context, r *run.Run, st *runState) (*run.Run, error) {
	st.iterStart = time.Now()
	if d.Agent == nil {
		return nil, agenterr.New(agenterr.KindSystem, "executor: no Agent configured")
	}
	result := d.Retry.Execute(ctx, func(ctx context.Context, attempt int) (any, error) {
		return d.Agent.Execute(ctx, AgentRequest{
			RunID:       r.ID,
			WorkOrderID: r.WorkOrderID,
			Workspace:   st.workspace,
			TaskPrompt:  st.order.TaskPrompt,
			Feedback:    st.feedback,
			SessionID:   st.sessionID,
			Timeout:     d.Cfg.AgentTimeout,
		})
	})

	if !result.Success {
		meta := errMeta(result.FinalErr)
		meta["retries"] = result.RetriedCount
		return d.transition(ctx, r.ID, fsm.EventBuildFailed, meta)
	}

	agentResult, _ := result.Value.(*run.AgentResult)
	st.agentResult = agentResult
	if agentResult != nil {
		st.sessionID = agentResult.SessionID
		if !agentResult.Success {
			return d.transition(ctx, r.ID, fsm.EventBuildFailed, map[string]any{"exitCode": agentResult.ExitCode})
		}
	}
	return d.transition(ctx, r.ID, fsm.EventBuildCompleted, nil)
}

// phaseSnapshotting captures the workspace diff for the iteration just built.
func (d *Driver) phaseSnapshotting(ctx context.Context, r *run.Run, st *runState) (*run.Run, error) {
	if d.Snapshotter == nil {
		return nil, agenterr.New(agenterr.KindSystem, "executor: no Snapshotter configured")
	}
	snap, err := d.Snapshotter.Capture(ctx, st.workspace, st.beforeState, IterationMeta{RunID: r.ID, Iteration: r.Iteration})
	if err != nil {
		return d.transition(ctx, r.ID, fsm.EventSnapshotFailed, errMeta(err))
	}
	st.snapshot = snap
	st.beforeState = snap.AfterSHA
	return d.transition(ctx, r.ID, fsm.EventSnapshotCompleted, nil)
}

// phaseVerifying runs the verification gates and decides, with the Loop
// Strategy's help, whether a retryable failure is actually terminal.
func (d *Driver) phaseVerifying(ctx context.Context, r *run.Run, st *runState) (*run.Run, error) {
	if d.Verifier == nil {
		return nil, agenterr.New(agenterr.KindSystem, "executor: no Verifier configured")
	}
	report, err := d.Verifier.Verify(ctx, st.snapshot, st.order.VerificationGatePlan, IterationMeta{RunID: r.ID, Iteration: r.Iteration})
	if err != nil {
		return d.transition(ctx, r.ID, fsm.EventVerifyFailedTerminal, errMeta(err))
	}
	st.report = report

	iter := run.Iteration{
		Index:        r.Iteration,
		Snapshot:     st.snapshot,
		Verification: report,
		Feedback:     st.feedback,
		StartedAt:    st.iterStart,
		EndedAt:      time.Now(),
	}
	if st.agentResult != nil {
		iter.Agent = *st.agentResult
	}
	st.iterations = append(st.iterations, iter)
	if err := d.Store.AppendIteration(ctx, r.ID, iter); err != nil {
		return nil, agenterr.Wrap(agenterr.KindSystem, "executor: persist iteration record", err)
	}
	st.loopCtx.Iterations = append(st.loopCtx.Iterations, loopstrategy.IterationSummary{
		Index:       iter.Index,
		AgentOutput: agentOutputOf(st.agentResult),
		Passed:      report.Passed,
	})
	decision := st.strategy.ShouldContinue(st.loopCtx)
	st.strategy.OnIterationEnd(st.loopCtx, decision)

	wantsPR := d.Cfg.WantsPR != nil && d.Cfg.WantsPR(st.order)
	switch {
	case report.Passed && wantsPR:
		return d.transition(ctx, r.ID, fsm.EventPRCreated, nil)
	case report.Passed:
		return d.transition(ctx, r.ID, fsm.EventVerifyPassed, nil)
	case !decision.Continue:
		return d.transition(ctx, r.ID, fsm.EventVerifyFailedTerminal, decision.Metadata)
	default:
		return d.transition(ctx, r.ID, fsm.EventVerifyFailedRetryable, decision.Metadata)
	}
}

// phaseFeedback generates the next iteration's instruction, or stops the
// run if iteration r.Iteration+1 would exceed MaxIterations or the Loop
// Strategy has already decided to stop.
func (d *Driver) phaseFeedback(ctx context.Context, r *run.Run, st *runState) (*run.Run, error) {
	if r.Iteration+1 >= r.MaxIterations {
		return d.transition(ctx, r.ID, fsm.EventVerifyFailedTerminal, map[string]any{"reason": "max_iterations_reached"})
	}
	if d.Feedback == nil {
		return d.transition(ctx, r.ID, fsm.EventVerifyFailedTerminal, map[string]any{"reason": "no_feedback_generator"})
	}
	feedback, err := d.Feedback.Generate(ctx, st.snapshot, st.report, st.order.VerificationGatePlan, IterationMeta{RunID: r.ID, Iteration: r.Iteration})
	if err != nil {
		return d.transition(ctx, r.ID, fsm.EventVerifyFailedTerminal, errMeta(err))
	}
	st.feedback = feedback
	// The Run Store increments Iteration as part of FEEDBACK_GENERATED.
	return d.transition(ctx, r.ID, fsm.EventFeedbackGenerated, nil)
}

// phasePRCreated opens CI polling if the work order wants it, otherwise
// treats the run as done (no-CI path).
func (d *Driver) phasePRCreated(ctx context.Context, r *run.Run, st *runState) (*run.Run, error) {
	if d.PR != nil {
		prURL, err := d.PR.CreateOrUpdate(ctx, st.snapshot, IterationMeta{RunID: r.ID, Iteration: r.Iteration})
		if err != nil {
			return d.transition(ctx, r.ID, fsm.EventSystemError, errMeta(err))
		}
		r.PRURL = prURL
	}
	if d.Cfg.CIEnabled != nil && d.Cfg.CIEnabled(st.order) {
		return d.transition(ctx, r.ID, fsm.EventCIPollingStarted, nil)
	}
	return d.transition(ctx, r.ID, fsm.EventVerifyPassed, nil)
}

// phaseCIPolling waits (through RetryPolicy, since CIMonitor.Wait is an
// external, retryable call) for the PR's checks to settle.
func (d *Driver) phaseCIPolling(ctx context.Context, r *run.Run, st *runState) (*run.Run, error) {
	if d.CI == nil {
		return d.transition(ctx, r.ID, fsm.EventCITimeout, map[string]any{"reason": "no_ci_monitor"})
	}
	result := d.Retry.Execute(ctx, func(ctx context.Context, attempt int) (any, error) {
		res, err := d.CI.Wait(ctx, r.PRURL)
		return res, err
	})
	if !result.Success {
		return d.transition(ctx, r.ID, fsm.EventCITimeout, errMeta(result.FinalErr))
	}
	ciResult, _ := result.Value.(CIResult)
	switch {
	case ciResult.AllPassed:
		return d.transition(ctx, r.ID, fsm.EventCIPassed, nil)
	case ciResult.TimedOut:
		return d.transition(ctx, r.ID, fsm.EventCITimeout, map[string]any{"detail": ciResult.Detail})
	default:
		return d.transition(ctx, r.ID, fsm.EventCIFailed, map[string]any{"detail": ciResult.Detail})
	}
}

func agentOutputOf(r *run.AgentResult) string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r.Stdout)
}
