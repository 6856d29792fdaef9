// Command agentgated demonstrates wiring the AgentGate core packages
// into one end-to-end pipeline: Queue -> Run Executor -> Event Bus,
// backed by an in-memory Run Store and a local-filesystem workspace.
// Mirrors the shape of the teacher's cmd/demo/main.go (small stub
// collaborators, a single synchronous run, printed result) scaled up
// to AgentGate's phase loop instead of a single plan/resume turn.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/agentgate/core/eventbus"
	"github.com/agentgate/core/executor"
	"github.com/agentgate/core/executor/inmem"
	"github.com/agentgate/core/loopstrategy"
	"github.com/agentgate/core/queue"
	"github.com/agentgate/core/retry"
	"github.com/agentgate/core/run"
	"github.com/agentgate/core/runstore"
	runstoreinmem "github.com/agentgate/core/runstore/inmem"
	"github.com/agentgate/core/stream"
	"github.com/agentgate/core/telemetry"
)

func main() {
	ctx := context.Background()

	store := runstoreinmem.New()
	if _, err := runstore.Validate(ctx, store, false); err != nil {
		panic(err)
	}

	bus := eventbus.New(eventbus.DefaultBufferSize)
	q := queue.New(queue.Config{MaxConcurrentRuns: 4, MaxQueueSize: 100})

	driver := &executor.Driver{
		Store:       store,
		Bus:         bus,
		Retry:       retry.Default,
		Agent:       executor.NewSubprocessDriver(stream.New(bus), "echo", []string{"agent output"}, false),
		Verifier:    stubVerifier{},
		Snapshotter: stubSnapshotter{},
		Workspace:   localWorkspace{},
		Feedback:    stubFeedback{},
		Queue:       q,
		Logger:      telemetry.NewNoopLogger(),
		Metrics:     telemetry.NewNoopMetrics(),
		Tracer:      telemetry.NewNoopTracer(),
		Cfg: executor.Config{
			DefaultMaxIterations: 3,
			AgentTimeout:         30 * time.Second,
			GracePeriod:          5 * time.Second,
			LoopMode:             loopstrategy.ModeFixed,
		},
	}
	engine := inmem.New(driver)

	order := run.WorkOrder{
		ID:         uuid.NewString(),
		TaskPrompt: "Add a LICENSE file to the repository.",
		VerificationGatePlan: json.RawMessage(`{
			"levels": [
				{"name": "L0", "required": true, "gates": [{"name": "format"}]}
			]
		}`),
		MaxIterations:   1,
		WallClockBudget: time.Minute,
		SubmittedAt:     time.Now(),
	}

	admission, err := q.Enqueue(order.ID, order)
	if err != nil {
		panic(err)
	}
	fmt.Println("admitted:", admission.RunID, "leased:", admission.Leased)

	sub := bus.Subscribe(order.ID)
	defer sub.Close()
	go func() {
		for evt := range sub.Events() {
			fmt.Println("event:", evt.Type(), evt.RunID())
		}
	}()

	handle, err := engine.Start(ctx, order)
	if err != nil {
		panic(err)
	}
	final, err := handle.Wait(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Println("final state:", final.State, "result:", final.Result)
}

// localWorkspace provisions a plain temp directory per run; Release
// removes it. A production deployment would provision a container or
// sandboxed checkout instead.
type localWorkspace struct{}

func (localWorkspace) Provision(_ context.Context, spec executor.WorkspaceSpec) (executor.Workspace, error) {
	dir, err := os.MkdirTemp("", "agentgate-"+spec.RunID+"-")
	if err != nil {
		return executor.Workspace{}, err
	}
	return executor.Workspace{ID: spec.RunID, Root: dir}, nil
}

func (localWorkspace) Release(_ context.Context, ws executor.Workspace) error {
	if ws.Root == "" {
		return nil
	}
	return os.RemoveAll(ws.Root)
}

// stubSnapshotter reports an empty diff; a real implementation would
// shell out to git diff/commit against the workspace.
type stubSnapshotter struct{}

func (stubSnapshotter) Capture(_ context.Context, ws executor.Workspace, before string, meta executor.IterationMeta) (run.SnapshotDescriptor, error) {
	return run.SnapshotDescriptor{
		ID:        uuid.NewString(),
		RunID:     meta.RunID,
		Iteration: meta.Iteration,
		BeforeSHA: before,
		AfterSHA:  uuid.NewString(),
		TakenAt:   time.Now(),
	}, nil
}

// stubVerifier always passes L0; a real implementation would run the
// gate plan's actual checks against the snapshot.
type stubVerifier struct{}

func (stubVerifier) Verify(_ context.Context, snap run.SnapshotDescriptor, _ []byte, meta executor.IterationMeta) (run.VerificationReport, error) {
	return run.VerificationReport{
		ID:         uuid.NewString(),
		SnapshotID: snap.ID,
		Passed:     true,
		L0:         run.LevelResult{Passed: true},
	}, nil
}

// stubFeedback is never reached while stubVerifier always passes, but
// is wired so a Driver with a failing Verifier still has somewhere to
// go.
type stubFeedback struct{}

func (stubFeedback) Generate(_ context.Context, _ run.SnapshotDescriptor, report run.VerificationReport, _ []byte, _ executor.IterationMeta) (string, error) {
	return fmt.Sprintf("verification failed: %v", report.Diagnostics), nil
}
