// Package executor implements the Run Executor / Phase Driver (C8): the
// per-run coroutine that walks a Run through the state machine, calling
// out to external collaborators at each phase and never bypassing the
// State Machine to do so.
//
// Grounded on runtime/agent/runtime/workflow_loop.go's workflowLoop (a
// for-loop over phases with deadline checks, mutable state threaded
// through a small struct) and runtime.go's activity dispatch; the phase
// switch itself follows spec.md §4.7's pseudocode exactly.
package executor

import (
	"context"
	"time"

	"github.com/agentgate/core/run"
)

// AgentDriver runs the coding agent against a workspace. Implementations
// live in drivers/ (anthropic-sdk-go, openai-go, bedrock); the executor
// only depends on this interface.
type AgentDriver interface {
	Execute(ctx context.Context, req AgentRequest) (*run.AgentResult, error)
	IsAvailable(ctx context.Context) bool
	Capabilities() AgentCapabilities
}

// AgentRequest carries everything an AgentDriver needs for one iteration.
type AgentRequest struct {
	RunID       string
	WorkOrderID string
	Workspace   Workspace
	TaskPrompt  string
	Feedback    string
	SessionID   string
	Timeout     time.Duration
}

// AgentCapabilities advertises what an AgentDriver supports, so the
// executor can decide whether session resume or structured output can be
// requested.
type AgentCapabilities struct {
	SupportsSessionResume    bool
	SupportsStructuredOutput bool
	SupportsToolRestriction  bool
	SupportsTimeout          bool
	MaxTurns                 int
}

// Verifier runs verification gates (L0-L3) against a snapshot.
type Verifier interface {
	Verify(ctx context.Context, snapshot run.SnapshotDescriptor, gatePlan []byte, meta IterationMeta) (run.VerificationReport, error)
}

// Snapshotter captures the workspace diff produced by one iteration.
type Snapshotter interface {
	Capture(ctx context.Context, ws Workspace, beforeState string, meta IterationMeta) (run.SnapshotDescriptor, error)
}

// WorkspaceProvisioner acquires and releases the working directory a run
// executes in (a checkout, a container, a sandbox - opaque to the core).
type WorkspaceProvisioner interface {
	Provision(ctx context.Context, spec WorkspaceSpec) (Workspace, error)
	Release(ctx context.Context, ws Workspace) error
}

// Workspace is an opaque handle to provisioned working storage.
type Workspace struct {
	ID   string
	Root string
}

// WorkspaceSpec describes what kind of workspace a run needs, sourced
// from run.WorkOrder.WorkspaceSource.
type WorkspaceSpec struct {
	RunID  string
	Source []byte
}

// FeedbackGenerator turns a failed verification report into the natural
// language instruction fed back to the agent for the next iteration.
type FeedbackGenerator interface {
	Generate(ctx context.Context, snapshot run.SnapshotDescriptor, report run.VerificationReport, gatePlan []byte, meta IterationMeta) (string, error)
}

// CIMonitor polls an external CI system for a pull request's check
// status. A reference implementation lives in ci/ as a Nexus async
// operation.
type CIMonitor interface {
	Wait(ctx context.Context, prURL string) (CIResult, error)
}

// CIResult is the outcome of one CIMonitor.Wait call.
type CIResult struct {
	AllPassed bool
	TimedOut  bool
	Detail    string
}

// ResultPersister writes the final disposition of a run and its
// iteration ledger to durable storage, per spec.md §6's on-disk artifact
// layout (one JSON file per record, under runs/<run-id>/).
type ResultPersister interface {
	PersistFinal(ctx context.Context, r *run.Run, iterations []run.Iteration) error
}

// IterationMeta tags an external call with the run/iteration it belongs
// to, for collaborator-side logging and correlation.
type IterationMeta struct {
	RunID     string
	Iteration int
}

// PRCreator opens (or updates) the pull request once verification has
// passed and a PR is wanted. Grounded on the same external-collaborator
// shape as Verifier/Snapshotter; no teacher analog since the teacher
// never opens PRs.
type PRCreator interface {
	CreateOrUpdate(ctx context.Context, snapshot run.SnapshotDescriptor, meta IterationMeta) (prURL string, err error)
}
