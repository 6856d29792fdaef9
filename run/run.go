// Package run defines the core data model shared by every AgentGate
// component: the immutable WorkOrder a client submits, the durable Run
// record the Run Store persists, the per-iteration Iteration record, and
// the Lease a Queue grants while a run occupies a concurrency slot.
//
// The shape follows the teacher's runtime/agent/run.Record/Context split
// (identity + control fields separate from point-in-time execution
// metadata), generalized from a planner-turn model to a code-generation
// iteration model.
package run

import (
	"encoding/json"
	"time"

	"github.com/agentgate/core/fsm"
)

// Policies constrain what a child agent process may do during a run.
// NetworkAllowed and ForbiddenPaths are enforced by the workspace
// provisioner/sandboxer; AgentGate's core only carries and reports them.
type Policies struct {
	NetworkAllowed  bool
	ForbiddenPaths  []string
}

// WorkOrder is the immutable input to a run. Once accepted by the Queue
// it is never mutated; everything that changes during execution lives
// on the Run and its Iteration history instead.
type WorkOrder struct {
	ID       string
	TaskPrompt string

	// WorkspaceSource is opaque to the core: it is handed verbatim to the
	// external WorkspaceProvisioner collaborator.
	WorkspaceSource json.RawMessage

	// VerificationGatePlan is opaque to the core in body, but its
	// envelope (gate names/levels/required-optional) is schema-validated
	// at admission time; see queue.ValidateGatePlan.
	VerificationGatePlan json.RawMessage

	Policies Policies

	MaxIterations  int
	WallClockBudget time.Duration

	// AgentVariant selects which AgentDriver/billing tier handles this
	// work order (e.g. "claude-sonnet", "gpt-4.1").
	AgentVariant string

	SubmittedAt time.Time
}

// Result is the closed set of terminal outcomes a Run can reach.
type Result string

const (
	ResultPassed              Result = "PASSED"
	ResultFailedBuild         Result = "FAILED_BUILD"
	ResultFailedVerification  Result = "FAILED_VERIFICATION"
	ResultFailedError         Result = "FAILED_ERROR"
	ResultFailedTimeout       Result = "FAILED_TIMEOUT"
	ResultCanceled            Result = "CANCELED"
)

// TransitionRecord is one entry of a Run's append-only history: the
// event that fired, the state it landed in, when, and any metadata the
// executor attached (e.g. the error that triggered SYSTEM_ERROR).
type TransitionRecord struct {
	Event     fsm.Event
	To        fsm.State
	At        time.Time
	Metadata  map[string]any
}

// Run is the durable record the Run Store persists. Mutation happens
// only through State Machine transitions applied by the executor;
// outside of that, a Run is read-only.
type Run struct {
	ID          string
	WorkOrderID string
	WorkspaceID string

	State       fsm.State
	Result      Result
	Iteration   int
	MaxIterations int

	SessionID string
	PRURL     string

	CreatedAt time.Time
	UpdatedAt time.Time

	History []TransitionRecord
}

// Terminal reports whether the run has reached a final State.
func (r *Run) Terminal() bool { return r.State.Terminal() }

// ResultForTransition maps a terminal-transition event to the Result it
// must stamp onto the Run, per spec.md §4.1's transition table ("all
// terminal-transition events set the corresponding result"). ok is false
// for events that do not land a run in a terminal state.
func ResultForTransition(evt fsm.Event) (result Result, ok bool) {
	switch evt {
	case fsm.EventVerifyPassed, fsm.EventCIPassed:
		return ResultPassed, true
	case fsm.EventBuildFailed, fsm.EventSnapshotFailed:
		return ResultFailedBuild, true
	case fsm.EventVerifyFailedTerminal:
		return ResultFailedVerification, true
	case fsm.EventCITimeout:
		return ResultFailedTimeout, true
	case fsm.EventSystemError:
		return ResultFailedError, true
	case fsm.EventUserCanceled:
		return ResultCanceled, true
	default:
		return "", false
	}
}

// AgentResult is the outcome of one child-agent invocation, as produced
// by the stream.Executor / AgentDriver collaborator.
type AgentResult struct {
	Success         bool
	ExitCode        int
	Stdout          string
	Stderr          string
	StructuredOutput json.RawMessage
	SessionID       string
	TokensUsed      int
	DurationMs      int64
}

// SnapshotDescriptor points at the persisted workspace snapshot taken
// after a build: a commit-like diff summary, as returned by the external
// Snapshotter (spec.md §6).
type SnapshotDescriptor struct {
	ID            string
	RunID         string
	Iteration     int
	BeforeSHA     string
	AfterSHA      string
	Branch        string
	CommitMessage string
	PatchPath     string
	FilesChanged  int
	Insertions    int
	Deletions     int
	TakenAt       time.Time
}

// VerificationReport is the outcome of running the gate plan against a
// snapshot, as returned by the external Verifier. L0-L3 are the tiered
// gate levels spec.md §6 describes.
type VerificationReport struct {
	ID            string
	SnapshotID    string
	Passed        bool
	L0            LevelResult
	L1            LevelResult
	L2            LevelResult
	L3            LevelResult
	Diagnostics   []string
	Logs          string
	TotalDuration time.Duration
}

// LevelResult is one tiered verification gate's outcome. Levels are
// opaque to the core beyond pass/fail and their check list.
type LevelResult struct {
	Passed   bool
	Checks   []GateResult
	Duration time.Duration
}

// GateResult is one individual check's outcome within a LevelResult.
type GateResult struct {
	Name      string
	Passed    bool
	Retryable bool
	Detail    string
}

// Iteration is the record of a single pass through the build/snapshot/
// verify loop. The Run Store appends one per iteration; it is never
// rewritten once appended.
type Iteration struct {
	Index       int
	Agent       AgentResult
	Snapshot    SnapshotDescriptor
	Verification VerificationReport
	Feedback    string
	StartedAt   time.Time
	EndedAt     time.Time
}

// Lease represents a granted concurrency slot. Cancel requests cooperative
// cancellation of the run occupying it. Lease has no release method; the
// slot is freed through queue.Queue.Release.
type Lease struct {
	RunID      string
	AcquiredAt time.Time
	cancel     func()
}

// NewLease constructs a Lease with the given cancellation hook. cancel
// may be nil for leases that do not back a live subprocess (e.g. in tests).
func NewLease(runID string, cancel func()) *Lease {
	return &Lease{RunID: runID, AcquiredAt: time.Now(), cancel: cancel}
}

// Cancel requests cooperative cancellation of whatever the lease is
// backing. It is a no-op if no cancellation hook was supplied.
func (l *Lease) Cancel() {
	if l.cancel != nil {
		l.cancel()
	}
}
