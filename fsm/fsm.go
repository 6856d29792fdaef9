// Package fsm implements the run lifecycle state machine: a closed table
// of legal state/event transitions, validated for reachability and event
// coverage at startup. The executor is the only caller that applies
// transitions; every other package only reads State/Event constants.
//
// The table shape follows the teacher's engine.Engine registration-time
// validation style (reject at construction, not at call time), adapted
// from a workflow registry to a state transition table since the teacher
// itself has no direct FSM analog.
package fsm

import "fmt"

// State is one node of the run lifecycle.
type State string

const (
	Queued        State = "QUEUED"
	Leased        State = "LEASED"
	Building      State = "BUILDING"
	Snapshotting  State = "SNAPSHOTTING"
	Verifying     State = "VERIFYING"
	Feedback      State = "FEEDBACK"
	PRCreated     State = "PR_CREATED"
	CIPolling     State = "CI_POLLING"
	Succeeded     State = "SUCCEEDED"
	Failed        State = "FAILED"
	Canceled      State = "CANCELED"
)

// Terminal reports whether a run in this state will never transition again.
func (s State) Terminal() bool {
	switch s {
	case Succeeded, Failed, Canceled:
		return true
	default:
		return false
	}
}

// Event is a fact that may advance a run from one State to another.
type Event string

const (
	EventWorkspaceAcquired    Event = "WORKSPACE_ACQUIRED"
	EventBuildStarted         Event = "BUILD_STARTED"
	EventBuildCompleted       Event = "BUILD_COMPLETED"
	EventBuildFailed          Event = "BUILD_FAILED"
	EventSnapshotCompleted    Event = "SNAPSHOT_COMPLETED"
	EventSnapshotFailed       Event = "SNAPSHOT_FAILED"
	EventVerifyPassed         Event = "VERIFY_PASSED"
	EventVerifyFailedRetryable Event = "VERIFY_FAILED_RETRYABLE"
	EventVerifyFailedTerminal Event = "VERIFY_FAILED_TERMINAL"
	EventFeedbackGenerated    Event = "FEEDBACK_GENERATED"
	EventPRCreated            Event = "PR_CREATED"
	EventCIPollingStarted     Event = "CI_POLLING_STARTED"
	EventCIPassed             Event = "CI_PASSED"
	EventCIFailed             Event = "CI_FAILED"
	EventCITimeout            Event = "CI_TIMEOUT"
	EventUserCanceled         Event = "USER_CANCELED"
	EventSystemError          Event = "SYSTEM_ERROR"
)

// Transition is one row of the table: the state an event lands a run in.
type Transition struct {
	To State
}

// IllegalTransition is returned by Apply when (state, event) has no row in
// the table. Callers must leave the run's persisted state unmodified when
// they receive this error.
type IllegalTransition struct {
	From  State
	Event Event
}

func (e *IllegalTransition) Error() string {
	return fmt.Sprintf("fsm: event %s is not legal from state %s", e.Event, e.From)
}

// table is the closed transition map. Every (state, event) pair not
// present here is illegal. USER_CANCELED and SYSTEM_ERROR are legal from
// every non-terminal state and are therefore added programmatically in
// init rather than repeated on every row.
var table = map[State]map[Event]Transition{
	Queued: {
		EventWorkspaceAcquired: {To: Leased},
	},
	Leased: {
		EventBuildStarted: {To: Building},
	},
	Building: {
		EventBuildCompleted: {To: Snapshotting},
		EventBuildFailed:    {To: Failed},
	},
	Snapshotting: {
		EventSnapshotCompleted: {To: Verifying},
		EventSnapshotFailed:    {To: Failed},
	},
	Verifying: {
		EventVerifyPassed:         {To: Succeeded},
		EventVerifyFailedRetryable: {To: Feedback},
		EventVerifyFailedTerminal: {To: Failed},
		EventPRCreated:            {To: PRCreated},
	},
	Feedback: {
		EventFeedbackGenerated:   {To: Building},
		EventVerifyFailedTerminal: {To: Failed},
	},
	PRCreated: {
		EventCIPollingStarted: {To: CIPolling},
		EventVerifyPassed:     {To: Succeeded},
	},
	CIPolling: {
		EventCIPassed:  {To: Succeeded},
		EventCIFailed:  {To: Feedback},
		EventCITimeout: {To: Failed},
	},
}

func init() {
	for s, row := range table {
		if s.Terminal() {
			continue
		}
		row[EventUserCanceled] = Transition{To: Canceled}
		row[EventSystemError] = Transition{To: Failed}
	}
}

// Apply looks up the legal transition for (from, evt). It never mutates
// shared state; it is the caller's responsibility to persist the result.
// On an illegal (state, event) pair it returns an *IllegalTransition and
// the caller must leave the run's stored state untouched.
func Apply(from State, evt Event) (State, error) {
	row, ok := table[from]
	if !ok {
		return from, &IllegalTransition{From: from, Event: evt}
	}
	t, ok := row[evt]
	if !ok {
		return from, &IllegalTransition{From: from, Event: evt}
	}
	return t.To, nil
}

// Validate proves the table has no dead ends: every state declared in
// this package is reachable from Queued, every non-terminal state has at
// least one outgoing transition, and every Event constant is used by at
// least one row. It is meant to run once at process startup; a failure
// here indicates a programming error in the table itself, not a runtime
// condition.
func Validate() error {
	all := []State{Queued, Leased, Building, Snapshotting, Verifying, Feedback, PRCreated, CIPolling, Succeeded, Failed, Canceled}
	allEvents := []Event{
		EventWorkspaceAcquired, EventBuildStarted, EventBuildCompleted, EventBuildFailed,
		EventSnapshotCompleted, EventSnapshotFailed, EventVerifyPassed, EventVerifyFailedRetryable,
		EventVerifyFailedTerminal, EventFeedbackGenerated, EventPRCreated, EventCIPollingStarted,
		EventCIPassed, EventCIFailed, EventCITimeout, EventUserCanceled, EventSystemError,
	}

	reachable := map[State]bool{Queued: true}
	changed := true
	for changed {
		changed = false
		for s, row := range table {
			if !reachable[s] {
				continue
			}
			for _, t := range row {
				if !reachable[t.To] {
					reachable[t.To] = true
					changed = true
				}
			}
		}
	}
	for _, s := range all {
		if !reachable[s] {
			return fmt.Errorf("fsm: state %s is not reachable from %s", s, Queued)
		}
	}

	for _, s := range all {
		if s.Terminal() {
			continue
		}
		if len(table[s]) == 0 {
			return fmt.Errorf("fsm: non-terminal state %s has no outgoing transitions", s)
		}
	}

	used := map[Event]bool{}
	for _, row := range table {
		for evt := range row {
			used[evt] = true
		}
	}
	for _, evt := range allEvents {
		if !used[evt] {
			return fmt.Errorf("fsm: event %s is never used by any transition", evt)
		}
	}
	return nil
}
