package inmem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentgate/core/fsm"
	"github.com/agentgate/core/run"
	"github.com/agentgate/core/runstore"
)

func newRun(id, workOrderID string) *run.Run {
	return &run.Run{ID: id, WorkOrderID: workOrderID, State: fsm.Queued, MaxIterations: 3}
}

func TestCreateAndGet_RoundTrips(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newRun("run-1", "wo-1")))
	got, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, fsm.Queued, got.State)
	require.False(t, got.CreatedAt.IsZero())
}

func TestGet_MissingReturnsErrNotFound(t *testing.T) {
	t.Parallel()
	s := New()
	_, err := s.Get(context.Background(), "missing")
	require.ErrorIs(t, err, runstore.ErrNotFound)
}

func TestGet_ReturnsDefensiveCopy(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newRun("run-1", "wo-1")))

	got, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	got.State = fsm.Failed

	got2, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, fsm.Queued, got2.State, "mutating a returned Run must not affect stored state")
}

func TestUpdateWithTransition_AppliesLegalTransition(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newRun("run-1", "wo-1")))

	updated, err := s.UpdateWithTransition(ctx, "run-1", fsm.EventWorkspaceAcquired, nil)
	require.NoError(t, err)
	require.Equal(t, fsm.Leased, updated.State)
	require.Len(t, updated.History, 1)
	require.Equal(t, fsm.EventWorkspaceAcquired, updated.History[0].Event)
}

func TestUpdateWithTransition_IllegalTransitionLeavesRunUntouched(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newRun("run-1", "wo-1")))

	_, err := s.UpdateWithTransition(ctx, "run-1", fsm.EventCIPassed, nil)
	require.Error(t, err)

	got, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, fsm.Queued, got.State)
	require.Empty(t, got.History)
}

func TestUpdateWithTransition_TerminalEventStampsResult(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	r := newRun("run-1", "wo-1")
	r.State = fsm.Building
	require.NoError(t, s.Create(ctx, r))

	updated, err := s.UpdateWithTransition(ctx, "run-1", fsm.EventBuildFailed, nil)
	require.NoError(t, err)
	require.Equal(t, fsm.Failed, updated.State)
	require.Equal(t, run.ResultFailedBuild, updated.Result)
}

func TestUpdateWithTransition_UnknownRunErrors(t *testing.T) {
	t.Parallel()
	s := New()
	_, err := s.UpdateWithTransition(context.Background(), "missing", fsm.EventWorkspaceAcquired, nil)
	require.ErrorIs(t, err, runstore.ErrNotFound)
}

func TestAppendIteration_RecordsHistoryAndUpdatesIndex(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newRun("run-1", "wo-1")))

	require.NoError(t, s.AppendIteration(ctx, "run-1", run.Iteration{Index: 0}))
	require.NoError(t, s.AppendIteration(ctx, "run-1", run.Iteration{Index: 1}))

	got, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, 1, got.Iteration)
	require.Len(t, s.Iterations("run-1"), 2)
}

func TestListActive_ExcludesTerminalRuns(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newRun("run-1", "wo-1")))

	done := newRun("run-2", "wo-1")
	done.State = fsm.Succeeded
	require.NoError(t, s.Create(ctx, done))

	active, err := s.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "run-1", active[0].ID)
}

func TestListByWorkOrder_FiltersByWorkOrderID(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newRun("run-1", "wo-1")))
	require.NoError(t, s.Create(ctx, newRun("run-2", "wo-2")))

	matches, err := s.ListByWorkOrder(ctx, "wo-1")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "run-1", matches[0].ID)
}

func TestValidate_PassesForWellFormedRuns(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newRun("run-1", "wo-1")))

	corrupted, err := runstore.Validate(ctx, s, true)
	require.NoError(t, err)
	require.Empty(t, corrupted)
}

func TestValidate_FlagsCorruptedRecords(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, &run.Run{ID: "run-1", State: fsm.Queued}))

	corrupted, err := runstore.Validate(ctx, s, false)
	require.NoError(t, err)
	require.Equal(t, []string{"run-1"}, corrupted)

	_, err = runstore.Validate(ctx, s, true)
	require.Error(t, err)
}
