package fsm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	t.Parallel()
	require.NoError(t, Validate())
}

func TestApply_Table(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		from State
		evt  Event
		to   State
	}{
		{"queued to leased", Queued, EventWorkspaceAcquired, Leased},
		{"leased to building", Leased, EventBuildStarted, Building},
		{"building completed to snapshotting", Building, EventBuildCompleted, Snapshotting},
		{"building failed to failed, not feedback", Building, EventBuildFailed, Failed},
		{"snapshotting completed to verifying", Snapshotting, EventSnapshotCompleted, Verifying},
		{"snapshotting failed to failed, not feedback", Snapshotting, EventSnapshotFailed, Failed},
		{"verify passed to succeeded, not pr_created", Verifying, EventVerifyPassed, Succeeded},
		{"verify failed retryable to feedback", Verifying, EventVerifyFailedRetryable, Feedback},
		{"verify failed terminal to failed", Verifying, EventVerifyFailedTerminal, Failed},
		{"pr created event from verifying", Verifying, EventPRCreated, PRCreated},
		{"feedback generated loops back to building", Feedback, EventFeedbackGenerated, Building},
		{"feedback terminal failure reaches failed", Feedback, EventVerifyFailedTerminal, Failed},
		{"pr_created starts ci polling", PRCreated, EventCIPollingStarted, CIPolling},
		{"pr_created no-ci path succeeds", PRCreated, EventVerifyPassed, Succeeded},
		{"ci passed succeeds", CIPolling, EventCIPassed, Succeeded},
		{"ci failed routes to feedback", CIPolling, EventCIFailed, Feedback},
		{"ci timeout fails, not feedback", CIPolling, EventCITimeout, Failed},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Apply(tc.from, tc.evt)
			require.NoError(t, err)
			require.Equal(t, tc.to, got)
		})
	}
}

func TestApply_UniversalCancelAndSystemError(t *testing.T) {
	t.Parallel()
	for _, s := range []State{Queued, Leased, Building, Snapshotting, Verifying, Feedback, PRCreated, CIPolling} {
		to, err := Apply(s, EventUserCanceled)
		require.NoError(t, err)
		require.Equal(t, Canceled, to)

		to, err = Apply(s, EventSystemError)
		require.NoError(t, err)
		require.Equal(t, Failed, to)
	}
}

func TestApply_IllegalTransition(t *testing.T) {
	t.Parallel()

	_, err := Apply(Succeeded, EventBuildStarted)
	require.Error(t, err)
	var illegal *IllegalTransition
	require.True(t, errors.As(err, &illegal))
	require.Equal(t, Succeeded, illegal.From)
	require.Equal(t, EventBuildStarted, illegal.Event)

	_, err = Apply(Queued, EventCIPassed)
	require.Error(t, err)
}

func TestState_Terminal(t *testing.T) {
	t.Parallel()
	for _, s := range []State{Succeeded, Failed, Canceled} {
		require.True(t, s.Terminal())
	}
	for _, s := range []State{Queued, Leased, Building, Snapshotting, Verifying, Feedback, PRCreated, CIPolling} {
		require.False(t, s.Terminal())
	}
}
