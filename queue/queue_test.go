package queue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentgate/core/agenterr"
	"github.com/agentgate/core/run"
)

func validOrder(id string) run.WorkOrder {
	return run.WorkOrder{
		ID:         id,
		TaskPrompt: "do the thing",
		VerificationGatePlan: json.RawMessage(`{
			"levels": [{"name": "L0", "required": true, "gates": [{"name": "format"}]}]
		}`),
	}
}

func TestEnqueue_LeasesImmediatelyWhenCapacityAvailable(t *testing.T) {
	t.Parallel()
	q := New(Config{MaxConcurrentRuns: 2})
	admission, err := q.Enqueue("run-1", validOrder("run-1"))
	require.NoError(t, err)
	require.True(t, admission.Leased)
	require.Equal(t, 0, admission.Position)
}

func TestEnqueue_WaitsWhenAtCapacity(t *testing.T) {
	t.Parallel()
	q := New(Config{MaxConcurrentRuns: 1})
	_, err := q.Enqueue("run-1", validOrder("run-1"))
	require.NoError(t, err)

	admission, err := q.Enqueue("run-2", validOrder("run-2"))
	require.NoError(t, err)
	require.False(t, admission.Leased)
	require.Equal(t, 1, admission.Position)
}

func TestEnqueue_RejectsMalformedGatePlan(t *testing.T) {
	t.Parallel()
	q := New(Config{MaxConcurrentRuns: 1})
	order := validOrder("run-1")
	order.VerificationGatePlan = json.RawMessage(`{"levels": []}`)

	_, err := q.Enqueue("run-1", order)
	require.Error(t, err)
	var agentErr *agenterr.Error
	require.ErrorAs(t, err, &agentErr)
}

func TestEnqueue_RejectsAtQueueCapacity(t *testing.T) {
	t.Parallel()
	q := New(Config{MaxConcurrentRuns: 1, MaxQueueSize: 1})
	_, err := q.Enqueue("run-1", validOrder("run-1"))
	require.NoError(t, err)

	_, err = q.Enqueue("run-2", validOrder("run-2"))
	require.Error(t, err)
}

func TestRelease_FreesSlotForNextInLine(t *testing.T) {
	t.Parallel()
	q := New(Config{MaxConcurrentRuns: 1})
	_, err := q.Enqueue("run-1", validOrder("run-1"))
	require.NoError(t, err)
	_, err = q.Enqueue("run-2", validOrder("run-2"))
	require.NoError(t, err)

	q.Release("run-1")
	runID, ok := q.LeaseNext()
	require.True(t, ok)
	require.Equal(t, "run-2", runID)
}

func TestRelease_Idempotent(t *testing.T) {
	t.Parallel()
	q := New(Config{MaxConcurrentRuns: 1})
	_, err := q.Enqueue("run-1", validOrder("run-1"))
	require.NoError(t, err)

	q.Release("run-1")
	require.NotPanics(t, func() { q.Release("run-1") })
}
