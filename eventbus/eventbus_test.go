package eventbus

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentgate/core/event"
)

func TestPublish_DeliversToSubscriberOfSameWorkOrder(t *testing.T) {
	t.Parallel()
	b := New(4)
	sub := b.Subscribe("wo-1")
	defer sub.Close()

	b.Publish(event.NewOutput("run-1", "wo-1", "hello"))

	got := <-sub.Events()
	require.Equal(t, "run-1", got.RunID())
	require.Equal(t, "wo-1", got.WorkOrderID())
}

func TestPublish_DoesNotDeliverToOtherWorkOrders(t *testing.T) {
	t.Parallel()
	b := New(4)
	sub := b.Subscribe("wo-1")
	defer sub.Close()

	b.Publish(event.NewOutput("run-1", "wo-2", "hello"))

	select {
	case evt := <-sub.Events():
		t.Fatalf("unexpected delivery: %v", evt)
	default:
	}
}

func TestPublish_OverflowDropsOldestAndMarksIt(t *testing.T) {
	t.Parallel()
	b := New(1)
	sub := b.Subscribe("wo-1")
	defer sub.Close()

	b.Publish(event.NewOutput("run-1", "wo-1", "first"))
	b.Publish(event.NewOutput("run-1", "wo-1", "second"))

	got := <-sub.Events()
	require.Equal(t, event.TypeBufferDrop, got.Type())
}

func TestClose_IsIdempotentAndUnsubscribes(t *testing.T) {
	t.Parallel()
	b := New(4)
	sub := b.Subscribe("wo-1")
	sub.Close()
	require.NotPanics(t, func() { sub.Close() })

	require.NotPanics(t, func() {
		b.Publish(event.NewOutput("run-1", "wo-1", "after close"))
	})
}
