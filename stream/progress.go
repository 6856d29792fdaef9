package stream

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/agentgate/core/event"
)

const progressTickInterval = 2 * time.Second

// progressTicker synthesizes Progress events on a fixed interval so
// subscribers see liveness even when the agent goes quiet between tool
// calls. Percentage is derived from the observed tool-call count, never
// from the agent's own claims.
type progressTicker struct {
	runID, workOrderID string
	sink               Sink
	toolCalls          *atomic.Int64
}

func newProgressTicker(runID, workOrderID string, sink Sink, toolCalls *atomic.Int64) *progressTicker {
	return &progressTicker{runID: runID, workOrderID: workOrderID, sink: sink, toolCalls: toolCalls}
}

func (t *progressTicker) run(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(progressTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			calls := int(t.toolCalls.Load())
			t.sink.Publish(event.NewProgress(t.runID, t.workOrderID, calls*5, calls))
		}
	}
}
