package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentgate/core/event"
)

type fakeSink struct {
	mu     sync.Mutex
	events []event.Event
}

func (f *fakeSink) Publish(evt event.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
}

func (f *fakeSink) all() []event.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]event.Event, len(f.events))
	copy(out, f.events)
	return out
}

func TestSpawn_SuccessfulExit(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	e := New(sink)
	result, err := e.Spawn(context.Background(), Request{
		RunID: "run-1", WorkOrderID: "wo-1",
		Command: "sh", Args: []string{"-c", `echo '{"type":"assistant","message":{"content":[{"type":"text","text":"hi"}]}}'`},
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, 0, result.ExitCode)
}

func TestSpawn_NonZeroExit(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	e := New(sink)
	result, err := e.Spawn(context.Background(), Request{
		RunID: "run-1", WorkOrderID: "wo-1",
		Command: "sh", Args: []string{"-c", "exit 7"},
	})
	require.Error(t, err)
	require.False(t, result.Success)
	require.Equal(t, 7, result.ExitCode)
}

func TestSpawn_CapturesStderr(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	e := New(sink)
	result, _ := e.Spawn(context.Background(), Request{
		RunID: "run-1", WorkOrderID: "wo-1",
		Command: "sh", Args: []string{"-c", "echo oops 1>&2"},
	})
	require.Contains(t, result.Stderr, "oops")
}

func TestSpawn_TimeoutKillsProcess(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	e := New(sink)
	result, err := e.Spawn(context.Background(), Request{
		RunID: "run-1", WorkOrderID: "wo-1",
		Command:     "sh",
		Args:        []string{"-c", "trap '' TERM INT; sleep 5"},
		Timeout:     50 * time.Millisecond,
		GracePeriod: 50 * time.Millisecond,
	})
	require.Error(t, err)
	require.False(t, result.Success)
}

func TestSpawn_PublishesParsedOutputEvents(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	e := New(sink)
	_, err := e.Spawn(context.Background(), Request{
		RunID: "run-1", WorkOrderID: "wo-1",
		Command: "sh", Args: []string{"-c", `echo '{"type":"assistant","message":{"content":[{"type":"text","text":"line one"}]}}'`},
	})
	require.NoError(t, err)

	var found bool
	for _, evt := range sink.all() {
		if out, ok := evt.(event.Output); ok && out.Text == "line one" {
			found = true
		}
	}
	require.True(t, found, "expected an Output event carrying the parsed text")
}

func TestSpawn_MalformedLinePublishesErrorEventAndContinues(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	e := New(sink)
	result, err := e.Spawn(context.Background(), Request{
		RunID: "run-1", WorkOrderID: "wo-1",
		Command: "sh", Args: []string{"-c", `printf 'not json\n'; exit 0`},
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	var sawError bool
	for _, evt := range sink.all() {
		if evt.Type() == event.TypeError {
			sawError = true
		}
	}
	require.True(t, sawError)
}
