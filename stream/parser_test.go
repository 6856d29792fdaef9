package stream

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentgate/core/event"
)

func TestFeed_SystemLineYieldsNoEvent(t *testing.T) {
	t.Parallel()
	p := NewParser()
	evt, err := p.Feed("run-1", "wo-1", []byte(`{"type":"system"}`))
	require.NoError(t, err)
	require.Nil(t, evt)
}

func TestFeed_ResultLineYieldsNoEvent(t *testing.T) {
	t.Parallel()
	p := NewParser()
	evt, err := p.Feed("run-1", "wo-1", []byte(`{"type":"result","subtype":"success"}`))
	require.NoError(t, err)
	require.Nil(t, evt)
}

func TestFeed_AssistantTextProducesOutput(t *testing.T) {
	t.Parallel()
	p := NewParser()
	line := []byte(`{"type":"assistant","message":{"content":[{"type":"text","text":"hello there"}]}}`)
	evt, err := p.Feed("run-1", "wo-1", line)
	require.NoError(t, err)
	out, ok := evt.(event.Output)
	require.True(t, ok)
	require.Equal(t, "hello there", out.Text)
}

func TestFeed_AssistantToolUseProducesToolCall(t *testing.T) {
	t.Parallel()
	p := NewParser()
	line := []byte(`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"bash","input":{"command":"ls"}}]}}`)
	evt, err := p.Feed("run-1", "wo-1", line)
	require.NoError(t, err)
	call, ok := evt.(event.ToolCall)
	require.True(t, ok)
	require.Equal(t, "bash", call.ToolName)
	require.Equal(t, "ls", call.Input["command"])
}

func TestFeed_UserToolResultProducesToolResult(t *testing.T) {
	t.Parallel()
	p := NewParser()
	line := []byte(`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"t1","content":"ok","is_error":false}]}}`)
	evt, err := p.Feed("run-1", "wo-1", line)
	require.NoError(t, err)
	res, ok := evt.(event.ToolResult)
	require.True(t, ok)
	require.Equal(t, "ok", res.Output)
	require.False(t, res.IsError)
}

func TestFeed_UserToolResultError(t *testing.T) {
	t.Parallel()
	p := NewParser()
	line := []byte(`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"t1","content":"boom","is_error":true}]}}`)
	evt, err := p.Feed("run-1", "wo-1", line)
	require.NoError(t, err)
	res, ok := evt.(event.ToolResult)
	require.True(t, ok)
	require.True(t, res.IsError)
}

func TestFeed_UnknownTypeFallsBackToRawOutput(t *testing.T) {
	t.Parallel()
	p := NewParser()
	line := []byte(`{"type":"something_else","foo":"bar"}`)
	evt, err := p.Feed("run-1", "wo-1", line)
	require.NoError(t, err)
	out, ok := evt.(event.Output)
	require.True(t, ok)
	require.Equal(t, string(line), out.Text)
}

func TestFeed_MalformedLineErrors(t *testing.T) {
	t.Parallel()
	p := NewParser()
	_, err := p.Feed("run-1", "wo-1", []byte(`not json at all`))
	require.Error(t, err)
}

func TestFeed_SetsRunAndWorkOrderIDs(t *testing.T) {
	t.Parallel()
	p := NewParser()
	line := []byte(`{"type":"assistant","message":{"content":[{"type":"text","text":"hi"}]}}`)
	evt, err := p.Feed("run-42", "wo-7", line)
	require.NoError(t, err)
	require.Equal(t, "run-42", evt.RunID())
	require.Equal(t, "wo-7", evt.WorkOrderID())
}
