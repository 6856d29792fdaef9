// Package stream implements the Streaming Subprocess Executor (C3) and
// the line-framed JSON Stream Parser (C4): it spawns the child agent
// process, frames its stdout as newline-delimited JSON messages, turns
// each into a typed event.Event, and enforces the timeout/grace/kill
// cancellation contract.
//
// The spawn/cancel lifecycle — an atomic cancelled flag, a done channel,
// and escalation from a graceful interrupt to a hard kill — follows the
// idiom of buildkite-agent's JobRunner/process.Process pair, adapted
// from a bootstrap-script runner to a direct os/exec child process since
// AgentGate has no separate process-supervisor binary to delegate to.
package stream

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentgate/core/agenterr"
	"github.com/agentgate/core/event"
	"github.com/agentgate/core/run"
)

// Request describes one child-agent invocation.
type Request struct {
	RunID       string
	WorkOrderID string
	Command     string
	Args        []string
	Dir         string
	Env         []string

	Timeout      time.Duration
	GracePeriod  time.Duration // how long to wait after Interrupt before Kill
}

// Sink receives events as they are parsed from the child's stdout. It is
// typically backed by eventbus.Bus.Publish.
type Sink interface {
	Publish(evt event.Event)
}

// Executor spawns child agent processes and streams their output.
type Executor struct {
	Sink   Sink
	Parser *Parser
}

// New constructs an Executor publishing decoded events to sink.
func New(sink Sink) *Executor {
	return &Executor{Sink: sink, Parser: NewParser()}
}

const defaultGracePeriod = 5 * time.Second

// Spawn runs req.Command, streaming parsed events to the Executor's Sink
// as they arrive, and returns the AgentResult once the process exits (or
// is timed out/canceled). On ctx cancellation or Timeout expiry, the
// child receives an interrupt; if it has not exited GracePeriod later it
// is killed.
func (e *Executor) Spawn(ctx context.Context, req Request) (*run.AgentResult, error) {
	grace := req.GracePeriod
	if grace <= 0 {
		grace = defaultGracePeriod
	}

	runCtx := ctx
	var cancelTimeout context.CancelFunc
	if req.Timeout > 0 {
		runCtx, cancelTimeout = context.WithTimeout(ctx, req.Timeout)
		defer cancelTimeout()
	}

	cmd := exec.Command(req.Command, req.Args...)
	cmd.Dir = req.Dir
	cmd.Env = req.Env

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, agenterr.Wrap(agenterr.KindSystem, "stream: stdout pipe", err)
	}
	var stderrBuf ringBuffer
	cmd.Stderr = &stderrBuf

	if err := cmd.Start(); err != nil {
		return nil, agenterr.Wrap(agenterr.KindAgentCrash, "stream: start child process", err)
	}

	start := time.Now()
	done := make(chan struct{})
	var killed atomic.Bool
	var toolCalls atomic.Int64

	ticker := newProgressTicker(req.RunID, req.WorkOrderID, e.Sink, &toolCalls)
	go ticker.run(runCtx, done)

	go e.consume(runCtx, req, stdout, &toolCalls)

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait(); close(done) }()

	select {
	case err := <-waitErr:
		dur := time.Since(start)
		return e.finish(req, cmd, err, stderrBuf.String(), dur, killed.Load())
	case <-runCtx.Done():
		_ = cmd.Process.Signal(interruptSignal())
		select {
		case err := <-waitErr:
			dur := time.Since(start)
			return e.finish(req, cmd, err, stderrBuf.String(), dur, killed.Load())
		case <-time.After(grace):
			killed.Store(true)
			_ = cmd.Process.Kill()
			err := <-waitErr
			dur := time.Since(start)
			return e.finish(req, cmd, err, stderrBuf.String(), dur, true)
		}
	}
}

func (e *Executor) finish(req Request, cmd *exec.Cmd, waitErr error, stderr string, dur time.Duration, killed bool) (*run.AgentResult, error) {
	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	result := &run.AgentResult{
		Success:    waitErr == nil && !killed,
		ExitCode:   exitCode,
		Stderr:     stderr,
		DurationMs: dur.Milliseconds(),
	}
	if killed {
		return result, agenterr.New(agenterr.KindAgentTimeout, "stream: child process timed out")
	}
	if waitErr != nil {
		return result, agenterr.Wrap(agenterr.KindAgentCrash, "stream: child process exited with error", waitErr)
	}
	return result, nil
}

func (e *Executor) consume(ctx context.Context, req Request, r io.Reader, toolCalls *atomic.Int64) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		evt, err := e.Parser.Feed(req.RunID, req.WorkOrderID, line)
		if err != nil {
			e.Sink.Publish(event.NewError(req.RunID, req.WorkOrderID, string(agenterr.KindAgentCrash), err.Error()))
			continue
		}
		if evt == nil {
			continue
		}
		if _, ok := evt.(event.ToolCall); ok {
			toolCalls.Add(1)
		}
		e.Sink.Publish(evt)
	}
}

// maxLineBytes bounds a single stdout line; agents that emit larger
// single JSON lines than this are considered to be misbehaving.
const maxLineBytes = 8 * 1024 * 1024

// ringBuffer caps stderr capture so a noisy child process cannot exhaust
// memory; only the most recent bytes are kept.
type ringBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

const maxStderrBytes = 64 * 1024

func (b *ringBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Write(p)
	if b.buf.Len() > maxStderrBytes {
		excess := b.buf.Len() - maxStderrBytes
		b.buf.Next(excess)
	}
	return len(p), nil
}

func (b *ringBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
