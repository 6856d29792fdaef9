// Package inmem provides a local, non-durable executor.Engine: each run
// is one goroutine calling Driver.Accept directly. Suitable for tests,
// local development, and single-process deployments; a process restart
// loses any in-flight run's progress (the Run Store record survives, but
// nothing resumes it).
//
// Grounded on runtime/agent/engine/inmem/engine.go's goroutine-per-workflow
// shape (a done channel plus a status map), simplified since AgentGate has
// exactly one workflow shape (run a work order) instead of a registry of
// named workflows.
package inmem

import (
	"context"
	"sync"

	"github.com/agentgate/core/executor"
	"github.com/agentgate/core/run"
)

// Engine runs work orders as plain goroutines against a shared Driver.
type Engine struct {
	driver *executor.Driver
}

// New constructs an Engine dispatching onto driver.
func New(driver *executor.Driver) *Engine {
	return &Engine{driver: driver}
}

type handle struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	result *run.Run
	err    error
}

func (e *Engine) Start(ctx context.Context, workOrder run.WorkOrder) (executor.Handle, error) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &handle{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(h.done)
		r, err := e.driver.Accept(runCtx, workOrder)
		h.mu.Lock()
		h.result, h.err = r, err
		h.mu.Unlock()
	}()

	return h, nil
}

func (h *handle) Wait(ctx context.Context) (*run.Run, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.result, h.err
	}
}

func (h *handle) Cancel(_ context.Context) error {
	h.cancel()
	return nil
}
