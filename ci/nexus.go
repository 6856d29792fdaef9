// Package ci provides a reference executor.CIMonitor implementation that
// models "wait for a PR's checks to settle" as a Nexus async operation
// (github.com/nexus-rpc/sdk-go): CI completion is itself a long-running,
// externally-driven process owned by another system (a CI provider, or a
// webhook-fed status service sitting in front of one), which is exactly the
// shape Nexus operations are for. Peripheral, example collaborator, not
// part of the core: the executor only depends on executor.CIMonitor, never
// on this package directly.
//
// nexus-rpc/sdk-go sits in the teacher's module graph as a transitive
// dependency of its Temporal Nexus support but is not directly imported by
// any teacher file; this package is the first to exercise it directly, in
// the start-then-poll shape its own client API documents.
package ci

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nexus-rpc/sdk-go/nexus"

	"github.com/agentgate/core/executor"
)

// statusOperation names the Nexus operation this monitor starts: given a PR
// URL it resolves to the terminal CI result once checks settle.
var statusOperation = nexus.NewOperationReference[string, executor.CIResult]("agentgate.ci-status")

// NexusOptions configures a NexusMonitor.
type NexusOptions struct {
	// BaseURL is the Nexus endpoint hosting the agentgate.ci-status
	// operation (typically a small service bridging to the CI provider's
	// own webhook/status API).
	BaseURL string
	// Service is the Nexus service name the operation is registered
	// under.
	Service string
	// PollEvery bounds how often GetResult re-polls a still-pending
	// operation; defaults to 15s.
	PollEvery time.Duration
}

// NexusMonitor implements executor.CIMonitor by starting (or resuming) a
// Nexus async operation and polling it to completion.
type NexusMonitor struct {
	client    *nexus.HTTPClient
	pollEvery time.Duration
}

// NewNexusMonitor builds a NexusMonitor against the given Nexus endpoint.
func NewNexusMonitor(opts NexusOptions) (*NexusMonitor, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("ci: BaseURL is required")
	}
	if opts.Service == "" {
		return nil, errors.New("ci: Service is required")
	}
	client, err := nexus.NewHTTPClient(nexus.HTTPClientOptions{
		BaseURL: opts.BaseURL,
		Service: opts.Service,
	})
	if err != nil {
		return nil, fmt.Errorf("ci: build nexus client: %w", err)
	}
	pollEvery := opts.PollEvery
	if pollEvery <= 0 {
		pollEvery = 15 * time.Second
	}
	return &NexusMonitor{client: client, pollEvery: pollEvery}, nil
}

// Wait starts the agentgate.ci-status operation for prURL and blocks,
// re-polling every pollEvery, until it completes or ctx is canceled.
func (m *NexusMonitor) Wait(ctx context.Context, prURL string) (executor.CIResult, error) {
	started, err := nexus.StartOperation(ctx, m.client, statusOperation, prURL, nexus.StartOperationOptions{})
	if err != nil {
		return executor.CIResult{}, fmt.Errorf("ci: start nexus operation: %w", err)
	}
	if started.Pending == nil {
		return started.Successful, nil
	}

	handle := started.Pending
	ticker := time.NewTicker(m.pollEvery)
	defer ticker.Stop()
	for {
		result, err := handle.GetResult(ctx, nexus.GetOperationResultOptions{})
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, nexus.ErrOperationStillRunning) {
			return executor.CIResult{}, fmt.Errorf("ci: poll nexus operation: %w", err)
		}
		select {
		case <-ctx.Done():
			return executor.CIResult{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
