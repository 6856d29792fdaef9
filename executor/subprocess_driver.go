package executor

import (
	"context"
	"os"
	"strings"

	"github.com/agentgate/core/run"
	"github.com/agentgate/core/stream"
)

// subscriptionStrippedVars are removed from the child environment when
// SubprocessDriver.SubscriptionBillingMode is set, so a run billed
// through a subscription plan cannot also spend against an API key
// present in the parent environment (spec.md §6 Environment
// sanitization).
var subscriptionStrippedVars = []string{
	"ANTHROPIC_API_KEY",
	"CLAUDE_API_KEY",
	"ANTHROPIC_API_BASE",
	"ANTHROPIC_BASE_URL",
}

// SubprocessDriver adapts a stream.Executor (a child-process agent) to
// the AgentDriver interface, so the Phase Driver can treat a CLI-based
// coding agent the same way it treats an API-based one (drivers/).
type SubprocessDriver struct {
	Executor                *stream.Executor
	Command                 string
	Args                    []string
	SubscriptionBillingMode bool
	Capabilities_           AgentCapabilities
}

// NewSubprocessDriver builds a SubprocessDriver invoking command/args for
// every iteration, streaming parsed events through executor's Sink.
func NewSubprocessDriver(ex *stream.Executor, command string, args []string, subscriptionMode bool) *SubprocessDriver {
	return &SubprocessDriver{Executor: ex, Command: command, Args: args, SubscriptionBillingMode: subscriptionMode}
}

func (d *SubprocessDriver) Execute(ctx context.Context, req AgentRequest) (*run.AgentResult, error) {
	return d.Executor.Spawn(ctx, stream.Request{
		RunID:       req.RunID,
		WorkOrderID: req.WorkOrderID,
		Command:     d.Command,
		Args:        append(append([]string{}, d.Args...), promptArgs(req)...),
		Dir:         req.Workspace.Root,
		Env:         sanitizedEnv(d.SubscriptionBillingMode),
		Timeout:     req.Timeout,
	})
}

func (d *SubprocessDriver) IsAvailable(_ context.Context) bool { return d.Command != "" }

func (d *SubprocessDriver) Capabilities() AgentCapabilities { return d.Capabilities_ }

func promptArgs(req AgentRequest) []string {
	if req.Feedback != "" {
		return []string{"--feedback", req.Feedback}
	}
	return []string{"--prompt", req.TaskPrompt}
}

// sanitizedEnv copies the parent environment, stripping billing-sensitive
// variables in subscription mode and forcing deterministic, colorless
// output regardless of mode.
func sanitizedEnv(subscriptionMode bool) []string {
	parent := os.Environ()
	out := make([]string, 0, len(parent)+2)
	for _, kv := range parent {
		if subscriptionMode && isStrippedVar(kv) {
			continue
		}
		out = append(out, kv)
	}
	out = append(out, "NO_COLOR=1", "FORCE_COLOR=0")
	return out
}

func isStrippedVar(kv string) bool {
	name, _, found := strings.Cut(kv, "=")
	if !found {
		return false
	}
	for _, v := range subscriptionStrippedVars {
		if name == v {
			return true
		}
	}
	return false
}
