// Package temporal provides a durable executor.Engine backed by Temporal
// (go.temporal.io/sdk): each work order becomes one workflow execution
// that calls a single long-running activity wrapping Driver.Accept.
//
// Driver.Accept itself performs real I/O (subprocess spawn, Mongo
// writes, external Verifier/CIMonitor calls) and is not replay-safe, so
// it cannot run as Temporal workflow code directly; running the whole
// phase loop as one activity trades Temporal's per-phase durability for
// simplicity. A retried activity calls Accept again from the start, and
// Accept always creates the Run record afresh: runstore/inmem overwrites
// the earlier record and the run restarts from QUEUED, while
// runstore/mongo rejects the insert on its unique run_id index, so the
// retry fails rather than resuming from the last transition. Grounded on
// runtime/agent/engine/temporal/engine.go's Options/WorkerOptions shape
// and OTEL interceptor wiring.
package temporal

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/agentgate/core/executor"
	"github.com/agentgate/core/run"
	"github.com/agentgate/core/telemetry"
)

const (
	workflowName = "AgentGateRun"
	activityName = "RunWorkOrder"
)

// Options configures the Temporal-backed Engine.
type Options struct {
	Client        client.Client
	ClientOptions *client.Options
	TaskQueue     string
	WorkerOptions worker.Options

	Logger  telemetry.Logger
	Metrics telemetry.Metrics
	Tracer  telemetry.Tracer
}

// Engine schedules work orders as Temporal workflow executions.
type Engine struct {
	client    client.Client
	ownClient bool
	taskQueue string
	worker    worker.Worker
	driver    *executor.Driver
}

// New connects (or reuses) a Temporal client, registers the workflow and
// activity against a worker on opts.TaskQueue, and starts the worker.
func New(ctx context.Context, driver *executor.Driver, opts Options) (*Engine, error) {
	if opts.TaskQueue == "" {
		return nil, fmt.Errorf("temporal: TaskQueue is required")
	}

	c := opts.Client
	ownClient := false
	if c == nil {
		if opts.ClientOptions == nil {
			return nil, fmt.Errorf("temporal: Client or ClientOptions is required")
		}
		co := *opts.ClientOptions
		tracer, err := temporalotel.NewTracingInterceptor(temporalotel.TracerOptions{})
		if err != nil {
			return nil, fmt.Errorf("temporal: build tracing interceptor: %w", err)
		}
		co.Interceptors = append(co.Interceptors, tracer)
		built, err := client.Dial(co)
		if err != nil {
			return nil, fmt.Errorf("temporal: dial client: %w", err)
		}
		c = built
		ownClient = true
	}

	e := &Engine{client: c, ownClient: ownClient, taskQueue: opts.TaskQueue, driver: driver}

	w := worker.New(c, opts.TaskQueue, opts.WorkerOptions)
	w.RegisterWorkflowWithOptions(e.runWorkflow, workflow.RegisterOptions{Name: workflowName})
	w.RegisterActivityWithOptions(e.runActivity, temporal.RegisterActivityOptions{Name: activityName})
	if err := w.Start(); err != nil {
		if ownClient {
			c.Close()
		}
		return nil, fmt.Errorf("temporal: start worker: %w", err)
	}
	e.worker = w
	return e, nil
}

// Close stops the worker and, if this Engine dialed its own client,
// closes the client connection too.
func (e *Engine) Close() {
	if e.worker != nil {
		e.worker.Stop()
	}
	if e.ownClient {
		e.client.Close()
	}
}

func (e *Engine) Start(ctx context.Context, workOrder run.WorkOrder) (executor.Handle, error) {
	wfRun, err := e.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        workOrder.ID,
		TaskQueue: e.taskQueue,
	}, workflowName, workOrder)
	if err != nil {
		return nil, fmt.Errorf("temporal: start workflow: %w", err)
	}
	return &handle{client: e.client, run: wfRun}, nil
}

// runWorkflow is the Temporal workflow function: it schedules the single
// RunWorkOrder activity with no workflow-level retry (the activity's own
// retry policy, at most three attempts, governs re-attempts after worker
// crashes) and the work order's WallClockBudget (24h when unset) as the
// start-to-close timeout, so Temporal enforces the wall-clock budget;
// Driver.Accept does not read WallClockBudget.
func (e *Engine) runWorkflow(ctx workflow.Context, workOrder run.WorkOrder) (*run.Run, error) {
	budget := workOrder.WallClockBudget
	if budget <= 0 {
		budget = 24 * time.Hour
	}
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: budget,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	}
	actCtx := workflow.WithActivityOptions(ctx, ao)
	var result run.Run
	if err := workflow.ExecuteActivity(actCtx, activityName, workOrder).Get(actCtx, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (e *Engine) runActivity(ctx context.Context, workOrder run.WorkOrder) (*run.Run, error) {
	return e.driver.Accept(ctx, workOrder)
}

type handle struct {
	client client.Client
	run    client.WorkflowRun
}

func (h *handle) Wait(ctx context.Context) (*run.Run, error) {
	var result run.Run
	if err := h.run.Get(ctx, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (h *handle) Cancel(ctx context.Context) error {
	return h.client.CancelWorkflow(ctx, h.run.GetID(), h.run.GetRunID())
}
