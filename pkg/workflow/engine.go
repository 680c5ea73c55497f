// Package workflow implements the §4.D durable workflow runtime: journaled,
// multi-step execution for the long-running operations named in SPEC_FULL.md
// (crawl_website_full, regenerate_posts, extract_org_posts,
// confirm_newsletter, subscribe_newsletter, resource_link,
// website_research). Temporal provides the journal (its event history is the
// durable log of which steps ran and what they returned); this package
// wraps Temporal's client/worker plumbing the way the teacher's engine
// adapter does, generalized from one agent-run workflow to several named
// ones.
package workflow

import (
	"context"
	"fmt"
	"sync"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/fourthplaces/seesaw/internal/telemetry"
)

// Options configures the Engine. Either Client or ClientOptions must be set.
type Options struct {
	Client        client.Client
	ClientOptions *client.Options

	// DefaultTaskQueue is used when a workflow or activity registration
	// omits its own queue.
	DefaultTaskQueue string
	WorkerOptions    worker.Options

	DisableTracing bool
	DisableMetrics bool

	// DisableWorkerAutoStart requires the caller to invoke Worker().Start()
	// explicitly. When false, workers start lazily on first StartWorkflow.
	DisableWorkerAutoStart bool

	Logger telemetry.Logger
}

// Engine is the durable execution backend: workflow/activity registration,
// one worker per task queue, workflow start/signal/cancel handles.
type Engine struct {
	client      client.Client
	closeClient bool

	defaultQueue      string
	workerOpts        worker.Options
	autoStartDisabled bool
	logger            telemetry.Logger

	mu             sync.Mutex
	workers        map[string]worker.Worker
	workersStarted bool
	registered     map[string]string // workflow name -> queue
}

// New constructs an Engine.
func New(opts Options) (*Engine, error) {
	if opts.DefaultTaskQueue == "" {
		return nil, fmt.Errorf("workflow engine: default task queue is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}

	clientOpts := client.Options{}
	if opts.ClientOptions != nil {
		clientOpts = *opts.ClientOptions
	}
	workerOpts := opts.WorkerOptions

	if !opts.DisableTracing {
		tracer, err := temporalotel.NewTracingInterceptor(temporalotel.TracerOptions{})
		if err != nil {
			return nil, fmt.Errorf("workflow engine: tracing interceptor: %w", err)
		}
		clientOpts.Interceptors = append(clientOpts.Interceptors, tracer)
		workerOpts.Interceptors = append(workerOpts.Interceptors, tracer)
	}
	if !opts.DisableMetrics {
		clientOpts.MetricsHandler = temporalotel.NewMetricsHandler(temporalotel.MetricsHandlerOptions{})
	}

	cli := opts.Client
	closeClient := false
	if cli == nil {
		c, err := client.NewLazyClient(clientOpts)
		if err != nil {
			return nil, fmt.Errorf("workflow engine: create client: %w", err)
		}
		cli = c
		closeClient = true
	}

	return &Engine{
		client:            cli,
		closeClient:       closeClient,
		defaultQueue:      opts.DefaultTaskQueue,
		workerOpts:        workerOpts,
		autoStartDisabled: opts.DisableWorkerAutoStart,
		logger:            logger,
		workers:           make(map[string]worker.Worker),
		registered:        make(map[string]string),
	}, nil
}

// RegisterWorkflow registers a Temporal workflow function under name on
// queue (or the engine's default queue, if empty).
func (e *Engine) RegisterWorkflow(name, queue string, fn any) error {
	w, err := e.workerForQueue(queue)
	if err != nil {
		return err
	}
	w.RegisterWorkflowWithOptions(fn, workflow.RegisterOptions{Name: name})

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.registered[name]; exists {
		return fmt.Errorf("workflow engine: workflow %q already registered", name)
	}
	e.registered[name] = queue
	return nil
}

// RegisterActivity registers an activity function under name on queue.
func (e *Engine) RegisterActivity(name, queue string, fn any) error {
	w, err := e.workerForQueue(queue)
	if err != nil {
		return err
	}
	w.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: name})
	return nil
}

// StartRequest describes a new workflow execution.
type StartRequest struct {
	ID        string
	Workflow  string
	TaskQueue string
	Input     any
	// RetryPolicy is forwarded to Temporal; a nil policy uses Temporal's
	// server-side default (unlimited retries with backoff), appropriate for
	// workflows that must eventually complete rather than give up.
	RetryPolicy *temporal.RetryPolicy
}

// Handle lets a caller wait for, signal, or cancel a started workflow.
type Handle interface {
	Wait(ctx context.Context, result any) error
	Signal(ctx context.Context, name string, payload any) error
	Cancel(ctx context.Context) error
}

// StartWorkflow launches req.Workflow. Workers for req.Workflow's queue are
// started automatically unless DisableWorkerAutoStart was set.
func (e *Engine) StartWorkflow(ctx context.Context, req StartRequest) (Handle, error) {
	if req.Workflow == "" {
		return nil, fmt.Errorf("workflow engine: workflow name is required")
	}
	if !e.autoStartDisabled {
		e.ensureWorkersStarted()
	}

	queue := req.TaskQueue
	if queue == "" {
		e.mu.Lock()
		queue = e.registered[req.Workflow]
		e.mu.Unlock()
	}
	if queue == "" {
		queue = e.defaultQueue
	}

	opts := client.StartWorkflowOptions{ID: req.ID, TaskQueue: queue}
	if req.RetryPolicy != nil {
		opts.RetryPolicy = req.RetryPolicy
	}

	run, err := e.client.ExecuteWorkflow(ctx, opts, req.Workflow, req.Input)
	if err != nil {
		return nil, err
	}
	return &handle{run: run, client: e.client}, nil
}

// Worker returns a controller for starting/stopping every registered worker.
func (e *Engine) Worker() *WorkerController {
	return &WorkerController{engine: e}
}

// Close shuts down the client if the engine created it.
func (e *Engine) Close() error {
	if e.closeClient && e.client != nil {
		e.client.Close()
	}
	return nil
}

func (e *Engine) workerForQueue(queue string) (worker.Worker, error) {
	if queue == "" {
		queue = e.defaultQueue
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if w, ok := e.workers[queue]; ok {
		return w, nil
	}
	w := worker.New(e.client, queue, e.workerOpts)
	e.workers[queue] = w
	if e.workersStarted {
		e.startWorkerLocked(queue, w)
	}
	return w, nil
}

func (e *Engine) ensureWorkersStarted() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.workersStarted {
		return
	}
	e.workersStarted = true
	for queue, w := range e.workers {
		e.startWorkerLocked(queue, w)
	}
}

func (e *Engine) startWorkerLocked(queue string, w worker.Worker) {
	go func() {
		if err := w.Run(worker.InterruptCh()); err != nil {
			e.logger.Error(context.Background(), "workflow worker exited", "queue", queue, "err", err)
		}
	}()
}

// WorkerController manages start/stop of every worker an Engine owns.
type WorkerController struct {
	engine *Engine
}

func (c *WorkerController) Start() { c.engine.ensureWorkersStarted() }

func (c *WorkerController) Stop() {
	c.engine.mu.Lock()
	defer c.engine.mu.Unlock()
	for _, w := range c.engine.workers {
		w.Stop()
	}
}

type handle struct {
	run    client.WorkflowRun
	client client.Client
}

func (h *handle) Wait(ctx context.Context, result any) error {
	return h.run.Get(ctx, result)
}

func (h *handle) Signal(ctx context.Context, name string, payload any) error {
	return h.client.SignalWorkflow(ctx, h.run.GetID(), h.run.GetRunID(), name, payload)
}

func (h *handle) Cancel(ctx context.Context) error {
	return h.client.CancelWorkflow(ctx, h.run.GetID(), h.run.GetRunID())
}
