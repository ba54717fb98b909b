// Package engine ties the pieces together: it plans a task into a
// collaboration, builds the step graph, runs it through the scheduler and
// synthesizes the final result. Every dependency is injected; constructing
// two independent engines in one process is supported and is how tests run.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/concertohq/concerto/pkg/collab"
	"github.com/concertohq/concerto/pkg/registry"
	"github.com/concertohq/concerto/pkg/scheduler"
	"github.com/concertohq/concerto/pkg/synthesis"
	"github.com/concertohq/concerto/pkg/topology"
	"github.com/concertohq/concerto/pkg/worker"
)

// entry is one tracked collaboration with its run state. cancel is non-nil
// once the run has started and is how Stop interrupts in-flight workers.
type entry struct {
	collab *collab.Collaboration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	result  *synthesis.Result
	runErr  error
}

// Engine creates, runs and tracks collaborations.
type Engine struct {
	workers    *worker.Registry
	strategies *topology.Registry
	executor   *scheduler.Executor
	synth      *synthesis.Synthesizer
	planner    Planner
	logger     *slog.Logger

	// Topology parameter defaults applied when a submission does not set
	// them. Zero means the strategy's own built-in default applies.
	defaultRounds     int
	defaultIterations int

	collabs *registry.BaseRegistry[*entry]
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithPlanner sets the planner consulted when a request names no topology.
func WithPlanner(p Planner) EngineOption {
	return func(e *Engine) { e.planner = p }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithDefaults sets the configured topology parameter defaults. They apply
// only when a submission does not set the parameter itself.
func WithDefaults(rounds, iterations int) EngineOption {
	return func(e *Engine) {
		e.defaultRounds = rounds
		e.defaultIterations = iterations
	}
}

// New creates an engine over the given worker registry.
func New(workers *worker.Registry, strategies *topology.Registry, executor *scheduler.Executor, synth *synthesis.Synthesizer, opts ...EngineOption) *Engine {
	e := &Engine{
		workers:    workers,
		strategies: strategies,
		executor:   executor,
		synth:      synth,
		planner:    HeuristicPlanner{},
		logger:     slog.Default(),
		collabs:    registry.NewBaseRegistry[*entry](),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateRequest describes a task submission. Topology and Workers may be left
// empty, in which case the planner decides both.
type CreateRequest struct {
	Workspace string
	Task      string
	Topology  collab.Topology
	Workers   []string
	Params    map[string]any
}

// Create plans the request, builds the step graph and registers the
// collaboration. The returned collaboration is pending until Run or Start.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (*collab.Collaboration, error) {
	if req.Task == "" {
		return nil, fmt.Errorf("task cannot be empty")
	}

	plan, params, err := e.resolvePlan(ctx, req)
	if err != nil {
		return nil, err
	}
	e.applyDefaults(params)
	for _, id := range plan.Workers {
		if _, ok := e.workers.Get(id); !ok {
			return nil, fmt.Errorf("plan references unknown worker '%s'", id)
		}
	}

	strategy, err := e.strategies.ForTopology(plan.Topology)
	if err != nil {
		return nil, err
	}

	c := collab.New(req.Workspace, req.Task, plan.Topology, params)
	topoParams, err := topology.DecodeParams(params)
	if err != nil {
		return nil, err
	}
	steps, err := strategy.Build(req.Task, plan.Workers, topoParams)
	if err != nil {
		return nil, err
	}
	if err := c.SetSteps(steps); err != nil {
		return nil, err
	}

	ent := &entry{collab: c, done: make(chan struct{})}
	if err := e.collabs.Register(c.ID, ent); err != nil {
		return nil, err
	}
	e.logger.Info("collaboration created",
		"collaboration", c.ID, "topology", c.Topology, "workers", len(plan.Workers), "steps", len(steps))
	return c, nil
}

// resolvePlan turns a request into a concrete plan. An explicit topology in
// the request bypasses the planner; a planner failure degrades to the trivial
// single-worker sequential plan instead of rejecting the task.
func (e *Engine) resolvePlan(ctx context.Context, req CreateRequest) (*Plan, map[string]any, error) {
	if req.Topology != "" {
		if !req.Topology.Valid() {
			return nil, nil, fmt.Errorf("unknown topology '%s'", req.Topology)
		}
		if len(req.Workers) == 0 {
			return nil, nil, fmt.Errorf("topology %s requested without workers", req.Topology)
		}
		plan := &Plan{Topology: req.Topology, Workers: req.Workers}
		params := make(map[string]any, len(req.Params))
		for k, v := range req.Params {
			params[k] = v
		}
		return plan, params, nil
	}

	available := req.Workers
	if len(available) == 0 {
		available = e.workers.Names()
	}
	plan, err := e.planner.Plan(ctx, req.Task, available)
	if err != nil {
		e.logger.Warn("planning failed, degrading to sequential fallback",
			"task", req.Task, "error", err)
		plan, err = fallbackPlan(available)
		if err != nil {
			return nil, nil, err
		}
	}
	return plan, plan.params(), nil
}

// applyDefaults fills in the engine's configured topology defaults for
// parameters the submission left unset.
func (e *Engine) applyDefaults(params map[string]any) {
	if e.defaultRounds > 0 {
		if _, ok := params["rounds"]; !ok {
			params["rounds"] = e.defaultRounds
		}
	}
	if e.defaultIterations > 0 {
		if _, ok := params["iterations"]; !ok {
			params["iterations"] = e.defaultIterations
		}
	}
}

// Run executes a collaboration to completion and synthesizes its result. It
// blocks until the collaboration is terminal. A collaboration runs at most
// once.
func (e *Engine) Run(ctx context.Context, id string) (*synthesis.Result, error) {
	ent, err := e.lookup(id)
	if err != nil {
		return nil, err
	}

	ent.mu.Lock()
	if ent.running {
		ent.mu.Unlock()
		return nil, fmt.Errorf("collaboration %s already started", id)
	}
	ent.running = true
	runCtx, cancel := context.WithCancel(ctx)
	ent.cancel = cancel
	ent.mu.Unlock()

	defer cancel()
	result, runErr := e.execute(runCtx, ent.collab)

	ent.mu.Lock()
	ent.result = result
	ent.runErr = runErr
	ent.mu.Unlock()
	close(ent.done)
	return result, runErr
}

// Start launches Run in the background. The run inherits cancellation from
// Stop only, not from the caller's context, so an HTTP request returning does
// not kill the collaboration it submitted.
func (e *Engine) Start(id string) error {
	ent, err := e.lookup(id)
	if err != nil {
		return err
	}
	ent.mu.Lock()
	if ent.running {
		ent.mu.Unlock()
		return fmt.Errorf("collaboration %s already started", id)
	}
	ent.mu.Unlock()

	go func() {
		if _, err := e.Run(context.Background(), id); err != nil {
			e.logger.Warn("collaboration finished with error", "collaboration", id, "error", err)
		}
	}()
	return nil
}

func (e *Engine) execute(ctx context.Context, c *collab.Collaboration) (*synthesis.Result, error) {
	if err := e.executor.Execute(ctx, c); err != nil {
		return nil, err
	}
	result, err := e.synth.Synthesize(ctx, c)
	if err != nil {
		return nil, err
	}
	if result.Method == synthesis.MethodFallback {
		e.logger.Warn("synthesis degraded to raw outputs",
			"collaboration", c.ID, "error", result.Err)
	}
	return result, nil
}

// Stop cancels a running collaboration. In-flight worker invocations see
// their context canceled; the collaboration terminates failed with the
// cancellation recorded on the interrupted step.
func (e *Engine) Stop(id string) error {
	ent, err := e.lookup(id)
	if err != nil {
		return err
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	if ent.cancel == nil {
		return fmt.Errorf("collaboration %s is not running", id)
	}
	ent.cancel()
	return nil
}

// Wait blocks until the collaboration is terminal or ctx expires.
func (e *Engine) Wait(ctx context.Context, id string) (*synthesis.Result, error) {
	ent, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	select {
	case <-ent.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.result, ent.runErr
}

// Snapshot is a point-in-time view of a collaboration.
type Snapshot struct {
	ID        string
	Workspace string
	Task      string
	Topology  collab.Topology
	Status    collab.Status
	Steps     []*collab.Step
	Result    *synthesis.Result
	Err       string
}

// Snapshot returns the current state of a collaboration, including its result
// once it has one.
func (e *Engine) Snapshot(id string) (*Snapshot, error) {
	ent, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	c := ent.collab

	ent.mu.Lock()
	result := ent.result
	runErr := ent.runErr
	ent.mu.Unlock()

	snap := &Snapshot{
		ID:        c.ID,
		Workspace: c.Workspace,
		Task:      c.Task,
		Topology:  c.Topology,
		Status:    c.Status(),
		Steps:     c.Steps(),
		Result:    result,
	}
	if runErr != nil {
		snap.Err = runErr.Error()
	}
	return snap, nil
}

// Collaboration returns the tracked collaboration ledger.
func (e *Engine) Collaboration(id string) (*collab.Collaboration, error) {
	ent, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	return ent.collab, nil
}

// List returns the identifiers of all tracked collaborations, sorted.
func (e *Engine) List() []string {
	return e.collabs.Names()
}

// Remove drops a terminal collaboration from tracking.
func (e *Engine) Remove(id string) error {
	ent, err := e.lookup(id)
	if err != nil {
		return err
	}
	if status := ent.collab.Status(); status == collab.StatusInProgress {
		return fmt.Errorf("collaboration %s is still running", id)
	}
	return e.collabs.Remove(id)
}

// Workers exposes the engine's worker registry.
func (e *Engine) Workers() *worker.Registry {
	return e.workers
}

func (e *Engine) lookup(id string) (*entry, error) {
	ent, ok := e.collabs.Get(id)
	if !ok {
		return nil, fmt.Errorf("collaboration '%s' not found", id)
	}
	return ent, nil
}
