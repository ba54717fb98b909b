package engine

import (
	"context"
	"fmt"

	"github.com/concertohq/concerto/pkg/collab"
)

// Plan describes how a task should be executed: which coordination pattern,
// which workers in which order, and the pattern's parameters.
type Plan struct {
	Topology   collab.Topology
	Workers    []string
	Rounds     int
	Iterations int

	// Subtasks optionally assigns an explicit per-worker task, positionally.
	Subtasks []string
}

// params renders the plan's topology parameters in ledger metadata form.
func (p *Plan) params() map[string]any {
	out := make(map[string]any)
	if p.Rounds > 0 {
		out["rounds"] = p.Rounds
	}
	if p.Iterations > 0 {
		out["iterations"] = p.Iterations
	}
	if len(p.Subtasks) > 0 {
		out["subtasks"] = p.Subtasks
	}
	return out
}

// Planner chooses a plan for a task given the available worker identifiers.
type Planner interface {
	Plan(ctx context.Context, task string, workers []string) (*Plan, error)
}

// PlannerFunc adapts a function into a Planner.
type PlannerFunc func(ctx context.Context, task string, workers []string) (*Plan, error)

func (f PlannerFunc) Plan(ctx context.Context, task string, workers []string) (*Plan, error) {
	return f(ctx, task, workers)
}

// PlanningError wraps a planner failure. The engine recovers from it by
// degrading to a trivial single-worker sequential plan rather than refusing
// the task.
type PlanningError struct {
	Err error
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("planning failed: %v", e.Err)
}

func (e *PlanningError) Unwrap() error {
	return e.Err
}

// fallbackPlan is the degraded plan used when planning fails: the first
// available worker handles the whole task sequentially.
func fallbackPlan(workers []string) (*Plan, error) {
	if len(workers) == 0 {
		return nil, fmt.Errorf("no workers available for fallback plan")
	}
	return &Plan{
		Topology: collab.TopologySequential,
		Workers:  workers[:1],
	}, nil
}

// HeuristicPlanner picks a topology from worker count alone: one worker runs
// sequentially, anything more fans out in parallel. It never fails when at
// least one worker exists, which makes it a safe default.
type HeuristicPlanner struct{}

func (HeuristicPlanner) Plan(_ context.Context, _ string, workers []string) (*Plan, error) {
	if len(workers) == 0 {
		return nil, &PlanningError{Err: fmt.Errorf("no workers available")}
	}
	if len(workers) == 1 {
		return &Plan{Topology: collab.TopologySequential, Workers: workers}, nil
	}
	return &Plan{Topology: collab.TopologyParallel, Workers: workers}, nil
}

// WorkerPlanner delegates planning to a capability, expecting it to answer
// with a topology name and worker list. Used when an external service decides
// coordination. Any failure, including an unparseable answer, surfaces as
// PlanningError so the engine can degrade.
type WorkerPlanner struct {
	Invoke func(ctx context.Context, task string) (string, error)
	Parse  func(answer string, workers []string) (*Plan, error)
}

func (p *WorkerPlanner) Plan(ctx context.Context, task string, workers []string) (*Plan, error) {
	if p.Invoke == nil || p.Parse == nil {
		return nil, &PlanningError{Err: fmt.Errorf("worker planner is not configured")}
	}
	answer, err := p.Invoke(ctx, task)
	if err != nil {
		return nil, &PlanningError{Err: err}
	}
	plan, err := p.Parse(answer, workers)
	if err != nil {
		return nil, &PlanningError{Err: err}
	}
	if !plan.Topology.Valid() {
		return nil, &PlanningError{Err: fmt.Errorf("planner chose unknown topology '%s'", plan.Topology)}
	}
	return plan, nil
}
