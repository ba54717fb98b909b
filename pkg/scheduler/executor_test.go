package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concertohq/concerto/pkg/audit"
	"github.com/concertohq/concerto/pkg/collab"
	"github.com/concertohq/concerto/pkg/topology"
	"github.com/concertohq/concerto/pkg/worker"
)

// eventRecorder collects events; fan-out delivers them concurrently.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) Notify(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) byStatus(status string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

func registryWith(t *testing.T, caps ...worker.Capability) *worker.Registry {
	t.Helper()
	r := worker.NewRegistry()
	for _, cap := range caps {
		require.NoError(t, r.Add(cap))
	}
	return r
}

func upperWorker(id string) worker.Capability {
	return worker.NewFunc(id, "uppercases its input", func(_ context.Context, task string) (string, error) {
		return strings.ToUpper(task), nil
	})
}

func failingWorker(id string) worker.Capability {
	return worker.NewFunc(id, "always fails", func(_ context.Context, _ string) (string, error) {
		return "", fmt.Errorf("model unavailable")
	})
}

func buildCollab(t *testing.T, topo collab.Topology, task string, workers []string, params map[string]any) *collab.Collaboration {
	t.Helper()
	strategies := topology.NewRegistry()
	strategy, err := strategies.ForTopology(topo)
	require.NoError(t, err)
	p, err := topology.DecodeParams(params)
	require.NoError(t, err)
	steps, err := strategy.Build(task, workers, p)
	require.NoError(t, err)
	c := collab.New("", task, topo, params)
	require.NoError(t, c.SetSteps(steps))
	return c
}

func TestExecuteSequential(t *testing.T) {
	workers := registryWith(t,
		upperWorker("first"),
		worker.NewFunc("second", "", func(_ context.Context, task string) (string, error) {
			return task + " [reviewed]", nil
		}),
	)
	rec := &eventRecorder{}
	ex := NewExecutor(workers.Resolver(), WithNotifier(rec), WithAuditStore(audit.NewMemoryStore()))

	c := buildCollab(t, collab.TopologySequential, "hello", []string{"first", "second"}, nil)
	require.NoError(t, ex.Execute(context.Background(), c))
	assert.Equal(t, collab.StatusCompleted, c.Status())

	steps := c.Steps()
	assert.Equal(t, "HELLO", steps[0].Output)
	// The chain threads the first output into the second step's input.
	assert.Contains(t, steps[1].Output, "HELLO")
	assert.Contains(t, steps[1].Output, "[reviewed]")

	completed := rec.byStatus(string(collab.StepStatusCompleted))
	assert.Len(t, completed, 2)
	terminal := rec.byStatus(string(collab.StatusCompleted))
	assert.NotEmpty(t, terminal)
}

func TestExecuteSequentialFailFast(t *testing.T) {
	workers := registryWith(t, upperWorker("a"), failingWorker("b"), upperWorker("c"))
	ex := NewExecutor(workers.Resolver())

	c := buildCollab(t, collab.TopologySequential, "task", []string{"a", "b", "c"}, nil)
	err := ex.Execute(context.Background(), c)
	require.Error(t, err)

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "s1", execErr.StepID)
	assert.Equal(t, "b", execErr.Worker)

	steps := c.Steps()
	assert.Equal(t, collab.StepStatusCompleted, steps[0].Status)
	assert.Equal(t, collab.StepStatusFailed, steps[1].Status)
	// Fail fast: the dependent step is never dispatched.
	assert.Equal(t, collab.StepStatusPending, steps[2].Status)
	assert.Equal(t, collab.StatusFailed, c.Status())
}

func TestExecuteParallel(t *testing.T) {
	workers := registryWith(t, upperWorker("a"), upperWorker("b"), upperWorker("c"))
	ex := NewExecutor(workers.Resolver())

	c := buildCollab(t, collab.TopologyParallel, "task", []string{"a", "b", "c"}, nil)
	require.NoError(t, ex.Execute(context.Background(), c))
	assert.Equal(t, collab.StatusCompleted, c.Status())
	for _, step := range c.Steps() {
		assert.Equal(t, "TASK", step.Output)
	}
}

func TestExecuteParallelSiblingSurvivesFailure(t *testing.T) {
	// A failing branch must not interrupt its in-flight siblings: the other
	// steps run to completion and keep their outputs.
	workers := registryWith(t, upperWorker("a"), failingWorker("b"))
	ex := NewExecutor(workers.Resolver())

	c := buildCollab(t, collab.TopologyParallel, "task", []string{"a", "b"}, nil)
	err := ex.Execute(context.Background(), c)
	require.Error(t, err)
	assert.Equal(t, collab.StatusFailed, c.Status())

	a, ok := c.Step("s0")
	require.True(t, ok)
	assert.Equal(t, collab.StepStatusCompleted, a.Status)
	assert.Equal(t, "TASK", a.Output)

	b, ok := c.Step("s1")
	require.True(t, ok)
	assert.Equal(t, collab.StepStatusFailed, b.Status)
	assert.Contains(t, b.Err, "model unavailable")
}

func TestExecuteDebateRounds(t *testing.T) {
	var mu sync.Mutex
	var order []string
	echo := func(id string) worker.Capability {
		return worker.NewFunc(id, "", func(_ context.Context, task string) (string, error) {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			return id + " argues", nil
		})
	}
	workers := registryWith(t, echo("a"), echo("b"))
	ex := NewExecutor(workers.Resolver())

	c := buildCollab(t, collab.TopologyDebate, "topic", []string{"a", "b"}, map[string]any{"rounds": 2})
	require.NoError(t, ex.Execute(context.Background(), c))
	assert.Equal(t, collab.StatusCompleted, c.Status())
	// Declaration order: round by round, worker by worker.
	assert.Equal(t, []string{"a", "b", "a", "b"}, order)

	// Round 1 steps saw the previous round's output.
	s2, ok := c.Step("s2")
	require.True(t, ok)
	assert.Equal(t, []string{"s0", "s1"}, s2.DependsOn)
}

func TestExecuteCritiqueChain(t *testing.T) {
	workers := registryWith(t,
		worker.NewFunc("maker", "", func(_ context.Context, task string) (string, error) {
			return "draft", nil
		}),
		worker.NewFunc("checker", "", func(_ context.Context, task string) (string, error) {
			return "needs work", nil
		}),
	)
	ex := NewExecutor(workers.Resolver())

	c := buildCollab(t, collab.TopologyCritique, "task", []string{"maker", "checker"}, map[string]any{"iterations": 2})
	require.NoError(t, ex.Execute(context.Background(), c))
	assert.Equal(t, collab.StatusCompleted, c.Status())
	assert.Len(t, c.Steps(), 5)
}

func TestExecuteStepRejectsUnreadyStep(t *testing.T) {
	workers := registryWith(t, upperWorker("a"), upperWorker("b"))
	ex := NewExecutor(workers.Resolver())

	c := buildCollab(t, collab.TopologySequential, "task", []string{"a", "b"}, nil)
	err := ex.ExecuteStep(context.Background(), c, "s1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsatisfied dependencies")

	step, ok := c.Step("s1")
	require.True(t, ok)
	assert.Equal(t, collab.StepStatusPending, step.Status)
}

func TestExecuteStepUnknownWorker(t *testing.T) {
	workers := registryWith(t, upperWorker("a"))
	ex := NewExecutor(workers.Resolver())

	c := collab.New("", "task", collab.TopologySequential, nil)
	require.NoError(t, c.SetSteps([]*collab.Step{
		{ID: "s0", Worker: "ghost", Input: collab.Literal("task")},
	}))

	err := ex.Execute(context.Background(), c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	step, ok := c.Step("s0")
	require.True(t, ok)
	assert.Equal(t, collab.StepStatusFailed, step.Status)
}

func TestExecuteRecordsAuditTrail(t *testing.T) {
	store := audit.NewMemoryStore()
	workers := registryWith(t, upperWorker("a"))
	ex := NewExecutor(workers.Resolver(), WithAuditStore(store))

	c := buildCollab(t, collab.TopologySequential, "hello", []string{"a"}, nil)
	require.NoError(t, ex.Execute(context.Background(), c))

	records, err := store.List(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, audit.KindInput, records[0].Kind)
	assert.Equal(t, "hello", records[0].Content)
	assert.Equal(t, audit.KindOutput, records[1].Kind)
	assert.Equal(t, "HELLO", records[1].Content)

	// The output record's identifier is attached to the step.
	step, ok := c.Step("s0")
	require.True(t, ok)
	assert.Equal(t, []string{records[1].ID}, step.Messages)
}

func TestExecuteUnknownTopology(t *testing.T) {
	workers := registryWith(t, upperWorker("a"))
	ex := NewExecutor(workers.Resolver())

	c := collab.New("", "task", "ring", nil)
	require.NoError(t, c.SetSteps([]*collab.Step{
		{ID: "s0", Worker: "a", Input: collab.Literal("task")},
	}))
	err := ex.Execute(context.Background(), c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no strategy registered")
}
