// Package scheduler executes a collaboration's step graph: it drains the
// ready-step frontier, dispatches steps to workers, keeps the ledger current
// and emits progress events. Failure is terminal: no retry, no backoff, and
// no further ready steps once a step has failed.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/concertohq/concerto/pkg/audit"
	"github.com/concertohq/concerto/pkg/collab"
	"github.com/concertohq/concerto/pkg/observability"
	"github.com/concertohq/concerto/pkg/topology"
	"github.com/concertohq/concerto/pkg/worker"
)

// ExecutionError reports which step failed and why.
type ExecutionError struct {
	CollaborationID string
	StepID          string
	Worker          string
	Err             error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("collaboration %s: step %s (worker %s) failed: %v",
		e.CollaborationID, e.StepID, e.Worker, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Executor schedules and executes collaboration steps.
type Executor struct {
	resolver   worker.Resolver
	strategies *topology.Registry
	notifier   Notifier
	store      audit.Store
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithNotifier sets the progress event sink.
func WithNotifier(n Notifier) Option {
	return func(e *Executor) { e.notifier = n }
}

// WithAuditStore sets the optional audit-trail store.
func WithAuditStore(s audit.Store) Option {
	return func(e *Executor) { e.store = s }
}

// WithMetrics sets the optional metrics recorder.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithLogger sets the executor logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithStrategies sets the topology strategy registry.
func WithStrategies(r *topology.Registry) Option {
	return func(e *Executor) { e.strategies = r }
}

// NewExecutor creates an executor dispatching to workers through resolver.
func NewExecutor(resolver worker.Resolver, opts ...Option) *Executor {
	e := &Executor{
		resolver:   resolver,
		strategies: topology.NewRegistry(),
		notifier:   NopNotifier{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ReadySteps returns the identifiers of all pending steps whose dependencies
// are fully completed. Pure: no side effects, stable across calls with no
// intervening mutation.
func (e *Executor) ReadySteps(c *collab.Collaboration) []string {
	return c.ReadySteps()
}

// ExecuteStep runs one step to completion: it rechecks dependencies, resolves
// the input, invokes the worker and records the outcome in the ledger,
// emitting a progress event on each transition.
func (e *Executor) ExecuteStep(ctx context.Context, c *collab.Collaboration, stepID string) error {
	step, ok := c.Step(stepID)
	if !ok {
		return fmt.Errorf("collaboration %s: step %s not found", c.ID, stepID)
	}

	// Callers only submit ready steps; recheck anyway so a scheduling bug
	// cannot start a step before its dependencies completed.
	satisfied, err := c.DependenciesSatisfied(stepID)
	if err != nil {
		return err
	}
	if !satisfied {
		return fmt.Errorf("collaboration %s: step %s has unsatisfied dependencies", c.ID, stepID)
	}

	input, err := c.ResolveInput(stepID)
	if err != nil {
		return err
	}

	if err := c.MarkInProgress(stepID); err != nil {
		return err
	}
	e.notify(c, stepID, string(collab.StepStatusInProgress), step.Worker, "")

	cap, err := e.resolver(step.Worker)
	if err != nil {
		return e.failStep(ctx, c, stepID, step.Worker, fmt.Errorf("worker resolution failed: %w", err))
	}

	e.appendRecord(ctx, c, stepID, step.Worker, audit.KindInput, input)

	start := time.Now()
	output, err := cap.Invoke(ctx, input)
	duration := time.Since(start)
	e.recordStep(ctx, c, duration, err != nil)

	if err != nil {
		return e.failStep(ctx, c, stepID, step.Worker, err)
	}

	if id, ok := e.appendRecord(ctx, c, stepID, step.Worker, audit.KindOutput, output); ok {
		_ = c.AppendMessages(stepID, id)
	}
	if err := c.MarkCompleted(stepID, output); err != nil {
		return err
	}
	e.notify(c, stepID, string(collab.StepStatusCompleted), step.Worker, "")
	e.logger.Debug("step completed",
		"collaboration", c.ID, "step", stepID, "worker", step.Worker, "duration", duration)
	return nil
}

// Execute drains the ready-step frontier until no steps remain or a step
// fails. Topologies whose strategy reports FanOut dispatch all ready steps
// concurrently and join; everything else runs the first ready step to
// completion, one at a time, which gives a deterministic order even when a
// round makes several steps ready at once.
func (e *Executor) Execute(ctx context.Context, c *collab.Collaboration) error {
	strategy, err := e.strategies.ForTopology(c.Topology)
	if err != nil {
		return err
	}
	e.metrics.RecordCollaborationStarted(ctx, string(c.Topology))

	var execErr error
	if strategy.FanOut() {
		// Dependency-free graph: one fan-out/join pass covers every step.
		// This shortcut must not be reused for a topology mixing independent
		// and dependent steps; such a strategy reports FanOut()==false and
		// takes the loop below.
		execErr = e.fanOut(ctx, c)
	} else {
		for {
			ready := c.ReadySteps()
			if len(ready) == 0 {
				break
			}
			if err := e.ExecuteStep(ctx, c, ready[0]); err != nil {
				execErr = err
				break
			}
		}
	}

	status := c.Status()
	e.metrics.RecordCollaborationFinished(ctx, string(c.Topology), string(status))

	switch status {
	case collab.StatusCompleted:
		e.notify(c, "", string(collab.StatusCompleted), "", "")
		return nil
	case collab.StatusFailed:
		failed, _ := c.FailedStep()
		msg := ""
		workerName := ""
		if failed != nil {
			msg = failed.Err
			workerName = failed.Worker
		}
		e.notify(c, "", string(collab.StatusFailed), workerName, msg)
		if execErr != nil {
			return execErr
		}
		if failed != nil {
			return &ExecutionError{
				CollaborationID: c.ID,
				StepID:          failed.ID,
				Worker:          failed.Worker,
				Err:             fmt.Errorf("%s", failed.Err),
			}
		}
		return fmt.Errorf("collaboration %s failed", c.ID)
	default:
		if execErr != nil {
			return execErr
		}
		// No ready steps but not terminal: the graph stalled, which a valid
		// builder cannot produce.
		return fmt.Errorf("collaboration %s stalled with status %s", c.ID, status)
	}
}

// fanOut dispatches every currently ready step concurrently and waits for all
// of them. Siblings of a failing step are not interrupted; they run to
// completion and the first error is reported after the join.
func (e *Executor) fanOut(ctx context.Context, c *collab.Collaboration) error {
	ready := c.ReadySteps()
	var g errgroup.Group
	for _, stepID := range ready {
		g.Go(func() error {
			return e.ExecuteStep(ctx, c, stepID)
		})
	}
	return g.Wait()
}

func (e *Executor) failStep(ctx context.Context, c *collab.Collaboration, stepID, workerName string, cause error) error {
	if id, ok := e.appendRecord(ctx, c, stepID, workerName, audit.KindError, cause.Error()); ok {
		_ = c.AppendMessages(stepID, id)
	}
	if err := c.MarkFailed(stepID, cause); err != nil {
		e.logger.Error("failed to record step failure",
			"collaboration", c.ID, "step", stepID, "error", err)
	}
	e.notify(c, stepID, string(collab.StepStatusFailed), workerName, cause.Error())
	return &ExecutionError{
		CollaborationID: c.ID,
		StepID:          stepID,
		Worker:          workerName,
		Err:             cause,
	}
}

func (e *Executor) notify(c *collab.Collaboration, stepID, status, workerName, errMsg string) {
	e.notifier.Notify(Event{
		Timestamp:       time.Now(),
		CollaborationID: c.ID,
		StepID:          stepID,
		Status:          status,
		Worker:          workerName,
		Err:             errMsg,
	})
}

func (e *Executor) appendRecord(ctx context.Context, c *collab.Collaboration, stepID, workerName, kind, content string) (string, bool) {
	if e.store == nil {
		return "", false
	}
	id, err := e.store.Append(ctx, &audit.Record{
		CollaborationID: c.ID,
		StepID:          stepID,
		Worker:          workerName,
		Kind:            kind,
		Content:         content,
	})
	if err != nil {
		// The trail is best effort; losing a record must not fail the step.
		e.logger.Warn("failed to append audit record",
			"collaboration", c.ID, "step", stepID, "kind", kind, "error", err)
		return "", false
	}
	return id, true
}

func (e *Executor) recordStep(ctx context.Context, c *collab.Collaboration, d time.Duration, failed bool) {
	e.metrics.RecordStep(ctx, string(c.Topology), d, failed)
}
