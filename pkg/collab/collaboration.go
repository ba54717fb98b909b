package collab

import (
	"sync"

	"github.com/google/uuid"
)

// Collaboration is the in-memory ledger for one multi-worker execution. The
// graph is static: all steps are installed by exactly one SetSteps call before
// scheduling starts, and only their status, output and messages change
// afterwards. Every mutation is serialized through the ledger mutex so that
// concurrent step completions from a parallel fan-out never interleave.
type Collaboration struct {
	ID        string
	Workspace string
	Task      string
	Topology  Topology

	// Params carries topology-specific parameters (round count, iteration
	// count, per-worker subtasks) as declared by the planning step.
	Params map[string]any

	mu      sync.RWMutex
	steps   []*Step
	byID    map[string]*Step
	started bool
}

// New creates an empty collaboration for a task.
func New(workspace, task string, topology Topology, params map[string]any) *Collaboration {
	if params == nil {
		params = make(map[string]any)
	}
	return &Collaboration{
		ID:        uuid.New().String(),
		Workspace: workspace,
		Task:      task,
		Topology:  topology,
		Params:    params,
		byID:      make(map[string]*Step),
	}
}

// SetSteps installs the step graph produced by a topology builder. It may be
// called exactly once. Steps must be declared in dependency order: every
// dependency must name an earlier-declared step. A malformed graph is a
// builder defect and panics with GraphInvariantViolation.
func (c *Collaboration) SetSteps(steps []*Step) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.steps) > 0 {
		return newLedgerError("SetSteps", "", "steps already populated", nil)
	}
	if len(steps) == 0 {
		return newLedgerError("SetSteps", "", "step set cannot be empty", nil)
	}

	seen := make(map[string]bool, len(steps))
	for _, step := range steps {
		if step.ID == "" {
			panic(&GraphInvariantViolation{StepID: step.ID, Message: "empty step identifier"})
		}
		if seen[step.ID] {
			panic(&GraphInvariantViolation{StepID: step.ID, Message: "duplicate step identifier"})
		}
		if step.Worker == "" {
			panic(&GraphInvariantViolation{StepID: step.ID, Message: "step has no worker"})
		}
		for _, dep := range step.DependsOn {
			if !seen[dep] {
				panic(&GraphInvariantViolation{StepID: step.ID, Message: "dependency " + dep + " is unknown or declared later"})
			}
		}
		if step.Input.Ref != nil {
			idx := step.Input.Ref.Dependency
			if len(step.DependsOn) == 0 {
				panic(&GraphInvariantViolation{StepID: step.ID, Message: "input references a dependency output but the step has no dependencies"})
			}
			if idx != LastDependency && (idx < 0 || idx >= len(step.DependsOn)) {
				panic(&GraphInvariantViolation{StepID: step.ID, Message: "input reference index out of range"})
			}
		}
		seen[step.ID] = true
	}

	c.steps = make([]*Step, 0, len(steps))
	for _, step := range steps {
		cp := step.clone()
		cp.Status = StepStatusPending
		cp.Output = ""
		cp.Err = ""
		c.steps = append(c.steps, cp)
		c.byID[cp.ID] = cp
	}
	return nil
}

// Status derives the aggregate state from the step statuses. Failed wins over
// everything, Completed requires every step completed, and a collaboration
// that has begun scheduling but is not terminal is InProgress.
func (c *Collaboration) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.statusLocked()
}

func (c *Collaboration) statusLocked() Status {
	if len(c.steps) == 0 {
		return StatusPending
	}
	completed := 0
	for _, step := range c.steps {
		switch step.Status {
		case StepStatusFailed:
			return StatusFailed
		case StepStatusCompleted:
			completed++
		}
	}
	if completed == len(c.steps) {
		return StatusCompleted
	}
	if c.started {
		return StatusInProgress
	}
	return StatusPending
}

// ReadySteps returns the identifiers of all pending steps whose dependencies
// are fully completed, in declaration order. It is a pure read: calling it
// twice with no intervening mutation returns identical results.
func (c *Collaboration) ReadySteps() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var ready []string
	for _, step := range c.steps {
		if step.Status != StepStatusPending {
			continue
		}
		if c.dependenciesCompletedLocked(step) {
			ready = append(ready, step.ID)
		}
	}
	return ready
}

// DependenciesSatisfied reports whether every dependency of the step is
// completed. Used by the executor as a defensive recheck before dispatch.
func (c *Collaboration) DependenciesSatisfied(stepID string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	step, ok := c.byID[stepID]
	if !ok {
		return false, newLedgerError("DependenciesSatisfied", stepID, "step not found", nil)
	}
	return c.dependenciesCompletedLocked(step), nil
}

func (c *Collaboration) dependenciesCompletedLocked(step *Step) bool {
	for _, dep := range step.DependsOn {
		if c.byID[dep].Status != StepStatusCompleted {
			return false
		}
	}
	return true
}

// ResolveInput renders the step's input, injecting the referenced dependency
// output. A reference of LastDependency resolves to the last-declared
// dependency, which is the tie-break when a step has several.
func (c *Collaboration) ResolveInput(stepID string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	step, ok := c.byID[stepID]
	if !ok {
		return "", newLedgerError("ResolveInput", stepID, "step not found", nil)
	}
	in := step.Input
	if in.Ref == nil {
		return in.Before + in.After, nil
	}

	idx := in.Ref.Dependency
	if idx == LastDependency {
		idx = len(step.DependsOn) - 1
	}
	if idx < 0 || idx >= len(step.DependsOn) {
		return "", newLedgerError("ResolveInput", stepID, "input reference index out of range", nil)
	}
	dep := c.byID[step.DependsOn[idx]]
	if dep.Status != StepStatusCompleted {
		return "", newLedgerError("ResolveInput", stepID, "referenced dependency "+dep.ID+" has not completed", nil)
	}
	return in.Before + dep.Output + in.After, nil
}

// MarkInProgress transitions a pending step to InProgress. The transition is
// only legal once every dependency has completed.
func (c *Collaboration) MarkInProgress(stepID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	step, ok := c.byID[stepID]
	if !ok {
		return newLedgerError("MarkInProgress", stepID, "step not found", nil)
	}
	if step.Status.IsTerminal() {
		return newLedgerError("MarkInProgress", stepID, "step already terminal", nil)
	}
	if step.Status != StepStatusPending {
		return newLedgerError("MarkInProgress", stepID, "step is not pending", nil)
	}
	if !c.dependenciesCompletedLocked(step) {
		return newLedgerError("MarkInProgress", stepID, "dependencies not completed", nil)
	}
	step.Status = StepStatusInProgress
	c.started = true
	return nil
}

// MarkCompleted records the output and transitions an InProgress step to
// Completed. Terminal statuses are immutable.
func (c *Collaboration) MarkCompleted(stepID, output string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	step, ok := c.byID[stepID]
	if !ok {
		return newLedgerError("MarkCompleted", stepID, "step not found", nil)
	}
	if step.Status.IsTerminal() {
		return newLedgerError("MarkCompleted", stepID, "step already terminal", nil)
	}
	if step.Status != StepStatusInProgress {
		return newLedgerError("MarkCompleted", stepID, "step is not in progress", nil)
	}
	step.Status = StepStatusCompleted
	step.Output = output
	return nil
}

// MarkFailed records the failure and transitions an InProgress step to
// Failed. Terminal statuses are immutable.
func (c *Collaboration) MarkFailed(stepID string, cause error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	step, ok := c.byID[stepID]
	if !ok {
		return newLedgerError("MarkFailed", stepID, "step not found", nil)
	}
	if step.Status.IsTerminal() {
		return newLedgerError("MarkFailed", stepID, "step already terminal", nil)
	}
	if step.Status != StepStatusInProgress {
		return newLedgerError("MarkFailed", stepID, "step is not in progress", nil)
	}
	step.Status = StepStatusFailed
	if cause != nil {
		step.Err = cause.Error()
	}
	return nil
}

// AppendMessages attaches audit-trail message identifiers to a step.
func (c *Collaboration) AppendMessages(stepID string, ids ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	step, ok := c.byID[stepID]
	if !ok {
		return newLedgerError("AppendMessages", stepID, "step not found", nil)
	}
	step.Messages = append(step.Messages, ids...)
	return nil
}

// Step returns a copy of the named step.
func (c *Collaboration) Step(stepID string) (*Step, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	step, ok := c.byID[stepID]
	if !ok {
		return nil, false
	}
	return step.clone(), true
}

// Steps returns copies of all steps in declaration order.
func (c *Collaboration) Steps() []*Step {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Step, 0, len(c.steps))
	for _, step := range c.steps {
		out = append(out, step.clone())
	}
	return out
}

// FailedStep returns a copy of the first failed step, if any.
func (c *Collaboration) FailedStep() (*Step, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, step := range c.steps {
		if step.Status == StepStatusFailed {
			return step.clone(), true
		}
	}
	return nil, false
}
