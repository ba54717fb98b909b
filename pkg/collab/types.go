// Package collab defines the collaboration data model: a Collaboration is one
// end-to-end multi-worker execution of a task under a chosen topology, made of
// Steps with explicit dependencies. The Collaboration doubles as the step
// ledger: all step state lives here and every mutation goes through it.
package collab

// Topology is the coordination pattern for a collaboration.
type Topology string

const (
	// TopologySequential runs one step per worker, each depending on its
	// immediate predecessor.
	TopologySequential Topology = "sequential"

	// TopologyParallel runs one independent step per worker.
	TopologyParallel Topology = "parallel"

	// TopologyDebate runs several rounds in which every participant sees the
	// complete previous round.
	TopologyDebate Topology = "debate"

	// TopologyCritique alternates a creator and a critic, ending with a final
	// creator step.
	TopologyCritique Topology = "critique"
)

// Valid reports whether t names a known topology.
func (t Topology) Valid() bool {
	switch t {
	case TopologySequential, TopologyParallel, TopologyDebate, TopologyCritique:
		return true
	}
	return false
}

// Status is the aggregate state of a collaboration. It is always derived from
// the step statuses, never stored.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// StepStatus is the execution state of a single step.
type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusFailed     StepStatus = "failed"
)

// IsTerminal returns whether this step status admits no further transitions.
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusCompleted || s == StepStatusFailed
}

// LastDependency selects the last-declared dependency of a step. It is the
// default reference target, which is the tie-break for steps that depend on
// more than one predecessor.
const LastDependency = -1

// OutputRef names which dependency's recorded output gets injected into a
// step's input. Dependency is an index into Step.DependsOn, or LastDependency.
type OutputRef struct {
	Dependency int
}

// Input is a structured step input: literal text around an optional reference
// to a dependency output. Builders declare the reference explicitly instead of
// embedding a substitution token in the text.
type Input struct {
	Before string
	Ref    *OutputRef
	After  string
}

// Literal returns an input with no dependency reference.
func Literal(text string) Input {
	return Input{Before: text}
}

// WithDependencyOutput returns an input that injects the last-declared
// dependency's output between before and after.
func WithDependencyOutput(before, after string) Input {
	return Input{Before: before, Ref: &OutputRef{Dependency: LastDependency}, After: after}
}

// Step is one unit of work assigned to one worker within a collaboration.
//
// Round and Role carry topology bookkeeping for synthesis labels: Round is the
// debate round or critique iteration, Role is "create", "critique" or "final"
// for critique steps and empty otherwise.
type Step struct {
	ID        string
	Worker    string
	Input     Input
	Output    string
	Status    StepStatus
	DependsOn []string
	Messages  []string
	Err       string
	Round     int
	Role      string
}

// clone returns a copy safe to hand outside the ledger.
func (s *Step) clone() *Step {
	cp := *s
	cp.DependsOn = append([]string(nil), s.DependsOn...)
	cp.Messages = append([]string(nil), s.Messages...)
	return &cp
}
