package topology

import (
	"fmt"

	"github.com/concertohq/concerto/pkg/collab"
)

// Step roles used by Critique and its synthesis labels.
const (
	RoleCreate   = "create"
	RoleCritique = "critique"
	RoleFinal    = "final"
)

// Critique alternates a creator and a critic: for K iterations a create step
// is followed by a critique step that depends on it, every create step after
// the first depends on the preceding critique, and one final creator step
// depending on the last critique closes the chain. 2K+1 steps total. The
// first listed worker creates, the second critiques.
type Critique struct{}

func (c *Critique) Topology() collab.Topology { return collab.TopologyCritique }
func (c *Critique) FanOut() bool              { return false }
func (c *Critique) DirectFinal() bool         { return false }

func (c *Critique) Build(task string, workers []string, params Params) ([]*collab.Step, error) {
	if err := validateWorkers(c.Topology(), workers, 2); err != nil {
		return nil, err
	}
	iterations := params.Iterations
	if iterations == 0 {
		iterations = DefaultIterations
	}
	if iterations < 1 {
		return nil, fmt.Errorf("topology %s: iterations must be at least 1, got %d", c.Topology(), iterations)
	}

	creator, critic := workers[0], workers[1]
	steps := make([]*collab.Step, 0, 2*iterations+1)
	next := 0

	for i := 0; i < iterations; i++ {
		create := &collab.Step{
			ID:     stepID(next),
			Worker: creator,
			Round:  i,
			Role:   RoleCreate,
		}
		if i == 0 {
			create.Input = collab.Literal(fmt.Sprintf("Produce a draft for the following task:\n\n%s", task))
		} else {
			// Depends on the critique of the previous iteration.
			create.DependsOn = []string{stepID(next - 1)}
			create.Input = collab.WithDependencyOutput(
				fmt.Sprintf("Revise your draft for the task: %s\n\nAddress this critique:\n", task),
				"",
			)
		}
		steps = append(steps, create)
		next++

		critique := &collab.Step{
			ID:        stepID(next),
			Worker:    critic,
			Round:     i,
			Role:      RoleCritique,
			DependsOn: []string{create.ID},
			Input: collab.WithDependencyOutput(
				fmt.Sprintf("Critique the following draft for the task: %s\n\nDraft:\n", task),
				"\n\nPoint out concrete weaknesses and suggest improvements.",
			),
		}
		steps = append(steps, critique)
		next++
	}

	final := &collab.Step{
		ID:        stepID(next),
		Worker:    creator,
		Round:     iterations - 1,
		Role:      RoleFinal,
		DependsOn: []string{stepID(next - 1)},
		Input: collab.WithDependencyOutput(
			fmt.Sprintf("Produce the final version for the task: %s\n\nIncorporate this last critique:\n", task),
			"",
		),
	}
	steps = append(steps, final)

	return steps, nil
}

func (c *Critique) Label(step *collab.Step) string {
	if step.Role == RoleFinal {
		return fmt.Sprintf("%s (final)", step.Worker)
	}
	return fmt.Sprintf("%s (%s %d)", step.Worker, step.Role, step.Round+1)
}
