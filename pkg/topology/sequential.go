package topology

import (
	"github.com/concertohq/concerto/pkg/collab"
)

// Sequential chains one step per worker: step i depends only on step i-1 and
// receives its output. The final result is the last step's output.
type Sequential struct{}

func (s *Sequential) Topology() collab.Topology { return collab.TopologySequential }
func (s *Sequential) FanOut() bool              { return false }
func (s *Sequential) DirectFinal() bool         { return true }

func (s *Sequential) Build(task string, workers []string, params Params) ([]*collab.Step, error) {
	if err := validateWorkers(s.Topology(), workers, 1); err != nil {
		return nil, err
	}

	steps := make([]*collab.Step, 0, len(workers))
	for i, w := range workers {
		step := &collab.Step{
			ID:     stepID(i),
			Worker: w,
		}
		if i == 0 {
			step.Input = collab.Literal(params.taskFor(i, task))
		} else {
			step.DependsOn = []string{stepID(i - 1)}
			step.Input = collab.WithDependencyOutput(
				params.taskFor(i, task)+"\n\nOutput of the previous step:\n",
				"",
			)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func (s *Sequential) Label(step *collab.Step) string {
	return step.Worker
}
