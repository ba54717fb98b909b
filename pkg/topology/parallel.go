package topology

import (
	"github.com/concertohq/concerto/pkg/collab"
)

// Parallel fans out one independent step per worker; every step receives the
// same task (or its positional subtask) and none depends on another. Because
// the graph is dependency-free, all steps may be dispatched in a single
// concurrent pass.
type Parallel struct{}

func (p *Parallel) Topology() collab.Topology { return collab.TopologyParallel }
func (p *Parallel) FanOut() bool              { return true }
func (p *Parallel) DirectFinal() bool         { return false }

func (p *Parallel) Build(task string, workers []string, params Params) ([]*collab.Step, error) {
	if err := validateWorkers(p.Topology(), workers, 1); err != nil {
		return nil, err
	}

	steps := make([]*collab.Step, 0, len(workers))
	for i, w := range workers {
		steps = append(steps, &collab.Step{
			ID:     stepID(i),
			Worker: w,
			Input:  collab.Literal(params.taskFor(i, task)),
		})
	}
	return steps, nil
}

func (p *Parallel) Label(step *collab.Step) string {
	return step.Worker
}
