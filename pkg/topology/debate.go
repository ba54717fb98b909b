package topology

import (
	"fmt"

	"github.com/concertohq/concerto/pkg/collab"
)

// Debate runs Rounds rounds over the worker list. Round 0 steps have no
// dependencies; every step in round r depends on ALL steps of round r-1, so
// each participant argues against the complete previous round, not just its
// own prior position. Steps execute one at a time in declaration order.
type Debate struct{}

func (d *Debate) Topology() collab.Topology { return collab.TopologyDebate }
func (d *Debate) FanOut() bool              { return false }
func (d *Debate) DirectFinal() bool         { return false }

func (d *Debate) Build(task string, workers []string, params Params) ([]*collab.Step, error) {
	if err := validateWorkers(d.Topology(), workers, 2); err != nil {
		return nil, err
	}
	rounds := params.Rounds
	if rounds == 0 {
		rounds = DefaultRounds
	}
	if rounds < 1 {
		return nil, fmt.Errorf("topology %s: rounds must be at least 1, got %d", d.Topology(), rounds)
	}

	steps := make([]*collab.Step, 0, rounds*len(workers))
	for r := 0; r < rounds; r++ {
		var prevRound []string
		if r > 0 {
			prevRound = make([]string, 0, len(workers))
			for w := range workers {
				prevRound = append(prevRound, stepID((r-1)*len(workers)+w))
			}
		}
		for w, name := range workers {
			step := &collab.Step{
				ID:     stepID(r*len(workers) + w),
				Worker: name,
				Round:  r,
			}
			if r == 0 {
				step.Input = collab.Literal(fmt.Sprintf(
					"You are %s, a participant in a debate.\n\nTopic: %s\n\nState your opening position.",
					name, task,
				))
			} else {
				step.DependsOn = prevRound
				step.Input = collab.WithDependencyOutput(
					fmt.Sprintf(
						"You are %s in round %d of a debate on: %s\n\nThe most recent argument was:\n",
						name, r+1, task,
					),
					"\n\nRespond to the previous round and refine your position.",
				)
			}
			steps = append(steps, step)
		}
	}
	return steps, nil
}

func (d *Debate) Label(step *collab.Step) string {
	return fmt.Sprintf("%s (round %d)", step.Worker, step.Round+1)
}
