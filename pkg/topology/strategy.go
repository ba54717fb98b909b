// Package topology builds the static step graphs for each coordination
// pattern. Topology differences live entirely in dependency wiring, input
// text and synthesis labels; each pattern implements Strategy so adding one
// does not touch any shared dispatch code.
package topology

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/concertohq/concerto/pkg/collab"
	"github.com/concertohq/concerto/pkg/registry"
)

// Params are the topology-specific parameters carried in collaboration
// metadata. Unknown keys are ignored; each strategy validates what it needs.
type Params struct {
	// Rounds is the number of debate rounds.
	Rounds int `mapstructure:"rounds"`

	// Iterations is the number of create/critique pairs.
	Iterations int `mapstructure:"iterations"`

	// Subtasks optionally assigns an explicit per-worker task, positionally.
	// Empty entries fall back to the collaboration task.
	Subtasks []string `mapstructure:"subtasks"`
}

const (
	DefaultRounds     = 2
	DefaultIterations = 1
)

// DecodeParams decodes a collaboration's metadata map into Params.
func DecodeParams(meta map[string]any) (Params, error) {
	var p Params
	if len(meta) == 0 {
		return p, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &p,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return p, err
	}
	if err := dec.Decode(meta); err != nil {
		return p, fmt.Errorf("invalid topology params: %w", err)
	}
	return p, nil
}

// taskFor returns the explicit subtask for worker position i, or the
// collaboration task.
func (p Params) taskFor(i int, task string) string {
	if i < len(p.Subtasks) && p.Subtasks[i] != "" {
		return p.Subtasks[i]
	}
	return task
}

// Strategy is the capability set one topology implements: building the step
// graph, declaring how ready steps may be dispatched, and labeling outputs
// for synthesis.
type Strategy interface {
	// Topology returns the pattern this strategy implements.
	Topology() collab.Topology

	// Build returns the complete static step set for the task and ordered
	// worker list. Dependencies only ever point at earlier steps.
	Build(task string, workers []string, params Params) ([]*collab.Step, error)

	// FanOut reports whether all ready steps may be dispatched concurrently
	// in a single pass. Only safe for dependency-free graphs; a topology that
	// mixes independent and dependent steps must report false.
	FanOut() bool

	// DirectFinal reports whether the final result is the last step's output,
	// unconditionally and without synthesis.
	DirectFinal() bool

	// Label names a step's output for synthesis.
	Label(step *collab.Step) string
}

// Registry holds the known strategies keyed by topology name.
type Registry struct {
	*registry.BaseRegistry[Strategy]
}

// NewRegistry creates a registry pre-populated with the built-in strategies.
func NewRegistry() *Registry {
	r := &Registry{BaseRegistry: registry.NewBaseRegistry[Strategy]()}
	for _, s := range []Strategy{
		&Sequential{},
		&Parallel{},
		&Debate{},
		&Critique{},
	} {
		// Built-in names are unique; Register cannot fail here.
		_ = r.Register(string(s.Topology()), s)
	}
	return r
}

// ForTopology returns the strategy for a topology.
func (r *Registry) ForTopology(t collab.Topology) (Strategy, error) {
	s, ok := r.Get(string(t))
	if !ok {
		return nil, fmt.Errorf("no strategy registered for topology '%s'", t)
	}
	return s, nil
}

func stepID(i int) string {
	return fmt.Sprintf("s%d", i)
}

func validateWorkers(t collab.Topology, workers []string, min int) error {
	if len(workers) < min {
		return fmt.Errorf("topology %s requires at least %d worker(s), got %d", t, min, len(workers))
	}
	for i, w := range workers {
		if w == "" {
			return fmt.Errorf("topology %s: worker at index %d is empty", t, i)
		}
	}
	return nil
}
