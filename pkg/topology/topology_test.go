package topology

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concertohq/concerto/pkg/collab"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, 4, r.Count())

	for _, topo := range []collab.Topology{
		collab.TopologySequential,
		collab.TopologyParallel,
		collab.TopologyDebate,
		collab.TopologyCritique,
	} {
		s, err := r.ForTopology(topo)
		require.NoError(t, err)
		assert.Equal(t, topo, s.Topology())
	}

	_, err := r.ForTopology("ring")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no strategy registered")
}

func TestDecodeParams(t *testing.T) {
	t.Run("empty metadata", func(t *testing.T) {
		p, err := DecodeParams(nil)
		require.NoError(t, err)
		assert.Zero(t, p.Rounds)
		assert.Zero(t, p.Iterations)
	})

	t.Run("weakly typed values", func(t *testing.T) {
		p, err := DecodeParams(map[string]any{
			"rounds":     "3",
			"iterations": 2,
			"subtasks":   []any{"first", "second"},
		})
		require.NoError(t, err)
		assert.Equal(t, 3, p.Rounds)
		assert.Equal(t, 2, p.Iterations)
		assert.Equal(t, []string{"first", "second"}, p.Subtasks)
	})

	t.Run("unknown keys are ignored", func(t *testing.T) {
		p, err := DecodeParams(map[string]any{"style": "formal"})
		require.NoError(t, err)
		assert.Zero(t, p.Rounds)
	})
}

func TestSequentialBuild(t *testing.T) {
	s := &Sequential{}
	assert.False(t, s.FanOut())
	assert.True(t, s.DirectFinal())

	steps, err := s.Build("task", []string{"a", "b", "c"}, Params{})
	require.NoError(t, err)
	require.Len(t, steps, 3)

	assert.Empty(t, steps[0].DependsOn)
	assert.Nil(t, steps[0].Input.Ref)
	for i := 1; i < 3; i++ {
		assert.Equal(t, []string{fmt.Sprintf("s%d", i-1)}, steps[i].DependsOn)
		require.NotNil(t, steps[i].Input.Ref)
		assert.Equal(t, collab.LastDependency, steps[i].Input.Ref.Dependency)
	}

	_, err = s.Build("task", nil, Params{})
	require.Error(t, err)
}

func TestParallelBuild(t *testing.T) {
	p := &Parallel{}
	assert.True(t, p.FanOut())
	assert.False(t, p.DirectFinal())

	steps, err := p.Build("task", []string{"a", "b", "c"}, Params{})
	require.NoError(t, err)
	require.Len(t, steps, 3)
	for _, step := range steps {
		assert.Empty(t, step.DependsOn)
		assert.Equal(t, "task", step.Input.Before)
		assert.Nil(t, step.Input.Ref)
	}
}

func TestParallelSubtasks(t *testing.T) {
	p := &Parallel{}
	steps, err := p.Build("task", []string{"a", "b"}, Params{Subtasks: []string{"part one", ""}})
	require.NoError(t, err)
	assert.Equal(t, "part one", steps[0].Input.Before)
	assert.Equal(t, "task", steps[1].Input.Before)
}

func TestDebateBuild(t *testing.T) {
	d := &Debate{}
	assert.False(t, d.FanOut())
	assert.False(t, d.DirectFinal())

	workers := []string{"a", "b", "c"}
	steps, err := d.Build("topic", workers, Params{Rounds: 3})
	require.NoError(t, err)
	require.Len(t, steps, 9)

	// Round 0 is dependency free.
	for i := 0; i < 3; i++ {
		assert.Empty(t, steps[i].DependsOn)
		assert.Equal(t, 0, steps[i].Round)
	}

	// Every later step depends on the complete previous round.
	for r := 1; r < 3; r++ {
		prev := []string{
			fmt.Sprintf("s%d", (r-1)*3),
			fmt.Sprintf("s%d", (r-1)*3+1),
			fmt.Sprintf("s%d", (r-1)*3+2),
		}
		for w := 0; w < 3; w++ {
			step := steps[r*3+w]
			assert.Equal(t, prev, step.DependsOn)
			assert.Equal(t, r, step.Round)
			assert.Equal(t, workers[w], step.Worker)
			require.NotNil(t, step.Input.Ref)
		}
	}
}

func TestDebateDefaultsAndValidation(t *testing.T) {
	d := &Debate{}

	steps, err := d.Build("topic", []string{"a", "b"}, Params{})
	require.NoError(t, err)
	assert.Len(t, steps, DefaultRounds*2)

	_, err = d.Build("topic", []string{"solo"}, Params{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 2")

	_, err = d.Build("topic", []string{"a", "b"}, Params{Rounds: -1})
	require.Error(t, err)
}

func TestCritiqueBuild(t *testing.T) {
	c := &Critique{}
	assert.False(t, c.FanOut())
	assert.False(t, c.DirectFinal())

	steps, err := c.Build("task", []string{"maker", "checker"}, Params{Iterations: 2})
	require.NoError(t, err)
	require.Len(t, steps, 5) // 2K+1

	assert.Equal(t, RoleCreate, steps[0].Role)
	assert.Equal(t, "maker", steps[0].Worker)
	assert.Empty(t, steps[0].DependsOn)

	assert.Equal(t, RoleCritique, steps[1].Role)
	assert.Equal(t, "checker", steps[1].Worker)
	assert.Equal(t, []string{"s0"}, steps[1].DependsOn)

	// Second create depends on the first critique.
	assert.Equal(t, RoleCreate, steps[2].Role)
	assert.Equal(t, []string{"s1"}, steps[2].DependsOn)

	assert.Equal(t, RoleFinal, steps[4].Role)
	assert.Equal(t, "maker", steps[4].Worker)
	assert.Equal(t, []string{"s3"}, steps[4].DependsOn)
}

func TestCritiqueDefaultIterations(t *testing.T) {
	c := &Critique{}
	steps, err := c.Build("task", []string{"maker", "checker"}, Params{})
	require.NoError(t, err)
	assert.Len(t, steps, 2*DefaultIterations+1)
}

func TestLabels(t *testing.T) {
	seq := &Sequential{}
	assert.Equal(t, "a", seq.Label(&collab.Step{Worker: "a"}))

	d := &Debate{}
	assert.Equal(t, "a (round 2)", d.Label(&collab.Step{Worker: "a", Round: 1}))

	c := &Critique{}
	assert.Equal(t, "maker (create 1)", c.Label(&collab.Step{Worker: "maker", Role: RoleCreate}))
	assert.Equal(t, "checker (critique 2)", c.Label(&collab.Step{Worker: "checker", Role: RoleCritique, Round: 1}))
	assert.Equal(t, "maker (final)", c.Label(&collab.Step{Worker: "maker", Role: RoleFinal}))
}

func TestBuildersProduceValidGraphs(t *testing.T) {
	// Every builder output must install cleanly into a ledger.
	workers := []string{"a", "b", "c"}
	for _, s := range NewRegistry().List() {
		t.Run(string(s.Topology()), func(t *testing.T) {
			steps, err := s.Build("task", workers, Params{})
			require.NoError(t, err)
			c := collab.New("", "task", s.Topology(), nil)
			assert.NotPanics(t, func() {
				require.NoError(t, c.SetSteps(steps))
			})
			assert.NotEmpty(t, c.ReadySteps())
		})
	}
}
