package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concertohq/concerto/pkg/collab"
	"github.com/concertohq/concerto/pkg/config"
)

func testRuntime(t *testing.T, yaml string) *Runtime {
	t.Helper()
	cfg, err := config.LoadConfigFromBytes([]byte(yaml))
	require.NoError(t, err)
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	rt, err := NewRuntime(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func TestNewRuntime(t *testing.T) {
	rt := testRuntime(t, `
workers:
  alpha:
    type: echo
  beta:
    type: echo
`)
	assert.Len(t, rt.Workers.Names(), 2)
	assert.NotNil(t, rt.Store)
	assert.NotNil(t, rt.Metrics)

	c, err := rt.Engine.Create(context.Background(), CreateRequest{
		Task: "t", Topology: collab.TopologyParallel, Workers: []string{"alpha", "beta"},
	})
	require.NoError(t, err)
	result, err := rt.Engine.Run(context.Background(), c.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Output)
}

func TestNewRuntimeAppliesConfiguredDefaults(t *testing.T) {
	rt := testRuntime(t, `
workers:
  alpha:
    type: echo
  beta:
    type: echo
defaults:
  rounds: 5
  iterations: 3
`)

	t.Run("debate rounds come from config", func(t *testing.T) {
		c, err := rt.Engine.Create(context.Background(), CreateRequest{
			Task: "t", Topology: collab.TopologyDebate, Workers: []string{"alpha", "beta"},
		})
		require.NoError(t, err)
		assert.Len(t, c.Steps(), 10)
	})

	t.Run("critique iterations come from config", func(t *testing.T) {
		c, err := rt.Engine.Create(context.Background(), CreateRequest{
			Task: "t", Topology: collab.TopologyCritique, Workers: []string{"alpha", "beta"},
		})
		require.NoError(t, err)
		assert.Len(t, c.Steps(), 7)
	})
}

func TestNewRuntimeRejectsUnknownWorkerType(t *testing.T) {
	cfg := &config.Config{
		Workers: map[string]config.WorkerConfig{
			"bad": {Type: "carrier-pigeon"},
		},
	}
	_, err := NewRuntime(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported type")
}
