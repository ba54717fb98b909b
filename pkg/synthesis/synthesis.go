// Package synthesis combines the outputs of a completed collaboration into a
// single final result. Sequential chains already converge on their last step,
// so they skip synthesis entirely; fan-out topologies merge their labeled
// outputs, delegating to a dedicated worker when the outputs actually differ.
package synthesis

import (
	"context"
	"fmt"
	"strings"

	"github.com/concertohq/concerto/pkg/collab"
	"github.com/concertohq/concerto/pkg/topology"
	"github.com/concertohq/concerto/pkg/worker"
)

const synthesisInstruction = `You are a synthesizer. Below are outputs produced by several workers ` +
	`collaborating on the same task. Merge them into one coherent final answer. ` +
	`Resolve contradictions, remove duplication and keep the strongest points. ` +
	`Respond with the merged answer only.`

// SynthesisError reports a failure to produce a merged result.
type SynthesisError struct {
	CollaborationID string
	Worker          string
	Err             error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("collaboration %s: synthesis via worker %s failed: %v",
		e.CollaborationID, e.Worker, e.Err)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}

// Result is the final output of a collaboration plus how it was produced.
type Result struct {
	Output string

	// Method is "direct" when the output was taken or reduced without a
	// worker invocation, "synthesized" when a synthesis worker merged it, and
	// "fallback" when synthesis failed and the raw labeled block stands in.
	Method string

	// Err carries the synthesis failure when Method is "fallback".
	Err error
}

// Methods a Result can report.
const (
	MethodDirect      = "direct"
	MethodSynthesized = "synthesized"
	MethodFallback    = "fallback"
)

// Synthesizer produces the final result of a completed collaboration.
type Synthesizer struct {
	resolver   worker.Resolver
	strategies *topology.Registry

	// workerID names the capability used to merge divergent outputs. Empty
	// means no synthesis worker is available and divergent outputs fall back
	// to the raw labeled block.
	workerID string
}

// New creates a synthesizer that merges through the named worker.
func New(resolver worker.Resolver, strategies *topology.Registry, workerID string) *Synthesizer {
	return &Synthesizer{
		resolver:   resolver,
		strategies: strategies,
		workerID:   workerID,
	}
}

// Synthesize produces the final result for a completed collaboration.
// Synthesis failure never fails the collaboration: the result degrades to the
// raw labeled block and carries the cause.
func (s *Synthesizer) Synthesize(ctx context.Context, c *collab.Collaboration) (*Result, error) {
	if status := c.Status(); status != collab.StatusCompleted {
		return nil, fmt.Errorf("collaboration %s is %s, synthesis requires completed", c.ID, status)
	}
	strategy, err := s.strategies.ForTopology(c.Topology)
	if err != nil {
		return nil, err
	}

	steps := c.Steps()
	if strategy.DirectFinal() {
		return &Result{Output: steps[len(steps)-1].Output, Method: MethodDirect}, nil
	}

	contributions := finalContributions(steps)
	if len(contributions) == 0 {
		return nil, fmt.Errorf("collaboration %s has no outputs to synthesize", c.ID)
	}

	// All contributors agreeing verbatim needs no merge.
	if distinct := distinctOutputs(contributions); len(distinct) == 1 {
		return &Result{Output: distinct[0], Method: MethodDirect}, nil
	}

	block := labeledBlock(strategy, contributions)
	output, err := s.delegate(ctx, c, block)
	if err != nil {
		return &Result{Output: block, Method: MethodFallback, Err: err}, nil
	}
	return &Result{Output: output, Method: MethodSynthesized}, nil
}

// finalContributions selects the steps whose outputs feed synthesis: the
// leaves of the graph, meaning steps no other step depends on. For a
// dependency-free fan-out that is every step; for a debate it is the last
// round.
func finalContributions(steps []*collab.Step) []*collab.Step {
	depended := make(map[string]bool)
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			depended[dep] = true
		}
	}
	var out []*collab.Step
	for _, step := range steps {
		if !depended[step.ID] {
			out = append(out, step)
		}
	}
	return out
}

func distinctOutputs(steps []*collab.Step) []string {
	seen := make(map[string]bool)
	var out []string
	for _, step := range steps {
		trimmed := strings.TrimSpace(step.Output)
		if seen[trimmed] {
			continue
		}
		seen[trimmed] = true
		out = append(out, trimmed)
	}
	return out
}

// labeledBlock renders each contribution under its strategy label.
func labeledBlock(strategy topology.Strategy, steps []*collab.Step) string {
	var b strings.Builder
	for i, step := range steps {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "### %s\n%s", strategy.Label(step), step.Output)
	}
	return b.String()
}

func (s *Synthesizer) delegate(ctx context.Context, c *collab.Collaboration, block string) (string, error) {
	if s.workerID == "" {
		return "", &SynthesisError{
			CollaborationID: c.ID,
			Err:             fmt.Errorf("no synthesis worker configured"),
		}
	}
	cap, err := s.resolver(s.workerID)
	if err != nil {
		return "", &SynthesisError{CollaborationID: c.ID, Worker: s.workerID, Err: err}
	}

	task := fmt.Sprintf("%s\n\nOriginal task:\n%s\n\nWorker outputs:\n\n%s",
		synthesisInstruction, c.Task, block)
	output, err := cap.Invoke(ctx, task)
	if err != nil {
		return "", &SynthesisError{CollaborationID: c.ID, Worker: s.workerID, Err: err}
	}
	if strings.TrimSpace(output) == "" {
		return "", &SynthesisError{
			CollaborationID: c.ID,
			Worker:          s.workerID,
			Err:             fmt.Errorf("synthesis worker returned empty output"),
		}
	}
	return output, nil
}
