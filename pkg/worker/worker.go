// Package worker defines the worker capability contract: an addressable,
// asynchronous task executor identified by a stable ID. The orchestration core
// only depends on Capability and Resolver; what a worker actually is (an
// LLM-backed agent, a remote service, a test stub) stays behind the interface.
package worker

import (
	"context"
	"fmt"
)

// Capability is an addressable unit that accepts a task string and returns an
// output string or fails. Invocations may take arbitrarily long; callers that
// need bounded execution must bound ctx themselves.
type Capability interface {
	// ID returns the stable identifier the capability is resolved by.
	ID() string

	// Description describes what the worker does.
	Description() string

	// Invoke executes the task and returns the worker's output.
	Invoke(ctx context.Context, task string) (string, error)
}

// Resolver maps a step's worker reference to a concrete capability. Injected
// into the executor so scheduling never holds worker instances directly.
type Resolver func(id string) (Capability, error)

// InvocationError wraps a failed worker invocation.
type InvocationError struct {
	Worker string
	Err    error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("worker %s: invocation failed: %v", e.Worker, e.Err)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// Func adapts a plain function into a Capability.
type Func struct {
	id          string
	description string
	fn          func(ctx context.Context, task string) (string, error)
}

// NewFunc creates a function-backed capability.
func NewFunc(id, description string, fn func(ctx context.Context, task string) (string, error)) *Func {
	return &Func{id: id, description: description, fn: fn}
}

func (f *Func) ID() string          { return f.id }
func (f *Func) Description() string { return f.description }

func (f *Func) Invoke(ctx context.Context, task string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return f.fn(ctx, task)
}
