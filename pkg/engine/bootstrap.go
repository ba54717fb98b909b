package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/concertohq/concerto/pkg/audit"
	"github.com/concertohq/concerto/pkg/config"
	"github.com/concertohq/concerto/pkg/observability"
	"github.com/concertohq/concerto/pkg/scheduler"
	"github.com/concertohq/concerto/pkg/synthesis"
	"github.com/concertohq/concerto/pkg/topology"
	"github.com/concertohq/concerto/pkg/worker"
)

// Runtime is a fully assembled engine plus the shared infrastructure the
// server and CLI need access to.
type Runtime struct {
	Engine  *Engine
	Workers *worker.Registry
	Store   audit.Store
	Metrics *observability.Metrics

	closers []func() error
}

// Close releases the runtime's resources, last acquired first.
func (r *Runtime) Close() error {
	var firstErr error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NewRuntime assembles workers, audit store, metrics, executor, synthesizer
// and engine from configuration.
func NewRuntime(cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{}

	workers, err := buildWorkers(cfg)
	if err != nil {
		return nil, err
	}
	rt.Workers = workers

	store, closer, err := buildStore(cfg)
	if err != nil {
		return nil, err
	}
	rt.Store = store
	if closer != nil {
		rt.closers = append(rt.closers, closer)
	}

	metrics, err := observability.NewMetrics()
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	rt.Metrics = metrics

	strategies := topology.NewRegistry()
	executor := scheduler.NewExecutor(workers.Resolver(),
		scheduler.WithStrategies(strategies),
		scheduler.WithNotifier(&scheduler.SlogNotifier{Logger: logger}),
		scheduler.WithAuditStore(store),
		scheduler.WithMetrics(metrics),
		scheduler.WithLogger(logger),
	)
	synth := synthesis.New(workers.Resolver(), strategies, cfg.Synthesis.Worker)

	rt.Engine = New(workers, strategies, executor, synth,
		WithLogger(logger),
		WithDefaults(cfg.Defaults.Rounds, cfg.Defaults.Iterations),
	)
	return rt, nil
}

func buildWorkers(cfg *config.Config) (*worker.Registry, error) {
	workers := worker.NewRegistry()
	for name, wc := range cfg.Workers {
		cap, err := buildWorker(name, wc)
		if err != nil {
			return nil, err
		}
		if err := workers.Add(cap); err != nil {
			return nil, err
		}
	}
	return workers, nil
}

func buildWorker(name string, wc config.WorkerConfig) (worker.Capability, error) {
	switch wc.Type {
	case config.WorkerTypeHTTP:
		return worker.NewHTTP(worker.HTTPOptions{
			ID:          name,
			Description: wc.Description,
			Endpoint:    wc.Endpoint,
			Timeout:     time.Duration(wc.TimeoutSeconds) * time.Second,
		})
	case config.WorkerTypeEcho:
		return worker.NewFunc(name, wc.Description,
			func(_ context.Context, task string) (string, error) {
				return task, nil
			}), nil
	default:
		return nil, fmt.Errorf("worker '%s': unsupported type %s", name, wc.Type)
	}
}

func buildStore(cfg *config.Config) (audit.Store, func() error, error) {
	switch cfg.Audit.Backend {
	case "memory":
		return audit.NewMemoryStore(), nil, nil
	case "sqlite", "postgres", "mysql":
		store, err := audit.Open(cfg.Audit.Backend, cfg.Audit.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open audit store: %w", err)
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported audit backend: %s", cfg.Audit.Backend)
	}
}
