// Package observability provides the engine's Prometheus-backed metrics.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics records collaboration and step level counters and durations.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	collaborations metric.Int64Counter
	collabOutcomes metric.Int64Counter
	steps          metric.Int64Counter
	stepErrors     metric.Int64Counter
	stepDuration   metric.Float64Histogram
}

// NewMetrics creates the meter, its instruments and a dedicated Prometheus
// registry for scraping.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	promExporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)
	meter := meterProvider.Meter("concerto")

	collaborations, err := meter.Int64Counter(
		"concerto_collaborations_started_total",
		metric.WithDescription("Total collaborations started"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create collaborations counter: %w", err)
	}

	collabOutcomes, err := meter.Int64Counter(
		"concerto_collaborations_finished_total",
		metric.WithDescription("Total collaborations finished, by terminal status"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create collaboration outcomes counter: %w", err)
	}

	steps, err := meter.Int64Counter(
		"concerto_steps_executed_total",
		metric.WithDescription("Total steps executed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create steps counter: %w", err)
	}

	stepErrors, err := meter.Int64Counter(
		"concerto_step_errors_total",
		metric.WithDescription("Total step execution failures"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create step errors counter: %w", err)
	}

	stepDuration, err := meter.Float64Histogram(
		"concerto_step_duration_seconds",
		metric.WithDescription("Step execution duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create step duration histogram: %w", err)
	}

	return &Metrics{
		registry:       registry,
		collaborations: collaborations,
		collabOutcomes: collabOutcomes,
		steps:          steps,
		stepErrors:     stepErrors,
		stepDuration:   stepDuration,
	}, nil
}

// Handler returns the HTTP handler serving the /metrics scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCollaborationStarted counts a collaboration entering execution.
func (m *Metrics) RecordCollaborationStarted(ctx context.Context, topology string) {
	if m == nil {
		return
	}
	m.collaborations.Add(ctx, 1, metric.WithAttributes(attribute.String("topology", topology)))
}

// RecordCollaborationFinished counts a collaboration reaching a terminal status.
func (m *Metrics) RecordCollaborationFinished(ctx context.Context, topology, status string) {
	if m == nil {
		return
	}
	m.collabOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topology", topology),
		attribute.String("status", status),
	))
}

// RecordStep counts one step execution and its duration.
func (m *Metrics) RecordStep(ctx context.Context, topology string, d time.Duration, failed bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("topology", topology))
	m.steps.Add(ctx, 1, attrs)
	m.stepDuration.Record(ctx, d.Seconds(), attrs)
	if failed {
		m.stepErrors.Add(ctx, 1, attrs)
	}
}
