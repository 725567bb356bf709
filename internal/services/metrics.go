package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "complyflow/backend/services"

// Metrics holds the engine's otel instruments.
type Metrics struct {
	instancesStarted   metric.Int64Counter
	instancesCompleted metric.Int64Counter
	stepsTransitioned  metric.Int64Counter
	templatesCompiled  metric.Int64Counter
}

// NewMetrics registers the engine counters on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithProvider(otel.GetMeterProvider())
}

// NewMetricsWithProvider registers the engine counters on mp.
func NewMetricsWithProvider(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	var (
		m   Metrics
		err error
	)
	if m.instancesStarted, err = meter.Int64Counter("complyflow.instances.started",
		metric.WithDescription("Workflow instances materialized from templates")); err != nil {
		return nil, err
	}
	if m.instancesCompleted, err = meter.Int64Counter("complyflow.instances.completed",
		metric.WithDescription("Workflow instances that reached completed")); err != nil {
		return nil, err
	}
	if m.stepsTransitioned, err = meter.Int64Counter("complyflow.steps.transitioned",
		metric.WithDescription("Instance step status changes")); err != nil {
		return nil, err
	}
	if m.templatesCompiled, err = meter.Int64Counter("complyflow.templates.compiled",
		metric.WithDescription("Template graphs compiled and stored")); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metrics) instanceStarted(ctx context.Context, templateID string) {
	if m == nil {
		return
	}
	m.instancesStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("template_id", templateID)))
}

func (m *Metrics) instanceCompleted(ctx context.Context, templateID string) {
	if m == nil {
		return
	}
	m.instancesCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("template_id", templateID)))
}

func (m *Metrics) stepTransitioned(ctx context.Context, to string) {
	if m == nil {
		return
	}
	m.stepsTransitioned.Add(ctx, 1, metric.WithAttributes(attribute.String("status", to)))
}

func (m *Metrics) templateCompiled(ctx context.Context, steps int) {
	if m == nil {
		return
	}
	m.templatesCompiled.Add(ctx, 1, metric.WithAttributes(attribute.Int("steps", steps)))
}
