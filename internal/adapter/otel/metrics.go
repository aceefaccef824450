package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "querywarden"

// Metrics holds the flow instruments.
type Metrics struct {
	FlowsStarted   metric.Int64Counter
	FlowsCompleted metric.Int64Counter
	FlowsFailed    metric.Int64Counter
	Terminations   metric.Int64Counter
	FlowDuration   metric.Float64Histogram
}

// NewMetrics creates all instruments on mp, or on the global provider when mp is nil.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	m.FlowsStarted, err = meter.Int64Counter("querywarden.flows.started",
		metric.WithDescription("Number of flow sessions started"))
	if err != nil {
		return nil, err
	}

	m.FlowsCompleted, err = meter.Int64Counter("querywarden.flows.completed",
		metric.WithDescription("Number of flow sessions completed, by route and action"))
	if err != nil {
		return nil, err
	}

	m.FlowsFailed, err = meter.Int64Counter("querywarden.flows.failed",
		metric.WithDescription("Number of flow sessions failed, by error kind"))
	if err != nil {
		return nil, err
	}

	m.Terminations, err = meter.Int64Counter("querywarden.backends.terminated",
		metric.WithDescription("Number of PostgreSQL backends terminated"))
	if err != nil {
		return nil, err
	}

	m.FlowDuration, err = meter.Float64Histogram("querywarden.flow.duration_seconds",
		metric.WithDescription("Flow session duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordCompleted counts a completed flow and its duration.
func (m *Metrics) RecordCompleted(ctx context.Context, route, action string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("route", route),
		attribute.String("action", action),
	)
	m.FlowsCompleted.Add(ctx, 1, attrs)
	m.FlowDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordFailed counts a failed flow by error kind.
func (m *Metrics) RecordFailed(ctx context.Context, kind string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("error_kind", kind))
	m.FlowsFailed.Add(ctx, 1, attrs)
	m.FlowDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordStarted counts a new flow.
func (m *Metrics) RecordStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.FlowsStarted.Add(ctx, 1)
}

// RecordTermination counts a backend terminated by a strategy.
func (m *Metrics) RecordTermination(ctx context.Context, route string) {
	if m == nil {
		return
	}
	m.Terminations.Add(ctx, 1, metric.WithAttributes(attribute.String("route", route)))
}
