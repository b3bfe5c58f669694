package indexmanager

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// StartMetricsAndTrace begins the telemetry recording for a leaf operation.
// It returns a new context, the trace span, and the start time.
func (m *LeafManager[K]) StartMetricsAndTrace(ctx context.Context, op string) (context.Context, trace.Span, time.Time) {
	startTime := time.Now()
	attrs := metric.WithAttributes(
		attribute.String("leaf.service", m.serviceName),
		attribute.String("leaf.op", op),
	)
	m.metrics.ActiveOpsCounter.Add(ctx, 1, attrs)
	m.metrics.OpsStartedCounter.Add(ctx, 1, attrs)

	ctx, span := m.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("leaf.service", m.serviceName),
		attribute.String("leaf.op", op),
	))
	return ctx, span, startTime
}

// EndMetricsAndTrace completes the telemetry recording for a leaf operation.
func (m *LeafManager[K]) EndMetricsAndTrace(ctx context.Context, span trace.Span, startTime time.Time, op string, err error) {
	latency := time.Since(startTime).Microseconds()

	statusCode := otelcodes.Ok
	if err != nil {
		statusCode = otelcodes.Error
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
	} else {
		span.SetStatus(otelcodes.Ok, "Success")
	}
	span.End()

	m.metrics.ActiveOpsCounter.Add(ctx, -1, metric.WithAttributes(
		attribute.String("leaf.service", m.serviceName),
		attribute.String("leaf.op", op),
	))

	metricAttributes := attribute.NewSet(
		attribute.String("leaf.service", m.serviceName),
		attribute.String("leaf.op", op),
		attribute.String("leaf.code", statusCode.String()),
	)
	m.metrics.OpLatencyHistogram.Record(ctx, latency, metric.WithAttributeSet(metricAttributes))
	m.metrics.OpsHandledCounter.Add(ctx, 1, metric.WithAttributeSet(metricAttributes))
}

func (m *LeafManager[K]) recordStructural(ctx context.Context, kind string) {
	m.metrics.StructuralOpsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("leaf.structural", kind)))
}
