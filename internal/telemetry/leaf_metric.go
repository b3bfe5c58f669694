package internaltelemetry

import (
	"go.opentelemetry.io/otel/metric"
)

// LeafOpMetrics holds the metric instruments for leaf page operations.
type LeafOpMetrics struct {
	OpsStartedCounter    metric.Int64Counter
	OpsHandledCounter    metric.Int64Counter
	OpLatencyHistogram   metric.Int64Histogram
	ActiveOpsCounter     metric.Int64UpDownCounter
	StructuralOpsCounter metric.Int64Counter
}

// NewLeafOpMetrics creates and registers all the metrics for leaf operations.
func NewLeafOpMetrics(meter metric.Meter) (*LeafOpMetrics, error) {
	started, err := meter.Int64Counter(
		"leafdb.leaf.ops.started",
		metric.WithDescription("Total number of leaf operations started."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	handled, err := meter.Int64Counter(
		"leafdb.leaf.ops.handled",
		metric.WithDescription("Total number of leaf operations completed."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	latency, err := meter.Int64Histogram(
		"leafdb.leaf.ops.duration",
		metric.WithDescription("The latency of leaf operations."),
		metric.WithUnit("us"),
	)
	if err != nil {
		return nil, err
	}

	active, err := meter.Int64UpDownCounter(
		"leafdb.leaf.ops.active",
		metric.WithDescription("Number of leaf operations in flight."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	structural, err := meter.Int64Counter(
		"leafdb.leaf.structural",
		metric.WithDescription("Splits, merges and redistributions applied to leaf pages."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &LeafOpMetrics{
		OpsStartedCounter:    started,
		OpsHandledCounter:    handled,
		OpLatencyHistogram:   latency,
		ActiveOpsCounter:     active,
		StructuralOpsCounter: structural,
	}, nil
}
