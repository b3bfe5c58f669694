package internaltelemetry

import (
	"go.opentelemetry.io/otel/metric"
)

// BufferPoolMetrics holds the metric instruments for a buffer pool manager.
type BufferPoolMetrics struct {
	HitsCounter         metric.Int64Counter
	MissesCounter       metric.Int64Counter
	EvictionsCounter    metric.Int64Counter
	FlushesCounter      metric.Int64Counter
	PinnedFramesCounter metric.Int64UpDownCounter
}

// NewBufferPoolMetrics creates and registers all the metrics for the buffer pool.
func NewBufferPoolMetrics(meter metric.Meter) (*BufferPoolMetrics, error) {
	hits, err := meter.Int64Counter(
		"leafdb.bufferpool.hits",
		metric.WithDescription("Page fetches served from a resident frame."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	misses, err := meter.Int64Counter(
		"leafdb.bufferpool.misses",
		metric.WithDescription("Page fetches that had to read from disk."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	evictions, err := meter.Int64Counter(
		"leafdb.bufferpool.evictions",
		metric.WithDescription("Frames reclaimed from resident pages."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	flushes, err := meter.Int64Counter(
		"leafdb.bufferpool.flushes",
		metric.WithDescription("Dirty pages written back to disk."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	pinned, err := meter.Int64UpDownCounter(
		"leafdb.bufferpool.pinned_frames",
		metric.WithDescription("Outstanding page pins."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &BufferPoolMetrics{
		HitsCounter:         hits,
		MissesCounter:       misses,
		EvictionsCounter:    evictions,
		FlushesCounter:      flushes,
		PinnedFramesCounter: pinned,
	}, nil
}
