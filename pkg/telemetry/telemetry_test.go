package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_DisabledIsNoop(t *testing.T) {
	tel, shutdown, err := New(Config{})
	require.NoError(t, err)
	require.Nil(t, tel.MeterProvider)
	require.Nil(t, tel.Registry)

	_, span := tel.Tracer.Start(context.Background(), "op")
	require.False(t, span.SpanContext().IsValid())
	span.End()
	require.NoError(t, shutdown(context.Background()))
}

func TestNew_ExportsToRegistry(t *testing.T) {
	tel, shutdown, err := New(Config{Enabled: true, ServiceName: "leafdb-test"})
	require.NoError(t, err)
	defer func() { require.NoError(t, shutdown(context.Background())) }()

	counter, err := tel.Meter.Int64Counter("leafdb.test.calls")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	// The exporter appends the counter suffix and keeps the dotted name.
	families, err := tel.Registry.Gather()
	require.NoError(t, err)
	var value float64
	var names []string
	for _, mf := range families {
		names = append(names, mf.GetName())
		if mf.GetName() == "leafdb.test.calls_total" {
			require.Len(t, mf.GetMetric(), 1)
			value = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	require.Contains(t, names, "leafdb.test.calls_total")
	require.Equal(t, float64(3), value)

	_, span := tel.Tracer.Start(context.Background(), "op")
	require.True(t, span.SpanContext().IsValid())
	span.End()
}
