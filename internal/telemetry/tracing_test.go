package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTracerProviderExportsSampledSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp, err := InitTracerProvider(context.Background(), Config{
		ServiceName: "resolver-test",
		Version:     "v0.0.1",
		SampleRatio: 1,
		Exporter:    exporter,
	})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "pass")
	require.True(t, span.SpanContext().IsSampled())
	span.End()

	require.NoError(t, tp.ForceFlush(context.Background()))
	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Equal(t, "pass", spans[0].Name)
	require.NoError(t, tp.Shutdown(context.Background()))
}

func TestInitTracerProviderZeroRatioDropsSpans(t *testing.T) {
	tp, err := InitTracerProvider(context.Background(), Config{})
	require.NoError(t, err)
	defer func() { require.NoError(t, tp.Shutdown(context.Background())) }()

	_, span := tp.Tracer("test").Start(context.Background(), "pass")
	defer span.End()
	require.False(t, span.SpanContext().IsSampled())
}
