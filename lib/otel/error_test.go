package otel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestError(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := tp.Tracer("test").Start(context.Background(), "load")
	expected := errors.New("batch rejected")
	err := Error(span, expected)
	span.End()

	require.Same(t, expected, err)
	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Equal(t, codes.Error, spans[0].Status.Code)
	require.Equal(t, "batch rejected", spans[0].Status.Description)
	require.Len(t, spans[0].Events, 1)
}

func TestError_Nil(t *testing.T) {
	_, span := sdktrace.NewTracerProvider().Tracer("test").Start(context.Background(), "load")
	defer span.End()

	require.NoError(t, Error(span, nil))
}
