package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestWithContextCarriesTraceIDs(t *testing.T) {
	provider := sdktrace.NewTracerProvider()
	ctx, span := provider.Tracer("test").Start(context.Background(), "scan")
	defer span.End()

	var buf bytes.Buffer
	l := NewLogger("magpie")
	l.Logger = l.Logger.Output(&buf)

	l.WithContext(ctx).Info().Msg("discovery started")

	out := buf.String()
	assert.Contains(t, out, span.SpanContext().TraceID().String())
	assert.Contains(t, out, span.SpanContext().SpanID().String())
	assert.Contains(t, out, `"service":"magpie"`)
}

func TestWithContextWithoutSpan(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("magpie")
	l.Logger = l.Logger.Output(&buf)

	l.WithContext(context.Background()).Info().Msg("no span")

	assert.NotContains(t, buf.String(), "trace_id")
}
