package telemetry

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// logExporter writes completed spans to the process log so admin API
// latency is visible without an OTLP collector.
type logExporter struct {
	logger zerolog.Logger
}

func newLogExporter() sdktrace.SpanExporter {
	return &logExporter{logger: log.With().Str("component", "otel").Logger()}
}

func (l *logExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		sc := span.SpanContext()
		event := l.logger.Debug().
			Str("span_name", span.Name()).
			Str("span_kind", span.SpanKind().String()).
			Dur("duration", span.EndTime().Sub(span.StartTime()))
		if sc.TraceID().IsValid() {
			event = event.Str("trace_id", sc.TraceID().String())
		}
		if sc.SpanID().IsValid() {
			event = event.Str("span_id", sc.SpanID().String())
		}
		event.Msg("span completed")
	}
	return nil
}

func (l *logExporter) Shutdown(context.Context) error { return nil }

var _ sdktrace.SpanExporter = (*logExporter)(nil)
