package opix

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/jpalmerr/opix"

// telemetry holds the tracer and counters for dispatched events. Instruments
// that fail to register are left nil and skipped.
type telemetry struct {
	tracer  trace.Tracer
	sentCtr metric.Int64Counter
	dropCtr metric.Int64Counter
	fallCtr metric.Int64Counter
}

func newTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) *telemetry {
	tel := &telemetry{tracer: tp.Tracer(instrumentationName)}
	meter := mp.Meter(instrumentationName)

	tel.sentCtr, _ = meter.Int64Counter("opix.events.sent",
		metric.WithDescription("Events accepted by a transport tier"))
	tel.dropCtr, _ = meter.Int64Counter("opix.events.dropped",
		metric.WithDescription("Events dropped by serialization or transport failure"))
	tel.fallCtr, _ = meter.Int64Counter("opix.transport.fallbacks",
		metric.WithDescription("Delivery attempts on a lower-ranked transport tier"))
	return tel
}

func (tel *telemetry) startDispatch(ctx context.Context, event string) (context.Context, trace.Span) {
	return tel.tracer.Start(ctx, "opix.dispatch",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(attribute.String("opix.event", event)),
	)
}

func (tel *telemetry) sent(ctx context.Context, span trace.Span, event, tier string) {
	span.SetAttributes(attribute.String("opix.transport", tier))
	if tel.sentCtr != nil {
		tel.sentCtr.Add(ctx, 1, metric.WithAttributes(
			attribute.String("event", event),
			attribute.String("transport", tier),
		))
	}
}

func (tel *telemetry) dropped(ctx context.Context, span trace.Span, event, reason string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, reason)
	if tel.dropCtr != nil {
		tel.dropCtr.Add(ctx, 1, metric.WithAttributes(
			attribute.String("event", event),
			attribute.String("reason", reason),
		))
	}
}

func (tel *telemetry) fallback(ctx context.Context, tier string) {
	if tel.fallCtr != nil {
		tel.fallCtr.Add(ctx, 1, metric.WithAttributes(attribute.String("transport", tier)))
	}
}
