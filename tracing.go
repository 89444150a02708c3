package convcache

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/jmgilman/go/convcache"

// Span attribute keys.
const (
	attrConverter = attribute.Key("convcache.converter")
	attrKey       = attribute.Key("convcache.key")
	attrResult    = attribute.Key("convcache.result")
)

func newTracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(tracerName)
}

func (c *Cache) startSpan(ctx context.Context, name string, converter string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, name, trace.WithAttributes(attrConverter.String(converter)))
}

// endSpan records err, if any, and ends span.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
