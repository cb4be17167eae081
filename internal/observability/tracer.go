package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan creates a new span with the given name and attributes
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// SetSpanError marks the span as errored
func SetSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanOK marks the span as successful
func SetSpanOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// GetTraceID returns the trace ID from context as a string
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().HasTraceID() {
		return ""
	}
	return span.SpanContext().TraceID().String()
}

// Span attribute keys
var (
	AttrCacheKey       = attribute.Key("dianping.cache.key")
	AttrCacheStrategy  = attribute.Key("dianping.cache.strategy")
	AttrCacheOutcome   = attribute.Key("dianping.cache.outcome")
	AttrVoucherID      = attribute.Key("dianping.voucher.id")
	AttrUserID         = attribute.Key("dianping.user.id")
	AttrOrderID        = attribute.Key("dianping.order.id")
	AttrSeckillOutcome = attribute.Key("dianping.seckill.outcome")
)
