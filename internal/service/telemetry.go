package service

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"peerlend-backend/internal/domain"
	"peerlend-backend/internal/logger"
)

var (
	tracer         = otel.Tracer("peerlend-backend/service")
	meter          = otel.Meter("peerlend-backend/service")
	transitions, _ = meter.Int64Counter("custody.transitions", metric.WithDescription("Transaction state transitions"))
	rejections, _  = meter.Int64Counter("custody.rejections", metric.WithDescription("Rejected custody operations by error code"))
)

func startSpan(ctx context.Context, op, transactionID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "custody."+op, trace.WithAttributes(attribute.String("transaction.id", transactionID)))
}

// endSpan records err on span and counts domain rejections.
func endSpan(ctx context.Context, span trace.Span, op string, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		rejections.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", op),
			attribute.String("code", string(domain.CodeOf(err))),
		))
	}
	span.End()
}

func recordTransition(ctx context.Context, txID string, from, to domain.TransactionStatus) {
	transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
	trace.SpanFromContext(ctx).AddEvent("transition", trace.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
	logger.Transition(txID, string(from), string(to))
}
