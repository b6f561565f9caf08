package payment

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"peerlend-backend/internal/logger"
)

var (
	paymentMeter          = otel.Meter("peerlend-backend/payment")
	paymentCalls, _       = paymentMeter.Int64Counter("custody.payment.calls", metric.WithDescription("Payment gateway calls by operation and outcome"))
	paymentAttempts, _    = paymentMeter.Int64Counter("custody.payment.attempts", metric.WithDescription("Individual gateway attempts including retries"))
	paymentCallLatency, _ = paymentMeter.Float64Histogram("custody.payment.duration", metric.WithDescription("Gateway call duration including retries"), metric.WithUnit("s"))
)

type RetryPolicy struct {
	// Bound on a single attempt.
	AttemptTimeout time.Duration
	MaxAttempts    uint
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = 5 * time.Second
	}
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 3
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 200 * time.Millisecond
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 2 * time.Second
	}
	return p
}

// Retrying decorates a Gateway with per-attempt timeouts and exponential
// backoff on transient failures. The idempotency key is reused across
// attempts so a retried side effect happens at most once.
type Retrying struct {
	next     Gateway
	provider string
	policy   RetryPolicy
}

func NewRetrying(next Gateway, provider string, policy RetryPolicy) *Retrying {
	return &Retrying{next: next, provider: provider, policy: policy.withDefaults()}
}

func call[T any](ctx context.Context, r *Retrying, op, key string, fn func(context.Context) (T, error)) (T, error) {
	logger.ExternalServiceCall(r.provider, op, "idempotency_key", key)
	start := time.Now()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.policy.InitialBackoff
	exp.MaxInterval = r.policy.MaxBackoff

	result, err := backoff.Retry(ctx, func() (T, error) {
		paymentAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
		attemptCtx, cancel := context.WithTimeout(ctx, r.policy.AttemptTimeout)
		defer cancel()

		out, err := fn(attemptCtx)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
			logger.Warn("Payment attempt failed, retrying", "provider", r.provider, "operation", op, "idempotency_key", key, "error", err)
			return out, err
		}
		return out, backoff.Permanent(err)
	},
		backoff.WithBackOff(exp),
		backoff.WithMaxTries(r.policy.MaxAttempts),
	)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(attribute.String("operation", op), attribute.String("outcome", outcome))
	paymentCalls.Add(ctx, 1, attrs)
	paymentCallLatency.Record(ctx, time.Since(start).Seconds(), attrs)
	logger.ExternalServiceResult(r.provider, op, err, "idempotency_key", key)
	return result, err
}

func (r *Retrying) Hold(ctx context.Context, req HoldRequest) (HoldResult, error) {
	return call(ctx, r, "hold", req.IdempotencyKey, func(ctx context.Context) (HoldResult, error) {
		return r.next.Hold(ctx, req)
	})
}

func (r *Retrying) Capture(ctx context.Context, holdID string, amount int64, key string) (CaptureResult, error) {
	return call(ctx, r, "capture", key, func(ctx context.Context) (CaptureResult, error) {
		return r.next.Capture(ctx, holdID, amount, key)
	})
}

func (r *Retrying) Cancel(ctx context.Context, holdID string, key string) (CancelResult, error) {
	return call(ctx, r, "cancel", key, func(ctx context.Context) (CancelResult, error) {
		return r.next.Cancel(ctx, holdID, key)
	})
}

func (r *Retrying) Charge(ctx context.Context, customerID string, amount int64, metadata map[string]string, key string) (ChargeResult, error) {
	return call(ctx, r, "charge", key, func(ctx context.Context) (ChargeResult, error) {
		return r.next.Charge(ctx, customerID, amount, metadata, key)
	})
}

func (r *Retrying) Refund(ctx context.Context, amount int64, metadata map[string]string, key string) (RefundResult, error) {
	return call(ctx, r, "refund", key, func(ctx context.Context) (RefundResult, error) {
		return r.next.Refund(ctx, amount, metadata, key)
	})
}

func (r *Retrying) Transfer(ctx context.Context, destination string, amount int64, metadata map[string]string, key string) (TransferResult, error) {
	return call(ctx, r, "transfer", key, func(ctx context.Context) (TransferResult, error) {
		return r.next.Transfer(ctx, destination, amount, metadata, key)
	})
}
