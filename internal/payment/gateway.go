// Package payment defines the custody port to the card/UPI gateway and the
// adapters the coordinator calls through it.
package payment

import (
	"context"
	"errors"

	"peerlend-backend/internal/domain"
)

var (
	// ErrTransient marks failures worth retrying with the same idempotency key.
	ErrTransient = errors.New("payment provider temporarily unavailable")
	// ErrDeclined is a permanent refusal by the provider.
	ErrDeclined          = errors.New("payment declined")
	ErrHoldNotFound      = errors.New("hold not found")
	ErrHoldNotAuthorized = errors.New("hold is not in authorized state")
	ErrAmountExceedsHold = errors.New("capture amount exceeds held amount")
)

type Status string

const (
	StatusAuthorized Status = "authorized"
	StatusCaptured   Status = "captured"
	StatusCancelled  Status = "cancelled"
	StatusSucceeded  Status = "succeeded"
)

// Amounts are minor units.
type HoldRequest struct {
	CustomerID     string
	Amount         int64
	Payment        domain.PaymentDetails
	Metadata       map[string]string
	IdempotencyKey string
}

type HoldResult struct {
	HoldID string
	Status Status
}

type CaptureResult struct {
	CaptureID      string
	Status         Status
	AmountCaptured int64
}

type CancelResult struct {
	Status Status
}

type ChargeResult struct {
	ChargeID string
	Status   Status
}

type RefundResult struct {
	RefundID string
	Status   Status
}

type TransferResult struct {
	TransferID string
}

// Gateway is the payment custody collaborator. Every call carries an
// idempotency key; replaying a key returns the original result.
type Gateway interface {
	Hold(ctx context.Context, req HoldRequest) (HoldResult, error)
	Capture(ctx context.Context, holdID string, amount int64, idempotencyKey string) (CaptureResult, error)
	Cancel(ctx context.Context, holdID string, idempotencyKey string) (CancelResult, error)
	Charge(ctx context.Context, customerID string, amount int64, metadata map[string]string, idempotencyKey string) (ChargeResult, error)
	Refund(ctx context.Context, amount int64, metadata map[string]string, idempotencyKey string) (RefundResult, error)
	Transfer(ctx context.Context, destination string, amount int64, metadata map[string]string, idempotencyKey string) (TransferResult, error)
}

// Idempotency keys, one per side effect of a transaction.
func HoldKey(transactionID string) string    { return "hold:" + transactionID }
func CaptureKey(transactionID string) string { return "capture:" + transactionID }
func CancelKey(transactionID string) string  { return "cancel:" + transactionID }
func LateFeeKey(transactionID string) string { return "late-fee:" + transactionID }
func PayoutKey(transactionID, party string) string {
	return "payout:" + party + ":" + transactionID
}

// AsDomainError converts gateway failures into the coordinator's taxonomy.
func AsDomainError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrDeclined) {
		return domain.ErrPaymentDeclined.Because(err)
	}
	return domain.ErrPaymentUnavailable.Because(err)
}
