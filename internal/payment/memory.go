package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

type hold struct {
	id         string
	customerID string
	amount     int64
	status     Status
	metadata   map[string]string
}

// InMemoryGateway is a process-local provider used in development and tests.
// It honours idempotency keys and supports scripted failures.
type InMemoryGateway struct {
	mu       sync.Mutex
	holds    map[string]*hold
	replies  map[string]any
	failures map[string][]error
	calls    map[string]int
	ledger   []Movement
}

// Movement is one money event recorded by the in-memory provider.
type Movement struct {
	Operation   string
	Reference   string
	Destination string
	Amount      int64
	Metadata    map[string]string
}

func NewInMemoryGateway() *InMemoryGateway {
	return &InMemoryGateway{
		holds:    make(map[string]*hold),
		replies:  make(map[string]any),
		failures: make(map[string][]error),
		calls:    make(map[string]int),
	}
}

// FailNext makes the next len(errs) calls of op fail with errs in order.
func (g *InMemoryGateway) FailNext(op string, errs ...error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[op] = append(g.failures[op], errs...)
}

// Calls returns how many times op reached the provider, failures included.
func (g *InMemoryGateway) Calls(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

// HoldStatus reports the state of a hold, or "" when unknown.
func (g *InMemoryGateway) HoldStatus(holdID string) Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	if h, ok := g.holds[holdID]; ok {
		return h.status
	}
	return ""
}

// Movements returns a copy of the recorded money events.
func (g *InMemoryGateway) Movements() []Movement {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Movement, len(g.ledger))
	copy(out, g.ledger)
	return out
}

// enter records the call and pops a scripted failure. It also returns a
// previously stored reply for key. Callers must hold g.mu.
func (g *InMemoryGateway) enter(ctx context.Context, op, key string) (any, error) {
	g.calls[op]++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if queued := g.failures[op]; len(queued) > 0 {
		g.failures[op] = queued[1:]
		return nil, queued[0]
	}
	if key == "" {
		return nil, fmt.Errorf("idempotency key is required")
	}
	return g.replies[op+"|"+key], nil
}

func (g *InMemoryGateway) remember(op, key string, reply any) {
	g.replies[op+"|"+key] = reply
}

func (g *InMemoryGateway) Hold(ctx context.Context, req HoldRequest) (HoldResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	prev, err := g.enter(ctx, "hold", req.IdempotencyKey)
	if err != nil {
		return HoldResult{}, err
	}
	if r, ok := prev.(HoldResult); ok {
		return r, nil
	}
	if req.Amount <= 0 {
		return HoldResult{}, fmt.Errorf("%w: hold amount must be positive", ErrDeclined)
	}
	h := &hold{
		id:         "hold_" + uuid.NewString(),
		customerID: req.CustomerID,
		amount:     req.Amount,
		status:     StatusAuthorized,
		metadata:   req.Metadata,
	}
	g.holds[h.id] = h
	result := HoldResult{HoldID: h.id, Status: StatusAuthorized}
	g.remember("hold", req.IdempotencyKey, result)
	return result, nil
}

func (g *InMemoryGateway) Capture(ctx context.Context, holdID string, amount int64, key string) (CaptureResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	prev, err := g.enter(ctx, "capture", key)
	if err != nil {
		return CaptureResult{}, err
	}
	if r, ok := prev.(CaptureResult); ok {
		return r, nil
	}
	h, ok := g.holds[holdID]
	if !ok {
		return CaptureResult{}, ErrHoldNotFound
	}
	if h.status != StatusAuthorized {
		return CaptureResult{}, ErrHoldNotAuthorized
	}
	if amount > h.amount {
		return CaptureResult{}, ErrAmountExceedsHold
	}
	h.status = StatusCaptured
	result := CaptureResult{CaptureID: "cap_" + uuid.NewString(), Status: StatusCaptured, AmountCaptured: amount}
	g.ledger = append(g.ledger, Movement{Operation: "capture", Reference: holdID, Amount: amount})
	g.remember("capture", key, result)
	return result, nil
}

func (g *InMemoryGateway) Cancel(ctx context.Context, holdID string, key string) (CancelResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	prev, err := g.enter(ctx, "cancel", key)
	if err != nil {
		return CancelResult{}, err
	}
	if r, ok := prev.(CancelResult); ok {
		return r, nil
	}
	h, ok := g.holds[holdID]
	if !ok {
		return CancelResult{}, ErrHoldNotFound
	}
	if h.status != StatusAuthorized {
		return CancelResult{}, ErrHoldNotAuthorized
	}
	h.status = StatusCancelled
	result := CancelResult{Status: StatusCancelled}
	g.remember("cancel", key, result)
	return result, nil
}

func (g *InMemoryGateway) Charge(ctx context.Context, customerID string, amount int64, metadata map[string]string, key string) (ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	prev, err := g.enter(ctx, "charge", key)
	if err != nil {
		return ChargeResult{}, err
	}
	if r, ok := prev.(ChargeResult); ok {
		return r, nil
	}
	if amount <= 0 {
		return ChargeResult{}, fmt.Errorf("%w: charge amount must be positive", ErrDeclined)
	}
	result := ChargeResult{ChargeID: "ch_" + uuid.NewString(), Status: StatusSucceeded}
	g.ledger = append(g.ledger, Movement{Operation: "charge", Reference: customerID, Amount: amount, Metadata: metadata})
	g.remember("charge", key, result)
	return result, nil
}

func (g *InMemoryGateway) Refund(ctx context.Context, amount int64, metadata map[string]string, key string) (RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	prev, err := g.enter(ctx, "refund", key)
	if err != nil {
		return RefundResult{}, err
	}
	if r, ok := prev.(RefundResult); ok {
		return r, nil
	}
	result := RefundResult{RefundID: "re_" + uuid.NewString(), Status: StatusSucceeded}
	g.ledger = append(g.ledger, Movement{Operation: "refund", Amount: amount, Metadata: metadata})
	g.remember("refund", key, result)
	return result, nil
}

func (g *InMemoryGateway) Transfer(ctx context.Context, destination string, amount int64, metadata map[string]string, key string) (TransferResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	prev, err := g.enter(ctx, "transfer", key)
	if err != nil {
		return TransferResult{}, err
	}
	if r, ok := prev.(TransferResult); ok {
		return r, nil
	}
	result := TransferResult{TransferID: "tr_" + uuid.NewString()}
	g.ledger = append(g.ledger, Movement{Operation: "transfer", Destination: destination, Amount: amount, Metadata: metadata})
	g.remember("transfer", key, result)
	return result, nil
}
