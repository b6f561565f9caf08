package repository

import (
	"context"
	"time"

	"peerlend-backend/internal/domain"
)

// Lookups return domain.ErrNotFound when the record does not exist.

type ItemRepository interface {
	Create(ctx context.Context, item *domain.Item) error
	GetByID(ctx context.Context, id string) (*domain.Item, error)
	// Update writes listing fields. Availability and counters are only
	// changed through the dedicated atomic methods below.
	Update(ctx context.Context, item *domain.Item) error
	Delist(ctx context.Context, id string, at time.Time) error

	// Reserve atomically flips an available item to unavailable. It returns
	// domain.ErrItemUnavailable when the item is already taken or delisted.
	Reserve(ctx context.Context, id string) error
	Release(ctx context.Context, id string) error

	IncrementViewCount(ctx context.Context, id string) (int64, error)
	IncrementRentalCount(ctx context.Context, id string) (int64, error)
}

type TransactionRepository interface {
	Create(ctx context.Context, tx *domain.Transaction) error
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)
	// Update persists tx only if the stored version still equals tx.Version,
	// then bumps tx.Version. A stale write returns domain.ErrConflict.
	Update(ctx context.Context, tx *domain.Transaction) error

	// ListStalePending returns pending transactions whose handoff token was
	// issued before cutoff.
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]domain.Transaction, error)
	// ListReturnedWithoutOutcome returns returned transactions whose borrower
	// has no recorded timeliness outcome yet.
	ListReturnedWithoutOutcome(ctx context.Context, limit int) ([]domain.Transaction, error)
	// ListLateFeesDue returns returned transactions whose late fee charge
	// has not gone through yet.
	ListLateFeesDue(ctx context.Context, limit int) ([]domain.Transaction, error)
}

// TrustUpdate computes the new trust profile from the current one.
type TrustUpdate func(current domain.Trust) domain.Trust

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// ApplyTrustOutcome runs update under a per-user lock, at most once per
	// (transactionID, outcome). It reports false when the pair was already
	// applied and nothing changed.
	ApplyTrustOutcome(ctx context.Context, userID, transactionID string, outcome domain.TrustOutcome, update TrustUpdate) (bool, error)
}

type ReminderRepository interface {
	CreateBatch(ctx context.Context, reminders []domain.Reminder) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Reminder, error)
	MarkSent(ctx context.Context, id string, at time.Time) error
	// DeleteUnsent drops reminders that are no longer relevant, e.g. after
	// cancellation or completion.
	DeleteUnsent(ctx context.Context, transactionID string) error
}

// Repositories bundles the ports a service needs. Both the postgres and the
// memory store can produce one.
type Repositories struct {
	Users        UserRepository
	Items        ItemRepository
	Transactions TransactionRepository
	Reminders    ReminderRepository
}
