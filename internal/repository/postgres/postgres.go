package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"peerlend-backend/internal/domain"
	"peerlend-backend/internal/logger"
	"peerlend-backend/internal/repository"
)

//go:embed schema.sql
var Schema string

type Store struct {
	db *sql.DB
	repository.UserRepository
	repository.ItemRepository
	repository.TransactionRepository
	repository.ReminderRepository
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:                    db,
		UserRepository:        NewUserRepository(db),
		ItemRepository:        NewItemRepository(db),
		TransactionRepository: NewTransactionRepository(db),
		ReminderRepository:    NewReminderRepository(db),
	}
}

func (s *Store) Repositories() repository.Repositories {
	return repository.Repositories{
		Users:        s.UserRepository,
		Items:        s.ItemRepository,
		Transactions: s.TransactionRepository,
		Reminders:    s.ReminderRepository,
	}
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return domain.ErrStoreUnavailable.Because(err)
	}
	return nil
}

// Migrate applies the idempotent schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	logger.DatabaseCall("migrate", "schema.sql")
	_, err := db.ExecContext(ctx, Schema)
	logger.DatabaseResult("migrate", 0, err)
	if err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// mapErr converts driver errors into domain errors.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return domain.ErrNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, sql.ErrConnDone), errors.Is(err, sql.ErrTxDone):
		return domain.ErrStoreUnavailable.Because(err)
	default:
		return err
	}
}

// withTx runs fn in a transaction, committing when fn returns nil.
func withTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return domain.ErrStoreUnavailable.Because(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
