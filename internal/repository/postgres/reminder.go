package postgres

import (
	"context"
	"database/sql"
	"time"

	"peerlend-backend/internal/domain"
	"peerlend-backend/internal/repository"
)

type reminderRepository struct {
	db *sql.DB
}

func NewReminderRepository(db *sql.DB) repository.ReminderRepository {
	return &reminderRepository{db: db}
}

func (r *reminderRepository) CreateBatch(ctx context.Context, reminders []domain.Reminder) error {
	if len(reminders) == 0 {
		return nil
	}
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		query := `INSERT INTO reminders (id, transaction_id, user_id, item_title, due_at, send_at, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`
		for _, rm := range reminders {
			if _, err := tx.ExecContext(ctx, query, rm.ID, rm.TransactionID, rm.UserID, rm.ItemTitle, rm.DueAt, rm.SendAt, rm.CreatedAt); err != nil {
				return mapErr(err)
			}
		}
		return nil
	})
}

func (r *reminderRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Reminder, error) {
	query := `SELECT id, transaction_id, user_id, item_title, due_at, send_at, sent_at, created_at FROM reminders WHERE sent_at IS NULL AND send_at <= $1 ORDER BY send_at LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []domain.Reminder
	for rows.Next() {
		var rm domain.Reminder
		if err := rows.Scan(&rm.ID, &rm.TransactionID, &rm.UserID, &rm.ItemTitle, &rm.DueAt, &rm.SendAt, &rm.SentAt, &rm.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rm)
	}
	return out, rows.Err()
}

func (r *reminderRepository) MarkSent(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE reminders SET sent_at = $1 WHERE id = $2`, at, id)
	return expectOne(res, err)
}

func (r *reminderRepository) DeleteUnsent(ctx context.Context, transactionID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM reminders WHERE transaction_id = $1 AND sent_at IS NULL`, transactionID)
	return mapErr(err)
}
