package postgres

import (
	"context"
	"database/sql"
	"time"

	"peerlend-backend/internal/domain"
	"peerlend-backend/internal/logger"
	"peerlend-backend/internal/repository"
)

type userRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) repository.UserRepository {
	return &userRepository{db: db}
}

const userColumns = `id, email, name, device_token, trust_score, total_borrows, on_time_returns, late_returns, disputes, created_at, updated_at`

func (r *userRepository) Create(ctx context.Context, u *domain.User) error {
	query := `INSERT INTO users (` + userColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	_, err := r.db.ExecContext(ctx, query, u.ID, u.Email, u.Name, u.DeviceToken,
		u.Trust.Score, u.Trust.TotalBorrows, u.Trust.OnTimeReturns, u.Trust.LateReturns, u.Trust.Disputes,
		u.CreatedAt, u.UpdatedAt)
	return mapErr(err)
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	u := &domain.User{}
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&u.ID, &u.Email, &u.Name, &u.DeviceToken,
		&u.Trust.Score, &u.Trust.TotalBorrows, &u.Trust.OnTimeReturns, &u.Trust.LateReturns, &u.Trust.Disputes,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return u, nil
}

// ApplyTrustOutcome claims the (transaction, outcome) row first. The claim and
// the profile update commit together, so a crash between them cannot leave a
// delta applied without its guard row or the reverse.
func (r *userRepository) ApplyTrustOutcome(ctx context.Context, userID, transactionID string, outcome domain.TrustOutcome, update repository.TrustUpdate) (bool, error) {
	applied := false
	logger.DatabaseCall("apply_trust_outcome", "users", "user_id", userID, "transaction_id", transactionID, "outcome", outcome)
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		now := time.Now()
		var current domain.Trust
		err := tx.QueryRowContext(ctx,
			`SELECT trust_score, total_borrows, on_time_returns, late_returns, disputes FROM users WHERE id = $1 FOR UPDATE`,
			userID,
		).Scan(&current.Score, &current.TotalBorrows, &current.OnTimeReturns, &current.LateReturns, &current.Disputes)
		if err != nil {
			return mapErr(err)
		}

		next := update(current)
		res, err := tx.ExecContext(ctx,
			`INSERT INTO trust_outcomes (transaction_id, outcome, user_id, score_before, score_after, applied_at) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (transaction_id, outcome) DO NOTHING`,
			transactionID, outcome, userID, current.Score, next.Score, now,
		)
		if err != nil {
			return mapErr(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE users SET trust_score=$1, total_borrows=$2, on_time_returns=$3, late_returns=$4, disputes=$5, updated_at=$6 WHERE id=$7`,
			next.Score, next.TotalBorrows, next.OnTimeReturns, next.LateReturns, next.Disputes, now, userID,
		)
		if err != nil {
			return mapErr(err)
		}
		applied = true
		return nil
	})
	var rows int64
	if applied {
		rows = 1
	}
	logger.DatabaseResult("apply_trust_outcome", rows, err, "user_id", userID)
	return applied, err
}
