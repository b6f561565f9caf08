package postgres_test

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peerlend-backend/internal/domain"
	"peerlend-backend/internal/repository/postgres"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error opening mock database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

var transactionColumnNames = []string{
	"id", "item_id", "borrower_id", "lender_id", "category", "borrow_start", "expected_return", "duration_hours",
	"suggested_price", "agreed_price_paise", "platform_fee_paise", "delivery_fee_paise", "total_amount_paise", "collateral_paise", "pre_auth_amount_paise", "late_fee_paise",
	"payment_method", "payment_hold_id", "capture_id", "late_fee_id", "late_fee_status",
	"handoff_code", "handoff_issued_at", "handoff_consumed_at", "return_code", "return_issued_at", "return_consumed_at",
	"handoff_verified", "return_verified", "handoff_at", "returned_at", "delivery_method", "risk_score", "risk", "status", "cancelled_by", "cancel_reason", "issue",
	"version", "created_at", "updated_at",
}

func transactionRow(id string, issue []byte) []driver.Value {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	return []driver.Value{
		id, "item-1", "borrower-1", "lender-1", "textbook", now, now.Add(48 * time.Hour), 48,
		40, 4000, 400, 0, 4400, nil, 4400, 0,
		[]byte(`{"method":"upi","details":{"upi_id":"asha@okbank"}}`), "hold-1", "", "", "",
		"code-h", now, nil, "code-r", now, nil,
		false, false, nil, nil, "self", 19, []byte(`{"score":19,"level":"low","factors":[],"collateral_required":false,"suggested_deposit":0}`), "pending", "", "", issue,
		1, now, now,
	}
}

func TestTransactionRepository_GetByID(t *testing.T) {
	db, mock := newMock(t)
	repo := postgres.NewTransactionRepository(db)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		rows := sqlmock.NewRows(transactionColumnNames).AddRow(transactionRow("tx-1", nil)...)
		mock.ExpectQuery("SELECT (.+) FROM transactions WHERE id = \\$1").
			WithArgs("tx-1").
			WillReturnRows(rows)

		tx, err := repo.GetByID(ctx, "tx-1")
		require.NoError(t, err)
		assert.Equal(t, "tx-1", tx.ID)
		assert.Equal(t, domain.CategoryTextbook, tx.Category)
		assert.Equal(t, domain.TransactionStatusPending, tx.Status)
		assert.Equal(t, domain.PaymentMethodUPI, tx.PaymentMethod.Method())
		assert.Equal(t, domain.RiskLow, tx.Risk.Level)
		assert.Nil(t, tx.CollateralPaise)
		assert.Nil(t, tx.Issue)
		assert.False(t, tx.HandoffToken.Consumed())
	})

	t.Run("WithIssue", func(t *testing.T) {
		issue := []byte(`{"reporter_id":"lender-1","category":"damage","description":"cracked screen","reported_at":"2026-05-02T10:00:00Z"}`)
		rows := sqlmock.NewRows(transactionColumnNames).AddRow(transactionRow("tx-2", issue)...)
		mock.ExpectQuery("SELECT (.+) FROM transactions WHERE id = \\$1").
			WithArgs("tx-2").
			WillReturnRows(rows)

		tx, err := repo.GetByID(ctx, "tx-2")
		require.NoError(t, err)
		require.NotNil(t, tx.Issue)
		assert.Equal(t, domain.IssueDamage, tx.Issue.Category)
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM transactions WHERE id = \\$1").
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		tx, err := repo.GetByID(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.Nil(t, tx)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepository_Update(t *testing.T) {
	db, mock := newMock(t)
	repo := postgres.NewTransactionRepository(db)
	ctx := context.Background()

	newTx := func() *domain.Transaction {
		return &domain.Transaction{
			ID:            "tx-1",
			PaymentMethod: domain.UPIDetails{UPIID: "asha@okbank"},
			Status:        domain.TransactionStatusActive,
			Version:       3,
		}
	}

	t.Run("Success", func(t *testing.T) {
		tx := newTx()
		mock.ExpectExec("UPDATE transactions SET (.+) WHERE id=\\$20 AND version=\\$21").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Update(ctx, tx))
		assert.Equal(t, 4, tx.Version)
	})

	t.Run("StaleVersion", func(t *testing.T) {
		tx := newTx()
		mock.ExpectExec("UPDATE transactions SET (.+) WHERE id=\\$20 AND version=\\$21").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.Update(ctx, tx)
		assert.ErrorIs(t, err, domain.ErrConflict)
		assert.Equal(t, 3, tx.Version)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepository_Create(t *testing.T) {
	db, mock := newMock(t)
	repo := postgres.NewTransactionRepository(db)

	tx := &domain.Transaction{
		ID:            "tx-1",
		ItemID:        "item-1",
		PaymentMethod: domain.CardDetails{Network: "visa", Last4: "4242", Token: "tok_1"},
		Status:        domain.TransactionStatusPending,
	}
	mock.ExpectExec("INSERT INTO transactions").WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), tx))
	assert.Equal(t, 1, tx.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepository_ListStalePending(t *testing.T) {
	db, mock := newMock(t)
	repo := postgres.NewTransactionRepository(db)
	cutoff := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(transactionColumnNames).
		AddRow(transactionRow("tx-1", nil)...).
		AddRow(transactionRow("tx-2", nil)...)
	mock.ExpectQuery("SELECT (.+) FROM transactions WHERE status = \\$1 (.+) LIMIT \\$3").
		WithArgs(domain.TransactionStatusPending, cutoff, 50).
		WillReturnRows(rows)

	list, err := repo.ListStalePending(context.Background(), cutoff, 50)
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepository_ListLateFeesDue(t *testing.T) {
	db, mock := newMock(t)
	repo := postgres.NewTransactionRepository(db)

	row := transactionRow("tx-late", nil)
	row[15] = int64(1000)
	row[20] = string(domain.LateFeePending)
	mock.ExpectQuery("SELECT (.+) FROM transactions WHERE late_fee_status = \\$1 ORDER BY returned_at LIMIT \\$2").
		WithArgs(domain.LateFeePending, 25).
		WillReturnRows(sqlmock.NewRows(transactionColumnNames).AddRow(row...))

	list, err := repo.ListLateFeesDue(context.Background(), 25)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(1000), list[0].LateFeePaise)
	assert.Equal(t, domain.LateFeePending, list[0].LateFeeStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestItemRepository_Reserve(t *testing.T) {
	db, mock := newMock(t)
	repo := postgres.NewItemRepository(db)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		mock.ExpectExec("UPDATE items SET is_available = FALSE").
			WithArgs(sqlmock.AnyArg(), "item-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.Reserve(ctx, "item-1"))
	})

	t.Run("AlreadyTaken", func(t *testing.T) {
		mock.ExpectExec("UPDATE items SET is_available = FALSE").
			WithArgs(sqlmock.AnyArg(), "item-1").
			WillReturnResult(sqlmock.NewResult(0, 0))
		now := time.Now()
		rows := sqlmock.NewRows([]string{"id", "owner_id", "title", "description", "category", "condition", "value_paise", "listed_price", "demand", "is_available", "view_count", "rental_count", "created_at", "updated_at", "delisted_at"}).
			AddRow("item-1", "lender-1", "Calculus", "", "textbook", "good", 80000, 40, "medium", false, 3, 1, now, now, nil)
		mock.ExpectQuery("SELECT (.+) FROM items WHERE id = \\$1").
			WithArgs("item-1").
			WillReturnRows(rows)

		err := repo.Reserve(ctx, "item-1")
		assert.ErrorIs(t, err, domain.ErrItemUnavailable)
	})

	t.Run("Missing", func(t *testing.T) {
		mock.ExpectExec("UPDATE items SET is_available = FALSE").
			WithArgs(sqlmock.AnyArg(), "nope").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT (.+) FROM items WHERE id = \\$1").
			WithArgs("nope").
			WillReturnError(sql.ErrNoRows)

		err := repo.Reserve(ctx, "nope")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestItemRepository_IncrementViewCount(t *testing.T) {
	db, mock := newMock(t)
	repo := postgres.NewItemRepository(db)

	mock.ExpectQuery("UPDATE items SET view_count = view_count \\+ 1 WHERE id = \\$1 RETURNING view_count").
		WithArgs("item-1").
		WillReturnRows(sqlmock.NewRows([]string{"view_count"}).AddRow(8))

	n, err := repo.IncrementViewCount(context.Background(), "item-1")
	require.NoError(t, err)
	assert.Equal(t, int64(8), n)
}

func TestUserRepository_ApplyTrustOutcome(t *testing.T) {
	db, mock := newMock(t)
	repo := postgres.NewUserRepository(db)
	ctx := context.Background()

	bump := func(cur domain.Trust) domain.Trust {
		cur.Score += 2
		cur.TotalBorrows++
		cur.OnTimeReturns++
		return cur
	}
	trustRow := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"trust_score", "total_borrows", "on_time_returns", "late_returns", "disputes"}).
			AddRow(60, 4, 4, 0, 0)
	}

	t.Run("Applied", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM users WHERE id = \\$1 FOR UPDATE").
			WithArgs("borrower-1").
			WillReturnRows(trustRow())
		mock.ExpectExec("INSERT INTO trust_outcomes").
			WithArgs("tx-1", domain.OutcomeOnTime, "borrower-1", 60, 62, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE users SET trust_score").
			WithArgs(62, 5, 5, 0, 0, sqlmock.AnyArg(), "borrower-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		applied, err := repo.ApplyTrustOutcome(ctx, "borrower-1", "tx-1", domain.OutcomeOnTime, bump)
		require.NoError(t, err)
		assert.True(t, applied)
	})

	t.Run("AlreadyApplied", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM users WHERE id = \\$1 FOR UPDATE").
			WithArgs("borrower-1").
			WillReturnRows(trustRow())
		mock.ExpectExec("INSERT INTO trust_outcomes").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		applied, err := repo.ApplyTrustOutcome(ctx, "borrower-1", "tx-1", domain.OutcomeOnTime, bump)
		require.NoError(t, err)
		assert.False(t, applied)
	})

	t.Run("UnknownUser", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM users WHERE id = \\$1 FOR UPDATE").
			WithArgs("ghost").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		applied, err := repo.ApplyTrustOutcome(ctx, "ghost", "tx-1", domain.OutcomeOnTime, bump)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.False(t, applied)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReminderRepository(t *testing.T) {
	db, mock := newMock(t)
	repo := postgres.NewReminderRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 5, 3, 8, 0, 0, 0, time.UTC)

	t.Run("CreateBatch", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO reminders").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO reminders").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := repo.CreateBatch(ctx, []domain.Reminder{
			{ID: "r1", TransactionID: "tx-1", UserID: "borrower-1", DueAt: now, SendAt: now.Add(-24 * time.Hour)},
			{ID: "r2", TransactionID: "tx-1", UserID: "borrower-1", DueAt: now, SendAt: now.Add(-2 * time.Hour)},
		})
		assert.NoError(t, err)
	})

	t.Run("CreateEmptyBatch", func(t *testing.T) {
		assert.NoError(t, repo.CreateBatch(ctx, nil))
	})

	t.Run("ListDue", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"id", "transaction_id", "user_id", "item_title", "due_at", "send_at", "sent_at", "created_at"}).
			AddRow("r1", "tx-1", "borrower-1", "Calculus", now, now.Add(-time.Hour), nil, now.Add(-48*time.Hour))
		mock.ExpectQuery("SELECT (.+) FROM reminders WHERE sent_at IS NULL AND send_at <= \\$1").
			WithArgs(now, 100).
			WillReturnRows(rows)

		due, err := repo.ListDue(ctx, now, 100)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, "Calculus", due[0].ItemTitle)
		assert.Nil(t, due[0].SentAt)
	})

	t.Run("MarkSentMissing", func(t *testing.T) {
		mock.ExpectExec("UPDATE reminders SET sent_at").
			WithArgs(now, "nope").
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, repo.MarkSent(ctx, "nope", now), domain.ErrNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
