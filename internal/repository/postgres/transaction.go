package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"peerlend-backend/internal/domain"
	"peerlend-backend/internal/logger"
	"peerlend-backend/internal/repository"
)

type transactionRepository struct {
	db *sql.DB
}

func NewTransactionRepository(db *sql.DB) repository.TransactionRepository {
	return &transactionRepository{db: db}
}

const transactionColumns = `id, item_id, borrower_id, lender_id, category, borrow_start, expected_return, duration_hours, ` +
	`suggested_price, agreed_price_paise, platform_fee_paise, delivery_fee_paise, total_amount_paise, collateral_paise, pre_auth_amount_paise, late_fee_paise, ` +
	`payment_method, payment_hold_id, capture_id, late_fee_id, late_fee_status, ` +
	`handoff_code, handoff_issued_at, handoff_consumed_at, return_code, return_issued_at, return_consumed_at, ` +
	`handoff_verified, return_verified, handoff_at, returned_at, delivery_method, risk_score, risk, status, cancelled_by, cancel_reason, issue, ` +
	`version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	t := &domain.Transaction{}
	var paymentJSON, riskJSON, issueJSON []byte
	err := row.Scan(
		&t.ID, &t.ItemID, &t.BorrowerID, &t.LenderID, &t.Category, &t.BorrowStart, &t.ExpectedReturn, &t.DurationHours,
		&t.SuggestedPrice, &t.AgreedPricePaise, &t.PlatformFeePaise, &t.DeliveryFeePaise, &t.TotalAmountPaise, &t.CollateralPaise, &t.PreAuthAmountPaise, &t.LateFeePaise,
		&paymentJSON, &t.PaymentHoldID, &t.CaptureID, &t.LateFeeID, &t.LateFeeStatus,
		&t.HandoffToken.VerificationCode, &t.HandoffToken.IssuedAt, &t.HandoffToken.ConsumedAt,
		&t.ReturnToken.VerificationCode, &t.ReturnToken.IssuedAt, &t.ReturnToken.ConsumedAt,
		&t.HandoffVerified, &t.ReturnVerified, &t.HandoffAt, &t.ReturnedAt, &t.DeliveryMethod, &t.RiskScore, &riskJSON, &t.Status, &t.CancelledBy, &t.CancelReason, &issueJSON,
		&t.Version, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	if t.PaymentMethod, err = domain.UnmarshalPaymentDetails(paymentJSON); err != nil {
		return nil, fmt.Errorf("transaction %s: %w", t.ID, err)
	}
	if err := json.Unmarshal(riskJSON, &t.Risk); err != nil {
		return nil, fmt.Errorf("transaction %s: decode risk: %w", t.ID, err)
	}
	if len(issueJSON) > 0 {
		t.Issue = &domain.IssueReport{}
		if err := json.Unmarshal(issueJSON, t.Issue); err != nil {
			return nil, fmt.Errorf("transaction %s: decode issue: %w", t.ID, err)
		}
	}
	return t, nil
}

type encodedColumns struct {
	payment []byte
	risk    []byte
	issue   []byte
}

func encodeColumns(t *domain.Transaction) (encodedColumns, error) {
	var out encodedColumns
	var err error
	if out.payment, err = domain.MarshalPaymentDetails(t.PaymentMethod); err != nil {
		return out, err
	}
	if out.risk, err = json.Marshal(t.Risk); err != nil {
		return out, fmt.Errorf("encode risk: %w", err)
	}
	if t.Issue != nil {
		if out.issue, err = json.Marshal(t.Issue); err != nil {
			return out, fmt.Errorf("encode issue: %w", err)
		}
	}
	return out, nil
}

func (r *transactionRepository) Create(ctx context.Context, t *domain.Transaction) error {
	cols, err := encodeColumns(t)
	if err != nil {
		return err
	}
	if t.Version == 0 {
		t.Version = 1
	}
	query := `INSERT INTO transactions (` + transactionColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33, $34, $35, $36, $37, $38, $39, $40, $41)`
	logger.DatabaseCall("insert", "transactions", "transaction_id", t.ID)
	res, err := r.db.ExecContext(ctx, query,
		t.ID, t.ItemID, t.BorrowerID, t.LenderID, t.Category, t.BorrowStart, t.ExpectedReturn, t.DurationHours,
		t.SuggestedPrice, t.AgreedPricePaise, t.PlatformFeePaise, t.DeliveryFeePaise, t.TotalAmountPaise, t.CollateralPaise, t.PreAuthAmountPaise, t.LateFeePaise,
		cols.payment, t.PaymentHoldID, t.CaptureID, t.LateFeeID, t.LateFeeStatus,
		t.HandoffToken.VerificationCode, t.HandoffToken.IssuedAt, t.HandoffToken.ConsumedAt,
		t.ReturnToken.VerificationCode, t.ReturnToken.IssuedAt, t.ReturnToken.ConsumedAt,
		t.HandoffVerified, t.ReturnVerified, t.HandoffAt, t.ReturnedAt, t.DeliveryMethod, t.RiskScore, cols.risk, t.Status, t.CancelledBy, t.CancelReason, cols.issue,
		t.Version, t.CreatedAt, t.UpdatedAt,
	)
	var n int64
	if err == nil {
		n, _ = res.RowsAffected()
	}
	logger.DatabaseResult("insert", n, err, "transaction_id", t.ID)
	return mapErr(err)
}

func (r *transactionRepository) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	return scanTransaction(r.db.QueryRowContext(ctx, query, id))
}

func (r *transactionRepository) Update(ctx context.Context, t *domain.Transaction) error {
	cols, err := encodeColumns(t)
	if err != nil {
		return err
	}
	now := time.Now()
	query := `UPDATE transactions SET late_fee_paise=$1, capture_id=$2, late_fee_id=$3, late_fee_status=$4, ` +
		`handoff_code=$5, handoff_issued_at=$6, handoff_consumed_at=$7, return_code=$8, return_issued_at=$9, return_consumed_at=$10, ` +
		`handoff_verified=$11, return_verified=$12, handoff_at=$13, returned_at=$14, status=$15, cancelled_by=$16, cancel_reason=$17, issue=$18, ` +
		`version = version + 1, updated_at=$19 WHERE id=$20 AND version=$21`
	logger.DatabaseCall("update", "transactions", "transaction_id", t.ID, "version", t.Version)
	res, err := r.db.ExecContext(ctx, query,
		t.LateFeePaise, t.CaptureID, t.LateFeeID, t.LateFeeStatus,
		t.HandoffToken.VerificationCode, t.HandoffToken.IssuedAt, t.HandoffToken.ConsumedAt,
		t.ReturnToken.VerificationCode, t.ReturnToken.IssuedAt, t.ReturnToken.ConsumedAt,
		t.HandoffVerified, t.ReturnVerified, t.HandoffAt, t.ReturnedAt, t.Status, t.CancelledBy, t.CancelReason, cols.issue,
		now, t.ID, t.Version,
	)
	if err != nil {
		logger.DatabaseResult("update", 0, err, "transaction_id", t.ID)
		return mapErr(err)
	}
	n, err := res.RowsAffected()
	logger.DatabaseResult("update", n, err, "transaction_id", t.ID)
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrConflict.With("transaction_id", t.ID)
	}
	t.Version++
	t.UpdatedAt = now
	return nil
}

func (r *transactionRepository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE status = $1 AND NOT handoff_verified AND handoff_issued_at < $2 ORDER BY handoff_issued_at LIMIT $3`
	return r.list(ctx, query, domain.TransactionStatusPending, cutoff, limit)
}

func (r *transactionRepository) ListReturnedWithoutOutcome(ctx context.Context, limit int) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions t WHERE t.returned_at IS NOT NULL AND NOT EXISTS (` +
		`SELECT 1 FROM trust_outcomes o WHERE o.transaction_id = t.id AND o.outcome IN ($1, $2, $3)) ORDER BY t.returned_at LIMIT $4`
	return r.list(ctx, query, domain.OutcomeOnTime, domain.OutcomeLate, domain.OutcomeVeryLate, limit)
}

func (r *transactionRepository) ListLateFeesDue(ctx context.Context, limit int) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE late_fee_status = $1 ORDER BY returned_at LIMIT $2`
	return r.list(ctx, query, domain.LateFeePending, limit)
}

func (r *transactionRepository) list(ctx context.Context, query string, args ...any) ([]domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
