package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"peerlend-backend/internal/domain"
	"peerlend-backend/internal/exchange"
	"peerlend-backend/internal/logger"
	"peerlend-backend/internal/payment"
	"peerlend-backend/internal/pricing"
	"peerlend-backend/internal/repository"
	"peerlend-backend/internal/risk"
	"peerlend-backend/internal/utils"
)

// SystemActor is recorded as the canceller when a job expires a transaction.
const SystemActor = "system"

// Optimistic conflicts are re-evaluated this many times before giving up.
const maxConflictRetries = 3

// CustodyDeps wires the coordinator. Now defaults to time.Now.
type CustodyDeps struct {
	Repos    repository.Repositories
	Payments payment.Gateway
	Tokens   *exchange.Protocol
	Pricing  *pricing.Engine
	Risk     *risk.Engine
	Fees     FeeSchedule
	Now      func() time.Time
}

type custodyService struct {
	users        repository.UserRepository
	items        repository.ItemRepository
	transactions repository.TransactionRepository
	reminders    repository.ReminderRepository
	payments     payment.Gateway
	tokens       *exchange.Protocol
	pricing      *pricing.Engine
	risk         *risk.Engine
	fees         FeeSchedule
	platformPct  decimal.Decimal
	now          func() time.Time
	locks        *keyedMutex
}

func NewCustodyService(deps CustodyDeps) CustodyService {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Pricing == nil {
		deps.Pricing = pricing.NewEngine()
	}
	if deps.Risk == nil {
		deps.Risk = risk.NewEngine()
	}
	return &custodyService{
		users:        deps.Repos.Users,
		items:        deps.Repos.Items,
		transactions: deps.Repos.Transactions,
		reminders:    deps.Repos.Reminders,
		payments:     deps.Payments,
		tokens:       deps.Tokens,
		pricing:      deps.Pricing,
		risk:         deps.Risk,
		fees:         deps.Fees,
		platformPct:  decimal.NewFromFloat(deps.Fees.PlatformPercent),
		now:          deps.Now,
		locks:        newKeyedMutex(),
	}
}

func txLockKey(id string) string   { return "tx:" + id }
func itemLockKey(id string) string { return "item:" + id }

func validateCreate(in CreateTransactionInput) error {
	switch {
	case in.ItemID == "":
		return domain.NewValidationError("item id is required")
	case in.BorrowerID == "" || in.LenderID == "":
		return domain.NewValidationError("borrower and lender are required")
	case in.BorrowerID == in.LenderID:
		return domain.NewValidationError("borrower and lender must differ")
	case !in.ExpectedReturn.After(in.BorrowStart):
		return domain.NewValidationError("expected return must be after borrow start")
	case !in.DeliveryMethod.Valid():
		return domain.NewValidationError("unknown delivery method", "delivery_method", string(in.DeliveryMethod))
	case in.Payment == nil:
		return domain.NewValidationError("payment details are required")
	}
	return in.Payment.Validate()
}

func (s *custodyService) Create(ctx context.Context, in CreateTransactionInput) (tx *domain.Transaction, err error) {
	ctx, span := startSpan(ctx, "create", "")
	defer func() { endSpan(ctx, span, "create", err) }()
	logger.EnterMethod("custodyService.Create", "itemID", in.ItemID, "borrowerID", in.BorrowerID)

	if err := validateCreate(in); err != nil {
		logger.ExitMethodWithError("custodyService.Create", err)
		return nil, err
	}

	unlock := s.locks.Lock(itemLockKey(in.ItemID))
	defer unlock()

	if in.IdempotencyKey != "" {
		prior, err := s.priorCreate(ctx, in)
		if prior != nil || err != nil {
			return prior, err
		}
	}

	item, err := s.items.GetByID(ctx, in.ItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to load item: %w", err)
	}
	if item.OwnerID != in.LenderID {
		logger.Warn("Lender does not own item", "itemID", item.ID, "lenderID", in.LenderID)
		return nil, domain.ErrNotItemOwner.With("item_id", item.ID)
	}
	if item.DelistedAt != nil || !item.IsAvailable {
		return nil, domain.ErrItemUnavailable.With("item_id", item.ID)
	}
	borrower, err := s.users.GetByID(ctx, in.BorrowerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load borrower: %w", err)
	}

	now := s.now()
	tx, err = s.quote(item, borrower, in, now)
	if err != nil {
		return nil, err
	}

	if err := s.items.Reserve(ctx, item.ID); err != nil {
		return nil, err
	}

	hold, err := s.payments.Hold(ctx, payment.HoldRequest{
		CustomerID:     borrower.ID,
		Amount:         tx.PreAuthAmountPaise,
		Payment:        in.Payment,
		Metadata:       holdMetadata(tx, in.Payment),
		IdempotencyKey: payment.HoldKey(tx.ID),
	})
	if err != nil {
		logger.Error("Payment hold failed", "transactionID", tx.ID, "error", err)
		s.releaseItem(ctx, item.ID)
		return nil, payment.AsDomainError(err)
	}
	tx.PaymentHoldID = hold.HoldID
	span.SetAttributes(attribute.String("transaction.id", tx.ID))

	handoff, ret, err := s.tokens.MintPair(tx, now)
	if err == nil {
		tx.HandoffToken, tx.ReturnToken = handoff, ret
		err = s.transactions.Create(ctx, tx)
	}
	if err != nil {
		if in.IdempotencyKey != "" {
			// A retry with the same key replays this hold, so it must stay
			// authorized.
			logger.Error("Failed to persist transaction, hold kept for retry", "transactionID", tx.ID, "holdID", tx.PaymentHoldID, "error", err)
		} else {
			logger.Error("Failed to persist transaction, releasing hold", "transactionID", tx.ID, "error", err)
			if _, cerr := s.payments.Cancel(ctx, tx.PaymentHoldID, payment.CancelKey(tx.ID)); cerr != nil {
				logger.Error("Failed to cancel orphaned hold", "transactionID", tx.ID, "holdID", tx.PaymentHoldID, "error", cerr)
			}
		}
		s.releaseItem(ctx, item.ID)
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	recordTransition(ctx, tx.ID, "", domain.TransactionStatusPending)
	s.scheduleReminders(ctx, tx, item.Title, now)

	logger.ExitMethod("custodyService.Create", "transactionID", tx.ID, "total", tx.TotalAmountPaise, "preAuth", tx.PreAuthAmountPaise)
	return tx, nil
}

// transactionID derives the id from the client's idempotency key when there is
// one, so a retried Create reuses the same payment hold key.
func transactionID(in CreateTransactionInput) string {
	if in.IdempotencyKey == "" {
		return uuid.NewString()
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(in.BorrowerID+":"+in.IdempotencyKey)).String()
}

// priorCreate returns the transaction an earlier Create with the same key
// produced, or nil when there was none.
func (s *custodyService) priorCreate(ctx context.Context, in CreateTransactionInput) (*domain.Transaction, error) {
	prior, err := s.transactions.GetByID(ctx, transactionID(in))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up prior transaction: %w", err)
	}
	if prior.ItemID != in.ItemID || prior.LenderID != in.LenderID {
		return nil, domain.NewValidationError("idempotency key was already used for another request", "idempotency_key", in.IdempotencyKey)
	}
	logger.Info("Create replayed from idempotency key", "transactionID", prior.ID, "borrowerID", in.BorrowerID)
	for _, tokenType := range []domain.TokenType{domain.TokenTypeHandoff, domain.TokenTypeReturn} {
		leg := prior.Token(tokenType)
		if leg.Consumed() {
			continue
		}
		if leg.Encoded, err = s.tokens.Encode(prior, tokenType); err != nil {
			return nil, err
		}
	}
	return prior, nil
}

// quote builds the unsaved pending transaction: risk, price and fees.
func (s *custodyService) quote(item *domain.Item, borrower *domain.User, in CreateTransactionInput, now time.Time) (*domain.Transaction, error) {
	hours := utils.RentalHours(in.BorrowStart, in.ExpectedReturn)
	itemValue := domain.ToUnits(item.ValuePaise)

	assessment := s.risk.AssessRisk(domain.RiskInput{
		Trust:          borrower.Trust,
		ItemValue:      itemValue,
		DurationHours:  hours,
		HasCollateral:  in.OfferCollateral,
		AccountAgeDays: borrower.AccountAgeDays(now),
		HourOfDay:      now.Hour(),
		DayOfWeek:      now.Weekday(),
	})

	demand := in.Demand
	if demand == "" {
		demand = item.Demand
	}
	if demand == "" {
		demand = domain.DemandMedium
	}
	suggestion, err := s.pricing.SuggestPrice(item.Category, hours, item.Condition, demand)
	if err != nil {
		return nil, err
	}
	agreed := suggestion.SuggestedPrice
	if in.AgreedPrice != nil {
		agreed = *in.AgreedPrice
	}
	if err := s.pricing.ValidatePrice(agreed, item.Category); err != nil {
		return nil, err
	}
	if err := s.checkAgreedPrice(agreed, suggestion.SuggestedPrice); err != nil {
		return nil, err
	}

	agreedPaise := domain.ToPaise(agreed)
	platformFee := decimal.NewFromInt(agreedPaise).Mul(s.platformPct).Div(decimal.NewFromInt(100)).Round(0).IntPart()
	deliveryFee := s.fees.DeliveryFee(in.DeliveryMethod)
	total := agreedPaise + platformFee + deliveryFee

	tx := &domain.Transaction{
		ID:                 transactionID(in),
		ItemID:             item.ID,
		BorrowerID:         in.BorrowerID,
		LenderID:           in.LenderID,
		Category:           item.Category,
		BorrowStart:        in.BorrowStart,
		ExpectedReturn:     in.ExpectedReturn,
		DurationHours:      hours,
		SuggestedPrice:     suggestion.SuggestedPrice,
		AgreedPricePaise:   agreedPaise,
		PlatformFeePaise:   platformFee,
		DeliveryFeePaise:   deliveryFee,
		TotalAmountPaise:   total,
		PreAuthAmountPaise: total,
		PaymentMethod:      in.Payment,
		DeliveryMethod:     in.DeliveryMethod,
		RiskScore:          assessment.Score,
		Risk:               assessment,
		Status:             domain.TransactionStatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if assessment.CollateralRequired || in.OfferCollateral {
		deposit := assessment.SuggestedDeposit
		if !assessment.CollateralRequired {
			deposit = risk.SuggestedDeposit(itemValue)
		}
		collateral := decimal.NewFromFloat(deposit).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
		tx.CollateralPaise = &collateral
		tx.PreAuthAmountPaise += collateral
	}
	return tx, nil
}

// checkAgreedPrice keeps a negotiated price between the suggestion and the
// severe abuse threshold above it.
func (s *custodyService) checkAgreedPrice(agreed, suggested int64) error {
	if agreed < suggested {
		return domain.ErrPriceOutOfBounds.With(
			"reason", "below suggested price",
			"suggested_price", strconv.FormatInt(suggested, 10),
		)
	}
	if s.pricing.CheckAbuse(agreed, suggested) == domain.AbuseSevere {
		logger.Warn("Agreed price rejected for abuse", "agreed", agreed, "suggested", suggested)
		return domain.ErrPriceAbuse.With("suggested_price", strconv.FormatInt(suggested, 10))
	}
	return nil
}

func holdMetadata(tx *domain.Transaction, details domain.PaymentDetails) map[string]string {
	md := map[string]string{
		"transaction_id": tx.ID,
		"item_id":        tx.ItemID,
		"lender_id":      tx.LenderID,
	}
	for k, v := range details.Metadata() {
		md[k] = v
	}
	return md
}

func (s *custodyService) scheduleReminders(ctx context.Context, tx *domain.Transaction, itemTitle string, now time.Time) {
	instants := s.risk.ScheduleReminders(tx.ExpectedReturn, tx.RiskScore, now)
	if len(instants) == 0 {
		return
	}
	reminders := make([]domain.Reminder, 0, len(instants))
	for _, at := range instants {
		reminders = append(reminders, domain.Reminder{
			ID:            uuid.NewString(),
			TransactionID: tx.ID,
			UserID:        tx.BorrowerID,
			ItemTitle:     itemTitle,
			DueAt:         tx.ExpectedReturn,
			SendAt:        at,
			CreatedAt:     now,
		})
	}
	if err := s.reminders.CreateBatch(ctx, reminders); err != nil {
		logger.Error("Failed to store reminder schedule", "transactionID", tx.ID, "error", err)
	}
}

func (s *custodyService) Get(ctx context.Context, transactionID, viewerID string) (*domain.Transaction, error) {
	tx, err := s.transactions.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if !tx.IsParty(viewerID) {
		logger.Warn("Non-party tried to read transaction", "transactionID", transactionID, "userID", viewerID)
		return nil, domain.ErrNotAParty
	}
	return tx, nil
}

func (s *custodyService) VerifyHandoff(ctx context.Context, transactionID, scannerID, rawToken string) (*domain.Transaction, ScanResult, error) {
	return s.verify(ctx, transactionID, scannerID, rawToken, domain.TokenTypeHandoff)
}

func (s *custodyService) VerifyReturn(ctx context.Context, transactionID, scannerID, rawToken string) (*domain.Transaction, ScanResult, error) {
	return s.verify(ctx, transactionID, scannerID, rawToken, domain.TokenTypeReturn)
}

func (s *custodyService) verify(ctx context.Context, transactionID, scannerID, rawToken string, tokenType domain.TokenType) (tx *domain.Transaction, res ScanResult, err error) {
	op := "verify_" + string(tokenType)
	ctx, span := startSpan(ctx, op, transactionID)
	defer func() { endSpan(ctx, span, op, err) }()

	tok, err := s.tokens.Decode(rawToken)
	if err != nil {
		return nil, ScanResult{}, err
	}

	unlock := s.locks.Lock(txLockKey(transactionID))
	defer unlock()

	for attempt := 0; ; attempt++ {
		tx, err = s.transactions.GetByID(ctx, transactionID)
		if err != nil {
			return nil, ScanResult{}, err
		}
		if tokenType == domain.TokenTypeHandoff {
			res, err = s.applyHandoff(ctx, tx, tok, scannerID)
		} else {
			res, err = s.applyReturn(ctx, tx, tok, scannerID)
		}
		if errors.Is(err, domain.ErrConflict) && attempt < maxConflictRetries {
			logger.Warn("Concurrent update, re-evaluating scan", "transactionID", transactionID, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, ScanResult{}, err
		}
		return tx, res, nil
	}
}

// checkScan runs the guards shared by both legs. It reports replay when the
// token was already consumed, whatever the transaction has moved on to since.
func (s *custodyService) checkScan(tx *domain.Transaction, tok domain.ExchangeToken, scannerID string, tokenType domain.TokenType, from, to domain.TransactionStatus) (replay bool, err error) {
	if err := s.tokens.CheckBinding(tok, tx, tokenType); err != nil {
		return false, err
	}
	if !tx.IsParty(scannerID) {
		logger.Warn("Scan by non-party rejected", "transactionID", tx.ID, "scannerID", scannerID, "tokenType", tokenType)
		return false, domain.ErrNotAParty.With("transaction_id", tx.ID)
	}
	if tx.Token(tokenType).Consumed() {
		return true, nil
	}
	if tx.Status != from {
		return false, domain.ErrInvalidTransition.With("from", string(tx.Status), "to", string(to))
	}
	return false, s.tokens.CheckWindow(tok, s.now())
}

func (s *custodyService) applyHandoff(ctx context.Context, tx *domain.Transaction, tok domain.ExchangeToken, scannerID string) (ScanResult, error) {
	replay, err := s.checkScan(tx, tok, scannerID, domain.TokenTypeHandoff, domain.TransactionStatusPending, domain.TransactionStatusActive)
	if err != nil || replay {
		return ScanResult{AlreadyProcessed: replay}, err
	}

	now := s.now()
	tx.HandoffToken.ConsumedAt = &now
	tx.HandoffVerified = true
	tx.HandoffAt = &now
	tx.Status = domain.TransactionStatusActive
	if err := s.transactions.Update(ctx, tx); err != nil {
		return ScanResult{}, err
	}
	recordTransition(ctx, tx.ID, domain.TransactionStatusPending, domain.TransactionStatusActive)
	return ScanResult{}, nil
}

func (s *custodyService) applyReturn(ctx context.Context, tx *domain.Transaction, tok domain.ExchangeToken, scannerID string) (ScanResult, error) {
	replay, err := s.checkScan(tx, tok, scannerID, domain.TokenTypeReturn, domain.TransactionStatusActive, domain.TransactionStatusCompleted)
	if replay {
		return ScanResult{AlreadyProcessed: true, Outcome: s.risk.ClassifyReturn(tx.ExpectedReturn, *tx.ReturnedAt)}, nil
	}
	if err != nil {
		return ScanResult{}, err
	}

	now := s.now()
	outcome := s.risk.ClassifyReturn(tx.ExpectedReturn, now)

	captured, err := s.payments.Capture(ctx, tx.PaymentHoldID, tx.TotalAmountPaise, payment.CaptureKey(tx.ID))
	if err != nil {
		logger.Error("Capture failed, transaction left active", "transactionID", tx.ID, "error", err)
		return ScanResult{}, payment.AsDomainError(err)
	}

	tx.CaptureID = captured.CaptureID
	if outcome != domain.OutcomeOnTime {
		tx.LateFeePaise = domain.ToPaise(s.pricing.LateFee(tx.Category, utils.Overdue(tx.ExpectedReturn, now)))
	}
	if tx.LateFeePaise > 0 {
		tx.LateFeeStatus = domain.LateFeePending
	}
	tx.ReturnToken.ConsumedAt = &now
	tx.ReturnVerified = true
	tx.ReturnedAt = &now
	tx.Status = domain.TransactionStatusCompleted
	if err := s.transactions.Update(ctx, tx); err != nil {
		return ScanResult{}, err
	}
	recordTransition(ctx, tx.ID, domain.TransactionStatusActive, domain.TransactionStatusCompleted)

	s.applyTrust(ctx, tx.BorrowerID, tx.ID, outcome)
	s.releaseItem(ctx, tx.ItemID)
	if _, err := s.items.IncrementRentalCount(ctx, tx.ItemID); err != nil {
		logger.Error("Failed to bump rental count", "itemID", tx.ItemID, "error", err)
	}
	s.dropReminders(ctx, tx.ID)
	s.payout(ctx, tx)

	if tx.LateFeeStatus == domain.LateFeePending {
		// The return stands either way; a failed charge stays pending for
		// the collection job.
		_ = s.collectLateFee(ctx, tx, outcome)
	}
	return ScanResult{Outcome: outcome}, nil
}

// collectLateFee raises the pending late fee as its own charge and pays it
// through to the lender. A decline is final. Any other failure leaves the fee
// pending.
func (s *custodyService) collectLateFee(ctx context.Context, tx *domain.Transaction, outcome domain.TrustOutcome) error {
	charge, err := s.payments.Charge(ctx, tx.BorrowerID, tx.LateFeePaise, map[string]string{
		"transaction_id": tx.ID,
		"reason":         "late_return",
		"outcome":        string(outcome),
	}, payment.LateFeeKey(tx.ID))
	switch {
	case errors.Is(err, payment.ErrDeclined):
		logger.Warn("Late fee declined", "transactionID", tx.ID, "amount", utils.FormatRupees(tx.LateFeePaise), "error", err)
		tx.LateFeeStatus = domain.LateFeeDeclined
	case err != nil:
		logger.Error("Late fee charge failed, left pending", "transactionID", tx.ID, "amount", utils.FormatRupees(tx.LateFeePaise), "error", err)
		return payment.AsDomainError(err)
	default:
		tx.LateFeeID = charge.ChargeID
		tx.LateFeeStatus = domain.LateFeeCharged
	}
	if err := s.transactions.Update(ctx, tx); err != nil {
		logger.Error("Failed to record late fee", "transactionID", tx.ID, "status", tx.LateFeeStatus, "error", err)
		return err
	}
	if tx.LateFeeStatus != domain.LateFeeCharged {
		return nil
	}

	logger.Info("Late fee charged", "transactionID", tx.ID, "amount", utils.FormatRupees(tx.LateFeePaise), "chargeID", tx.LateFeeID)
	md := map[string]string{"transaction_id": tx.ID, "reason": "late_fee"}
	if _, err := s.payments.Transfer(ctx, tx.LenderID, tx.LateFeePaise, md, payment.PayoutKey(tx.ID, "late-fee")); err != nil {
		logger.Error("Late fee payout failed", "transactionID", tx.ID, "amount", tx.LateFeePaise, "error", err)
	}
	return nil
}

// applyTrust records outcome for userID once. Failures are logged; the
// reconciliation job applies anything missed.
func (s *custodyService) applyTrust(ctx context.Context, userID, transactionID string, outcome domain.TrustOutcome) bool {
	applied, err := s.users.ApplyTrustOutcome(ctx, userID, transactionID, outcome, func(cur domain.Trust) domain.Trust {
		cur.Score = s.risk.UpdateTrust(cur.Score, outcome)
		cur.RecordOutcome(outcome)
		return cur
	})
	if err != nil {
		logger.Error("Failed to apply trust outcome", "userID", userID, "transactionID", transactionID, "outcome", outcome, "error", err)
		return false
	}
	if !applied {
		logger.Debug("Trust outcome already applied", "userID", userID, "transactionID", transactionID, "outcome", outcome)
	}
	return applied
}

// payout splits captured funds. Transfers are best effort.
func (s *custodyService) payout(ctx context.Context, tx *domain.Transaction) {
	md := map[string]string{"transaction_id": tx.ID}
	if _, err := s.payments.Transfer(ctx, tx.LenderID, tx.AgreedPricePaise, md, payment.PayoutKey(tx.ID, "lender")); err != nil {
		logger.Error("Lender payout failed", "transactionID", tx.ID, "amount", tx.AgreedPricePaise, "error", err)
	}
	if tx.DeliveryFeePaise > 0 {
		courier := "courier:" + string(tx.DeliveryMethod)
		if _, err := s.payments.Transfer(ctx, courier, tx.DeliveryFeePaise, md, payment.PayoutKey(tx.ID, "courier")); err != nil {
			logger.Error("Courier payout failed", "transactionID", tx.ID, "amount", tx.DeliveryFeePaise, "error", err)
		}
	}
}

func (s *custodyService) releaseItem(ctx context.Context, itemID string) {
	if err := s.items.Release(ctx, itemID); err != nil {
		logger.Error("Failed to release item", "itemID", itemID, "error", err)
	}
}

func (s *custodyService) dropReminders(ctx context.Context, transactionID string) {
	if err := s.reminders.DeleteUnsent(ctx, transactionID); err != nil {
		logger.Error("Failed to drop reminders", "transactionID", transactionID, "error", err)
	}
}

func (s *custodyService) Cancel(ctx context.Context, transactionID, actorID, reason string) (tx *domain.Transaction, err error) {
	ctx, span := startSpan(ctx, "cancel", transactionID)
	defer func() { endSpan(ctx, span, "cancel", err) }()

	unlock := s.locks.Lock(txLockKey(transactionID))
	defer unlock()
	return s.cancelLocked(ctx, transactionID, actorID, reason)
}

func (s *custodyService) cancelLocked(ctx context.Context, transactionID, actorID, reason string) (*domain.Transaction, error) {
	for attempt := 0; ; attempt++ {
		tx, err := s.transactions.GetByID(ctx, transactionID)
		if err != nil {
			return nil, err
		}
		if actorID != SystemActor && !tx.IsParty(actorID) {
			logger.Warn("Cancel by non-party rejected", "transactionID", tx.ID, "actorID", actorID)
			return nil, domain.ErrNotAParty.With("transaction_id", tx.ID)
		}
		if tx.Status.Terminal() || tx.HandoffVerified {
			return nil, domain.ErrInvalidTransition.With("from", string(tx.Status), "to", string(domain.TransactionStatusCancelled))
		}

		if _, err := s.payments.Cancel(ctx, tx.PaymentHoldID, payment.CancelKey(tx.ID)); err != nil {
			logger.Error("Hold cancel failed, transaction left pending", "transactionID", tx.ID, "error", err)
			return nil, payment.AsDomainError(err)
		}

		tx.Status = domain.TransactionStatusCancelled
		tx.CancelledBy = actorID
		tx.CancelReason = strings.TrimSpace(reason)
		err = s.transactions.Update(ctx, tx)
		if errors.Is(err, domain.ErrConflict) && attempt < maxConflictRetries {
			continue
		}
		if err != nil {
			return nil, err
		}
		recordTransition(ctx, tx.ID, domain.TransactionStatusPending, domain.TransactionStatusCancelled)
		s.releaseItem(ctx, tx.ItemID)
		s.dropReminders(ctx, tx.ID)
		return tx, nil
	}
}

func (s *custodyService) ReportIssue(ctx context.Context, transactionID, reporterID string, report IssueInput) (tx *domain.Transaction, err error) {
	ctx, span := startSpan(ctx, "report_issue", transactionID)
	defer func() { endSpan(ctx, span, "report_issue", err) }()

	switch report.Category {
	case domain.IssueDamage, domain.IssueNotReturned, domain.IssueNotAsDescribed, domain.IssueOther:
	default:
		return nil, domain.NewValidationError("unknown issue category", "category", string(report.Category))
	}
	if strings.TrimSpace(report.Description) == "" {
		return nil, domain.NewValidationError("issue description is required")
	}

	unlock := s.locks.Lock(txLockKey(transactionID))
	defer unlock()

	for attempt := 0; ; attempt++ {
		tx, err = s.transactions.GetByID(ctx, transactionID)
		if err != nil {
			return nil, err
		}
		if !tx.IsParty(reporterID) {
			logger.Warn("Issue report by non-party rejected", "transactionID", tx.ID, "reporterID", reporterID)
			return nil, domain.ErrNotAParty.With("transaction_id", tx.ID)
		}
		from := tx.Status
		if from != domain.TransactionStatusActive && from != domain.TransactionStatusCompleted {
			return nil, domain.ErrInvalidTransition.With("from", string(from), "to", string(domain.TransactionStatusDisputed))
		}
		tx.Issue = &domain.IssueReport{
			ReporterID:  reporterID,
			Category:    report.Category,
			Description: strings.TrimSpace(report.Description),
			ReportedAt:  s.now(),
		}
		tx.Status = domain.TransactionStatusDisputed
		err = s.transactions.Update(ctx, tx)
		if errors.Is(err, domain.ErrConflict) && attempt < maxConflictRetries {
			continue
		}
		if err != nil {
			return nil, err
		}
		recordTransition(ctx, tx.ID, from, domain.TransactionStatusDisputed)
		return tx, nil
	}
}

// ReissueToken replaces an unconsumed leg with a fresh one. The previous
// verification code stops matching immediately.
func (s *custodyService) ReissueToken(ctx context.Context, transactionID, actorID string, tokenType domain.TokenType) (tx *domain.Transaction, encoded string, err error) {
	ctx, span := startSpan(ctx, "reissue_token", transactionID)
	defer func() { endSpan(ctx, span, "reissue_token", err) }()

	if !tokenType.Valid() {
		return nil, "", domain.NewValidationError("unknown token type", "type", string(tokenType))
	}

	unlock := s.locks.Lock(txLockKey(transactionID))
	defer unlock()

	tx, err = s.transactions.GetByID(ctx, transactionID)
	if err != nil {
		return nil, "", err
	}
	if !tx.IsParty(actorID) {
		return nil, "", domain.ErrNotAParty.With("transaction_id", tx.ID)
	}
	if tx.Token(tokenType).Consumed() {
		return nil, "", domain.ErrTokenConsumed.With("transaction_id", tx.ID)
	}
	// Past pending only the return leg is unconsumed, so terminal states are
	// the only ones left to refuse.
	if tx.Status.Terminal() {
		return nil, "", domain.ErrInvalidTransition.With("from", string(tx.Status), "reason", "token cannot be reissued")
	}

	issued, err := s.tokens.Issue(tx, tokenType, s.now())
	if err != nil {
		return nil, "", err
	}
	*tx.Token(tokenType) = issued
	if err := s.transactions.Update(ctx, tx); err != nil {
		return nil, "", err
	}
	logger.Info("Exchange token reissued", "transactionID", tx.ID, "tokenType", tokenType, "actorID", actorID)
	return tx, issued.Encoded, nil
}

func (s *custodyService) TokenImage(ctx context.Context, transactionID, viewerID string, tokenType domain.TokenType, size int) ([]byte, error) {
	if !tokenType.Valid() {
		return nil, domain.NewValidationError("unknown token type", "type", string(tokenType))
	}
	tx, err := s.Get(ctx, transactionID, viewerID)
	if err != nil {
		return nil, err
	}
	if tx.Token(tokenType).Consumed() {
		return nil, domain.ErrTokenConsumed.With("transaction_id", tx.ID)
	}
	if tx.Status.Terminal() {
		return nil, domain.ErrInvalidTransition.With("from", string(tx.Status), "reason", "transaction is closed")
	}
	encoded, err := s.tokens.Encode(tx, tokenType)
	if err != nil {
		return nil, err
	}
	return exchange.RenderQR(encoded, size)
}

// RecordDisputeOutcome is the arbitration hook: it applies the disputed trust
// delta to userID once per transaction.
func (s *custodyService) RecordDisputeOutcome(ctx context.Context, transactionID, userID string) (bool, error) {
	tx, err := s.transactions.GetByID(ctx, transactionID)
	if err != nil {
		return false, err
	}
	if tx.Status != domain.TransactionStatusDisputed {
		return false, domain.ErrInvalidTransition.With("from", string(tx.Status), "reason", "transaction is not disputed")
	}
	if !tx.IsParty(userID) {
		return false, domain.ErrNotAParty.With("transaction_id", tx.ID)
	}
	applied, err := s.users.ApplyTrustOutcome(ctx, userID, tx.ID, domain.OutcomeDisputed, func(cur domain.Trust) domain.Trust {
		cur.Score = s.risk.UpdateTrust(cur.Score, domain.OutcomeDisputed)
		cur.RecordOutcome(domain.OutcomeDisputed)
		return cur
	})
	if err != nil {
		return false, err
	}
	logger.Info("Dispute outcome recorded", "transactionID", tx.ID, "userID", userID, "applied", applied)
	return applied, nil
}

func (s *custodyService) ReconcileTrust(ctx context.Context, limit int) (int, error) {
	pending, err := s.transactions.ListReturnedWithoutOutcome(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list returned transactions: %w", err)
	}
	applied := 0
	for _, tx := range pending {
		outcome := s.risk.ClassifyReturn(tx.ExpectedReturn, *tx.ReturnedAt)
		if s.applyTrust(ctx, tx.BorrowerID, tx.ID, outcome) {
			applied++
		}
	}
	return applied, nil
}

func (s *custodyService) CollectLateFees(ctx context.Context, limit int) (int, error) {
	due, err := s.transactions.ListLateFeesDue(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list unpaid late fees: %w", err)
	}
	charged := 0
	for _, listed := range due {
		unlock := s.locks.Lock(txLockKey(listed.ID))
		tx, err := s.transactions.GetByID(ctx, listed.ID)
		if err == nil && tx.LateFeeStatus == domain.LateFeePending {
			outcome := s.risk.ClassifyReturn(tx.ExpectedReturn, *tx.ReturnedAt)
			err = s.collectLateFee(ctx, tx, outcome)
			if err == nil && tx.LateFeeStatus == domain.LateFeeCharged {
				charged++
			}
		}
		unlock()
		if err != nil {
			logger.Error("Failed to collect late fee", "transactionID", listed.ID, "error", err)
		}
	}
	return charged, nil
}

func (s *custodyService) ExpireStalePending(ctx context.Context, limit int) (int, error) {
	cutoff := s.now().Add(-s.tokens.Validity())
	stale, err := s.transactions.ListStalePending(ctx, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale transactions: %w", err)
	}
	expired := 0
	for _, tx := range stale {
		unlock := s.locks.Lock(txLockKey(tx.ID))
		_, err := s.cancelLocked(ctx, tx.ID, SystemActor, "handoff token expired")
		unlock()
		if err != nil {
			logger.Error("Failed to expire transaction", "transactionID", tx.ID, "error", err)
			continue
		}
		expired++
	}
	return expired, nil
}
