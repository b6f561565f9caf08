package service

import (
	"context"
	"time"

	"peerlend-backend/internal/domain"
)

// CustodyService drives a transaction through its lifecycle.
type CustodyService interface {
	Create(ctx context.Context, in CreateTransactionInput) (*domain.Transaction, error)
	Get(ctx context.Context, transactionID, viewerID string) (*domain.Transaction, error)
	VerifyHandoff(ctx context.Context, transactionID, scannerID, rawToken string) (*domain.Transaction, ScanResult, error)
	VerifyReturn(ctx context.Context, transactionID, scannerID, rawToken string) (*domain.Transaction, ScanResult, error)
	Cancel(ctx context.Context, transactionID, actorID, reason string) (*domain.Transaction, error)
	ReportIssue(ctx context.Context, transactionID, reporterID string, report IssueInput) (*domain.Transaction, error)

	ReissueToken(ctx context.Context, transactionID, actorID string, tokenType domain.TokenType) (*domain.Transaction, string, error)
	TokenImage(ctx context.Context, transactionID, viewerID string, tokenType domain.TokenType, size int) ([]byte, error)
	RecordDisputeOutcome(ctx context.Context, transactionID, userID string) (bool, error)

	// ReconcileTrust applies timeliness outcomes missing for returned
	// transactions and reports how many were applied.
	ReconcileTrust(ctx context.Context, limit int) (int, error)
	// CollectLateFees retries late fee charges left pending after a return
	// and reports how many went through.
	CollectLateFees(ctx context.Context, limit int) (int, error)
	// ExpireStalePending cancels pending transactions whose handoff token can
	// no longer be scanned.
	ExpireStalePending(ctx context.Context, limit int) (int, error)
}

// ListingService manages item listings and their price corridor.
type ListingService interface {
	ListItem(ctx context.Context, in ListItemInput) (*ListingResult, error)
	UpdateListingPrice(ctx context.Context, ownerID, itemID string, price int64) (*ListingResult, error)
	Delist(ctx context.Context, ownerID, itemID string) error
	RecordView(ctx context.Context, itemID string) (int64, error)
	GetItem(ctx context.Context, itemID string) (*domain.Item, error)
}

type CreateTransactionInput struct {
	ItemID         string
	BorrowerID     string
	LenderID       string
	BorrowStart    time.Time
	ExpectedReturn time.Time
	// AgreedPrice in whole currency units; nil accepts the suggestion. An
	// explicit price may not undercut the suggestion or grossly exceed it.
	AgreedPrice *int64
	// IdempotencyKey makes client retries of Create return the transaction
	// the first attempt produced instead of booking again.
	IdempotencyKey  string
	Demand          domain.DemandLevel
	DeliveryMethod  domain.DeliveryMethod
	Payment         domain.PaymentDetails
	OfferCollateral bool
}

// ScanResult describes how a verification scan was handled.
type ScanResult struct {
	// AlreadyProcessed is set when the token had been consumed by an earlier
	// scan. Nothing changed.
	AlreadyProcessed bool
	Outcome          domain.TrustOutcome
}

type IssueInput struct {
	Category    domain.IssueCategory
	Description string
}

type ListItemInput struct {
	OwnerID     string
	Title       string
	Description string
	Category    domain.ItemCategory
	Condition   domain.ItemCondition
	ValuePaise  int64
	Price       int64
	Demand      domain.DemandLevel
}

type ListingResult struct {
	Item       *domain.Item
	Suggestion domain.PriceSuggestion
	Abuse      domain.AbuseLevel
	// ReportingPrompt asks the client to surface the price report flow.
	ReportingPrompt bool
}

// FeeSchedule holds the platform and delivery charges added to a rental.
type FeeSchedule struct {
	PlatformPercent      float64
	BuddyCourierFeePaise int64
	PriorityFeePaise     int64
}

func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		PlatformPercent:      10,
		BuddyCourierFeePaise: domain.ToPaise(20),
		PriorityFeePaise:     domain.ToPaise(50),
	}
}

// DeliveryFee returns the charge for method in paise.
func (f FeeSchedule) DeliveryFee(method domain.DeliveryMethod) int64 {
	switch method {
	case domain.DeliveryBuddyCourier:
		return f.BuddyCourierFeePaise
	case domain.DeliveryPriority:
		return f.PriorityFeePaise
	default:
		return 0
	}
}
