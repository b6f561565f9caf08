package domain

import "time"

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusActive    TransactionStatus = "active"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusCancelled TransactionStatus = "cancelled"
	TransactionStatusDisputed  TransactionStatus = "disputed"
)

// Terminal reports whether the status only accepts dispute annotation.
func (s TransactionStatus) Terminal() bool {
	return s == TransactionStatusCompleted || s == TransactionStatusCancelled || s == TransactionStatusDisputed
}

// LateFeeStatus tracks the separate penalty charge raised on a late return.
type LateFeeStatus string

const (
	LateFeeNone     LateFeeStatus = ""
	LateFeePending  LateFeeStatus = "pending"
	LateFeeCharged  LateFeeStatus = "charged"
	LateFeeDeclined LateFeeStatus = "declined"
)

type DeliveryMethod string

const (
	DeliverySelf         DeliveryMethod = "self"
	DeliveryBuddyCourier DeliveryMethod = "buddy-courier"
	DeliveryPriority     DeliveryMethod = "priority"
)

func (m DeliveryMethod) Valid() bool {
	return m == DeliverySelf || m == DeliveryBuddyCourier || m == DeliveryPriority
}

// IssuedToken is the server-side record of one exchange token leg.
type IssuedToken struct {
	VerificationCode string     `json:"verification_code"`
	IssuedAt         time.Time  `json:"issued_at"`
	Encoded          string     `json:"-"`
	ConsumedAt       *time.Time `json:"consumed_at,omitempty"`
}

func (t IssuedToken) Consumed() bool {
	return t.ConsumedAt != nil
}

type IssueCategory string

const (
	IssueDamage         IssueCategory = "damage"
	IssueNotReturned    IssueCategory = "not-returned"
	IssueNotAsDescribed IssueCategory = "not-as-described"
	IssueOther          IssueCategory = "other"
)

type IssueReport struct {
	ReporterID  string        `json:"reporter_id"`
	Category    IssueCategory `json:"category"`
	Description string        `json:"description"`
	ReportedAt  time.Time     `json:"reported_at"`
}

// Transaction is the custody aggregate. Money fields are minor units.
type Transaction struct {
	ID             string       `json:"id"`
	ItemID         string       `json:"item_id"`
	BorrowerID     string       `json:"borrower_id"`
	LenderID       string       `json:"lender_id"`
	Category       ItemCategory `json:"category"`
	BorrowStart    time.Time    `json:"borrow_start"`
	ExpectedReturn time.Time    `json:"expected_return"`
	DurationHours  int          `json:"duration_hours"`

	SuggestedPrice     int64  `json:"suggested_price"`
	AgreedPricePaise   int64  `json:"agreed_price_paise"`
	PlatformFeePaise   int64  `json:"platform_fee_paise"`
	DeliveryFeePaise   int64  `json:"delivery_fee_paise"`
	TotalAmountPaise   int64  `json:"total_amount_paise"`
	CollateralPaise    *int64 `json:"collateral_paise,omitempty"`
	PreAuthAmountPaise int64  `json:"pre_auth_amount_paise"`
	LateFeePaise       int64  `json:"late_fee_paise"`

	PaymentMethod PaymentDetails `json:"-"`
	PaymentHoldID string         `json:"payment_hold_id"`
	CaptureID     string         `json:"capture_id,omitempty"`
	LateFeeID     string         `json:"late_fee_id,omitempty"`
	LateFeeStatus LateFeeStatus  `json:"late_fee_status,omitempty"`

	HandoffToken    IssuedToken `json:"handoff_token"`
	ReturnToken     IssuedToken `json:"return_token"`
	HandoffVerified bool        `json:"handoff_verified"`
	ReturnVerified  bool        `json:"return_verified"`
	HandoffAt       *time.Time  `json:"handoff_at,omitempty"`
	ReturnedAt      *time.Time  `json:"returned_at,omitempty"`

	DeliveryMethod DeliveryMethod    `json:"delivery_method"`
	RiskScore      int               `json:"risk_score"`
	Risk           RiskAssessment    `json:"risk"`
	Status         TransactionStatus `json:"status"`
	CancelledBy    string            `json:"cancelled_by,omitempty"`
	CancelReason   string            `json:"cancel_reason,omitempty"`
	Issue          *IssueReport      `json:"issue,omitempty"`

	// Optimistic concurrency counter, bumped by every persisted update.
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsParty reports whether userID is the borrower or the lender.
func (t *Transaction) IsParty(userID string) bool {
	return userID != "" && (userID == t.BorrowerID || userID == t.LenderID)
}

// Token returns the issued record for a leg.
func (t *Transaction) Token(tokenType TokenType) *IssuedToken {
	if tokenType == TokenTypeReturn {
		return &t.ReturnToken
	}
	return &t.HandoffToken
}
