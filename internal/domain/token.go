package domain

import "time"

type TokenType string

const (
	TokenTypeHandoff TokenType = "handoff"
	TokenTypeReturn  TokenType = "return"
)

func (t TokenType) Valid() bool {
	return t == TokenTypeHandoff || t == TokenTypeReturn
}

// TokenValidity is the window after issuance in which a token may be scanned.
const TokenValidity = 24 * time.Hour

// ExchangeToken is the logical payload presented as a 2-D barcode at the
// physical exchange.
type ExchangeToken struct {
	TransactionID    string    `json:"transactionId"`
	Type             TokenType `json:"type"`
	ItemID           string    `json:"itemId"`
	BorrowerID       string    `json:"borrowerId"`
	LenderID         string    `json:"lenderId"`
	Timestamp        time.Time `json:"timestamp"`
	VerificationCode string    `json:"verificationCode"`
}
