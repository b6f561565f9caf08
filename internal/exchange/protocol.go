// Package exchange implements the handoff and return proof tokens scanned at
// the physical exchange of an item.
package exchange

import (
	"time"

	"github.com/google/uuid"

	"peerlend-backend/internal/domain"
)

// Protocol mints and checks exchange tokens for transactions.
type Protocol struct {
	codec    *Codec
	validity time.Duration
	newCode  func() string
}

// NewProtocol builds a protocol; a zero validity uses domain.TokenValidity.
func NewProtocol(keys *Keyring, validity time.Duration) *Protocol {
	if validity <= 0 {
		validity = domain.TokenValidity
	}
	return &Protocol{
		codec:    NewCodec(keys),
		validity: validity,
		newCode:  uuid.NewString,
	}
}

func (p *Protocol) Validity() time.Duration {
	return p.validity
}

// Payload is the logical token for one leg of tx.
func Payload(tx *domain.Transaction, tokenType domain.TokenType, issued domain.IssuedToken) domain.ExchangeToken {
	return domain.ExchangeToken{
		TransactionID:    tx.ID,
		Type:             tokenType,
		ItemID:           tx.ItemID,
		BorrowerID:       tx.BorrowerID,
		LenderID:         tx.LenderID,
		Timestamp:        issued.IssuedAt,
		VerificationCode: issued.VerificationCode,
	}
}

// Issue mints a fresh token of tokenType for tx with a new verification code.
func (p *Protocol) Issue(tx *domain.Transaction, tokenType domain.TokenType, now time.Time) (domain.IssuedToken, error) {
	issued := domain.IssuedToken{
		VerificationCode: p.newCode(),
		IssuedAt:         now.UTC().Truncate(time.Millisecond),
	}
	encoded, err := p.codec.Encode(Payload(tx, tokenType, issued))
	if err != nil {
		return domain.IssuedToken{}, err
	}
	issued.Encoded = encoded
	return issued, nil
}

// MintPair issues the handoff and return tokens together, sharing one
// issuance instant.
func (p *Protocol) MintPair(tx *domain.Transaction, now time.Time) (handoff, ret domain.IssuedToken, err error) {
	if handoff, err = p.Issue(tx, domain.TokenTypeHandoff, now); err != nil {
		return domain.IssuedToken{}, domain.IssuedToken{}, err
	}
	if ret, err = p.Issue(tx, domain.TokenTypeReturn, now); err != nil {
		return domain.IssuedToken{}, domain.IssuedToken{}, err
	}
	return handoff, ret, nil
}

// Encode re-renders the signed form of a stored token leg.
func (p *Protocol) Encode(tx *domain.Transaction, tokenType domain.TokenType) (string, error) {
	issued := *tx.Token(tokenType)
	if issued.Encoded != "" {
		return issued.Encoded, nil
	}
	return p.codec.Encode(Payload(tx, tokenType, issued))
}

// Decode parses and authenticates a scanned token.
func (p *Protocol) Decode(raw string) (domain.ExchangeToken, error) {
	return p.codec.Decode(raw)
}

// CheckBinding verifies that tok is the current tokenType leg of tx: same
// type, transaction, item, parties and verification code.
func (p *Protocol) CheckBinding(tok domain.ExchangeToken, tx *domain.Transaction, tokenType domain.TokenType) error {
	if tok.Type != tokenType {
		return domain.ErrTokenWrongType.With("expected", string(tokenType), "got", string(tok.Type))
	}
	if tok.TransactionID != tx.ID ||
		tok.ItemID != tx.ItemID ||
		tok.BorrowerID != tx.BorrowerID ||
		tok.LenderID != tx.LenderID {
		return domain.ErrTokenMismatch
	}
	if tok.VerificationCode != tx.Token(tokenType).VerificationCode {
		return domain.ErrTokenMismatch.With("reason", "superseded")
	}
	return nil
}

// CheckWindow rejects tokens scanned more than the validity window after
// issuance. A scan exactly at the boundary is still accepted.
func (p *Protocol) CheckWindow(tok domain.ExchangeToken, now time.Time) error {
	if now.Sub(tok.Timestamp) > p.validity {
		return domain.ErrTokenExpired.With("issued_at", tok.Timestamp.Format(time.RFC3339))
	}
	return nil
}
