package exchange

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"peerlend-backend/internal/domain"
)

// tokenClaims carries the exchange payload verbatim as the JWS claim set.
// Expiry is enforced by Protocol against an injected clock, so none of the
// registered time claims are emitted.
type tokenClaims struct {
	domain.ExchangeToken
}

func (c tokenClaims) GetExpirationTime() (*jwt.NumericDate, error) { return nil, nil }
func (c tokenClaims) GetIssuedAt() (*jwt.NumericDate, error)       { return nil, nil }
func (c tokenClaims) GetNotBefore() (*jwt.NumericDate, error)      { return nil, nil }
func (c tokenClaims) GetIssuer() (string, error)                   { return "", nil }
func (c tokenClaims) GetSubject() (string, error)                  { return c.TransactionID, nil }
func (c tokenClaims) GetAudience() (jwt.ClaimStrings, error)       { return nil, nil }

// Codec signs and parses exchange tokens as compact HS256 JWS strings.
type Codec struct {
	keys *Keyring
}

func NewCodec(keys *Keyring) *Codec {
	return &Codec{keys: keys}
}

// Encode signs tok with the active key derived for its transaction.
func (c *Codec) Encode(tok domain.ExchangeToken) (string, error) {
	keyID := c.keys.ActiveKeyID()
	key, err := c.keys.signingKey(keyID, tok.TransactionID)
	if err != nil {
		return "", err
	}
	tok.Timestamp = tok.Timestamp.UTC()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{ExchangeToken: tok})
	t.Header["kid"] = keyID
	signed, err := t.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign exchange token: %w", err)
	}
	return signed, nil
}

// Decode verifies the signature of raw and returns its payload. Every failure
// maps to a malformed-token error so callers cannot tell which check failed.
func (c *Codec) Decode(raw string) (domain.ExchangeToken, error) {
	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		keyID, _ := t.Header["kid"].(string)
		tc, ok := t.Claims.(*tokenClaims)
		if !ok {
			return nil, errors.New("unexpected claims type")
		}
		return c.keys.signingKey(keyID, tc.TransactionID)
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return domain.ExchangeToken{}, domain.ErrTokenMalformed.Because(err)
	}
	if claims.TransactionID == "" || claims.VerificationCode == "" || !claims.Type.Valid() || claims.Timestamp.IsZero() {
		return domain.ExchangeToken{}, domain.ErrTokenMalformed.With("reason", "missing fields")
	}
	return claims.ExchangeToken, nil
}
