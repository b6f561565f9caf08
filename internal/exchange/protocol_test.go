package exchange

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peerlend-backend/internal/domain"
)

func testKeyring(t *testing.T) *Keyring {
	t.Helper()
	kr, err := NewKeyring(map[string][]byte{
		"k1": bytes.Repeat([]byte{0x01}, RootKeyBytes),
		"k2": bytes.Repeat([]byte{0x02}, RootKeyBytes),
	}, "k2")
	require.NoError(t, err)
	return kr
}

func testTransaction() *domain.Transaction {
	return &domain.Transaction{
		ID:         "tx-1",
		ItemID:     "item-1",
		BorrowerID: "borrower-1",
		LenderID:   "lender-1",
	}
}

func mint(t *testing.T, p *Protocol, tx *domain.Transaction, now time.Time) {
	t.Helper()
	handoff, ret, err := p.MintPair(tx, now)
	require.NoError(t, err)
	tx.HandoffToken = handoff
	tx.ReturnToken = ret
}

func TestMintPair(t *testing.T) {
	p := NewProtocol(testKeyring(t), 0)
	tx := testTransaction()
	now := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	mint(t, p, tx, now)

	assert.NotEqual(t, tx.HandoffToken.VerificationCode, tx.ReturnToken.VerificationCode)
	assert.True(t, tx.HandoffToken.IssuedAt.Equal(tx.ReturnToken.IssuedAt))
	assert.NotEqual(t, tx.HandoffToken.Encoded, tx.ReturnToken.Encoded)

	tok, err := p.Decode(tx.HandoffToken.Encoded)
	require.NoError(t, err)
	assert.Equal(t, "tx-1", tok.TransactionID)
	assert.Equal(t, domain.TokenTypeHandoff, tok.Type)
	assert.Equal(t, "item-1", tok.ItemID)
	assert.Equal(t, "borrower-1", tok.BorrowerID)
	assert.Equal(t, "lender-1", tok.LenderID)
	assert.True(t, now.Equal(tok.Timestamp))
	assert.Equal(t, tx.HandoffToken.VerificationCode, tok.VerificationCode)
	assert.NoError(t, p.CheckBinding(tok, tx, domain.TokenTypeHandoff))
}

func TestPayloadFields(t *testing.T) {
	p := NewProtocol(testKeyring(t), 0)
	tx := testTransaction()
	mint(t, p, tx, time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC))

	parts := strings.Split(tx.ReturnToken.Encoded, ".")
	require.Len(t, parts, 3)
	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(raw, &payload))
	assert.Equal(t, "tx-1", payload["transactionId"])
	assert.Equal(t, "return", payload["type"])
	assert.Equal(t, "item-1", payload["itemId"])
	assert.Equal(t, "borrower-1", payload["borrowerId"])
	assert.Equal(t, "lender-1", payload["lenderId"])
	assert.Equal(t, "2026-05-01T09:30:00Z", payload["timestamp"])
	assert.Equal(t, tx.ReturnToken.VerificationCode, payload["verificationCode"])
}

func TestDecodeRejectsForgery(t *testing.T) {
	kr := testKeyring(t)
	p := NewProtocol(kr, 0)
	tx := testTransaction()
	mint(t, p, tx, time.Now())

	t.Run("Tampered payload", func(t *testing.T) {
		parts := strings.Split(tx.HandoffToken.Encoded, ".")
		raw, err := base64.RawURLEncoding.DecodeString(parts[1])
		require.NoError(t, err)
		forged := strings.Replace(string(raw), "borrower-1", "mallory-1", 1)
		parts[1] = base64.RawURLEncoding.EncodeToString([]byte(forged))

		_, err = p.Decode(strings.Join(parts, "."))
		assert.ErrorIs(t, err, domain.ErrTokenMalformed)
	})

	t.Run("Unsigned plain json", func(t *testing.T) {
		_, err := p.Decode(`{"transactionId":"tx-1","type":"handoff"}`)
		assert.ErrorIs(t, err, domain.ErrTokenMalformed)
	})

	t.Run("Other keyring", func(t *testing.T) {
		other, err := NewKeyring(map[string][]byte{"k2": bytes.Repeat([]byte{0x09}, RootKeyBytes)}, "k2")
		require.NoError(t, err)
		_, err = NewProtocol(other, 0).Decode(tx.HandoffToken.Encoded)
		assert.ErrorIs(t, err, domain.ErrTokenMalformed)
	})

	t.Run("Token moved to another transaction", func(t *testing.T) {
		tok, err := p.Decode(tx.HandoffToken.Encoded)
		require.NoError(t, err)
		other := testTransaction()
		other.ID = "tx-2"
		other.HandoffToken = tx.HandoffToken
		assert.ErrorIs(t, p.CheckBinding(tok, other, domain.TokenTypeHandoff), domain.ErrTokenMismatch)
	})
}

func TestKeyRotation(t *testing.T) {
	oldRing, err := NewKeyring(map[string][]byte{"k1": bytes.Repeat([]byte{0x01}, RootKeyBytes)}, "k1")
	require.NoError(t, err)
	tx := testTransaction()
	mint(t, NewProtocol(oldRing, 0), tx, time.Now())

	rotated := NewProtocol(testKeyring(t), 0)
	tok, err := rotated.Decode(tx.HandoffToken.Encoded)
	require.NoError(t, err)
	assert.Equal(t, "tx-1", tok.TransactionID)
}

func TestCheckBinding(t *testing.T) {
	p := NewProtocol(testKeyring(t), 0)
	tx := testTransaction()
	mint(t, p, tx, time.Now())

	ret, err := p.Decode(tx.ReturnToken.Encoded)
	require.NoError(t, err)

	err = p.CheckBinding(ret, tx, domain.TokenTypeHandoff)
	assert.ErrorIs(t, err, domain.ErrTokenWrongType)
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(err))

	reissued, err := p.Issue(tx, domain.TokenTypeReturn, time.Now())
	require.NoError(t, err)
	tx.ReturnToken = reissued
	assert.ErrorIs(t, p.CheckBinding(ret, tx, domain.TokenTypeReturn), domain.ErrTokenMismatch)
}

func TestCheckWindow(t *testing.T) {
	p := NewProtocol(testKeyring(t), 0)
	issued := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	tok := domain.ExchangeToken{Timestamp: issued}

	assert.NoError(t, p.CheckWindow(tok, issued))
	assert.NoError(t, p.CheckWindow(tok, issued.Add(23*time.Hour+59*time.Minute)))
	assert.NoError(t, p.CheckWindow(tok, issued.Add(24*time.Hour)))

	err := p.CheckWindow(tok, issued.Add(24*time.Hour+time.Minute))
	assert.ErrorIs(t, err, domain.ErrTokenExpired)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestNewKeyring(t *testing.T) {
	_, err := NewKeyring(nil, "k1")
	assert.Error(t, err)

	_, err = NewKeyring(map[string][]byte{"k1": bytes.Repeat([]byte{1}, RootKeyBytes)}, "k9")
	assert.Error(t, err)

	_, err = NewKeyring(map[string][]byte{"k1": []byte("short")}, "k1")
	assert.Error(t, err)

	key, err := GenerateRootKey(bytes.NewReader(bytes.Repeat([]byte{0xab}, RootKeyBytes)))
	require.NoError(t, err)
	kr, err := NewKeyringFromHex(map[string]string{"k1": key}, "k1")
	require.NoError(t, err)
	assert.Equal(t, "k1", kr.ActiveKeyID())
}

func TestRenderQR(t *testing.T) {
	p := NewProtocol(testKeyring(t), 0)
	tx := testTransaction()
	mint(t, p, tx, time.Now())

	png, err := RenderQR(tx.HandoffToken.Encoded, 0)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG\r\n\x1a\n")))

	_, err = RenderQR("", 0)
	assert.Error(t, err)
	_, err = RenderQR(tx.HandoffToken.Encoded, 16)
	assert.Error(t, err)
	_, err = RenderQR(tx.HandoffToken.Encoded, MaxQRSize+1)
	assert.Error(t, err)
	_, err = RenderQR(tx.HandoffToken.Encoded, MinQRSize)
	assert.NoError(t, err)
}
