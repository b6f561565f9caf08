package exchange

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// RootKeyBytes is the size of generated root keys and derived signing keys.
const RootKeyBytes = 32

// Keyring stores root signing keys and the active key id. Retired ids stay in
// the ring so tokens minted before a rotation still verify.
type Keyring struct {
	keys        map[string][]byte
	activeKeyID string
}

// NewKeyring constructs a keyring for token signing and verification.
func NewKeyring(keys map[string][]byte, activeKeyID string) (*Keyring, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("token signing keys are required")
	}
	activeKeyID = strings.TrimSpace(activeKeyID)
	if activeKeyID == "" {
		return nil, fmt.Errorf("active token key id is required")
	}
	if _, ok := keys[activeKeyID]; !ok {
		return nil, fmt.Errorf("active token key id %q is not configured", activeKeyID)
	}
	for id, key := range keys {
		if len(key) < RootKeyBytes {
			return nil, fmt.Errorf("token key %q must be at least %d bytes", id, RootKeyBytes)
		}
	}
	return &Keyring{keys: keys, activeKeyID: activeKeyID}, nil
}

// NewKeyringFromHex decodes hex root keys as they appear in configuration.
func NewKeyringFromHex(hexKeys map[string]string, activeKeyID string) (*Keyring, error) {
	keys := make(map[string][]byte, len(hexKeys))
	for id, encoded := range hexKeys {
		raw, err := hex.DecodeString(strings.TrimSpace(encoded))
		if err != nil {
			return nil, fmt.Errorf("decode token key %q: %w", id, err)
		}
		keys[strings.TrimSpace(id)] = raw
	}
	return NewKeyring(keys, activeKeyID)
}

// GenerateRootKey returns a new random hex-encoded root key.
func GenerateRootKey(reader io.Reader) (string, error) {
	if reader == nil {
		reader = rand.Reader
	}
	buf := make([]byte, RootKeyBytes)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return "", fmt.Errorf("generate random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func (k *Keyring) ActiveKeyID() string {
	if k == nil {
		return ""
	}
	return k.activeKeyID
}

// signingKey derives the per-transaction key for keyID. A key leaked for one
// transaction cannot forge tokens for another.
func (k *Keyring) signingKey(keyID, transactionID string) ([]byte, error) {
	if k == nil {
		return nil, fmt.Errorf("token keyring is not configured")
	}
	rootKey, ok := k.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("token key id %q is unknown", keyID)
	}
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, fmt.Errorf("transaction id is required")
	}
	key := make([]byte, RootKeyBytes)
	r := hkdf.New(sha256.New, rootKey, nil, []byte("exchange:"+transactionID))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive transaction key: %w", err)
	}
	return key, nil
}
