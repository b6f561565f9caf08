package app

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peerlend-backend/internal/config"
	"peerlend-backend/internal/payment"
	"peerlend-backend/internal/repository"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(`
server:
  port: 50051
database:
  driver: memory
jwt:
  secret: 0123456789abcdef0123456789abcdef
exchange:
  active_key_id: k1
  keys:
    k1: ` + strings.Repeat("ab", 32) + `
`))
	require.NoError(t, err)
	return cfg
}

func TestOpenStoreMemory(t *testing.T) {
	store, closeFn, err := OpenStore(context.Background(), memoryConfig(t))
	require.NoError(t, err)
	defer closeFn()

	assert.NoError(t, store.Ping(context.Background()))
	assert.NotNil(t, store.Repositories().Transactions)
}

func TestNewServices(t *testing.T) {
	cfg := memoryConfig(t)
	store, _, err := OpenStore(context.Background(), cfg)
	require.NoError(t, err)

	svcs, err := NewServices(cfg, store.Repositories())
	require.NoError(t, err)
	assert.NotNil(t, svcs.Custody)
	assert.NotNil(t, svcs.Listing)
	assert.IsType(t, &payment.Retrying{}, svcs.Payments)
	assert.Equal(t, cfg.TokenValidity(), svcs.Tokens.Validity())
}

func TestNewServicesBadKeys(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Exchange.Keys = map[string]string{"k1": "not-hex"}
	_, err := NewServices(cfg, repository.Repositories{})
	assert.Error(t, err)
}
