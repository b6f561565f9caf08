package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = `
server:
  port: 50051
database:
  driver: memory
jwt:
  secret: "0123456789abcdef0123456789abcdef"
exchange:
  keys:
    k1: "0707070707070707070707070707070707070707070707070707070707070707"
`

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "k1", cfg.Exchange.ActiveKeyID)
	assert.Equal(t, 24, cfg.Exchange.ValidityHours)
	assert.Equal(t, "memory", cfg.Payment.Provider)
	assert.Equal(t, 10.0, cfg.Fees.PlatformPercent)
	assert.Equal(t, int64(2000), cfg.Fees.BuddyCourierFeePaise)
	assert.Equal(t, int64(5000), cfg.Fees.PriorityFeePaise)
	assert.Equal(t, 4, cfg.Pricing.ReferenceHours)
	assert.Equal(t, "log", cfg.Notify.Provider)
	assert.Equal(t, "0 */5 * * * *", cfg.Scheduler.DispatchReminders)
	assert.Equal(t, "0 45 * * * *", cfg.Scheduler.CollectLateFees)
	assert.Equal(t, 100, cfg.Scheduler.BatchSize)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestParseEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "6000")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("TOKEN_KEYS", "k1:0707070707070707070707070707070707070707070707070707070707070707,k2:0808080808080808080808080808080808080808080808080808080808080808")
	t.Setenv("TOKEN_ACTIVE_KEY_ID", "k2")

	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)
	assert.Equal(t, 6000, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Len(t, cfg.Exchange.Keys, 2)
	assert.Equal(t, "k2", cfg.Exchange.ActiveKeyID)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "short secret",
			yaml:    "server: {port: 1}\ndatabase: {driver: memory}\njwt: {secret: short}\nexchange: {keys: {k1: aa}}",
			wantErr: "at least 32",
		},
		{
			name:    "postgres needs host",
			yaml:    "server: {port: 1}\njwt: {secret: 0123456789abcdef0123456789abcdef}\nexchange: {keys: {k1: aa}}",
			wantErr: "database host",
		},
		{
			name:    "missing active key",
			yaml:    "server: {port: 1}\ndatabase: {driver: memory}\njwt: {secret: 0123456789abcdef0123456789abcdef}\nexchange: {active_key_id: k9, keys: {k1: aa}}",
			wantErr: "k9",
		},
		{
			name:    "sendgrid without key",
			yaml:    "server: {port: 1}\ndatabase: {driver: memory}\njwt: {secret: 0123456789abcdef0123456789abcdef}\nexchange: {keys: {k1: aa}}\nnotify: {provider: sendgrid}",
			wantErr: "sendgrid",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetSecurityLevel(t *testing.T) {
	assert.Equal(t, SecurityPublic, GetSecurityLevel("/peerlend.custody.v1.ListingService/SuggestPrice"))
	assert.Equal(t, SecurityAccess, GetSecurityLevel("/peerlend.custody.v1.CustodyService/VerifyHandoff"))
	assert.Equal(t, SecurityAccess, GetSecurityLevel("/unknown.Service/Method"))
}
