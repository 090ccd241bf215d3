package config

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akash-mondal/twinkle-sub001/pkg/logger"
)

const (
	testKey        = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testContract   = "0x1111111111111111111111111111111111111111"
	testToken      = "0x2222222222222222222222222222222222222222"
	testRecipient  = "0x3333333333333333333333333333333333333333"
	testRPCPrimary = "https://primary.example.org"
	testRPCBackup  = "https://backup.example.org"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("PRIVATE_KEY", testKey)
	t.Setenv("RPC_URLS", testRPCPrimary+", "+testRPCBackup)
	t.Setenv("CHAIN_ID", "84532")
	t.Setenv("SETTLEMENT_CONTRACT", testContract)
	t.Setenv("TOKEN_ADDRESS", testToken)
	t.Setenv("RECIPIENT_ADDRESS", testRecipient)
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, testKey[2:], cfg.PrivateKey)
	assert.Equal(t, []string{testRPCPrimary, testRPCBackup}, cfg.RPCURLs)
	assert.Equal(t, int64(84532), cfg.ChainID)
	assert.Equal(t, common.HexToAddress(testContract), cfg.SettlementContract)
	assert.Equal(t, common.HexToAddress(testToken), cfg.TokenAddress)
	assert.Equal(t, common.HexToAddress(testRecipient), cfg.RecipientAddress)
	assert.Equal(t, DefaultDomainName, cfg.Domain.Name)
	assert.Equal(t, DefaultDomainVersion, cfg.Domain.Version)
	assert.Equal(t, DefaultMaxAttempts, cfg.Retry.MaxAttempts)
	assert.Equal(t, DefaultRetryBaseDelay, cfg.Retry.BaseDelay)
	assert.Equal(t, DefaultRetryMaxDelay, cfg.Retry.MaxDelay)
	assert.Equal(t, uint64(DefaultConfirmations), cfg.Confirmations)
	assert.Equal(t, DefaultConfirmationTimeout, cfg.ConfirmTimeout)
	assert.Equal(t, DefaultMaxConcurrency, cfg.MaxConcurrency)
	assert.Equal(t, NonceStoreRedis, cfg.Nonce.Store)
	assert.Equal(t, DefaultRedisAddr, cfg.Nonce.RedisAddr)
	assert.Equal(t, DefaultNonceSyncInterval, cfg.Nonce.SyncInterval)
	assert.Equal(t, DefaultNonceReservationTTL, cfg.Nonce.ReservationTTL)
	assert.Equal(t, DefaultGasMultiplier, cfg.Gas.Multiplier)
	assert.Nil(t, cfg.Gas.MaxGasPrice)
	assert.Equal(t, DefaultMetricsPort, cfg.MetricsPort)
	assert.True(t, cfg.CircuitBreaker.Enabled)
	assert.Equal(t, logger.InfoLevel, cfg.LoggerConfig.Level)
	assert.True(t, cfg.LoggerConfig.Coloring)
}

func TestLoadConfigOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DOMAIN_NAME", "Twinkle")
	t.Setenv("DOMAIN_VERSION", "2")
	t.Setenv("MAX_ATTEMPTS", "5")
	t.Setenv("RETRY_BASE_DELAY", "250ms")
	t.Setenv("RETRY_MAX_DELAY", "4s")
	t.Setenv("CONFIRMATIONS", "3")
	t.Setenv("NONCE_STORE", "memory")
	t.Setenv("MAX_GAS_PRICE", "50000000000")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_COLORING", "false")

	cfg, err := loadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "Twinkle", cfg.Domain.Name)
	assert.Equal(t, "2", cfg.Domain.Version)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 4*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, uint64(3), cfg.Confirmations)
	assert.Equal(t, NonceStoreMemory, cfg.Nonce.Store)
	assert.Equal(t, 0, big.NewInt(50000000000).Cmp(cfg.Gas.MaxGasPrice))
	assert.Equal(t, logger.DebugLevel, cfg.LoggerConfig.Level)
	assert.False(t, cfg.LoggerConfig.Coloring)
}

func TestLoadConfigRequiredValues(t *testing.T) {
	tests := []struct {
		name    string
		unset   string
		wantErr string
	}{
		{"missing private key", "PRIVATE_KEY", "PRIVATE_KEY environment variable is required"},
		{"missing rpc urls", "RPC_URLS", "RPC_URLS environment variable is required"},
		{"missing chain id", "CHAIN_ID", "CHAIN_ID environment variable is required"},
		{"missing settlement contract", "SETTLEMENT_CONTRACT", "SETTLEMENT_CONTRACT environment variable is required"},
		{"missing token", "TOKEN_ADDRESS", "TOKEN_ADDRESS environment variable is required"},
		{"missing recipient", "RECIPIENT_ADDRESS", "RECIPIENT_ADDRESS environment variable is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.unset, "")

			_, err := loadFromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfigInvalidValues(t *testing.T) {
	tests := []struct {
		key     string
		value   string
		wantErr string
	}{
		{"RPC_URLS", "not a url", "invalid RPC_URLS entry"},
		{"CHAIN_ID", "base", "invalid CHAIN_ID value"},
		{"TOKEN_ADDRESS", "0x1234", "invalid TOKEN_ADDRESS value"},
		{"MAX_ATTEMPTS", "0", "MAX_ATTEMPTS must be greater than 0"},
		{"RETRY_BASE_DELAY", "soon", "invalid RETRY_BASE_DELAY value"},
		{"RETRY_MAX_DELAY", "10ms", "must not be less than RETRY_BASE_DELAY"},
		{"CONFIRMATIONS", "0", "invalid CONFIRMATIONS value"},
		{"NONCE_STORE", "etcd", "invalid NONCE_STORE value"},
		{"GAS_MULTIPLIER", "-1", "GAS_MULTIPLIER must be greater than 0"},
		{"MAX_GAS_PRICE", "-5", "MAX_GAS_PRICE must be greater than or equal to 0"},
		{"CIRCUIT_BREAKER_ENABLED", "yes", "invalid CIRCUIT_BREAKER_ENABLED value"},
		{"LOG_LEVEL", "trace", "invalid LOG_LEVEL value"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := loadFromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
