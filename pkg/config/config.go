package config

import (
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/akash-mondal/twinkle-sub001/pkg/logger"
)

// Config holds the configuration for the settlement service
type Config struct {
	PrivateKey         string
	RPCURLs            []string
	ChainID            int64
	SettlementContract common.Address
	TokenAddress       common.Address
	RecipientAddress   common.Address
	Domain             DomainConfig
	Retry              RetryConfig
	Confirmations      uint64
	ConfirmTimeout     time.Duration
	MaxConcurrency     int
	Nonce              NonceConfig
	Gas                GasConfig
	RPCRateLimit       float64
	MetricsPort        string
	MetricsAPIKey      string
	CircuitBreaker     CircuitBreakerConfig
	LoggerConfig       LoggerConfig
}

// DomainConfig is the EIP-712 domain the verifying contract was deployed with
type DomainConfig struct {
	Name    string
	Version string
}

// RetryConfig controls the settlement retry loop
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// NonceConfig selects and tunes the nonce coordinator store
type NonceConfig struct {
	Store          string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	SyncInterval   time.Duration
	ReservationTTL time.Duration
}

// GasConfig holds gas pricing settings
type GasConfig struct {
	Multiplier  float64
	MaxGasPrice *big.Int
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled        bool
	Threshold      int
	WindowDuration time.Duration
	ResetTimeout   time.Duration
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	return loadFromEnv()
}

func loadFromEnv() (*Config, error) {
	rpcURLs, err := GetEnvRPCURLs()
	if err != nil {
		return nil, err
	}

	chainID, err := GetEnvChainID()
	if err != nil {
		return nil, err
	}

	settlementContract, err := GetEnvAddress("SETTLEMENT_CONTRACT")
	if err != nil {
		return nil, err
	}

	tokenAddress, err := GetEnvAddress("TOKEN_ADDRESS")
	if err != nil {
		return nil, err
	}

	recipientAddress, err := GetEnvAddress("RECIPIENT_ADDRESS")
	if err != nil {
		return nil, err
	}

	maxAttempts, err := GetEnvMaxAttempts()
	if err != nil {
		return nil, err
	}

	baseDelay, err := GetEnvDuration("RETRY_BASE_DELAY", DefaultRetryBaseDelay)
	if err != nil {
		return nil, err
	}

	maxDelay, err := GetEnvDuration("RETRY_MAX_DELAY", DefaultRetryMaxDelay)
	if err != nil {
		return nil, err
	}

	confirmations, err := GetEnvConfirmations()
	if err != nil {
		return nil, err
	}

	confirmTimeout, err := GetEnvDuration("CONFIRMATION_TIMEOUT", DefaultConfirmationTimeout)
	if err != nil {
		return nil, err
	}

	maxConcurrency, err := GetEnvPositiveInt("MAX_CONCURRENCY", DefaultMaxConcurrency)
	if err != nil {
		return nil, err
	}

	nonceStore, err := GetEnvNonceStore()
	if err != nil {
		return nil, err
	}

	redisDB, err := GetEnvRedisDB()
	if err != nil {
		return nil, err
	}

	syncInterval, err := GetEnvDuration("NONCE_SYNC_INTERVAL", DefaultNonceSyncInterval)
	if err != nil {
		return nil, err
	}

	reservationTTL, err := GetEnvDuration("NONCE_RESERVATION_TTL", DefaultNonceReservationTTL)
	if err != nil {
		return nil, err
	}

	gasMultiplier, err := GetEnvGasMultiplier()
	if err != nil {
		return nil, err
	}

	maxGasPrice, err := GetEnvMaxGasPrice()
	if err != nil {
		return nil, err
	}

	rateLimit, err := GetEnvRPCRateLimit()
	if err != nil {
		return nil, err
	}

	metricsPort, err := GetEnvMetricsPort()
	if err != nil {
		return nil, err
	}

	cbEnabled, err := GetEnvCircuitBreakerEnabled()
	if err != nil {
		return nil, err
	}

	cbThreshold, err := GetEnvPositiveInt("CIRCUIT_BREAKER_THRESHOLD", DefaultCircuitBreakerThreshold)
	if err != nil {
		return nil, err
	}

	cbWindow, err := GetEnvDuration("CIRCUIT_BREAKER_WINDOW", DefaultCircuitBreakerWindow)
	if err != nil {
		return nil, err
	}

	cbReset, err := GetEnvDuration("CIRCUIT_BREAKER_RESET", DefaultCircuitBreakerReset)
	if err != nil {
		return nil, err
	}

	logLevel, err := GetEnvLogLevel()
	if err != nil {
		return nil, err
	}

	logColoring, err := GetEnvLogColoring()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		PrivateKey:         GetEnvPrivateKey(),
		RPCURLs:            rpcURLs,
		ChainID:            chainID,
		SettlementContract: settlementContract,
		TokenAddress:       tokenAddress,
		RecipientAddress:   recipientAddress,
		Domain: DomainConfig{
			Name:    GetEnvString("DOMAIN_NAME", DefaultDomainName),
			Version: GetEnvString("DOMAIN_VERSION", DefaultDomainVersion),
		},
		Retry: RetryConfig{
			MaxAttempts: maxAttempts,
			BaseDelay:   baseDelay,
			MaxDelay:    maxDelay,
		},
		Confirmations:  confirmations,
		ConfirmTimeout: confirmTimeout,
		MaxConcurrency: maxConcurrency,
		Nonce: NonceConfig{
			Store:          nonceStore,
			RedisAddr:      GetEnvString("REDIS_ADDR", DefaultRedisAddr),
			RedisPassword:  GetEnvString("REDIS_PASSWORD", ""),
			RedisDB:        redisDB,
			SyncInterval:   syncInterval,
			ReservationTTL: reservationTTL,
		},
		Gas: GasConfig{
			Multiplier:  gasMultiplier,
			MaxGasPrice: maxGasPrice,
		},
		RPCRateLimit:  rateLimit,
		MetricsPort:   metricsPort,
		MetricsAPIKey: GetEnvString("METRICS_API_KEY", ""),
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:        cbEnabled,
			Threshold:      cbThreshold,
			WindowDuration: cbWindow,
			ResetTimeout:   cbReset,
		},
		LoggerConfig: LoggerConfig{
			Level:    logLevel,
			Coloring: logColoring,
		},
	}

	// Validate required environment variables
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.PrivateKey == "" {
		return fmt.Errorf("PRIVATE_KEY environment variable is required")
	}
	if len(cfg.RPCURLs) == 0 {
		return fmt.Errorf("RPC_URLS environment variable is required")
	}
	if cfg.ChainID == 0 {
		return fmt.Errorf("CHAIN_ID environment variable is required")
	}
	if cfg.SettlementContract == (common.Address{}) {
		return fmt.Errorf("SETTLEMENT_CONTRACT environment variable is required")
	}
	if cfg.TokenAddress == (common.Address{}) {
		return fmt.Errorf("TOKEN_ADDRESS environment variable is required")
	}
	if cfg.RecipientAddress == (common.Address{}) {
		return fmt.Errorf("RECIPIENT_ADDRESS environment variable is required")
	}
	if cfg.Retry.MaxDelay < cfg.Retry.BaseDelay {
		return fmt.Errorf("RETRY_MAX_DELAY (%s) must not be less than RETRY_BASE_DELAY (%s)", cfg.Retry.MaxDelay, cfg.Retry.BaseDelay)
	}
	return nil
}
