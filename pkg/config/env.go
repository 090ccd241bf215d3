package config

import (
	"fmt"
	"math/big"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/akash-mondal/twinkle-sub001/pkg/logger"
)

const (
	// DefaultDomainName is the EIP-712 domain name of the settlement contract
	DefaultDomainName = "X402Settlement"

	// DefaultDomainVersion is the EIP-712 domain version of the settlement contract
	DefaultDomainVersion = "1"

	// DefaultMaxAttempts defines the number of settlement attempts before giving up
	DefaultMaxAttempts = 3

	// DefaultRetryBaseDelay is the backoff delay before the second attempt
	DefaultRetryBaseDelay = 1 * time.Second

	// DefaultRetryMaxDelay caps the backoff delay
	DefaultRetryMaxDelay = 30 * time.Second

	// DefaultConfirmations is the number of blocks a settlement must be buried under
	DefaultConfirmations = 1

	// DefaultConfirmationTimeout bounds the wait for a receipt
	DefaultConfirmationTimeout = 60 * time.Second

	// DefaultMaxConcurrency is the number of settlements allowed in flight
	DefaultMaxConcurrency = 16

	// NonceStoreRedis shares nonce state across processes holding the same key
	NonceStoreRedis = "redis"

	// NonceStoreMemory keeps nonce state in process, single instance only
	NonceStoreMemory = "memory"

	DefaultNonceStore = NonceStoreRedis

	DefaultRedisAddr = "localhost:6379"

	// DefaultNonceSyncInterval is how stale the chain pending nonce may get before a resync
	DefaultNonceSyncInterval = 5 * time.Minute

	// DefaultNonceReservationTTL is when an unconfirmed reservation counts as abandoned
	DefaultNonceReservationTTL = 10 * time.Minute

	// DefaultGasMultiplier adds a 10% buffer on the suggested gas price
	DefaultGasMultiplier = 1.1

	// DefaultMaxGasPrice of 0 leaves the gas price uncapped
	DefaultMaxGasPrice = "0"

	// DefaultRPCRateLimit is requests per second allowed per provider
	DefaultRPCRateLimit = 20.0

	// DefaultMetricsPort defines the default port for the metrics server
	DefaultMetricsPort = "8080"

	// DefaultCircuitBreakerEnabled defines whether the circuit breaker is enabled
	DefaultCircuitBreakerEnabled = true

	// DefaultCircuitBreakerThreshold defines the number of failures before the circuit breaker trips
	DefaultCircuitBreakerThreshold = 5

	// DefaultCircuitBreakerWindow defines the time window for the circuit breaker
	DefaultCircuitBreakerWindow = 5 * time.Second

	// DefaultCircuitBreakerReset defines the reset timeout for the circuit breaker
	DefaultCircuitBreakerReset = 15 * time.Second

	// DefaultLogLevel is used when LOG_LEVEL is unset
	DefaultLogLevel = "info"
)

// GetEnvString returns the value of key or def when unset
func GetEnvString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// GetEnvPrivateKey returns the signing key without any 0x prefix
func GetEnvPrivateKey() string {
	return strings.TrimPrefix(strings.TrimSpace(os.Getenv("PRIVATE_KEY")), "0x")
}

// GetEnvRPCURLs returns the ranked list of RPC endpoints, highest priority first
func GetEnvRPCURLs() ([]string, error) {
	raw := os.Getenv("RPC_URLS")
	if raw == "" {
		return nil, nil
	}

	var urls []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, err := url.ParseRequestURI(part); err != nil {
			return nil, fmt.Errorf("invalid RPC_URLS entry: %s, must be a valid URL", part)
		}
		urls = append(urls, part)
	}
	return urls, nil
}

// GetEnvChainID returns the chain id settlements are submitted to
func GetEnvChainID() (int64, error) {
	chainID := os.Getenv("CHAIN_ID")
	if chainID == "" {
		return 0, nil
	}

	id, err := strconv.ParseInt(chainID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid CHAIN_ID value: %s, must be an integer", chainID)
	}
	if id <= 0 {
		return 0, fmt.Errorf("CHAIN_ID must be greater than 0")
	}
	return id, nil
}

// GetEnvAddress parses an Ethereum address from key, returning the zero address when unset
func GetEnvAddress(key string) (common.Address, error) {
	value := os.Getenv(key)
	if value == "" {
		return common.Address{}, nil
	}

	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("invalid %s value: %s, must be a valid Ethereum address", key, value)
	}
	return common.HexToAddress(value), nil
}

// GetEnvMaxAttempts returns the maximum number of settlement attempts
func GetEnvMaxAttempts() (int, error) {
	return GetEnvPositiveInt("MAX_ATTEMPTS", DefaultMaxAttempts)
}

// GetEnvPositiveInt parses a strictly positive integer from key
func GetEnvPositiveInt(key string, def int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return def, nil
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be an integer", key, value)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}
	return n, nil
}

// GetEnvDuration parses a duration string such as "500ms" or "2m" from key
func GetEnvDuration(key string, def time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return def, nil
	}

	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be a valid duration string", key, value)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}
	return parsed, nil
}

// GetEnvConfirmations returns the number of confirmations to wait for
func GetEnvConfirmations() (uint64, error) {
	confirmations := os.Getenv("CONFIRMATIONS")
	if confirmations == "" {
		return DefaultConfirmations, nil
	}

	n, err := strconv.ParseUint(confirmations, 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid CONFIRMATIONS value: %s, must be a positive integer", confirmations)
	}
	return n, nil
}

// GetEnvNonceStore returns which nonce store backs the coordinator
func GetEnvNonceStore() (string, error) {
	store := strings.ToLower(os.Getenv("NONCE_STORE"))
	if store == "" {
		return DefaultNonceStore, nil
	}

	if store != NonceStoreRedis && store != NonceStoreMemory {
		return "", fmt.Errorf("invalid NONCE_STORE value: %s, must be 'redis' or 'memory'", store)
	}
	return store, nil
}

// GetEnvRedisDB returns the redis logical database index
func GetEnvRedisDB() (int, error) {
	db := os.Getenv("REDIS_DB")
	if db == "" {
		return 0, nil
	}

	n, err := strconv.Atoi(db)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid REDIS_DB value: %s, must be a non-negative integer", db)
	}
	return n, nil
}

// GetEnvGasMultiplier returns the multiplier applied to the suggested gas price
func GetEnvGasMultiplier() (float64, error) {
	multiplier := os.Getenv("GAS_MULTIPLIER")
	if multiplier == "" {
		return DefaultGasMultiplier, nil
	}

	parsed, err := strconv.ParseFloat(multiplier, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid GAS_MULTIPLIER value: %s, must be a number", multiplier)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("GAS_MULTIPLIER must be greater than 0")
	}
	return parsed, nil
}

// GetEnvMaxGasPrice returns the maximum gas price in wei, nil when uncapped
func GetEnvMaxGasPrice() (*big.Int, error) {
	maxGasPrice := os.Getenv("MAX_GAS_PRICE")
	if maxGasPrice == "" {
		maxGasPrice = DefaultMaxGasPrice
	}

	maxGasPriceBig := new(big.Int)
	if _, ok := maxGasPriceBig.SetString(maxGasPrice, 10); !ok {
		return nil, fmt.Errorf("invalid MAX_GAS_PRICE value: %s, must be a valid integer string", maxGasPrice)
	}

	if maxGasPriceBig.Sign() < 0 {
		return nil, fmt.Errorf("MAX_GAS_PRICE must be greater than or equal to 0")
	}
	if maxGasPriceBig.Sign() == 0 {
		return nil, nil
	}
	return maxGasPriceBig, nil
}

// GetEnvRPCRateLimit returns the per-provider request rate
func GetEnvRPCRateLimit() (float64, error) {
	limit := os.Getenv("RPC_RATE_LIMIT")
	if limit == "" {
		return DefaultRPCRateLimit, nil
	}

	parsed, err := strconv.ParseFloat(limit, 64)
	if err != nil || parsed <= 0 {
		return 0, fmt.Errorf("invalid RPC_RATE_LIMIT value: %s, must be a positive number", limit)
	}
	return parsed, nil
}

// GetEnvMetricsPort returns the metrics server port from environment variables
func GetEnvMetricsPort() (string, error) {
	metricsPort := os.Getenv("METRICS_PORT")
	if metricsPort == "" {
		return DefaultMetricsPort, nil
	}

	// Validate port format
	if _, err := strconv.Atoi(metricsPort); err != nil {
		return "", fmt.Errorf("invalid METRICS_PORT value: %s, must be a valid integer", metricsPort)
	}
	return metricsPort, nil
}

// GetEnvCircuitBreakerEnabled returns whether the circuit breaker is enabled from environment variables
func GetEnvCircuitBreakerEnabled() (bool, error) {
	enabled := os.Getenv("CIRCUIT_BREAKER_ENABLED")
	if enabled == "" {
		return DefaultCircuitBreakerEnabled, nil
	}

	if enabled == "true" {
		return true, nil
	} else if enabled == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid CIRCUIT_BREAKER_ENABLED value: %s, must be 'true' or 'false'", enabled)
}

// GetEnvLogLevel returns the log level from environment variables
func GetEnvLogLevel() (logger.Level, error) {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = DefaultLogLevel
	}

	parsed, err := logger.ParseLevel(level)
	if err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL value: %s, must be one of 'debug', 'info', 'notice', 'error'", level)
	}
	return parsed, nil
}

// GetEnvLogColoring returns whether log output is colored
func GetEnvLogColoring() (bool, error) {
	coloring := os.Getenv("LOG_COLORING")
	if coloring == "" {
		return true, nil
	}

	parsed, err := strconv.ParseBool(coloring)
	if err != nil {
		return false, fmt.Errorf("invalid LOG_COLORING value: %s, must be 'true' or 'false'", coloring)
	}
	return parsed, nil
}
