package chainclient

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	"github.com/akash-mondal/twinkle-sub001/pkg/circuitbreaker"
	"github.com/akash-mondal/twinkle-sub001/pkg/logger"
	"github.com/akash-mondal/twinkle-sub001/pkg/metrics"
)

const (
	// DefaultPollInterval is how often receipts and block heads are polled
	DefaultPollInterval = time.Second

	// gasPriceMaxAge is how long a cached gas price is trusted
	gasPriceMaxAge = 30 * time.Second

	// gasLimitBufferPercent is added on top of the estimate
	gasLimitBufferPercent = 20
)

// ErrNoHealthyProvider is returned when every provider's circuit is open
var ErrNoHealthyProvider = errors.New("no healthy rpc provider available")

// Options configures signing and gas pricing
type Options struct {
	// ChainID is fetched from the first provider when nil
	ChainID       *big.Int
	PrivateKey    *ecdsa.PrivateKey
	GasMultiplier float64
	// MaxGasPrice caps the gas price; nil means uncapped
	MaxGasPrice  *big.Int
	PollInterval time.Duration
}

// ProviderOptions configures the protection wrapped around each dialed endpoint
type ProviderOptions struct {
	RateLimit        float64
	BreakerEnabled   bool
	BreakerThreshold int
	BreakerWindow    time.Duration
	BreakerReset     time.Duration
}

// Client submits and observes transactions for a single signing key over ranked providers
type Client struct {
	chainID       *big.Int
	auth          *bind.TransactOpts
	providers     []*Provider
	gasMultiplier float64
	maxGasPrice   *big.Int
	pollInterval  time.Duration
	logger        logger.Logger

	mu         sync.RWMutex
	gasPrice   *big.Int
	gasPriceAt time.Time
}

// Dial connects to every endpoint in rank order and builds a client over them
func Dial(ctx context.Context, urls []string, opts Options, popts ProviderOptions, log logger.Logger) (*Client, error) {
	if log == nil {
		log = &logger.EmptyLogger{}
	}

	providers := make([]*Provider, 0, len(urls))
	for i, endpoint := range urls {
		rpcClient, err := ethclient.DialContext(ctx, endpoint)
		if err != nil {
			for _, p := range providers {
				p.close()
			}
			return nil, fmt.Errorf("failed to connect to provider %d: %v", i, err)
		}

		name := providerName(i, endpoint)
		breaker := circuitbreaker.NewCircuitBreaker(
			name,
			popts.BreakerEnabled,
			popts.BreakerThreshold,
			popts.BreakerWindow,
			popts.BreakerReset,
			log,
		)
		var limiter *rate.Limiter
		if popts.RateLimit > 0 {
			burst := int(popts.RateLimit)
			if burst < 1 {
				burst = 1
			}
			limiter = rate.NewLimiter(rate.Limit(popts.RateLimit), burst)
		}
		providers = append(providers, NewProvider(name, rpcClient, breaker, limiter))
	}

	return New(ctx, providers, opts, log)
}

// New creates a client over already constructed providers, highest rank first
func New(ctx context.Context, providers []*Provider, opts Options, log logger.Logger) (*Client, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one rpc provider is required")
	}
	if opts.PrivateKey == nil {
		return nil, fmt.Errorf("private key is required")
	}
	if log == nil {
		log = &logger.EmptyLogger{}
	}

	c := &Client{
		providers:     providers,
		gasMultiplier: opts.GasMultiplier,
		maxGasPrice:   opts.MaxGasPrice,
		pollInterval:  opts.PollInterval,
		logger:        log,
	}
	if c.gasMultiplier <= 0 {
		c.gasMultiplier = 1.1
	}
	if c.pollInterval <= 0 {
		c.pollInterval = DefaultPollInterval
	}

	remoteChainID, err := c.remoteChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}
	if opts.ChainID != nil && opts.ChainID.Cmp(remoteChainID) != 0 {
		return nil, fmt.Errorf("chain ID mismatch: configured %s, provider reports %s", opts.ChainID, remoteChainID)
	}
	c.chainID = remoteChainID

	auth, err := bind.NewKeyedTransactorWithChainID(opts.PrivateKey, remoteChainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %v", err)
	}
	c.auth = auth

	return c, nil
}

// Address returns the facilitator signing address
func (c *Client) Address() common.Address {
	return c.auth.From
}

// ChainID returns the chain the client signs for
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// Providers returns the ranked providers
func (c *Client) Providers() []*Provider {
	return c.providers
}

// Close releases the underlying RPC connections
func (c *Client) Close() {
	for _, p := range c.providers {
		p.close()
	}
}

// call runs fn against the highest ranked healthy provider, failing over on connectivity errors
func (c *Client) call(ctx context.Context, op string, fn func(Backend) error) error {
	var lastErr error
	for i, p := range c.providers {
		if p.breaker.IsOpen() {
			continue
		}
		if err := p.wait(ctx); err != nil {
			return err
		}

		err := fn(p.Backend)
		if err == nil {
			p.breaker.RecordSuccess()
			return nil
		}
		if ctx.Err() != nil || !IsProviderError(err) {
			return err
		}

		p.breaker.RecordFailure()
		metrics.ProviderFailures.WithLabelValues(p.Name, op).Inc()
		c.logger.Error("RPC %s failed on provider %s: %v", op, p.Name, err)
		lastErr = err
		if i < len(c.providers)-1 {
			metrics.ProviderFailovers.WithLabelValues(op).Inc()
		}
	}

	if lastErr == nil {
		return ErrNoHealthyProvider
	}
	return fmt.Errorf("all rpc providers failed for %s: %w", op, lastErr)
}

func (c *Client) remoteChainID(ctx context.Context) (*big.Int, error) {
	var chainID *big.Int
	err := c.call(ctx, "chain_id", func(b Backend) error {
		var err error
		chainID, err = b.ChainID(ctx)
		return err
	})
	return chainID, err
}

// BlockNumber returns the latest block number
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var head uint64
	err := c.call(ctx, "block_number", func(b Backend) error {
		var err error
		head, err = b.BlockNumber(ctx)
		return err
	})
	return head, err
}

// PendingNonceAt returns the next nonce for account including mempool transactions
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	var nonce uint64
	err := c.call(ctx, "pending_nonce", func(b Backend) error {
		var err error
		nonce, err = b.PendingNonceAt(ctx, account)
		return err
	})
	return nonce, err
}

// ReadContract performs a read-only call and unpacks the outputs
func (c *Client) ReadContract(ctx context.Context, contract common.Address, parsed *abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	var out []byte
	err = c.call(ctx, "read_contract", func(b Backend) error {
		var err error
		out, err = b.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s call failed: %w", method, err)
	}

	values, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	return values, nil
}

// SimulateContract dry-runs a state-changing call from the signing address
func (c *Client) SimulateContract(ctx context.Context, contract common.Address, parsed *abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	var out []byte
	err = c.call(ctx, "simulate_contract", func(b Backend) error {
		var err error
		out, err = b.CallContract(ctx, ethereum.CallMsg{From: c.auth.From, To: &contract, Data: data}, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("simulation of %s failed: %w", method, err)
	}
	if len(out) == 0 {
		return nil, nil
	}

	values, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	return values, nil
}

// WriteContract signs a call with the given nonce and broadcasts it
func (c *Client) WriteContract(ctx context.Context, contract common.Address, parsed *abi.ABI, method string, nonce uint64, args ...interface{}) (common.Hash, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	gasPrice, err := c.GasPrice(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	var gasLimit uint64
	err = c.call(ctx, "estimate_gas", func(b Backend) error {
		var err error
		gasLimit, err = b.EstimateGas(ctx, ethereum.CallMsg{From: c.auth.From, To: &contract, Data: data})
		return err
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to estimate gas for %s: %w", method, err)
	}
	gasLimit += gasLimit * gasLimitBufferPercent / 100

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &contract,
		Value:    big.NewInt(0),
		Data:     data,
	})
	signed, err := c.auth.Signer(c.auth.From, tx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %v", err)
	}

	// after an ambiguous failure the transaction may already sit in a pool, so a
	// later provider reporting it as known or mined means the broadcast succeeded
	var ambiguous error
	err = c.call(ctx, "send_transaction", func(b Backend) error {
		err := b.SendTransaction(ctx, signed)
		if err == nil {
			return nil
		}
		if ambiguous != nil && isDuplicateSend(err) {
			c.logger.Notice("Transaction %s already broadcast before failover: %v", signed.Hash().Hex(), err)
			return nil
		}
		if isAmbiguousSend(err) {
			ambiguous = err
		}
		return err
	})
	if err != nil {
		if ambiguous == nil || ctx.Err() != nil || !IsProviderError(err) {
			return common.Hash{}, err
		}
		// the receipt wait decides whether it landed; a lost send surfaces as a timeout
		c.logger.Notice("Send of %s may have reached a provider (%v), waiting for its receipt", signed.Hash().Hex(), ambiguous)
	}

	gwei, _ := new(big.Float).Quo(new(big.Float).SetInt(gasPrice), big.NewFloat(1e9)).Float64()
	metrics.GasPrice.Set(gwei)

	return signed.Hash(), nil
}

// WaitForTransactionReceipt polls until the transaction is mined and buried under
// the requested number of confirmations, or the timeout elapses.
func (c *Client) WaitForTransactionReceipt(ctx context.Context, hash common.Hash, timeout time.Duration, confirmations uint64) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	var receipt *types.Receipt
	for {
		if receipt == nil {
			var r *types.Receipt
			err := c.call(waitCtx, "transaction_receipt", func(b Backend) error {
				var err error
				r, err = b.TransactionReceipt(waitCtx, hash)
				return err
			})
			if err == nil && r != nil {
				receipt = r
			} else if err != nil && !errors.Is(err, ethereum.NotFound) {
				c.logger.Debug("Receipt lookup for %s failed: %v", hash.Hex(), err)
			}
		}

		if receipt != nil {
			if confirmations <= 1 {
				return receipt, nil
			}
			head, err := c.BlockNumber(waitCtx)
			if err == nil && head+1 >= receipt.BlockNumber.Uint64()+confirmations {
				return receipt, nil
			}
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("timeout waiting for transaction %s after %s", hash.Hex(), timeout)
		case <-ticker.C:
		}
	}
}

// UpdateGasPrice refreshes the cached gas price from the network
func (c *Client) UpdateGasPrice(ctx context.Context) (*big.Int, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var suggested *big.Int
	err := c.call(timeoutCtx, "gas_price", func(b Backend) error {
		var err error
		suggested, err = b.SuggestGasPrice(timeoutCtx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}

	// Apply gas multiplier (e.g. 1.1 = 10% buffer)
	multiplied := new(big.Float).Mul(new(big.Float).SetInt(suggested), big.NewFloat(c.gasMultiplier))
	finalGasPrice := new(big.Int)
	multiplied.Int(finalGasPrice)

	if c.maxGasPrice != nil && finalGasPrice.Cmp(c.maxGasPrice) > 0 {
		c.logger.Notice("Suggested gas price %s wei exceeds cap, using %s wei", finalGasPrice, c.maxGasPrice)
		finalGasPrice = new(big.Int).Set(c.maxGasPrice)
	}

	c.mu.Lock()
	c.gasPrice = finalGasPrice
	c.gasPriceAt = time.Now()
	c.mu.Unlock()

	return finalGasPrice, nil
}

// GasPrice returns the cached gas price, refreshing it when stale
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	c.mu.RLock()
	price, at := c.gasPrice, c.gasPriceAt
	c.mu.RUnlock()

	if price != nil && time.Since(at) < gasPriceMaxAge {
		return new(big.Int).Set(price), nil
	}
	return c.UpdateGasPrice(ctx)
}

// ProviderStates returns breaker state for each provider in rank order
func (c *Client) ProviderStates() []circuitbreaker.State {
	states := make([]circuitbreaker.State, 0, len(c.providers))
	for _, p := range c.providers {
		states = append(states, p.breaker.GetState())
	}
	return states
}

// HasHealthyProvider reports whether at least one provider circuit is closed
func (c *Client) HasHealthyProvider() bool {
	for _, p := range c.providers {
		if !p.breaker.IsOpen() {
			return true
		}
	}
	return false
}

// ResetProvider closes the circuit of the provider at rank
func (c *Client) ResetProvider(rank int) error {
	if rank < 0 || rank >= len(c.providers) {
		return fmt.Errorf("no provider at rank %d", rank)
	}
	c.providers[rank].breaker.Reset()
	return nil
}
