package chainclient

import (
	"context"
	"fmt"
	"math/big"
	"net/url"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/txpool"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/time/rate"

	"github.com/akash-mondal/twinkle-sub001/pkg/circuitbreaker"
)

// Backend is the subset of an RPC client a provider needs.
// Both *ethclient.Client and the simulated backend client satisfy it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Provider is one ranked RPC endpoint with its own breaker and rate limit
type Provider struct {
	Name    string
	Backend Backend
	breaker *circuitbreaker.CircuitBreaker
	limiter *rate.Limiter
}

// NewProvider wraps a backend. A nil breaker or limiter disables that protection.
func NewProvider(name string, backend Backend, breaker *circuitbreaker.CircuitBreaker, limiter *rate.Limiter) *Provider {
	if breaker == nil {
		breaker = circuitbreaker.NewCircuitBreaker(name, false, 0, 0, 0, nil)
	}
	return &Provider{
		Name:    name,
		Backend: backend,
		breaker: breaker,
		limiter: limiter,
	}
}

// Breaker returns the provider's circuit breaker
func (p *Provider) Breaker() *circuitbreaker.CircuitBreaker {
	return p.breaker
}

func (p *Provider) wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}

func (p *Provider) close() {
	if closer, ok := p.Backend.(interface{ Close() }); ok {
		closer.Close()
	}
}

// providerName derives a log-friendly label from an endpoint URL without leaking any API key in the path
func providerName(rank int, endpoint string) string {
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Host == "" {
		return fmt.Sprintf("provider-%d", rank)
	}
	return fmt.Sprintf("%d:%s", rank, parsed.Host)
}

func phrase(p string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + regexp.QuoteMeta(p))
}

// status codes only count after a "status" label. Bare digit runs also show up
// in sender addresses and nonce fields of txpool errors.
func statusCode(codes string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\bstatus(?: code)?[:= ]+(?:` + codes + `)\b`)
}

// providerErrorPatterns mark a failure of the endpoint rather than of the request
var providerErrorPatterns = []*regexp.Regexp{
	phrase("connection refused"),
	phrase("connection reset"),
	phrase("econnreset"),
	phrase("broken pipe"),
	phrase("timeout"),
	phrase("timed out"),
	phrase("deadline exceeded"),
	phrase("eof"),
	phrase("no such host"),
	phrase("too many requests"),
	phrase("bad gateway"),
	phrase("service unavailable"),
	statusCode("429|502|503|504"),
}

// unsentErrorPatterns are provider errors raised before a request reached the node
var unsentErrorPatterns = []*regexp.Regexp{
	phrase("connection refused"),
	phrase("no such host"),
	phrase("too many requests"),
	phrase("bad gateway"),
	phrase("service unavailable"),
	statusCode("429|502|503"),
}

func matchesAny(patterns []*regexp.Regexp, msg string) bool {
	for _, pattern := range patterns {
		if pattern.MatchString(msg) {
			return true
		}
	}
	return false
}

// IsProviderError reports whether err should count against the provider and trigger failover
func IsProviderError(err error) bool {
	if err == nil {
		return false
	}
	return matchesAny(providerErrorPatterns, err.Error())
}

// isAmbiguousSend reports whether a failed send may still have reached the
// node, as with a timeout or a connection dropped mid-request
func isAmbiguousSend(err error) bool {
	return IsProviderError(err) && !matchesAny(unsentErrorPatterns, err.Error())
}

// isDuplicateSend reports whether a node rejected a transaction because it
// already holds it or has already mined its nonce
func isDuplicateSend(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, txpool.ErrAlreadyKnown.Error()) || strings.Contains(msg, core.ErrNonceTooLow.Error())
}
