package mocks

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/akash-mondal/twinkle-sub001/pkg/contracts"
)

// Submission records one WriteContract call
type Submission struct {
	Method string
	Nonce  uint64
	Args   []interface{}
	Hash   common.Hash
}

// Chain is a scriptable stand-in for the chain client. Errors in the
// SimulateErrors, SubmitErrors and WaitErrors queues are returned by successive
// calls; once a queue is drained calls succeed.
type Chain struct {
	mu sync.Mutex

	Signer   common.Address
	Contract common.Address
	Token    *Token

	SimulateErrors []error
	SubmitErrors   []error
	WaitErrors     []error
	// Revert makes mined receipts report failure
	Revert bool
	// UnrelatedLogs prepends foreign logs to every receipt
	UnrelatedLogs []*types.Log
	GasUsed       uint64

	PendingNonce uint64
	Simulations  int
	Submissions  []Submission
	receipts     map[common.Hash]*types.Receipt
}

// NewChain creates a chain whose transactions succeed and emit one proof per request
func NewChain(signer, contract common.Address) *Chain {
	return &Chain{
		Signer:   signer,
		Contract: contract,
		Token:    NewToken(),
		GasUsed:  120_000,
		receipts: make(map[common.Hash]*types.Receipt),
	}
}

func pop(queue *[]error) error {
	if len(*queue) == 0 {
		return nil
	}
	err := (*queue)[0]
	*queue = (*queue)[1:]
	return err
}

// ProofID is the proof id the fake contract emits for requestID
func ProofID(requestID [32]byte) common.Hash {
	return crypto.Keccak256Hash(requestID[:], []byte("proof"))
}

func (c *Chain) Address() common.Address {
	return c.Signer
}

func (c *Chain) PendingNonceAt(_ context.Context, _ common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.PendingNonce, nil
}

func (c *Chain) ReadContract(ctx context.Context, contract common.Address, parsed *abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	return c.Token.ReadContract(ctx, contract, parsed, method, args...)
}

func (c *Chain) SimulateContract(_ context.Context, _ common.Address, _ *abi.ABI, _ string, _ ...interface{}) ([]interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Simulations++
	return nil, pop(&c.SimulateErrors)
}

func (c *Chain) WriteContract(_ context.Context, contract common.Address, parsed *abi.ABI, method string, nonce uint64, args ...interface{}) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := pop(&c.SubmitErrors); err != nil {
		return common.Hash{}, err
	}
	if _, err := parsed.Pack(method, args...); err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	hash := crypto.Keccak256Hash([]byte(method), new(big.Int).SetUint64(nonce).Bytes(), []byte{byte(len(c.Submissions))})
	c.Submissions = append(c.Submissions, Submission{Method: method, Nonce: nonce, Args: args, Hash: hash})
	if nonce >= c.PendingNonce {
		c.PendingNonce = nonce + 1
	}

	receipt := &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      hash,
		GasUsed:     c.GasUsed,
		BlockNumber: big.NewInt(int64(100 + len(c.Submissions))),
	}
	if c.Revert {
		receipt.Status = types.ReceiptStatusFailed
	} else {
		receipt.Logs = append(receipt.Logs, c.UnrelatedLogs...)
		logs, err := c.proofLogs(contract, method, args)
		if err != nil {
			return common.Hash{}, err
		}
		receipt.Logs = append(receipt.Logs, logs...)
	}
	c.receipts[hash] = receipt
	return hash, nil
}

func (c *Chain) proofLogs(contract common.Address, method string, args []interface{}) ([]*types.Log, error) {
	var (
		requestIDs [][32]byte
		payers     []common.Address
		amounts    []*big.Int
	)
	switch method {
	case contracts.MethodSettleBatch:
		requestIDs = args[0].([][32]byte)
		payers = args[1].([]common.Address)
		amounts = args[2].([]*big.Int)
	default:
		requestIDs = [][32]byte{args[0].([32]byte)}
		payers = []common.Address{args[1].(common.Address)}
		amounts = []*big.Int{args[2].(*big.Int)}
	}

	logs := make([]*types.Log, 0, len(requestIDs))
	for i, id := range requestIDs {
		log, err := contracts.PackAccessProofIssued(contract, ProofID(id), common.Hash(id), payers[i], amounts[i])
		if err != nil {
			return nil, err
		}
		log.Index = uint(i)
		logs = append(logs, &log)
	}
	return logs, nil
}

func (c *Chain) WaitForTransactionReceipt(ctx context.Context, hash common.Hash, timeout time.Duration, _ uint64) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := pop(&c.WaitErrors); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	receipt, ok := c.receipts[hash]
	if !ok {
		return nil, fmt.Errorf("timeout waiting for transaction %s after %s", hash.Hex(), timeout)
	}
	return receipt, nil
}

// SubmittedNonces lists the nonces of all submissions in order
func (c *Chain) SubmittedNonces() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uint64, len(c.Submissions))
	for i, s := range c.Submissions {
		out[i] = s.Nonce
	}
	return out
}
