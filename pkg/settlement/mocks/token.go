package mocks

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/akash-mondal/twinkle-sub001/pkg/contracts"
)

// Token answers the token reads made by the safety gate from in-memory state
type Token struct {
	mu sync.Mutex

	Paused      bool
	Blacklisted map[common.Address]bool
	Frozen      map[common.Address]bool
	Balances    map[common.Address]*big.Int
	Allowances  map[common.Address]*big.Int
	// Errors fails reads of the named method
	Errors map[string]error
	Reads  int
}

// NewToken creates a token with no restrictions and zero balances
func NewToken() *Token {
	return &Token{
		Blacklisted: make(map[common.Address]bool),
		Frozen:      make(map[common.Address]bool),
		Balances:    make(map[common.Address]*big.Int),
		Allowances:  make(map[common.Address]*big.Int),
		Errors:      make(map[string]error),
	}
}

// Fund gives payer a balance and an allowance for the settlement contract
func (t *Token) Fund(payer common.Address, balance, allowance int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Balances[payer] = big.NewInt(balance)
	t.Allowances[payer] = big.NewInt(allowance)
}

func valueOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func (t *Token) ReadContract(_ context.Context, _ common.Address, _ *abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Reads++

	if err := t.Errors[method]; err != nil {
		return nil, err
	}

	account := func() common.Address {
		if len(args) == 0 {
			return common.Address{}
		}
		addr, _ := args[0].(common.Address)
		return addr
	}

	switch method {
	case contracts.MethodPaused:
		return []interface{}{t.Paused}, nil
	case contracts.MethodIsBlacklisted:
		return []interface{}{t.Blacklisted[account()]}, nil
	case contracts.MethodIsFrozen:
		return []interface{}{t.Frozen[account()]}, nil
	case contracts.MethodBalanceOf:
		return []interface{}{valueOrZero(t.Balances[account()])}, nil
	case contracts.MethodAllowance:
		return []interface{}{valueOrZero(t.Allowances[account()])}, nil
	}
	return nil, fmt.Errorf("unexpected token method %s", method)
}
