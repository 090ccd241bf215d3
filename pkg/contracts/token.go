package contracts

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
)

// TokenABI holds the read-only token calls used for pre-flight safety checks
const TokenABI = `[
	{"constant": true, "inputs": [], "name": "paused", "outputs": [{"name": "", "type": "bool"}], "stateMutability": "view", "type": "function"},
	{"constant": true, "inputs": [{"name": "account", "type": "address"}], "name": "isBlacklisted", "outputs": [{"name": "", "type": "bool"}], "stateMutability": "view", "type": "function"},
	{"constant": true, "inputs": [{"name": "account", "type": "address"}], "name": "isFrozen", "outputs": [{"name": "", "type": "bool"}], "stateMutability": "view", "type": "function"},
	{"constant": true, "inputs": [{"name": "account", "type": "address"}], "name": "balanceOf", "outputs": [{"name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
	{"constant": true, "inputs": [{"name": "owner", "type": "address"}, {"name": "spender", "type": "address"}], "name": "allowance", "outputs": [{"name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"}
]`

const (
	MethodPaused        = "paused"
	MethodIsBlacklisted = "isBlacklisted"
	MethodIsFrozen      = "isFrozen"
	MethodBalanceOf     = "balanceOf"
	MethodAllowance     = "allowance"
)

var tokenABI = mustParseABI(TokenABI)

// TokenContractABI returns the parsed token ABI
func TokenContractABI() *abi.ABI {
	return &tokenABI
}
