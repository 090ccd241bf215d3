package contracts

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// SettlementABI is the ABI of the x402 settlement contract
const SettlementABI = `[
	{
		"inputs": [
			{"internalType": "bytes32", "name": "requestId", "type": "bytes32"},
			{"internalType": "address", "name": "payer", "type": "address"},
			{"internalType": "uint256", "name": "amount", "type": "uint256"},
			{"internalType": "uint256", "name": "validUntil", "type": "uint256"},
			{"internalType": "uint256", "name": "nonce", "type": "uint256"},
			{"internalType": "bytes", "name": "signature", "type": "bytes"}
		],
		"name": "settlePayment",
		"outputs": [{"internalType": "bytes32", "name": "proofId", "type": "bytes32"}],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "bytes32[]", "name": "requestIds", "type": "bytes32[]"},
			{"internalType": "address[]", "name": "payers", "type": "address[]"},
			{"internalType": "uint256[]", "name": "amounts", "type": "uint256[]"},
			{"internalType": "uint256[]", "name": "validUntils", "type": "uint256[]"},
			{"internalType": "uint256[]", "name": "nonces", "type": "uint256[]"},
			{"internalType": "bytes[]", "name": "signatures", "type": "bytes[]"}
		],
		"name": "settleBatch",
		"outputs": [{"internalType": "bytes32[]", "name": "proofIds", "type": "bytes32[]"}],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "bytes32", "name": "requestId", "type": "bytes32"},
			{"internalType": "address", "name": "payer", "type": "address"},
			{"internalType": "uint256", "name": "amount", "type": "uint256"},
			{"internalType": "uint256", "name": "validUntil", "type": "uint256"},
			{"internalType": "uint256", "name": "nonce", "type": "uint256"},
			{"internalType": "bytes", "name": "signature", "type": "bytes"},
			{"internalType": "string", "name": "agentId", "type": "string"},
			{"internalType": "string", "name": "agentType", "type": "string"},
			{"internalType": "string", "name": "sessionId", "type": "string"},
			{"internalType": "string", "name": "metadata", "type": "string"}
		],
		"name": "settleAgentPayment",
		"outputs": [{"internalType": "bytes32", "name": "proofId", "type": "bytes32"}],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "bytes32", "name": "proofId", "type": "bytes32"},
			{"indexed": true, "internalType": "bytes32", "name": "requestId", "type": "bytes32"},
			{"indexed": true, "internalType": "address", "name": "payer", "type": "address"},
			{"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"}
		],
		"name": "AccessProofIssued",
		"type": "event"
	}
]`

const (
	MethodSettlePayment      = "settlePayment"
	MethodSettleBatch        = "settleBatch"
	MethodSettleAgentPayment = "settleAgentPayment"
	EventAccessProofIssued   = "AccessProofIssued"
)

// ErrNotAccessProof is returned when a log is not an AccessProofIssued event
var ErrNotAccessProof = errors.New("log is not an AccessProofIssued event")

var settlementABI = mustParseABI(SettlementABI)

// SettlementContractABI returns the parsed settlement ABI
func SettlementContractABI() *abi.ABI {
	return &settlementABI
}

// AccessProofIssued is the event emitted once per settled request
type AccessProofIssued struct {
	ProofID   common.Hash
	RequestID common.Hash
	Payer     common.Address
	Amount    *big.Int
	Raw       types.Log
}

// AccessProofTopic is the topic0 of AccessProofIssued
func AccessProofTopic() common.Hash {
	return settlementABI.Events[EventAccessProofIssued].ID
}

// ParseAccessProofIssued decodes an AccessProofIssued log
func ParseAccessProofIssued(log types.Log) (*AccessProofIssued, error) {
	if len(log.Topics) != 4 || log.Topics[0] != AccessProofTopic() {
		return nil, ErrNotAccessProof
	}

	values, err := settlementABI.Unpack(EventAccessProofIssued, log.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack AccessProofIssued data: %w", err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unexpected AccessProofIssued data length: %d", len(values))
	}
	amount, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected AccessProofIssued amount type %T", values[0])
	}

	return &AccessProofIssued{
		ProofID:   log.Topics[1],
		RequestID: log.Topics[2],
		Payer:     common.BytesToAddress(log.Topics[3].Bytes()),
		Amount:    amount,
		Raw:       log,
	}, nil
}

// PackAccessProofIssued builds a log as the contract would emit it
func PackAccessProofIssued(contract common.Address, proofID, requestID common.Hash, payer common.Address, amount *big.Int) (types.Log, error) {
	data, err := settlementABI.Events[EventAccessProofIssued].Inputs.NonIndexed().Pack(amount)
	if err != nil {
		return types.Log{}, fmt.Errorf("failed to pack AccessProofIssued data: %w", err)
	}
	return types.Log{
		Address: contract,
		Topics: []common.Hash{
			AccessProofTopic(),
			proofID,
			requestID,
			common.BytesToHash(payer.Bytes()),
		},
		Data: data,
	}, nil
}

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("invalid contract ABI: %v", err))
	}
	return parsed
}
