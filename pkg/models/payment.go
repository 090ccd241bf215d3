package models

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PaymentIntent is the payer-signed authorization consumed by a settlement.
// It is immutable once signed and identified by (RequestID, Payer).
type PaymentIntent struct {
	Payer      common.Address
	RequestID  [32]byte
	Amount     *big.Int
	ValidUntil uint64
	// Nonce is the payer's anti-replay value, unrelated to the facilitator's chain nonce
	Nonce *big.Int
}

// RequestIDHex returns the request id as 0x-prefixed hex
func (p PaymentIntent) RequestIDHex() string {
	return common.Hash(p.RequestID).Hex()
}

// SettlementRequest pairs an intent with the payer's signature over it
type SettlementRequest struct {
	Intent    PaymentIntent
	Signature []byte
}

// AgentAttribution is passed through to the contract unmodified
type AgentAttribution struct {
	AgentID   string `json:"agentId"`
	AgentType string `json:"agentType"`
	SessionID string `json:"sessionId"`
	Metadata  string `json:"metadata"`
}

// AgentSettlementRequest is a settlement attributed to an autonomous agent
type AgentSettlementRequest struct {
	SettlementRequest
	Agent AgentAttribution
}
