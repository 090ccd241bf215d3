package models

import (
	"math/big"
)

// Machine-readable safety block codes
const (
	SafetyTokenPaused           = "token_paused"
	SafetyPayerBlacklisted      = "payer_blacklisted"
	SafetyPayerFrozen           = "payer_frozen"
	SafetyRecipientBlacklisted  = "recipient_blacklisted"
	SafetyRecipientFrozen       = "recipient_frozen"
	SafetyInsufficientBalance   = "insufficient_balance"
	SafetyInsufficientAllowance = "insufficient_allowance"
	SafetyReadFailed            = "token_state_unavailable"
)

// SafetyDetails is the token state snapshot a safety decision was made from
type SafetyDetails struct {
	Paused               bool     `json:"paused"`
	PayerBlacklisted     bool     `json:"payerBlacklisted"`
	PayerFrozen          bool     `json:"payerFrozen"`
	RecipientBlacklisted bool     `json:"recipientBlacklisted"`
	RecipientFrozen      bool     `json:"recipientFrozen"`
	Balance              *big.Int `json:"balance,omitempty"`
	Allowance            *big.Int `json:"allowance,omitempty"`
}

// SafetyResult is computed fresh per attempt and never cached
type SafetyResult struct {
	Safe    bool          `json:"safe"`
	Code    string        `json:"code,omitempty"`
	Reason  string        `json:"reason,omitempty"`
	Details SafetyDetails `json:"details"`
}
