package models

import (
	"time"
)

// AttemptStatus is the state of a single settlement attempt
type AttemptStatus string

const (
	StatusInit           AttemptStatus = "init"
	StatusSafetyChecking AttemptStatus = "safety_checking"
	StatusVerifying      AttemptStatus = "verifying"
	StatusNonceReserved  AttemptStatus = "nonce_reserved"
	StatusSimulating     AttemptStatus = "simulating"
	StatusSubmitted      AttemptStatus = "submitted"
	StatusConfirming     AttemptStatus = "confirming"
	StatusSettled        AttemptStatus = "settled"
	StatusRetrying       AttemptStatus = "retrying"
	StatusFailed         AttemptStatus = "failed"
)

// FailureKind classifies why a settlement did not succeed
type FailureKind string

const (
	FailureValidation             FailureKind = "validation"
	FailureSafetyBlocked          FailureKind = "safety_blocked"
	FailureTransient              FailureKind = "transient"
	FailureTerminal               FailureKind = "terminal"
	FailureCoordinatorUnavailable FailureKind = "coordinator_unavailable"
	FailureCancelled              FailureKind = "cancelled"
)

// SettlementAttempt is the transient record of one pass through the state machine
type SettlementAttempt struct {
	ID            string
	RequestID     string
	AttemptNumber int
	ReservedNonce uint64
	HasNonce      bool
	Status        AttemptStatus
	Err           error
	StartedAt     time.Time
}

// SettlementResult is returned for every settlement call, successful or not
type SettlementResult struct {
	Success         bool          `json:"success"`
	TransactionHash string        `json:"transactionHash,omitempty"`
	AccessProofID   string        `json:"accessProofId,omitempty"`
	AccessProofIDs  []string      `json:"accessProofIds,omitempty"`
	GasUsed         uint64        `json:"gasUsed,omitempty"`
	Attempts        int           `json:"attempts"`
	Error           string        `json:"error,omitempty"`
	Kind            FailureKind   `json:"errorKind,omitempty"`
	Reason          string        `json:"reason,omitempty"`
	Safety          *SafetyResult `json:"safety,omitempty"`
}
