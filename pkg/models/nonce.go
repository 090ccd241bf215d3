package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ReservationState is the lifecycle state of a chain nonce reservation
type ReservationState string

const (
	ReservationReserved  ReservationState = "reserved"
	ReservationConfirmed ReservationState = "confirmed"
)

// NonceReservation is a chain nonce handed out to one in-flight settlement
type NonceReservation struct {
	Signer     common.Address   `json:"signer"`
	Value      uint64           `json:"value"`
	ReservedAt time.Time        `json:"reservedAt"`
	State      ReservationState `json:"state"`
}
