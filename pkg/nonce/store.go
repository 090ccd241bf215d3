package nonce

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/akash-mondal/twinkle-sub001/pkg/models"
)

var (
	// ErrCoordinatorUnavailable means no reservation could be made or recorded; nothing may be submitted
	ErrCoordinatorUnavailable = errors.New("nonce coordinator unavailable")

	// ErrSyncRequired is returned by a store that needs the chain pending nonce before it can issue
	ErrSyncRequired = errors.New("nonce store requires chain resync")
)

// NoChainPending tells a store the caller has not looked up the chain pending nonce
const NoChainPending int64 = -1

// DefaultScanLimit bounds how far above the chain pending nonce a store looks for gaps
const DefaultScanLimit = 64

// ReserveRequest carries the inputs of one atomic reservation
type ReserveRequest struct {
	// ChainPending is the chain's pending nonce, or NoChainPending
	ChainPending int64
	Now          time.Time
	// TTL after which an unconfirmed reservation is treated as abandoned; zero disables reuse
	TTL       time.Duration
	ScanLimit int
}

// Reservation is the value a store handed out
type Reservation struct {
	Value uint64
	// Reused is set when the value fills a gap left by a released or abandoned reservation
	Reused bool
}

// Store is the shared, atomic source of truth for chain nonces of a signer.
// Every method must be a single atomic operation against the backing store.
//
// Reserve semantics: when a resync is pending (or the counter is missing) and no
// chain pending value is supplied, return ErrSyncRequired. With a chain pending
// value P, drop reservations below P, then hand out the lowest value in
// [P, counter) that is unreserved or whose reservation outlived the TTL, leaving
// the resync flag set so the next Reserve keeps filling. Otherwise hand out
// max(counter, P), clear the flag and advance the counter past it.
type Store interface {
	Reserve(ctx context.Context, signer common.Address, req ReserveRequest) (Reservation, error)
	// Confirm marks a reservation mined; unknown or already confirmed values are a no-op
	Confirm(ctx context.Context, signer common.Address, value uint64, now time.Time) error
	// Release drops a reservation that did not get mined and flags the signer for resync
	Release(ctx context.Context, signer common.Address, value uint64) error
	// RequestResync forces the next Reserve to reconcile against the chain
	RequestResync(ctx context.Context, signer common.Address) error
	Reservations(ctx context.Context, signer common.Address) ([]models.NonceReservation, error)
	Ping(ctx context.Context) error
}
