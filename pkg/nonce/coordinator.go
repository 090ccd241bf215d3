package nonce

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/akash-mondal/twinkle-sub001/pkg/logger"
	"github.com/akash-mondal/twinkle-sub001/pkg/metrics"
	"github.com/akash-mondal/twinkle-sub001/pkg/models"
)

// PendingNonceSource reports the chain's view of the next nonce, mempool included
type PendingNonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// Coordinator hands out chain nonces for the facilitator key. All shared state
// lives in the Store; the coordinator only remembers when it last synced.
type Coordinator struct {
	store          Store
	chain          PendingNonceSource
	syncInterval   time.Duration
	reservationTTL time.Duration
	scanLimit      int
	now            func() time.Time
	logger         logger.Logger

	mu       sync.Mutex
	lastSync map[common.Address]time.Time
}

// Option customizes a Coordinator
type Option func(*Coordinator)

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithScanLimit bounds the gap scan above the chain pending nonce
func WithScanLimit(limit int) Option {
	return func(c *Coordinator) { c.scanLimit = limit }
}

// NewCoordinator creates a coordinator over store, reconciling against chain
func NewCoordinator(store Store, chain PendingNonceSource, syncInterval, reservationTTL time.Duration, log logger.Logger, opts ...Option) *Coordinator {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	c := &Coordinator{
		store:          store,
		chain:          chain,
		syncInterval:   syncInterval,
		reservationTTL: reservationTTL,
		scanLimit:      DefaultScanLimit,
		now:            time.Now,
		logger:         log,
		lastSync:       make(map[common.Address]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) syncDue(signer common.Address) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.lastSync[signer]
	return !ok || c.now().Sub(last) > c.syncInterval
}

func (c *Coordinator) markSynced(signer common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSync[signer] = c.now()
}

func (c *Coordinator) chainPending(ctx context.Context, signer common.Address) (int64, error) {
	pending, err := c.chain.PendingNonceAt(ctx, signer)
	if err != nil {
		return 0, fmt.Errorf("failed to get pending nonce: %w", err)
	}
	return int64(pending), nil
}

func (c *Coordinator) reserve(ctx context.Context, signer common.Address, pending int64) (Reservation, error) {
	return c.store.Reserve(ctx, signer, ReserveRequest{
		ChainPending: pending,
		Now:          c.now(),
		TTL:          c.reservationTTL,
		ScanLimit:    c.scanLimit,
	})
}

// Acquire reserves the next chain nonce for signer. A store failure is returned
// as ErrCoordinatorUnavailable; no transaction may be sent without a reservation.
func (c *Coordinator) Acquire(ctx context.Context, signer common.Address) (uint64, error) {
	pending := NoChainPending
	if c.syncDue(signer) {
		p, err := c.chainPending(ctx, signer)
		if err != nil {
			return 0, err
		}
		pending = p
	}

	res, err := c.reserve(ctx, signer, pending)
	if errors.Is(err, ErrSyncRequired) {
		p, perr := c.chainPending(ctx, signer)
		if perr != nil {
			return 0, perr
		}
		pending = p
		res, err = c.reserve(ctx, signer, pending)
	}
	if err != nil {
		metrics.CoordinatorErrors.Inc()
		return 0, fmt.Errorf("%w: %v", ErrCoordinatorUnavailable, err)
	}

	if pending != NoChainPending {
		c.markSynced(signer)
		metrics.NonceResyncs.Inc()
		c.logger.Debug("Nonce resync for %s: chain pending %d, issued %d", signer.Hex(), pending, res.Value)
	}
	if res.Reused {
		metrics.NonceAcquisitions.WithLabelValues("reused").Inc()
		c.logger.Notice("Reissuing nonce %d for %s to fill a gap", res.Value, signer.Hex())
	} else {
		metrics.NonceAcquisitions.WithLabelValues("issued").Inc()
	}

	return res.Value, nil
}

// Confirm records that the transaction using value was mined. Idempotent.
func (c *Coordinator) Confirm(ctx context.Context, signer common.Address, value uint64) error {
	if err := c.store.Confirm(ctx, signer, value, c.now()); err != nil {
		metrics.CoordinatorErrors.Inc()
		return fmt.Errorf("%w: %v", ErrCoordinatorUnavailable, err)
	}
	return nil
}

// Release gives up a reservation that did not produce a mined transaction.
// The next Acquire reconciles against the chain pending nonce.
func (c *Coordinator) Release(ctx context.Context, signer common.Address, value uint64) error {
	if err := c.store.Release(ctx, signer, value); err != nil {
		metrics.CoordinatorErrors.Inc()
		return fmt.Errorf("%w: %v", ErrCoordinatorUnavailable, err)
	}
	metrics.NonceReleases.Inc()
	return nil
}

// RequestResync forces the next Acquire for signer, in any process, to consult the chain
func (c *Coordinator) RequestResync(ctx context.Context, signer common.Address) error {
	if err := c.store.RequestResync(ctx, signer); err != nil {
		metrics.CoordinatorErrors.Inc()
		return fmt.Errorf("%w: %v", ErrCoordinatorUnavailable, err)
	}
	return nil
}

// Reservations lists outstanding reservations for signer
func (c *Coordinator) Reservations(ctx context.Context, signer common.Address) ([]models.NonceReservation, error) {
	reservations, err := c.store.Reservations(ctx, signer)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCoordinatorUnavailable, err)
	}
	return reservations, nil
}

// Ping checks the store is reachable
func (c *Coordinator) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}
