package nonce

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/akash-mondal/twinkle-sub001/pkg/models"
)

type memoryEntry struct {
	state models.ReservationState
	at    time.Time
}

type memorySigner struct {
	next    uint64
	hasNext bool
	resync  bool
	entries map[uint64]memoryEntry
}

// MemoryStore keeps nonce state in process. It is only safe when a single
// process holds the signing key.
type MemoryStore struct {
	mu      sync.Mutex
	signers map[common.Address]*memorySigner
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-process store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{signers: make(map[common.Address]*memorySigner)}
}

func (s *MemoryStore) signer(addr common.Address) *memorySigner {
	st, ok := s.signers[addr]
	if !ok {
		st = &memorySigner{entries: make(map[uint64]memoryEntry)}
		s.signers[addr] = st
	}
	return st
}

func (s *MemoryStore) Reserve(_ context.Context, signer common.Address, req ReserveRequest) (Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.signer(signer)
	if req.ChainPending < 0 && (!st.hasNext || st.resync) {
		return Reservation{}, ErrSyncRequired
	}

	counter := st.next
	if req.ChainPending >= 0 {
		pending := uint64(req.ChainPending)
		for value := range st.entries {
			if value < pending {
				delete(st.entries, value)
			}
		}

		scan := req.ScanLimit
		if scan <= 0 {
			scan = DefaultScanLimit
		}
		limit := pending + uint64(scan)
		if counter < limit {
			limit = counter
		}
		for value := pending; value < limit; value++ {
			entry, ok := st.entries[value]
			abandoned := ok && entry.state == models.ReservationReserved &&
				req.TTL > 0 && req.Now.Sub(entry.at) > req.TTL
			if !ok || abandoned {
				st.entries[value] = memoryEntry{state: models.ReservationReserved, at: req.Now}
				st.resync = true
				return Reservation{Value: value, Reused: true}, nil
			}
		}

		st.resync = false
		if pending > counter {
			counter = pending
		}
	}

	st.next = counter + 1
	st.hasNext = true
	st.entries[counter] = memoryEntry{state: models.ReservationReserved, at: req.Now}
	return Reservation{Value: counter}, nil
}

func (s *MemoryStore) Confirm(_ context.Context, signer common.Address, value uint64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.signer(signer)
	entry, ok := st.entries[value]
	if !ok || entry.state == models.ReservationConfirmed {
		return nil
	}
	st.entries[value] = memoryEntry{state: models.ReservationConfirmed, at: now}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, signer common.Address, value uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.signer(signer)
	if entry, ok := st.entries[value]; ok && entry.state == models.ReservationConfirmed {
		return nil
	}
	delete(st.entries, value)
	st.resync = true
	return nil
}

func (s *MemoryStore) RequestResync(_ context.Context, signer common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signer(signer).resync = true
	return nil
}

func (s *MemoryStore) Reservations(_ context.Context, signer common.Address) ([]models.NonceReservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.signer(signer)
	out := make([]models.NonceReservation, 0, len(st.entries))
	for value, entry := range st.entries {
		out = append(out, models.NonceReservation{
			Signer:     signer,
			Value:      value,
			ReservedAt: entry.at,
			State:      entry.state,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	return out, nil
}

func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}
