package nonce

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/akash-mondal/twinkle-sub001/pkg/models"
)

// DefaultKeyPrefix namespaces nonce keys in a shared redis
const DefaultKeyPrefix = "x402:nonce"

// KEYS: counter, reservations hash, resync flag
// ARGV: chain pending (-1 when unknown), now ms, ttl ms, scan limit
// Reservation values are "<state>:<unix ms>".
var reserveScript = redis.NewScript(`
local pending = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])
local scan = tonumber(ARGV[4])

local raw = redis.call('GET', KEYS[1])
local flagged = redis.call('EXISTS', KEYS[3]) == 1
if pending < 0 and ((not raw) or flagged) then
	return {-1, 0}
end

local counter = 0
if raw then
	counter = tonumber(raw)
end

if pending >= 0 then
	local entries = redis.call('HGETALL', KEYS[2])
	for i = 1, #entries, 2 do
		if tonumber(entries[i]) < pending then
			redis.call('HDEL', KEYS[2], entries[i])
		end
	end

	local limit = math.min(counter, pending + scan)
	for n = pending, limit - 1 do
		local field = tostring(n)
		local state = redis.call('HGET', KEYS[2], field)
		local free = not state
		if state then
			local kind, at = string.match(state, '^(%a+):(%d+)$')
			if kind == 'reserved' and ttl > 0 and now - tonumber(at) > ttl then
				free = true
			end
		end
		if free then
			redis.call('HSET', KEYS[2], field, 'reserved:' .. ARGV[2])
			redis.call('SET', KEYS[3], '1')
			return {n, 1}
		end
	end

	redis.call('DEL', KEYS[3])
	if pending > counter then
		counter = pending
	end
end

redis.call('SET', KEYS[1], tostring(counter + 1))
redis.call('HSET', KEYS[2], tostring(counter), 'reserved:' .. ARGV[2])
return {counter, 0}
`)

// KEYS: reservations hash; ARGV: value, now ms
var confirmScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], ARGV[1])
if not state then
	return 0
end
if string.sub(state, 1, 9) == 'confirmed' then
	return 1
end
redis.call('HSET', KEYS[1], ARGV[1], 'confirmed:' .. ARGV[2])
return 1
`)

// KEYS: reservations hash, resync flag; ARGV: value
var releaseScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], ARGV[1])
if state and string.sub(state, 1, 9) == 'confirmed' then
	return 0
end
redis.call('HDEL', KEYS[1], ARGV[1])
redis.call('SET', KEYS[2], '1')
return 1
`)

// RedisStore keeps nonce state in redis so every process sharing the key sees the same counter
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a store over an existing client
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// NewRedisStoreFromAddr dials a single redis node
func NewRedisStoreFromAddr(addr, password string, db int) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisStore(rdb, DefaultKeyPrefix)
}

// keys share a hash tag so the scripts stay on one cluster slot
func (s *RedisStore) keys(signer common.Address) (counter, reservations, resync string) {
	base := fmt.Sprintf("%s:{%s}", s.prefix, strings.ToLower(signer.Hex()))
	return base + ":next", base + ":reservations", base + ":resync"
}

func (s *RedisStore) Reserve(ctx context.Context, signer common.Address, req ReserveRequest) (Reservation, error) {
	counterKey, reservationsKey, resyncKey := s.keys(signer)
	scan := req.ScanLimit
	if scan <= 0 {
		scan = DefaultScanLimit
	}

	res, err := reserveScript.Run(ctx, s.client,
		[]string{counterKey, reservationsKey, resyncKey},
		req.ChainPending, req.Now.UnixMilli(), req.TTL.Milliseconds(), scan,
	).Int64Slice()
	if err != nil {
		return Reservation{}, fmt.Errorf("redis nonce reserve error: %w", err)
	}
	if len(res) != 2 {
		return Reservation{}, fmt.Errorf("redis nonce reserve error: unexpected reply %v", res)
	}
	if res[0] < 0 {
		return Reservation{}, ErrSyncRequired
	}

	return Reservation{Value: uint64(res[0]), Reused: res[1] == 1}, nil
}

func (s *RedisStore) Confirm(ctx context.Context, signer common.Address, value uint64, now time.Time) error {
	_, reservationsKey, _ := s.keys(signer)
	if err := confirmScript.Run(ctx, s.client, []string{reservationsKey}, value, now.UnixMilli()).Err(); err != nil {
		return fmt.Errorf("redis nonce confirm error: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, signer common.Address, value uint64) error {
	_, reservationsKey, resyncKey := s.keys(signer)
	if err := releaseScript.Run(ctx, s.client, []string{reservationsKey, resyncKey}, value).Err(); err != nil {
		return fmt.Errorf("redis nonce release error: %w", err)
	}
	return nil
}

func (s *RedisStore) RequestResync(ctx context.Context, signer common.Address) error {
	_, _, resyncKey := s.keys(signer)
	if err := s.client.Set(ctx, resyncKey, "1", 0).Err(); err != nil {
		return fmt.Errorf("redis nonce resync error: %w", err)
	}
	return nil
}

func (s *RedisStore) Reservations(ctx context.Context, signer common.Address) ([]models.NonceReservation, error) {
	_, reservationsKey, _ := s.keys(signer)
	entries, err := s.client.HGetAll(ctx, reservationsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis nonce list error: %w", err)
	}

	out := make([]models.NonceReservation, 0, len(entries))
	for field, raw := range entries {
		value, err := strconv.ParseUint(field, 10, 64)
		if err != nil {
			continue
		}
		state, at, ok := parseEntry(raw)
		if !ok {
			continue
		}
		out = append(out, models.NonceReservation{
			Signer:     signer,
			Value:      value,
			ReservedAt: at,
			State:      state,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	return out, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func parseEntry(raw string) (models.ReservationState, time.Time, bool) {
	kind, ms, found := strings.Cut(raw, ":")
	if !found {
		return "", time.Time{}, false
	}
	millis, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return "", time.Time{}, false
	}
	return models.ReservationState(kind), time.UnixMilli(millis), true
}
