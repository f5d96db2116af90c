package repository

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/anirudhsonawane/ticket-reservation/internal/domain"
	pkgredis "github.com/anirudhsonawane/ticket-reservation/pkg/redis"
)

// Lua scripts keep each counter change a single atomic step on the server.
// KEYS[1] is the capacity hash, KEYS[2] the per-event index set.
const (
	defineCapacityScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
	redis.call("HSET", KEYS[1], "total", ARGV[1], "sold", 0, "version", 0, "created_at", ARGV[2], "updated_at", ARGV[2])
	redis.call("SADD", KEYS[2], ARGV[3])
	return 1
end
return 0
`

	// returns 1 reserved, 0 exhausted, -1 unknown key
	reserveCapacityScript = `
local total = tonumber(redis.call("HGET", KEYS[1], "total"))
if not total then
	return -1
end
local sold = tonumber(redis.call("HGET", KEYS[1], "sold"))
local units = tonumber(ARGV[1])
if units <= 0 or sold + units > total then
	return 0
end
redis.call("HINCRBY", KEYS[1], "sold", units)
redis.call("HINCRBY", KEYS[1], "version", 1)
redis.call("HSET", KEYS[1], "updated_at", ARGV[2])
return 1
`

	// returns the units freed, or -1 for an unknown key
	releaseCapacityScript = `
local sold = tonumber(redis.call("HGET", KEYS[1], "sold"))
if not sold then
	return -1
end
local units = tonumber(ARGV[1])
if units > sold then
	units = sold
end
if units <= 0 then
	return 0
end
redis.call("HINCRBY", KEYS[1], "sold", -units)
redis.call("HINCRBY", KEYS[1], "version", 1)
redis.call("HSET", KEYS[1], "updated_at", ARGV[2])
return units
`
)

// RedisCapacityRepository keeps counters in Redis hashes so every API and
// sweeper instance shares one ledger without a database round trip.
type RedisCapacityRepository struct {
	client *pkgredis.Client
	now    func() time.Time
}

// NewRedisCapacityRepository creates a new RedisCapacityRepository
func NewRedisCapacityRepository(client *pkgredis.Client) *RedisCapacityRepository {
	return &RedisCapacityRepository{client: client, now: time.Now}
}

func capacityHashKey(key domain.CapacityKey) string {
	return "capacity:{" + key.EventID + "}:" + key.PassID
}

func capacityIndexKey(eventID string) string {
	return "capacity-index:{" + eventID + "}"
}

func (r *RedisCapacityRepository) CreateIfAbsent(ctx context.Context, c *domain.EventCapacity) (*domain.EventCapacity, error) {
	keys := []string{capacityHashKey(c.Key), capacityIndexKey(c.Key.EventID)}
	err := r.client.EvalWithFallback(ctx, "capacity_define", defineCapacityScript, keys,
		c.TotalQuantity, c.CreatedAt.UnixMilli(), c.Key.String(),
	).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to define capacity: %w", err)
	}
	return r.Get(ctx, c.Key)
}

func (r *RedisCapacityRepository) Get(ctx context.Context, key domain.CapacityKey) (*domain.EventCapacity, error) {
	vals, err := r.client.HMGet(ctx, capacityHashKey(key), "total", "sold", "version", "created_at", "updated_at").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read capacity: %w", err)
	}
	if vals[0] == nil {
		return nil, notFound("capacity", key, "")
	}

	ints := make([]int64, len(vals))
	for i, v := range vals {
		s, _ := v.(string)
		if ints[i], err = strconv.ParseInt(s, 10, 64); err != nil {
			return nil, fmt.Errorf("corrupt capacity hash %s: %w", key, err)
		}
	}
	return &domain.EventCapacity{
		Key:           key,
		TotalQuantity: int(ints[0]),
		SoldQuantity:  int(ints[1]),
		Version:       ints[2],
		CreatedAt:     time.UnixMilli(ints[3]).UTC(),
		UpdatedAt:     time.UnixMilli(ints[4]).UTC(),
	}, nil
}

func (r *RedisCapacityRepository) ListByEvent(ctx context.Context, eventID string) ([]*domain.EventCapacity, error) {
	members, err := r.client.SMembers(ctx, capacityIndexKey(eventID)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to list capacities: %w", err)
	}
	sort.Strings(members)

	out := make([]*domain.EventCapacity, 0, len(members))
	for _, m := range members {
		key, err := domain.ParseCapacityKey(m)
		if err != nil {
			continue
		}
		c, err := r.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *RedisCapacityRepository) TryReserve(ctx context.Context, key domain.CapacityKey, units int) (domain.ReserveResult, error) {
	res, err := r.client.EvalWithFallback(ctx, "capacity_reserve", reserveCapacityScript,
		[]string{capacityHashKey(key)}, units, r.now().UnixMilli(),
	).Int()
	if err != nil {
		return domain.Exhausted, fmt.Errorf("failed to reserve capacity: %w", err)
	}
	switch res {
	case 1:
		return domain.Reserved, nil
	case -1:
		return domain.Exhausted, notFound("capacity", key, "")
	}
	return domain.Exhausted, nil
}

func (r *RedisCapacityRepository) Release(ctx context.Context, key domain.CapacityKey, units int) (int, error) {
	freed, err := r.client.EvalWithFallback(ctx, "capacity_release", releaseCapacityScript,
		[]string{capacityHashKey(key)}, units, r.now().UnixMilli(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to release capacity: %w", err)
	}
	if freed < 0 {
		return 0, notFound("capacity", key, "")
	}
	return freed, nil
}
