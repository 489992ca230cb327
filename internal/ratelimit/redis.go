// redis.go: Redis-backed Store (sorted-set windows, behavior hashes, TTL blocks)
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on a single Redis instance or cluster proxy.
// All multi-step operations run as Lua scripts, so concurrent admission
// checks from different service instances never interleave read-then-write.
type RedisStore struct {
	client redis.UniversalClient
	seq    atomic.Int64
}

// NewRedisStore wraps an existing go-redis client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// recordWindowScript prunes expired entries, records the new one, counts the
// survivors, and refreshes the key TTL in one atomic round-trip.
// KEYS[1] window key
// ARGV[1] now (unix nanos), ARGV[2] window (nanos), ARGV[3] member, ARGV[4] ttl (seconds)
var recordWindowScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], 0, tonumber(ARGV[1]) - tonumber(ARGV[2]))
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[3])
local count = redis.call('ZCARD', KEYS[1])
redis.call('EXPIRE', KEYS[1], ARGV[4])
return count
`)

// updateBehaviorScript applies one request outcome to the behavior hash.
// KEYS[1] behavior key
// ARGV[1] success (0/1), ARGV[2] auth failure (0/1), ARGV[3] now (unix nanos),
// ARGV[4] rapid interval (nanos), ARGV[5] ttl (seconds)
var updateBehaviorScript = redis.NewScript(`
local last = tonumber(redis.call('HGET', KEYS[1], 'last_ns'))
if tonumber(ARGV[1]) == 1 then
  redis.call('HINCRBY', KEYS[1], 'success', 1)
else
  redis.call('HINCRBY', KEYS[1], 'failure', 1)
end
if tonumber(ARGV[2]) == 1 then
  redis.call('HINCRBY', KEYS[1], 'failed_auth', 1)
end
if last and (tonumber(ARGV[3]) - last) < tonumber(ARGV[4]) then
  redis.call('HINCRBY', KEYS[1], 'rapid', 1)
end
redis.call('HSET', KEYS[1], 'last_ns', ARGV[3])
redis.call('EXPIRE', KEYS[1], ARGV[5])
return 1
`)

func (s *RedisStore) RecordWindow(ctx context.Context, key string, now time.Time, window time.Duration) (int64, error) {
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + strconv.FormatInt(s.seq.Add(1), 10)
	res, err := recordWindowScript.Run(ctx, s.client, []string{key},
		now.UnixNano(), window.Nanoseconds(), member, ttlSeconds(window)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: record window: %v", ErrStoreUnavailable, err)
	}
	count, ok := res.(int64)
	if !ok {
		return 0, fmt.Errorf("%w: unexpected record window result %v", ErrStoreUnavailable, res)
	}
	return count, nil
}

func (s *RedisStore) CountWindow(ctx context.Context, key string, now time.Time, window time.Duration) (int64, error) {
	min := strconv.FormatInt(now.Add(-window).UnixNano(), 10)
	count, err := s.client.ZCount(ctx, key, min, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("%w: count window: %v", ErrStoreUnavailable, err)
	}
	return count, nil
}

func (s *RedisStore) UpdateBehavior(ctx context.Context, key string, success, authFailure bool, at time.Time, rapidInterval, ttl time.Duration) error {
	_, err := updateBehaviorScript.Run(ctx, s.client, []string{key},
		boolArg(success), boolArg(authFailure), at.UnixNano(), rapidInterval.Nanoseconds(), ttlSeconds(ttl)).Result()
	if err != nil {
		return fmt.Errorf("%w: update behavior: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) GetBehavior(ctx context.Context, key string) (BehaviorStats, error) {
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return BehaviorStats{}, fmt.Errorf("%w: get behavior: %v", ErrStoreUnavailable, err)
	}
	var stats BehaviorStats
	stats.Successes = parseField(fields, "success")
	stats.Failures = parseField(fields, "failure")
	stats.RapidRequests = parseField(fields, "rapid")
	stats.FailedAuthAttempts = parseField(fields, "failed_auth")
	if ns := parseField(fields, "last_ns"); ns > 0 {
		stats.LastRequest = time.Unix(0, ns)
	}
	return stats, nil
}

func (s *RedisStore) SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	acquired, err := s.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: set if absent: %v", ErrStoreUnavailable, err)
	}
	return acquired, nil
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, false, fmt.Errorf("%w: ttl: %v", ErrStoreUnavailable, err)
	}
	if ttl < 0 {
		// -2 missing key, -1 no expiry; block keys always carry one.
		return 0, false, nil
	}
	return ttl, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: delete: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) DeleteByPrefix(ctx context.Context, prefix string) error {
	iter := s.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("%w: delete by prefix: %v", ErrStoreUnavailable, err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("%w: scan %s: %v", ErrStoreUnavailable, prefix, err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: ping: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func ttlSeconds(d time.Duration) int64 {
	secs := int64(d / time.Second)
	if d%time.Second != 0 || secs == 0 {
		secs++
	}
	return secs
}

func boolArg(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseField(fields map[string]string, name string) int64 {
	v, err := strconv.ParseInt(fields[name], 10, 64)
	if err != nil {
		return 0
	}
	return v
}
