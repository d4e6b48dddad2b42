package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaygate/gateway/internal/cache"
	"github.com/relaygate/gateway/internal/logger"
)

// RedisStore backs the sliding window with a Redis sorted set per key
// (score = unix nanos), so multiple gateway replicas behind a load balancer
// share one limiter state. Built directly on *redis.Client rather than the
// teacher's cache.Cache wrapper, since it needs ZADD/ZREMRANGEBYSCORE/ZRANGE
// primitives the generic JSON cache does not expose; it still borrows the
// teacher's cache.RateLimitKey naming convention so both limiters agree on
// one key scheme in a shared Redis instance.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an already-connected redis.Client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Record(ctx context.Context, key string, now, windowStart time.Time) (int, time.Time) {
	zkey := cache.RateLimitKey(key)
	member := now.UnixNano()

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, zkey, "-inf", strconv.FormatInt(windowStart.UnixNano(), 10))
	pipe.ZAdd(ctx, zkey, redis.Z{Score: float64(member), Member: member})
	pipe.Expire(ctx, zkey, 10*time.Minute)
	rangeCmd := pipe.ZRangeWithScores(ctx, zkey, 0, 0)
	countCmd := pipe.ZCard(ctx, zkey)
	if _, err := pipe.Exec(ctx); err != nil {
		logger.RateLimit().Error().Err(err).Str("key", key).Msg("redis rate-limit pipeline failed")
		return 1, now
	}

	count := int(countCmd.Val())
	oldest := now
	if vals := rangeCmd.Val(); len(vals) > 0 {
		oldest = time.Unix(0, int64(vals[0].Score))
	}
	return count, oldest
}
