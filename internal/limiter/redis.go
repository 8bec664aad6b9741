package limiter

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisClient is the subset of redis.Cmdable the limiter needs.
type redisClient interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	PTTL(ctx context.Context, key string) *redis.DurationCmd
}

// Redis is a Redis-backed limiter with a fixed failure window and lockout.
type Redis struct {
	client   redisClient
	window   time.Duration
	maxFails int
	blockFor time.Duration
}

var _ Limiter = (*Redis)(nil)

// NewRedis constructs a Redis-backed limiter from a redis:// URL and verifies connectivity.
func NewRedis(ctx context.Context, redisURL string, window time.Duration, maxFails int, blockFor time.Duration) (*Redis, *redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisWithClient(client, window, maxFails, blockFor), client, nil
}

// NewRedisWithClient constructs a limiter over an existing client.
func NewRedisWithClient(c redisClient, window time.Duration, maxFails int, blockFor time.Duration) *Redis {
	return &Redis{client: c, window: window, maxFails: maxFails, blockFor: blockFor}
}

func keys(scope string, ipHash []byte) (fails, blocked string) {
	base := "limiter:" + scope + ":" + hex.EncodeToString(ipHash)
	return base + ":fails", base + ":blocked"
}

// Allow reports whether an attempt is allowed and a retry-after duration.
func (l *Redis) Allow(ctx context.Context, scope string, ipHash []byte) (bool, time.Duration, error) {
	_, blocked := keys(scope, ipHash)
	ttl, err := l.client.PTTL(ctx, blocked).Result()
	if err != nil {
		return false, 0, err
	}
	// -2 (missing) and -1 (no expiry) come back as negative durations
	if ttl > 0 {
		return false, ttl, nil
	}
	return true, 0, nil
}

// Success resets counters for (scope, ip).
func (l *Redis) Success(ctx context.Context, scope string, ipHash []byte) error {
	fails, blocked := keys(scope, ipHash)
	return l.client.Del(ctx, fails, blocked).Err()
}

// Failure records a failed attempt; may set a block for blockFor.
func (l *Redis) Failure(ctx context.Context, scope string, ipHash []byte) (bool, time.Duration, error) {
	failsKey, blockedKey := keys(scope, ipHash)

	n, err := l.client.Incr(ctx, failsKey).Result()
	if err != nil {
		return false, 0, err
	}
	if n == 1 {
		if err := l.client.Expire(ctx, failsKey, l.window).Err(); err != nil {
			return false, 0, err
		}
	}
	if int(n) < l.maxFails {
		return false, 0, nil
	}
	if err := l.client.Set(ctx, blockedKey, 1, l.blockFor).Err(); err != nil {
		return false, 0, err
	}
	if err := l.client.Del(ctx, failsKey).Err(); err != nil {
		return false, 0, err
	}
	return true, l.blockFor, nil
}
