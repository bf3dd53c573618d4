package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/astro-web3/projecthub-auth/internal/domain/session"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

const revokedKeyPrefix = "auth:revoked:"

type redisRevocations struct {
	client redis.Cmdable
	now    func() time.Time
}

// NewRedisClient parses url, applies poolSize and waits for the server to
// answer a PING, retrying with backoff until ctx ends.
func NewRedisClient(ctx context.Context, url string, poolSize int) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	if poolSize > 0 {
		opt.PoolSize = poolSize
	}

	client := redis.NewClient(opt)

	backoff := retry.WithMaxRetries(5, retry.NewExponential(200*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

// NewRedisRevocationStore keeps one key per revoked token id, expiring
// together with the token.
func NewRedisRevocationStore(client redis.Cmdable) session.RevocationStore {
	return &redisRevocations{client: client, now: time.Now}
}

// keyTTL rounds up so the key never expires before the token does. A
// non-positive result means the token is already expired.
func (r *redisRevocations) keyTTL(until time.Time) time.Duration {
	ttl := until.Sub(r.now())
	if ttl <= 0 {
		return 0
	}
	return ttl.Truncate(time.Second) + time.Second
}

func (r *redisRevocations) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	ttl := r.keyTTL(until)
	if ttl <= 0 {
		return nil
	}

	if err := r.client.Set(ctx, revokedKeyPrefix+tokenID, 1, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store revocation: %w", err)
	}
	return nil
}

// Consume uses SET NX so concurrent callers race on the key and exactly one
// sees it absent.
func (r *redisRevocations) Consume(ctx context.Context, tokenID string, until time.Time) (bool, error) {
	ttl := r.keyTTL(until)
	if ttl <= 0 {
		return false, nil
	}

	set, err := r.client.SetNX(ctx, revokedKeyPrefix+tokenID, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to consume token id: %w", err)
	}
	return !set, nil
}
