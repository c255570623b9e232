/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package mutexzone

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const defaultKeyPrefix = "fleetplan:mutex:"

// Only delete if the caller still owns the lease.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisLocker shares mutex group leases between fleet adapters through Redis.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	logger zerolog.Logger
}

// NewRedisLocker creates a locker on an existing client. An empty prefix
// selects the default key prefix.
func NewRedisLocker(client redis.UniversalClient, prefix string, logger zerolog.Logger) *RedisLocker {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisLocker{
		client: client,
		prefix: prefix,
		logger: logger.With().Str("component", "mutex_locker").Logger(),
	}
}

func (r *RedisLocker) key(group string) string {
	return r.prefix + group
}

// TryLock attempts to acquire the lease with SET NX. If holder already owns
// it, the lease is renewed.
func (r *RedisLocker) TryLock(ctx context.Context, group, holder string, ttl time.Duration) (bool, error) {
	key := r.key(group)
	ok, err := r.client.SetNX(ctx, key, holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("set lock: %w", err)
	}
	if ok {
		r.logger.Debug().Str("group", group).Str("holder", holder).Msg("acquired mutex group")
		return true, nil
	}

	current, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		// Lease expired between the two calls; caller retries.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get lock holder: %w", err)
	}
	if current != holder {
		return false, nil
	}

	if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
		return false, fmt.Errorf("renew lock: %w", err)
	}
	return true, nil
}

func (r *RedisLocker) Unlock(ctx context.Context, group, holder string) error {
	n, err := releaseScript.Run(ctx, r.client, []string{r.key(group)}, holder).Int()
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	r.logger.Debug().Str("group", group).Str("holder", holder).Msg("released mutex group")
	return nil
}

func (r *RedisLocker) Holder(ctx context.Context, group string) (string, error) {
	holder, err := r.client.Get(ctx, r.key(group)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get lock holder: %w", err)
	}
	return holder, nil
}
