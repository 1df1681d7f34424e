package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	pkgerrors "github.com/subboxlabs/subbox-backend/pkg/errors"
)

const defaultMutationLockTTL = 30 * time.Second

// Unlock releases a held mutation lock.
type Unlock func(ctx context.Context) error

// MutationLock serializes writers on a single subscription. The billing
// engine and the member-facing mutations share it so a rollover never
// interleaves with a staging edit.
type MutationLock interface {
	Acquire(ctx context.Context, subscriptionID uuid.UUID) (Unlock, error)
}

// redisStore defines the operations used by RedisMutationLock.
type redisStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	LockKey(parts ...string) string
}

// RedisMutationLock implements MutationLock using Redis SETNX + TTL.
type RedisMutationLock struct {
	client redisStore
	ttl    time.Duration
}

// NewRedisMutationLock constructs a Redis-backed mutation lock.
func NewRedisMutationLock(client redisStore, ttl time.Duration) (*RedisMutationLock, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if ttl <= 0 {
		ttl = defaultMutationLockTTL
	}
	return &RedisMutationLock{client: client, ttl: ttl}, nil
}

// Acquire takes the per-subscription lock or fails with a retryable
// conflict when another writer holds it.
func (l *RedisMutationLock) Acquire(ctx context.Context, subscriptionID uuid.UUID) (Unlock, error) {
	key := l.client.LockKey("subscription", subscriptionID.String())
	owner := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, owner, l.ttl)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire subscription lock")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "subscription is being modified, retry shortly")
	}

	release := func(ctx context.Context) error {
		value, err := l.client.Get(ctx, key)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil
			}
			return fmt.Errorf("read lock owner: %w", err)
		}
		if value != owner {
			return nil
		}
		if err := l.client.Del(ctx, key); err != nil {
			return fmt.Errorf("delete lock: %w", err)
		}
		return nil
	}
	return release, nil
}
