package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/flowquant/flowrisk/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

//go:embed scripts/unlock.lua
var unlockLua string

// LockManager elects a single leader per collector cycle when several
// instances share one Redis: SETNX with a TTL to acquire, a token-checked
// Lua delete to release. The TTL bounds how long a crashed holder can stall
// the next cycle.
type LockManager struct {
	rdb      *redis.Client
	unlockSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
	}
}

var _ domain.LockManager = (*LockManager)(nil)

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire takes the lock for key with the given TTL and returns an unlock
// function, safe to call more than once. It returns domain.ErrLockHeld when
// another holder has the lock.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	released := false
	unlock := func() {
		if released {
			return
		}
		released = true

		// Unlock with a fresh context so release still works when the
		// cycle's context is already cancelled.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = lm.unlockSc.Run(unlockCtx, lm.rdb, []string{lk}, token).Err()
	}

	return unlock, nil
}
