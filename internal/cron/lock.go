package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultLockTTL bounds how long a crashed sweeper can block the next one.
// Retention sweeps finish in minutes, so the lock never needs to outlive a
// cycle.
const DefaultLockTTL = time.Hour

const releaseTimeout = 5 * time.Second

// ErrLockHeld is returned by RunNow when another process owns the sweep lock.
var ErrLockHeld = errors.New("another sweeper holds the cron lock")

// Lock serialises retention sweeps across cron-worker replicas and syncctl.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type lockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	DelIfValue(ctx context.Context, key, value string) (bool, error)
}

// RedisLock is a SETNX lock whose value is a per-acquire owner token, so a
// process only ever deletes a lock it still owns.
type RedisLock struct {
	store lockStore
	key   string
	ttl   time.Duration
	token string
	now   func() time.Time
	held  time.Time
}

func NewRedisLock(store lockStore, key string, ttl time.Duration) (*RedisLock, error) {
	if store == nil {
		return nil, errors.New("redis client required for lock")
	}
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &RedisLock{store: store, key: key, ttl: ttl, now: time.Now}, nil
}

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	if l.token != "" {
		return false, fmt.Errorf("lock %s already acquired by this process", l.key)
	}
	token := uuid.NewString()
	ok, err := l.store.SetNX(ctx, l.key, token, l.ttl)
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", l.key, err)
	}
	if ok {
		l.token = token
		l.held = l.now()
	}
	return ok, nil
}

// Release deletes the lock only while it still holds this acquisition's
// token, so a lock that expired and was taken over is left alone. It runs
// on its own deadline even when ctx is already cancelled.
func (l *RedisLock) Release(ctx context.Context) error {
	if l.token == "" {
		return nil
	}
	token := l.token
	l.token = ""

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if _, err := l.store.DelIfValue(ctx, l.key, token); err != nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	return nil
}

// HeldFor reports how long the current acquisition has been held.
func (l *RedisLock) HeldFor() time.Duration {
	if l.token == "" {
		return 0
	}
	return l.now().Sub(l.held)
}
