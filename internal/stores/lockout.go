package stores

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrLockoutBackend = errors.New("lockout backend unavailable")

// LockoutStore persists the absolute expiry of a login rate limit so every
// tab, and every reload, sees the same remaining wait.
type LockoutStore struct {
	redis redis.UniversalClient
	key   string
}

func NewLockoutStore(redisClient redis.UniversalClient, prefix string) *LockoutStore {
	if prefix == "" {
		prefix = "af:lockout"
	}
	return &LockoutStore{redis: redisClient, key: prefix + ":login"}
}

// Save records a lockout that ends at until. A later expiry never gets
// shortened by an earlier one.
func (s *LockoutStore) Save(ctx context.Context, until, now time.Time) error {
	ttl := until.Sub(now)
	if ttl <= 0 {
		return nil
	}
	current, ok, err := s.Load(ctx, now)
	if err != nil {
		return err
	}
	if ok && current.After(until) {
		return nil
	}
	v := strconv.FormatInt(until.UnixMilli(), 10)
	if err := s.redis.Set(ctx, s.key, v, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutBackend, err)
	}
	return nil
}

// Load returns the active lockout expiry, if any. Elapsed or malformed
// records are removed.
func (s *LockoutStore) Load(ctx context.Context, now time.Time) (time.Time, bool, error) {
	v, err := s.redis.Get(ctx, s.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("%w: %v", ErrLockoutBackend, err)
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		_ = s.Clear(ctx)
		return time.Time{}, false, nil
	}
	until := time.UnixMilli(ms)
	if !until.After(now) {
		_ = s.Clear(ctx)
		return time.Time{}, false, nil
	}
	return until, true, nil
}

// Clear removes the lockout.
func (s *LockoutStore) Clear(ctx context.Context) error {
	if err := s.redis.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutBackend, err)
	}
	return nil
}
