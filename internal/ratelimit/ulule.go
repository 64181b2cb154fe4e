package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// Ulule adapts github.com/ulule/limiter (fixed window) to the Limiter interface.
type Ulule struct {
	store limiter.Store

	mu       sync.Mutex
	limiters map[limiter.Rate]*limiter.Limiter
}

// NewUlule builds the adapter on a Redis backed ulule store.
func NewUlule(rdb *redis.Client, prefix string) (*Ulule, error) {
	store, err := limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: prefix})
	if err != nil {
		return nil, fmt.Errorf("ratelimit: ulule store: %w", err)
	}
	return &Ulule{store: store, limiters: make(map[limiter.Rate]*limiter.Limiter)}, nil
}

func (u *Ulule) limiterFor(window time.Duration, max int) *limiter.Limiter {
	rate := limiter.Rate{Period: window, Limit: int64(max)}
	u.mu.Lock()
	defer u.mu.Unlock()
	if l, ok := u.limiters[rate]; ok {
		return l
	}
	l := limiter.New(u.store, rate)
	u.limiters[rate] = l
	return l
}

// Allow counts one hit for key.
func (u *Ulule) Allow(ctx context.Context, key string, window time.Duration, max int) (bool, int, time.Time, error) {
	if max <= 0 || window <= 0 {
		return true, max, time.Now().Add(window), nil
	}
	res, err := u.limiterFor(window, max).Get(ctx, key)
	if err != nil {
		return false, 0, time.Now().Add(window), err
	}
	return !res.Reached, int(res.Remaining), time.Unix(res.Reset, 0), nil
}
