package authapi

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter is a fixed-window attempt counter. Allow records one attempt for
// key and reports whether it is within the limit; when it is not,
// retryAfter is the time left in the window.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (allowed bool, retryAfter time.Duration, err error)
}

// Limits groups the limiters the handler consults. A nil limiter disables
// that check.
type Limits struct {
	LoginIP    Limiter
	LoginEmail Limiter
	RefreshIP  Limiter
}

// window returns the start of the fixed window containing now and the time
// remaining until it closes.
func window(now time.Time, size time.Duration) (int64, time.Duration) {
	n := now.UnixNano() / int64(size)
	end := time.Unix(0, (n+1)*int64(size))
	return n, end.Sub(now)
}

// RedisLimiter shares counters across instances through Redis INCR/EXPIRE.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	size   time.Duration
}

// NewRedisLimiter builds a limiter that allows limit attempts per window.
func NewRedisLimiter(client *redis.Client, prefix string, limit int, size time.Duration) (*RedisLimiter, error) {
	if client == nil {
		return nil, errors.New("authapi: nil redis client")
	}
	if limit <= 0 || size <= 0 {
		return nil, errors.New("authapi: limiter needs positive limit and window")
	}
	if prefix == "" {
		prefix = "stockroom:rl"
	}
	return &RedisLimiter{client: client, prefix: prefix, limit: limit, size: size}, nil
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, now time.Time) (bool, time.Duration, error) {
	if key == "" {
		return true, 0, nil
	}
	n, left := window(now, l.size)
	k := l.prefix + ":" + key + ":" + strconv.FormatInt(n, 10)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, l.size)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, err
	}
	if incr.Val() > int64(l.limit) {
		return false, left, nil
	}
	return true, 0, nil
}

// MemoryLimiter keeps counters in process. Suitable for a single instance.
type MemoryLimiter struct {
	limit int
	size  time.Duration

	mu      sync.Mutex
	buckets map[string]memoryBucket
}

type memoryBucket struct {
	window int64
	count  int
}

// NewMemoryLimiter builds an in-process limiter that allows limit attempts per window.
func NewMemoryLimiter(limit int, size time.Duration) (*MemoryLimiter, error) {
	if limit <= 0 || size <= 0 {
		return nil, errors.New("authapi: limiter needs positive limit and window")
	}
	return &MemoryLimiter{limit: limit, size: size, buckets: make(map[string]memoryBucket)}, nil
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, now time.Time) (bool, time.Duration, error) {
	if key == "" {
		return true, 0, nil
	}
	n, left := window(now, l.size)

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.buckets[key]
	if b.window != n {
		b = memoryBucket{window: n}
	}
	b.count++
	l.buckets[key] = b

	// Sweep stale buckets occasionally so the map stays bounded by active keys.
	if len(l.buckets) > 1024 && b.count == 1 {
		for k, v := range l.buckets {
			if v.window < n {
				delete(l.buckets, k)
			}
		}
	}

	if b.count > l.limit {
		return false, left, nil
	}
	return true, 0, nil
}

// NewLimits builds memory limiters from cfg, or Redis-backed ones when client
// is non-nil. A zero max disables that limit.
func NewLimits(cfg Config, client *redis.Client) (Limits, error) {
	mk := func(prefix string, limit int, size time.Duration) (Limiter, error) {
		if limit <= 0 {
			return nil, nil
		}
		if client != nil {
			return NewRedisLimiter(client, "stockroom:rl:"+prefix, limit, size)
		}
		return NewMemoryLimiter(limit, size)
	}

	var (
		out Limits
		err error
	)
	if out.LoginIP, err = mk("login_ip", cfg.LoginIPMax, cfg.LoginIPWindow); err != nil {
		return Limits{}, err
	}
	if out.LoginEmail, err = mk("login_email", cfg.LoginEmailMax, cfg.LoginEmailWindow); err != nil {
		return Limits{}, err
	}
	if out.RefreshIP, err = mk("refresh_ip", cfg.RefreshIPMax, cfg.RefreshIPWindow); err != nil {
		return Limits{}, err
	}
	return out, nil
}
