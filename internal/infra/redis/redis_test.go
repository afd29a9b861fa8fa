//go:build !integration

package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"course-marketplace/internal/domain"
)

// memRedis is an in-memory RedisClient; expirations are recorded, not enforced.
type memRedis struct {
	mu   sync.Mutex
	kv   map[string]string
	ttl  map[string]time.Duration
	fail error
}

func newMemRedis() *memRedis {
	return &memRedis{kv: map[string]string{}, ttl: map[string]time.Duration{}}
}

func (m *memRedis) Ping(ctx context.Context) error { return m.fail }

func (m *memRedis) Set(ctx context.Context, key string, value interface{}, exp time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = toString(value)
	m.ttl[key] = exp
	return m.fail
}

func (m *memRedis) SetNX(ctx context.Context, key string, value interface{}, exp time.Duration) (bool, error) {
	if m.fail != nil {
		return false, m.fail
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.kv[key]; ok {
		return false, nil
	}
	m.kv[key] = toString(value)
	m.ttl[key] = exp
	return true, nil
}

func (m *memRedis) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.kv[key]
	if !ok {
		return "", errors.New("redis: nil")
	}
	return v, nil
}

func (m *memRedis) Incr(ctx context.Context, key string) (int64, error) {
	if m.fail != nil {
		return 0, m.fail
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.kv[key])) + 1
	m.kv[key] = string(make([]byte, n))
	return n, nil
}

func (m *memRedis) Expire(ctx context.Context, key string, exp time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ttl[key] = exp
	return nil
}

func (m *memRedis) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.kv, k)
	}
	return nil
}

func (m *memRedis) DelIfEquals(ctx context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.kv[key] != value {
		return false, nil
	}
	delete(m.kv, key)
	return true, nil
}

func (m *memRedis) Close() error { return nil }

func toString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return ""
	}
}

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()

	t.Run("second lock on held key reports purchase in progress", func(t *testing.T) {
		mem := newMemRedis()
		l := NewLocker(mem)
		l.backoff = time.Millisecond

		tok, err := l.TryLock(ctx, "k", time.Second)
		if err != nil || tok == "" {
			t.Fatalf("first lock: tok=%q err=%v", tok, err)
		}
		if _, err := l.TryLock(ctx, "k", time.Second); !errors.Is(err, domain.ErrPurchaseInProgress) {
			t.Fatalf("want ErrPurchaseInProgress, got %v", err)
		}
	})

	t.Run("unlock with foreign token keeps the lock", func(t *testing.T) {
		mem := newMemRedis()
		l := NewLocker(mem)
		l.backoff = time.Millisecond

		tok, _ := l.TryLock(ctx, "k", time.Second)
		_ = l.Unlock(ctx, "k", "not-mine")
		if _, err := l.TryLock(ctx, "k", time.Second); err == nil {
			t.Fatal("lock must still be held")
		}
		if err := l.Unlock(ctx, "k", tok); err != nil {
			t.Fatalf("unlock: %v", err)
		}
		if _, err := l.TryLock(ctx, "k", time.Second); err != nil {
			t.Fatalf("relock after unlock: %v", err)
		}
	})

	t.Run("redis failure surfaces the error", func(t *testing.T) {
		mem := newMemRedis()
		mem.fail = errors.New("conn refused")
		l := NewLocker(mem)
		l.backoff = time.Millisecond
		if _, err := l.TryLock(ctx, "k", time.Second); err == nil || errors.Is(err, domain.ErrPurchaseInProgress) {
			t.Fatalf("want transport error, got %v", err)
		}
	})
}

func TestRateLimiter_Allow(t *testing.T) {
	ctx := context.Background()
	mem := newMemRedis()
	rl := NewRateLimiter(mem)
	key := "rate_limit:u-1:create_intent"

	for i := 1; i <= 3; i++ {
		ok, err := rl.Allow(ctx, key, 3, time.Minute)
		if err != nil || !ok {
			t.Fatalf("hit %d: ok=%v err=%v", i, ok, err)
		}
	}
	ok, err := rl.Allow(ctx, key, 3, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("fourth hit must be limited")
	}
	if mem.ttl[key] != time.Minute {
		t.Fatalf("window must be set on first hit, got %s", mem.ttl[key])
	}
}
