// Package idempotency deduplicates client retries of mutating requests.
//
// A key is claimed before the command is submitted and kept once it commits,
// so a retried request with the same key is refused instead of applied twice.
// A key whose command did not commit is released for the next attempt.
package idempotency

import (
	"context"
	"sync"
	"time"

	"escrow_go/internal/domain"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "escrow:idem:"

// Guard claims idempotency keys.
type Guard interface {
	// Claim reports whether key was free and is now held by the caller.
	Claim(ctx context.Context, key string) (bool, error)
	// Release frees a claimed key.
	Release(ctx context.Context, key string) error
}

// RedisGuard shares claims between processes through Redis.
type RedisGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisGuard creates a guard on client. Claims expire after ttl.
func NewRedisGuard(client *redis.Client, ttl time.Duration) *RedisGuard {
	return &RedisGuard{client: client, ttl: ttl}
}

func (g *RedisGuard) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := g.client.SetNX(ctx, keyPrefix+key, 1, g.ttl).Result()
	if err != nil {
		return false, domain.NewNetworkError("claim", err)
	}
	return ok, nil
}

func (g *RedisGuard) Release(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return domain.NewNetworkError("release", err)
	}
	return nil
}

// MemoryGuard keeps claims in process memory.
type MemoryGuard struct {
	mu     sync.Mutex
	claims map[string]time.Time // key -> expiry
	ttl    time.Duration
	now    func() time.Time
}

func NewMemoryGuard(ttl time.Duration) *MemoryGuard {
	return &MemoryGuard{
		claims: make(map[string]time.Time),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (g *MemoryGuard) Claim(ctx context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if exp, ok := g.claims[key]; ok && now.Before(exp) {
		return false, nil
	}
	g.claims[key] = now.Add(g.ttl)

	// Opportunistic sweep keeps the map bounded by live claims
	if len(g.claims)%256 == 0 {
		for k, exp := range g.claims {
			if !now.Before(exp) {
				delete(g.claims, k)
			}
		}
	}
	return true, nil
}

func (g *MemoryGuard) Release(ctx context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.claims, key)
	return nil
}

// NopGuard claims every key. Used when deduplication is disabled.
type NopGuard struct{}

func (NopGuard) Claim(context.Context, string) (bool, error) { return true, nil }
func (NopGuard) Release(context.Context, string) error      { return nil }
