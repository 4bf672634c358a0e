package idempotency

import (
	"context"
	"testing"
	"time"

	"escrow_go/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testGuards(t *testing.T) map[string]Guard {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return map[string]Guard{
		"redis":  NewRedisGuard(client, time.Minute),
		"memory": NewMemoryGuard(time.Minute),
	}
}

func TestGuard_ClaimOnce(t *testing.T) {
	ctx := context.Background()

	for name, g := range testGuards(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := g.Claim(ctx, "req-1")
			if err != nil || !ok {
				t.Fatalf("first claim should succeed, got %v (err=%v)", ok, err)
			}

			ok, err = g.Claim(ctx, "req-1")
			if err != nil || ok {
				t.Errorf("second claim should be refused, got %v (err=%v)", ok, err)
			}

			ok, _ = g.Claim(ctx, "req-2")
			if !ok {
				t.Error("different key should be claimable")
			}
		})
	}
}

func TestGuard_Release(t *testing.T) {
	ctx := context.Background()

	for name, g := range testGuards(t) {
		t.Run(name, func(t *testing.T) {
			g.Claim(ctx, "req-1")
			if err := g.Release(ctx, "req-1"); err != nil {
				t.Fatalf("Release failed: %v", err)
			}
			if ok, _ := g.Claim(ctx, "req-1"); !ok {
				t.Error("released key should be claimable again")
			}
		})
	}
}

func TestRedisGuard_Expiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	g := NewRedisGuard(client, time.Second)
	ctx := context.Background()
	g.Claim(ctx, "req-1")

	if ttl := mr.TTL(keyPrefix + "req-1"); ttl != time.Second {
		t.Errorf("Expected TTL 1s, got %v", ttl)
	}
	mr.FastForward(2 * time.Second)

	if ok, _ := g.Claim(ctx, "req-1"); !ok {
		t.Error("expired key should be claimable")
	}
}

func TestRedisGuard_Unavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	_, err := NewRedisGuard(client, time.Minute).Claim(context.Background(), "req-1")
	if err == nil {
		t.Fatal("Expected error when redis is down")
	}
	if !domain.IsRetriable(err) {
		t.Error("redis failure should be retriable")
	}
}

func TestMemoryGuard_Expiry(t *testing.T) {
	g := NewMemoryGuard(time.Minute)
	now := time.Unix(1_700_000_000, 0)
	g.now = func() time.Time { return now }
	ctx := context.Background()

	g.Claim(ctx, "req-1")
	now = now.Add(2 * time.Minute)

	if ok, _ := g.Claim(ctx, "req-1"); !ok {
		t.Error("expired key should be claimable")
	}
}
