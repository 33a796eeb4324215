package cache

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-loyalty/magpie/internal/domain"
)

func TestLRUGetSet(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	// Miss returns nil, nil
	val, err := c.Get(ctx, "missing")
	if err != nil || val != nil {
		t.Errorf("expected nil,nil on miss, got %v, %v", val, err)
	}

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	val, err = c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(val) != "v" {
		t.Errorf("expected v, got %s", val)
	}

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	val, _ = c.Get(ctx, "k")
	if val != nil {
		t.Error("expected miss after delete")
	}
}

func TestLRUTTLExpiry(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	if err := c.Set(ctx, "short", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	val, err := c.Get(ctx, "short")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if val != nil {
		t.Error("expected entry to expire")
	}
}

func TestLRUEviction(t *testing.T) {
	c := NewLRUCache(3)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		c.Set(ctx, k, []byte(k), time.Minute)
	}

	// Touch "a" so "b" is the oldest.
	c.Get(ctx, "a")

	c.Set(ctx, "d", []byte("d"), time.Minute)

	if val, _ := c.Get(ctx, "b"); val != nil {
		t.Error("expected b to be evicted")
	}
	if val, _ := c.Get(ctx, "a"); val == nil {
		t.Error("expected a to survive eviction")
	}

	size, capacity := c.Stats()
	if size != 3 || capacity != 3 {
		t.Errorf("expected size=3 capacity=3, got %d/%d", size, capacity)
	}
}

func TestLRUMemberRoundTrip(t *testing.T) {
	c := NewLRUCache(10)
	ctx := context.Background()

	// Miss returns nil, nil
	m, err := c.GetMember(ctx, 1)
	if err != nil || m != nil {
		t.Errorf("expected nil,nil on miss, got %v, %v", m, err)
	}

	member := &domain.Member{
		ID:             1,
		Name:           "Alice",
		Email:          "alice@example.com",
		Tier:           domain.TierGold,
		TotalPoints:    1200,
		LifetimePoints: 5400,
	}
	if err := c.SetMember(ctx, member, time.Minute); err != nil {
		t.Fatalf("SetMember failed: %v", err)
	}

	got, err := c.GetMember(ctx, 1)
	if err != nil {
		t.Fatalf("GetMember failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected cached member")
	}
	if got.Tier != domain.TierGold || got.TotalPoints != 1200 {
		t.Errorf("unexpected member: %+v", got)
	}

	// Invalidation through the raw key.
	if err := c.Delete(ctx, memberKey(1)); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	got, _ = c.GetMember(ctx, 1)
	if got != nil {
		t.Error("expected miss after invalidation")
	}
}

func TestNewMemoryCache(t *testing.T) {
	c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewUnsupportedType(t *testing.T) {
	_, err := New(domain.CacheConfig{Type: "memcached"})
	if err == nil {
		t.Fatal("expected error for unsupported cache type")
	}
}
