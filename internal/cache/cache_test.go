package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/plb/internal/domain"
)

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("SetAndGet", func(t *testing.T) {
		err := cache.Set(ctx, tenantID, "key1", []byte("value1"), time.Minute)
		if err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, tenantID, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, tenantID, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "key2", []byte("value2"), time.Minute)

		if err := cache.Delete(ctx, tenantID, "key2"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if val, _ := cache.Get(ctx, tenantID, "key2"); val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "expiring", []byte("temp"), 10*time.Millisecond)

		if val, _ := cache.Get(ctx, tenantID, "expiring"); val == nil {
			t.Error("expected value before expiration")
		}

		time.Sleep(20 * time.Millisecond)

		if val, _ := cache.Get(ctx, tenantID, "expiring"); val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("ZeroTTLKeepsEntry", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "forever", []byte("v"), 0)
		time.Sleep(5 * time.Millisecond)
		if val, _ := cache.Get(ctx, tenantID, "forever"); string(val) != "v" {
			t.Error("expected entry without ttl to be kept")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		smallCache := NewLRUCache(3)

		_ = smallCache.Set(ctx, tenantID, "a", []byte("1"), time.Minute)
		_ = smallCache.Set(ctx, tenantID, "b", []byte("2"), time.Minute)
		_ = smallCache.Set(ctx, tenantID, "c", []byte("3"), time.Minute)

		// Touch 'a' so 'b' is the least recently used.
		_, _ = smallCache.Get(ctx, tenantID, "a")
		_ = smallCache.Set(ctx, tenantID, "d", []byte("4"), time.Minute)

		if val, _ := smallCache.Get(ctx, tenantID, "b"); val != nil {
			t.Error("expected 'b' to be evicted")
		}
		if val, _ := smallCache.Get(ctx, tenantID, "a"); val == nil {
			t.Error("expected 'a' to still exist")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_ = cache.Set(ctx, "tenant-001", "shared-key", []byte("tenant1-value"), time.Minute)
		_ = cache.Set(ctx, "tenant-002", "shared-key", []byte("tenant2-value"), time.Minute)

		val1, _ := cache.Get(ctx, "tenant-001", "shared-key")
		val2, _ := cache.Get(ctx, "tenant-002", "shared-key")

		if string(val1) != "tenant1-value" {
			t.Errorf("expected 'tenant1-value', got '%s'", string(val1))
		}
		if string(val2) != "tenant2-value" {
			t.Errorf("expected 'tenant2-value', got '%s'", string(val2))
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := cache.Set(ctx, "", "key", []byte("value"), time.Minute); err == nil {
			t.Error("expected error for empty tenantID")
		}
		if _, err := cache.Get(ctx, "", "key"); err == nil {
			t.Error("expected error for empty tenantID")
		}
		if _, err := cache.IncrementBy(ctx, "", "key", 1, 0); err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("IncrementBy", func(t *testing.T) {
		window := 100 * time.Millisecond

		v, err := cache.IncrementBy(ctx, tenantID, "progress", 15000, window)
		if err != nil {
			t.Fatalf("IncrementBy failed: %v", err)
		}
		if v != 15000 {
			t.Errorf("expected 15000, got %d", v)
		}

		v, _ = cache.IncrementBy(ctx, tenantID, "progress", 2500, window)
		if v != 17500 {
			t.Errorf("expected 17500, got %d", v)
		}

		// Counters do not collide with plain values of the same key.
		if val, _ := cache.Get(ctx, tenantID, "progress"); val != nil {
			t.Error("expected counter to be stored apart from values")
		}

		time.Sleep(150 * time.Millisecond)

		v, _ = cache.IncrementBy(ctx, tenantID, "progress", 1, window)
		if v != 1 {
			t.Errorf("expected 1 after window reset, got %d", v)
		}
	})

	t.Run("IncrementByWithoutWindow", func(t *testing.T) {
		_, _ = cache.IncrementBy(ctx, tenantID, "open", 5, 0)
		time.Sleep(5 * time.Millisecond)
		v, _ := cache.IncrementBy(ctx, tenantID, "open", 5, 0)
		if v != 10 {
			t.Errorf("expected 10, got %d", v)
		}
	})

	t.Run("ResultCache", func(t *testing.T) {
		result := &domain.ProcessingResult{
			ID:                 "res-001",
			RecordKey:          "1570000000001-1",
			AirlineEligibility: true,
			EligibleContracts:  1,
			Analyses: []domain.ContractAnalysis{{
				ContractID:     "C1",
				PayoutEligible: true,
				PayoutValue:    decimal.RequireFromString("20.0000"),
			}},
		}

		if err := cache.SetResult(ctx, tenantID, "v1:abc", result, time.Minute); err != nil {
			t.Fatalf("SetResult failed: %v", err)
		}

		got, err := cache.GetResult(ctx, tenantID, "v1:abc")
		if err != nil {
			t.Fatalf("GetResult failed: %v", err)
		}
		if got == nil || got.ID != "res-001" {
			t.Fatalf("unexpected cached result: %+v", got)
		}
		if !got.TotalPayout().Equal(decimal.RequireFromString("20")) {
			t.Errorf("expected total payout 20, got %s", got.TotalPayout())
		}

		miss, err := cache.GetResult(ctx, tenantID, "v2:abc")
		if err != nil || miss != nil {
			t.Errorf("expected miss, got %v / %v", miss, err)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		statsCache := NewLRUCache(50)
		_ = statsCache.Set(ctx, tenantID, "k1", []byte("v1"), time.Minute)
		_ = statsCache.Set(ctx, tenantID, "k2", []byte("v2"), time.Minute)

		size, capacity := statsCache.Stats()
		if size != 2 {
			t.Errorf("expected size 2, got %d", size)
		}
		if capacity != 50 {
			t.Errorf("expected capacity 50, got %d", capacity)
		}
	})

	t.Run("Close", func(t *testing.T) {
		testCache := NewLRUCache(10)
		_ = testCache.Set(ctx, tenantID, "k", []byte("v"), time.Minute)

		if err := testCache.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
		if val, _ := testCache.Get(ctx, tenantID, "k"); val != nil {
			t.Error("expected cache to be cleared after close")
		}
	})
}

func TestResultKey(t *testing.T) {
	r := &domain.Record{
		TicketNumber: "1570000000001",
		CouponNumber: "1",
		AirlineCode:  "QR",
		Base:         decimal.RequireFromString("1000"),
	}

	k1, err := ResultKey(r, "v1")
	if err != nil {
		t.Fatalf("ResultKey failed: %v", err)
	}
	if !strings.HasPrefix(k1, "v1:") {
		t.Errorf("expected version prefix, got %s", k1)
	}

	k2, _ := ResultKey(r, "v1")
	if k1 != k2 {
		t.Error("expected stable key")
	}

	k3, _ := ResultKey(r, "v2")
	if k1 == k3 {
		t.Error("expected key to change with contract set version")
	}

	changed := *r
	changed.Base = decimal.RequireFromString("1001")
	k4, _ := ResultKey(&changed, "v1")
	if k1 == k4 {
		t.Error("expected key to change with record content")
	}
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		cache, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 100})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		if _, ok := cache.(*LRUCache); !ok {
			t.Error("expected LRUCache for memory type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}
