package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/edumetrics/funnelcast/internal/forest"
)

func trainedPredictor(t *testing.T) *forest.Predictor {
	t.Helper()
	obs := make([]forest.Observation, 12)
	for i := range obs {
		obs[i] = forest.Observation{
			Leads:       100 + float64(i%4)*20,
			Spend:       1000 + float64(i%3)*150,
			Enrollments: 10 + float64(i%4)*2,
		}
	}
	p, err := forest.Fit(obs)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	return p
}

func TestModelCache_HitAndMiss(t *testing.T) {
	c, err := NewModelCache(4, 0)
	if err != nil {
		t.Fatalf("NewModelCache failed: %v", err)
	}

	if _, ok := c.Get("uni-norte/enrollments"); ok {
		t.Error("Empty cache should miss")
	}

	p := trainedPredictor(t)
	c.Put("uni-norte/enrollments", p)

	got, ok := c.Get("uni-norte/enrollments")
	if !ok || got != p {
		t.Error("Cached predictor not returned")
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("Stats = %+v, want 1 hit 1 miss", stats)
	}
}

func TestModelCache_ConcurrentGetCountsAccurately(t *testing.T) {
	c, err := NewModelCache(4, 0)
	if err != nil {
		t.Fatalf("NewModelCache failed: %v", err)
	}
	c.Put("brand/enrollments", trainedPredictor(t))

	const goroutines, lookups = 8, 100
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < lookups; i++ {
				c.Get("brand/enrollments")
				c.Get("absent/stream")
			}
		}()
	}
	wg.Wait()

	stats := c.Stats()
	if stats.Hits != goroutines*lookups {
		t.Errorf("Hits = %d, want %d", stats.Hits, goroutines*lookups)
	}
	if stats.Misses != goroutines*lookups {
		t.Errorf("Misses = %d, want %d", stats.Misses, goroutines*lookups)
	}
}

func TestModelCache_Invalidate(t *testing.T) {
	c, err := NewModelCache(4, 0)
	if err != nil {
		t.Fatalf("NewModelCache failed: %v", err)
	}

	c.Put("k", trainedPredictor(t))
	c.Invalidate("k")
	if _, ok := c.Get("k"); ok {
		t.Error("Invalidated model should not be served")
	}
}

func TestModelCache_TTLExpiry(t *testing.T) {
	c, err := NewModelCache(4, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("NewModelCache failed: %v", err)
	}

	c.Put("k", trainedPredictor(t))
	if _, ok := c.Get("k"); !ok {
		t.Fatal("Fresh model should hit")
	}

	time.Sleep(50 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Error("Expired model should miss")
	}
	if removed := c.CleanupExpired(); removed != 1 {
		t.Errorf("CleanupExpired removed %d, want 1", removed)
	}
}

func TestModelCache_EvictsLRU(t *testing.T) {
	c, err := NewModelCache(2, 0)
	if err != nil {
		t.Fatalf("NewModelCache failed: %v", err)
	}

	p := trainedPredictor(t)
	for i := 0; i < 3; i++ {
		c.Put(fmt.Sprintf("stream-%d", i), p)
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2 after eviction", c.Len())
	}
	if _, ok := c.Get("stream-0"); ok {
		t.Error("Oldest stream should have been evicted")
	}
}
