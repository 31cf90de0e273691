package engine

import (
	"testing"
	"time"
)

func newTestRegionCache() (*regionCache, *time.Time) {
	now := time.Now()
	c := newRegionCache(DefaultTiers(), 30*time.Second, 0.30)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestRegionCacheExactHit(t *testing.T) {
	c, _ := newTestRegionCache()
	box := BoundingBox{MinX: 0, MaxX: 10, MinY: 0, MaxY: 10}

	if c.Satisfied(box, 0) {
		t.Fatal("empty cache reported satisfied")
	}
	c.Record(box, 0)
	if !c.Satisfied(box, 0) {
		t.Error("recorded region not satisfied")
	}
}

func TestRegionCacheTTLExpiry(t *testing.T) {
	c, now := newTestRegionCache()
	box := BoundingBox{MinX: 0, MaxX: 10, MinY: 0, MaxY: 10}
	c.Record(box, 0)

	*now = now.Add(29 * time.Second)
	if !c.Satisfied(box, 0) {
		t.Error("entry expired before TTL")
	}
	*now = now.Add(2 * time.Second)
	if c.Satisfied(box, 0) {
		t.Error("entry survived past TTL")
	}

	c.ExpireStale()
	if c.Len() != 0 {
		t.Errorf("entries after expiry sweep = %d, want 0", c.Len())
	}
}

func TestRegionCacheOverlapReuse(t *testing.T) {
	c, _ := newTestRegionCache()
	c.Record(BoundingBox{MinX: 0, MaxX: 10, MinY: 0, MaxY: 10}, 0)

	// Shifted box sharing 40% of its area with the recorded one.
	if !c.Satisfied(BoundingBox{MinX: 6, MaxX: 16, MinY: 0, MaxY: 10}, 0) {
		t.Error("40% overlap should satisfy at the 30% threshold")
	}
	// Barely touching: 10% shared.
	if c.Satisfied(BoundingBox{MinX: 9, MaxX: 19, MinY: 0, MaxY: 10}, 0) {
		t.Error("10% overlap should not satisfy")
	}
}

func TestRegionCacheTierDirection(t *testing.T) {
	c, _ := newTestRegionCache()
	box := BoundingBox{MinX: 0, MaxX: 10, MinY: 0, MaxY: 10}

	// A finer-tier load satisfies a coarser request for the same area.
	c.Record(box, 0)
	if !c.Satisfied(box, 2) {
		t.Error("finer-tier entry should satisfy a coarser request")
	}

	// A coarser-tier load never satisfies a finer request.
	c2, _ := newTestRegionCache()
	c2.Record(box, 2)
	if c2.Satisfied(box, 0) {
		t.Error("coarser-tier entry must not satisfy a finer request")
	}
}

func TestRegionCacheHitRatio(t *testing.T) {
	c, _ := newTestRegionCache()
	box := BoundingBox{MinX: 0, MaxX: 10, MinY: 0, MaxY: 10}

	c.Satisfied(box, 0) // miss
	c.Record(box, 0)
	c.Satisfied(box, 0) // hit
	if got := c.HitRatio(); got != 0.5 {
		t.Errorf("hit ratio = %v, want 0.5", got)
	}
}
