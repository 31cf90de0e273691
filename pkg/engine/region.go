package engine

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/tidwall/btree"
)

// regionEntry records one completed region load.
type regionEntry struct {
	box        BoundingBox
	tier       int
	recordedAt time.Time
}

// regionCache remembers which (region, tier) pairs were loaded recently,
// so revisiting a viewport inside the TTL skips the fetch cycle entirely.
// Keys quantize the box corners to the tier's cell size, making nearby
// viewports collide onto the same key; overlap scanning catches the rest.
type regionCache struct {
	mu      sync.Mutex
	entries btree.Map[string, regionEntry]
	ttl     time.Duration
	frac    float64
	tiers   []Tier
	now     func() time.Time

	hits, misses uint64
}

func newRegionCache(tiers []Tier, ttl time.Duration, frac float64) *regionCache {
	return &regionCache{ttl: ttl, frac: frac, tiers: tiers, now: time.Now}
}

func (c *regionCache) key(box BoundingBox, tier int) string {
	q := c.tiers[tier].Quantum
	if q <= 0 {
		q = 1
	}
	return fmt.Sprintf("t%02d|%d|%d|%d|%d",
		tier,
		int64(math.Floor(box.MinX/q)), int64(math.Floor(box.MinY/q)),
		int64(math.Ceil(box.MaxX/q)), int64(math.Ceil(box.MaxY/q)))
}

// Satisfied reports whether an unexpired entry at the same or a finer
// tier covers at least the configured fraction of the smaller box's
// area. An exact key match is the trivial case of that rule.
func (c *regionCache) Satisfied(box BoundingBox, tier int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()

	if e, ok := c.entries.Get(c.key(box, tier)); ok && now.Sub(e.recordedAt) < c.ttl {
		c.hits++
		return true
	}

	found := false
	c.entries.Scan(func(_ string, e regionEntry) bool {
		if e.tier > tier || now.Sub(e.recordedAt) >= c.ttl {
			return true
		}
		smaller := math.Min(box.Area(), e.box.Area())
		if smaller > 0 && box.Intersection(e.box)/smaller >= c.frac {
			found = true
			return false
		}
		return true
	})
	if found {
		c.hits++
	} else {
		c.misses++
	}
	return found
}

// Record stores a completed load. Cancelled or failed loads must not be
// recorded; the caller enforces that.
func (c *regionCache) Record(box BoundingBox, tier int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Set(c.key(box, tier), regionEntry{box: box, tier: tier, recordedAt: c.now()})
}

// ExpireStale drops entries older than the TTL.
func (c *regionCache) ExpireStale() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	var stale []string
	c.entries.Scan(func(k string, e regionEntry) bool {
		if now.Sub(e.recordedAt) >= c.ttl {
			stale = append(stale, k)
		}
		return true
	})
	for _, k := range stale {
		c.entries.Delete(k)
	}
}

// Clear empties the cache (used on reset and after importer reloads).
func (c *regionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = btree.Map[string, regionEntry]{}
}

// HitRatio returns hits/(hits+misses), zero before any lookup.
func (c *regionCache) HitRatio() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}

func (c *regionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}
