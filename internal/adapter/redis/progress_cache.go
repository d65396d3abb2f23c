package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/jpgallegoar/SimulationDashboard/internal/adapter/metrics"
	"github.com/jpgallegoar/SimulationDashboard/internal/domain"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

var _ domain.ProgressStore = (*ProgressCache)(nil)

// ProgressCache is a read-through cache in front of a ProgressStore. Lookups
// go to an in-process layer, then Redis, then the backing store. When Redis
// fails the backing store answers directly.
type ProgressCache struct {
	rdb   goredis.Cmdable
	store domain.ProgressStore
	ttl   time.Duration
	mem   *memoryCache
	group singleflight.Group
	m     *metrics.CacheMetrics
}

// NewProgressCache wraps store. Entries live for ttl in both layers. m may be nil.
func NewProgressCache(rdb goredis.Cmdable, store domain.ProgressStore, ttl time.Duration, clock clockwork.Clock, m *metrics.CacheMetrics) *ProgressCache {
	return &ProgressCache{
		rdb:   rdb,
		store: store,
		ttl:   ttl,
		mem:   newMemoryCache(ttl, clock),
		m:     m,
	}
}

// Latest returns the newest sample of a topic. Concurrent misses for the same
// topic share one load.
func (c *ProgressCache) Latest(ctx context.Context, topic domain.Topic) (*domain.Sample, error) {
	if sample, ok := c.mem.get(topic); ok {
		c.hit()
		return sample, nil
	}

	v, err, _ := c.group.Do(string(topic), func() (any, error) {
		return c.load(ctx, topic)
	})
	if err != nil {
		return nil, err
	}
	sample, _ := v.(*domain.Sample)
	return copySample(sample), nil
}

// load fills both layers only if no invalidation for the topic arrived while
// it was reading, so a sample read before a write never lands after it.
func (c *ProgressCache) load(ctx context.Context, topic domain.Topic) (*domain.Sample, error) {
	gen := c.mem.generation(topic)

	sample, ok, err := c.getCached(ctx, topic)
	if err != nil {
		if c.m != nil {
			c.m.Fallbacks.Inc()
		}
		slog.Warn("Redis progress cache GET failed, reading store", "topic", string(topic), "error", err)
		return c.store.Latest(ctx, topic)
	}
	if ok {
		c.hit()
		c.mem.setIfCurrent(topic, sample, gen)
		return sample, nil
	}

	if c.m != nil {
		c.m.Misses.Inc()
	}
	sample, err = c.store.Latest(ctx, topic)
	if err != nil {
		return nil, err
	}
	if c.mem.setIfCurrent(topic, sample, gen) {
		c.writeCache(ctx, topic, sample)
	} else {
		slog.Debug("Progress cache invalidated during load, not caching", "topic", string(topic))
	}
	return sample, nil
}

// Invalidate evicts a topic from both layers and tells other instances to drop
// their in-process copy.
func (c *ProgressCache) Invalidate(ctx context.Context, topic domain.Topic) error {
	c.mem.invalidate(topic)
	if c.m != nil {
		c.m.Invalidations.Inc()
	}

	if err := c.rdb.Del(ctx, progressCacheKey(topic)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate progress cache: %w", err)
	}
	if err := c.rdb.Publish(ctx, progressInvalidationChannel, string(topic)).Err(); err != nil {
		return fmt.Errorf("failed to publish progress invalidation: %w", err)
	}
	return nil
}

// StartEvictionTimer periodically drops expired in-process entries. The
// returned function stops it.
func (c *ProgressCache) StartEvictionTimer(interval time.Duration) func() {
	ticker := c.mem.clock.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				if evicted := c.mem.evictExpired(); evicted > 0 {
					slog.Debug("Evicted expired progress cache entries", "count", evicted, "remaining", c.mem.size())
				}
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

func (c *ProgressCache) hit() {
	if c.m != nil {
		c.m.Hits.Inc()
	}
}

// getCached reports ok=false on a plain miss and an error only when Redis
// itself failed. A cached "null" means the topic had no samples.
func (c *ProgressCache) getCached(ctx context.Context, topic domain.Topic) (*domain.Sample, bool, error) {
	data, err := c.rdb.Get(ctx, progressCacheKey(topic)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var sample *domain.Sample
	if err := json.Unmarshal(data, &sample); err != nil {
		slog.Warn("Failed to unmarshal cached sample", "topic", string(topic), "error", err)
		return nil, false, nil
	}
	return sample, true, nil
}

func (c *ProgressCache) writeCache(ctx context.Context, topic domain.Topic, sample *domain.Sample) {
	encoded, err := json.Marshal(sample)
	if err != nil {
		slog.Warn("Failed to marshal sample for Redis cache", "topic", string(topic), "error", err)
		return
	}
	if err := c.rdb.Set(ctx, progressCacheKey(topic), encoded, c.ttl).Err(); err != nil {
		slog.Warn("Failed to populate Redis progress cache", "topic", string(topic), "error", err)
	}
}

func progressCacheKey(topic domain.Topic) string {
	return "progress:latest:" + string(topic)
}

func copySample(s *domain.Sample) *domain.Sample {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

// memoryCache is the in-process layer with TTL-based expiry. gens counts
// invalidations per topic; entries are bounded by the number of simulations.
type memoryCache struct {
	mu      sync.RWMutex
	entries map[domain.Topic]memoryCacheEntry
	gens    map[domain.Topic]uint64
	ttl     time.Duration
	clock   clockwork.Clock
}

type memoryCacheEntry struct {
	sample    *domain.Sample
	expiresAt time.Time
}

func newMemoryCache(ttl time.Duration, clock clockwork.Clock) *memoryCache {
	return &memoryCache{
		entries: make(map[domain.Topic]memoryCacheEntry),
		gens:    make(map[domain.Topic]uint64),
		ttl:     ttl,
		clock:   clock,
	}
}

func (c *memoryCache) get(topic domain.Topic) (*domain.Sample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[topic]
	if !ok || !c.clock.Now().Before(entry.expiresAt) {
		return nil, false
	}
	return copySample(entry.sample), true
}

func (c *memoryCache) set(topic domain.Topic, sample *domain.Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(topic, sample)
}

// setIfCurrent stores sample unless topic was invalidated since gen was read.
func (c *memoryCache) setIfCurrent(topic domain.Topic, sample *domain.Sample, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gens[topic] != gen {
		return false
	}
	c.setLocked(topic, sample)
	return true
}

func (c *memoryCache) setLocked(topic domain.Topic, sample *domain.Sample) {
	c.entries[topic] = memoryCacheEntry{
		sample:    copySample(sample),
		expiresAt: c.clock.Now().Add(c.ttl),
	}
}

func (c *memoryCache) generation(topic domain.Topic) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gens[topic]
}

func (c *memoryCache) invalidate(topic domain.Topic) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, topic)
	c.gens[topic]++
}

func (c *memoryCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *memoryCache) evictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	evicted := 0
	for topic, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, topic)
			evicted++
		}
	}
	return evicted
}
