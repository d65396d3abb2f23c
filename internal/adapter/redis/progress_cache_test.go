package redis

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/jpgallegoar/SimulationDashboard/internal/adapter/metrics"
	"github.com/jpgallegoar/SimulationDashboard/internal/domain"
	"github.com/prometheus/client_golang/prometheus/testutil"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockProgressStore implements domain.ProgressStore for tests.
type mockProgressStore struct {
	calls    atomic.Int32
	latestFn func(ctx context.Context, topic domain.Topic) (*domain.Sample, error)
}

func (m *mockProgressStore) Latest(ctx context.Context, topic domain.Topic) (*domain.Sample, error) {
	m.calls.Add(1)
	if m.latestFn != nil {
		return m.latestFn(ctx, topic)
	}
	return nil, nil
}

// unreachableClient points at a closed port so every command fails quickly.
func unreachableClient(t *testing.T) *goredis.Client {
	t.Helper()
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 200 * time.Millisecond,
	})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// --- In-memory layer (no Redis needed) ---

func TestMemoryCache_Miss(t *testing.T) {
	cache := newMemoryCache(time.Second, clockwork.NewFakeClock())

	_, hit := cache.get("1")
	assert.False(t, hit)
}

func TestMemoryCache_HitReturnsCopy(t *testing.T) {
	cache := newMemoryCache(time.Second, clockwork.NewFakeClock())
	cache.set("1", &domain.Sample{Offset: 10, Metric: 0.9})

	got, hit := cache.get("1")
	require.True(t, hit)
	assert.Equal(t, domain.Sample{Offset: 10, Metric: 0.9}, *got)

	got.Offset = 99
	again, _ := cache.get("1")
	assert.Equal(t, int64(10), again.Offset)
}

func TestMemoryCache_CachesAbsence(t *testing.T) {
	cache := newMemoryCache(time.Second, clockwork.NewFakeClock())
	cache.set("1", nil)

	got, hit := cache.get("1")
	assert.True(t, hit)
	assert.Nil(t, got)
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cache := newMemoryCache(10*time.Second, clock)
	cache.set("1", &domain.Sample{Offset: 10})

	clock.Advance(9 * time.Second)
	_, hit := cache.get("1")
	assert.True(t, hit)

	clock.Advance(time.Second)
	_, hit = cache.get("1")
	assert.False(t, hit)
}

func TestMemoryCache_EvictExpired(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cache := newMemoryCache(10*time.Second, clock)
	cache.set("1", &domain.Sample{Offset: 10})
	clock.Advance(5 * time.Second)
	cache.set("2", &domain.Sample{Offset: 20})

	clock.Advance(6 * time.Second)
	assert.Equal(t, 1, cache.evictExpired())
	assert.Equal(t, 1, cache.size())

	_, hit := cache.get("2")
	assert.True(t, hit)
}

func TestMemoryCache_SetIfCurrentRejectsAfterInvalidate(t *testing.T) {
	cache := newMemoryCache(time.Minute, clockwork.NewFakeClock())

	gen := cache.generation("3")
	cache.invalidate("3")

	assert.False(t, cache.setIfCurrent("3", &domain.Sample{Offset: 10}, gen))
	_, hit := cache.get("3")
	assert.False(t, hit)

	assert.True(t, cache.setIfCurrent("3", &domain.Sample{Offset: 20}, cache.generation("3")))
	got, hit := cache.get("3")
	require.True(t, hit)
	assert.Equal(t, int64(20), got.Offset)
}

func TestMemoryCache_InvalidateIsPerTopic(t *testing.T) {
	cache := newMemoryCache(time.Minute, clockwork.NewFakeClock())

	gen := cache.generation("1")
	cache.invalidate("2")

	assert.True(t, cache.setIfCurrent("1", &domain.Sample{Offset: 10}, gen))
}

func TestMemoryCache_ConcurrentAccess(t *testing.T) {
	cache := newMemoryCache(time.Minute, clockwork.NewFakeClock())

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			topic := domain.TopicFor(int64(i%5 + 1))
			cache.set(topic, &domain.Sample{Offset: int64(i)})
			cache.get(topic)
			if i%10 == 0 {
				cache.invalidate(topic)
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, cache.size(), 5)
}

func TestProgressCache_MemoryHitSkipsRedisAndStore(t *testing.T) {
	store := &mockProgressStore{}
	m := metrics.NewCacheMetrics(metrics.NewRegistry())
	cache := NewProgressCache(unreachableClient(t), store, time.Second, clockwork.NewFakeClock(), m)
	cache.mem.set("7", &domain.Sample{Offset: 30, Metric: 0.5})

	got, err := cache.Latest(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, &domain.Sample{Offset: 30, Metric: 0.5}, got)
	assert.Zero(t, store.calls.Load())
	assert.InDelta(t, 1, testutil.ToFloat64(m.Hits), 0)
}

func TestProgressCache_FallsBackToStoreWhenRedisFails(t *testing.T) {
	store := &mockProgressStore{latestFn: func(context.Context, domain.Topic) (*domain.Sample, error) {
		return &domain.Sample{Offset: 10, Metric: 0.9}, nil
	}}
	m := metrics.NewCacheMetrics(metrics.NewRegistry())
	cache := NewProgressCache(unreachableClient(t), store, time.Second, clockwork.NewFakeClock(), m)

	got, err := cache.Latest(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, &domain.Sample{Offset: 10, Metric: 0.9}, got)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Fallbacks), 0)

	// Fallback reads are not cached in-process.
	_, hit := cache.mem.get("1")
	assert.False(t, hit)
}

func TestProgressCache_FallbackPropagatesStoreError(t *testing.T) {
	storeErr := errors.New("db down")
	store := &mockProgressStore{latestFn: func(context.Context, domain.Topic) (*domain.Sample, error) {
		return nil, storeErr
	}}
	cache := NewProgressCache(unreachableClient(t), store, time.Second, clockwork.NewFakeClock(), nil)

	_, err := cache.Latest(context.Background(), "1")
	assert.ErrorIs(t, err, storeErr)
}

func TestProgressCache_EvictionTimer(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cache := NewProgressCache(unreachableClient(t), &mockProgressStore{}, time.Second, clock, nil)
	cache.mem.set("1", &domain.Sample{Offset: 10})

	stop := cache.StartEvictionTimer(5 * time.Second)
	defer stop()

	clock.BlockUntil(1)
	clock.Advance(5 * time.Second)

	assert.Eventually(t, func() bool { return cache.mem.size() == 0 }, time.Second, 10*time.Millisecond)
	stop()
}

func TestInvalidationSubscriber_HandleInvalidation(t *testing.T) {
	cache := NewProgressCache(unreachableClient(t), &mockProgressStore{}, time.Minute, clockwork.NewFakeClock(), nil)
	sub := NewInvalidationSubscriber(unreachableClient(t), cache)
	cache.mem.set("3", &domain.Sample{Offset: 10})

	sub.handleInvalidation("3")

	_, hit := cache.mem.get("3")
	assert.False(t, hit)
}

func TestInvalidationSubscriber_IgnoresMalformedPayload(t *testing.T) {
	cache := NewProgressCache(unreachableClient(t), &mockProgressStore{}, time.Minute, clockwork.NewFakeClock(), nil)
	sub := NewInvalidationSubscriber(unreachableClient(t), cache)
	cache.mem.set("3", &domain.Sample{Offset: 10})

	sub.handleInvalidation("")
	sub.handleInvalidation("not-a-number")

	_, hit := cache.mem.get("3")
	assert.True(t, hit)
}
