package live

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jpgallegoar/SimulationDashboard/internal/domain"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CountsAndTransitions(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	assert.Equal(t, 1, h.reg.Subscribe("5"))
	waitState(t, h, "5", StateRunning)

	assert.Equal(t, 2, h.reg.Subscribe("5"))
	assert.Equal(t, 2, h.reg.Count("5"))
	assert.Equal(t, 1, h.sup.Live())
	assert.Equal(t, StateRunning, h.reg.PollerState("5"))
	assert.Equal(t, 1, h.reg.LivePollers())

	assert.Equal(t, 1, h.reg.Unsubscribe(ctx, "5"))
	assert.Equal(t, StateRunning, h.sup.State("5"), "poller keeps running while subscribers remain")

	assert.Equal(t, 0, h.reg.Unsubscribe(ctx, "5"))
	assert.Equal(t, StateStopped, h.sup.State("5"), "last unsubscribe returns only after the poller stopped")
	assert.Equal(t, 0, h.sup.Live())
	assert.Equal(t, 0, h.reg.Count("5"))
	assert.InDelta(t, 0, testutil.ToFloat64(h.metrics.Subscribers), 0)
}

func TestRegistry_UnsubscribeNeverGoesNegative(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	assert.Equal(t, 0, h.reg.Unsubscribe(ctx, "unknown"))

	h.reg.Subscribe("5")
	assert.Equal(t, 0, h.reg.Unsubscribe(ctx, "5"))
	assert.Equal(t, 0, h.reg.Unsubscribe(ctx, "5"))
	assert.Equal(t, 0, h.reg.Count("5"))

	assert.Equal(t, 1, h.reg.Subscribe("5"), "a later subscribe starts from zero")
}

func TestRegistry_TwoSubscribersShareOnePoller(t *testing.T) {
	h := newHarness(t, Config{})
	h.store.set("7", domain.Sample{Offset: 10, Metric: 1.0})

	h.reg.Subscribe("7")
	h.reg.Subscribe("7")
	h.clock.BlockUntil(1)

	h.tick(testInterval, 1)

	assert.Equal(t, 1, h.store.callCount("7"), "one store read per interval")
	assert.Equal(t, []domain.Sample{{Offset: 10, Metric: 1.0}}, h.fanout.samples("7"))
}

func TestRegistry_LeaveBeforeFirstTick(t *testing.T) {
	h := newHarness(t, Config{})
	h.store.set("5", domain.Sample{Offset: 10, Metric: 0.9})

	h.reg.Subscribe("5")
	h.reg.Unsubscribe(context.Background(), "5")
	h.clock.Advance(3 * testInterval)

	assert.Equal(t, 0, h.store.callCount("5"))
	assert.Empty(t, h.fanout.samples("5"))
	assert.Equal(t, StateStopped, h.sup.State("5"))
}

func TestRegistry_ResubscribeStartsWithFreshSnapshot(t *testing.T) {
	h := newHarness(t, Config{})
	h.store.set("5", domain.Sample{Offset: 10, Metric: 0.9})

	h.reg.Subscribe("5")
	h.clock.BlockUntil(1)
	h.tick(testInterval, 1)
	h.reg.Unsubscribe(context.Background(), "5")

	h.reg.Subscribe("5")
	h.clock.BlockUntil(1)
	h.tick(testInterval, 1)

	assert.Equal(t, []domain.Sample{
		{Offset: 10, Metric: 0.9},
		{Offset: 10, Metric: 0.9},
	}, h.fanout.samples("5"))
}

func TestRegistry_ConcurrentJoinLeaveKeepsOnePollerPerTopic(t *testing.T) {
	h := newHarness(t, Config{})
	log := watch(h.sup)
	topics := []domain.Topic{"1", "2", "3"}

	var wg sync.WaitGroup
	for i := range 30 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			topic := topics[i%len(topics)]
			for range 50 {
				h.reg.Subscribe(topic)
				h.reg.Unsubscribe(context.Background(), topic)
			}
		}(i)
	}
	wg.Wait()

	for _, topic := range topics {
		assert.Equal(t, 0, h.reg.Count(topic))
		assert.Equal(t, StateStopped, h.sup.State(topic))
	}
	assert.Equal(t, 0, h.sup.Live())
	assert.False(t, log.violated(), "a topic had more than one non-stopped poller")
	assert.Empty(t, h.reg.Topics())
}

func TestRegistry_ConcurrentSubscribersAllCounted(t *testing.T) {
	h := newHarness(t, Config{})

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.reg.Subscribe("5")
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, h.reg.Count("5"))
	assert.Equal(t, 1, h.sup.Live())
	assert.Equal(t, map[domain.Topic]int{"5": 100}, h.reg.Topics())
}

func TestRegistry_RunRestartsRefusedPoller(t *testing.T) {
	h := newHarness(t, Config{MaxPollers: 1, RetryInterval: time.Minute})
	bg := context.Background()

	h.reg.Subscribe("a")
	h.reg.Subscribe("b")
	assert.Equal(t, StateStopped, h.sup.State("b"), "start refused by the poller limit")
	assert.Equal(t, 1, h.reg.Count("b"))

	h.reg.Unsubscribe(bg, "a")

	ctx, cancel := context.WithCancel(bg)
	done := make(chan error, 1)
	go func() { done <- h.reg.Run(ctx) }()

	h.clock.BlockUntil(1)
	h.clock.Advance(time.Minute)

	waitState(t, h, "b", StateRunning)

	cancel()
	require.NoError(t, <-done)
}

func TestRegistry_ReconcileRecoversCrashedPoller(t *testing.T) {
	h := newHarness(t, Config{})
	h.store.panicNext("5")

	h.reg.Subscribe("5")
	h.clock.BlockUntil(1)
	h.clock.Advance(testInterval)
	waitState(t, h, "5", StateStopped)

	assert.Equal(t, 1, h.reg.reconcile())
	waitState(t, h, "5", StateRunning)
	assert.Equal(t, 0, h.reg.reconcile(), "running pollers are left alone")
}

func TestRegistry_UnsubscribeRespectsContext(t *testing.T) {
	store := newBlockingStore(domain.Sample{Offset: 10, Metric: 0.9})
	h := newHarnessWithStore(t, Config{}, store)

	h.reg.Subscribe("5")
	h.clock.BlockUntil(1)
	h.clock.Advance(testInterval)
	<-store.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Equal(t, 0, h.reg.Unsubscribe(ctx, "5"))
	assert.Equal(t, StateStopping, h.sup.State("5"))

	close(store.release)
	waitState(t, h, "5", StateStopped)
}

func TestRegistry_ManyTopics(t *testing.T) {
	h := newHarness(t, Config{})

	for i := 1; i <= 20; i++ {
		h.reg.Subscribe(domain.TopicFor(int64(i)))
	}
	h.clock.BlockUntil(20)
	assert.Equal(t, 20, h.sup.Live())
	assert.Len(t, h.reg.Topics(), 20)

	for i := 1; i <= 20; i++ {
		topic := domain.Topic(fmt.Sprint(i))
		assert.Equal(t, 0, h.reg.Unsubscribe(context.Background(), topic))
	}
	assert.Equal(t, 0, h.sup.Live())
}

func waitState(t *testing.T, h *harness, topic domain.Topic, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.sup.State(topic) == want
	}, time.Second, 5*time.Millisecond)
}
