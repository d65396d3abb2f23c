package live

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/jpgallegoar/SimulationDashboard/internal/adapter/metrics"
	"github.com/jpgallegoar/SimulationDashboard/internal/domain"
)

type slot struct {
	state   State
	cancel  context.CancelFunc
	done    chan struct{}
	restart bool
}

// Supervisor runs at most one poller per topic. Its critical sections never
// block, so a single mutex guards every slot; per-topic ordering comes from
// the Registry, which calls in while holding the topic's lock.
type Supervisor struct {
	cfg     Config
	store   domain.ProgressStore
	fanout  domain.Fanout
	clock   clockwork.Clock
	metrics *metrics.LiveMetrics

	mu      sync.Mutex
	slots   map[domain.Topic]*slot
	live    int
	closed  bool
	observe func(domain.Topic, State)

	wg sync.WaitGroup
}

func NewSupervisor(cfg Config, store domain.ProgressStore, fanout domain.Fanout, clock clockwork.Clock, m *metrics.LiveMetrics) *Supervisor {
	return &Supervisor{
		cfg:     cfg.withDefaults(),
		store:   store,
		fanout:  fanout,
		clock:   clock,
		metrics: m,
		slots:   make(map[domain.Topic]*slot),
	}
}

// EnsureStarted starts the topic's poller unless one is already starting or
// running. When the current poller is still stopping, the start is queued
// and happens right after it has stopped.
func (s *Supervisor) EnsureStarted(topic domain.Topic) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSupervisorClosed
	}

	if sl, ok := s.slots[topic]; ok {
		if sl.state.active() {
			return nil
		}
		if sl.state == StateStopping {
			sl.restart = true
			return nil
		}
	}

	return s.launchLocked(topic)
}

// EnsureStopped stops the topic's poller and waits until it has stopped or
// ctx is done. A queued restart is discarded. Stopping a topic without a
// poller is a no-op.
func (s *Supervisor) EnsureStopped(ctx context.Context, topic domain.Topic) error {
	done := s.requestStop(topic)
	if done == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for poller %s to stop: %w", topic, ctx.Err())
	}
}

// requestStop cancels the topic's poller without waiting. It returns the
// channel closed when that poller reaches Stopped, or nil if there is none.
func (s *Supervisor) requestStop(topic domain.Topic) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.slots[topic]
	if !ok {
		return nil
	}

	sl.restart = false
	if sl.state.active() {
		s.transitionLocked(topic, sl, StateStopping)
		sl.cancel()
	}
	return sl.done
}

// State reports the lifecycle state of the topic's poller.
func (s *Supervisor) State(topic domain.Topic) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sl, ok := s.slots[topic]; ok {
		return sl.state
	}
	return StateStopped
}

// Live returns the number of pollers that have not yet stopped.
func (s *Supervisor) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// Shutdown stops every poller, refuses further starts, and waits until all
// pollers have stopped or ctx is done.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for topic, sl := range s.slots {
		sl.restart = false
		if sl.state.active() {
			s.transitionLocked(topic, sl, StateStopping)
			sl.cancel()
		}
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Supervisor stopped all pollers")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for pollers to stop: %w", ctx.Err())
	}
}

func (s *Supervisor) launchLocked(topic domain.Topic) error {
	if s.cfg.MaxPollers > 0 && s.live >= s.cfg.MaxPollers {
		s.metrics.StartFailures.Inc()
		return fmt.Errorf("start poller for topic %s: %w", topic, ErrPollerLimit)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sl := &slot{cancel: cancel, done: make(chan struct{})}
	s.slots[topic] = sl
	s.live++
	s.metrics.ActivePollers.Set(float64(s.live))
	s.metrics.PollerStarts.Inc()
	s.transitionLocked(topic, sl, StateStarting)

	p := newPoller(topic, s.cfg, s.store, s.fanout, s.clock, s.metrics)

	s.wg.Add(1)
	go s.run(ctx, topic, sl, p)
	return nil
}

func (s *Supervisor) run(ctx context.Context, topic domain.Topic, sl *slot, p *poller) {
	defer s.wg.Done()
	defer s.finish(topic, sl)
	defer func() {
		if r := recover(); r != nil {
			s.metrics.PollerPanics.Inc()
			slog.Error("Poller panicked", "topic", topic, "panic", r)
		}
	}()

	s.mu.Lock()
	if sl.state == StateStarting {
		s.transitionLocked(topic, sl, StateRunning)
	}
	s.mu.Unlock()

	p.run(ctx)
}

// finish marks the slot stopped, then either launches the queued restart or
// evicts the slot.
func (s *Supervisor) finish(topic domain.Topic, sl *slot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl.cancel()
	s.transitionLocked(topic, sl, StateStopped)
	close(sl.done)
	s.live--
	s.metrics.ActivePollers.Set(float64(s.live))

	if s.slots[topic] != sl {
		return
	}
	delete(s.slots, topic)

	if sl.restart && !s.closed {
		if err := s.launchLocked(topic); err != nil {
			slog.Warn("Queued poller restart failed", "topic", topic, "error", err)
		}
	}
}

func (s *Supervisor) transitionLocked(topic domain.Topic, sl *slot, to State) {
	sl.state = to
	slog.Debug("Poller state changed", "topic", topic, "state", to)
	if s.observe != nil {
		s.observe(topic, to)
	}
}
