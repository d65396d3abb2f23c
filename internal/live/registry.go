package live

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jpgallegoar/SimulationDashboard/internal/adapter/metrics"
	"github.com/jpgallegoar/SimulationDashboard/internal/domain"
)

type entry struct {
	mu      sync.Mutex
	count   int
	removed bool
}

// Registry counts subscribers per topic and drives the Supervisor on the
// 0→1 and 1→0 transitions.
type Registry struct {
	sup     *Supervisor
	metrics *metrics.LiveMetrics

	mu      sync.Mutex
	entries map[domain.Topic]*entry
}

func NewRegistry(sup *Supervisor, m *metrics.LiveMetrics) *Registry {
	return &Registry{
		sup:     sup,
		metrics: m,
		entries: make(map[domain.Topic]*entry),
	}
}

// Subscribe adds one subscriber to the topic and returns the new count. The
// first subscriber starts the topic's poller; a failed start is logged and
// left to Run to retry.
func (r *Registry) Subscribe(topic domain.Topic) int {
	for {
		e := r.lookup(topic, true)

		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}

		e.count++
		count := e.count
		if count == 1 {
			if err := r.sup.EnsureStarted(topic); err != nil {
				slog.Warn("Failed to start poller", "topic", topic, "error", err)
			}
		}
		e.mu.Unlock()

		r.metrics.Subscribers.Inc()
		return count
	}
}

// Unsubscribe removes one subscriber from the topic and returns the new
// count, never going below zero. When the last subscriber leaves it waits,
// bounded by ctx, until the topic's poller has stopped.
func (r *Registry) Unsubscribe(ctx context.Context, topic domain.Topic) int {
	for {
		e := r.lookup(topic, false)
		if e == nil {
			return 0
		}

		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}
		if e.count == 0 {
			e.mu.Unlock()
			return 0
		}

		e.count--
		count := e.count
		var stopped <-chan struct{}
		if count == 0 {
			stopped = r.sup.requestStop(topic)
		}
		e.mu.Unlock()

		r.metrics.Subscribers.Dec()

		if count == 0 {
			if stopped != nil {
				select {
				case <-stopped:
				case <-ctx.Done():
					slog.Warn("Gave up waiting for poller to stop", "topic", topic, "error", ctx.Err())
				}
			}
			r.evict(topic, e)
		}
		return count
	}
}

// Count returns the topic's current subscriber count.
func (r *Registry) Count(topic domain.Topic) int {
	e := r.lookup(topic, false)
	if e == nil {
		return 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return 0
	}
	return e.count
}

// Topics returns the subscriber count of every topic with subscribers.
func (r *Registry) Topics() map[domain.Topic]int {
	out := make(map[domain.Topic]int)
	for topic, e := range r.snapshot() {
		e.mu.Lock()
		if !e.removed && e.count > 0 {
			out[topic] = e.count
		}
		e.mu.Unlock()
	}
	return out
}

// PollerState reports the lifecycle state of the topic's poller.
func (r *Registry) PollerState(topic domain.Topic) State {
	return r.sup.State(topic)
}

// LivePollers returns how many pollers have not reached Stopped.
func (r *Registry) LivePollers() int {
	return r.sup.Live()
}

// Run restarts missing pollers for subscribed topics every RetryInterval
// until ctx is done. This recovers from refused starts and from pollers that
// terminated abnormally.
func (r *Registry) Run(ctx context.Context) error {
	ticker := r.sup.clock.NewTicker(r.sup.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			if n := r.reconcile(); n > 0 {
				slog.Info("Restarted missing pollers", "count", n)
			}
		}
	}
}

func (r *Registry) reconcile() int {
	restarted := 0
	for topic, e := range r.snapshot() {
		e.mu.Lock()
		if !e.removed && e.count > 0 && r.sup.State(topic) == StateStopped {
			if err := r.sup.EnsureStarted(topic); err != nil {
				slog.Debug("Poller restart refused", "topic", topic, "error", err)
			} else {
				restarted++
			}
		}
		e.mu.Unlock()
	}
	return restarted
}

func (r *Registry) lookup(topic domain.Topic, create bool) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[topic]
	if !ok && create {
		e = &entry{}
		r.entries[topic] = e
	}
	return e
}

func (r *Registry) snapshot() map[domain.Topic]*entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[domain.Topic]*entry, len(r.entries))
	for topic, e := range r.entries {
		out[topic] = e
	}
	return out
}

// evict drops the topic's entry if nobody subscribed while its poller was
// stopping. Lock order is entry then registry.
func (r *Registry) evict(topic domain.Topic, e *entry) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.removed || e.count > 0 {
		return
	}
	e.removed = true

	r.mu.Lock()
	if r.entries[topic] == e {
		delete(r.entries, topic)
	}
	r.mu.Unlock()
}
