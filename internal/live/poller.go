package live

import (
	"context"
	"log/slog"
	"math"

	"github.com/jonboulle/clockwork"
	"github.com/jpgallegoar/SimulationDashboard/internal/adapter/metrics"
	"github.com/jpgallegoar/SimulationDashboard/internal/domain"
	"github.com/jpgallegoar/SimulationDashboard/internal/platform/correlation"
	"github.com/jpgallegoar/SimulationDashboard/internal/platform/retry"
)

// poller samples one topic until its context is cancelled. It is owned by a
// single goroutine and needs no locking.
type poller struct {
	topic   domain.Topic
	cfg     Config
	store   domain.ProgressStore
	fanout  domain.Fanout
	clock   clockwork.Clock
	metrics *metrics.LiveMetrics

	last     *domain.Sample
	failures int

	// offset of the last non-finite sample logged, so a stuck row warns once
	rejectedOffset *int64
}

func newPoller(topic domain.Topic, cfg Config, store domain.ProgressStore, fanout domain.Fanout, clock clockwork.Clock, m *metrics.LiveMetrics) *poller {
	return &poller{
		topic:   topic,
		cfg:     cfg,
		store:   store,
		fanout:  fanout,
		clock:   clock,
		metrics: m,
	}
}

func (p *poller) run(ctx context.Context) {
	slog.Debug("Poller started", "topic", p.topic)
	defer func() {
		p.last = nil
		slog.Debug("Poller stopped", "topic", p.topic)
	}()

	for {
		wait := retry.Backoff(p.cfg.Interval, p.cfg.MaxBackoff, p.failures)
		timer := p.clock.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.Chan():
		}

		p.tick(correlation.WithID(ctx, correlation.NewID()))
	}
}

func (p *poller) tick(ctx context.Context) {
	sample, err := p.query(ctx)

	// Cancellation observed during the query: never broadcast after a stop
	// request.
	if ctx.Err() != nil {
		return
	}

	if err != nil {
		p.failures++
		p.metrics.StoreErrors.Inc()
		slog.WarnContext(ctx, "Progress store read failed",
			"topic", p.topic,
			"consecutive_failures", p.failures,
			"next_wait", retry.Backoff(p.cfg.Interval, p.cfg.MaxBackoff, p.failures),
			"error", err)
		return
	}
	p.failures = 0

	if sample == nil {
		return
	}

	if math.IsNaN(sample.Metric) || math.IsInf(sample.Metric, 0) {
		p.metrics.InvalidSamples.Inc()
		if p.rejectedOffset == nil || *p.rejectedOffset != sample.Offset {
			offset := sample.Offset
			p.rejectedOffset = &offset
			slog.WarnContext(ctx, "Dropping sample with non-finite metric",
				"topic", p.topic, "offset", sample.Offset, "metric", sample.Metric)
		}
		return
	}

	if p.last != nil {
		if *sample == *p.last {
			p.metrics.DuplicateSamples.Inc()
			return
		}
		if sample.Offset < p.last.Offset {
			slog.DebugContext(ctx, "Skipping sample older than last broadcast",
				"topic", p.topic, "offset", sample.Offset, "last_offset", p.last.Offset)
			return
		}
	}

	snapshot := *sample
	p.last = &snapshot

	if err := p.fanout.Broadcast(ctx, p.topic, snapshot); err != nil {
		slog.WarnContext(ctx, "Broadcast failed", "topic", p.topic, "error", err)
		return
	}
	p.metrics.Broadcasts.Inc()
	slog.DebugContext(ctx, "Broadcast sample", "topic", p.topic, "offset", snapshot.Offset, "metric", snapshot.Metric)
}

func (p *poller) query(ctx context.Context) (*domain.Sample, error) {
	queryCtx, cancel := context.WithTimeout(ctx, p.cfg.QueryTimeout)
	defer cancel()

	start := p.clock.Now()
	sample, err := p.store.Latest(queryCtx, p.topic)
	p.metrics.StoreDuration.Observe(p.clock.Since(start).Seconds())
	return sample, err
}
