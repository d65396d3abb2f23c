package app

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/jpgallegoar/SimulationDashboard/internal/domain"
	"github.com/jpgallegoar/SimulationDashboard/internal/platform/correlation"
)

const (
	// SampleStep is the offset distance between consecutive synthesized samples.
	SampleStep   = 10
	initialLoss  = 1.0
	lossDecay    = 0.05
	decayFactor  = 0.9
	noiseSpread  = 0.005
	lossDecimals = 1000
)

// CacheInvalidator drops cached latest samples after a write.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, topic domain.Topic) error
}

// Synthesizer appends a new convergence sample to every running simulation
// on a fixed interval. It stands in for the real training jobs.
type Synthesizer struct {
	sims     domain.SimulationRepository
	progress domain.ProgressWriter
	cache    CacheInvalidator
	clock    clockwork.Clock
	interval time.Duration
	noise    func() float64
}

// NewSynthesizer creates a synthesizer. cache may be nil.
func NewSynthesizer(sims domain.SimulationRepository, progress domain.ProgressWriter, cache CacheInvalidator, clock clockwork.Clock, interval time.Duration) *Synthesizer {
	return &Synthesizer{
		sims:     sims,
		progress: progress,
		cache:    cache,
		clock:    clock,
		interval: interval,
		noise:    func() float64 { return (rand.Float64()*2 - 1) * noiseSpread },
	}
}

// Run steps once per interval until ctx is cancelled. Step failures are
// logged and retried on the next tick.
func (s *Synthesizer) Run(ctx context.Context) error {
	slog.InfoContext(ctx, "Synthesizer started", "interval", s.interval)

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Synthesizer stopped")
			return nil
		case <-ticker.Chan():
			stepCtx := correlation.WithID(ctx, correlation.NewID())
			n, err := s.Step(stepCtx)
			if err != nil {
				slog.ErrorContext(stepCtx, "Synthesizer step failed", "error", err)
				continue
			}
			slog.DebugContext(stepCtx, "Synthesizer step completed", "advanced", n)
		}
	}
}

// Step advances every running simulation by one sample and returns how many
// simulations advanced.
func (s *Synthesizer) Step(ctx context.Context) (int, error) {
	ids, err := s.sims.Running(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list running simulations: %w", err)
	}

	advanced := 0
	for _, id := range ids {
		if err := s.advance(ctx, id); err != nil {
			slog.WarnContext(ctx, "Failed to advance simulation", "simulation_id", id, "error", err)
			continue
		}
		advanced++
	}
	return advanced, nil
}

func (s *Synthesizer) advance(ctx context.Context, id int64) error {
	topic := domain.TopicFor(id)

	last, err := s.progress.Latest(ctx, topic)
	if err != nil {
		return fmt.Errorf("read latest sample: %w", err)
	}

	next := NextSample(last, s.noise())
	if err := s.progress.Append(ctx, id, next); err != nil {
		return fmt.Errorf("append sample: %w", err)
	}
	if err := s.sims.RecordProgress(ctx, id, next); err != nil {
		return fmt.Errorf("record progress: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, topic); err != nil {
			slog.WarnContext(ctx, "Failed to invalidate cached progress", "simulation_id", id, "error", err)
		}
	}
	return nil
}

// NextSample derives the sample following last. The first sample sits at
// SampleStep with a loss of 1.0; each later one decays geometrically with
// the epoch count, plus noise, and never drops below zero.
func NextSample(last *domain.Sample, noise float64) domain.Sample {
	if last == nil {
		return domain.Sample{Offset: SampleStep, Metric: initialLoss}
	}

	epochs := float64(last.Offset / SampleStep)
	loss := last.Metric - lossDecay*math.Pow(decayFactor, epochs) + noise
	loss = math.Max(0, loss)
	loss = math.Round(loss*lossDecimals) / lossDecimals

	return domain.Sample{Offset: last.Offset + SampleStep, Metric: loss}
}
