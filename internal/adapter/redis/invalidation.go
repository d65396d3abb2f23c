package redis

import (
	"context"
	"log/slog"

	"github.com/jpgallegoar/SimulationDashboard/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const progressInvalidationChannel = "progress:invalidate"

// InvalidationSubscriber drops in-process cache entries when another process
// (typically the populate worker) announces a new sample for a topic.
type InvalidationSubscriber struct {
	rdb   *goredis.Client
	cache *ProgressCache
}

func NewInvalidationSubscriber(rdb *goredis.Client, cache *ProgressCache) *InvalidationSubscriber {
	return &InvalidationSubscriber{rdb: rdb, cache: cache}
}

// Start blocks until ctx is cancelled or the subscription closes.
func (s *InvalidationSubscriber) Start(ctx context.Context) {
	pubsub := s.rdb.Subscribe(ctx, progressInvalidationChannel)
	defer func() { _ = pubsub.Close() }()

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.handleInvalidation(msg.Payload)
		case <-ctx.Done():
			return
		}
	}
}

func (s *InvalidationSubscriber) handleInvalidation(payload string) {
	topic, err := domain.ParseTopic(payload)
	if err != nil {
		slog.Warn("Ignoring malformed progress invalidation", "payload", payload)
		return
	}
	s.cache.mem.invalidate(topic)
	slog.Debug("Progress cache invalidated via pub/sub", "topic", string(topic))
}
