package domain

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Topic identifies a live-update stream. Topics are compared by value; the
// websocket layer only accepts topics naming a simulation ID.
type Topic string

// ParseTopic validates a client-supplied simulation ID.
func ParseTopic(raw string) (Topic, error) {
	raw = strings.TrimSpace(raw)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidTopic, raw)
	}
	return TopicFor(id), nil
}

// TopicFor returns the topic carrying a simulation's progress.
func TopicFor(simulationID int64) Topic {
	return Topic(strconv.FormatInt(simulationID, 10))
}

// SimulationID returns the simulation ID named by the topic.
func (t Topic) SimulationID() (int64, error) {
	id, err := strconv.ParseInt(string(t), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTopic, string(t))
	}
	return id, nil
}

// Sample is one progress record: the elapsed offset in seconds and the loss
// measured at that offset. Two samples are equal only if both fields are.
type Sample struct {
	Offset int64   `json:"seconds"`
	Metric float64 `json:"loss"`
}

// ProgressStore returns the sample with the greatest offset for a topic, or
// nil when the topic has no samples yet.
type ProgressStore interface {
	Latest(ctx context.Context, topic Topic) (*Sample, error)
}

// Fanout delivers a sample to every current subscriber of a topic. Delivery
// is best effort and at most once per call.
type Fanout interface {
	Broadcast(ctx context.Context, topic Topic, sample Sample) error
}

// ProgressWriter is a ProgressStore that also keeps the full history of
// samples and accepts new ones.
type ProgressWriter interface {
	ProgressStore
	// History returns every sample of the simulation ordered by offset.
	History(ctx context.Context, simulationID int64) ([]Sample, error)
	Append(ctx context.Context, simulationID int64, sample Sample) error
	// Purge drops every sample of the simulation.
	Purge(ctx context.Context, simulationID int64) error
}
