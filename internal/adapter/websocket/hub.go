// Package websocket implements the broadcast fanout: per-topic rooms of
// websocket connections and the join/leave protocol that drives the
// subscription registry.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/jpgallegoar/SimulationDashboard/internal/adapter/metrics"
	"github.com/jpgallegoar/SimulationDashboard/internal/domain"
)

const (
	cmdBufferSize = 256
	stopTimeout   = 10 * time.Second
)

// ErrHubStopped is returned by hub operations after Stop.
var ErrHubStopped = errors.New("websocket hub stopped")

var _ domain.Fanout = (*Hub)(nil)

// client is one websocket connection as seen by the hub.
type client struct {
	id     string
	writer *clientWriter
}

type room map[*client]struct{}

// hubCmd is the command interface for the Hub actor.
type hubCmd interface{ isHubCmd() }

type baseHubCmd struct{}

func (baseHubCmd) isHubCmd() {}

type registerCmd struct {
	baseHubCmd
	client *client
	reply  chan struct{}
}

type joinCmd struct {
	baseHubCmd
	topic  domain.Topic
	client *client
	reply  chan struct{}
}

type leaveCmd struct {
	baseHubCmd
	topic  domain.Topic
	client *client
	reply  chan struct{}
}

type removeCmd struct {
	baseHubCmd
	client *client
	reply  chan struct{}
}

type publishCmd struct {
	baseHubCmd
	topic domain.Topic
	data  []byte
}

type roomSizeCmd struct {
	baseHubCmd
	topic domain.Topic
	reply chan int
}

type stopCmd struct {
	baseHubCmd
}

// updateMessage is the outbound progress event.
type updateMessage struct {
	Event        string        `json:"event"`
	SimulationID string        `json:"simulation_id"`
	Data         domain.Sample `json:"data"`
}

// Hub owns the topic rooms. All room state lives in a single actor goroutine;
// callers talk to it through commands.
type Hub struct {
	cmdCh       chan hubCmd
	clock       clockwork.Clock
	rooms       map[domain.Topic]room
	memberships map[*client]map[domain.Topic]struct{}
	metrics     *metrics.WebSocketMetrics
	done        chan struct{}
	stopTimeout time.Duration
}

// NewHub starts the hub actor. m may be nil.
func NewHub(clock clockwork.Clock, m *metrics.WebSocketMetrics) *Hub {
	h := &Hub{
		cmdCh:       make(chan hubCmd, cmdBufferSize),
		clock:       clock,
		rooms:       make(map[domain.Topic]room),
		memberships: make(map[*client]map[domain.Topic]struct{}),
		metrics:     m,
		done:        make(chan struct{}),
		stopTimeout: stopTimeout,
	}
	go h.run()
	return h
}

// Broadcast queues sample for every connection in the topic's room. Delivery
// is best effort; clients whose buffer is full are disconnected.
func (h *Hub) Broadcast(ctx context.Context, topic domain.Topic, sample domain.Sample) error {
	data, err := json.Marshal(updateMessage{Event: "update", SimulationID: string(topic), Data: sample})
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}

	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}

	select {
	case h.cmdCh <- publishCmd{topic: topic, data: data}:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// register tracks a new connection so Stop can close it even before it joins
// any room.
func (h *Hub) register(c *client) error {
	reply := make(chan struct{})
	return h.call(registerCmd{client: c, reply: reply}, reply)
}

func (h *Hub) join(topic domain.Topic, c *client) error {
	reply := make(chan struct{})
	return h.call(joinCmd{topic: topic, client: c, reply: reply}, reply)
}

func (h *Hub) leave(topic domain.Topic, c *client) error {
	reply := make(chan struct{})
	return h.call(leaveCmd{topic: topic, client: c, reply: reply}, reply)
}

// remove drops the client from every room it is in.
func (h *Hub) remove(c *client) error {
	reply := make(chan struct{})
	return h.call(removeCmd{client: c, reply: reply}, reply)
}

func (h *Hub) call(cmd hubCmd, reply chan struct{}) error {
	select {
	case h.cmdCh <- cmd:
	case <-h.done:
		return ErrHubStopped
	}
	select {
	case <-reply:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

// RoomSize returns the number of connections in a topic's room, or -1 once
// the hub has stopped.
func (h *Hub) RoomSize(topic domain.Topic) int {
	reply := make(chan int, 1)
	select {
	case h.cmdCh <- roomSizeCmd{topic: topic, reply: reply}:
	case <-h.done:
		return -1
	}
	select {
	case n := <-reply:
		return n
	case <-h.done:
		return -1
	}
}

// Stop closes every connection with a close frame and stops the actor.
// Readers see their connection end and leave their topics.
func (h *Hub) Stop() {
	select {
	case h.cmdCh <- stopCmd{}:
	case <-h.done:
		return
	}

	timeout := h.clock.NewTimer(h.stopTimeout)
	defer timeout.Stop()

	select {
	case <-h.done:
		slog.Info("WebSocket hub stopped gracefully")
	case <-timeout.Chan():
		slog.Warn("WebSocket hub stop timeout exceeded", "timeout", h.stopTimeout)
	}
}

func (h *Hub) run() {
	defer close(h.done)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("WebSocket hub panic recovered", "panic", r)
			h.closeAllClients("hub failure")
		}
	}()

	for cmd := range h.cmdCh {
		switch c := cmd.(type) {
		case registerCmd:
			if _, ok := h.memberships[c.client]; !ok {
				h.memberships[c.client] = make(map[domain.Topic]struct{})
			}
			close(c.reply)
		case joinCmd:
			h.handleJoin(c)
		case leaveCmd:
			h.handleLeave(c)
		case removeCmd:
			h.removeClient(c.client)
			close(c.reply)
		case publishCmd:
			h.handlePublish(c)
		case roomSizeCmd:
			c.reply <- len(h.rooms[c.topic])
		case stopCmd:
			h.handleStop()
			return
		default:
			slog.Warn("Hub received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
		}
	}
}

func (h *Hub) handleJoin(c joinCmd) {
	defer close(c.reply)

	r, ok := h.rooms[c.topic]
	if !ok {
		r = make(room)
		h.rooms[c.topic] = r
	}
	r[c.client] = struct{}{}

	topics, ok := h.memberships[c.client]
	if !ok {
		topics = make(map[domain.Topic]struct{})
		h.memberships[c.client] = topics
	}
	topics[c.topic] = struct{}{}

	slog.Debug("Client joined room", "topic", string(c.topic), "client_id", c.client.id, "room_size", len(r))
}

func (h *Hub) handleLeave(c leaveCmd) {
	defer close(c.reply)
	h.leaveRoom(c.topic, c.client)
}

func (h *Hub) leaveRoom(topic domain.Topic, c *client) {
	if r, ok := h.rooms[topic]; ok {
		delete(r, c)
		if len(r) == 0 {
			delete(h.rooms, topic)
		}
	}
	delete(h.memberships[c], topic)
}

func (h *Hub) removeClient(c *client) {
	for topic := range h.memberships[c] {
		if r, ok := h.rooms[topic]; ok {
			delete(r, c)
			if len(r) == 0 {
				delete(h.rooms, topic)
			}
		}
	}
	delete(h.memberships, c)
}

func (h *Hub) handlePublish(c publishCmd) {
	var slow []*client
	for cl := range h.rooms[c.topic] {
		if cl.writer.trySend(c.data) {
			if h.metrics != nil {
				h.metrics.MessagesPublished.Inc()
			}
			continue
		}
		slow = append(slow, cl)
	}

	// Closing the connection ends its read loop, which leaves every topic
	// the client had joined.
	for _, cl := range slow {
		slog.Warn("Disconnecting slow client", "topic", string(c.topic), "client_id", cl.id)
		if h.metrics != nil {
			h.metrics.SlowClientEvictions.Inc()
		}
		h.removeClient(cl)
		cl.writer.stop()
	}
}

func (h *Hub) handleStop() {
	slog.Info("WebSocket hub shutting down", "rooms", len(h.rooms), "clients", len(h.memberships))
	h.closeAllClients("Server shutting down")
}

func (h *Hub) closeAllClients(reason string) {
	for c := range h.memberships {
		c.writer.stopGraceful(reason)
	}
	h.rooms = make(map[domain.Topic]room)
	h.memberships = make(map[*client]map[domain.Topic]struct{})
}
