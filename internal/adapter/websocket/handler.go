package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/jpgallegoar/SimulationDashboard/internal/adapter/metrics"
	"github.com/jpgallegoar/SimulationDashboard/internal/domain"
	"golang.org/x/time/rate"
)

const (
	maxMessageSize     = 512
	unsubscribeTimeout = 5 * time.Second

	defaultMaxTopicsPerConnection = 32
	defaultEventRate              = rate.Limit(5)
	defaultEventBurst             = 10
)

// Subscriptions is the subscriber bookkeeping behind the rooms.
type Subscriptions interface {
	Subscribe(topic domain.Topic) int
	Unsubscribe(ctx context.Context, topic domain.Topic) int
}

// HandlerConfig bounds what a single connection and the whole server accept.
type HandlerConfig struct {
	CheckOrigin            func(r *http.Request) bool
	MaxConnections         int
	MaxTopicsPerConnection int
	EventRate              rate.Limit
	EventBurst             int
}

// Handler upgrades HTTP requests to websocket connections and runs the
// join/leave protocol for each of them.
type Handler struct {
	hub      *Hub
	subs     Subscriptions
	cfg      HandlerConfig
	upgrader websocket.Upgrader
	clock    clockwork.Clock
	metrics  *metrics.WebSocketMetrics
	conns    atomic.Int64
}

// NewHandler builds the websocket endpoint. m may be nil.
func NewHandler(hub *Hub, subs Subscriptions, cfg HandlerConfig, clock clockwork.Clock, m *metrics.WebSocketMetrics) *Handler {
	if cfg.MaxTopicsPerConnection <= 0 {
		cfg.MaxTopicsPerConnection = defaultMaxTopicsPerConnection
	}
	if cfg.EventRate <= 0 {
		cfg.EventRate = defaultEventRate
	}
	if cfg.EventBurst <= 0 {
		cfg.EventBurst = defaultEventBurst
	}

	return &Handler{
		hub:  hub,
		subs: subs,
		cfg:  cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
		clock:   clock,
		metrics: m,
	}
}

// Connections returns the number of open connections.
func (h *Handler) Connections() int {
	return int(h.conns.Load())
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := h.conns.Add(1)
	defer h.conns.Add(-1)
	if limit := h.cfg.MaxConnections; limit > 0 && n > int64(limit) {
		slog.Warn("Rejecting websocket connection: limit reached", "max_connections", limit, "remote_addr", r.RemoteAddr)
		if h.metrics != nil {
			h.metrics.RejectedConnections.Inc()
		}
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written an error response.
		slog.Debug("WebSocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	if h.metrics != nil {
		h.metrics.ActiveConnections.Inc()
		defer h.metrics.ActiveConnections.Dec()
	}

	conn.SetReadLimit(maxMessageSize)
	c := &client{id: uuid.NewString(), writer: newClientWriter(conn, h.clock)}
	s := &session{
		handler: h,
		client:  c,
		topics:  make(map[domain.Topic]struct{}),
		limiter: rate.NewLimiter(h.cfg.EventRate, h.cfg.EventBurst),
	}

	slog.Debug("WebSocket client connected", "client_id", c.id, "remote_addr", r.RemoteAddr)
	if err := h.hub.register(c); err != nil {
		c.writer.stopGraceful("Server shutting down")
		return
	}

	s.readLoop(conn)
	s.close()
}

// session is the per-connection protocol state. It is only touched by the
// connection's read goroutine, which makes it the single owner of the
// join/leave to subscribe/unsubscribe pairing.
type session struct {
	handler *Handler
	client  *client
	topics  map[domain.Topic]struct{}
	limiter *rate.Limiter
}

type inboundEvent struct {
	Event        string        `json:"event"`
	SimulationID simulationRef `json:"simulation_id"`
}

// simulationRef accepts the simulation ID as a JSON string or number.
type simulationRef string

func (s *simulationRef) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = simulationRef(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("simulation_id must be a string or number: %w", err)
	}
	*s = simulationRef(n.String())
	return nil
}

type errorMessage struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

func (s *session) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("WebSocket read failed", "client_id", s.client.id, "error", err)
			}
			return
		}
		s.handle(data)
	}
}

func (s *session) handle(data []byte) {
	if !s.limiter.Allow() {
		s.countEvent("unknown", "rate_limited")
		s.sendError("rate limit exceeded")
		return
	}

	var ev inboundEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		s.countEvent("unknown", "malformed")
		s.sendError("malformed event")
		return
	}

	switch ev.Event {
	case "join":
		s.join(string(ev.SimulationID))
	case "leave":
		s.leave(string(ev.SimulationID))
	default:
		s.countEvent("unknown", "rejected")
		s.sendError(fmt.Sprintf("unknown event %s", strconv.Quote(ev.Event)))
	}
}

func (s *session) join(raw string) {
	topic, err := domain.ParseTopic(raw)
	if err != nil {
		s.countEvent("join", "invalid")
		s.sendError("invalid simulation_id")
		return
	}

	if _, ok := s.topics[topic]; ok {
		s.countEvent("join", "duplicate")
		return
	}
	if len(s.topics) >= s.handler.cfg.MaxTopicsPerConnection {
		s.countEvent("join", "limited")
		s.sendError(fmt.Sprintf("too many topics (max %d)", s.handler.cfg.MaxTopicsPerConnection))
		return
	}

	// Join the room first so the first sample of a fresh poller is delivered.
	if err := s.handler.hub.join(topic, s.client); err != nil {
		s.countEvent("join", "failed")
		s.sendError("server shutting down")
		return
	}
	s.topics[topic] = struct{}{}
	count := s.handler.subs.Subscribe(topic)

	s.countEvent("join", "ok")
	slog.Info("Client joined simulation", "topic", string(topic), "client_id", s.client.id, "count", count)
}

func (s *session) leave(raw string) {
	topic, err := domain.ParseTopic(raw)
	if err != nil {
		s.countEvent("leave", "invalid")
		s.sendError("invalid simulation_id")
		return
	}

	if _, ok := s.topics[topic]; !ok {
		s.countEvent("leave", "not_joined")
		return
	}

	if err := s.handler.hub.leave(topic, s.client); err != nil && !errors.Is(err, ErrHubStopped) {
		slog.Warn("Failed to leave room", "topic", string(topic), "client_id", s.client.id, "error", err)
	}
	delete(s.topics, topic)
	count := s.unsubscribe(topic)

	s.countEvent("leave", "ok")
	slog.Info("Client left simulation", "topic", string(topic), "client_id", s.client.id, "count", count)
}

// close leaves every joined topic. It runs once the read loop has ended for
// any reason, including slow-client eviction and shutdown.
func (s *session) close() {
	_ = s.handler.hub.remove(s.client)
	for topic := range s.topics {
		count := s.unsubscribe(topic)
		slog.Debug("Implicit leave on disconnect", "topic", string(topic), "client_id", s.client.id, "count", count)
	}
	clear(s.topics)
	s.client.writer.stop()
	slog.Debug("WebSocket client disconnected", "client_id", s.client.id)
}

func (s *session) unsubscribe(topic domain.Topic) int {
	ctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
	defer cancel()
	return s.handler.subs.Unsubscribe(ctx, topic)
}

func (s *session) sendError(message string) {
	data, err := json.Marshal(errorMessage{Event: "error", Message: message})
	if err != nil {
		return
	}
	s.client.writer.trySend(data)
}

func (s *session) countEvent(event, result string) {
	if s.handler.metrics != nil {
		s.handler.metrics.InboundEvents.WithLabelValues(event, result).Inc()
	}
}
