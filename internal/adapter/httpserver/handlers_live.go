package httpserver

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/jpgallegoar/SimulationDashboard/internal/domain"
	apperrors "github.com/jpgallegoar/SimulationDashboard/internal/platform/errors"
	"github.com/labstack/echo/v4"
)

type topicStatus struct {
	Topic       string `json:"topic"`
	Subscribers int    `json:"subscribers"`
	PollerState string `json:"poller_state"`
}

type liveStats struct {
	Topics      int `json:"topics"`
	Subscribers int `json:"subscribers"`
	Pollers     int `json:"pollers"`
	Connections int `json:"connections"`
}

func (s *Server) registerLiveRoutes() {
	if s.live == nil {
		return
	}
	s.echo.GET("/live/stats", s.handleLiveStats)
	s.echo.GET("/live/topics", s.handleListTopics)
	s.echo.GET("/live/topics/:id", s.handleGetTopic)
}

// handleLiveStats summarizes fanout load. Connections include sockets that
// have not joined any topic.
func (s *Server) handleLiveStats(c echo.Context) error {
	topics := s.live.Topics()

	stats := liveStats{Topics: len(topics), Pollers: s.live.LivePollers()}
	for _, count := range topics {
		stats.Subscribers += count
	}
	if s.connections != nil {
		stats.Connections = s.connections.Connections()
	}

	if err := c.JSON(http.StatusOK, stats); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleListTopics(c echo.Context) error {
	topics := s.live.Topics()

	statuses := make([]topicStatus, 0, len(topics))
	for topic, count := range topics {
		statuses = append(statuses, topicStatus{
			Topic:       string(topic),
			Subscribers: count,
			PollerState: s.live.PollerState(topic).String(),
		})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Topic < statuses[j].Topic })

	if err := c.JSON(http.StatusOK, statuses); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleGetTopic(c echo.Context) error {
	topic, err := domain.ParseTopic(c.Param("id"))
	if err != nil {
		return apperrors.ValidationError("invalid simulation id").WithField("id", c.Param("id"))
	}

	status := topicStatus{
		Topic:       string(topic),
		Subscribers: s.live.Count(topic),
		PollerState: s.live.PollerState(topic).String(),
	}
	if err := c.JSON(http.StatusOK, status); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
