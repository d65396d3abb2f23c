package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/jpgallegoar/SimulationDashboard/internal/adapter/metrics"
	"github.com/jpgallegoar/SimulationDashboard/internal/app"
	"github.com/jpgallegoar/SimulationDashboard/internal/domain"
	"github.com/jpgallegoar/SimulationDashboard/internal/live"
	"github.com/jpgallegoar/SimulationDashboard/internal/platform/config"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

const serviceName = "simdash-server"

type appService interface {
	ListSimulations(ctx context.Context, q app.ListQuery) ([]domain.Simulation, error)
	GetSimulation(ctx context.Context, id int64) (*domain.Simulation, error)
	CreateSimulation(ctx context.Context, req app.CreateSimulationRequest) (*domain.Simulation, error)
	UpdateSimulation(ctx context.Context, id int64, req app.UpdateSimulationRequest) (*domain.Simulation, error)
	DeleteSimulation(ctx context.Context, id int64) error
	Convergence(ctx context.Context, id int64) ([]domain.Sample, error)
	ListMachines(ctx context.Context) ([]domain.Machine, error)
	CreateMachine(ctx context.Context, name string) (*domain.Machine, error)
}

// liveDiagnostics is the read side of the subscription registry.
type liveDiagnostics interface {
	Topics() map[domain.Topic]int
	Count(topic domain.Topic) int
	PollerState(topic domain.Topic) live.State
	LivePollers() int
}

// connectionCounter is implemented by the websocket handler.
type connectionCounter interface {
	Connections() int
}

type Server struct {
	echo   *echo.Echo
	config *config.Config
	clock  clockwork.Clock

	app  appService
	live liveDiagnostics

	websocketHandler http.Handler
	connections      connectionCounter
	registry         *prometheus.Registry
	httpMetrics      *metrics.HTTPMetrics

	healthChecks []HealthCheck
	startTime    time.Time
}

// Deps groups the collaborators of the HTTP server.
type Deps struct {
	App              appService
	Live             liveDiagnostics
	WebSocketHandler http.Handler
	Registry         *prometheus.Registry
	HTTPMetrics      *metrics.HTTPMetrics
	HealthChecks     []HealthCheck
	Clock            clockwork.Clock
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	srv := &Server{
		echo:             e,
		config:           cfg,
		clock:            clock,
		app:              deps.App,
		live:             deps.Live,
		websocketHandler: deps.WebSocketHandler,
		connections:      connectionsOf(deps.WebSocketHandler),
		registry:         deps.Registry,
		httpMetrics:      deps.HTTPMetrics,
		healthChecks:     deps.HealthChecks,
		startTime:        clock.Now(),
	}

	e.HTTPErrorHandler = srv.handleHTTPError
	srv.registerRoutes()

	return srv
}

func connectionsOf(h http.Handler) connectionCounter {
	if c, ok := h.(connectionCounter); ok {
		return c
	}
	return nil
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// ServeHTTP exposes the router for in-process tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
