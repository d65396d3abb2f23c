package httpserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/jpgallegoar/SimulationDashboard/internal/app"
	"github.com/jpgallegoar/SimulationDashboard/internal/domain"
	"github.com/jpgallegoar/SimulationDashboard/internal/live"
	"github.com/jpgallegoar/SimulationDashboard/internal/platform/config"
	"github.com/labstack/echo/v4"
)

// --- Mock implementations ---

type mockAppService struct {
	listSimulationsFn  func(ctx context.Context, q app.ListQuery) ([]domain.Simulation, error)
	getSimulationFn    func(ctx context.Context, id int64) (*domain.Simulation, error)
	createSimulationFn func(ctx context.Context, req app.CreateSimulationRequest) (*domain.Simulation, error)
	updateSimulationFn func(ctx context.Context, id int64, req app.UpdateSimulationRequest) (*domain.Simulation, error)
	deleteSimulationFn func(ctx context.Context, id int64) error
	convergenceFn      func(ctx context.Context, id int64) ([]domain.Sample, error)
	listMachinesFn     func(ctx context.Context) ([]domain.Machine, error)
	createMachineFn    func(ctx context.Context, name string) (*domain.Machine, error)
}

func (m *mockAppService) ListSimulations(ctx context.Context, q app.ListQuery) ([]domain.Simulation, error) {
	if m.listSimulationsFn != nil {
		return m.listSimulationsFn(ctx, q)
	}
	return []domain.Simulation{}, nil
}

func (m *mockAppService) GetSimulation(ctx context.Context, id int64) (*domain.Simulation, error) {
	if m.getSimulationFn != nil {
		return m.getSimulationFn(ctx, id)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAppService) CreateSimulation(ctx context.Context, req app.CreateSimulationRequest) (*domain.Simulation, error) {
	if m.createSimulationFn != nil {
		return m.createSimulationFn(ctx, req)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAppService) UpdateSimulation(ctx context.Context, id int64, req app.UpdateSimulationRequest) (*domain.Simulation, error) {
	if m.updateSimulationFn != nil {
		return m.updateSimulationFn(ctx, id, req)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAppService) DeleteSimulation(ctx context.Context, id int64) error {
	if m.deleteSimulationFn != nil {
		return m.deleteSimulationFn(ctx, id)
	}
	return nil
}

func (m *mockAppService) Convergence(ctx context.Context, id int64) ([]domain.Sample, error) {
	if m.convergenceFn != nil {
		return m.convergenceFn(ctx, id)
	}
	return []domain.Sample{}, nil
}

func (m *mockAppService) ListMachines(ctx context.Context) ([]domain.Machine, error) {
	if m.listMachinesFn != nil {
		return m.listMachinesFn(ctx)
	}
	return []domain.Machine{}, nil
}

func (m *mockAppService) CreateMachine(ctx context.Context, name string) (*domain.Machine, error) {
	if m.createMachineFn != nil {
		return m.createMachineFn(ctx, name)
	}
	return nil, errors.New("not implemented")
}

type mockLive struct {
	topics  map[domain.Topic]int
	states  map[domain.Topic]live.State
	pollers int
}

func (m *mockLive) Topics() map[domain.Topic]int { return m.topics }

func (m *mockLive) Count(topic domain.Topic) int { return m.topics[topic] }

func (m *mockLive) PollerState(topic domain.Topic) live.State { return m.states[topic] }

func (m *mockLive) LivePollers() int { return m.pollers }

// --- Test helpers ---

func testConfig() *config.Config {
	return &config.Config{
		Port:           "0",
		AllowedOrigins: "*",
		APIRateLimit:   1000,
		APIRateBurst:   1000,
	}
}

func newTestServer(t *testing.T, svc appService, opts ...func(*Deps)) *Server {
	t.Helper()

	deps := Deps{
		App:   svc,
		Live:  &mockLive{},
		Clock: clockwork.NewFakeClock(),
	}
	for _, opt := range opts {
		opt(&deps)
	}

	return NewServer(testConfig(), deps)
}

func withHealthChecks(checks ...HealthCheck) func(*Deps) {
	return func(d *Deps) {
		d.HealthChecks = checks
	}
}

func withLive(l liveDiagnostics) func(*Deps) {
	return func(d *Deps) {
		d.Live = l
	}
}

func withWebSocketHandler(h http.Handler) func(*Deps) {
	return func(d *Deps) {
		d.WebSocketHandler = h
	}
}

// callHandler wraps a handler with error middleware, matching production behavior
func callHandler(handler echo.HandlerFunc, c echo.Context) error {
	return ErrorHandlingMiddleware()(handler)(c)
}

// doRequest runs a request through the full router.
func doRequest(srv *Server, method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}
