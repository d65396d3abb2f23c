package httpserver

import (
	"fmt"
	"net/http"

	apperrors "github.com/jpgallegoar/SimulationDashboard/internal/platform/errors"
	"github.com/labstack/echo/v4"
)

type createMachineRequest struct {
	Name string `json:"name"`
}

func (s *Server) registerMachineRoutes(rateLimiter echo.MiddlewareFunc) {
	g := s.echo.Group("/machines", rateLimiter)
	g.GET("", s.handleListMachines)
	g.POST("", s.handleCreateMachine)
}

func (s *Server) handleListMachines(c echo.Context) error {
	machines, err := s.app.ListMachines(c.Request().Context())
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, machines); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleCreateMachine(c echo.Context) error {
	var req createMachineRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body").WithCause(err)
	}

	machine, err := s.app.CreateMachine(c.Request().Context(), req.Name)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusCreated, machine); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
