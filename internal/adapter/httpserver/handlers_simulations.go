package httpserver

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/jpgallegoar/SimulationDashboard/internal/app"
	apperrors "github.com/jpgallegoar/SimulationDashboard/internal/platform/errors"
	"github.com/labstack/echo/v4"
)

func (s *Server) registerSimulationRoutes(rateLimiter echo.MiddlewareFunc) {
	g := s.echo.Group("/simulations", rateLimiter)
	g.GET("", s.handleListSimulations)
	g.POST("", s.handleCreateSimulation)
	g.GET("/:id", s.handleGetSimulation)
	g.PATCH("/:id", s.handleUpdateSimulation)
	g.DELETE("/:id", s.handleDeleteSimulation)
	g.GET("/:id/convergence", s.handleConvergence)
}

func (s *Server) handleListSimulations(c echo.Context) error {
	query := app.ListQuery{
		Status:         c.QueryParam("status"),
		OrderBy:        c.QueryParam("order_by"),
		OrderDirection: c.QueryParam("order_direction"),
	}

	sims, err := s.app.ListSimulations(c.Request().Context(), query)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, sims); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleGetSimulation(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	sim, err := s.app.GetSimulation(c.Request().Context(), id)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, sim); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleCreateSimulation(c echo.Context) error {
	var req app.CreateSimulationRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body").WithCause(err)
	}

	sim, err := s.app.CreateSimulation(c.Request().Context(), req)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusCreated, sim); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleUpdateSimulation(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	var req app.UpdateSimulationRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body").WithCause(err)
	}

	sim, err := s.app.UpdateSimulation(c.Request().Context(), id, req)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, sim); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleDeleteSimulation(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	if err := s.app.DeleteSimulation(c.Request().Context(), id); err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, map[string]string{"status": "deleted"}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleConvergence(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	samples, err := s.app.Convergence(c.Request().Context(), id)
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, samples); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func parseID(c echo.Context) (int64, error) {
	raw := c.Param("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.ValidationError("invalid id").WithField("id", raw)
	}
	return id, nil
}
