package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jpgallegoar/SimulationDashboard/internal/domain"
	apperrors "github.com/jpgallegoar/SimulationDashboard/internal/platform/errors"
)

const maxNameLength = 255

// sortableFields whitelists the order_by values a client may request.
var sortableFields = map[string]struct{}{
	"id":            {},
	"name":          {},
	"status":        {},
	"creation_date": {},
	"update_date":   {},
	"epochs":        {},
	"final_loss":    {},
	"total_seconds": {},
}

// ListQuery holds the raw listing parameters of a request.
type ListQuery struct {
	Status         string
	OrderBy        string
	OrderDirection string
}

type CreateSimulationRequest struct {
	Name      string `json:"name"`
	MachineID *int64 `json:"machine_id"`
}

type UpdateSimulationRequest struct {
	Status    *string `json:"status"`
	MachineID *int64  `json:"machine_id"`
}

// Service is the application layer. It validates input and orchestrates the
// simulation, machine and progress repositories.
type Service struct {
	sims     domain.SimulationRepository
	machines domain.MachineRepository
	progress domain.ProgressWriter
}

func NewService(sims domain.SimulationRepository, machines domain.MachineRepository, progress domain.ProgressWriter) *Service {
	return &Service{sims: sims, machines: machines, progress: progress}
}

// ListSimulations validates the query and returns the matching simulations.
func (s *Service) ListSimulations(ctx context.Context, q ListQuery) ([]domain.Simulation, error) {
	filter, err := parseListQuery(q)
	if err != nil {
		return nil, err
	}

	sims, err := s.sims.List(ctx, filter)
	if err != nil {
		return nil, apperrors.InternalError("failed to list simulations", err)
	}
	return sims, nil
}

func parseListQuery(q ListQuery) (domain.SimulationFilter, error) {
	filter := domain.SimulationFilter{OrderBy: "creation_date", OrderDirection: "DESC"}

	if q.Status != "" {
		status, err := domain.ParseStatus(q.Status)
		if err != nil {
			return filter, apperrors.ValidationError("invalid status").WithField("status", q.Status)
		}
		filter.Status = &status
	}

	if q.OrderBy != "" {
		if _, ok := sortableFields[q.OrderBy]; !ok {
			return filter, apperrors.ValidationError("invalid order_by").WithField("order_by", q.OrderBy)
		}
		filter.OrderBy = q.OrderBy
	}

	if q.OrderDirection != "" {
		direction := strings.ToUpper(q.OrderDirection)
		if direction != "ASC" && direction != "DESC" {
			return filter, apperrors.ValidationError("invalid order_direction").WithField("order_direction", q.OrderDirection)
		}
		filter.OrderDirection = direction
	}

	return filter, nil
}

func (s *Service) GetSimulation(ctx context.Context, id int64) (*domain.Simulation, error) {
	sim, err := s.sims.Get(ctx, id)
	if err != nil {
		return nil, mapDomainError(err, "failed to load simulation").WithField("simulation_id", id)
	}
	return sim, nil
}

// CreateSimulation creates a pending simulation, or a running one when a
// machine is assigned. The machine must exist and be available.
func (s *Service) CreateSimulation(ctx context.Context, req CreateSimulationRequest) (*domain.Simulation, error) {
	name, err := validateName(req.Name)
	if err != nil {
		return nil, err
	}

	sim, err := s.sims.Create(ctx, name, req.MachineID)
	if err != nil {
		appErr := mapDomainError(err, "failed to create simulation")
		if req.MachineID != nil {
			appErr = appErr.WithField("machine_id", *req.MachineID)
		}
		return nil, appErr
	}

	slog.InfoContext(ctx, "Simulation created", "simulation_id", sim.ID, "status", string(sim.Status))
	return sim, nil
}

// UpdateSimulation applies a status change and/or a machine assignment.
func (s *Service) UpdateSimulation(ctx context.Context, id int64, req UpdateSimulationRequest) (*domain.Simulation, error) {
	if req.Status == nil && req.MachineID == nil {
		return nil, apperrors.ValidationError("nothing to update").WithField("simulation_id", id)
	}

	var update domain.SimulationUpdate
	if req.Status != nil {
		status, err := domain.ParseStatus(*req.Status)
		if err != nil {
			return nil, apperrors.ValidationError("invalid status").WithField("status", *req.Status)
		}
		update.Status = &status
	}
	update.MachineID = req.MachineID

	sim, err := s.sims.Update(ctx, id, update)
	if err != nil {
		return nil, mapDomainError(err, "failed to update simulation").WithField("simulation_id", id)
	}

	slog.InfoContext(ctx, "Simulation updated", "simulation_id", id, "status", string(sim.Status))
	return sim, nil
}

// DeleteSimulation frees the simulation's machine, removes it and drops its
// convergence data.
func (s *Service) DeleteSimulation(ctx context.Context, id int64) error {
	if err := s.sims.Delete(ctx, id); err != nil {
		return mapDomainError(err, "failed to delete simulation").WithField("simulation_id", id)
	}

	// Postgres cascades; a separate progress store needs an explicit purge.
	if err := s.progress.Purge(ctx, id); err != nil {
		slog.WarnContext(ctx, "Failed to purge convergence data", "simulation_id", id, "error", err)
	}

	slog.InfoContext(ctx, "Simulation deleted", "simulation_id", id)
	return nil
}

// Convergence returns every sample of a simulation ordered by offset.
func (s *Service) Convergence(ctx context.Context, id int64) ([]domain.Sample, error) {
	if _, err := s.GetSimulation(ctx, id); err != nil {
		return nil, err
	}

	samples, err := s.progress.History(ctx, id)
	if err != nil {
		return nil, apperrors.InternalError("failed to load convergence data", err).WithField("simulation_id", id)
	}
	if samples == nil {
		samples = []domain.Sample{}
	}
	return samples, nil
}

func (s *Service) ListMachines(ctx context.Context) ([]domain.Machine, error) {
	machines, err := s.machines.List(ctx)
	if err != nil {
		return nil, apperrors.InternalError("failed to list machines", err)
	}
	return machines, nil
}

// CreateMachine registers a new, available machine.
func (s *Service) CreateMachine(ctx context.Context, name string) (*domain.Machine, error) {
	name, err := validateName(name)
	if err != nil {
		return nil, err
	}

	machine, err := s.machines.Create(ctx, name)
	if err != nil {
		return nil, apperrors.InternalError("failed to create machine", err)
	}

	slog.InfoContext(ctx, "Machine created", "machine_id", machine.ID)
	return machine, nil
}

func validateName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", apperrors.ValidationError("name is required")
	}
	if len(name) > maxNameLength {
		return "", apperrors.ValidationError(fmt.Sprintf("name must be at most %d characters", maxNameLength))
	}
	return name, nil
}

// mapDomainError turns repository errors into structured errors with the
// right HTTP semantics.
func mapDomainError(err error, message string) *apperrors.Error {
	switch {
	case errors.Is(err, domain.ErrSimulationNotFound):
		return apperrors.NotFoundError("simulation not found")
	case errors.Is(err, domain.ErrMachineNotFound):
		return apperrors.ValidationError("machine not found").WithCause(err)
	case errors.Is(err, domain.ErrMachineUnavailable):
		return apperrors.ValidationError("machine is not available").WithCause(err)
	case errors.Is(err, domain.ErrInvalidStatus):
		return apperrors.ValidationError("invalid status").WithCause(err)
	default:
		return apperrors.InternalError(message, err)
	}
}
