package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jpgallegoar/SimulationDashboard/internal/domain"
)

// simulationColumns must match the Scan order in scanSimulation.
const simulationColumns = `s.id, s.name, s.status, s.machine_id, m.name, s.creation_date, s.update_date, s.epochs, s.final_loss, s.total_seconds`

const simulationFrom = `FROM simulations s LEFT JOIN machines m ON m.id = s.machine_id`

// sortColumns whitelists ORDER BY targets.
var sortColumns = map[string]string{
	"id":            "s.id",
	"name":          "s.name",
	"status":        "s.status",
	"creation_date": "s.creation_date",
	"update_date":   "s.update_date",
	"epochs":        "s.epochs",
	"final_loss":    "s.final_loss",
	"total_seconds": "s.total_seconds",
}

type SimulationRepo struct {
	pool *pgxpool.Pool
}

var _ domain.SimulationRepository = (*SimulationRepo)(nil)

func NewSimulationRepo(pool *pgxpool.Pool) *SimulationRepo {
	return &SimulationRepo{pool: pool}
}

func scanSimulation(row pgx.Row) (domain.Simulation, error) {
	var (
		s           domain.Simulation
		status      string
		machineName *string
	)
	err := row.Scan(&s.ID, &s.Name, &status, &s.MachineID, &machineName, &s.CreationDate, &s.UpdateDate, &s.Epochs, &s.FinalLoss, &s.TotalSeconds)
	if err != nil {
		return s, err
	}
	s.Status = domain.SimulationStatus(status)
	s.MachineName = domain.NoMachineAssigned
	if machineName != nil {
		s.MachineName = *machineName
	}
	return s, nil
}

func (r *SimulationRepo) List(ctx context.Context, filter domain.SimulationFilter) ([]domain.Simulation, error) {
	column, ok := sortColumns[filter.OrderBy]
	if !ok {
		column = "s.creation_date"
	}
	direction := "DESC"
	if filter.OrderDirection == "ASC" {
		direction = "ASC"
	}

	query := `SELECT ` + simulationColumns + ` ` + simulationFrom
	var args []any
	if filter.Status != nil {
		query += ` WHERE s.status = $1`
		args = append(args, string(*filter.Status))
	}
	query += fmt.Sprintf(` ORDER BY %s %s NULLS LAST, s.id %s`, column, direction, direction)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list simulations: %w", err)
	}

	sims, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Simulation, error) {
		return scanSimulation(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan simulations: %w", err)
	}
	return sims, nil
}

func (r *SimulationRepo) Get(ctx context.Context, id int64) (*domain.Simulation, error) {
	return getSimulation(ctx, r.pool, id)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getSimulation(ctx context.Context, q queryRower, id int64) (*domain.Simulation, error) {
	s, err := scanSimulation(q.QueryRow(ctx, `SELECT `+simulationColumns+` `+simulationFrom+` WHERE s.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSimulationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get simulation %d: %w", id, err)
	}
	return &s, nil
}

// Create inserts a simulation. With a machine it starts running on that
// machine, which must exist and be available; without one it is pending.
func (r *SimulationRepo) Create(ctx context.Context, name string, machineID *int64) (*domain.Simulation, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	status := domain.StatusPending
	if machineID != nil {
		if err := claimMachine(ctx, tx, *machineID); err != nil {
			return nil, err
		}
		status = domain.StatusRunning
	}

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO simulations (name, status, machine_id)
		VALUES ($1, $2, $3)
		RETURNING id`, name, string(status), machineID).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to insert simulation: %w", err)
	}

	sim, err := getSimulation(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit simulation: %w", err)
	}
	return sim, nil
}

// Update applies a machine assignment first and then a status change.
// Assigning a machine claims it and marks the simulation running; finishing
// releases the assigned machine.
func (r *SimulationRepo) Update(ctx context.Context, id int64, update domain.SimulationUpdate) (*domain.Simulation, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := lockSimulation(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	machineID := current.machineID
	status := current.status

	if update.MachineID != nil && (machineID == nil || *machineID != *update.MachineID) {
		if err := claimMachine(ctx, tx, *update.MachineID); err != nil {
			return nil, err
		}
		if machineID != nil {
			if err := releaseMachine(ctx, tx, *machineID); err != nil {
				return nil, err
			}
		}
		machineID = update.MachineID
		status = domain.StatusRunning
	}

	if update.Status != nil {
		status = *update.Status
		if status == domain.StatusFinished && machineID != nil {
			if err := releaseMachine(ctx, tx, *machineID); err != nil {
				return nil, err
			}
			machineID = nil
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE simulations
		SET status = $2, machine_id = $3, update_date = now()
		WHERE id = $1`, id, string(status), machineID); err != nil {
		return nil, fmt.Errorf("failed to update simulation %d: %w", id, err)
	}

	sim, err := getSimulation(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit simulation update: %w", err)
	}
	return sim, nil
}

// Delete removes a simulation and frees its machine. Its samples go with it
// through the foreign key cascade.
func (r *SimulationRepo) Delete(ctx context.Context, id int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := lockSimulation(ctx, tx, id)
	if err != nil {
		return err
	}

	if current.machineID != nil {
		if err := releaseMachine(ctx, tx, *current.machineID); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM simulations WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete simulation %d: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit simulation delete: %w", err)
	}
	return nil
}

func (r *SimulationRepo) Running(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM simulations WHERE status = $1 ORDER BY id`, string(domain.StatusRunning))
	if err != nil {
		return nil, fmt.Errorf("failed to list running simulations: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("failed to scan running simulations: %w", err)
	}
	return ids, nil
}

func (r *SimulationRepo) RecordProgress(ctx context.Context, id int64, sample domain.Sample) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE simulations
		SET epochs = epochs + 1, final_loss = $2, total_seconds = $3, update_date = now()
		WHERE id = $1`, id, sample.Metric, sample.Offset)
	if err != nil {
		return fmt.Errorf("failed to record progress of simulation %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSimulationNotFound
	}
	return nil
}

type lockedSimulation struct {
	status    domain.SimulationStatus
	machineID *int64
}

func lockSimulation(ctx context.Context, tx pgx.Tx, id int64) (lockedSimulation, error) {
	var (
		current lockedSimulation
		status  string
	)
	err := tx.QueryRow(ctx, `SELECT status, machine_id FROM simulations WHERE id = $1 FOR UPDATE`, id).Scan(&status, &current.machineID)
	if errors.Is(err, pgx.ErrNoRows) {
		return current, domain.ErrSimulationNotFound
	}
	if err != nil {
		return current, fmt.Errorf("failed to lock simulation %d: %w", id, err)
	}
	current.status = domain.SimulationStatus(status)
	return current, nil
}
