package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jpgallegoar/SimulationDashboard/internal/domain"
)

type MachineRepo struct {
	pool *pgxpool.Pool
}

var _ domain.MachineRepository = (*MachineRepo)(nil)

func NewMachineRepo(pool *pgxpool.Pool) *MachineRepo {
	return &MachineRepo{pool: pool}
}

func (r *MachineRepo) List(ctx context.Context) ([]domain.Machine, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, availability FROM machines ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list machines: %w", err)
	}

	machines, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Machine, error) {
		var m domain.Machine
		err := row.Scan(&m.ID, &m.Name, &m.Availability)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan machines: %w", err)
	}
	return machines, nil
}

func (r *MachineRepo) Create(ctx context.Context, name string) (*domain.Machine, error) {
	m := domain.Machine{Name: name, Availability: true}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO machines (name, availability)
		VALUES ($1, TRUE)
		RETURNING id`, name).Scan(&m.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create machine: %w", err)
	}
	return &m, nil
}

// claimMachine locks an available machine and marks it busy.
func claimMachine(ctx context.Context, tx pgx.Tx, machineID int64) error {
	var available bool
	err := tx.QueryRow(ctx, `SELECT availability FROM machines WHERE id = $1 FOR UPDATE`, machineID).Scan(&available)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrMachineNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock machine %d: %w", machineID, err)
	}
	if !available {
		return domain.ErrMachineUnavailable
	}

	if _, err := tx.Exec(ctx, `UPDATE machines SET availability = FALSE WHERE id = $1`, machineID); err != nil {
		return fmt.Errorf("failed to claim machine %d: %w", machineID, err)
	}
	return nil
}

func releaseMachine(ctx context.Context, tx pgx.Tx, machineID int64) error {
	if _, err := tx.Exec(ctx, `UPDATE machines SET availability = TRUE WHERE id = $1`, machineID); err != nil {
		return fmt.Errorf("failed to release machine %d: %w", machineID, err)
	}
	return nil
}
