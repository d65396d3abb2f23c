package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jpgallegoar/SimulationDashboard/internal/domain"
)

// ProgressRepo reads and appends convergence samples.
type ProgressRepo struct {
	pool *pgxpool.Pool
}

var _ domain.ProgressWriter = (*ProgressRepo)(nil)

func NewProgressRepo(pool *pgxpool.Pool) *ProgressRepo {
	return &ProgressRepo{pool: pool}
}

func (r *ProgressRepo) Latest(ctx context.Context, topic domain.Topic) (*domain.Sample, error) {
	simulationID, err := topic.SimulationID()
	if err != nil {
		return nil, err
	}

	var s domain.Sample
	err = r.pool.QueryRow(ctx, `
		SELECT seconds, loss
		FROM convergence_data
		WHERE simulation_id = $1
		ORDER BY seconds DESC
		LIMIT 1`, simulationID).Scan(&s.Offset, &s.Metric)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read latest sample for simulation %d: %w", simulationID, err)
	}
	return &s, nil
}

func (r *ProgressRepo) History(ctx context.Context, simulationID int64) ([]domain.Sample, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT seconds, loss
		FROM convergence_data
		WHERE simulation_id = $1
		ORDER BY seconds`, simulationID)
	if err != nil {
		return nil, fmt.Errorf("failed to read history of simulation %d: %w", simulationID, err)
	}

	samples, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Sample, error) {
		var s domain.Sample
		err := row.Scan(&s.Offset, &s.Metric)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan samples: %w", err)
	}
	return samples, nil
}

func (r *ProgressRepo) Append(ctx context.Context, simulationID int64, sample domain.Sample) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO convergence_data (simulation_id, seconds, loss)
		VALUES ($1, $2, $3)`, simulationID, sample.Offset, sample.Metric)
	if err != nil {
		return fmt.Errorf("failed to insert sample for simulation %d: %w", simulationID, err)
	}
	return nil
}

func (r *ProgressRepo) Purge(ctx context.Context, simulationID int64) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM convergence_data WHERE simulation_id = $1`, simulationID); err != nil {
		return fmt.Errorf("failed to purge samples of simulation %d: %w", simulationID, err)
	}
	return nil
}
