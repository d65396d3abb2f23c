// Package sqlite provides a single-file progress store for single-node and
// development deployments, selected with PROGRESS_STORE=sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jpgallegoar/SimulationDashboard/internal/domain"
	_ "modernc.org/sqlite"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS convergence_data (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		simulation_id INTEGER NOT NULL,
		seconds       INTEGER NOT NULL,
		loss          REAL    NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS convergence_data_simulation_seconds_idx
		ON convergence_data (simulation_id, seconds DESC)`,
}

// Store implements domain.ProgressWriter on top of modernc.org/sqlite.
type Store struct {
	db *sql.DB
}

var _ domain.ProgressWriter = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply sqlite schema: %w", err)
		}
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping is used as a readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Latest(ctx context.Context, topic domain.Topic) (*domain.Sample, error) {
	simulationID, err := topic.SimulationID()
	if err != nil {
		return nil, err
	}

	var sample domain.Sample
	err = s.db.QueryRowContext(ctx, `
		SELECT seconds, loss
		FROM convergence_data
		WHERE simulation_id = ?
		ORDER BY seconds DESC
		LIMIT 1`, simulationID).Scan(&sample.Offset, &sample.Metric)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read latest sample for simulation %d: %w", simulationID, err)
	}
	return &sample, nil
}

func (s *Store) History(ctx context.Context, simulationID int64) ([]domain.Sample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seconds, loss
		FROM convergence_data
		WHERE simulation_id = ?
		ORDER BY seconds`, simulationID)
	if err != nil {
		return nil, fmt.Errorf("failed to read history of simulation %d: %w", simulationID, err)
	}
	defer rows.Close()

	var samples []domain.Sample
	for rows.Next() {
		var sample domain.Sample
		if err := rows.Scan(&sample.Offset, &sample.Metric); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate samples: %w", err)
	}
	return samples, nil
}

func (s *Store) Append(ctx context.Context, simulationID int64, sample domain.Sample) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO convergence_data (simulation_id, seconds, loss)
		VALUES (?, ?, ?)`, simulationID, sample.Offset, sample.Metric)
	if err != nil {
		return fmt.Errorf("failed to insert sample for simulation %d: %w", simulationID, err)
	}
	return nil
}

func (s *Store) Purge(ctx context.Context, simulationID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM convergence_data WHERE simulation_id = ?`, simulationID); err != nil {
		return fmt.Errorf("failed to purge samples of simulation %d: %w", simulationID, err)
	}
	return nil
}
