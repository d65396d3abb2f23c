package domain

import (
	"context"
	"time"
)

type SimulationStatus string

const (
	StatusPending  SimulationStatus = "pending"
	StatusRunning  SimulationStatus = "running"
	StatusFinished SimulationStatus = "finished"
)

// ParseStatus validates a status supplied by a client.
func ParseStatus(raw string) (SimulationStatus, error) {
	switch s := SimulationStatus(raw); s {
	case StatusPending, StatusRunning, StatusFinished:
		return s, nil
	default:
		return "", ErrInvalidStatus
	}
}

const NoMachineAssigned = "No Machine Assigned"

type Simulation struct {
	ID           int64            `json:"id"`
	Name         string           `json:"name"`
	Status       SimulationStatus `json:"status"`
	MachineID    *int64           `json:"machine_id"`
	MachineName  string           `json:"machine_name"`
	CreationDate time.Time        `json:"creation_date"`
	UpdateDate   time.Time        `json:"update_date"`
	Epochs       int              `json:"epochs"`
	FinalLoss    *float64         `json:"final_loss"`
	TotalSeconds int64            `json:"total_seconds"`
}

type Machine struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Availability bool   `json:"availability"`
}

// SimulationFilter narrows and orders a simulation listing. OrderBy and
// OrderDirection must already be validated against a whitelist.
type SimulationFilter struct {
	Status         *SimulationStatus
	OrderBy        string
	OrderDirection string
}

// SimulationUpdate carries the optional fields of a PATCH.
type SimulationUpdate struct {
	Status    *SimulationStatus
	MachineID *int64
}

type SimulationRepository interface {
	List(ctx context.Context, filter SimulationFilter) ([]Simulation, error)
	Get(ctx context.Context, id int64) (*Simulation, error)
	Create(ctx context.Context, name string, machineID *int64) (*Simulation, error)
	Update(ctx context.Context, id int64, update SimulationUpdate) (*Simulation, error)
	Delete(ctx context.Context, id int64) error
	// Running returns the IDs of every running simulation.
	Running(ctx context.Context) ([]int64, error)
	// RecordProgress advances epochs, final loss and total seconds after a
	// new sample.
	RecordProgress(ctx context.Context, id int64, sample Sample) error
}

type MachineRepository interface {
	List(ctx context.Context) ([]Machine, error)
	Create(ctx context.Context, name string) (*Machine, error)
}
