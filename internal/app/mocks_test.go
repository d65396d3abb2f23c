package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/jpgallegoar/SimulationDashboard/internal/domain"
)

// --- Mock implementations ---

type mockSimulationRepo struct {
	listFn           func(ctx context.Context, filter domain.SimulationFilter) ([]domain.Simulation, error)
	getFn            func(ctx context.Context, id int64) (*domain.Simulation, error)
	createFn         func(ctx context.Context, name string, machineID *int64) (*domain.Simulation, error)
	updateFn         func(ctx context.Context, id int64, update domain.SimulationUpdate) (*domain.Simulation, error)
	deleteFn         func(ctx context.Context, id int64) error
	runningFn        func(ctx context.Context) ([]int64, error)
	recordProgressFn func(ctx context.Context, id int64, sample domain.Sample) error
}

func (m *mockSimulationRepo) List(ctx context.Context, filter domain.SimulationFilter) ([]domain.Simulation, error) {
	if m.listFn != nil {
		return m.listFn(ctx, filter)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockSimulationRepo) Get(ctx context.Context, id int64) (*domain.Simulation, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockSimulationRepo) Create(ctx context.Context, name string, machineID *int64) (*domain.Simulation, error) {
	if m.createFn != nil {
		return m.createFn(ctx, name, machineID)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockSimulationRepo) Update(ctx context.Context, id int64, update domain.SimulationUpdate) (*domain.Simulation, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, update)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockSimulationRepo) Delete(ctx context.Context, id int64) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

func (m *mockSimulationRepo) Running(ctx context.Context) ([]int64, error) {
	if m.runningFn != nil {
		return m.runningFn(ctx)
	}
	return nil, nil
}

func (m *mockSimulationRepo) RecordProgress(ctx context.Context, id int64, sample domain.Sample) error {
	if m.recordProgressFn != nil {
		return m.recordProgressFn(ctx, id, sample)
	}
	return nil
}

type mockMachineRepo struct {
	listFn   func(ctx context.Context) ([]domain.Machine, error)
	createFn func(ctx context.Context, name string) (*domain.Machine, error)
}

func (m *mockMachineRepo) List(ctx context.Context) ([]domain.Machine, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockMachineRepo) Create(ctx context.Context, name string) (*domain.Machine, error) {
	if m.createFn != nil {
		return m.createFn(ctx, name)
	}
	return nil, fmt.Errorf("not implemented")
}

// memoryProgress is an in-memory ProgressWriter.
type memoryProgress struct {
	mu        sync.Mutex
	samples   map[int64][]domain.Sample
	latestErr error
	appendErr error
	purgeErr  error
	purged    []int64
}

func newMemoryProgress() *memoryProgress {
	return &memoryProgress{samples: make(map[int64][]domain.Sample)}
}

func (m *memoryProgress) Latest(_ context.Context, topic domain.Topic) (*domain.Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latestErr != nil {
		return nil, m.latestErr
	}
	id, err := topic.SimulationID()
	if err != nil {
		return nil, err
	}
	samples := m.samples[id]
	if len(samples) == 0 {
		return nil, nil
	}
	last := samples[len(samples)-1]
	return &last, nil
}

func (m *memoryProgress) History(_ context.Context, simulationID int64) ([]domain.Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Sample(nil), m.samples[simulationID]...), nil
}

func (m *memoryProgress) Append(_ context.Context, simulationID int64, sample domain.Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.samples[simulationID] = append(m.samples[simulationID], sample)
	return nil
}

func (m *memoryProgress) Purge(_ context.Context, simulationID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purged = append(m.purged, simulationID)
	if m.purgeErr != nil {
		return m.purgeErr
	}
	delete(m.samples, simulationID)
	return nil
}

func (m *memoryProgress) history(id int64) []domain.Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Sample(nil), m.samples[id]...)
}

type mockInvalidator struct {
	mu     sync.Mutex
	topics []domain.Topic
	err    error
}

func (m *mockInvalidator) Invalidate(_ context.Context, topic domain.Topic) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topics = append(m.topics, topic)
	return m.err
}

func (m *mockInvalidator) invalidated() []domain.Topic {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Topic(nil), m.topics...)
}
