package domain

import "errors"

var (
	ErrSimulationNotFound = errors.New("simulation not found")
	ErrMachineNotFound    = errors.New("machine not found")
	ErrMachineUnavailable = errors.New("machine is not available")
	ErrInvalidStatus      = errors.New("invalid status")
	ErrInvalidTopic       = errors.New("invalid simulation id")
)
