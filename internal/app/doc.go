// Package app provides the application service layer.
//
// Orchestrates use cases: simulation and machine management, convergence history, progress synthesis.
// Sits between HTTP handlers and domain repositories. Depends on domain interfaces, not concrete implementations.
package app
