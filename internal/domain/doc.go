// Package domain defines the core domain types and interfaces.
//
// Concept-oriented files (progress.go, simulation.go, errors.go) hold shared
// types and the contracts between the live-update core and its adapters. No
// implementation code lives here beyond small value helpers.
package domain
