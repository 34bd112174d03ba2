// Package services implements the engine's orchestration layer: the sync
// drain, the cache read-through, and session lifecycle. This file
// centralizes the service-level error values callers branch on; mapping to
// HTTP statuses happens in the handler layer.
package services

import "errors"

var (
	// ErrDrainInProgress is returned when a drain is refused because
	// another drain currently holds the durable in-progress flag.
	ErrDrainInProgress = errors.New("sync already in progress")

	// ErrOffline is returned when a drain is refused because the remote
	// API is unreachable.
	ErrOffline = errors.New("connectivity absent")

	// ErrNoSession is returned when an operation requires an active user
	// session and none is established.
	ErrNoSession = errors.New("no active session")
)
