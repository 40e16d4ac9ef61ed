// Package sync provides offline-first synchronization against the
// remote store.
package sync

import (
	"context"
	"time"
)

// EngineInterface defines the sync engine operations. It allows for
// mocking in tests and alternative implementations.
type EngineInterface interface {
	// Sync runs push then pull. Returns the run's result with
	// statistics, or an error if either phase fails.
	Sync(ctx context.Context) (*Result, error)

	// Push drains the mutation queue to the remote store.
	Push(ctx context.Context) (*Result, error)

	// Pull fetches remote deltas since the checkpoint into the local
	// store.
	Pull(ctx context.Context) (*Result, error)

	// SetEventHandler sets the handler for sync lifecycle events.
	SetEventHandler(handler EventHandler)

	// LastSync returns the timestamp of the last successful sync.
	LastSync() *time.Time

	// PendingChanges returns the number of queued mutations.
	PendingChanges() int

	// LastError returns the last error that occurred during sync.
	LastError() error
}
