package port

import "context"

// Repository persists accepted frames as the session history journal.
// Writes are best-effort: the router logs failures and keeps going.
type Repository interface {
	// Signal operations
	InsertSignal(ctx context.Context, ts int64, id, payload string) error

	// Trade operations
	InsertTrade(ctx context.Context, ts int64, payload string) error

	// Connection management
	Close() error
}
