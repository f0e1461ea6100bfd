// Package matsdb defines the coordinator's view of a database connection:
// the minimal surface needed to lazily obtain a connection, force
// auto-commit off, and commit or roll it back as part of a BE-1PC scope.
// Concrete adapters (pgxsupplier, gormsupplier) implement it over real
// drivers; the coordinator itself never imports a driver directly.
package matsdb

import "context"

// Connection is a single checked-out database connection, already
// participating in an explicit (auto-commit off) transaction by the time
// ConnectionSupplier.Get returns it.
type Connection interface {
	// Commit commits the transaction this connection opened.
	Commit(ctx context.Context) error
	// Rollback rolls back the transaction this connection opened.
	Rollback(ctx context.Context) error
	// Close releases the underlying connection back to its pool.
	Close(ctx context.Context) error
	// Raw returns the driver-specific transaction object (e.g. pgx.Tx
	// or *gorm.DB) for user code that needs to run queries.
	Raw() any
}

// ConnectionSupplier lazily provides a Connection the first time a stage
// processor asks for one. The coordinator calls Get at most once per
// scope; if a processor never asks for a connection, Get is never called
// and the scope's commit/rollback touches only the broker transaction.
type ConnectionSupplier interface {
	Get(ctx context.Context) (Connection, error)
}
