// Package pgxsupplier adapts a github.com/jackc/pgx/v5 connection pool
// to matsdb.ConnectionSupplier, proving the coordinator is driver-agnostic:
// it only ever calls through the matsdb.Connection interface, never pgx
// types directly.
package pgxsupplier

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mats-go/mats/matsdb"
)

// Supplier acquires a pooled connection and begins an explicit
// transaction on it for every Get call.
type Supplier struct {
	pool *pgxpool.Pool
}

// New wraps an already-configured pool.
func New(pool *pgxpool.Pool) *Supplier {
	return &Supplier{pool: pool}
}

// Get acquires a connection from the pool and opens a transaction on it.
func (s *Supplier) Get(ctx context.Context) (matsdb.Connection, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("pgxsupplier: acquire: %w", err)
	}
	tx, err := conn.Begin(ctx)
	if err != nil {
		conn.Release()
		return nil, fmt.Errorf("pgxsupplier: begin: %w", err)
	}
	return &connection{conn: conn, tx: tx}, nil
}

var _ matsdb.ConnectionSupplier = (*Supplier)(nil)

// connection wraps one pooled connection and its open transaction.
type connection struct {
	conn *pgxpool.Conn
	tx   pgx.Tx
}

func (c *connection) Commit(ctx context.Context) error {
	if err := c.tx.Commit(ctx); err != nil {
		return fmt.Errorf("pgxsupplier: commit: %w", err)
	}
	return nil
}

func (c *connection) Rollback(ctx context.Context) error {
	if err := c.tx.Rollback(ctx); err != nil {
		return fmt.Errorf("pgxsupplier: rollback: %w", err)
	}
	return nil
}

func (c *connection) Close(ctx context.Context) error {
	c.conn.Release()
	return nil
}

func (c *connection) Raw() any {
	return c.tx
}

var _ matsdb.Connection = (*connection)(nil)
