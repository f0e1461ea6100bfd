// Package gormsupplier adapts a gorm.io/gorm database handle to
// matsdb.ConnectionSupplier, following the same WithContext/GetDB shape
// the vianarwanda-voyago-go-boilerplate database wrapper uses, but
// exposing only the matsdb.Connection surface the coordinator needs.
package gormsupplier

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/mats-go/mats/matsdb"
)

// Supplier opens a new *gorm.DB transaction for every Get call.
type Supplier struct {
	db *gorm.DB
}

// New wraps an already-configured *gorm.DB.
func New(db *gorm.DB) *Supplier {
	return &Supplier{db: db}
}

// Get begins a transaction scoped to ctx.
func (s *Supplier) Get(ctx context.Context) (matsdb.Connection, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("gormsupplier: begin: %w", tx.Error)
	}
	return &connection{tx: tx}, nil
}

var _ matsdb.ConnectionSupplier = (*Supplier)(nil)

// connection wraps one open gorm transaction.
type connection struct {
	tx *gorm.DB
}

func (c *connection) Commit(ctx context.Context) error {
	if err := c.tx.Commit().Error; err != nil {
		return fmt.Errorf("gormsupplier: commit: %w", err)
	}
	return nil
}

func (c *connection) Rollback(ctx context.Context) error {
	if err := c.tx.Rollback().Error; err != nil {
		return fmt.Errorf("gormsupplier: rollback: %w", err)
	}
	return nil
}

func (c *connection) Close(ctx context.Context) error {
	return nil
}

func (c *connection) Raw() any {
	return c.tx
}

var _ matsdb.Connection = (*connection)(nil)
