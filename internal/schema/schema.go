// Package schema drops and recreates the warehouse tables.
package schema

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/withObsrvr/sparkify-dwh/internal/queries"
	"github.com/withObsrvr/sparkify-dwh/internal/warehouse"
)

// Manager issues DDL for the seven pipeline tables.
type Manager struct {
	runner  *warehouse.Runner
	dialect queries.Dialect
}

// NewManager returns a Manager rendering DDL for dialect.
func NewManager(db warehouse.DB, dialect queries.Dialect, logger *slog.Logger) *Manager {
	return &Manager{
		runner:  warehouse.NewRunner(db, "schema", logger),
		dialect: dialect,
	}
}

// DropAll drops every table. Missing tables are not an error.
func (m *Manager) DropAll(ctx context.Context) error {
	if err := m.runner.ExecAll(ctx, queries.DropTables()); err != nil {
		return fmt.Errorf("drop tables: %w", err)
	}
	return nil
}

// CreateAll creates every table in dependency order.
func (m *Manager) CreateAll(ctx context.Context) error {
	if err := m.runner.ExecAll(ctx, queries.CreateTables(m.dialect)); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// Reset drops then creates all tables, leaving them empty.
func (m *Manager) Reset(ctx context.Context) error {
	if err := m.DropAll(ctx); err != nil {
		return err
	}
	return m.CreateAll(ctx)
}
