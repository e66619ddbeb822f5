// Package transform builds the star schema from the staging tables.
package transform

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/withObsrvr/sparkify-dwh/internal/queries"
	"github.com/withObsrvr/sparkify-dwh/internal/warehouse"
)

// Transformer runs the INSERT ... SELECT statements.
type Transformer struct {
	runner *warehouse.Runner
}

// New returns a Transformer executing on db.
func New(db warehouse.DB, logger *slog.Logger) *Transformer {
	return &Transformer{runner: warehouse.NewRunner(db, "transform", logger)}
}

// PopulateDimensions fills users, songs, artists and time.
func (t *Transformer) PopulateDimensions(ctx context.Context) error {
	if err := t.runner.ExecAll(ctx, queries.DimensionInserts()); err != nil {
		return fmt.Errorf("populate dimensions: %w", err)
	}
	return nil
}

// PopulateFact fills songplays from NextSong events.
func (t *Transformer) PopulateFact(ctx context.Context) error {
	if _, err := t.runner.Exec(ctx, queries.FactInsert()); err != nil {
		return fmt.Errorf("populate fact: %w", err)
	}
	return nil
}

// Run populates the dimensions, then the fact table.
func (t *Transformer) Run(ctx context.Context) error {
	if err := t.PopulateDimensions(ctx); err != nil {
		return err
	}
	return t.PopulateFact(ctx)
}
