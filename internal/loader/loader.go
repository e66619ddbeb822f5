// Package loader bulk-loads the two staging tables from object storage.
package loader

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/withObsrvr/sparkify-dwh/internal/config"
	"github.com/withObsrvr/sparkify-dwh/internal/logging"
	"github.com/withObsrvr/sparkify-dwh/internal/queries"
	"github.com/withObsrvr/sparkify-dwh/internal/source"
	"github.com/withObsrvr/sparkify-dwh/internal/warehouse"
)

// Loader fills staging_events then staging_songs.
type Loader interface {
	LoadStaging(ctx context.Context) error
}

// Spec names the source of one staging table.
type Spec struct {
	Table     queries.Table
	Location  string
	JSONPaths string // empty for automatic key matching
}

// Specs returns the events and songs load specs in load order.
func Specs(s3 config.S3Config) []Spec {
	return []Spec{
		{Table: queries.StagingEvents, Location: s3.LogData, JSONPaths: s3.LogJSONPath},
		{Table: queries.StagingSongs, Location: s3.SongData},
	}
}

// New picks the load strategy for the configured dialect.
func New(ctx context.Context, cfg config.Config, db warehouse.DB, logger *slog.Logger) (Loader, error) {
	dialect, err := queries.ParseDialect(cfg.Warehouse.Dialect)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Component("loader")
	}

	switch dialect {
	case queries.Postgres:
		opts := source.Options{Region: cfg.Region, Endpoint: cfg.S3.Endpoint}
		return NewClientLoader(db, opts, Specs(cfg.S3), logger), nil

	default:
		creds, err := cfg.ResolveCredentials(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve credentials: %w", err)
		}
		builder := queries.CopyBuilder{
			Region:  cfg.Region,
			IAMRole: cfg.IAMRole,
			Credentials: queries.Credentials{
				AccessKeyID:     creds.AccessKeyID,
				SecretAccessKey: creds.SecretAccessKey,
				SessionToken:    creds.SessionToken,
			},
		}
		return NewCopyLoader(db, builder, Specs(cfg.S3), logger), nil
	}
}

// CopyLoader has the warehouse pull the objects itself with COPY.
type CopyLoader struct {
	runner  *warehouse.Runner
	builder queries.CopyBuilder
	specs   []Spec
}

// NewCopyLoader returns a loader issuing one COPY per staging table.
func NewCopyLoader(db warehouse.DB, builder queries.CopyBuilder, specs []Spec, logger *slog.Logger) *CopyLoader {
	return &CopyLoader{
		runner:  warehouse.NewRunner(db, "load", logger),
		builder: builder,
		specs:   specs,
	}
}

// LoadStaging builds every COPY up front, so a bad location or credential
// fails before anything is loaded, then runs them in order.
func (l *CopyLoader) LoadStaging(ctx context.Context) error {
	stmts := make([]queries.Statement, 0, len(l.specs))
	for _, s := range l.specs {
		stmt, err := l.builder.Build(queries.CopySource{
			Table:     s.Table,
			Location:  s.Location,
			JSONPaths: s.JSONPaths,
		})
		if err != nil {
			return fmt.Errorf("build copy for %s: %w", s.Table.Name, err)
		}
		stmts = append(stmts, stmt)
	}

	if err := l.runner.ExecAll(ctx, stmts); err != nil {
		return fmt.Errorf("load staging: %w", err)
	}
	return nil
}
