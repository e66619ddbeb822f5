// Package warehouse owns the single database connection and executes
// statements one at a time, each committed before the next is issued.
package warehouse

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/withObsrvr/sparkify-dwh/internal/config"
	"github.com/withObsrvr/sparkify-dwh/internal/logging"
	"github.com/withObsrvr/sparkify-dwh/internal/metrics"
	"github.com/withObsrvr/sparkify-dwh/internal/queries"
)

const connectTimeout = 10 * time.Second

// DB is the subset of *pgx.Conn the pipeline uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

var _ DB = (*pgx.Conn)(nil)

// Open connects to the warehouse described by cfg. Redshift does not speak the
// extended query protocol reliably, so its connections use the simple protocol.
func Open(ctx context.Context, cfg config.Config) (*pgx.Conn, error) {
	connCfg, err := pgx.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}
	connCfg.ConnectTimeout = connectTimeout
	if cfg.Warehouse.Dialect == config.DialectRedshift {
		connCfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}

	conn, err := pgx.ConnectConfig(ctx, connCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to %s:%d/%s: %w", cfg.Cluster.Host, cfg.Cluster.Port, cfg.Cluster.DBName, err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("ping warehouse: %w", err)
	}

	logging.Component("warehouse").Info("connected",
		"host", cfg.Cluster.Host,
		"db", cfg.Cluster.DBName,
		"dialect", cfg.Warehouse.Dialect,
	)
	return conn, nil
}

// StatementError identifies the statement that failed. The driver error stays
// reachable through errors.As.
type StatementError struct {
	Name string
	Err  error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("execute %s: %v", e.Name, e.Err)
}

func (e *StatementError) Unwrap() error { return e.Err }

// Runner executes statements for one pipeline stage.
type Runner struct {
	db     DB
	stage  string
	logger *slog.Logger
}

// NewRunner returns a Runner that labels metrics with stage. A nil logger
// falls back to the warehouse component logger.
func NewRunner(db DB, stage string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = logging.Component("warehouse").With("stage", stage)
	}
	return &Runner{db: db, stage: stage, logger: logger}
}

// DB returns the connection the runner executes on.
func (r *Runner) DB() DB { return r.db }

// Exec runs one statement in autocommit mode and returns the rows affected.
func (r *Runner) Exec(ctx context.Context, stmt queries.Statement) (int64, error) {
	r.logger.Info("executing statement", "statement", stmt.Name)
	r.logger.Debug("statement text", "statement", stmt.Name, "sql", stmt.LogText())

	start := time.Now()
	tag, err := r.db.Exec(ctx, stmt.SQL)
	elapsed := time.Since(start)

	m := metrics.Get()
	if err != nil {
		if m != nil {
			m.IncStatementsFailed(r.stage, stmt.Name)
		}
		r.logger.Error("statement failed", "statement", stmt.Name, "duration", elapsed, "error", err)
		return 0, &StatementError{Name: stmt.Name, Err: err}
	}

	if m != nil {
		m.IncStatementsExecuted(r.stage, stmt.Name)
		m.ObserveStatementDuration(r.stage, stmt.Name, elapsed.Seconds())
	}
	r.logger.Info("statement committed",
		"statement", stmt.Name,
		"rows", tag.RowsAffected(),
		"duration", elapsed,
	)
	return tag.RowsAffected(), nil
}

// ExecAll runs stmts in order and stops at the first failure.
func (r *Runner) ExecAll(ctx context.Context, stmts []queries.Statement) error {
	for _, stmt := range stmts {
		if _, err := r.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// CountRows returns the number of rows in t.
func CountRows(ctx context.Context, db DB, t queries.Table) (int64, error) {
	var n int64
	if err := db.QueryRow(ctx, queries.CountRows(t)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", t.Name, err)
	}
	return n, nil
}
