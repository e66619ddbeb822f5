// Package pipeline drives the warehouse through its three stages:
// SCHEMA_READY, STAGED and TRANSFORMED.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/withObsrvr/sparkify-dwh/internal/loader"
	"github.com/withObsrvr/sparkify-dwh/internal/logging"
	"github.com/withObsrvr/sparkify-dwh/internal/metrics"
	"github.com/withObsrvr/sparkify-dwh/internal/queries"
	"github.com/withObsrvr/sparkify-dwh/internal/schema"
	"github.com/withObsrvr/sparkify-dwh/internal/transform"
	"github.com/withObsrvr/sparkify-dwh/internal/warehouse"
)

// Version information (set via ldflags)
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

// ErrInvalidTransition is returned when a stage runs out of order.
var ErrInvalidTransition = errors.New("invalid stage transition")

// State is the pipeline's position in its linear lifecycle.
type State int

const (
	SchemaReady State = iota
	Staged
	Transformed
)

func (s State) String() string {
	switch s {
	case SchemaReady:
		return "SCHEMA_READY"
	case Staged:
		return "STAGED"
	case Transformed:
		return "TRANSFORMED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options configure a Pipeline.
type Options struct {
	Dialect queries.Dialect
	RunID   string // generated when empty
}

// Pipeline runs every stage on one connection, one statement at a time.
// The tables are assumed to exist when it starts; ResetSchema may be called
// from any state to recreate them.
type Pipeline struct {
	db          warehouse.DB
	schema      *schema.Manager
	loader      loader.Loader
	transformer *transform.Transformer

	runID   string
	state   State
	reports []Report
	log     *slog.Logger
}

// New returns a pipeline in the SCHEMA_READY state.
func New(db warehouse.DB, ld loader.Loader, opts Options) *Pipeline {
	runID := opts.RunID
	if runID == "" {
		runID = logging.NewRunID()
	}
	dialect := opts.Dialect
	if dialect == "" {
		dialect = queries.Redshift
	}

	return &Pipeline{
		db:          db,
		schema:      schema.NewManager(db, dialect, logging.RunLogger(runID, "schema")),
		loader:      ld,
		transformer: transform.New(db, logging.RunLogger(runID, "transform")),
		runID:       runID,
		state:       SchemaReady,
		log:         logging.RunLogger(runID, "pipeline"),
	}
}

// RunID identifies this invocation in logs and snapshots.
func (p *Pipeline) RunID() string { return p.runID }

// State returns the current stage.
func (p *Pipeline) State() State { return p.state }

// Reports returns the row-count reports of every completed stage.
func (p *Pipeline) Reports() []Report { return p.reports }

func (p *Pipeline) require(want State, action string) error {
	if p.state != want {
		return fmt.Errorf("%w: %s requires %s, pipeline is %s", ErrInvalidTransition, action, want, p.state)
	}
	return nil
}

// ResetSchema drops and recreates every table.
func (p *Pipeline) ResetSchema(ctx context.Context) error {
	start := time.Now()
	if err := p.schema.Reset(ctx); err != nil {
		return err
	}
	return p.advance(ctx, SchemaReady, start, queries.All)
}

// Stage bulk-loads the staging tables.
func (p *Pipeline) Stage(ctx context.Context) error {
	if err := p.require(SchemaReady, "stage"); err != nil {
		return err
	}
	if p.loader == nil {
		return errors.New("stage: no loader configured")
	}

	start := time.Now()
	if err := p.loader.LoadStaging(ctx); err != nil {
		return err
	}
	return p.advance(ctx, Staged, start, []queries.Table{queries.StagingEvents, queries.StagingSongs})
}

// Transform populates the dimensions and then the fact table.
func (p *Pipeline) Transform(ctx context.Context) error {
	if err := p.require(Staged, "transform"); err != nil {
		return err
	}

	start := time.Now()
	if err := p.transformer.Run(ctx); err != nil {
		return err
	}
	return p.advance(ctx, Transformed, start, queries.StarSchema)
}

// RunETL loads staging and builds the star schema.
func (p *Pipeline) RunETL(ctx context.Context) error {
	p.log.Info("starting etl", "version", Version, "git_sha", GitSHA)

	if err := p.Stage(ctx); err != nil {
		return err
	}
	if err := p.Transform(ctx); err != nil {
		return err
	}

	if m := metrics.Get(); m != nil {
		m.SetLastSuccess(float64(time.Now().Unix()))
	}
	p.log.Info("etl complete", "state", p.state)
	return nil
}

func (p *Pipeline) advance(ctx context.Context, next State, start time.Time, tables []queries.Table) error {
	report, err := BuildReport(ctx, p.db, p.runID, next, tables)
	if err != nil {
		return err
	}
	report.Duration = time.Since(start)

	p.state = next
	p.reports = append(p.reports, report)
	report.Log(p.log)
	report.Record(metrics.Get())
	return nil
}
