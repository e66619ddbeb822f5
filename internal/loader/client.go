package loader

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/withObsrvr/sparkify-dwh/internal/logging"
	"github.com/withObsrvr/sparkify-dwh/internal/metrics"
	"github.com/withObsrvr/sparkify-dwh/internal/source"
	"github.com/withObsrvr/sparkify-dwh/internal/warehouse"
)

// ClientLoader reads the source objects itself and streams them into the
// warehouse with COPY FROM STDIN. Used where the engine cannot read object
// storage (plain PostgreSQL).
type ClientLoader struct {
	db     warehouse.DB
	opts   source.Options
	specs  []Spec
	logger *slog.Logger
}

// NewClientLoader returns a loader streaming each staging table with one CopyFrom.
func NewClientLoader(db warehouse.DB, opts source.Options, specs []Spec, logger *slog.Logger) *ClientLoader {
	if logger == nil {
		logger = logging.Component("loader")
	}
	return &ClientLoader{db: db, opts: opts, specs: specs, logger: logger}
}

// LoadStaging loads every staging table in order. Any unreadable object or
// unconvertible value aborts the table's COPY, so nothing partial is committed.
func (l *ClientLoader) LoadStaging(ctx context.Context) error {
	for _, s := range l.specs {
		if err := l.load(ctx, s); err != nil {
			return fmt.Errorf("load staging: %w", err)
		}
	}
	return nil
}

func (l *ClientLoader) mapping(ctx context.Context, s Spec) (Mapping, error) {
	if s.JSONPaths == "" {
		return AutoMapping(s.Table), nil
	}
	data, err := source.ReadObject(ctx, s.JSONPaths, l.opts)
	if err != nil {
		return Mapping{}, fmt.Errorf("read jsonpaths: %w", err)
	}
	paths, err := source.ParseJSONPaths(data)
	if err != nil {
		return Mapping{}, err
	}
	return PathMapping(s.Table, paths)
}

func (l *ClientLoader) load(ctx context.Context, s Spec) error {
	name := "copy_" + s.Table.Name
	log := l.logger.With("statement", name, "table", s.Table.Name)

	m, err := l.mapping(ctx, s)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	loc, err := source.OpenLocation(ctx, s.Location, l.opts)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	defer loc.Close()

	objects, err := loc.List(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	log.Info("executing statement", "location", s.Location, "objects", len(objects))

	rows := &objectRows{ctx: ctx, loc: loc, objects: objects, mapping: m}
	start := time.Now()
	n, err := l.db.CopyFrom(ctx, pgx.Identifier{s.Table.Name}, s.Table.ColumnNames(), rows)
	elapsed := time.Since(start)

	met := metrics.Get()
	if err != nil {
		if met != nil {
			met.IncStatementsFailed("load", name)
		}
		log.Error("statement failed", "duration", elapsed, "error", err)
		return &warehouse.StatementError{Name: name, Err: err}
	}

	if met != nil {
		met.IncStatementsExecuted("load", name)
		met.ObserveStatementDuration("load", name, elapsed.Seconds())
		met.AddRowsLoaded(s.Table.Name, float64(n))
		for range rows.done {
			met.IncObjectsLoaded(s.Table.Name)
		}
	}
	log.Info("statement committed", "rows", n, "objects", len(rows.done), "duration", elapsed)
	return nil
}

// objectRows implements pgx.CopyFromSource, decoding one object at a time.
type objectRows struct {
	ctx     context.Context
	loc     *source.Location
	objects []source.Object
	mapping Mapping

	buf  [][]any
	cur  []any
	err  error
	done []string
}

func (r *objectRows) Next() bool {
	for len(r.buf) == 0 {
		if r.err != nil || len(r.objects) == 0 {
			return false
		}
		obj := r.objects[0]
		r.objects = r.objects[1:]
		r.buf, r.err = r.read(obj.Key)
		if r.err != nil {
			return false
		}
		r.done = append(r.done, obj.Key)
	}
	r.cur, r.buf = r.buf[0], r.buf[1:]
	return true
}

func (r *objectRows) Values() ([]any, error) {
	return r.cur, nil
}

func (r *objectRows) Err() error {
	return r.err
}

func (r *objectRows) read(key string) ([][]any, error) {
	rc, err := r.loc.Open(r.ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var out [][]any
	_, err = source.EachRecord(rc, func(rec source.Record) error {
		row, err := r.mapping.Row(rec)
		if err != nil {
			return fmt.Errorf("record %d: %w", len(out)+1, err)
		}
		out = append(out, row)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return out, nil
}
