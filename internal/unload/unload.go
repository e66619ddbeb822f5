// Package unload exports the star schema of a finished run as parquet files
// with a checksummed manifest.
package unload

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/withObsrvr/sparkify-dwh/internal/logging"
	"github.com/withObsrvr/sparkify-dwh/internal/metrics"
	"github.com/withObsrvr/sparkify-dwh/internal/queries"
	"github.com/withObsrvr/sparkify-dwh/internal/storage"
	"github.com/withObsrvr/sparkify-dwh/internal/tables"
	"github.com/withObsrvr/sparkify-dwh/internal/warehouse"
)

// encodeFunc reads every row of a table and returns its parquet bytes.
type encodeFunc func(ctx context.Context, db warehouse.DB, t queries.Table) ([]byte, int64, error)

type export struct {
	table  queries.Table
	encode encodeFunc
}

var exports = []export{
	{queries.Users, encodeTable[tables.UserRow]},
	{queries.Songs, encodeTable[tables.SongRow]},
	{queries.Artists, encodeTable[tables.ArtistRow]},
	{queries.Time, encodeTable[tables.TimeRow]},
	{queries.Songplays, encodeTable[tables.SongplayRow]},
}

func encodeTable[T any](ctx context.Context, db warehouse.DB, t queries.Table) ([]byte, int64, error) {
	rows, err := db.Query(ctx, queries.SelectAll(t))
	if err != nil {
		return nil, 0, fmt.Errorf("query %s: %w", t.Name, err)
	}
	items, err := pgx.CollectRows(rows, pgx.RowToStructByName[T])
	if err != nil {
		return nil, 0, fmt.Errorf("scan %s: %w", t.Name, err)
	}

	data, err := tables.EncodeParquet(items)
	if err != nil {
		return nil, 0, fmt.Errorf("encode %s: %w", t.Name, err)
	}
	return data, int64(len(items)), nil
}

// Options configure an Unloader.
type Options struct {
	RunID    string
	Dialect  queries.Dialect
	Producer storage.ProducerInfo
}

// Unloader snapshots the star schema into a Store.
type Unloader struct {
	db    warehouse.DB
	store *storage.Store
	opts  Options
	log   *slog.Logger
}

// New returns an Unloader. A nil logger falls back to the unload component logger.
func New(db warehouse.DB, store *storage.Store, opts Options, logger *slog.Logger) *Unloader {
	if logger == nil {
		logger = logging.Component("unload").With("run_id", opts.RunID)
	}
	return &Unloader{db: db, store: store, opts: opts, log: logger}
}

// Run writes every star table to temp storage, validates the snapshot against
// the warehouse row counts, then publishes the tables and the manifest.
// Nothing becomes visible under the run directory unless every table passed.
func (u *Unloader) Run(ctx context.Context) (*storage.Manifest, error) {
	start := time.Now()

	exists, err := u.store.Exists(ctx, u.opts.RunID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: run %s", storage.ErrSnapshotExists, u.opts.RunID)
	}

	manifest := &storage.Manifest{
		Snapshot: storage.SnapshotInfo{
			RunID:         u.opts.RunID,
			Dialect:       string(u.opts.Dialect),
			SchemaVersion: tables.SchemaVersion,
		},
		Tables:   make(map[string]storage.TableInfo, len(exports)),
		Producer: u.opts.Producer,
	}

	var (
		refs     []storage.SnapshotRef
		tempKeys []string
	)
	abort := func(cause error) error {
		if err := u.store.Abort(ctx, tempKeys); err != nil {
			u.log.Warn("failed to remove temp files", "error", err)
		}
		return cause
	}

	for _, e := range exports {
		data, rowCount, err := e.encode(ctx, u.db, e.table)
		if err != nil {
			return nil, abort(err)
		}

		ref := storage.SnapshotRef{RunID: u.opts.RunID, Table: e.table.Name}
		key, err := u.store.WriteParquetTemp(ctx, ref, data)
		if err != nil {
			return nil, abort(err)
		}
		refs = append(refs, ref)
		tempKeys = append(tempKeys, key)

		manifest.Tables[e.table.Name] = storage.TableInfo{
			File:     e.table.Name + ".parquet",
			Checksum: tables.ComputeChecksum(data),
			RowCount: rowCount,
			ByteSize: int64(len(data)),
		}
		if m := metrics.Get(); m != nil {
			m.AddSnapshotBytes(e.table.Name, float64(len(data)))
		}
		u.log.Info("table exported", "table", e.table.Name, "rows", rowCount, "bytes", len(data))
	}

	counts := make(map[string]int64, len(exports))
	for _, e := range exports {
		n, err := warehouse.CountRows(ctx, u.db, e.table)
		if err != nil {
			return nil, abort(err)
		}
		counts[e.table.Name] = n
	}

	result := ValidateSnapshot(manifest, counts)
	for _, w := range result.Warnings {
		u.log.Warn("snapshot validation warning", "warning", w)
	}
	if err := result.Err(); err != nil {
		return nil, abort(err)
	}

	if err := u.store.Finalize(ctx, refs); err != nil {
		return nil, abort(err)
	}

	manifest.CreatedAt = time.Now().UTC()
	if err := u.store.WriteManifest(ctx, manifest); err != nil {
		return nil, err
	}

	u.log.Info("snapshot published",
		"uri", u.store.URI(storage.ManifestPath(u.store.Prefix(), u.opts.RunID)),
		"tables", len(manifest.Tables),
		"duration", time.Since(start),
	)
	return manifest, nil
}

// Verify re-reads a published snapshot and checks every table against the
// manifest checksums.
func Verify(ctx context.Context, store *storage.Store, runID string) (*storage.Manifest, error) {
	manifest, err := store.ReadManifest(ctx, runID)
	if err != nil {
		return nil, err
	}

	for name, info := range manifest.Tables {
		data, err := store.ReadParquet(ctx, storage.SnapshotRef{RunID: runID, Table: name})
		if err != nil {
			return nil, err
		}
		if !tables.VerifyChecksum(data, info.Checksum) {
			return nil, fmt.Errorf("checksum mismatch for %s: manifest %s", name, info.Checksum)
		}
	}
	return manifest, nil
}
