package unload

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/sparkify-dwh/internal/queries"
	"github.com/withObsrvr/sparkify-dwh/internal/source"
	"github.com/withObsrvr/sparkify-dwh/internal/storage"
	"github.com/withObsrvr/sparkify-dwh/internal/tables"
	"github.com/withObsrvr/sparkify-dwh/internal/warehouse/warehousetest"
)

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	target := "file://" + filepath.ToSlash(filepath.Join(t.TempDir(), "snapshots"))
	store, err := storage.Open(context.Background(), target, source.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func starFixture() *warehousetest.DB {
	start := time.Date(2018, 11, 13, 0, 30, 0, 0, time.UTC)
	db := warehousetest.New()
	result := func(t queries.Table, rows ...[]any) {
		db.Results[queries.SelectAll(t)] = warehousetest.Result{Columns: t.ColumnNames(), Rows: rows}
		db.Counts[t.Name] = int64(len(rows))
	}

	result(queries.Users,
		[]any{int32(10), "Ada", "Byron", "F", "paid"},
		[]any{int32(11), "Alan", "Turing", "M", nil},
	)
	result(queries.Songs, []any{"SO1", "X", "AR1", int32(2001), 201.9})
	result(queries.Artists, []any{"AR1", "Y", "New York", 40.7, nil})
	result(queries.Time, []any{start, int32(0), int32(13), int32(46), int32(11), int32(2018), int32(2)})
	result(queries.Songplays,
		[]any{int32(0), start, int32(10), "free", "SO1", "AR1", int32(1), "London", "Mozilla"},
		[]any{int32(1), start.Add(time.Minute), int32(10), "paid", nil, nil, int32(1), "London", "Mozilla"},
	)
	return db
}

func TestUnloader_PublishesSnapshot(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	db := starFixture()

	u := New(db, store, Options{
		RunID:    "run-1",
		Dialect:  queries.Postgres,
		Producer: storage.ProducerInfo{Name: "sparkify-etl", Version: "test"},
	}, nil)

	manifest, err := u.Run(ctx)
	require.NoError(t, err)
	require.Len(t, manifest.Tables, 5)
	require.EqualValues(t, 2, manifest.Tables["users"].RowCount)
	require.EqualValues(t, 2, manifest.Tables["songplays"].RowCount)
	require.Equal(t, "songplays.parquet", manifest.Tables["songplays"].File)

	exists, err := store.Exists(ctx, "run-1")
	require.NoError(t, err)
	require.True(t, exists)

	verified, err := Verify(ctx, store, "run-1")
	require.NoError(t, err)
	require.Equal(t, "postgres", verified.Snapshot.Dialect)
	require.Equal(t, tables.SchemaVersion, verified.Snapshot.SchemaVersion)

	data, err := store.ReadParquet(ctx, storage.SnapshotRef{RunID: "run-1", Table: "songplays"})
	require.NoError(t, err)
	plays, err := tables.DecodeParquet[tables.SongplayRow](data)
	require.NoError(t, err)
	require.Len(t, plays, 2)
	require.Equal(t, "SO1", *plays[0].SongID)
	require.Nil(t, plays[1].SongID)
}

func TestUnloader_FailureLeavesNothing(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	db := starFixture()
	delete(db.Results, queries.SelectAll(queries.Time))

	u := New(db, store, Options{RunID: "run-2"}, nil)
	_, err := u.Run(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "query time")

	exists, err := store.Exists(ctx, "run-2")
	require.NoError(t, err)
	require.False(t, exists)

	_, err = store.ReadParquet(ctx, storage.SnapshotRef{RunID: "run-2", Table: "users"})
	require.Error(t, err, "no table file should be published")
}

func TestUnloader_RefusesExistingRun(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	_, err := New(starFixture(), store, Options{RunID: "run-3"}, nil).Run(ctx)
	require.NoError(t, err)

	_, err = New(starFixture(), store, Options{RunID: "run-3"}, nil).Run(ctx)
	require.ErrorIs(t, err, storage.ErrSnapshotExists)
}

func TestVerify_DetectsTampering(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	manifest, err := New(starFixture(), store, Options{RunID: "run-4"}, nil).Run(ctx)
	require.NoError(t, err)

	info := manifest.Tables["users"]
	info.Checksum = tables.ComputeChecksum([]byte("something else"))
	manifest.Tables["users"] = info
	require.NoError(t, store.WriteManifest(ctx, manifest))

	_, err = Verify(ctx, store, "run-4")
	require.ErrorContains(t, err, "checksum mismatch for users")
}

func TestUnloader_RowCountMismatchAborts(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	db := starFixture()
	db.Counts["songplays"] = 3

	_, err := New(db, store, Options{RunID: "run-5"}, nil).Run(ctx)
	require.ErrorIs(t, err, ErrValidationFailed)
	require.ErrorContains(t, err, "row count mismatch for songplays: exported 2, warehouse has 3")

	exists, err := store.Exists(ctx, "run-5")
	require.NoError(t, err)
	require.False(t, exists)
}
