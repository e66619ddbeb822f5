package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/withObsrvr/sparkify-dwh/internal/config"
	"github.com/withObsrvr/sparkify-dwh/internal/loader"
	"github.com/withObsrvr/sparkify-dwh/internal/queries"
	"github.com/withObsrvr/sparkify-dwh/internal/source"
	"github.com/withObsrvr/sparkify-dwh/internal/storage"
	"github.com/withObsrvr/sparkify-dwh/internal/tables"
	"github.com/withObsrvr/sparkify-dwh/internal/unload"
	"github.com/withObsrvr/sparkify-dwh/internal/warehouse"
)

const fixtureJSONPaths = `{
    "jsonpaths": [
        "$['artist']", "$['auth']", "$['firstName']", "$['gender']", "$['itemInSession']",
        "$['lastName']", "$['length']", "$['level']", "$['location']", "$['method']",
        "$['page']", "$['registration']", "$['sessionId']", "$['song']", "$['status']",
        "$['ts']", "$['userAgent']", "$['userId']"
    ]
}`

// Two plays by user 10 (free, then paid), one login by user 11 sharing the
// first play's timestamp.
const fixtureEvents = `{"artist":"Y","auth":"Logged In","firstName":"Ada","gender":"F","itemInSession":0,"lastName":"Byron","length":200.5,"level":"free","location":"London","method":"PUT","page":"NextSong","registration":1540919166796.0,"sessionId":1,"song":"X","status":200,"ts":1542069000000,"userAgent":"Mozilla","userId":"10"}
{"artist":"Z","auth":"Logged In","firstName":"Ada","gender":"F","itemInSession":1,"lastName":"Byron","length":200.5,"level":"paid","location":"London","method":"PUT","page":"NextSong","registration":null,"sessionId":1,"song":"X","status":200,"ts":1542069060000,"userAgent":"Mozilla","userId":"10"}
{"artist":null,"auth":"Logged In","firstName":"Alan","gender":"M","itemInSession":0,"lastName":"Turing","length":null,"level":"free","location":"Wilmslow","method":"GET","page":"Login","registration":null,"sessionId":2,"song":null,"status":200,"ts":1542069000000,"userAgent":"Mozilla","userId":"11"}
`

// SO1 matches the first play within tolerance (1.4s); SO2 is 2.5s off the second.
const (
	fixtureSong1 = `{"num_songs":1,"artist_id":"AR1","artist_latitude":40.7,"artist_longitude":-74.0,"artist_location":"New York","artist_name":"Y","song_id":"SO1","title":"X","duration":201.9,"year":2001}`
	fixtureSong2 = `{"num_songs":1,"artist_id":"AR2","artist_latitude":null,"artist_longitude":null,"artist_location":"","artist_name":"Z","song_id":"SO2","title":"X","duration":203.0,"year":0}`
)

func writeFixture(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func fixtureS3(t *testing.T) config.S3Config {
	t.Helper()
	dir := t.TempDir()
	uri := func(p string) string { return "file://" + filepath.ToSlash(filepath.Join(dir, p)) }

	writeFixture(t, filepath.Join(dir, "log_json_path.json"), fixtureJSONPaths)
	writeFixture(t, filepath.Join(dir, "log_data", "2018", "11", "2018-11-13-events.json"), fixtureEvents)
	writeFixture(t, filepath.Join(dir, "song_data", "A", "SO1.json"), fixtureSong1)
	writeFixture(t, filepath.Join(dir, "song_data", "B", "SO2.json"), fixtureSong2)

	return config.S3Config{
		LogData:     uri("log_data"),
		LogJSONPath: uri("log_json_path.json"),
		SongData:    uri("song_data"),
	}
}

func startWarehouse(t *testing.T) config.Config {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("dwh"),
		postgres.WithUsername("dwhuser"),
		postgres.WithPassword("dwhpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(context.Background()); err != nil {
			t.Logf("failed to cleanup postgres container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return config.Config{
		Cluster: config.ClusterConfig{
			Host:     host,
			Port:     port.Int(),
			DBName:   "dwh",
			User:     "dwhuser",
			Password: "dwhpass",
		},
		Warehouse: config.WarehouseConfig{Dialect: config.DialectPostgres, SSLMode: "disable"},
		Metrics:   config.MetricsConfig{Job: "sparkify_etl"},
	}
}

type columnDef struct {
	Table, Column, Type string
}

func describeSchema(t *testing.T, conn *pgx.Conn) []columnDef {
	t.Helper()
	rows, err := conn.Query(context.Background(), `
		SELECT table_name::text, column_name::text, data_type::text
		FROM information_schema.columns
		WHERE table_schema = 'public'
		ORDER BY table_name, ordinal_position`)
	require.NoError(t, err)
	defs, err := pgx.CollectRows(rows, pgx.RowToStructByPos[columnDef])
	require.NoError(t, err)
	return defs
}

func count(t *testing.T, conn *pgx.Conn, sql string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, conn.QueryRow(context.Background(), sql, args...).Scan(&n))
	return n
}

func TestIntegration_Postgres(t *testing.T) {
	cfg := startWarehouse(t)
	cfg.S3 = fixtureS3(t)
	ctx := context.Background()

	conn, err := warehouse.Open(ctx, cfg)
	require.NoError(t, err)
	defer conn.Close(ctx)

	ld, err := loader.New(ctx, cfg, conn, nil)
	require.NoError(t, err)

	t.Run("reset is idempotent", func(t *testing.T) {
		p := New(conn, ld, Options{Dialect: queries.Postgres})

		require.NoError(t, p.ResetSchema(ctx))
		first := describeSchema(t, conn)
		require.NoError(t, p.ResetSchema(ctx))
		second := describeSchema(t, conn)

		require.Equal(t, first, second)
		tables := map[string]bool{}
		for _, c := range first {
			tables[c.Table] = true
		}
		require.Len(t, tables, 7)

		for _, tc := range p.Reports()[1].Tables {
			require.Zero(t, tc.Rows, tc.Table)
		}
	})

	p := New(conn, ld, Options{Dialect: queries.Postgres})
	require.NoError(t, p.ResetSchema(ctx))
	require.NoError(t, p.RunETL(ctx))
	require.Equal(t, Transformed, p.State())

	t.Run("load completeness", func(t *testing.T) {
		require.EqualValues(t, 3, count(t, conn, "SELECT COUNT(*) FROM staging_events"))
		require.EqualValues(t, 2, count(t, conn, "SELECT COUNT(*) FROM staging_songs"))

		var (
			firstName string
			length    float64
			userAgent string
		)
		require.NoError(t, conn.QueryRow(ctx,
			"SELECT firstname, length, useragent FROM staging_events WHERE userid = 10 AND ts = 1542069000000",
		).Scan(&firstName, &length, &userAgent))
		require.Equal(t, "Ada", firstName)
		require.Equal(t, 200.5, length)
		require.Equal(t, "Mozilla", userAgent)

		require.EqualValues(t, 2, count(t, conn, "SELECT COUNT(*) FROM staging_events WHERE registration IS NULL"))
	})

	t.Run("dimension dedup", func(t *testing.T) {
		require.EqualValues(t, 1, count(t, conn, "SELECT COUNT(*) FROM users WHERE user_id = 10"))
		require.EqualValues(t, 2, count(t, conn, "SELECT COUNT(*) FROM users"))

		var level string
		require.NoError(t, conn.QueryRow(ctx, "SELECT level FROM users WHERE user_id = 10").Scan(&level))
		require.Equal(t, "paid", level, "latest event decides the level")

		require.EqualValues(t, 2, count(t, conn, "SELECT COUNT(*) FROM songs"))
		require.EqualValues(t, 2, count(t, conn, "SELECT COUNT(*) FROM artists"))
	})

	t.Run("fact filter", func(t *testing.T) {
		require.EqualValues(t, 2, count(t, conn, "SELECT COUNT(*) FROM songplays"))
		require.EqualValues(t, 0, count(t, conn, "SELECT COUNT(*) FROM songplays WHERE user_id = 11"))
	})

	t.Run("fact join tolerance", func(t *testing.T) {
		rows, err := conn.Query(ctx, "SELECT song_id, artist_id FROM songplays ORDER BY start_time")
		require.NoError(t, err)
		type play struct {
			SongID   *string
			ArtistID *string
		}
		plays, err := pgx.CollectRows(rows, pgx.RowToStructByPos[play])
		require.NoError(t, err)
		require.Len(t, plays, 2)

		// 200.5 vs 201.9
		require.NotNil(t, plays[0].SongID)
		require.Equal(t, "SO1", *plays[0].SongID)
		require.Equal(t, "AR1", *plays[0].ArtistID)

		// 200.5 vs 203.0
		require.Nil(t, plays[1].SongID)
		require.Nil(t, plays[1].ArtistID)
	})

	t.Run("time decomposition", func(t *testing.T) {
		require.EqualValues(t, 2, count(t, conn, "SELECT COUNT(*) FROM time"))
		require.EqualValues(t, 1, count(t, conn,
			"SELECT COUNT(*) FROM time WHERE start_time = TIMESTAMP '2018-11-13 00:30:00'"))

		var hour, day, week, month, year, weekday int32
		require.NoError(t, conn.QueryRow(ctx,
			"SELECT hour, day, week, month, year, weekday FROM time WHERE start_time = TIMESTAMP '2018-11-13 00:30:00'",
		).Scan(&hour, &day, &week, &month, &year, &weekday))
		require.Equal(t, []int32{0, 13, 46, 11, 2018, 2}, []int32{hour, day, week, month, year, weekday})
	})

	t.Run("reports", func(t *testing.T) {
		reports := p.Reports()
		require.Len(t, reports, 3)
		require.EqualValues(t, 3, reports[1].Rows("staging_events"))
		require.EqualValues(t, 2, reports[2].Rows("songplays"))
	})

	t.Run("snapshot", func(t *testing.T) {
		target := "file://" + filepath.ToSlash(filepath.Join(t.TempDir(), "snapshots"))
		store, err := storage.Open(ctx, target, source.Options{})
		require.NoError(t, err)
		defer store.Close()

		manifest, err := unload.New(conn, store, unload.Options{RunID: p.RunID(), Dialect: queries.Postgres}, nil).Run(ctx)
		require.NoError(t, err)
		for _, tc := range p.Reports()[2].Tables {
			require.Equal(t, tc.Rows, manifest.Tables[tc.Table].RowCount, tc.Table)
		}

		data, err := store.ReadParquet(ctx, storage.SnapshotRef{RunID: p.RunID(), Table: "time"})
		require.NoError(t, err)
		rows, err := tables.DecodeParquet[tables.TimeRow](data)
		require.NoError(t, err)
		require.Len(t, rows, 2)
	})
}
