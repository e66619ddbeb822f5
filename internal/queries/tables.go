package queries

import (
	"fmt"
	"strings"
)

// Kind is the Go-side value class of a column, used when converting
// source JSON into COPY rows.
type Kind int

const (
	KindText Kind = iota
	KindInt
	KindBigInt
	KindFloat
	KindTimestamp
)

// Column describes one column of a warehouse table.
type Column struct {
	Name       string
	Type       string
	Kind       Kind
	PrimaryKey bool
	NotNull    bool
	SortKey    bool
	Identity   bool
}

// Table is a warehouse table definition rendered per dialect.
type Table struct {
	Name    string
	Columns []Column
}

// ColumnNames returns the column names as the engine stores them (folded to lower case).
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = strings.ToLower(c.Name)
	}
	return names
}

// Column returns the named column, matching case-insensitively.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Column{}, false
}

// CreateSQL renders CREATE TABLE IF NOT EXISTS for the dialect.
func (t Table) CreateSQL(d Dialect) string {
	width := 0
	for _, c := range t.Columns {
		if len(c.Name) > width {
			width = len(c.Name)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", t.Name)
	for i, c := range t.Columns {
		fmt.Fprintf(&b, "    %-*s %s", width, c.Name, c.Type)
		if c.Identity {
			b.WriteString(" " + d.identity())
		}
		if c.PrimaryKey {
			b.WriteString(" PRIMARY KEY")
		}
		if c.NotNull {
			b.WriteString(" NOT NULL")
		}
		if c.SortKey && d == Redshift {
			b.WriteString(" SORTKEY")
		}
		if i < len(t.Columns)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString(");")
	return b.String()
}

// DropSQL renders DROP TABLE IF EXISTS.
func (t Table) DropSQL() string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s;", t.Name)
}

var StagingEvents = Table{
	Name: "staging_events",
	Columns: []Column{
		{Name: "artist", Type: "VARCHAR(1024)", Kind: KindText},
		{Name: "auth", Type: "VARCHAR(50)", Kind: KindText},
		{Name: "firstName", Type: "VARCHAR(100)", Kind: KindText},
		{Name: "gender", Type: "VARCHAR(10)", Kind: KindText},
		{Name: "itemInSession", Type: "INTEGER", Kind: KindInt},
		{Name: "lastName", Type: "VARCHAR(100)", Kind: KindText},
		{Name: "length", Type: "FLOAT", Kind: KindFloat},
		{Name: "level", Type: "VARCHAR(50)", Kind: KindText},
		{Name: "location", Type: "VARCHAR(1024)", Kind: KindText},
		{Name: "method", Type: "VARCHAR(10)", Kind: KindText},
		{Name: "page", Type: "VARCHAR(50)", Kind: KindText},
		{Name: "registration", Type: "BIGINT", Kind: KindBigInt},
		{Name: "sessionId", Type: "INTEGER", Kind: KindInt},
		{Name: "song", Type: "VARCHAR(1024)", Kind: KindText},
		{Name: "status", Type: "INTEGER", Kind: KindInt},
		{Name: "ts", Type: "BIGINT", Kind: KindBigInt},
		{Name: "userAgent", Type: "VARCHAR(1024)", Kind: KindText},
		{Name: "userId", Type: "INTEGER", Kind: KindInt},
	},
}

var StagingSongs = Table{
	Name: "staging_songs",
	Columns: []Column{
		{Name: "num_songs", Type: "INTEGER", Kind: KindInt},
		{Name: "artist_id", Type: "VARCHAR(50)", Kind: KindText},
		{Name: "artist_latitude", Type: "FLOAT", Kind: KindFloat},
		{Name: "artist_longitude", Type: "FLOAT", Kind: KindFloat},
		{Name: "artist_location", Type: "VARCHAR(1024)", Kind: KindText},
		{Name: "artist_name", Type: "VARCHAR(1024)", Kind: KindText},
		{Name: "song_id", Type: "VARCHAR(50)", Kind: KindText},
		{Name: "title", Type: "VARCHAR(1024)", Kind: KindText},
		{Name: "duration", Type: "FLOAT", Kind: KindFloat},
		{Name: "year", Type: "INTEGER", Kind: KindInt},
	},
}

var Users = Table{
	Name: "users",
	Columns: []Column{
		{Name: "user_id", Type: "INTEGER", Kind: KindInt, PrimaryKey: true},
		{Name: "first_name", Type: "VARCHAR(100)", Kind: KindText},
		{Name: "last_name", Type: "VARCHAR(100)", Kind: KindText},
		{Name: "gender", Type: "VARCHAR(10)", Kind: KindText},
		{Name: "level", Type: "VARCHAR(50)", Kind: KindText},
	},
}

var Songs = Table{
	Name: "songs",
	Columns: []Column{
		{Name: "song_id", Type: "VARCHAR(50)", Kind: KindText, PrimaryKey: true},
		{Name: "title", Type: "VARCHAR(1024)", Kind: KindText},
		{Name: "artist_id", Type: "VARCHAR(50)", Kind: KindText},
		{Name: "year", Type: "INTEGER", Kind: KindInt},
		{Name: "duration", Type: "FLOAT", Kind: KindFloat},
	},
}

var Artists = Table{
	Name: "artists",
	Columns: []Column{
		{Name: "artist_id", Type: "VARCHAR(50)", Kind: KindText, PrimaryKey: true},
		{Name: "name", Type: "VARCHAR(1024)", Kind: KindText},
		{Name: "location", Type: "VARCHAR(1024)", Kind: KindText},
		{Name: "latitude", Type: "FLOAT", Kind: KindFloat},
		{Name: "longitude", Type: "FLOAT", Kind: KindFloat},
	},
}

var Time = Table{
	Name: "time",
	Columns: []Column{
		{Name: "start_time", Type: "TIMESTAMP", Kind: KindTimestamp, PrimaryKey: true, SortKey: true},
		{Name: "hour", Type: "INTEGER", Kind: KindInt},
		{Name: "day", Type: "INTEGER", Kind: KindInt},
		{Name: "week", Type: "INTEGER", Kind: KindInt},
		{Name: "month", Type: "INTEGER", Kind: KindInt},
		{Name: "year", Type: "INTEGER", Kind: KindInt},
		{Name: "weekday", Type: "INTEGER", Kind: KindInt},
	},
}

var Songplays = Table{
	Name: "songplays",
	Columns: []Column{
		{Name: "songplay_id", Type: "INTEGER", Kind: KindInt, Identity: true, PrimaryKey: true},
		{Name: "start_time", Type: "TIMESTAMP", Kind: KindTimestamp, NotNull: true, SortKey: true},
		{Name: "user_id", Type: "INTEGER", Kind: KindInt, NotNull: true},
		{Name: "level", Type: "VARCHAR(50)", Kind: KindText},
		{Name: "song_id", Type: "VARCHAR(50)", Kind: KindText},
		{Name: "artist_id", Type: "VARCHAR(50)", Kind: KindText},
		{Name: "session_id", Type: "INTEGER", Kind: KindInt},
		{Name: "location", Type: "VARCHAR(1024)", Kind: KindText},
		{Name: "user_agent", Type: "VARCHAR(1024)", Kind: KindText},
	},
}

// All lists every table in creation order.
var All = []Table{StagingEvents, StagingSongs, Users, Songs, Artists, Time, Songplays}

// StarSchema lists the dimension tables followed by the fact table.
var StarSchema = []Table{Users, Songs, Artists, Time, Songplays}
