// Package queries holds every SQL statement the pipeline issues.
package queries

import (
	"embed"
	"fmt"
	"strings"
)

// Dialect selects engine-specific DDL and load strategy.
type Dialect string

const (
	Redshift Dialect = "redshift"
	Postgres Dialect = "postgres"
)

// ParseDialect validates a configured dialect name.
func ParseDialect(name string) (Dialect, error) {
	switch d := Dialect(strings.ToLower(name)); d {
	case Redshift, Postgres:
		return d, nil
	default:
		return "", fmt.Errorf("unknown dialect %q", name)
	}
}

func (d Dialect) identity() string {
	if d == Postgres {
		return "GENERATED BY DEFAULT AS IDENTITY"
	}
	return "IDENTITY(0,1)"
}

// Statement is one unit of work, committed on its own.
type Statement struct {
	Name string
	SQL  string

	// Display replaces SQL in logs when the text carries secrets.
	Display string
}

// LogText returns the SQL safe to log.
func (s Statement) LogText() string {
	if s.Display != "" {
		return s.Display
	}
	return s.SQL
}

// DropTables returns DROP TABLE IF EXISTS for every table.
func DropTables() []Statement {
	out := make([]Statement, 0, len(All))
	for _, t := range All {
		out = append(out, Statement{Name: "drop_" + t.Name, SQL: t.DropSQL()})
	}
	return out
}

// CreateTables returns CREATE TABLE IF NOT EXISTS for every table, in creation order.
func CreateTables(d Dialect) []Statement {
	out := make([]Statement, 0, len(All))
	for _, t := range All {
		out = append(out, Statement{Name: "create_" + t.Name, SQL: t.CreateSQL(d)})
	}
	return out
}

//go:embed sql/*.sql
var sqlFiles embed.FS

func mustSQL(name string) string {
	b, err := sqlFiles.ReadFile("sql/" + name + ".sql")
	if err != nil {
		panic(fmt.Sprintf("queries: missing embedded sql %s: %v", name, err))
	}
	return strings.TrimSpace(string(b))
}

// DimensionInserts populates users, songs, artists and time, in that order.
func DimensionInserts() []Statement {
	return []Statement{
		{Name: "insert_users", SQL: mustSQL("users_insert")},
		{Name: "insert_songs", SQL: mustSQL("songs_insert")},
		{Name: "insert_artists", SQL: mustSQL("artists_insert")},
		{Name: "insert_time", SQL: mustSQL("time_insert")},
	}
}

// FactInsert populates songplays from the staging tables.
func FactInsert() Statement {
	return Statement{Name: "insert_songplays", SQL: mustSQL("songplays_insert")}
}

// CountRows returns a row count query for a table.
func CountRows(t Table) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s", t.Name)
}

// SelectAll returns a full-table select with columns in definition order.
func SelectAll(t Table) string {
	return fmt.Sprintf("SELECT %s FROM %s", strings.Join(t.ColumnNames(), ", "), t.Name)
}
