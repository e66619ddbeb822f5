// Package warehousetest provides a recording warehouse.DB for unit tests.
package warehousetest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Copy is one recorded CopyFrom call.
type Copy struct {
	Table   string
	Columns []string
	Rows    [][]any
}

// DB records every statement it receives in order.
type DB struct {
	Statements []string
	Copies     []Copy

	// FailOn makes Exec and CopyFrom fail when the statement (or "COPY <table>")
	// contains this substring.
	FailOn string
	Err    error

	// Counts answers SELECT COUNT(*) FROM <table>.
	Counts map[string]int64

	// Results answers Query, keyed by the exact SQL text.
	Results map[string]Result
}

// Result is a canned query result. Values must have the Go type of the
// scan target (or its element type for pointer targets).
type Result struct {
	Columns []string
	Rows    [][]any
}

// New returns an empty recorder.
func New() *DB {
	return &DB{Counts: make(map[string]int64), Results: make(map[string]Result)}
}

func (d *DB) failure(text string) error {
	if d.FailOn == "" || !strings.Contains(text, d.FailOn) {
		return nil
	}
	if d.Err != nil {
		return d.Err
	}
	return errors.New("warehousetest: injected failure")
}

func (d *DB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	d.Statements = append(d.Statements, sql)
	if err := d.failure(sql); err != nil {
		return pgconn.CommandTag{}, err
	}
	return pgconn.NewCommandTag("OK 0"), nil
}

func (d *DB) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	d.Statements = append(d.Statements, sql)
	const prefix = "SELECT COUNT(*) FROM "
	if !strings.HasPrefix(sql, prefix) {
		return row{err: fmt.Errorf("warehousetest: unsupported query %q", sql)}
	}
	return row{n: d.Counts[strings.TrimPrefix(sql, prefix)]}
}

func (d *DB) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	d.Statements = append(d.Statements, sql)
	if err := d.failure(sql); err != nil {
		return nil, err
	}
	res, ok := d.Results[sql]
	if !ok {
		return nil, fmt.Errorf("warehousetest: unsupported query %q", sql)
	}
	return &rows{result: res}, nil
}

func (d *DB) CopyFrom(_ context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error) {
	name := strings.Join(table, ".")
	if err := d.failure("COPY " + name); err != nil {
		return 0, err
	}

	c := Copy{Table: name, Columns: columns}
	for src.Next() {
		values, err := src.Values()
		if err != nil {
			return 0, err
		}
		c.Rows = append(c.Rows, values)
	}
	if err := src.Err(); err != nil {
		return 0, err
	}
	d.Copies = append(d.Copies, c)
	return int64(len(c.Rows)), nil
}

type row struct {
	n   int64
	err error
}

func (r row) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != 1 {
		return fmt.Errorf("warehousetest: expected 1 scan target, got %d", len(dest))
	}
	p, ok := dest[0].(*int64)
	if !ok {
		return fmt.Errorf("warehousetest: unsupported scan target %T", dest[0])
	}
	*p = r.n
	return nil
}

// rows implements pgx.Rows over a Result.
type rows struct {
	result Result
	pos    int
	err    error
}

func (r *rows) Close()                        {}
func (r *rows) Err() error                    { return r.err }
func (r *rows) CommandTag() pgconn.CommandTag { return pgconn.NewCommandTag("SELECT") }
func (r *rows) RawValues() [][]byte           { return nil }
func (r *rows) Conn() *pgx.Conn               { return nil }

func (r *rows) FieldDescriptions() []pgconn.FieldDescription {
	fields := make([]pgconn.FieldDescription, len(r.result.Columns))
	for i, c := range r.result.Columns {
		fields[i] = pgconn.FieldDescription{Name: c}
	}
	return fields
}

func (r *rows) Next() bool {
	if r.err != nil || r.pos >= len(r.result.Rows) {
		return false
	}
	r.pos++
	return true
}

func (r *rows) Values() ([]any, error) {
	return r.result.Rows[r.pos-1], nil
}

func (r *rows) Scan(dest ...any) error {
	values := r.result.Rows[r.pos-1]
	if len(dest) != len(values) {
		r.err = fmt.Errorf("warehousetest: expected %d scan targets, got %d", len(values), len(dest))
		return r.err
	}
	for i, d := range dest {
		if err := assign(d, values[i]); err != nil {
			r.err = fmt.Errorf("warehousetest: column %s: %w", r.result.Columns[i], err)
			return r.err
		}
	}
	return nil
}

func assign(dest, value any) error {
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Pointer || dv.IsNil() {
		return fmt.Errorf("scan target %T is not a pointer", dest)
	}
	target := dv.Elem()
	if value == nil {
		target.Set(reflect.Zero(target.Type()))
		return nil
	}

	v := reflect.ValueOf(value)
	if target.Kind() == reflect.Pointer && v.Type().AssignableTo(target.Type().Elem()) {
		p := reflect.New(target.Type().Elem())
		p.Elem().Set(v)
		target.Set(p)
		return nil
	}
	if !v.Type().AssignableTo(target.Type()) {
		return fmt.Errorf("cannot assign %T to %s", value, target.Type())
	}
	target.Set(v)
	return nil
}
