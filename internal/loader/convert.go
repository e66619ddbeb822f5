package loader

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/withObsrvr/sparkify-dwh/internal/queries"
	"github.com/withObsrvr/sparkify-dwh/internal/source"
)

// ErrConversion is returned when a JSON value cannot be stored in its column.
var ErrConversion = errors.New("value does not fit column")

// Mapping resolves each column of a table from a decoded record.
type Mapping struct {
	Table queries.Table
	Paths []source.JSONPath // one per column, in column order
}

// AutoMapping matches top-level keys to the lower-cased column names.
func AutoMapping(t queries.Table) Mapping {
	paths := make([]source.JSONPath, len(t.Columns))
	for i, name := range t.ColumnNames() {
		paths[i] = source.JSONPath{name}
	}
	return Mapping{Table: t, Paths: paths}
}

// PathMapping assigns the n-th path to the n-th column.
func PathMapping(t queries.Table, paths []source.JSONPath) (Mapping, error) {
	if len(paths) != len(t.Columns) {
		return Mapping{}, fmt.Errorf("jsonpaths for %s: have %d paths, table has %d columns",
			t.Name, len(paths), len(t.Columns))
	}
	return Mapping{Table: t, Paths: paths}, nil
}

// Row converts rec into COPY values in column order.
func (m Mapping) Row(rec source.Record) ([]any, error) {
	row := make([]any, len(m.Paths))
	for i, p := range m.Paths {
		col := m.Table.Columns[i]
		v, _ := p.Lookup(rec)
		out, err := convert(col, v)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name, err)
		}
		row[i] = out
	}
	return row, nil
}

func convert(col queries.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch col.Kind {
	case queries.KindText:
		switch x := v.(type) {
		case string:
			return x, nil
		case json.Number:
			return x.String(), nil
		case bool:
			return strconv.FormatBool(x), nil
		}

	case queries.KindInt, queries.KindBigInt:
		n, ok, err := toInt(v)
		if err != nil || !ok {
			return nil, err
		}
		if col.Kind == queries.KindInt {
			if n < math.MinInt32 || n > math.MaxInt32 {
				return nil, fmt.Errorf("%w: %d overflows INTEGER", ErrConversion, n)
			}
			return int32(n), nil
		}
		return n, nil

	case queries.KindFloat:
		var s string
		switch x := v.(type) {
		case json.Number:
			s = x.String()
		case string:
			s = strings.TrimSpace(x)
			if s == "" {
				return nil, nil
			}
		default:
			return nil, fmt.Errorf("%w: %T is not numeric", ErrConversion, v)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", ErrConversion, s)
		}
		return f, nil

	case queries.KindTimestamp:
		if s, ok := v.(string); ok {
			ts, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return nil, fmt.Errorf("%w: %q is not an RFC 3339 timestamp", ErrConversion, s)
			}
			return ts.UTC(), nil
		}
	}

	return nil, fmt.Errorf("%w: unsupported %T", ErrConversion, v)
}

// toInt accepts JSON numbers and numeric strings. Empty strings are NULL.
func toInt(v any) (int64, bool, error) {
	var s string
	switch x := v.(type) {
	case json.Number:
		s = x.String()
	case string:
		s = strings.TrimSpace(x)
		if s == "" {
			return 0, false, nil
		}
	default:
		return 0, false, fmt.Errorf("%w: %T is not numeric", ErrConversion, v)
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true, nil
	}
	// Exported logs write some integers in float notation (1.540919166796e+12).
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) >= 1<<63 {
		return 0, false, fmt.Errorf("%w: %q is not an integer", ErrConversion, s)
	}
	return int64(f), true, nil
}
