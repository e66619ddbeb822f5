package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/withObsrvr/sparkify-dwh/internal/metrics"
	"github.com/withObsrvr/sparkify-dwh/internal/queries"
	"github.com/withObsrvr/sparkify-dwh/internal/warehouse"
)

// TableCount is the row count of one table.
type TableCount struct {
	Table string
	Rows  int64
}

// Report summarizes a completed stage. It is informational only; counts
// are never checked against expectations.
type Report struct {
	RunID    string
	State    State
	Tables   []TableCount
	Duration time.Duration
	At       time.Time
}

// BuildReport counts the rows of tables after a stage reaches state.
func BuildReport(ctx context.Context, db warehouse.DB, runID string, state State, tables []queries.Table) (Report, error) {
	r := Report{RunID: runID, State: state, At: time.Now().UTC()}
	for _, t := range tables {
		n, err := warehouse.CountRows(ctx, db, t)
		if err != nil {
			return Report{}, err
		}
		r.Tables = append(r.Tables, TableCount{Table: t.Name, Rows: n})
	}
	return r, nil
}

// Rows returns the count for table, or -1 when it was not counted.
func (r Report) Rows(table string) int64 {
	for _, tc := range r.Tables {
		if tc.Table == table {
			return tc.Rows
		}
	}
	return -1
}

// Log writes one line per stage with every table count as an attribute.
func (r Report) Log(log *slog.Logger) {
	attrs := []any{"state", r.State.String(), "duration", r.Duration}
	for _, tc := range r.Tables {
		attrs = append(attrs, tc.Table, tc.Rows)
	}
	log.Info("stage complete", attrs...)
}

// Record updates the table and stage gauges. m may be nil.
func (r Report) Record(m *metrics.Metrics) {
	if m == nil {
		return
	}
	for _, tc := range r.Tables {
		m.SetTableRows(tc.Table, float64(tc.Rows))
	}
	m.SetStageCompleted(r.State.String(), float64(r.At.Unix()))
}
