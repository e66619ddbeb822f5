// Package metrics provides Prometheus metrics for the warehouse ETL.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics holds all Prometheus metrics for the ETL.
type Metrics struct {
	registry *prometheus.Registry

	// Statement metrics
	StatementsExecuted *prometheus.CounterVec
	StatementsFailed   *prometheus.CounterVec
	StatementDuration  *prometheus.HistogramVec

	// Load metrics
	RowsLoaded    *prometheus.CounterVec
	ObjectsLoaded *prometheus.CounterVec

	// Table metrics
	TableRows *prometheus.GaugeVec

	// Pipeline metrics
	StageCompleted *prometheus.GaugeVec
	LastSuccess    prometheus.Gauge

	// Unload metrics
	SnapshotBytes *prometheus.CounterVec
}

// Config holds metrics configuration.
type Config struct {
	Pushgateway string // Pushgateway URL; empty disables pushing
	Job         string
	Listen      string // scrape address such as ":9090"; empty disables the server
}

var defaultMetrics *Metrics

// Init creates the metrics on a fresh registry and makes them the global instance.
// Call this once at startup.
func Init(namespace string) *Metrics {
	if namespace == "" {
		namespace = "sparkify_etl"
	}

	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		StatementsExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "statements_executed_total",
				Help:      "Total number of statements committed",
			},
			[]string{"stage", "statement"},
		),
		StatementsFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "statements_failed_total",
				Help:      "Total number of statements that returned an error",
			},
			[]string{"stage", "statement"},
		),
		StatementDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "statement_duration_seconds",
				Help:      "Time from submitting a statement to its commit",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16), // 10ms to ~5min
			},
			[]string{"stage", "statement"},
		),
		RowsLoaded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_loaded_total",
				Help:      "Rows streamed into staging tables by the client-side loader",
			},
			[]string{"table"},
		),
		ObjectsLoaded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "objects_loaded_total",
				Help:      "Source objects read by the client-side loader",
			},
			[]string{"table"},
		),
		TableRows: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "table_rows",
				Help:      "Row count of a table after the last stage that wrote it",
			},
			[]string{"table"},
		),
		StageCompleted: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stage_completed_timestamp_seconds",
				Help:      "Unix time at which a pipeline stage last completed",
			},
			[]string{"stage"},
		),
		LastSuccess: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last fully successful run",
			},
		),
		SnapshotBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "snapshot_bytes_total",
				Help:      "Parquet bytes written by unload",
			},
			[]string{"table"},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// Registry exposes the underlying registry (used by tests and Push).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves /metrics from this instance's registry and a /health probe.
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func (m *Metrics) StartServer(address string) error {
	return http.ListenAndServe(address, m.Handler())
}

// Push sends every collected metric to a Pushgateway. Batch jobs exit before
// a scraper could reach them, so metrics are pushed once at the end of a run.
func (m *Metrics) Push(ctx context.Context, cfg Config) error {
	if cfg.Pushgateway == "" {
		return nil
	}
	job := cfg.Job
	if job == "" {
		job = "sparkify_etl"
	}
	if err := push.New(cfg.Pushgateway, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", cfg.Pushgateway, err)
	}
	return nil
}

// IncStatementsExecuted increments the committed statements counter.
func (m *Metrics) IncStatementsExecuted(stage, statement string) {
	m.StatementsExecuted.WithLabelValues(stage, statement).Inc()
}

// IncStatementsFailed increments the failed statements counter.
func (m *Metrics) IncStatementsFailed(stage, statement string) {
	m.StatementsFailed.WithLabelValues(stage, statement).Inc()
}

// ObserveStatementDuration records how long a statement took.
func (m *Metrics) ObserveStatementDuration(stage, statement string, seconds float64) {
	m.StatementDuration.WithLabelValues(stage, statement).Observe(seconds)
}

// AddRowsLoaded adds to the loaded rows counter.
func (m *Metrics) AddRowsLoaded(table string, rows float64) {
	m.RowsLoaded.WithLabelValues(table).Add(rows)
}

// IncObjectsLoaded increments the source objects counter.
func (m *Metrics) IncObjectsLoaded(table string) {
	m.ObjectsLoaded.WithLabelValues(table).Inc()
}

// SetTableRows sets the row count gauge for a table.
func (m *Metrics) SetTableRows(table string, rows float64) {
	m.TableRows.WithLabelValues(table).Set(rows)
}

// SetStageCompleted records the completion time of a stage.
func (m *Metrics) SetStageCompleted(stage string, unix float64) {
	m.StageCompleted.WithLabelValues(stage).Set(unix)
}

// SetLastSuccess records the completion time of a successful run.
func (m *Metrics) SetLastSuccess(unix float64) {
	m.LastSuccess.Set(unix)
}

// AddSnapshotBytes adds to the unload bytes counter.
func (m *Metrics) AddSnapshotBytes(table string, bytes float64) {
	m.SnapshotBytes.WithLabelValues(table).Add(bytes)
}
