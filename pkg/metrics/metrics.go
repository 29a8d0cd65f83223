package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector provides application metrics collection
type Collector struct {
	// API Metrics
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec
	APIErrorsTotal     *prometheus.CounterVec

	// Pipeline Metrics
	StageDuration      *prometheus.HistogramVec
	StageErrorsTotal   *prometheus.CounterVec
	SitesLoadedTotal   *prometheus.CounterVec
	UnknownTypeTags    *prometheus.CounterVec
	ProblemVariables   prometheus.Gauge
	ProblemConstraints prometheus.Gauge
	SolverRunsTotal    *prometheus.CounterVec
	SolverDuration     *prometheus.HistogramVec
	ConflictSetSize    prometheus.Histogram

	// Database Metrics
	DBQueryDuration  *prometheus.HistogramVec
	DBConnectionPool *prometheus.GaugeVec
	DBErrorsTotal    *prometheus.CounterVec
}

// NewCollector creates a metrics collector registered with reg.
// A nil reg registers with the default Prometheus registry.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		APIRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of API requests by endpoint, method, and status",
			},
			[]string{"endpoint", "method", "status"},
		),

		APIRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5, 1.0, 2.0, 5.0},
			},
			[]string{"endpoint"},
		),

		APIErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_errors_total",
				Help:      "Total number of API errors by type",
			},
			[]string{"error_type", "endpoint"},
		),

		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of pipeline stages in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 3600},
			},
			[]string{"stage"},
		),

		StageErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_errors_total",
				Help:      "Total number of pipeline stage failures by stage and error type",
			},
			[]string{"stage", "error_type"},
		),

		SitesLoadedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "catalog_sites_loaded_total",
				Help:      "Total number of sites loaded by comuna",
			},
			[]string{"comuna"},
		),

		UnknownTypeTags: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "catalog_unknown_type_tags_total",
				Help:      "Sites whose location type tag fell back to the default demand weight",
			},
			[]string{"tag"},
		),

		ProblemVariables: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "problem_variables",
				Help:      "Number of decision variables in the last built problem",
			},
		),

		ProblemConstraints: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "problem_constraints",
				Help:      "Number of constraints in the last built problem",
			},
		),

		SolverRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "solver_runs_total",
				Help:      "Total number of solver invocations by backend and status",
			},
			[]string{"backend", "status"},
		),

		SolverDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "solver_duration_seconds",
				Help:      "Wall time of solver invocations in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 3600},
			},
			[]string{"backend"},
		),

		ConflictSetSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "conflict_set_size",
				Help:      "Number of constraints in reported infeasibility conflict sets",
				Buckets:   []float64{1, 2, 5, 10, 20, 50, 100},
			},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "db_query_duration_seconds",
				Help:      "Database query duration in seconds by query type",
				Buckets:   []float64{0.001, 0.002, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.5},
			},
			[]string{"query_type"},
		),

		DBConnectionPool: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connection_pool",
				Help:      "Database connection pool statistics",
			},
			[]string{"state"}, // "in_use", "idle", "total"
		),

		DBErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "db_errors_total",
				Help:      "Total number of database errors by type",
			},
			[]string{"error_type"},
		),
	}
}

// NewNopCollector returns a collector bound to a private registry, for tests
// and one-shot commands that never expose /metrics.
func NewNopCollector() *Collector {
	return NewCollector("planner", prometheus.NewRegistry())
}

// Timer provides timing functionality for operations
type Timer struct {
	start    time.Time
	observer prometheus.Observer
}

// NewTimer creates a new timer
func (c *Collector) NewTimer(histogram prometheus.Observer) *Timer {
	return &Timer{
		start:    time.Now(),
		observer: histogram,
	}
}

// StageTimer times one pipeline stage.
func (c *Collector) StageTimer(stage string) *Timer {
	return c.NewTimer(c.StageDuration.WithLabelValues(stage))
}

// ObserveDuration records the elapsed time since timer creation
func (t *Timer) ObserveDuration() time.Duration {
	duration := time.Since(t.start)
	if t.observer != nil {
		t.observer.Observe(duration.Seconds())
	}
	return duration
}

// RecordAPIRequest increments API request counter
func (c *Collector) RecordAPIRequest(endpoint, method, status string) {
	c.APIRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

// RecordAPIError increments API error counter
func (c *Collector) RecordAPIError(errorType, endpoint string) {
	c.APIErrorsTotal.WithLabelValues(errorType, endpoint).Inc()
}

// RecordStageError increments the pipeline failure counter
func (c *Collector) RecordStageError(stage, errorType string) {
	c.StageErrorsTotal.WithLabelValues(stage, errorType).Inc()
}

// RecordUnknownTag counts a type tag that fell back to the default weight
func (c *Collector) RecordUnknownTag(tag string) {
	c.UnknownTypeTags.WithLabelValues(tag).Inc()
}

// RecordSolverRun counts a finished solver invocation
func (c *Collector) RecordSolverRun(backend, status string, d time.Duration) {
	c.SolverRunsTotal.WithLabelValues(backend, status).Inc()
	c.SolverDuration.WithLabelValues(backend).Observe(d.Seconds())
}

// SetProblemSize records the size of the last built problem
func (c *Collector) SetProblemSize(variables, constraints int) {
	c.ProblemVariables.Set(float64(variables))
	c.ProblemConstraints.Set(float64(constraints))
}

// RecordDBError increments database error counter
func (c *Collector) RecordDBError(errorType string) {
	c.DBErrorsTotal.WithLabelValues(errorType).Inc()
}

// UpdateDBConnectionPool updates database connection pool metrics
func (c *Collector) UpdateDBConnectionPool(inUse, idle, total int) {
	c.DBConnectionPool.WithLabelValues("in_use").Set(float64(inUse))
	c.DBConnectionPool.WithLabelValues("idle").Set(float64(idle))
	c.DBConnectionPool.WithLabelValues("total").Set(float64(total))
}
