package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "nfirs_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for ingest and geocoding.
type Metrics struct {
	YearsIngested  prometheus.Counter
	IncidentsKept  prometheus.Counter
	DuplicateRows  *prometheus.CounterVec // labels: table={basic,address,fire}
	RunnerActive   prometheus.Gauge
	YearsGeocoded  *prometheus.CounterVec // labels: outcome={complete,partial,incomplete}
	BatchFilesMade prometheus.Counter

	// Batch geocoding metrics.
	BatchAttempts     *prometheus.CounterVec   // labels: outcome={success,error}
	BatchFiles        *prometheus.CounterVec   // labels: status={succeeded,skipped,abandoned}
	BatchDuration     prometheus.Histogram     // one geocoder round trip
	FileDuration      prometheus.Histogram     // all attempts for one file
	AddressesGeocoded *prometheus.CounterVec   // labels: match={match,no_match}
	SinkErrors        *prometheus.CounterVec   // labels: sink={kafka,objectstore,amqp}
	CensusDuration    *prometheus.HistogramVec // labels: outcome={success,error}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.YearsIngested,
		m.IncidentsKept,
		m.DuplicateRows,
		m.RunnerActive,
		m.YearsGeocoded,
		m.BatchFilesMade,
		m.BatchAttempts,
		m.BatchFiles,
		m.BatchDuration,
		m.FileDuration,
		m.AddressesGeocoded,
		m.SinkErrors,
		m.CensusDuration,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		YearsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "years_ingested_total",
			Help:      "Years whose raw tables were consolidated into a cleaned dataset.",
		}),
		IncidentsKept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incidents_cleaned_total",
			Help:      "Cleaned incident records written after rollup.",
		}),
		DuplicateRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_rows_dropped_total",
			Help:      "Raw rows dropped for repeating a merge key, by table.",
		}, []string{"table"}),
		RunnerActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runner_active",
			Help:      "1 while a batch geocoding run is in progress, 0 otherwise.",
		}),
		YearsGeocoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "years_geocoded_total",
			Help:      "Years processed by the orchestrator, by outcome.",
		}, []string{"outcome"}),
		BatchFilesMade: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_files_created_total",
			Help:      "Batch input files written by the partitioner.",
		}),
		BatchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_attempts_total",
			Help:      "Batch geocoding attempts by outcome.",
		}, []string{"outcome"}),
		BatchFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_files_total",
			Help:      "Batch files by final status.",
		}, []string{"status"}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_attempt_duration_seconds",
			Help:      "Duration of one batch geocoding attempt.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		FileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_file_duration_seconds",
			Help:      "Duration spent on one batch file across all attempts.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		AddressesGeocoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "addresses_geocoded_total",
			Help:      "Addresses returned by the batch geocoder, by match result.",
		}, []string{"match"}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Failures delivering a finished year to an optional sink.",
		}, []string{"sink"}),
		CensusDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "census_api_duration_seconds",
			Help:      "Census batch geocoder request duration in seconds.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"outcome"}),
	}
}
