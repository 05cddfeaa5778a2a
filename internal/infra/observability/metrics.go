package observability

import (
	"time"

	"github.com/boddenberg/ledger-sync/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the ledger sync service.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration      *prometheus.HistogramVec
	externalErrors       *prometheus.CounterVec
	cacheHits            *prometheus.CounterVec
	cacheMisses          *prometheus.CounterVec
	cacheWrites          *prometheus.CounterVec
	rateSources          *prometheus.CounterVec
	unconverted          *prometheus.CounterVec
	migrationTransitions *prometheus.CounterVec
	migratedRows         *prometheus.CounterVec
	requestsTotal        *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_operation_duration_seconds",
				Help:    "Duration of operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_cache_hits_total",
				Help: "Total in-memory cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_cache_misses_total",
				Help: "Total in-memory cache misses.",
			},
			[]string{"cache"},
		),
		cacheWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_local_cache_writes_total",
				Help: "Total writes to the persisted local cache.",
			},
			[]string{"op"},
		),
		rateSources: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_fx_tables_served_total",
				Help: "Rate tables served, by source.",
			},
			[]string{"source"},
		),
		unconverted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_fx_unconverted_total",
				Help: "Amounts passed through unconverted, by caller and reason.",
			},
			[]string{"context", "reason"},
		),
		migrationTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_migration_transitions_total",
				Help: "Migration status transitions per collection.",
			},
			[]string{"collection", "status"},
		),
		migratedRows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_migrated_rows_total",
				Help: "Rows copied from the local cache to the remote store.",
			},
			[]string{"collection"},
		),
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_requests_total",
				Help: "Total requests processed.",
			},
			[]string{"status"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrCacheWrite counts a local cache write by operation.
func (m *Metrics) IncrCacheWrite(op string) {
	m.cacheWrites.WithLabelValues(op).Inc()
}

// IncrRateSource counts a served rate table by its source.
func (m *Metrics) IncrRateSource(source string) {
	m.rateSources.WithLabelValues(source).Inc()
}

// IncrUnconverted counts an amount that could not be converted.
func (m *Metrics) IncrUnconverted(caller, reason string) {
	m.unconverted.WithLabelValues(caller, reason).Inc()
}

// RecordMigration records a migration status transition and, for completed
// runs, the number of rows copied.
func (m *Metrics) RecordMigration(collection, status string, migrated int) {
	m.migrationTransitions.WithLabelValues(collection, status).Inc()
	if migrated > 0 {
		m.migratedRows.WithLabelValues(collection).Add(float64(migrated))
	}
}

// IncrRequest increments the request counter with a status label.
func (m *Metrics) IncrRequest(status string) {
	m.requestsTotal.WithLabelValues(status).Inc()
}

// GetSyncSnapshot summarizes sync-related counters for GET /v1/metrics/sync.
func (m *Metrics) GetSyncSnapshot() *domain.SyncMetrics {
	collections := []domain.Collection{
		domain.CollectionAccounts,
		domain.CollectionBuckets,
		domain.CollectionTransactions,
	}

	var completed, skipped, failed, rows float64
	for _, c := range collections {
		completed += getCounterValue(m.migrationTransitions, string(c), string(domain.MigrationCompleted))
		skipped += getCounterValue(m.migrationTransitions, string(c), string(domain.MigrationSkipped))
		failed += getCounterValue(m.migrationTransitions, string(c), string(domain.MigrationFailed))
		rows += getCounterValue(m.migratedRows, string(c))
	}

	live := getCounterValue(m.rateSources, string(domain.RateSourceLive))
	cached := getCounterValue(m.rateSources, string(domain.RateSourceCache))
	fallback := getCounterValue(m.rateSources, string(domain.RateSourceFallback))

	fallbackRate := float64(0)
	if total := live + cached + fallback; total > 0 {
		fallbackRate = fallback / total
	}

	return &domain.SyncMetrics{
		MigrationsCompleted: int64(completed),
		MigrationsSkipped:   int64(skipped),
		MigrationsFailed:    int64(failed),
		RowsMigrated:        int64(rows),
		RateTablesLive:      int64(live),
		RateTablesCached:    int64(cached),
		RateTablesFallback:  int64(fallback),
		RateFallbackRate:    fallbackRate,
		LocalCacheWrites:    int64(sumCounter(m.cacheWrites, "save", "clear", "clear_all", "legacy_upgrade")),
		Period:              "all_time",
	}
}

func sumCounter(cv *prometheus.CounterVec, labels ...string) float64 {
	var total float64
	for _, l := range labels {
		total += getCounterValue(cv, l)
	}
	return total
}

// getCounterValue extracts the current float64 value from a CounterVec for the given labels.
func getCounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	counter := cv.WithLabelValues(labels...)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
