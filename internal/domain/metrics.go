package domain

// SyncMetrics is a cumulative view of sync and valuation activity.
type SyncMetrics struct {
	MigrationsCompleted int64   `json:"migrations_completed"`
	MigrationsSkipped   int64   `json:"migrations_skipped"`
	MigrationsFailed    int64   `json:"migrations_failed"`
	RowsMigrated        int64   `json:"rows_migrated"`
	RateTablesLive      int64   `json:"rate_tables_live"`
	RateTablesCached    int64   `json:"rate_tables_cached"`
	RateTablesFallback  int64   `json:"rate_tables_fallback"`
	RateFallbackRate    float64 `json:"rate_fallback_rate"`
	LocalCacheWrites    int64   `json:"local_cache_writes"`
	Period              string  `json:"period"`
}
