package fx

import (
	"context"
	"time"

	"github.com/boddenberg/ledger-sync/internal/domain"
	"github.com/boddenberg/ledger-sync/internal/infra/observability"
	"github.com/boddenberg/ledger-sync/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("fx")

// RateStore persists the last rate table.
type RateStore interface {
	LoadRates(ctx context.Context) (*domain.RateTable, error)
	SaveRates(ctx context.Context, table domain.RateTable) error
}

// TableConfig tunes the currency table.
type TableConfig struct {
	// FreshnessWindow is how long a persisted table is served as is.
	FreshnessWindow time.Duration
	// FetchTimeout bounds a live fetch; past it the fallback is used.
	FetchTimeout time.Duration
	// Overrides are single-value unit->USD rates applied over live and fallback tables.
	Overrides Rates
}

// DefaultTableConfig mirrors the 12h cache and a short soft timeout.
func DefaultTableConfig() TableConfig {
	return TableConfig{
		FreshnessWindow: 12 * time.Hour,
		FetchTimeout:    5 * time.Second,
	}
}

// Table serves unit->USD rate tables. It never fails outward.
type Table struct {
	provider port.RateProvider
	store    RateStore
	cfg      TableConfig
	now      func() time.Time
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewTable creates a currency table backed by a live provider and a persisted cache.
func NewTable(provider port.RateProvider, store RateStore, cfg TableConfig, metrics *observability.Metrics, logger *zap.Logger) *Table {
	if cfg.FreshnessWindow <= 0 {
		cfg.FreshnessWindow = DefaultTableConfig().FreshnessWindow
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultTableConfig().FetchTimeout
	}
	return &Table{
		provider: provider,
		store:    store,
		cfg:      cfg,
		now:      time.Now,
		metrics:  metrics,
		logger:   logger,
	}
}

// WithClock replaces the time source (tests).
func (t *Table) WithClock(now func() time.Time) *Table {
	t.now = now
	return t
}

// GetRates returns the cached table while fresh, otherwise a live table merged
// over the fallback, otherwise the fallback.
func (t *Table) GetRates(ctx context.Context) domain.RateTable {
	ctx, span := tracer.Start(ctx, "Table.GetRates")
	defer span.End()

	if cached, ok := t.fresh(ctx); ok {
		span.SetAttributes(attribute.String("fx.source", string(domain.RateSourceCache)))
		t.metrics.IncrRateSource(string(domain.RateSourceCache))
		return cached
	}
	return t.refresh(ctx)
}

// Refresh ignores the cached table and fetches live rates, falling back to
// the static table.
func (t *Table) Refresh(ctx context.Context) domain.RateTable {
	ctx, span := tracer.Start(ctx, "Table.Refresh")
	defer span.End()
	return t.refresh(ctx)
}

func (t *Table) refresh(ctx context.Context) domain.RateTable {
	table, err := t.fetchLive(ctx)
	if err != nil {
		t.logger.Warn("fx: live rates unavailable, using fallback", zap.Error(err))
		t.metrics.IncrExternalError("rates")
		table = domain.RateTable{
			RatesToUSD: t.applyOverrides(DefaultRatesToUSD.Copy()),
			UpdatedAt:  t.now(),
			Source:     domain.RateSourceFallback,
		}
	}

	if err := t.store.SaveRates(ctx, table); err != nil {
		t.logger.Warn("fx: failed to persist rate table", zap.Error(err))
	}

	trace.SpanFromContext(ctx).SetAttributes(attribute.String("fx.source", string(table.Source)))
	t.logger.Debug("fx: rate table refreshed", zap.String("source", string(table.Source)))
	t.metrics.IncrRateSource(string(table.Source))
	return table
}

func (t *Table) fresh(ctx context.Context) (domain.RateTable, bool) {
	cached, err := t.store.LoadRates(ctx)
	if err != nil {
		t.logger.Warn("fx: failed to read cached rate table", zap.Error(err))
		return domain.RateTable{}, false
	}
	if cached == nil || len(cached.RatesToUSD) == 0 || cached.UpdatedAt.IsZero() {
		return domain.RateTable{}, false
	}
	if t.now().Sub(cached.UpdatedAt) >= t.cfg.FreshnessWindow {
		return domain.RateTable{}, false
	}
	cached.Source = domain.RateSourceCache
	return *cached, true
}

func (t *Table) fetchLive(ctx context.Context) (domain.RateTable, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.FetchTimeout)
	defer cancel()

	quotes, err := t.provider.FetchRates(ctx, Pivot, LiveSymbols())
	if err != nil {
		return domain.RateTable{}, err
	}

	merged := DefaultRatesToUSD.Copy()
	merged[Pivot] = 1
	for _, code := range LiveSymbols() {
		perUSD, ok := quotes.Rates[code]
		if !ok || !isFinite(perUSD) || perUSD <= 0 {
			continue
		}
		merged[code] = 1 / perUSD
	}

	return domain.RateTable{
		RatesToUSD: t.applyOverrides(merged),
		UpdatedAt:  t.now(),
		Source:     domain.RateSourceLive,
	}, nil
}

func (t *Table) applyOverrides(r Rates) map[string]float64 {
	for code, v := range t.cfg.Overrides {
		if isFinite(v) && v > 0 {
			r[NormalizeCurrency(code)] = v
		}
	}
	return r
}
