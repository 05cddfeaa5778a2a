package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/boddenberg/ledger-sync/internal/config"
	"github.com/boddenberg/ledger-sync/internal/domain"
	"github.com/boddenberg/ledger-sync/internal/fx"
	"github.com/boddenberg/ledger-sync/internal/infra/cache"
	"github.com/boddenberg/ledger-sync/internal/infra/client"
	"github.com/boddenberg/ledger-sync/internal/infra/events"
	"github.com/boddenberg/ledger-sync/internal/infra/kv"
	"github.com/boddenberg/ledger-sync/internal/infra/observability"
	"github.com/boddenberg/ledger-sync/internal/localcache"
	"github.com/boddenberg/ledger-sync/internal/service"
	"github.com/boddenberg/ledger-sync/internal/session"

	"go.uber.org/zap"
)

// app holds what every command shares. Resources are opened on demand.
type app struct {
	cfg      *config.Config
	dbPath   string
	identity string

	db      *kv.SQLite
	bus     *events.Bus
	cache   *localcache.Cache
	metrics *observability.Metrics
	logger  *zap.Logger
}

func (a *app) open() error {
	if a.cache != nil {
		return nil
	}
	a.logger = observability.NewLogger(a.cfg.LogLevel, "ledger")
	a.metrics = observability.NewMetrics()

	db, err := kv.OpenSQLite(a.dbPath)
	if err != nil {
		return fmt.Errorf("open local cache %s: %w", a.dbPath, err)
	}
	a.db = db
	a.bus = events.NewBus(a.logger)
	a.cache = localcache.New(db, a.bus, "cli", a.metrics, a.logger)
	return nil
}

func (a *app) close() {
	if a.db != nil {
		a.db.Close()
	}
	if a.logger != nil {
		a.logger.Sync()
	}
}

func (a *app) reports() *service.ReportService {
	states := cache.New[*domain.AppState](a.cfg.ReportsTTL)
	return service.NewReportService(session.Static(a.identity), a.cache, states, a.bus, a.metrics, a.logger)
}

func (a *app) table() *fx.Table {
	quotes := cache.New[*domain.Quotes](a.cfg.FxQuoteTTL)
	provider := client.NewRatesClient(&http.Client{Timeout: a.cfg.HTTPTimeout}, a.cfg.FxProviderURL, a.cfg.FxResilience(), quotes, a.metrics)
	return fx.NewTable(provider, a.cache, fx.TableConfig{
		FreshnessWindow: a.cfg.FxCacheWindow,
		FetchTimeout:    a.cfg.FxFetchTimeout,
		Overrides:       a.cfg.FxRateOverrides,
	}, a.metrics, a.logger)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
}
