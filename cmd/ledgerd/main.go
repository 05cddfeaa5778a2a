package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/ledger-sync/internal/config"
	"github.com/boddenberg/ledger-sync/internal/domain"
	"github.com/boddenberg/ledger-sync/internal/fx"
	"github.com/boddenberg/ledger-sync/internal/handler"
	"github.com/boddenberg/ledger-sync/internal/infra/amqp"
	"github.com/boddenberg/ledger-sync/internal/infra/cache"
	"github.com/boddenberg/ledger-sync/internal/infra/client"
	"github.com/boddenberg/ledger-sync/internal/infra/events"
	"github.com/boddenberg/ledger-sync/internal/infra/kv"
	"github.com/boddenberg/ledger-sync/internal/infra/memstore"
	"github.com/boddenberg/ledger-sync/internal/infra/observability"
	"github.com/boddenberg/ledger-sync/internal/infra/supabase"
	"github.com/boddenberg/ledger-sync/internal/localcache"
	"github.com/boddenberg/ledger-sync/internal/migration"
	"github.com/boddenberg/ledger-sync/internal/port"
	"github.com/boddenberg/ledger-sync/internal/remote"
	"github.com/boddenberg/ledger-sync/internal/service"
	"github.com/boddenberg/ledger-sync/internal/session"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel, "ledgerd")
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("instance_id", cfg.InstanceID),
		zap.Bool("use_supabase", cfg.UseSupabase),
		zap.String("local_db_path", cfg.LocalDBPath),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("fx_cache_window", cfg.FxCacheWindow),
		zap.Duration("fx_fetch_timeout", cfg.FxFetchTimeout),
		zap.Int("fx_overrides", len(cfg.FxRateOverrides)),
		zap.Bool("amqp", cfg.AMQPURL != ""),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "ledgerd")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Local cache ---
	bus := events.NewBus(logger)
	var (
		store  port.KVStore
		checks []handler.HealthCheck
	)
	if cfg.LocalDBPath != "" {
		db, err := kv.OpenSQLite(cfg.LocalDBPath)
		if err != nil {
			logger.Fatal("failed to open local cache", zap.Error(err))
		}
		defer db.Close()
		store = db
		checks = append(checks, handler.HealthCheck{Name: "local-cache", Check: db.Ping})
	} else {
		logger.Warn("LOCAL_DB_PATH empty, local cache kept in memory")
		store = kv.NewMemory()
	}
	lc := localcache.New(store, bus, cfg.InstanceID, metrics, logger)

	// --- Change fan-out ---
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	if cfg.AMQPURL != "" {
		mq, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.Fatal("failed to connect to AMQP", zap.Error(err))
		}
		defer mq.Close()

		forwarder := amqp.NewForwarder(mq.Channel(), mq.Exchange(), cfg.InstanceID, logger)
		bus.Subscribe(forwarder.Forward)
		go func() {
			if err := mq.Consume(ctx, cfg.InstanceID, bus, logger); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("amqp consumer stopped", zap.Error(err))
			}
		}()
		logger.Info("cache changes fanned out over AMQP", zap.String("exchange", cfg.AMQPExchange))
	}

	// --- Clients ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	var remoteStore port.RemoteStore
	if cfg.UseSupabase && cfg.SupabaseURL != "" {
		logger.Info("using Supabase as remote ledger",
			zap.String("supabase_url", cfg.SupabaseURL),
		)
		remoteStore = supabase.NewClient(
			httpClient,
			cfg.SupabaseURL,
			cfg.SupabaseAnonKey,
			cfg.SupabaseServiceKey,
			cfg.Resilience(),
			session.TokenFromContext,
			metrics,
			logger,
		)
	} else {
		logger.Warn("Supabase not configured, remote ledger kept in memory")
		remoteStore = memstore.New().
			WithForeignKey(remote.TableTransactions, "account_id", remote.TableAccounts).
			WithForeignKey(remote.TableTransactions, "bucket_id", remote.TableBuckets)
	}
	ledger := remote.NewLedger(remoteStore)
	checks = append(checks, handler.HealthCheck{
		Name: "remote-ledger",
		Check: func(ctx context.Context) error {
			_, err := ledger.ListAccounts(ctx, "health-check")
			return err
		},
	})

	quotes := cache.New[*domain.Quotes](cfg.FxQuoteTTL)
	defer quotes.Close()
	ratesClient := client.NewRatesClient(httpClient, cfg.FxProviderURL, cfg.FxResilience(), quotes, metrics)
	table := fx.NewTable(ratesClient, lc, fx.TableConfig{
		FreshnessWindow: cfg.FxCacheWindow,
		FetchTimeout:    cfg.FxFetchTimeout,
		Overrides:       cfg.FxRateOverrides,
	}, metrics, logger)

	// --- Services ---
	sessions := session.ContextProvider{}
	states := cache.New[*domain.AppState](cfg.ReportsTTL)
	defer states.Close()

	svc := handler.Services{
		Bootstrap: service.NewBootstrapService(sessions, lc, migration.NewEngine(ledger, metrics, logger), metrics, logger),
		Ledger:    service.NewLedgerService(sessions, ledger, lc, table, metrics, logger),
		Reports:   service.NewReportService(sessions, lc, states, bus, metrics, logger),
		Verifier:  session.NewVerifier(cfg.SupabaseJWTSecret),
		Checks:    checks,
	}

	// --- Router ---
	router := handler.NewRouter(svc, metrics, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
