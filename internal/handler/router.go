package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/boddenberg/ledger-sync/internal/domain"
	"github.com/boddenberg/ledger-sync/internal/infra/observability"
	"github.com/boddenberg/ledger-sync/internal/service"
	"github.com/boddenberg/ledger-sync/internal/session"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// HealthCheck probes one dependency for GET /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Services are the use cases exposed over HTTP. Nil services leave their
// routes registered but unusable.
type Services struct {
	Bootstrap *service.BootstrapService
	Ledger    *service.LedgerService
	Reports   *service.ReportService
	Verifier  *session.Verifier
	Checks    []HealthCheck
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(svc Services, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger, metrics))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(svc.Checks))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		r.Use(SessionMiddleware(svc.Verifier, logger))

		r.Get("/metrics/sync", syncMetricsHandler(metrics))

		// Session & settings
		r.Post("/session/bootstrap", bootstrapHandler(svc.Bootstrap, logger))
		r.Get("/setup", setupHandler(svc.Ledger, logger))
		r.Get("/rates", ratesHandler(svc.Ledger, logger))
		r.Put("/settings/base-currency", baseCurrencyHandler(svc.Ledger, logger))
		r.Put("/settings/income-target", incomeTargetHandler(svc.Ledger, logger))

		// Accounts
		r.Get("/accounts", listAccountsHandler(svc.Ledger, logger))
		r.Post("/accounts", createAccountHandler(svc.Ledger, logger))
		r.Patch("/accounts/{accountId}", updateAccountHandler(svc.Ledger, logger))
		r.Delete("/accounts/{accountId}", deleteAccountHandler(svc.Ledger, logger))

		// Buckets
		r.Get("/buckets", listBucketsHandler(svc.Ledger, logger))
		r.Post("/buckets", createBucketHandler(svc.Ledger, logger))
		r.Patch("/buckets/{bucketId}", renameBucketHandler(svc.Ledger, logger))
		r.Delete("/buckets/{bucketId}", deleteBucketHandler(svc.Ledger, logger))

		// Transactions
		r.Get("/transactions", listTransactionsHandler(svc.Ledger, logger))
		r.Post("/transactions", createTransactionHandler(svc.Ledger, logger))
		r.Put("/transactions/{txId}", updateTransactionHandler(svc.Ledger, logger))
		r.Delete("/transactions/{txId}", deleteTransactionHandler(svc.Ledger, logger))

		// Reports
		r.Get("/reports/month/{month}", monthReportHandler(svc.Reports, logger))
		r.Get("/reports/year/{year}", yearReportHandler(svc.Reports, logger))
		r.Get("/reports/buckets/{kind}/{month}", bucketReportHandler(svc.Reports, logger))
		r.Get("/reports/balances", balancesReportHandler(svc.Reports, logger))
		r.Get("/reports/months", monthsReportHandler(svc.Reports, logger))
	})

	return r
}

// ============================================================
// Operational
// ============================================================

func healthzHandler(checks []HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "ledger-api", Status: "healthy", LastChecked: now},
		}
		overall := "healthy"
		for _, c := range checks {
			start := time.Now()
			err := c.Check(ctx)
			sh := domain.ServiceHealth{
				Name:        c.Name,
				Status:      "healthy",
				LatencyMs:   time.Since(start).Milliseconds(),
				LastChecked: now,
			}
			if err != nil {
				sh.Status = "degraded"
				sh.Error = err.Error()
				overall = "degraded"
			}
			services = append(services, sh)
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{Status: overall, Services: services})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func syncMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetSyncSnapshot())
	}
}
