package handler

import (
	"net/http"

	"github.com/boddenberg/ledger-sync/internal/service"

	"go.uber.org/zap"
)

// ============================================================
// Session, setup, rates & settings
// ============================================================

func bootstrapHandler(svc *service.BootstrapService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/session/bootstrap")
		defer span.End()

		result, err := svc.Bootstrap(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		status := http.StatusOK
		if len(result.Failed) > 0 {
			status = http.StatusMultiStatus
		}
		writeJSON(w, status, result)
	}
}

func setupHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/setup")
		defer span.End()

		status, err := svc.SetupStatus(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

func ratesHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/rates")
		defer span.End()

		table, err := svc.SyncRates(ctx)
		if err != nil {
			// The table is still valid; only storing it failed.
			logger.Warn("rates: failed to store table in cache", zap.Error(err))
		}
		writeJSON(w, http.StatusOK, table)
	}
}

func baseCurrencyHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/settings/base-currency")
		defer span.End()

		var req struct {
			Currency string `json:"currency"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		state, err := svc.SetBaseCurrency(ctx, req.Currency)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"baseCurrency": state.BaseCurrency})
	}
}

func incomeTargetHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/settings/income-target")
		defer span.End()

		var req struct {
			Target float64 `json:"monthlyIncomeTarget"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		state, err := svc.SetMonthlyIncomeTarget(ctx, req.Target)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]float64{"monthlyIncomeTarget": state.MonthlyIncomeTarget})
	}
}
