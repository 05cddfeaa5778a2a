package handler

import (
	"net/http"
	"strings"

	"github.com/boddenberg/ledger-sync/internal/domain"
	"github.com/boddenberg/ledger-sync/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Transactions Handlers
// ============================================================

func listTransactionsHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/transactions")
		defer span.End()

		txs, err := svc.ListTransactions(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		// ?month=2024-03&kind=expense&account=<id>
		q := r.URL.Query()
		month, kind, account := q.Get("month"), q.Get("kind"), q.Get("account")
		if month != "" || kind != "" || account != "" {
			filtered := make([]domain.Transaction, 0, len(txs))
			for _, t := range txs {
				if month != "" && !strings.HasPrefix(t.DateISO, month) {
					continue
				}
				if kind != "" && string(t.Kind) != kind {
					continue
				}
				if account != "" && t.AccountID != account {
					continue
				}
				filtered = append(filtered, t)
			}
			txs = filtered
		}
		writeJSON(w, http.StatusOK, txs)
	}
}

func createTransactionHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/transactions")
		defer span.End()

		var req service.TransactionInput
		if !decodeBody(w, r, &req) {
			return
		}
		tx, err := svc.CreateTransaction(ctx, req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, tx)
	}
}

func updateTransactionHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/transactions/{txId}")
		defer span.End()

		txID := chi.URLParam(r, "txId")
		span.SetAttributes(attribute.String("transaction.id", txID))

		var req service.TransactionInput
		if !decodeBody(w, r, &req) {
			return
		}
		tx, err := svc.UpdateTransaction(ctx, txID, req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, tx)
	}
}

func deleteTransactionHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/transactions/{txId}")
		defer span.End()

		txID := chi.URLParam(r, "txId")
		if err := svc.DeleteTransaction(ctx, txID); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "transaction deleted", ID: txID})
	}
}
