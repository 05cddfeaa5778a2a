package handler

import (
	"net/http"

	"github.com/boddenberg/ledger-sync/internal/domain"
	"github.com/boddenberg/ledger-sync/internal/port"
	"github.com/boddenberg/ledger-sync/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Accounts Handlers
// ============================================================

func listAccountsHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/accounts")
		defer span.End()

		accounts, err := svc.ListAccounts(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, accounts)
	}
}

func createAccountHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/accounts")
		defer span.End()

		var req struct {
			Name     string `json:"name"`
			Currency string `json:"currency"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		acc, err := svc.CreateAccount(ctx, req.Name, req.Currency)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, acc)
	}
}

func updateAccountHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PATCH /v1/accounts/{accountId}")
		defer span.End()

		accountID := chi.URLParam(r, "accountId")
		span.SetAttributes(attribute.String("account.id", accountID))

		var req struct {
			Name     *string `json:"name"`
			Currency *string `json:"currency"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		acc, err := svc.UpdateAccount(ctx, accountID, port.AccountPatch{Name: req.Name, Currency: req.Currency})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, acc)
	}
}

func deleteAccountHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/accounts/{accountId}")
		defer span.End()

		accountID := chi.URLParam(r, "accountId")
		if err := svc.DeleteAccount(ctx, accountID); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "account deleted", ID: accountID})
	}
}

// ============================================================
// Buckets Handlers
// ============================================================

func listBucketsHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/buckets")
		defer span.End()

		buckets, err := svc.ListBuckets(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if kind := r.URL.Query().Get("kind"); kind != "" {
			filtered := make([]domain.Bucket, 0, len(buckets))
			for _, b := range buckets {
				if string(b.Kind) == kind {
					filtered = append(filtered, b)
				}
			}
			buckets = filtered
		}
		writeJSON(w, http.StatusOK, buckets)
	}
}

func createBucketHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/buckets")
		defer span.End()

		var req struct {
			Name    string   `json:"name"`
			Kind    string   `json:"kind"`
			Percent *float64 `json:"percent"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		b, err := svc.CreateBucket(ctx, req.Name, req.Kind, req.Percent)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, b)
	}
}

func renameBucketHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PATCH /v1/buckets/{bucketId}")
		defer span.End()

		bucketID := chi.URLParam(r, "bucketId")
		var req struct {
			Name string `json:"name"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if err := svc.RenameBucket(ctx, bucketID, req.Name); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "bucket renamed", ID: bucketID})
	}
}

func deleteBucketHandler(svc *service.LedgerService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/buckets/{bucketId}")
		defer span.End()

		bucketID := chi.URLParam(r, "bucketId")
		if err := svc.DeleteBucket(ctx, bucketID); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.SuccessResponse{Message: "bucket deleted", ID: bucketID})
	}
}
