package service

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/boddenberg/ledger-sync/internal/domain"
	"github.com/boddenberg/ledger-sync/internal/fx"
	"github.com/boddenberg/ledger-sync/internal/infra/observability"
	"github.com/boddenberg/ledger-sync/internal/localcache"
	"github.com/boddenberg/ledger-sync/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// RateSource is the part of fx.Table the ledger needs.
type RateSource interface {
	GetRates(ctx context.Context) domain.RateTable
}

// TransactionInput is a transaction as entered by the user.
type TransactionInput struct {
	Kind      string  `json:"kind"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	AccountID string  `json:"accountId"`
	DateISO   string  `json:"dateISO"`
	Note      string  `json:"note"`
	BucketID  string  `json:"bucketId"`
}

// LedgerService performs ledger edits. The remote store is written first;
// the identity's cached state only follows a successful remote write.
type LedgerService struct {
	session port.SessionProvider
	store   port.LedgerStore
	cache   *localcache.Cache
	rates   RateSource
	metrics *observability.Metrics
	logger  *zap.Logger
	newID   func() string
}

// NewLedgerService creates a new ledger service.
func NewLedgerService(session port.SessionProvider, store port.LedgerStore, cache *localcache.Cache, rates RateSource, metrics *observability.Metrics, logger *zap.Logger) *LedgerService {
	return &LedgerService{
		session: session,
		store:   store,
		cache:   cache,
		rates:   rates,
		metrics: metrics,
		logger:  logger,
		newID:   uuid.NewString,
	}
}

// ============================================================
// Accounts
// ============================================================

func (s *LedgerService) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	ctx, span := tracer.Start(ctx, "LedgerService.ListAccounts")
	defer span.End()

	identity, err := s.session.Session(ctx)
	if err != nil {
		return nil, err
	}
	accounts, err := s.store.ListAccounts(ctx, identity)
	if err != nil {
		return nil, err
	}
	s.refresh(ctx, identity, func(st *domain.AppState) { st.Accounts = accounts })
	return accounts, nil
}

func (s *LedgerService) CreateAccount(ctx context.Context, name, currency string) (*domain.Account, error) {
	ctx, span := tracer.Start(ctx, "LedgerService.CreateAccount")
	defer span.End()

	identity, err := s.session.Session(ctx)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &domain.ErrValidation{Field: "name", Message: "required"}
	}

	acc := domain.Account{ID: s.newID(), Name: name, Currency: fx.NormalizeCurrency(currency)}
	if err := s.store.InsertAccounts(ctx, identity, []domain.Account{acc}); err != nil {
		return nil, err
	}
	s.refresh(ctx, identity, func(st *domain.AppState) { st.Accounts = append(st.Accounts, acc) })
	return &acc, nil
}

func (s *LedgerService) UpdateAccount(ctx context.Context, accountID string, patch port.AccountPatch) (*domain.Account, error) {
	ctx, span := tracer.Start(ctx, "LedgerService.UpdateAccount")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID))

	identity, err := s.session.Session(ctx)
	if err != nil {
		return nil, err
	}
	if patch.Name != nil {
		n := strings.TrimSpace(*patch.Name)
		if n == "" {
			return nil, &domain.ErrValidation{Field: "name", Message: "required"}
		}
		patch.Name = &n
	}
	if patch.Currency != nil {
		c := fx.NormalizeCurrency(*patch.Currency)
		patch.Currency = &c
	}

	accounts, err := s.store.ListAccounts(ctx, identity)
	if err != nil {
		return nil, err
	}
	acc, ok := findAccount(accounts, accountID)
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "account", ID: accountID}
	}

	if err := s.store.UpdateAccount(ctx, identity, accountID, patch); err != nil {
		return nil, err
	}
	if patch.Name != nil {
		acc.Name = *patch.Name
	}
	if patch.Currency != nil {
		acc.Currency = *patch.Currency
	}
	s.refresh(ctx, identity, func(st *domain.AppState) {
		for i := range st.Accounts {
			if st.Accounts[i].ID == accountID {
				st.Accounts[i] = acc
			}
		}
	})
	return &acc, nil
}

// DeleteAccount refuses while any transaction references the account.
func (s *LedgerService) DeleteAccount(ctx context.Context, accountID string) error {
	ctx, span := tracer.Start(ctx, "LedgerService.DeleteAccount")
	defer span.End()
	span.SetAttributes(attribute.String("account.id", accountID))

	identity, err := s.session.Session(ctx)
	if err != nil {
		return err
	}
	n, err := s.store.CountAccountTransactions(ctx, identity, accountID)
	if err != nil {
		return err
	}
	if n > 0 {
		return &domain.ErrConflict{Message: "account has transactions; delete or move them first"}
	}
	if err := s.store.DeleteAccount(ctx, identity, accountID); err != nil {
		return err
	}
	s.refresh(ctx, identity, func(st *domain.AppState) {
		kept := st.Accounts[:0]
		for _, a := range st.Accounts {
			if a.ID != accountID {
				kept = append(kept, a)
			}
		}
		st.Accounts = kept
	})
	return nil
}

// ============================================================
// Buckets
// ============================================================

func (s *LedgerService) ListBuckets(ctx context.Context) ([]domain.Bucket, error) {
	ctx, span := tracer.Start(ctx, "LedgerService.ListBuckets")
	defer span.End()

	identity, err := s.session.Session(ctx)
	if err != nil {
		return nil, err
	}
	buckets, err := s.store.ListBuckets(ctx, identity)
	if err != nil {
		return nil, err
	}
	s.refresh(ctx, identity, func(st *domain.AppState) { st.Buckets = buckets })
	return buckets, nil
}

func (s *LedgerService) CreateBucket(ctx context.Context, name, kind string, percent *float64) (*domain.Bucket, error) {
	ctx, span := tracer.Start(ctx, "LedgerService.CreateBucket")
	defer span.End()

	identity, err := s.session.Session(ctx)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &domain.ErrValidation{Field: "name", Message: "required"}
	}
	k, ok := domain.ParseKind(kind)
	if !ok {
		return nil, &domain.ErrValidation{Field: "kind", Message: "must be income or expense"}
	}
	if percent != nil && (math.IsNaN(*percent) || *percent < 0 || *percent > 100) {
		return nil, &domain.ErrValidation{Field: "percent", Message: "must be between 0 and 100"}
	}

	b := domain.Bucket{ID: s.newID(), Name: name, Kind: k, Percent: percent}
	if err := s.store.InsertBuckets(ctx, identity, []domain.Bucket{b}); err != nil {
		return nil, err
	}
	s.refresh(ctx, identity, func(st *domain.AppState) { st.Buckets = append(st.Buckets, b) })
	return &b, nil
}

func (s *LedgerService) RenameBucket(ctx context.Context, bucketID, name string) error {
	ctx, span := tracer.Start(ctx, "LedgerService.RenameBucket")
	defer span.End()

	identity, err := s.session.Session(ctx)
	if err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return &domain.ErrValidation{Field: "name", Message: "required"}
	}
	exists, err := s.store.BucketExists(ctx, identity, bucketID)
	if err != nil {
		return err
	}
	if !exists {
		return &domain.ErrNotFound{Resource: "bucket", ID: bucketID}
	}
	if err := s.store.RenameBucket(ctx, identity, bucketID, name); err != nil {
		return err
	}
	s.refresh(ctx, identity, func(st *domain.AppState) {
		for i := range st.Buckets {
			if st.Buckets[i].ID == bucketID {
				st.Buckets[i].Name = name
			}
		}
	})
	return nil
}

// DeleteBucket nulls the bucket on every transaction that uses it, then
// removes it. Transactions are never deleted with their bucket.
func (s *LedgerService) DeleteBucket(ctx context.Context, bucketID string) error {
	ctx, span := tracer.Start(ctx, "LedgerService.DeleteBucket")
	defer span.End()
	span.SetAttributes(attribute.String("bucket.id", bucketID))

	identity, err := s.session.Session(ctx)
	if err != nil {
		return err
	}
	if err := s.store.ClearBucketReferences(ctx, identity, bucketID); err != nil {
		return err
	}
	if err := s.store.DeleteBucket(ctx, identity, bucketID); err != nil {
		return err
	}
	s.refresh(ctx, identity, func(st *domain.AppState) {
		kept := st.Buckets[:0]
		for _, b := range st.Buckets {
			if b.ID != bucketID {
				kept = append(kept, b)
			}
		}
		st.Buckets = kept
		for i := range st.Transactions {
			if st.Transactions[i].BucketID == bucketID {
				st.Transactions[i].BucketID = ""
			}
		}
	})
	return nil
}

// ============================================================
// Transactions
// ============================================================

func (s *LedgerService) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "LedgerService.ListTransactions")
	defer span.End()

	identity, err := s.session.Session(ctx)
	if err != nil {
		return nil, err
	}
	txs, err := s.store.ListTransactions(ctx, identity)
	if err != nil {
		return nil, err
	}
	s.refresh(ctx, identity, func(st *domain.AppState) { st.Transactions = txs })
	return txs, nil
}

// CreateTransaction validates the input, freezes its value in the current
// base currency and stores it.
func (s *LedgerService) CreateTransaction(ctx context.Context, in TransactionInput) (*domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "LedgerService.CreateTransaction")
	defer span.End()

	identity, err := s.session.Session(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := s.prepare(ctx, identity, s.newID(), in)
	if err != nil {
		return nil, err
	}
	if err := s.store.InsertTransactions(ctx, identity, []domain.Transaction{tx}); err != nil {
		return nil, err
	}
	s.refresh(ctx, identity, func(st *domain.AppState) {
		st.Transactions = append([]domain.Transaction{tx}, st.Transactions...)
	})
	return &tx, nil
}

// UpdateTransaction replaces a transaction. The snapshot is recomputed
// against the base currency and rates of the moment of the edit.
func (s *LedgerService) UpdateTransaction(ctx context.Context, txID string, in TransactionInput) (*domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "LedgerService.UpdateTransaction")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", txID))

	identity, err := s.session.Session(ctx)
	if err != nil {
		return nil, err
	}
	existing, err := s.store.ListTransactions(ctx, identity)
	if err != nil {
		return nil, err
	}
	if _, ok := findTransaction(existing, txID); !ok {
		return nil, &domain.ErrNotFound{Resource: "transaction", ID: txID}
	}

	tx, err := s.prepare(ctx, identity, txID, in)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateTransaction(ctx, identity, tx); err != nil {
		return nil, err
	}
	s.refresh(ctx, identity, func(st *domain.AppState) {
		for i := range st.Transactions {
			if st.Transactions[i].ID == txID {
				st.Transactions[i] = tx
			}
		}
	})
	return &tx, nil
}

func (s *LedgerService) DeleteTransaction(ctx context.Context, txID string) error {
	ctx, span := tracer.Start(ctx, "LedgerService.DeleteTransaction")
	defer span.End()

	identity, err := s.session.Session(ctx)
	if err != nil {
		return err
	}
	if err := s.store.DeleteTransaction(ctx, identity, txID); err != nil {
		return err
	}
	s.refresh(ctx, identity, func(st *domain.AppState) {
		kept := st.Transactions[:0]
		for _, t := range st.Transactions {
			if t.ID != txID {
				kept = append(kept, t)
			}
		}
		st.Transactions = kept
	})
	return nil
}

// prepare turns input into a storable transaction. The account must exist
// remotely; an unknown bucket is dropped.
func (s *LedgerService) prepare(ctx context.Context, identity, id string, in TransactionInput) (domain.Transaction, error) {
	kind, ok := domain.ParseKind(in.Kind)
	if !ok {
		return domain.Transaction{}, &domain.ErrValidation{Field: "kind", Message: "must be income or expense"}
	}
	if math.IsNaN(in.Amount) || math.IsInf(in.Amount, 0) || in.Amount < 0 {
		return domain.Transaction{}, &domain.ErrValidation{Field: "amount", Message: "must be a non-negative number"}
	}
	if _, err := time.Parse("2006-01-02", in.DateISO); err != nil {
		return domain.Transaction{}, &domain.ErrValidation{Field: "dateISO", Message: "must be YYYY-MM-DD"}
	}
	if strings.TrimSpace(in.AccountID) == "" {
		return domain.Transaction{}, &domain.ErrValidation{Field: "accountId", Message: "required"}
	}

	accounts, err := s.store.ListAccounts(ctx, identity)
	if err != nil {
		return domain.Transaction{}, err
	}
	acc, ok := findAccount(accounts, in.AccountID)
	if !ok {
		return domain.Transaction{}, &domain.ErrValidation{Field: "accountId", Message: "account does not exist"}
	}

	currency := acc.Currency
	if strings.TrimSpace(in.Currency) != "" {
		currency = fx.NormalizeCurrency(in.Currency)
	}

	bucketID := strings.TrimSpace(in.BucketID)
	if bucketID != "" {
		exists, err := s.store.BucketExists(ctx, identity, bucketID)
		if err != nil {
			return domain.Transaction{}, err
		}
		if !exists {
			s.logger.Info("ledger: dropping unknown bucket reference",
				zap.String("identity", identity),
				zap.String("bucket_id", bucketID),
			)
			bucketID = ""
		}
	}

	tx := domain.Transaction{
		ID:        id,
		Kind:      kind,
		Amount:    fx.RoundMoney(in.Amount),
		Currency:  currency,
		AccountID: acc.ID,
		DateISO:   in.DateISO,
		Note:      strings.TrimSpace(in.Note),
		BucketID:  bucketID,
	}

	base, rates, err := s.valuation(ctx, identity)
	if err != nil {
		return domain.Transaction{}, err
	}
	tx, conv := fx.Snapshot(tx, base, rates)
	if !conv.Converted {
		s.metrics.IncrUnconverted("snapshot", string(conv.Reason))
		s.logger.Warn("ledger: transaction kept without a base snapshot",
			zap.String("identity", identity),
			zap.String("currency", tx.Currency),
			zap.String("base", base),
			zap.String("reason", string(conv.Reason)),
		)
	}
	return tx, nil
}

// valuation returns the identity's base currency and the current rates.
func (s *LedgerService) valuation(ctx context.Context, identity string) (string, fx.Rates, error) {
	st, err := s.cache.Load(ctx, identity)
	if err != nil {
		return "", nil, err
	}
	base := domain.DefaultBaseCurrency
	if st != nil {
		base = st.BaseCurrency
	}
	return base, fx.Rates(s.rates.GetRates(ctx).RatesToUSD), nil
}

// ============================================================
// Settings & status
// ============================================================

// SetBaseCurrency changes the reporting currency. Snapshots taken against
// another base are revalued live from then on.
func (s *LedgerService) SetBaseCurrency(ctx context.Context, code string) (*domain.AppState, error) {
	ctx, span := tracer.Start(ctx, "LedgerService.SetBaseCurrency")
	defer span.End()

	identity, err := s.session.Session(ctx)
	if err != nil {
		return nil, err
	}
	base := fx.NormalizeCurrency(code)
	return s.cache.Update(ctx, identity, func(st *domain.AppState) error {
		st.BaseCurrency = base
		return nil
	})
}

// SetMonthlyIncomeTarget sets the income goal shown on the month report.
func (s *LedgerService) SetMonthlyIncomeTarget(ctx context.Context, target float64) (*domain.AppState, error) {
	ctx, span := tracer.Start(ctx, "LedgerService.SetMonthlyIncomeTarget")
	defer span.End()

	if math.IsNaN(target) || math.IsInf(target, 0) || target <= 0 {
		return nil, &domain.ErrValidation{Field: "monthlyIncomeTarget", Message: "must be a positive number"}
	}
	identity, err := s.session.Session(ctx)
	if err != nil {
		return nil, err
	}
	return s.cache.Update(ctx, identity, func(st *domain.AppState) error {
		st.MonthlyIncomeTarget = fx.RoundMoney(target)
		return nil
	})
}

// SyncRates refreshes the currency table and stores it in the caller's
// cached state. Guests get the table without a write to their slot.
func (s *LedgerService) SyncRates(ctx context.Context) (domain.RateTable, error) {
	ctx, span := tracer.Start(ctx, "LedgerService.SyncRates")
	defer span.End()

	table := s.rates.GetRates(ctx)
	span.SetAttributes(attribute.String("fx.source", string(table.Source)))

	identity, err := s.session.Session(ctx)
	if err != nil {
		return table, nil
	}
	_, err = s.cache.Update(ctx, identity, func(st *domain.AppState) error {
		st.FxRatesToUSD = table.RatesToUSD
		st.FxUpdatedAt = table.UpdatedAt.UnixMilli()
		return nil
	})
	return table, err
}

// SetupStatus reports whether the caller still has to create an account and
// a bucket.
func (s *LedgerService) SetupStatus(ctx context.Context) (*domain.SetupStatus, error) {
	ctx, span := tracer.Start(ctx, "LedgerService.SetupStatus")
	defer span.End()

	identity, err := s.session.Session(ctx)
	if err != nil {
		return nil, err
	}
	accounts, err := s.store.ListAccounts(ctx, identity)
	if err != nil {
		return nil, err
	}
	buckets, err := s.store.ListBuckets(ctx, identity)
	if err != nil {
		return nil, err
	}
	status := &domain.SetupStatus{HasAccounts: len(accounts) > 0, HasBuckets: len(buckets) > 0}
	status.NeedsSetup = !status.HasAccounts || !status.HasBuckets
	return status, nil
}

// refresh applies fn to the identity's cached state. The remote write has
// already succeeded, so a cache failure is only logged.
func (s *LedgerService) refresh(ctx context.Context, identity string, fn func(*domain.AppState)) {
	_, err := s.cache.Update(ctx, identity, func(st *domain.AppState) error {
		st.OwnerUserID = identity
		fn(st)
		return nil
	})
	if err != nil {
		s.logger.Warn("ledger: failed to update local cache",
			zap.String("identity", identity),
			zap.Error(err),
		)
	}
}

func findAccount(accounts []domain.Account, id string) (domain.Account, bool) {
	for _, a := range accounts {
		if a.ID == id {
			return a, true
		}
	}
	return domain.Account{}, false
}

func findTransaction(txs []domain.Transaction, id string) (domain.Transaction, bool) {
	for _, t := range txs {
		if t.ID == id {
			return t, true
		}
	}
	return domain.Transaction{}, false
}
