// Package remote maps ledger entities onto the remote store's tables.
// Every query is scoped to one identity through the user_id column.
package remote

import (
	"context"
	"time"

	"github.com/boddenberg/ledger-sync/internal/domain"
	"github.com/boddenberg/ledger-sync/internal/port"
)

// Table names.
const (
	TableAccounts     = "accounts"
	TableBuckets      = "buckets"
	TableTransactions = "transactions"
)

type accountRow struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
}

type bucketRow struct {
	ID      string   `json:"id"`
	UserID  string   `json:"user_id"`
	Name    string   `json:"name"`
	Kind    string   `json:"kind"`
	Percent *float64 `json:"percent"`
}

type transactionRow struct {
	ID                   string   `json:"id"`
	UserID               string   `json:"user_id"`
	Kind                 string   `json:"kind"`
	Amount               float64  `json:"amount"`
	Currency             string   `json:"currency"`
	AccountID            string   `json:"account_id"`
	DateISO              string   `json:"date_iso"`
	Note                 *string  `json:"note"`
	BucketID             *string  `json:"bucket_id"`
	BaseAmount           *float64 `json:"base_amount"`
	BaseCurrencySnapshot *string  `json:"base_currency_snapshot"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func toTransactionRow(userID string, t domain.Transaction) transactionRow {
	return transactionRow{
		ID:                   t.ID,
		UserID:               userID,
		Kind:                 string(t.Kind),
		Amount:               t.Amount,
		Currency:             t.Currency,
		AccountID:            t.AccountID,
		DateISO:              t.DateISO,
		Note:                 optional(t.Note),
		BucketID:             optional(t.BucketID),
		BaseAmount:           t.BaseAmount,
		BaseCurrencySnapshot: optional(t.BaseCurrencySnapshot),
	}
}

func (r transactionRow) toDomain() domain.Transaction {
	kind, ok := domain.ParseKind(r.Kind)
	if !ok {
		kind = domain.KindExpense
	}
	return domain.Transaction{
		ID:                   r.ID,
		Kind:                 kind,
		Amount:               r.Amount,
		Currency:             r.Currency,
		AccountID:            r.AccountID,
		DateISO:              r.DateISO,
		Note:                 deref(r.Note),
		BucketID:             deref(r.BucketID),
		BaseAmount:           r.BaseAmount,
		BaseCurrencySnapshot: deref(r.BaseCurrencySnapshot),
	}
}

// Ledger implements port.LedgerStore over a generic remote store.
type Ledger struct {
	store port.RemoteStore
	now   func() time.Time
}

// NewLedger creates a typed ledger view of store.
func NewLedger(store port.RemoteStore) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

func byUser(userID string) port.Filter {
	return port.Where("user_id", userID)
}

func byID(userID, id string) port.Filter {
	return byUser(userID).And("id", id)
}

func (l *Ledger) stamp() string {
	return l.now().UTC().Format(time.RFC3339)
}

// --- Accounts ---

func (l *Ledger) ListAccounts(ctx context.Context, userID string) ([]domain.Account, error) {
	var rows []accountRow
	if err := l.store.List(ctx, TableAccounts, byUser(userID).OrderBy("created_at", true), &rows); err != nil {
		return nil, err
	}
	out := make([]domain.Account, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.Account{ID: r.ID, Name: r.Name, Currency: r.Currency})
	}
	return out, nil
}

func (l *Ledger) InsertAccounts(ctx context.Context, userID string, accounts []domain.Account) error {
	if len(accounts) == 0 {
		return nil
	}
	rows := make([]accountRow, 0, len(accounts))
	for _, a := range accounts {
		rows = append(rows, accountRow{ID: a.ID, UserID: userID, Name: a.Name, Currency: a.Currency})
	}
	return l.store.Insert(ctx, TableAccounts, rows, nil)
}

func (l *Ledger) UpdateAccount(ctx context.Context, userID, accountID string, patch port.AccountPatch) error {
	fields := map[string]any{"updated_at": l.stamp()}
	if patch.Name != nil {
		fields["name"] = *patch.Name
	}
	if patch.Currency != nil {
		fields["currency"] = *patch.Currency
	}
	return l.store.Update(ctx, TableAccounts, byID(userID, accountID), fields)
}

func (l *Ledger) DeleteAccount(ctx context.Context, userID, accountID string) error {
	return l.store.Delete(ctx, TableAccounts, byID(userID, accountID))
}

func (l *Ledger) AccountExists(ctx context.Context, userID, accountID string) (bool, error) {
	var rows []accountRow
	if err := l.store.List(ctx, TableAccounts, byID(userID, accountID), &rows); err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// --- Buckets ---

func (l *Ledger) ListBuckets(ctx context.Context, userID string) ([]domain.Bucket, error) {
	var rows []bucketRow
	if err := l.store.List(ctx, TableBuckets, byUser(userID).OrderBy("created_at", true), &rows); err != nil {
		return nil, err
	}
	out := make([]domain.Bucket, 0, len(rows))
	for _, r := range rows {
		kind, ok := domain.ParseKind(r.Kind)
		if !ok {
			kind = domain.KindExpense
		}
		out = append(out, domain.Bucket{ID: r.ID, Name: r.Name, Kind: kind, Percent: r.Percent})
	}
	return out, nil
}

func (l *Ledger) InsertBuckets(ctx context.Context, userID string, buckets []domain.Bucket) error {
	if len(buckets) == 0 {
		return nil
	}
	rows := make([]bucketRow, 0, len(buckets))
	for _, b := range buckets {
		rows = append(rows, bucketRow{ID: b.ID, UserID: userID, Name: b.Name, Kind: string(b.Kind), Percent: b.Percent})
	}
	return l.store.Insert(ctx, TableBuckets, rows, nil)
}

func (l *Ledger) RenameBucket(ctx context.Context, userID, bucketID, name string) error {
	return l.store.Update(ctx, TableBuckets, byID(userID, bucketID), map[string]any{
		"name":       name,
		"updated_at": l.stamp(),
	})
}

func (l *Ledger) DeleteBucket(ctx context.Context, userID, bucketID string) error {
	return l.store.Delete(ctx, TableBuckets, byID(userID, bucketID))
}

func (l *Ledger) BucketExists(ctx context.Context, userID, bucketID string) (bool, error) {
	var rows []bucketRow
	if err := l.store.List(ctx, TableBuckets, byID(userID, bucketID), &rows); err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// --- Transactions ---

func (l *Ledger) ListTransactions(ctx context.Context, userID string) ([]domain.Transaction, error) {
	var rows []transactionRow
	if err := l.store.List(ctx, TableTransactions, byUser(userID).OrderBy("date_iso", false), &rows); err != nil {
		return nil, err
	}
	out := make([]domain.Transaction, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (l *Ledger) CountAccountTransactions(ctx context.Context, userID, accountID string) (int, error) {
	var rows []struct {
		ID string `json:"id"`
	}
	if err := l.store.List(ctx, TableTransactions, byUser(userID).And("account_id", accountID), &rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (l *Ledger) InsertTransactions(ctx context.Context, userID string, txs []domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	rows := make([]transactionRow, 0, len(txs))
	for _, t := range txs {
		rows = append(rows, toTransactionRow(userID, t))
	}
	return l.store.Insert(ctx, TableTransactions, rows, nil)
}

func (l *Ledger) UpdateTransaction(ctx context.Context, userID string, tx domain.Transaction) error {
	r := toTransactionRow(userID, tx)
	return l.store.Update(ctx, TableTransactions, byID(userID, tx.ID), map[string]any{
		"kind":                   r.Kind,
		"amount":                 r.Amount,
		"currency":               r.Currency,
		"account_id":             r.AccountID,
		"date_iso":               r.DateISO,
		"note":                   r.Note,
		"bucket_id":              r.BucketID,
		"base_amount":            r.BaseAmount,
		"base_currency_snapshot": r.BaseCurrencySnapshot,
	})
}

func (l *Ledger) DeleteTransaction(ctx context.Context, userID, txID string) error {
	return l.store.Delete(ctx, TableTransactions, byID(userID, txID))
}

// ClearBucketReferences nulls bucket_id on every transaction pointing at bucketID.
func (l *Ledger) ClearBucketReferences(ctx context.Context, userID, bucketID string) error {
	return l.store.Update(ctx, TableTransactions, byUser(userID).And("bucket_id", bucketID), map[string]any{
		"bucket_id": nil,
	})
}
