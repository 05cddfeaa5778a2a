// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"

	"github.com/boddenberg/ledger-sync/internal/domain"
)

// Filter selects remote rows by column equality, optionally ordered.
// Order uses the PostgREST form "column.asc" / "column.desc".
type Filter struct {
	Eq    map[string]string
	Order string
}

// Where starts a filter on a single column.
func Where(column, value string) Filter {
	return Filter{Eq: map[string]string{column: value}}
}

// And returns a copy of f with one more equality condition.
func (f Filter) And(column, value string) Filter {
	eq := make(map[string]string, len(f.Eq)+1)
	for k, v := range f.Eq {
		eq[k] = v
	}
	eq[column] = value
	return Filter{Eq: eq, Order: f.Order}
}

// OrderBy returns a copy of f sorted on column.
func (f Filter) OrderBy(column string, ascending bool) Filter {
	dir := "desc"
	if ascending {
		dir = "asc"
	}
	f.Order = column + "." + dir
	return f
}

// RemoteStore is the authoritative remote store, consumed as generic CRUD.
// Rows are JSON-encodable structs; out is decoded like encoding/json.
type RemoteStore interface {
	List(ctx context.Context, table string, filter Filter, out any) error
	Insert(ctx context.Context, table string, rows any, out any) error
	Update(ctx context.Context, table string, filter Filter, patch map[string]any) error
	Delete(ctx context.Context, table string, filter Filter) error
}

// SessionProvider resolves the authenticated identity of the caller.
// It returns *domain.ErrNotAuthenticated when there is none.
type SessionProvider interface {
	Session(ctx context.Context) (string, error)
}

// RateProvider fetches live quotes: 1 base = Rates[code] units of code.
type RateProvider interface {
	FetchRates(ctx context.Context, base string, symbols []string) (*domain.Quotes, error)
}

// KVStore persists opaque blobs by key.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// ChangePublisher broadcasts local cache changes.
type ChangePublisher interface {
	Publish(change domain.StateChange)
}

// ChangeSubscriber lets consumers react to local cache changes.
// The returned func removes the subscription.
type ChangeSubscriber interface {
	Subscribe(fn func(domain.StateChange)) func()
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}

// AccountPatch carries optional account changes.
type AccountPatch struct {
	Name     *string
	Currency *string
}

// LedgerStore is the typed view of the remote ledger tables for one identity.
type LedgerStore interface {
	// Accounts
	ListAccounts(ctx context.Context, userID string) ([]domain.Account, error)
	InsertAccounts(ctx context.Context, userID string, accounts []domain.Account) error
	UpdateAccount(ctx context.Context, userID, accountID string, patch AccountPatch) error
	DeleteAccount(ctx context.Context, userID, accountID string) error
	AccountExists(ctx context.Context, userID, accountID string) (bool, error)

	// Buckets
	ListBuckets(ctx context.Context, userID string) ([]domain.Bucket, error)
	InsertBuckets(ctx context.Context, userID string, buckets []domain.Bucket) error
	RenameBucket(ctx context.Context, userID, bucketID, name string) error
	DeleteBucket(ctx context.Context, userID, bucketID string) error
	BucketExists(ctx context.Context, userID, bucketID string) (bool, error)

	// Transactions
	ListTransactions(ctx context.Context, userID string) ([]domain.Transaction, error)
	CountAccountTransactions(ctx context.Context, userID, accountID string) (int, error)
	InsertTransactions(ctx context.Context, userID string, txs []domain.Transaction) error
	UpdateTransaction(ctx context.Context, userID string, tx domain.Transaction) error
	DeleteTransaction(ctx context.Context, userID, txID string) error
	ClearBucketReferences(ctx context.Context, userID, bucketID string) error
}
