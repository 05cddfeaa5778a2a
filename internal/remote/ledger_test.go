package remote_test

import (
	"context"
	"errors"
	"testing"

	"github.com/boddenberg/ledger-sync/internal/domain"
	"github.com/boddenberg/ledger-sync/internal/infra/memstore"
	"github.com/boddenberg/ledger-sync/internal/port"
	"github.com/boddenberg/ledger-sync/internal/remote"
)

func newLedger() (*remote.Ledger, *memstore.Store) {
	store := memstore.New().
		WithForeignKey(remote.TableTransactions, "account_id", remote.TableAccounts).
		WithForeignKey(remote.TableTransactions, "bucket_id", remote.TableBuckets)
	return remote.NewLedger(store), store
}

func f(v float64) *float64 { return &v }

func TestLedger_ScopesByUser(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger()

	_ = l.InsertAccounts(ctx, "u1", []domain.Account{{ID: "a1", Name: "Cash", Currency: "USD"}})
	_ = l.InsertAccounts(ctx, "u2", []domain.Account{{ID: "a2", Name: "Bank", Currency: "EUR"}})

	got, err := l.ListAccounts(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "a1" {
		t.Fatalf("expected only u1's account, got %+v", got)
	}

	ok, _ := l.AccountExists(ctx, "u1", "a2")
	if ok {
		t.Error("another identity's account must not be visible")
	}
}

func TestLedger_TransactionsRoundTripAndOrder(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger()

	_ = l.InsertAccounts(ctx, "u1", []domain.Account{{ID: "a1", Name: "Cash", Currency: "USD"}})
	_ = l.InsertBuckets(ctx, "u1", []domain.Bucket{{ID: "b1", Name: "Food", Kind: domain.KindExpense, Percent: f(30)}})

	err := l.InsertTransactions(ctx, "u1", []domain.Transaction{
		{ID: "t1", Kind: domain.KindExpense, Amount: 5, Currency: "USD", AccountID: "a1", DateISO: "2024-03-01", BucketID: "b1"},
		{ID: "t2", Kind: domain.KindIncome, Amount: 100, Currency: "USD", AccountID: "a1", DateISO: "2024-03-20",
			BaseAmount: f(100), BaseCurrencySnapshot: "USD", Note: "salary"},
	})
	if err != nil {
		t.Fatal(err)
	}

	txs, err := l.ListTransactions(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 2 || txs[0].ID != "t2" {
		t.Fatalf("expected newest first, got %+v", txs)
	}
	if txs[0].Note != "salary" || txs[0].BaseAmount == nil || *txs[0].BaseAmount != 100 {
		t.Errorf("optional columns lost: %+v", txs[0])
	}
	if txs[1].BucketID != "b1" || txs[1].BaseAmount != nil {
		t.Errorf("unexpected second tx %+v", txs[1])
	}

	buckets, _ := l.ListBuckets(ctx, "u1")
	if len(buckets) != 1 || buckets[0].Percent == nil || *buckets[0].Percent != 30 {
		t.Errorf("expected bucket percent preserved, got %+v", buckets)
	}
}

func TestLedger_ForeignKeyRejection(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger()

	err := l.InsertTransactions(ctx, "u1", []domain.Transaction{
		{ID: "t1", Kind: domain.KindExpense, Amount: 1, Currency: "USD", AccountID: "nope", DateISO: "2024-01-01"},
	})
	var rr *domain.ErrRemoteRejected
	if !errors.As(err, &rr) {
		t.Fatalf("expected ErrRemoteRejected, got %v", err)
	}
}

func TestLedger_ClearBucketReferencesThenDelete(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger()

	_ = l.InsertAccounts(ctx, "u1", []domain.Account{{ID: "a1", Name: "Cash", Currency: "USD"}})
	_ = l.InsertBuckets(ctx, "u1", []domain.Bucket{{ID: "b1", Name: "Food", Kind: domain.KindExpense}})
	_ = l.InsertTransactions(ctx, "u1", []domain.Transaction{
		{ID: "t1", Kind: domain.KindExpense, Amount: 1, Currency: "USD", AccountID: "a1", DateISO: "2024-01-01", BucketID: "b1"},
	})

	if err := l.DeleteBucket(ctx, "u1", "b1"); err == nil {
		t.Fatal("expected delete to be refused while transactions reference the bucket")
	}

	if err := l.ClearBucketReferences(ctx, "u1", "b1"); err != nil {
		t.Fatal(err)
	}
	if err := l.DeleteBucket(ctx, "u1", "b1"); err != nil {
		t.Fatalf("expected delete after clearing references, got %v", err)
	}

	txs, _ := l.ListTransactions(ctx, "u1")
	if len(txs) != 1 || txs[0].BucketID != "" {
		t.Errorf("expected transaction kept without bucket, got %+v", txs)
	}
}

func TestLedger_UpdateAccountAndCount(t *testing.T) {
	ctx := context.Background()
	l, _ := newLedger()

	_ = l.InsertAccounts(ctx, "u1", []domain.Account{{ID: "a1", Name: "Cash", Currency: "USD"}})
	name := "Wallet"
	if err := l.UpdateAccount(ctx, "u1", "a1", port.AccountPatch{Name: &name}); err != nil {
		t.Fatal(err)
	}
	accts, _ := l.ListAccounts(ctx, "u1")
	if accts[0].Name != "Wallet" || accts[0].Currency != "USD" {
		t.Errorf("unexpected account %+v", accts[0])
	}

	n, err := l.CountAccountTransactions(ctx, "u1", "a1")
	if err != nil || n != 0 {
		t.Errorf("expected 0 transactions, got %d err=%v", n, err)
	}
}
