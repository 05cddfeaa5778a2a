package migration_test

import (
	"context"
	"errors"
	"testing"

	"github.com/boddenberg/ledger-sync/internal/domain"
	"github.com/boddenberg/ledger-sync/internal/infra/memstore"
	"github.com/boddenberg/ledger-sync/internal/infra/observability"
	"github.com/boddenberg/ledger-sync/internal/migration"
	"github.com/boddenberg/ledger-sync/internal/ownership"
	"github.com/boddenberg/ledger-sync/internal/remote"

	"go.uber.org/zap"
)

func setup() (*migration.Engine, *remote.Ledger, *memstore.Store) {
	store := memstore.New().
		WithForeignKey(remote.TableTransactions, "account_id", remote.TableAccounts).
		WithForeignKey(remote.TableTransactions, "bucket_id", remote.TableBuckets)
	ledger := remote.NewLedger(store)
	return migration.NewEngine(ledger, observability.NewMetrics(), zap.NewNop()), ledger, store
}

func f(v float64) *float64 { return &v }

// guestState has 2 accounts, 1 bucket and 3 transactions.
func guestState() *domain.AppState {
	st := domain.NewAppState()
	st.Accounts = []domain.Account{
		{ID: "local-a1", Name: "Cash", Currency: "usd"},
		{ID: "local-a2", Name: " Bank ", Currency: "€"},
	}
	st.Buckets = []domain.Bucket{
		{ID: "local-b1", Name: "Food", Kind: domain.KindExpense},
	}
	st.Transactions = []domain.Transaction{
		{ID: "t1", Kind: domain.KindIncome, Amount: 100, Currency: "USD", AccountID: "local-a1", DateISO: "2024-03-05"},
		{ID: "t2", Kind: domain.KindExpense, Amount: 40, Currency: "USD", AccountID: "local-a1", DateISO: "2024-03-10", BucketID: "local-b1"},
		{ID: "t3", Kind: domain.KindExpense, Amount: 12, Currency: "EUR", AccountID: "local-a2", DateISO: "2024-03-11",
			BucketID: "gone", BaseAmount: f(13.08), BaseCurrencySnapshot: "USD"},
	}
	return st
}

func counts(store *memstore.Store) [3]int {
	return [3]int{
		store.Len(remote.TableAccounts),
		store.Len(remote.TableBuckets),
		store.Len(remote.TableTransactions),
	}
}

func TestRun_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	engine, _, store := setup()
	local, decision := ownership.Apply(guestState(), "u1")

	first, err := engine.Run(ctx, migration.Input{Identity: "u1", Local: local, Decision: decision})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if got := counts(store); got != [3]int{2, 1, 3} {
		t.Fatalf("after first run expected 2/1/3 rows, got %v", got)
	}
	for c, rec := range first.Journal {
		if rec.Status != domain.MigrationCompleted {
			t.Errorf("%s: expected completed, got %s (%s)", c, rec.Status, rec.Reason)
		}
	}

	second, err := engine.Run(ctx, migration.Input{Identity: "u1", Local: local, Decision: ownership.SameOwner, Prior: first.Journal})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := counts(store); got != [3]int{2, 1, 3} {
		t.Fatalf("after second run expected 2/1/3 rows, got %v", got)
	}
	for c, rec := range second.Journal {
		if rec.Status != domain.MigrationSkipped || rec.Reason != migration.ReasonRemoteNotEmpty {
			t.Errorf("%s: expected skipped/remote_not_empty, got %s/%s", c, rec.Status, rec.Reason)
		}
	}
	if len(second.Accounts) != 2 || len(second.Buckets) != 1 || len(second.Transactions) != 3 {
		t.Errorf("expected remote slices returned on skip, got %d/%d/%d",
			len(second.Accounts), len(second.Buckets), len(second.Transactions))
	}
}

func TestRun_RemapsReferencesAndAssignsNewIDs(t *testing.T) {
	ctx := context.Background()
	engine, _, _ := setup()

	report, err := engine.Run(ctx, migration.Input{Identity: "u1", Local: guestState(), Decision: ownership.Stamp})
	if err != nil {
		t.Fatal(err)
	}

	ids := map[string]domain.Account{}
	for _, a := range report.Accounts {
		if a.ID == "local-a1" || a.ID == "local-a2" {
			t.Errorf("account kept its local id %s", a.ID)
		}
		ids[a.ID] = a
	}
	if len(report.Buckets) != 1 || report.Buckets[0].ID == "local-b1" {
		t.Fatalf("expected one bucket with a new id, got %+v", report.Buckets)
	}

	byID := map[string]domain.Transaction{}
	for _, tx := range report.Transactions {
		byID[tx.ID] = tx
		if _, ok := ids[tx.AccountID]; !ok {
			t.Errorf("%s: account %s not remapped", tx.ID, tx.AccountID)
		}
	}
	if byID["t2"].BucketID != report.Buckets[0].ID {
		t.Errorf("expected t2 bucket remapped to %s, got %q", report.Buckets[0].ID, byID["t2"].BucketID)
	}
	if byID["t3"].BucketID != "" {
		t.Errorf("expected unknown bucket nulled, got %q", byID["t3"].BucketID)
	}
	if byID["t3"].Currency != "EUR" || byID["t3"].BaseAmount == nil || *byID["t3"].BaseAmount != 13.08 {
		t.Errorf("unexpected t3 %+v", byID["t3"])
	}
	if ids[byID["t3"].AccountID].Name != "Bank" || ids[byID["t3"].AccountID].Currency != "EUR" {
		t.Errorf("expected trimmed name and normalized currency, got %+v", ids[byID["t3"].AccountID])
	}
}

func TestRun_ForeignOwnerInsertsNothing(t *testing.T) {
	ctx := context.Background()
	engine, _, store := setup()

	cached := guestState()
	cached.OwnerUserID = "A"
	local, decision := ownership.Apply(cached, "B")

	report, err := engine.Run(ctx, migration.Input{Identity: "B", Local: local, Decision: decision})
	if err != nil {
		t.Fatal(err)
	}
	for _, table := range []string{remote.TableAccounts, remote.TableBuckets, remote.TableTransactions} {
		if n := store.Calls(table, "insert"); n != 0 {
			t.Errorf("%s: expected no inserts, got %d", table, n)
		}
	}
	for c, rec := range report.Journal {
		if rec.Status != domain.MigrationSkipped || rec.Reason != migration.ReasonForeignCache {
			t.Errorf("%s: expected skipped/foreign_cache, got %s/%s", c, rec.Status, rec.Reason)
		}
	}
}

func TestRun_ForeignOwnerEvenWithUnclearedData(t *testing.T) {
	ctx := context.Background()
	engine, _, store := setup()

	_, err := engine.Run(ctx, migration.Input{Identity: "B", Local: guestState(), Decision: ownership.DifferentOwner})
	if err != nil {
		t.Fatal(err)
	}
	if got := counts(store); got != [3]int{0, 0, 0} {
		t.Errorf("expected nothing uploaded, got %v", got)
	}
}

func TestRun_PartialFailureKeepsOtherCollections(t *testing.T) {
	ctx := context.Background()
	engine, _, store := setup()
	store.FailNext(remote.TableBuckets, "insert", &domain.ErrRemoteRejected{Table: "buckets", Op: "insert", Err: errors.New("check violation")})

	report, err := engine.Run(ctx, migration.Input{Identity: "u1", Local: guestState(), Decision: ownership.Stamp})
	if err == nil {
		t.Fatal("expected an error")
	}
	var rr *domain.ErrRemoteRejected
	if !errors.As(err, &rr) {
		t.Errorf("expected ErrRemoteRejected in %v", err)
	}

	if report.Journal[domain.CollectionAccounts].Status != domain.MigrationCompleted {
		t.Errorf("accounts should complete, got %s", report.Journal[domain.CollectionAccounts].Status)
	}
	if report.Journal[domain.CollectionBuckets].Status != domain.MigrationFailed {
		t.Errorf("buckets should fail, got %s", report.Journal[domain.CollectionBuckets].Status)
	}
	tx := report.Journal[domain.CollectionTransactions]
	if tx.Status != domain.MigrationSkipped || tx.Reason != migration.ReasonDependencyFailed {
		t.Errorf("transactions should wait for buckets, got %s/%s", tx.Status, tx.Reason)
	}
	if report.Buckets != nil || report.Transactions != nil {
		t.Error("failed or pending collections must not return slices")
	}
	if got := counts(store); got != [3]int{2, 0, 0} {
		t.Errorf("expected accounts kept remotely, got %v", got)
	}

	// Next bootstrap retries what is missing.
	retry, err := engine.Run(ctx, migration.Input{Identity: "u1", Local: guestState(), Decision: ownership.SameOwner, Prior: report.Journal})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := counts(store); got != [3]int{2, 1, 3} {
		t.Errorf("expected 2/1/3 after retry, got %v", got)
	}
	if retry.Journal[domain.CollectionAccounts].Reason != migration.ReasonRemoteNotEmpty {
		t.Errorf("accounts should be skipped on retry, got %+v", retry.Journal[domain.CollectionAccounts])
	}
}

func TestRun_DropsInvalidRows(t *testing.T) {
	ctx := context.Background()
	engine, _, store := setup()

	st := domain.NewAppState()
	st.Accounts = []domain.Account{{ID: "a", Name: "Cash", Currency: "USD"}, {ID: "blank", Name: "  "}}
	st.Transactions = []domain.Transaction{
		{ID: "ok", Kind: "weird", Amount: 1, Currency: "USD", AccountID: "a", DateISO: "2024-01-01"},
		{ID: "no-date", Kind: domain.KindIncome, Amount: 1, Currency: "USD", AccountID: "a"},
		{ID: "orphan", Kind: domain.KindIncome, Amount: 1, Currency: "USD", AccountID: "blank", DateISO: "2024-01-01"},
	}

	report, err := engine.Run(ctx, migration.Input{Identity: "u1", Local: st, Decision: ownership.Stamp})
	if err != nil {
		t.Fatal(err)
	}
	if report.Journal[domain.CollectionAccounts].Dropped != 1 {
		t.Errorf("expected one dropped account, got %+v", report.Journal[domain.CollectionAccounts])
	}
	txRec := report.Journal[domain.CollectionTransactions]
	if txRec.Migrated != 1 || txRec.Dropped != 2 {
		t.Errorf("expected 1 migrated / 2 dropped, got %+v", txRec)
	}
	if report.Journal[domain.CollectionBuckets].Reason != migration.ReasonLocalEmpty {
		t.Errorf("expected buckets skipped as empty, got %+v", report.Journal[domain.CollectionBuckets])
	}
	if store.Len(remote.TableTransactions) != 1 || report.Transactions[0].Kind != domain.KindExpense {
		t.Errorf("expected invalid kind coerced to expense, got %+v", report.Transactions)
	}
}

func TestRun_RequiresIdentity(t *testing.T) {
	engine, _, _ := setup()

	_, err := engine.Run(context.Background(), migration.Input{Local: guestState()})
	var na *domain.ErrNotAuthenticated
	if !errors.As(err, &na) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}
