package localcache_test

import (
	"context"
	"testing"
	"time"

	"github.com/boddenberg/ledger-sync/internal/domain"
	"github.com/boddenberg/ledger-sync/internal/infra/events"
	"github.com/boddenberg/ledger-sync/internal/infra/kv"
	"github.com/boddenberg/ledger-sync/internal/infra/observability"
	"github.com/boddenberg/ledger-sync/internal/localcache"

	"go.uber.org/zap"
)

func newCache(t *testing.T) (*localcache.Cache, *kv.Memory, *[]domain.StateChange) {
	t.Helper()
	store := kv.NewMemory()
	bus := events.NewBus(zap.NewNop())
	var changes []domain.StateChange
	bus.Subscribe(func(c domain.StateChange) { changes = append(changes, c) })
	return localcache.New(store, bus, "test", observability.NewMetrics(), zap.NewNop()), store, &changes
}

func TestKeyFor(t *testing.T) {
	if got := localcache.KeyFor(""); got != "moneyapp_state_guest" {
		t.Errorf("unexpected guest key %q", got)
	}
	if got := localcache.KeyFor("u-1"); got != "moneyapp_state_u-1" {
		t.Errorf("unexpected identity key %q", got)
	}
}

func TestCache_SaveLoadPublishes(t *testing.T) {
	ctx := context.Background()
	c, _, changes := newCache(t)

	st := domain.NewAppState()
	st.BaseCurrency = "EUR"
	st.Accounts = []domain.Account{{ID: "a1", Name: "Cash", Currency: "EUR"}}

	if err := c.Save(ctx, st, "u-1"); err != nil {
		t.Fatal(err)
	}

	got, err := c.Load(ctx, "u-1")
	if err != nil || got == nil {
		t.Fatalf("expected state, got %v err=%v", got, err)
	}
	if got.BaseCurrency != "EUR" || len(got.Accounts) != 1 {
		t.Errorf("unexpected state %+v", got)
	}

	if len(*changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(*changes))
	}
	ch := (*changes)[0]
	if ch.Key != "moneyapp_state_u-1" || ch.Op != domain.CacheOpSave || ch.Identity != "u-1" || ch.Origin != "test" {
		t.Errorf("unexpected change %+v", ch)
	}
}

func TestCache_LoadAbsentReturnsNil(t *testing.T) {
	c, _, _ := newCache(t)

	got, err := c.Load(context.Background(), "nobody")
	if err != nil || got != nil {
		t.Fatalf("expected nil state, got %v err=%v", got, err)
	}
}

func TestCache_CorruptBlobIsAbsent(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newCache(t)
	_ = store.Set(ctx, localcache.KeyFor(""), []byte("{not json"))

	got, err := c.Load(ctx, "")
	if err != nil || got != nil {
		t.Fatalf("expected nil state, got %v err=%v", got, err)
	}
}

func TestCache_LegacyUpgradeMovesIntoEmptySlot(t *testing.T) {
	ctx := context.Background()
	c, store, changes := newCache(t)
	_ = store.Set(ctx, localcache.BaseKey, []byte(`{"baseCurrency":"TRY","incomeBuckets":[{"id":"b1","name":"Salary"}]}`))

	got, err := c.Load(ctx, "u-1")
	if err != nil || got == nil {
		t.Fatalf("expected upgraded state, got %v err=%v", got, err)
	}
	if got.BaseCurrency != "TRY" {
		t.Errorf("expected TRY base, got %s", got.BaseCurrency)
	}
	if len(got.Buckets) != 1 || got.Buckets[0].Kind != domain.KindIncome {
		t.Errorf("expected legacy income bucket folded in, got %+v", got.Buckets)
	}
	if _, ok, _ := store.Get(ctx, localcache.BaseKey); ok {
		t.Error("expected legacy slot removed")
	}
	if len(*changes) != 1 || (*changes)[0].Op != domain.CacheOpUpgrade {
		t.Errorf("expected one upgrade change, got %+v", *changes)
	}
}

func TestCache_LegacyUpgradeKeepsExistingSlot(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newCache(t)
	_ = store.Set(ctx, localcache.BaseKey, []byte(`{"baseCurrency":"TRY"}`))
	_ = store.Set(ctx, localcache.KeyFor("u-1"), []byte(`{"baseCurrency":"GBP"}`))

	got, err := c.Load(ctx, "u-1")
	if err != nil || got == nil {
		t.Fatal("expected state")
	}
	if got.BaseCurrency != "GBP" {
		t.Errorf("expected existing slot to win, got %s", got.BaseCurrency)
	}
	if _, ok, _ := store.Get(ctx, localcache.BaseKey); ok {
		t.Error("expected legacy slot removed")
	}
}

func TestCache_GuestLoadDoesNotUpgradeLegacy(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newCache(t)
	_ = store.Set(ctx, localcache.BaseKey, []byte(`{"baseCurrency":"TRY"}`))

	if got, _ := c.Load(ctx, ""); got != nil {
		t.Fatalf("expected no guest state, got %+v", got)
	}
	if _, ok, _ := store.Get(ctx, localcache.BaseKey); !ok {
		t.Error("legacy slot must survive a guest load")
	}
}

func TestCache_ClearAndClearAll(t *testing.T) {
	ctx := context.Background()
	c, store, changes := newCache(t)

	_ = c.Save(ctx, domain.NewAppState(), "")
	_ = c.Save(ctx, domain.NewAppState(), "u-1")
	_ = c.Save(ctx, domain.NewAppState(), "u-2")
	_ = c.SaveRates(ctx, domain.RateTable{RatesToUSD: map[string]float64{"USD": 1}, UpdatedAt: time.Now()})

	if err := c.Clear(ctx, "u-1"); err != nil {
		t.Fatal(err)
	}
	ids, _ := c.Identities(ctx)
	if len(ids) != 2 || ids[0] != "" || ids[1] != "u-2" {
		t.Fatalf("unexpected identities %v", ids)
	}

	if err := c.ClearAll(ctx); err != nil {
		t.Fatal(err)
	}
	ids, _ = c.Identities(ctx)
	if len(ids) != 0 {
		t.Errorf("expected no identities, got %v", ids)
	}
	if _, ok, _ := store.Get(ctx, localcache.RatesKey); !ok {
		t.Error("rate table must survive ClearAll")
	}

	last := (*changes)[len(*changes)-1]
	if last.Op != domain.CacheOpClearAll {
		t.Errorf("expected clear_all change, got %s", last.Op)
	}
}

func TestCache_UpdateAbortsOnError(t *testing.T) {
	ctx := context.Background()
	c, _, changes := newCache(t)

	_, err := c.Update(ctx, "u-1", func(s *domain.AppState) error {
		s.BaseCurrency = "EUR"
		return &domain.ErrValidation{Field: "x", Message: "nope"}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if got, _ := c.Load(ctx, "u-1"); got != nil {
		t.Error("expected nothing written")
	}
	if len(*changes) != 0 {
		t.Errorf("expected no change events, got %d", len(*changes))
	}
}

func TestCache_RatesRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newCache(t)

	if got, err := c.LoadRates(ctx); err != nil || got != nil {
		t.Fatalf("expected no table, got %v err=%v", got, err)
	}

	at := time.UnixMilli(1710500000000)
	_ = c.SaveRates(ctx, domain.RateTable{
		RatesToUSD: map[string]float64{"USD": 1, "EUR": 1.08},
		UpdatedAt:  at,
		Source:     domain.RateSourceLive,
	})

	got, err := c.LoadRates(ctx)
	if err != nil || got == nil {
		t.Fatal("expected table")
	}
	if !got.UpdatedAt.Equal(at) || got.RatesToUSD["EUR"] != 1.08 {
		t.Errorf("unexpected table %+v", got)
	}
}
