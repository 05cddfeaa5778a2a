package fx_test

import (
	"testing"

	"github.com/boddenberg/ledger-sync/internal/domain"
	"github.com/boddenberg/ledger-sync/internal/fx"
)

func ptr(f float64) *float64 { return &f }

func TestValueInBase_FrozenSnapshotIgnoresRateChanges(t *testing.T) {
	tx := domain.Transaction{
		Kind:                 domain.KindExpense,
		Amount:               100,
		Currency:             "EUR",
		BaseAmount:           ptr(109),
		BaseCurrencySnapshot: "usd",
	}

	before := fx.ValueInBase(tx, "USD", fx.Rates{"USD": 1, "EUR": 1.09})
	after := fx.ValueInBase(tx, "USD", fx.Rates{"USD": 1, "EUR": 2.5})

	if before != 109 || after != 109 {
		t.Errorf("expected frozen 109 regardless of rates, got %v then %v", before, after)
	}
}

func TestValueInBase_SnapshotForOtherBaseIsRecomputed(t *testing.T) {
	tx := domain.Transaction{
		Amount:               100,
		Currency:             "EUR",
		BaseAmount:           ptr(109),
		BaseCurrencySnapshot: "USD",
	}

	got := fx.ValueInBase(tx, "EUR", fx.DefaultRatesToUSD)
	if got != 100 {
		t.Errorf("expected live value 100 EUR, got %v", got)
	}
}

func TestValueInBase_MissingSnapshotCurrencyIsNotAuthoritative(t *testing.T) {
	tx := domain.Transaction{Amount: 10, Currency: "USD", BaseAmount: ptr(999)}

	if got := fx.ValueInBase(tx, "USD", fx.DefaultRatesToUSD); got != 10 {
		t.Errorf("expected live value 10, got %v", got)
	}
}

func TestValueInBase_EmptyCurrencyMeansBase(t *testing.T) {
	tx := domain.Transaction{Amount: 50}
	if got := fx.ValueInBase(tx, "EUR", fx.Rates{}); got != 50 {
		t.Errorf("expected 50, got %v", got)
	}
}

func TestSnapshot_RecomputesWithCurrentRates(t *testing.T) {
	tx := domain.Transaction{
		Amount:               10.003,
		Currency:             "EUR",
		BaseAmount:           ptr(1),
		BaseCurrencySnapshot: "USD",
	}

	snap, conv := fx.Snapshot(tx, "usd", fx.Rates{"USD": 1, "EUR": 1.5})
	if !conv.Converted {
		t.Fatalf("expected a conversion, got %+v", conv)
	}
	if snap.BaseCurrencySnapshot != "USD" {
		t.Errorf("expected snapshot currency USD, got %q", snap.BaseCurrencySnapshot)
	}
	if snap.BaseAmount == nil || *snap.BaseAmount != 15 {
		t.Errorf("expected base amount 15, got %v", snap.BaseAmount)
	}
	if *tx.BaseAmount != 1 {
		t.Error("input transaction must not be modified")
	}
}

func TestSnapshot_MissingRateLeavesValueLive(t *testing.T) {
	tx := domain.Transaction{
		Amount:               10,
		Currency:             "XYZ",
		BaseAmount:           ptr(3),
		BaseCurrencySnapshot: "USD",
	}

	snap, conv := fx.Snapshot(tx, "USD", fx.Rates{"USD": 1})
	if conv.Converted || conv.Reason != fx.ReasonMissingRate {
		t.Errorf("expected missing_rate, got %+v", conv)
	}
	if snap.BaseAmount != nil || snap.BaseCurrencySnapshot != "" {
		t.Errorf("expected no frozen value, got %v %q", snap.BaseAmount, snap.BaseCurrencySnapshot)
	}
}
