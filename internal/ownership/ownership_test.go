package ownership_test

import (
	"testing"

	"github.com/boddenberg/ledger-sync/internal/domain"
	"github.com/boddenberg/ledger-sync/internal/ownership"
)

func TestDecide(t *testing.T) {
	cases := []struct {
		name     string
		owner    ownership.Owner
		identity string
		want     ownership.Decision
	}{
		{"unowned", ownership.Unowned{}, "A", ownership.Stamp},
		{"same", ownership.OwnedBy{Identity: "A"}, "A", ownership.SameOwner},
		{"different", ownership.OwnedBy{Identity: "A"}, "B", ownership.DifferentOwner},
		{"nil owner", nil, "A", ownership.Stamp},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := ownership.Decide(c.owner, c.identity); got != c.want {
				t.Errorf("Decide = %s, want %s", got, c.want)
			}
		})
	}
}

func seeded(owner string) *domain.AppState {
	st := domain.NewAppState()
	st.OwnerUserID = owner
	st.BaseCurrency = "EUR"
	st.Accounts = []domain.Account{{ID: "a1", Name: "Cash", Currency: "EUR"}}
	st.Buckets = []domain.Bucket{{ID: "b1", Name: "Food", Kind: domain.KindExpense}}
	st.Transactions = []domain.Transaction{{ID: "t1", Kind: domain.KindExpense, Amount: 5, AccountID: "a1"}}
	return st
}

func TestApply_ForeignStateIsWipedAndRestamped(t *testing.T) {
	before := seeded("A")

	after, d := ownership.Apply(before, "B")

	if d != ownership.DifferentOwner {
		t.Fatalf("expected different_owner, got %s", d)
	}
	if after.OwnerUserID != "B" {
		t.Errorf("expected owner B, got %q", after.OwnerUserID)
	}
	if len(after.Accounts)+len(after.Buckets)+len(after.Transactions) != 0 {
		t.Errorf("expected owned collections cleared, got %+v", after)
	}
	if after.BaseCurrency != "EUR" {
		t.Errorf("settings must survive, got base %s", after.BaseCurrency)
	}
	if before.OwnerUserID != "A" || len(before.Accounts) != 1 {
		t.Error("input state must not be modified")
	}
}

func TestApply_UnownedIsStampedAndKept(t *testing.T) {
	after, d := ownership.Apply(seeded(""), "A")

	if d != ownership.Stamp || after.OwnerUserID != "A" {
		t.Fatalf("expected stamp for A, got %s owner=%q", d, after.OwnerUserID)
	}
	if len(after.Accounts) != 1 {
		t.Error("unowned data belongs to the stamping identity")
	}
}

func TestApply_SameOwnerNoop(t *testing.T) {
	after, d := ownership.Apply(seeded("A"), "A")

	if d != ownership.SameOwner || len(after.Transactions) != 1 {
		t.Fatalf("expected untouched state, got %s %+v", d, after)
	}
}

func TestApply_NilState(t *testing.T) {
	after, d := ownership.Apply(nil, "A")
	if d != ownership.Stamp || after == nil || after.OwnerUserID != "A" {
		t.Fatalf("unexpected result %s %+v", d, after)
	}
}
