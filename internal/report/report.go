// Package report derives balances and period totals from the transaction
// ledger. Nothing here fails: missing rates degrade to unconverted amounts
// and dangling references are reported, not rejected.
package report

import (
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/boddenberg/ledger-sync/internal/domain"
	"github.com/boddenberg/ledger-sync/internal/fx"
)

// Totals are income, expense and their difference in the base currency.
type Totals struct {
	Income  float64 `json:"income"`
	Expense float64 `json:"expense"`
	Net     float64 `json:"net"`
}

// MonthTotals sums the transactions dated in monthKey (YYYY-MM).
func MonthTotals(txs []domain.Transaction, monthKey, base string, rates fx.Rates) Totals {
	var income, expense float64
	for _, t := range txs {
		if t.DateISO == "" || t.MonthKey() != monthKey {
			continue
		}
		v := fx.ValueInBase(t, base, rates)
		if t.Kind == domain.KindIncome {
			income += v
		} else {
			expense += v
		}
	}
	return Totals{
		Income:  fx.RoundMoney(income),
		Expense: fx.RoundMoney(expense),
		Net:     fx.RoundMoney(income - expense),
	}
}

// BucketStatus tells how a breakdown entry relates to the bucket list.
type BucketStatus string

const (
	BucketAssigned   BucketStatus = "assigned"
	BucketUnassigned BucketStatus = "unassigned"
	BucketDeleted    BucketStatus = "deleted"
)

// Synthetic entries of a breakdown.
const (
	UnassignedID   = "unassigned"
	UnassignedName = "Unassigned"
	DeletedID      = "deleted"
	DeletedName    = "Deleted category"
)

// BucketAmount is one line of a breakdown.
type BucketAmount struct {
	BucketID string       `json:"bucketId"`
	Name     string       `json:"name"`
	Amount   float64      `json:"amount"`
	Status   BucketStatus `json:"status"`
	Percent  *float64     `json:"percent,omitempty"`
}

// BucketBreakdown groups a month's transactions of one kind by bucket.
// Every bucket of that kind appears (possibly at 0). Transactions without a
// bucket go to the unassigned entry, those pointing at a bucket that no
// longer exists go to the deleted entry. Sorted by amount desc, then name.
func BucketBreakdown(txs []domain.Transaction, buckets []domain.Bucket, kind domain.Kind, monthKey, base string, rates fx.Rates) []BucketAmount {
	known := make(map[string]int)
	var out []BucketAmount
	for _, b := range buckets {
		if b.Kind != kind {
			continue
		}
		known[b.ID] = len(out)
		out = append(out, BucketAmount{BucketID: b.ID, Name: b.Name, Status: BucketAssigned, Percent: b.Percent})
	}
	// Buckets of the other kind still exist; a transaction pointing at one is
	// not dangling.
	exists := make(map[string]bool, len(buckets))
	for _, b := range buckets {
		exists[b.ID] = true
	}

	var unassigned, deleted float64
	var hasUnassigned, hasDeleted bool
	for _, t := range txs {
		if t.Kind != kind || t.DateISO == "" || t.MonthKey() != monthKey {
			continue
		}
		v := fx.ValueInBase(t, base, rates)
		switch idx, ok := known[t.BucketID]; {
		case t.BucketID == "":
			unassigned += v
			hasUnassigned = true
		case ok:
			out[idx].Amount += v
		case exists[t.BucketID]:
			unassigned += v
			hasUnassigned = true
		default:
			deleted += v
			hasDeleted = true
		}
	}

	if hasUnassigned {
		out = append(out, BucketAmount{BucketID: UnassignedID, Name: UnassignedName, Amount: unassigned, Status: BucketUnassigned})
	}
	if hasDeleted {
		out = append(out, BucketAmount{BucketID: DeletedID, Name: DeletedName, Amount: deleted, Status: BucketDeleted})
	}

	for i := range out {
		out[i].Amount = fx.RoundMoney(out[i].Amount)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Amount != out[j].Amount {
			return out[i].Amount > out[j].Amount
		}
		return out[i].Name < out[j].Name
	})
	if out == nil {
		out = []BucketAmount{}
	}
	return out
}

// AccountBalances returns every account's signed balance in its own
// currency. Accounts without transactions report 0.
func AccountBalances(accounts []domain.Account, txs []domain.Transaction, rates fx.Rates) map[string]float64 {
	currency := make(map[string]string, len(accounts))
	balances := make(map[string]float64, len(accounts))
	for _, a := range accounts {
		currency[a.ID] = a.Currency
		balances[a.ID] = 0
	}

	for _, t := range txs {
		cur, ok := currency[t.AccountID]
		if !ok {
			continue
		}
		from := t.Currency
		if from == "" {
			from = cur
		}
		v := fx.ConvertAmount(t.Amount, from, cur, rates)
		if t.Kind == domain.KindIncome {
			balances[t.AccountID] += v
		} else {
			balances[t.AccountID] -= v
		}
	}

	for id, v := range balances {
		balances[id] = fx.RoundMoney(v)
	}
	return balances
}

// TotalBalance sums account balances in the base currency.
func TotalBalance(accounts []domain.Account, balances map[string]float64, base string, rates fx.Rates) float64 {
	var total float64
	for _, a := range accounts {
		total += fx.ConvertAmount(balances[a.ID], a.Currency, base, rates)
	}
	return fx.RoundMoney(total)
}

// Series holds monthly income and expense for one year, January first.
type Series struct {
	Year    int         `json:"year"`
	Income  [12]float64 `json:"income"`
	Expense [12]float64 `json:"expense"`
}

// YearSeries buckets a year's transactions by month.
func YearSeries(txs []domain.Transaction, year int, base string, rates fx.Rates) Series {
	s := Series{Year: year}
	prefix := strconv.Itoa(year) + "-"
	for _, t := range txs {
		key := t.MonthKey()
		if len(key) != 7 || key[:5] != prefix {
			continue
		}
		m, err := strconv.Atoi(key[5:])
		if err != nil || m < 1 || m > 12 {
			continue
		}
		v := fx.ValueInBase(t, base, rates)
		if t.Kind == domain.KindIncome {
			s.Income[m-1] += v
		} else {
			s.Expense[m-1] += v
		}
	}
	for i := 0; i < 12; i++ {
		s.Income[i] = fx.RoundMoney(s.Income[i])
		s.Expense[i] = fx.RoundMoney(s.Expense[i])
	}
	return s
}

// AvailableMonths lists the distinct months with transactions, newest first.
// With no transactions it returns the month of now.
func AvailableMonths(txs []domain.Transaction, now time.Time) []string {
	seen := make(map[string]bool)
	var months []string
	for _, t := range txs {
		k := t.MonthKey()
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		months = append(months, k)
	}
	if len(months) == 0 {
		return []string{now.Format("2006-01")}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(months)))
	return months
}

// SpendingPercent is expense as a whole percentage of income, clamped to 0..100.
func SpendingPercent(t Totals) int {
	if t.Income <= 0 {
		return 0
	}
	return clampPercent(t.Expense / t.Income * 100)
}

// IncomeTargetPercent is income as a whole percentage of the monthly target,
// clamped to 0..100. A non-positive target yields 0.
func IncomeTargetPercent(income, target float64) int {
	target = math.Round(target)
	if target <= 0 {
		return 0
	}
	return clampPercent(income / target * 100)
}

func clampPercent(p float64) int {
	if math.IsNaN(p) {
		return 0
	}
	r := math.Round(p)
	if r < 0 {
		return 0
	}
	if r > 100 {
		return 100
	}
	return int(r)
}
