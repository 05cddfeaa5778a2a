package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// ============================================================
// Ledger
// ============================================================

// Kind distinguishes income from expense rows (transactions and buckets).
type Kind string

const (
	KindIncome  Kind = "income"
	KindExpense Kind = "expense"
)

// ParseKind accepts "income" or "expense" (case-insensitive).
func ParseKind(s string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindIncome:
		return KindIncome, true
	case KindExpense:
		return KindExpense, true
	}
	return "", false
}

// Account is a wallet held in a single currency.
type Account struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
}

// Transaction is a single income or expense entry.
//
// BaseAmount and BaseCurrencySnapshot form the frozen valuation: the value of
// the transaction in the base currency at entry time, and which base currency
// that value was computed against.
type Transaction struct {
	ID                   string   `json:"id"`
	Kind                 Kind     `json:"kind"`
	Amount               float64  `json:"amount"`
	Currency             string   `json:"currency"`
	AccountID            string   `json:"accountId"`
	DateISO              string   `json:"dateISO"` // YYYY-MM-DD
	Note                 string   `json:"note,omitempty"`
	BucketID             string   `json:"bucketId,omitempty"`
	BaseAmount           *float64 `json:"baseAmount,omitempty"`
	BaseCurrencySnapshot string   `json:"baseCurrencySnapshot,omitempty"`
}

// MonthKey returns the YYYY-MM prefix of the transaction date.
func (t Transaction) MonthKey() string {
	return MonthKeyOf(t.DateISO)
}

// MonthKeyOf returns the YYYY-MM prefix of an ISO date, or "" when too short.
func MonthKeyOf(dateISO string) string {
	if len(dateISO) < 7 {
		return ""
	}
	return dateISO[:7]
}

// Bucket is a user-defined income or expense category.
type Bucket struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Kind    Kind     `json:"kind"`
	Percent *float64 `json:"percent,omitempty"`
}

// ============================================================
// Cached application state
// ============================================================

// DefaultBaseCurrency is used when the state carries none.
const DefaultBaseCurrency = "USD"

// DefaultMonthlyIncomeTarget mirrors the default shown to new users.
const DefaultMonthlyIncomeTarget = 3000

// AppState is the full per-identity state blob kept in the local cache.
type AppState struct {
	BaseCurrency        string             `json:"baseCurrency"`
	Accounts            []Account          `json:"accounts"`
	Transactions        []Transaction      `json:"txs"`
	Buckets             []Bucket           `json:"buckets"`
	OwnerUserID         string             `json:"ownerUserId,omitempty"`
	FxRatesToUSD        map[string]float64 `json:"fxRatesToUSD,omitempty"`
	FxUpdatedAt         int64              `json:"fxUpdatedAt,omitempty"` // unix millis
	MonthlyIncomeTarget float64            `json:"monthlyIncomeTarget,omitempty"`
	Migration           MigrationJournal   `json:"migration,omitempty"`
}

// NewAppState returns an empty state with defaults applied.
func NewAppState() *AppState {
	return &AppState{
		BaseCurrency:        DefaultBaseCurrency,
		Accounts:            []Account{},
		Transactions:        []Transaction{},
		Buckets:             []Bucket{},
		MonthlyIncomeTarget: DefaultMonthlyIncomeTarget,
	}
}

// UnmarshalJSON accepts blobs written before buckets were a single list
// (incomeBuckets / expenseBuckets without a kind).
func (s *AppState) UnmarshalJSON(data []byte) error {
	type plain AppState
	var aux struct {
		plain
		IncomeBuckets  []Bucket `json:"incomeBuckets"`
		ExpenseBuckets []Bucket `json:"expenseBuckets"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*s = AppState(aux.plain)

	if len(s.Buckets) == 0 {
		for _, b := range aux.IncomeBuckets {
			b.Kind = KindIncome
			s.Buckets = append(s.Buckets, b)
		}
		for _, b := range aux.ExpenseBuckets {
			b.Kind = KindExpense
			s.Buckets = append(s.Buckets, b)
		}
	}
	s.normalize()
	return nil
}

func (s *AppState) normalize() {
	if strings.TrimSpace(s.BaseCurrency) == "" {
		s.BaseCurrency = DefaultBaseCurrency
	}
	if s.Accounts == nil {
		s.Accounts = []Account{}
	}
	if s.Transactions == nil {
		s.Transactions = []Transaction{}
	}
	if s.Buckets == nil {
		s.Buckets = []Bucket{}
	}
	if s.MonthlyIncomeTarget <= 0 {
		s.MonthlyIncomeTarget = DefaultMonthlyIncomeTarget
	}
}

// Clone returns a copy that shares no slices or maps with s.
func (s *AppState) Clone() *AppState {
	if s == nil {
		return nil
	}
	c := *s
	c.Accounts = append([]Account{}, s.Accounts...)
	c.Buckets = append([]Bucket{}, s.Buckets...)
	c.Transactions = make([]Transaction, len(s.Transactions))
	for i, t := range s.Transactions {
		if t.BaseAmount != nil {
			v := *t.BaseAmount
			t.BaseAmount = &v
		}
		c.Transactions[i] = t
	}
	if s.FxRatesToUSD != nil {
		c.FxRatesToUSD = make(map[string]float64, len(s.FxRatesToUSD))
		for k, v := range s.FxRatesToUSD {
			c.FxRatesToUSD[k] = v
		}
	}
	if s.Migration != nil {
		c.Migration = make(MigrationJournal, len(s.Migration))
		for k, v := range s.Migration {
			c.Migration[k] = v
		}
	}
	return &c
}

// ClearOwned empties the collections that belong to the owner of the state.
func (s *AppState) ClearOwned() {
	s.Accounts = []Account{}
	s.Transactions = []Transaction{}
	s.Buckets = []Bucket{}
	s.Migration = nil
}

// FindAccount returns the account with the given id.
func (s *AppState) FindAccount(id string) (Account, bool) {
	for _, a := range s.Accounts {
		if a.ID == id {
			return a, true
		}
	}
	return Account{}, false
}

// FindBucket returns the bucket with the given id.
func (s *AppState) FindBucket(id string) (Bucket, bool) {
	for _, b := range s.Buckets {
		if b.ID == id {
			return b, true
		}
	}
	return Bucket{}, false
}

// ============================================================
// Currency rates
// ============================================================

// RateSource tells where a rate table came from.
type RateSource string

const (
	RateSourceCache    RateSource = "cache"
	RateSourceLive     RateSource = "live"
	RateSourceFallback RateSource = "fallback"
)

// RateTable maps a currency code to the USD value of one unit of it.
type RateTable struct {
	RatesToUSD map[string]float64 `json:"ratesToUSD"`
	UpdatedAt  time.Time          `json:"updatedAt"`
	Source     RateSource         `json:"source"`
}

// Quotes is what a rate provider returns: 1 Base = Rates[code] units of code.
type Quotes struct {
	Base  string             `json:"base"`
	Rates map[string]float64 `json:"rates"`
	AsOf  string             `json:"asOf"`
}

// ============================================================
// Local cache notifications
// ============================================================

// CacheOp is the kind of write that triggered a StateChange.
type CacheOp string

const (
	CacheOpSave     CacheOp = "save"
	CacheOpClear    CacheOp = "clear"
	CacheOpClearAll CacheOp = "clear_all"
	CacheOpUpgrade  CacheOp = "legacy_upgrade"
)

// StateChange is broadcast after every local cache write.
type StateChange struct {
	Key      string    `json:"key"`
	Identity string    `json:"identity,omitempty"`
	Op       CacheOp   `json:"op"`
	Origin   string    `json:"origin,omitempty"`
	At       time.Time `json:"at"`
}

// SetupStatus reports whether an identity still needs initial setup.
type SetupStatus struct {
	HasAccounts bool `json:"hasAccounts"`
	HasBuckets  bool `json:"hasBuckets"`
	NeedsSetup  bool `json:"needsSetup"`
}
