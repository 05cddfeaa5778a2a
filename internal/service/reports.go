package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/boddenberg/ledger-sync/internal/domain"
	"github.com/boddenberg/ledger-sync/internal/fx"
	"github.com/boddenberg/ledger-sync/internal/infra/cache"
	"github.com/boddenberg/ledger-sync/internal/infra/observability"
	"github.com/boddenberg/ledger-sync/internal/localcache"
	"github.com/boddenberg/ledger-sync/internal/port"
	"github.com/boddenberg/ledger-sync/internal/report"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MonthReport is the home screen of one month.
type MonthReport struct {
	Month               string                `json:"month"`
	BaseCurrency        string                `json:"baseCurrency"`
	Totals              report.Totals         `json:"totals"`
	SpendingPercent     int                   `json:"spendingPercent"`
	IncomeTarget        float64               `json:"incomeTarget"`
	IncomeTargetPercent int                   `json:"incomeFillPercent"`
	Income              []report.BucketAmount `json:"income"`
	Expense             []report.BucketAmount `json:"expense"`
}

// AccountBalance is one account's balance in its own and the base currency.
// Unconverted is set when InBase holds the balance as is.
type AccountBalance struct {
	Account     domain.Account `json:"account"`
	Balance     float64        `json:"balance"`
	InBase      float64        `json:"inBase"`
	Unconverted fx.Reason      `json:"unconverted,omitempty"`
}

// BalancesReport lists every account balance and their total.
type BalancesReport struct {
	BaseCurrency string           `json:"baseCurrency"`
	Accounts     []AccountBalance `json:"accounts"`
	Total        float64          `json:"total"`
}

// ReportService computes reports from the caller's cached state. Guests get
// reports on the guest slot.
type ReportService struct {
	session port.SessionProvider
	cache   *localcache.Cache
	states  *cache.InMemory[*domain.AppState]
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time

	// gens counts invalidations per key; epoch counts ClearAll purges. A
	// state loaded across an invalidation is not memoized.
	mu    sync.Mutex
	gens  map[string]uint64
	epoch uint64
}

// NewReportService creates a report service. Memoized states are dropped
// whenever the local cache announces a write.
func NewReportService(session port.SessionProvider, lc *localcache.Cache, states *cache.InMemory[*domain.AppState], changes port.ChangeSubscriber, metrics *observability.Metrics, logger *zap.Logger) *ReportService {
	s := &ReportService{
		session: session,
		cache:   lc,
		states:  states,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
		gens:    make(map[string]uint64),
	}
	changes.Subscribe(s.invalidate)
	return s
}

func (s *ReportService) invalidate(change domain.StateChange) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if change.Op == domain.CacheOpClearAll {
		s.epoch++
		s.states.Purge()
		return
	}
	key := localcache.KeyFor(change.Identity)
	s.gens[key]++
	s.states.Delete(key)
}

func (s *ReportService) generation(key string) (uint64, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gens[key], s.epoch
}

// remember memoizes st unless key was invalidated since gen/epoch were read.
func (s *ReportService) remember(key string, st *domain.AppState, gen, epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gens[key] != gen || s.epoch != epoch {
		s.logger.Debug("reports: state changed while loading, not memoized", zap.String("key", key))
		return
	}
	s.states.Set(key, st)
}

func (s *ReportService) state(ctx context.Context) (*domain.AppState, error) {
	identity, err := s.session.Session(ctx)
	if err != nil {
		identity = ""
	}
	key := localcache.KeyFor(identity)
	if st, ok := s.states.Get(key); ok {
		s.metrics.IncrCacheHit("reports")
		return st, nil
	}
	s.metrics.IncrCacheMiss("reports")

	gen, epoch := s.generation(key)
	st, err := s.cache.Load(ctx, identity)
	if err != nil {
		return nil, err
	}
	if st == nil {
		st = domain.NewAppState()
	}
	s.remember(key, st, gen, epoch)
	return st, nil
}

// Month returns totals and both bucket breakdowns of monthKey (YYYY-MM).
func (s *ReportService) Month(ctx context.Context, monthKey string) (*MonthReport, error) {
	ctx, span := tracer.Start(ctx, "ReportService.Month")
	defer span.End()
	span.SetAttributes(attribute.String("report.month", monthKey))

	if _, err := time.Parse("2006-01", monthKey); err != nil {
		return nil, &domain.ErrValidation{Field: "month", Message: "must be YYYY-MM"}
	}
	st, err := s.state(ctx)
	if err != nil {
		return nil, err
	}
	rates := fx.RatesFromState(st)

	out := &MonthReport{Month: monthKey, BaseCurrency: st.BaseCurrency, IncomeTarget: st.MonthlyIncomeTarget}
	var g errgroup.Group
	g.Go(func() error {
		out.Totals = report.MonthTotals(st.Transactions, monthKey, st.BaseCurrency, rates)
		return nil
	})
	g.Go(func() error {
		out.Income = report.BucketBreakdown(st.Transactions, st.Buckets, domain.KindIncome, monthKey, st.BaseCurrency, rates)
		return nil
	})
	g.Go(func() error {
		out.Expense = report.BucketBreakdown(st.Transactions, st.Buckets, domain.KindExpense, monthKey, st.BaseCurrency, rates)
		return nil
	})
	_ = g.Wait()

	out.SpendingPercent = report.SpendingPercent(out.Totals)
	out.IncomeTargetPercent = report.IncomeTargetPercent(out.Totals.Income, st.MonthlyIncomeTarget)
	return out, nil
}

// Year returns the monthly income and expense series of year.
func (s *ReportService) Year(ctx context.Context, year string) (*report.Series, error) {
	ctx, span := tracer.Start(ctx, "ReportService.Year")
	defer span.End()

	y, err := strconv.Atoi(year)
	if err != nil || y < 1970 || y > 9999 {
		return nil, &domain.ErrValidation{Field: "year", Message: fmt.Sprintf("invalid year %q", year)}
	}
	st, err := s.state(ctx)
	if err != nil {
		return nil, err
	}
	series := report.YearSeries(st.Transactions, y, st.BaseCurrency, fx.RatesFromState(st))
	return &series, nil
}

// Buckets returns the breakdown of one kind for monthKey.
func (s *ReportService) Buckets(ctx context.Context, kind, monthKey string) ([]report.BucketAmount, error) {
	ctx, span := tracer.Start(ctx, "ReportService.Buckets")
	defer span.End()

	k, ok := domain.ParseKind(kind)
	if !ok {
		return nil, &domain.ErrValidation{Field: "kind", Message: "must be income or expense"}
	}
	if _, err := time.Parse("2006-01", monthKey); err != nil {
		return nil, &domain.ErrValidation{Field: "month", Message: "must be YYYY-MM"}
	}
	st, err := s.state(ctx)
	if err != nil {
		return nil, err
	}
	return report.BucketBreakdown(st.Transactions, st.Buckets, k, monthKey, st.BaseCurrency, fx.RatesFromState(st)), nil
}

// Balances returns every account's balance, in account order.
func (s *ReportService) Balances(ctx context.Context) (*BalancesReport, error) {
	ctx, span := tracer.Start(ctx, "ReportService.Balances")
	defer span.End()

	st, err := s.state(ctx)
	if err != nil {
		return nil, err
	}
	rates := fx.RatesFromState(st)
	balances := report.AccountBalances(st.Accounts, st.Transactions, rates)

	out := &BalancesReport{
		BaseCurrency: st.BaseCurrency,
		Accounts:     make([]AccountBalance, 0, len(st.Accounts)),
		Total:        report.TotalBalance(st.Accounts, balances, st.BaseCurrency, rates),
	}
	for _, a := range st.Accounts {
		conv := fx.Convert(balances[a.ID], a.Currency, st.BaseCurrency, rates)
		ab := AccountBalance{
			Account: a,
			Balance: balances[a.ID],
			InBase:  fx.RoundMoney(conv.Value),
		}
		if !conv.Converted {
			ab.Unconverted = conv.Reason
			s.metrics.IncrUnconverted("balances", string(conv.Reason))
		}
		out.Accounts = append(out.Accounts, ab)
	}
	return out, nil
}

// Months lists the months that have transactions, newest first.
func (s *ReportService) Months(ctx context.Context) ([]string, error) {
	ctx, span := tracer.Start(ctx, "ReportService.Months")
	defer span.End()

	st, err := s.state(ctx)
	if err != nil {
		return nil, err
	}
	return report.AvailableMonths(st.Transactions, s.now()), nil
}
