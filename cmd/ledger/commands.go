package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/boddenberg/ledger-sync/internal/domain"
	"github.com/boddenberg/ledger-sync/internal/fx"
	"github.com/boddenberg/ledger-sync/internal/session"

	"github.com/google/subcommands"
)

// --- rates ---

type ratesCmd struct {
	app     *app
	refresh bool
}

func (*ratesCmd) Name() string     { return "rates" }
func (*ratesCmd) Synopsis() string { return "print the unit->USD currency table" }
func (*ratesCmd) Usage() string {
	return `ledger rates [-refresh]

  Prints the currency table, fetching live rates when the cached table is
  older than the freshness window.
`
}

func (c *ratesCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.refresh, "refresh", false, "ignore the cached table and fetch live rates")
}

func (c *ratesCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := c.app.open(); err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	defer c.app.close()

	table := c.app.table()
	var t domain.RateTable
	if c.refresh {
		t = table.Refresh(ctx)
	} else {
		t = table.GetRates(ctx)
	}

	codes := make([]string, 0, len(t.RatesToUSD))
	for code := range t.RatesToUSD {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	fmt.Printf("source: %s, updated %s\n", t.Source, t.UpdatedAt.Format(time.RFC3339))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	for _, code := range codes {
		fmt.Fprintf(w, "%s\t%.6f\t\n", code, t.RatesToUSD[code])
	}
	w.Flush()
	return subcommands.ExitSuccess
}

// --- month ---

type monthCmd struct{ app *app }

func (*monthCmd) Name() string     { return "month" }
func (*monthCmd) Synopsis() string { return "print income, expense and buckets of a month" }
func (*monthCmd) Usage() string {
	return `ledger [-identity <id>] month [YYYY-MM]

  Defaults to the current month.
`
}
func (*monthCmd) SetFlags(*flag.FlagSet) {}

func (c *monthCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	month := time.Now().Format("2006-01")
	if f.NArg() > 0 {
		month = f.Arg(0)
	}
	if err := c.app.open(); err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	defer c.app.close()

	rep, err := c.app.reports().Month(ctx, month)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}

	base := rep.BaseCurrency
	fmt.Printf("%s (%s)\n", rep.Month, base)
	fmt.Printf("  income   %s  (%d%% of %s target)\n", fx.FormatMoney(rep.Totals.Income, base), rep.IncomeTargetPercent, fx.FormatMoney(rep.IncomeTarget, base))
	fmt.Printf("  expense  %s  (%d%% of income)\n", fx.FormatMoney(rep.Totals.Expense, base), rep.SpendingPercent)
	fmt.Printf("  net      %s\n", fx.FormatMoney(rep.Totals.Net, base))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nexpense by bucket")
	for _, b := range rep.Expense {
		fmt.Fprintf(w, "  %s\t%s\n", b.Name, fx.FormatMoney(b.Amount, base))
	}
	fmt.Fprintln(w, "\nincome by bucket")
	for _, b := range rep.Income {
		fmt.Fprintf(w, "  %s\t%s\n", b.Name, fx.FormatMoney(b.Amount, base))
	}
	w.Flush()
	return subcommands.ExitSuccess
}

// --- year ---

type yearCmd struct{ app *app }

func (*yearCmd) Name() string     { return "year" }
func (*yearCmd) Synopsis() string { return "print monthly income and expense of a year" }
func (*yearCmd) Usage() string {
	return `ledger [-identity <id>] year [YYYY]
`
}
func (*yearCmd) SetFlags(*flag.FlagSet) {}

func (c *yearCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	year := time.Now().Format("2006")
	if f.NArg() > 0 {
		year = f.Arg(0)
	}
	if err := c.app.open(); err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	defer c.app.close()

	reports := c.app.reports()
	series, err := reports.Year(ctx, year)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	bal, err := reports.Balances(ctx)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	base := bal.BaseCurrency

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "month\tincome\texpense\t")
	for i := 0; i < 12; i++ {
		fmt.Fprintf(w, "%s\t%s\t%s\t\n", time.Month(i+1).String()[:3], fx.FormatMoney(series.Income[i], base), fx.FormatMoney(series.Expense[i], base))
	}
	w.Flush()
	return subcommands.ExitSuccess
}

// --- balances ---

type balancesCmd struct{ app *app }

func (*balancesCmd) Name() string     { return "balances" }
func (*balancesCmd) Synopsis() string { return "print every account balance" }
func (*balancesCmd) Usage() string {
	return `ledger [-identity <id>] balances
`
}
func (*balancesCmd) SetFlags(*flag.FlagSet) {}

func (c *balancesCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := c.app.open(); err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	defer c.app.close()

	bal, err := c.app.reports().Balances(ctx)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, a := range bal.Accounts {
		fmt.Fprintf(w, "%s\t%s\t%s\n", a.Account.Name, fx.FormatMoney(a.Balance, a.Account.Currency), fx.FormatMoney(a.InBase, bal.BaseCurrency))
	}
	fmt.Fprintf(w, "total\t\t%s\n", fx.FormatMoney(bal.Total, bal.BaseCurrency))
	w.Flush()
	return subcommands.ExitSuccess
}

// --- buckets ---

type bucketsCmd struct {
	app  *app
	kind string
}

func (*bucketsCmd) Name() string     { return "buckets" }
func (*bucketsCmd) Synopsis() string { return "print a month's breakdown by bucket" }
func (*bucketsCmd) Usage() string {
	return `ledger [-identity <id>] buckets [-kind income|expense] [YYYY-MM]
`
}

func (c *bucketsCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.kind, "kind", "expense", "income or expense")
}

func (c *bucketsCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	month := time.Now().Format("2006-01")
	if f.NArg() > 0 {
		month = f.Arg(0)
	}
	if err := c.app.open(); err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	defer c.app.close()

	reports := c.app.reports()
	lines, err := reports.Buckets(ctx, c.kind, month)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	bal, err := reports.Balances(ctx)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, l := range lines {
		fmt.Fprintf(w, "%s\t%s\t%s\n", l.Name, fx.FormatMoney(l.Amount, bal.BaseCurrency), l.Status)
	}
	w.Flush()
	return subcommands.ExitSuccess
}

// --- clear-cache ---

type clearCacheCmd struct {
	app  *app
	all  bool
	list bool
}

func (*clearCacheCmd) Name() string     { return "clear-cache" }
func (*clearCacheCmd) Synopsis() string { return "remove cached ledger state" }
func (*clearCacheCmd) Usage() string {
	return `ledger [-identity <id>] clear-cache [-all | -list]

  Removes the state of one identity (the guest slot without -identity), or
  every state with -all. The currency table is kept. -list only prints the
  identities that have a cached state.
`
}

func (c *clearCacheCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.all, "all", false, "remove the state of every identity")
	f.BoolVar(&c.list, "list", false, "list cached identities without removing anything")
}

func (c *clearCacheCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if err := c.app.open(); err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	defer c.app.close()

	identities, err := c.app.cache.Identities(ctx)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	if c.list {
		for _, id := range identities {
			if id == "" {
				id = "(guest)"
			}
			fmt.Println(id)
		}
		return subcommands.ExitSuccess
	}

	if c.all {
		err = c.app.cache.ClearAll(ctx)
		if err == nil {
			fmt.Printf("cleared %d cached states\n", len(identities))
		}
	} else {
		err = c.app.cache.Clear(ctx, c.app.identity)
	}
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// --- token ---

type tokenCmd struct {
	app *app
	ttl time.Duration
}

func (*tokenCmd) Name() string     { return "token" }
func (*tokenCmd) Synopsis() string { return "sign a development access token" }
func (*tokenCmd) Usage() string {
	return `ledger -identity <id> token [-ttl 1h]

  Signs an access token with SUPABASE_JWT_SECRET for local testing of the
  HTTP API.
`
}

func (c *tokenCmd) SetFlags(f *flag.FlagSet) {
	f.DurationVar(&c.ttl, "ttl", time.Hour, "token lifetime")
}

func (c *tokenCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.app.identity == "" {
		fail(fmt.Errorf("-identity is required"))
		return subcommands.ExitUsageError
	}
	tok, err := session.NewVerifier(c.app.cfg.SupabaseJWTSecret).Sign(c.app.identity, c.ttl)
	if err != nil {
		fail(err)
		return subcommands.ExitFailure
	}
	fmt.Println(tok)
	return subcommands.ExitSuccess
}
