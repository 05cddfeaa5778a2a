// Command ledger inspects and maintains the local ledger cache.
package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/boddenberg/ledger-sync/internal/config"
	"github.com/google/subcommands"
)

func main() {
	_ = config.LoadDotEnv(".env")
	cfg := config.Load()

	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")

	app := &app{cfg: cfg}
	flag.StringVar(&app.dbPath, "db", cfg.LocalDBPath, "path of the local cache database")
	flag.StringVar(&app.identity, "identity", "", "identity whose cache to read (empty for guest)")

	commander.Register(&ratesCmd{app: app}, "currency")
	commander.Register(&monthCmd{app: app}, "reports")
	commander.Register(&yearCmd{app: app}, "reports")
	commander.Register(&balancesCmd{app: app}, "reports")
	commander.Register(&bucketsCmd{app: app}, "reports")
	commander.Register(&clearCacheCmd{app: app}, "maintenance")
	commander.Register(&tokenCmd{app: app}, "maintenance")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
