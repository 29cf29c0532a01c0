package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
)

func commands(open opener, out io.Writer) []subcommands.Command {
	return []subcommands.Command{
		&statsCmd{open: open, out: out},
		&validateCmd{open: open, out: out},
		&sweepCmd{open: open, out: out},
	}
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type statsCmd struct {
	open    opener
	out     io.Writer
	user    string
	symbols symbolFlags
}

func (*statsCmd) Name() string     { return "stats" }
func (*statsCmd) Synopsis() string { return "print cache statistics for a set of symbols" }
func (*statsCmd) Usage() string {
	return `cachectl stats [-user <id>] -stocks AAPL,MSFT [-crypto BTC,ETH]

  Prints fresh/stale/missing counts, hit rate and average age.
`
}

func (c *statsCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "user id whose last sync is reported")
	f.StringVar(&c.symbols.stocks, "stocks", "", "comma-separated stock symbols")
	f.StringVar(&c.symbols.crypto, "crypto", "", "comma-separated crypto symbols")
}

func (c *statsCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := c.open(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer a.close()

	stats := a.svc.GetCacheStats(ctx, c.user, c.symbols.portfolio())
	if err := printJSON(c.out, stats); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type validateCmd struct {
	open    opener
	out     io.Writer
	symbols symbolFlags
}

func (*validateCmd) Name() string     { return "validate" }
func (*validateCmd) Synopsis() string { return "check cached entries for invalid or expired data" }
func (*validateCmd) Usage() string {
	return `cachectl validate -stocks AAPL,MSFT [-crypto BTC]

  Exits non-zero when any entry has a high severity issue.
`
}

func (c *validateCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.symbols.stocks, "stocks", "", "comma-separated stock symbols")
	f.StringVar(&c.symbols.crypto, "crypto", "", "comma-separated crypto symbols")
}

func (c *validateCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := c.open(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer a.close()

	report := a.svc.ValidateCacheIntegrity(ctx, c.symbols.portfolio())
	if err := printJSON(c.out, report); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	if !report.IsValid {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type sweepCmd struct {
	open    opener
	out     io.Writer
	purge   bool
	refresh bool
}

func (*sweepCmd) Name() string     { return "sweep" }
func (*sweepCmd) Synopsis() string { return "purge expired entries and refresh stale ones" }
func (*sweepCmd) Usage() string {
	return `cachectl sweep [-purge] [-refresh]

  Runs the maintenance jobs once. With no flags both run.
`
}

func (c *sweepCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.purge, "purge", false, "delete entries older than CACHE_RETENTION_DAYS")
	f.BoolVar(&c.refresh, "refresh", false, "refetch entries older than the TTL")
}

func (c *sweepCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if !c.purge && !c.refresh {
		c.purge, c.refresh = true, true
	}

	a, err := c.open(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer a.close()

	status := subcommands.ExitSuccess
	if c.purge {
		fmt.Fprintf(c.out, "purged %d entries\n", a.sched.RunPurge(ctx))
	}
	if c.refresh {
		result := a.sched.RunAutoUpdate(ctx)
		if result == nil {
			fmt.Fprintln(c.out, "nothing stale")
		} else {
			fmt.Fprintf(c.out, "refreshed %d, failed %d\n", len(result.UpdatedSymbols), len(result.FailedSymbols))
			if !result.Success {
				status = subcommands.ExitFailure
			}
		}
	}
	return status
}
