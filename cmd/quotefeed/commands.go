package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/subcommands"

	"github.com/bobmcallan/quotefeed/internal/app"
	"github.com/bobmcallan/quotefeed/internal/clients"
	"github.com/bobmcallan/quotefeed/internal/common"
	"github.com/bobmcallan/quotefeed/internal/models"
)

const dateLayout = "2006-01-02"

type opener func() (*app.App, error)

func commands(open opener, out io.Writer) []subcommands.Command {
	return []subcommands.Command{
		&fetchCmd{open: open, out: out},
		&priceCmd{open: open, out: out},
		&addCmd{open: open, out: out},
		&holdingsCmd{open: open, out: out},
		&providersCmd{out: out},
		&versionCmd{out: out},
	}
}

// --- fetch ---

type fetchCmd struct {
	open opener
	out  io.Writer

	provider string
	timeout  time.Duration
}

func (*fetchCmd) Name() string     { return "fetch" }
func (*fetchCmd) Synopsis() string { return "refresh quotes and histories for every held security" }
func (*fetchCmd) Usage() string {
	return `fetch [-provider <name>] [-timeout <duration>]

  Fetches the latest quote of every held security and downloads missing
  daily histories, then prints the session summary.
`
}

func (c *fetchCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.provider, "provider", "", "Provider to use instead of the configured one")
	f.DurationVar(&c.timeout, "timeout", 30*time.Minute, "Give up waiting after this long")
}

func (c *fetchCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := c.open()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	if c.provider != "" {
		settings, err := clients.SettingsFromConfig(c.provider, a.Config)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return subcommands.ExitUsageError
		}
		if err := a.Quotes.SetProvider(settings); err != nil {
			fmt.Fprintf(os.Stderr, "Error switching provider: %v\n", err)
			return subcommands.ExitFailure
		}
	}

	if err := a.Quotes.UpdateQuotes(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := a.Quotes.Wait(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error waiting for quotes: %v\n", err)
		return subcommands.ExitFailure
	}

	st := a.Quotes.Status()
	if st.Summary == "" {
		fmt.Fprintf(c.out, "%s: nothing to fetch\n", st.Provider)
		return subcommands.ExitSuccess
	}
	fmt.Fprintf(c.out, "%s: %s\n", st.Provider, st.Summary)
	for _, e := range st.LastErrors {
		fmt.Fprintf(c.out, "  %s\n", e)
	}
	if len(st.LastErrors) > 0 {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// --- price ---

type priceCmd struct {
	open opener
	out  io.Writer
}

func (*priceCmd) Name() string     { return "price" }
func (*priceCmd) Synopsis() string { return "print the price of a security on a date" }
func (*priceCmd) Usage() string {
	return `price <symbol> [YYYY-MM-DD]

  Prints the known price of a security. The date defaults to today. Non
  trading days fall back to the previous close, and days without stored
  history fall back to the last transaction price.
`
}

func (*priceCmd) SetFlags(*flag.FlagSet) {}

func (c *priceCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() < 1 || f.NArg() > 2 {
		fmt.Fprintln(os.Stderr, "Error: price takes a symbol and an optional date.")
		return subcommands.ExitUsageError
	}
	symbol := models.NormalizeSymbol(f.Arg(0))
	if !models.IsLegalSymbol(symbol) {
		fmt.Fprintf(os.Stderr, "Error: invalid symbol %q\n", f.Arg(0))
		return subcommands.ExitUsageError
	}
	date := time.Now()
	if f.NArg() == 2 {
		d, err := time.Parse(dateLayout, f.Arg(1))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing date %q: %v\n", f.Arg(1), err)
			return subcommands.ExitUsageError
		}
		date = d
	}

	a, err := c.open()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	price := a.PriceIndex.GetPrice(date, symbol)
	fmt.Fprintf(c.out, "%s %s %.4f\n", symbol, models.Day(date).Format(dateLayout), price)
	return subcommands.ExitSuccess
}

// --- add ---

type addCmd struct {
	open opener
	out  io.Writer

	units float64
	price float64
	date  string
	name  string
}

func (*addCmd) Name() string     { return "add" }
func (*addCmd) Synopsis() string { return "record a transaction in the portfolio" }
func (*addCmd) Usage() string {
	return `add -units <n> -price <p> [-date YYYY-MM-DD] [-name <name>] <symbol>

  Records a trade. The security is added to the portfolio when it is not
  held yet.
`
}

func (c *addCmd) SetFlags(f *flag.FlagSet) {
	f.Float64Var(&c.units, "units", 0, "Number of units traded, negative for a sale (required)")
	f.Float64Var(&c.price, "price", 0, "Price per unit")
	f.StringVar(&c.date, "date", "", "Trade date, defaults to today")
	f.StringVar(&c.name, "name", "", "Display name of the security")
}

func (c *addCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 || c.units == 0 {
		fmt.Fprintln(os.Stderr, "Error: add takes one symbol and a non-zero -units.")
		return subcommands.ExitUsageError
	}
	symbol := models.NormalizeSymbol(f.Arg(0))
	if !models.IsLegalSymbol(symbol) {
		fmt.Fprintf(os.Stderr, "Error: invalid symbol %q\n", f.Arg(0))
		return subcommands.ExitUsageError
	}
	date := models.Day(time.Now())
	if c.date != "" {
		d, err := time.Parse(dateLayout, c.date)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing date %q: %v\n", c.date, err)
			return subcommands.ExitUsageError
		}
		date = d
	}

	a, err := c.open()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	a.Portfolio.BeginUpdate()
	tx := a.Portfolio.AddTransaction(models.Transaction{
		Symbol:    symbol,
		Date:      date,
		Units:     c.units,
		UnitPrice: c.price,
	})
	if name := strings.TrimSpace(c.name); name != "" {
		a.Portfolio.UpdateSecurity(symbol, func(sec *models.Security) { sec.Name = name })
	}
	a.Portfolio.EndUpdate()

	fmt.Fprintf(c.out, "added %s %s %g @ %g\n", tx.ID, symbol, tx.Units, tx.UnitPrice)
	return subcommands.ExitSuccess
}

// --- holdings ---

type holdingsCmd struct {
	open opener
	out  io.Writer
}

func (*holdingsCmd) Name() string     { return "holdings" }
func (*holdingsCmd) Synopsis() string { return "list held securities with their last known quote" }
func (*holdingsCmd) Usage() string {
	return `holdings
`
}

func (*holdingsCmd) SetFlags(*flag.FlagSet) {}

func (c *holdingsCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := c.open()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tNAME\tPRICE\tDATE")
	for _, sec := range a.Portfolio.Securities() {
		date := ""
		if !sec.PriceDate.IsZero() {
			date = sec.PriceDate.Format(dateLayout)
		}
		fmt.Fprintf(w, "%s\t%s\t%.4f\t%s\n", sec.Symbol, sec.Name, sec.Price, date)
	}
	w.Flush()
	return subcommands.ExitSuccess
}

// --- providers ---

type providersCmd struct {
	out io.Writer
}

func (*providersCmd) Name() string     { return "providers" }
func (*providersCmd) Synopsis() string { return "list supported quote providers and their default limits" }
func (*providersCmd) Usage() string {
	return `providers
`
}

func (*providersCmd) SetFlags(*flag.FlagSet) {}

func (c *providersCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tPER MINUTE\tPER DAY\tAPI KEY")
	for _, name := range clients.Names {
		s, err := clients.DefaultSettings(name)
		if err != nil {
			continue
		}
		key := "no"
		if clients.RequiresAPIKey(name) {
			key = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Name, limit(s.RequestsPerMinute), limit(s.RequestsPerDay), key)
	}
	w.Flush()
	return subcommands.ExitSuccess
}

func limit(n int) string {
	if n <= 0 {
		return "-"
	}
	return fmt.Sprintf("%d", n)
}

// --- version ---

type versionCmd struct {
	out io.Writer
}

func (*versionCmd) Name() string           { return "version" }
func (*versionCmd) Synopsis() string       { return "print version information" }
func (*versionCmd) Usage() string          { return "version\n" }
func (*versionCmd) SetFlags(*flag.FlagSet) {}

func (c *versionCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	common.LoadVersionFromFile()
	fmt.Fprintf(c.out, "quotefeed %s\n", common.GetFullVersion())
	return subcommands.ExitSuccess
}
