// Historical kline backfill CLI.
//
// Two independent batch commands share this binary:
//
//	backfill fetch --pairs BTCUSDT,ETHUSDT --start 2020-01-01
//	backfill combine --data-dir data --out data/closing_prices.csv
//
// fetch pulls each pair's complete hourly history from Binance into one CSV
// per pair; combine aligns those files into a single close-price table
// starting at the youngest pair's birth date.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tmckay/go-kline-backfill/internal/collector"
	"github.com/tmckay/go-kline-backfill/internal/combine"
	"github.com/tmckay/go-kline-backfill/internal/config"
	"github.com/tmckay/go-kline-backfill/internal/exchange"
	"github.com/tmckay/go-kline-backfill/internal/logger"
	"github.com/tmckay/go-kline-backfill/internal/storage"
)

const (
	appName    = "backfill"
	version    = "1.0.0"
	configFile = "backfill.json"

	dateLayout = "2006-01-02"
)

// Exit codes following standard conventions.
const (
	exitSuccess    = 0
	exitUsageError = 1
	exitConfigErr  = 2
	exitDataError  = 4
	exitInterrupt  = 130
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitUsageError)
	}

	command := os.Args[1]
	switch command {
	case "help", "--help", "-h":
		printUsage()
		return
	case "version", "--version":
		fmt.Printf("%s %s\n", appName, version)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	configPath := os.Getenv("BACKFILL_CONFIG")
	if configPath == "" {
		configPath = configFile
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(exitConfigErr)
	}

	log, closer, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(exitConfigErr)
	}
	defer closer.Close()

	switch command {
	case "fetch":
		err = runFetch(ctx, cfg, log, os.Args[2:])
	case "combine":
		err = runCombine(ctx, cfg, log, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "%s: unknown command %q\n\n", appName, command)
		printUsage()
		os.Exit(exitUsageError)
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "%s: interrupted\n", appName)
			os.Exit(exitInterrupt)
		}
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(exitDataError)
	}
}

// fetchFlags holds the fetch command's parameters after merging flags over
// configuration defaults.
type fetchFlags struct {
	pairs     []string
	start     time.Time
	end       time.Time
	interval  string
	dataDir   string
	pageSize  int
	budget    int
	window    time.Duration
}

func parseFetchFlags(cfg *config.Config, args []string) (*fetchFlags, error) {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	pairsArg := fs.String("pairs", strings.Join(cfg.Pairs, ","), "comma-separated trading pairs, e.g. BTCUSDT,ETHUSDT")
	startArg := fs.String("start", "2020-01-01", "range start date (YYYY-MM-DD)")
	endArg := fs.String("end", "", "range end date (YYYY-MM-DD), defaults to now")
	interval := fs.String("interval", cfg.Fetch.Interval, "candle interval")
	dataDir := fs.String("data-dir", cfg.DataDir, "directory for per-pair CSV files")
	pageSize := fs.Int("page-size", cfg.Fetch.PageSize, "rows per page request (max 1000)")
	budget := fs.Int("budget", cfg.Fetch.RequestBudget, "page requests allowed per budget window")
	windowArg := fs.String("budget-window", cfg.Fetch.BudgetWindow, "request budget window, e.g. 60s")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *pairsArg == "" {
		return nil, fmt.Errorf("no pairs given: set --pairs or the pairs config entry")
	}
	pairs := strings.Split(*pairsArg, ",")
	for i := range pairs {
		pairs[i] = strings.TrimSpace(pairs[i])
	}

	start, err := time.Parse(dateLayout, *startArg)
	if err != nil {
		return nil, fmt.Errorf("invalid --start date %q: %w", *startArg, err)
	}
	end := time.Now().UTC()
	if *endArg != "" {
		end, err = time.Parse(dateLayout, *endArg)
		if err != nil {
			return nil, fmt.Errorf("invalid --end date %q: %w", *endArg, err)
		}
	}

	window, err := time.ParseDuration(*windowArg)
	if err != nil {
		return nil, fmt.Errorf("invalid --budget-window %q: %w", *windowArg, err)
	}

	return &fetchFlags{
		pairs:    pairs,
		start:    start,
		end:      end,
		interval: *interval,
		dataDir:  *dataDir,
		pageSize: *pageSize,
		budget:   *budget,
		window:   window,
	}, nil
}

// runFetch executes the fetch command: every pair's history is pulled and
// persisted; per-pair failures are reported at the end without aborting the
// batch.
func runFetch(ctx context.Context, cfg *config.Config, log *slog.Logger, args []string) error {
	flags, err := parseFetchFlags(cfg, args)
	if err != nil {
		return err
	}

	store, err := storage.NewCSVStore(flags.dataDir, log)
	if err != nil {
		return err
	}

	adapter := exchange.NewBinanceAdapterWithLogger(log)
	if err := adapter.HealthCheck(ctx); err != nil {
		return fmt.Errorf("exchange unreachable: %w", err)
	}

	c := collector.New(adapter, store, &collector.Config{
		Interval:      flags.interval,
		Start:         flags.start,
		End:           flags.end,
		PageSize:      flags.pageSize,
		RequestBudget: flags.budget,
		BudgetWindow:  flags.window,
	}, log)

	report, err := c.Run(ctx, flags.pairs)
	if err != nil {
		return err
	}

	failed := report.Failed()
	fmt.Printf("fetched %d/%d pairs into %s (run %s)\n",
		len(report.Results)-len(failed), len(report.Results), flags.dataDir, report.RunID)
	for _, res := range failed {
		fmt.Printf("  failed %s: %v\n", res.Pair, res.Err)
	}

	if len(failed) == len(report.Results) && len(report.Results) > 0 {
		return fmt.Errorf("all %d pairs failed", len(failed))
	}
	return nil
}

// runCombine executes the combine command over the fetch output directory.
func runCombine(ctx context.Context, cfg *config.Config, log *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("combine", flag.ContinueOnError)
	dataDir := fs.String("data-dir", cfg.DataDir, "directory holding per-pair CSV files")
	out := fs.String("out", cfg.OutputFile, "combined close-price output file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := storage.NewCSVStore(*dataDir, log)
	if err != nil {
		return err
	}

	report, err := combine.New(store, log).Run(ctx, *out)
	if err != nil {
		if errors.Is(err, combine.ErrNoTimestamps) {
			return fmt.Errorf("%s holds no usable series: %w", *dataDir, err)
		}
		return err
	}

	fmt.Printf("combined %d pairs, %d rows from %s into %s\n",
		len(report.Pairs), report.Rows, report.CommonStart.Format(time.RFC3339), *out)
	for _, skip := range report.Skipped {
		fmt.Printf("  skipped %s (%s): %v\n", skip.Pair, skip.Reason, skip.Err)
	}

	return nil
}

func printUsage() {
	fmt.Printf(`%s %s - historical kline backfill and close-price alignment

Usage:
  %s <command> [flags]

Commands:
  fetch     Fetch each pair's hourly history from Binance into per-pair CSVs
  combine   Align per-pair CSVs into one close-price table
  version   Print the version
  help      Show this help

Examples:
  %s fetch --pairs BTCUSDT,ETHUSDT --start 2020-01-01
  %s combine --data-dir data --out data/closing_prices.csv

Configuration is read from %s (override with BACKFILL_CONFIG) and from
environment variables; flags take precedence.
`, appName, version, appName, appName, appName, configFile)
}
