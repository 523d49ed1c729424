package main

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/fibswing-backtest/pkg/backtest"
	"github.com/fibswing-backtest/pkg/config"
	"github.com/fibswing-backtest/pkg/feed"
	"github.com/fibswing-backtest/pkg/report"
)

// loadBars reads the CSV file or downloads the requested range
func loadBars(ctx context.Context, cfg *config.Config, opts options, logger *zap.Logger) ([]feed.Bar, error) {
	if opts.csvPath != "" {
		fmt.Printf("Reading %s...\n", opts.csvPath)
		return feed.LoadCSV(opts.csvPath)
	}

	if opts.from == "" || opts.to == "" {
		return nil, &config.ConfigurationError{Field: "from/to", Reason: "both are required with -source"}
	}
	start, err := parseDay("from", opts.from)
	if err != nil {
		return nil, err
	}
	last, err := parseDay("to", opts.to)
	if err != nil {
		return nil, err
	}
	end := last.AddDate(0, 0, 1)
	if !end.After(start) {
		return nil, &config.ConfigurationError{Field: "to", Reason: "must not be before from"}
	}

	var source feed.Source
	switch opts.source {
	case "polygon":
		source = feed.NewPolygonFeed(cfg.Feed.PolygonAPIKey)
	case "alpaca":
		af, err := feed.NewAlpacaFeed(cfg.Feed.AlpacaAPIKey, cfg.Feed.AlpacaAPISecret, logger)
		if err != nil {
			return nil, &config.ConfigurationError{Field: "feed.alpaca_api_key", Reason: err.Error()}
		}
		source = af
	case "clickhouse":
		cf, err := feed.NewClickHouseFeed(ctx, cfg.Feed.ClickHouseDSN, cfg.Feed.ClickHouseDB, cfg.Feed.ClickHouseTable, logger)
		if err != nil {
			return nil, err
		}
		defer cf.Close()
		source = cf
	default:
		return nil, &config.ConfigurationError{Field: "source", Reason: fmt.Sprintf("unknown source %q", opts.source)}
	}

	// the database is local, downloads are cached
	if opts.source != "clickhouse" && !opts.noCache {
		source = feed.NewCachedSource(opts.source, source, feed.NewCacheManager(cfg.Feed.CacheDir), logger)
	}

	fmt.Printf("Fetching %s from %s (%s to %s)...\n", cfg.Symbol, opts.source, opts.from, opts.to)
	return source.FetchBars(ctx, cfg.Symbol, start, end)
}

// runBacktests executes the configured number of independent runs concurrently.
// Each run gets its own copy of the bars; with several runs every run writes to
// its own subdirectory.
func runBacktests(ctx context.Context, cfg *config.Config, bars []feed.Bar, opts options, logger *zap.Logger) error {
	engine, err := backtest.NewEngine(cfg, logger)
	if err != nil {
		return err
	}

	fmt.Printf("Running %d backtest(s) simultaneously...\n", opts.runs)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstError error
	results := make([]*backtest.Result, opts.runs)

	for i := 1; i <= opts.runs; i++ {
		wg.Add(1)
		go func(runNum int) {
			defer wg.Done()

			copied := make([]feed.Bar, len(bars))
			copy(copied, bars)

			res, err := engine.Run(ctx, copied)
			if err != nil {
				mu.Lock()
				if firstError == nil {
					firstError = fmt.Errorf("run %d failed: %w", runNum, err)
				}
				mu.Unlock()
				return
			}
			results[runNum-1] = res
		}(i)
	}

	// Wait for all backtests to complete
	wg.Wait()

	if firstError != nil {
		return firstError
	}

	return exportResults(results, opts)
}

// exportResults writes every run's bundle. Repeated runs must agree byte for
// byte before anything is written.
func exportResults(results []*backtest.Result, opts options) error {
	if len(results) > 1 {
		same, err := identical(results)
		if err != nil {
			return err
		}
		if !same {
			return fmt.Errorf("runs over the same data produced different results")
		}
	}

	for i, res := range results {
		dir := opts.outDir
		if len(results) > 1 {
			dir = filepath.Join(opts.outDir, fmt.Sprintf("run-%d", i+1))
		}
		if err := report.WriteAll(dir, res); err != nil {
			return err
		}
		printSummary(res)
		fmt.Printf("Results exported to: %s\n", dir)
	}
	return nil
}

// identical reports whether every run rendered the same ledger and equity curve
func identical(results []*backtest.Result) (bool, error) {
	first, err := render(results[0])
	if err != nil {
		return false, err
	}
	for _, res := range results[1:] {
		if res.Manifest.RunID != results[0].Manifest.RunID {
			return false, nil
		}
		out, err := render(res)
		if err != nil {
			return false, err
		}
		if !bytes.Equal(out, first) {
			return false, nil
		}
	}
	return true, nil
}

func render(res *backtest.Result) ([]byte, error) {
	var buf bytes.Buffer
	if err := report.WriteTrades(&buf, res.Trades); err != nil {
		return nil, err
	}
	if err := report.WriteEquity(&buf, res.Equity); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func printSummary(res *backtest.Result) {
	s := res.Summary
	d := res.Diagnostics

	fmt.Printf("\n=== Backtest %s ===\n", res.Manifest.RunID)
	fmt.Printf("Swings: %d, plans: %d, invalid: %d, orders: %d, filled: %d\n",
		d.Swings, d.Plans, d.InvalidPlans, d.PositionsOpened, d.Filled)
	fmt.Printf("Trades: %d (cancelled %d)\n", s.TotalTrades, s.Cancelled)
	fmt.Printf("Wins: %d, Losses: %d, Win rate: %.2f%%\n", s.Wins, s.Losses, s.WinRate)
	fmt.Printf("Net P&L: %s (avg %s, median %s)\n",
		s.TotalPnL.StringFixed(2), s.AveragePnL.StringFixed(2), s.MedianPnL.StringFixed(2))
	fmt.Printf("Profit factor: %.2f, Max drawdown: %s\n", s.ProfitFactor, s.MaxDrawdown.StringFixed(2))

	for _, m := range res.Monthly {
		fmt.Printf("  %s %-4s trades=%d wins=%d losses=%d pnl=%s\n",
			m.Month, m.Side, m.Trades, m.Wins, m.Losses, m.PnL.StringFixed(2))
	}
}
