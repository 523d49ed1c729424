package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fibswing-backtest/pkg/config"
	"github.com/fibswing-backtest/pkg/feed"
)

type options struct {
	csvPath       string
	source        string
	symbol        string
	from          string
	to            string
	outDir        string
	configFile    string
	side          string
	maxConcurrent int
	runs          int
	noCache       bool
	verbose       bool
}

func main() {
	// Parse command-line flags
	var opts options
	flag.StringVar(&opts.csvPath, "csv", "", "CSV file with timestamp,open,high,low,close[,volume] bars")
	flag.StringVar(&opts.source, "source", "", "Download source instead of -csv: polygon, alpaca or clickhouse")
	flag.StringVar(&opts.symbol, "symbol", "", "Symbol to download (default: config symbol)")
	flag.StringVar(&opts.from, "from", "", "First day to download (YYYY-MM-DD)")
	flag.StringVar(&opts.to, "to", "", "Last day to download, inclusive (YYYY-MM-DD)")
	flag.StringVar(&opts.outDir, "out", "results", "Output directory")
	flag.StringVar(&opts.configFile, "config", "", "Config file (yaml, json or toml)")
	flag.StringVar(&opts.side, "side", "", "Side filter: buy, sell or both (overrides config)")
	flag.IntVar(&opts.maxConcurrent, "max-concurrent", 0, "Maximum live positions (overrides config)")
	flag.IntVar(&opts.runs, "runs", 1, "Number of independent runs to execute simultaneously")
	flag.BoolVar(&opts.noCache, "no-cache", false, "Do not use the download cache")
	flag.BoolVar(&opts.verbose, "v", false, "Verbose (development) logging")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, opts)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, describeError(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return err
	}
	if err := applyOverrides(cfg, opts); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel, opts.verbose)
	if err != nil {
		return &config.ConfigurationError{Field: "log_level", Reason: err.Error()}
	}
	defer logger.Sync()

	fmt.Printf("Starting backtest...\n")
	fmt.Printf("Symbol: %s\n", cfg.Symbol)
	fmt.Printf("Fib zone: %.3f-%.3f\n", cfg.Zone.RatioLow, cfg.Zone.RatioHigh)
	fmt.Printf("Stages: %s\n", config.FormatStages(cfg.Stages))
	fmt.Printf("Side filter: %s, max concurrent: %d\n", cfg.Run.Side, cfg.Run.MaxConcurrent)
	fmt.Printf("Number of runs: %d\n", opts.runs)
	fmt.Println()

	bars, err := loadBars(ctx, cfg, opts, logger)
	if err != nil {
		return err
	}
	fmt.Printf("Loaded %d bars\n", len(bars))

	return runBacktests(ctx, cfg, bars, opts, logger)
}

// applyOverrides copies command-line overrides into cfg
func applyOverrides(cfg *config.Config, opts options) error {
	if opts.symbol != "" {
		cfg.Symbol = opts.symbol
	}
	if opts.side != "" {
		side, err := config.ParseSideFilter(opts.side)
		if err != nil {
			return err
		}
		cfg.Run.Side = side
	}
	if opts.maxConcurrent != 0 {
		cfg.Run.MaxConcurrent = opts.maxConcurrent
	}
	if opts.runs < 1 {
		return &config.ConfigurationError{Field: "runs", Reason: "must be >= 1"}
	}
	if (opts.csvPath == "") == (opts.source == "") {
		return &config.ConfigurationError{Field: "input", Reason: "exactly one of -csv or -source is required"}
	}
	return nil
}

func newLogger(level string, verbose bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if verbose {
		zcfg = zap.NewDevelopmentConfig()
	}
	if level != "" && !verbose {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	zcfg.OutputPaths = []string{"stderr"}
	return zcfg.Build()
}

// describeError names the error kind for the user
func describeError(err error) string {
	var cfgErr *config.ConfigurationError
	var dataErr *feed.DataFormatError
	switch {
	case errors.As(err, &cfgErr):
		return fmt.Sprintf("Invalid configuration: %v", err)
	case errors.As(err, &dataErr):
		return fmt.Sprintf("Invalid input data: %v", err)
	case errors.Is(err, context.Canceled):
		return "Backtest interrupted"
	}
	return fmt.Sprintf("Backtest failed: %v", err)
}

// parseDay parses a YYYY-MM-DD flag as midnight UTC
func parseDay(name, value string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, &config.ConfigurationError{Field: name, Reason: fmt.Sprintf("expected YYYY-MM-DD, got %q", value)}
	}
	return t.UTC(), nil
}
