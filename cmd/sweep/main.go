package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/fibswing-backtest/pkg/config"
	"github.com/fibswing-backtest/pkg/feed"
	"github.com/fibswing-backtest/pkg/report"
	"github.com/fibswing-backtest/pkg/sweep"
)

func main() {
	csvFlag := flag.String("csv", "", "CSV file with the bars to sweep over")
	configFlag := flag.String("config", "", "Base config file (yaml, json or toml)")
	legsFlag := flag.String("min-leg", "", "Min leg sizes: list (4,6,8) or range start:end:step")
	ratiosFlag := flag.String("entry-ratio", "", "Entry ratios: list or range (0 = zone midpoint)")
	rrFlag := flag.String("rr", "", "First-target risk/reward multiples: list or range")
	outFlag := flag.String("out", "results/sweep.json", "Output JSON file")
	flag.Parse()

	if err := run(*csvFlag, *configFlag, *legsFlag, *ratiosFlag, *rrFlag, *outFlag); err != nil {
		var cfgErr *config.ConfigurationError
		var dataErr *feed.DataFormatError
		switch {
		case errors.As(err, &cfgErr):
			fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		case errors.As(err, &dataErr):
			fmt.Fprintf(os.Stderr, "Invalid input data: %v\n", err)
		default:
			fmt.Fprintf(os.Stderr, "Sweep failed: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(csvPath, configFile, legs, ratios, rrs, out string) error {
	if csvPath == "" {
		return &config.ConfigurationError{Field: "csv", Reason: "is required"}
	}

	base, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if err := base.Validate(); err != nil {
		return err
	}

	var grid sweep.Grid
	axes := []struct {
		name  string
		value string
		dest  *[]float64
	}{
		{"min-leg", legs, &grid.MinLegSizes},
		{"entry-ratio", ratios, &grid.EntryRatios},
		{"rr", rrs, &grid.RiskRewards},
	}
	for _, axis := range axes {
		values, err := sweep.ParseAxis(axis.value)
		if err != nil {
			return &config.ConfigurationError{Field: axis.name, Reason: err.Error()}
		}
		*axis.dest = values
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	bars, err := feed.LoadCSV(csvPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("Sweeping %d grid points over %d bars...\n", len(grid.Expand(base)), len(bars))
	outcomes := sweep.Run(ctx, base, grid, bars, logger)

	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", out, err)
	}
	if err := report.WriteJSON(f, outcomes); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	for _, o := range outcomes {
		if o.Error != "" {
			fmt.Printf("  leg=%-6g ratio=%-6g rr=%-5g error: %s\n", o.Params.MinLegSize, o.Params.EntryRatio, o.Params.RiskReward, o.Error)
			continue
		}
		fmt.Printf("  leg=%-6g ratio=%-6g rr=%-5g trades=%-4d win=%.1f%% pnl=%s\n",
			o.Params.MinLegSize, o.Params.EntryRatio, o.Params.RiskReward,
			o.Summary.TotalTrades, o.Summary.WinRate, o.Summary.TotalPnL.StringFixed(2))
	}

	if best, ok := sweep.Best(outcomes); ok {
		fmt.Printf("\nBest: leg=%g ratio=%g rr=%g pnl=%s (run %s)\n",
			best.Params.MinLegSize, best.Params.EntryRatio, best.Params.RiskReward,
			best.Summary.TotalPnL.StringFixed(2), best.RunID)
	}
	fmt.Printf("Results exported to: %s\n", out)
	return nil
}
