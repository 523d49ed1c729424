package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fibswing-backtest/pkg/analytics"
	"github.com/fibswing-backtest/pkg/report"
	"github.com/fibswing-backtest/pkg/strategy"
)

func main() {
	// Parse command-line flags
	dirFlag := flag.String("dir", "results", "Directory containing trades.csv ledgers (searched one level deep)")
	outputFlag := flag.String("output", "", "Output JSON file (default: stdout only)")
	flag.Parse()

	fmt.Println("Analyzing backtest results...")
	fmt.Printf("Directory: %s\n", *dirFlag)

	files, err := findLedgers(*dirFlag)
	if err != nil {
		log.Fatalf("Failed to list ledgers: %v", err)
	}
	if len(files) == 0 {
		log.Fatalf("No %s files found in %s", report.TradesFile, *dirFlag)
	}

	var trades []strategy.Trade
	for _, file := range files {
		loaded, err := report.LoadTrades(file)
		if err != nil {
			fmt.Printf("Warning: Failed to load %s: %v\n", file, err)
			continue
		}
		trades = append(trades, loaded...)
	}

	rep := NewAnalysis(trades)

	printReport(rep, len(files))

	if *outputFlag != "" {
		if err := exportJSON(rep, *outputFlag); err != nil {
			log.Fatalf("Failed to export JSON: %v", err)
		}
		fmt.Printf("Report exported to: %s\n", *outputFlag)
	}
}

// findLedgers returns dir/trades.csv and dir/*/trades.csv in path order
func findLedgers(dir string) ([]string, error) {
	var files []string
	for _, pattern := range []string{
		filepath.Join(dir, report.TradesFile),
		filepath.Join(dir, "*", report.TradesFile),
	} {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	sort.Strings(files)
	return files, nil
}

// Analysis aggregates one or more ledgers
type Analysis struct {
	Summary       analytics.Summary       `json:"summary"`
	Monthly       []analytics.MonthlyStat `json:"monthly"`
	WinRateByHour map[int]float64         `json:"win_rate_by_hour"` // UTC entry hour
}

// NewAnalysis computes the aggregate report. The equity curve is rebuilt from
// trade exits, so drawdown is measured per trade rather than per stage.
func NewAnalysis(trades []strategy.Trade) *Analysis {
	summary, monthly := analytics.Compute(trades, equityFromTrades(trades))
	a := &Analysis{
		Summary:       summary,
		Monthly:       monthly,
		WinRateByHour: make(map[int]float64),
	}

	type tally struct{ wins, total int }
	byHour := make(map[int]tally)
	for _, t := range trades {
		if !t.Filled() {
			continue
		}
		h := t.EntryTime.UTC().Hour()
		stat := byHour[h]
		stat.total++
		if t.PnL.IsPositive() {
			stat.wins++
		}
		byHour[h] = stat
	}
	for hour, stat := range byHour {
		a.WinRateByHour[hour] = float64(stat.wins) / float64(stat.total) * 100
	}
	return a
}

func equityFromTrades(trades []strategy.Trade) []analytics.EquitySnapshot {
	filled := make([]strategy.Trade, 0, len(trades))
	for _, t := range trades {
		if t.Filled() {
			filled = append(filled, t)
		}
	}
	sort.SliceStable(filled, func(i, j int) bool {
		return filled[i].ExitTime.Before(filled[j].ExitTime)
	})

	equity := make([]analytics.EquitySnapshot, 0, len(filled))
	total := decimal.Zero
	for _, t := range filled {
		total = total.Add(t.PnL)
		equity = append(equity, analytics.EquitySnapshot{Time: t.ExitTime, Equity: total})
	}
	return equity
}

// printReport prints the report to stdout
func printReport(a *Analysis, ledgers int) {
	s := a.Summary
	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("BACKTEST ANALYSIS REPORT")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Ledgers: %d\n", ledgers)
	fmt.Printf("Total Trades: %d (cancelled %d)\n", s.TotalTrades, s.Cancelled)
	fmt.Printf("Wins: %d, Losses: %d\n", s.Wins, s.Losses)
	fmt.Printf("Win Rate: %.2f%%\n", s.WinRate)
	fmt.Printf("Total P&L: %s\n", s.TotalPnL.StringFixed(2))
	fmt.Printf("Average / Median P&L: %s / %s\n", s.AveragePnL.StringFixed(2), s.MedianPnL.StringFixed(2))
	fmt.Printf("Profit Factor: %.2f\n", s.ProfitFactor)
	fmt.Printf("Max Drawdown: %s\n", s.MaxDrawdown.StringFixed(2))

	fmt.Println("\nWin Rate by Hour (UTC):")
	hours := make([]int, 0, len(a.WinRateByHour))
	for hour := range a.WinRateByHour {
		hours = append(hours, hour)
	}
	sort.Ints(hours)
	for _, hour := range hours {
		fmt.Printf("  %02d:00 - %.2f%%\n", hour, a.WinRateByHour[hour])
	}

	fmt.Println("\nExit Reasons:")
	for _, c := range analytics.Sorted(s.ByReason) {
		fmt.Printf("  %s - %d\n", c.Name, c.Count)
	}

	fmt.Println("\nBy Side:")
	sides := make([]string, 0, len(s.BySide))
	for side := range s.BySide {
		sides = append(sides, side)
	}
	sort.Strings(sides)
	for _, side := range sides {
		st := s.BySide[side]
		fmt.Printf("  %s - %d trades, %.2f%% wins, P&L %s\n", side, st.Trades, st.WinRate, st.PnL.StringFixed(2))
	}

	fmt.Println("\nMonthly:")
	for _, m := range a.Monthly {
		fmt.Printf("  %s %-4s trades=%d wins=%d losses=%d pnl=%s\n",
			m.Month, m.Side, m.Trades, m.Wins, m.Losses, m.PnL.StringFixed(2))
	}
}

// exportJSON exports the report as JSON
func exportJSON(a *Analysis, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := report.WriteJSON(f, a); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
