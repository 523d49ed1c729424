package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/fibswing-backtest/pkg/analytics"
	"github.com/fibswing-backtest/pkg/backtest"
)

// WriteDiagnostics renders the run counters and headline numbers as Markdown
func WriteDiagnostics(w io.Writer, res *backtest.Result) error {
	var b strings.Builder
	d := res.Diagnostics
	if d == nil {
		d = analytics.NewDiagnostics()
	}
	s := res.Summary

	b.WriteString("# Backtest diagnostics\n\n")
	if m := res.Manifest; m != nil {
		fmt.Fprintf(&b, "- Run: `%s`\n", m.RunID)
		fmt.Fprintf(&b, "- Symbol: %s\n", m.Symbol)
		if m.Bars > 0 {
			fmt.Fprintf(&b, "- Range: %s to %s\n", formatTime(m.From), formatTime(m.To))
		}
		fmt.Fprintf(&b, "- Config hash: `%s`\n", m.ConfigHash)
		fmt.Fprintf(&b, "- Data hash: `%s`\n", m.DataHash)
	}

	b.WriteString("\n## Pipeline\n\n")
	b.WriteString("| Stage | Count |\n|---|---:|\n")
	fmt.Fprintf(&b, "| Bars | %d |\n", d.Bars)
	fmt.Fprintf(&b, "| Swings confirmed | %d |\n", d.Swings)
	fmt.Fprintf(&b, "| Invalid plans | %d |\n", d.InvalidPlans)
	fmt.Fprintf(&b, "| Plans built | %d |\n", d.Plans)
	fmt.Fprintf(&b, "| Orders placed | %d |\n", d.PositionsOpened)
	fmt.Fprintf(&b, "| Orders filled | %d |\n", d.Filled)

	writeCounts(&b, "Gate rejections", d.Rejections)
	writeCounts(&b, "Cancelled orders", d.Cancellations)
	writeCounts(&b, "Exit reasons", s.ByReason)

	b.WriteString("\n## Results\n\n")
	fmt.Fprintf(&b, "- Filled trades: %d (wins %d, losses %d, flat %d)\n", s.TotalTrades, s.Wins, s.Losses, s.Flats)
	fmt.Fprintf(&b, "- Win rate: %.2f%%\n", s.WinRate)
	fmt.Fprintf(&b, "- Net P&L: %s (commission %s)\n", s.TotalPnL.StringFixed(2), s.Commission.StringFixed(2))
	fmt.Fprintf(&b, "- Profit factor: %.2f\n", s.ProfitFactor)
	fmt.Fprintf(&b, "- Max drawdown: %s\n", s.MaxDrawdown.StringFixed(2))
	fmt.Fprintf(&b, "- Average R: %.2f\n", s.AverageR)
	if !res.InitialBalance.IsZero() {
		fmt.Fprintf(&b, "- Balance: %s -> %s\n", res.InitialBalance.StringFixed(2), res.FinalBalance.StringFixed(2))
	}

	writeSides(&b, s.BySide)
	writeMonthly(&b, res.Monthly)

	if len(d.InvalidSamples) > 0 {
		b.WriteString("\n## Skipped swings\n\n")
		for _, msg := range d.InvalidSamples {
			fmt.Fprintf(&b, "- %s\n", msg)
		}
		if extra := d.InvalidPlans - len(d.InvalidSamples); extra > 0 {
			fmt.Fprintf(&b, "- ... and %d more\n", extra)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func writeCounts(b *strings.Builder, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	fmt.Fprintf(b, "\n## %s\n\n| Reason | Count |\n|---|---:|\n", title)
	for _, c := range analytics.Sorted(counts) {
		fmt.Fprintf(b, "| %s | %d |\n", c.Name, c.Count)
	}
}

func writeSides(b *strings.Builder, sides map[string]analytics.SideStats) {
	if len(sides) == 0 {
		return
	}
	b.WriteString("\n## By side\n\n| Side | Trades | Wins | Losses | Win rate | P&L |\n|---|---:|---:|---:|---:|---:|\n")
	for _, side := range []string{"BUY", "SELL"} {
		st, ok := sides[side]
		if !ok {
			continue
		}
		fmt.Fprintf(b, "| %s | %d | %d | %d | %.2f%% | %s |\n",
			side, st.Trades, st.Wins, st.Losses, st.WinRate, st.PnL.StringFixed(2))
	}
}

func writeMonthly(b *strings.Builder, monthly []analytics.MonthlyStat) {
	if len(monthly) == 0 {
		return
	}
	b.WriteString("\n## Monthly\n\n| Month | Side | Trades | Wins | Losses | P&L |\n|---|---|---:|---:|---:|---:|\n")
	for _, m := range monthly {
		fmt.Fprintf(b, "| %s | %s | %d | %d | %d | %s |\n",
			m.Month, m.Side, m.Trades, m.Wins, m.Losses, m.PnL.StringFixed(2))
	}
}
