package analytics

import (
	"sort"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/fibswing-backtest/pkg/strategy"
)

// SideStats summarizes one trade side
type SideStats struct {
	Trades  int             `json:"trades"`
	Wins    int             `json:"wins"`
	Losses  int             `json:"losses"`
	WinRate float64         `json:"win_rate"`
	PnL     decimal.Decimal `json:"pnl"`
}

// Summary is the headline performance of a run
type Summary struct {
	TotalTrades int `json:"total_trades"` // filled trades
	Cancelled   int `json:"cancelled"`
	Wins        int `json:"wins"`
	Losses      int `json:"losses"`
	Flats       int `json:"flats"`
	Timeouts    int `json:"timeouts"`

	WinRate      float64         `json:"win_rate"` // percent of filled trades
	TotalPnL     decimal.Decimal `json:"total_pnl"`
	AveragePnL   decimal.Decimal `json:"average_pnl"`
	MedianPnL    decimal.Decimal `json:"median_pnl"`
	GrossProfit  decimal.Decimal `json:"gross_profit"`
	GrossLoss    decimal.Decimal `json:"gross_loss"`
	ProfitFactor float64         `json:"profit_factor"`
	MaxDrawdown  decimal.Decimal `json:"max_drawdown"`
	BestTrade    decimal.Decimal `json:"best_trade"`
	WorstTrade   decimal.Decimal `json:"worst_trade"`
	Commission   decimal.Decimal `json:"commission"`
	FinalEquity  decimal.Decimal `json:"final_equity"`

	AverageR        float64 `json:"average_r"`
	NetR            float64 `json:"net_r"`
	AverageBarsHeld float64 `json:"average_bars_held"`

	BySide   map[string]SideStats `json:"by_side"`
	ByReason map[string]int       `json:"by_reason"`
}

// MonthlyStat aggregates filled trades that exited in one calendar month, per side
type MonthlyStat struct {
	Month  string          `json:"month"` // YYYY-MM, UTC
	Side   string          `json:"side"`
	Trades int             `json:"trades"`
	Wins   int             `json:"wins"`
	Losses int             `json:"losses"`
	PnL    decimal.Decimal `json:"pnl"`
}

// Compute builds the summary and monthly breakdown of a ledger.
// An empty ledger yields zero values.
func Compute(trades []strategy.Trade, equity []EquitySnapshot) (Summary, []MonthlyStat) {
	return Summarize(trades, equity), Monthly(trades)
}

// Summarize computes the headline statistics
func Summarize(trades []strategy.Trade, equity []EquitySnapshot) Summary {
	filled := lo.Filter(trades, func(t strategy.Trade, _ int) bool {
		return t.Filled()
	})

	s := Summary{
		TotalTrades: len(filled),
		Cancelled:   len(trades) - len(filled),
		BySide:      make(map[string]SideStats),
		ByReason:    lo.CountValuesBy(trades, func(t strategy.Trade) string { return string(t.Reason) }),
	}

	pnls := lo.Map(filled, func(t strategy.Trade, _ int) decimal.Decimal { return t.PnL })
	s.TotalPnL = sumDecimal(pnls)
	s.Commission = sumDecimal(lo.Map(trades, func(t strategy.Trade, _ int) decimal.Decimal { return t.Commission }))

	for _, t := range filled {
		switch t.PnL.Sign() {
		case 1:
			s.Wins++
			s.GrossProfit = s.GrossProfit.Add(t.PnL)
		case -1:
			s.Losses++
			s.GrossLoss = s.GrossLoss.Add(t.PnL.Neg())
		default:
			s.Flats++
		}
		if t.Reason == strategy.ExitReasonTimeout {
			s.Timeouts++
		}
		s.NetR += t.RMultiple
		s.AverageBarsHeld += float64(t.BarsHeld)
	}

	if n := len(filled); n > 0 {
		s.WinRate = float64(s.Wins) / float64(n) * 100
		s.AveragePnL = s.TotalPnL.Div(decimal.NewFromInt(int64(n))).Round(8)
		s.MedianPnL = median(pnls)
		s.AverageR = s.NetR / float64(n)
		s.AverageBarsHeld /= float64(n)
		s.BestTrade = decimal.Max(pnls[0], pnls[1:]...)
		s.WorstTrade = decimal.Min(pnls[0], pnls[1:]...)
	}
	if s.GrossLoss.IsPositive() {
		s.ProfitFactor = s.GrossProfit.Div(s.GrossLoss).InexactFloat64()
	}

	for side, group := range lo.GroupBy(filled, func(t strategy.Trade) strategy.Side { return t.Side }) {
		ss := SideStats{Trades: len(group)}
		for _, t := range group {
			ss.PnL = ss.PnL.Add(t.PnL)
			switch t.PnL.Sign() {
			case 1:
				ss.Wins++
			case -1:
				ss.Losses++
			}
		}
		ss.WinRate = float64(ss.Wins) / float64(ss.Trades) * 100
		s.BySide[string(side)] = ss
	}

	s.MaxDrawdown = MaxDrawdown(equity)
	if len(equity) > 0 {
		s.FinalEquity = equity[len(equity)-1].Equity
	}
	return s
}

// MaxDrawdown returns the largest peak-to-trough fall of the equity curve,
// which starts at zero
func MaxDrawdown(equity []EquitySnapshot) decimal.Decimal {
	peak := decimal.Zero
	worst := decimal.Zero
	for _, e := range equity {
		if e.Equity.GreaterThan(peak) {
			peak = e.Equity
		}
		if dd := peak.Sub(e.Equity); dd.GreaterThan(worst) {
			worst = dd
		}
	}
	return worst
}

type monthKey struct {
	month string
	side  strategy.Side
}

// Monthly groups filled trades by UTC exit month and side, ordered by month then side
func Monthly(trades []strategy.Trade) []MonthlyStat {
	filled := lo.Filter(trades, func(t strategy.Trade, _ int) bool {
		return t.Filled()
	})
	groups := lo.GroupBy(filled, func(t strategy.Trade) monthKey {
		return monthKey{month: t.ExitTime.UTC().Format("2006-01"), side: t.Side}
	})

	keys := lo.Keys(groups)
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].month != keys[j].month {
			return keys[i].month < keys[j].month
		}
		return keys[i].side < keys[j].side
	})

	out := make([]MonthlyStat, 0, len(keys))
	for _, k := range keys {
		m := MonthlyStat{Month: k.month, Side: string(k.side)}
		for _, t := range groups[k] {
			m.Trades++
			m.PnL = m.PnL.Add(t.PnL)
			switch t.PnL.Sign() {
			case 1:
				m.Wins++
			case -1:
				m.Losses++
			}
		}
		out = append(out, m)
	}
	return out
}

func sumDecimal(values []decimal.Decimal) decimal.Decimal {
	return lo.Reduce(values, func(acc decimal.Decimal, v decimal.Decimal, _ int) decimal.Decimal {
		return acc.Add(v)
	}, decimal.Zero)
}

func median(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	sorted := append([]decimal.Decimal(nil), values...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].LessThan(sorted[j])
	})
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return sorted[mid-1].Add(sorted[mid]).Div(decimal.NewFromInt(2)).Round(8)
}
