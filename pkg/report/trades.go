package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fibswing-backtest/pkg/analytics"
	"github.com/fibswing-backtest/pkg/strategy"
)

var tradeHeader = []string{
	"id",
	"side",
	"status",
	"setup_time",
	"entry_time",
	"exit_time",
	"entry_price",
	"exit_price",
	"stop_loss",
	"targets",
	"quantity",
	"stages",
	"reason",
	"pnl",
	"commission",
	"r_multiple",
	"bars_held",
}

// WriteTrades writes the trade ledger as CSV
func WriteTrades(w io.Writer, trades []strategy.Trade) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(tradeHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, trade := range trades {
		targets := make([]string, len(trade.Targets))
		for i, tp := range trade.Targets {
			targets[i] = formatFloat(tp)
		}
		record := []string{
			trade.ID,
			string(trade.Side),
			string(trade.Status),
			formatTime(trade.SetupTime),
			formatTime(trade.EntryTime),
			formatTime(trade.ExitTime),
			formatFloat(trade.EntryPrice),
			formatFloat(trade.ExitPrice),
			formatFloat(trade.StopLoss),
			strings.Join(targets, ";"),
			formatFloat(trade.Quantity),
			strconv.Itoa(trade.StagesExecuted()),
			string(trade.Reason),
			trade.PnL.String(),
			trade.Commission.String(),
			strconv.FormatFloat(trade.RMultiple, 'f', 4, 64),
			strconv.Itoa(trade.BarsHeld),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// WriteEquity writes the equity curve as CSV
func WriteEquity(w io.Writer, equity []analytics.EquitySnapshot) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"timestamp", "equity", "exposure"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, e := range equity {
		record := []string{
			formatTime(e.Time),
			e.Equity.String(),
			formatFloat(e.Exposure),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// LoadTrades reads a trades.csv written by WriteTrades
func LoadTrades(path string) ([]strategy.Trade, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return ReadTrades(f)
}

// ReadTrades parses a trade ledger. Stage fills are not stored in the CSV, so
// only their count survives (as empty StageFill entries).
func ReadTrades(r io.Reader) ([]strategy.Trade, error) {
	reader := csv.NewReader(r)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read trades: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("trades file is empty")
	}

	col := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		col[name] = i
	}
	for _, name := range tradeHeader {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("trades file is missing column %q", name)
		}
	}

	trades := make([]strategy.Trade, 0, len(records)-1)
	for n, record := range records[1:] {
		p := &rowParser{record: record, col: col}
		t := strategy.Trade{
			ID:         p.str("id"),
			Side:       strategy.Side(p.str("side")),
			Status:     strategy.Status(p.str("status")),
			SetupTime:  p.timestamp("setup_time"),
			EntryTime:  p.timestamp("entry_time"),
			ExitTime:   p.timestamp("exit_time"),
			EntryPrice: p.float("entry_price"),
			ExitPrice:  p.float("exit_price"),
			StopLoss:   p.float("stop_loss"),
			Quantity:   p.float("quantity"),
			Reason:     strategy.ExitReason(p.str("reason")),
			PnL:        p.money("pnl"),
			Commission: p.money("commission"),
			RMultiple:  p.float("r_multiple"),
			BarsHeld:   p.integer("bars_held"),
		}
		if raw := p.str("targets"); raw != "" {
			for _, s := range strings.Split(raw, ";") {
				t.Targets = append(t.Targets, p.parseFloat("targets", s))
			}
		}
		if stages := p.integer("stages"); stages > 0 {
			t.Stages = make([]strategy.StageFill, stages)
		}
		if p.err != nil {
			return nil, fmt.Errorf("row %d: %w", n+1, p.err)
		}
		trades = append(trades, t)
	}
	return trades, nil
}

// rowParser keeps the first conversion error of a record
type rowParser struct {
	record []string
	col    map[string]int
	err    error
}

func (p *rowParser) str(name string) string {
	i := p.col[name]
	if i >= len(p.record) {
		return ""
	}
	return p.record[i]
}

func (p *rowParser) fail(name, value string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("column %s value %q: %w", name, value, err)
	}
}

func (p *rowParser) parseFloat(name, s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.fail(name, s, err)
	}
	return v
}

func (p *rowParser) float(name string) float64 {
	return p.parseFloat(name, p.str(name))
}

func (p *rowParser) integer(name string) int {
	s := p.str(name)
	if s == "" {
		return 0
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		p.fail(name, s, err)
	}
	return v
}

func (p *rowParser) money(name string) decimal.Decimal {
	s := p.str(name)
	if s == "" {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		p.fail(name, s, err)
	}
	return v
}

func (p *rowParser) timestamp(name string) time.Time {
	s := p.str(name)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		p.fail(name, s, err)
	}
	return t.UTC()
}

func formatFloat(x float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64)
}

// formatTime renders t in UTC; the zero time is left empty
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
