package backtest_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/fibswing-backtest/pkg/backtest"
	"github.com/fibswing-backtest/pkg/config"
	"github.com/fibswing-backtest/pkg/feed"
	"github.com/fibswing-backtest/pkg/report"
)

// path builds one-point candles walking through the given prices
func path(prices ...float64) []feed.Bar {
	t0 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	var bars []feed.Bar
	for i := 1; i < len(prices); i++ {
		step := 1.0
		if prices[i] < prices[i-1] {
			step = -1
		}
		for p := prices[i-1]; p != prices[i]; p += step {
			bars = append(bars, feed.Bar{
				Time:   t0.Add(time.Duration(len(bars)) * time.Minute),
				Open:   p,
				High:   max(p, p+step),
				Low:    min(p, p+step),
				Close:  p + step,
				Volume: 10,
			})
		}
	}
	return bars
}

func render(t *testing.T, res *backtest.Result) (trades, equity []byte) {
	t.Helper()
	var tb, eb bytes.Buffer
	if err := report.WriteTrades(&tb, res.Trades); err != nil {
		t.Fatal(err)
	}
	if err := report.WriteEquity(&eb, res.Equity); err != nil {
		t.Fatal(err)
	}
	return tb.Bytes(), eb.Bytes()
}

func TestEngine_ByteIdenticalOutputs(t *testing.T) {
	// a BUY and a SELL setup, both admitted
	bars := path(100, 150, 140, 146, 140, 188)
	cfg := config.Default()
	cfg.Swing = config.SwingConfig{MinLegSize: 6, PointSize: 1, Lookback: 20, MinPullbackCandles: 3}
	cfg.Management.CancelOnTargetRun = false
	cfg.Run.MaxConcurrent = 2
	cfg.Run.CommissionPerUnit = 0.01

	engine, err := backtest.NewEngine(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}

	var ledgers, curves [][]byte
	for i := 0; i < 3; i++ {
		res, err := engine.Run(context.Background(), append([]feed.Bar(nil), bars...))
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Trades) != 2 || len(res.Equity) == 0 {
			t.Fatalf("expected two trades and an equity curve, got %d trades, %d snapshots", len(res.Trades), len(res.Equity))
		}
		trades, equity := render(t, res)
		ledgers = append(ledgers, trades)
		curves = append(curves, equity)
	}

	for i := 1; i < len(ledgers); i++ {
		if !bytes.Equal(ledgers[0], ledgers[i]) {
			t.Errorf("run %d ledger differs:\n%s\nvs\n%s", i, ledgers[0], ledgers[i])
		}
		if !bytes.Equal(curves[0], curves[i]) {
			t.Errorf("run %d equity curve differs:\n%s\nvs\n%s", i, curves[0], curves[i])
		}
	}
}
