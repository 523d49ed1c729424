package backtest

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/fibswing-backtest/pkg/analytics"
	"github.com/fibswing-backtest/pkg/config"
	"github.com/fibswing-backtest/pkg/feed"
	"github.com/fibswing-backtest/pkg/risk"
	"github.com/fibswing-backtest/pkg/scanner"
	"github.com/fibswing-backtest/pkg/strategy"
)

// how often Run looks at ctx
const cancelCheckInterval = 4096

// Result is everything a run produces
type Result struct {
	Trades      []strategy.Trade
	Equity      []analytics.EquitySnapshot
	Summary     analytics.Summary
	Monthly     []analytics.MonthlyStat
	Diagnostics *analytics.Diagnostics
	Manifest    *Manifest

	InitialBalance decimal.Decimal
	FinalBalance   decimal.Decimal
}

// Engine replays bars through the swing/Fibonacci strategy. It holds only
// immutable configuration; each Run builds its own state, so one Engine may
// serve concurrent runs.
type Engine struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewEngine validates cfg and creates an engine
func NewEngine(cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, &config.ConfigurationError{Field: "config", Reason: "is nil"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, logger: logger}, nil
}

// run is the explicit context of one simulation
type run struct {
	cfg     *config.Config
	logger  *zap.Logger
	runID   uuid.UUID
	bars    []strategy.Bar
	scanner *scanner.Scanner
	account *risk.Account
	manager *strategy.PositionManager
	diag    *analytics.Diagnostics

	seq    int
	trades []strategy.Trade
	equity []analytics.EquitySnapshot
}

// Run simulates bars from first to last. The same bars and configuration
// always produce the same result.
func (e *Engine) Run(ctx context.Context, bars []feed.Bar) (*Result, error) {
	manifest, err := NewManifest(e.cfg, bars)
	if err != nil {
		return nil, err
	}

	sc, err := scanner.NewScanner(e.cfg.Run)
	if err != nil {
		return nil, err
	}

	r := &run{
		cfg:     e.cfg,
		logger:  e.logger.With(zap.String("run_id", manifest.RunID)),
		runID:   uuid.MustParse(manifest.RunID),
		bars:    convertBars(bars),
		scanner: sc,
		account: risk.NewAccount(e.cfg.Run.InitialBalance, e.cfg.Run.RiskPct),
		manager: strategy.NewPositionManager(),
		diag:    analytics.NewDiagnostics(),
	}
	r.diag.Bars = len(bars)

	swings, err := strategy.DetectSwings(r.bars, e.cfg.Swing)
	if err != nil {
		return nil, err
	}
	if err := r.simulate(ctx, swings); err != nil {
		return nil, err
	}

	summary, monthly := analytics.Compute(r.trades, r.equity)
	r.logger.Info("backtest finished",
		zap.Int("bars", len(bars)),
		zap.Int("swings", r.diag.Swings),
		zap.Int("trades", summary.TotalTrades),
		zap.String("pnl", summary.TotalPnL.String()),
	)

	return &Result{
		Trades:      r.trades,
		Equity:      r.equity,
		Summary:     summary,
		Monthly:     monthly,
		Diagnostics: r.diag,
		Manifest:    manifest,

		InitialBalance: r.account.InitialBalance(),
		FinalBalance:   r.account.Balance(),
	}, nil
}

func (r *run) simulate(ctx context.Context, swings iter.Seq[strategy.Swing]) error {
	next, stop := iter.Pull(swings)
	defer stop()
	pending, ok := next()

	for i, bar := range r.bars {
		if i%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		// existing positions see the bar before any setup confirmed on it
		for _, p := range r.manager.GetAllPositions() {
			r.record(p, p.Advance(i, bar))
		}
		r.collect()

		for ok && pending.ConfirmIndex <= i {
			if pending.ConfirmIndex == i {
				r.onSwing(i, pending)
			}
			pending, ok = next()
		}
	}

	if n := len(r.bars); n > 0 {
		last := r.bars[n-1]
		for _, p := range r.manager.GetAllPositions() {
			r.record(p, p.Finish(last))
		}
		r.collect()
	}
	return nil
}

// onSwing turns a confirmed swing into a pending position if every gate passes
func (r *run) onSwing(i int, swing strategy.Swing) {
	r.diag.Swings++
	bar := r.bars[i]

	zone, err := strategy.BuildZone(swing, r.cfg.Zone)
	if err != nil {
		r.invalid(swing, err)
		return
	}
	plan, err := strategy.BuildPlan(zone, r.cfg.Plan, r.cfg.Swing.PointSize)
	if err != nil {
		r.invalid(swing, err)
		return
	}
	if err := plan.Validate(); err != nil {
		r.invalid(swing, &strategy.InvalidPlanError{
			SwingTime: swing.ConfirmTime,
			Side:      plan.Side,
			Reason:    err.Error(),
		})
		return
	}
	r.diag.Plans++

	if ok, reason := r.scanner.Admit(plan, bar.Time, r.manager); !ok {
		r.diag.Reject(string(reason))
		r.logger.Debug("setup rejected",
			zap.String("side", string(plan.Side)),
			zap.Time("time", bar.Time),
			zap.String("reason", string(reason)),
		)
		return
	}

	quantity, err := risk.CalculatePositionSize(
		r.account.RiskAmount(),
		plan.Entry,
		plan.StopLoss,
		r.cfg.Run.QuantityStep,
		r.cfg.Run.MaxQuantity,
	)
	if err != nil {
		r.invalid(swing, &strategy.InvalidPlanError{
			SwingTime: swing.ConfirmTime,
			Side:      plan.Side,
			Reason:    fmt.Sprintf("cannot size position: %v", err),
		})
		return
	}

	r.seq++
	position := strategy.NewPosition(
		tradeID(r.runID, r.seq),
		plan,
		r.cfg.Stages,
		r.cfg.Management,
		quantity,
		r.cfg.Run.CommissionPerUnit,
		i,
		bar,
	)
	r.manager.Add(position)
	r.diag.PositionsOpened++

	r.logger.Debug("pending order placed",
		zap.String("id", position.ID),
		zap.String("side", string(plan.Side)),
		zap.Float64("entry", plan.Entry),
		zap.Float64("stop", plan.StopLoss),
		zap.Float64s("targets", plan.Targets),
		zap.Float64("quantity", quantity),
	)
}

// invalid logs and counts a skipped swing. Errors other than InvalidPlanError
// cannot occur once the configuration has been validated.
func (r *run) invalid(swing strategy.Swing, err error) {
	var planErr *strategy.InvalidPlanError
	if !errors.As(err, &planErr) {
		r.logger.Error("unexpected plan error", zap.Error(err))
	}
	r.diag.Invalid(err.Error())
	r.logger.Warn("swing skipped",
		zap.Time("confirmed", swing.ConfirmTime),
		zap.String("direction", string(swing.Direction)),
		zap.Error(err),
	)
}

// record books the events of one position; every fill, stage or close adds an
// equity snapshot
func (r *run) record(p *strategy.Position, events []strategy.Event) {
	for _, ev := range events {
		switch ev.Kind {
		case strategy.EventCancelled:
			r.diag.Cancel(string(ev.Reason))
			continue
		case strategy.EventFilled:
			r.diag.Filled++
		}

		r.account.Apply(ev.PnL)
		r.equity = append(r.equity, analytics.EquitySnapshot{
			Time:     ev.Time,
			Equity:   r.account.Equity(),
			Exposure: r.manager.Exposure(),
		})

		r.logger.Debug("position event",
			zap.String("id", p.ID),
			zap.String("event", string(ev.Kind)),
			zap.String("status", string(ev.Status)),
			zap.Float64("price", ev.Price),
			zap.String("pnl", ev.PnL.String()),
		)
	}
}

// collect moves terminal positions to the ledger in creation order
func (r *run) collect() {
	for _, p := range r.manager.RemoveFinished() {
		r.trades = append(r.trades, p.Trade())
	}
}

func convertBars(bars []feed.Bar) []strategy.Bar {
	out := make([]strategy.Bar, len(bars))
	for i, b := range bars {
		out[i] = strategy.Bar(b)
	}
	return out
}
