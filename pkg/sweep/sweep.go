package sweep

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"
	lop "github.com/samber/lo/parallel"
	"go.uber.org/zap"

	"github.com/fibswing-backtest/pkg/analytics"
	"github.com/fibswing-backtest/pkg/backtest"
	"github.com/fibswing-backtest/pkg/config"
	"github.com/fibswing-backtest/pkg/feed"
)

// Params is one point of the grid
type Params struct {
	MinLegSize float64 `json:"min_leg_size"`
	EntryRatio float64 `json:"entry_ratio"`
	RiskReward float64 `json:"risk_reward"` // applied to the first target
}

// Grid lists the values to combine; an empty axis keeps the base value
type Grid struct {
	MinLegSizes []float64
	EntryRatios []float64
	RiskRewards []float64
}

// Outcome is the result of one grid point
type Outcome struct {
	Params  Params            `json:"params"`
	RunID   string            `json:"run_id,omitempty"`
	Summary analytics.Summary `json:"summary"`
	Error   string            `json:"error,omitempty"`
}

// Expand returns every combination of the grid applied to base, in axis order
func (g Grid) Expand(base *config.Config) []Params {
	legs := orDefault(g.MinLegSizes, base.Swing.MinLegSize)
	ratios := orDefault(g.EntryRatios, base.Plan.EntryRatio)
	rrs := orDefault(g.RiskRewards, base.Plan.RiskRewards[0])

	return lo.CrossJoinBy3(legs, ratios, rrs, func(leg, ratio, rr float64) Params {
		return Params{MinLegSize: leg, EntryRatio: ratio, RiskReward: rr}
	})
}

func orDefault(values []float64, fallback float64) []float64 {
	if len(values) == 0 {
		return []float64{fallback}
	}
	return values
}

// Apply returns a copy of base with p applied
func (p Params) Apply(base *config.Config) *config.Config {
	cfg := *base
	cfg.Swing.MinLegSize = p.MinLegSize
	cfg.Plan.EntryRatio = p.EntryRatio
	cfg.Plan.RiskRewards = append([]float64(nil), base.Plan.RiskRewards...)
	cfg.Plan.RiskRewards[0] = p.RiskReward
	cfg.Stages = append([]config.Stage(nil), base.Stages...)
	return &cfg
}

// Run simulates every grid point concurrently. Outcomes keep the order of
// Expand; points whose configuration does not validate are dropped.
func Run(ctx context.Context, base *config.Config, grid Grid, bars []feed.Bar, logger *zap.Logger) []Outcome {
	if logger == nil {
		logger = zap.NewNop()
	}

	points := lo.Filter(grid.Expand(base), func(p Params, _ int) bool {
		if err := p.Apply(base).Validate(); err != nil {
			logger.Debug("grid point skipped", zap.Any("params", p), zap.Error(err))
			return false
		}
		return true
	})
	logger.Info("sweep started", zap.Int("points", len(points)), zap.Int("bars", len(bars)))

	return lop.Map(points, func(p Params, _ int) Outcome {
		out := Outcome{Params: p}
		engine, err := backtest.NewEngine(p.Apply(base), logger)
		if err != nil {
			out.Error = err.Error()
			return out
		}
		res, err := engine.Run(ctx, bars)
		if err != nil {
			out.Error = err.Error()
			return out
		}
		out.RunID = res.Manifest.RunID
		out.Summary = res.Summary
		return out
	})
}

// Best returns the successful outcome with the highest net P&L. Ties keep the
// earlier grid point.
func Best(outcomes []Outcome) (Outcome, bool) {
	ok := lo.Filter(outcomes, func(o Outcome, _ int) bool { return o.Error == "" })
	if len(ok) == 0 {
		return Outcome{}, false
	}
	return lo.MaxBy(ok, func(a, b Outcome) bool {
		return a.Summary.TotalPnL.GreaterThan(b.Summary.TotalPnL)
	}), true
}

// ParseAxis parses either a comma list ("4,6,8") or a range "start:end:step"
// (end exclusive)
func ParseAxis(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if parts := strings.Split(s, ":"); len(parts) == 3 {
		var bounds [3]float64
		for i, part := range parts {
			v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid range %q: %w", s, err)
			}
			bounds[i] = v
		}
		if bounds[2] <= 0 || bounds[1] <= bounds[0] {
			return nil, fmt.Errorf("invalid range %q: need start < end and step > 0", s)
		}
		return lo.RangeWithSteps(bounds[0], bounds[1], bounds[2]), nil
	}

	var values []float64
	for _, part := range strings.Split(s, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q: %w", part, err)
		}
		values = append(values, v)
	}
	return values, nil
}
