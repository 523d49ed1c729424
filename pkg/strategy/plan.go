package strategy

import (
	"fmt"
	"math"

	"github.com/fibswing-backtest/pkg/config"
)

// TradePlan holds the levels of one candidate trade
type TradePlan struct {
	Side       Side
	Entry      float64
	EntryRatio float64
	StopLoss   float64
	Targets    []float64 // ordered by distance from entry
	Zone       Zone
}

// Risk returns the entry-to-stop distance
func (p TradePlan) Risk() float64 {
	return math.Abs(p.Entry - p.StopLoss)
}

// BuildPlan computes entry, stop-loss and take-profit levels for a zone.
// pointSize converts the point-denominated buffer and minimum stop into price.
func BuildPlan(zone Zone, cfg config.PlanConfig, pointSize float64) (TradePlan, error) {
	zcfg := config.ZoneConfig{RatioLow: zone.RatioLow, RatioHigh: zone.RatioHigh}
	if err := cfg.Validate(zcfg); err != nil {
		return TradePlan{}, err
	}

	side := zone.Side()
	ratio := cfg.EffectiveEntryRatio(zcfg)
	entry := zone.Level(ratio)
	buffer := cfg.StopBuffer * pointSize
	minStop := cfg.MinStopDistance * pointSize

	var stop float64
	if side == Buy {
		// beyond the swing low, and at least minStop below entry
		stop = min(zone.Swing.Low-buffer, entry-minStop)
	} else {
		stop = max(zone.Swing.High+buffer, entry+minStop)
	}

	plan := TradePlan{
		Side:       side,
		Entry:      entry,
		EntryRatio: ratio,
		StopLoss:   stop,
		Zone:       zone,
	}

	invalid := func(format string, args ...any) (TradePlan, error) {
		return TradePlan{}, &InvalidPlanError{
			SwingTime: zone.Swing.ConfirmTime,
			Side:      side,
			Reason:    fmt.Sprintf(format, args...),
		}
	}

	if !finitePositive(entry) || !finitePositive(stop) {
		return invalid("non-positive or non-finite levels (entry=%g stop=%g)", entry, stop)
	}
	if side == Buy && stop >= entry {
		return invalid("stop-loss %g is not below entry %g", stop, entry)
	}
	if side == Sell && stop <= entry {
		return invalid("stop-loss %g is not above entry %g", stop, entry)
	}

	risk := plan.Risk()
	plan.Targets = make([]float64, len(cfg.RiskRewards))
	for i, rr := range cfg.RiskRewards {
		tp := entry + side.sign()*rr*risk
		if !finitePositive(tp) {
			return invalid("take-profit %d at %g is not a valid price", i+1, tp)
		}
		plan.Targets[i] = tp
	}
	return plan, nil
}

// Validate re-checks the ordering invariants of a plan
func (p TradePlan) Validate() error {
	if len(p.Targets) == 0 {
		return fmt.Errorf("plan has no targets")
	}
	s := p.Side.sign()
	if !(s*(p.Entry-p.StopLoss) > 0) {
		return fmt.Errorf("%s stop-loss %g on the wrong side of entry %g", p.Side, p.StopLoss, p.Entry)
	}
	prev := p.Entry
	for i, tp := range p.Targets {
		if !(s*(tp-prev) > 0) {
			return fmt.Errorf("%s take-profit %d (%g) is not beyond %g", p.Side, i+1, tp, prev)
		}
		prev = tp
	}
	return nil
}

func finitePositive(x float64) bool {
	return x > 0 && !math.IsInf(x, 0) && !math.IsNaN(x)
}
