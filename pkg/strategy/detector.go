package strategy

import (
	"iter"
	"math"

	"github.com/fibswing-backtest/pkg/config"
)

// legFold is the state carried across bars while folding legs out of a series.
// It lives only for the duration of one pass over the bars.
type legFold struct {
	dir Direction // empty until the first move exceeds the threshold

	// first-move tracking while dir is empty
	hi, lo       float64
	hiIdx, loIdx int

	start     int
	startPx   float64
	extreme   int
	extremePx float64
}

// step consumes bar i and returns a confirmed leg, if any
func (f *legFold) step(i int, bar Bar, threshold float64) (Leg, bool) {
	if i == 0 {
		f.hi, f.hiIdx = bar.High, 0
		f.lo, f.loIdx = bar.Low, 0
		return Leg{}, false
	}

	switch f.dir {
	case "":
		upMove := bar.High - f.lo
		downMove := f.hi - bar.Low
		up := upMove >= threshold
		down := downMove >= threshold
		if up && down {
			// no prior leg to prefer; follow the candle's own colour
			up = bar.Close >= bar.Open
			down = !up
		}
		switch {
		case up:
			f.dir, f.start, f.startPx = Up, f.loIdx, f.lo
			f.extreme, f.extremePx = i, bar.High
		case down:
			f.dir, f.start, f.startPx = Down, f.hiIdx, f.hi
			f.extreme, f.extremePx = i, bar.Low
		default:
			if bar.High > f.hi {
				f.hi, f.hiIdx = bar.High, i
			}
			if bar.Low < f.lo {
				f.lo, f.loIdx = bar.Low, i
			}
		}
		return Leg{}, false

	case Up:
		// a bar that extends the running high is never also a reversal bar
		if bar.High > f.extremePx {
			f.extreme, f.extremePx = i, bar.High
			return Leg{}, false
		}
		if f.extremePx-bar.Low >= threshold {
			leg := f.confirm(i)
			f.dir, f.start, f.startPx = Down, f.extreme, f.extremePx
			f.extreme, f.extremePx = i, bar.Low
			return leg, true
		}

	case Down:
		if bar.Low < f.extremePx {
			f.extreme, f.extremePx = i, bar.Low
			return Leg{}, false
		}
		if bar.High-f.extremePx >= threshold {
			leg := f.confirm(i)
			f.dir, f.start, f.startPx = Up, f.extreme, f.extremePx
			f.extreme, f.extremePx = i, bar.High
			return leg, true
		}
	}
	return Leg{}, false
}

func (f *legFold) confirm(i int) Leg {
	return Leg{
		Direction:    f.dir,
		StartIndex:   f.start,
		StartPrice:   f.startPx,
		EndIndex:     f.extreme,
		EndPrice:     f.extremePx,
		ConfirmIndex: i,
	}
}

// thresholdFunc returns the minimum reversal, in price, that confirms a leg at each bar
func thresholdFunc(cfg config.SwingConfig) func(Bar) float64 {
	if cfg.MinLegATR > 0 {
		atr := NewATRCalculator(cfg.ATRPeriod)
		return func(bar Bar) float64 {
			atr.Update(bar)
			if !atr.IsReady() {
				return math.Inf(1)
			}
			return cfg.MinLegATR * atr.GetATR()
		}
	}
	fixed := cfg.MinLegSize * cfg.PointSize
	return func(Bar) float64 { return fixed }
}

// DetectLegs returns the confirmed legs of bars in chronological order.
// The sequence is lazy and can be ranged over any number of times.
func DetectLegs(bars []Bar, cfg config.SwingConfig) (iter.Seq[Leg], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return func(yield func(Leg) bool) {
		var fold legFold
		threshold := thresholdFunc(cfg)
		for i, bar := range bars {
			leg, ok := fold.step(i, bar, threshold(bar))
			if ok && !yield(leg) {
				return
			}
		}
	}, nil
}

// DetectSwings returns confirmed swings in order of confirmation. A swing is an
// impulse leg followed by an opposite pullback leg that does not break the
// impulse origin; it is emitted on the bar that confirms the pullback.
func DetectSwings(bars []Bar, cfg config.SwingConfig) (iter.Seq[Swing], error) {
	legs, err := DetectLegs(bars, cfg)
	if err != nil {
		return nil, err
	}
	return func(yield func(Swing) bool) {
		if len(bars) < cfg.Lookback {
			return
		}
		var prev *Leg
		for leg := range legs {
			if prev != nil {
				if swing, ok := buildSwing(bars, *prev, leg, cfg); ok {
					if !yield(swing) {
						return
					}
				}
			}
			current := leg
			prev = &current
		}
	}, nil
}

func buildSwing(bars []Bar, impulse, pullback Leg, cfg config.SwingConfig) (Swing, bool) {
	if impulse.Direction == pullback.Direction {
		return Swing{}, false
	}

	// the pullback may not retrace past the impulse origin
	if impulse.Direction == Up && pullback.EndPrice <= impulse.StartPrice {
		return Swing{}, false
	}
	if impulse.Direction == Down && pullback.EndPrice >= impulse.StartPrice {
		return Swing{}, false
	}

	if cfg.Lookback > 0 && pullback.ConfirmIndex-pullback.StartIndex > cfg.Lookback {
		return Swing{}, false
	}

	if cfg.MinPullbackCandles > 0 {
		window := bars[pullback.StartIndex+1 : pullback.EndIndex+1]
		if CountOppositeCandles(window, impulse.Direction) < cfg.MinPullbackCandles {
			return Swing{}, false
		}
	}

	swing := Swing{
		Direction:    impulse.Direction,
		Impulse:      impulse,
		Pullback:     pullback,
		ConfirmIndex: pullback.ConfirmIndex,
		ConfirmTime:  bars[pullback.ConfirmIndex].Time,
	}
	if impulse.Direction == Up {
		swing.High, swing.HighIndex = pullback.StartPrice, pullback.StartIndex
		swing.Low, swing.LowIndex = pullback.EndPrice, pullback.EndIndex
	} else {
		swing.Low, swing.LowIndex = pullback.StartPrice, pullback.StartIndex
		swing.High, swing.HighIndex = pullback.EndPrice, pullback.EndIndex
	}
	return swing, true
}
