package strategy

import (
	"github.com/fibswing-backtest/pkg/config"
)

// Orientation of a retracement zone, mirroring the impulse direction
type Orientation string

const (
	Ascending  Orientation = "ASCENDING"  // UP impulse, entries on a retracement down
	Descending Orientation = "DESCENDING" // DOWN impulse, entries on a retracement up
)

// Zone is a Fibonacci retracement band of a swing. Ratio 0 sits at the end of
// the impulse (the swing high of an up move) and ratio 1 at the pullback
// extreme, so an up move's zone lies near the bottom of the swing.
type Zone struct {
	Orientation Orientation
	Swing       Swing
	RatioLow    float64
	RatioHigh   float64
	Anchor0     float64 // price at ratio 0
	Anchor1     float64 // price at ratio 1
	Lower       float64 // price at RatioLow
	Upper       float64 // price at RatioHigh
}

// BuildZone computes the retracement band of a swing
func BuildZone(swing Swing, cfg config.ZoneConfig) (Zone, error) {
	if err := cfg.Validate(); err != nil {
		return Zone{}, err
	}

	z := Zone{
		Swing:     swing,
		RatioLow:  cfg.RatioLow,
		RatioHigh: cfg.RatioHigh,
	}
	if swing.Direction == Up {
		z.Orientation = Ascending
		z.Anchor0, z.Anchor1 = swing.High, swing.Low
	} else {
		z.Orientation = Descending
		z.Anchor0, z.Anchor1 = swing.Low, swing.High
	}
	z.Lower = z.Level(cfg.RatioLow)
	z.Upper = z.Level(cfg.RatioHigh)
	return z, nil
}

// Level returns the price at ratio r
func (z Zone) Level(r float64) float64 {
	return z.Anchor0 + r*(z.Anchor1-z.Anchor0)
}

// Side returns the plan side the zone trades
func (z Zone) Side() Side {
	if z.Orientation == Ascending {
		return Buy
	}
	return Sell
}

// Bottom returns the lowest price of the band
func (z Zone) Bottom() float64 {
	return min(z.Lower, z.Upper)
}

// Top returns the highest price of the band
func (z Zone) Top() float64 {
	return max(z.Lower, z.Upper)
}

// Contains checks if price lies inside the band
func (z Zone) Contains(price float64) bool {
	return price >= z.Bottom() && price <= z.Top()
}
