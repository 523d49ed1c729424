package strategy

import (
	"math"
)

// ATRCalculator calculates Average True Range
type ATRCalculator struct {
	period        int
	count         int
	sum           float64
	atr           float64
	previousClose float64
}

// NewATRCalculator creates a new ATR calculator with specified period
func NewATRCalculator(period int) *ATRCalculator {
	if period < 1 {
		period = 1
	}
	return &ATRCalculator{period: period}
}

// Update adds a new bar and updates ATR
func (a *ATRCalculator) Update(bar Bar) {
	tr := a.trueRange(bar)
	a.previousClose = bar.Close
	a.count++

	if a.count <= a.period {
		// Still accumulating, use simple average
		a.sum += tr
		a.atr = a.sum / float64(a.count)
		return
	}

	// Wilder's smoothing: ATR = (Previous ATR * (Period - 1) + Current TR) / Period
	a.atr = (a.atr*float64(a.period-1) + tr) / float64(a.period)
}

// trueRange calculates True Range for a bar
func (a *ATRCalculator) trueRange(bar Bar) float64 {
	if a.count == 0 {
		return bar.High - bar.Low
	}
	tr1 := bar.High - bar.Low
	tr2 := math.Abs(bar.High - a.previousClose)
	tr3 := math.Abs(bar.Low - a.previousClose)
	return math.Max(tr1, math.Max(tr2, tr3))
}

// GetATR returns the current ATR value
func (a *ATRCalculator) GetATR() float64 {
	return a.atr
}

// IsReady returns true if ATR has enough data to be reliable
func (a *ATRCalculator) IsReady() bool {
	return a.count >= a.period
}
