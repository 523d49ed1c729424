package risk

import (
	"time"
)

// DailyLimits caps the number of new setups per calendar day
type DailyLimits struct {
	maxDailyTrades int // 0 = unlimited
	location       *time.Location

	currentDay  string
	tradesToday int
}

// NewDailyLimits creates a limiter; days are counted in location (UTC when nil)
func NewDailyLimits(maxDailyTrades int, location *time.Location) *DailyLimits {
	if location == nil {
		location = time.UTC
	}
	return &DailyLimits{
		maxDailyTrades: maxDailyTrades,
		location:       location,
	}
}

// rollDay resets the counter if t falls on a new day
func (dl *DailyLimits) rollDay(t time.Time) {
	day := t.In(dl.location).Format("2006-01-02")
	if day != dl.currentDay {
		dl.currentDay = day
		dl.tradesToday = 0
	}
}

// CanTrade checks if another setup is allowed on t's day
func (dl *DailyLimits) CanTrade(t time.Time) bool {
	if dl.maxDailyTrades == 0 {
		return true
	}
	dl.rollDay(t)
	return dl.tradesToday < dl.maxDailyTrades
}

// RecordTrade counts a setup on t's day
func (dl *DailyLimits) RecordTrade(t time.Time) {
	dl.rollDay(t)
	dl.tradesToday++
}
