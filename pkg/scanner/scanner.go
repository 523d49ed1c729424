package scanner

import (
	"time"

	"github.com/fibswing-backtest/pkg/config"
	"github.com/fibswing-backtest/pkg/risk"
	"github.com/fibswing-backtest/pkg/strategy"
)

// RejectReason explains why a plan was not turned into a position
type RejectReason string

const (
	RejectSide        RejectReason = "side_filter"
	RejectSession     RejectReason = "outside_session"
	RejectDailyLimit  RejectReason = "daily_trade_limit"
	RejectConcurrency RejectReason = "max_concurrent"
	RejectOverlap     RejectReason = "overlapping_zone"
)

// Scanner gates candidate plans before they become positions
type Scanner struct {
	side          config.SideFilter
	session       *config.SessionWindow
	limits        *risk.DailyLimits
	maxConcurrent int
	allowOverlap  bool
}

// NewScanner creates a new scanner from the run options
func NewScanner(run config.RunConfig) (*Scanner, error) {
	s := &Scanner{
		side:          run.Side,
		maxConcurrent: run.MaxConcurrent,
		allowOverlap:  run.AllowOverlap,
	}
	if s.maxConcurrent < 1 {
		s.maxConcurrent = 1
	}

	location := time.UTC
	if run.Session.Enabled {
		window, err := run.Session.Window()
		if err != nil {
			return nil, err
		}
		s.session = &window
		location = window.Location
	}
	s.limits = risk.NewDailyLimits(run.MaxDailyTrades, location)
	return s, nil
}

// AllowsSide checks the side filter
func (s *Scanner) AllowsSide(side strategy.Side) bool {
	switch s.side {
	case config.SideBuyOnly:
		return side == strategy.Buy
	case config.SideSellOnly:
		return side == strategy.Sell
	}
	return true
}

// Admit decides whether plan may open a position at t given the live positions.
// An admitted plan counts toward the daily limit.
func (s *Scanner) Admit(plan strategy.TradePlan, t time.Time, live *strategy.PositionManager) (bool, RejectReason) {
	if !s.AllowsSide(plan.Side) {
		return false, RejectSide
	}

	if s.session != nil && !InSession(t, *s.session) {
		return false, RejectSession
	}

	if !s.limits.CanTrade(t) {
		return false, RejectDailyLimit
	}

	if live.GetActiveCount() >= s.maxConcurrent {
		return false, RejectConcurrency
	}

	if !s.allowOverlap && !CheckOverlap(plan, live.GetAllPositions()) {
		return false, RejectOverlap
	}

	s.limits.RecordTrade(t)
	return true, ""
}

// InSession checks if t falls inside the window. A window whose end is before its
// start wraps past midnight.
func InSession(t time.Time, window config.SessionWindow) bool {
	local := t.In(window.Location)
	minute := local.Hour()*60 + local.Minute()

	if window.StartMinute <= window.EndMinute {
		return minute >= window.StartMinute && minute < window.EndMinute
	}
	return minute >= window.StartMinute || minute < window.EndMinute
}
