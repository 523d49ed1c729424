package strategy

import (
	"github.com/fibswing-backtest/pkg/config"
	"github.com/shopspring/decimal"
)

// moneyPlaces is the precision every realized amount is rounded to
const moneyPlaces = 8

// crosses checks if the bar's range includes price
func crosses(bar Bar, price float64) bool {
	return bar.Low <= price && price <= bar.High
}

// isStopLossHit checks if the bar reached the stop
func isStopLossHit(side Side, bar Bar, stop float64) bool {
	if side == Sell {
		// For shorts, stop is above entry
		return bar.High >= stop
	}
	// For longs, stop is below entry
	return bar.Low <= stop
}

// isTargetHit checks if the bar reached a take-profit level
func isTargetHit(side Side, bar Bar, target float64) bool {
	if side == Sell {
		return bar.Low <= target
	}
	return bar.High >= target
}

// gappedThrough checks if price jumped over the entry from the approach side:
// the previous close was on the far side of the entry from the stop and the whole
// bar traded on the stop side. Price already below a BUY entry is still heading
// toward it and is left alone.
func gappedThrough(side Side, prevClose float64, bar Bar, entry float64) bool {
	if side == Sell {
		return prevClose < entry && bar.Low > entry
	}
	return prevClose > entry && bar.High < entry
}

// breachedZone checks if price left the zone through its far bound without
// touching the entry, or traded through the stop before the order filled
func breachedZone(plan TradePlan, prevClose float64, bar Bar) bool {
	if isStopLossHit(plan.Side, bar, plan.StopLoss) {
		return true
	}
	far := plan.Zone.Upper
	s := plan.Side.sign()
	return plan.Zone.Contains(prevClose) && s*(bar.Close-far) < 0
}

// stopCandidate returns where a stop rule wants the stop after stage k
func stopCandidate(rule config.StopRule, plan TradePlan, k int, best float64) (float64, ExitReason, bool) {
	s := plan.Side.sign()
	switch rule.Kind {
	case config.StopBreakeven:
		return plan.Entry + s*rule.Offset, ExitReasonBreakeven, true
	case config.StopPriorTarget:
		prior := plan.Entry
		if k > 0 {
			prior = plan.Targets[k-1]
		}
		return prior - s*rule.Offset, ExitReasonBreakeven, true
	case config.StopTrail:
		return best - s*rule.Offset, ExitReasonTrailingStop, true
	}
	return 0, "", false
}

// tighter reports whether candidate moves the stop toward profit
func tighter(side Side, candidate, stop float64) bool {
	if side == Sell {
		return candidate < stop
	}
	return candidate > stop
}

// CalculatePnL calculates gross P&L for closing units at exitPrice
func CalculatePnL(side Side, entryPrice, exitPrice, units float64) float64 {
	return (exitPrice - entryPrice) * side.sign() * units
}

// CalculateCommission calculates the commission for one side of a fill
func CalculateCommission(units, perUnit float64) float64 {
	return units * perUnit
}

// money rounds a float amount into the ledger's fixed precision
func money(x float64) decimal.Decimal {
	return decimal.NewFromFloat(x).Round(moneyPlaces)
}
