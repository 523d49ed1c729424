package scanner

import (
	"github.com/fibswing-backtest/pkg/strategy"
)

// CheckOverlap checks if a new plan would double up on a zone already being traded.
// Returns true if the position should be allowed, false if it should be rejected.
func CheckOverlap(plan strategy.TradePlan, active []*strategy.Position) bool {
	if len(active) == 0 {
		return true // No existing positions, always allow
	}

	for _, pos := range active {
		if pos.Plan.Side != plan.Side {
			continue
		}
		// Same swing pivot, or bands that share any price
		if pos.Plan.Zone.Swing.HighIndex == plan.Zone.Swing.HighIndex &&
			pos.Plan.Zone.Swing.LowIndex == plan.Zone.Swing.LowIndex {
			return false
		}
		if zonesOverlap(pos.Plan.Zone, plan.Zone) {
			return false
		}
	}

	return true
}

func zonesOverlap(a, b strategy.Zone) bool {
	return a.Bottom() <= b.Top() && b.Bottom() <= a.Top()
}
