package risk

import (
	"fmt"
	"math"
)

// CalculatePositionSize calculates the quantity to trade based on risk
// riskAmount: account currency to lose if the stop is hit (e.g. 100 for 1% of 10k)
// entryPrice: entry price of the trade
// stopPrice: stop loss price
// step: quantity increment; the size is rounded down to it (0 = no rounding)
// maxQuantity: cap on the size (0 = no cap)
func CalculatePositionSize(riskAmount, entryPrice, stopPrice, step, maxQuantity float64) (float64, error) {
	if entryPrice <= 0 {
		return 0, fmt.Errorf("entry price must be > 0")
	}

	if stopPrice <= 0 {
		return 0, fmt.Errorf("stop price must be > 0")
	}

	if riskAmount <= 0 {
		return 0, fmt.Errorf("risk amount must be > 0")
	}

	// Same formula for longs and shorts
	riskPerUnit := math.Abs(entryPrice - stopPrice)
	if riskPerUnit == 0 {
		return 0, fmt.Errorf("entry and stop prices cannot be the same")
	}

	quantity := riskAmount / riskPerUnit

	if maxQuantity > 0 && quantity > maxQuantity {
		quantity = maxQuantity
	}

	if step > 0 {
		quantity = math.Floor(quantity/step) * step
		// Must be at least one step
		if quantity < step {
			quantity = step
		}
	}

	return quantity, nil
}
