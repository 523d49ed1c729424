package strategy

// CountOppositeCandles returns the weighted number of candles in bars that close
// against dir. The first opposite candle counts 1, every later one counts 2, so a
// pullback of a single red candle never qualifies on its own.
func CountOppositeCandles(bars []Bar, dir Direction) int {
	count := 0
	seen := false
	for _, bar := range bars {
		if !isOpposite(bar, dir) {
			continue
		}
		if seen {
			count += 2
		} else {
			count++
			seen = true
		}
	}
	return count
}

// isOpposite checks if a candle closes against the impulse direction
func isOpposite(bar Bar, dir Direction) bool {
	if dir == Up {
		return bar.IsBearish()
	}
	return bar.IsBullish()
}
