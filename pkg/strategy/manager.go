package strategy

// PositionManager keeps the live positions of one run in creation order.
// Iteration order is deterministic.
type PositionManager struct {
	positions []*Position
}

// NewPositionManager creates a new position manager
func NewPositionManager() *PositionManager {
	return &PositionManager{}
}

// Add registers a new position
func (pm *PositionManager) Add(position *Position) {
	pm.positions = append(pm.positions, position)
}

// GetAllPositions returns the live positions in creation order
func (pm *PositionManager) GetAllPositions() []*Position {
	return pm.positions
}

// GetActiveCount returns the number of pending or filled positions
func (pm *PositionManager) GetActiveCount() int {
	count := 0
	for _, p := range pm.positions {
		if p.Active() {
			count++
		}
	}
	return count
}

// Exposure returns the open notional across positions
func (pm *PositionManager) Exposure() float64 {
	total := 0.0
	for _, p := range pm.positions {
		total += p.Exposure()
	}
	return total
}

// RemoveFinished drops terminal positions and returns them in creation order
func (pm *PositionManager) RemoveFinished() []*Position {
	var done []*Position
	kept := pm.positions[:0]
	for _, p := range pm.positions {
		if p.Active() {
			kept = append(kept, p)
		} else {
			done = append(done, p)
		}
	}
	// clear the tail so finished positions can be collected
	for i := len(kept); i < len(pm.positions); i++ {
		pm.positions[i] = nil
	}
	pm.positions = kept
	return done
}
