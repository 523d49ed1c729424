package strategy

import (
	"fmt"
	"time"
)

// InvalidPlanError reports a numerically degenerate plan. The swing is skipped
// and the run continues.
type InvalidPlanError struct {
	SwingTime time.Time
	Side      Side
	Reason    string
}

func (e *InvalidPlanError) Error() string {
	return fmt.Sprintf("invalid %s plan for swing confirmed at %s: %s",
		e.Side, e.SwingTime.UTC().Format(time.RFC3339), e.Reason)
}
