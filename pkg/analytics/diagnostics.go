package analytics

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// EquitySnapshot is one point of the realized equity curve
type EquitySnapshot struct {
	Time     time.Time
	Equity   decimal.Decimal // cumulative realized P&L, starts at 0
	Exposure float64         // open notional at entry prices
}

// Diagnostics collects the counters of one simulation run
type Diagnostics struct {
	Bars            int
	Swings          int
	Plans           int
	InvalidPlans    int
	PositionsOpened int
	Filled          int
	Rejections      map[string]int
	Cancellations   map[string]int

	// first few invalid plan messages, for the report
	InvalidSamples []string
}

const maxInvalidSamples = 20

// NewDiagnostics creates empty counters
func NewDiagnostics() *Diagnostics {
	return &Diagnostics{
		Rejections:    make(map[string]int),
		Cancellations: make(map[string]int),
	}
}

// Reject counts a gate rejection
func (d *Diagnostics) Reject(reason string) {
	d.Rejections[reason]++
}

// Cancel counts a cancelled pending order
func (d *Diagnostics) Cancel(reason string) {
	d.Cancellations[reason]++
}

// Invalid counts an invalid plan and keeps its message
func (d *Diagnostics) Invalid(msg string) {
	d.InvalidPlans++
	if len(d.InvalidSamples) < maxInvalidSamples {
		d.InvalidSamples = append(d.InvalidSamples, msg)
	}
}

// Count is a named counter
type Count struct {
	Name  string
	Count int
}

// Sorted returns the counters of m ordered by name
func Sorted(m map[string]int) []Count {
	out := make([]Count, 0, len(m))
	for k, v := range m {
		out = append(out, Count{Name: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}
