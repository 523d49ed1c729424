package feed

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"
)

// Bar represents a single bar/candlestick
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Source fetches historical minute bars for a symbol over [start, end)
type Source interface {
	FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]Bar, error)
}

// DataFormatError reports a malformed input bar. Row is the 1-based data row
// (the header is not counted); 0 means the problem is with the header.
type DataFormatError struct {
	Source string
	Row    int
	Column string
	Value  string
	Reason string
}

func (e *DataFormatError) Error() string {
	where := "header"
	if e.Row > 0 {
		where = fmt.Sprintf("row %d", e.Row)
	}
	msg := fmt.Sprintf("data format error in %s, %s", e.Source, where)
	if e.Column != "" {
		msg += fmt.Sprintf(", column %q", e.Column)
	}
	if e.Value != "" {
		msg += fmt.Sprintf(" (value %q)", e.Value)
	}
	return msg + ": " + e.Reason
}

// ValidateBars checks the candle contract: strictly increasing timestamps,
// positive prices, non-negative volume and low <= open,close <= high.
func ValidateBars(source string, bars []Bar) error {
	for i, b := range bars {
		row := i + 1
		fail := func(column, reason string, value float64) error {
			return &DataFormatError{
				Source: source,
				Row:    row,
				Column: column,
				Value:  fmt.Sprintf("%g", value),
				Reason: reason,
			}
		}

		for _, f := range []struct {
			name  string
			value float64
		}{{"open", b.Open}, {"high", b.High}, {"low", b.Low}, {"close", b.Close}} {
			if !(f.value > 0) || math.IsInf(f.value, 0) {
				return fail(f.name, "price must be a positive number", f.value)
			}
		}
		if b.Volume < 0 || math.IsNaN(b.Volume) || math.IsInf(b.Volume, 0) {
			return fail("volume", "volume must be non-negative", b.Volume)
		}
		if b.Low > math.Min(b.Open, b.Close) {
			return fail("low", "low is above open/close", b.Low)
		}
		if b.High < math.Max(b.Open, b.Close) {
			return fail("high", "high is below open/close", b.High)
		}
		if i > 0 && !b.Time.After(bars[i-1].Time) {
			return &DataFormatError{
				Source: source,
				Row:    row,
				Column: "timestamp",
				Value:  b.Time.UTC().Format(time.RFC3339),
				Reason: "timestamps must be strictly increasing",
			}
		}
	}
	return nil
}

// Normalize sorts downloaded bars, drops repeated timestamps (keeping the first)
// and validates the result.
func Normalize(source string, bars []Bar) ([]Bar, error) {
	out := make([]Bar, len(bars))
	copy(out, bars)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Time.Before(out[j].Time)
	})

	deduped := out[:0]
	for i, b := range out {
		if i > 0 && b.Time.Equal(deduped[len(deduped)-1].Time) {
			continue
		}
		deduped = append(deduped, b)
	}

	if err := ValidateBars(source, deduped); err != nil {
		return nil, err
	}
	return deduped, nil
}
