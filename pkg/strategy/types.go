package strategy

import (
	"time"

	"github.com/shopspring/decimal"
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

// IsBullish reports a green candle
func (b Bar) IsBullish() bool { return b.Close > b.Open }

// IsBearish reports a red candle
func (b Bar) IsBearish() bool { return b.Close < b.Open }

// Direction of a leg
type Direction string

const (
	Up   Direction = "UP"
	Down Direction = "DOWN"
)

// Side of a trade plan
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// sign is +1 for BUY and -1 for SELL
func (s Side) sign() float64 {
	if s == Sell {
		return -1
	}
	return 1
}

// Leg is a directional move between two pivots
type Leg struct {
	Direction    Direction
	StartIndex   int
	StartPrice   float64
	EndIndex     int
	EndPrice     float64
	ConfirmIndex int // bar on which the reversal away from EndPrice was confirmed
}

// Amplitude returns the absolute size of the leg
func (l Leg) Amplitude() float64 {
	if l.EndPrice > l.StartPrice {
		return l.EndPrice - l.StartPrice
	}
	return l.StartPrice - l.EndPrice
}

// Swing is a confirmed pivot pair bounding the pullback that followed an impulse.
// Direction is the impulse direction: UP swings produce BUY plans.
type Swing struct {
	Direction    Direction
	High         float64
	HighIndex    int
	Low          float64
	LowIndex     int
	Impulse      Leg
	Pullback     Leg
	ConfirmIndex int
	ConfirmTime  time.Time
}

// Status of a position
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusOpen            Status = "OPEN"
	StatusPartiallyClosed Status = "PARTIALLY_CLOSED"
	StatusClosed          Status = "CLOSED"
	StatusCancelled       Status = "CANCELLED"
)

// Terminal reports whether no further transitions are possible
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusCancelled
}

// ExitReason represents why a position was closed or cancelled
type ExitReason string

const (
	ExitReasonStopLoss     ExitReason = "STOP_LOSS"
	ExitReasonBreakeven    ExitReason = "BREAKEVEN"
	ExitReasonTrailingStop ExitReason = "TRAILING_STOP"
	ExitReasonTarget       ExitReason = "TAKE_PROFIT"
	ExitReasonTimeout      ExitReason = "TIMEOUT"
	ExitReasonEndOfData    ExitReason = "END_OF_DATA"

	CancelReasonExpired      ExitReason = "EXPIRED"
	CancelReasonGapped       ExitReason = "GAPPED_THROUGH_ENTRY"
	CancelReasonZoneBreached ExitReason = "ZONE_BREACHED"
	CancelReasonTargetRun    ExitReason = "TARGET_RUN_BEFORE_FILL"
	CancelReasonEndOfData    ExitReason = "NOT_FILLED_END_OF_DATA"
)

// StageFill records one executed take-profit stage
type StageFill struct {
	Stage    int // 1-based
	Time     time.Time
	Price    float64
	Fraction float64 // of the original size
	PnL      decimal.Decimal
}

// Trade represents a finalized position. It is never mutated after creation.
type Trade struct {
	ID         string
	Side       Side
	Status     Status
	SetupTime  time.Time
	EntryTime  time.Time
	ExitTime   time.Time
	EntryPrice float64
	ExitPrice  float64 // size-weighted average over all exits
	StopLoss   float64 // initial stop
	Targets    []float64
	Quantity   float64
	Stages     []StageFill
	Reason     ExitReason
	PnL        decimal.Decimal // net of commission
	Commission decimal.Decimal
	RMultiple  float64
	BarsHeld   int
}

// Filled reports whether the trade ever entered the market
func (t Trade) Filled() bool {
	return t.Status == StatusClosed
}

// Duration returns time from fill to final exit
func (t Trade) Duration() time.Duration {
	if !t.Filled() {
		return 0
	}
	return t.ExitTime.Sub(t.EntryTime)
}

// StagesExecuted returns the number of take-profit stages that fired
func (t Trade) StagesExecuted() int {
	return len(t.Stages)
}
