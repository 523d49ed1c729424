package strategy

import (
	"time"

	"github.com/fibswing-backtest/pkg/config"
	"github.com/shopspring/decimal"
)

// remainingEpsilon absorbs float drift when fractions are subtracted
const remainingEpsilon = 1e-12

// EventKind names a position transition
type EventKind string

const (
	EventFilled    EventKind = "FILLED"
	EventStage     EventKind = "STAGE"
	EventClosed    EventKind = "CLOSED"
	EventCancelled EventKind = "CANCELLED"
)

// Event describes one transition of a position. PnL is the equity change it causes.
type Event struct {
	Kind     EventKind
	Time     time.Time
	Status   Status
	Price    float64
	Fraction float64 // of the original size
	Stage    int     // 1-based, for stage events
	Reason   ExitReason
	PnL      decimal.Decimal
}

// Position is the mutable state of one plan from creation to CLOSED or CANCELLED.
// It is owned by a single simulation run.
type Position struct {
	ID       string
	Plan     TradePlan
	Stages   []config.Stage
	Rules    config.ManagementConfig
	Quantity float64

	Status     Status
	Remaining  float64 // fraction of Quantity still open
	StageIndex int     // next stage to execute
	StopLoss   float64

	CreatedIndex int
	CreatedTime  time.Time
	FillIndex    int
	FillTime     time.Time
	ExitTime     time.Time
	Reason       ExitReason

	Realized   decimal.Decimal
	Commission decimal.Decimal

	commissionPerUnit float64
	stopReason        ExitReason
	trailing          bool
	trailOffset       float64
	bestPrice         float64
	armed             bool
	lastClose         float64
	barsPending       int
	barsHeld          int
	fills             []StageFill
	exitNotional      float64
	closedFraction    float64
}

// NewPosition creates a PENDING position for plan, placed on the close of bar createdIndex
func NewPosition(id string, plan TradePlan, stages []config.Stage, rules config.ManagementConfig,
	quantity, commissionPerUnit float64, createdIndex int, placed Bar) *Position {
	return &Position{
		ID:                id,
		Plan:              plan,
		Stages:            stages,
		Rules:             rules,
		Quantity:          quantity,
		Status:            StatusPending,
		Remaining:         1,
		StopLoss:          plan.StopLoss,
		CreatedIndex:      createdIndex,
		CreatedTime:       placed.Time,
		FillIndex:         -1,
		lastClose:         placed.Close,
		commissionPerUnit: commissionPerUnit,
		stopReason:        ExitReasonStopLoss,
	}
}

// Active reports a pending or filled position
func (p *Position) Active() bool {
	return !p.Status.Terminal()
}

// InMarket reports a filled position with size left
func (p *Position) InMarket() bool {
	return p.Status == StatusOpen || p.Status == StatusPartiallyClosed
}

// Exposure returns the open notional at entry price
func (p *Position) Exposure() float64 {
	if !p.InMarket() {
		return 0
	}
	return p.Remaining * p.Quantity * p.Plan.Entry
}

// Advance applies bar i to the position. Checks run highest priority first:
// cancellation, fill, stop-loss, take-profit stages, timeout. A stop moved by a
// stage takes effect from the next bar.
func (p *Position) Advance(i int, bar Bar) []Event {
	switch p.Status {
	case StatusPending:
		return p.advancePending(i, bar)
	case StatusOpen, StatusPartiallyClosed:
		return p.advanceOpen(bar)
	}
	return nil
}

func (p *Position) advancePending(i int, bar Bar) []Event {
	p.barsPending++
	plan := p.Plan
	prevClose := p.lastClose
	p.lastClose = bar.Close

	if p.Rules.PendingExpiryBars > 0 && p.barsPending > p.Rules.PendingExpiryBars {
		return p.cancel(bar.Time, CancelReasonExpired)
	}

	if !crosses(bar, plan.Entry) {
		if gappedThrough(plan.Side, prevClose, bar, plan.Entry) {
			return p.cancel(bar.Time, CancelReasonGapped)
		}
		if breachedZone(plan, prevClose, bar) {
			return p.cancel(bar.Time, CancelReasonZoneBreached)
		}
		if p.Rules.CancelOnTargetRun && isTargetHit(plan.Side, bar, plan.Targets[0]) {
			return p.cancel(bar.Time, CancelReasonTargetRun)
		}
		if p.Rules.RequireSecondTouch && crosses(bar, plan.Zone.Lower) {
			p.armed = true
		}
		return nil
	}

	// the first touch of the zone only arms the order
	if p.Rules.RequireSecondTouch && !p.armed {
		p.armed = true
		return nil
	}

	p.Status = StatusOpen
	p.FillIndex = i
	p.FillTime = bar.Time
	p.bestPrice = plan.Entry

	entryCommission := money(CalculateCommission(p.Quantity, p.commissionPerUnit))
	p.Commission = p.Commission.Add(entryCommission)
	p.Realized = p.Realized.Sub(entryCommission)

	return []Event{{
		Kind:     EventFilled,
		Time:     bar.Time,
		Status:   p.Status,
		Price:    plan.Entry,
		Fraction: 1,
		PnL:      entryCommission.Neg(),
	}}
}

func (p *Position) advanceOpen(bar Bar) []Event {
	p.barsHeld++
	plan := p.Plan

	// stop-loss first: when stop and target share a bar the stop wins
	if isStopLossHit(plan.Side, bar, p.StopLoss) {
		return []Event{p.close(bar.Time, p.StopLoss, p.stopReason)}
	}

	var events []Event
	for p.StageIndex < len(plan.Targets) && isTargetHit(plan.Side, bar, plan.Targets[p.StageIndex]) {
		events = append(events, p.executeStage(bar.Time))
		if p.Status == StatusClosed {
			return events
		}
	}

	if p.Rules.TimeoutBars > 0 && p.barsHeld >= p.Rules.TimeoutBars {
		return append(events, p.close(bar.Time, bar.Close, ExitReasonTimeout))
	}

	if p.trailing {
		p.updateTrailingStop(bar)
	}
	return events
}

// executeStage closes the configured fraction at the next target and applies its stop rule
func (p *Position) executeStage(t time.Time) Event {
	k := p.StageIndex
	stage := p.Stages[k]
	level := p.Plan.Targets[k]
	final := k == len(p.Plan.Targets)-1

	fraction := p.Remaining * stage.CloseFraction
	if final || p.Remaining-fraction <= remainingEpsilon {
		fraction = p.Remaining
	}

	pnl := p.realize(t, level, fraction)
	p.StageIndex++
	p.fills = append(p.fills, StageFill{
		Stage:    k + 1,
		Time:     t,
		Price:    level,
		Fraction: fraction,
		PnL:      pnl,
	})

	if p.Remaining <= remainingEpsilon {
		p.Remaining = 0
		p.Status = StatusClosed
		p.ExitTime = t
		p.Reason = ExitReasonTarget
		return Event{Kind: EventClosed, Time: t, Status: p.Status, Price: level, Fraction: fraction,
			Stage: k + 1, Reason: p.Reason, PnL: pnl}
	}

	p.Status = StatusPartiallyClosed
	p.applyStopRule(stage.Stop, k, level)
	return Event{Kind: EventStage, Time: t, Status: p.Status, Price: level, Fraction: fraction,
		Stage: k + 1, Reason: ExitReasonTarget, PnL: pnl}
}

func (p *Position) applyStopRule(rule config.StopRule, k int, level float64) {
	if rule.Kind == config.StopTrail {
		p.trailing = true
		p.trailOffset = rule.Offset
		if tighter(p.Plan.Side, level, p.bestPrice) {
			p.bestPrice = level
		}
	}
	candidate, reason, ok := stopCandidate(rule, p.Plan, k, p.bestPrice)
	if ok && tighter(p.Plan.Side, candidate, p.StopLoss) {
		p.StopLoss = candidate
		p.stopReason = reason
	}
}

// updateTrailingStop ratchets the stop behind the best price seen so far
func (p *Position) updateTrailingStop(bar Bar) {
	best := bar.High
	if p.Plan.Side == Sell {
		best = bar.Low
	}
	if tighter(p.Plan.Side, best, p.bestPrice) {
		p.bestPrice = best
	}
	candidate := p.bestPrice - p.Plan.Side.sign()*p.trailOffset
	if tighter(p.Plan.Side, candidate, p.StopLoss) {
		p.StopLoss = candidate
		p.stopReason = ExitReasonTrailingStop
	}
}

// Finish settles the position on the last bar of the stream
func (p *Position) Finish(bar Bar) []Event {
	switch p.Status {
	case StatusPending:
		return p.cancel(bar.Time, CancelReasonEndOfData)
	case StatusOpen, StatusPartiallyClosed:
		return []Event{p.close(bar.Time, bar.Close, ExitReasonEndOfData)}
	}
	return nil
}

func (p *Position) cancel(t time.Time, reason ExitReason) []Event {
	p.Status = StatusCancelled
	p.ExitTime = t
	p.Reason = reason
	return []Event{{Kind: EventCancelled, Time: t, Status: p.Status, Reason: reason, PnL: decimal.Zero}}
}

// close exits everything that remains at price
func (p *Position) close(t time.Time, price float64, reason ExitReason) Event {
	fraction := p.Remaining
	pnl := p.realize(t, price, fraction)
	p.Remaining = 0
	p.Status = StatusClosed
	p.ExitTime = t
	p.Reason = reason
	return Event{Kind: EventClosed, Time: t, Status: p.Status, Price: price, Fraction: fraction,
		Reason: reason, PnL: pnl}
}

// realize books P&L for closing fraction of the original size at price
func (p *Position) realize(t time.Time, price, fraction float64) decimal.Decimal {
	units := fraction * p.Quantity
	gross := CalculatePnL(p.Plan.Side, p.Plan.Entry, price, units)
	commission := money(CalculateCommission(units, p.commissionPerUnit))
	pnl := money(gross).Sub(commission)

	p.Realized = p.Realized.Add(pnl)
	p.Commission = p.Commission.Add(commission)
	p.Remaining -= fraction
	if p.Remaining < remainingEpsilon {
		p.Remaining = 0
	}
	p.exitNotional += price * fraction
	p.closedFraction += fraction
	return pnl
}

// Trade returns the finalized record. It is only meaningful once the position is terminal.
func (p *Position) Trade() Trade {
	t := Trade{
		ID:         p.ID,
		Side:       p.Plan.Side,
		Status:     p.Status,
		SetupTime:  p.CreatedTime,
		EntryTime:  p.FillTime,
		ExitTime:   p.ExitTime,
		EntryPrice: p.Plan.Entry,
		StopLoss:   p.Plan.StopLoss,
		Targets:    append([]float64(nil), p.Plan.Targets...),
		Quantity:   p.Quantity,
		Stages:     append([]StageFill(nil), p.fills...),
		Reason:     p.Reason,
		PnL:        p.Realized,
		Commission: p.Commission,
		BarsHeld:   p.barsHeld,
	}
	if p.closedFraction > 0 {
		t.ExitPrice = p.exitNotional / p.closedFraction
		if risk := p.Plan.Risk(); risk > 0 {
			t.RMultiple = (t.ExitPrice - p.Plan.Entry) * p.Plan.Side.sign() / risk
		}
	}
	return t
}
