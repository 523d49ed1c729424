package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fibswing-backtest/pkg/config"
)

func ohlc(i int, open, high, low, close float64) Bar {
	b := candle(i, open, close)
	b.High, b.Low = high, low
	return b
}

// buyPlan is a BUY at 100 with the stop at 98 and the given targets
func buyPlan(targets ...float64) TradePlan {
	return TradePlan{
		Side:       Buy,
		Entry:      100,
		EntryRatio: 0.8,
		StopLoss:   98,
		Targets:    targets,
		Zone:       Zone{Orientation: Ascending, Lower: 101, Upper: 99},
	}
}

var twoStages = []config.Stage{
	{CloseFraction: 0.5, Stop: config.StopRule{Kind: config.StopBreakeven}},
	{CloseFraction: 1, Stop: config.StopRule{Kind: config.StopNone}},
}

// placedAt is the bar a setup was confirmed on, closing at price
func placedAt(price float64) Bar {
	return ohlc(0, price, price, price, price)
}

// newTestPosition places the order while price is still above the entry
func newTestPosition(plan TradePlan, stages []config.Stage, rules config.ManagementConfig) *Position {
	return NewPosition("t-1", plan, stages, rules, 10, 0, 0, placedAt(101))
}

// filled returns a position that filled on bar 0
func filled(t *testing.T, plan TradePlan, stages []config.Stage, rules config.ManagementConfig) *Position {
	t.Helper()
	p := newTestPosition(plan, stages, rules)
	events := p.Advance(0, ohlc(0, 100.5, 101, 99, 100.5))
	if len(events) != 1 || events[0].Kind != EventFilled {
		t.Fatalf("expected fill on bar 0, got %+v", events)
	}
	return p
}

func expectEvent(t *testing.T, events []Event, kind EventKind, reason ExitReason) Event {
	t.Helper()
	if len(events) != 1 {
		t.Fatalf("expected one event, got %+v", events)
	}
	if events[0].Kind != kind || events[0].Reason != reason {
		t.Fatalf("expected %s/%s, got %s/%s", kind, reason, events[0].Kind, events[0].Reason)
	}
	return events[0]
}

func assertPnL(t *testing.T, got decimal.Decimal, want float64) {
	t.Helper()
	if !got.Equal(decimal.NewFromFloat(want)) {
		t.Errorf("expected P&L %v, got %s", want, got)
	}
}

func TestPosition_Fill(t *testing.T) {
	p := filled(t, buyPlan(102, 104), twoStages, config.ManagementConfig{})
	if p.Status != StatusOpen || p.FillIndex != 0 || !p.FillTime.Equal(scenarioStart) {
		t.Errorf("unexpected state after fill: %+v", p)
	}
	if !p.InMarket() || p.Exposure() != 1000 {
		t.Errorf("expected exposure 1000, got %v", p.Exposure())
	}
}

func TestPosition_StopLossBeatsTargetInSameBar(t *testing.T) {
	p := filled(t, buyPlan(102, 104), twoStages, config.ManagementConfig{})
	ev := expectEvent(t, p.Advance(1, ohlc(1, 100, 105, 97, 101)), EventClosed, ExitReasonStopLoss)
	if ev.Price != 98 {
		t.Errorf("expected exit at the stop, got %v", ev.Price)
	}
	assertPnL(t, ev.PnL, -20)
	if tr := p.Trade(); tr.RMultiple != -1 {
		t.Errorf("expected -1R, got %v", tr.RMultiple)
	}
}

func TestPosition_SellStopLoss(t *testing.T) {
	plan := TradePlan{Side: Sell, Entry: 100, StopLoss: 102, Targets: []float64{97}}
	stages := []config.Stage{{CloseFraction: 1}}
	p := NewPosition("s-1", plan, stages, config.ManagementConfig{}, 10, 0, 0, placedAt(99))
	expectEvent(t, p.Advance(0, ohlc(0, 99.5, 100.5, 99, 99.5)), EventFilled, "")
	ev := expectEvent(t, p.Advance(1, ohlc(1, 100, 102.5, 96, 99)), EventClosed, ExitReasonStopLoss)
	assertPnL(t, ev.PnL, -20)
}

func TestPosition_PendingCancellations(t *testing.T) {
	tests := []struct {
		name   string
		rules  config.ManagementConfig
		bars   []Bar
		reason ExitReason
	}{
		{
			name:   "gapped through entry",
			bars:   []Bar{ohlc(0, 99.5, 99.8, 99, 99.2)},
			reason: CancelReasonGapped,
		},
		{
			name:  "expired",
			rules: config.ManagementConfig{PendingExpiryBars: 2},
			bars: []Bar{
				ohlc(0, 101, 101.5, 100.5, 101),
				ohlc(1, 101, 101.5, 100.5, 101),
				ohlc(2, 101, 101.5, 100.5, 101),
			},
			reason: CancelReasonExpired,
		},
		{
			name:   "target run before fill",
			rules:  config.ManagementConfig{CancelOnTargetRun: true},
			bars:   []Bar{ohlc(0, 101, 103, 100.5, 102.5)},
			reason: CancelReasonTargetRun,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPosition(buyPlan(102, 104), twoStages, tt.rules)
			last := len(tt.bars) - 1
			for i, bar := range tt.bars[:last] {
				if events := p.Advance(i, bar); len(events) != 0 {
					t.Fatalf("bar %d: unexpected events %+v", i, events)
				}
			}
			ev := expectEvent(t, p.Advance(last, tt.bars[last]), EventCancelled, tt.reason)
			if !ev.PnL.IsZero() || p.Status != StatusCancelled || p.Active() {
				t.Errorf("cancelled position should be terminal with zero P&L: %+v", p)
			}
			if tr := p.Trade(); tr.Filled() || !tr.PnL.IsZero() {
				t.Errorf("unexpected trade %+v", tr)
			}
		})
	}
}

func TestPosition_PendingInvalidation(t *testing.T) {
	tests := []struct {
		name   string
		plan   TradePlan
		placed float64
		bars   []Bar
		reason ExitReason
	}{
		{
			name:   "closed below the zone from inside it",
			plan:   buyPlan(102, 104),
			placed: 99.5,
			bars:   []Bar{ohlc(0, 99.5, 99.6, 98.6, 98.8)},
			reason: CancelReasonZoneBreached,
		},
		{
			name:   "traded through the stop before filling",
			plan:   buyPlan(102, 104),
			placed: 98.5,
			bars:   []Bar{ohlc(0, 98.5, 98.9, 97.5, 98.6)},
			reason: CancelReasonZoneBreached,
		},
		{
			name:   "sell gapped up through the entry",
			plan:   TradePlan{Side: Sell, Entry: 100, StopLoss: 102, Targets: []float64{97}},
			placed: 99,
			bars:   []Bar{ohlc(0, 100.5, 101, 100.2, 100.8)},
			reason: CancelReasonGapped,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPosition("t-1", tt.plan, twoStages[:len(tt.plan.Targets)], config.ManagementConfig{}, 10, 0, 0, placedAt(tt.placed))
			expectEvent(t, p.Advance(0, tt.bars[0]), EventCancelled, tt.reason)
		})
	}
}

func TestPosition_DeepPullbackWaitsForEntry(t *testing.T) {
	// a 40 point pullback confirmed 6 points off its low leaves price inside
	// the zone, below the entry
	swing := upSwing(150, 110)
	zone, err := BuildZone(swing, config.ZoneConfig{RatioLow: 0.705, RatioHigh: 0.9})
	if err != nil {
		t.Fatal(err)
	}
	plan, err := BuildPlan(zone, config.PlanConfig{MinStopDistance: 2, RiskRewards: []float64{1.2}}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !near(plan.Entry, 117.9) || !zone.Contains(116) {
		t.Fatalf("unexpected plan %+v", plan)
	}

	rules := config.ManagementConfig{PendingExpiryBars: 100, CancelOnTargetRun: true}
	stages := []config.Stage{{CloseFraction: 1}}
	p := NewPosition("d-1", plan, stages, rules, 10, 0, 95, ohlc(95, 115, 116, 115, 116))

	if events := p.Advance(96, ohlc(96, 116, 117, 116, 117)); len(events) != 0 {
		t.Fatalf("price rising inside the zone must not cancel, got %+v", events)
	}
	expectEvent(t, p.Advance(97, ohlc(97, 117, 118, 117, 118)), EventFilled, "")
	if p.FillIndex != 97 {
		t.Errorf("expected fill on bar 97, got %d", p.FillIndex)
	}
}

func TestPosition_TargetRunIgnoredWhenDisabled(t *testing.T) {
	p := newTestPosition(buyPlan(102, 104), twoStages, config.ManagementConfig{})
	if events := p.Advance(0, ohlc(0, 101, 103, 100.5, 102.5)); len(events) != 0 {
		t.Fatalf("expected the order to stay pending, got %+v", events)
	}
	if p.Status != StatusPending {
		t.Errorf("expected PENDING, got %s", p.Status)
	}
}

func TestPosition_SecondTouch(t *testing.T) {
	p := newTestPosition(buyPlan(102, 104), twoStages, config.ManagementConfig{RequireSecondTouch: true})
	touch := ohlc(0, 100.5, 101, 99.5, 100.5)
	if events := p.Advance(0, touch); len(events) != 0 {
		t.Fatalf("first touch should only arm the order, got %+v", events)
	}
	touch.Time = touch.Time.Add(time.Minute)
	expectEvent(t, p.Advance(1, touch), EventFilled, "")
	if p.FillIndex != 1 {
		t.Errorf("expected fill on bar 1, got %d", p.FillIndex)
	}
}

func TestPosition_StagedBreakeven(t *testing.T) {
	p := filled(t, buyPlan(102, 104), twoStages, config.ManagementConfig{})

	ev := expectEvent(t, p.Advance(1, ohlc(1, 101, 102.5, 100.5, 102)), EventStage, ExitReasonTarget)
	if ev.Stage != 1 || ev.Fraction != 0.5 {
		t.Errorf("unexpected stage event %+v", ev)
	}
	assertPnL(t, ev.PnL, 10)
	if p.Status != StatusPartiallyClosed || p.StopLoss != 100 {
		t.Fatalf("expected stop at breakeven, got %s stop %v", p.Status, p.StopLoss)
	}

	ev = expectEvent(t, p.Advance(2, ohlc(2, 101, 101, 99.5, 100)), EventClosed, ExitReasonBreakeven)
	assertPnL(t, ev.PnL, 0)

	tr := p.Trade()
	assertPnL(t, tr.PnL, 10)
	if tr.StagesExecuted() != 1 || tr.ExitPrice != 101 || tr.RMultiple != 0.5 {
		t.Errorf("unexpected trade %+v", tr)
	}
	if tr.StopLoss != 98 {
		t.Errorf("trade should keep the initial stop, got %v", tr.StopLoss)
	}
}

func TestPosition_StopMoveAppliesFromNextBar(t *testing.T) {
	p := filled(t, buyPlan(102, 104), twoStages, config.ManagementConfig{})
	// reaches the first target and trades back below entry in the same bar
	expectEvent(t, p.Advance(1, ohlc(1, 100.5, 102.5, 99.5, 100)), EventStage, ExitReasonTarget)
	if p.Status != StatusPartiallyClosed {
		t.Fatalf("new stop must not fire on the bar that moved it, got %s", p.Status)
	}
	expectEvent(t, p.Advance(2, ohlc(2, 100, 100.5, 99.5, 99.8)), EventClosed, ExitReasonBreakeven)
}

func TestPosition_AllTargetsInOneBar(t *testing.T) {
	p := filled(t, buyPlan(102, 104), twoStages, config.ManagementConfig{})
	events := p.Advance(1, ohlc(1, 101, 105, 100.5, 104.5))
	if len(events) != 2 {
		t.Fatalf("expected two events, got %+v", events)
	}
	if events[0].Kind != EventStage || events[0].Stage != 1 {
		t.Errorf("expected stage 1 first, got %+v", events[0])
	}
	if events[1].Kind != EventClosed || events[1].Stage != 2 || events[1].Reason != ExitReasonTarget {
		t.Errorf("expected closing stage 2, got %+v", events[1])
	}
	assertPnL(t, p.Realized, 30)
	if p.Remaining != 0 {
		t.Errorf("expected nothing left, got %v", p.Remaining)
	}
}

func TestPosition_TrailingStop(t *testing.T) {
	stages := []config.Stage{
		{CloseFraction: 0.5, Stop: config.StopRule{Kind: config.StopTrail, Offset: 1}},
		{CloseFraction: 1, Stop: config.StopRule{Kind: config.StopNone}},
	}
	p := filled(t, buyPlan(102, 110), stages, config.ManagementConfig{})

	expectEvent(t, p.Advance(1, ohlc(1, 101, 102.5, 100.5, 102)), EventStage, ExitReasonTarget)
	if p.StopLoss != 101.5 {
		t.Fatalf("expected stop to trail the bar high to 101.5, got %v", p.StopLoss)
	}

	if events := p.Advance(2, ohlc(2, 102.5, 105, 102, 104.8)); len(events) != 0 {
		t.Fatalf("unexpected events %+v", events)
	}
	if p.StopLoss != 104 {
		t.Fatalf("expected stop at 104, got %v", p.StopLoss)
	}

	ev := expectEvent(t, p.Advance(3, ohlc(3, 104.5, 104.5, 103.5, 103.8)), EventClosed, ExitReasonTrailingStop)
	if ev.Price != 104 {
		t.Errorf("expected exit at 104, got %v", ev.Price)
	}
	assertPnL(t, p.Realized, 30)
}

func TestPosition_TrailNeverLoosens(t *testing.T) {
	stages := []config.Stage{
		{CloseFraction: 0.5, Stop: config.StopRule{Kind: config.StopTrail, Offset: 1}},
		{CloseFraction: 1, Stop: config.StopRule{Kind: config.StopNone}},
	}
	p := filled(t, buyPlan(102, 110), stages, config.ManagementConfig{})
	p.Advance(1, ohlc(1, 101, 104, 101, 103.5))
	stop := p.StopLoss
	p.Advance(2, ohlc(2, 103.5, 103.6, 103.2, 103.4))
	if p.StopLoss != stop {
		t.Errorf("stop moved from %v to %v on a lower high", stop, p.StopLoss)
	}
}

func TestPosition_PriorTargetStop(t *testing.T) {
	stages := []config.Stage{
		{CloseFraction: 0.5, Stop: config.StopRule{Kind: config.StopNone}},
		{CloseFraction: 0.5, Stop: config.StopRule{Kind: config.StopPriorTarget}},
		{CloseFraction: 1, Stop: config.StopRule{Kind: config.StopNone}},
	}
	p := filled(t, buyPlan(102, 104, 106), stages, config.ManagementConfig{})
	p.Advance(1, ohlc(1, 101, 102.5, 100.5, 102))
	if p.StopLoss != 98 {
		t.Fatalf("stage without a stop rule moved the stop to %v", p.StopLoss)
	}
	p.Advance(2, ohlc(2, 102, 104.5, 101.5, 104))
	if p.StopLoss != 102 {
		t.Fatalf("expected stop at the first target, got %v", p.StopLoss)
	}
	expectEvent(t, p.Advance(3, ohlc(3, 103, 103.5, 101.5, 102)), EventClosed, ExitReasonBreakeven)
}

func TestPosition_Timeout(t *testing.T) {
	p := filled(t, buyPlan(102, 104), twoStages, config.ManagementConfig{TimeoutBars: 2})
	if events := p.Advance(1, ohlc(1, 100.5, 101, 99, 100.5)); len(events) != 0 {
		t.Fatalf("unexpected events %+v", events)
	}
	ev := expectEvent(t, p.Advance(2, ohlc(2, 100.5, 101.5, 99.5, 101)), EventClosed, ExitReasonTimeout)
	if ev.Price != 101 {
		t.Errorf("expected exit at the close, got %v", ev.Price)
	}
	assertPnL(t, ev.PnL, 10)
	if p.Trade().BarsHeld != 2 {
		t.Errorf("expected 2 bars held, got %d", p.Trade().BarsHeld)
	}
}

func TestPosition_CommissionBookedAtFill(t *testing.T) {
	p := NewPosition("c-1", buyPlan(102), []config.Stage{{CloseFraction: 1}}, config.ManagementConfig{}, 10, 0.5, 0, placedAt(101))
	ev := expectEvent(t, p.Advance(0, ohlc(0, 100.5, 101, 99, 100.5)), EventFilled, "")
	assertPnL(t, ev.PnL, -5)

	ev = expectEvent(t, p.Advance(1, ohlc(1, 101, 102.5, 100.5, 102)), EventClosed, ExitReasonTarget)
	assertPnL(t, ev.PnL, 15)

	tr := p.Trade()
	assertPnL(t, tr.PnL, 10)
	assertPnL(t, tr.Commission, 10)
}

func TestPosition_Finish(t *testing.T) {
	last := ohlc(5, 100.5, 101.5, 100.5, 101)

	pending := newTestPosition(buyPlan(102, 104), twoStages, config.ManagementConfig{})
	expectEvent(t, pending.Finish(last), EventCancelled, CancelReasonEndOfData)

	open := filled(t, buyPlan(102, 104), twoStages, config.ManagementConfig{})
	ev := expectEvent(t, open.Finish(last), EventClosed, ExitReasonEndOfData)
	if ev.Price != 101 {
		t.Errorf("expected exit at the last close, got %v", ev.Price)
	}
	assertPnL(t, ev.PnL, 10)

	if events := open.Finish(last); len(events) != 0 {
		t.Errorf("finished position produced more events: %+v", events)
	}
}

func TestPositionManager_RemoveFinished(t *testing.T) {
	pm := NewPositionManager()
	a := newTestPosition(buyPlan(102, 104), twoStages, config.ManagementConfig{})
	b := filled(t, buyPlan(102, 104), twoStages, config.ManagementConfig{})
	c := newTestPosition(buyPlan(102, 104), twoStages, config.ManagementConfig{})
	pm.Add(a)
	pm.Add(b)
	pm.Add(c)

	a.Finish(ohlc(1, 101, 101, 101, 101))
	c.Finish(ohlc(1, 101, 101, 101, 101))

	done := pm.RemoveFinished()
	if len(done) != 2 || done[0] != a || done[1] != c {
		t.Fatalf("expected a and c in creation order, got %v", done)
	}
	if pm.GetActiveCount() != 1 || pm.GetAllPositions()[0] != b {
		t.Errorf("expected only b to remain")
	}
	if pm.Exposure() != 1000 {
		t.Errorf("expected exposure 1000, got %v", pm.Exposure())
	}
}
