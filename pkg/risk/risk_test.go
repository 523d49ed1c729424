package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestCalculatePositionSize(t *testing.T) {
	tests := []struct {
		name    string
		risk    float64
		entry   float64
		stop    float64
		step    float64
		max     float64
		want    float64
		wantErr bool
	}{
		{"long", 100, 100, 98, 0, 0, 50, false},
		{"short", 100, 100, 102, 0, 0, 50, false},
		{"rounded down to step", 100, 100, 97, 1, 0, 33, false},
		{"at least one step", 1, 100, 90, 1, 0, 1, false},
		{"capped", 100, 100, 99, 0, 40, 40, false},
		{"same prices", 100, 100, 100, 0, 0, 0, true},
		{"zero risk", 0, 100, 98, 0, 0, 0, true},
		{"non-positive stop", 100, 1, -1, 0, 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CalculatePositionSize(tt.risk, tt.entry, tt.stop, tt.step, tt.max)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestDailyLimits(t *testing.T) {
	day := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	dl := NewDailyLimits(2, nil)

	for i := 0; i < 2; i++ {
		if !dl.CanTrade(day) {
			t.Fatalf("trade %d should be allowed", i+1)
		}
		dl.RecordTrade(day)
	}
	if dl.CanTrade(day.Add(time.Hour)) {
		t.Error("third trade on the same day should be refused")
	}
	next := day.AddDate(0, 0, 1)
	for i := 0; i < 2; i++ {
		if !dl.CanTrade(next) {
			t.Fatalf("counter should reset on a new day (trade %d)", i+1)
		}
		dl.RecordTrade(next)
	}
}

func TestDailyLimits_Unlimited(t *testing.T) {
	dl := NewDailyLimits(0, nil)
	day := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 100; i++ {
		dl.RecordTrade(day)
	}
	if !dl.CanTrade(day) {
		t.Error("zero limit should never refuse")
	}
}

func TestDailyLimits_Location(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("no tzdata: %v", err)
	}
	dl := NewDailyLimits(1, ny)
	// 03:00 UTC is still the previous evening in New York
	late := time.Date(2024, 3, 2, 3, 0, 0, 0, time.UTC)
	dl.RecordTrade(time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC))
	if dl.CanTrade(late) {
		t.Error("both times fall on 2024-03-01 in New York")
	}
}

func TestAccount(t *testing.T) {
	a := NewAccount(10000, 0.01)
	if a.RiskAmount() != 100 {
		t.Errorf("expected risk 100, got %v", a.RiskAmount())
	}
	a.Apply(decimal.NewFromFloat(120.5))
	a.Apply(decimal.NewFromFloat(-20.25))
	if !a.Equity().Equal(decimal.NewFromFloat(100.25)) {
		t.Errorf("unexpected equity %s", a.Equity())
	}
	if !a.Balance().Equal(decimal.NewFromFloat(10100.25)) {
		t.Errorf("unexpected balance %s", a.Balance())
	}
	// sizing does not compound
	if a.RiskAmount() != 100 {
		t.Errorf("risk amount changed to %v", a.RiskAmount())
	}
}
