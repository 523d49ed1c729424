package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestValidate_RejectsBadOptions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"ratios reversed", func(c *Config) { c.Zone.RatioLow, c.Zone.RatioHigh = 0.9, 0.705 }, "zone"},
		{"ratio high at one", func(c *Config) { c.Zone.RatioHigh = 1 }, "zone"},
		{"zero point size", func(c *Config) { c.Swing.PointSize = 0 }, "swing.point_size"},
		{"zero leg size", func(c *Config) { c.Swing.MinLegSize = 0 }, "swing.min_leg_size"},
		{"atr without period", func(c *Config) { c.Swing.MinLegATR = 1.5; c.Swing.ATRPeriod = 0 }, "swing.atr_period"},
		{"entry outside zone", func(c *Config) { c.Plan.EntryRatio = 0.5 }, "plan.entry_ratio"},
		{"no targets", func(c *Config) { c.Plan.RiskRewards = nil }, "plan.risk_rewards"},
		{"targets not increasing", func(c *Config) {
			c.Plan.RiskRewards = []float64{2, 1}
			c.Stages = []Stage{{CloseFraction: 0.5}, {CloseFraction: 1}}
		}, "plan.risk_rewards"},
		{"stage count mismatch", func(c *Config) { c.Plan.RiskRewards = []float64{1, 2} }, "stages"},
		{"zero concurrency", func(c *Config) { c.Run.MaxConcurrent = 0 }, "run.max_concurrent"},
		{"risk above one", func(c *Config) { c.Run.RiskPct = 1.5 }, "run.risk_pct"},
		{"bad session clock", func(c *Config) {
			c.Run.Session.Enabled = true
			c.Run.Session.Start = "9am"
		}, "run.session.start"},
		{"negative timeout", func(c *Config) { c.Management.TimeoutBars = -1 }, "management.timeout_bars"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected *ConfigurationError, got %v", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("expected field %q, got %q (%v)", tt.field, cfgErr.Field, err)
			}
		})
	}
}

func TestParseStages(t *testing.T) {
	stages, err := ParseStages("0.5:breakeven, 0.5:trail:0.0005 ,1:none")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Stage{
		{CloseFraction: 0.5, Stop: StopRule{Kind: StopBreakeven}},
		{CloseFraction: 0.5, Stop: StopRule{Kind: StopTrail, Offset: 0.0005}},
		{CloseFraction: 1, Stop: StopRule{Kind: StopNone}},
	}
	if len(stages) != len(want) {
		t.Fatalf("expected %d stages, got %d", len(want), len(stages))
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Errorf("stage %d: expected %+v, got %+v", i, want[i], stages[i])
		}
	}
	if got := FormatStages(stages); got != "0.5:breakeven,0.5:trail:0.0005,1:none" {
		t.Errorf("unexpected formatting %q", got)
	}
}

func TestValidateStages(t *testing.T) {
	tests := []struct {
		name    string
		stages  string
		targets int
		ok      bool
	}{
		{"single full close", "1:none", 1, true},
		{"two stages", "0.5:breakeven,1:none", 2, true},
		{"unknown rule", "1:moon", 1, false},
		{"trail without offset", "0.5:trail,1:none", 2, false},
		{"fraction above one", "1.5:none", 1, false},
		{"too few stages", "1:none", 2, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stages, err := ParseStages(tt.stages)
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			err = ValidateStages(stages, tt.targets)
			if tt.ok && err != nil {
				t.Errorf("expected valid, got %v", err)
			}
			if !tt.ok && err == nil {
				t.Errorf("expected an error")
			}
		})
	}
}

func TestParseStages_Malformed(t *testing.T) {
	for _, s := range []string{"half:none", "1", "1:trail:x:y", "0.5:trail:abc"} {
		if _, err := ParseStages(s); err == nil {
			t.Errorf("expected error for %q", s)
		}
	}
}

func TestParseSideFilter(t *testing.T) {
	tests := map[string]SideFilter{
		"":          SideBoth,
		"both":      SideBoth,
		"BUY":       SideBuyOnly,
		"sell-only": SideSellOnly,
	}
	for in, want := range tests {
		got, err := ParseSideFilter(in)
		if err != nil {
			t.Fatalf("ParseSideFilter(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseSideFilter(%q) = %q, want %q", in, got, want)
		}
	}
	if _, err := ParseSideFilter("long"); err == nil {
		t.Error("expected error for unknown side")
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Chdir(t.TempDir()) // no stray .env
	t.Setenv("FIBSWING_SWING_MIN_LEG_SIZE", "12")
	t.Setenv("FIBSWING_PLAN_RISK_REWARDS", "1,2.5")
	t.Setenv("FIBSWING_STAGES", "0.5:breakeven,1:none")
	t.Setenv("FIBSWING_RUN_SIDE", "sell")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Swing.MinLegSize != 12 {
		t.Errorf("expected min leg 12, got %g", cfg.Swing.MinLegSize)
	}
	if len(cfg.Plan.RiskRewards) != 2 || cfg.Plan.RiskRewards[1] != 2.5 {
		t.Errorf("unexpected risk rewards %v", cfg.Plan.RiskRewards)
	}
	if len(cfg.Stages) != 2 || cfg.Stages[0].Stop.Kind != StopBreakeven {
		t.Errorf("unexpected stages %+v", cfg.Stages)
	}
	if cfg.Run.Side != SideSellOnly {
		t.Errorf("expected sell filter, got %q", cfg.Run.Side)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config should validate: %v", err)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "fib.yaml")
	yaml := `
symbol: GBPUSD
zone:
  ratio_low: 0.618
  ratio_high: 0.786
plan:
  risk_rewards: [1, 2]
stages:
  - close_fraction: 0.5
    stop:
      kind: breakeven
  - close_fraction: 1
    stop:
      kind: none
run:
  max_concurrent: 3
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Symbol != "GBPUSD" {
		t.Errorf("expected GBPUSD, got %s", cfg.Symbol)
	}
	if cfg.Zone.RatioLow != 0.618 || cfg.Zone.RatioHigh != 0.786 {
		t.Errorf("unexpected zone %+v", cfg.Zone)
	}
	if len(cfg.Stages) != 2 || cfg.Stages[0].CloseFraction != 0.5 || cfg.Stages[0].Stop.Kind != StopBreakeven {
		t.Errorf("unexpected stages %+v", cfg.Stages)
	}
	if cfg.Run.MaxConcurrent != 3 {
		t.Errorf("expected max concurrent 3, got %d", cfg.Run.MaxConcurrent)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config should validate: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestSessionWindow(t *testing.T) {
	w, err := SessionConfig{Start: "22:00", End: "02:30", Timezone: "UTC"}.Window()
	if err != nil {
		t.Fatal(err)
	}
	if w.StartMinute != 22*60 || w.EndMinute != 2*60+30 {
		t.Errorf("unexpected window %+v", w)
	}
	if _, err := (SessionConfig{Start: "09:00", End: "17:00", Timezone: "Mars/Olympus"}).Window(); err == nil {
		t.Error("expected error for unknown time zone")
	}
}
