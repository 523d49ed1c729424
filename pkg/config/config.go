package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration values for one backtest run
type Config struct {
	Symbol   string
	LogLevel string

	Swing      SwingConfig
	Zone       ZoneConfig
	Plan       PlanConfig
	Stages     []Stage
	Management ManagementConfig
	Run        RunConfig
	Feed       FeedConfig
}

// SwingConfig configures the leg/swing detector
type SwingConfig struct {
	MinLegSize         float64 `mapstructure:"min_leg_size"` // in points
	PointSize          float64 `mapstructure:"point_size"`   // price value of one point (0.0001 for EURUSD)
	MinLegATR          float64 `mapstructure:"min_leg_atr"`  // ATR multiple; overrides MinLegSize when > 0
	ATRPeriod          int     `mapstructure:"atr_period"`
	Lookback           int     `mapstructure:"lookback"`
	MinPullbackCandles int     `mapstructure:"min_pullback_candles"` // weighted opposite-colour candles, 0 disables
}

// ZoneConfig holds the Fibonacci ratio bounds
type ZoneConfig struct {
	RatioLow  float64 `mapstructure:"ratio_low"`
	RatioHigh float64 `mapstructure:"ratio_high"`
}

// PlanConfig configures entry/stop/target placement
type PlanConfig struct {
	EntryRatio      float64   `mapstructure:"entry_ratio"`       // 0 = zone midpoint
	StopBuffer      float64   `mapstructure:"stop_buffer"`       // points beyond swing extreme
	MinStopDistance float64   `mapstructure:"min_stop_distance"` // points between entry and stop
	RiskRewards     []float64 `mapstructure:"risk_rewards"`      // one multiple per take-profit stage
}

// ManagementConfig configures pending/open position lifetimes
type ManagementConfig struct {
	PendingExpiryBars  int  `mapstructure:"pending_expiry_bars"` // 0 = never expires
	TimeoutBars        int  `mapstructure:"timeout_bars"`        // 0 = no timeout
	RequireSecondTouch bool `mapstructure:"require_second_touch"`
	CancelOnTargetRun  bool `mapstructure:"cancel_on_target_run"`
}

// SessionConfig restricts new setups to a daily time window
type SessionConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Start    string `mapstructure:"start"` // HH:MM
	End      string `mapstructure:"end"`   // HH:MM
	Timezone string `mapstructure:"timezone"`
}

// RunConfig holds simulation-level options
type RunConfig struct {
	Side              SideFilter
	MaxConcurrent     int
	MaxDailyTrades    int  // 0 = unlimited
	AllowOverlap      bool // allow several live positions on overlapping zones
	Session           SessionConfig
	InitialBalance    float64
	RiskPct           float64
	CommissionPerUnit float64 // per unit, per side
	QuantityStep      float64 // 0 = fractional quantities allowed
	MaxQuantity       float64 // 0 = no cap
}

// FeedConfig holds credentials and locations for bar sources
type FeedConfig struct {
	PolygonAPIKey   string
	AlpacaAPIKey    string
	AlpacaAPISecret string
	ClickHouseDSN   string
	ClickHouseDB    string
	ClickHouseTable string
	CacheDir        string
}

// SideFilter selects which plan sides are allowed
type SideFilter string

const (
	SideBoth     SideFilter = "both"
	SideBuyOnly  SideFilter = "buy"
	SideSellOnly SideFilter = "sell"
)

// ParseSideFilter parses a side filter string
func ParseSideFilter(s string) (SideFilter, error) {
	switch SideFilter(strings.ToLower(strings.TrimSpace(s))) {
	case SideBoth, "":
		return SideBoth, nil
	case SideBuyOnly, "buy-only", "buy_only":
		return SideBuyOnly, nil
	case SideSellOnly, "sell-only", "sell_only":
		return SideSellOnly, nil
	}
	return "", &ConfigurationError{Field: "run.side", Reason: fmt.Sprintf("unknown side filter %q", s)}
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		Symbol:   "EURUSD",
		LogLevel: "info",
		Swing: SwingConfig{
			MinLegSize:         6.0,
			PointSize:          0.0001,
			ATRPeriod:          14,
			Lookback:           100,
			MinPullbackCandles: 3,
		},
		Zone: ZoneConfig{
			RatioLow:  0.705,
			RatioHigh: 0.9,
		},
		Plan: PlanConfig{
			MinStopDistance: 2.0,
			RiskRewards:     []float64{1.2},
		},
		Stages: []Stage{
			{CloseFraction: 1, Stop: StopRule{Kind: StopNone}},
		},
		Management: ManagementConfig{
			PendingExpiryBars: 100,
			TimeoutBars:       300,
			CancelOnTargetRun: true,
		},
		Run: RunConfig{
			Side:           SideBoth,
			MaxConcurrent:  1,
			MaxDailyTrades: 10,
			Session: SessionConfig{
				Start:    "09:00",
				End:      "21:00",
				Timezone: "Asia/Tehran",
			},
			InitialBalance: 10000,
			RiskPct:        0.01,
		},
		Feed: FeedConfig{
			ClickHouseDB:    "backtest",
			ClickHouseTable: "data",
			CacheDir:        "data/cache",
		},
	}
}

// Load loads configuration from .env, the environment and an optional config file.
// Environment keys use the FIBSWING_ prefix, e.g. FIBSWING_SWING_MIN_LEG_SIZE.
func Load(configFile string) (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("FIBSWING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, &ConfigurationError{Field: "config", Reason: fmt.Sprintf("failed to read %s: %v", configFile, err)}
		}
	}

	return fromViper(v)
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("symbol", d.Symbol)
	v.SetDefault("log_level", d.LogLevel)

	v.SetDefault("swing.min_leg_size", d.Swing.MinLegSize)
	v.SetDefault("swing.point_size", d.Swing.PointSize)
	v.SetDefault("swing.min_leg_atr", d.Swing.MinLegATR)
	v.SetDefault("swing.atr_period", d.Swing.ATRPeriod)
	v.SetDefault("swing.lookback", d.Swing.Lookback)
	v.SetDefault("swing.min_pullback_candles", d.Swing.MinPullbackCandles)

	v.SetDefault("zone.ratio_low", d.Zone.RatioLow)
	v.SetDefault("zone.ratio_high", d.Zone.RatioHigh)

	v.SetDefault("plan.entry_ratio", d.Plan.EntryRatio)
	v.SetDefault("plan.stop_buffer", d.Plan.StopBuffer)
	v.SetDefault("plan.min_stop_distance", d.Plan.MinStopDistance)
	v.SetDefault("plan.risk_rewards", formatFloatList(d.Plan.RiskRewards))

	v.SetDefault("stages", FormatStages(d.Stages))

	v.SetDefault("management.pending_expiry_bars", d.Management.PendingExpiryBars)
	v.SetDefault("management.timeout_bars", d.Management.TimeoutBars)
	v.SetDefault("management.require_second_touch", d.Management.RequireSecondTouch)
	v.SetDefault("management.cancel_on_target_run", d.Management.CancelOnTargetRun)

	v.SetDefault("run.side", string(d.Run.Side))
	v.SetDefault("run.max_concurrent", d.Run.MaxConcurrent)
	v.SetDefault("run.max_daily_trades", d.Run.MaxDailyTrades)
	v.SetDefault("run.allow_overlap", d.Run.AllowOverlap)
	v.SetDefault("run.session.enabled", d.Run.Session.Enabled)
	v.SetDefault("run.session.start", d.Run.Session.Start)
	v.SetDefault("run.session.end", d.Run.Session.End)
	v.SetDefault("run.session.timezone", d.Run.Session.Timezone)
	v.SetDefault("run.initial_balance", d.Run.InitialBalance)
	v.SetDefault("run.risk_pct", d.Run.RiskPct)
	v.SetDefault("run.commission_per_unit", d.Run.CommissionPerUnit)
	v.SetDefault("run.quantity_step", d.Run.QuantityStep)
	v.SetDefault("run.max_quantity", d.Run.MaxQuantity)

	v.SetDefault("feed.polygon_api_key", "")
	v.SetDefault("feed.alpaca_api_key", "")
	v.SetDefault("feed.alpaca_api_secret", "")
	v.SetDefault("feed.clickhouse_dsn", "")
	v.SetDefault("feed.clickhouse_db", d.Feed.ClickHouseDB)
	v.SetDefault("feed.clickhouse_table", d.Feed.ClickHouseTable)
	v.SetDefault("feed.cache_dir", d.Feed.CacheDir)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Symbol:   v.GetString("symbol"),
		LogLevel: v.GetString("log_level"),
		Swing: SwingConfig{
			MinLegSize:         v.GetFloat64("swing.min_leg_size"),
			PointSize:          v.GetFloat64("swing.point_size"),
			MinLegATR:          v.GetFloat64("swing.min_leg_atr"),
			ATRPeriod:          v.GetInt("swing.atr_period"),
			Lookback:           v.GetInt("swing.lookback"),
			MinPullbackCandles: v.GetInt("swing.min_pullback_candles"),
		},
		Zone: ZoneConfig{
			RatioLow:  v.GetFloat64("zone.ratio_low"),
			RatioHigh: v.GetFloat64("zone.ratio_high"),
		},
		Plan: PlanConfig{
			EntryRatio:      v.GetFloat64("plan.entry_ratio"),
			StopBuffer:      v.GetFloat64("plan.stop_buffer"),
			MinStopDistance: v.GetFloat64("plan.min_stop_distance"),
		},
		Management: ManagementConfig{
			PendingExpiryBars:  v.GetInt("management.pending_expiry_bars"),
			TimeoutBars:        v.GetInt("management.timeout_bars"),
			RequireSecondTouch: v.GetBool("management.require_second_touch"),
			CancelOnTargetRun:  v.GetBool("management.cancel_on_target_run"),
		},
		Run: RunConfig{
			MaxConcurrent:  v.GetInt("run.max_concurrent"),
			MaxDailyTrades: v.GetInt("run.max_daily_trades"),
			AllowOverlap:   v.GetBool("run.allow_overlap"),
			Session: SessionConfig{
				Enabled:  v.GetBool("run.session.enabled"),
				Start:    v.GetString("run.session.start"),
				End:      v.GetString("run.session.end"),
				Timezone: v.GetString("run.session.timezone"),
			},
			InitialBalance:    v.GetFloat64("run.initial_balance"),
			RiskPct:           v.GetFloat64("run.risk_pct"),
			CommissionPerUnit: v.GetFloat64("run.commission_per_unit"),
			QuantityStep:      v.GetFloat64("run.quantity_step"),
			MaxQuantity:       v.GetFloat64("run.max_quantity"),
		},
		Feed: FeedConfig{
			PolygonAPIKey:   v.GetString("feed.polygon_api_key"),
			AlpacaAPIKey:    v.GetString("feed.alpaca_api_key"),
			AlpacaAPISecret: v.GetString("feed.alpaca_api_secret"),
			ClickHouseDSN:   v.GetString("feed.clickhouse_dsn"),
			ClickHouseDB:    v.GetString("feed.clickhouse_db"),
			ClickHouseTable: v.GetString("feed.clickhouse_table"),
			CacheDir:        v.GetString("feed.cache_dir"),
		},
	}

	side, err := ParseSideFilter(v.GetString("run.side"))
	if err != nil {
		return nil, err
	}
	cfg.Run.Side = side

	rr, err := floatList(v.Get("plan.risk_rewards"))
	if err != nil {
		return nil, &ConfigurationError{Field: "plan.risk_rewards", Reason: err.Error()}
	}
	cfg.Plan.RiskRewards = rr

	// stages come either as "fraction:rule[:offset]" text (env, flags) or as a list in a config file
	switch raw := v.Get("stages").(type) {
	case string:
		stages, err := ParseStages(raw)
		if err != nil {
			return nil, err
		}
		cfg.Stages = stages
	default:
		var stages []Stage
		if err := v.UnmarshalKey("stages", &stages); err != nil {
			return nil, &ConfigurationError{Field: "stages", Reason: err.Error()}
		}
		cfg.Stages = stages
	}

	return cfg, nil
}

// Validate checks every option and returns the first problem as a *ConfigurationError
func (c *Config) Validate() error {
	if err := c.Swing.Validate(); err != nil {
		return err
	}
	if err := c.Zone.Validate(); err != nil {
		return err
	}
	if err := c.Plan.Validate(c.Zone); err != nil {
		return err
	}
	if err := ValidateStages(c.Stages, len(c.Plan.RiskRewards)); err != nil {
		return err
	}

	if c.Management.PendingExpiryBars < 0 {
		return &ConfigurationError{Field: "management.pending_expiry_bars", Reason: "must be >= 0"}
	}
	if c.Management.TimeoutBars < 0 {
		return &ConfigurationError{Field: "management.timeout_bars", Reason: "must be >= 0"}
	}

	return c.Run.Validate()
}

// Validate checks the detector options
func (s SwingConfig) Validate() error {
	if s.PointSize <= 0 || math.IsNaN(s.PointSize) {
		return &ConfigurationError{Field: "swing.point_size", Reason: "must be > 0"}
	}
	if s.MinLegATR > 0 {
		if s.ATRPeriod < 1 {
			return &ConfigurationError{Field: "swing.atr_period", Reason: "must be >= 1 when min_leg_atr is set"}
		}
	} else if s.MinLegSize <= 0 || math.IsNaN(s.MinLegSize) {
		return &ConfigurationError{Field: "swing.min_leg_size", Reason: "must be > 0"}
	}
	if s.MinLegATR < 0 {
		return &ConfigurationError{Field: "swing.min_leg_atr", Reason: "must be >= 0"}
	}
	if s.Lookback < 0 {
		return &ConfigurationError{Field: "swing.lookback", Reason: "must be >= 0"}
	}
	if s.MinPullbackCandles < 0 {
		return &ConfigurationError{Field: "swing.min_pullback_candles", Reason: "must be >= 0"}
	}
	return nil
}

// Validate checks 0 < low < high < 1
func (z ZoneConfig) Validate() error {
	if !(z.RatioLow > 0 && z.RatioLow < z.RatioHigh && z.RatioHigh < 1) {
		return &ConfigurationError{
			Field:  "zone",
			Reason: fmt.Sprintf("ratios must satisfy 0 < low < high < 1, got low=%g high=%g", z.RatioLow, z.RatioHigh),
		}
	}
	return nil
}

// Validate checks plan options against the zone bounds
func (p PlanConfig) Validate(zone ZoneConfig) error {
	if p.EntryRatio != 0 && (p.EntryRatio < zone.RatioLow || p.EntryRatio > zone.RatioHigh) {
		return &ConfigurationError{
			Field:  "plan.entry_ratio",
			Reason: fmt.Sprintf("%g is outside the zone [%g, %g]", p.EntryRatio, zone.RatioLow, zone.RatioHigh),
		}
	}
	if p.StopBuffer < 0 {
		return &ConfigurationError{Field: "plan.stop_buffer", Reason: "must be >= 0"}
	}
	if p.MinStopDistance < 0 {
		return &ConfigurationError{Field: "plan.min_stop_distance", Reason: "must be >= 0"}
	}
	if len(p.RiskRewards) == 0 {
		return &ConfigurationError{Field: "plan.risk_rewards", Reason: "at least one multiple is required"}
	}
	prev := 0.0
	for i, rr := range p.RiskRewards {
		if !(rr > prev) || math.IsInf(rr, 0) {
			return &ConfigurationError{
				Field:  "plan.risk_rewards",
				Reason: fmt.Sprintf("multiple %d (%g) must be positive and greater than the previous one", i+1, rr),
			}
		}
		prev = rr
	}
	return nil
}

// EffectiveEntryRatio returns the configured entry ratio or the zone midpoint
func (p PlanConfig) EffectiveEntryRatio(zone ZoneConfig) float64 {
	if p.EntryRatio == 0 {
		return (zone.RatioLow + zone.RatioHigh) / 2
	}
	return p.EntryRatio
}

// Validate checks simulation-level options
func (r RunConfig) Validate() error {
	if _, err := ParseSideFilter(string(r.Side)); err != nil {
		return err
	}
	if r.MaxConcurrent < 1 {
		return &ConfigurationError{Field: "run.max_concurrent", Reason: "must be >= 1"}
	}
	if r.MaxDailyTrades < 0 {
		return &ConfigurationError{Field: "run.max_daily_trades", Reason: "must be >= 0"}
	}
	if r.InitialBalance <= 0 {
		return &ConfigurationError{Field: "run.initial_balance", Reason: "must be > 0"}
	}
	if r.RiskPct <= 0 || r.RiskPct > 1 {
		return &ConfigurationError{Field: "run.risk_pct", Reason: "must be in (0, 1]"}
	}
	if r.CommissionPerUnit < 0 {
		return &ConfigurationError{Field: "run.commission_per_unit", Reason: "must be >= 0"}
	}
	if r.QuantityStep < 0 {
		return &ConfigurationError{Field: "run.quantity_step", Reason: "must be >= 0"}
	}
	if r.MaxQuantity < 0 {
		return &ConfigurationError{Field: "run.max_quantity", Reason: "must be >= 0"}
	}
	if r.Session.Enabled {
		if _, err := r.Session.Window(); err != nil {
			return err
		}
	}
	return nil
}

// SessionWindow is a parsed session: minutes after midnight in Location
type SessionWindow struct {
	StartMinute int
	EndMinute   int
	Location    *time.Location
}

// Window parses the session bounds and time zone
func (s SessionConfig) Window() (SessionWindow, error) {
	start, err := parseClock(s.Start)
	if err != nil {
		return SessionWindow{}, &ConfigurationError{Field: "run.session.start", Reason: err.Error()}
	}
	end, err := parseClock(s.End)
	if err != nil {
		return SessionWindow{}, &ConfigurationError{Field: "run.session.end", Reason: err.Error()}
	}
	tz := s.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return SessionWindow{}, &ConfigurationError{Field: "run.session.timezone", Reason: err.Error()}
	}
	return SessionWindow{StartMinute: start, EndMinute: end, Location: loc}, nil
}

// parseClock parses HH:MM into minutes after midnight
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q, want HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// floatList accepts "1.2,2" text or a list from a config file
func floatList(raw any) ([]float64, error) {
	switch val := raw.(type) {
	case nil:
		return nil, nil
	case string:
		parts := parseCommaList(val)
		out := make([]float64, 0, len(parts))
		for _, p := range parts {
			f, err := strconv.ParseFloat(p, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q: %v", p, err)
			}
			out = append(out, f)
		}
		return out, nil
	case []float64:
		return val, nil
	case []any:
		out := make([]float64, 0, len(val))
		for _, item := range val {
			switch n := item.(type) {
			case float64:
				out = append(out, n)
			case int:
				out = append(out, float64(n))
			case int64:
				out = append(out, float64(n))
			case string:
				f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
				if err != nil {
					return nil, fmt.Errorf("invalid number %q: %v", n, err)
				}
				out = append(out, f)
			default:
				return nil, fmt.Errorf("unsupported list element %v", item)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported value %v", raw)
}

func formatFloatList(values []float64) string {
	parts := make([]string, len(values))
	for i, f := range values {
		parts[i] = strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}

// parseCommaList parses a comma-separated list and trims whitespace
func parseCommaList(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
