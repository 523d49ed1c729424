package config

import (
	"fmt"
	"strconv"
	"strings"
)

// StopRuleKind selects how the stop moves after a stage executes
type StopRuleKind string

const (
	StopNone        StopRuleKind = "none"
	StopBreakeven   StopRuleKind = "breakeven"    // entry +/- offset
	StopPriorTarget StopRuleKind = "prior_target" // previous stage's target, or entry for the first stage
	StopTrail       StopRuleKind = "trail"        // best price -/+ offset, ratcheting every bar
)

// StopRule is the stop adjustment applied after a stage
type StopRule struct {
	Kind   StopRuleKind `mapstructure:"kind"`
	Offset float64      `mapstructure:"offset"` // price units
}

// Stage is one take-profit step. Stage i fires at take-profit i.
type Stage struct {
	CloseFraction float64  `mapstructure:"close_fraction"` // fraction of the remaining size
	Stop          StopRule `mapstructure:"stop"`
}

// ValidateStages checks the stage list against the number of take-profit levels.
// The final stage always closes whatever remains.
func ValidateStages(stages []Stage, targets int) error {
	if len(stages) == 0 {
		return &ConfigurationError{Field: "stages", Reason: "at least one stage is required"}
	}
	if len(stages) != targets {
		return &ConfigurationError{
			Field:  "stages",
			Reason: fmt.Sprintf("%d stages configured for %d take-profit levels", len(stages), targets),
		}
	}
	for i, st := range stages {
		if !(st.CloseFraction > 0 && st.CloseFraction <= 1) {
			return &ConfigurationError{
				Field:  fmt.Sprintf("stages[%d].close_fraction", i),
				Reason: fmt.Sprintf("%g must be in (0, 1]", st.CloseFraction),
			}
		}
		switch st.Stop.Kind {
		case StopNone, StopBreakeven, StopPriorTarget, StopTrail:
		default:
			return &ConfigurationError{
				Field:  fmt.Sprintf("stages[%d].stop.kind", i),
				Reason: fmt.Sprintf("unknown stop rule %q", st.Stop.Kind),
			}
		}
		if st.Stop.Offset < 0 {
			return &ConfigurationError{Field: fmt.Sprintf("stages[%d].stop.offset", i), Reason: "must be >= 0"}
		}
		if st.Stop.Kind == StopTrail && st.Stop.Offset == 0 {
			return &ConfigurationError{Field: fmt.Sprintf("stages[%d].stop.offset", i), Reason: "trail needs an offset > 0"}
		}
	}
	return nil
}

// ParseStages parses "fraction:rule[:offset]" entries separated by commas,
// e.g. "0.5:breakeven,0.5:trail:0.0005,1:none".
func ParseStages(s string) ([]Stage, error) {
	entries := parseCommaList(s)
	stages := make([]Stage, 0, len(entries))
	for i, entry := range entries {
		parts := strings.Split(entry, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, &ConfigurationError{
				Field:  fmt.Sprintf("stages[%d]", i),
				Reason: fmt.Sprintf("malformed stage %q, want fraction:rule[:offset]", entry),
			}
		}
		fraction, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return nil, &ConfigurationError{Field: fmt.Sprintf("stages[%d].close_fraction", i), Reason: err.Error()}
		}
		rule := StopRule{Kind: StopRuleKind(strings.ToLower(strings.TrimSpace(parts[1])))}
		if len(parts) == 3 {
			offset, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
			if err != nil {
				return nil, &ConfigurationError{Field: fmt.Sprintf("stages[%d].stop.offset", i), Reason: err.Error()}
			}
			rule.Offset = offset
		}
		stages = append(stages, Stage{CloseFraction: fraction, Stop: rule})
	}
	return stages, nil
}

// FormatStages is the inverse of ParseStages
func FormatStages(stages []Stage) string {
	parts := make([]string, len(stages))
	for i, st := range stages {
		p := strconv.FormatFloat(st.CloseFraction, 'f', -1, 64) + ":" + string(st.Stop.Kind)
		if st.Stop.Offset != 0 {
			p += ":" + strconv.FormatFloat(st.Stop.Offset, 'f', -1, 64)
		}
		parts[i] = p
	}
	return strings.Join(parts, ",")
}
