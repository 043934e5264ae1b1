// Package tuning holds the numeric knobs of the coordination engine. The
// values below are starting points, not invariants; scenarios override them
// through tuning.yaml.
package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	TickRateHz int `yaml:"tick_rate_hz"`
	MaxTicks   int `yaml:"max_ticks"`

	// Event plumbing.
	EventBufferSize  int `yaml:"event_buffer_size"`
	EventWindow      int `yaml:"event_window"`
	MaxActivations   int `yaml:"max_activations_per_tick"`
	DiscoveryWindow  int `yaml:"discovery_window"`
	AssignmentWindow int `yaml:"assignment_window"`

	// Task lifecycle.
	MinTaskInfestation  int    `yaml:"min_task_infestation"`
	TaskFailureCap      int    `yaml:"task_failure_cap"`
	RetryCooldownTicks  uint64 `yaml:"retry_cooldown_ticks"`
	LongCooldownAfter   int    `yaml:"long_cooldown_after"`
	LongCooldownTicks   uint64 `yaml:"long_cooldown_ticks"`
	SeedDiscoveries     bool   `yaml:"seed_discoveries"`
	PriorityCriticalMin int    `yaml:"priority_critical_min"`
	PriorityHighMin     int    `yaml:"priority_high_min"`
	PriorityMediumMin   int    `yaml:"priority_medium_min"`

	// Worker resources.
	ResourceCapacity int     `yaml:"resource_capacity"`
	LowResource      int     `yaml:"low_resource"`
	CriticalResource int     `yaml:"critical_resource"`
	MinTakeLevel     int     `yaml:"min_take_level"`
	ResourceMargin   float64 `yaml:"resource_margin"`
	MarginalFactor   float64 `yaml:"marginal_factor"`
	MarginalPenalty  float64 `yaml:"marginal_penalty"`

	// Dynamic field weights.
	InitialFieldWeight float64 `yaml:"initial_field_weight"`
	FieldWeightFactor  float64 `yaml:"field_weight_factor"`
	FieldWeightCap     float64 `yaml:"field_weight_cap"`

	// Deadlock recovery.
	StuckWindow      int `yaml:"stuck_window"`
	RecoveryAttempts int `yaml:"recovery_attempts"`

	// Scouts.
	ScoutRowStep     int     `yaml:"scout_row_step"`
	CoverageComplete float64 `yaml:"coverage_complete"`
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz: 5,
		MaxTicks:   2000,

		EventBufferSize:  1000,
		EventWindow:      100,
		MaxActivations:   10,
		DiscoveryWindow:  50,
		AssignmentWindow: 20,

		MinTaskInfestation:  1,
		TaskFailureCap:      5,
		RetryCooldownTicks:  10,
		LongCooldownAfter:   3,
		LongCooldownTicks:   30,
		SeedDiscoveries:     false,
		PriorityCriticalMin: 80,
		PriorityHighMin:     50,
		PriorityMediumMin:   20,

		ResourceCapacity: 1000,
		LowResource:      100,
		CriticalResource: 10,
		MinTakeLevel:     10,
		ResourceMargin:   1.05,
		MarginalFactor:   1.2,
		MarginalPenalty:  1000,

		InitialFieldWeight: 1.8,
		FieldWeightFactor:  1.8,
		FieldWeightCap:     60,

		StuckWindow:      5,
		RecoveryAttempts: 2,

		ScoutRowStep:     3,
		CoverageComplete: 99.0,
	}
}

// Load reads tuning from a YAML file. Missing keys keep their defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning %s: %w", path, err)
	}
	return t, nil
}
