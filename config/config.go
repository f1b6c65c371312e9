// Package config loads the machine description consumed by the
// planner and kinematics packages: per-axis motion limits, the
// kinematic variant and its geometry, extruder advance coefficients,
// and the move-queue tuning constants. Grounded on the teacher's
// standalone/config package, generalised from its fixed Cartesian
// axis map to cover CoreXY and delta geometry as well.
package config

import (
	"encoding/json"
	"fmt"
)

// AxisConfig holds the per-axis limits spec.md §4.C pulls from
// kinematics_config()/current_extruder_params(): steps/mm, feedrate
// and acceleration split into print and travel ceilings, jerk, and the
// backlash distance compensated on direction reversal.
type AxisConfig struct {
	StepsPerMM     float64 `json:"steps_per_mm"`
	MaxFeedratePrint  float64 `json:"max_feedrate_print_mm_s"`
	MaxFeedrateTravel float64 `json:"max_feedrate_travel_mm_s"`
	MaxAccelPrint     float64 `json:"max_accel_print_mm_s2"`
	MaxAccelTravel    float64 `json:"max_accel_travel_mm_s2"`
	Jerk              float64 `json:"jerk_mm_s"`
	Backlash          float64 `json:"backlash_mm"`
	MinPosition       float64 `json:"min_position_mm"`
	MaxPosition       float64 `json:"max_position_mm"`
}

// DeltaGeometryConfig is the subset of machine geometry needed to
// build a kinematics.ThreeTower, expressed the way a user would enter
// it: rod length, horizontal radius, and three tower angles.
type DeltaGeometryConfig struct {
	RodLength  float64    `json:"rod_length_mm"`
	Radius     float64    `json:"radius_mm"`
	TowerAngles [3]float64 `json:"tower_angles_deg"`
}

// AdvanceConfig holds the extruder pressure-advance feed-forward
// coefficients used by the trapezoid materialiser's AdvanceLinear/
// AdvanceQuadratic/AdvanceRate fields.
type AdvanceConfig struct {
	Linear    float64 `json:"linear_kl"`
	Quadratic float64 `json:"quadratic_kq"`
}

// QueueConfig tunes the move queue: ring capacity and the "running
// low" watermark below which the planner stretches short moves and
// marks them critical. JunctionDeviationMM is loaded and defaulted, but
// the look-ahead planner does not read it; junction speeds come from
// the per-axis jerk limits.
type QueueConfig struct {
	CacheSize          int     `json:"cache_size"`
	MoveCacheLow       int     `json:"move_cache_low"`
	JunctionDeviationMM float64 `json:"junction_deviation_mm"`
}

// Config is the complete machine description.
type Config struct {
	Mode       string                 `json:"mode"`
	Kinematics string                 `json:"kinematics"`
	Delta      *DeltaGeometryConfig   `json:"delta,omitempty"`
	CoreXYSwapped bool                `json:"corexy_swapped,omitempty"`
	Axes       map[string]AxisConfig  `json:"axes"`
	Advance    AdvanceConfig          `json:"advance"`
	Queue      QueueConfig            `json:"queue"`

	// MinSpeed is the crossable-with-no-planning floor used by safeSpeed.
	MinSpeed float64 `json:"min_speed_mm_s"`

	// DeltaSegmentsPerSecondPrint/Travel pick the sub-segmentation rate
	// for delta moves that extrude vs. travel moves.
	DeltaSegmentsPerSecondPrint  float64 `json:"delta_segments_per_second_print,omitempty"`
	DeltaSegmentsPerSecondTravel float64 `json:"delta_segments_per_second_travel,omitempty"`
}

// Load parses a JSON machine description and fills in any field a
// caller left at its zero value with a sensible default, the way the
// teacher's applyDefaults does.
func Load(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Mode == "" {
		cfg.Mode = "standalone"
	}
	if cfg.Kinematics == "" {
		cfg.Kinematics = "cartesian"
	}
	if cfg.Axes == nil {
		cfg.Axes = map[string]AxisConfig{}
	}
	for name, axis := range cfg.Axes {
		if axis.StepsPerMM == 0 {
			axis.StepsPerMM = 80.0
		}
		if axis.MaxFeedratePrint == 0 {
			axis.MaxFeedratePrint = 100.0
		}
		if axis.MaxFeedrateTravel == 0 {
			axis.MaxFeedrateTravel = axis.MaxFeedratePrint
		}
		if axis.MaxAccelPrint == 0 {
			axis.MaxAccelPrint = 1500.0
		}
		if axis.MaxAccelTravel == 0 {
			axis.MaxAccelTravel = axis.MaxAccelPrint
		}
		if axis.Jerk == 0 {
			axis.Jerk = 10.0
		}
		cfg.Axes[name] = axis
	}
	if cfg.Queue.CacheSize == 0 {
		cfg.Queue.CacheSize = 16
	}
	if cfg.Queue.MoveCacheLow == 0 {
		cfg.Queue.MoveCacheLow = cfg.Queue.CacheSize / 4
		if cfg.Queue.MoveCacheLow < 1 {
			cfg.Queue.MoveCacheLow = 1
		}
	}
	if cfg.Queue.JunctionDeviationMM == 0 {
		cfg.Queue.JunctionDeviationMM = 0.013
	}
	if cfg.MinSpeed == 0 {
		cfg.MinSpeed = 5.0
	}
	if cfg.DeltaSegmentsPerSecondPrint == 0 {
		cfg.DeltaSegmentsPerSecondPrint = 180
	}
	if cfg.DeltaSegmentsPerSecondTravel == 0 {
		cfg.DeltaSegmentsPerSecondTravel = 80
	}
	if cfg.Kinematics == "delta" && cfg.Delta != nil {
		if cfg.Delta.RodLength == 0 {
			cfg.Delta.RodLength = 250.0
		}
		if cfg.Delta.Radius == 0 {
			cfg.Delta.Radius = 140.0
		}
		if cfg.Delta.TowerAngles == [3]float64{} {
			cfg.Delta.TowerAngles = [3]float64{210, 330, 90}
		}
	}
}

// Validate reports configuration errors that applyDefaults cannot
// paper over: an unknown kinematics name, or a delta machine missing
// its geometry block.
func (cfg *Config) Validate() error {
	switch cfg.Kinematics {
	case "cartesian", "corexy":
	case "delta":
		if cfg.Delta == nil {
			return fmt.Errorf("config: kinematics=delta requires a delta geometry block")
		}
	default:
		return fmt.Errorf("config: unknown kinematics %q", cfg.Kinematics)
	}
	for _, axisName := range []string{"x", "y", "z", "e"} {
		if _, ok := cfg.Axes[axisName]; !ok {
			return fmt.Errorf("config: missing axis %q", axisName)
		}
	}
	return nil
}

// DefaultCartesianConfig returns a usable configuration for a
// Cartesian printer, mirroring the teacher's DefaultCartesianConfig
// but using the §4.C field layout instead of GPIO pin assignments,
// which belong to the stepgen backend, not the planner's config.
func DefaultCartesianConfig() *Config {
	cfg := &Config{
		Mode:       "standalone",
		Kinematics: "cartesian",
		Axes: map[string]AxisConfig{
			"x": {StepsPerMM: 80, MaxFeedratePrint: 120, MaxAccelPrint: 1500, Jerk: 10, MinPosition: 0, MaxPosition: 220},
			"y": {StepsPerMM: 80, MaxFeedratePrint: 120, MaxAccelPrint: 1500, Jerk: 10, MinPosition: 0, MaxPosition: 220},
			"z": {StepsPerMM: 400, MaxFeedratePrint: 10, MaxAccelPrint: 100, Jerk: 0.4, MinPosition: 0, MaxPosition: 250},
			"e": {StepsPerMM: 96, MaxFeedratePrint: 50, MaxAccelPrint: 5000, Jerk: 5, MinPosition: -1e9, MaxPosition: 1e9},
		},
		Advance: AdvanceConfig{Linear: 0, Quadratic: 0},
		Queue:   QueueConfig{CacheSize: 16, MoveCacheLow: 4, JunctionDeviationMM: 0.013},
	}
	applyDefaults(cfg)
	return cfg
}
