package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for planner tuning.
// Every field is optional; the Get* methods supply the default for any
// field the JSON omits, so partial files (and hot edits that touch a single
// key) are safe.
type TuningConfig struct {
	// Optimizer params
	SteerRateCost      *float64 `json:"steer_rate_cost,omitempty"`
	SteerActuatorDelay *float64 `json:"steer_actuator_delay,omitempty"` // seconds

	// Steering ratio params
	SteerRatio           *float64 `json:"steer_ratio,omitempty"`
	UseLiveSteerRatio    *bool    `json:"use_live_steer_ratio,omitempty"`
	UseDynamicSteerRatio *bool    `json:"use_dynamic_steer_ratio,omitempty"`
	SteerRatioBoost      *float64 `json:"steer_ratio_boost,omitempty"`
	SteerRatioBP0        *float64 `json:"steer_ratio_bp0,omitempty"` // degrees
	SteerRatioBP1        *float64 `json:"steer_ratio_bp1,omitempty"` // degrees

	// Lane change params
	LaneChangeEnabled *bool    `json:"lane_change_enabled,omitempty"`
	ALCNudgeLess      *bool    `json:"alc_nudge_less,omitempty"`
	ALCMinSpeedMps    *float64 `json:"alc_min_speed_mps,omitempty"`
	ALCTimer          *float64 `json:"alc_timer,omitempty"`      // seconds of blinker before a nudge-less change
	NudgeDuration     *float64 `json:"nudge_duration,omitempty"` // seconds of torque required

	// Reload cadence
	ReloadIntervalTicks *int `json:"reload_interval_ticks,omitempty"`

	// Vehicle params
	CarMassKg          *float64 `json:"car_mass_kg,omitempty"`
	CarWheelbaseM      *float64 `json:"car_wheelbase_m,omitempty"`
	CarCenterToFrontM  *float64 `json:"car_center_to_front_m,omitempty"`
	TireStiffnessFront *float64 `json:"tire_stiffness_front,omitempty"`
	TireStiffnessRear  *float64 `json:"tire_stiffness_rear,omitempty"`
	SteerRatioRear     *float64 `json:"steer_ratio_rear,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated from
// the built-in defaults.
func DefaultTuningConfig() *TuningConfig {
	c := EmptyTuningConfig()
	return &TuningConfig{
		SteerRateCost:        ptrFloat64(c.GetSteerRateCost()),
		SteerActuatorDelay:   ptrFloat64(c.GetSteerActuatorDelay()),
		SteerRatio:           ptrFloat64(c.GetSteerRatio()),
		UseLiveSteerRatio:    ptrBool(c.GetUseLiveSteerRatio()),
		UseDynamicSteerRatio: ptrBool(c.GetUseDynamicSteerRatio()),
		SteerRatioBoost:      ptrFloat64(c.GetSteerRatioBoost()),
		SteerRatioBP0:        ptrFloat64(c.GetSteerRatioBP0()),
		SteerRatioBP1:        ptrFloat64(c.GetSteerRatioBP1()),
		LaneChangeEnabled:    ptrBool(c.GetLaneChangeEnabled()),
		ALCNudgeLess:         ptrBool(c.GetALCNudgeLess()),
		ALCMinSpeedMps:       ptrFloat64(c.GetALCMinSpeedMps()),
		ALCTimer:             ptrFloat64(c.GetALCTimer()),
		NudgeDuration:        ptrFloat64(c.GetNudgeDuration()),
		ReloadIntervalTicks:  ptrInt(c.GetReloadIntervalTicks()),
		CarMassKg:            ptrFloat64(c.GetCarMassKg()),
		CarWheelbaseM:        ptrFloat64(c.GetCarWheelbaseM()),
		CarCenterToFrontM:    ptrFloat64(c.GetCarCenterToFrontM()),
		TireStiffnessFront:   ptrFloat64(c.GetTireStiffnessFront()),
		TireStiffnessRear:    ptrFloat64(c.GetTireStiffnessRear()),
		SteerRatioRear:       ptrFloat64(c.GetSteerRatioRear()),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	nonNegative := map[string]*float64{
		"steer_rate_cost":      c.SteerRateCost,
		"steer_ratio_boost":    c.SteerRatioBoost,
		"alc_min_speed_mps":    c.ALCMinSpeedMps,
		"alc_timer":            c.ALCTimer,
		"nudge_duration":       c.NudgeDuration,
		"steer_ratio_rear":     c.SteerRatioRear,
		"steer_ratio_bp0":      c.SteerRatioBP0,
		"steer_actuator_delay": c.SteerActuatorDelay,
	}
	for name, v := range nonNegative {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must be non-negative, got %f", name, *v)
		}
	}

	if c.SteerActuatorDelay != nil && *c.SteerActuatorDelay > 1 {
		return fmt.Errorf("steer_actuator_delay must be at most 1s, got %f", *c.SteerActuatorDelay)
	}

	positive := map[string]*float64{
		"steer_ratio":           c.SteerRatio,
		"car_mass_kg":           c.CarMassKg,
		"car_wheelbase_m":       c.CarWheelbaseM,
		"car_center_to_front_m": c.CarCenterToFrontM,
		"tire_stiffness_front":  c.TireStiffnessFront,
		"tire_stiffness_rear":   c.TireStiffnessRear,
	}
	for name, v := range positive {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive, got %f", name, *v)
		}
	}

	if bp0, bp1 := c.GetSteerRatioBP0(), c.GetSteerRatioBP1(); bp0 >= bp1 {
		return fmt.Errorf("steer_ratio_bp0 (%f) must be below steer_ratio_bp1 (%f)", bp0, bp1)
	}

	if c.ReloadIntervalTicks != nil && *c.ReloadIntervalTicks < 1 {
		return fmt.Errorf("reload_interval_ticks must be at least 1, got %d", *c.ReloadIntervalTicks)
	}

	if cf, wb := c.GetCarCenterToFrontM(), c.GetCarWheelbaseM(); cf >= wb {
		return fmt.Errorf("car_center_to_front_m (%f) must be shorter than car_wheelbase_m (%f)", cf, wb)
	}

	return nil
}

// GetSteerRateCost returns the steer_rate_cost value or the default.
func (c *TuningConfig) GetSteerRateCost() float64 {
	if c.SteerRateCost == nil {
		return 0.5
	}
	return *c.SteerRateCost
}

// GetSteerActuatorDelay returns the steer_actuator_delay value or the default.
func (c *TuningConfig) GetSteerActuatorDelay() float64 {
	if c.SteerActuatorDelay == nil {
		return 0.1
	}
	return *c.SteerActuatorDelay
}

// GetSteerRatio returns the nominal steer_ratio value or the default.
func (c *TuningConfig) GetSteerRatio() float64 {
	if c.SteerRatio == nil {
		return 15.7
	}
	return *c.SteerRatio
}

// GetUseLiveSteerRatio returns the use_live_steer_ratio value or the default.
func (c *TuningConfig) GetUseLiveSteerRatio() bool {
	if c.UseLiveSteerRatio == nil {
		return false
	}
	return *c.UseLiveSteerRatio
}

// GetUseDynamicSteerRatio returns the use_dynamic_steer_ratio value or the default.
func (c *TuningConfig) GetUseDynamicSteerRatio() bool {
	if c.UseDynamicSteerRatio == nil {
		return false
	}
	return *c.UseDynamicSteerRatio
}

// GetSteerRatioBoost returns the steer_ratio_boost value or the default.
func (c *TuningConfig) GetSteerRatioBoost() float64 {
	if c.SteerRatioBoost == nil {
		return 4.0
	}
	return *c.SteerRatioBoost
}

// GetSteerRatioBP0 returns the steer_ratio_bp0 value or the default.
func (c *TuningConfig) GetSteerRatioBP0() float64 {
	if c.SteerRatioBP0 == nil {
		return 5.0
	}
	return *c.SteerRatioBP0
}

// GetSteerRatioBP1 returns the steer_ratio_bp1 value or the default.
func (c *TuningConfig) GetSteerRatioBP1() float64 {
	if c.SteerRatioBP1 == nil {
		return 35.0
	}
	return *c.SteerRatioBP1
}

// GetLaneChangeEnabled returns the lane_change_enabled value or the default.
func (c *TuningConfig) GetLaneChangeEnabled() bool {
	if c.LaneChangeEnabled == nil {
		return true
	}
	return *c.LaneChangeEnabled
}

// GetALCNudgeLess returns the alc_nudge_less value or the default.
func (c *TuningConfig) GetALCNudgeLess() bool {
	if c.ALCNudgeLess == nil {
		return false
	}
	return *c.ALCNudgeLess
}

// GetALCMinSpeedMps returns the alc_min_speed_mps value or the default (15 mph).
func (c *TuningConfig) GetALCMinSpeedMps() float64 {
	if c.ALCMinSpeedMps == nil {
		return 6.7056
	}
	return *c.ALCMinSpeedMps
}

// GetALCTimer returns the alc_timer value or the default.
func (c *TuningConfig) GetALCTimer() float64 {
	if c.ALCTimer == nil {
		return 1.0
	}
	return *c.ALCTimer
}

// GetNudgeDuration returns the nudge_duration value or the default.
func (c *TuningConfig) GetNudgeDuration() float64 {
	if c.NudgeDuration == nil {
		return 0
	}
	return *c.NudgeDuration
}

// GetReloadIntervalTicks returns the reload_interval_ticks value or the default.
func (c *TuningConfig) GetReloadIntervalTicks() int {
	if c.ReloadIntervalTicks == nil {
		return 500
	}
	return *c.ReloadIntervalTicks
}

// GetCarMassKg returns the car_mass_kg value or the default.
func (c *TuningConfig) GetCarMassKg() float64 {
	if c.CarMassKg == nil {
		return 1743.0
	}
	return *c.CarMassKg
}

// GetCarWheelbaseM returns the car_wheelbase_m value or the default.
func (c *TuningConfig) GetCarWheelbaseM() float64 {
	if c.CarWheelbaseM == nil {
		return 2.69
	}
	return *c.CarWheelbaseM
}

// GetCarCenterToFrontM returns the car_center_to_front_m value or the default.
func (c *TuningConfig) GetCarCenterToFrontM() float64 {
	if c.CarCenterToFrontM == nil {
		return 1.076
	}
	return *c.CarCenterToFrontM
}

// GetTireStiffnessFront returns the tire_stiffness_front value or the default.
func (c *TuningConfig) GetTireStiffnessFront() float64 {
	if c.TireStiffnessFront == nil {
		return 107437.0
	}
	return *c.TireStiffnessFront
}

// GetTireStiffnessRear returns the tire_stiffness_rear value or the default.
func (c *TuningConfig) GetTireStiffnessRear() float64 {
	if c.TireStiffnessRear == nil {
		return 113210.0
	}
	return *c.TireStiffnessRear
}

// GetSteerRatioRear returns the steer_ratio_rear value or the default.
func (c *TuningConfig) GetSteerRatioRear() float64 {
	if c.SteerRatioRear == nil {
		return 0
	}
	return *c.SteerRatioRear
}
