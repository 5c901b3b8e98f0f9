// Package vehicle converts between steering-wheel angle and path curvature
// using a linear single-track (bicycle) model. Tire stiffness and steering
// ratio are refreshed every tick from live estimates; both are clamped
// rather than rejected so a bad estimate degrades the response instead of
// stopping the planner.
package vehicle

import (
	"math"

	"github.com/banshee-data/lateral.plan/internal/config"
	"github.com/samber/lo"
)

// MinFactor is the floor applied to stiffness factors and steering ratios.
const MinFactor = 0.1

// Params are the static vehicle properties the model is built from.
type Params struct {
	MassKg             float64 // curb mass plus standard cargo
	WheelbaseM         float64
	CenterToFrontM     float64 // center of gravity to front axle
	TireStiffnessFront float64 // N/rad, nominal
	TireStiffnessRear  float64 // N/rad, nominal
	SteerRatio         float64 // nominal steering-wheel to road-wheel ratio
	SteerRatioRear     float64 // rear-steer ratio, 0 for front-steer cars
}

// ParamsFromTuning builds Params from a configuration snapshot.
func ParamsFromTuning(s config.Snapshot) Params {
	return Params{
		MassKg:             s.CarMassKg,
		WheelbaseM:         s.CarWheelbaseM,
		CenterToFrontM:     s.CarCenterToFrontM,
		TireStiffnessFront: s.TireStiffnessFront,
		TireStiffnessRear:  s.TireStiffnessRear,
		SteerRatio:         s.SteerRatio,
		SteerRatioRear:     s.SteerRatioRear,
	}
}

// Model is the mutable vehicle model. It is owned by the planner and
// updated once per tick.
type Model struct {
	params Params

	cF float64 // current front cornering stiffness
	cR float64 // current rear cornering stiffness
	sR float64 // current steering ratio
}

// NewModel returns a model at nominal stiffness and steering ratio.
func NewModel(p Params) *Model {
	m := &Model{params: p}
	m.UpdateParams(1.0, p.SteerRatio)
	return m
}

// UpdateParams scales the nominal tire stiffness by stiffnessFactor and sets
// the steering ratio. Both inputs are clamped to MinFactor.
func (m *Model) UpdateParams(stiffnessFactor, steerRatio float64) {
	x := math.Max(stiffnessFactor, MinFactor)
	m.cF = x * m.params.TireStiffnessFront
	m.cR = x * m.params.TireStiffnessRear
	m.sR = math.Max(steerRatio, MinFactor)
}

// SteerRatio returns the steering ratio currently in force.
func (m *Model) SteerRatio() float64 { return m.sR }

// Params returns the static parameters the model was built with.
func (m *Model) Params() Params { return m.params }

// SlipFactor returns the understeer characteristic of the current
// stiffness. Negative values mean understeer.
func (m *Model) SlipFactor() float64 {
	l := m.params.WheelbaseM
	aF := m.params.CenterToFrontM
	aR := l - aF
	return m.params.MassKg * (m.cF*aF - m.cR*aR) / (l * l * m.cF * m.cR)
}

// CurvatureFactor returns the path curvature produced per radian of
// road-wheel angle at speed (m/s).
func (m *Model) CurvatureFactor(speed float64) float64 {
	sf := m.SlipFactor()
	return (1 - m.params.SteerRatioRear) / (1 - sf*speed*speed) / m.params.WheelbaseM
}

// CurvatureFromSteer converts a steering-wheel angle (radians, offset
// already removed) to path curvature at speed.
func (m *Model) CurvatureFromSteer(steerRad, speed float64) float64 {
	return m.CurvatureFactor(speed) * steerRad / m.sR
}

// SteerFromCurvature is the inverse of CurvatureFromSteer.
func (m *Model) SteerFromCurvature(curvature, speed float64) float64 {
	return curvature * m.sR / m.CurvatureFactor(speed)
}

// RatioPolicy selects where the steering ratio comes from each tick.
type RatioPolicy int

const (
	// RatioStatic uses the configured nominal ratio.
	RatioStatic RatioPolicy = iota
	// RatioLive uses the externally estimated live ratio.
	RatioLive
	// RatioDynamic interpolates between two ratios keyed on the previous
	// desired steering angle; for variable-ratio steering racks.
	RatioDynamic
)

func (p RatioPolicy) String() string {
	switch p {
	case RatioStatic:
		return "static"
	case RatioLive:
		return "live"
	case RatioDynamic:
		return "dynamic"
	}
	return "unknown"
}

// RatioSelector resolves the steering ratio for a tick.
type RatioSelector struct {
	Policy  RatioPolicy
	Nominal float64
	Boost   float64 // ratio added at BP1 in dynamic mode
	BP0     float64 // |angle| in degrees where the boost starts
	BP1     float64 // |angle| in degrees where the boost is complete
}

// RatioSelectorFromTuning picks the policy from the snapshot. Dynamic takes
// precedence over live.
func RatioSelectorFromTuning(s config.Snapshot) RatioSelector {
	policy := RatioStatic
	switch {
	case s.UseDynamicSteerRatio:
		policy = RatioDynamic
	case s.UseLiveSteerRatio:
		policy = RatioLive
	}
	return RatioSelector{
		Policy:  policy,
		Nominal: s.SteerRatio,
		Boost:   s.SteerRatioBoost,
		BP0:     s.SteerRatioBP0,
		BP1:     s.SteerRatioBP1,
	}
}

// Select returns the ratio for this tick, clamped to MinFactor.
// prevDesiredAngleDeg is the previous tick's desired steering-wheel angle.
func (s RatioSelector) Select(prevDesiredAngleDeg, liveRatio float64) float64 {
	var sr float64
	switch s.Policy {
	case RatioDynamic:
		key := lo.Clamp(math.Abs(prevDesiredAngleDeg), s.BP0, s.BP1)
		frac := 0.0
		if s.BP1 > s.BP0 {
			frac = (key - s.BP0) / (s.BP1 - s.BP0)
		}
		sr = s.Nominal + frac*s.Boost
	case RatioLive:
		sr = liveRatio
	default:
		sr = s.Nominal
	}
	return math.Max(sr, MinFactor)
}
