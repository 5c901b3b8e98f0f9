// Package mpc solves the lateral curvature-tracking problem over a fixed
// horizon and wraps the solver with delay compensation, divergence
// detection and command extraction.
//
// The concrete solver sits behind the Solver interface. Optimizer owns the
// failure bookkeeping; the warm-start State is passed in and returned on
// every Run so the caller decides where it lives.
package mpc

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/lateral.plan/internal/numeric"
	"gonum.org/v1/gonum/floats"
)

const (
	// HorizonSteps is the number of solver intervals. Every sequence in a
	// Problem and a Solution has HorizonSteps+1 samples.
	HorizonSteps = 16
	HorizonLen   = HorizonSteps + 1

	// CostThreshold marks a solve as diverged.
	CostThreshold = 20000.0

	// CommandMargin is added to the actuator delay when extracting the
	// command, covering delays the model does not see.
	CommandMargin = 0.2

	// RotationRadius is the distance from the rear axle to the point whose
	// lateral offset is tracked.
	RotationRadius = 0.0

	PathCost    = 1.0
	HeadingCost = 1.0

	minCommandSpeed = 0.1
)

// ErrInvalidHorizon is returned when a target or time sequence does not
// have HorizonLen samples.
var ErrInvalidHorizon = errors.New("mpc: sequence length does not match horizon")

// State is the solver's initial condition in the vehicle frame.
type State struct {
	X         float64
	Y         float64
	Psi       float64
	Curvature float64
}

// Costs are the tunable weights of the tracking objective.
type Costs struct {
	Path      float64
	Heading   float64
	SteerRate float64
}

// DefaultCosts returns the fixed path and heading weights with the given
// steering-rate cost.
func DefaultCosts(steerRateCost float64) Costs {
	return Costs{Path: PathCost, Heading: HeadingCost, SteerRate: steerRateCost}
}

// Problem is one solver invocation.
type Problem struct {
	State          State
	Speed          float64
	RotationRadius float64
	T              []float64 // horizon sample times, seconds from now
	YTarget        []float64
	HeadingTarget  []float64
}

func (p Problem) validate() error {
	switch {
	case len(p.T) != HorizonLen:
		return fmt.Errorf("%w: t has %d samples, want %d", ErrInvalidHorizon, len(p.T), HorizonLen)
	case len(p.YTarget) != HorizonLen:
		return fmt.Errorf("%w: y target has %d samples, want %d", ErrInvalidHorizon, len(p.YTarget), HorizonLen)
	case len(p.HeadingTarget) != HorizonLen:
		return fmt.Errorf("%w: heading target has %d samples, want %d", ErrInvalidHorizon, len(p.HeadingTarget), HorizonLen)
	}
	return nil
}

// Solution is a predicted trajectory over the horizon.
type Solution struct {
	X             []float64 `json:"x"`
	Y             []float64 `json:"y"`
	Psi           []float64 `json:"psi"`
	Curvature     []float64 `json:"curvature"`
	CurvatureRate []float64 `json:"curvature_rate"`
	TireAngle     []float64 `json:"tire_angle"`
	Cost          float64   `json:"cost"`
}

// HasNaN reports whether any curvature sample is NaN.
func (s Solution) HasNaN() bool {
	return floats.HasNaN(s.Curvature)
}

// Usable reports whether the solution can be turned into a command.
func (s Solution) Usable() bool {
	return len(s.Curvature) == HorizonLen && len(s.Psi) == HorizonLen &&
		len(s.CurvatureRate) > 0 && !s.HasNaN()
}

// Solver computes a curvature trajectory for a Problem.
type Solver interface {
	// Init resets the solver and applies cost weights.
	Init(c Costs)
	// Solve returns a trajectory of HorizonLen samples.
	Solve(p Problem) (Solution, error)
}

// AdvanceByDelay extrapolates the pose forward by delay seconds at constant
// speed and curvature, under a small-angle heading assumption. Curvature is
// left as given.
func AdvanceByDelay(s State, speed, curvature, delay float64) State {
	s.X = speed * delay
	s.Psi = speed * curvature * delay
	s.Y = s.X * math.Sin(s.Psi/2)
	return s
}

// Command extracts the delay-compensated curvature and curvature-rate
// command from sol. t are the horizon times sol was solved against.
//
// Two curvature estimates are formed at delay+CommandMargin: the
// interpolated plan curvature and the curvature implied by the planned
// heading. The larger is used when the heading grows faster than the
// current curvature implies, the smaller otherwise.
func Command(sol Solution, t []float64, speed, delay float64) (curvature, rate float64) {
	at := delay + CommandMargin
	k := numeric.Interp(at, t, sol.Curvature)
	psi := numeric.Interp(at, t, sol.Psi)
	kFromPsi := psi / (math.Max(speed, minCommandSpeed) * at)

	if psi > sol.Curvature[0]*at*speed {
		curvature = math.Max(kFromPsi, k)
	} else {
		curvature = math.Min(kFromPsi, k)
	}
	return curvature, sol.CurvatureRate[0]
}
