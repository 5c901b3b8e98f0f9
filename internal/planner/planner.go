// Package planner runs one lateral planning cycle per control tick. It owns
// the vehicle model, the optimizer warm start and the lane-change context,
// and turns a set of Inputs into an Output steering command.
//
// A Planner is not safe for concurrent use; exactly one goroutine calls
// Update per tick.
package planner

import (
	"fmt"

	"github.com/banshee-data/lateral.plan/internal/config"
	"github.com/banshee-data/lateral.plan/internal/lanechange"
	"github.com/banshee-data/lateral.plan/internal/lanes"
	"github.com/banshee-data/lateral.plan/internal/monitoring"
	"github.com/banshee-data/lateral.plan/internal/mpc"
	"github.com/banshee-data/lateral.plan/internal/numeric"
	"github.com/banshee-data/lateral.plan/internal/timeutil"
	"github.com/banshee-data/lateral.plan/internal/units"
	"github.com/banshee-data/lateral.plan/internal/vehicle"
	"gonum.org/v1/gonum/floats"
)

// Deps are the swappable collaborators of a Planner. Nil fields get the
// production defaults.
type Deps struct {
	Solver mpc.Solver
	Lanes  LaneGeometryProvider
	Clock  timeutil.Clock
}

// Planner is the per-tick lateral planner.
type Planner struct {
	lanes LaneGeometryProvider
	model *vehicle.Model
	opt   *mpc.Optimizer

	tuning config.Snapshot
	state  mpc.State
	lc     lanechange.Context

	pathXYZ [][3]float64
	planYaw []float64
	tIdxs   []float64

	prevAngleDeg float64
}

// New builds a planner for the given initial tuning.
func New(tuning config.Snapshot, d Deps) *Planner {
	if d.Clock == nil {
		d.Clock = timeutil.RealClock{}
	}
	if d.Lanes == nil {
		d.Lanes = lanes.NewLanePlanner()
	}
	if d.Solver == nil {
		d.Solver = mpc.NewGradientSolver(tuning.CarWheelbaseM)
	}
	return &Planner{
		lanes:   d.Lanes,
		model:   vehicle.NewModel(vehicle.ParamsFromTuning(tuning)),
		opt:     mpc.NewOptimizer(d.Solver, mpc.DefaultCosts(tuning.SteerRateCost), d.Clock),
		tuning:  tuning,
		lc:      lanechange.NewContext(),
		pathXYZ: make([][3]float64, lanes.TrajectorySize),
		planYaw: make([]float64, lanes.TrajectorySize),
		tIdxs:   lanes.ModelTimes(),
	}
}

// LaneChange returns the current lane-change context.
func (p *Planner) LaneChange() lanechange.Context { return p.lc }

// OptimizerState returns the warm start carried into the next tick.
func (p *Planner) OptimizerState() mpc.State { return p.state }

// Update runs one planning cycle. tuning is the snapshot in force for this
// tick. The only error is mpc.ErrInvalidHorizon, which indicates a broken
// resampling step rather than bad input.
func (p *Planner) Update(in Inputs, tuning config.Snapshot) (Output, Diagnostics, error) {
	v := in.Vehicle.Speed
	steerRad := units.Radians(in.Vehicle.SteeringAngleDeg - in.Live.AngleOffsetDeg)

	// Vehicle model.
	if params := vehicle.ParamsFromTuning(tuning); params != p.model.Params() {
		p.model = vehicle.NewModel(params)
	}
	sr := vehicle.RatioSelectorFromTuning(tuning).Select(p.prevAngleDeg, in.Live.SteerRatio)
	p.model.UpdateParams(in.Live.StiffnessFactor, sr)
	cf := p.model.CurvatureFactor(v)
	measured := -cf * steerRad / p.model.SteerRatio()

	p.applyTuning(tuning, measured)

	// Forecast. A malformed trajectory keeps the previous one.
	p.lanes.ParseModel(in.Model)
	if in.Model.HasTrajectory() {
		p.pathXYZ = in.Model.Path()
		p.tIdxs = append([]float64(nil), in.Model.Position.T...)
		p.planYaw = in.Model.Yaw()
	}

	// Lane change.
	p.lc = lanechange.Step(p.lc, lanechange.Inputs{
		Active:          in.Vehicle.Active,
		Speed:           v,
		LeftBlinker:     in.Vehicle.LeftBlinker,
		RightBlinker:    in.Vehicle.RightBlinker,
		SteeringTorque:  in.Vehicle.SteeringTorque,
		SteeringPressed: in.Vehicle.SteeringPressed,
		LeftBlindspot:   in.Vehicle.LeftBlindspot,
		RightBlindspot:  in.Vehicle.RightBlindspot,
		LaneChangeProb:  p.lanes.LaneChangeProb(),
	}, lanechange.ConfigFromTuning(tuning))
	desire := p.lc.Desire()
	if desire.IsLaneChange() {
		p.lanes.ScaleLaneLineProbs(p.lc.LaneLineProb)
	}

	// Targets, resampled by distance along the path.
	dPath := p.lanes.DPath(v, p.tIdxs, p.pathXYZ)
	horizonT := p.tIdxs[:mpc.HorizonLen]
	query := numeric.Scale(v, horizonT)
	yPts := numeric.InterpAll(query, pathNorms(dPath), column(dPath, 1))
	headingPts := numeric.InterpAll(query, pathNorms(p.pathXYZ), p.planYaw)

	res, err := p.opt.Run(p.state, mpc.Request{
		Speed:             v,
		T:                 horizonT,
		YTarget:           yPts,
		HeadingTarget:     headingPts,
		MeasuredCurvature: measured,
		Delay:             tuning.SteerActuatorDelay,
	})
	if err != nil {
		return Output{}, Diagnostics{}, fmt.Errorf("planner: optimizer: %w", err)
	}
	p.state = res.Next

	curvature, rate := measured, 0.0
	if in.Vehicle.Active && res.Solution.Usable() {
		curvature, rate = mpc.Command(res.Solution, horizonT, v, tuning.SteerActuatorDelay)
	}

	// Controls use the opposite sign convention.
	angle := -units.Degrees(curvature*p.model.SteerRatio())/cf + in.Live.AngleOffsetDeg
	angleRate := -units.Degrees(rate*p.model.SteerRatio()) / cf
	p.prevAngleDeg = angle

	geo := p.lanes.Geometry()
	out := Output{
		LaneWidth:           geo.LaneWidth,
		DPathPoints:         yPts,
		LProb:               geo.LeftProb,
		RProb:               geo.RightProb,
		DProb:               geo.DProb,
		AngleSteersDeg:      angle,
		RateSteersDeg:       angleRate,
		AngleOffsetDeg:      in.Live.AngleOffsetDeg,
		MPCSolutionValid:    p.opt.Valid(),
		Desire:              desire,
		LaneChangeState:     p.lc.State,
		LaneChangeDirection: p.lc.Direction,
		SteerRatio:          p.model.SteerRatio(),
		SteerRateCost:       tuning.SteerRateCost,
		SteerActuatorDelay:  tuning.SteerActuatorDelay,
	}
	diag := Diagnostics{
		Solution:          res.Solution,
		Invalid:           res.Invalid,
		InvalidCount:      p.opt.InvalidCount(),
		MeasuredCurvature: measured,
		CurvatureFactor:   cf,
	}
	return out, diag, nil
}

// applyTuning reinitialises the optimizer when its costs or the actuator
// delay change, reseeding the warm start from the measured curvature.
func (p *Planner) applyTuning(tuning config.Snapshot, measured float64) {
	if tuning.SteerRateCost == p.tuning.SteerRateCost &&
		tuning.SteerActuatorDelay == p.tuning.SteerActuatorDelay {
		p.tuning = tuning
		return
	}
	monitoring.Diagf("planner: optimizer retuned steer_rate_cost=%.3f steer_actuator_delay=%.3f",
		tuning.SteerRateCost, tuning.SteerActuatorDelay)
	p.opt.Reinit(mpc.DefaultCosts(tuning.SteerRateCost))
	p.state.Curvature = measured
	p.tuning = tuning
}

func pathNorms(path [][3]float64) []float64 {
	out := make([]float64, len(path))
	for i := range path {
		out[i] = floats.Norm(path[i][:], 2)
	}
	return out
}

func column(path [][3]float64, j int) []float64 {
	out := make([]float64, len(path))
	for i := range path {
		out[i] = path[i][j]
	}
	return out
}
