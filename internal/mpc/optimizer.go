package mpc

import (
	"time"

	"github.com/banshee-data/lateral.plan/internal/monitoring"
	"github.com/banshee-data/lateral.plan/internal/numeric"
	"github.com/banshee-data/lateral.plan/internal/timeutil"
)

// DiagnosticInterval bounds how often a divergence is logged.
const DiagnosticInterval = 5 * time.Second

// Request is the per-tick input to Optimizer.Run.
type Request struct {
	Speed         float64
	T             []float64
	YTarget       []float64
	HeadingTarget []float64

	// MeasuredCurvature is derived from the steering angle, not the plan.
	// It drives delay extrapolation and reseeding after a divergence.
	MeasuredCurvature float64
	Delay             float64 // actuator delay, seconds
}

// Result is the outcome of one Run.
type Result struct {
	Solution Solution
	// Next is the warm-start state for the following tick.
	Next State
	// Invalid is true when this solve diverged.
	Invalid bool
}

// Optimizer runs a Solver once per tick and tracks consecutive
// divergences.
type Optimizer struct {
	solver   Solver
	costs    Costs
	invalid  int
	throttle *monitoring.Throttle
}

// NewOptimizer initialises solver with costs.
func NewOptimizer(solver Solver, costs Costs, clock timeutil.Clock) *Optimizer {
	solver.Init(costs)
	return &Optimizer{
		solver:   solver,
		costs:    costs,
		throttle: monitoring.NewThrottle(clock, DiagnosticInterval),
	}
}

// Reinit applies new costs and resets the solver.
func (o *Optimizer) Reinit(costs Costs) {
	o.costs = costs
	o.solver.Init(costs)
}

// Costs returns the weights currently applied.
func (o *Optimizer) Costs() Costs { return o.costs }

// InvalidCount is the number of consecutive diverged solves.
func (o *Optimizer) InvalidCount() int { return o.invalid }

// Valid reports whether downstream may trust the plan. A single bad solve
// is tolerated.
func (o *Optimizer) Valid() bool { return o.invalid < 2 }

// Run advances state by the actuator delay, solves, and returns the
// solution together with the state to carry into the next tick.
//
// After every solve the pose resets to the origin and only curvature is
// carried, taken one tick ahead in the new plan. A diverged solve resets
// the solver costs and reseeds curvature from the measurement instead.
// ErrInvalidHorizon is returned before the solver is called.
func (o *Optimizer) Run(state State, req Request) (Result, error) {
	p := Problem{
		State:          AdvanceByDelay(state, req.Speed, req.MeasuredCurvature, req.Delay),
		Speed:          req.Speed,
		RotationRadius: RotationRadius,
		T:              req.T,
		YTarget:        req.YTarget,
		HeadingTarget:  req.HeadingTarget,
	}
	if err := p.validate(); err != nil {
		return Result{Next: state}, err
	}

	sol, err := o.solver.Solve(p)
	res := Result{Solution: sol}
	if err == nil && len(sol.Curvature) == HorizonLen {
		res.Next = State{Curvature: numeric.Interp(timeutil.DT, req.T, sol.Curvature)}
	}

	nan := sol.HasNaN()
	if err != nil || nan || sol.Cost > CostThreshold || len(sol.Curvature) != HorizonLen {
		res.Invalid = true
		o.solver.Init(o.costs)
		res.Next = State{Curvature: req.MeasuredCurvature}
		o.invalid++
		// One diagnostic per failure burst, and bursts themselves are rate
		// limited.
		if o.invalid > 1 {
			return res, nil
		}
		if err != nil {
			o.throttle.Printf("lateral mpc: solve failed (consecutive=%d): %v", o.invalid, err)
		} else {
			o.throttle.Printf("lateral mpc: invalid solution cost=%.1f nan=%t consecutive=%d", sol.Cost, nan, o.invalid)
		}
		return res, nil
	}

	o.invalid = 0
	return res, nil
}
