package mpc

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"
)

const (
	defaultMaxIterations = 100
	defaultWheelbase     = 2.7
)

// GradientSolver minimises the tracking objective over the curvature-rate
// sequence with L-BFGS on a kinematic single-track model. The gradient is
// taken by central finite differences.
//
// Between samples the model integrates with forward Euler over the
// non-uniform intervals of Problem.T:
//
//	x' = v·cos ψ   y' = v·sin ψ   ψ' = v·κ   κ' = u
//
// and the objective is Σ path·(y−y*)² + heading·(ψ−ψ*)² + Σ rate·u².
type GradientSolver struct {
	// Wheelbase converts curvature to a tire angle estimate.
	Wheelbase float64
	// MaxIterations caps L-BFGS major iterations per solve.
	MaxIterations int

	costs Costs
	warm  []float64
}

// NewGradientSolver returns a solver for a vehicle with the given
// wheelbase in metres.
func NewGradientSolver(wheelbase float64) *GradientSolver {
	if wheelbase <= 0 {
		wheelbase = defaultWheelbase
	}
	return &GradientSolver{Wheelbase: wheelbase, MaxIterations: defaultMaxIterations}
}

// Init stores the cost weights and drops the warm start.
func (g *GradientSolver) Init(c Costs) {
	g.costs = c
	g.warm = nil
}

// Solve implements Solver.
func (g *GradientSolver) Solve(p Problem) (Solution, error) {
	if err := p.validate(); err != nil {
		return Solution{}, err
	}
	if math.IsNaN(p.Speed) || math.IsNaN(p.State.Curvature) {
		return Solution{}, errors.New("mpc: non-finite initial condition")
	}

	objective := func(u []float64) float64 {
		return g.cost(p, u)
	}
	problem := optimize.Problem{
		Func: objective,
		Grad: func(grad, u []float64) {
			fd.Gradient(grad, objective, u, &fd.Settings{Formula: fd.Central})
		},
	}

	u0 := make([]float64, HorizonSteps)
	if len(g.warm) == HorizonSteps {
		// Shift the previous plan by one interval.
		copy(u0, g.warm[1:])
		u0[HorizonSteps-1] = g.warm[HorizonSteps-1]
	}

	settings := &optimize.Settings{MajorIterations: g.MaxIterations}
	result, err := optimize.Minimize(problem, u0, settings, &optimize.LBFGS{})
	if result == nil {
		return Solution{}, err
	}
	// A line search that stalls near the optimum still leaves a usable
	// location; divergence is judged by the caller from cost and NaNs.

	u := result.X
	g.warm = append(g.warm[:0], u...)
	sol := g.rollout(p, u)
	sol.Cost = result.F
	return sol, nil
}

func (g *GradientSolver) cost(p Problem, u []float64) float64 {
	sol := g.rollout(p, u)
	var c float64
	for i := 0; i < HorizonLen; i++ {
		dy := sol.Y[i] + p.RotationRadius*math.Sin(sol.Psi[i]) - p.YTarget[i]
		dpsi := sol.Psi[i] - p.HeadingTarget[i]
		c += g.costs.Path*dy*dy + g.costs.Heading*dpsi*dpsi
	}
	for _, r := range u {
		c += g.costs.SteerRate * r * r
	}
	return c
}

func (g *GradientSolver) rollout(p Problem, u []float64) Solution {
	sol := Solution{
		X:             make([]float64, HorizonLen),
		Y:             make([]float64, HorizonLen),
		Psi:           make([]float64, HorizonLen),
		Curvature:     make([]float64, HorizonLen),
		CurvatureRate: make([]float64, HorizonLen),
		TireAngle:     make([]float64, HorizonLen),
	}
	sol.X[0], sol.Y[0], sol.Psi[0], sol.Curvature[0] = p.State.X, p.State.Y, p.State.Psi, p.State.Curvature

	for i := 0; i < HorizonSteps; i++ {
		dt := p.T[i+1] - p.T[i]
		sol.CurvatureRate[i] = u[i]
		sol.X[i+1] = sol.X[i] + p.Speed*math.Cos(sol.Psi[i])*dt
		sol.Y[i+1] = sol.Y[i] + p.Speed*math.Sin(sol.Psi[i])*dt
		sol.Psi[i+1] = sol.Psi[i] + p.Speed*sol.Curvature[i]*dt
		sol.Curvature[i+1] = sol.Curvature[i] + u[i]*dt
	}
	sol.CurvatureRate[HorizonSteps] = u[HorizonSteps-1]
	for i, k := range sol.Curvature {
		sol.TireAngle[i] = math.Atan(k * g.Wheelbase)
	}
	return sol
}
