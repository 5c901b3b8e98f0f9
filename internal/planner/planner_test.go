package planner

import (
	"testing"
	"time"

	"github.com/banshee-data/lateral.plan/internal/config"
	"github.com/banshee-data/lateral.plan/internal/lanechange"
	"github.com/banshee-data/lateral.plan/internal/lanes"
	"github.com/banshee-data/lateral.plan/internal/monitoring"
	"github.com/banshee-data/lateral.plan/internal/mpc"
	"github.com/banshee-data/lateral.plan/internal/timeutil"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultTuning(t *testing.T) config.Snapshot {
	t.Helper()
	return config.MustLoadDefaultConfig().Snapshot()
}

func filled(n int, v float64) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = v
	}
	return s
}

// forecast builds a model output travelling at speed with lateral position
// y = bend·x². laneProb is the confidence of both ego lane lines, which sit
// 1.8 m either side of the path. changeProb is reported for both lane-change
// desires.
func forecast(speed, bend, laneProb, changeProb float64) lanes.ModelOutput {
	n := lanes.TrajectorySize
	t := lanes.ModelTimes()
	md := lanes.ModelOutput{
		Position:    lanes.Sequence{X: make([]float64, n), Y: make([]float64, n), Z: make([]float64, n), T: t},
		Orientation: lanes.Sequence{X: make([]float64, n), Y: make([]float64, n), Z: make([]float64, n), T: t},
	}
	for i, ti := range t {
		x := speed * ti
		md.Position.X[i] = x
		md.Position.Y[i] = bend * x * x
		md.Orientation.Z[i] = 2 * bend * x
	}
	for _, off := range []float64{-5.4, -1.8, 1.8, 5.4} {
		line := lanes.Sequence{X: make([]float64, n), Y: make([]float64, n), Z: make([]float64, n), T: t}
		for i := range t {
			line.X[i] = md.Position.X[i]
			line.Y[i] = md.Position.Y[i] + off
		}
		md.LaneLines = append(md.LaneLines, line)
	}
	md.LaneLineProbs = []float64{0.1, laneProb, laneProb, 0.1}
	md.LaneLineStds = filled(4, 0.05)
	md.DesireState = filled(8, 0)
	md.DesireState[lanes.DesireStateLaneChangeLeft] = changeProb / 2
	md.DesireState[lanes.DesireStateLaneChangeRight] = changeProb / 2
	return md
}

func cruise(speed float64) Inputs {
	return Inputs{
		Vehicle: VehicleState{Speed: speed, Active: true},
		Live:    LiveParameters{StiffnessFactor: 1, SteerRatio: 15.7},
		Model:   forecast(speed, 0, 0.9, 0.5),
	}
}

// scriptedSolver returns a fixed straight-line solution with the given cost.
type scriptedSolver struct {
	cost  float64
	inits int
	last  mpc.Problem
}

func (s *scriptedSolver) Init(mpc.Costs) { s.inits++ }

func (s *scriptedSolver) Solve(p mpc.Problem) (mpc.Solution, error) {
	s.last = p
	z := func() []float64 { return make([]float64, mpc.HorizonLen) }
	return mpc.Solution{X: z(), Y: z(), Psi: z(), Curvature: z(), CurvatureRate: z(), TireAngle: z(), Cost: s.cost}, nil
}

func mustUpdate(t *testing.T, p *Planner, in Inputs, tuning config.Snapshot) (Output, Diagnostics) {
	t.Helper()
	out, diag, err := p.Update(in, tuning)
	require.NoError(t, err)
	return out, diag
}

// --------------------------------------------------------------------------
// Steering command
// --------------------------------------------------------------------------

func TestStraightRoadHoldsCenter(t *testing.T) {
	tuning := defaultTuning(t)
	p := New(tuning, Deps{})

	in := cruise(25)
	in.Model = forecast(25, 0, 0, 0)
	in.Vehicle.SteeringAngleDeg = 1.5
	in.Live.AngleOffsetDeg = 1.5
	var out Output
	var diag Diagnostics
	for i := 0; i < 5; i++ {
		out, diag = mustUpdate(t, p, in, tuning)
	}

	assert.True(t, out.MPCSolutionValid)
	assert.False(t, diag.Invalid)
	assert.Len(t, diag.Solution.Curvature, mpc.HorizonLen)
	assert.Len(t, out.DPathPoints, mpc.HorizonLen)
	assert.InDelta(t, 1.5, out.AngleSteersDeg, 0.1)
	assert.InDelta(t, 0, out.RateSteersDeg, 0.5)
	assert.Equal(t, 15.7, out.SteerRatio)
	assert.Equal(t, tuning.SteerRateCost, out.SteerRateCost)
	assert.Equal(t, tuning.SteerActuatorDelay, out.SteerActuatorDelay)
	assert.Equal(t, 1.5, out.AngleOffsetDeg)
}

func TestInactiveFollowsMeasuredAngle(t *testing.T) {
	tuning := defaultTuning(t)
	p := New(tuning, Deps{})

	in := cruise(20)
	in.Vehicle.Active = false
	in.Vehicle.SteeringAngleDeg = 5
	in.Live.AngleOffsetDeg = 1
	in.Model = forecast(20, 0.002, 0.9, 0)

	out, diag := mustUpdate(t, p, in, tuning)
	assert.InDelta(t, 5.0, out.AngleSteersDeg, 1e-9)
	assert.Zero(t, out.RateSteersDeg)
	assert.Less(t, diag.MeasuredCurvature, 0.0, "left steering is negative curvature in plan frame")
	assert.Equal(t, lanechange.Off, out.LaneChangeState)
}

func TestCurvedRoadSteersIntoBend(t *testing.T) {
	tuning := defaultTuning(t)
	p := New(tuning, Deps{})

	in := cruise(20)
	in.Model = forecast(20, 0.002, 0.0, 0)
	var out Output
	for i := 0; i < 5; i++ {
		out, _ = mustUpdate(t, p, in, tuning)
	}
	assert.True(t, out.MPCSolutionValid)
	assert.Less(t, out.AngleSteersDeg, 0.0, "positive plan curvature maps to a negative wheel angle")
	assert.Greater(t, out.DPathPoints[mpc.HorizonSteps], 0.0)
}

func TestSteerRatioPolicy(t *testing.T) {
	t.Run("dynamic", func(t *testing.T) {
		tuning := defaultTuning(t)
		tuning.UseDynamicSteerRatio = true
		p := New(tuning, Deps{})

		in := cruise(20)
		in.Vehicle.Active = false
		in.Vehicle.SteeringAngleDeg = 20

		out, _ := mustUpdate(t, p, in, tuning)
		assert.InDelta(t, tuning.SteerRatio, out.SteerRatio, 1e-9)
		assert.InDelta(t, 20.0, out.AngleSteersDeg, 1e-9)

		out, _ = mustUpdate(t, p, in, tuning)
		assert.InDelta(t, tuning.SteerRatio+tuning.SteerRatioBoost/2, out.SteerRatio, 1e-9)
	})

	t.Run("live", func(t *testing.T) {
		tuning := defaultTuning(t)
		tuning.UseLiveSteerRatio = true
		p := New(tuning, Deps{})

		in := cruise(20)
		in.Live.SteerRatio = 14.2
		out, _ := mustUpdate(t, p, in, tuning)
		assert.Equal(t, 14.2, out.SteerRatio)

		in.Live.SteerRatio = -3
		out, _ = mustUpdate(t, p, in, tuning)
		assert.Equal(t, 0.1, out.SteerRatio)
	})
}

func TestRetuneReseedsOptimizer(t *testing.T) {
	tuning := defaultTuning(t)
	solver := &scriptedSolver{cost: 1}
	p := New(tuning, Deps{Solver: solver, Clock: timeutil.NewMockClock(time.Unix(0, 0))})

	in := cruise(20)
	in.Vehicle.SteeringAngleDeg = 3
	mustUpdate(t, p, in, tuning)
	require.Equal(t, 1, solver.inits)
	assert.Zero(t, solver.last.State.Curvature, "warm start from the previous plan")

	tuning.SteerRateCost = 1.0
	_, diag := mustUpdate(t, p, in, tuning)
	assert.Equal(t, 2, solver.inits)
	assert.Equal(t, 1.0, p.opt.Costs().SteerRate)
	assert.Equal(t, diag.MeasuredCurvature, solver.last.State.Curvature)

	mustUpdate(t, p, in, tuning)
	assert.Equal(t, 2, solver.inits, "unchanged tuning does not reinit")
}

// --------------------------------------------------------------------------
// Lane change through the planner
// --------------------------------------------------------------------------

func startLeftChange(t *testing.T, p *Planner, tuning config.Snapshot, blindspot bool) []lanechange.State {
	t.Helper()
	in := cruise(20)
	in.Vehicle.LeftBlinker = true
	in.Vehicle.LeftBlindspot = blindspot
	out, _ := mustUpdate(t, p, in, tuning)
	require.Equal(t, lanechange.PreLaneChange, out.LaneChangeState)

	in.Vehicle.SteeringTorque = 1.5
	in.Vehicle.SteeringPressed = true
	var visited []lanechange.State
	for i := 0; i < 30; i++ { // 1.5 s of torque
		out, _ = mustUpdate(t, p, in, tuning)
		visited = append(visited, out.LaneChangeState)
		if out.LaneChangeState == lanechange.LaneChangeStarting {
			break
		}
	}
	return visited
}

func TestLaneChangeProgresses(t *testing.T) {
	tuning := defaultTuning(t)
	p := New(tuning, Deps{})

	visited := startLeftChange(t, p, tuning, false)
	require.Contains(t, visited, lanechange.LaneChangeStarting)

	in := cruise(20)
	in.Vehicle.LeftBlinker = true
	var out Output
	for i := 0; i < 5; i++ {
		out, _ = mustUpdate(t, p, in, tuning)
	}
	assert.Equal(t, lanechange.DesireLaneChangeLeft, out.Desire)
	assert.Equal(t, lanechange.DirectionLeft, out.LaneChangeDirection)
	assert.InDelta(t, 0.9*0.5, out.LProb, 1e-9, "lane lines fade during the change")
	assert.InDelta(t, 0.9*0.5, out.RProb, 1e-9)
}

func TestLaneChangeBlockedByBlindspot(t *testing.T) {
	tuning := defaultTuning(t)
	p := New(tuning, Deps{})

	visited := startLeftChange(t, p, tuning, true)
	assert.NotContains(t, visited, lanechange.LaneChangeStarting)

	in := cruise(20)
	in.Vehicle.LeftBlinker = true
	in.Vehicle.LeftBlindspot = true
	in.Vehicle.SteeringTorque = 1.5
	in.Vehicle.SteeringPressed = true
	for i := 0; i < 100; i++ {
		out, _ := mustUpdate(t, p, in, tuning)
		require.Equal(t, lanechange.PreLaneChange, out.LaneChangeState)
		require.Equal(t, lanechange.DesireNone, out.Desire)
		require.InDelta(t, 0.9, out.LProb, 1e-9, "no fade before the change starts")
	}

	in.Vehicle.LeftBlindspot = false
	out, _ := mustUpdate(t, p, in, tuning)
	assert.Equal(t, lanechange.LaneChangeStarting, out.LaneChangeState)
}

func TestLaneChangeCompletesAfterBlinkerRelease(t *testing.T) {
	tuning := defaultTuning(t)
	p := New(tuning, Deps{})
	require.Contains(t, startLeftChange(t, p, tuning, false), lanechange.LaneChangeStarting)

	in := cruise(20)
	in.Model = forecast(20, 0, 0.9, 0) // the model sees the car in the new lane

	var states []lanechange.State
	for i := 0; i < 60; i++ {
		out, _ := mustUpdate(t, p, in, tuning)
		states = append(states, out.LaneChangeState)
	}
	assert.Contains(t, states, lanechange.LaneChangeFinishing)
	assert.Equal(t, lanechange.Off, states[len(states)-1])
	assert.Equal(t, lanechange.DirectionNone, p.LaneChange().Direction)
}

// --------------------------------------------------------------------------
// Degraded inputs
// --------------------------------------------------------------------------

func TestMalformedForecastKeepsPreviousPath(t *testing.T) {
	tuning := defaultTuning(t)
	p := New(tuning, Deps{})

	in := cruise(20)
	in.Model = forecast(20, 0.001, 0, 0)
	first, _ := mustUpdate(t, p, in, tuning)

	bad := forecast(20, -0.01, 0, 0)
	bad.Position.X = bad.Position.X[:10]
	in.Model = bad
	second, _, err := p.Update(in, tuning)
	require.NoError(t, err)

	if diff := cmp.Diff(first.DPathPoints, second.DPathPoints); diff != "" {
		t.Errorf("path changed on malformed forecast (-first +second):\n%s", diff)
	}
}

func TestShortLaneLineTimesDegrade(t *testing.T) {
	tuning := defaultTuning(t)
	p := New(tuning, Deps{Solver: &scriptedSolver{}})

	in := cruise(20)
	first, _ := mustUpdate(t, p, in, tuning)

	in.Model = forecast(20, 0, 0.9, 0.5)
	in.Model.LaneLines[1].T = in.Model.LaneLines[1].T[:10]
	var second Output
	require.NotPanics(t, func() { second, _ = mustUpdate(t, p, in, tuning) })
	assert.InDelta(t, first.LProb, second.LProb, 1e-12)
}

func TestPersistentDivergenceFlagsOutput(t *testing.T) {
	original := monitoring.Logf
	defer func() { monitoring.Logf = original }()
	monitoring.SetLogWriters(monitoring.LogWriters{})
	var logged []string
	monitoring.SetLogger(func(format string, v ...interface{}) { logged = append(logged, format) })

	tuning := defaultTuning(t)
	clock := timeutil.NewMockClock(time.Unix(500, 0))
	p := New(tuning, Deps{Solver: &scriptedSolver{cost: 25000}, Clock: clock})

	want := []bool{true, false, false}
	var diag Diagnostics
	for i, valid := range want {
		var out Output
		out, diag = mustUpdate(t, p, cruise(20), tuning)
		assert.Equal(t, valid, out.MPCSolutionValid, "tick %d", i+1)
		assert.True(t, diag.Invalid)
		clock.Advance(timeutil.TickPeriod)
	}
	assert.Equal(t, 3, diag.InvalidCount)
	assert.Len(t, logged, 1)
}
