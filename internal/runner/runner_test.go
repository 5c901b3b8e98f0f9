package runner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lateral.plan/internal/bus"
	"github.com/banshee-data/lateral.plan/internal/carstate"
	"github.com/banshee-data/lateral.plan/internal/config"
	"github.com/banshee-data/lateral.plan/internal/mpc"
	"github.com/banshee-data/lateral.plan/internal/planner"
	"github.com/banshee-data/lateral.plan/internal/publish"
	"github.com/banshee-data/lateral.plan/internal/source"
	"github.com/banshee-data/lateral.plan/internal/timeutil"
)

// straightSolver always returns a zero-curvature trajectory.
type straightSolver struct{}

func (straightSolver) Init(mpc.Costs) {}

func (straightSolver) Solve(mpc.Problem) (mpc.Solution, error) {
	z := func() []float64 { return make([]float64, mpc.HorizonLen) }
	return mpc.Solution{X: z(), Y: z(), Psi: z(), Curvature: z(), CurvatureRate: z(), TireAngle: z()}, nil
}

func newRunner(t *testing.T, opts Options) (*Runner, <-chan publish.Message) {
	t.Helper()
	reloader, err := config.NewReloader(func() (*config.TuningConfig, error) {
		return config.DefaultTuningConfig(), nil
	})
	require.NoError(t, err)

	b := bus.New[publish.Message](64)
	_, ch := b.Subscribe()
	r := New(reloader, publish.NewPublisher(b, false), planner.Deps{Solver: straightSolver{}}, opts)
	return r, ch
}

func frame(speed, angle float64) source.Frame {
	return source.Frame{Inputs: planner.Inputs{
		Vehicle: planner.VehicleState{Speed: speed, SteeringAngleDeg: angle, Active: true},
		Live:    planner.LiveParameters{StiffnessFactor: 1, SteerRatio: 15, AngleOffsetDeg: angle},
	}}
}

func feed(frames ...source.Frame) <-chan source.Frame {
	ch := make(chan source.Frame, len(frames))
	for _, f := range frames {
		ch <- f
	}
	close(ch)
	return ch
}

// ----

func TestRunPublishesEveryFrame(t *testing.T) {
	t.Parallel()

	r, ch := newRunner(t, Options{})
	require.NoError(t, r.Run(context.Background(), feed(frame(20, 1), frame(20, 1), frame(20, 1))))

	require.Len(t, ch, 3)
	for range 3 {
		msg := <-ch
		assert.Equal(t, publish.TopicLateralPlan, msg.Topic)
		assert.True(t, msg.Valid)
		require.NotNil(t, msg.LateralPlan)
		assert.True(t, msg.LateralPlan.MPCSolutionValid)
	}

	st := r.Latest()
	assert.Equal(t, int64(3), st.Tick)
	assert.Zero(t, st.Errors)
	assert.InDelta(t, 1.0, st.Plan.AngleSteersDeg, 1e-9)
}

func TestRunCarriesFrameValidity(t *testing.T) {
	t.Parallel()

	stale := false
	f := frame(15, 0)
	f.Valid = &stale

	r, ch := newRunner(t, Options{})
	require.NoError(t, r.Run(context.Background(), feed(f)))
	msg := <-ch
	assert.False(t, msg.Valid)
	assert.False(t, r.Latest().Valid)
}

func TestRunDecodesGMFrames(t *testing.T) {
	t.Parallel()

	f := frame(0, 0)
	f.GM = &carstate.Signals{
		FLWheelSpdKph: 72, FRWheelSpdKph: 72, RLWheelSpdKph: 72, RRWheelSpdKph: 72,
		TurnSignals: carstate.TurnSignalLeft,
		CruiseState: 1,
	}

	r, _ := newRunner(t, Options{Car: carstate.CarVolt})
	require.NoError(t, r.Run(context.Background(), feed(f)))
	assert.Equal(t, "preLaneChange", r.Latest().Plan.LaneChangeState.String())
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	r, _ := newRunner(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.Run(ctx, make(chan source.Frame))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunPaced(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(time.Unix(0, 0))
	r, ch := newRunner(t, Options{Paced: true, Clock: clock})

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background(), feed(frame(20, 0), frame(20, 0))) }()

	require.Eventually(t, func() bool { return len(ch) == 1 }, time.Second, time.Millisecond)
	assert.Never(t, func() bool { return len(ch) > 1 }, 20*time.Millisecond, time.Millisecond)

	require.Eventually(t, func() bool {
		clock.Advance(timeutil.TickPeriod)
		return len(ch) == 2
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		clock.Advance(timeutil.TickPeriod)
		select {
		case err := <-done:
			return err == nil
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}

// ----

func TestLatestPlanRoute(t *testing.T) {
	t.Parallel()

	r, _ := newRunner(t, Options{})
	mux := http.NewServeMux()
	r.AttachAdminRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/plan/latest", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	r.Step(frame(20, 2))

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/plan/latest", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var st Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
	assert.Equal(t, int64(1), st.Tick)
	assert.InDelta(t, 2.0, st.Plan.AngleSteersDeg, 1e-9)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/plan/latest", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
