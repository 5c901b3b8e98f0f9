// Package runner drives the planner from a stream of input frames: one
// Update per frame, the result published on the bus, tuning polled every
// tick.
package runner

import (
	"context"
	"net/http"
	"sync"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/lateral.plan/internal/carstate"
	"github.com/banshee-data/lateral.plan/internal/config"
	"github.com/banshee-data/lateral.plan/internal/httputil"
	"github.com/banshee-data/lateral.plan/internal/monitoring"
	"github.com/banshee-data/lateral.plan/internal/planner"
	"github.com/banshee-data/lateral.plan/internal/publish"
	"github.com/banshee-data/lateral.plan/internal/source"
	"github.com/banshee-data/lateral.plan/internal/timeutil"
)

// Options configure a Runner.
type Options struct {
	// Paced holds each frame to one control period. Replays of recorded
	// drives run as fast as possible when false.
	Paced bool
	// Car selects GM signal decoding for frames that carry raw samples.
	Car   carstate.Car
	Clock timeutil.Clock
}

// Status is the most recent tick, served on the debug endpoint.
type Status struct {
	Tick    int64          `json:"tick"`
	Valid   bool           `json:"valid"`
	Plan    planner.Output `json:"plan"`
	Errors  int64          `json:"errors"`
	Reloads int            `json:"reloads"`
}

// Runner owns the planner for the lifetime of one input stream.
type Runner struct {
	planner *planner.Planner
	pub     *publish.Publisher
	tuning  *config.Reloader
	opts    Options

	mu     sync.RWMutex
	status Status
}

// New returns a Runner. The planner is built from the reloader's current
// snapshot.
func New(tuning *config.Reloader, pub *publish.Publisher, deps planner.Deps, opts Options) *Runner {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if deps.Clock == nil {
		deps.Clock = opts.Clock
	}
	return &Runner{
		planner: planner.New(tuning.Current(), deps),
		pub:     pub,
		tuning:  tuning,
		opts:    opts,
	}
}

// Run consumes frames until the channel closes or ctx is cancelled.
func (r *Runner) Run(ctx context.Context, frames <-chan source.Frame) error {
	var tick <-chan time.Time
	if r.opts.Paced {
		t := r.opts.Clock.NewTicker(timeutil.TickPeriod)
		defer t.Stop()
		tick = t.C()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			r.Step(f)
		}

		if tick == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
		}
	}
}

// Step runs one planner tick on f and publishes the result. A tick whose
// update fails publishes nothing.
func (r *Runner) Step(f source.Frame) {
	tuning := r.tuning.Poll()
	out, diag, err := r.planner.Update(f.PlannerInputs(r.opts.Car), tuning)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.Tick++
	r.status.Reloads = r.tuning.Reloads()
	if err != nil {
		r.status.Errors++
		monitoring.Opsf("runner: tick %d: %v", r.status.Tick, err)
		return
	}
	r.status.Valid = f.IsValid()
	r.status.Plan = out
	r.pub.Publish(out, diag, r.status.Valid)
	monitoring.Tracef("tick %d angle=%.3f valid=%t mpc=%t", r.status.Tick, out.AngleSteersDeg, r.status.Valid, out.MPCSolutionValid)
}

// Latest returns the status after the most recent tick.
func (r *Runner) Latest() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// AttachAdminRoutes serves the latest plan at /api/plan/latest and reports
// the tick counters on the debug index.
func (r *Runner) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.KVFunc("ticks", func() any { return r.Latest().Tick })
	debug.KVFunc("tick errors", func() any { return r.Latest().Errors })
	debug.KVFunc("tuning reloads", func() any { return r.Latest().Reloads })

	mux.HandleFunc("/api/plan/latest", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		st := r.Latest()
		if st.Tick == 0 {
			httputil.NotFound(w, "no ticks yet")
			return
		}
		httputil.WriteJSONOK(w, st)
	})
}
