// Package publish turns planner results into messages on the in-process
// bus. Every tick produces a lateralPlan message; a liveMpc message with
// the raw optimizer trajectory follows when diagnostics are enabled.
package publish

import (
	"os"
	"strconv"
	"time"

	"github.com/banshee-data/lateral.plan/internal/bus"
	"github.com/banshee-data/lateral.plan/internal/planner"
)

// Topics.
const (
	TopicLateralPlan = "lateralPlan"
	TopicLiveMpc     = "liveMpc"
)

// LogMPCEnv enables the liveMpc stream when set to a true value.
const LogMPCEnv = "LOG_MPC"

// LiveMpc is the optimizer trajectory published for offline analysis.
type LiveMpc struct {
	X         []float64 `json:"x"`
	Y         []float64 `json:"y"`
	Psi       []float64 `json:"psi"`
	Curvature []float64 `json:"curvature"`
	Rate      []float64 `json:"curvature_rate"`
	TireAngle []float64 `json:"tire_angle"`
	Cost      float64   `json:"cost"`
}

// Message is one published record. Exactly one payload is set, matching
// Topic.
type Message struct {
	Topic       string          `json:"topic"`
	LogMonoTime int64           `json:"log_mono_time"` // nanoseconds since the publisher started
	Valid       bool            `json:"valid"`         // all inputs were fresh
	LateralPlan *planner.Output `json:"lateral_plan,omitempty"`
	LiveMpc     *LiveMpc        `json:"live_mpc,omitempty"`
}

// Publisher writes planner results to a bus.
type Publisher struct {
	bus     *bus.Bus[Message]
	start   time.Time
	now     func() time.Time
	liveMpc bool
}

// NewPublisher returns a publisher on b. liveMpc enables the diagnostic
// stream.
func NewPublisher(b *bus.Bus[Message], liveMpc bool) *Publisher {
	p := &Publisher{bus: b, now: time.Now, liveMpc: liveMpc}
	p.start = p.now()
	return p
}

// LiveMpcFromEnv reports whether LOG_MPC enables the liveMpc stream.
func LiveMpcFromEnv() bool {
	v, ok := os.LookupEnv(LogMPCEnv)
	if !ok || v == "" {
		return false
	}
	on, err := strconv.ParseBool(v)
	if err != nil {
		// Any other non-empty value enables it.
		return true
	}
	return on
}

// Publish sends the plan and, when enabled, the optimizer trajectory.
// valid is the caller's judgement of input freshness.
func (p *Publisher) Publish(out planner.Output, diag planner.Diagnostics, valid bool) {
	mono := p.now().Sub(p.start).Nanoseconds()
	plan := out
	p.bus.Publish(Message{Topic: TopicLateralPlan, LogMonoTime: mono, Valid: valid, LateralPlan: &plan})

	if !p.liveMpc {
		return
	}
	sol := diag.Solution
	p.bus.Publish(Message{
		Topic:       TopicLiveMpc,
		LogMonoTime: mono,
		Valid:       valid,
		LiveMpc: &LiveMpc{
			X:         sol.X,
			Y:         sol.Y,
			Psi:       sol.Psi,
			Curvature: sol.Curvature,
			Rate:      sol.CurvatureRate,
			TireAngle: sol.TireAngle,
			Cost:      sol.Cost,
		},
	})
}
