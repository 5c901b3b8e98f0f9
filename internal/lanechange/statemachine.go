package lanechange

import (
	"github.com/banshee-data/lateral.plan/internal/config"
	"github.com/banshee-data/lateral.plan/internal/timeutil"
	"github.com/samber/lo"
)

const (
	// MaxDuration aborts a manoeuvre that has been starting or finishing
	// for longer than this many seconds.
	MaxDuration = 10.0

	// finishProbThreshold is the summed model lane-change probability below
	// which the vehicle is considered to be in the new lane.
	finishProbThreshold = 0.02
	fadedOut            = 0.01
	fadedIn             = 0.99

	// timerEpsilon absorbs accumulated rounding in DT sums.
	timerEpsilon = 1e-9
)

// Context is the lane-change state carried between ticks.
type Context struct {
	State     State
	Direction Direction

	Timer      float64 // seconds spent starting or finishing
	PreTimer   float64 // seconds a blinker has been held
	NudgeTimer float64 // seconds torque has been applied towards Direction

	// LaneLineProb is the blend factor applied to lane-line probabilities
	// while a lane change desire is active, in [0,1].
	LaneLineProb float64

	PrevOneBlinker bool
}

// NewContext returns the initial context: off, no direction, lane lines
// fully blended in.
func NewContext() Context {
	return Context{State: Off, Direction: DirectionNone, LaneLineProb: 1.0}
}

// Desire is the published desire for c.
func (c Context) Desire() Desire {
	return DesireFor(c.Direction, c.State)
}

// Inputs are the per-tick signals the state machine reads.
type Inputs struct {
	Active bool // lateral controller engaged
	Speed  float64

	LeftBlinker  bool
	RightBlinker bool

	SteeringTorque  float64 // positive turns left
	SteeringPressed bool

	LeftBlindspot  bool
	RightBlindspot bool

	// LaneChangeProb is the model's summed left and right lane-change
	// probability.
	LaneChangeProb float64
}

// Config holds the lane-change tunables.
type Config struct {
	Enabled        bool
	MinSpeed       float64 // m/s
	NudgeLess      bool
	NudgeLessTimer float64 // seconds of held blinker that substitute for a nudge
	NudgeDuration  float64 // seconds torque must be held
}

// ConfigFromTuning extracts the lane-change tunables from s.
func ConfigFromTuning(s config.Snapshot) Config {
	return Config{
		Enabled:        s.LaneChangeEnabled,
		MinSpeed:       s.ALCMinSpeedMps,
		NudgeLess:      s.ALCNudgeLess,
		NudgeLessTimer: s.ALCTimer,
		NudgeDuration:  s.NudgeDuration,
	}
}

// Step advances c by one tick.
//
// The direction follows the blinker only while off or preLaneChange; once a
// manoeuvre starts it is held, and it returns to none only when a finished
// manoeuvre goes back to off. A forced abort leaves the stale direction in
// place until the next blinker.
func Step(c Context, in Inputs, cfg Config) Context {
	oneBlinker := in.LeftBlinker != in.RightBlinker
	belowSpeed := in.Speed < cfg.MinSpeed

	if !in.Active || !cfg.Enabled || c.Timer > MaxDuration {
		c.State = Off
		c.PreTimer = 0
		c.NudgeTimer = 0
	} else {
		switch {
		case in.LeftBlinker:
			if c.State == Off || c.State == PreLaneChange {
				c.Direction = DirectionLeft
			}
			c.PreTimer += timeutil.DT
		case in.RightBlinker:
			if c.State == Off || c.State == PreLaneChange {
				c.Direction = DirectionRight
			}
			c.PreTimer += timeutil.DT
		default:
			c.PreTimer = 0
		}

		torqueApplied := c.nudge(in, cfg)
		blindspot := (in.LeftBlindspot && c.Direction == DirectionLeft) ||
			(in.RightBlindspot && c.Direction == DirectionRight)

		switch c.State {
		case Off:
			if oneBlinker && !c.PrevOneBlinker && !belowSpeed {
				c.enterPre()
			}
		case PreLaneChange:
			if !oneBlinker || belowSpeed {
				c.State = Off
			} else if torqueApplied && !blindspot {
				c.State = LaneChangeStarting
			}
		case LaneChangeStarting:
			c.LaneLineProb = lo.Clamp(c.LaneLineProb-2*timeutil.DT, 0, 1)
			if in.LaneChangeProb < finishProbThreshold && c.LaneLineProb < fadedOut {
				c.State = LaneChangeFinishing
			}
		case LaneChangeFinishing:
			c.LaneLineProb = lo.Clamp(c.LaneLineProb+timeutil.DT, 0, 1)
			if c.LaneLineProb > fadedIn {
				if oneBlinker {
					c.enterPre()
				} else {
					c.State = Off
					c.Direction = DirectionNone
				}
			}
		}
	}

	if c.State == Off || c.State == PreLaneChange {
		c.Timer = 0
	} else {
		c.Timer += timeutil.DT
	}
	c.PrevOneBlinker = oneBlinker
	return c
}

func (c *Context) enterPre() {
	c.State = PreLaneChange
	c.LaneLineProb = 1.0
	c.NudgeTimer = 0
}

// nudge reports whether the driver has confirmed the lane change, either by
// torque towards Direction held for NudgeDuration or, in nudge-less mode, by
// holding the blinker past NudgeLessTimer. It updates NudgeTimer.
func (c *Context) nudge(in Inputs, cfg Config) bool {
	towards := false
	switch c.Direction {
	case DirectionLeft:
		towards = in.SteeringPressed && in.SteeringTorque > 0
	case DirectionRight:
		towards = in.SteeringPressed && in.SteeringTorque < 0
	}
	if c.State == PreLaneChange && towards {
		c.NudgeTimer += timeutil.DT
	} else {
		c.NudgeTimer = 0
	}

	if cfg.NudgeLess && c.PreTimer > cfg.NudgeLessTimer {
		return true
	}
	return towards && c.NudgeTimer+timerEpsilon >= cfg.NudgeDuration
}
