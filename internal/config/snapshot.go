package config

import (
	"fmt"

	"github.com/banshee-data/lateral.plan/internal/monitoring"
)

// Snapshot is an immutable, fully resolved view of a TuningConfig. The
// planner only ever sees snapshots; a reload produces a new value rather
// than mutating the one a tick is using.
type Snapshot struct {
	SteerRateCost      float64
	SteerActuatorDelay float64

	SteerRatio           float64
	UseLiveSteerRatio    bool
	UseDynamicSteerRatio bool
	SteerRatioBoost      float64
	SteerRatioBP0        float64
	SteerRatioBP1        float64

	LaneChangeEnabled bool
	ALCNudgeLess      bool
	ALCMinSpeedMps    float64
	ALCTimer          float64
	NudgeDuration     float64

	ReloadIntervalTicks int

	CarMassKg          float64
	CarWheelbaseM      float64
	CarCenterToFrontM  float64
	TireStiffnessFront float64
	TireStiffnessRear  float64
	SteerRatioRear     float64
}

// Snapshot resolves every field through its Get* accessor.
func (c *TuningConfig) Snapshot() Snapshot {
	return Snapshot{
		SteerRateCost:        c.GetSteerRateCost(),
		SteerActuatorDelay:   c.GetSteerActuatorDelay(),
		SteerRatio:           c.GetSteerRatio(),
		UseLiveSteerRatio:    c.GetUseLiveSteerRatio(),
		UseDynamicSteerRatio: c.GetUseDynamicSteerRatio(),
		SteerRatioBoost:      c.GetSteerRatioBoost(),
		SteerRatioBP0:        c.GetSteerRatioBP0(),
		SteerRatioBP1:        c.GetSteerRatioBP1(),
		LaneChangeEnabled:    c.GetLaneChangeEnabled(),
		ALCNudgeLess:         c.GetALCNudgeLess(),
		ALCMinSpeedMps:       c.GetALCMinSpeedMps(),
		ALCTimer:             c.GetALCTimer(),
		NudgeDuration:        c.GetNudgeDuration(),
		ReloadIntervalTicks:  c.GetReloadIntervalTicks(),
		CarMassKg:            c.GetCarMassKg(),
		CarWheelbaseM:        c.GetCarWheelbaseM(),
		CarCenterToFrontM:    c.GetCarCenterToFrontM(),
		TireStiffnessFront:   c.GetTireStiffnessFront(),
		TireStiffnessRear:    c.GetTireStiffnessRear(),
		SteerRatioRear:       c.GetSteerRatioRear(),
	}
}

// Loader produces a fresh TuningConfig, typically by re-reading a file.
type Loader func() (*TuningConfig, error)

// FileLoader returns a Loader that reads path with LoadTuningConfig.
func FileLoader(path string) Loader {
	return func() (*TuningConfig, error) {
		return LoadTuningConfig(path)
	}
}

// Reloader re-reads tunable configuration every ReloadIntervalTicks calls
// to Poll. A failed read keeps the last known snapshot; it never blocks or
// fails a tick.
type Reloader struct {
	load    Loader
	frame   int
	current Snapshot
	reloads int
}

// NewReloader performs the initial load. Unlike later polls, a failure
// here is returned to the caller: there is no last known value yet.
func NewReloader(load Loader) (*Reloader, error) {
	cfg, err := load()
	if err != nil {
		return nil, fmt.Errorf("initial tuning load: %w", err)
	}
	return &Reloader{load: load, current: cfg.Snapshot()}, nil
}

// Current returns the snapshot in force without advancing the tick count.
func (r *Reloader) Current() Snapshot {
	return r.current
}

// Reloads returns how many periodic reloads succeeded.
func (r *Reloader) Reloads() int {
	return r.reloads
}

// Poll advances the tick counter and returns the snapshot to use for this
// tick, re-reading the configuration when the interval elapses.
func (r *Reloader) Poll() Snapshot {
	r.frame++
	if r.frame < r.current.ReloadIntervalTicks {
		return r.current
	}
	r.frame = 0

	cfg, err := r.load()
	if err != nil {
		monitoring.Opsf("tuning reload failed, keeping last known values: %v", err)
		return r.current
	}
	next := cfg.Snapshot()
	if next != r.current {
		monitoring.Diagf("tuning reloaded: %+v", next)
	}
	r.current = next
	r.reloads++
	return r.current
}
