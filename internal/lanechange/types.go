package lanechange

import "fmt"

// State is the lane-change lifecycle state.
type State int

const (
	Off State = iota
	PreLaneChange
	LaneChangeStarting
	LaneChangeFinishing
)

func (s State) String() string {
	switch s {
	case Off:
		return "off"
	case PreLaneChange:
		return "preLaneChange"
	case LaneChangeStarting:
		return "laneChangeStarting"
	case LaneChangeFinishing:
		return "laneChangeFinishing"
	}
	return "unknown"
}

// Direction is the side a lane change moves towards.
type Direction int

const (
	DirectionNone Direction = iota
	DirectionLeft
	DirectionRight
)

func (d Direction) String() string {
	switch d {
	case DirectionNone:
		return "none"
	case DirectionLeft:
		return "left"
	case DirectionRight:
		return "right"
	}
	return "unknown"
}

// Desire tells downstream path centering which manoeuvre is in progress.
type Desire int

const (
	DesireNone Desire = iota
	DesireLaneChangeLeft
	DesireLaneChangeRight
)

func (d Desire) String() string {
	switch d {
	case DesireNone:
		return "none"
	case DesireLaneChangeLeft:
		return "laneChangeLeft"
	case DesireLaneChangeRight:
		return "laneChangeRight"
	}
	return "unknown"
}

// IsLaneChange reports whether d is one of the lane-change desires.
func (d Desire) IsLaneChange() bool {
	return d == DesireLaneChangeLeft || d == DesireLaneChangeRight
}

// DesireFor maps (direction, state) to the published desire. Only an active
// manoeuvre (starting or finishing) carries a lane-change desire. The
// switches list every State and Direction; a new one must be added here.
// Values outside the enums map to DesireNone.
func DesireFor(d Direction, s State) Desire {
	switch s {
	case Off, PreLaneChange:
		return DesireNone
	case LaneChangeStarting, LaneChangeFinishing:
		switch d {
		case DirectionLeft:
			return DesireLaneChangeLeft
		case DirectionRight:
			return DesireLaneChangeRight
		case DirectionNone:
			return DesireNone
		}
	}
	return DesireNone
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	for _, v := range []State{Off, PreLaneChange, LaneChangeStarting, LaneChangeFinishing} {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("lanechange: unknown state %q", b)
}

// MarshalText encodes the direction by name.
func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText decodes a direction name.
func (d *Direction) UnmarshalText(b []byte) error {
	for _, v := range []Direction{DirectionNone, DirectionLeft, DirectionRight} {
		if v.String() == string(b) {
			*d = v
			return nil
		}
	}
	return fmt.Errorf("lanechange: unknown direction %q", b)
}

// MarshalText encodes the desire by name.
func (d Desire) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText decodes a desire name.
func (d *Desire) UnmarshalText(b []byte) error {
	for _, v := range []Desire{DesireNone, DesireLaneChangeLeft, DesireLaneChangeRight} {
		if v.String() == string(b) {
			*d = v
			return nil
		}
	}
	return fmt.Errorf("lanechange: unknown desire %q", b)
}
