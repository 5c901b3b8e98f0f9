// Package carstate decodes GM powertrain and chassis signal values into the
// vehicle state the planner consumes. Frame parsing is done upstream; the
// inputs here are already scaled DBC signal values.
package carstate

import (
	"math"

	"github.com/samber/lo"
	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/lateral.plan/internal/planner"
	"github.com/banshee-data/lateral.plan/internal/units"
)

// SteerThreshold is the driver torque above which the wheel counts as pressed.
const SteerThreshold = 1.0

const (
	brakeScale     = 0xd0
	brakeDeadband  = 10.0 / brakeScale
	gasScale       = 254.0
	pressedEpsilon = 1e-5
	standstillMps  = 0.01
)

// Turn signal values.
const (
	TurnSignalOff   = 0
	TurnSignalLeft  = 1
	TurnSignalRight = 2
)

// AccStateOff is the cruise state value for a disengaged controller.
const AccStateOff = 0

// Car selects model-specific decoding.
type Car int

const (
	CarGeneric Car = iota
	CarVolt        // regen paddle counts as braking
)

// Signals is one sample of the decoded GM bus.
type Signals struct {
	FLWheelSpdKph float64 `json:"fl_wheel_spd"`
	FRWheelSpdKph float64 `json:"fr_wheel_spd"`
	RLWheelSpdKph float64 `json:"rl_wheel_spd"`
	RRWheelSpdKph float64 `json:"rr_wheel_spd"`

	SteeringWheelAngle float64 `json:"steering_wheel_angle"`
	SteeringWheelRate  float64 `json:"steering_wheel_rate"`
	LKADriverAppldTrq  float64 `json:"lka_driver_appld_trq"`

	// 0 inactive, 1 active, 2 temporarily limited, 3 failed
	LKATorqueDeliveredStatus int `json:"lka_torque_delivered_status"`

	BrakePedalPosition    float64 `json:"brake_pedal_position"`
	AcceleratorPedal      float64 `json:"accelerator_pedal"`
	RegenPaddle           bool    `json:"regen_paddle"`
	FrictionBrakePressure float64 `json:"friction_brake_pressure"`

	// Door switches read 1 when open. The belt latch reads 1 when latched.
	FrontLeftDoor  int `json:"front_left_door"`
	FrontRightDoor int `json:"front_right_door"`
	RearLeftDoor   int `json:"rear_left_door"`
	RearRightDoor  int `json:"rear_right_door"`
	LeftSeatBelt   int `json:"left_seat_belt"`

	TurnSignals       int  `json:"turn_signals"`
	CruiseMainOn      bool `json:"cruise_main_on"`
	CruiseState       int  `json:"cruise_state"`
	TractionControlOn int  `json:"traction_control_on"`
}

// State is the decoded car state.
type State struct {
	WheelSpeeds [4]float64 // m/s: fl, fr, rl, rr
	VEgoRaw     float64
	Standstill  bool

	SteeringAngleDeg float64
	SteeringRateDeg  float64
	SteeringTorque   float64
	SteeringPressed  bool
	SteerWarning     bool

	Brake        float64 // 0..1
	BrakePressed bool
	BrakeLights  bool
	Gas          float64 // 0..1
	GasPressed   bool

	DoorOpen          bool
	SeatbeltUnlatched bool
	LeftBlinker       bool
	RightBlinker      bool
	ESPDisabled       bool

	CruiseAvailable bool
	CruiseEnabled   bool
}

// Decode converts one signal sample.
func Decode(car Car, s Signals) State {
	var st State

	st.WheelSpeeds = [4]float64{
		s.FLWheelSpdKph * units.KPHToMS,
		s.FRWheelSpdKph * units.KPHToMS,
		s.RLWheelSpdKph * units.KPHToMS,
		s.RRWheelSpdKph * units.KPHToMS,
	}
	st.VEgoRaw = floats.Sum(st.WheelSpeeds[:]) / float64(len(st.WheelSpeeds))
	st.Standstill = st.VEgoRaw < standstillMps

	st.SteeringAngleDeg = s.SteeringWheelAngle
	st.SteeringRateDeg = s.SteeringWheelRate
	st.SteeringTorque = s.LKADriverAppldTrq
	st.SteeringPressed = math.Abs(st.SteeringTorque) > SteerThreshold
	st.SteerWarning = !lo.Contains([]int{0, 1}, s.LKATorqueDeliveredStatus)

	// The pedal potentiometer reads slightly above zero at rest.
	st.Brake = s.BrakePedalPosition / brakeScale
	if st.Brake < brakeDeadband {
		st.Brake = 0
	}
	st.BrakePressed = st.Brake > pressedEpsilon
	if car == CarVolt {
		st.BrakePressed = st.BrakePressed || s.RegenPaddle
	}
	st.BrakeLights = s.FrictionBrakePressure != 0 || st.BrakePressed

	st.Gas = s.AcceleratorPedal / gasScale
	st.GasPressed = st.Gas > pressedEpsilon

	st.DoorOpen = s.FrontLeftDoor == 1 || s.FrontRightDoor == 1 ||
		s.RearLeftDoor == 1 || s.RearRightDoor == 1
	st.SeatbeltUnlatched = s.LeftSeatBelt == 0
	st.LeftBlinker = s.TurnSignals == TurnSignalLeft
	st.RightBlinker = s.TurnSignals == TurnSignalRight
	st.ESPDisabled = s.TractionControlOn != 1

	st.CruiseAvailable = s.CruiseMainOn
	st.CruiseEnabled = s.CruiseState != AccStateOff

	return st
}

// VehicleState projects the decoded state onto the planner input. GM cars in
// this family carry no blind-spot monitor, so both flags stay false. Lateral
// control is engaged while cruise is enabled and the steering system reports
// no fault.
func (st State) VehicleState() planner.VehicleState {
	return planner.VehicleState{
		Speed:            st.VEgoRaw,
		SteeringAngleDeg: st.SteeringAngleDeg,
		SteeringTorque:   st.SteeringTorque,
		SteeringPressed:  st.SteeringPressed,
		LeftBlinker:      st.LeftBlinker,
		RightBlinker:     st.RightBlinker,
		Active:           st.CruiseEnabled && !st.SteerWarning,
	}
}
