package planner

import (
	"github.com/banshee-data/lateral.plan/internal/lanechange"
	"github.com/banshee-data/lateral.plan/internal/lanes"
	"github.com/banshee-data/lateral.plan/internal/mpc"
)

// VehicleState is the decoded car state for one tick.
type VehicleState struct {
	Speed            float64 `json:"v_ego"`              // m/s
	SteeringAngleDeg float64 `json:"steering_angle_deg"` // raw sensor, offset not removed
	SteeringTorque   float64 `json:"steering_torque"`    // driver torque, positive left
	SteeringPressed  bool    `json:"steering_pressed"`
	LeftBlinker      bool    `json:"left_blinker"`
	RightBlinker     bool    `json:"right_blinker"`
	LeftBlindspot    bool    `json:"left_blindspot"`
	RightBlindspot   bool    `json:"right_blindspot"`
	Active           bool    `json:"active"` // lateral controller engaged
}

// LiveParameters are online estimates of vehicle parameters.
type LiveParameters struct {
	AngleOffsetDeg  float64 `json:"angle_offset_deg"`
	StiffnessFactor float64 `json:"stiffness_factor"`
	SteerRatio      float64 `json:"steer_ratio"`
}

// Inputs is everything one tick consumes.
type Inputs struct {
	Vehicle VehicleState      `json:"car_state"`
	Live    LiveParameters    `json:"live_parameters"`
	Model   lanes.ModelOutput `json:"model"`
}

// Output is the lateral plan for one tick.
type Output struct {
	LaneWidth   float64   `json:"laneWidth"`
	DPathPoints []float64 `json:"dPathPoints"`
	LProb       float64   `json:"lProb"`
	RProb       float64   `json:"rProb"`
	DProb       float64   `json:"dProb"`

	AngleSteersDeg   float64 `json:"angleSteers"`
	RateSteersDeg    float64 `json:"rateSteers"`
	AngleOffsetDeg   float64 `json:"angleOffset"`
	MPCSolutionValid bool    `json:"mpcSolutionValid"`

	Desire              lanechange.Desire    `json:"desire"`
	LaneChangeState     lanechange.State     `json:"laneChangeState"`
	LaneChangeDirection lanechange.Direction `json:"laneChangeDirection"`

	SteerRatio         float64 `json:"steerRatio"`
	SteerRateCost      float64 `json:"steerRateCost"`
	SteerActuatorDelay float64 `json:"steerActuatorDelay"`
}

// Diagnostics is the raw optimizer outcome for one tick.
type Diagnostics struct {
	Solution          mpc.Solution `json:"solution"`
	Invalid           bool         `json:"invalid"`
	InvalidCount      int          `json:"invalid_count"`
	MeasuredCurvature float64      `json:"measured_curvature"`
	CurvatureFactor   float64      `json:"curvature_factor"`
}

// LaneGeometryProvider produces the lane-relative path and lane
// confidences. lanes.LanePlanner is the production implementation.
type LaneGeometryProvider interface {
	ParseModel(md lanes.ModelOutput)
	LaneChangeProb() float64
	ScaleLaneLineProbs(k float64)
	DPath(speed float64, pathT []float64, path [][3]float64) [][3]float64
	Geometry() lanes.Geometry
}
