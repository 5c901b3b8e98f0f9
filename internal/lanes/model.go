// Package lanes turns the perception model's forecast into the lateral path
// the optimizer tracks: lane-line positions are blended with the model's own
// path according to how much the lane lines can be trusted.
package lanes

import "math"

// TrajectorySize is the number of samples in every forecast sequence.
const TrajectorySize = 33

// Indices into ModelOutput.DesireState.
const (
	DesireStateNone            = 0
	DesireStateLaneChangeLeft  = 3
	DesireStateLaneChangeRight = 4
)

// ModelTimes returns the forecast sample times in seconds. Samples are
// spaced quadratically over a 10 s horizon so the near term is dense.
func ModelTimes() []float64 {
	t := make([]float64, TrajectorySize)
	for i := range t {
		f := float64(i) / float64(TrajectorySize-1)
		t[i] = 10 * math.Pow(f, 2)
	}
	return t
}

// Sequence is a forecast channel: X/Y/Z components sampled at times T.
type Sequence struct {
	X []float64 `json:"x"`
	Y []float64 `json:"y"`
	Z []float64 `json:"z"`
	T []float64 `json:"t"`
}

// ModelOutput is one tick of the perception model: the forecast trajectory
// (positions and yaw), the four lane lines and the desire probabilities.
type ModelOutput struct {
	Position      Sequence   `json:"position"`
	Orientation   Sequence   `json:"orientation"`
	LaneLines     []Sequence `json:"lane_lines"`
	LaneLineProbs []float64  `json:"lane_line_probs"`
	LaneLineStds  []float64  `json:"lane_line_stds"`
	DesireState   []float64  `json:"desire_state"`
}

// HasTrajectory reports whether the position and orientation channels have
// the expected horizon length. A forecast that fails this check must not
// replace the previous one.
func (m ModelOutput) HasTrajectory() bool {
	p := m.Position
	return len(p.X) == TrajectorySize && len(p.Y) == TrajectorySize &&
		len(p.Z) == TrajectorySize && len(p.T) == TrajectorySize &&
		len(m.Orientation.Z) == TrajectorySize
}

// Path returns the forecast positions as rows of (x, y, z).
func (m ModelOutput) Path() [][3]float64 {
	path := make([][3]float64, len(m.Position.X))
	for i := range path {
		path[i] = [3]float64{m.Position.X[i], m.Position.Y[i], m.Position.Z[i]}
	}
	return path
}

// Yaw returns a copy of the forecast heading (rotation about z).
func (m ModelOutput) Yaw() []float64 {
	return append([]float64(nil), m.Orientation.Z...)
}

func (m ModelOutput) hasLaneLines() bool {
	if len(m.LaneLines) != 4 || len(m.LaneLineProbs) != 4 || len(m.LaneLineStds) != 4 {
		return false
	}
	for _, l := range m.LaneLines[1:3] {
		if len(l.X) != TrajectorySize || len(l.Y) != TrajectorySize || len(l.T) != TrajectorySize {
			return false
		}
	}
	return true
}
