package lanes

import (
	"math"

	"github.com/banshee-data/lateral.plan/internal/numeric"
	"gonum.org/v1/gonum/floats"
)

const (
	// CameraOffset is the lateral camera mount offset (m, positive left).
	CameraOffset = 0.06
	// PathOffset shifts the model path laterally (m).
	PathOffset = 0.0

	defaultLaneWidth = 3.7
	maxLaneWidth     = 4.0
)

// Geometry is the lane state published with each plan.
type Geometry struct {
	LaneWidth float64
	LeftProb  float64 // left lane-line confidence, after all scaling
	RightProb float64 // right lane-line confidence, after all scaling
	DProb     float64 // combined confidence that the lane-line path is usable

	LeftLaneChangeProb  float64
	RightLaneChangeProb float64
}

// LanePlanner fuses the model's lane lines and path into a single lateral
// offset path. It carries a slowly filtered lane-width estimate across
// ticks, so one instance must see every tick.
type LanePlanner struct {
	llT  []float64
	llX  []float64
	lllY []float64
	rllY []float64

	// Model confidences as last parsed; lllProb/rllProb are these after
	// this tick's scaling.
	lllModelProb float64
	rllModelProb float64
	lllProb      float64
	rllProb      float64
	lllStd       float64
	rllStd       float64
	dProb        float64

	laneWidthEstimate  float64
	laneWidthCertainty float64
	laneWidth          float64

	lLaneChangeProb float64
	rLaneChangeProb float64

	cameraOffset float64
	pathOffset   float64
}

// NewLanePlanner returns a planner with no lane lines and a nominal width.
func NewLanePlanner() *LanePlanner {
	return &LanePlanner{
		llT:                make([]float64, TrajectorySize),
		llX:                make([]float64, TrajectorySize),
		lllY:               make([]float64, TrajectorySize),
		rllY:               make([]float64, TrajectorySize),
		laneWidthEstimate:  defaultLaneWidth,
		laneWidthCertainty: 1.0,
		laneWidth:          defaultLaneWidth,
		cameraOffset:       -CameraOffset,
		pathOffset:         -PathOffset,
	}
}

// ParseModel takes the ego lane lines (indices 1 and 2) and the lane-change
// desire probabilities from md. Malformed lane lines are ignored and the
// previous ones kept.
func (lp *LanePlanner) ParseModel(md ModelOutput) {
	if md.hasLaneLines() {
		left, right := md.LaneLines[1], md.LaneLines[2]
		lp.llT = make([]float64, TrajectorySize)
		floats.AddTo(lp.llT, left.T, right.T)
		floats.Scale(0.5, lp.llT)
		lp.llX = append([]float64(nil), left.X...)
		// Only the lane lines are shifted by the camera offset; the path is
		// already in the car frame.
		lp.lllY = append([]float64(nil), left.Y...)
		floats.AddConst(-lp.cameraOffset, lp.lllY)
		lp.rllY = append([]float64(nil), right.Y...)
		floats.AddConst(-lp.cameraOffset, lp.rllY)
		lp.lllModelProb = md.LaneLineProbs[1]
		lp.rllModelProb = md.LaneLineProbs[2]
		lp.lllStd = md.LaneLineStds[1]
		lp.rllStd = md.LaneLineStds[2]
	}
	lp.lllProb = lp.lllModelProb
	lp.rllProb = lp.rllModelProb

	if len(md.DesireState) > DesireStateLaneChangeRight {
		lp.lLaneChangeProb = md.DesireState[DesireStateLaneChangeLeft]
		lp.rLaneChangeProb = md.DesireState[DesireStateLaneChangeRight]
	}
}

// LaneChangeProb is the model's confidence that a lane change is still
// under way, either side.
func (lp *LanePlanner) LaneChangeProb() float64 {
	return lp.lLaneChangeProb + lp.rLaneChangeProb
}

// ScaleLaneLineProbs multiplies both lane-line confidences by k until the
// next ParseModel. Used to fade lane centering out while a lane change is in
// progress.
func (lp *LanePlanner) ScaleLaneLineProbs(k float64) {
	lp.lllProb *= k
	lp.rllProb *= k
}

// DPath returns a copy of path whose lateral coordinate is blended towards
// the lane-line centre by the current lane-line confidence. pathT are the
// sample times of path.
func (lp *LanePlanner) DPath(speed float64, pathT []float64, path [][3]float64) [][3]float64 {
	out := make([][3]float64, len(path))
	copy(out, path)
	for i := range out {
		out[i][1] -= lp.pathOffset
	}

	// Reduce reliance on lane lines that are too far apart now or will be
	// in a few seconds.
	lProb, rProb := lp.lllProb, lp.rllProb
	widthPts := make([]float64, len(lp.rllY))
	floats.SubTo(widthPts, lp.rllY, lp.lllY)
	mod := math.Inf(1)
	for _, tCheck := range []float64{0.0, 1.5, 3.0} {
		widthAtT := numeric.Interp(tCheck*(speed+7), lp.llX, widthPts)
		mod = math.Min(mod, numeric.Interp(widthAtT, []float64{4.0, 5.0}, []float64{1.0, 0.0}))
	}
	lProb *= mod
	rProb *= mod

	// Reduce reliance on uncertain lane lines.
	lProb *= numeric.Interp(lp.lllStd, []float64{0.15, 0.3}, []float64{1.0, 0.0})
	rProb *= numeric.Interp(lp.rllStd, []float64{0.15, 0.3}, []float64{1.0, 0.0})

	// Lane width: a slow estimate trusted in proportion to seeing both lines,
	// otherwise a speed-based guess.
	lp.laneWidthCertainty += 0.05 * (lProb*rProb - lp.laneWidthCertainty)
	currentLaneWidth := math.Abs(lp.rllY[0] - lp.lllY[0])
	lp.laneWidthEstimate += 0.005 * (currentLaneWidth - lp.laneWidthEstimate)
	speedLaneWidth := numeric.Interp(speed, []float64{0, 31}, []float64{2.8, 3.5})
	lp.laneWidth = lp.laneWidthCertainty*lp.laneWidthEstimate +
		(1-lp.laneWidthCertainty)*speedLaneWidth

	clipped := math.Min(maxLaneWidth, lp.laneWidth)
	lanePathY := make([]float64, len(lp.lllY))
	for i := range lanePathY {
		fromLeft := lp.lllY[i] + clipped/2
		fromRight := lp.rllY[i] - clipped/2
		lanePathY[i] = (lProb*fromLeft + rProb*fromRight) / (lProb + rProb + 0.0001)
	}

	lp.dProb = lProb + rProb - lProb*rProb
	for i := range out {
		var t float64
		if i < len(pathT) {
			t = pathT[i]
		}
		laneY := numeric.Interp(t, lp.llT, lanePathY)
		out[i][1] = lp.dProb*laneY + (1-lp.dProb)*out[i][1]
	}
	return out
}

// Geometry returns the current lane state. LeftProb and RightProb reflect
// any ScaleLaneLineProbs applied this tick.
func (lp *LanePlanner) Geometry() Geometry {
	return Geometry{
		LaneWidth:           lp.laneWidth,
		LeftProb:            lp.lllProb,
		RightProb:           lp.rllProb,
		DProb:               lp.dProb,
		LeftLaneChangeProb:  lp.lLaneChangeProb,
		RightLaneChangeProb: lp.rLaneChangeProb,
	}
}
