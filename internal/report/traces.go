// Package report renders recorded lateral plans as PNG plots and an HTML
// chart page.
package report

import (
	"time"

	"github.com/banshee-data/lateral.plan/internal/recorder"
)

// Traces are the plotted channels of one run, one sample per tick.
type Traces struct {
	T         []float64 // seconds since the first tick
	Angle     []float64 // desired steering-wheel angle, deg
	Rate      []float64 // desired steering rate, deg/s
	LProb     []float64
	RProb     []float64
	DProb     []float64
	LaneWidth []float64
	State     []float64 // lane-change state ordinal
	Valid     []float64 // 1 while the optimizer solution is valid
}

// FromPlans extracts traces from recorded plans.
func FromPlans(rows []recorder.PlanRow) Traces {
	var tr Traces
	if len(rows) == 0 {
		return tr
	}
	t0 := rows[0].LogMonoTime
	for _, row := range rows {
		out := row.Output
		tr.T = append(tr.T, float64(row.LogMonoTime-t0)/float64(time.Second))
		tr.Angle = append(tr.Angle, out.AngleSteersDeg)
		tr.Rate = append(tr.Rate, out.RateSteersDeg)
		tr.LProb = append(tr.LProb, out.LProb)
		tr.RProb = append(tr.RProb, out.RProb)
		tr.DProb = append(tr.DProb, out.DProb)
		tr.LaneWidth = append(tr.LaneWidth, out.LaneWidth)
		tr.State = append(tr.State, float64(out.LaneChangeState))
		valid := 0.0
		if out.MPCSolutionValid {
			valid = 1
		}
		tr.Valid = append(tr.Valid, valid)
	}
	return tr
}

// Len is the number of samples.
func (tr Traces) Len() int { return len(tr.T) }
