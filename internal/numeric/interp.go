// Package numeric holds the small sampling helpers shared by the lane
// planner, the optimizer wrapper and the orchestrator.
package numeric

import "sort"

// Interp returns the piecewise-linear interpolation of (xp, fp) at x,
// clamping to the end values outside the range. xp must be non-decreasing;
// repeated breakpoints are allowed (perception paths collapse to a single
// point at standstill) and resolve to the right-most sample.
func Interp(x float64, xp, fp []float64) float64 {
	n := len(xp)
	if n == 0 || len(fp) < n {
		return 0
	}
	if x <= xp[0] {
		return fp[0]
	}
	if x >= xp[n-1] {
		return fp[n-1]
	}
	// First index with xp[i] > x; xp[i-1] <= x < xp[i].
	i := sort.Search(n, func(i int) bool { return xp[i] > x })
	x0, x1 := xp[i-1], xp[i]
	f0, f1 := fp[i-1], fp[i]
	return f0 + (x-x0)*(f1-f0)/(x1-x0)
}

// InterpAll evaluates Interp at every x.
func InterpAll(xs, xp, fp []float64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = Interp(x, xp, fp)
	}
	return out
}

// Scale returns s multiplied element-wise by k.
func Scale(k float64, s []float64) []float64 {
	out := make([]float64, len(s))
	for i, v := range s {
		out[i] = k * v
	}
	return out
}
