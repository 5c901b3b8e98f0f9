package report

import (
	"fmt"
	"image/color"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var palette = []color.Color{
	color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 255},
	color.RGBA{R: 0xff, G: 0x7f, B: 0x0e, A: 255},
	color.RGBA{R: 0x2c, G: 0xa0, B: 0x2c, A: 255},
	color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 255},
}

type line struct {
	name string
	y    []float64
}

// SavePNGs writes <base>_steer.png and <base>_lanes.png into dir and
// returns their paths.
func SavePNGs(tr Traces, title, dir, base string) ([]string, error) {
	if tr.Len() == 0 {
		return nil, fmt.Errorf("no samples to plot")
	}

	steer, err := newPlot(title+" - steering", "Angle (deg), rate (deg/s)", tr.T,
		line{"angle", tr.Angle}, line{"rate", tr.Rate})
	if err != nil {
		return nil, err
	}
	lanes, err := newPlot(title+" - lanes", "Probability / state", tr.T,
		line{"left", tr.LProb}, line{"right", tr.RProb}, line{"path", tr.DProb}, line{"lane change", tr.State})
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, out := range []struct {
		suffix string
		p      *plot.Plot
	}{{"steer", steer}, {"lanes", lanes}} {
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.png", base, out.suffix))
		if err := out.p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
			return paths, fmt.Errorf("save %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func newPlot(title, ylabel string, t []float64, lines ...line) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = ylabel

	for i, l := range lines {
		pts := make(plotter.XYs, len(t))
		for j := range t {
			pts[j] = plotter.XY{X: t[j], Y: l.y[j]}
		}
		pl, err := plotter.NewLine(pts)
		if err != nil {
			return nil, err
		}
		pl.Color = palette[i%len(palette)]
		pl.Width = vg.Points(1)
		p.Add(pl)
		p.Legend.Add(l.name, pl)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}
