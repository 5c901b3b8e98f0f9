package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// AssetsHost serves the echarts scripts for rendered pages.
var AssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// WriteHTML renders the traces as an interactive chart page.
func WriteHTML(w io.Writer, tr Traces, title string) error {
	xs := make([]string, tr.Len())
	for i, t := range tr.T {
		xs[i] = fmt.Sprintf("%.2f", t)
	}

	steer := newLineChart(title, "Steering", "deg", xs)
	steer.AddSeries("angle", lineData(tr.Angle)).
		AddSeries("rate", lineData(tr.Rate))

	lanes := newLineChart(title, "Lane confidence", "p", xs)
	lanes.AddSeries("left", lineData(tr.LProb)).
		AddSeries("right", lineData(tr.RProb)).
		AddSeries("path", lineData(tr.DProb)).
		AddSeries("lane change", lineData(tr.State)).
		AddSeries("mpc valid", lineData(tr.Valid))

	width := newLineChart(title, "Lane width", "m", xs)
	width.AddSeries("width", lineData(tr.LaneWidth))

	page := components.NewPage()
	page.SetAssetsHost(AssetsHost)
	page.AddCharts(steer, lanes, width)
	return page.Render(w)
}

func newLineChart(title, subtitle, unit string, xs []string) *charts.Line {
	c := charts.NewLine()
	c.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px", AssetsHost: AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: subtitle, Subtitle: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: unit}),
	)
	c.SetXAxis(xs)
	return c
}

func lineData(ys []float64) []opts.LineData {
	data := make([]opts.LineData, len(ys))
	for i, y := range ys {
		data[i] = opts.LineData{Value: y}
	}
	return data
}
