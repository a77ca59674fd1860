// Package chart renders the analysis charts as standalone HTML pages: a
// single-pair price and volume chart with run boundaries, and a normalised
// multi-pair overlay with a band marking the fastest-growing pair.
package chart

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/johnayoung/go-streak-analyzer/internal/analysis"
	"github.com/johnayoung/go-streak-analyzer/internal/models"
)

const (
	missing  = "-" // echarts gap marker
	bandY    = -100
	runStart = "#2ca02c"
	runEnd   = "#d62728"
)

// palette is matplotlib's tab20.
var palette = []string{
	"#1f77b4", "#aec7e8", "#ff7f0e", "#ffbb78", "#2ca02c",
	"#98df8a", "#d62728", "#ff9896", "#9467bd", "#c5b0d5",
	"#8c564b", "#c49c94", "#e377c2", "#f7b6d2", "#7f7f7f",
	"#c7c7c7", "#bcbd22", "#dbdb8d", "#17becf", "#9edae5",
}

// Color returns the palette colour of the i-th pair.
func Color(i int) string {
	return palette[i%len(palette)]
}

// Renderer is satisfied by every go-echarts chart.
type Renderer interface {
	Render(w io.Writer) error
}

// WriteFile renders r into path, creating parent directories.
func WriteFile(path string, r Renderer) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create chart directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create chart file: %w", err)
	}
	if err := r.Render(f); err != nil {
		f.Close()
		return fmt.Errorf("render chart: %w", err)
	}
	return f.Close()
}

func label(t time.Time, interval int) string {
	if interval >= 86400 {
		return t.UTC().Format("2006-01-02")
	}
	return t.UTC().Format("2006-01-02 15:04")
}

// RunChart plots close price and volume for one pair and marks every run's
// start day in green and break day in red.
func RunChart(series *models.Series, runs []analysis.Run, source string) *charts.Line {
	labels := make([]string, series.Len())
	closes := make([]opts.LineData, series.Len())
	volumes := make([]opts.BarData, series.Len())
	for i, r := range series.Records {
		labels[i] = label(r.Timestamp, series.Interval)
		closes[i] = opts.LineData{Value: r.Close}
		volumes[i] = opts.BarData{Value: r.Volume}
	}

	var starts, ends []opts.MarkLineNameXAxisItem
	for i, run := range runs {
		if run.StartIndex < 0 || run.EndIndex >= series.Len() {
			continue
		}
		starts = append(starts, opts.MarkLineNameXAxisItem{
			Name:  fmt.Sprintf("run %d start", i+1),
			XAxis: labels[run.StartIndex],
		})
		ends = append(ends, opts.MarkLineNameXAxisItem{
			Name:  fmt.Sprintf("run %d end", i+1),
			XAxis: labels[run.EndIndex],
		})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: series.Pair,
			Width:     "1400px",
			Height:    "700px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Close Price and Volume Chart - " + series.Pair,
			Subtitle: source,
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "30px"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Date"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Close Price"}),
	)
	line.ExtendYAxis(opts.YAxis{Name: "Volume"})

	line.SetXAxis(labels).
		AddSeries("Close Price", closes,
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
			charts.WithLineStyleOpts(opts.LineStyle{Color: "#1f77b4", Width: 1.5}),
		)

	empty := make([]opts.LineData, series.Len())
	for i := range empty {
		empty[i] = opts.LineData{Value: missing}
	}
	if len(starts) > 0 {
		line.AddSeries("Run start", empty,
			charts.WithItemStyleOpts(opts.ItemStyle{Color: runStart}),
			charts.WithMarkLineNameXAxisItemOpts(starts...),
			charts.WithMarkLineStyleOpts(opts.MarkLineStyle{Symbol: []string{"none", "none"}}),
		)
		line.AddSeries("Run end", empty,
			charts.WithItemStyleOpts(opts.ItemStyle{Color: runEnd}),
			charts.WithMarkLineNameXAxisItemOpts(ends...),
			charts.WithMarkLineStyleOpts(opts.MarkLineStyle{Symbol: []string{"none", "none"}}),
		)
	}

	bar := charts.NewBar()
	bar.SetXAxis(labels).
		AddSeries("Volume", volumes,
			charts.WithBarChartOpts(opts.BarChart{YAxisIndex: 1}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: "rgba(255,127,14,0.3)"}),
		)
	line.Overlap(bar)

	return line
}

// OverlayOptions configures the multi-pair chart.
type OverlayOptions struct {
	Interval      int
	HighlightPair string // drawn with a thicker line
	Title         string
}

// Overlay plots every line's normalised closes on a shared time axis. Each
// timestamp's strongest pair is drawn as a band at y = -100 in that pair's
// colour.
func Overlay(lines []Line, o OverlayOptions) *charts.Line {
	axis := timeAxis(lines)
	labels := make([]string, len(axis))
	position := make(map[int64]int, len(axis))
	for i, t := range axis {
		labels[i] = label(t, o.Interval)
		position[t.Unix()] = i
	}

	title := o.Title
	if title == "" {
		title = "Normalized Cryptocurrency Prices"
	}

	chart := charts.NewLine()
	chart.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: title,
			Width:     "1400px",
			Height:    "700px",
		}),
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Type: "scroll", Top: "30px"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Date"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Normalized Price"}),
	)
	chart.SetXAxis(labels)

	leaders := Strongest(lines)
	for i, l := range lines {
		data := make([]opts.LineData, len(axis))
		for j := range data {
			data[j] = opts.LineData{Value: missing}
		}
		for j, t := range l.Times {
			data[position[t.Unix()]] = opts.LineData{Value: l.Normalized[j]}
		}

		width := float32(1)
		if l.Pair == o.HighlightPair {
			width = 2
		}
		chart.AddSeries(l.Pair, data,
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
			charts.WithLineStyleOpts(opts.LineStyle{Color: Color(i), Width: width}),
			charts.WithItemStyleOpts(opts.ItemStyle{Color: Color(i)}),
		)
	}

	bands := charts.NewScatter()
	bands.SetXAxis(labels)
	for i, l := range lines {
		band := make([]opts.ScatterData, len(axis))
		for j := range band {
			band[j] = opts.ScatterData{Value: missing}
		}
		leads := false
		for _, leader := range leaders {
			if leader.Pair == l.Pair {
				band[position[leader.Time.Unix()]] = opts.ScatterData{Value: bandY, Symbol: "rect", SymbolSize: bandSize(l.Pair, o.HighlightPair)}
				leads = true
			}
		}
		if !leads {
			continue
		}
		bands.AddSeries(l.Pair+" strongest", band,
			charts.WithItemStyleOpts(opts.ItemStyle{Color: Color(i)}),
		)
	}
	chart.Overlap(bands)

	return chart
}

// bandSize is the band marker size. The highlight pair gets the thin band.
func bandSize(pair, highlight string) int {
	if pair == highlight {
		return 4
	}
	return 10
}
