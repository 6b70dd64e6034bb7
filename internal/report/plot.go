package report

import (
	"fmt"
	"image/color"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/sensorsync/internal/replay"
)

var (
	spanColor      = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	unmatchedColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// Timeline builds a plot of match span against trace time. Unmatched
// frames are marked along the x axis.
func Timeline(title string, matches []replay.Match, drained []replay.Drained) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Trace time (s)"
	p.Y.Label.Text = "Span (ms)"

	if len(matches) > 0 {
		pts := make(plotter.XYs, len(matches))
		for i, m := range matches {
			pts[i].X = anchor(m).Seconds()
			pts[i].Y = float64(m.Span.Microseconds()) / 1000
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("span line: %w", err)
		}
		line.Color = spanColor
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add("span", line)
	}

	if len(drained) > 0 {
		pts := make(plotter.XYs, len(drained))
		for i, d := range drained {
			pts[i].X = d.Timestamp.Seconds()
		}
		marks, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, fmt.Errorf("unmatched scatter: %w", err)
		}
		marks.GlyphStyle.Color = unmatchedColor
		marks.GlyphStyle.Shape = draw.CrossGlyph{}
		marks.GlyphStyle.Radius = vg.Points(3)
		p.Add(marks)
		p.Legend.Add("unmatched", marks)
	}

	p.Add(plotter.NewGrid())
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// PlotTimeline saves Timeline to path; the format follows the extension.
func PlotTimeline(path, title string, matches []replay.Match, drained []replay.Drained) error {
	p, err := Timeline(title, matches, drained)
	if err != nil {
		return err
	}
	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save timeline %s: %w", path, err)
	}
	return nil
}

// anchor is the newest timestamp in the set.
func anchor(m replay.Match) (ts time.Duration) {
	for _, mem := range m.Members {
		ts = max(ts, mem.Timestamp)
	}
	return ts
}
