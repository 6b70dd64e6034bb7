package report

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/sensorsync/internal/replay"
	"github.com/banshee-data/sensorsync/internal/timesync"
)

const (
	defaultBinWidth = time.Millisecond
	maxBins         = 200
)

// AssetsHost is where rendered pages load the echarts bundle from.
var AssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// SpanHistogram buckets spans into bins of binWidth starting at zero. The
// bin width doubles until at most maxBins bins are needed. Labels are the
// lower edge of each bin.
func SpanHistogram(spans []time.Duration, binWidth time.Duration) (labels []string, counts []float64) {
	if len(spans) == 0 {
		return nil, nil
	}
	if binWidth <= 0 {
		binWidth = defaultBinWidth
	}

	xs := make([]float64, len(spans))
	var longest time.Duration
	for i, s := range spans {
		xs[i] = float64(s.Microseconds())
		longest = max(longest, s)
	}
	sort.Float64s(xs)

	bins := int(longest/binWidth) + 1
	for bins > maxBins {
		binWidth *= 2
		bins = int(longest/binWidth) + 1
	}

	widthUs := float64(binWidth.Microseconds())
	dividers := make([]float64, bins+1)
	for i := range dividers {
		dividers[i] = float64(i) * widthUs
	}

	counts = stat.Histogram(nil, dividers, xs, nil)
	labels = make([]string, bins)
	for i := range labels {
		labels[i] = (time.Duration(i) * binWidth).String()
	}
	return labels, counts
}

// RenderHistogram writes an HTML page with the span distribution of the
// matches and the per-stream count of frames drained unmatched.
func RenderHistogram(w io.Writer, title string, matches []replay.Match, drained []replay.Drained, binWidth time.Duration) error {
	spans := make([]time.Duration, len(matches))
	for i, m := range matches {
		spans[i] = m.Span
	}
	labels, counts := SpanHistogram(spans, binWidth)

	hist := charts.NewBar()
	hist.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "480px", AssetsHost: AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Match span", Subtitle: fmt.Sprintf("%s matches=%d", title, len(matches))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "span", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "sets"}),
	)
	histData := make([]opts.BarData, len(counts))
	for i, c := range counts {
		histData[i] = opts.BarData{Value: c}
	}
	hist.SetXAxis(labels).AddSeries("sets", histData)

	perStream := map[timesync.ImageStream]int{}
	for _, d := range drained {
		perStream[d.Stream]++
	}
	var streams []string
	var drainData []opts.BarData
	for _, s := range timesync.ImageStreams() {
		if n, ok := perStream[s]; ok {
			streams = append(streams, s.String())
			drainData = append(drainData, opts.BarData{Value: n})
		}
	}

	unmatched := charts.NewBar()
	unmatched.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px", AssetsHost: AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Unmatched frames", Subtitle: fmt.Sprintf("drained=%d", len(drained))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	unmatched.SetXAxis(streams).
		AddSeries("drained", drainData,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.SetAssetsHost(AssetsHost)
	page.PageTitle = title
	page.AddCharts(hist, unmatched)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render histogram: %w", err)
	}
	return nil
}
