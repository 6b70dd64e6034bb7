package timesync

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// spanWindowSize is the number of recent matches kept for span statistics.
const spanWindowSize = 256

// StreamStats describes one registered image stream at snapshot time.
type StreamStats struct {
	Stream           ImageStream
	Rate             int
	Buffered         int
	Capacity         int
	Overflow         int
	OverflowCapacity int
}

// SpanStats summarises the timestamp span of recent correlated sets.
type SpanStats struct {
	Count  int
	Mean   time.Duration
	StdDev time.Duration
	P50    time.Duration
	P95    time.Duration
	Max    time.Duration
}

// Stats is a point-in-time snapshot of a Synchronizer.
type Stats struct {
	DeviceName string
	SessionID  string
	Streams    []StreamStats

	Matched         uint64 // correlated sets emitted
	Buffered        uint64 // image samples placed in a stream buffer
	Evicted         uint64 // samples moved out of a stream buffer unmatched
	OverflowDropped uint64 // samples released because the overflow store was full
	Drained         uint64 // samples handed out by NotMatchedFrame
	MotionDropped   uint64 // motion samples released without joining a set
	MotionAttached  uint64 // pending motion readings added to an image set
	Unregistered    uint64 // inserts for streams that are not registered
	Flushed         uint64 // Flush calls

	Span SpanStats
}

type counters struct {
	matched         uint64
	buffered        uint64
	evicted         uint64
	overflowDropped uint64
	drained         uint64
	motionDropped   uint64
	motionAttached  uint64
	unregistered    uint64
	flushed         uint64
}

func (c *counters) fill(st *Stats) {
	st.Matched = c.matched
	st.Buffered = c.buffered
	st.Evicted = c.evicted
	st.OverflowDropped = c.overflowDropped
	st.Drained = c.drained
	st.MotionDropped = c.motionDropped
	st.MotionAttached = c.motionAttached
	st.Unregistered = c.unregistered
	st.Flushed = c.flushed
}

// spanWindow keeps the spans of the most recent matches in nanoseconds.
type spanWindow struct {
	values []float64
	next   int
}

func (w *spanWindow) add(d time.Duration) {
	if len(w.values) < spanWindowSize {
		w.values = append(w.values, float64(d))
		return
	}
	w.values[w.next] = float64(d)
	w.next = (w.next + 1) % spanWindowSize
}

func (w *spanWindow) summary() SpanStats {
	n := len(w.values)
	if n == 0 {
		return SpanStats{}
	}
	sorted := make([]float64, n)
	copy(sorted, w.values)
	sort.Float64s(sorted)

	mean, std := stat.MeanStdDev(sorted, nil)
	if n < 2 {
		std = 0
	}
	return SpanStats{
		Count:  n,
		Mean:   time.Duration(mean),
		StdDev: time.Duration(std),
		P50:    time.Duration(stat.Quantile(0.5, stat.Empirical, sorted, nil)),
		P95:    time.Duration(stat.Quantile(0.95, stat.Empirical, sorted, nil)),
		Max:    time.Duration(floats.Max(sorted)),
	}
}
