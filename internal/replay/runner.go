// Package replay drives a timesync.Synchronizer from a recorded trace and
// collects every correlated set and every frame that had to be drained
// unmatched.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/sensorsync/internal/monitoring"
	"github.com/banshee-data/sensorsync/internal/timesync"
	"github.com/banshee-data/sensorsync/internal/timeutil"
	"github.com/banshee-data/sensorsync/internal/trace"
)

// ErrNoSynchronizer is returned by Run when the runner has no Sync.
var ErrNoSynchronizer = errors.New("replay: no synchronizer")

const progressInterval = 10000

// Member is one sample of a correlated set.
type Member struct {
	Stream    string
	Timestamp time.Duration
}

// Match is one correlated set emitted during the replay.
type Match struct {
	Seq     int // index of the event that completed the set
	Members []Member
	Span    time.Duration
}

// Drained is an image frame returned by NotMatchedFrame.
type Drained struct {
	Seq       int // index of the event after which it was drained
	Stream    timesync.ImageStream
	Timestamp time.Duration
}

// Result summarises a replay.
type Result struct {
	Events  int
	Images  int
	Motions int

	Matches []Match
	Drained []Drained

	// Duration is the trace time covered, from first to last timestamp.
	Duration time.Duration
	// Elapsed is the wall time spent replaying as measured by the clock.
	Elapsed time.Duration

	// Stats is the synchronizer snapshot after the last event was replayed
	// and the overflow stores drained. Buffered samples still held are in
	// Stats.Streams.
	Stats timesync.Stats
}

// Spans returns the span of every match in order.
func (r *Result) Spans() []time.Duration {
	out := make([]time.Duration, len(r.Matches))
	for i, m := range r.Matches {
		out[i] = m.Span
	}
	return out
}

// MatchRate is the fraction of image events that ended up in a set.
func (r *Result) MatchRate() float64 {
	if r.Images == 0 {
		return 0
	}
	matched := 0
	for _, m := range r.Matches {
		for _, mem := range m.Members {
			if _, err := timesync.ParseImageStream(mem.Stream); err == nil {
				matched++
			}
		}
	}
	return float64(matched) / float64(r.Images)
}

// Runner feeds trace events into Sync.
type Runner struct {
	Sync timesync.Synchronizer

	// Clock paces the replay; nil selects timeutil.RealClock.
	Clock timeutil.Clock
	// Pace scales trace time to wall time: 1 replays in real time, 2 at
	// double speed. Zero or negative replays as fast as possible.
	Pace float64

	// NewPayload wraps an event for insertion. Nil selects a
	// timesync.RefPayload carrying the event.
	NewPayload func(trace.Event) timesync.Payload
}

func (r *Runner) clock() timeutil.Clock {
	if r.Clock == nil {
		return timeutil.RealClock{}
	}
	return r.Clock
}

func (r *Runner) payload(ev trace.Event) timesync.Payload {
	if r.NewPayload != nil {
		return r.NewPayload(ev)
	}
	return timesync.NewPayload(ev, nil)
}

// Run replays src until it is exhausted or ctx is cancelled. The source is
// not closed and the synchronizer is left open; on error the partial result
// is returned alongside it.
func (r *Runner) Run(ctx context.Context, src trace.Source) (*Result, error) {
	if r.Sync == nil {
		return nil, ErrNoSynchronizer
	}
	clock := r.clock()
	started := clock.Now()
	res := &Result{}

	var first, prev time.Duration
	for seq := 0; ; seq++ {
		if err := ctx.Err(); err != nil {
			r.finish(res, clock, started)
			return res, err
		}
		ev, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			r.finish(res, clock, started)
			return res, fmt.Errorf("replay event %d: %w", seq, err)
		}

		if seq == 0 {
			first, prev = ev.Timestamp, ev.Timestamp
		}
		if r.Pace > 0 && ev.Timestamp > prev {
			if err := wait(ctx, clock, time.Duration(float64(ev.Timestamp-prev)/r.Pace)); err != nil {
				r.finish(res, clock, started)
				return res, err
			}
		}
		prev = max(prev, ev.Timestamp)
		res.Duration = prev - first

		r.insert(res, seq, ev)
		r.drain(res, seq)

		res.Events++
		if res.Events%progressInterval == 0 {
			monitoring.Logf("[replay] progress: %d events, %d matches, %d drained",
				res.Events, len(res.Matches), len(res.Drained))
		}
	}

	r.finish(res, clock, started)
	monitoring.Logf("[replay] complete: %d events (%d image, %d motion), %d matches, %d drained in %v",
		res.Events, res.Images, res.Motions, len(res.Matches), len(res.Drained), res.Elapsed)
	return res, nil
}

// wait blocks for d on clock or until ctx is done.
func wait(ctx context.Context, clock timeutil.Clock, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clock.After(d):
		return nil
	}
}

func (r *Runner) finish(res *Result, clock timeutil.Clock, started time.Time) {
	res.Elapsed = clock.Since(started)
	res.Stats = r.Sync.Stats()
}

func (r *Runner) insert(res *Result, seq int, ev trace.Event) {
	var (
		set     timesync.CorrelatedSet
		matched bool
	)
	switch ev.Kind {
	case trace.KindImage:
		res.Images++
		sample := &timesync.ImageSample{Stream: ev.Image, Timestamp: ev.Timestamp, Payload: r.payload(ev)}
		set, matched = r.Sync.InsertImage(sample)
		sample.Payload.Release()
	case trace.KindMotion:
		res.Motions++
		sample := &timesync.MotionSample{Stream: ev.Motion, Timestamp: ev.Timestamp, Payload: r.payload(ev)}
		set, matched = r.Sync.InsertMotion(sample)
		sample.Payload.Release()
	default:
		monitoring.Logf("[replay] skipping event %d with unknown kind %v", seq, ev.Kind)
		return
	}
	if !matched {
		return
	}
	res.Matches = append(res.Matches, toMatch(seq, &set))
	set.Release()
}

// drain empties every overflow store.
func (r *Runner) drain(res *Result, seq int) {
	for _, stream := range timesync.ImageStreams() {
		for {
			s, more := r.Sync.NotMatchedFrame(stream)
			if s == nil {
				break
			}
			res.Drained = append(res.Drained, Drained{Seq: seq, Stream: s.Stream, Timestamp: s.Timestamp})
			if s.Payload != nil {
				s.Payload.Release()
			}
			if !more {
				break
			}
		}
	}
}

func toMatch(seq int, set *timesync.CorrelatedSet) Match {
	m := Match{Seq: seq, Span: set.Span()}
	for _, stream := range timesync.ImageStreams() {
		if s := set.Image(stream); s != nil {
			m.Members = append(m.Members, Member{Stream: stream.String(), Timestamp: s.Timestamp})
		}
	}
	for _, stream := range timesync.MotionStreams() {
		if s := set.Motion(stream); s != nil {
			m.Members = append(m.Members, Member{Stream: stream.String(), Timestamp: s.Timestamp})
		}
	}
	return m
}
