package replay

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sensorsync/internal/monitoring"
	"github.com/banshee-data/sensorsync/internal/testutil"
	"github.com/banshee-data/sensorsync/internal/timesync"
	"github.com/banshee-data/sensorsync/internal/timeutil"
	"github.com/banshee-data/sensorsync/internal/trace"
)

func init() {
	monitoring.SetLogger(nil)
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func img(s timesync.ImageStream, tsMs int) trace.Event {
	return trace.Event{Kind: trace.KindImage, Image: s, Timestamp: ms(tsMs)}
}

func mot(s timesync.MotionStream, tsMs int) trace.Event {
	return trace.Event{Kind: trace.KindMotion, Motion: s, Timestamp: ms(tsMs)}
}

func newSync(t *testing.T, latency time.Duration, motions map[timesync.MotionStream]int) timesync.Synchronizer {
	t.Helper()
	s, err := timesync.New(timesync.Config{
		DeviceName:      "replay-test",
		ImageRates:      map[timesync.ImageStream]int{timesync.Depth: 30, timesync.Color: 30},
		MotionRates:     motions,
		MaxInputLatency: latency,
	})
	require.NoError(t, err)
	return s
}

// trackedRunner wires a tracker in so tests can assert no payload leaks.
func trackedRunner(sync timesync.Synchronizer) (*Runner, *testutil.Tracker) {
	tracker := testutil.NewTracker()
	n := 0
	return &Runner{
		Sync:  sync,
		Clock: timeutil.NewMockClock(time.Unix(0, 0)),
		NewPayload: func(ev trace.Event) timesync.Payload {
			n++
			return tracker.New(fmt.Sprintf("%s@%v#%d", ev.StreamName(), ev.Timestamp, n))
		},
	}, tracker
}

func TestRunner_PeriodicStreamsAllMatch(t *testing.T) {
	events := trace.Synthesize(trace.SynthConfig{
		ImageRates: map[timesync.ImageStream]int{timesync.Depth: 30, timesync.Color: 30},
		Duration:   time.Second,
	})
	sync := newSync(t, 33*time.Millisecond, nil)
	runner, tracker := trackedRunner(sync)

	res, err := runner.Run(context.Background(), trace.NewSliceSource(events))
	require.NoError(t, err)

	assert.Equal(t, 60, res.Events)
	assert.Equal(t, 60, res.Images)
	assert.Len(t, res.Matches, 30)
	assert.Empty(t, res.Drained)
	assert.Equal(t, 1.0, res.MatchRate())
	assert.Equal(t, uint64(30), res.Stats.Matched)
	for _, span := range res.Spans() {
		assert.Zero(t, span)
	}

	sync.Close()
	tracker.AssertAllReleased(t)
}

func TestRunner_DrainsOverflow(t *testing.T) {
	events := []trace.Event{
		img(timesync.Depth, 0),
		img(timesync.Depth, 33),
		img(timesync.Depth, 66),
		img(timesync.Depth, 100), // buffer holds three; depth@0 overflows
		img(timesync.Color, 100), // matches depth@100, retires depth@33 and @66
	}
	sync := newSync(t, 33*time.Millisecond, nil)
	runner, tracker := trackedRunner(sync)

	res, err := runner.Run(context.Background(), trace.NewSliceSource(events))
	require.NoError(t, err)

	wantMatches := []Match{{
		Seq:     4,
		Members: []Member{{Stream: "depth", Timestamp: ms(100)}, {Stream: "color", Timestamp: ms(100)}},
	}}
	if diff := cmp.Diff(wantMatches, res.Matches); diff != "" {
		t.Errorf("matches mismatch (-want +got):\n%s", diff)
	}
	wantDrained := []Drained{
		{Seq: 3, Stream: timesync.Depth, Timestamp: 0},
		{Seq: 4, Stream: timesync.Depth, Timestamp: ms(33)},
		{Seq: 4, Stream: timesync.Depth, Timestamp: ms(66)},
	}
	if diff := cmp.Diff(wantDrained, res.Drained); diff != "" {
		t.Errorf("drained mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, uint64(3), res.Stats.Drained)
	assert.Equal(t, ms(100), res.Duration)

	sync.Close()
	tracker.AssertAllReleased(t)
}

func TestRunner_MotionEvents(t *testing.T) {
	events := []trace.Event{
		img(timesync.Depth, 0),
		mot(timesync.Gyro, 1), // depth@0 buffered: held for the set
		img(timesync.Color, 2),
		img(timesync.Depth, 33),
		img(timesync.Color, 34),
		mot(timesync.Gyro, 36), // nothing buffered: dropped
	}
	sync := newSync(t, 33*time.Millisecond, map[timesync.MotionStream]int{timesync.Gyro: 200})
	runner, tracker := trackedRunner(sync)

	res, err := runner.Run(context.Background(), trace.NewSliceSource(events))
	require.NoError(t, err)
	assert.Equal(t, 4, res.Images)
	assert.Equal(t, 2, res.Motions)
	require.Len(t, res.Matches, 2)
	assert.Equal(t, []Member{
		{Stream: "depth", Timestamp: 0},
		{Stream: "color", Timestamp: ms(2)},
		{Stream: "gyro", Timestamp: ms(1)},
	}, res.Matches[0].Members)
	assert.Equal(t, ms(2), res.Matches[0].Span)
	assert.Len(t, res.Matches[1].Members, 2)
	assert.Equal(t, uint64(1), res.Stats.MotionAttached)
	assert.Equal(t, uint64(1), res.Stats.MotionDropped)

	sync.Close()
	tracker.AssertAllReleased(t)
}

func TestRunner_Pacing(t *testing.T) {
	events := []trace.Event{
		img(timesync.Depth, 0),
		img(timesync.Color, 10),
		img(timesync.Depth, 10),
		img(timesync.Color, 40),
		img(timesync.Depth, 20), // older than its predecessor: no sleep
	}

	tests := []struct {
		name string
		pace float64
		want []time.Duration
	}{
		{"unpaced", 0, []time.Duration{}},
		{"real time", 1, []time.Duration{ms(10), ms(30)}},
		{"double speed", 2, []time.Duration{ms(5), ms(15)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := timeutil.NewMockClock(time.Unix(0, 0))
			runner := &Runner{Sync: newSync(t, 33*time.Millisecond, nil), Clock: clock, Pace: tt.pace}

			res, err := runner.Run(context.Background(), trace.NewSliceSource(events))
			require.NoError(t, err)
			assert.Equal(t, tt.want, clock.Waits())
			assert.Equal(t, clock.Waited(), res.Elapsed)
			assert.Equal(t, ms(40), res.Duration)
		})
	}
}

// stalledClock never fires After, standing in for a long gap in the trace.
type stalledClock struct {
	*timeutil.MockClock
	waiting func()
}

func (c stalledClock) After(time.Duration) <-chan time.Time {
	c.waiting()
	return make(chan time.Time)
}

func TestRunner_CancelWhilePacing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := stalledClock{MockClock: timeutil.NewMockClock(time.Unix(0, 0)), waiting: cancel}
	runner := &Runner{Sync: newSync(t, 33*time.Millisecond, nil), Clock: clock, Pace: 1}

	events := []trace.Event{img(timesync.Depth, 0), img(timesync.Color, 3_600_000)}
	done := make(chan struct{})
	var (
		res *Result
		err error
	)
	go func() {
		defer close(done)
		res, err = runner.Run(ctx, trace.NewSliceSource(events))
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Events)
	assert.Empty(t, res.Matches)
}

func TestRunner_Errors(t *testing.T) {
	_, err := (&Runner{}).Run(context.Background(), trace.NewSliceSource(nil))
	assert.ErrorIs(t, err, ErrNoSynchronizer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runner := &Runner{Sync: newSync(t, 0, nil), Clock: timeutil.NewMockClock(time.Unix(0, 0))}
	res, err := runner.Run(ctx, trace.NewSliceSource([]trace.Event{img(timesync.Depth, 0)}))
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Zero(t, res.Events)

	src := trace.NewJSONLSource(strings.NewReader(`{"stream":"depth","ts_us":0}` + "\n" + `{"stream":"radar"}`))
	res, err = runner.Run(context.Background(), src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replay event 1")
	assert.Equal(t, 1, res.Events)
}

func TestResult_MatchRateEmpty(t *testing.T) {
	assert.Zero(t, (&Result{}).MatchRate())
}
