package trace

import (
	"io"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/banshee-data/sensorsync/internal/timesync"
)

// SynthConfig describes a generated arrival trace. Every stream starts at
// zero and emits at its declared rate for Duration.
type SynthConfig struct {
	ImageRates  map[timesync.ImageStream]int
	MotionRates map[timesync.MotionStream]int
	Duration    time.Duration

	Jitter   time.Duration // capture timestamp noise, uniform in ±Jitter
	MaxDelay time.Duration // transport delay, uniform in [0, MaxDelay)
	DropRate float64       // fraction of image frames never delivered
	Seed     uint64
}

// Synthesize generates events in arrival order. Each stream arrives in
// capture order; different streams interleave according to their delays.
func Synthesize(cfg SynthConfig) []Event {
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x5eed))

	type arrival struct {
		ev Event
		at time.Duration
	}
	var all []arrival

	emit := func(base Event, rate int, drop float64) {
		if rate <= 0 {
			return
		}
		var last time.Duration
		for i := 0; ; i++ {
			ts := time.Duration(i) * time.Second / time.Duration(rate)
			if ts >= cfg.Duration {
				break
			}
			if drop > 0 && rng.Float64() < drop {
				continue
			}
			ev := base
			ev.Timestamp = max(0, ts+uniform(rng, -cfg.Jitter, cfg.Jitter))
			at := ts + uniform(rng, 0, cfg.MaxDelay)
			// a stream's transport never reorders its own frames
			at = max(at, last)
			last = at
			all = append(all, arrival{ev: ev, at: at})
		}
	}
	for _, s := range timesync.ImageStreams() {
		emit(Event{Kind: KindImage, Image: s, Size: 1024}, cfg.ImageRates[s], cfg.DropRate)
	}
	for _, s := range timesync.MotionStreams() {
		emit(Event{Kind: KindMotion, Motion: s, Size: 16}, cfg.MotionRates[s], 0)
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].at < all[j].at })
	events := make([]Event, len(all))
	for i, a := range all {
		events[i] = a.ev
	}
	return events
}

func uniform(rng *rand.Rand, lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rng.Int64N(int64(hi-lo)))
}

// SliceSource replays a fixed slice of events.
type SliceSource struct {
	events []Event
	pos    int
}

func NewSliceSource(events []Event) *SliceSource {
	return &SliceSource{events: events}
}

func (s *SliceSource) Next() (Event, error) {
	if s.pos >= len(s.events) {
		return Event{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *SliceSource) Close() error { return nil }
