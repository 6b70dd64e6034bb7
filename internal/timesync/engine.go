package timesync

import (
	"slices"
	"time"

	"github.com/banshee-data/sensorsync/internal/monitoring"
)

// engine is the buffering Synchronizer used whenever two or more streams are
// registered.
type engine struct {
	deviceName string
	sessionID  string
	latency    time.Duration
	debug      bool
	closed     bool

	imageRates  [numImageStreams]int
	motionRates [numMotionStreams]int

	buffers  [numImageStreams]*sampleRing // nil for unregistered streams
	overflow [numImageStreams]*sampleRing // nil for unregistered streams
	images   int                          // registered image streams

	// pending holds the latest motion reading per stream that is waiting to
	// join an image set. Only used with two or more image streams.
	pending [numMotionStreams]*MotionSample

	counters counters
	spans    spanWindow
}

// partner is the buffered sample chosen on one stream for a match.
type partner struct {
	stream ImageStream
	index  int // position in the stream's ring, 0 = oldest
}

func newEngine(cfg Config, sessionID string) *engine {
	e := &engine{
		deviceName: cfg.DeviceName,
		sessionID:  sessionID,
		latency:    cfg.MaxInputLatency,
		debug:      cfg.Debug,
	}
	overflowCap := cfg.overflowCapacity()
	for s, rate := range cfg.ImageRates {
		if rate <= 0 {
			continue
		}
		e.imageRates[s] = rate
		e.images++
		e.buffers[s] = newSampleRing(BufferCapacity(rate, e.latency))
		e.overflow[s] = newSampleRing(overflowCap)
	}
	for s, rate := range cfg.MotionRates {
		if rate > 0 {
			e.motionRates[s] = rate
		}
	}
	return e
}

func (e *engine) imageRegistered(s ImageStream) bool {
	return s.valid() && e.imageRates[s] > 0
}

func (e *engine) motionRegistered(s MotionStream) bool {
	return s.valid() && e.motionRates[s] > 0
}

func (e *engine) InsertImage(s *ImageSample) (CorrelatedSet, bool) {
	var set CorrelatedSet
	if e.closed || s == nil {
		return set, false
	}
	if !e.imageRegistered(s.Stream) {
		e.counters.unregistered++
		return set, false
	}

	retain(s.Payload)
	partners, ok := e.findPartners(s.Timestamp, s.Stream)
	if !ok {
		e.push(s)
		return set, false
	}

	// Everything still buffered on this stream predates s and can no longer
	// be emitted in order.
	e.retireAll(s.Stream)
	set.Images[s.Stream] = s
	e.take(partners, &set)
	e.attachMotion(&set)
	e.recordMatch(&set)
	return set, true
}

func (e *engine) InsertMotion(s *MotionSample) (CorrelatedSet, bool) {
	var set CorrelatedSet
	if e.closed || s == nil {
		return set, false
	}
	if !e.motionRegistered(s.Stream) {
		e.counters.unregistered++
		return set, false
	}

	if e.images > 1 {
		e.hold(s)
		return set, false
	}

	partners, ok := e.findPartners(s.Timestamp, -1)
	if !ok {
		e.counters.motionDropped++
		return set, false
	}

	retain(s.Payload)
	set.Motions[s.Stream] = s
	e.take(partners, &set)
	e.recordMatch(&set)
	return set, true
}

// hold keeps s as its stream's pending reading when a buffered image lies
// within the latency of it. A reading it replaces is released.
func (e *engine) hold(s *MotionSample) {
	if !e.nearBufferedImage(s.Timestamp) {
		e.counters.motionDropped++
		return
	}
	retain(s.Payload)
	if old := e.pending[s.Stream]; old != nil {
		e.counters.motionDropped++
		release(old.Payload)
	}
	e.pending[s.Stream] = s
}

func (e *engine) nearBufferedImage(ts time.Duration) bool {
	for _, ring := range e.buffers {
		if ring == nil {
			continue
		}
		for i := 0; i < ring.Len(); i++ {
			if absDuration(ring.At(i).Timestamp-ts) <= e.latency {
				return true
			}
		}
	}
	return false
}

// attachMotion adds every pending reading that keeps the set within the
// latency. Readings older than the set that do not fit are released.
func (e *engine) attachMotion(set *CorrelatedSet) {
	lo, hi, _ := set.bounds()
	for m, r := range e.pending {
		if r == nil {
			continue
		}
		switch {
		case max(hi, r.Timestamp)-min(lo, r.Timestamp) <= e.latency:
			set.Motions[m] = r
			e.counters.motionAttached++
		case r.Timestamp < lo:
			e.counters.motionDropped++
			release(r.Payload)
		default:
			continue
		}
		e.pending[m] = nil
	}
}

// findPartners picks one buffered sample on every registered image stream
// except skip so that the tuple, ts included, spans at most the latency.
// Candidate intervals [lo, lo+latency] are tried from the earliest lo, and
// within an interval each stream contributes its earliest sample. With two
// streams the resulting pairs do not depend on arrival order.
func (e *engine) findPartners(ts time.Duration, skip ImageStream) ([]partner, bool) {
	var streams []ImageStream
	for _, s := range ImageStreams() {
		if s != skip && e.buffers[s] != nil {
			streams = append(streams, s)
		}
	}
	if len(streams) == 0 {
		return nil, false
	}

	// Every interval must contain ts, so lo lies in [ts-latency, ts].
	starts := []time.Duration{ts}
	for _, s := range streams {
		ring := e.buffers[s]
		for i := 0; i < ring.Len(); i++ {
			if c := ring.At(i).Timestamp; c >= ts-e.latency && c < ts {
				starts = append(starts, c)
			}
		}
	}
	slices.Sort(starts)
	for _, lo := range starts {
		if partners, ok := e.partnersWithin(streams, lo, lo+e.latency); ok {
			return partners, true
		}
	}
	return nil, false
}

// partnersWithin takes the earliest sample inside [lo, hi] on each stream.
func (e *engine) partnersWithin(streams []ImageStream, lo, hi time.Duration) ([]partner, bool) {
	partners := make([]partner, 0, len(streams))
	for _, s := range streams {
		ring := e.buffers[s]
		best := -1
		for i := 0; i < ring.Len(); i++ {
			if c := ring.At(i).Timestamp; c >= lo && c <= hi {
				best = i
				break
			}
		}
		if best < 0 {
			return nil, false
		}
		partners = append(partners, partner{stream: s, index: best})
	}
	return partners, true
}

// take removes each partner from its ring into set. Samples older than a
// partner on the same stream are retired to the overflow store so a stream
// is always consumed in insertion order.
func (e *engine) take(partners []partner, set *CorrelatedSet) {
	for _, p := range partners {
		ring := e.buffers[p.stream]
		for i := 0; i < p.index; i++ {
			e.evict(p.stream, ring.PopFront())
		}
		set.Images[p.stream] = ring.PopFront()
	}
}

// push buffers s, making room by evicting the stream's oldest sample.
func (e *engine) push(s *ImageSample) {
	ring := e.buffers[s.Stream]
	if ring.Full() {
		e.evict(s.Stream, ring.PopFront())
	}
	ring.PushBack(s)
	e.counters.buffered++
}

func (e *engine) retireAll(stream ImageStream) {
	ring := e.buffers[stream]
	for ring.Len() > 0 {
		e.evict(stream, ring.PopFront())
	}
}

// evict moves an unmatched sample into the stream's overflow store,
// dropping the store's oldest entry when it is full.
func (e *engine) evict(stream ImageStream, s *ImageSample) {
	e.counters.evicted++
	store := e.overflow[stream]
	if store.Cap() == 0 {
		e.drop(s)
		return
	}
	if store.Full() {
		e.drop(store.PopFront())
	}
	store.PushBack(s)
	if e.debug {
		monitoring.Debugf("[timesync] device=%q evicted %s@%v to overflow (depth=%d)",
			e.deviceName, stream, s.Timestamp, store.Len())
	}
}

func (e *engine) drop(s *ImageSample) {
	e.counters.overflowDropped++
	if e.debug {
		monitoring.Debugf("[timesync] device=%q dropped %s@%v, overflow full",
			e.deviceName, s.Stream, s.Timestamp)
	}
	release(s.Payload)
}

func (e *engine) recordMatch(set *CorrelatedSet) {
	e.counters.matched++
	e.spans.add(set.Span())
}

func (e *engine) NotMatchedFrame(stream ImageStream) (*ImageSample, bool) {
	if e.closed || !e.imageRegistered(stream) {
		return nil, false
	}
	store := e.overflow[stream]
	s := store.PopFront()
	if s == nil {
		return nil, false
	}
	e.counters.drained++
	return s, store.Len() > 0
}

func (e *engine) Flush() {
	releaseSample := func(s *ImageSample) { release(s.Payload) }
	held := 0
	for _, s := range ImageStreams() {
		if e.buffers[s] == nil {
			continue
		}
		held += e.buffers[s].Len() + e.overflow[s].Len()
		e.buffers[s].Clear(releaseSample)
		e.overflow[s].Clear(releaseSample)
	}
	for m, r := range e.pending {
		if r != nil {
			held++
			release(r.Payload)
			e.pending[m] = nil
		}
	}
	e.counters.flushed++
	monitoring.Debugf("[timesync] device=%q session=%s flushed %d samples", e.deviceName, e.sessionID, held)
}

func (e *engine) Close() {
	if e.closed {
		return
	}
	e.Flush()
	e.closed = true
}

func (e *engine) Stats() Stats {
	st := Stats{DeviceName: e.deviceName, SessionID: e.sessionID}
	for _, s := range ImageStreams() {
		if e.buffers[s] == nil {
			continue
		}
		st.Streams = append(st.Streams, StreamStats{
			Stream:           s,
			Rate:             e.imageRates[s],
			Buffered:         e.buffers[s].Len(),
			Capacity:         e.buffers[s].Cap(),
			Overflow:         e.overflow[s].Len(),
			OverflowCapacity: e.overflow[s].Cap(),
		})
	}
	e.counters.fill(&st)
	st.Span = e.spans.summary()
	return st
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
