package timesync

import (
	"sync/atomic"
	"time"
)

// Payload is a reference-counted handle to sample data the engine never
// inspects. Retain adds a reference; Release drops one.
type Payload interface {
	Retain()
	Release()
}

// RefPayload is the default Payload implementation. It starts with a single
// reference owned by the producer and invokes onFree once the last reference
// is released.
type RefPayload struct {
	refs   atomic.Int32
	data   any
	onFree func(data any)
}

// NewPayload wraps data in a RefPayload holding one reference.
func NewPayload(data any, onFree func(data any)) *RefPayload {
	p := &RefPayload{data: data, onFree: onFree}
	p.refs.Store(1)
	return p
}

// Data returns the wrapped value.
func (p *RefPayload) Data() any { return p.data }

// Refs returns the current reference count.
func (p *RefPayload) Refs() int32 { return p.refs.Load() }

// Retain adds a reference. Retaining a payload that has already been freed
// is a use-after-release and panics.
func (p *RefPayload) Retain() {
	if p.refs.Add(1) <= 1 {
		panic("timesync: retain of released payload")
	}
}

// Release drops a reference and frees the payload when none remain.
// Releasing more often than retaining panics.
func (p *RefPayload) Release() {
	n := p.refs.Add(-1)
	switch {
	case n < 0:
		panic("timesync: release of released payload")
	case n == 0 && p.onFree != nil:
		p.onFree(p.data)
	}
}

func retain(p Payload) {
	if p != nil {
		p.Retain()
	}
}

func release(p Payload) {
	if p != nil {
		p.Release()
	}
}

// ImageSample is one frame of an image stream. Timestamp is the device
// timestamp, monotonic within the stream.
type ImageSample struct {
	Stream    ImageStream
	Timestamp time.Duration
	Payload   Payload
}

// MotionSample is one reading of a motion stream.
type MotionSample struct {
	Stream    MotionStream
	Timestamp time.Duration
	Payload   Payload
}

// CorrelatedSet holds at most one sample per stream whose timestamps agree
// within the configured maximum input latency.
type CorrelatedSet struct {
	Images  [numImageStreams]*ImageSample
	Motions [numMotionStreams]*MotionSample
}

// Image returns the matched sample for the stream, or nil.
func (c *CorrelatedSet) Image(s ImageStream) *ImageSample {
	if !s.valid() {
		return nil
	}
	return c.Images[s]
}

// Motion returns the matched sample for the stream, or nil.
func (c *CorrelatedSet) Motion(s MotionStream) *MotionSample {
	if !s.valid() {
		return nil
	}
	return c.Motions[s]
}

// Len returns the number of populated slots.
func (c *CorrelatedSet) Len() int {
	n := 0
	for _, s := range c.Images {
		if s != nil {
			n++
		}
	}
	for _, s := range c.Motions {
		if s != nil {
			n++
		}
	}
	return n
}

// Empty reports whether no slot is populated.
func (c *CorrelatedSet) Empty() bool { return c.Len() == 0 }

// Span returns the difference between the newest and oldest timestamp in
// the set.
func (c *CorrelatedSet) Span() time.Duration {
	lo, hi, _ := c.bounds()
	return hi - lo
}

// bounds returns the oldest and newest timestamp in the set; ok is false
// for an empty set.
func (c *CorrelatedSet) bounds() (lo, hi time.Duration, ok bool) {
	widen := func(ts time.Duration) {
		if !ok {
			lo, hi, ok = ts, ts, true
			return
		}
		lo = min(lo, ts)
		hi = max(hi, ts)
	}
	for _, s := range c.Images {
		if s != nil {
			widen(s.Timestamp)
		}
	}
	for _, s := range c.Motions {
		if s != nil {
			widen(s.Timestamp)
		}
	}
	return lo, hi, ok
}

// Release drops the caller's reference on every sample in the set and
// clears it.
func (c *CorrelatedSet) Release() {
	for i, s := range c.Images {
		if s != nil {
			release(s.Payload)
			c.Images[i] = nil
		}
	}
	for i, s := range c.Motions {
		if s != nil {
			release(s.Payload)
			c.Motions[i] = nil
		}
	}
}
