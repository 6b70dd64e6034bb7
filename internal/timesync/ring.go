package timesync

// sampleRing is a fixed-capacity FIFO of image samples backed by a cyclic
// array. Index 0 is always the oldest sample.
type sampleRing struct {
	buf   []*ImageSample
	head  int
	count int
}

func newSampleRing(capacity int) *sampleRing {
	return &sampleRing{buf: make([]*ImageSample, capacity)}
}

func (r *sampleRing) Len() int   { return r.count }
func (r *sampleRing) Cap() int   { return len(r.buf) }
func (r *sampleRing) Full() bool { return r.count == len(r.buf) }

func (r *sampleRing) slot(i int) int {
	return (r.head + i) % len(r.buf)
}

// At returns the i-th oldest sample.
func (r *sampleRing) At(i int) *ImageSample {
	if i < 0 || i >= r.count {
		return nil
	}
	return r.buf[r.slot(i)]
}

// PushBack appends s. The caller makes room first; pushing into a full ring
// panics.
func (r *sampleRing) PushBack(s *ImageSample) {
	if r.Full() {
		panic("timesync: push into full ring")
	}
	r.buf[r.slot(r.count)] = s
	r.count++
}

// PopFront removes and returns the oldest sample, or nil when empty.
func (r *sampleRing) PopFront() *ImageSample {
	if r.count == 0 {
		return nil
	}
	s := r.buf[r.head]
	r.buf[r.head] = nil
	r.head = (r.head + 1) % len(r.buf)
	r.count--
	return s
}

// Clear empties the ring, handing every sample to fn oldest first.
func (r *sampleRing) Clear(fn func(*ImageSample)) {
	for r.count > 0 {
		s := r.PopFront()
		if fn != nil {
			fn(s)
		}
	}
	r.head = 0
}
