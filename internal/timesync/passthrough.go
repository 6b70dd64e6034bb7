package timesync

// passthrough serves configurations with a single registered stream: there
// is nothing to correlate, so every sample is its own set.
type passthrough struct {
	deviceName string
	sessionID  string
	image      ImageStream
	motion     MotionStream
	hasImage   bool
	closed     bool

	counters counters
	spans    spanWindow
}

func newPassthrough(cfg Config, sessionID string) *passthrough {
	p := &passthrough{deviceName: cfg.DeviceName, sessionID: sessionID, image: -1, motion: -1}
	for s, rate := range cfg.ImageRates {
		if rate > 0 {
			p.image, p.hasImage = s, true
		}
	}
	for s, rate := range cfg.MotionRates {
		if rate > 0 {
			p.motion = s
		}
	}
	return p
}

func (p *passthrough) InsertImage(s *ImageSample) (CorrelatedSet, bool) {
	var set CorrelatedSet
	if p.closed || s == nil {
		return set, false
	}
	if !p.hasImage || s.Stream != p.image {
		p.counters.unregistered++
		return set, false
	}
	retain(s.Payload)
	set.Images[s.Stream] = s
	p.counters.matched++
	p.spans.add(0)
	return set, true
}

func (p *passthrough) InsertMotion(s *MotionSample) (CorrelatedSet, bool) {
	var set CorrelatedSet
	if p.closed || s == nil {
		return set, false
	}
	if p.hasImage || s.Stream != p.motion {
		p.counters.unregistered++
		return set, false
	}
	retain(s.Payload)
	set.Motions[s.Stream] = s
	p.counters.matched++
	p.spans.add(0)
	return set, true
}

// NotMatchedFrame never has anything to return: nothing is ever buffered.
func (p *passthrough) NotMatchedFrame(ImageStream) (*ImageSample, bool) {
	return nil, false
}

func (p *passthrough) Flush() {
	p.counters.flushed++
}

func (p *passthrough) Close() {
	p.closed = true
}

func (p *passthrough) Stats() Stats {
	st := Stats{DeviceName: p.deviceName, SessionID: p.sessionID}
	p.counters.fill(&st)
	st.Span = p.spans.summary()
	return st
}
