package timesync

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/sensorsync/internal/monitoring"
)

// Synchronizer correlates samples from independently clocked streams.
type Synchronizer interface {
	// InsertImage offers an image sample. When every other registered image
	// stream holds a compatible sample, the matched set is returned with
	// true; otherwise the sample is buffered and an empty set is returned.
	InsertImage(s *ImageSample) (CorrelatedSet, bool)

	// InsertMotion offers a motion sample. With a single image stream it is
	// matched against the buffered images directly. With several, a reading
	// near a buffered image is held and attached to the next image set, and
	// the call reports not matched. Readings near no buffered image are not
	// retained.
	InsertMotion(s *MotionSample) (CorrelatedSet, bool)

	// NotMatchedFrame pops the oldest sample evicted unmatched from the
	// stream's buffer. The bool reports whether more remain.
	NotMatchedFrame(stream ImageStream) (*ImageSample, bool)

	// Flush drops every buffered and overflowed sample.
	Flush()

	// Close flushes and disables the instance.
	Close()

	// Stats returns a snapshot of buffer depths and counters.
	Stats() Stats
}

// New validates cfg and builds a Synchronizer for it. A configuration with a
// single registered stream yields a passthrough that emits every sample on
// its own.
func New(cfg Config) (Synchronizer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	images, motions := cfg.registered()
	switch {
	case images+motions == 0:
		return nil, fmt.Errorf("%w: device %q", ErrNoStreams, cfg.DeviceName)
	case images+motions == 1:
		p := newPassthrough(cfg, uuid.NewString())
		monitoring.Logf("[timesync] device=%q session=%s single stream registered, passing samples through",
			cfg.DeviceName, p.sessionID)
		return p, nil
	}

	e := newEngine(cfg, uuid.NewString())
	if images == 0 {
		monitoring.Logf("[timesync] device=%q session=%s no image streams registered; motion samples will never correlate",
			cfg.DeviceName, e.sessionID)
	}
	for _, s := range ImageStreams() {
		if e.buffers[s] != nil {
			monitoring.Debugf("[timesync] device=%q stream=%s rate=%d capacity=%d overflow=%d",
				cfg.DeviceName, s, e.imageRates[s], e.buffers[s].Cap(), e.overflow[s].Cap())
		}
	}
	monitoring.Logf("[timesync] device=%q session=%s images=%d motions=%d max_input_latency=%v",
		cfg.DeviceName, e.sessionID, images, motions, e.latency)
	return e, nil
}
