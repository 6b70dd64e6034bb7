package timesync

import (
	"fmt"
	"time"
)

const (
	// DefaultMaxInputLatency is used when Config.MaxInputLatency is zero.
	DefaultMaxInputLatency = 100 * time.Millisecond

	// DefaultNotMatchedBufferSize is used when Config.NotMatchedBufferSize is zero.
	DefaultNotMatchedBufferSize = 10

	// NoOverflow disables the not-matched store: samples evicted from a full
	// buffer are released immediately.
	NoOverflow = -1

	// MaxBufferCapacity bounds the samples a stream's ±latency window may
	// span. Configurations needing more are rejected with ErrInvalidLatency.
	MaxBufferCapacity = 1 << 16
)

// Config describes the streams to synchronise and the matching tolerances.
type Config struct {
	ImageRates  map[ImageStream]int  // frames per second; 0 or absent = not registered
	MotionRates map[MotionStream]int // samples per second; 0 or absent = not registered
	DeviceName  string               // diagnostics label

	// MaxInputLatency is the largest timestamp difference between two samples
	// that may still describe the same instant. It also sizes the per-stream
	// buffers (default: 100ms).
	MaxInputLatency time.Duration

	// NotMatchedBufferSize is the per-stream capacity of the overflow store
	// (default: 10, NoOverflow for none).
	NotMatchedBufferSize int

	// Debug enables per-eviction logging.
	Debug bool
}

func (c Config) withDefaults() Config {
	if c.MaxInputLatency == 0 {
		c.MaxInputLatency = DefaultMaxInputLatency
	}
	if c.NotMatchedBufferSize == 0 {
		c.NotMatchedBufferSize = DefaultNotMatchedBufferSize
	}
	return c
}

func (c Config) validate() error {
	for s, rate := range c.ImageRates {
		if !s.valid() {
			return fmt.Errorf("%w: %v", ErrUnknownStream, s)
		}
		if rate < 0 {
			return fmt.Errorf("%w: %v at %d fps", ErrInvalidRate, s, rate)
		}
	}
	for s, rate := range c.MotionRates {
		if !s.valid() {
			return fmt.Errorf("%w: %v", ErrUnknownStream, s)
		}
		if rate < 0 {
			return fmt.Errorf("%w: %v at %d Hz", ErrInvalidRate, s, rate)
		}
	}
	if c.MaxInputLatency < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidLatency, c.MaxInputLatency)
	}
	for s, rate := range c.ImageRates {
		if rate > 0 && windowSlots(rate, c.MaxInputLatency) > MaxBufferCapacity {
			return fmt.Errorf("%w: %v with %v at %d fps needs more than %d buffered samples",
				ErrInvalidLatency, c.MaxInputLatency, s, rate, MaxBufferCapacity)
		}
	}
	if c.NotMatchedBufferSize < 0 && c.NotMatchedBufferSize != NoOverflow {
		return fmt.Errorf("%w: %d", ErrInvalidBufferSize, c.NotMatchedBufferSize)
	}
	return nil
}

func (c Config) overflowCapacity() int {
	if c.NotMatchedBufferSize == NoOverflow {
		return 0
	}
	return c.NotMatchedBufferSize
}

// registered returns the number of streams with a positive rate.
func (c Config) registered() (images, motions int) {
	for _, rate := range c.ImageRates {
		if rate > 0 {
			images++
		}
	}
	for _, rate := range c.MotionRates {
		if rate > 0 {
			motions++
		}
	}
	return images, motions
}

// BufferCapacity returns the buffer depth for a stream at rate fps: enough
// slots to cover the ±latency matching window, plus the incoming sample.
// A rate of zero yields zero (stream not registered). The window part is
// capped at MaxBufferCapacity.
func BufferCapacity(rate int, latency time.Duration) int {
	if rate <= 0 {
		return 0
	}
	if windowSlots(rate, latency) >= MaxBufferCapacity {
		return MaxBufferCapacity + 1
	}
	window := int64(2 * latency)
	n := int((int64(rate)*window + int64(time.Second) - 1) / int64(time.Second))
	return max(n, 1) + 1
}

// windowSlots is the unrounded number of samples a stream at rate delivers
// across the ±latency window. Float math keeps it from overflowing.
func windowSlots(rate int, latency time.Duration) float64 {
	return float64(rate) * 2 * latency.Seconds()
}
