// Package trace reads recorded sample arrivals for offline replay through a
// timesync.Synchronizer. Sources yield events in arrival order; timestamps
// are device capture times relative to the start of the recording.
package trace

import (
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/sensorsync/internal/timesync"
)

// Kind distinguishes image events from motion events.
type Kind int

const (
	KindImage Kind = iota
	KindMotion
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindMotion:
		return "motion"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is a single recorded sample arrival.
type Event struct {
	Kind      Kind
	Image     timesync.ImageStream  // valid when Kind == KindImage
	Motion    timesync.MotionStream // valid when Kind == KindMotion
	Timestamp time.Duration
	Size      int // payload bytes, informational
}

// StreamName returns the name of the event's stream.
func (e Event) StreamName() string {
	if e.Kind == KindMotion {
		return e.Motion.String()
	}
	return e.Image.String()
}

// Source yields events until it returns io.EOF.
type Source interface {
	Next() (Event, error)
	Close() error
}

// ReadAll drains src. The source is not closed.
func ReadAll(src Source) ([]Event, error) {
	var events []Event
	for {
		ev, err := src.Next()
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

// resolveStream maps a stream name onto an event kind and stream.
func resolveStream(name string) (Event, error) {
	if s, err := timesync.ParseImageStream(name); err == nil {
		return Event{Kind: KindImage, Image: s}, nil
	}
	m, err := timesync.ParseMotionStream(name)
	if err != nil {
		return Event{}, err
	}
	return Event{Kind: KindMotion, Motion: m}, nil
}
