package timesync

import (
	"fmt"
	"strings"
)

// ImageStream identifies an image channel of a device.
type ImageStream int

const (
	Depth ImageStream = iota
	Color
	Infrared
	Infrared2
	Fisheye

	numImageStreams
)

var imageStreamNames = [numImageStreams]string{
	Depth:     "depth",
	Color:     "color",
	Infrared:  "infrared",
	Infrared2: "infrared2",
	Fisheye:   "fisheye",
}

func (s ImageStream) String() string {
	if !s.valid() {
		return fmt.Sprintf("image(%d)", int(s))
	}
	return imageStreamNames[s]
}

func (s ImageStream) valid() bool {
	return s >= 0 && s < numImageStreams
}

// ImageStreams lists every image stream kind in enum order.
func ImageStreams() []ImageStream {
	out := make([]ImageStream, 0, numImageStreams)
	for s := ImageStream(0); s < numImageStreams; s++ {
		out = append(out, s)
	}
	return out
}

// ParseImageStream resolves a stream name such as "color" or "infrared2".
func ParseImageStream(name string) (ImageStream, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for s, known := range imageStreamNames {
		if known == n {
			return ImageStream(s), nil
		}
	}
	return 0, fmt.Errorf("%w: image stream %q", ErrUnknownStream, name)
}

// MotionStream identifies an inertial channel of a device.
type MotionStream int

const (
	Accel MotionStream = iota
	Gyro

	numMotionStreams
)

var motionStreamNames = [numMotionStreams]string{
	Accel: "accel",
	Gyro:  "gyro",
}

func (s MotionStream) String() string {
	if !s.valid() {
		return fmt.Sprintf("motion(%d)", int(s))
	}
	return motionStreamNames[s]
}

func (s MotionStream) valid() bool {
	return s >= 0 && s < numMotionStreams
}

// MotionStreams lists every motion stream kind in enum order.
func MotionStreams() []MotionStream {
	out := make([]MotionStream, 0, numMotionStreams)
	for s := MotionStream(0); s < numMotionStreams; s++ {
		out = append(out, s)
	}
	return out
}

// ParseMotionStream resolves a stream name such as "gyro".
func ParseMotionStream(name string) (MotionStream, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for s, known := range motionStreamNames {
		if known == n {
			return MotionStream(s), nil
		}
	}
	return 0, fmt.Errorf("%w: motion stream %q", ErrUnknownStream, name)
}
