package timesync

import "errors"

var (
	// ErrNoStreams is returned by New when every declared rate is zero.
	ErrNoStreams = errors.New("timesync: no streams registered")
	// ErrUnknownStream is returned for a stream kind outside the known enum.
	ErrUnknownStream = errors.New("timesync: unknown stream")
	// ErrInvalidRate is returned for a negative stream rate.
	ErrInvalidRate = errors.New("timesync: invalid stream rate")
	// ErrInvalidLatency is returned for a negative maximum input latency.
	ErrInvalidLatency = errors.New("timesync: invalid max input latency")
	// ErrInvalidBufferSize is returned for a negative overflow capacity
	// other than NoOverflow.
	ErrInvalidBufferSize = errors.New("timesync: invalid not-matched buffer size")
)
