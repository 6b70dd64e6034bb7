package trace

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/sensorsync/internal/monitoring"
	"github.com/banshee-data/sensorsync/internal/timesync"
)

// PcapSource turns a capture of per-stream UDP traffic into events. Each
// stream is identified by its UDP destination port; packets on other ports
// are skipped. Event timestamps are capture times relative to the first
// mapped packet.
type PcapSource struct {
	packets *gopacket.PacketSource
	closer  io.Closer
	images  map[uint16]timesync.ImageStream
	motions map[uint16]timesync.MotionStream

	start   time.Time
	started bool
	read    int
	skipped int
}

// NewPcapSource reads a classic pcap stream from r.
func NewPcapSource(r io.Reader, images map[uint16]timesync.ImageStream, motions map[uint16]timesync.MotionStream) (*PcapSource, error) {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read pcap header: %w", err)
	}
	src := &PcapSource{
		packets: gopacket.NewPacketSource(reader, reader.LinkType()),
		images:  images,
		motions: motions,
	}
	if c, ok := r.(io.Closer); ok {
		src.closer = c
	}
	return src, nil
}

// OpenPcap opens a pcap file.
func OpenPcap(path string, images map[uint16]timesync.ImageStream, motions map[uint16]timesync.MotionStream) (*PcapSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}
	src, err := NewPcapSource(f, images, motions)
	if err != nil {
		f.Close()
		return nil, err
	}
	return src, nil
}

func (s *PcapSource) Next() (Event, error) {
	for {
		packet, err := s.packets.NextPacket()
		if err == io.EOF {
			monitoring.Logf("[trace] pcap complete: %d packets read, %d skipped", s.read, s.skipped)
			return Event{}, io.EOF
		}
		if err != nil {
			return Event{}, fmt.Errorf("pcap packet %d: %w", s.read+1, err)
		}
		s.read++

		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			s.skipped++
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok {
			s.skipped++
			continue
		}

		var ev Event
		port := uint16(udp.DstPort)
		if stream, ok := s.images[port]; ok {
			ev = Event{Kind: KindImage, Image: stream}
		} else if stream, ok := s.motions[port]; ok {
			ev = Event{Kind: KindMotion, Motion: stream}
		} else {
			s.skipped++
			continue
		}

		captured := packet.Metadata().Timestamp
		if !s.started {
			s.start, s.started = captured, true
		}
		ev.Timestamp = captured.Sub(s.start)
		ev.Size = len(udp.Payload)
		return ev, nil
	}
}

// Skipped reports how many packets were not mapped to a stream.
func (s *PcapSource) Skipped() int { return s.skipped }

func (s *PcapSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
