package trace

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sensorsync/internal/timesync"
)

type capturedPacket struct {
	at      time.Time
	dstPort uint16
	payload []byte
}

// writePcap serialises Ethernet/IPv4/UDP packets into a classic pcap stream.
func writePcap(t *testing.T, packets []capturedPacket) []byte {
	t.Helper()
	var out bytes.Buffer
	w := pcapgo.NewWriter(&out)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	for _, p := range packets {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
			DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    net.IPv4(192, 168, 1, 10),
			DstIP:    net.IPv4(192, 168, 1, 20),
		}
		udp := &layers.UDP{SrcPort: 40000, DstPort: layers.UDPPort(p.dstPort)}
		require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(p.payload)))

		data := buf.Bytes()
		ci := gopacket.CaptureInfo{Timestamp: p.at, CaptureLength: len(data), Length: len(data)}
		require.NoError(t, w.WritePacket(ci, data))
	}
	return out.Bytes()
}

func TestPcapSource(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	raw := writePcap(t, []capturedPacket{
		{at: base, dstPort: 5600, payload: make([]byte, 100)},
		{at: base.Add(2 * time.Millisecond), dstPort: 9999, payload: []byte{1}},
		{at: base.Add(3 * time.Millisecond), dstPort: 5601, payload: make([]byte, 80)},
		{at: base.Add(5 * time.Millisecond), dstPort: 5611, payload: make([]byte, 12)},
	})

	images := map[uint16]timesync.ImageStream{5600: timesync.Color, 5601: timesync.Depth}
	motions := map[uint16]timesync.MotionStream{5611: timesync.Gyro}
	src, err := NewPcapSource(bytes.NewReader(raw), images, motions)
	require.NoError(t, err)

	events, err := ReadAll(src)
	require.NoError(t, err)
	assert.Equal(t, []Event{
		{Kind: KindImage, Image: timesync.Color, Timestamp: 0, Size: 100},
		{Kind: KindImage, Image: timesync.Depth, Timestamp: 3 * time.Millisecond, Size: 80},
		{Kind: KindMotion, Motion: timesync.Gyro, Timestamp: 5 * time.Millisecond, Size: 12},
	}, events)
	assert.Equal(t, 1, src.Skipped())
}

func TestOpenPcap(t *testing.T) {
	base := time.Unix(1700000000, 0)
	raw := writePcap(t, []capturedPacket{
		{at: base.Add(time.Second), dstPort: 5610, payload: []byte{0, 1}},
		{at: base.Add(time.Second + 33*time.Millisecond), dstPort: 5610, payload: []byte{2, 3}},
	})
	path := filepath.Join(t.TempDir(), "capture.pcap")
	require.NoError(t, os.WriteFile(path, raw, 0644))

	src, err := OpenPcap(path, nil, map[uint16]timesync.MotionStream{5610: timesync.Accel})
	require.NoError(t, err)
	defer src.Close()

	events, err := ReadAll(src)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 33*time.Millisecond, events[1].Timestamp)

	_, err = OpenPcap(filepath.Join(t.TempDir(), "missing.pcap"), nil, nil)
	assert.Error(t, err)
}
