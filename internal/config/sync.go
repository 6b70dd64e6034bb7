package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/banshee-data/sensorsync/internal/timesync"
)

// DefaultConfigPath is the path to the canonical sync defaults file.
const DefaultConfigPath = "config/sync.defaults.json"

// SyncConfig is the on-disk description of a device's streams and the
// synchroniser tolerances. Omitted fields fall back to the Get* defaults, so
// partial files are safe.
type SyncConfig struct {
	DeviceName                 *string `json:"device_name,omitempty"`
	MaxInputLatency            *string `json:"max_input_latency,omitempty"` // duration string like "100ms"
	NotMatchedFramesBufferSize *int    `json:"not_matched_frames_buffer_size,omitempty"`

	// Stream name → declared rate. Zero leaves the stream unregistered.
	ImageStreams  map[string]int `json:"image_streams,omitempty"`
	MotionStreams map[string]int `json:"motion_streams,omitempty"`

	// UDP destination port → stream name, used when replaying pcap captures.
	PcapPorts map[string]string `json:"pcap_ports,omitempty"`
}

// EmptySyncConfig returns a SyncConfig with every field unset.
func EmptySyncConfig() *SyncConfig {
	return &SyncConfig{}
}

// LoadSyncConfig loads and validates a SyncConfig from a JSON file.
func LoadSyncConfig(path string) (*SyncConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptySyncConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded; intended
// for test setup.
func MustLoadDefaultConfig() *SyncConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/sync-replay/
	}
	for _, path := range candidates {
		if cfg, err := LoadSyncConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks names, rates and durations. Unknown stream names are
// rejected rather than ignored.
func (c *SyncConfig) Validate() error {
	if c.MaxInputLatency != nil && *c.MaxInputLatency != "" {
		d, err := time.ParseDuration(*c.MaxInputLatency)
		if err != nil {
			return fmt.Errorf("invalid max_input_latency '%s': %w", *c.MaxInputLatency, err)
		}
		if d < 0 {
			return fmt.Errorf("max_input_latency must be non-negative, got %s", d)
		}
	}
	if c.NotMatchedFramesBufferSize != nil && *c.NotMatchedFramesBufferSize < timesync.NoOverflow {
		return fmt.Errorf("not_matched_frames_buffer_size must be >= %d, got %d",
			timesync.NoOverflow, *c.NotMatchedFramesBufferSize)
	}
	for name, rate := range c.ImageStreams {
		if _, err := timesync.ParseImageStream(name); err != nil {
			return err
		}
		if rate < 0 {
			return fmt.Errorf("image stream %q rate must be non-negative, got %d", name, rate)
		}
	}
	for name, rate := range c.MotionStreams {
		if _, err := timesync.ParseMotionStream(name); err != nil {
			return err
		}
		if rate < 0 {
			return fmt.Errorf("motion stream %q rate must be non-negative, got %d", name, rate)
		}
	}
	for port, name := range c.PcapPorts {
		if p, err := strconv.Atoi(port); err != nil || p <= 0 || p > 65535 {
			return fmt.Errorf("invalid pcap port %q", port)
		}
		if _, err := timesync.ParseImageStream(name); err == nil {
			continue
		}
		if _, err := timesync.ParseMotionStream(name); err != nil {
			return fmt.Errorf("pcap port %s: %w", port, err)
		}
	}
	return nil
}

// GetDeviceName returns the device label or "device".
func (c *SyncConfig) GetDeviceName() string {
	if c.DeviceName == nil || *c.DeviceName == "" {
		return "device"
	}
	return *c.DeviceName
}

// GetMaxInputLatency parses MaxInputLatency, defaulting to
// timesync.DefaultMaxInputLatency.
func (c *SyncConfig) GetMaxInputLatency() time.Duration {
	if c.MaxInputLatency == nil || *c.MaxInputLatency == "" {
		return timesync.DefaultMaxInputLatency
	}
	d, err := time.ParseDuration(*c.MaxInputLatency)
	if err != nil {
		return timesync.DefaultMaxInputLatency // default on parse error
	}
	return d
}

// GetNotMatchedFramesBufferSize returns the overflow capacity or the default.
func (c *SyncConfig) GetNotMatchedFramesBufferSize() int {
	if c.NotMatchedFramesBufferSize == nil {
		return timesync.DefaultNotMatchedBufferSize
	}
	return *c.NotMatchedFramesBufferSize
}

// PortStreams resolves PcapPorts into image and motion lookups keyed by port.
func (c *SyncConfig) PortStreams() (map[uint16]timesync.ImageStream, map[uint16]timesync.MotionStream, error) {
	images := map[uint16]timesync.ImageStream{}
	motions := map[uint16]timesync.MotionStream{}
	for port, name := range c.PcapPorts {
		p, err := strconv.ParseUint(port, 10, 16)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid pcap port %q: %w", port, err)
		}
		if s, err := timesync.ParseImageStream(name); err == nil {
			images[uint16(p)] = s
			continue
		}
		m, err := timesync.ParseMotionStream(name)
		if err != nil {
			return nil, nil, fmt.Errorf("pcap port %s: %w", port, err)
		}
		motions[uint16(p)] = m
	}
	return images, motions, nil
}

// ToTimesync converts the file representation into a timesync.Config.
func (c *SyncConfig) ToTimesync() (timesync.Config, error) {
	if err := c.Validate(); err != nil {
		return timesync.Config{}, err
	}
	out := timesync.Config{
		ImageRates:      map[timesync.ImageStream]int{},
		MotionRates:     map[timesync.MotionStream]int{},
		DeviceName:      c.GetDeviceName(),
		MaxInputLatency: c.GetMaxInputLatency(),
		// zero selects the timesync default
		NotMatchedBufferSize: c.GetNotMatchedFramesBufferSize(),
	}
	for name, rate := range c.ImageStreams {
		s, _ := timesync.ParseImageStream(name)
		out.ImageRates[s] = rate
	}
	for name, rate := range c.MotionStreams {
		s, _ := timesync.ParseMotionStream(name)
		out.MotionRates[s] = rate
	}
	return out, nil
}
