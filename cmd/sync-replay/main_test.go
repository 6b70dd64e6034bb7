package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sensorsync/internal/config"
	"github.com/banshee-data/sensorsync/internal/monitoring"
	"github.com/banshee-data/sensorsync/internal/trace"
)

func init() {
	monitoring.SetLogger(nil)
}

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	return Config{
		ConfigPath: filepath.Join("..", "..", config.DefaultConfigPath),
		Synth:      2 * time.Second,
		Seed:       3,
		Jitter:     time.Millisecond,
		Delay:      5 * time.Millisecond,
		DropRate:   0.05,
		WriteTrace: filepath.Join(dir, "synth.jsonl"),
		DBPath:     filepath.Join(dir, "runs.db"),
		HTMLPath:   filepath.Join(dir, "spans.html"),
		PNGPath:    filepath.Join(dir, "timeline.png"),
		BinWidth:   time.Millisecond,
	}
}

func TestRun_SyntheticEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), cfg, &out))

	summary := out.String()
	assert.Contains(t, summary, "=== Replay Summary ===")
	assert.Contains(t, summary, "default-camera")
	assert.Contains(t, summary, "Histogram written to")
	assert.Contains(t, summary, "Timeline written to")

	m := regexp.MustCompile(`Run stored as ([0-9a-f-]{36})`).FindStringSubmatch(summary)
	require.Len(t, m, 2)

	for _, path := range []string{cfg.WriteTrace, cfg.HTMLPath, cfg.PNGPath, cfg.DBPath} {
		info, err := os.Stat(path)
		require.NoError(t, err, path)
		assert.Positive(t, info.Size(), path)
	}

	// the written trace replays every event
	replayed := cfg
	replayed.Synth = 0
	replayed.TraceFile = cfg.WriteTrace
	replayed.WriteTrace = ""
	replayed.HTMLPath, replayed.PNGPath = "", ""
	var again bytes.Buffer
	require.NoError(t, run(context.Background(), replayed, &again))
	eventsLine := regexp.MustCompile(`Events:\s+(\d+)`)
	assert.Equal(t, eventsLine.FindStringSubmatch(summary)[1], eventsLine.FindStringSubmatch(again.String())[1])

	var listing bytes.Buffer
	require.NoError(t, run(context.Background(), Config{DBPath: cfg.DBPath, ListRuns: 5}, &listing))
	assert.Contains(t, listing.String(), m[1])
	assert.Equal(t, 3, bytes.Count(listing.Bytes(), []byte("\n")), "header plus two runs")
}

func TestRun_WrittenTraceIsReadable(t *testing.T) {
	cfg := testConfig(t)
	cfg.DBPath, cfg.HTMLPath, cfg.PNGPath = "", "", ""
	require.NoError(t, run(context.Background(), cfg, &bytes.Buffer{}))

	src, err := trace.OpenJSONL(cfg.WriteTrace)
	require.NoError(t, err)
	defer src.Close()
	events, err := trace.ReadAll(src)
	require.NoError(t, err)
	// three 30fps streams for two seconds, minus dropped frames
	assert.Greater(t, len(events), 150)
	assert.LessOrEqual(t, len(events), 180)
}

func TestRun_Errors(t *testing.T) {
	var out bytes.Buffer

	err := run(context.Background(), Config{ListRuns: 3}, &out)
	assert.ErrorContains(t, err, "-runs requires -db")

	cfg := testConfig(t)
	cfg.Synth = 0
	err = run(context.Background(), cfg, &out)
	assert.ErrorContains(t, err, "one of -trace, -pcap or -synth is required")

	cfg = testConfig(t)
	cfg.ConfigPath = filepath.Join(t.TempDir(), "missing.json")
	assert.Error(t, run(context.Background(), cfg, &out))

	cfg = testConfig(t)
	cfg.Synth = 0
	cfg.TraceFile = filepath.Join(t.TempDir(), "missing.jsonl")
	assert.Error(t, run(context.Background(), cfg, &out))
}
