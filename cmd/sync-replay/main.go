// Command sync-replay feeds a recorded or generated arrival trace through the
// timestamp synchroniser and reports how well the streams correlate.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/banshee-data/sensorsync/internal/config"
	"github.com/banshee-data/sensorsync/internal/monitoring"
	"github.com/banshee-data/sensorsync/internal/replay"
	"github.com/banshee-data/sensorsync/internal/report"
	"github.com/banshee-data/sensorsync/internal/timesync"
	"github.com/banshee-data/sensorsync/internal/trace"
	"github.com/banshee-data/sensorsync/internal/version"
)

// Config holds the command line options.
type Config struct {
	ConfigPath string
	TraceFile  string
	PCAPFile   string

	Synth    time.Duration
	Seed     uint64
	Jitter   time.Duration
	Delay    time.Duration
	DropRate float64

	WriteTrace string
	DBPath     string
	ListRuns   int
	HTMLPath   string
	PNGPath    string
	BinWidth   time.Duration

	Latency time.Duration
	Pace    float64
	Debug   bool
	Version bool
}

func main() {
	cfg := parseFlags()

	if cfg.Version {
		fmt.Println(version.String("sync-replay"))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, os.Stdout); err != nil {
		log.Fatalf("sync-replay: %v", err)
	}
}

func parseFlags() Config {
	cfg := Config{}

	flag.StringVar(&cfg.ConfigPath, "config", config.DefaultConfigPath, "Path to sync config JSON")
	flag.StringVar(&cfg.TraceFile, "trace", "", "JSONL arrival trace to replay")
	flag.StringVar(&cfg.PCAPFile, "pcap", "", "PCAP capture to replay (streams mapped by pcap_ports)")
	flag.DurationVar(&cfg.Synth, "synth", 0, "Generate a synthetic trace of this length instead of reading one")
	flag.Uint64Var(&cfg.Seed, "seed", 1, "Seed for -synth")
	flag.DurationVar(&cfg.Jitter, "jitter", 2*time.Millisecond, "Capture timestamp jitter for -synth")
	flag.DurationVar(&cfg.Delay, "delay", 10*time.Millisecond, "Maximum transport delay for -synth")
	flag.Float64Var(&cfg.DropRate, "drop", 0.02, "Fraction of image frames dropped by -synth")
	flag.StringVar(&cfg.WriteTrace, "write-trace", "", "Write the replayed events to this JSONL file")
	flag.StringVar(&cfg.DBPath, "db", "", "SQLite database to store the run in (optional)")
	flag.IntVar(&cfg.ListRuns, "runs", 0, "List the N most recent runs in -db and exit")
	flag.StringVar(&cfg.HTMLPath, "html", "", "Write a span histogram page to this file")
	flag.StringVar(&cfg.PNGPath, "png", "", "Write a span timeline plot to this file")
	flag.DurationVar(&cfg.BinWidth, "bin", time.Millisecond, "Histogram bin width")
	flag.DurationVar(&cfg.Latency, "latency", 0, "Override max_input_latency from the config")
	flag.Float64Var(&cfg.Pace, "pace", 0, "Replay speed relative to real time (0 = as fast as possible)")
	flag.BoolVar(&cfg.Debug, "debug", false, "Log evictions and overflow drops")
	flag.BoolVar(&cfg.Version, "version", false, "Print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Replays sensor sample arrivals through the timestamp synchroniser:\n")
		fmt.Fprintf(os.Stderr, "  1. Read arrivals from -trace, -pcap, or generate them with -synth\n")
		fmt.Fprintf(os.Stderr, "  2. Insert each sample and collect correlated sets\n")
		fmt.Fprintf(os.Stderr, "  3. Drain unmatched frames after every insert\n")
		fmt.Fprintf(os.Stderr, "  4. Summarise, and optionally store and chart the run\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -trace session.jsonl -html spans.html\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -pcap capture.pcap -db replay.db -png timeline.png\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -synth 10s -drop 0.05 -write-trace synth.jsonl\n", os.Args[0])
	}

	flag.Parse()
	return cfg
}

func run(ctx context.Context, cfg Config, out io.Writer) error {
	monitoring.SetDebug(cfg.Debug)

	if cfg.ListRuns > 0 {
		return listRuns(ctx, cfg, out)
	}

	syncCfg, err := config.LoadSyncConfig(cfg.ConfigPath)
	if err != nil {
		return err
	}
	tsCfg, err := syncCfg.ToTimesync()
	if err != nil {
		return err
	}
	if cfg.Latency > 0 {
		tsCfg.MaxInputLatency = cfg.Latency
	}
	tsCfg.Debug = cfg.Debug

	events, source, err := loadEvents(cfg, syncCfg, tsCfg)
	if err != nil {
		return err
	}
	if cfg.WriteTrace != "" {
		if err := writeTrace(cfg.WriteTrace, events); err != nil {
			return err
		}
	}

	sync, err := timesync.New(tsCfg)
	if err != nil {
		return err
	}
	defer sync.Close()

	runner := &replay.Runner{Sync: sync, Pace: cfg.Pace}
	res, err := runner.Run(ctx, trace.NewSliceSource(events))
	if err != nil {
		return err
	}
	printSummary(out, source, res)

	title := fmt.Sprintf("%s (%s)", tsCfg.DeviceName, source)
	if cfg.HTMLPath != "" {
		if err := writeHistogram(cfg.HTMLPath, title, res, cfg.BinWidth); err != nil {
			return err
		}
		fmt.Fprintf(out, "Histogram written to %s\n", cfg.HTMLPath)
	}
	if cfg.PNGPath != "" {
		if err := report.PlotTimeline(cfg.PNGPath, title, res.Matches, res.Drained); err != nil {
			return err
		}
		fmt.Fprintf(out, "Timeline written to %s\n", cfg.PNGPath)
	}
	if cfg.DBPath != "" {
		store, err := report.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()
		cfgJSON, err := json.Marshal(syncCfg)
		if err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		saved, err := store.SaveRun(ctx, source, cfgJSON, res)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Run stored as %s\n", saved.RunID)
	}
	return nil
}

// loadEvents reads the selected source fully so it can be written back out
// before replay.
func loadEvents(cfg Config, syncCfg *config.SyncConfig, tsCfg timesync.Config) ([]trace.Event, string, error) {
	var (
		src    trace.Source
		source string
		err    error
	)
	switch {
	case cfg.TraceFile != "":
		source = cfg.TraceFile
		src, err = trace.OpenJSONL(cfg.TraceFile)
	case cfg.PCAPFile != "":
		source = cfg.PCAPFile
		images, motions, perr := syncCfg.PortStreams()
		if perr != nil {
			return nil, "", perr
		}
		src, err = trace.OpenPcap(cfg.PCAPFile, images, motions)
	case cfg.Synth > 0:
		source = fmt.Sprintf("synthetic:%s:seed=%d", cfg.Synth, cfg.Seed)
		src = trace.NewSliceSource(trace.Synthesize(trace.SynthConfig{
			ImageRates:  tsCfg.ImageRates,
			MotionRates: tsCfg.MotionRates,
			Duration:    cfg.Synth,
			Jitter:      cfg.Jitter,
			MaxDelay:    cfg.Delay,
			DropRate:    cfg.DropRate,
			Seed:        cfg.Seed,
		}))
	default:
		return nil, "", errors.New("one of -trace, -pcap or -synth is required")
	}
	if err != nil {
		return nil, "", err
	}
	defer src.Close()

	events, err := trace.ReadAll(src)
	if err != nil {
		return nil, "", err
	}
	return events, source, nil
}

func writeTrace(path string, events []trace.Event) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create trace file: %w", err)
	}
	if err := trace.WriteJSONL(f, events); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeHistogram(path, title string, res *replay.Result, binWidth time.Duration) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create histogram file: %w", err)
	}
	if err := report.RenderHistogram(f, title, res.Matches, res.Drained, binWidth); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func listRuns(ctx context.Context, cfg Config, out io.Writer) error {
	if cfg.DBPath == "" {
		return errors.New("-runs requires -db")
	}
	store, err := report.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(ctx, cfg.ListRuns)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%-36s  %-20s  %8s  %8s  %8s  %10s\n", "RUN", "CREATED", "EVENTS", "MATCHED", "DRAINED", "SPAN P95")
	for _, r := range runs {
		created := time.Unix(0, r.CreatedAt).Format("2006-01-02 15:04:05")
		fmt.Fprintf(out, "%-36s  %-20s  %8d  %8d  %8d  %10s\n", r.RunID, created, r.Events, r.Matched, r.Drained, r.SpanP95)
	}
	return nil
}

func printSummary(out io.Writer, source string, res *replay.Result) {
	st := res.Stats
	fmt.Fprintf(out, "\n=== Replay Summary ===\n")
	fmt.Fprintf(out, "Source:          %s\n", source)
	fmt.Fprintf(out, "Device:          %s (session %s)\n", st.DeviceName, st.SessionID)
	fmt.Fprintf(out, "Trace time:      %v\n", res.Duration)
	fmt.Fprintf(out, "Events:          %d (%d image, %d motion)\n", res.Events, res.Images, res.Motions)
	fmt.Fprintf(out, "Matched sets:    %d\n", st.Matched)
	fmt.Fprintf(out, "Image match:     %.1f%%\n", 100*res.MatchRate())
	fmt.Fprintf(out, "Drained:         %d\n", len(res.Drained))
	fmt.Fprintf(out, "Overflow drops:  %d\n", st.OverflowDropped)
	fmt.Fprintf(out, "Motion attached: %d\n", st.MotionAttached)
	fmt.Fprintf(out, "Motion dropped:  %d\n", st.MotionDropped)
	if st.Unregistered > 0 {
		fmt.Fprintf(out, "Unregistered:    %d\n", st.Unregistered)
	}
	if st.Span.Count > 0 {
		fmt.Fprintf(out, "Span:            mean %v  stddev %v  p50 %v  p95 %v  max %v\n",
			st.Span.Mean, st.Span.StdDev, st.Span.P50, st.Span.P95, st.Span.Max)
	}
	for _, s := range st.Streams {
		fmt.Fprintf(out, "  %-10s rate=%3d buffered=%d/%d overflow=%d/%d\n",
			s.Stream, s.Rate, s.Buffered, s.Capacity, s.Overflow, s.OverflowCapacity)
	}
}
