package trace

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// jsonlRecord is one line of a JSONL trace, e.g.
//
//	{"stream":"color","ts_us":33333,"size":921600}
type jsonlRecord struct {
	Stream string `json:"stream"`
	TsUs   int64  `json:"ts_us"`
	Size   int    `json:"size,omitempty"`
}

const maxLineSize = 64 * 1024

// JSONLSource reads events from newline-delimited JSON. Blank lines and
// lines starting with '#' are skipped.
type JSONLSource struct {
	scanner *bufio.Scanner
	closer  io.Closer
	line    int
}

// NewJSONLSource reads events from r. If r is an io.Closer it is closed by
// Close.
func NewJSONLSource(r io.Reader) *JSONLSource {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLineSize)
	src := &JSONLSource{scanner: sc}
	if c, ok := r.(io.Closer); ok {
		src.closer = c
	}
	return src
}

// OpenJSONL opens a JSONL trace file.
func OpenJSONL(path string) (*JSONLSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace %s: %w", path, err)
	}
	return NewJSONLSource(f), nil
}

func (s *JSONLSource) Next() (Event, error) {
	for s.scanner.Scan() {
		s.line++
		raw := bytes.TrimSpace(s.scanner.Bytes())
		if len(raw) == 0 || raw[0] == '#' {
			continue
		}
		var rec jsonlRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return Event{}, fmt.Errorf("trace line %d: %w", s.line, err)
		}
		ev, err := resolveStream(rec.Stream)
		if err != nil {
			return Event{}, fmt.Errorf("trace line %d: %w", s.line, err)
		}
		if rec.TsUs < 0 {
			return Event{}, fmt.Errorf("trace line %d: negative timestamp %d", s.line, rec.TsUs)
		}
		ev.Timestamp = time.Duration(rec.TsUs) * time.Microsecond
		ev.Size = rec.Size
		return ev, nil
	}
	if err := s.scanner.Err(); err != nil {
		return Event{}, fmt.Errorf("trace line %d: %w", s.line+1, err)
	}
	return Event{}, io.EOF
}

func (s *JSONLSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// WriteJSONL writes events in the format read by JSONLSource.
func WriteJSONL(w io.Writer, events []Event) error {
	enc := json.NewEncoder(w)
	for _, ev := range events {
		rec := jsonlRecord{
			Stream: ev.StreamName(),
			TsUs:   ev.Timestamp.Microseconds(),
			Size:   ev.Size,
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("failed to encode trace event: %w", err)
		}
	}
	return nil
}
