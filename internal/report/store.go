// Package report persists replay results to SQLite and renders them as an
// interactive histogram page and a static timeline plot.
package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/sensorsync/internal/monitoring"
	"github.com/banshee-data/sensorsync/internal/replay"
	"github.com/banshee-data/sensorsync/internal/timesync"
)

// ErrRunNotFound is returned when a run id is not in the store.
var ErrRunNotFound = errors.New("report: run not found")

// Run is the summary row of one persisted replay.
type Run struct {
	RunID           string          `json:"run_id"`
	DeviceName      string          `json:"device_name"`
	Source          string          `json:"source"`
	ConfigJSON      json.RawMessage `json:"config_json,omitempty"`
	Events          int             `json:"events"`
	Images          int             `json:"images"`
	Motions         int             `json:"motions"`
	Matched         uint64          `json:"matched"`
	Drained         uint64          `json:"drained"`
	MotionDropped   uint64          `json:"motion_dropped"`
	OverflowDropped uint64          `json:"overflow_dropped"`
	Duration        time.Duration   `json:"duration"`
	SpanMean        time.Duration   `json:"span_mean"`
	SpanP95         time.Duration   `json:"span_p95"`
	SpanMax         time.Duration   `json:"span_max"`
	CreatedAt       int64           `json:"created_at"` // unix nanos
}

// Store is a replay report database.
type Store struct {
	db *sql.DB
}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA foreign_keys=ON",
}

// Open opens (creating if needed) the database at path and migrates it to
// the latest schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open report database %s: %w", path, err)
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	s := &Store{db: db}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun persists a replay result with a freshly generated run id.
func (s *Store) SaveRun(ctx context.Context, source string, configJSON []byte, res *replay.Result) (*Run, error) {
	if res == nil {
		return nil, errors.New("report: nil replay result")
	}
	run := &Run{
		RunID:           uuid.NewString(),
		DeviceName:      res.Stats.DeviceName,
		Source:          source,
		ConfigJSON:      json.RawMessage(configJSON),
		Events:          res.Events,
		Images:          res.Images,
		Motions:         res.Motions,
		Matched:         res.Stats.Matched,
		Drained:         uint64(len(res.Drained)),
		MotionDropped:   res.Stats.MotionDropped,
		OverflowDropped: res.Stats.OverflowDropped,
		Duration:        res.Duration,
		SpanMean:        res.Stats.Span.Mean,
		SpanP95:         res.Stats.Span.P95,
		SpanMax:         res.Stats.Span.Max,
		CreatedAt:       time.Now().UnixNano(),
	}

	var configStr interface{}
	if len(configJSON) > 0 {
		configStr = string(configJSON)
	}

	err := retryOnBusy(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO replay_runs (
				run_id, device_name, source, config_json,
				events, images, motions,
				matched, drained, motion_dropped, overflow_dropped,
				duration_us, span_mean_us, span_p95_us, span_max_us, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, run.DeviceName, run.Source, configStr,
			run.Events, run.Images, run.Motions,
			run.Matched, run.Drained, run.MotionDropped, run.OverflowDropped,
			run.Duration.Microseconds(), run.SpanMean.Microseconds(),
			run.SpanP95.Microseconds(), run.SpanMax.Microseconds(), run.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert run: %w", err)
		}

		matchStmt, err := tx.PrepareContext(ctx,
			`INSERT INTO replay_matches (run_id, seq, stream, ts_us, span_us) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer matchStmt.Close()
		for _, m := range res.Matches {
			for _, mem := range m.Members {
				if _, err := matchStmt.ExecContext(ctx, run.RunID, m.Seq, mem.Stream,
					mem.Timestamp.Microseconds(), m.Span.Microseconds()); err != nil {
					return fmt.Errorf("insert match %d: %w", m.Seq, err)
				}
			}
		}

		drainStmt, err := tx.PrepareContext(ctx,
			`INSERT INTO replay_unmatched (run_id, seq, stream, ts_us) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer drainStmt.Close()
		for _, d := range res.Drained {
			if _, err := drainStmt.ExecContext(ctx, run.RunID, d.Seq, d.Stream.String(),
				d.Timestamp.Microseconds()); err != nil {
				return fmt.Errorf("insert unmatched %d: %w", d.Seq, err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	monitoring.Logf("[report] saved run %s: %d matches, %d unmatched", run.RunID, len(res.Matches), len(res.Drained))
	return run, nil
}

const runColumns = `
	run_id, device_name, source, config_json,
	events, images, motions,
	matched, drained, motion_dropped, overflow_dropped,
	duration_us, span_mean_us, span_p95_us, span_max_us, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var configStr sql.NullString
	var durUs, meanUs, p95Us, maxUs int64
	err := row.Scan(
		&r.RunID, &r.DeviceName, &r.Source, &configStr,
		&r.Events, &r.Images, &r.Motions,
		&r.Matched, &r.Drained, &r.MotionDropped, &r.OverflowDropped,
		&durUs, &meanUs, &p95Us, &maxUs, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if configStr.Valid {
		r.ConfigJSON = json.RawMessage(configStr.String)
	}
	r.Duration = time.Duration(durUs) * time.Microsecond
	r.SpanMean = time.Duration(meanUs) * time.Microsecond
	r.SpanP95 = time.Duration(p95Us) * time.Microsecond
	r.SpanMax = time.Duration(maxUs) * time.Microsecond
	return &r, nil
}

// ListRuns returns up to limit runs, newest first. A non-positive limit
// returns every run.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	query := `SELECT` + runColumns + ` FROM replay_runs ORDER BY created_at DESC, rowid DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns a single run by id.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT`+runColumns+` FROM replay_runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	return r, nil
}

// RunMatches reconstructs the correlated sets of a run in emission order.
func (s *Store) RunMatches(ctx context.Context, runID string) ([]replay.Match, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, stream, ts_us, span_us
		FROM replay_matches
		WHERE run_id = ?
		ORDER BY seq, rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("query matches: %w", err)
	}
	defer rows.Close()

	var matches []replay.Match
	for rows.Next() {
		var (
			seq          int
			stream       string
			tsUs, spanUs int64
		)
		if err := rows.Scan(&seq, &stream, &tsUs, &spanUs); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		if n := len(matches); n == 0 || matches[n-1].Seq != seq {
			matches = append(matches, replay.Match{Seq: seq, Span: time.Duration(spanUs) * time.Microsecond})
		}
		last := &matches[len(matches)-1]
		last.Members = append(last.Members, replay.Member{Stream: stream, Timestamp: time.Duration(tsUs) * time.Microsecond})
	}
	return matches, rows.Err()
}

// RunUnmatched returns the frames drained unmatched during a run.
func (s *Store) RunUnmatched(ctx context.Context, runID string) ([]replay.Drained, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, stream, ts_us
		FROM replay_unmatched
		WHERE run_id = ?
		ORDER BY rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("query unmatched: %w", err)
	}
	defer rows.Close()

	var out []replay.Drained
	for rows.Next() {
		var (
			d      replay.Drained
			stream string
			tsUs   int64
		)
		if err := rows.Scan(&d.Seq, &stream, &tsUs); err != nil {
			return nil, fmt.Errorf("scan unmatched: %w", err)
		}
		if d.Stream, err = timesync.ParseImageStream(stream); err != nil {
			return nil, err
		}
		d.Timestamp = time.Duration(tsUs) * time.Microsecond
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and its rows.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	return retryOnBusy(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		for _, table := range []string{"replay_matches", "replay_unmatched"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE run_id = ?`, runID); err != nil {
				return fmt.Errorf("delete from %s: %w", table, err)
			}
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM replay_runs WHERE run_id = ?`, runID)
		if err != nil {
			return fmt.Errorf("delete run: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return tx.Commit()
	})
}

// retryOnBusy retries fn while SQLite reports the database as locked.
func retryOnBusy(fn func() error) error {
	const attempts = 5
	backoff := 10 * time.Millisecond
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil || !isBusy(err) {
			return err
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	return err
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
