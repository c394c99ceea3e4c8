// Package history keeps finished measurement reports in a local SQLite file.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/NodePath81/fbspeed/internal/engine"
	_ "github.com/mattn/go-sqlite3"
)

var ErrNotFound = errors.New("report not found")

const schema = `
CREATE TABLE IF NOT EXISTS reports (
	test_id       TEXT PRIMARY KEY,
	started_at    INTEGER NOT NULL,
	server_id     TEXT NOT NULL,
	download_mbps REAL NOT NULL,
	upload_mbps   REAL NOT NULL,
	latency_ms    REAL NOT NULL,
	loss_percent  REAL NOT NULL,
	score         REAL NOT NULL,
	grade         TEXT NOT NULL,
	report        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS reports_started_at ON reports (started_at);
`

// Entry is the summary row of one stored report.
type Entry struct {
	TestID       string
	StartedAt    time.Time
	ServerID     string
	DownloadMbps float64
	UploadMbps   float64
	LatencyMs    float64
	LossPercent  float64
	Score        float64
	Grade        string
}

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores a complete report. Reports without a valid quality are refused.
func (s *Store) Save(ctx context.Context, r engine.MeasurementReport) error {
	if !r.Quality.Valid() {
		return errors.New("history: refusing to store an unscored report")
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("history: encode report: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO reports
		(test_id, started_at, server_id, download_mbps, upload_mbps, latency_ms, loss_percent, score, grade, report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.TestID, r.StartedAt.UnixMilli(), r.Server.ID,
		r.Download.AverageMbps, r.Upload.AverageMbps, r.Latency.AvgMs, r.PacketLossPercent,
		r.Quality.Score, string(r.Quality.Grade), string(raw))
	if err != nil {
		return fmt.Errorf("history: save %s: %w", r.TestID, err)
	}
	return nil
}

// Recent returns up to n entries, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := s.db.QueryContext(ctx, `SELECT test_id, started_at, server_id, download_mbps, upload_mbps,
		latency_ms, loss_percent, score, grade FROM reports ORDER BY started_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var started int64
		if err := rows.Scan(&e.TestID, &started, &e.ServerID, &e.DownloadMbps, &e.UploadMbps,
			&e.LatencyMs, &e.LossPercent, &e.Score, &e.Grade); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		e.StartedAt = time.UnixMilli(started).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Get returns the full stored report.
func (s *Store) Get(ctx context.Context, testID string) (engine.MeasurementReport, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT report FROM reports WHERE test_id = ?`, testID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.MeasurementReport{}, ErrNotFound
	}
	if err != nil {
		return engine.MeasurementReport{}, fmt.Errorf("history: get %s: %w", testID, err)
	}
	var r engine.MeasurementReport
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return engine.MeasurementReport{}, fmt.Errorf("history: decode %s: %w", testID, err)
	}
	return r, nil
}
