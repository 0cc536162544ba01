package pipeline

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Ledger persists job state to an on-disk SQLite database (spec E3 "job
// ledger"), grounded on internal/plex/dvr.go's sql.Open("sqlite", ...) usage
// of the same driver. cmd/revanon-anonymize writes a row on every pipeline
// event when -ledger is set; the supervisor does not open a ledger.
type Ledger struct {
	db *sql.DB
}

// OpenLedger opens (creating if necessary) the ledger database at path.
func OpenLedger(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("pipeline: open ledger %s: %w", path, err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id        TEXT PRIMARY KEY,
	status        TEXT NOT NULL,
	input_path    TEXT NOT NULL,
	output_path   TEXT NOT NULL,
	frames_done   INTEGER NOT NULL DEFAULT 0,
	total_frames  INTEGER NOT NULL DEFAULT 0,
	cancelled     INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	updated_at    TEXT NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("pipeline: create ledger schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close releases the underlying database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Upsert records or updates a job's current status.
func (l *Ledger) Upsert(jobID, status, inputPath, outputPath string, framesDone, totalFrames int64, cancelled bool, errMsg string, now time.Time) error {
	_, err := l.db.Exec(`
INSERT INTO jobs (job_id, status, input_path, output_path, frames_done, total_frames, cancelled, error_message, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(job_id) DO UPDATE SET
	status = excluded.status,
	frames_done = excluded.frames_done,
	total_frames = excluded.total_frames,
	cancelled = excluded.cancelled,
	error_message = excluded.error_message,
	updated_at = excluded.updated_at`,
		jobID, status, inputPath, outputPath, framesDone, totalFrames, boolToInt(cancelled), errMsg, now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("pipeline: ledger upsert %s: %w", jobID, err)
	}
	return nil
}

// JobRecord is one row read back from the ledger.
type JobRecord struct {
	JobID        string
	Status       string
	InputPath    string
	OutputPath   string
	FramesDone   int64
	TotalFrames  int64
	Cancelled    bool
	ErrorMessage string
	UpdatedAt    time.Time
}

// LastKnownState returns the most recently updated row for jobID, or
// sql.ErrNoRows if none exists.
func (l *Ledger) LastKnownState(jobID string) (JobRecord, error) {
	row := l.db.QueryRow(`SELECT job_id, status, input_path, output_path, frames_done, total_frames, cancelled, error_message, updated_at FROM jobs WHERE job_id = ?`, jobID)
	var rec JobRecord
	var cancelled int
	var updatedAt string
	if err := row.Scan(&rec.JobID, &rec.Status, &rec.InputPath, &rec.OutputPath, &rec.FramesDone, &rec.TotalFrames, &cancelled, &rec.ErrorMessage, &updatedAt); err != nil {
		return JobRecord{}, err
	}
	rec.Cancelled = cancelled != 0
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
