package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNoRuns is returned by LastRun when nothing has been recorded yet.
var ErrNoRuns = errors.New("no runs recorded")

var _ Report = (*SQLiteReport)(nil)

// SQLiteReport implements Report using SQLite.
type SQLiteReport struct {
	db *sql.DB
}

// NewSQLiteReport opens or creates the report database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteReport(dbPath string) (*SQLiteReport, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open report database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteReport{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		folder TEXT NOT NULL,
		mode TEXT NOT NULL,
		status TEXT NOT NULL,
		total INTEGER NOT NULL DEFAULT 0,
		indexed INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		rows_written INTEGER NOT NULL DEFAULT 0,
		dims INTEGER NOT NULL DEFAULT 0,
		index_bytes INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

	CREATE TABLE IF NOT EXISTS image_outcomes (
		run_id TEXT NOT NULL,
		image_id TEXT NOT NULL,
		path TEXT NOT NULL,
		size INTEGER NOT NULL,
		status TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		row_index INTEGER NOT NULL DEFAULT -1,
		PRIMARY KEY (run_id, image_id),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_outcomes_run_status ON image_outcomes(run_id, status);
	`
	_, err := db.Exec(schema)
	return err
}

// BeginRun inserts a running run and returns its ID.
func (s *SQLiteReport) BeginRun(ctx context.Context, folder, mode string, total int) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, folder, mode, status, total, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, folder, mode, StatusRunning, total, time.Now().UTC(),
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

// RecordOutcomes inserts per-image outcomes in a transaction.
func (s *SQLiteReport) RecordOutcomes(ctx context.Context, runID string, outcomes []Outcome) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO image_outcomes (run_id, image_id, path, size, status, reason, row_index)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, o := range outcomes {
		if _, err := stmt.ExecContext(ctx, runID, o.ImageID, o.Path, o.Size, o.Status, o.Reason, o.Row); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// FinishRun records the final state of a run.
func (s *SQLiteReport) FinishRun(ctx context.Context, runID string, result RunResult) error {
	errText := ""
	if result.Err != nil {
		errText = result.Err.Error()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, indexed = ?, skipped = ?, rows_written = ?, dims = ?,
		 index_bytes = ?, error = ?, finished_at = ?
		 WHERE id = ?`,
		result.Status, result.Indexed, result.Skipped, result.Rows, result.Dims,
		result.IndexBytes, errText, time.Now().UTC(), runID,
	)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("run not found: %s", runID)
	}
	return nil
}

// LastRun returns the most recently started run.
func (s *SQLiteReport) LastRun(ctx context.Context) (*Run, error) {
	var r Run
	var finished sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, folder, mode, status, total, indexed, skipped, rows_written, dims, index_bytes,
		 error, started_at, finished_at
		 FROM runs ORDER BY started_at DESC, rowid DESC LIMIT 1`,
	).Scan(&r.ID, &r.Folder, &r.Mode, &r.Status, &r.Total, &r.Indexed, &r.Skipped, &r.Rows, &r.Dims,
		&r.IndexBytes, &r.Error, &r.StartedAt, &finished)

	if err == sql.ErrNoRows {
		return nil, ErrNoRuns
	}
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		r.FinishedAt = finished.Time
	}
	return &r, nil
}

// SkipCounts returns the number of skipped images per reason for a run.
func (s *SQLiteReport) SkipCounts(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT reason, COUNT(*) FROM image_outcomes
		 WHERE run_id = ? AND status = ? GROUP BY reason`,
		runID, OutcomeSkipped,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var reason string
		var n int
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, err
		}
		counts[reason] = n
	}
	return counts, rows.Err()
}

// Outcomes returns all outcomes recorded for a run, ordered by path.
func (s *SQLiteReport) Outcomes(ctx context.Context, runID string) ([]Outcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT image_id, path, size, status, reason, row_index
		 FROM image_outcomes WHERE run_id = ? ORDER BY path`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		var o Outcome
		if err := rows.Scan(&o.ImageID, &o.Path, &o.Size, &o.Status, &o.Reason, &o.Row); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteReport) Close() error {
	return s.db.Close()
}
