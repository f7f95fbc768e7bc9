// Package storage persists build run reports.
package storage

import (
	"context"
	"time"
)

// Run statuses.
const (
	StatusRunning     = "running"
	StatusSucceeded   = "succeeded"
	StatusFailed      = "failed"
	StatusInterrupted = "interrupted"
)

// Outcome statuses.
const (
	OutcomeIndexed = "indexed"
	OutcomeSkipped = "skipped"
)

// Run is one build of the index.
type Run struct {
	ID         string
	Folder     string
	Mode       string
	Status     string
	Total      int
	Indexed    int
	Skipped    int
	Rows       int
	Dims       int
	IndexBytes int64
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Outcome is what happened to one image during a run. Row is -1 for skipped images.
type Outcome struct {
	ImageID string
	Path    string
	Size    int64
	Status  string
	Reason  string
	Row     int
}

// RunResult is recorded when a run ends.
type RunResult struct {
	Status     string
	Indexed    int
	Skipped    int
	Rows       int
	Dims       int
	IndexBytes int64
	Err        error
}

// Report records build runs and per-image outcomes.
type Report interface {
	BeginRun(ctx context.Context, folder, mode string, total int) (string, error)
	RecordOutcomes(ctx context.Context, runID string, outcomes []Outcome) error
	FinishRun(ctx context.Context, runID string, result RunResult) error
	LastRun(ctx context.Context) (*Run, error)
	SkipCounts(ctx context.Context, runID string) (map[string]int, error)
	Close() error
}
