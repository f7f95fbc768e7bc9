package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newTestReport(t *testing.T) *SQLiteReport {
	t.Helper()
	report, err := NewSQLiteReport(filepath.Join(t.TempDir(), "nested", "report.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { report.Close() })
	return report
}

func TestSQLiteReport_runLifecycle(t *testing.T) {
	report := newTestReport(t)
	ctx := context.Background()

	id, err := report.BeginRun(ctx, "gallery", "full", 3)
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("expected a run ID")
	}

	run, err := report.LastRun(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if run.ID != id || run.Status != StatusRunning || run.Total != 3 {
		t.Errorf("running run = %+v", run)
	}
	if !run.FinishedAt.IsZero() {
		t.Error("FinishedAt should be unset while running")
	}

	outcomes := []Outcome{
		{ImageID: "img:a", Path: "gallery/a.jpg", Size: 4096, Status: OutcomeIndexed, Row: 0},
		{ImageID: "img:b", Path: "gallery/b.jpg", Size: 500, Status: OutcomeSkipped, Reason: "undersized", Row: -1},
		{ImageID: "img:c", Path: "gallery/c.png", Size: 2048, Status: OutcomeSkipped, Reason: "unreadable", Row: -1},
	}
	if err := report.RecordOutcomes(ctx, id, outcomes); err != nil {
		t.Fatal(err)
	}
	if err := report.FinishRun(ctx, id, RunResult{Status: StatusSucceeded, Indexed: 1, Skipped: 2, Rows: 1, Dims: 768, IndexBytes: 3200}); err != nil {
		t.Fatal(err)
	}

	run, err = report.LastRun(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != StatusSucceeded || run.Indexed != 1 || run.Skipped != 2 || run.Rows != 1 || run.Dims != 768 {
		t.Errorf("finished run = %+v", run)
	}
	if run.IndexBytes != 3200 {
		t.Errorf("index bytes = %d", run.IndexBytes)
	}
	if run.FinishedAt.IsZero() {
		t.Error("FinishedAt should be set")
	}

	counts, err := report.SkipCounts(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if counts["undersized"] != 1 || counts["unreadable"] != 1 || len(counts) != 2 {
		t.Errorf("skip counts = %v", counts)
	}

	got, err := report.Outcomes(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0].Path != "gallery/a.jpg" || got[0].Row != 0 || got[1].Row != -1 {
		t.Errorf("outcomes = %+v", got)
	}
}

func TestSQLiteReport_failedRunKeepsError(t *testing.T) {
	report := newTestReport(t)
	ctx := context.Background()
	id, err := report.BeginRun(ctx, "demo_data", "demo", 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := report.FinishRun(ctx, id, RunResult{Status: StatusFailed, Skipped: 2, Err: errors.New("no features were extracted")}); err != nil {
		t.Fatal(err)
	}
	run, err := report.LastRun(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != StatusFailed || run.Error != "no features were extracted" {
		t.Errorf("run = %+v", run)
	}
}

func TestSQLiteReport_lastRunIsMostRecent(t *testing.T) {
	report := newTestReport(t)
	ctx := context.Background()
	if _, err := report.BeginRun(ctx, "demo_data", "demo", 1); err != nil {
		t.Fatal(err)
	}
	second, err := report.BeginRun(ctx, "gallery", "full", 5)
	if err != nil {
		t.Fatal(err)
	}
	run, err := report.LastRun(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if run.ID != second {
		t.Errorf("LastRun = %s, want %s", run.ID, second)
	}
}

func TestSQLiteReport_empty(t *testing.T) {
	report := newTestReport(t)
	if _, err := report.LastRun(context.Background()); !errors.Is(err, ErrNoRuns) {
		t.Errorf("err = %v, want ErrNoRuns", err)
	}
}

func TestSQLiteReport_finishUnknownRun(t *testing.T) {
	report := newTestReport(t)
	if err := report.FinishRun(context.Background(), "missing", RunResult{Status: StatusFailed}); err == nil {
		t.Error("expected error for unknown run")
	}
}
