// Package builder runs a complete index build: folder selection, enumeration, parallel
// feature extraction, index write and run report.
package builder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/hyperjump/imgindex/internal/batch"
	"github.com/hyperjump/imgindex/internal/config"
	"github.com/hyperjump/imgindex/internal/discovery"
	"github.com/hyperjump/imgindex/internal/dispatch"
	"github.com/hyperjump/imgindex/internal/embedding"
	"github.com/hyperjump/imgindex/internal/fileid"
	"github.com/hyperjump/imgindex/internal/index"
	"github.com/hyperjump/imgindex/internal/storage"
	"go.uber.org/zap"
)

// LockFileName is created next to the feature matrix while a build runs.
const LockFileName = ".imgindex.lock"

var (
	// ErrNoImages is returned when the selected folder has no matching images.
	ErrNoImages = errors.New("no images found")
	// ErrBuildInProgress is returned when another process holds the build lock.
	ErrBuildInProgress = errors.New("another build is already running")
)

// Console receives user facing status updates.
type Console interface {
	Banner(sel *discovery.Selection)
	Scanned(folder string, total int)
	Started(workers, chunks int)
	Progress(done, total int)
	Saving()
}

// Summary describes a finished build.
type Summary struct {
	Folder   string
	Mode     discovery.Mode
	Total    int
	Indexed  int
	Rows     int
	Dims     int
	Skips    map[batch.SkipReason]int
	Duration time.Duration
	RunID    string
}

// Skipped returns the total number of skipped images.
func (s *Summary) Skipped() int {
	n := 0
	for _, c := range s.Skips {
		n += c
	}
	return n
}

// Builder builds the index described by a Config.
type Builder struct {
	cfg     *config.Config
	load    embedding.Loader
	report  storage.Report
	console Console
	logger  *zap.Logger // optional
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithLogger sets a logger for build events.
func WithLogger(l *zap.Logger) BuilderOption {
	return func(b *Builder) { b.logger = l }
}

// WithConsole sets where banners and progress are shown.
func WithConsole(c Console) BuilderOption {
	return func(b *Builder) { b.console = c }
}

// WithReport records every run and its per-image outcomes.
func WithReport(r storage.Report) BuilderOption {
	return func(b *Builder) { b.report = r }
}

// WithLoader overrides the model loader derived from the config.
func WithLoader(load embedding.Loader) BuilderOption {
	return func(b *Builder) { b.load = load }
}

// NewBuilder creates a builder. The model loader is resolved from cfg.Model unless WithLoader is given.
func NewBuilder(cfg *config.Config, opts ...BuilderOption) (*Builder, error) {
	b := &Builder{cfg: cfg}
	for _, opt := range opts {
		opt(b)
	}
	if b.load == nil {
		load, err := embedding.NewLoader(cfg.Model)
		if err != nil {
			return nil, err
		}
		b.load = load
	}
	if b.console == nil {
		b.console = nopConsole{}
	}
	return b, nil
}

// LockPath returns the path of the cross-process build lock.
func (b *Builder) LockPath() string {
	return filepath.Join(filepath.Dir(b.cfg.Output.FeaturesPath), LockFileName)
}

// Run performs one full build. Index files are only written when at least one image produced a
// feature and the build was not cancelled. When the result is empty the returned Summary still
// describes the run alongside index.ErrEmptyResult.
func (b *Builder) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()

	if err := os.MkdirAll(filepath.Dir(b.LockPath()), 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	lock := flock.New(b.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire build lock: %w", err)
	}
	if !locked {
		return nil, ErrBuildInProgress
	}
	defer lock.Unlock()

	sel, err := discovery.SelectSourceFolder(b.cfg.Source.Folders)
	if err != nil {
		return nil, err
	}
	b.console.Banner(sel)

	paths, err := discovery.EnumerateImages(sel.Folder, b.cfg.Source.Extensions)
	if err != nil {
		return nil, err
	}
	b.console.Scanned(sel.Folder, len(paths))
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoImages, sel.Folder)
	}
	if b.logger != nil {
		b.logger.Info("build started",
			zap.String("folder", sel.Folder),
			zap.String("mode", string(sel.Mode)),
			zap.Int("images", len(paths)))
	}

	runID := b.beginRun(ctx, sel, len(paths))
	summary := &Summary{Folder: sel.Folder, Mode: sel.Mode, Total: len(paths), RunID: runID}

	res, err := b.dispatch(ctx, paths)
	summary.Indexed = len(res.Paths)
	summary.Skips = res.SkipCounts()
	if err != nil {
		b.finishRun(runID, res, nil, storage.StatusInterrupted, err)
		return nil, err
	}

	b.console.Saving()
	writer := index.NewWriter(b.cfg.Output.FeaturesPath, b.cfg.Output.PathsPath)
	written, err := writer.Write(res.Features, res.Paths)
	summary.Duration = time.Since(start)
	if err != nil {
		b.finishRun(runID, res, nil, storage.StatusFailed, err)
		if errors.Is(err, index.ErrEmptyResult) {
			return summary, err
		}
		return nil, fmt.Errorf("failed to write index: %w", err)
	}
	summary.Rows = written.Rows
	summary.Dims = written.Dims
	b.finishRun(runID, res, written, storage.StatusSucceeded, nil)

	if b.logger != nil {
		b.logger.Info("build finished",
			zap.Int("rows", summary.Rows),
			zap.Int("dims", summary.Dims),
			zap.Int("skipped", summary.Skipped()),
			zap.Duration("duration", summary.Duration))
	}
	return summary, nil
}

func (b *Builder) dispatch(ctx context.Context, paths []string) (*dispatch.Result, error) {
	cfg := b.cfg
	newWorker := func() dispatch.ChunkWorker {
		var opts []batch.WorkerOption
		if b.logger != nil {
			opts = append(opts, batch.WithLogger(b.logger))
		}
		return batch.NewWorker(b.load, cfg.Model.ImageSize, cfg.Model.MinFileSize, opts...)
	}
	opts := []dispatch.DispatcherOption{dispatch.WithProgress(b.console.Progress)}
	if b.logger != nil {
		opts = append(opts, dispatch.WithLogger(b.logger))
	}
	d := dispatch.NewDispatcher(newWorker, cfg.Dispatch.BatchSize, cfg.Dispatch.Workers, opts...)

	chunks := len(dispatch.Partition(paths, cfg.Dispatch.BatchSize))
	b.console.Started(min(max(cfg.Dispatch.Workers, 1), chunks), chunks)
	return d.Dispatch(ctx, paths)
}

// beginRun records a new run. Report failures are logged and never fail the build.
func (b *Builder) beginRun(ctx context.Context, sel *discovery.Selection, total int) string {
	if b.report == nil {
		return ""
	}
	id, err := b.report.BeginRun(ctx, sel.Folder, string(sel.Mode), total)
	if err != nil {
		b.warn("run report unavailable", err)
		return ""
	}
	return id
}

func (b *Builder) finishRun(runID string, res *dispatch.Result, written *index.Summary, status string, runErr error) {
	if b.report == nil || runID == "" {
		return
	}
	// The build context may already be cancelled; the report is still written.
	ctx := context.Background()
	if err := b.report.RecordOutcomes(ctx, runID, outcomes(res)); err != nil {
		b.warn("failed to record image outcomes", err)
	}
	result := storage.RunResult{
		Status:  status,
		Indexed: len(res.Paths),
		Skipped: len(res.Skips),
		Err:     runErr,
	}
	if written != nil {
		result.Rows = written.Rows
		result.Dims = written.Dims
		result.IndexBytes = written.Bytes
	}
	if err := b.report.FinishRun(ctx, runID, result); err != nil {
		b.warn("failed to finish run report", err)
	}
}

// outcomes lists one outcome per processed image. Indexed images carry their matrix row.
func outcomes(res *dispatch.Result) []storage.Outcome {
	out := make([]storage.Outcome, 0, len(res.Paths)+len(res.Skips))
	for i, p := range res.Paths {
		out = append(out, storage.Outcome{
			ImageID: fileid.ImageID(p),
			Path:    p,
			Size:    res.Sizes[i],
			Status:  storage.OutcomeIndexed,
			Row:     i,
		})
	}
	for _, s := range res.Skips {
		out = append(out, storage.Outcome{
			ImageID: fileid.ImageID(s.Path),
			Path:    s.Path,
			Size:    s.Size,
			Status:  storage.OutcomeSkipped,
			Reason:  string(s.Reason),
			Row:     -1,
		})
	}
	return out
}

func (b *Builder) warn(msg string, err error) {
	if b.logger != nil {
		b.logger.Warn(msg, zap.Error(err))
	}
}

type nopConsole struct{}

func (nopConsole) Banner(*discovery.Selection) {}
func (nopConsole) Scanned(string, int)         {}
func (nopConsole) Started(int, int)            {}
func (nopConsole) Progress(int, int)           {}
func (nopConsole) Saving()                     {}
