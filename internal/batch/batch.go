// Package batch runs the per-chunk worker body: size check, preprocessing and inference.
package batch

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/hyperjump/imgindex/internal/embedding"
	"github.com/hyperjump/imgindex/internal/preprocess"
	"go.uber.org/zap"
)

// SkipReason tags why an image did not make it into the index.
type SkipReason string

const (
	SkipUndersized       SkipReason = "undersized"
	SkipUnreadable       SkipReason = "unreadable"
	SkipInferenceFailed  SkipReason = "inference_failed"
	SkipModelUnavailable SkipReason = "model_unavailable"
)

// Skip records one image that was left out of the index.
type Skip struct {
	Path   string
	Size   int64
	Reason SkipReason
	Err    error
}

// Result is the outcome of one chunk. Features[i] belongs to Paths[i].
type Result struct {
	Chunk    int
	Features [][]float32
	Paths    []string
	Sizes    []int64
	Skips    []Skip
}

// Worker processes chunks with its own model, loaded on first use and kept for the worker's
// lifetime. A Worker must not be shared between goroutines.
type Worker struct {
	load        embedding.Loader
	imageSize   int
	minFileSize int64
	logger      *zap.Logger

	model   embedding.Model
	loadErr error
	loaded  bool
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithLogger sets a logger for skip and model load events.
func WithLogger(l *zap.Logger) WorkerOption {
	return func(w *Worker) { w.logger = l }
}

// NewWorker creates a worker. imageSize is the model input side; files smaller than
// minFileSize bytes are skipped as placeholders.
func NewWorker(load embedding.Loader, imageSize int, minFileSize int64, opts ...WorkerOption) *Worker {
	w := &Worker{
		load:        load,
		imageSize:   imageSize,
		minFileSize: minFileSize,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Worker) ensureModel() error {
	if w.loaded {
		return w.loadErr
	}
	w.loaded = true
	m, err := w.load()
	if err != nil {
		w.loadErr = err
		if w.logger != nil {
			w.logger.Warn("model unavailable, worker will skip its chunks", zap.Error(err))
		}
		return err
	}
	w.model = m
	return nil
}

// ProcessBatch runs every path of the chunk through size check, preprocessing and inference.
// Per-image failures become Skips; they never abort the chunk. Processing stops early, without
// recording the remaining paths, once ctx is cancelled. If the model cannot be loaded
// the result has no features and every path is skipped as model_unavailable.
func (w *Worker) ProcessBatch(ctx context.Context, chunk int, paths []string) *Result {
	res := &Result{
		Chunk:    chunk,
		Features: make([][]float32, 0, len(paths)),
		Paths:    make([]string, 0, len(paths)),
		Sizes:    make([]int64, 0, len(paths)),
	}
	if err := w.ensureModel(); err != nil {
		for _, p := range paths {
			res.Skips = append(res.Skips, Skip{Path: p, Reason: SkipModelUnavailable, Err: err})
		}
		return res
	}
	for _, p := range paths {
		if ctx.Err() != nil {
			break
		}
		feature, size, skip := w.processOne(ctx, p)
		if skip != nil {
			if w.logger != nil {
				w.logger.Debug("image skipped", zap.String("path", p), zap.String("reason", string(skip.Reason)), zap.Error(skip.Err))
			}
			res.Skips = append(res.Skips, *skip)
			continue
		}
		res.Features = append(res.Features, feature)
		res.Paths = append(res.Paths, p)
		res.Sizes = append(res.Sizes, size)
	}
	return res
}

func (w *Worker) processOne(ctx context.Context, path string) ([]float32, int64, *Skip) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, 0, &Skip{Path: path, Reason: SkipUnreadable, Err: err}
	}
	size := info.Size()
	if !info.Mode().IsRegular() {
		return nil, size, &Skip{Path: path, Size: size, Reason: SkipUnreadable, Err: errors.New("not a regular file")}
	}
	if size < w.minFileSize {
		return nil, size, &Skip{Path: path, Size: size, Reason: SkipUndersized, Err: fmt.Errorf("%d bytes < %d", size, w.minFileSize)}
	}
	tensor, err := preprocess.LoadAndResize(path, w.imageSize)
	if err != nil {
		return nil, size, &Skip{Path: path, Size: size, Reason: SkipUnreadable, Err: err}
	}
	feature, err := w.infer(ctx, tensor)
	if err != nil {
		return nil, size, &Skip{Path: path, Size: size, Reason: SkipInferenceFailed, Err: err}
	}
	return feature, size, nil
}

// infer calls the model, turning panics into errors and checking the output dimension.
func (w *Worker) infer(ctx context.Context, tensor *preprocess.Tensor) (feature []float32, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("inference panic: %v", r)
		}
	}()
	feature, err = w.model.Infer(ctx, tensor)
	if err != nil {
		return nil, err
	}
	if len(feature) == 0 {
		return nil, errors.New("empty feature vector")
	}
	if d := w.model.Dimensions(); d > 0 && len(feature) != d {
		return nil, fmt.Errorf("feature dimension %d, expected %d", len(feature), d)
	}
	return feature, nil
}

// Close releases the worker's model, if one was loaded.
func (w *Worker) Close() error {
	if w.model == nil {
		return nil
	}
	err := w.model.Close()
	w.model = nil
	return err
}
