package dispatch

import (
	"context"

	"github.com/hyperjump/imgindex/internal/batch"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ChunkWorker processes one chunk at a time. Each pool goroutine owns exactly one.
type ChunkWorker interface {
	ProcessBatch(ctx context.Context, chunk int, paths []string) *batch.Result
	Close() error
}

// WorkerFactory creates the worker for one pool goroutine.
type WorkerFactory func() ChunkWorker

// ProgressFunc is called from the coordinating goroutine after each completed chunk.
type ProgressFunc func(done, total int)

// Result accumulates chunk results in completion order. Features[i] belongs to Paths[i].
type Result struct {
	Features [][]float32
	Paths    []string
	Sizes    []int64
	Skips    []batch.Skip
	Chunks   int
	// Order lists chunk indices in the order they completed.
	Order []int
}

// SkipCounts returns the number of skipped images per reason.
func (r *Result) SkipCounts() map[batch.SkipReason]int {
	counts := make(map[batch.SkipReason]int)
	for _, s := range r.Skips {
		counts[s.Reason]++
	}
	return counts
}

func (r *Result) add(br *batch.Result) {
	r.Features = append(r.Features, br.Features...)
	r.Paths = append(r.Paths, br.Paths...)
	r.Sizes = append(r.Sizes, br.Sizes...)
	r.Skips = append(r.Skips, br.Skips...)
	r.Order = append(r.Order, br.Chunk)
}

// Dispatcher partitions paths into chunks and runs them on a fixed-size worker pool.
type Dispatcher struct {
	newWorker  WorkerFactory
	batchSize  int
	workers    int
	onProgress ProgressFunc
	logger     *zap.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets a logger for per-chunk debug output.
func WithLogger(l *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// WithProgress sets a callback invoked after each completed chunk.
func WithProgress(fn ProgressFunc) DispatcherOption {
	return func(d *Dispatcher) { d.onProgress = fn }
}

// NewDispatcher creates a dispatcher. batchSize and workers below 1 are treated as 1.
func NewDispatcher(newWorker WorkerFactory, batchSize, workers int, opts ...DispatcherOption) *Dispatcher {
	if batchSize < 1 {
		batchSize = 1
	}
	if workers < 1 {
		workers = 1
	}
	d := &Dispatcher{
		newWorker: newWorker,
		batchSize: batchSize,
		workers:   workers,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type job struct {
	index int
	paths []string
}

// Dispatch processes paths and returns everything that succeeded. Chunk results are collected
// in completion order, so row order across chunks is not deterministic; each feature stays
// paired with its path. When ctx is cancelled no new chunks are started, in-flight chunks are
// awaited, and the partial result is returned with ctx's error.
func (d *Dispatcher) Dispatch(ctx context.Context, paths []string) (*Result, error) {
	chunks := Partition(paths, d.batchSize)
	res := &Result{Chunks: len(chunks)}
	if len(chunks) == 0 {
		return res, nil
	}
	workers := d.workers
	if workers > len(chunks) {
		workers = len(chunks)
	}

	jobs := make(chan job)
	results := make(chan *batch.Result)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		for i, c := range chunks {
			if err := gctx.Err(); err != nil {
				return err
			}
			select {
			case jobs <- job{index: i, paths: c}:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			worker := d.newWorker()
			defer func() {
				if err := worker.Close(); err != nil && d.logger != nil {
					d.logger.Warn("worker close failed", zap.Error(err))
				}
			}()
			for j := range jobs {
				results <- worker.ProcessBatch(gctx, j.index, j.paths)
			}
			return nil
		})
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- g.Wait()
		close(results)
	}()

	done := 0
	for br := range results {
		done++
		res.add(br)
		if d.logger != nil {
			d.logger.Debug("chunk completed",
				zap.Int("chunk", br.Chunk),
				zap.Int("indexed", len(br.Paths)),
				zap.Int("skipped", len(br.Skips)),
				zap.Int("done", done),
				zap.Int("total", len(chunks)))
		}
		if d.onProgress != nil {
			d.onProgress(done, len(chunks))
		}
	}
	if err := <-waitErr; err != nil {
		return res, err
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}
