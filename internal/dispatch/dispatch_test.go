package dispatch

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/hyperjump/imgindex/internal/batch"
)

// fakeWorker keeps every path whose index is even and skips the others.
type fakeWorker struct {
	id     int
	mu     *sync.Mutex
	seen   map[int][]int // worker id -> chunk indices
	sizes  *[]int
	closed *int32
	block  chan struct{}
}

func (w *fakeWorker) ProcessBatch(ctx context.Context, chunk int, paths []string) *batch.Result {
	if w.block != nil {
		select {
		case <-w.block:
		case <-ctx.Done():
		}
	}
	w.mu.Lock()
	w.seen[w.id] = append(w.seen[w.id], chunk)
	*w.sizes = append(*w.sizes, len(paths))
	w.mu.Unlock()
	res := &batch.Result{Chunk: chunk}
	for i, p := range paths {
		if i%2 == 0 {
			res.Features = append(res.Features, []float32{float32(len(p))})
			res.Paths = append(res.Paths, p)
			res.Sizes = append(res.Sizes, 2048)
		} else {
			res.Skips = append(res.Skips, batch.Skip{Path: p, Reason: batch.SkipUnreadable})
		}
	}
	return res
}

func (w *fakeWorker) Close() error {
	atomic.AddInt32(w.closed, 1)
	return nil
}

type fakePool struct {
	mu      sync.Mutex
	seen    map[int][]int
	sizes   []int
	created int32
	closed  int32
	block   chan struct{}
}

func newFakePool() *fakePool {
	return &fakePool{seen: make(map[int][]int)}
}

func (p *fakePool) factory() ChunkWorker {
	id := int(atomic.AddInt32(&p.created, 1))
	return &fakeWorker{id: id, mu: &p.mu, seen: p.seen, sizes: &p.sizes, closed: &p.closed, block: p.block}
}

func TestDispatch_250ImagesMakesThreeChunks(t *testing.T) {
	pool := newFakePool()
	var progress [][2]int
	d := NewDispatcher(pool.factory, 100, 4, WithProgress(func(done, total int) {
		progress = append(progress, [2]int{done, total})
	}))

	res, err := d.Dispatch(context.Background(), makePaths(250))
	if err != nil {
		t.Fatal(err)
	}
	if res.Chunks != 3 {
		t.Errorf("chunks = %d, want 3", res.Chunks)
	}
	sizes := append([]int(nil), pool.sizes...)
	sort.Ints(sizes)
	if !reflect.DeepEqual(sizes, []int{50, 100, 100}) {
		t.Errorf("chunk sizes = %v", sizes)
	}
	if len(res.Features) != len(res.Paths) || len(res.Sizes) != len(res.Paths) {
		t.Errorf("features %d, paths %d, sizes %d should match", len(res.Features), len(res.Paths), len(res.Sizes))
	}
	if n := len(res.Paths) + len(res.Skips); n != 250 {
		t.Errorf("indexed + skipped = %d, want 250", n)
	}
	if want := [][2]int{{1, 3}, {2, 3}, {3, 3}}; !reflect.DeepEqual(progress, want) {
		t.Errorf("progress = %v, want %v", progress, want)
	}

	// Pool is capped at the chunk count and every worker is closed.
	if n := atomic.LoadInt32(&pool.created); n != 3 {
		t.Errorf("workers created = %d, want 3", n)
	}
	if n := atomic.LoadInt32(&pool.closed); n != 3 {
		t.Errorf("workers closed = %d, want 3", n)
	}
}

func TestDispatch_preservesPairing(t *testing.T) {
	pool := newFakePool()
	d := NewDispatcher(pool.factory, 7, 3)
	res, err := d.Dispatch(context.Background(), makePaths(40))
	if err != nil {
		t.Fatal(err)
	}
	for i, p := range res.Paths {
		if res.Features[i][0] != float32(len(p)) {
			t.Errorf("row %d (%s) carries feature %v", i, p, res.Features[i])
		}
	}
	order := append([]int(nil), res.Order...)
	sort.Ints(order)
	if !reflect.DeepEqual(order, []int{0, 1, 2, 3, 4, 5}) {
		t.Errorf("completed chunks = %v", res.Order)
	}
}

func TestDispatch_eachChunkProcessedOnce(t *testing.T) {
	pool := newFakePool()
	d := NewDispatcher(pool.factory, 10, 4)
	if _, err := d.Dispatch(context.Background(), makePaths(95)); err != nil {
		t.Fatal(err)
	}

	var all []int
	for _, chunks := range pool.seen {
		all = append(all, chunks...)
	}
	sort.Ints(all)
	if !reflect.DeepEqual(all, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}) {
		t.Errorf("processed chunks = %v", all)
	}
	if len(pool.seen) > 4 {
		t.Errorf("%d workers ran, want at most 4", len(pool.seen))
	}
}

func TestDispatch_noPaths(t *testing.T) {
	pool := newFakePool()
	d := NewDispatcher(pool.factory, 100, 4)
	res, err := d.Dispatch(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Chunks != 0 || len(res.Paths) != 0 {
		t.Errorf("expected an empty result, got %+v", res)
	}
	if pool.created != 0 {
		t.Errorf("no worker should be created, got %d", pool.created)
	}
}

func TestDispatch_skipCounts(t *testing.T) {
	pool := newFakePool()
	d := NewDispatcher(pool.factory, 4, 2)
	res, err := d.Dispatch(context.Background(), makePaths(8))
	if err != nil {
		t.Fatal(err)
	}
	want := map[batch.SkipReason]int{batch.SkipUnreadable: 4}
	if got := res.SkipCounts(); !reflect.DeepEqual(got, want) {
		t.Errorf("skip counts = %v, want %v", got, want)
	}
}

func TestDispatch_cancelStopsNewChunks(t *testing.T) {
	// A single worker blocks in its first chunk; the progress callback cancels the run.
	pool := newFakePool()
	pool.block = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(pool.factory, 1, 1, WithProgress(func(done, total int) {
		cancel()
	}))

	done := make(chan struct{})
	var res *Result
	var err error
	go func() {
		res, err = d.Dispatch(ctx, makePaths(10))
		close(done)
	}()
	pool.block <- struct{}{}
	<-done

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(res.Order) >= 10 {
		t.Errorf("all %d chunks ran after cancellation", len(res.Order))
	}
	if n := atomic.LoadInt32(&pool.closed); n != 1 {
		t.Errorf("workers closed = %d, want 1", n)
	}
}

func TestNewDispatcher_clampsSettings(t *testing.T) {
	d := NewDispatcher(newFakePool().factory, 0, -3)
	if d.batchSize != 1 || d.workers != 1 {
		t.Errorf("batchSize = %d, workers = %d, want 1 and 1", d.batchSize, d.workers)
	}
}
