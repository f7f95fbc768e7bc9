package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const testDebounce = 100 * time.Millisecond

func startWatcher(t *testing.T, roots []string, onChange func()) *Watcher {
	t.Helper()
	w := NewWatcher(roots, []string{".jpg", ".png"}, onChange, WithDebounce(testDebounce))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)
	return w
}

func waitForCalls(calls *int32, want int32, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if atomic.LoadInt32(calls) >= want {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return atomic.LoadInt32(calls) >= want
}

func TestWatcher_burstTriggersOneRebuild(t *testing.T) {
	dir := t.TempDir()
	var calls int32
	startWatcher(t, []string{dir}, func() { atomic.AddInt32(&calls, 1) })

	for _, name := range []string{"a.jpg", "b.jpg", "c.png"} {
		if err := writeFile(filepath.Join(dir, name), "data"); err != nil {
			t.Fatal(err)
		}
	}
	if !waitForCalls(&calls, 1, 2*time.Second) {
		t.Fatal("expected a rebuild after image writes")
	}
	time.Sleep(3 * testDebounce)
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("burst should coalesce into one rebuild, got %d", got)
	}
}

func TestWatcher_ignoresIrrelevantFiles(t *testing.T) {
	dir := t.TempDir()
	var calls int32
	startWatcher(t, []string{dir}, func() { atomic.AddInt32(&calls, 1) })

	for _, name := range []string{"notes.txt", ".hidden.jpg", "upper.JPG"} {
		if err := writeFile(filepath.Join(dir, name), "data"); err != nil {
			t.Fatal(err)
		}
	}
	time.Sleep(4 * testDebounce)
	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Errorf("expected no rebuild, got %d", got)
	}
}

func TestWatcher_removalTriggersRebuild(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "a.jpg")
	if err := writeFile(img, "data"); err != nil {
		t.Fatal(err)
	}
	var calls int32
	startWatcher(t, []string{dir}, func() { atomic.AddInt32(&calls, 1) })

	if err := os.Remove(img); err != nil {
		t.Fatal(err)
	}
	if !waitForCalls(&calls, 1, 2*time.Second) {
		t.Fatal("expected a rebuild after removing an image")
	}
}

func TestWatcher_missingRootAppears(t *testing.T) {
	// The preferred folder does not exist when watching starts.
	parent := t.TempDir()
	gallery := filepath.Join(parent, "gallery")
	var calls int32
	startWatcher(t, []string{gallery}, func() { atomic.AddInt32(&calls, 1) })

	if err := mkdirAll(gallery); err != nil {
		t.Fatal(err)
	}

	if !waitForCalls(&calls, 1, 2*time.Second) {
		t.Fatal("expected a rebuild when the source folder appears")
	}
}

func TestWatcher_stopDropsPendingRebuild(t *testing.T) {
	dir := t.TempDir()
	var calls int32
	w := startWatcher(t, []string{dir}, func() { atomic.AddInt32(&calls, 1) })
	w.schedule()
	w.Stop()
	time.Sleep(3 * testDebounce)
	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Errorf("expected no rebuild after Stop, got %d", got)
	}
}

func TestWatcher_stopWaitsForRunningRebuild(t *testing.T) {
	dir := t.TempDir()
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	var finished int32
	w := startWatcher(t, []string{dir}, func() {
		once.Do(func() { close(entered) })
		<-release
		atomic.StoreInt32(&finished, 1)
	})
	w.schedule()
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("rebuild did not start")
	}

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while a rebuild was still running")
	case <-time.After(3 * testDebounce):
	}
	close(release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the rebuild finished")
	}
	if atomic.LoadInt32(&finished) != 1 {
		t.Error("rebuild should have completed before Stop returned")
	}
}

func TestNewWatcher_absoluteRoots(t *testing.T) {
	w := NewWatcher([]string{"gallery", "./demo_data/"}, nil, nil)
	for _, d := range w.Directories() {
		if !filepath.IsAbs(d) {
			t.Errorf("root %q should be absolute", d)
		}
	}
	if filepath.Base(w.Directories()[1]) != "demo_data" {
		t.Errorf("root not cleaned: %v", w.Directories())
	}
}

func TestMatchExtension(t *testing.T) {
	tests := []struct {
		name string
		exts []string
		want bool
	}{
		{"a.jpg", []string{".jpg", ".png"}, true},
		{"a.png", []string{".jpg", ".png"}, true},
		{"a.JPG", []string{".jpg", ".png"}, false},
		{"a.jpeg", []string{".jpg", ".png"}, false},
		{"a.txt", nil, true},
	}
	for _, tt := range tests {
		if got := matchExtension(tt.name, tt.exts); got != tt.want {
			t.Errorf("matchExtension(%q, %v) = %v, want %v", tt.name, tt.exts, got, tt.want)
		}
	}
}

func mkdirAll(path string) error {
	return os.MkdirAll(path, 0755)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0644)
}
