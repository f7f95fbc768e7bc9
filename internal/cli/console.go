// Package cli renders build status for the terminal.
package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/hyperjump/imgindex/internal/discovery"
	"github.com/mattn/go-isatty"
)

const (
	barWidth = 30
	rule     = "=================================================="
)

// Console prints banners and chunk progress. Progress is drawn in place on a terminal and as
// one plain line per update otherwise.
type Console struct {
	mu    sync.Mutex
	out   io.Writer
	tty   bool
	drawn bool
}

// NewConsole returns a console writing to out. forcePlain disables the in-place bar.
func NewConsole(out io.Writer, forcePlain bool) *Console {
	return &Console{out: out, tty: !forcePlain && IsTTY(out)}
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// Banner announces the selected folder and mode.
func (c *Console) Banner(sel *discovery.Selection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, rule)
	switch sel.Mode {
	case discovery.ModeFull:
		fmt.Fprintf(c.out, "Found full dataset folder %q.\n", sel.Folder)
		fmt.Fprintln(c.out, "Starting full build mode. Large galleries can take a while on CPU.")
	default:
		fmt.Fprintf(c.out, "Full dataset not found, using demo folder %q.\n", sel.Folder)
		fmt.Fprintln(c.out, "Starting demo mode. Only a few images will be processed.")
	}
	fmt.Fprintln(c.out, rule)
}

// Scanned reports how many images were found.
func (c *Console) Scanned(folder string, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "Scanning %s for images...\n", folder)
	if total > 0 {
		fmt.Fprintf(c.out, "Found %d images.\n", total)
	}
}

// Started reports the size of the worker pool.
func (c *Console) Started(workers, chunks int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "Processing %d batches with %d workers...\n", chunks, workers)
}

// Progress reports that done of total chunks have completed.
func (c *Console) Progress(done, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.tty {
		fmt.Fprintf(c.out, "[EMBED] %d/%d - batches\n", done, total)
		return
	}
	fmt.Fprintf(c.out, "\r%s %d/%d batches", renderBar(done, total), done, total)
	c.drawn = true
	if done >= total {
		fmt.Fprintln(c.out)
		c.drawn = false
	}
}

// Saving announces the index write. It also terminates an unfinished progress line.
func (c *Console) Saving() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.drawn {
		fmt.Fprintln(c.out)
		c.drawn = false
	}
	fmt.Fprintln(c.out, "Saving index...")
}

func renderBar(done, total int) string {
	filled := 0
	if total > 0 {
		filled = done * barWidth / total
	}
	if filled > barWidth {
		filled = barWidth
	}
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", barWidth-filled) + "]"
}

// FormatSkipCounts renders per-reason skip counts sorted by reason, e.g. "undersized=2, unreadable=1".
func FormatSkipCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "none"
	}
	reasons := make([]string, 0, len(counts))
	for r := range counts {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	parts := make([]string, len(reasons))
	for i, r := range reasons {
		parts[i] = fmt.Sprintf("%s=%d", r, counts[r])
	}
	return strings.Join(parts, ", ")
}
