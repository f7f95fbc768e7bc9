package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/hyperjump/imgindex/internal/storage"
	"github.com/hyperjump/imgindex/pkg/utils"
)

const pathWidth = 48

// WriteRun prints a recorded run in the key: value layout used by the report command.
func WriteRun(w io.Writer, run *storage.Run, skips map[string]int) {
	fmt.Fprintf(w, "run_id:       %s\n", run.ID)
	fmt.Fprintf(w, "status:       %s\n", run.Status)
	fmt.Fprintf(w, "folder:       %s (%s mode)\n", utils.TruncateLeft(run.Folder, pathWidth), run.Mode)
	fmt.Fprintf(w, "started_at:   %s\n", run.StartedAt.Local().Format(time.RFC3339))
	if !run.FinishedAt.IsZero() {
		fmt.Fprintf(w, "finished_at:  %s   # took %s\n", run.FinishedAt.Local().Format(time.RFC3339),
			run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	fmt.Fprintf(w, "images:       %d / %d indexed\n", run.Indexed, run.Total)
	fmt.Fprintf(w, "skipped:      %d (%s)\n", run.Skipped, FormatSkipCounts(skips))
	if run.Rows > 0 {
		fmt.Fprintf(w, "matrix:       (%d, %d)\n", run.Rows, run.Dims)
		fmt.Fprintf(w, "index_bytes:  %d\n", run.IndexBytes)
	}
	if run.Error != "" {
		fmt.Fprintf(w, "error:        %s\n", run.Error)
	}
}

// WriteSkipped lists the skipped images among outcomes, one "reason  path" line each.
func WriteSkipped(w io.Writer, outcomes []storage.Outcome) {
	n := 0
	for _, o := range outcomes {
		if o.Status != storage.OutcomeSkipped {
			continue
		}
		if n == 0 {
			fmt.Fprintln(w)
			fmt.Fprintln(w, "# skipped images")
		}
		fmt.Fprintf(w, "%-18s %s\n", o.Reason, o.Path)
		n++
	}
	if n == 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# skipped images: none")
	}
}
