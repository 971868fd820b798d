package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/raphaelgruber/batchsub/internal/metrics"
	"github.com/raphaelgruber/batchsub/internal/service"
)

// finishRun writes failed.list for a local run, prints the summary, and
// returns the run's failure error, if any.
func finishRun(w io.Writer, res *service.Result, snap metrics.Snapshot) error {
	var failedList string
	if res.Local {
		path, err := res.WriteFailedList()
		if err != nil {
			printResult(w, res, snap, "")
			return err
		}
		failedList = path
	}
	printResult(w, res, snap, failedList)
	return res.Err()
}

// printResult renders the end-of-run summary. failedList is the path of the
// written failed list, or "".
func printResult(w io.Writer, res *service.Result, snap metrics.Snapshot, failedList string) {
	t := defaultTheme
	failed := res.Failed()

	var b strings.Builder
	if len(res.Skipped) > 0 {
		b.WriteString(t.hintStyle().Render(fmt.Sprintf("Skipped (no files): %s", strings.Join(res.Skipped, ", "))))
		b.WriteString("\n")
	}

	switch {
	case len(res.Jobs) == 0:
		b.WriteString("No jobs were dispatched\n")
	case len(failed) == 0 && res.Local:
		b.WriteString(t.completedStyle().Render(fmt.Sprintf("✓ All jobs returned 0. (%d jobs)", len(res.Jobs))))
		b.WriteString("\n")
	case len(failed) == 0:
		b.WriteString(t.completedStyle().Render(fmt.Sprintf("✓ Submitted %d jobs", len(res.Jobs))))
		b.WriteString("\n")
	case res.Local:
		b.WriteString(t.warningStyle().Render(fmt.Sprintf("Warning: %d of %d jobs returned non-zero exit codes:", len(failed), len(res.Jobs))))
		b.WriteString("\n")
		for _, j := range failed {
			if j.Err != nil {
				fmt.Fprintf(&b, "  • %s: %d (%v)\n", j.Label, j.ExitCode, j.Err)
				continue
			}
			fmt.Fprintf(&b, "  • %s: %d\n", j.Label, j.ExitCode)
		}
	default:
		b.WriteString(t.errorStyle().Render(fmt.Sprintf("✗ %d of %d submissions failed:", len(failed), len(res.Jobs))))
		b.WriteString("\n")
		for _, j := range failed {
			fmt.Fprintf(&b, "  • %s: %v\n", j.Label, j.Err)
		}
	}

	if failedList != "" {
		b.WriteString(t.hintStyle().Render("Failed labels written to " + failedList))
		b.WriteString("\n")
	}

	b.WriteString(formatTimings(snap))
	fmt.Fprint(w, b.String())
}

// formatTimings renders the collected operation timings.
func formatTimings(snap metrics.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\nElapsed: %s\n", snap.Elapsed.Round(time.Millisecond))
	rows := []struct {
		name string
		op   *metrics.OperationSnapshot
	}{
		{"listing", snap.Listing},
		{"submit", snap.Submit},
		{"spawn", snap.Spawn},
		{"job run", snap.JobRun},
	}
	for _, r := range rows {
		if r.op == nil {
			continue
		}
		fmt.Fprintf(&b, "  %-8s %4d calls, %d failed, avg %s, max %s\n",
			r.name, r.op.Count, r.op.Failures,
			r.op.Avg.Round(time.Millisecond), r.op.Max.Round(time.Millisecond))
	}
	return b.String()
}
