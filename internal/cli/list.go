package cli

import (
	"fmt"

	"github.com/raphaelgruber/batchsub/internal/service"
	"github.com/spf13/cobra"
)

var listFailedOnly bool

var listCmd = &cobra.Command{
	Use:   "list <out>",
	Short: "List the jobs under a job root",
	Long: `List every job that has a file list under a job root, with its file
count and the size of its logs. Labels from failed.list are marked.

Examples:
  batchsub list batch_HIGG5D1_00-16-01
  batchsub list batch_HIGG5D1_00-16-01 --failed`,
	Args: cobra.ExactArgs(1),
	RunE: runList,
}

func init() {
	listCmd.Flags().BoolVar(&listFailedOnly, "failed", false, "only show jobs listed in failed.list")
}

func runList(cmd *cobra.Command, args []string) error {
	jobs, err := service.ListJobs(args[0])
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	w := cmd.OutOrStdout()
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No jobs found")
		return nil
	}

	fmt.Fprintf(w, "%-22s %6s %10s %10s %-8s %s\n", "LABEL", "FILES", "LOG", "ERR", "STATUS", "MODIFIED")
	fmt.Fprintln(w, "--------------------------------------------------------------------------")

	shown := 0
	for _, j := range jobs {
		if listFailedOnly && !j.Failed {
			continue
		}
		status := ""
		if j.Failed {
			status = "failed"
		}
		modified := ""
		if !j.Modified.IsZero() {
			modified = j.Modified.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%-22s %6d %10s %10s %-8s %s\n",
			j.Label, j.Files, formatSize(j.LogSize), formatSize(j.ErrSize), status, modified)
		shown++
	}

	fmt.Fprintf(w, "\n%d jobs\n", shown)
	return nil
}

func formatSize(n int64) string {
	switch {
	case n < 0:
		return "-"
	case n < 1024:
		return fmt.Sprintf("%dB", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1fK", float64(n)/1024)
	default:
		return fmt.Sprintf("%.1fM", float64(n)/(1024*1024))
	}
}
