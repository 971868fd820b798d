package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/raphaelgruber/batchsub/internal/service"
	"github.com/spf13/cobra"
)

var planFlags runOverrides

var planCmd = &cobra.Command{
	Use:   "plan <region>",
	Short: "Show how a region would be partitioned",
	Long: `Discover the inputs of every category and print the file count, group
size and job count per category. Nothing is written or submitted.

Examples:
  batchsub plan 0
  batchsub plan 2 --tag 00-17-00`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

func init() {
	planFlags.register(planCmd, false)
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	derivation, root, err := planFlags.resolve(args[0])
	if err != nil {
		return err
	}
	return printPlan(ctx, cmd, derivation, root)
}

func printPlan(ctx context.Context, cmd *cobra.Command, derivation, root string) error {
	logger, cleanup := setupLogger("", false)
	defer closeLogger(cleanup)

	sub, err := service.New(ctx, cfg, service.Options{Derivation: derivation, Root: root}, logger)
	if err != nil {
		return err
	}

	plan, err := sub.Plan(ctx)
	if err != nil {
		return fmt.Errorf("plan: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Derivation %s, job root %s\n\n", derivation, root)
	fmt.Fprintf(w, "%-16s %8s %6s %6s\n", "CATEGORY", "FILES", "SIZE", "JOBS")
	fmt.Fprintln(w, "----------------------------------------")
	for _, c := range plan.Categories {
		fmt.Fprintf(w, "%-16s %8d %6d %6d\n", c.Category, c.Files, c.GroupSize, c.Jobs)
	}
	fmt.Fprintln(w, "----------------------------------------")
	fmt.Fprintf(w, "%-16s %8d %6s %6d\n", "total", plan.TotalFiles(), "", plan.TotalJobs())
	return nil
}
