package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/raphaelgruber/batchsub/internal/service"
	"github.com/spf13/cobra"
)

var resubmitFlags runOverrides

var resubmitCmd = &cobra.Command{
	Use:   "resubmit <region> <list>",
	Short: "Resubmit jobs from their existing file lists",
	Long: `Resubmit the jobs named in a list file (one label per line, # comments
allowed) to SLURM, reusing the file lists written by the original
submission. Nothing is rediscovered. A label without a file list is
reported and skipped.

Examples:
  batchsub resubmit 0 batch_HIGG5D1_00-16-01/failed.list
  batchsub resubmit 1 retry.txt --out my_batch`,
	Args: cobra.ExactArgs(2),
	RunE: runResubmit,
}

func init() {
	resubmitFlags.register(resubmitCmd, true)
	resubmitCmd.Flags().StringVar(&resubmitFlags.slurmOpts, "slurmopts", "", "extra sbatch options")
}

func runResubmit(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	derivation, root, err := resubmitFlags.resolve(args[0])
	if err != nil {
		return err
	}

	logger, cleanup := setupLogger(root, false)
	defer closeLogger(cleanup)

	sub, err := service.New(ctx, cfg, service.Options{
		Derivation:       derivation,
		Root:             root,
		SchedulerOptions: resubmitFlags.slurmOpts,
	}, logger)
	if err != nil {
		return err
	}
	return resubmitFromFile(ctx, cmd, sub, args[1])
}

func resubmitFromFile(ctx context.Context, cmd *cobra.Command, sub *service.Submitter, path string) error {
	labels, err := service.ReadRetryList(path)
	if err != nil {
		return err
	}
	if len(labels) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No labels to resubmit")
		return nil
	}

	sub.Logger.Info("resubmission started", "list", path, "labels", len(labels))
	res, err := sub.Resubmit(ctx, labels)
	if res != nil {
		err = errors.Join(err, finishRun(cmd.OutOrStdout(), res, sub.Metrics.Snapshot()))
	}
	if err != nil {
		return fmt.Errorf("resubmit: %w", err)
	}
	return nil
}
