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

var (
	submitFlags     runOverrides
	submitLocal     bool
	submitSlots     int
	submitRetryList string
	submitDryRun    bool
)

var submitCmd = &cobra.Command{
	Use:   "submit <region>",
	Short: "Discover inputs and submit one job per partition",
	Long: `Discover the input files of every configured category for a region,
split them into file lists, and submit one job per list.

Regions select the derivation (0=HIGG5D1, 1=HIGG5D2, 2=HIGG2D4 by default).
Jobs go to SLURM unless --local is given, in which case up to --njobs
processes run at once and batchsub waits for all of them.

Examples:
  batchsub submit 0
  batchsub submit 1 --local --njobs 8
  batchsub submit 2 --slurmopts "--mem=4G --exclude=node07"
  batchsub submit 0 --retrylist batch_HIGG5D1_00-16-01/failed.list`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

func init() {
	submitFlags.register(submitCmd, true)
	submitCmd.Flags().StringVar(&submitFlags.slurmOpts, "slurmopts", "", "extra sbatch options")
	submitCmd.Flags().BoolVarP(&submitLocal, "local", "l", false, "run jobs as local processes")
	submitCmd.Flags().IntVarP(&submitSlots, "njobs", "n", 0, "concurrent local jobs (default from config)")
	submitCmd.Flags().StringVarP(&submitRetryList, "retrylist", "r", "", "resubmit the labels in this file instead of discovering")
	submitCmd.Flags().BoolVar(&submitDryRun, "dry-run", false, "show the partitioning without writing or submitting")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	derivation, root, err := submitFlags.resolve(args[0])
	if err != nil {
		return err
	}

	if submitDryRun {
		return printPlan(ctx, cmd, derivation, root)
	}

	interactive := submitLocal && submitRetryList == "" && isTerminal()
	logger, cleanup := setupLogger(root, interactive)
	defer closeLogger(cleanup)

	sub, err := service.New(ctx, cfg, service.Options{
		Derivation:       derivation,
		Root:             root,
		Local:            submitLocal,
		Slots:            submitSlots,
		SchedulerOptions: submitFlags.slurmOpts,
	}, logger)
	if err != nil {
		return err
	}

	if submitRetryList != "" {
		return resubmitFromFile(ctx, cmd, sub, submitRetryList)
	}

	logger.Info("submission started", "derivation", derivation, "root", root, "local", submitLocal, "slots", sub.Slots)

	var res *service.Result
	if interactive {
		res, err = RunDrainProgress(ctx, sub)
	} else {
		if submitLocal {
			sub.OnProgress = logProgress(logger)
		}
		res, err = sub.Run(ctx)
	}
	if res != nil {
		err = errors.Join(err, finishRun(cmd.OutOrStdout(), res, sub.Metrics.Snapshot()))
	}
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	return nil
}
