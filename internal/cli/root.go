// Package cli provides the command-line interface for batchsub.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/raphaelgruber/batchsub/internal/config"
	"github.com/raphaelgruber/batchsub/internal/job"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	configPath string
	verbose    bool
	logFile    string

	// Global config, loaded before every command except version/help
	cfg config.Config
)

// runLogName is the JSON run log kept under <root>/logs.
const runLogName = "batchsub.log"

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "batchsub",
	Short: "Partition a dataset and submit analysis jobs",
	Long: `Batchsub discovers the input files of every dataset category on remote
storage, splits them into per-job file lists, and runs the analysis
executable once per list, either through SLURM or as a bounded pool of
local processes.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $BATCHSUB_CONFIG or built-in defaults)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "JSON run log (default <out>/logs/batchsub.log)")

	// Add subcommands
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(resubmitCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(versionCmd)
}

// runOverrides are the flags shared by every command that talks to storage.
type runOverrides struct {
	out       string
	tag       string
	host      string
	base      string
	slurmOpts string
}

func (o *runOverrides) register(cmd *cobra.Command, withOut bool) {
	if withOut {
		cmd.Flags().StringVarP(&o.out, "out", "o", "", "job root (default batch_<derivation>_<tag>)")
	}
	cmd.Flags().StringVar(&o.tag, "tag", "", "CxAOD production tag")
	cmd.Flags().StringVar(&o.host, "host", "", "XRootD redirector host")
	cmd.Flags().StringVar(&o.base, "base", "", "remote base directory")
}

// apply copies the set overrides into the global config.
func (o *runOverrides) apply() {
	if o.tag != "" {
		cfg.Tag = o.tag
	}
	if o.host != "" {
		cfg.Listing.Host = o.host
	}
	if o.base != "" {
		cfg.Listing.Base = o.base
	}
}

// resolve parses the region argument and returns its derivation and job root.
func (o *runOverrides) resolve(regionArg string) (derivation, root string, err error) {
	region, err := strconv.Atoi(regionArg)
	if err != nil {
		return "", "", fmt.Errorf("invalid region %q: must be an integer", regionArg)
	}
	o.apply()
	derivation, err = cfg.Derivation(region)
	if err != nil {
		return "", "", err
	}
	root = o.out
	if root == "" {
		root = cfg.DefaultOutputDir(derivation)
	}
	return derivation, root, nil
}

// setupLogger installs the run logger. An empty root means no default log
// file (nothing is written to disk for the command). With the progress UI
// on screen, stderr only carries warnings and errors.
func setupLogger(root string, interactive bool) (*slog.Logger, func() error) {
	level := cfg.LogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	if interactive && level < slog.LevelWarn {
		level = slog.LevelWarn
	}

	file := logFile
	if file == "" {
		file = cfg.Logging.File
	}
	if file == "" && root != "" {
		file = filepath.Join(root, job.LogDir, runLogName)
	}

	logger, cleanup := config.SetupLogger(file, level)
	logger = logger.With("run_id", uuid.New().String()[:8]) // Short ID for convenience
	slog.SetDefault(logger)
	return logger, cleanup
}

// closeLogger runs the logger cleanup, reporting but not failing on error.
func closeLogger(cleanup func() error) {
	if err := cleanup(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
	}
}
