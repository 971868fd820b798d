// Package service orchestrates discovery, partitioning and dispatch of
// analysis jobs.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/batchsub/internal/config"
	"github.com/raphaelgruber/batchsub/internal/job"
	"github.com/raphaelgruber/batchsub/internal/listing"
	"github.com/raphaelgruber/batchsub/internal/metrics"
	"github.com/raphaelgruber/batchsub/internal/partition"
	"github.com/raphaelgruber/batchsub/internal/queue"
)

var (
	// ErrLocalResubmit is returned when resubmission is requested in local mode.
	ErrLocalResubmit = errors.New("resubmission is only supported for the batch scheduler")

	// ErrMissingFileList is the per-label error for a resubmit without a file list.
	ErrMissingFileList = job.ErrMissingFileList
)

// Source lists a remote store and turns its paths into identifiers the job
// executable can open.
type Source interface {
	listing.Lister
	listing.Qualifier
}

// Dispatcher hands a job to the batch scheduler.
type Dispatcher interface {
	Submit(ctx context.Context, d *job.Descriptor) error
}

// Spawner starts a job as a local process.
type Spawner interface {
	Spawn(d *job.Descriptor) (*job.Process, error)
}

// Options are the per-run settings that do not come from the config file.
type Options struct {
	Derivation string
	// Root is the job root; empty means the configured default for Derivation.
	Root  string
	Local bool
	// Slots overrides local.slots when positive.
	Slots int
	// SchedulerOptions overrides scheduler.extra_options when non-empty.
	SchedulerOptions string
}

// Progress is reported while local jobs are admitted and drained.
type Progress struct {
	Phase    string
	Admitted int
	Total    int
	queue.Stats
}

// Progress phases.
const (
	PhaseSubmitting = "submitting"
	PhaseDraining   = "draining"
)

// Submitter runs one submission over a set of categories.
type Submitter struct {
	Root       string
	Categories []string
	Policy     partition.Policy

	Source Source
	// PathFor returns the discovery root for a category.
	PathFor     func(category string) string
	Concurrency int

	Builder    *job.Builder
	Dispatcher Dispatcher
	Spawner    Spawner

	Local               bool
	Slots               int
	PollInterval        time.Duration
	AbortOnSpawnFailure bool

	Metrics    *metrics.Collector
	Logger     *slog.Logger
	OnProgress func(Progress)
}

// New wires a Submitter from configuration.
func New(ctx context.Context, cfg config.Config, opts Options, logger *slog.Logger) (*Submitter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Derivation == "" {
		return nil, fmt.Errorf("%w: derivation is required", config.ErrInvalidConfig)
	}

	root := opts.Root
	if root == "" {
		root = cfg.DefaultOutputDir(opts.Derivation)
	}

	src, err := newSource(ctx, cfg.Listing, logger)
	if err != nil {
		return nil, err
	}

	slots := cfg.Local.Slots
	if opts.Slots > 0 {
		slots = opts.Slots
	}
	extra := cfg.Scheduler.ExtraOptions
	if opts.SchedulerOptions != "" {
		extra = opts.SchedulerOptions
	}

	derivation := opts.Derivation
	return &Submitter{
		Root:       root,
		Categories: cfg.Categories,
		Policy:     cfg.Sizing,
		Source:     src,
		PathFor: func(category string) string {
			return cfg.DiscoveryPath(derivation, category)
		},
		Concurrency: cfg.Listing.Concurrency,
		Builder: &job.Builder{
			Root:       root,
			Executable: cfg.Executable,
			ConfigPath: cfg.FrameworkConfigPath(derivation),
		},
		Dispatcher: &job.RemoteSubmitter{
			Command:      cfg.Scheduler.Command,
			TimeLimit:    cfg.Scheduler.TimeLimit,
			Cores:        cfg.Scheduler.Cores,
			Partition:    cfg.Scheduler.Partition,
			ExtraOptions: extra,
			Logger:       logger,
		},
		Spawner:             &job.LocalSpawner{Logger: logger},
		Local:               opts.Local,
		Slots:               slots,
		PollInterval:        cfg.Local.PollInterval,
		AbortOnSpawnFailure: cfg.Local.AbortOnSpawnFailure,
		Metrics:             metrics.NewCollector(),
		Logger:              logger,
	}, nil
}

func newSource(ctx context.Context, cfg config.ListingConfig, logger *slog.Logger) (Source, error) {
	switch cfg.Backend {
	case config.BackendS3:
		l, err := listing.NewS3Lister(ctx, listing.S3Options{
			Bucket:   cfg.Bucket,
			Region:   cfg.Region,
			Endpoint: cfg.Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("create s3 lister: %w", err)
		}
		return l, nil
	default:
		l := listing.NewXRDLister(cfg.Host, logger)
		if cfg.Tool != "" {
			l.Tool = cfg.Tool
		}
		return l, nil
	}
}

func (s *Submitter) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Submitter) pollInterval() time.Duration {
	if s.PollInterval <= 0 {
		return queue.DefaultPollInterval
	}
	return s.PollInterval
}

func (s *Submitter) report(p Progress) {
	if s.OnProgress != nil {
		s.OnProgress(p)
	}
}
