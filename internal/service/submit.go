package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/raphaelgruber/batchsub/internal/job"
	"github.com/raphaelgruber/batchsub/internal/lock"
	"github.com/raphaelgruber/batchsub/internal/metrics"
	"github.com/raphaelgruber/batchsub/internal/partition"
	"github.com/raphaelgruber/batchsub/internal/queue"
)

// FailedListName is written under the job root after a local run with failures.
const FailedListName = "failed.list"

// SpawnFailedCode is recorded for local jobs that never started.
const SpawnFailedCode = -1

// ErrSubmissions is returned by Result.Err when remote submissions failed.
var ErrSubmissions = errors.New("submissions failed")

// JobResult is the outcome of one dispatched job.
type JobResult struct {
	Label string
	Files int
	// ExitCode is set for local jobs once they finish.
	ExitCode int
	Duration time.Duration
	// Err is a dispatch error for this job alone.
	Err error
}

// Failed reports whether the job did not complete successfully.
func (r JobResult) Failed() bool {
	return r.Err != nil || r.ExitCode != 0
}

// Result is the outcome of a submission run.
type Result struct {
	Root  string
	Local bool
	Jobs  []JobResult
	// Skipped lists categories with no input files.
	Skipped []string
}

// Failed returns the jobs that did not succeed, in dispatch order.
func (r *Result) Failed() []JobResult {
	var out []JobResult
	for _, j := range r.Jobs {
		if j.Failed() {
			out = append(out, j)
		}
	}
	return out
}

// AllSucceeded is true when every job dispatched and returned 0.
func (r *Result) AllSucceeded() bool {
	return len(r.Failed()) == 0
}

// FailedLabels returns the labels of failed jobs.
func (r *Result) FailedLabels() []string {
	failed := r.Failed()
	labels := make([]string, len(failed))
	for i, j := range failed {
		labels[i] = j.Label
	}
	return labels
}

// Err reports failed submissions of a remote run. Local runs only warn
// about non-zero exit codes, so Err is nil for them.
func (r *Result) Err() error {
	if r.Local {
		return nil
	}
	if failed := r.Failed(); len(failed) > 0 {
		return fmt.Errorf("%w: %d of %d", ErrSubmissions, len(failed), len(r.Jobs))
	}
	return nil
}

// WriteFailedList writes the failed labels to <root>/failed.list in the
// resubmit list format. It returns the path, or "" when nothing failed.
func (r *Result) WriteFailedList() (string, error) {
	labels := r.FailedLabels()
	if len(labels) == 0 {
		return "", nil
	}
	path := filepath.Join(r.Root, FailedListName)
	if err := os.WriteFile(path, []byte(strings.Join(labels, "\n")+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write failed list: %w", err)
	}
	return path, nil
}

// Run discovers every category, partitions it, and dispatches one job per
// partition. All discovery finishes before the first job is dispatched.
//
// In local mode Run blocks until every admitted job has exited. A cancelled
// context stops waiting but leaves running processes alone; the partial
// result is returned with the context error.
func (s *Submitter) Run(ctx context.Context) (*Result, error) {
	fl := lock.New(s.Root)
	if err := fl.TryLock(); err != nil {
		return nil, fmt.Errorf("lock %s: %w", s.Root, err)
	}
	defer fl.Unlock()

	discovered, err := s.Discover(ctx)
	if err != nil {
		return nil, err
	}

	plan := planFor(discovered, s.Policy)
	s.logger().Info("discovery complete",
		"categories", len(plan.Categories),
		"files", plan.TotalFiles(),
		"jobs", plan.TotalJobs(),
		"local", s.Local,
	)

	res := &Result{Root: s.Root, Local: s.Local}
	if s.Local {
		err = s.runLocal(ctx, discovered, plan.TotalJobs(), res)
	} else {
		err = s.runRemote(ctx, discovered, res)
	}
	return res, err
}

// partitions yields the descriptor of every job in dispatch order. Empty
// categories are recorded as skipped.
func (s *Submitter) partitions(discovered []CategoryFiles, res *Result, yield func(*job.Descriptor) bool) error {
	for _, c := range discovered {
		if c.Files.Len() == 0 {
			s.logger().Warn("no files found, skipping category", "category", c.Category, "path", c.Path)
			res.Skipped = append(res.Skipped, c.Category)
			continue
		}
		size := s.Policy.GroupSize(c.Category)
		i := 0
		for group := range partition.Split(c.Files.All(), size) {
			d, err := s.Builder.Build(group, job.Label(c.Category, i))
			if err != nil {
				return fmt.Errorf("build job: %w", err)
			}
			if !yield(d) {
				return nil
			}
			i++
		}
	}
	return nil
}

func (s *Submitter) runRemote(ctx context.Context, discovered []CategoryFiles, res *Result) error {
	var ctxErr error
	err := s.partitions(discovered, res, func(d *job.Descriptor) bool {
		if ctxErr = ctx.Err(); ctxErr != nil {
			return false
		}
		res.Jobs = append(res.Jobs, s.dispatch(ctx, d))
		return true
	})
	if err != nil {
		return err
	}
	return ctxErr
}

func (s *Submitter) dispatch(ctx context.Context, d *job.Descriptor) JobResult {
	start := time.Now()
	err := s.Dispatcher.Submit(ctx, d)
	jr := JobResult{Label: d.Label, Files: d.Files, Duration: time.Since(start), Err: err}
	if err != nil {
		s.Metrics.RecordFailure(metrics.OpSubmit, jr.Duration)
		s.logger().Error("submission failed", "label", d.Label, "error", err)
		return jr
	}
	s.Metrics.RecordTiming(metrics.OpSubmit, jr.Duration)
	return jr
}

func (s *Submitter) runLocal(ctx context.Context, discovered []CategoryFiles, total int, res *Result) error {
	q := queue.New(s.Slots)
	interval := s.pollInterval()
	procs := make(map[string]*job.Process)
	files := make(map[string]int)
	spawnErrs := make(map[string]error)
	admitted := 0

	reporter := func(phase string) func(queue.Stats) {
		return func(st queue.Stats) {
			s.report(Progress{Phase: phase, Admitted: admitted, Total: total, Stats: st})
		}
	}

	var stopErr error
	err := s.partitions(discovered, res, func(d *job.Descriptor) bool {
		if stopErr = q.WaitForCapacity(ctx, interval, reporter(PhaseSubmitting)); stopErr != nil {
			return false
		}

		start := time.Now()
		p, err := s.Spawner.Spawn(d)
		files[d.Label] = d.Files
		admitted++
		if err != nil {
			s.Metrics.RecordFailure(metrics.OpSpawn, time.Since(start))
			s.logger().Error("spawn failed", "label", d.Label, "error", err)
			spawnErrs[d.Label] = err
			q.RecordFailed(d.Label, SpawnFailedCode)
			if s.AbortOnSpawnFailure {
				stopErr = err
				return false
			}
			return true
		}
		s.Metrics.RecordTiming(metrics.OpSpawn, time.Since(start))

		procs[d.Label] = p
		q.Admit(d.Label, p)
		s.logger().Info("job started", "label", d.Label, "files", d.Files, "pid", p.Pid())
		return true
	})
	if err != nil && stopErr == nil {
		stopErr = err
	}

	// Jobs already admitted always get drained, even when dispatch stopped
	// early, unless the context is what stopped it.
	var drainErr error
	if ctx.Err() == nil {
		drainErr = q.Drain(ctx, interval, reporter(PhaseDraining))
	}

	for _, e := range q.Finished() {
		jr := JobResult{Label: e.Name, Files: files[e.Name], ExitCode: e.ExitCode, Err: spawnErrs[e.Name]}
		if p, ok := procs[e.Name]; ok {
			jr.Duration = p.Duration()
			if e.ExitCode != 0 {
				s.Metrics.RecordFailure(metrics.OpJobRun, jr.Duration)
			} else {
				s.Metrics.RecordTiming(metrics.OpJobRun, jr.Duration)
			}
		}
		res.Jobs = append(res.Jobs, jr)
	}
	if running := q.Running(); len(running) > 0 {
		s.logger().Warn("stopped waiting with jobs still running", "running", running)
	}

	return errors.Join(stopErr, drainErr)
}
