package service

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/raphaelgruber/batchsub/internal/job"
	"github.com/raphaelgruber/batchsub/internal/lock"
)

// ParseRetryList reads job labels, one per line. Surrounding whitespace is
// trimmed; blank lines and lines starting with # are ignored.
func ParseRetryList(r io.Reader) ([]string, error) {
	var labels []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		labels = append(labels, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read retry list: %w", err)
	}
	return labels, nil
}

// ReadRetryList parses the retry list at path.
func ReadRetryList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open retry list: %w", err)
	}
	defer f.Close()
	return ParseRetryList(f)
}

// Resubmit submits the named jobs again from their existing file lists,
// without rediscovering anything. Each label stands alone: a missing list
// or a failed submission is recorded on that job and the rest proceed.
func (s *Submitter) Resubmit(ctx context.Context, labels []string) (*Result, error) {
	if s.Local {
		return nil, ErrLocalResubmit
	}

	fl := lock.New(s.Root)
	if err := fl.TryLock(); err != nil {
		return nil, fmt.Errorf("lock %s: %w", s.Root, err)
	}
	defer fl.Unlock()

	res := &Result{Root: s.Root}
	for _, label := range labels {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		files, err := job.ReadFileList(job.FileListPath(s.Root, label))
		if err != nil {
			s.logger().Error("cannot resubmit", "label", label, "error", err)
			res.Jobs = append(res.Jobs, JobResult{Label: label, Err: err})
			continue
		}

		d, err := s.Builder.Build(files, label)
		if err != nil {
			return res, fmt.Errorf("build job: %w", err)
		}
		res.Jobs = append(res.Jobs, s.dispatch(ctx, d))
	}

	s.logger().Info("resubmission complete", "jobs", len(res.Jobs), "failed", len(res.Failed()))
	return res, nil
}
