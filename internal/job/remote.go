package job

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
)

// RemoteSubmitter hands jobs to SLURM through sbatch. Submitted jobs are not
// tracked; the scheduler owns them from then on.
type RemoteSubmitter struct {
	// Command is the submission tool, "sbatch" by default.
	Command   string
	TimeLimit string
	Cores     int
	Partition string
	// ExtraOptions are whitespace-separated flags appended after the
	// built-in ones.
	ExtraOptions string
	Logger       *slog.Logger
}

// Args returns the full submission argv for d, tool first.
func (s *RemoteSubmitter) Args(d *Descriptor) []string {
	tool := s.Command
	if tool == "" {
		tool = "sbatch"
	}
	args := []string{tool,
		"-t", s.TimeLimit,
		"-c", strconv.Itoa(s.Cores),
		"-p", s.Partition,
		"-o", d.LogPath,
		"-J", d.Label,
	}
	args = append(args, strings.Fields(s.ExtraOptions)...)
	return append(args, d.Command...)
}

// Submit runs the submission tool and waits only for it to return.
func (s *RemoteSubmitter) Submit(ctx context.Context, d *Descriptor) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	argv := s.Args(d)
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(out.String())
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%w %s: exit status %d: %s", ErrSubmit, d.Label, exitErr.ExitCode(), msg)
		}
		return fmt.Errorf("%w %s: %v", ErrSubmit, d.Label, err)
	}

	logger.Info("job submitted", "label", d.Label, "files", d.Files, "scheduler", strings.TrimSpace(out.String()))
	return nil
}
