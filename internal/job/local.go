package job

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// LocalSpawner starts jobs as child processes with stdout and stderr
// redirected to the descriptor's log files.
type LocalSpawner struct {
	// Dir is the working directory of spawned jobs; empty means ours.
	Dir    string
	Logger *slog.Logger
}

// Process is a running local job. A reaper goroutine waits on the child and
// closes its log files; Poll never blocks.
type Process struct {
	Label   string
	Started time.Time

	cmd   *exec.Cmd
	done  chan struct{}
	code  int
	ended time.Time
}

// Spawn starts d. A start failure closes the log files and returns ErrSpawn.
func (s *LocalSpawner) Spawn(d *Descriptor) (*Process, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if len(d.Command) == 0 {
		return nil, fmt.Errorf("%w %s: empty command", ErrSpawn, d.Label)
	}

	stdout, err := os.Create(d.LogPath)
	if err != nil {
		return nil, fmt.Errorf("%w %s: open log: %v", ErrSpawn, d.Label, err)
	}
	stderr, err := os.Create(d.ErrPath)
	if err != nil {
		stdout.Close()
		return nil, fmt.Errorf("%w %s: open err log: %v", ErrSpawn, d.Label, err)
	}

	cmd := exec.Command(d.Command[0], d.Command[1:]...)
	cmd.Dir = s.Dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("%w %s: %v", ErrSpawn, d.Label, err)
	}

	p := &Process{
		Label:   d.Label,
		Started: time.Now(),
		cmd:     cmd,
		done:    make(chan struct{}),
	}
	go func() {
		err := cmd.Wait()
		p.code = exitCode(err)
		p.ended = time.Now()
		stdout.Close()
		stderr.Close()
		close(p.done)
	}()

	logger.Debug("job started", "label", d.Label, "pid", cmd.Process.Pid)
	return p, nil
}

// Poll returns the exit code once the process has exited.
func (p *Process) Poll() (int, bool) {
	select {
	case <-p.done:
		return p.code, true
	default:
		return 0, false
	}
}

// Wait blocks until the process exits and returns its exit code.
func (p *Process) Wait() int {
	<-p.done
	return p.code
}

// Pid returns the operating system process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Duration is the wall time of a finished process, or the time so far.
func (p *Process) Duration() time.Duration {
	select {
	case <-p.done:
		return p.ended.Sub(p.Started)
	default:
		return time.Since(p.Started)
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
