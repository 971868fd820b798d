// Package queue tracks a bounded set of locally running jobs by polling.
//
// A Queue is owned by a single goroutine. Jobs report completion only
// through Poll, so no locking is needed around the running and finished
// collections.
package queue

import (
	"context"
	"time"
)

// DefaultPollInterval is the sleep between reconciliations.
const DefaultPollInterval = 2 * time.Second

// Poller is a non-blocking completion check on a running job.
type Poller interface {
	// Poll returns the exit code and true once the job has finished.
	Poll() (code int, exited bool)
}

// State is the lifecycle state of a queue entry.
type State string

const (
	StateRunning  State = "running"
	StateFinished State = "finished"
)

// Entry is one admitted job.
type Entry struct {
	Name     string
	State    State
	ExitCode int

	poller Poller
}

// Stats is a point-in-time count of queue entries.
type Stats struct {
	Running  int
	Finished int
}

// Queue admits jobs up to a slot count and moves them to finished as they exit.
// Admission is cooperative: callers check HasCapacity before Admit.
type Queue struct {
	slots    int
	running  []*Entry
	finished []*Entry
}

// New creates a queue with the given number of slots (minimum 1).
func New(slots int) *Queue {
	if slots < 1 {
		slots = 1
	}
	return &Queue{slots: slots}
}

// Slots returns the configured capacity.
func (q *Queue) Slots() int {
	return q.slots
}

// Reconcile polls every running entry and moves the ones that exited to
// the finished list. Returns the number of entries that finished.
func (q *Queue) Reconcile() int {
	still := q.running[:0]
	n := 0
	for _, e := range q.running {
		code, exited := e.poller.Poll()
		if !exited {
			still = append(still, e)
			continue
		}
		e.State = StateFinished
		e.ExitCode = code
		q.finished = append(q.finished, e)
		n++
	}
	for i := len(still); i < len(q.running); i++ {
		q.running[i] = nil
	}
	q.running = still
	return n
}

// HasCapacity reconciles and reports whether another job may be admitted.
func (q *Queue) HasCapacity() bool {
	q.Reconcile()
	return len(q.running) < q.slots
}

// Admit adds a running job. It does not enforce the slot bound.
func (q *Queue) Admit(name string, p Poller) {
	q.running = append(q.running, &Entry{Name: name, State: StateRunning, poller: p})
}

// RecordFailed adds a job that never started straight to finished with code.
func (q *Queue) RecordFailed(name string, code int) {
	q.finished = append(q.finished, &Entry{Name: name, State: StateFinished, ExitCode: code})
}

// Stats returns the current counts without reconciling.
func (q *Queue) Stats() Stats {
	return Stats{Running: len(q.running), Finished: len(q.finished)}
}

// WaitForCapacity blocks until a slot is free, sleeping interval between
// checks and calling report (if non-nil) each time the queue is full.
func (q *Queue) WaitForCapacity(ctx context.Context, interval time.Duration, report func(Stats)) error {
	for !q.HasCapacity() {
		if report != nil {
			report(q.Stats())
		}
		if err := sleep(ctx, interval); err != nil {
			return err
		}
	}
	return nil
}

// Drain waits until no job is running, reporting counts every round.
// Cancelling ctx stops the wait; jobs keep running.
func (q *Queue) Drain(ctx context.Context, interval time.Duration, report func(Stats)) error {
	q.Reconcile()
	for len(q.running) > 0 {
		if report != nil {
			report(q.Stats())
		}
		if err := sleep(ctx, interval); err != nil {
			return err
		}
		q.Reconcile()
	}
	if report != nil {
		report(q.Stats())
	}
	return nil
}

// Finished returns the finished entries in the order they were reconciled.
func (q *Queue) Finished() []Entry {
	out := make([]Entry, len(q.finished))
	for i, e := range q.finished {
		out[i] = *e
	}
	return out
}

// Running returns the names of jobs still running.
func (q *Queue) Running() []string {
	names := make([]string, len(q.running))
	for i, e := range q.running {
		names[i] = e.Name
	}
	return names
}

// Failed returns finished entries with a non-zero exit code.
func (q *Queue) Failed() []Entry {
	var out []Entry
	for _, e := range q.finished {
		if e.ExitCode != 0 {
			out = append(out, *e)
		}
	}
	return out
}

// AllSucceeded reports whether every finished job exited with code 0.
func (q *Queue) AllSucceeded() bool {
	return len(q.Failed()) == 0
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
