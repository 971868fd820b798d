package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeJob exits with code after polls calls to Poll.
type fakeJob struct {
	polls  int
	code   int
	called int
	done   bool
}

func (j *fakeJob) Poll() (int, bool) {
	j.called++
	if j.done || j.called > j.polls {
		return j.code, true
	}
	return 0, false
}

func (j *fakeJob) exit(code int) {
	j.code = code
	j.done = true
}

func TestNew_MinimumOneSlot(t *testing.T) {
	assert.Equal(t, 1, New(0).Slots())
	assert.Equal(t, 1, New(-3).Slots())
	assert.Equal(t, 4, New(4).Slots())
}

func TestHasCapacity(t *testing.T) {
	q := New(2)
	a := &fakeJob{polls: 1000}
	b := &fakeJob{polls: 1000}

	require.True(t, q.HasCapacity())
	q.Admit("a", a)
	require.True(t, q.HasCapacity())
	q.Admit("b", b)
	assert.False(t, q.HasCapacity(), "full queue must report no capacity")

	a.exit(0)
	assert.True(t, q.HasCapacity(), "exited job should free its slot")
	assert.Equal(t, Stats{Running: 1, Finished: 1}, q.Stats())
	assert.Equal(t, []string{"b"}, q.Running())
}

func TestReconcile_OneWayTransition(t *testing.T) {
	q := New(3)
	j := &fakeJob{polls: 0, code: 7}
	q.Admit("j", j)

	assert.Equal(t, 1, q.Reconcile())
	assert.Equal(t, 0, q.Reconcile(), "finished entries are not polled again")
	assert.Equal(t, 1, j.called)

	finished := q.Finished()
	require.Len(t, finished, 1)
	assert.Equal(t, StateFinished, finished[0].State)
	assert.Equal(t, 7, finished[0].ExitCode)
}

func TestDrain(t *testing.T) {
	q := New(4)
	q.Admit("fast", &fakeJob{polls: 0})
	q.Admit("slow", &fakeJob{polls: 3, code: 2})
	q.Admit("mid", &fakeJob{polls: 1})

	var reports []Stats
	err := q.Drain(context.Background(), time.Millisecond, func(s Stats) {
		reports = append(reports, s)
	})
	require.NoError(t, err)

	assert.Equal(t, Stats{Running: 0, Finished: 3}, q.Stats())
	require.NotEmpty(t, reports)
	assert.Equal(t, Stats{Running: 0, Finished: 3}, reports[len(reports)-1])
	for _, r := range reports {
		assert.Equal(t, 3, r.Running+r.Finished)
	}

	var order []string
	for _, e := range q.Finished() {
		order = append(order, e.Name)
	}
	assert.Equal(t, []string{"fast", "mid", "slow"}, order, "finished order is reconciliation order")
	assert.False(t, q.AllSucceeded())
	require.Len(t, q.Failed(), 1)
	assert.Equal(t, "slow", q.Failed()[0].Name)
}

func TestDrain_Empty(t *testing.T) {
	q := New(1)
	calls := 0
	require.NoError(t, q.Drain(context.Background(), time.Hour, func(Stats) { calls++ }))
	assert.Equal(t, 1, calls)
	assert.True(t, q.AllSucceeded())
}

func TestDrain_ContextCancelled(t *testing.T) {
	q := New(1)
	q.Admit("stuck", &fakeJob{polls: 1 << 30})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := q.Drain(ctx, time.Millisecond, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []string{"stuck"}, q.Running())
}

func TestWaitForCapacity(t *testing.T) {
	q := New(1)
	q.Admit("a", &fakeJob{polls: 2})

	var reports int
	require.NoError(t, q.WaitForCapacity(context.Background(), time.Millisecond, func(Stats) { reports++ }))
	assert.Equal(t, 2, reports)
	assert.Equal(t, Stats{Running: 0, Finished: 1}, q.Stats())
}

func TestRecordFailed(t *testing.T) {
	q := New(1)
	q.RecordFailed("broken_0", -1)

	assert.True(t, q.HasCapacity(), "failed spawns never occupy a slot")
	assert.False(t, q.AllSucceeded())
	assert.Equal(t, Stats{Finished: 1}, q.Stats())
}

// Two slots, five jobs admitted one at a time: never more than two running,
// five finished at the end, aggregate status reflects the single failure.
func TestScenario_TwoSlotsFiveJobs(t *testing.T) {
	q := New(2)
	ctx := context.Background()

	maxRunning := 0
	track := func(s Stats) {
		if s.Running > maxRunning {
			maxRunning = s.Running
		}
	}

	for i := range 5 {
		require.NoError(t, q.WaitForCapacity(ctx, time.Millisecond, track))
		code := 0
		if i == 3 {
			code = 1
		}
		q.Admit(fmt.Sprintf("job_%d", i), &fakeJob{polls: i + 1, code: code})
		track(q.Stats())
		require.LessOrEqual(t, len(q.Running()), 2)
	}
	require.NoError(t, q.Drain(ctx, time.Millisecond, track))

	assert.LessOrEqual(t, maxRunning, 2)
	assert.Len(t, q.Finished(), 5)
	assert.False(t, q.AllSucceeded())
	require.Len(t, q.Failed(), 1)
	assert.Equal(t, "job_3", q.Failed()[0].Name)
}
