package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/batchsub/internal/config"
	"github.com/raphaelgruber/batchsub/internal/job"
	"github.com/raphaelgruber/batchsub/internal/listing"
	"github.com/raphaelgruber/batchsub/internal/lock"
	"github.com/raphaelgruber/batchsub/internal/metrics"
	"github.com/raphaelgruber/batchsub/internal/partition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource serves a fixed tree. Paths listed in fail return an error.
type fakeSource struct {
	mu    sync.Mutex
	tree  map[string][]listing.Entry
	fail  map[string]bool
	calls int
}

func (f *fakeSource) List(_ context.Context, path string) ([]listing.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail[path] {
		return nil, fmt.Errorf("%w: %s: exit status 54", listing.ErrListing, path)
	}
	return f.tree[path], nil
}

func (f *fakeSource) Qualify(path string) string {
	return "root://host/" + path
}

func files(dir string, names ...string) []listing.Entry {
	out := make([]listing.Entry, len(names))
	for i, n := range names {
		out[i] = listing.Entry{Kind: listing.KindFile, Path: dir + "/" + n}
	}
	return out
}

type recordingDispatcher struct {
	labels []string
	fail   map[string]bool
}

func (r *recordingDispatcher) Submit(_ context.Context, d *job.Descriptor) error {
	r.labels = append(r.labels, d.Label)
	if r.fail[d.Label] {
		return fmt.Errorf("%w %s: exit status 1", job.ErrSubmit, d.Label)
	}
	return nil
}

// jobScript exits with the code listed for its -s label, 0 otherwise.
func jobScript(t *testing.T, codes map[string]int) string {
	t.Helper()
	var cases strings.Builder
	for label, code := range codes {
		fmt.Fprintf(&cases, "  %s) exit %d ;;\n", label, code)
	}
	body := `#!/bin/sh
while [ $# -gt 0 ]; do
  case "$1" in
    -s) label="$2"; shift ;;
  esac
  shift
done
sleep 0.05
case "$label" in
` + cases.String() + `esac
exit 0
`
	path := filepath.Join(t.TempDir(), "job.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func newTestSubmitter(t *testing.T, src *fakeSource, categories ...string) *Submitter {
	t.Helper()
	root := filepath.Join(t.TempDir(), "batch")
	return &Submitter{
		Root:       root,
		Categories: categories,
		Policy: partition.Policy{
			Rules:   []partition.Rule{{Priority: 1, Pattern: "A*", Size: 2}, {Priority: 1, Pattern: "B", Size: 3}},
			Default: 5,
		},
		Source:      src,
		PathFor:     func(c string) string { return "/data/" + c },
		Concurrency: 2,
		Builder: &job.Builder{
			Root:       root,
			Executable: "./job.sh",
			ConfigPath: "framework.cfg",
		},
		Dispatcher:   &recordingDispatcher{},
		Spawner:      &job.LocalSpawner{},
		Slots:        2,
		PollInterval: 10 * time.Millisecond,
		Metrics:      metrics.NewCollector(),
	}
}

func TestDiscover_OrderAndQualify(t *testing.T) {
	src := &fakeSource{tree: map[string][]listing.Entry{
		"/data/A1": append(files("/data/A1", "x.root", "y.root"), listing.Entry{Kind: listing.KindDirectory, Path: "/data/A1/sub"}),
		"/data/A1/sub": files("/data/A1/sub", "z.root"),
		"/data/B":      files("/data/B", "b.root"),
	}}
	s := newTestSubmitter(t, src, "A1", "B", "C")

	got, err := s.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "A1", got[0].Category)
	assert.Equal(t, []string{
		"root://host//data/A1/x.root",
		"root://host//data/A1/y.root",
		"root://host//data/A1/sub/z.root",
	}, got[0].Files.Paths())
	assert.Equal(t, "B", got[1].Category)
	assert.Equal(t, 1, got[1].Files.Len())
	assert.Equal(t, 0, got[2].Files.Len())

	assert.Equal(t, int64(3), s.Metrics.Snapshot().Listing.Count)
}

func TestDiscover_FailureIsFatal(t *testing.T) {
	src := &fakeSource{
		tree: map[string][]listing.Entry{"/data/A1": files("/data/A1", "x")},
		fail: map[string]bool{"/data/B": true},
	}
	s := newTestSubmitter(t, src, "A1", "B")

	_, err := s.Discover(context.Background())
	require.ErrorIs(t, err, listing.ErrListing)
	assert.Contains(t, err.Error(), "discover B")
}

func TestPlan(t *testing.T) {
	src := &fakeSource{tree: map[string][]listing.Entry{
		"/data/A1": files("/data/A1", "1", "2", "3", "4", "5"),
		"/data/B":  files("/data/B", "1", "2", "3", "4", "5", "6", "7"),
		"/data/Z":  files("/data/Z", "1"),
	}}
	s := newTestSubmitter(t, src, "A1", "B", "Z")

	plan, err := s.Plan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []CategoryPlan{
		{Category: "A1", Path: "/data/A1", Files: 5, GroupSize: 2, Jobs: 3},
		{Category: "B", Path: "/data/B", Files: 7, GroupSize: 3, Jobs: 3},
		{Category: "Z", Path: "/data/Z", Files: 1, GroupSize: 5, Jobs: 1},
	}, plan.Categories)
	assert.Equal(t, 13, plan.TotalFiles())
	assert.Equal(t, 7, plan.TotalJobs())

	_, err = os.Stat(s.Root)
	assert.True(t, os.IsNotExist(err), "plan writes nothing")
}

func TestRun_Remote(t *testing.T) {
	src := &fakeSource{tree: map[string][]listing.Entry{
		"/data/B": files("/data/B", "1", "2", "3", "4", "5", "6", "7"),
		"/data/C": nil,
	}}
	s := newTestSubmitter(t, src, "B", "C")
	disp := &recordingDispatcher{fail: map[string]bool{"B_1": true}}
	s.Dispatcher = disp

	res, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"B_0", "B_1", "B_2"}, disp.labels)
	assert.Equal(t, []string{"C"}, res.Skipped)
	assert.Equal(t, []string{"B_1"}, res.FailedLabels())
	assert.False(t, res.AllSucceeded())

	got, err := job.ReadFileList(job.FileListPath(s.Root, "B_2"))
	require.NoError(t, err)
	assert.Equal(t, []string{"root://host//data/B/7"}, got)

	snap := s.Metrics.Snapshot()
	assert.Equal(t, int64(3), snap.Submit.Count)
	assert.Equal(t, int64(1), snap.Submit.Failures)

	relock := lock.New(s.Root)
	require.NoError(t, relock.TryLock(), "lock released after run")
	require.NoError(t, relock.Unlock())
}

func TestRun_Locked(t *testing.T) {
	s := newTestSubmitter(t, &fakeSource{}, "B")

	held := lock.New(s.Root)
	require.NoError(t, held.TryLock())
	defer held.Unlock()

	_, err := s.Run(context.Background())
	assert.ErrorIs(t, err, lock.ErrLocked)
}

func TestRun_DiscoveryFailureSubmitsNothing(t *testing.T) {
	src := &fakeSource{
		tree: map[string][]listing.Entry{"/data/A1": files("/data/A1", "x")},
		fail: map[string]bool{"/data/B": true},
	}
	s := newTestSubmitter(t, src, "A1", "B")
	disp := &recordingDispatcher{}
	s.Dispatcher = disp

	_, err := s.Run(context.Background())
	require.ErrorIs(t, err, listing.ErrListing)
	assert.Empty(t, disp.labels)
	assert.NoDirExists(t, filepath.Join(s.Root, job.FileListDir))
}

func TestRun_LocalTwoSlotsFiveJobs(t *testing.T) {
	src := &fakeSource{tree: map[string][]listing.Entry{
		"/data/W": files("/data/W", "1", "2", "3", "4", "5"),
	}}
	s := newTestSubmitter(t, src, "W")
	s.Policy = partition.Policy{Default: 1}
	s.Local = true
	s.Builder.Executable = jobScript(t, map[string]int{"W_3": 2})

	var maxRunning int
	var last Progress
	s.OnProgress = func(p Progress) {
		maxRunning = max(maxRunning, p.Running)
		last = p
	}

	res, err := s.Run(context.Background())
	require.NoError(t, err)

	assert.LessOrEqual(t, maxRunning, 2)
	assert.Equal(t, PhaseDraining, last.Phase)
	assert.Equal(t, 0, last.Running)
	assert.Equal(t, 5, last.Finished)
	assert.Equal(t, 5, last.Total)

	require.Len(t, res.Jobs, 5)
	assert.Equal(t, []string{"W_3"}, res.FailedLabels())
	for _, j := range res.Jobs {
		if j.Label == "W_3" {
			assert.Equal(t, 2, j.ExitCode)
		}
		assert.FileExists(t, filepath.Join(s.Root, job.LogDir, j.Label+".log"))
		assert.FileExists(t, filepath.Join(s.Root, job.LogDir, j.Label+".err"))
	}
	assert.Equal(t, int64(5), s.Metrics.Snapshot().JobRun.Count)

	path, err := res.WriteFailedList()
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "W_3\n", string(data))
}

func TestResult_Err(t *testing.T) {
	failing := []JobResult{{Label: "WW_0"}, {Label: "WW_1", Err: job.ErrSubmit}, {Label: "WW_2", Err: job.ErrSubmit}}

	remote := &Result{Jobs: failing}
	err := remote.Err()
	require.ErrorIs(t, err, ErrSubmissions)
	assert.EqualError(t, err, "submissions failed: 2 of 3")

	local := &Result{Local: true, Jobs: []JobResult{{Label: "W_0", ExitCode: 2}}}
	assert.NoError(t, local.Err(), "local runs only warn")

	ok := &Result{Jobs: []JobResult{{Label: "WW_0"}}}
	assert.NoError(t, ok.Err())
}

func TestRun_LocalAllSucceed(t *testing.T) {
	src := &fakeSource{tree: map[string][]listing.Entry{
		"/data/A1": files("/data/A1", "1", "2", "3"),
	}}
	s := newTestSubmitter(t, src, "A1")
	s.Local = true
	s.Builder.Executable = jobScript(t, nil)

	res, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Jobs, 2)
	assert.True(t, res.AllSucceeded())

	path, err := res.WriteFailedList()
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestRun_LocalSpawnFailure(t *testing.T) {
	src := &fakeSource{tree: map[string][]listing.Entry{
		"/data/Z": files("/data/Z", "1", "2", "3", "4", "5", "6"),
	}}

	t.Run("continue", func(t *testing.T) {
		s := newTestSubmitter(t, src, "Z")
		s.Local = true
		s.Builder.Executable = filepath.Join(t.TempDir(), "missing.sh")

		res, err := s.Run(context.Background())
		require.NoError(t, err)
		require.Len(t, res.Jobs, 2)
		for _, j := range res.Jobs {
			assert.Equal(t, SpawnFailedCode, j.ExitCode)
			assert.ErrorIs(t, j.Err, job.ErrSpawn)
		}
	})

	t.Run("abort", func(t *testing.T) {
		s := newTestSubmitter(t, src, "Z")
		s.Local = true
		s.AbortOnSpawnFailure = true
		s.Builder.Executable = filepath.Join(t.TempDir(), "missing.sh")

		res, err := s.Run(context.Background())
		require.ErrorIs(t, err, job.ErrSpawn)
		require.Len(t, res.Jobs, 1)
		assert.Equal(t, "Z_0", res.Jobs[0].Label)
	})
}

func TestRun_LocalCancelStopsWaiting(t *testing.T) {
	src := &fakeSource{tree: map[string][]listing.Entry{
		"/data/A1": files("/data/A1", "1"),
	}}
	s := newTestSubmitter(t, src, "A1")
	s.Local = true
	exe := filepath.Join(t.TempDir(), "slow.sh")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\nsleep 1\n"), 0o755))
	s.Builder.Executable = exe

	ctx, cancel := context.WithCancel(context.Background())
	s.OnProgress = func(p Progress) {
		if p.Phase == PhaseDraining && p.Running > 0 {
			cancel()
		}
	}

	res, err := s.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, res.Jobs, "still-running jobs have no result")
}

func TestResubmit(t *testing.T) {
	src := &fakeSource{tree: map[string][]listing.Entry{
		"/data/A1": files("/data/A1", "1", "2", "3"),
	}}
	s := newTestSubmitter(t, src, "A1")
	_, err := s.Run(context.Background())
	require.NoError(t, err)

	disp := &recordingDispatcher{}
	s.Dispatcher = disp
	res, err := s.Resubmit(context.Background(), []string{"A1_1", "ZeeB_4", "A1_0"})
	require.NoError(t, err)

	assert.Equal(t, []string{"A1_1", "A1_0"}, disp.labels)
	require.Len(t, res.Jobs, 3)
	assert.ErrorIs(t, res.Jobs[1].Err, ErrMissingFileList)
	assert.Equal(t, []string{"ZeeB_4"}, res.FailedLabels())
	assert.Equal(t, 1, src.calls, "resubmit does not list again")
}

func TestResubmit_LocalUnsupported(t *testing.T) {
	s := newTestSubmitter(t, &fakeSource{}, "A1")
	s.Local = true

	_, err := s.Resubmit(context.Background(), []string{"A1_0"})
	assert.ErrorIs(t, err, ErrLocalResubmit)
}

func TestParseRetryList(t *testing.T) {
	in := "ZeeB_0\n\n  WW_3  \n# comment\nsingletop_Wt_1\r\n"
	got, err := ParseRetryList(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []string{"ZeeB_0", "WW_3", "singletop_Wt_1"}, got)
}

func TestReadRetryList_Missing(t *testing.T) {
	_, err := ReadRetryList(filepath.Join(t.TempDir(), "nope.list"))
	assert.Error(t, err)
}

func TestNew_FromConfig(t *testing.T) {
	cfg := config.Default()
	root := t.TempDir()

	s, err := New(context.Background(), cfg, Options{Derivation: "HIGG2D4", Root: root, Slots: 9, SchedulerOptions: "--mem=4G"}, nil)
	require.NoError(t, err)

	assert.Equal(t, root, s.Root)
	assert.Equal(t, 9, s.Slots)
	assert.Equal(t, "data/FrameworkExe_monoVH/framework_monoVH-read_HIGG2D4.cfg", s.Builder.ConfigPath)
	assert.Equal(t, "/atlas/local/cshimmin/complete/HIGG2D4_13TeV/CxAOD_00-16-01/WW", s.PathFor("WW"))

	xrd, ok := s.Source.(*listing.XRDLister)
	require.True(t, ok)
	assert.Equal(t, "gpatlas2-ib.local", xrd.Host)

	remote, ok := s.Dispatcher.(*job.RemoteSubmitter)
	require.True(t, ok)
	assert.Equal(t, "--mem=4G", remote.ExtraOptions)

	_, err = New(context.Background(), cfg, Options{}, nil)
	assert.True(t, errors.Is(err, config.ErrInvalidConfig))
}

func TestNew_DefaultRoot(t *testing.T) {
	s, err := New(context.Background(), config.Default(), Options{Derivation: "HIGG5D1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "batch_HIGG5D1_00-16-01", s.Root)
	assert.Equal(t, 4, s.Slots)
}

func TestListJobs(t *testing.T) {
	src := &fakeSource{tree: map[string][]listing.Entry{
		"/data/singletop_Wt": files("/data/singletop_Wt", "1", "2", "3", "4", "5", "6"),
		"/data/A1":           files("/data/A1", "1", "2", "3"),
	}}
	s := newTestSubmitter(t, src, "singletop_Wt", "A1")
	s.Policy = partition.Policy{Default: 1}
	_, err := s.Run(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(s.Root, job.LogDir, "A1_2.log"), []byte("done\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(s.Root, FailedListName), []byte("singletop_Wt_10\n"), 0o644))

	jobs, err := ListJobs(s.Root)
	require.NoError(t, err)
	require.Len(t, jobs, 9)

	assert.Equal(t, "A1_0", jobs[0].Label)
	assert.Equal(t, "A1_2", jobs[2].Label)
	assert.Equal(t, int64(5), jobs[2].LogSize)
	assert.Equal(t, int64(-1), jobs[0].LogSize)

	// numeric index order, not lexical
	assert.Equal(t, "singletop_Wt_2", jobs[5].Label)
	for _, j := range jobs {
		assert.Equal(t, 1, j.Files)
		assert.False(t, j.Failed)
	}
}

func TestListJobs_MissingRoot(t *testing.T) {
	_, err := ListJobs(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
