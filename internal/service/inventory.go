package service

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/raphaelgruber/batchsub/internal/job"
)

// JobInfo describes a job found under a job root.
type JobInfo struct {
	Label    string
	Category string
	Index    int
	Files    int
	// LogSize and ErrSize are -1 when the file does not exist.
	LogSize int64
	ErrSize int64
	// Modified is the last write time of the job's log, or of its file list
	// when no log exists yet.
	Modified time.Time
	// Failed is set for labels listed in failed.list.
	Failed bool
}

// ListJobs inspects the file lists and logs under root. Jobs are ordered by
// category, then index.
func ListJobs(root string) ([]JobInfo, error) {
	lists, err := filepath.Glob(filepath.Join(root, job.FileListDir, "*.list"))
	if err != nil {
		return nil, fmt.Errorf("scan file lists: %w", err)
	}
	if len(lists) == 0 {
		if _, err := os.Stat(root); err != nil {
			return nil, fmt.Errorf("open job root: %w", err)
		}
	}

	failed, err := readFailedSet(filepath.Join(root, FailedListName))
	if err != nil {
		return nil, err
	}

	jobs := make([]JobInfo, 0, len(lists))
	for _, path := range lists {
		label := strings.TrimSuffix(filepath.Base(path), ".list")
		files, err := job.ReadFileList(path)
		if err != nil {
			return nil, err
		}

		info := JobInfo{
			Label:   label,
			Files:   len(files),
			LogSize: -1,
			ErrSize: -1,
			Failed:  failed[label],
		}
		info.Category, info.Index, _ = job.ParseLabel(label)
		if st, err := os.Stat(path); err == nil {
			info.Modified = st.ModTime()
		}
		if st, err := os.Stat(filepath.Join(root, job.LogDir, label+".log")); err == nil {
			info.LogSize = st.Size()
			info.Modified = st.ModTime()
		}
		if st, err := os.Stat(filepath.Join(root, job.LogDir, label+".err")); err == nil {
			info.ErrSize = st.Size()
		}
		jobs = append(jobs, info)
	}

	slices.SortFunc(jobs, func(a, b JobInfo) int {
		return cmp.Or(
			cmp.Compare(a.Category, b.Category),
			cmp.Compare(a.Index, b.Index),
			cmp.Compare(a.Label, b.Label),
		)
	})
	return jobs, nil
}

func readFailedSet(path string) (map[string]bool, error) {
	labels, err := ReadRetryList(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	set := make(map[string]bool, len(labels))
	for _, l := range labels {
		set[l] = true
	}
	return set, nil
}
