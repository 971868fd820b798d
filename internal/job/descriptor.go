// Package job materializes file-list artifacts and job commands, and
// dispatches them to the batch scheduler or to local processes.
package job

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Sentinel errors for job dispatch.
var (
	// ErrSpawn indicates a local job process could not be started.
	ErrSpawn = errors.New("spawn job")

	// ErrSubmit indicates the scheduler rejected or failed a submission.
	ErrSubmit = errors.New("submit job")

	// ErrInvalidLabel indicates a label not of the form <category>_<index>.
	ErrInvalidLabel = errors.New("invalid job label")
)

// Directory names under the job root.
const (
	FileListDir = "file_lists"
	LogDir      = "logs"
	OutputDir   = "outputs"
)

// Descriptor describes one job ready for dispatch.
type Descriptor struct {
	Label        string
	Category     string
	Index        int
	FileListPath string
	LogPath      string
	ErrPath      string
	Command      []string
	Files        int
}

// Builder writes file lists and composes job commands under a job root.
type Builder struct {
	// Root holds file_lists/, logs/ and, by default, outputs/.
	Root string
	// Executable is the job script run for every partition.
	Executable string
	// ConfigPath is passed to the executable with -c.
	ConfigPath string
	// OutputDir is passed with -o. Defaults to <Root>/outputs.
	OutputDir string
}

// Label names the index-th job of a category.
func Label(category string, index int) string {
	return fmt.Sprintf("%s_%d", category, index)
}

// ParseLabel splits a label on its last underscore. Category names may
// themselves contain underscores (singletop_Wt_3).
func ParseLabel(label string) (category string, index int, err error) {
	i := strings.LastIndexByte(label, '_')
	if i <= 0 || i == len(label)-1 {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}
	index, err = strconv.Atoi(label[i+1:])
	if err != nil || index < 0 {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}
	return label[:i], index, nil
}

// FileListPath returns where the file list for label lives under root.
func FileListPath(root, label string) string {
	return filepath.Join(root, FileListDir, label+".list")
}

// Build writes the file list for label and returns its descriptor. The
// file list exists on disk before Build returns.
func (b *Builder) Build(files []string, label string) (*Descriptor, error) {
	listDir := filepath.Join(b.Root, FileListDir)
	logDir := filepath.Join(b.Root, LogDir)
	for _, dir := range []string{listDir, logDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	listPath := FileListPath(b.Root, label)
	if err := WriteFileList(listPath, files); err != nil {
		return nil, err
	}

	d := &Descriptor{
		Label:        label,
		FileListPath: listPath,
		LogPath:      filepath.Join(logDir, label+".log"),
		ErrPath:      filepath.Join(logDir, label+".err"),
		Command:      b.command(listPath, label),
		Files:        len(files),
	}
	if category, index, err := ParseLabel(label); err == nil {
		d.Category, d.Index = category, index
	}
	return d, nil
}

func (b *Builder) command(listPath, label string) []string {
	out := b.OutputDir
	if out == "" {
		out = filepath.Join(b.Root, OutputDir)
	}
	return []string{
		b.Executable,
		"-c", b.ConfigPath,
		"-f", listPath,
		"-s", label,
		"-o", out,
	}
}
