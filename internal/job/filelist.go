package job

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrMissingFileList indicates no file list was generated for a label.
var ErrMissingFileList = errors.New("file list not found")

// WriteFileList writes one identifier per line, newline-terminated. The
// content goes to a temp file in the same directory and is renamed into
// place, so a reader never sees a partial list.
func WriteFileList(path string, files []string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".batchsub-tmp-*.list")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	defer func() {
		// Clean up temp file on any failure
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	w := bufio.NewWriter(tmp)
	for _, f := range files {
		w.WriteString(f)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename file list: %w", err)
	}
	return nil
}

// ReadFileList reads a file list back, trimming whitespace and skipping
// blank lines.
func ReadFileList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingFileList, path)
		}
		return nil, fmt.Errorf("open file list: %w", err)
	}
	defer f.Close()

	var files []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			files = append(files, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read file list %s: %w", path, err)
	}
	return files, nil
}
