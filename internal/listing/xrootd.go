package listing

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
)

// DefaultXRDTool is the XRootD filesystem client used for listings.
const DefaultXRDTool = "xrdfs"

// XRDLister lists directories through `xrdfs <host> ls -l <path>`.
type XRDLister struct {
	Tool   string
	Host   string
	Logger *slog.Logger
}

// NewXRDLister creates a lister for an XRootD redirector.
func NewXRDLister(host string, logger *slog.Logger) *XRDLister {
	if logger == nil {
		logger = slog.Default()
	}
	return &XRDLister{Tool: DefaultXRDTool, Host: host, Logger: logger}
}

// List runs one listing call. Diagnostic output from the tool is logged at
// debug level; a non-zero exit is reported as ErrListing.
func (x *XRDLister) List(ctx context.Context, path string) ([]Entry, error) {
	tool := x.Tool
	if tool == "" {
		tool = DefaultXRDTool
	}
	logger := x.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, tool, x.Host, "ls", "-l", path)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if stderr.Len() > 0 {
		logger.Debug("listing diagnostics", "host", x.Host, "path", path, "stderr", strings.TrimSpace(stderr.String()))
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%w: %s %s ls -l %s: exit status %d", ErrListing, tool, x.Host, path, exitErr.ExitCode())
		}
		return nil, fmt.Errorf("%w: run %s: %v", ErrListing, tool, err)
	}

	return ParseListing(&stdout)
}

// Qualify prefixes the root:// scheme. The path keeps its leading slash, so
// the result has the double slash XRootD expects between host and path.
func (x *XRDLister) Qualify(path string) string {
	return fmt.Sprintf("root://%s/%s", x.Host, path)
}

// ParseListing reads `ls -l` style output. A line starting with 'd' is a
// directory, '-' a file, anything else is ignored. The path is everything
// from the first slash on the line.
func ParseListing(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		_, rest, ok := strings.Cut(line, "/")
		if !ok {
			continue
		}
		var kind Kind
		switch line[0] {
		case 'd':
			kind = KindDirectory
		case '-':
			kind = KindFile
		default:
			continue
		}
		entries = append(entries, Entry{Kind: kind, Path: "/" + rest})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read listing: %w", err)
	}
	return entries, nil
}
