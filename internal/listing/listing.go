// Package listing discovers input files on remote storage by walking
// directory listings.
package listing

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
)

// ErrListing indicates a listing call failed. Discovery does not continue
// with partial results.
var ErrListing = errors.New("listing failed")

// Kind classifies a listing entry.
type Kind int

const (
	KindOther Kind = iota
	KindDirectory
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindDirectory:
		return "directory"
	case KindFile:
		return "file"
	default:
		return "other"
	}
}

// Entry is one line of a directory listing.
type Entry struct {
	Kind Kind
	Path string
}

// Lister returns the immediate children of a remote directory.
type Lister interface {
	List(ctx context.Context, path string) ([]Entry, error)
}

// Qualifier turns a bare remote path into a URI the job executable can open.
type Qualifier interface {
	Qualify(path string) string
}

// FileSet is a deduplicated set of file identifiers that remembers
// insertion order. Sets returned by this package are not modified afterwards.
type FileSet struct {
	paths []string
	seen  map[string]struct{}
}

// NewFileSet builds a set from paths, dropping duplicates.
func NewFileSet(paths ...string) *FileSet {
	fs := &FileSet{seen: make(map[string]struct{}, len(paths))}
	for _, p := range paths {
		fs.add(p)
	}
	return fs
}

func (fs *FileSet) add(p string) {
	if _, ok := fs.seen[p]; ok {
		return
	}
	fs.seen[p] = struct{}{}
	fs.paths = append(fs.paths, p)
}

// Len returns the number of distinct files.
func (fs *FileSet) Len() int {
	if fs == nil {
		return 0
	}
	return len(fs.paths)
}

// Contains reports whether p is in the set.
func (fs *FileSet) Contains(p string) bool {
	if fs == nil {
		return false
	}
	_, ok := fs.seen[p]
	return ok
}

// All iterates the files in discovery order.
func (fs *FileSet) All() iter.Seq[string] {
	if fs == nil {
		return func(func(string) bool) {}
	}
	return slices.Values(fs.paths)
}

// Paths returns a copy of the files in discovery order.
func (fs *FileSet) Paths() []string {
	if fs == nil {
		return nil
	}
	return slices.Clone(fs.paths)
}

// Walk recursively lists base and returns every file beneath it. Files of a
// directory come before the contents of its subdirectories. The first failed
// listing aborts the walk.
func Walk(ctx context.Context, l Lister, base string) (*FileSet, error) {
	fs := NewFileSet()
	if err := walk(ctx, l, base, fs); err != nil {
		return nil, err
	}
	return fs, nil
}

func walk(ctx context.Context, l Lister, dir string, fs *FileSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := l.List(ctx, dir)
	if err != nil {
		return fmt.Errorf("list %s: %w", dir, err)
	}

	var dirs []string
	for _, e := range entries {
		switch e.Kind {
		case KindDirectory:
			// A listing that names its own directory would recurse forever.
			if strings.TrimSuffix(e.Path, "/") == strings.TrimSuffix(dir, "/") {
				continue
			}
			dirs = append(dirs, e.Path)
		case KindFile:
			fs.add(e.Path)
		}
	}

	for _, d := range dirs {
		if err := walk(ctx, l, d, fs); err != nil {
			return err
		}
	}
	return nil
}

// QualifyAll maps every path in fs through q, keeping order.
func QualifyAll(fs *FileSet, q Qualifier) *FileSet {
	out := NewFileSet()
	for p := range fs.All() {
		out.add(q.Qualify(p))
	}
	return out
}
