// Package walker enumerates a directory tree in a stable order for archiving.
//
// Entries are produced lazily in lexicographic order of their archive names, where a
// directory is named with a trailing slash and is immediately followed by its contents.
// Two walks of an unchanged tree always yield the same sequence.
// Symbolic links and other non-regular files are skipped with a warning: they are
// neither followed nor recorded.
package walker

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/tinyzimmer/fastzip/pkg/log"
	"github.com/tinyzimmer/fastzip/pkg/types"
)

// Entry is a single file or directory found under the walked root.
type Entry struct {
	// Slash separated path relative to the root
	RelPath string
	// Path on the local filesystem
	Path    string
	IsDir   bool
	Size    int64
	ModTime time.Time
	Mode    fs.FileMode
}

// Option configures a Walker.
type Option func(*Walker)

// WithExcludes skips every entry whose relative path matches one of the given doublestar
// patterns. A matching directory is pruned together with its contents.
func WithExcludes(patterns ...string) Option {
	return func(w *Walker) { w.excludes = append(w.excludes, patterns...) }
}

// Walker walks a single root directory.
type Walker struct {
	root     string
	excludes []string
}

// New returns a walker for the given root directory.
func New(root string, opts ...Option) *Walker {
	w := &Walker{root: root}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Validate checks that the root exists and is a directory.
func (w *Walker) Validate() error {
	info, err := os.Stat(w.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &types.NotFoundError{Path: w.root}
		}
		return err
	}
	if !info.IsDir() {
		return &types.NotADirectoryError{Path: w.root}
	}
	for _, pattern := range w.excludes {
		if !doublestar.ValidatePattern(pattern) {
			return &badPatternError{pattern}
		}
	}
	return nil
}

type badPatternError struct{ pattern string }

func (e *badPatternError) Error() string { return "invalid exclude pattern: " + e.pattern }

// Walk calls fn for every entry below the root. Returning an error from fn stops the
// walk and that error is returned. The context is checked between entries.
func (w *Walker) Walk(ctx context.Context, fn func(*Entry) error) error {
	if err := w.Validate(); err != nil {
		return err
	}
	// a root given as a symlink is resolved once, links below it are not
	root, err := filepath.EvalSymlinks(w.root)
	if err != nil {
		return err
	}
	return w.walkDir(ctx, root, "", fn)
}

func (w *Walker) walkDir(ctx context.Context, dir, relDir string, fn func(*Entry) error) error {
	children, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	sort.Slice(children, func(i, j int) bool { return sortKey(children[i]) < sortKey(children[j]) })

	for _, d := range children {
		if err := ctx.Err(); err != nil {
			return err
		}
		rel := path.Join(relDir, d.Name())
		full := filepath.Join(dir, d.Name())

		if w.excluded(rel) {
			log.Debugf("Skipping excluded path %q\n", rel)
			continue
		}

		if !d.IsDir() && !d.Type().IsRegular() {
			if d.Type()&fs.ModeSymlink != 0 {
				log.Warning("Skipping symbolic link", full)
			} else {
				log.Warning("Skipping irregular file", full)
			}
			continue
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		entry := &Entry{
			RelPath: rel,
			Path:    full,
			IsDir:   d.IsDir(),
			ModTime: info.ModTime(),
			Mode:    info.Mode(),
		}
		if !entry.IsDir {
			entry.Size = info.Size()
		}
		if err := fn(entry); err != nil {
			return err
		}
		if entry.IsDir {
			if err := w.walkDir(ctx, full, rel, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// sortKey orders siblings the way their archive names sort, directories carrying
// a trailing slash.
func sortKey(d fs.DirEntry) string {
	if d.IsDir() {
		return d.Name() + "/"
	}
	return d.Name()
}

// List walks the tree and returns every entry in walk order.
func (w *Walker) List(ctx context.Context) ([]*Entry, error) {
	entries := make([]*Entry, 0)
	err := w.Walk(ctx, func(e *Entry) error {
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (w *Walker) excluded(rel string) bool {
	for _, pattern := range w.excludes {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}
