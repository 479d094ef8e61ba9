package util

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tinyzimmer/fastzip/pkg/log"
)

// TempDir cast as a var to be overridden by CLI flags. When left empty, scratch space
// is allocated next to the file being produced so it can be renamed into place.
var TempDir = ""

// ScopedDir is a working directory that is removed, along with everything inside
// it, when Close is called. Close is safe to call more than once.
type ScopedDir struct {
	Path   string
	closed bool
}

// NewScopedDir creates a working directory for producing a file that will eventually
// live in targetDir. The user-configured TempDir wins when set.
func NewScopedDir(targetDir string) (*ScopedDir, error) {
	parent := TempDir
	if parent == "" {
		parent = targetDir
	}
	dir, err := os.MkdirTemp(parent, ".fastzip-")
	if err != nil {
		return nil, err
	}
	log.Debugf("Using working directory %q\n", dir)
	return &ScopedDir{Path: dir}, nil
}

// Join returns the given name inside the working directory.
func (s *ScopedDir) Join(name string) string { return filepath.Join(s.Path, name) }

// Close removes the working directory.
func (s *ScopedDir) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	log.Debugf("Removing working directory %q\n", s.Path)
	return os.RemoveAll(s.Path)
}

// MoveFile renames src to dst. If the rename fails, which happens when the two live on
// different devices, the contents are copied to a sibling of dst which is then renamed
// over it, so dst is never observed half written.
func MoveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	log.Debugf("Rename of %q failed, copying to %q instead\n", src, dst)
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.CreateTemp(filepath.Dir(dst), ".fastzip-move-")
	if err != nil {
		return err
	}
	tmpName := out.Name()
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmpName)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmpName)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Remove(src)
}

// CalculateSHA256Sum calculates the sha256sum of the contents of the given reader.
func CalculateSHA256Sum(rdr io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, rdr); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// CalculateFileSHA256Sum calculates the sha256sum of the file at the given path.
func CalculateFileSHA256Sum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return CalculateSHA256Sum(f)
}
