package archive

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/tinyzimmer/fastzip/pkg/types"
)

// SafeJoin resolves an entry name against an extraction root. Names that are absolute,
// carry a drive letter, contain NUL bytes, or whose cleaned form would leave root are
// rejected with an UnsafePathError. Backslashes are treated as separators.
func SafeJoin(root, name string) (string, error) {
	unsafe := &types.UnsafePathError{Name: name, Root: root}
	cleaned, ok := cleanEntryName(name)
	if !ok {
		return "", unsafe
	}
	if cleaned == "." {
		return filepath.Clean(root), nil
	}
	target := filepath.Join(root, filepath.FromSlash(cleaned))
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", unsafe
	}
	return target, nil
}

// cleanEntryName returns the slash separated, cleaned form of an entry name and whether
// it stays below the root it is resolved against.
func cleanEntryName(name string) (string, bool) {
	if name == "" || strings.ContainsRune(name, 0) {
		return "", false
	}
	n := strings.ReplaceAll(name, `\`, "/")
	if strings.HasPrefix(n, "/") || hasDriveLetter(n) {
		return "", false
	}
	cleaned := path.Clean(n)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", false
	}
	return cleaned, true
}

func hasDriveLetter(name string) bool {
	if len(name) < 2 || name[1] != ':' {
		return false
	}
	c := name[0] | 0x20
	return c >= 'a' && c <= 'z'
}

// checkLinks fails with an UnsafePathError when any existing component of target below
// root is a symbolic link.
func checkLinks(root, target, name string) error {
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == "." {
		return err
	}
	cur := root
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		cur = filepath.Join(cur, part)
		info, err := os.Lstat(cur)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			return &types.UnsafePathError{Name: name, Root: root}
		}
	}
	return nil
}
