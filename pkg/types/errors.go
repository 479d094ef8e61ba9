package types

import (
	"errors"
	"fmt"
)

// Sentinel errors that each of the typed errors below match with errors.Is. Callers
// that need the context (paths, expected and actual values) should use errors.As.
var (
	ErrNotFound          = errors.New("no such file or directory")
	ErrNotADirectory     = errors.New("not a directory")
	ErrNotAFile          = errors.New("not a regular file")
	ErrInvalidLevel      = errors.New("invalid compression level")
	ErrCorruptArchive    = errors.New("corrupt archive")
	ErrCorruptData       = errors.New("corrupt entry data")
	ErrUnsafePath        = errors.New("unsafe entry path")
	ErrClosedArchive     = errors.New("archive is closed")
	ErrDuplicateEntry    = errors.New("duplicate entry")
	ErrUnsupportedMethod = errors.New("unsupported compression method")
)

// NotFoundError is returned when an input path does not exist.
type NotFoundError struct{ Path string }

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s: %s", ErrNotFound, e.Path) }
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NotADirectoryError is returned when a directory was expected but something else was found.
type NotADirectoryError struct{ Path string }

func (e *NotADirectoryError) Error() string { return fmt.Sprintf("%s: %s", ErrNotADirectory, e.Path) }
func (e *NotADirectoryError) Is(target error) bool { return target == ErrNotADirectory }

// NotAFileError is returned when a regular file was expected but something else was found.
type NotAFileError struct{ Path string }

func (e *NotAFileError) Error() string { return fmt.Sprintf("%s: %s", ErrNotAFile, e.Path) }
func (e *NotAFileError) Is(target error) bool { return target == ErrNotAFile }

// InvalidLevelError is returned for compression levels outside [1, 9].
type InvalidLevelError struct{ Level int }

func (e *InvalidLevelError) Error() string {
	return fmt.Sprintf("%s %d: must be between %d (BestSpeed) and %d (BestCompression)",
		ErrInvalidLevel, e.Level, BestSpeed, BestCompression)
}
func (e *InvalidLevelError) Is(target error) bool { return target == ErrInvalidLevel }

// CorruptArchiveError is returned when the structure of an archive is invalid.
type CorruptArchiveError struct {
	Path   string
	Reason string
}

func (e *CorruptArchiveError) Error() string {
	return fmt.Sprintf("%s %s: %s", ErrCorruptArchive, e.Path, e.Reason)
}
func (e *CorruptArchiveError) Is(target error) bool { return target == ErrCorruptArchive }

// CorruptDataError is returned when the contents of a single entry fail verification.
type CorruptDataError struct {
	// Name of the entry
	Name string
	// The property that did not verify, e.g. "crc32" or "size"
	Field string
	// Expected and Actual values for Field, zero when the stream itself is unreadable
	Expected, Actual uint64
	// The underlying decoder error if any
	Err error
}

func (e *CorruptDataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s in %q: %v", ErrCorruptData, e.Name, e.Err)
	}
	if e.Field == "crc32" {
		return fmt.Sprintf("%s in %q: crc32 mismatch, expected %08x got %08x", ErrCorruptData, e.Name, e.Expected, e.Actual)
	}
	return fmt.Sprintf("%s in %q: %s mismatch, expected %d got %d", ErrCorruptData, e.Name, e.Field, e.Expected, e.Actual)
}
func (e *CorruptDataError) Is(target error) bool { return target == ErrCorruptData }
func (e *CorruptDataError) Unwrap() error { return e.Err }

// UnsafePathError is returned when an entry name would resolve outside the extraction root.
type UnsafePathError struct {
	Name string
	Root string
}

func (e *UnsafePathError) Error() string {
	if e.Root == "" {
		return fmt.Sprintf("%s: %q", ErrUnsafePath, e.Name)
	}
	return fmt.Sprintf("%s: %q escapes %s", ErrUnsafePath, e.Name, e.Root)
}
func (e *UnsafePathError) Is(target error) bool { return target == ErrUnsafePath }

// ClosedArchiveError is returned for operations on a writer that was already finalized
// or aborted.
type ClosedArchiveError struct{ Path string }

func (e *ClosedArchiveError) Error() string { return fmt.Sprintf("%s: %s", ErrClosedArchive, e.Path) }
func (e *ClosedArchiveError) Is(target error) bool { return target == ErrClosedArchive }

// DuplicateEntryError is returned when the same name is added twice to one writer.
type DuplicateEntryError struct{ Name string }

func (e *DuplicateEntryError) Error() string { return fmt.Sprintf("%s: %q", ErrDuplicateEntry, e.Name) }
func (e *DuplicateEntryError) Is(target error) bool { return target == ErrDuplicateEntry }

// UnsupportedMethodError is returned when an entry uses a compression method other
// than store or deflate.
type UnsupportedMethodError struct {
	Name   string
	Method Method
}

func (e *UnsupportedMethodError) Error() string {
	return fmt.Sprintf("%s %d for %q", ErrUnsupportedMethod, uint16(e.Method), e.Name)
}

// Is matches both ErrUnsupportedMethod and ErrCorruptArchive, since the engine cannot
// make sense of the archive either way.
func (e *UnsupportedMethodError) Is(target error) bool {
	return target == ErrUnsupportedMethod || target == ErrCorruptArchive
}
