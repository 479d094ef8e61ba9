package archive

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/tinyzimmer/fastzip/pkg/codec"
	"github.com/tinyzimmer/fastzip/pkg/log"
	"github.com/tinyzimmer/fastzip/pkg/types"
	"github.com/tinyzimmer/fastzip/pkg/util"
)

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithWorkers sets the number of files compressed concurrently by AddDirectoryTree.
// Values below one fall back to the number of CPUs.
func WithWorkers(n int) WriterOption {
	return func(w *Writer) {
		if n > 0 {
			w.workers = n
		}
	}
}

// WithStreamThreshold sets the size above which files are streamed through the
// compressor instead of being compressed in memory.
func WithStreamThreshold(n int64) WriterOption {
	return func(w *Writer) {
		if n > 0 {
			w.streamThreshold = n
		}
	}
}

// WithExcludes sets doublestar patterns that AddDirectoryTree leaves out.
func WithExcludes(patterns ...string) WriterOption {
	return func(w *Writer) { w.excludes = append(w.excludes, patterns...) }
}

// Writer stages entries into a scratch copy of an archive and moves it over the
// destination when finalized. The destination is not touched until then.
type Writer struct {
	path            string
	workers         int
	streamThreshold int64
	excludes        []string

	work *util.ScopedDir
	f    *os.File
	bw   *bufio.Writer
	cw   *countWriter

	entries []*types.Entry
	// index into entries by entryKey, removed records are set to nil
	names map[string]int
	// keys carried over from the archive being appended to
	carried map[string]bool
	comment string

	closed bool
	// set when a write fails part way, the scratch file can no longer be finalized
	broken error
}

// CreateOrOpen returns a Writer for the archive at path. If an archive already exists
// there its entries are carried over and new entries are appended after them.
func CreateOrOpen(path string, opts ...WriterOption) (w *Writer, err error) {
	w = &Writer{
		path:            path,
		workers:         runtime.NumCPU(),
		streamThreshold: types.DefaultStreamThreshold,
		names:           make(map[string]int),
		carried:         make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}

	var existing *Reader
	info, statErr := os.Stat(path)
	switch {
	case statErr == nil && !info.Mode().IsRegular():
		return nil, &types.NotAFileError{Path: path}
	case statErr == nil:
		if existing, err = Open(path); err != nil {
			return nil, err
		}
		defer existing.Close()
	case !errors.Is(statErr, fs.ErrNotExist):
		return nil, statErr
	}

	if w.work, err = util.NewScopedDir(filepath.Dir(path)); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			w.Abort()
		}
	}()

	if w.f, err = os.Create(w.work.Join(filepath.Base(path))); err != nil {
		return nil, err
	}
	w.bw = bufio.NewWriterSize(w.f, 1<<20)
	w.cw = &countWriter{w: w.bw}

	if existing == nil {
		return w, nil
	}

	log.Debugf("Appending to existing archive %s with %d entries\n", path, len(existing.Entries()))
	if err = w.f.Chmod(info.Mode().Perm()); err != nil {
		return nil, err
	}
	prefix := io.NewSectionReader(existing.f, 0, existing.directoryStart())
	if _, err = io.Copy(w.cw, prefix); err != nil {
		return nil, fmt.Errorf("copying entries of %s: %w", path, err)
	}
	for _, e := range existing.Entries() {
		cp := *e
		w.carried[entryKey(cp.Name)] = true
		w.record(&cp)
	}
	w.comment = existing.Comment()
	return w, nil
}

// Entries returns the records staged so far, carried over entries first.
func (w *Writer) Entries() []*types.Entry {
	out := make([]*types.Entry, 0, len(w.entries))
	for _, e := range w.entries {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

// SetComment sets the archive comment written after the end of central directory record.
func (w *Writer) SetComment(comment string) error {
	if err := w.check(); err != nil {
		return err
	}
	if len(comment) > maxUint16 {
		return fmt.Errorf("archive comment is %d bytes, the limit is %d", len(comment), maxUint16)
	}
	w.comment = comment
	return nil
}

func (w *Writer) check() error {
	if w.closed {
		return &types.ClosedArchiveError{Path: w.path}
	}
	return w.broken
}

func (w *Writer) fail(err error) error {
	if w.broken == nil {
		w.broken = err
	}
	return err
}

// normalizeName converts an entry name to slash separated form with no leading slash
// or dot segments. Names that would escape the extraction root are rejected.
func normalizeName(name string, dir bool) (string, error) {
	cleaned, ok := cleanEntryName(strings.TrimLeft(name, `/\`))
	if !ok || cleaned == "." {
		return "", &types.UnsafePathError{Name: name}
	}
	if dir {
		cleaned += "/"
	}
	if len(cleaned) > maxUint16 {
		return "", fmt.Errorf("entry name %q is longer than %d bytes", cleaned, maxUint16)
	}
	return cleaned, nil
}

// entryKey is the name an entry occupies on disk once extracted. A file and a directory
// with the same key cannot both be extracted.
func entryKey(name string) string { return strings.TrimSuffix(name, "/") }

// reserve claims a name for a new record. It returns false when the record should be
// skipped because the same directory is already staged. A new record may replace a
// carried one with the same key; when a file replaces a carried directory, the carried
// contents of that directory are dropped with it. Any other clash, including a record
// below a path that is already a file, is a DuplicateEntryError.
func (w *Writer) reserve(e *types.Entry) (bool, error) {
	key := entryKey(e.Name)

	for parent := path.Dir(key); parent != "."; parent = path.Dir(parent) {
		if idx, ok := w.names[parent]; ok && !w.entries[idx].IsDir() {
			return false, &types.DuplicateEntryError{Name: e.Name}
		}
	}

	idx, exists := w.names[key]
	if exists && e.IsDir() && w.entries[idx].IsDir() {
		return false, nil
	}

	replace := make([]string, 0)
	if exists {
		if !w.carried[key] {
			return false, &types.DuplicateEntryError{Name: e.Name}
		}
		replace = append(replace, key)
	}
	if !e.IsDir() {
		for name := range w.names {
			if !strings.HasPrefix(name, key+"/") {
				continue
			}
			if !w.carried[name] {
				return false, &types.DuplicateEntryError{Name: e.Name}
			}
			replace = append(replace, name)
		}
	}

	for _, name := range replace {
		log.Debugf("Replacing existing entry %s\n", w.entries[w.names[name]].Name)
		w.entries[w.names[name]] = nil
		delete(w.names, name)
		delete(w.carried, name)
	}
	return true, nil
}

func (w *Writer) record(e *types.Entry) {
	w.names[entryKey(e.Name)] = len(w.entries)
	w.entries = append(w.entries, e)
}

// stamp gives an entry without a modification time the current time, once, so the
// local and central headers agree.
func stamp(e *types.Entry) {
	if e.Modified.IsZero() {
		e.Modified = time.Now()
	}
}

// AddFile adds the regular file at sourcePath under the given entry name.
func (w *Writer) AddFile(ctx context.Context, sourcePath, name string, level types.Level) error {
	if err := w.check(); err != nil {
		return err
	}
	if err := codec.ValidateLevel(level); err != nil {
		return err
	}
	info, err := os.Stat(sourcePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &types.NotFoundError{Path: sourcePath}
		}
		return err
	}
	if !info.Mode().IsRegular() {
		return &types.NotAFileError{Path: sourcePath}
	}
	if name, err = normalizeName(name, false); err != nil {
		return err
	}
	return w.addFile(ctx, sourcePath, name, info.Size(), info.ModTime(), info.Mode(), level)
}

func (w *Writer) addFile(ctx context.Context, sourcePath, name string, size int64, modified time.Time, mode fs.FileMode, level types.Level) error {
	e := &types.Entry{Name: name, Modified: modified, Mode: mode.Perm()}
	if size > w.streamThreshold {
		f, err := os.Open(sourcePath)
		if err != nil {
			return err
		}
		defer f.Close()
		return w.writeStreamed(ctx, e, f, level)
	}
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	method, payload, err := codec.Encode(data, level)
	if err != nil {
		return err
	}
	e.Method = method
	e.CRC32 = codec.Checksum(data)
	e.UncompressedSize = int64(len(data))
	return w.writePrepared(e, payload)
}

// AddReader streams the contents of r into a new entry. The sizes and checksum are
// written in a data descriptor after the data.
func (w *Writer) AddReader(ctx context.Context, name string, r io.Reader, modified time.Time, mode fs.FileMode, level types.Level) error {
	if err := w.check(); err != nil {
		return err
	}
	if err := codec.ValidateLevel(level); err != nil {
		return err
	}
	name, err := normalizeName(name, false)
	if err != nil {
		return err
	}
	return w.writeStreamed(ctx, &types.Entry{Name: name, Modified: modified, Mode: mode.Perm()}, r, level)
}

// AddDirectory adds an empty directory record. Adding a directory that is already
// present is a no-op.
func (w *Writer) AddDirectory(name string, modified time.Time, mode fs.FileMode) error {
	if err := w.check(); err != nil {
		return err
	}
	name, err := normalizeName(name, true)
	if err != nil {
		return err
	}
	e := &types.Entry{
		Name:     name,
		Method:   types.MethodStore,
		Modified: modified,
		Mode:     fs.ModeDir | mode.Perm(),
	}
	return w.writePrepared(e, nil)
}

// writePrepared writes a record whose payload, checksum and uncompressed size are known.
func (w *Writer) writePrepared(e *types.Entry, payload []byte) error {
	e.CompressedSize = int64(len(payload))
	if e.CompressedSize > maxUint32 || e.UncompressedSize > maxUint32 {
		return fmt.Errorf("entry %s is too large, zip64 archives are not supported", e.Name)
	}
	ok, err := w.reserve(e)
	if err != nil || !ok {
		return err
	}
	stamp(e)
	if e.Offset = w.cw.count; e.Offset > maxUint32 {
		return w.fail(fmt.Errorf("archive %s is too large, zip64 archives are not supported", w.path))
	}
	if err := writeLocalHeader(w.cw, e); err != nil {
		return w.fail(err)
	}
	if _, err := w.cw.Write(payload); err != nil {
		return w.fail(err)
	}
	w.record(e)
	return nil
}

// writeStreamed compresses r straight into the archive with a trailing data descriptor.
func (w *Writer) writeStreamed(ctx context.Context, e *types.Entry, r io.Reader, level types.Level) error {
	e.Method = types.MethodDeflate
	e.Flags |= types.FlagDataDescriptor
	ok, err := w.reserve(e)
	if err != nil || !ok {
		return err
	}
	stamp(e)
	if e.Offset = w.cw.count; e.Offset > maxUint32 {
		return w.fail(fmt.Errorf("archive %s is too large, zip64 archives are not supported", w.path))
	}
	if err := writeLocalHeader(w.cw, e); err != nil {
		return w.fail(err)
	}

	start := w.cw.count
	hash := crc32.NewIEEE()
	zw, err := codec.NewWriter(w.cw, level)
	if err != nil {
		return w.fail(err)
	}
	n, err := io.Copy(zw, io.TeeReader(&ctxReader{ctx: ctx, r: r}, hash))
	if closeErr := zw.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return w.fail(err)
	}

	e.CRC32 = hash.Sum32()
	e.UncompressedSize = n
	e.CompressedSize = w.cw.count - start
	if e.CompressedSize > maxUint32 || e.UncompressedSize > maxUint32 {
		return w.fail(fmt.Errorf("entry %s is too large, zip64 archives are not supported", e.Name))
	}
	if err := writeDataDescriptor(w.cw, e); err != nil {
		return w.fail(err)
	}
	w.record(e)
	return nil
}

// Finalize writes the central directory and moves the archive into place. The writer
// cannot be used afterwards.
func (w *Writer) Finalize() (err error) {
	if err := w.check(); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			w.Abort()
		}
	}()

	entries := w.Entries()
	if len(entries) > maxUint16 {
		return fmt.Errorf("archive %s holds %d entries, zip64 archives are not supported", w.path, len(entries))
	}
	start := w.cw.count
	if start > maxUint32 {
		return fmt.Errorf("archive %s is too large, zip64 archives are not supported", w.path)
	}
	for _, e := range entries {
		if err := writeDirectoryHeader(w.cw, e); err != nil {
			return err
		}
	}
	if err := writeDirectoryEnd(w.cw, len(entries), w.cw.count-start, start, w.comment); err != nil {
		return err
	}
	if err := w.bw.Flush(); err != nil {
		return err
	}
	if err := w.f.Sync(); err != nil {
		return err
	}
	scratch := w.f.Name()
	if err := w.f.Close(); err != nil {
		return err
	}
	w.f = nil
	if err := util.MoveFile(scratch, w.path); err != nil {
		return fmt.Errorf("moving archive into place at %s: %w", w.path, err)
	}
	log.Debugf("Wrote %d entries to %s\n", len(entries), w.path)
	w.closed = true
	return w.work.Close()
}

// Abort discards everything staged so far and leaves the destination untouched. It is
// safe to call more than once and after Finalize.
func (w *Writer) Abort() error {
	w.closed = true
	if w.f != nil {
		w.f.Close()
		w.f = nil
	}
	if w.work != nil {
		return w.work.Close()
	}
	return nil
}

// countWriter tracks the offset of the next byte written to the archive.
type countWriter struct {
	w     io.Writer
	count int64
}

func (c *countWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.count += int64(n)
	return n, err
}

// ctxReader stops a streamed copy once its context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// joinName prefixes a walker relative path for use as an entry name.
func joinName(prefix, rel string) string {
	if prefix == "" {
		return rel
	}
	return path.Join(prefix, rel)
}
