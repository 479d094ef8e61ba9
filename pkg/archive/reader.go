package archive

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/tinyzimmer/fastzip/pkg/codec"
	"github.com/tinyzimmer/fastzip/pkg/log"
	"github.com/tinyzimmer/fastzip/pkg/types"
)

// Reader gives access to the entries of an archive on disk.
type Reader struct {
	path    string
	f       *os.File
	size    int64
	end     *directoryEnd
	entries []*types.Entry
}

// Open reads the central directory of the archive at path. The returned reader must
// be closed.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &types.NotFoundError{Path: path}
		}
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, &types.NotAFileError{Path: path}
	}
	r := &Reader{path: path, f: f, size: info.Size()}
	if err := r.init(); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// Entries returns the entries of the archive in central directory order.
func (r *Reader) Entries() []*types.Entry { return r.entries }

// Comment returns the archive comment.
func (r *Reader) Comment() string { return r.end.comment }

// Close closes the underlying file.
func (r *Reader) Close() error {
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

func (r *Reader) corrupt(format string, args ...interface{}) error {
	return &types.CorruptArchiveError{Path: r.path, Reason: fmt.Sprintf(format, args...)}
}

// directoryStart is the offset of the central directory, which is also where the
// data of the last entry must end.
func (r *Reader) directoryStart() int64 { return int64(r.end.directoryOffset) }

func (r *Reader) init() error {
	end, err := r.readDirectoryEnd()
	if err != nil {
		return err
	}
	r.end = end

	if end.diskNumber != 0 || end.directoryDisk != 0 || end.directoryRecords != end.totalRecords {
		return r.corrupt("archives spanning multiple disks are not supported")
	}
	if end.directoryOffset == maxUint32 || end.directorySize == maxUint32 {
		return r.corrupt("zip64 archives are not supported")
	}
	if int64(end.directoryOffset)+int64(end.directorySize) > end.offset {
		return r.corrupt("central directory (offset %d, size %d) lies outside the file", end.directoryOffset, end.directorySize)
	}

	buf := make([]byte, end.directorySize)
	if _, err := r.f.ReadAt(buf, int64(end.directoryOffset)); err != nil {
		return fmt.Errorf("reading central directory of %s: %w", r.path, err)
	}
	if r.entries, err = r.readDirectory(buf, int(end.totalRecords)); err != nil {
		return err
	}
	return r.checkOffsets()
}

func (r *Reader) readDirectoryEnd() (*directoryEnd, error) {
	if r.size < directoryEndLen {
		return nil, r.corrupt("file is too small to be an archive (%d bytes)", r.size)
	}
	search := int64(maxDirectoryEndSearch)
	if search > r.size {
		search = r.size
	}
	start := r.size - search
	buf := make([]byte, search)
	if _, err := r.f.ReadAt(buf, start); err != nil && err != io.EOF {
		return nil, fmt.Errorf("reading %s: %w", r.path, err)
	}

	// A comment may itself contain the signature. A record whose comment runs exactly
	// to the end of the file wins over one that merely fits.
	var fallback *directoryEnd
	for i := len(buf) - directoryEndLen; i >= 0; i-- {
		if binary.LittleEndian.Uint32(buf[i:]) != directoryEndSignature {
			continue
		}
		end := parseDirectoryEnd(buf[i:], start+int64(i))
		commentEnd := i + directoryEndLen + int(end.commentLen)
		if commentEnd > len(buf) {
			continue
		}
		end.comment = string(buf[i+directoryEndLen : commentEnd])
		if commentEnd == len(buf) {
			return end, nil
		}
		if fallback == nil {
			fallback = end
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, r.corrupt("end of central directory record not found")
}

func parseDirectoryEnd(buf []byte, offset int64) *directoryEnd {
	b := readBuf(buf[4:directoryEndLen])
	end := &directoryEnd{offset: offset}
	end.diskNumber = b.uint16()
	end.directoryDisk = b.uint16()
	end.directoryRecords = b.uint16()
	end.totalRecords = b.uint16()
	end.directorySize = b.uint32()
	end.directoryOffset = b.uint32()
	end.commentLen = b.uint16()
	return end
}

func (r *Reader) readDirectory(buf []byte, count int) ([]*types.Entry, error) {
	b := readBuf(buf)
	entries := make([]*types.Entry, 0, count)
	seen := make(map[string]struct{}, count)
	for i := 1; i <= count; i++ {
		if len(b) < directoryHeaderLen {
			return nil, r.corrupt("central directory ends at record %d of %d", i, count)
		}
		if sig := b.uint32(); sig != directoryHeaderSignature {
			return nil, r.corrupt("bad signature %#08x for central directory record %d", sig, i)
		}
		creator := b.uint16() >> 8
		b.uint16() // version needed
		flags := b.uint16()
		method := b.uint16()
		clock := b.uint16()
		date := b.uint16()
		crc := b.uint32()
		compressed := b.uint32()
		uncompressed := b.uint32()
		nameLen := int(b.uint16())
		extraLen := int(b.uint16())
		commentLen := int(b.uint16())
		b = b[4:] // disk number start, internal attributes
		attrs := b.uint32()
		offset := b.uint32()
		if nameLen+extraLen+commentLen > len(b) {
			return nil, r.corrupt("central directory record %d is truncated", i)
		}
		name := string(b.sub(nameLen))
		extra := b.sub(extraLen)
		comment := string(b.sub(commentLen))

		if _, ok := seen[name]; ok {
			return nil, r.corrupt("entry %q appears more than once", name)
		}
		seen[name] = struct{}{}

		e := &types.Entry{
			Name:             name,
			Comment:          comment,
			Method:           types.Method(method),
			Flags:            flags,
			Mode:             modeFromAttrs(creator, attrs, name),
			CRC32:            crc,
			CompressedSize:   int64(compressed),
			UncompressedSize: int64(uncompressed),
			Offset:           int64(offset),
		}
		if mtime, ok := parseExtTime(extra); ok {
			e.Modified = mtime
		} else {
			e.Modified = msDosTimeToTime(date, clock)
		}
		entries = append(entries, e)
	}
	if len(b) != 0 {
		return nil, r.corrupt("central directory holds more than the %d records declared", count)
	}
	return entries, nil
}

// checkOffsets verifies that every local record lies before the central directory and
// that no two records share bytes.
func (r *Reader) checkOffsets() error {
	sorted := make([]*types.Entry, len(r.entries))
	copy(sorted, r.entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })

	for i, e := range sorted {
		end := recordEnd(e)
		if end > r.directoryStart() {
			return r.corrupt("local record for %q at offset %d runs past the central directory", e.Name, e.Offset)
		}
		if i+1 < len(sorted) && end > sorted[i+1].Offset {
			return r.corrupt("local records for %q and %q overlap", e.Name, sorted[i+1].Name)
		}
	}
	return nil
}

// recordEnd is the smallest possible end offset of an entry's local record.
func recordEnd(e *types.Entry) int64 {
	end := e.Offset + fileHeaderLen + int64(len(e.Name)) + e.CompressedSize
	if e.HasDataDescriptor() {
		// the descriptor signature is optional
		end += dataDescriptorLen - 4
	}
	return end
}

func (r *Reader) dataOffset(e *types.Entry) (int64, error) {
	var buf [fileHeaderLen]byte
	if _, err := r.f.ReadAt(buf[:], e.Offset); err != nil {
		if err == io.EOF {
			return 0, r.corrupt("local header for %q is truncated", e.Name)
		}
		return 0, fmt.Errorf("reading %s: %w", r.path, err)
	}
	b := readBuf(buf[:])
	if sig := b.uint32(); sig != fileHeaderSignature {
		return 0, r.corrupt("bad local header signature %#08x for %q", sig, e.Name)
	}
	b = b[22:]
	nameLen := int64(b.uint16())
	extraLen := int64(b.uint16())
	offset := e.Offset + fileHeaderLen + nameLen + extraLen
	if offset+e.CompressedSize > r.directoryStart() {
		return 0, r.corrupt("data for %q runs past the central directory", e.Name)
	}
	return offset, nil
}

// Open returns a reader over the decompressed contents of an entry. The size and
// CRC-32 are verified as the data is read, a mismatch surfaces as a CorruptDataError
// from Read in place of io.EOF.
func (r *Reader) Open(e *types.Entry) (io.ReadCloser, error) {
	if r.f == nil {
		return nil, &types.ClosedArchiveError{Path: r.path}
	}
	offset, err := r.dataOffset(e)
	if err != nil {
		return nil, err
	}
	dec, err := codec.NewReader(e.Name, e.Method, io.NewSectionReader(r.f, offset, e.CompressedSize))
	if err != nil {
		return nil, err
	}
	return &entryReader{
		Verifier: codec.NewVerifier(e.Name, dec, e.UncompressedSize, e.CRC32),
		dec:      dec,
	}, nil
}

type entryReader struct {
	*codec.Verifier
	dec io.ReadCloser
}

func (e *entryReader) Close() error { return e.dec.Close() }

// ExtractAll writes every entry below dest, creating it if needed. All names are
// checked before anything is written, and a name that passes through a symbolic link
// already present below dest is refused. The destination is assumed not to change
// while extraction runs. Files are decompressed into a temporary file next to their
// target and renamed into place once verified, so a target is either left as it was
// or fully replaced. Extraction stops at the first error; entries
// extracted before it are kept.
func (r *Reader) ExtractAll(ctx context.Context, dest string) error {
	targets := make([]string, len(r.entries))
	for i, e := range r.entries {
		target, err := SafeJoin(dest, e.Name)
		if err != nil {
			return err
		}
		if err := checkLinks(dest, target, e.Name); err != nil {
			return err
		}
		targets[i] = target
	}

	if err := os.MkdirAll(dest, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}

	dirs := make([]int, 0)
	for i, e := range r.entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.IsDir() {
			if err := os.MkdirAll(targets[i], 0755); err != nil {
				return fmt.Errorf("creating %s: %w", targets[i], err)
			}
			dirs = append(dirs, i)
			continue
		}
		log.Debugf("Extracting %s to %s\n", e.Name, targets[i])
		if err := r.extractFile(e, targets[i]); err != nil {
			return err
		}
	}

	// deepest directories first, after their contents are in place
	for j := len(dirs) - 1; j >= 0; j-- {
		e, target := r.entries[dirs[j]], targets[dirs[j]]
		// the owner keeps full access so the tree can be extracted over again
		if err := os.Chmod(target, e.Mode.Perm()|0700); err != nil {
			return fmt.Errorf("setting mode of %s: %w", target, err)
		}
		if err := setModTime(target, e); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reader) extractFile(e *types.Entry, target string) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	rc, err := r.Open(e)
	if err != nil {
		return err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(dir, ".fastzip-extract-")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	err = copyEntry(tmp, rc, tmpName)
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("closing %s: %w", tmpName, closeErr)
	}
	if err == nil {
		err = os.Chmod(tmpName, filePerm(e))
	}
	if err == nil {
		err = os.Rename(tmpName, target)
	}
	if err != nil {
		log.Debugf("Removing %s after failed extraction of %s\n", tmpName, e.Name)
		os.Remove(tmpName)
		return err
	}
	return setModTime(target, e)
}

// copyEntry keeps verification errors from the entry as they are and attributes any
// other failure to the file being written.
func copyEntry(dst io.Writer, src io.Reader, dstName string) error {
	buf := make([]byte, 256*1024)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return fmt.Errorf("writing %s: %w", dstName, werr)
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

func filePerm(e *types.Entry) fs.FileMode {
	if perm := e.Mode.Perm(); perm != 0 {
		return perm
	}
	return 0644
}

func setModTime(target string, e *types.Entry) error {
	if e.Modified.IsZero() {
		return nil
	}
	if err := os.Chtimes(target, e.Modified, e.Modified); err != nil {
		return fmt.Errorf("setting modification time of %s: %w", target, err)
	}
	return nil
}
