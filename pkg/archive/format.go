package archive

import (
	"encoding/binary"
	"io"
	"io/fs"
	"time"
	"unicode/utf8"

	"github.com/tinyzimmer/fastzip/pkg/types"
)

// Record signatures and fixed lengths of the on-disk structures. All multi-byte
// fields are little-endian.
const (
	fileHeaderSignature      = 0x04034b50
	directoryHeaderSignature = 0x02014b50
	directoryEndSignature    = 0x06054b50
	dataDescriptorSignature  = 0x08074b50

	fileHeaderLen      = 30
	directoryHeaderLen = 46
	directoryEndLen    = 22
	dataDescriptorLen  = 16

	// version 2.0 covers deflate and directory entries
	zipVersion20 = 20
	creatorFAT   = 0
	creatorUnix  = 3

	extTimeExtraID  = 0x5455
	extTimeModified = 0x1

	msdosDir      = 0x10
	msdosReadOnly = 0x01

	unixTypeMask = 0xf000
	unixDir      = 0x4000
	unixRegular  = 0x8000

	maxUint16 = 1<<16 - 1
	maxUint32 = 1<<32 - 1

	// the EOCD may be followed by a comment of at most maxUint16 bytes
	maxDirectoryEndSearch = directoryEndLen + maxUint16
)

// directoryEnd is the end of central directory record.
type directoryEnd struct {
	diskNumber       uint16
	directoryDisk    uint16
	directoryRecords uint16
	totalRecords     uint16
	directorySize    uint32
	directoryOffset  uint32
	commentLen       uint16
	comment          string
	offset           int64 // where the record itself starts
}

// writeBuf is a cursor for encoding fixed-width little-endian fields into a byte slice.
type writeBuf []byte

func (b *writeBuf) uint8(v uint8) {
	(*b)[0] = v
	*b = (*b)[1:]
}

func (b *writeBuf) uint16(v uint16) {
	binary.LittleEndian.PutUint16(*b, v)
	*b = (*b)[2:]
}

func (b *writeBuf) uint32(v uint32) {
	binary.LittleEndian.PutUint32(*b, v)
	*b = (*b)[4:]
}

// readBuf is the decoding counterpart of writeBuf.
type readBuf []byte

func (b *readBuf) uint8() uint8 {
	v := (*b)[0]
	*b = (*b)[1:]
	return v
}

func (b *readBuf) uint16() uint16 {
	v := binary.LittleEndian.Uint16(*b)
	*b = (*b)[2:]
	return v
}

func (b *readBuf) uint32() uint32 {
	v := binary.LittleEndian.Uint32(*b)
	*b = (*b)[4:]
	return v
}

func (b *readBuf) sub(n int) readBuf {
	v := (*b)[:n]
	*b = (*b)[n:]
	return v
}

func entryFlags(e *types.Entry) uint16 {
	flags := e.Flags
	if !isASCII(e.Name) || !isASCII(e.Comment) {
		if utf8.ValidString(e.Name) && utf8.ValidString(e.Comment) {
			flags |= types.FlagUTF8
		}
	}
	return flags
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// extTimeExtra encodes the extended timestamp field carrying the modification time.
func extTimeExtra(modified time.Time) []byte {
	if modified.IsZero() {
		return nil
	}
	var buf [9]byte
	b := writeBuf(buf[:])
	b.uint16(extTimeExtraID)
	b.uint16(5)
	b.uint8(extTimeModified)
	b.uint32(uint32(modified.Unix()))
	return buf[:]
}

// parseExtTime returns the modification time from an extra field block if one is present.
func parseExtTime(extra readBuf) (time.Time, bool) {
	for len(extra) >= 4 {
		id := extra.uint16()
		size := int(extra.uint16())
		if size > len(extra) {
			break
		}
		field := extra.sub(size)
		if id != extTimeExtraID || size < 5 {
			continue
		}
		if flags := field.uint8(); flags&extTimeModified == 0 {
			continue
		}
		return time.Unix(int64(int32(field.uint32())), 0).UTC(), true
	}
	return time.Time{}, false
}

func writeLocalHeader(w io.Writer, e *types.Entry) error {
	extra := extTimeExtra(e.Modified)
	date, clock := timeToMsDos(e.Modified)
	var buf [fileHeaderLen]byte
	b := writeBuf(buf[:])
	b.uint32(fileHeaderSignature)
	b.uint16(zipVersion20)
	b.uint16(entryFlags(e))
	b.uint16(uint16(e.Method))
	b.uint16(clock)
	b.uint16(date)
	if e.HasDataDescriptor() {
		// crc and sizes follow the data
		b.uint32(0)
		b.uint32(0)
		b.uint32(0)
	} else {
		b.uint32(e.CRC32)
		b.uint32(uint32(e.CompressedSize))
		b.uint32(uint32(e.UncompressedSize))
	}
	b.uint16(uint16(len(e.Name)))
	b.uint16(uint16(len(extra)))
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(w, e.Name); err != nil {
		return err
	}
	_, err := w.Write(extra)
	return err
}

func writeDataDescriptor(w io.Writer, e *types.Entry) error {
	var buf [dataDescriptorLen]byte
	b := writeBuf(buf[:])
	b.uint32(dataDescriptorSignature)
	b.uint32(e.CRC32)
	b.uint32(uint32(e.CompressedSize))
	b.uint32(uint32(e.UncompressedSize))
	_, err := w.Write(buf[:])
	return err
}

func writeDirectoryHeader(w io.Writer, e *types.Entry) error {
	extra := extTimeExtra(e.Modified)
	date, clock := timeToMsDos(e.Modified)
	var buf [directoryHeaderLen]byte
	b := writeBuf(buf[:])
	b.uint32(directoryHeaderSignature)
	b.uint16(creatorUnix<<8 | zipVersion20)
	b.uint16(zipVersion20)
	b.uint16(entryFlags(e))
	b.uint16(uint16(e.Method))
	b.uint16(clock)
	b.uint16(date)
	b.uint32(e.CRC32)
	b.uint32(uint32(e.CompressedSize))
	b.uint32(uint32(e.UncompressedSize))
	b.uint16(uint16(len(e.Name)))
	b.uint16(uint16(len(extra)))
	b.uint16(uint16(len(e.Comment)))
	b.uint16(0) // disk number start
	b.uint16(0) // internal attributes
	b.uint32(externalAttrs(e))
	b.uint32(uint32(e.Offset))
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(w, e.Name); err != nil {
		return err
	}
	if _, err := w.Write(extra); err != nil {
		return err
	}
	_, err := io.WriteString(w, e.Comment)
	return err
}

func writeDirectoryEnd(w io.Writer, records int, size, offset int64, comment string) error {
	var buf [directoryEndLen]byte
	b := writeBuf(buf[:])
	b.uint32(directoryEndSignature)
	b.uint16(0)
	b.uint16(0)
	b.uint16(uint16(records))
	b.uint16(uint16(records))
	b.uint32(uint32(size))
	b.uint32(uint32(offset))
	b.uint16(uint16(len(comment)))
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	_, err := io.WriteString(w, comment)
	return err
}

func externalAttrs(e *types.Entry) uint32 {
	mode := e.Mode
	if e.IsDir() {
		mode |= fs.ModeDir
	}
	attrs := fileModeToUnix(mode) << 16
	if mode.IsDir() {
		attrs |= msdosDir
	}
	if mode&0200 == 0 {
		attrs |= msdosReadOnly
	}
	return attrs
}

func fileModeToUnix(mode fs.FileMode) uint32 {
	m := uint32(mode.Perm())
	if mode.IsDir() {
		return m | unixDir
	}
	return m | unixRegular
}

func modeFromAttrs(creator uint16, attrs uint32, name string) fs.FileMode {
	var mode fs.FileMode
	if creator == creatorUnix && attrs>>16 != 0 {
		unix := attrs >> 16
		mode = fs.FileMode(unix & 0777)
		if unix&unixTypeMask == unixDir {
			mode |= fs.ModeDir
		}
	} else {
		mode = 0644
		if attrs&msdosReadOnly != 0 {
			mode = 0444
		}
		if attrs&msdosDir != 0 {
			mode = fs.ModeDir | 0755
		}
	}
	if len(name) > 0 && name[len(name)-1] == '/' {
		mode |= fs.ModeDir
	}
	return mode
}

// timeToMsDos converts a time to an MS-DOS date and time. Times are recorded in UTC so
// the same tree archives to the same bytes in every timezone. Dates outside 1980 to
// 2107 are clamped to the nearest representable value.
func timeToMsDos(t time.Time) (date uint16, clock uint16) {
	t = t.UTC()
	switch {
	case t.Year() < 1980:
		t = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)
	case t.Year() > 2107:
		t = time.Date(2107, 12, 31, 23, 59, 58, 0, time.UTC)
	}
	date = uint16(t.Day() + int(t.Month())<<5 + (t.Year()-1980)<<9)
	clock = uint16(t.Second()/2 + t.Minute()<<5 + t.Hour()<<11)
	return
}

func msDosTimeToTime(date, clock uint16) time.Time {
	return time.Date(
		int(date>>9+1980),
		time.Month(date>>5&0xf),
		int(date&0x1f),
		int(clock>>11),
		int(clock>>5&0x3f),
		int(clock&0x1f*2),
		0,
		time.UTC,
	)
}
