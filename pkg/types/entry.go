package types

import (
	"io/fs"
	"strings"
	"time"
)

// Method is the compression method recorded for an entry in the archive.
type Method uint16

const (
	// MethodStore marks an entry whose data is written without compression.
	MethodStore Method = 0
	// MethodDeflate marks an entry whose data is a raw DEFLATE stream.
	MethodDeflate Method = 8
)

// String returns a human readable name for the method.
func (m Method) String() string {
	switch m {
	case MethodStore:
		return "store"
	case MethodDeflate:
		return "deflate"
	}
	return "unknown"
}

// Level is a compression level. Following zlib, levels range from 1 (BestSpeed)
// to 9 (BestCompression); higher levels typically run slower but compress more.
type Level int

const (
	// BestSpeed favors throughput over ratio.
	BestSpeed Level = 1
	// DefaultLevel is the level used when none is configured.
	DefaultLevel Level = 6
	// BestCompression favors ratio over throughput.
	BestCompression Level = 9
)

// Valid returns true if the level falls inside [BestSpeed, BestCompression].
func (l Level) Valid() bool { return l >= BestSpeed && l <= BestCompression }

// Entry represents a single record of an archive. While an archive is being built it
// is owned by the writer; once the central directory is written it should be treated
// as read-only.
type Entry struct {
	// The slash separated path of the entry inside the archive. Directories carry
	// a trailing slash.
	Name string
	// Optional comment stored with the central directory record
	Comment string
	// The compression method of the stored data
	Method Method
	// General purpose bit flags as written to the headers
	Flags uint16
	// Last modification time of the source
	Modified time.Time
	// Permission and type bits of the source
	Mode fs.FileMode
	// CRC-32 (IEEE) of the uncompressed data
	CRC32 uint32
	// Size of the data as stored in the archive
	CompressedSize int64
	// Size of the data once decompressed
	UncompressedSize int64
	// Byte offset of the local file header inside the archive
	Offset int64
}

// IsDir returns true if the entry describes a directory.
func (e *Entry) IsDir() bool {
	return strings.HasSuffix(e.Name, "/") || e.Mode.IsDir()
}

// HasDataDescriptor returns true if sizes and checksum follow the entry data.
func (e *Entry) HasDataDescriptor() bool { return e.Flags&FlagDataDescriptor != 0 }

const (
	// FlagDataDescriptor (bit 3) signals that crc and sizes are stored in a trailing
	// data descriptor instead of the local header.
	FlagDataDescriptor uint16 = 0x8
	// FlagUTF8 (bit 11) signals that the name and comment are UTF-8 encoded.
	FlagUTF8 uint16 = 0x800
)
