package codec

import (
	"errors"
	"hash"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/tinyzimmer/fastzip/pkg/types"
)

// Verifier is an io.Reader that keeps a CRC-32 and byte count of everything read
// through it. Once the underlying reader is exhausted the totals are compared against
// the expected values, and a mismatch is reported as a CorruptDataError in place of
// io.EOF. Decoder failures from the underlying reader are reported the same way.
type Verifier struct {
	name     string
	r        io.Reader
	hash     hash.Hash32
	size     int64
	crc      uint32
	checkCRC bool
	n        int64
	err      error
}

// NewVerifier wraps r, expecting exactly size bytes with the given checksum.
func NewVerifier(name string, r io.Reader, size int64, crc uint32) *Verifier {
	return &Verifier{name: name, r: r, hash: crc32.NewIEEE(), size: size, crc: crc, checkCRC: true}
}

func (v *Verifier) Read(p []byte) (int, error) {
	if v.err != nil {
		return 0, v.err
	}
	n, err := v.r.Read(p)
	v.hash.Write(p[:n])
	v.n += int64(n)
	if v.n > v.size {
		v.err = v.mismatch("size", uint64(v.size), uint64(v.n))
		return n, v.err
	}
	switch {
	case err == nil:
		return n, nil
	case err == io.EOF:
		v.err = v.finish()
	case isCorruptStream(err):
		v.err = &types.CorruptDataError{Name: v.name, Err: err}
	default:
		v.err = err
	}
	return n, v.err
}

// Sum returns the checksum of the bytes read so far.
func (v *Verifier) Sum() uint32 { return v.hash.Sum32() }

// Count returns the number of bytes read so far.
func (v *Verifier) Count() int64 { return v.n }

func (v *Verifier) finish() error {
	if v.n != v.size {
		return v.mismatch("size", uint64(v.size), uint64(v.n))
	}
	if v.checkCRC {
		if sum := v.hash.Sum32(); sum != v.crc {
			return v.mismatch("crc32", uint64(v.crc), uint64(sum))
		}
	}
	return io.EOF
}

func (v *Verifier) mismatch(field string, expected, actual uint64) error {
	return &types.CorruptDataError{Name: v.name, Field: field, Expected: expected, Actual: actual}
}

func isCorruptStream(err error) bool {
	var corrupt flate.CorruptInputError
	var internal flate.InternalError
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.As(err, &corrupt) || errors.As(err, &internal)
}
