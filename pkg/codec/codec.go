// Package codec implements the compression layer of the archive engine: DEFLATE at
// levels 1 through 9 with a stored fallback, and CRC-32 verification of decoded data.
package codec

import (
	"bytes"
	"errors"
	"hash/crc32"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"

	"github.com/tinyzimmer/fastzip/pkg/types"
)

// ValidateLevel returns an InvalidLevelError if the level is outside [1, 9].
func ValidateLevel(level types.Level) error {
	if !level.Valid() {
		return &types.InvalidLevelError{Level: int(level)}
	}
	return nil
}

// Checksum returns the IEEE CRC-32 of data.
func Checksum(data []byte) uint32 { return crc32.ChecksumIEEE(data) }

// one pool per level, flate writers carry their level from construction
var writerPools [types.BestCompression + 1]sync.Pool

var readerPool sync.Pool

// Writer is a streaming DEFLATE compressor. Close must be called to flush the final
// block; it also returns the underlying flate writer to its pool.
type Writer struct {
	fw    *flate.Writer
	level types.Level
}

// NewWriter returns a compressor writing a raw DEFLATE stream to w.
func NewWriter(w io.Writer, level types.Level) (*Writer, error) {
	if err := ValidateLevel(level); err != nil {
		return nil, err
	}
	if fw, ok := writerPools[level].Get().(*flate.Writer); ok {
		fw.Reset(w)
		return &Writer{fw: fw, level: level}, nil
	}
	fw, err := flate.NewWriter(w, int(level))
	if err != nil {
		return nil, err
	}
	return &Writer{fw: fw, level: level}, nil
}

func (w *Writer) Write(p []byte) (int, error) {
	if w.fw == nil {
		return 0, errors.New("codec: write after close")
	}
	return w.fw.Write(p)
}

// Close flushes any pending data and releases the compressor.
func (w *Writer) Close() error {
	if w.fw == nil {
		return nil
	}
	err := w.fw.Close()
	writerPools[w.level].Put(w.fw)
	w.fw = nil
	return err
}

// NewReader returns a reader decoding data stored with the given method. The name is
// only used for error reporting.
func NewReader(name string, method types.Method, r io.Reader) (io.ReadCloser, error) {
	switch method {
	case types.MethodStore:
		return io.NopCloser(r), nil
	case types.MethodDeflate:
		if fr, ok := readerPool.Get().(io.ReadCloser); ok {
			if err := fr.(flate.Resetter).Reset(r, nil); err == nil {
				return &pooledReader{ReadCloser: fr}, nil
			}
		}
		return &pooledReader{ReadCloser: flate.NewReader(r)}, nil
	}
	return nil, &types.UnsupportedMethodError{Name: name, Method: method}
}

type pooledReader struct {
	io.ReadCloser
	closed bool
}

func (p *pooledReader) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	err := p.ReadCloser.Close()
	readerPool.Put(p.ReadCloser)
	return err
}

// Compress returns the raw DEFLATE encoding of data at the given level.
func Compress(data []byte, level types.Level) ([]byte, error) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress decodes a raw DEFLATE stream that is expected to produce exactly
// expectedSize bytes. Truncated or malformed input, or a length mismatch, results
// in a CorruptDataError.
func Decompress(data []byte, expectedSize int64) ([]byte, error) {
	return decode("", types.MethodDeflate, data, expectedSize, nil)
}

// Encode compresses data at the given level and picks the method to store it with.
// When deflate does not make the payload smaller the data is stored as-is.
func Encode(data []byte, level types.Level) (types.Method, []byte, error) {
	compressed, err := Compress(data, level)
	if err != nil {
		return 0, nil, err
	}
	if len(compressed) >= len(data) {
		return types.MethodStore, data, nil
	}
	return types.MethodDeflate, compressed, nil
}

// Decode reverses Encode and verifies the result against the expected size and CRC-32.
func Decode(name string, method types.Method, data []byte, expectedSize int64, expectedCRC uint32) ([]byte, error) {
	return decode(name, method, data, expectedSize, &expectedCRC)
}

func decode(name string, method types.Method, data []byte, expectedSize int64, expectedCRC *uint32) ([]byte, error) {
	rc, err := NewReader(name, method, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	v := &Verifier{name: name, r: rc, size: expectedSize, hash: crc32.NewIEEE()}
	if expectedCRC != nil {
		v.crc, v.checkCRC = *expectedCRC, true
	}
	out := bytes.NewBuffer(make([]byte, 0, capHint(expectedSize)))
	if _, err := io.Copy(out, v); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func capHint(size int64) int {
	const max = 64 << 20
	if size < 0 || size > max {
		return max
	}
	return int(size)
}
