package bson

import (
	"bufio"
	"bytes"
	"io"
	"math"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
)

// DefaultReaderSize is the bufio size used when the source is not already buffered.
const DefaultReaderSize = 16 * 1024

// maxPrealloc caps what a declared length may allocate up front. Longer
// payloads grow as their bytes arrive.
const maxPrealloc = 64 * 1024

type byteReader interface {
	io.Reader
	io.ByteReader
}

// Reader decodes little-endian scalars and strings from a byte source.
//
// It tracks the number of bytes consumed, which doubles as the location of
// any error, and latches the first error: after a failure every read is a
// no-op and Err keeps returning that failure.
type Reader struct {
	r     byteReader
	count int64 // total bytes read
	err   error // first error encountered.
	pool  *Pool
	buf   []byte // decode scratch, taken from pool
}

// NewReaderSize creates a Reader. Sources that already support ReadByte are
// used directly; anything else is wrapped in a bufio.Reader of the given size.
// Decode scratch buffers come from pool, which may be nil.
func NewReaderSize(r io.Reader, size int, pool *Pool) (*Reader, error) {
	if r == nil {
		return nil, ErrNilIO
	}
	if size <= 0 {
		size = DefaultReaderSize
	}

	var br byteReader
	switch reader := r.(type) {
	case *bytes.Reader:
		br = reader
	case *bytes.Buffer:
		br = reader
	case *bufio.Reader:
		br = reader
	default:
		br = bufio.NewReaderSize(r, size)
	}
	return &Reader{r: br, pool: pool}, nil
}

// NewReader creates a Reader with the default buffer size and no pool.
func NewReader(r io.Reader) (*Reader, error) {
	return NewReaderSize(r, 0, nil)
}

func (r *Reader) Count() int64 { return r.count }
func (r *Reader) Err() error   { return r.err }
func (r *Reader) IsEOF() bool  { return r.err == io.EOF }

// setError records the first non-nil error.
func (r *Reader) setError(err error) {
	if r.err == nil && err != nil {
		r.err = err
	}
}

// fail latches err as a *SyntaxError located at the current offset.
func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = syntaxError(r.count, err)
	}
}

// Release hands the decode scratch back to the pool.
func (r *Reader) Release() {
	if r.buf != nil {
		r.pool.ReleaseBytes(KeyDecodeBuffer, r.buf)
		r.buf = nil
	}
}

// scratch returns a decode buffer of at least n bytes.
func (r *Reader) scratch(n int) []byte {
	if cap(r.buf) < n {
		old := r.buf
		r.buf = r.pool.AcquireBytes(KeyDecodeBuffer, max(n, 2*cap(old)))
		copy(r.buf, old)
		if old != nil {
			r.pool.ReleaseBytes(KeyDecodeBuffer, old)
		}
	}
	return r.buf[:cap(r.buf)]
}

// Read implements the io.Reader interface.
func (r *Reader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	n, err := r.r.Read(p)
	r.count += int64(n)
	r.setError(err)
	return n, r.err
}

// readFull reads exactly len(p) bytes. A short source is reported as truncated data.
func (r *Reader) readFull(p []byte) bool {
	if r.err != nil {
		return false
	}
	n, err := io.ReadFull(r.r, p)
	r.count += int64(n)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			r.fail(ErrTruncatedData)
		} else {
			r.setError(err)
		}
		return false
	}
	return true
}

// readLarge reads n bytes into a buffer that grows with the data actually
// received, so a short source fails before the declared size is allocated.
func (r *Reader) readLarge(n int) []byte {
	if r.err != nil {
		return nil
	}
	var buf bytes.Buffer
	buf.Grow(maxPrealloc)
	copied, err := io.CopyN(&buf, r.r, int64(n))
	r.count += copied
	if err != nil {
		if err == io.EOF {
			r.fail(ErrTruncatedData)
		} else {
			r.setError(err)
		}
		return nil
	}
	return buf.Bytes()
}

// ReadBytes reads n bytes and returns a new byte slice.
func (r *Reader) ReadBytes(n int) []byte {
	if n < 0 {
		r.fail(ErrInvalidLength)
		return nil
	}
	if n > maxPrealloc {
		return r.readLarge(n)
	}
	buf := make([]byte, n)
	if !r.readFull(buf) {
		return nil
	}
	return buf
}

func (r *Reader) ReadBytesTo(dest []byte) {
	if len(dest) == 0 {
		return
	}
	r.readFull(dest)
}

// Discard skips n bytes.
func (r *Reader) Discard(n int64) {
	if r.err != nil {
		return
	}
	skipped, err := Discard(r.r, n)
	r.count += skipped
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		r.fail(ErrTruncatedData)
	} else if err == ErrDiscardNegative {
		r.fail(ErrInvalidLength)
	} else {
		r.setError(err)
	}
}

// --- Primitive Read Operations ---

// ReadByte reads one byte. A clean end of the source is reported as io.EOF.
func (r *Reader) ReadByte() (byte, error) {
	if r.err != nil {
		return 0, r.err
	}
	b, err := r.r.ReadByte()
	if err == nil {
		r.count++
	} else {
		r.err = err
	}
	return b, err
}

// readByte is ReadByte for the middle of a value, where the end of the source is truncation.
func (r *Reader) readByte() byte {
	if r.err != nil {
		return 0
	}
	b, err := r.r.ReadByte()
	if err != nil {
		if err == io.EOF {
			r.fail(ErrTruncatedData)
		} else {
			r.setError(err)
		}
		return 0
	}
	r.count++
	return b
}

func (r *Reader) ReadBool(dest *bool) {
	b := r.readByte()
	if r.err == nil {
		*dest = b != 0
	}
}

func (r *Reader) ReadUint8(dest *uint8) {
	b := r.readByte()
	if r.err == nil {
		*dest = b
	}
}

func (r *Reader) ReadInt8(dest *int8) {
	b := r.readByte()
	if r.err == nil {
		*dest = int8(b)
	}
}

func (r *Reader) ReadUint16(dest *uint16) {
	var buf [2]byte
	if r.readFull(buf[:]) {
		*dest = LE.Uint16(buf[:])
	}
}

func (r *Reader) ReadInt16(dest *int16) {
	var buf [2]byte
	if r.readFull(buf[:]) {
		*dest = int16(LE.Uint16(buf[:]))
	}
}

func (r *Reader) ReadUint32(dest *uint32) {
	var buf [4]byte
	if r.readFull(buf[:]) {
		*dest = LE.Uint32(buf[:])
	}
}

func (r *Reader) ReadInt32(dest *int32) {
	var buf [4]byte
	if r.readFull(buf[:]) {
		*dest = int32(LE.Uint32(buf[:]))
	}
}

func (r *Reader) ReadUint64(dest *uint64) {
	var buf [8]byte
	if r.readFull(buf[:]) {
		*dest = LE.Uint64(buf[:])
	}
}

func (r *Reader) ReadInt64(dest *int64) {
	var buf [8]byte
	if r.readFull(buf[:]) {
		*dest = int64(LE.Uint64(buf[:]))
	}
}

func (r *Reader) ReadFloat32(dest *float32) {
	var buf [4]byte
	if r.readFull(buf[:]) {
		*dest = math.Float32frombits(LE.Uint32(buf[:]))
	}
}

func (r *Reader) ReadFloat64(dest *float64) {
	var buf [8]byte
	if r.readFull(buf[:]) {
		*dest = math.Float64frombits(LE.Uint64(buf[:]))
	}
}

// --- String decoding ---

// ReadCString reads UTF-8 bytes up to and including a zero byte and returns
// them without the terminator. Names of any length are supported; the decode
// buffer grows as needed.
func (r *Reader) ReadCString() string {
	if r.err != nil {
		return ""
	}
	start := r.count
	buf := r.scratch(64)
	n := 0
	for {
		b := r.readByte()
		if r.err != nil {
			return ""
		}
		if b == 0 {
			break
		}
		if n == len(buf) {
			buf = r.scratch(n + 1)
		}
		buf[n] = b
		n++
	}
	if !utf8.Valid(buf[:n]) {
		r.err = syntaxError(start, ErrInvalidUTF8)
		return ""
	}
	return string(buf[:n])
}

// ReadString decodes a string whose byte count n, terminator included, is
// already known: n-1 payload bytes followed by a mandatory zero byte.
func (r *Reader) ReadString(n int32) string {
	if r.err != nil {
		return ""
	}
	if n <= 0 {
		r.fail(ErrInvalidLength)
		return ""
	}
	start := r.count
	var buf []byte
	if n > maxPrealloc {
		if buf = r.readLarge(int(n)); buf == nil {
			return ""
		}
	} else {
		buf = r.scratch(int(n))[:n]
		if !r.readFull(buf) {
			return ""
		}
	}
	if buf[n-1] != 0 {
		r.err = syntaxError(r.count-1, ErrMissingTerminator)
		return ""
	}
	if !utf8.Valid(buf[:n-1]) {
		r.err = syntaxError(start, ErrInvalidUTF8)
		return ""
	}
	return string(buf[:n-1])
}

// ReadLengthPrefixedString reads an int32 byte count followed by ReadString.
// A count above limit is rejected before the payload is read. A negative
// limit means no bound.
func (r *Reader) ReadLengthPrefixedString(limit int64) string {
	var n int32
	r.ReadInt32(&n)
	if r.err != nil {
		return ""
	}
	if n <= 0 || (limit >= 0 && int64(n) > limit) {
		r.err = syntaxError(r.count-4, errors.Wrapf(ErrInvalidLength, "string length %d", n))
		return ""
	}
	return r.ReadString(n)
}
