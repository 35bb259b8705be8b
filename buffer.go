package bson

import (
	"io"
	"math"
	"unicode/utf8"
)

// DefaultChunkSize is the chunk size of an output Buffer when none is configured.
const DefaultChunkSize = 8192

// Buffer is the encoder's growable output store.
//
// Bytes are appended at a write cursor and may be overwritten later at an
// absolute position (backpatching). Storage is a list of fixed-size chunks;
// FlushTo hands completed chunks to a sink and frees them while writing
// continues. Everything below the flush position has left the buffer and can
// no longer be written: such writes fail with a *RangeError.
//
// A Buffer is not safe for concurrent use.
type Buffer struct {
	chunks    [][]byte
	chunkSize int
	pos       int // write cursor
	size      int // high-water mark
	flushed   int // first byte not yet handed to a sink
	pool      *Pool
	err       error // first sink error

	scratch [8]byte
	seam    [utf8.UTFMax]byte
}

// NewBuffer creates a Buffer with the given chunk size. Chunks are taken from
// and returned to pool; pool may be nil.
func NewBuffer(chunkSize int, pool *Pool) *Buffer {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Buffer{chunkSize: chunkSize, pool: pool}
}

// Size returns the high-water mark: the total number of bytes ever written.
func (b *Buffer) Size() int { return b.size }

// Position returns the write cursor.
func (b *Buffer) Position() int { return b.pos }

// Flushed returns the number of bytes already handed to a sink.
func (b *Buffer) Flushed() int { return b.flushed }

// ChunkSize returns the size of each internal chunk.
func (b *Buffer) ChunkSize() int { return b.chunkSize }

// Err returns the first error reported by a sink.
func (b *Buffer) Err() error { return b.err }

func (b *Buffer) setError(err error) {
	if b.err == nil && err != nil {
		b.err = err
	}
}

// chunk returns chunk i, allocating it (and any chunk before it) on demand.
func (b *Buffer) chunk(i int) []byte {
	for len(b.chunks) <= i {
		b.chunks = append(b.chunks, nil)
	}
	if b.chunks[i] == nil {
		if b.pool == nil {
			b.chunks[i] = make([]byte, b.chunkSize)
		} else {
			c := b.pool.AcquireBytes(KeyOutputChunk, b.chunkSize)[:b.chunkSize]
			clear(c)
			b.chunks[i] = c
		}
	}
	return b.chunks[i]
}

func (b *Buffer) releaseChunk(i int) {
	if c := b.chunks[i]; c != nil {
		b.pool.ReleaseBytes(KeyOutputChunk, c)
		b.chunks[i] = nil
	}
}

// checkAppend validates a write of n bytes at the cursor.
func (b *Buffer) checkAppend(n int) error {
	if b.pos < b.flushed {
		return &RangeError{Pos: b.pos, Len: n, Flushed: b.flushed, Size: b.size}
	}
	return nil
}

// checkAt validates an absolute write of n bytes at pos. Absolute writes may
// only touch bytes that were written before and not yet flushed.
func (b *Buffer) checkAt(pos, n int) error {
	if pos < b.flushed || pos < 0 || n > b.size-pos {
		return &RangeError{Pos: pos, Len: n, Flushed: b.flushed, Size: b.size}
	}
	return nil
}

func (b *Buffer) advance(n int) {
	b.pos += n
	if b.pos > b.size {
		b.size = b.pos
	}
}

func (b *Buffer) copyAt(pos int, p []byte) {
	for len(p) > 0 {
		c := b.chunk(pos / b.chunkSize)
		n := copy(c[pos%b.chunkSize:], p)
		p = p[n:]
		pos += n
	}
}

func (b *Buffer) copyStringAt(pos int, s string) {
	for len(s) > 0 {
		c := b.chunk(pos / b.chunkSize)
		n := copy(c[pos%b.chunkSize:], s)
		s = s[n:]
		pos += n
	}
}

// --- Current-position writes ---

func (b *Buffer) PutByte(v byte) error {
	if err := b.checkAppend(1); err != nil {
		return err
	}
	b.chunk(b.pos / b.chunkSize)[b.pos%b.chunkSize] = v
	b.advance(1)
	return nil
}

func (b *Buffer) PutBytes(p []byte) error {
	if err := b.checkAppend(len(p)); err != nil {
		return err
	}
	b.copyAt(b.pos, p)
	b.advance(len(p))
	return nil
}

// PutString writes the bytes of s as they are, without validation.
func (b *Buffer) PutString(s string) error {
	if err := b.checkAppend(len(s)); err != nil {
		return err
	}
	b.copyStringAt(b.pos, s)
	b.advance(len(s))
	return nil
}

func (b *Buffer) PutInt32(v int32) error {
	LE.PutUint32(b.scratch[:4], uint32(v))
	return b.PutBytes(b.scratch[:4])
}

func (b *Buffer) PutInt64(v int64) error {
	LE.PutUint64(b.scratch[:8], uint64(v))
	return b.PutBytes(b.scratch[:8])
}

func (b *Buffer) PutFloat32(v float32) error {
	LE.PutUint32(b.scratch[:4], math.Float32bits(v))
	return b.PutBytes(b.scratch[:4])
}

func (b *Buffer) PutFloat64(v float64) error {
	LE.PutUint64(b.scratch[:8], math.Float64bits(v))
	return b.PutBytes(b.scratch[:8])
}

// PutUTF8 writes s as UTF-8 and returns the number of bytes written. Invalid
// byte sequences in s are written as U+FFFD.
func (b *Buffer) PutUTF8(s string) (int, error) {
	if err := b.checkAppend(len(s)); err != nil {
		return 0, err
	}
	n := b.putUTF8(b.pos, s)
	b.advance(n)
	return n, nil
}

// --- Absolute-position writes: the cursor does not move ---

func (b *Buffer) PutByteAt(pos int, v byte) error {
	if err := b.checkAt(pos, 1); err != nil {
		return err
	}
	b.chunk(pos / b.chunkSize)[pos%b.chunkSize] = v
	return nil
}

func (b *Buffer) PutBytesAt(pos int, p []byte) error {
	if err := b.checkAt(pos, len(p)); err != nil {
		return err
	}
	b.copyAt(pos, p)
	return nil
}

func (b *Buffer) PutStringAt(pos int, s string) error {
	if err := b.checkAt(pos, len(s)); err != nil {
		return err
	}
	b.copyStringAt(pos, s)
	return nil
}

func (b *Buffer) PutInt32At(pos int, v int32) error {
	LE.PutUint32(b.scratch[:4], uint32(v))
	return b.PutBytesAt(pos, b.scratch[:4])
}

func (b *Buffer) PutInt64At(pos int, v int64) error {
	LE.PutUint64(b.scratch[:8], uint64(v))
	return b.PutBytesAt(pos, b.scratch[:8])
}

func (b *Buffer) PutFloat32At(pos int, v float32) error {
	LE.PutUint32(b.scratch[:4], math.Float32bits(v))
	return b.PutBytesAt(pos, b.scratch[:4])
}

func (b *Buffer) PutFloat64At(pos int, v float64) error {
	LE.PutUint64(b.scratch[:8], math.Float64bits(v))
	return b.PutBytesAt(pos, b.scratch[:8])
}

// PutUTF8At overwrites previously written bytes at pos with s encoded as UTF-8.
func (b *Buffer) PutUTF8At(pos int, s string) (int, error) {
	if err := b.checkAt(pos, utf8Len(s)); err != nil {
		return 0, err
	}
	return b.putUTF8(pos, s), nil
}

// putUTF8 encodes s rune by rune starting at pos. A code point that does not
// fit in the rest of the current chunk is staged in b.seam and copied across
// the chunk boundary one byte at a time.
func (b *Buffer) putUTF8(pos int, s string) int {
	start := pos
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		valid := r != utf8.RuneError || size > 1

		c := b.chunk(pos / b.chunkSize)
		off := pos % b.chunkSize

		if valid && r < utf8.RuneSelf {
			c[off] = byte(r)
			pos++
			i++
			continue
		}

		n := size
		if !valid {
			n = utf8.RuneLen(utf8.RuneError)
		}
		if b.chunkSize-off >= n {
			if valid {
				copy(c[off:], s[i:i+size])
			} else {
				utf8.EncodeRune(c[off:], utf8.RuneError)
			}
			pos += n
		} else {
			// The scratch area is cleared on every use.
			n = appendRune(&b.seam, r)
			for j := 0; j < n; j++ {
				b.chunk(pos / b.chunkSize)[pos%b.chunkSize] = b.seam[j]
				pos++
			}
		}
		i += size
	}
	return pos - start
}

// utf8Len returns the encoded length of s after invalid bytes are replaced.
func utf8Len(s string) int {
	n := 0
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size <= 1 {
			n += utf8.RuneLen(utf8.RuneError)
		} else {
			n += size
		}
		i += size
	}
	return n
}

// --- Externalization ---

// FlushTo writes every chunk that lies completely below the write cursor and
// has not been flushed yet to w, then frees those chunks. The chunk holding
// the cursor is never flushed.
func (b *Buffer) FlushTo(w io.Writer) (int64, error) {
	return b.flushBelow(w, b.pos)
}

// flushBelow is FlushTo for chunks lying completely below pos, capped at the
// write cursor. Bytes from pos on stay writable.
func (b *Buffer) flushBelow(w io.Writer, pos int) (int64, error) {
	if w == nil {
		return 0, ErrNilIO
	}
	if b.err != nil {
		return 0, b.err
	}
	var n int64
	limit := (min(pos, b.pos) / b.chunkSize) * b.chunkSize
	for b.flushed < limit {
		written, err := b.emit(w, limit)
		n += written
		if err != nil {
			b.setError(err)
			return n, err
		}
	}
	return n, nil
}

// WriteTo writes everything from the flush position to the end of the buffer
// to w. It implements io.WriterTo and may follow any number of FlushTo calls.
func (b *Buffer) WriteTo(w io.Writer) (int64, error) {
	if w == nil {
		return 0, ErrNilIO
	}
	if b.err != nil {
		return 0, b.err
	}
	var n int64
	for b.flushed < b.size {
		written, err := b.emit(w, b.size)
		n += written
		if err != nil {
			b.setError(err)
			return n, err
		}
	}
	return n, nil
}

// emit writes the rest of the chunk holding the flush position, bounded by
// limit, and frees the chunk once it has been written completely.
func (b *Buffer) emit(w io.Writer, limit int) (int64, error) {
	ci := b.flushed / b.chunkSize
	base := ci * b.chunkSize
	end := min(b.chunkSize, limit-base)
	p := b.chunk(ci)[b.flushed-base : end]

	written, err := w.Write(p)
	if written < 0 || written > len(p) {
		return 0, io.ErrShortWrite
	}
	b.flushed += written
	if err == nil && written < len(p) {
		err = io.ErrShortWrite
	}
	if b.flushed == base+b.chunkSize {
		b.releaseChunk(ci)
	}
	return int64(written), err
}

// Bytes returns a copy of the bytes that have not been flushed yet.
func (b *Buffer) Bytes() []byte {
	out := make([]byte, 0, b.size-b.flushed)
	for pos := b.flushed; pos < b.size; {
		ci := pos / b.chunkSize
		base := ci * b.chunkSize
		end := min(b.chunkSize, b.size-base)
		out = append(out, b.chunk(ci)[pos-base:end]...)
		pos = base + end
	}
	return out
}

// Release returns every chunk to the pool and empties the buffer.
func (b *Buffer) Release() {
	for i := range b.chunks {
		b.releaseChunk(i)
	}
	b.chunks = b.chunks[:0]
	b.pos, b.size, b.flushed = 0, 0, 0
	b.err = nil
}
