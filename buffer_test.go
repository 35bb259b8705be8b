package bson

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// shortWriter accepts one byte less than it is given.
type shortWriter struct{ bytes.Buffer }

func (w *shortWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return w.Buffer.Write(p[:len(p)-1])
}

type BufferTestSuite struct {
	suite.Suite
}

func (s *BufferTestSuite) TestBackpatch() {
	b := NewBuffer(0, nil)
	s.Require().NoError(b.PutInt32(0))
	s.Require().NoError(b.PutString("abc"))
	s.Require().NoError(b.PutInt32At(0, 7))

	s.Equal([]byte{7, 0, 0, 0, 'a', 'b', 'c'}, b.Bytes())
	s.Equal(7, b.Position(), "absolute writes do not move the cursor")
	s.Equal(7, b.Size())
}

func (s *BufferTestSuite) TestValuesAcrossChunks() {
	b := NewBuffer(4, nil)
	s.Require().NoError(b.PutByte(0xAA))
	s.Require().NoError(b.PutInt64(0x0102030405060708))
	s.Require().NoError(b.PutFloat64At(1, 2.0))
	s.Require().NoError(b.PutInt32(-1))

	s.Equal([]byte{
		0xAA,
		0, 0, 0, 0, 0, 0, 0, 0x40,
		0xFF, 0xFF, 0xFF, 0xFF,
	}, b.Bytes())
}

func (s *BufferTestSuite) TestRangeAfterFlush() {
	b := NewBuffer(4, nil)
	s.Require().NoError(b.PutBytes([]byte("0123456789")))

	var sink bytes.Buffer
	n, err := b.FlushTo(&sink)
	s.Require().NoError(err)
	s.EqualValues(8, n)
	s.Equal("01234567", sink.String())
	s.Equal(8, b.Flushed())

	err = b.PutByteAt(3, 'x')
	var re *RangeError
	s.Require().ErrorAs(err, &re)
	s.Equal(3, re.Pos)
	s.Equal(8, re.Flushed)
	s.ErrorIs(err, ErrOutOfRange)

	s.NoError(b.PutByteAt(8, 'x'))
	s.ErrorIs(b.PutByteAt(10, 'x'), ErrOutOfRange, "beyond the high-water mark")
	s.ErrorIs(b.PutInt32At(7, 0), ErrOutOfRange, "straddles the flush position")

	s.Equal([]byte("x9"), b.Bytes())
}

func (s *BufferTestSuite) TestFlushThenWriteMatchesSingleWrite() {
	payload := bytes.Repeat([]byte("abcdefg"), 11)

	whole := NewBuffer(8, nil)
	s.Require().NoError(whole.PutBytes(payload))
	var expected bytes.Buffer
	_, err := whole.WriteTo(&expected)
	s.Require().NoError(err)

	parts := NewBuffer(8, nil)
	var got bytes.Buffer
	for i := 0; i < len(payload); i += 5 {
		s.Require().NoError(parts.PutBytes(payload[i:min(i+5, len(payload))]))
		_, err := parts.FlushTo(&got)
		s.Require().NoError(err)
		_, err = parts.FlushTo(&got)
		s.Require().NoError(err, "a second flush with nothing new is a no-op")
	}
	_, err = parts.WriteTo(&got)
	s.Require().NoError(err)

	s.Equal(expected.Bytes(), got.Bytes())
	s.Equal(payload, got.Bytes())
}

func (s *BufferTestSuite) TestUTF8() {
	s.T().Run("RuneAcrossChunkBoundary", func(t *testing.T) {
		b := NewBuffer(4, nil)
		n, err := b.PutUTF8("ab€c")
		require.NoError(t, err)
		assert.Equal(t, 6, n)
		assert.Equal(t, []byte("ab\xe2\x82\xacc"), b.Bytes())
	})

	s.T().Run("SeamReusedForShorterRune", func(t *testing.T) {
		b := NewBuffer(4, nil)
		_, err := b.PutUTF8("xyz€")
		require.NoError(t, err)
		_, err = b.PutUTF8("pé")
		require.NoError(t, err)
		assert.Equal(t, []byte("xyz€pé"), b.Bytes())
	})

	s.T().Run("InvalidBytesReplaced", func(t *testing.T) {
		b := NewBuffer(0, nil)
		n, err := b.PutUTF8("a\xffb")
		require.NoError(t, err)
		assert.Equal(t, 5, n)
		assert.Equal(t, []byte("a\xef\xbf\xbdb"), b.Bytes())
	})

	s.T().Run("Overwrite", func(t *testing.T) {
		b := NewBuffer(2, nil)
		require.NoError(t, b.PutString("xxxxxx"))
		n, err := b.PutUTF8At(1, "é")
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, []byte("xéxxx"), b.Bytes())

		_, err = b.PutUTF8At(4, "€")
		assert.ErrorIs(t, err, ErrOutOfRange)
	})
}

func (s *BufferTestSuite) TestShortWriteIsLatched() {
	b := NewBuffer(4, nil)
	s.Require().NoError(b.PutBytes([]byte("abcdef")))

	_, err := b.WriteTo(&shortWriter{})
	s.ErrorIs(err, io.ErrShortWrite)
	s.ErrorIs(b.Err(), io.ErrShortWrite)

	_, err = b.WriteTo(&bytes.Buffer{})
	s.ErrorIs(err, io.ErrShortWrite, "the first sink error sticks")
}

func (s *BufferTestSuite) TestNilSink() {
	b := NewBuffer(0, nil)
	_, err := b.FlushTo(nil)
	s.ErrorIs(err, ErrNilIO)
	_, err = b.WriteTo(nil)
	s.ErrorIs(err, ErrNilIO)
}

func (s *BufferTestSuite) TestChunksReturnToPool() {
	pool := NewPool()
	b := NewBuffer(16, pool)
	s.Require().NoError(b.PutBytes(make([]byte, 40)))

	_, err := b.WriteTo(io.Discard)
	s.Require().NoError(err)
	s.Equal(2, pool.Len(KeyOutputChunk), "fully written chunks are freed")

	b.Release()
	s.Equal(3, pool.Len(KeyOutputChunk))
	s.Zero(b.Size())

	b2 := NewBuffer(16, pool)
	s.Require().NoError(b2.PutByte(1))
	s.Equal([]byte{1}, b2.Bytes())
	s.Equal(2, pool.Len(KeyOutputChunk))
}

func (s *BufferTestSuite) TestUnpooledChunksKeepTheirSize() {
	b := NewBuffer(8, nil)
	s.Require().NoError(b.PutBytes([]byte("0123456789")))
	s.Require().Len(b.chunks, 2)
	for _, c := range b.chunks {
		s.Equal(8, cap(c))
	}

	pooled := NewBuffer(8, NewPool())
	s.Require().NoError(pooled.PutByte(1))
	s.GreaterOrEqual(cap(pooled.chunks[0]), MinBufferSize)
}

func (s *BufferTestSuite) TestFlushBelow() {
	b := NewBuffer(4, nil)
	s.Require().NoError(b.PutBytes([]byte("0123456789")))

	var sink bytes.Buffer
	n, err := b.flushBelow(&sink, 6)
	s.Require().NoError(err)
	s.EqualValues(4, n)
	s.Equal("0123", sink.String())
	s.NoError(b.PutByteAt(5, 'x'), "the chunk holding the limit stays writable")

	n, err = b.flushBelow(&sink, 100)
	s.Require().NoError(err)
	s.EqualValues(4, n, "never past the write cursor")
	s.Equal("01234x67", sink.String())
}

func TestBuffer(t *testing.T) {
	suite.Run(t, new(BufferTestSuite))
}
